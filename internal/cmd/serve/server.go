package serve

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	internalchat "github.com/chirino/chat-service/internal/chat"
	"github.com/chirino/chat-service/internal/config"
	cachenoop "github.com/chirino/chat-service/internal/plugin/cache/noop"
	docstoremetrics "github.com/chirino/chat-service/internal/plugin/docstore/metrics"
	fanoutnoop "github.com/chirino/chat-service/internal/plugin/fanout/noop"
	presencenoop "github.com/chirino/chat-service/internal/plugin/presence/noop"
	routechat "github.com/chirino/chat-service/internal/plugin/route/chat"
	routesystem "github.com/chirino/chat-service/internal/plugin/route/system"
	storemetrics "github.com/chirino/chat-service/internal/plugin/store/metrics"
	registrycache "github.com/chirino/chat-service/internal/registry/cache"
	registrydocstore "github.com/chirino/chat-service/internal/registry/docstore"
	registryfanout "github.com/chirino/chat-service/internal/registry/fanout"
	registrymigrate "github.com/chirino/chat-service/internal/registry/migrate"
	registrypresence "github.com/chirino/chat-service/internal/registry/presence"
	registryroute "github.com/chirino/chat-service/internal/registry/route"
	registrystore "github.com/chirino/chat-service/internal/registry/store"
	"github.com/chirino/chat-service/internal/security"
	"github.com/chirino/chat-service/internal/service"
	"github.com/gin-gonic/gin"
)

// Server holds the running server and its subsystems.
type Server struct {
	Config          *config.Config
	Store           registrystore.ChatStore
	Docs            registrydocstore.MessageStore
	Chat            *internalchat.Service
	Router          *gin.Engine
	Running         *RunningServers
	fanout          registryfanout.Publisher
	stopTasks       context.CancelFunc
	closeManagement func(context.Context) error
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.stopTasks != nil {
		s.stopTasks()
	}
	if s.closeManagement != nil {
		_ = s.closeManagement(ctx)
	}
	err := s.Running.Close(ctx)
	if s.fanout != nil {
		if cErr := s.fanout.Close(); cErr != nil {
			log.Warn("Fan-out close failed", "err", cErr)
		}
	}
	return err
}

type pinger interface {
	Ping(ctx context.Context) error
}

func addReadiness(name string, backend any) {
	if p, ok := backend.(pinger); ok {
		routesystem.AddReadinessCheck(name, p.Ping)
	}
}

// StartServer initializes all subsystems and starts HTTP on a single port.
// Use cfg.Listener.Port=0 for a random port. Actual port: Server.Running.Port.
func StartServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	if err := security.SetLogLevel(cfg.LogLevel); err != nil {
		return nil, fmt.Errorf("invalid --log-level: %w", err)
	}
	log.Info("Starting chat service",
		"httpPort", cfg.Listener.Port,
		"db", cfg.DatastoreType,
		"docstore", cfg.DocstoreType,
		"cache", cfg.CacheType,
		"presence", cfg.PresenceType,
		"fanout", cfg.FanoutType,
	)

	// Initialize Prometheus metrics with configured constant labels.
	metricsLabels, err := security.ParseMetricsLabels(cfg.MetricsLabels)
	if err != nil {
		return nil, fmt.Errorf("invalid --metrics-labels: %w", err)
	}
	security.InitMetrics(metricsLabels)

	// Run migrations
	if err := registrymigrate.RunAll(ctx); err != nil {
		return nil, fmt.Errorf("migrations failed: %w", err)
	}

	// Relational and document stores are required.
	storeLoader, err := registrystore.Select(cfg.DatastoreType)
	if err != nil {
		return nil, err
	}
	store, err := storeLoader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	addReadiness("db", store)
	store = storemetrics.Wrap(store)

	docsLoader, err := registrydocstore.Select(cfg.DocstoreType)
	if err != nil {
		return nil, err
	}
	docs, err := docsLoader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize document store: %w", err)
	}
	addReadiness("docstore", docs)
	docs = docstoremetrics.Wrap(docs)

	// Cache, presence and fan-out degrade to no-ops when their backend is unavailable.
	chatCache := cachenoop.New()
	if cacheLoader, err := registrycache.Select(cfg.CacheType); err != nil {
		log.Warn("Cache not available", "cache", cfg.CacheType, "err", err)
	} else if c, err := cacheLoader(ctx); err != nil {
		log.Warn("Failed to initialize cache", "cache", cfg.CacheType, "err", err)
	} else {
		chatCache = c
		addReadiness("cache", c)
	}

	tracker := presencenoop.New()
	if presenceLoader, err := registrypresence.Select(cfg.PresenceType); err != nil {
		log.Warn("Presence tracker not available", "presence", cfg.PresenceType, "err", err)
	} else if t, err := presenceLoader(ctx); err != nil {
		log.Warn("Failed to initialize presence tracker", "presence", cfg.PresenceType, "err", err)
	} else {
		tracker = t
		addReadiness("presence", t)
	}

	publisher := fanoutnoop.New()
	if fanoutLoader, err := registryfanout.Select(cfg.FanoutType); err != nil {
		log.Warn("Fan-out not available", "fanout", cfg.FanoutType, "err", err)
	} else if p, err := fanoutLoader(ctx); err != nil {
		log.Warn("Failed to initialize fan-out", "fanout", cfg.FanoutType, "err", err)
	} else {
		publisher = p
	}

	// Set up gin
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.ManagementAccessLog {
		router.Use(security.AccessLogMiddleware())
	} else {
		router.Use(security.AccessLogMiddleware("/health", "/ready", "/metrics"))
	}
	router.Use(security.MetricsMiddleware())
	router.Use(maxBodySizeMiddleware(cfg.MaxBodySize))
	if cfg.CORSEnabled {
		router.Use(corsMiddleware(cfg.CORSOrigins))
	}

	// Mount main route plugins on the main router.
	for _, loader := range registryroute.MainRouteLoaders() {
		if err := loader(router); err != nil {
			return nil, fmt.Errorf("failed to load routes: %w", err)
		}
	}

	chatSvc := internalchat.New(store, docs, chatCache, publisher, cfg)

	resolver := security.NewTokenResolver(cfg)
	auth := security.AuthMiddleware(resolver)
	routechat.MountRoutes(router, chatSvc, tracker, auth)

	// Start background services
	taskCtx, stopTasks := context.WithCancel(ctx)
	taskProc := service.NewTaskProcessor(store, chatSvc, cfg)
	go taskProc.Start(taskCtx)

	// Mount management route plugins. If a dedicated management port is configured,
	// run them on a bare gin engine served by the management server. Otherwise,
	// mount them on the main router.
	var closeManagement func(context.Context) error
	if cfg.ManagementListenerEnabled {
		mgmtRouter := gin.New()
		mgmtRouter.Use(gin.Recovery())
		if cfg.ManagementAccessLog {
			mgmtRouter.Use(security.AccessLogMiddleware())
		}
		if err := mountRoutes(mgmtRouter, registryroute.ManagementRouteLoaders()); err != nil {
			stopTasks()
			return nil, err
		}
		// Management listener shares TLS cert/key with the main listener.
		mgmtCfg := cfg.ManagementListener
		mgmtCfg.TLSCertFile = cfg.Listener.TLSCertFile
		mgmtCfg.TLSKeyFile = cfg.Listener.TLSKeyFile
		_, closeManagement, err = startManagementServer(mgmtCfg, mgmtRouter)
		if err != nil {
			stopTasks()
			return nil, fmt.Errorf("failed to start management server: %w", err)
		}
	} else if err := mountRoutes(router, registryroute.ManagementRouteLoaders()); err != nil {
		stopTasks()
		return nil, err
	}

	running, err := StartSinglePortHTTP(ctx, cfg.Listener, router)
	if err != nil {
		stopTasks()
		if closeManagement != nil {
			_ = closeManagement(ctx)
		}
		return nil, err
	}

	log.Info("Server listening",
		"port", running.Port,
		"plaintext", cfg.Listener.EnablePlainText,
		"tls", cfg.Listener.EnableTLS,
	)

	routesystem.MarkReady()
	return &Server{
		Config:          cfg,
		Store:           store,
		Docs:            docs,
		Chat:            chatSvc,
		Router:          router,
		Running:         running,
		fanout:          publisher,
		stopTasks:       stopTasks,
		closeManagement: closeManagement,
	}, nil
}

func mountRoutes(r *gin.Engine, loaders []registryroute.RouterLoader) error {
	for _, loader := range loaders {
		if err := loader(r); err != nil {
			return fmt.Errorf("failed to load management routes: %w", err)
		}
	}
	return nil
}
