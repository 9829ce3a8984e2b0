// Package relational implements the relational chat store on gorm, for PostgreSQL
// in production and SQLite for embedded/dev use.
package relational

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/chat-service/internal/config"
	"github.com/chirino/chat-service/internal/model"
	registrymigrate "github.com/chirino/chat-service/internal/registry/migrate"
	registrystore "github.com/chirino/chat-service/internal/registry/store"
	"github.com/chirino/chat-service/internal/security"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ForceImport is a no-op variable that can be referenced to ensure this package's init() runs.
var ForceImport = 0

func init() {
	registrystore.Register(registrystore.Plugin{
		Name:   "postgres",
		Loader: func(ctx context.Context) (registrystore.ChatStore, error) { return load(ctx, "postgres") },
	})
	registrystore.Register(registrystore.Plugin{
		Name:   "sqlite",
		Loader: func(ctx context.Context) (registrystore.ChatStore, error) { return load(ctx, "sqlite") },
	})
	registrymigrate.Register(registrymigrate.Plugin{Order: 100, Migrator: &schemaMigrator{}})
}

// models lists every table owned by this store, in dependency order.
var models = []any{
	&model.ChatRoom{},
	&model.ChatRoomMember{},
	&model.MemberPermissionOverride{},
	&model.Contact{},
	&model.Task{},
}

func open(kind, dbURL string) (*gorm.DB, error) {
	gcfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}
	switch kind {
	case "postgres":
		return gorm.Open(postgres.Open(dbURL), gcfg)
	case "sqlite":
		gcfg.TranslateError = true
		return gorm.Open(sqlite.Open(dbURL), gcfg)
	default:
		return nil, fmt.Errorf("unsupported relational store %q", kind)
	}
}

func load(ctx context.Context, kind string) (registrystore.ChatStore, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.DBURL == "" {
		return nil, fmt.Errorf("%s store: CHAT_SERVICE_DB_URL is required", kind)
	}
	db, err := open(kind, cfg.DBURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", kind, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying db: %w", err)
	}
	maxOpen := cfg.DBMaxOpenConns
	if kind == "sqlite" {
		// SQLite serializes writers; a single connection avoids SQLITE_BUSY.
		maxOpen = 1
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(cfg.DBMaxIdleConns)
	if security.DBPoolMaxConnections != nil {
		security.DBPoolMaxConnections.Set(float64(maxOpen))
	}

	// Periodically update the open connections gauge.
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if security.DBPoolOpenConnections != nil {
					security.DBPoolOpenConnections.Set(float64(sqlDB.Stats().OpenConnections))
				}
			}
		}
	}()

	return &GormStore{db: db, cfg: cfg}, nil
}

// New wraps an already opened gorm connection. The schema must exist.
func New(db *gorm.DB, cfg *config.Config) *GormStore {
	return &GormStore{db: db, cfg: cfg}
}

// AutoMigrate creates or updates every table owned by the store.
func AutoMigrate(ctx context.Context, db *gorm.DB) error {
	return db.WithContext(ctx).AutoMigrate(models...)
}

type schemaMigrator struct{}

func (m *schemaMigrator) Name() string { return "relational-schema" }
func (m *schemaMigrator) Migrate(ctx context.Context) error {
	cfg := config.FromContext(ctx)
	if cfg == nil || !cfg.DatastoreMigrateAtStart {
		return nil
	}
	if cfg.DatastoreType != "postgres" && cfg.DatastoreType != "sqlite" {
		return nil
	}
	log.Info("Running migration", "name", m.Name(), "db", cfg.DatastoreType)
	db, err := open(cfg.DatastoreType, cfg.DBURL)
	if err != nil {
		return fmt.Errorf("migration: failed to connect: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	if err := AutoMigrate(ctx, db); err != nil {
		return fmt.Errorf("migration: failed to apply schema: %w", err)
	}
	log.Info("Relational schema migration complete")
	return nil
}

// GormStore implements ChatStore on gorm.
type GormStore struct {
	db  *gorm.DB
	cfg *config.Config
}

var _ registrystore.ChatStore = (*GormStore)(nil)

// Transaction runs fn with a store bound to a single transaction.
func (s *GormStore) Transaction(ctx context.Context, fn func(tx registrystore.ChatStore) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{db: tx, cfg: s.cfg})
	})
}

// Ping checks the underlying connection pool.
func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *GormStore) isPostgres() bool {
	return s.db.Dialector.Name() == "postgres"
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return errors.Is(err, gorm.ErrDuplicatedKey)
}

func notFound(err error, resource, id string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &registrystore.NotFoundError{Resource: resource, ID: id}
	}
	return err
}
