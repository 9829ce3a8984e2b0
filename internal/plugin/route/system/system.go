package system

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	registryroute "github.com/chirino/chat-service/internal/registry/route"
)

var ready atomic.Bool

// Check probes one backing service for readiness.
type Check func(ctx context.Context) error

var (
	checksMu sync.RWMutex
	checks   = map[string]Check{}
)

// MarkReady signals that the service has finished initializing and is ready to
// serve traffic. Call this once StartServer has completed successfully.
func MarkReady() {
	ready.Store(true)
}

// AddReadinessCheck registers a dependency probe evaluated by /ready.
func AddReadinessCheck(name string, check Check) {
	checksMu.Lock()
	defer checksMu.Unlock()
	checks[name] = check
}

func failingChecks(ctx context.Context) map[string]string {
	checksMu.RLock()
	defer checksMu.RUnlock()
	failed := map[string]string{}
	for name, check := range checks {
		if err := check(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	return failed
}

func init() {
	registryroute.Register(registryroute.Plugin{
		Order: 0,
		Type:  registryroute.RouteTypeManagement,
		Loader: func(r *gin.Engine) error {
			// Liveness: process is up
			r.GET("/health", func(c *gin.Context) {
				c.JSON(http.StatusOK, gin.H{"status": "ok"})
			})

			// Readiness: initialized and every backing service answers
			r.GET("/ready", func(c *gin.Context) {
				if !ready.Load() {
					c.JSON(http.StatusServiceUnavailable, gin.H{"status": "starting"})
					return
				}
				ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
				defer cancel()
				if failed := failingChecks(ctx); len(failed) > 0 {
					c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "failed": failed})
					return
				}
				c.JSON(http.StatusOK, gin.H{"status": "ready"})
			})

			r.GET("/metrics", gin.WrapH(promhttp.Handler()))

			return nil
		},
	})
}
