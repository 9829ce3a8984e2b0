package serve

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	corsAllowHeaders = "Authorization, Content-Type"
	corsAllowMethods = "GET, POST, PUT, PATCH, DELETE, OPTIONS"
	corsMaxAge       = "600"
)

// corsMiddleware answers preflight requests and decorates responses for allowed origins.
func corsMiddleware(originsCSV string) gin.HandlerFunc {
	allowed := parseOrigins(originsCSV)
	return func(c *gin.Context) {
		origin := strings.TrimSpace(c.GetHeader("Origin"))
		if origin == "" || !allowed.permits(origin) {
			c.Next()
			return
		}
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", origin)
		h.Add("Vary", "Origin")
		h.Set("Access-Control-Allow-Credentials", "true")

		if c.Request.Method == http.MethodOptions && c.GetHeader("Access-Control-Request-Method") != "" {
			h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
			h.Set("Access-Control-Allow-Methods", corsAllowMethods)
			h.Set("Access-Control-Max-Age", corsMaxAge)
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

type originSet map[string]struct{}

func (s originSet) permits(origin string) bool {
	if _, ok := s["*"]; ok {
		return true
	}
	_, ok := s[strings.ToLower(origin)]
	return ok
}

func parseOrigins(raw string) originSet {
	set := originSet{}
	for _, part := range strings.Split(raw, ",") {
		if v := strings.ToLower(strings.TrimSpace(part)); v != "" {
			set[strings.TrimSuffix(v, "/")] = struct{}{}
		}
	}
	if len(set) == 0 {
		set["*"] = struct{}{}
	}
	return set
}
