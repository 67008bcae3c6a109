package handlers

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
)

type healthResponse struct {
	Status       string            `json:"status"`
	Dependencies map[string]string `json:"dependencies"`
	Environment  string            `json:"environment"`
}

// Health always answers 200 while the process is up; degraded dependencies are
// reported in the body. In auto store mode a down database is expected.
func (h HandlerSet) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := "ok"
	deps := make(map[string]string, len(names))
	for _, name := range names {
		check := h.checks[name]
		if check == nil {
			continue
		}
		if err := check.Ping(ctx); err != nil {
			deps[name] = "error"
			status = "degraded"
			h.log.Error().Err(err).Str("dependency", name).Msg("health check failed")
			continue
		}
		deps[name] = "ok"
	}

	c.JSON(http.StatusOK, healthResponse{
		Status:       status,
		Dependencies: deps,
		Environment:  h.cfg.Environment,
	})
}
