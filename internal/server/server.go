// Package server wires the HTTP surface: the WebSocket endpoint, health
// reporting and the Prometheus scrape handler.
package server

import (
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/easyspace-ai/easygrid-sub002/internal/metrics"
	"github.com/easyspace-ai/easygrid-sub002/internal/sharedb"
)

// New builds the gin router. The realtime service handles /socket; /health
// and /metrics serve operators.
func New(svc *sharedb.Service, logger zerolog.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/socket", resolveUserID(logger), svc.HandleWebSocket)
	router.GET("/health", healthHandler(svc))
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	return router
}

// resolveUserID pulls the authenticated user from the X-User-Id header (set
// by the auth proxy) or the user_id query parameter. A missing ID is logged
// but the upgrade proceeds; anonymous sessions are read-only in practice.
func resolveUserID(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetHeader("X-User-Id")
		if userID == "" {
			userID = c.Query("user_id")
		}
		if userID == "" {
			logger.Warn().
				Str("remote", c.ClientIP()).
				Msg("WebSocket upgrade without user id")
		}
		c.Set(sharedb.UserIDKey, userID)
		c.Next()
	}
}

func healthHandler(svc *sharedb.Service) gin.HandlerFunc {
	started := time.Now()
	return func(c *gin.Context) {
		total, _ := svc.Registry().Counts("")

		body := gin.H{
			"status":             "ok",
			"uptime_seconds":     int64(time.Since(started).Seconds()),
			"active_connections": total,
			"goroutines":         runtime.NumGoroutine(),
		}
		if vm, err := mem.VirtualMemory(); err == nil {
			body["memory_used_percent"] = vm.UsedPercent
		}
		if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
			body["cpu_percent"] = percents[0]
		}
		c.JSON(http.StatusOK, body)
	}
}
