package server

import (
	"net/http"
	"time"

	"github.com/danmuck/wirechan/internal/auth"
	"github.com/danmuck/wirechan/internal/observability"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Router builds the admin HTTP API.
func (s *Server) Router() *gin.Engine {
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestID())
	r.Use(observability.RequestLogger(s.logger))
	r.Use(observability.RequestMetricsMiddleware(s.cfg.Name))
	r.Use(cors.New(cors.Config{
		AllowOrigins:  normalizeOrigins(s.cfg.CORSOrigins),
		AllowMethods:  []string{"GET", "DELETE"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", observability.RequestIDHeader},
		ExposeHeaders: []string{observability.RequestIDHeader},
		MaxAge:        12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"uptime":    time.Since(s.started).String(),
			"component": "wirechan",
			"node":      s.cfg.Name,
			"active":    s.active.Load(),
			"accepted":  s.accepted.Load(),
		})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/channels", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"channels": s.Channels(),
		})
	})

	r.GET("/channels/:id", func(c *gin.Context) {
		id := c.Param("id")
		for _, info := range s.Channels() {
			if info.ID == id {
				c.JSON(http.StatusOK, info)
				return
			}
		}
		c.JSON(http.StatusNotFound, gin.H{"error": "channel not found"})
	})

	r.DELETE("/channels/:id", auth.Middleware(auth.StaticToken{Token: s.cfg.AdminToken}), func(c *gin.Context) {
		if !s.Kick(c.Param("id")) {
			c.JSON(http.StatusNotFound, gin.H{"error": "channel not found"})
			return
		}
		c.Status(http.StatusNoContent)
	})

	return r
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000", "http://127.0.0.1:3000"}
	}
	return origins
}
