package http

import (
	"context"
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/meetstream/internal/adapters/ws"
	"github.com/dkeye/meetstream/internal/app"
	"github.com/dkeye/meetstream/internal/config"
	"github.com/dkeye/meetstream/internal/domain"
)

const apiKeyHeader = "X-API-Key"

// Deps are the collaborators the router dispatches to.
type Deps struct {
	Coord    *app.Coordinator
	Streams  *ws.Controller
	Gatherer prometheus.Gatherer
	// Health reports whether the session state store is reachable.
	Health func(context.Context) error
}

// APIKeyMiddleware rejects REST calls without the shared key.
func APIKeyMiddleware(key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got := c.GetHeader(apiKeyHeader)
		if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or missing API key"})
			return
		}
		c.Next()
	}
}

func SetupRouter(cfg *config.Config, d Deps) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		if d.Health != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := d.Health(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if d.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	}

	h := &meetingHandlers{coord: d.Coord}
	meetings := r.Group("/api/meetings")

	// WebSocket endpoints authenticate in-band with the handshake.
	wsGroup := meetings.Group("/ws")
	wsGroup.GET("/video/:meeting_id", d.Streams.Stream(domain.StreamVideo))
	wsGroup.GET("/audio/mic/:meeting_id", d.Streams.Stream(domain.StreamMic))
	wsGroup.GET("/audio/system/:meeting_id", d.Streams.Stream(domain.StreamSystem))
	wsGroup.GET("/chat/:meeting_id", d.Streams.Chat())

	api := meetings.Group("", APIKeyMiddleware(cfg.APIKey))
	api.POST("/create", h.create)
	api.GET("/fetch/all", h.list)
	api.GET("/fetch/:meeting_id", h.get)
	api.GET("/fetch_by_vc/:vc_id", h.listByVC)
	api.PUT("/update", h.update)
	api.DELETE("/delete/:meeting_id", h.delete)
	api.GET("/status/:meeting_id", h.status)
	api.GET("/connections/:meeting_id", h.connections)
	api.DELETE("/:meeting_id", h.end)

	log.Info().Str("module", "adapters.http").Str("mode", cfg.Mode).Msg("router setup")
	return r
}
