// Package ws serves the per-meeting WebSocket endpoints: three media streams
// and chat, each guarded by an API key handshake.
package ws

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/meetstream/internal/app"
	"github.com/dkeye/meetstream/internal/core"
	"github.com/dkeye/meetstream/internal/domain"
)

type Options struct {
	APIKey       string
	ReadLimit    int64
	WriteTimeout time.Duration
	Limiter      *FailureLimiter
	// ProcessQueue bounds chunks per stream waiting for the processor.
	ProcessQueue int
}

type Controller struct {
	Coord *app.Coordinator
	opts  Options

	upgrader websocket.Upgrader
}

func NewController(coord *app.Coordinator, opts Options) *Controller {
	return &Controller{
		Coord: coord,
		opts:  opts,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Stream returns the handler for one media stream kind.
func (ctl *Controller) Stream(kind domain.StreamKind) gin.HandlerFunc {
	ep := app.StreamEndpoint(kind)
	return func(c *gin.Context) {
		ctl.serve(c, ep, func(ctx context.Context, conn core.Conn, id domain.MeetingID) {
			sess := &StreamSession{
				Coord:        ctl.Coord,
				Conn:         conn,
				MeetingID:    id,
				Kind:         kind,
				WriteTimeout: ctl.opts.WriteTimeout,
				QueueSize:    ctl.opts.ProcessQueue,
			}
			sess.Run(ctx)
		})
	}
}

func (ctl *Controller) Chat() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctl.serve(c, app.EndpointChat, func(ctx context.Context, conn core.Conn, id domain.MeetingID) {
			sess := &ChatSession{
				Coord:        ctl.Coord,
				Conn:         conn,
				MeetingID:    id,
				WriteTimeout: ctl.opts.WriteTimeout,
			}
			sess.Run(ctx)
		})
	}
}

func (ctl *Controller) handshakeResult(ep app.Endpoint, result string) {
	if m := ctl.Coord.Metrics; m != nil {
		m.Handshakes.WithLabelValues(string(ep), result).Inc()
	}
}

// serve upgrades, authenticates and registers the connection, then runs the
// session loop on the handler goroutine until the transport closes.
func (ctl *Controller) serve(c *gin.Context, ep app.Endpoint, run func(context.Context, core.Conn, domain.MeetingID)) {
	remote := c.ClientIP()
	id := domain.MeetingID(c.Param("meeting_id"))
	logger := log.With().Str("module", "ws").Str("meeting_id", string(id)).Str("endpoint", string(ep)).Str("remote", remote).Logger()

	if !ctl.opts.Limiter.Allow(remote) {
		logger.Warn().Msg("too many failed handshakes")
		ctl.handshakeResult(ep, "throttled")
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too_many_failed_handshakes"})
		return
	}

	ws, err := ctl.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Error().Err(err).Msg("ws upgrade")
		return
	}
	if ctl.opts.ReadLimit > 0 {
		ws.SetReadLimit(ctl.opts.ReadLimit)
	}
	logger.Info().Msg("new WS connection")

	if err := Handshake(ws, ctl.opts.APIKey, ctl.opts.WriteTimeout); err != nil {
		switch {
		case errors.Is(err, ErrMalformedHandshake):
			ctl.handshakeResult(ep, "malformed")
			ctl.opts.Limiter.Fail(remote)
		case errors.Is(err, ErrInvalidKey):
			ctl.handshakeResult(ep, "invalid_key")
			ctl.opts.Limiter.Fail(remote)
		default:
			ctl.handshakeResult(ep, "aborted")
		}
		logger.Warn().Err(err).Msg("handshake failed")
		return
	}
	ctl.handshakeResult(ep, "ok")

	cid := ctl.Coord.Registry.Bind(id, ep, remote, func() { _ = ws.Close() })
	if m := ctl.Coord.Metrics; m != nil {
		m.Connections.WithLabelValues(string(ep)).Inc()
	}
	defer func() {
		ctl.Coord.Registry.Unbind(cid)
		if m := ctl.Coord.Metrics; m != nil {
			m.Connections.WithLabelValues(string(ep)).Dec()
		}
		_ = ws.Close()
		logger.Info().Str("conn_id", string(cid)).Msg("session finished")
	}()

	run(c.Request.Context(), ws, id)
}
