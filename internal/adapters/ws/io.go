package ws

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/meetstream/internal/core"
)

const defaultWriteTimeout = 5 * time.Second

func writeDeadline(timeout time.Duration) time.Time {
	if timeout <= 0 {
		timeout = defaultWriteTimeout
	}
	return time.Now().Add(timeout)
}

func sendJSON(conn core.Conn, timeout time.Duration, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "ws").Msg("sendJSON marshal")
		return err
	}
	return sendRaw(conn, timeout, websocket.TextMessage, b)
}

func sendRaw(conn core.Conn, timeout time.Duration, mt int, data []byte) error {
	if err := conn.SetWriteDeadline(writeDeadline(timeout)); err != nil {
		return err
	}
	return conn.WriteMessage(mt, data)
}

func sendError(conn core.Conn, timeout time.Duration, code string) error {
	return sendJSON(conn, timeout, map[string]any{
		"type":  "error",
		"error": code,
	})
}

// closePolicy sends a close frame with code 1008 and drops the transport.
func closePolicy(conn core.Conn, timeout time.Duration, reason string) {
	msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason)
	if err := conn.WriteControl(websocket.CloseMessage, msg, writeDeadline(timeout)); err != nil {
		log.Debug().Err(err).Str("module", "ws").Msg("write close frame")
	}
	_ = conn.Close()
}

// logReadEnd logs why a session loop stopped reading.
func logReadEnd(err error, module, meetingID, endpoint string) {
	var ev *zerolog.Event
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		ev = log.Warn()
	} else {
		ev = log.Error()
	}
	ev.Err(err).Str("module", module).Str("meeting_id", meetingID).Str("endpoint", endpoint).Msg("connection closed")
}
