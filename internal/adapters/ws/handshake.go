package ws

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"time"

	"github.com/dkeye/meetstream/internal/core"
)

var (
	ErrMalformedHandshake = errors.New("handshake: expected JSON with API key")
	ErrInvalidKey         = errors.New("handshake: invalid API key")
)

// Handshake challenges a freshly accepted connection for the shared API key.
// On failure it replies with an error, closes with 1008 and returns the
// reason; on success the connection is ready for the session loop.
func Handshake(conn core.Conn, apiKey string, writeTimeout time.Duration) error {
	if err := sendJSON(conn, writeTimeout, map[string]string{
		"type": "handshake_required",
		"msg":  "Send {\"x_api_key\": \"<key>\"} to authenticate",
	}); err != nil {
		_ = conn.Close()
		return err
	}

	_, data, err := conn.ReadMessage()
	if err != nil {
		_ = conn.Close()
		return err
	}

	// Any JSON object is well formed; a missing or non-string key is just wrong.
	var req map[string]any
	if err := json.Unmarshal(data, &req); err != nil || req == nil {
		_ = sendJSON(conn, writeTimeout, map[string]string{"error": "Expected JSON with API key"})
		closePolicy(conn, writeTimeout, "malformed handshake")
		return ErrMalformedHandshake
	}
	got, _ := req["x_api_key"].(string)
	if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(apiKey)) != 1 {
		_ = sendJSON(conn, writeTimeout, map[string]string{"error": "Invalid API key"})
		closePolicy(conn, writeTimeout, "invalid api key")
		return ErrInvalidKey
	}

	return sendJSON(conn, writeTimeout, map[string]string{
		"type": "handshake_ok",
		"msg":  "Authentication successful!",
	})
}
