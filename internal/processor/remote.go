package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/meetstream/internal/core"
	"github.com/dkeye/meetstream/internal/domain"
)

// RemoteConfig configures the HTTP stream processor.
type RemoteConfig struct {
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

func (c RemoteConfig) normalize() RemoteConfig {
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 100 * time.Millisecond
	}
	if c.MaxDelay < c.BaseDelay {
		c.MaxDelay = 5 * time.Second
	}
	return c
}

// permanentError marks responses that retrying cannot fix.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

func retryable(_ string, err error) bool {
	if err == nil {
		return false
	}
	var perm *permanentError
	return !errors.As(err, &perm)
}

// Remote forwards chat text and media chunks to an HTTP processing service:
//
//	POST {base}/chat           {"text": "..."}  -> {"reply": "..."}
//	POST {base}/chunks/{kind}  <raw bytes>      -> {"result": "..."}
//
// Calls go through a retry policy and a circuit breaker.
type Remote struct {
	cfg      RemoteConfig
	client   *http.Client
	executor failsafe.Executor[string]
}

var _ core.StreamProcessor = (*Remote)(nil)

func NewRemote(cfg RemoteConfig) *Remote {
	cfg = cfg.normalize()

	retry := retrypolicy.NewBuilder[string]().
		WithBackoff(cfg.BaseDelay, cfg.MaxDelay).
		WithMaxRetries(cfg.MaxRetries).
		WithJitterFactor(0.1).
		HandleIf(retryable).
		Build()

	breaker := circuitbreaker.NewBuilder[string]().
		WithFailureThresholdRatio(5, 10).
		WithDelay(15 * time.Second).
		WithSuccessThreshold(1).
		HandleIf(retryable).
		OnStateChanged(func(e circuitbreaker.StateChangedEvent) {
			log.Warn().Str("module", "processor.remote").
				Str("from", stateName(e.OldState)).
				Str("to", stateName(e.NewState)).
				Msg("circuit breaker state change")
		}).
		Build()

	return &Remote{
		cfg:      cfg,
		client:   &http.Client{Timeout: cfg.Timeout},
		executor: failsafe.With[string](retry, breaker),
	}
}

func stateName(s circuitbreaker.State) string {
	switch s {
	case circuitbreaker.OpenState:
		return "open"
	case circuitbreaker.HalfOpenState:
		return "half-open"
	default:
		return "closed"
	}
}

func (r *Remote) Reply(ctx context.Context, text string) (string, error) {
	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return "", err
	}
	return r.executor.WithContext(ctx).Get(func() (string, error) {
		var out struct {
			Reply string `json:"reply"`
		}
		if err := r.post(ctx, "/chat", "application/json", body, &out); err != nil {
			return "", err
		}
		return out.Reply, nil
	})
}

func (r *Remote) ProcessChunk(ctx context.Context, kind domain.StreamKind, chunk core.Chunk) (string, error) {
	return r.executor.WithContext(ctx).Get(func() (string, error) {
		var out struct {
			Result string `json:"result"`
		}
		if err := r.post(ctx, "/chunks/"+string(kind), "application/octet-stream", chunk, &out); err != nil {
			return "", err
		}
		return out.Result, nil
	})
}

func (r *Remote) post(ctx context.Context, path, contentType string, body []byte, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return &permanentError{err: err}
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		err := fmt.Errorf("processor %s: status %d", path, resp.StatusCode)
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return err
		}
		return &permanentError{err: err}
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return &permanentError{err: fmt.Errorf("processor %s: decode: %w", path, err)}
	}
	return nil
}
