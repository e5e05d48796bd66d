// Package processor provides stream processors that turn chat text and media
// chunks into results. Real decoding and transcription live outside this service.
package processor

import (
	"context"
	"fmt"
	"time"

	"github.com/dkeye/meetstream/internal/core"
	"github.com/dkeye/meetstream/internal/domain"
)

// Stub answers with canned results after a fixed delay.
type Stub struct {
	Delay time.Duration
}

var _ core.StreamProcessor = Stub{}

func (s Stub) wait(ctx context.Context) error {
	if s.Delay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(s.Delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (s Stub) ProcessChunk(ctx context.Context, kind domain.StreamKind, _ core.Chunk) (string, error) {
	if err := s.wait(ctx); err != nil {
		return "", err
	}
	if kind == domain.StreamVideo {
		return "processed video chunk", nil
	}
	return "transcribed audio chunk", nil
}

func (s Stub) Reply(ctx context.Context, text string) (string, error) {
	if err := s.wait(ctx); err != nil {
		return "", err
	}
	return fmt.Sprintf("Chatbot reply: '%s'", text), nil
}
