package core

import (
	"context"

	"github.com/dkeye/meetstream/internal/domain"
)

// StreamProcessor turns ingested content into results. It may be slow.
type StreamProcessor interface {
	ProcessChunk(ctx context.Context, kind domain.StreamKind, chunk Chunk) (string, error)
	Reply(ctx context.Context, text string) (string, error)
}
