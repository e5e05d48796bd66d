package core

import (
	"context"

	"github.com/dkeye/meetstream/internal/domain"
)

// StateStore holds the per-meeting session record and stream buffers.
// Implementations must make RecordChunk atomic: the buffer append and both
// counter increments land together or not at all.
type StateStore interface {
	// Seed writes a fresh session record with one stream marked connected.
	Seed(ctx context.Context, id domain.MeetingID, kind domain.StreamKind) error
	// MarkConnected flags kind as connected, creating zero counters only when absent.
	MarkConnected(ctx context.Context, id domain.MeetingID, kind domain.StreamKind) error
	// RecordChunk appends chunk to the kind's buffer and returns the post-update counters.
	RecordChunk(ctx context.Context, id domain.MeetingID, kind domain.StreamKind, chunk Chunk) (domain.StreamState, error)
	// Record returns the session record; ok is false when none exists.
	Record(ctx context.Context, id domain.MeetingID) (rec domain.SessionRecord, ok bool, err error)
	Buffer(ctx context.Context, id domain.MeetingID, kind domain.StreamKind) ([]Chunk, error)
	// DeleteBuffer and DeleteRecord report whether a key was actually removed.
	DeleteBuffer(ctx context.Context, id domain.MeetingID, kind domain.StreamKind) (bool, error)
	DeleteRecord(ctx context.Context, id domain.MeetingID) (bool, error)
}
