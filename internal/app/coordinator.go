// Package app coordinates meeting lifecycle and per-connection ingestion
// on top of the session state store and the meeting repository.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/meetstream/internal/core"
	"github.com/dkeye/meetstream/internal/domain"
	"github.com/dkeye/meetstream/internal/metrics"
)

// Coordinator is built once at startup and shared by every connection.
type Coordinator struct {
	State     core.StateStore
	Meetings  core.MeetingRepository
	Processor core.StreamProcessor
	Registry  *Registry
	Metrics   *metrics.Metrics
	Now       func() time.Time
}

func (c *Coordinator) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now().UTC()
}

func (c *Coordinator) storeError(op string) {
	if c.Metrics != nil {
		c.Metrics.StoreErrors.WithLabelValues(op).Inc()
	}
}

// Create persists a new meeting and seeds its session record. Nothing is
// seeded when the record cannot be created.
func (c *Coordinator) Create(ctx context.Context, spec domain.MeetingSpec) (*domain.Meeting, error) {
	m, err := domain.NewMeeting(spec, c.now())
	if err != nil {
		return nil, err
	}
	if err := c.Meetings.Create(ctx, m); err != nil {
		c.storeError("meeting_create")
		return nil, fmt.Errorf("create meeting: %w", err)
	}
	if err := c.State.Seed(ctx, m.ID, domain.SeedStream); err != nil {
		c.storeError("state_seed")
		log.Error().Err(err).Str("module", "app").Str("meeting_id", string(m.ID)).Msg("seed session record")
	}
	if c.Metrics != nil {
		c.Metrics.Meetings.WithLabelValues("created").Inc()
	}
	log.Info().Str("module", "app").Str("meeting_id", string(m.ID)).Str("vc_id", string(m.VCID)).Msg("meeting created")
	return m, nil
}

// Status returns the session record, or an empty one when none exists or the
// store cannot be read.
func (c *Coordinator) Status(ctx context.Context, id domain.MeetingID) domain.SessionRecord {
	rec, _, err := c.State.Record(ctx, id)
	if err != nil {
		c.storeError("state_read")
		log.Error().Err(err).Str("module", "app").Str("meeting_id", string(id)).Msg("read session record")
		return domain.SessionRecord{}
	}
	return rec
}

// EndResult reports what End actually removed.
type EndResult struct {
	BuffersCleared   int  `json:"buffers_cleared"`
	RecordCleared    bool `json:"record_cleared"`
	MeetingCompleted bool `json:"meeting_completed"`
}

// End tears down all stream buffers and the session record, then marks the
// meeting completed. Every step runs even if an earlier one failed; absent
// keys and a missing meeting are not errors, so End is idempotent.
func (c *Coordinator) End(ctx context.Context, id domain.MeetingID) (EndResult, error) {
	logger := log.With().Str("module", "app").Str("meeting_id", string(id)).Logger()
	logger.Info().Msg("ending meeting and clearing buffers")

	var (
		res  EndResult
		errs []error
	)
	for _, k := range domain.StreamKinds {
		removed, err := c.State.DeleteBuffer(ctx, id, k)
		if err != nil {
			c.storeError("buffer_delete")
			logger.Error().Err(err).Str("stream", string(k)).Msg("delete stream buffer")
			errs = append(errs, err)
			continue
		}
		if removed {
			res.BuffersCleared++
		}
	}
	removed, err := c.State.DeleteRecord(ctx, id)
	if err != nil {
		c.storeError("state_delete")
		logger.Error().Err(err).Msg("delete session record")
		errs = append(errs, err)
	}
	res.RecordCleared = removed

	m, err := c.Meetings.Get(ctx, id)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		logger.Warn().Msg("no meeting record to complete")
	case err != nil:
		c.storeError("meeting_get")
		logger.Error().Err(err).Msg("load meeting for completion")
		errs = append(errs, err)
	case m.Status == domain.StatusCompleted:
		res.MeetingCompleted = true
	default:
		now := c.now()
		m.Complete(now)
		m.UpdatedAt = now
		if err := c.Meetings.Update(ctx, m); err != nil {
			c.storeError("meeting_update")
			logger.Error().Err(err).Msg("mark meeting completed")
			errs = append(errs, err)
			break
		}
		res.MeetingCompleted = true
		if c.Metrics != nil {
			c.Metrics.Meetings.WithLabelValues("ended").Inc()
		}
	}

	if len(errs) > 0 {
		return res, fmt.Errorf("end meeting %s: %w", id, errors.Join(errs...))
	}
	return res, nil
}

func (c *Coordinator) Get(ctx context.Context, id domain.MeetingID) (*domain.Meeting, error) {
	return c.Meetings.Get(ctx, id)
}

func (c *Coordinator) List(ctx context.Context) ([]*domain.Meeting, error) {
	return c.Meetings.List(ctx)
}

func (c *Coordinator) ListByVC(ctx context.Context, vc domain.VCID) ([]*domain.Meeting, error) {
	return c.Meetings.ListByVC(ctx, vc)
}

func (c *Coordinator) Update(ctx context.Context, m *domain.Meeting) error {
	m.UpdatedAt = c.now()
	return c.Meetings.Update(ctx, m)
}

func (c *Coordinator) Delete(ctx context.Context, id domain.MeetingID) error {
	return c.Meetings.Delete(ctx, id)
}

func (c *Coordinator) Connections(id domain.MeetingID) []ConnInfo {
	if c.Registry == nil {
		return []ConnInfo{}
	}
	return c.Registry.OfMeeting(id)
}
