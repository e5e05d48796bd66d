package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/meetstream/internal/core"
	"github.com/dkeye/meetstream/internal/domain"
)

// RequireMeeting returns domain.ErrNotFound when the meeting does not exist.
func (c *Coordinator) RequireMeeting(ctx context.Context, id domain.MeetingID) error {
	if !domain.ValidMeetingID(id) {
		return domain.ErrNotFound
	}
	if _, err := c.Meetings.Get(ctx, id); err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			c.storeError("meeting_get")
		}
		return err
	}
	return nil
}

// OpenStream marks kind connected for an existing meeting. A store failure is
// logged and does not prevent ingestion.
func (c *Coordinator) OpenStream(ctx context.Context, id domain.MeetingID, kind domain.StreamKind) error {
	if err := c.RequireMeeting(ctx, id); err != nil {
		return err
	}
	if err := c.State.MarkConnected(ctx, id, kind); err != nil {
		c.storeError("state_connect")
		log.Error().Err(err).Str("module", "app").Str("meeting_id", string(id)).Str("stream", string(kind)).Msg("mark stream connected")
	}
	return nil
}

// IngestChunk appends chunk to the stream buffer and returns the updated counters.
func (c *Coordinator) IngestChunk(ctx context.Context, id domain.MeetingID, kind domain.StreamKind, chunk core.Chunk) (domain.StreamState, error) {
	st, err := c.State.RecordChunk(ctx, id, kind, chunk)
	if err != nil {
		c.storeError("chunk_record")
		return domain.StreamState{}, err
	}
	if c.Metrics != nil {
		c.Metrics.Chunks.WithLabelValues(string(kind)).Inc()
		c.Metrics.Bytes.WithLabelValues(string(kind)).Add(float64(len(chunk)))
	}
	return st, nil
}

// ProcessChunk hands an ingested chunk to the stream processor. Failures are
// logged only. Callers run it off the receive loop.
func (c *Coordinator) ProcessChunk(ctx context.Context, id domain.MeetingID, kind domain.StreamKind, chunk core.Chunk) {
	if c.Processor == nil {
		return
	}
	res, err := c.Processor.ProcessChunk(ctx, kind, chunk)
	if err != nil {
		log.Warn().Err(err).Str("module", "app").Str("meeting_id", string(id)).Str("stream", string(kind)).Msg("process chunk")
		return
	}
	log.Debug().Str("module", "app").Str("meeting_id", string(id)).Str("stream", string(kind)).Str("result", res).Msg("chunk processed")
}

// ProcessDropped records a stored chunk that was never processed.
func (c *Coordinator) ProcessDropped(kind domain.StreamKind) {
	if c.Metrics != nil {
		c.Metrics.ProcessDropped.WithLabelValues(string(kind)).Inc()
	}
}

// Chat records the user's message, asks the processor for a reply, records the
// reply and returns it. Transcript appends are skipped if the meeting has
// disappeared; the reply is still returned.
func (c *Coordinator) Chat(ctx context.Context, id domain.MeetingID, text string) (string, error) {
	c.appendChat(ctx, id, domain.SpeakerUser, text)

	if c.Processor == nil {
		return "", fmt.Errorf("no stream processor configured")
	}
	reply, err := c.Processor.Reply(ctx, text)
	if err != nil {
		return "", fmt.Errorf("chat reply: %w", err)
	}

	c.appendChat(ctx, id, domain.SpeakerAssistant, reply)
	return reply, nil
}

func (c *Coordinator) appendChat(ctx context.Context, id domain.MeetingID, speaker domain.Speaker, text string) bool {
	logger := log.With().Str("module", "app").Str("meeting_id", string(id)).Str("speaker", string(speaker)).Logger()

	m, err := c.Meetings.Get(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		logger.Warn().Msg("meeting gone, chat turn not recorded")
		return false
	}
	if err != nil {
		c.storeError("meeting_get")
		logger.Error().Err(err).Msg("load meeting for chat turn")
		return false
	}

	now := c.now()
	m.AppendChat(speaker, text, now)
	m.UpdatedAt = now
	if err := c.Meetings.Update(ctx, m); err != nil {
		c.storeError("meeting_update")
		logger.Error().Err(err).Msg("persist chat turn")
		return false
	}
	if c.Metrics != nil {
		c.Metrics.ChatTurns.WithLabelValues(string(speaker)).Inc()
	}
	return true
}
