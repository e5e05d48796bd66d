package ws

import (
	"context"
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/meetstream/internal/app"
	"github.com/dkeye/meetstream/internal/core"
	"github.com/dkeye/meetstream/internal/domain"
)

type chunkAck struct {
	Type          string            `json:"type"`
	Stream        domain.StreamKind `json:"stream"`
	ChunkCount    int64             `json:"chunk_count"`
	ReceivedBytes int64             `json:"received_bytes"`
}

// rejectMeeting answers a failed meeting lookup and closes the connection.
func rejectMeeting(conn core.Conn, timeout time.Duration, err error) {
	if errors.Is(err, domain.ErrNotFound) {
		_ = sendJSON(conn, timeout, map[string]string{"error": "meeting_not_found"})
		closePolicy(conn, timeout, "meeting not found")
		return
	}
	_ = sendError(conn, timeout, "meeting_lookup_failed")
	msg := websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "meeting lookup failed")
	_ = conn.WriteControl(websocket.CloseMessage, msg, writeDeadline(timeout))
	_ = conn.Close()
}

// StreamSession ingests one media stream of a meeting after the handshake.
type StreamSession struct {
	Coord        *app.Coordinator
	Conn         core.Conn
	MeetingID    domain.MeetingID
	Kind         domain.StreamKind
	WriteTimeout time.Duration
	// QueueSize bounds chunks waiting for the processor; zero means 64.
	QueueSize int
}

const defaultProcessQueue = 64

// processLoop feeds queued chunks to the processor until queue is closed.
// Once ctx is done the rest of the queue is discarded.
func (s *StreamSession) processLoop(ctx context.Context, queue <-chan core.Chunk) {
	for chunk := range queue {
		if ctx.Err() != nil {
			continue
		}
		s.Coord.ProcessChunk(ctx, s.MeetingID, s.Kind, chunk)
	}
}

// Run blocks until the transport closes. Chunks are recorded and acked
// strictly in arrival order; processing happens on a separate goroutine and
// never holds up the next read.
func (s *StreamSession) Run(ctx context.Context) {
	logger := log.With().Str("module", "ws.stream").Str("meeting_id", string(s.MeetingID)).Str("stream", string(s.Kind)).Logger()

	if err := s.Coord.OpenStream(ctx, s.MeetingID, s.Kind); err != nil {
		logger.Warn().Err(err).Msg("stream rejected")
		rejectMeeting(s.Conn, s.WriteTimeout, err)
		return
	}
	logger.Info().Msg("stream connected")

	size := s.QueueSize
	if size <= 0 {
		size = defaultProcessQueue
	}
	procCtx, cancel := context.WithCancel(ctx)
	queue := make(chan core.Chunk, size)
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.processLoop(procCtx, queue)
	}()
	defer func() {
		cancel()
		close(queue)
		<-done
	}()

	for {
		_, data, err := s.Conn.ReadMessage()
		if err != nil {
			logReadEnd(err, "ws.stream", string(s.MeetingID), string(s.Kind))
			return
		}
		chunk := core.Chunk(data)

		st, err := s.Coord.IngestChunk(ctx, s.MeetingID, s.Kind, chunk)
		if err != nil {
			logger.Error().Err(err).Int("size", len(chunk)).Msg("chunk not recorded")
			if err := sendError(s.Conn, s.WriteTimeout, "chunk_not_recorded"); err != nil {
				logger.Error().Err(err).Msg("send error reply")
				return
			}
			continue
		}

		if err := sendJSON(s.Conn, s.WriteTimeout, chunkAck{
			Type:          "chunk_ack",
			Stream:        s.Kind,
			ChunkCount:    st.Chunks,
			ReceivedBytes: st.Bytes,
		}); err != nil {
			logger.Error().Err(err).Msg("send ack")
			return
		}

		select {
		case queue <- chunk:
		default:
			s.Coord.ProcessDropped(s.Kind)
			logger.Warn().Int("size", len(chunk)).Msg("processor queue full, chunk not processed")
		}
	}
}

// ChatSession relays chat messages between a client and the processor and
// records both sides in the meeting's chat history.
type ChatSession struct {
	Coord        *app.Coordinator
	Conn         core.Conn
	MeetingID    domain.MeetingID
	WriteTimeout time.Duration
}

func (s *ChatSession) Run(ctx context.Context) {
	logger := log.With().Str("module", "ws.chat").Str("meeting_id", string(s.MeetingID)).Logger()

	if err := s.Coord.RequireMeeting(ctx, s.MeetingID); err != nil {
		logger.Warn().Err(err).Msg("chat rejected")
		rejectMeeting(s.Conn, s.WriteTimeout, err)
		return
	}
	logger.Info().Msg("chat connected")

	for {
		_, data, err := s.Conn.ReadMessage()
		if err != nil {
			logReadEnd(err, "ws.chat", string(s.MeetingID), string(app.EndpointChat))
			return
		}

		reply, err := s.Coord.Chat(ctx, s.MeetingID, string(data))
		if err != nil {
			logger.Error().Err(err).Msg("chat reply")
			if err := sendError(s.Conn, s.WriteTimeout, "reply_failed"); err != nil {
				return
			}
			continue
		}
		if err := sendRaw(s.Conn, s.WriteTimeout, websocket.TextMessage, []byte(reply)); err != nil {
			logger.Error().Err(err).Msg("send reply")
			return
		}
	}
}
