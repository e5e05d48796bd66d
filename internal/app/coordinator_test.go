package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/meetstream/internal/core"
	"github.com/dkeye/meetstream/internal/domain"
	"github.com/dkeye/meetstream/internal/metrics"
	"github.com/dkeye/meetstream/internal/processor"
	"github.com/dkeye/meetstream/internal/records"
	"github.com/dkeye/meetstream/internal/store"
)

var fixedNow = time.Unix(1_700_000_000, 0).UTC()

func newCoordinator(t *testing.T) (*Coordinator, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return &Coordinator{
		State:     store.NewRedisStateStore(client, 0),
		Meetings:  records.NewMemoryRepository(),
		Processor: processor.Stub{},
		Registry:  NewRegistry(),
		Metrics:   metrics.NewNop(),
		Now:       func() time.Time { return fixedNow },
	}, mr
}

func TestCreateSeedsSessionRecord(t *testing.T) {
	c, _ := newCoordinator(t)
	ctx := context.Background()

	m, err := c.Create(ctx, domain.MeetingSpec{VCID: "vc-1"})
	require.NoError(t, err)
	assert.Equal(t, domain.VCID("vc-1"), m.VCID)

	rec := c.Status(ctx, m.ID)
	assert.Equal(t, domain.SessionRecord{System: &domain.StreamState{Connected: true}}, rec)
}

type failingRepo struct{ records.MemoryRepository }

func (*failingRepo) Create(context.Context, *domain.Meeting) error { return errors.New("db down") }

func TestCreateFailureWritesNoState(t *testing.T) {
	c, mr := newCoordinator(t)
	c.Meetings = &failingRepo{}

	_, err := c.Create(context.Background(), domain.MeetingSpec{VCID: "vc-1"})
	require.Error(t, err)
	assert.Empty(t, mr.Keys())
}

func TestCreateRejectsMissingVCID(t *testing.T) {
	c, _ := newCoordinator(t)
	_, err := c.Create(context.Background(), domain.MeetingSpec{})
	assert.ErrorIs(t, err, domain.ErrVCIDEmpty)
}

func TestStatusUnknownMeetingIsEmpty(t *testing.T) {
	c, _ := newCoordinator(t)
	assert.True(t, c.Status(context.Background(), "nope").Empty())
}

func TestStatusStoreDownIsEmpty(t *testing.T) {
	c, mr := newCoordinator(t)
	mr.Close()
	assert.True(t, c.Status(context.Background(), "m1").Empty())
}

func TestIngestUpdatesCounters(t *testing.T) {
	c, _ := newCoordinator(t)
	ctx := context.Background()
	m, err := c.Create(ctx, domain.MeetingSpec{VCID: "vc-1"})
	require.NoError(t, err)

	require.NoError(t, c.OpenStream(ctx, m.ID, domain.StreamVideo))
	for _, n := range []int{10, 20, 30} {
		_, err := c.IngestChunk(ctx, m.ID, domain.StreamVideo, make(core.Chunk, n))
		require.NoError(t, err)
	}

	rec := c.Status(ctx, m.ID)
	require.NotNil(t, rec.Video)
	assert.Equal(t, int64(3), rec.Video.Chunks)
	assert.Equal(t, int64(60), rec.Video.Bytes)
	require.NotNil(t, rec.System, "seeded stream must survive other streams connecting")
}

func TestOpenStreamUnknownMeeting(t *testing.T) {
	c, mr := newCoordinator(t)
	err := c.OpenStream(context.Background(), "nope", domain.StreamMic)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Empty(t, mr.Keys())
}

func TestEndNeverOpenedMeetingIsIdempotent(t *testing.T) {
	c, _ := newCoordinator(t)
	ctx := context.Background()
	m, err := c.Create(ctx, domain.MeetingSpec{VCID: "vc-1"})
	require.NoError(t, err)

	res, err := c.End(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, res.BuffersCleared)
	assert.True(t, res.RecordCleared)
	assert.True(t, res.MeetingCompleted)

	res, err = c.End(ctx, m.ID)
	require.NoError(t, err)
	assert.False(t, res.RecordCleared)

	assert.True(t, c.Status(ctx, m.ID).Empty())
	for _, k := range domain.StreamKinds {
		buf, err := c.State.Buffer(ctx, m.ID, k)
		require.NoError(t, err)
		assert.Empty(t, buf)
	}

	got, err := c.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, got.Status)
	require.NotNil(t, got.EndTime)
	assert.True(t, fixedNow.Equal(*got.EndTime))
}

func TestEndClearsBuffers(t *testing.T) {
	c, _ := newCoordinator(t)
	ctx := context.Background()
	m, err := c.Create(ctx, domain.MeetingSpec{VCID: "vc-1"})
	require.NoError(t, err)

	for _, k := range []domain.StreamKind{domain.StreamVideo, domain.StreamMic} {
		_, err := c.IngestChunk(ctx, m.ID, k, core.Chunk("data"))
		require.NoError(t, err)
	}

	res, err := c.End(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, res.BuffersCleared)
	assert.True(t, c.Status(ctx, m.ID).Empty())
}

func TestEndUnknownMeeting(t *testing.T) {
	c, _ := newCoordinator(t)
	res, err := c.End(context.Background(), "ghost")
	require.NoError(t, err)
	assert.False(t, res.MeetingCompleted)
}

func TestEndReportsStoreFaultButStillCompletes(t *testing.T) {
	c, mr := newCoordinator(t)
	ctx := context.Background()
	m, err := c.Create(ctx, domain.MeetingSpec{VCID: "vc-1"})
	require.NoError(t, err)
	mr.Close()

	res, err := c.End(ctx, m.ID)
	require.Error(t, err)
	assert.True(t, res.MeetingCompleted)
}

func TestChatAppendsUserThenAssistant(t *testing.T) {
	c, _ := newCoordinator(t)
	ctx := context.Background()
	m, err := c.Create(ctx, domain.MeetingSpec{VCID: "vc-1"})
	require.NoError(t, err)

	reply, err := c.Chat(ctx, m.ID, "ping")
	require.NoError(t, err)
	assert.Equal(t, "Chatbot reply: 'ping'", reply)

	got, err := c.Get(ctx, m.ID)
	require.NoError(t, err)
	require.Len(t, got.ChatHistory, 2)
	assert.Equal(t, domain.SpeakerUser, got.ChatHistory[0].Speaker)
	assert.Equal(t, "ping", got.ChatHistory[0].Text)
	assert.Equal(t, domain.SpeakerAssistant, got.ChatHistory[1].Speaker)
	assert.Equal(t, reply, got.ChatHistory[1].Text)
	assert.Empty(t, got.Transcript, "chat turns belong to the chat history only")
}

func TestChatDeletedMeetingStillReplies(t *testing.T) {
	c, _ := newCoordinator(t)
	reply, err := c.Chat(context.Background(), "gone", "ping")
	require.NoError(t, err)
	assert.NotEmpty(t, reply)
}

func TestPassThroughNotFoundIsDistinct(t *testing.T) {
	c, _ := newCoordinator(t)
	ctx := context.Background()

	_, err := c.Get(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, c.Delete(ctx, "missing"), domain.ErrNotFound)

	list, err := c.ListByVC(ctx, "vc-x")
	require.NoError(t, err)
	assert.Empty(t, list)
}
