package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/meetstream/internal/app"
	"github.com/dkeye/meetstream/internal/domain"
	"github.com/dkeye/meetstream/internal/metrics"
	"github.com/dkeye/meetstream/internal/processor"
	"github.com/dkeye/meetstream/internal/records"
	"github.com/dkeye/meetstream/internal/store"
)

const testKey = "ABCD"

type harness struct {
	srv   *httptest.Server
	coord *app.Coordinator
	mr    *miniredis.Miniredis
}

func newHarness(t *testing.T, limiter *FailureLimiter) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	coord := &app.Coordinator{
		State:     store.NewRedisStateStore(client, 0),
		Meetings:  records.NewMemoryRepository(),
		Processor: processor.Stub{},
		Registry:  app.NewRegistry(),
		Metrics:   metrics.NewNop(),
	}
	ctl := NewController(coord, Options{APIKey: testKey, WriteTimeout: time.Second, Limiter: limiter})

	r := gin.New()
	r.GET("/ws/video/:meeting_id", ctl.Stream(domain.StreamVideo))
	r.GET("/ws/mic/:meeting_id", ctl.Stream(domain.StreamMic))
	r.GET("/ws/chat/:meeting_id", ctl.Chat())

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &harness{srv: srv, coord: coord, mr: mr}
}

func (h *harness) meeting(t *testing.T) domain.MeetingID {
	t.Helper()
	m, err := h.coord.Create(context.Background(), domain.MeetingSpec{VCID: "vc-1"})
	require.NoError(t, err)
	return m.ID
}

func (h *harness) dial(t *testing.T, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.srv.URL, "http") + path
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out), string(data))
	return out
}

func authenticate(t *testing.T, conn *websocket.Conn, key string) {
	t.Helper()
	challenge := readJSON(t, conn)
	assert.Equal(t, "handshake_required", challenge["type"])
	require.NoError(t, conn.WriteJSON(map[string]string{"x_api_key": key}))
}

func expectPolicyClose(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation), "got %v", err)
}

func TestVideoStreamAcksAndCounters(t *testing.T) {
	h := newHarness(t, nil)
	id := h.meeting(t)

	conn := h.dial(t, "/ws/video/"+string(id))
	authenticate(t, conn, testKey)
	assert.Equal(t, "handshake_ok", readJSON(t, conn)["type"])

	want := [][2]float64{{1, 10}, {2, 30}, {3, 60}}
	for i, n := range []int{10, 20, 30} {
		require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, make([]byte, n)))
		ack := readJSON(t, conn)
		assert.Equal(t, "chunk_ack", ack["type"])
		assert.Equal(t, "video", ack["stream"])
		assert.Equal(t, want[i][0], ack["chunk_count"])
		assert.Equal(t, want[i][1], ack["received_bytes"])
	}

	rec := h.coord.Status(context.Background(), id)
	require.NotNil(t, rec.Video)
	assert.True(t, rec.Video.Connected)
	assert.Equal(t, int64(3), rec.Video.Chunks)
	assert.Equal(t, int64(60), rec.Video.Bytes)

	buf, err := h.coord.State.Buffer(context.Background(), id, domain.StreamVideo)
	require.NoError(t, err)
	require.Len(t, buf, 3)
	assert.Len(t, buf[0], 10)
	assert.Len(t, buf[2], 30)
}

func TestSlowProcessorDoesNotDelayAcks(t *testing.T) {
	h := newHarness(t, nil)
	h.coord.Processor = processor.Stub{Delay: 200 * time.Millisecond}
	id := h.meeting(t)

	conn := h.dial(t, "/ws/video/"+string(id))
	authenticate(t, conn, testKey)
	readJSON(t, conn)

	start := time.Now()
	for i := 0; i < 5; i++ {
		require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte{byte(i)}))
	}
	for i := 1; i <= 5; i++ {
		ack := readJSON(t, conn)
		assert.Equal(t, float64(i), ack["chunk_count"])
	}
	assert.Less(t, time.Since(start), 150*time.Millisecond)
}

func TestFullProcessorQueueStillAcks(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := newHarness(t, nil)
	h.coord.Processor = processor.Stub{Delay: time.Second}
	id := h.meeting(t)

	ctl := NewController(h.coord, Options{APIKey: testKey, WriteTimeout: time.Second, ProcessQueue: 1})
	r := gin.New()
	r.GET("/ws/mic/:meeting_id", ctl.Stream(domain.StreamMic))
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	conn, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/mic/"+string(id), nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	authenticate(t, conn, testKey)
	readJSON(t, conn)

	for i := 1; i <= 4; i++ {
		require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte("x")))
		assert.Equal(t, float64(i), readJSON(t, conn)["chunk_count"])
	}
	assert.GreaterOrEqual(t, testutil.ToFloat64(h.coord.Metrics.ProcessDropped.WithLabelValues("mic")), 1.0)
}

func TestStreamStoreFailureKeepsConnection(t *testing.T) {
	h := newHarness(t, nil)
	id := h.meeting(t)

	conn := h.dial(t, "/ws/mic/"+string(id))
	authenticate(t, conn, testKey)
	readJSON(t, conn)

	h.mr.SetError("ERR simulated outage")
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte("abc")))
	reply := readJSON(t, conn)
	assert.Equal(t, "error", reply["type"])
	assert.Equal(t, "chunk_not_recorded", reply["error"])

	h.mr.SetError("")
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte("abc")))
	ack := readJSON(t, conn)
	assert.Equal(t, "chunk_ack", ack["type"])
	assert.Equal(t, float64(1), ack["chunk_count"])
}

func TestWrongKeyClosesWithoutMutation(t *testing.T) {
	h := newHarness(t, nil)
	id := h.meeting(t)
	before := h.mr.Keys()

	conn := h.dial(t, "/ws/video/"+string(id))
	authenticate(t, conn, "WRONG")
	assert.Equal(t, "Invalid API key", readJSON(t, conn)["error"])
	expectPolicyClose(t, conn)

	assert.Equal(t, before, h.mr.Keys())
}

func TestChatWrongKeyLeavesTranscript(t *testing.T) {
	h := newHarness(t, nil)
	id := h.meeting(t)

	conn := h.dial(t, "/ws/chat/"+string(id))
	authenticate(t, conn, "WRONG")
	assert.Equal(t, "Invalid API key", readJSON(t, conn)["error"])
	expectPolicyClose(t, conn)

	m, err := h.coord.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Empty(t, m.ChatHistory)
}

func TestNonJSONHandshake(t *testing.T) {
	h := newHarness(t, nil)
	id := h.meeting(t)

	conn := h.dial(t, "/ws/video/"+string(id))
	readJSON(t, conn)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("ABCD")))
	assert.Equal(t, "Expected JSON with API key", readJSON(t, conn)["error"])
	expectPolicyClose(t, conn)

	assert.Nil(t, h.coord.Status(context.Background(), id).Video)
}

func TestUnknownMeetingRejected(t *testing.T) {
	h := newHarness(t, nil)

	conn := h.dial(t, "/ws/video/does-not-exist")
	authenticate(t, conn, testKey)
	readJSON(t, conn)
	assert.Equal(t, "meeting_not_found", readJSON(t, conn)["error"])
	expectPolicyClose(t, conn)
	assert.Empty(t, h.mr.Keys())
}

func TestChatRecordsBothTurns(t *testing.T) {
	h := newHarness(t, nil)
	id := h.meeting(t)

	conn := h.dial(t, "/ws/chat/"+string(id))
	authenticate(t, conn, testKey)
	readJSON(t, conn)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("ping")))
	mt, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, mt)
	assert.Equal(t, "Chatbot reply: 'ping'", string(data))

	m, err := h.coord.Get(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, m.ChatHistory, 2)
	assert.Equal(t, domain.SpeakerUser, m.ChatHistory[0].Speaker)
	assert.Equal(t, domain.SpeakerAssistant, m.ChatHistory[1].Speaker)
}

func TestConnectionsAreRegistered(t *testing.T) {
	h := newHarness(t, nil)
	id := h.meeting(t)

	conn := h.dial(t, "/ws/video/"+string(id))
	authenticate(t, conn, testKey)
	readJSON(t, conn)

	require.Eventually(t, func() bool { return len(h.coord.Connections(id)) == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, app.StreamEndpoint(domain.StreamVideo), h.coord.Connections(id)[0].Endpoint)

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	require.Eventually(t, func() bool { return len(h.coord.Connections(id)) == 0 }, time.Second, 10*time.Millisecond)
}

func TestRepeatedFailuresAreThrottled(t *testing.T) {
	h := newHarness(t, NewFailureLimiter(1, time.Minute))
	id := h.meeting(t)

	for i := 0; i < 2; i++ {
		conn := h.dial(t, "/ws/video/"+string(id))
		authenticate(t, conn, "WRONG")
		readJSON(t, conn)
		expectPolicyClose(t, conn)
	}

	url := "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/ws/video/" + string(id)
	require.Eventually(t, func() bool {
		c, resp, err := websocket.DefaultDialer.Dial(url, nil)
		if err == nil {
			_ = c.Close()
			return false
		}
		if resp == nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusTooManyRequests
	}, 2*time.Second, 20*time.Millisecond)
}
