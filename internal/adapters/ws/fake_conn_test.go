package ws

import (
	"io"
	"sync"
	"time"
)

type written struct {
	mt   int
	data []byte
}

// fakeConn is an in-memory core.Conn: reads pop from inbox, writes are recorded.
type fakeConn struct {
	mu       sync.Mutex
	inbox    [][]byte
	writes   []written
	controls []written
	closed   bool
}

func newFakeConn(msgs ...string) *fakeConn {
	fc := &fakeConn{}
	for _, m := range msgs {
		fc.inbox = append(fc.inbox, []byte(m))
	}
	return fc
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed || len(f.inbox) == 0 {
		return 0, nil, io.EOF
	}
	msg := f.inbox[0]
	f.inbox = f.inbox[1:]
	return 1, msg, nil
}

func (f *fakeConn) WriteMessage(mt int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return io.ErrClosedPipe
	}
	f.writes = append(f.writes, written{mt, append([]byte(nil), data...)})
	return nil
}

func (f *fakeConn) WriteControl(mt int, data []byte, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.controls = append(f.controls, written{mt, append([]byte(nil), data...)})
	return nil
}

func (f *fakeConn) SetWriteDeadline(time.Time) error { return nil }
func (f *fakeConn) SetReadLimit(int64)               {}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.writes))
	for _, w := range f.writes {
		out = append(out, string(w.data))
	}
	return out
}
