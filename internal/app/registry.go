package app

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/meetstream/internal/domain"
)

type ConnID string

// Endpoint names the kind of connection: one of the stream kinds or "chat".
type Endpoint string

const EndpointChat Endpoint = "chat"

func StreamEndpoint(k domain.StreamKind) Endpoint { return Endpoint(k) }

// ConnInfo is a read-only view of a live connection (no transport fields).
type ConnInfo struct {
	ID          ConnID           `json:"id"`
	MeetingID   domain.MeetingID `json:"meeting_id"`
	Endpoint    Endpoint         `json:"endpoint"`
	Remote      string           `json:"remote"`
	ConnectedAt time.Time        `json:"connected_at"`
}

type connEntry struct {
	info  ConnInfo
	close func()
}

// Registry tracks live connections so they can be listed per meeting and
// closed on shutdown. It never touches session state.
type Registry struct {
	mu    sync.RWMutex
	conns map[ConnID]*connEntry
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[ConnID]*connEntry)}
}

// Bind records a live connection; closeFn must close its transport.
func (r *Registry) Bind(id domain.MeetingID, ep Endpoint, remote string, closeFn func()) ConnID {
	cid := ConnID(uuid.NewString())
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[cid] = &connEntry{
		info: ConnInfo{
			ID:          cid,
			MeetingID:   id,
			Endpoint:    ep,
			Remote:      remote,
			ConnectedAt: time.Now().UTC(),
		},
		close: closeFn,
	}
	log.Debug().Str("module", "app.registry").Str("conn_id", string(cid)).Str("meeting_id", string(id)).Str("endpoint", string(ep)).Msg("bound connection")
	return cid
}

func (r *Registry) Unbind(cid ConnID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, cid)
	log.Debug().Str("module", "app.registry").Str("conn_id", string(cid)).Msg("unbound connection")
}

func (r *Registry) OfMeeting(id domain.MeetingID) []ConnInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ConnInfo, 0)
	for _, e := range r.conns {
		if e.info.MeetingID == id {
			out = append(out, e.info)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConnectedAt.Before(out[j].ConnectedAt) })
	return out
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// CloseAll closes every live transport. Session loops observe the closure
// and unbind themselves.
func (r *Registry) CloseAll() int {
	r.mu.RLock()
	closers := make([]func(), 0, len(r.conns))
	for _, e := range r.conns {
		if e.close != nil {
			closers = append(closers, e.close)
		}
	}
	r.mu.RUnlock()

	for _, c := range closers {
		c()
	}
	log.Info().Str("module", "app.registry").Int("count", len(closers)).Msg("closed all connections")
	return len(closers)
}
