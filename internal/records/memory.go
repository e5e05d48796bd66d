// Package records implements the durable meeting record store.
package records

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/meetstream/internal/core"
	"github.com/dkeye/meetstream/internal/domain"
)

// MemoryRepository is a threadsafe in-process meeting store.
// Records are deep-copied on the way in and out so callers never share state.
type MemoryRepository struct {
	mu       sync.RWMutex
	meetings map[domain.MeetingID]*domain.Meeting
}

var _ core.MeetingRepository = (*MemoryRepository)(nil)

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{meetings: make(map[domain.MeetingID]*domain.Meeting)}
}

func clone(m *domain.Meeting) *domain.Meeting {
	b, err := json.Marshal(m)
	if err != nil {
		log.Error().Err(err).Str("module", "records.memory").Msg("clone marshal")
		cp := *m
		return &cp
	}
	var out domain.Meeting
	if err := json.Unmarshal(b, &out); err != nil {
		log.Error().Err(err).Str("module", "records.memory").Msg("clone unmarshal")
		cp := *m
		return &cp
	}
	return &out
}

func (r *MemoryRepository) Create(_ context.Context, m *domain.Meeting) error {
	if err := m.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.meetings[m.ID] = clone(m)
	log.Debug().Str("module", "records.memory").Str("meeting_id", string(m.ID)).Msg("meeting created")
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, id domain.MeetingID) (*domain.Meeting, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.meetings[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return clone(m), nil
}

func (r *MemoryRepository) List(_ context.Context) ([]*domain.Meeting, error) {
	return r.filter(func(*domain.Meeting) bool { return true }), nil
}

func (r *MemoryRepository) ListByVC(_ context.Context, vc domain.VCID) ([]*domain.Meeting, error) {
	return r.filter(func(m *domain.Meeting) bool { return m.VCID == vc }), nil
}

func (r *MemoryRepository) filter(keep func(*domain.Meeting) bool) []*domain.Meeting {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domain.Meeting, 0, len(r.meetings))
	for _, m := range r.meetings {
		if keep(m) {
			out = append(out, clone(m))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out
}

func (r *MemoryRepository) Update(_ context.Context, m *domain.Meeting) error {
	if err := m.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.meetings[m.ID]; !ok {
		return domain.ErrNotFound
	}
	r.meetings[m.ID] = clone(m)
	return nil
}

func (r *MemoryRepository) Delete(_ context.Context, id domain.MeetingID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.meetings[id]; !ok {
		return domain.ErrNotFound
	}
	delete(r.meetings, id)
	log.Debug().Str("module", "records.memory").Str("meeting_id", string(id)).Msg("meeting deleted")
	return nil
}
