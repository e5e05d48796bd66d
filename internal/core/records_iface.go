package core

import (
	"context"

	"github.com/dkeye/meetstream/internal/domain"
)

// MeetingRepository is the durable meeting record store. Missing records are
// reported as domain.ErrNotFound; every other error is a store fault.
type MeetingRepository interface {
	Create(ctx context.Context, m *domain.Meeting) error
	Get(ctx context.Context, id domain.MeetingID) (*domain.Meeting, error)
	List(ctx context.Context) ([]*domain.Meeting, error)
	ListByVC(ctx context.Context, vc domain.VCID) ([]*domain.Meeting, error)
	Update(ctx context.Context, m *domain.Meeting) error
	Delete(ctx context.Context, id domain.MeetingID) error
}
