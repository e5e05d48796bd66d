// Package domain contains meeting entities and the per-meeting session record.
package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

const (
	MaxMeetingIDLen = 64
	MaxTitleLen     = 256
)

var (
	ErrNotFound       = errors.New("not found")
	ErrAlreadyExists  = errors.New("already exists")
	ErrVCIDEmpty      = errors.New("vc_id empty")
	ErrMeetingIDEmpty = errors.New("meeting id empty")
	ErrTitleTooLong   = errors.New("title too long")
	ErrInvalidStatus  = errors.New("invalid meeting status")
)

type (
	MeetingID string
	VCID      string
)

type MeetingStatus string

const (
	StatusScheduled MeetingStatus = "scheduled"
	StatusActive    MeetingStatus = "active"
	StatusCompleted MeetingStatus = "completed"
	StatusCanceled  MeetingStatus = "canceled"
)

func (s MeetingStatus) Valid() bool {
	switch s {
	case StatusScheduled, StatusActive, StatusCompleted, StatusCanceled:
		return true
	}
	return false
}

type Speaker string

const (
	SpeakerUser      Speaker = "user"
	SpeakerAssistant Speaker = "assistant"
)

// TranscriptTurn is one line of a meeting transcript or chat history.
type TranscriptTurn struct {
	Timestamp time.Time `json:"timestamp"`
	Speaker   Speaker   `json:"speaker"`
	Text      string    `json:"text"`
}

// Meeting is the durable meeting record. Only ChatHistory, Status and EndTime
// are written by the ingestion core; the rest belongs to record CRUD callers.
type Meeting struct {
	ID          MeetingID        `json:"id"`
	VCID        VCID             `json:"vc_id"`
	StartupID   string           `json:"startup_id,omitempty"`
	Title       string           `json:"title,omitempty"`
	Status      MeetingStatus    `json:"status"`
	StartTime   time.Time        `json:"start_time"`
	EndTime     *time.Time       `json:"end_time"`
	Transcript  []TranscriptTurn `json:"transcript"`
	ChatHistory []TranscriptTurn `json:"chat_history"`
	Summary     string           `json:"summary,omitempty"`
	VCNotes     string           `json:"vc_notes,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// MeetingSpec is the inbound payload for creating a meeting.
type MeetingSpec struct {
	VCID      VCID       `json:"vc_id"`
	StartupID string     `json:"startup_id,omitempty"`
	Title     string     `json:"title,omitempty"`
	StartTime *time.Time `json:"start_time,omitempty"`
	VCNotes   string     `json:"vc_notes,omitempty"`
}

func (s MeetingSpec) Validate() error {
	if s.VCID == "" {
		return ErrVCIDEmpty
	}
	if len(s.Title) > MaxTitleLen {
		return ErrTitleTooLong
	}
	return nil
}

// NewMeeting builds an active meeting with a fresh id from a validated spec.
func NewMeeting(spec MeetingSpec, now time.Time) (*Meeting, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	start := now
	if spec.StartTime != nil {
		start = *spec.StartTime
	}
	return &Meeting{
		ID:          MeetingID(uuid.NewString()),
		VCID:        spec.VCID,
		StartupID:   spec.StartupID,
		Title:       spec.Title,
		Status:      StatusActive,
		StartTime:   start,
		Transcript:  []TranscriptTurn{},
		ChatHistory: []TranscriptTurn{},
		VCNotes:     spec.VCNotes,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// Validate checks a full record before it is written back.
func (m *Meeting) Validate() error {
	if m.ID == "" {
		return ErrMeetingIDEmpty
	}
	if m.VCID == "" {
		return ErrVCIDEmpty
	}
	if len(m.Title) > MaxTitleLen {
		return ErrTitleTooLong
	}
	if !m.Status.Valid() {
		return ErrInvalidStatus
	}
	return nil
}

func (m *Meeting) AppendChat(speaker Speaker, text string, at time.Time) {
	m.ChatHistory = append(m.ChatHistory, TranscriptTurn{Timestamp: at, Speaker: speaker, Text: text})
}

// Complete marks the meeting as ended at the given time.
func (m *Meeting) Complete(at time.Time) {
	m.Status = StatusCompleted
	m.EndTime = &at
}

// ValidMeetingID rejects ids that cannot be used as a store key segment.
func ValidMeetingID(id MeetingID) bool {
	return id != "" && len(id) <= MaxMeetingIDLen
}
