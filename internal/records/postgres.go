package records

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/meetstream/internal/core"
	"github.com/dkeye/meetstream/internal/domain"
)

// PostgresConfig holds connection pool settings for the records database.
type PostgresConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

func DefaultPostgresConfig() PostgresConfig {
	return PostgresConfig{
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// OpenPostgres opens and pings the records database.
func OpenPostgres(ctx context.Context, cfg PostgresConfig) (*sql.DB, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("database URL is required")
	}
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	log.Info().Str("module", "records.postgres").
		Int("max_open_conns", cfg.MaxOpenConns).
		Int("max_idle_conns", cfg.MaxIdleConns).
		Dur("conn_max_lifetime", cfg.ConnMaxLifetime).
		Msg("database connected")
	return db, nil
}

// Schema creates the meetings table. Safe to run repeatedly.
const Schema = `
CREATE TABLE IF NOT EXISTS meetings (
	id           TEXT PRIMARY KEY,
	vc_id        TEXT NOT NULL,
	startup_id   TEXT NOT NULL DEFAULT '',
	title        TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL,
	start_time   TIMESTAMPTZ NOT NULL,
	end_time     TIMESTAMPTZ,
	transcript   JSONB NOT NULL DEFAULT '[]',
	chat_history JSONB NOT NULL DEFAULT '[]',
	summary      TEXT NOT NULL DEFAULT '',
	vc_notes     TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS meetings_vc_id_idx ON meetings (vc_id);
`

const uniqueViolation = "23505"

type PostgresRepository struct {
	db *sql.DB
}

var _ core.MeetingRepository = (*PostgresRepository)(nil)

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Migrate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("migrate meetings: %w", err)
	}
	return nil
}

const selectColumns = `id, vc_id, startup_id, title, status, start_time, end_time,
	transcript, chat_history, summary, vc_notes, created_at, updated_at`

func (r *PostgresRepository) Create(ctx context.Context, m *domain.Meeting) error {
	if err := m.Validate(); err != nil {
		return err
	}
	transcript, chat, err := encodeTurns(m)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `INSERT INTO meetings (`+selectColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		m.ID, m.VCID, m.StartupID, m.Title, m.Status, m.StartTime, nullTime(m.EndTime),
		transcript, chat, m.Summary, m.VCNotes, m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return fmt.Errorf("create meeting %s: %w", m.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("create meeting %s: %w", m.ID, err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, id domain.MeetingID) (*domain.Meeting, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM meetings WHERE id = $1`, id)
	m, err := scanMeeting(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get meeting %s: %w", id, err)
	}
	return m, nil
}

func (r *PostgresRepository) List(ctx context.Context) ([]*domain.Meeting, error) {
	return r.query(ctx, `SELECT `+selectColumns+` FROM meetings ORDER BY start_time`)
}

func (r *PostgresRepository) ListByVC(ctx context.Context, vc domain.VCID) ([]*domain.Meeting, error) {
	return r.query(ctx, `SELECT `+selectColumns+` FROM meetings WHERE vc_id = $1 ORDER BY start_time`, vc)
}

func (r *PostgresRepository) query(ctx context.Context, q string, args ...any) ([]*domain.Meeting, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list meetings: %w", err)
	}
	defer rows.Close()

	out := make([]*domain.Meeting, 0)
	for rows.Next() {
		m, err := scanMeeting(rows)
		if err != nil {
			return nil, fmt.Errorf("scan meeting: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list meetings: %w", err)
	}
	return out, nil
}

func (r *PostgresRepository) Update(ctx context.Context, m *domain.Meeting) error {
	if err := m.Validate(); err != nil {
		return err
	}
	transcript, chat, err := encodeTurns(m)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `UPDATE meetings SET
		vc_id = $2, startup_id = $3, title = $4, status = $5, start_time = $6, end_time = $7,
		transcript = $8, chat_history = $9, summary = $10, vc_notes = $11, updated_at = $12
		WHERE id = $1`,
		m.ID, m.VCID, m.StartupID, m.Title, m.Status, m.StartTime, nullTime(m.EndTime),
		transcript, chat, m.Summary, m.VCNotes, m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update meeting %s: %w", m.ID, err)
	}
	return expectOneRow(res, m.ID)
}

func (r *PostgresRepository) Delete(ctx context.Context, id domain.MeetingID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM meetings WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete meeting %s: %w", id, err)
	}
	return expectOneRow(res, id)
}

func expectOneRow(res sql.Result, id domain.MeetingID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for %s: %w", id, err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMeeting(s scanner) (*domain.Meeting, error) {
	var (
		m                domain.Meeting
		endTime          sql.NullTime
		transcript, chat []byte
	)
	if err := s.Scan(&m.ID, &m.VCID, &m.StartupID, &m.Title, &m.Status, &m.StartTime, &endTime,
		&transcript, &chat, &m.Summary, &m.VCNotes, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, err
	}
	if endTime.Valid {
		t := endTime.Time
		m.EndTime = &t
	}
	if err := decodeTurns(transcript, &m.Transcript); err != nil {
		return nil, fmt.Errorf("transcript: %w", err)
	}
	if err := decodeTurns(chat, &m.ChatHistory); err != nil {
		return nil, fmt.Errorf("chat_history: %w", err)
	}
	return &m, nil
}

func encodeTurns(m *domain.Meeting) (transcript, chat []byte, err error) {
	if transcript, err = json.Marshal(nonNil(m.Transcript)); err != nil {
		return nil, nil, fmt.Errorf("encode transcript: %w", err)
	}
	if chat, err = json.Marshal(nonNil(m.ChatHistory)); err != nil {
		return nil, nil, fmt.Errorf("encode chat_history: %w", err)
	}
	return transcript, chat, nil
}

func decodeTurns(raw []byte, dst *[]domain.TranscriptTurn) error {
	*dst = []domain.TranscriptTurn{}
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dst)
}

func nonNil(turns []domain.TranscriptTurn) []domain.TranscriptTurn {
	if turns == nil {
		return []domain.TranscriptTurn{}
	}
	return turns
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
