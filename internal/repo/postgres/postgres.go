package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/hamed0406/fcpenroll/internal/domain"
	"github.com/hamed0406/fcpenroll/internal/repo"
)

var _ repo.ErrorStore = (*Store)(nil)
var _ repo.ConfirmationStore = (*Store)(nil)

// Schema creates the tables the store needs. Safe to run repeatedly.
const Schema = `
CREATE TABLE IF NOT EXISTS error_records (
  id           TEXT PRIMARY KEY,
  workspace_id TEXT NOT NULL,
  message      TEXT NOT NULL,
  context      JSONB NOT NULL DEFAULT '{}'::jsonb,
  recorded_at  TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_error_records_ws_time ON error_records (workspace_id, recorded_at DESC);

CREATE TABLE IF NOT EXISTS enrollment_confirmations (
  workspace_id TEXT PRIMARY KEY,
  enrolled     BOOLEAN NOT NULL,
  confirmed_at TIMESTAMPTZ NOT NULL
);
`

type Store struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

func New(ctx context.Context, dsn string, log *zap.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	ctxPing, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctxPing); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &Store{pool: pool, log: log}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	s.log.Info("postgres_schema_ready")
	return nil
}

// ---- ErrorStore ----

func (s *Store) Append(ctx context.Context, r *domain.ErrorRecord) error {
	if r.RecordedAt.IsZero() {
		r.RecordedAt = time.Now().UTC()
	}
	fields := r.Context
	if fields == nil {
		fields = map[string]string{}
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encode context: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO error_records (id, workspace_id, message, context, recorded_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		r.ID, string(r.WorkspaceID), r.Message, raw, r.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("insert error record: %w", err)
	}
	return nil
}

func (s *Store) ListByWorkspace(ctx context.Context, ws domain.WorkspaceID, limit int) ([]domain.ErrorRecord, error) {
	q := `SELECT id, workspace_id, message, context, recorded_at
	        FROM error_records
	       WHERE workspace_id = $1
	       ORDER BY recorded_at DESC, id DESC`
	args := []any{string(ws)}
	if limit > 0 {
		q += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list error records: %w", err)
	}
	defer rows.Close()

	return s.scanRecords(rows)
}

func (s *Store) ListSince(ctx context.Context, since time.Time) ([]domain.ErrorRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, workspace_id, message, context, recorded_at
		   FROM error_records
		  WHERE recorded_at > $1
		  ORDER BY recorded_at ASC, id ASC`, since)
	if err != nil {
		return nil, fmt.Errorf("list error records since: %w", err)
	}
	defer rows.Close()
	return s.scanRecords(rows)
}

func (s *Store) scanRecords(rows pgx.Rows) ([]domain.ErrorRecord, error) {
	var out []domain.ErrorRecord
	for rows.Next() {
		var (
			rec domain.ErrorRecord
			ws  string
			raw []byte
		)
		if err := rows.Scan(&rec.ID, &ws, &rec.Message, &raw, &rec.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan error record: %w", err)
		}
		rec.WorkspaceID = domain.WorkspaceID(ws)
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &rec.Context); err != nil {
				s.log.Warn("error_record_bad_context", zap.String("id", rec.ID), zap.Error(err))
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ---- ConfirmationStore ----

func (s *Store) Get(ctx context.Context, ws domain.WorkspaceID) (*domain.Confirmation, error) {
	const q = `SELECT enrolled, confirmed_at FROM enrollment_confirmations WHERE workspace_id=$1`
	c := domain.Confirmation{WorkspaceID: ws}
	err := s.pool.QueryRow(ctx, q, string(ws)).Scan(&c.Enrolled, &c.ConfirmedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get confirmation: %w", err)
	}
	return &c, nil
}

func (s *Store) Set(ctx context.Context, ws domain.WorkspaceID, enrolled bool, at time.Time) error {
	const q = `
		INSERT INTO enrollment_confirmations (workspace_id, enrolled, confirmed_at)
		VALUES ($1,$2,$3)
		ON CONFLICT (workspace_id)
		DO UPDATE SET enrolled=EXCLUDED.enrolled, confirmed_at=EXCLUDED.confirmed_at
	`
	if at.IsZero() {
		at = time.Now().UTC()
	}
	if _, err := s.pool.Exec(ctx, q, string(ws), enrolled, at); err != nil {
		return fmt.Errorf("set confirmation: %w", err)
	}
	return nil
}
