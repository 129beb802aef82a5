package db

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/brojonat/txinspector/service/metrics"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schema string

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// Store provides database operations for the service.
type Store struct {
	pool    *pgxpool.Pool
	metrics *metrics.Metrics
}

// NewStore creates a new Store with the given database connection pool.
// If metrics is nil, no metrics will be recorded.
func NewStore(pool *pgxpool.Pool, m *metrics.Metrics) *Store {
	return &Store{
		pool:    pool,
		metrics: m,
	}
}

// Migrate creates the tables if they do not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

func (s *Store) observe(operation, table string, start time.Time, err error) {
	s.metrics.RecordDBQuery(operation, table, time.Since(start).Seconds(), err)
}

// Submission is one recorded run of the submission workflow.
type Submission struct {
	ID                 int64     `json:"id"`
	Signature          *string   `json:"signature,omitempty"`
	State              string    `json:"state"`
	Kind               *string   `json:"kind,omitempty"`
	ErrorKind          *string   `json:"error_kind,omitempty"`
	Message            *string   `json:"message,omitempty"`
	Endpoint           string    `json:"endpoint"`
	Network            string    `json:"network"`
	Attempts           int       `json:"attempts"`
	Slot               *int64    `json:"slot,omitempty"`
	ConfirmationStatus *string   `json:"confirmation_status,omitempty"`
	UnitsConsumed      *int64    `json:"units_consumed,omitempty"`
	ExplorerURL        *string   `json:"explorer_url,omitempty"`
	Duplicate          bool      `json:"duplicate"`
	StartedAt          time.Time `json:"started_at"`
	FinishedAt         time.Time `json:"finished_at"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// CreateSubmissionParams contains the parameters for recording a submission.
type CreateSubmissionParams struct {
	Signature          *string
	State              string
	Kind               *string
	ErrorKind          *string
	Message            *string
	Endpoint           string
	Network            string
	Attempts           int
	Slot               *int64
	ConfirmationStatus *string
	UnitsConsumed      *int64
	ExplorerURL        *string
	Duplicate          bool
	StartedAt          time.Time
	FinishedAt         time.Time
}

// ListSubmissionsParams contains filter and pagination parameters.
type ListSubmissionsParams struct {
	State  string // empty matches every state
	Limit  int32
	Offset int32
}

// UpdateOutcomeParams records the final word on a signature once it is known.
type UpdateOutcomeParams struct {
	Signature          string
	State              string
	ConfirmationStatus *string
	Slot               *int64
	ErrorKind          *string
	Message            *string
}

const submissionColumns = `id, signature, state, kind, error_kind, message, endpoint, network, attempts,
	slot, confirmation_status, units_consumed, explorer_url, duplicate,
	started_at, finished_at, created_at, updated_at`

func scanSubmission(row pgx.Row) (*Submission, error) {
	var sub Submission
	err := row.Scan(
		&sub.ID, &sub.Signature, &sub.State, &sub.Kind, &sub.ErrorKind, &sub.Message,
		&sub.Endpoint, &sub.Network, &sub.Attempts,
		&sub.Slot, &sub.ConfirmationStatus, &sub.UnitsConsumed, &sub.ExplorerURL, &sub.Duplicate,
		&sub.StartedAt, &sub.FinishedAt, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// CreateSubmission inserts a finished submission.
func (s *Store) CreateSubmission(ctx context.Context, params CreateSubmissionParams) (sub *Submission, err error) {
	start := time.Now()
	defer func() { s.observe("insert", "submissions", start, err) }()

	row := s.pool.QueryRow(ctx, `
		INSERT INTO submissions (
			signature, state, kind, error_kind, message, endpoint, network, attempts,
			slot, confirmation_status, units_consumed, explorer_url, duplicate,
			started_at, finished_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING `+submissionColumns,
		params.Signature, params.State, params.Kind, params.ErrorKind, params.Message,
		params.Endpoint, params.Network, params.Attempts,
		params.Slot, params.ConfirmationStatus, params.UnitsConsumed, params.ExplorerURL, params.Duplicate,
		params.StartedAt, params.FinishedAt,
	)
	return scanSubmission(row)
}

// GetSubmission returns one submission by id.
func (s *Store) GetSubmission(ctx context.Context, id int64) (sub *Submission, err error) {
	start := time.Now()
	defer func() { s.observe("select", "submissions", start, err) }()

	row := s.pool.QueryRow(ctx, `SELECT `+submissionColumns+` FROM submissions WHERE id = $1`, id)
	return scanSubmission(row)
}

// GetSubmissionBySignature returns the most recent submission for a signature.
func (s *Store) GetSubmissionBySignature(ctx context.Context, signature string) (sub *Submission, err error) {
	start := time.Now()
	defer func() { s.observe("select", "submissions", start, err) }()

	row := s.pool.QueryRow(ctx, `
		SELECT `+submissionColumns+` FROM submissions
		WHERE signature = $1
		ORDER BY created_at DESC
		LIMIT 1`, signature)
	return scanSubmission(row)
}

// ListSubmissions returns submissions newest first.
func (s *Store) ListSubmissions(ctx context.Context, params ListSubmissionsParams) (subs []*Submission, err error) {
	start := time.Now()
	defer func() { s.observe("select", "submissions", start, err) }()

	if params.Limit <= 0 {
		params.Limit = 50
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+submissionColumns+` FROM submissions
		WHERE ($1 = '' OR state = $1)
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`,
		params.State, params.Limit, params.Offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	subs = make([]*Submission, 0)
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// SignatureExists reports whether any earlier submission produced signature.
func (s *Store) SignatureExists(ctx context.Context, signature string) (exists bool, err error) {
	start := time.Now()
	defer func() { s.observe("select", "submissions", start, err) }()

	err = s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM submissions WHERE signature = $1)`, signature,
	).Scan(&exists)
	return exists, err
}

// UpdateOutcome overwrites the state of every submission that produced the
// signature. Returns ErrNotFound if none did.
func (s *Store) UpdateOutcome(ctx context.Context, params UpdateOutcomeParams) (err error) {
	start := time.Now()
	defer func() { s.observe("update", "submissions", start, err) }()

	tag, err := s.pool.Exec(ctx, `
		UPDATE submissions SET
			state = $2,
			confirmation_status = COALESCE($3, confirmation_status),
			slot = COALESCE($4, slot),
			error_kind = $5,
			message = $6,
			updated_at = NOW()
		WHERE signature = $1`,
		params.Signature, params.State, params.ConfirmationStatus, params.Slot, params.ErrorKind, params.Message,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetSetting implements settings.Store.
func (s *Store) GetSetting(ctx context.Context, key string) (value string, ok bool, err error) {
	start := time.Now()
	defer func() { s.observe("select", "settings", start, err) }()

	err = s.pool.QueryRow(ctx, `SELECT value FROM settings WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// SetSetting implements settings.Store.
func (s *Store) SetSetting(ctx context.Context, key, value string) (err error) {
	start := time.Now()
	defer func() { s.observe("upsert", "settings", start, err) }()

	_, err = s.pool.Exec(ctx, `
		INSERT INTO settings (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`,
		key, value,
	)
	return err
}
