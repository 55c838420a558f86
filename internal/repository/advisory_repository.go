package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-acq-requests/internal/domain"
	"github.com/pesio-ai/be-acq-requests/internal/pkg/database"
	"github.com/pesio-ai/be-acq-requests/internal/pkg/errors"
)

// AdvisoryRepository handles advisory input rows.
type AdvisoryRepository struct {
	db *database.DB
}

// NewAdvisoryRepository creates a new AdvisoryRepository.
func NewAdvisoryRepository(db *database.DB) *AdvisoryRepository {
	return &AdvisoryRepository{db: db}
}

const advisoryColumns = `
	id, request_id, team, trigger_id, status, blocks_gate, findings,
	recommendation, impacts_strategy, reviewer_id, requested_at, due_at,
	completed_at, updated_at`

// Create inserts an advisory input. A team already attached to the request
// is left untouched and reported through the returned flag.
func (r *AdvisoryRepository) Create(ctx context.Context, a *domain.AdvisoryInput) (bool, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}

	query := `
		INSERT INTO advisory_inputs
		    (id, request_id, team, trigger_id, status, blocks_gate,
		     impacts_strategy, requested_at, due_at)
		VALUES ($1, $2, $3, $4, $5, $6,
		        $7, $8, $9)
		ON CONFLICT (request_id, team) DO NOTHING
		RETURNING updated_at
	`

	err := r.db.QueryRow(ctx, query,
		a.ID,
		a.RequestID,
		a.Team,
		a.TriggerID,
		a.Status,
		a.BlocksGate,
		a.ImpactsStrategy,
		a.RequestedAt,
		a.DueAt,
	).Scan(&a.UpdatedAt)
	if err == pgx.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, errors.ErrCodeInternal, "failed to create advisory input")
	}
	return true, nil
}

// ListByRequest returns a request's advisory inputs oldest first.
func (r *AdvisoryRepository) ListByRequest(ctx context.Context, requestID string) ([]*domain.AdvisoryInput, error) {
	query := `SELECT` + advisoryColumns + `
		FROM advisory_inputs
		WHERE request_id = $1
		ORDER BY requested_at ASC, team ASC
	`

	rows, err := r.db.Query(ctx, query, requestID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list advisory inputs")
	}
	defer rows.Close()

	var out []*domain.AdvisoryInput
	for rows.Next() {
		a, err := scanAdvisory(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan advisory input")
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// GetForUpdate retrieves and locks one advisory input.
func (r *AdvisoryRepository) GetForUpdate(ctx context.Context, id string) (*domain.AdvisoryInput, error) {
	query := `SELECT` + advisoryColumns + `
		FROM advisory_inputs
		WHERE id = $1
		FOR UPDATE
	`

	a, err := scanAdvisory(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("advisory_input", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get advisory input")
	}
	return a, nil
}

// Update writes the review outcome columns.
func (r *AdvisoryRepository) Update(ctx context.Context, a *domain.AdvisoryInput) error {
	query := `
		UPDATE advisory_inputs
		SET status           = $2,
		    findings         = $3,
		    recommendation   = $4,
		    impacts_strategy = $5,
		    reviewer_id      = $6,
		    due_at           = $7,
		    completed_at     = $8,
		    updated_at       = NOW()
		WHERE id = $1
		RETURNING updated_at
	`

	err := r.db.QueryRow(ctx, query,
		a.ID,
		a.Status,
		a.Findings,
		a.Recommendation,
		a.ImpactsStrategy,
		a.ReviewerID,
		a.DueAt,
		a.CompletedAt,
	).Scan(&a.UpdatedAt)
	if err == pgx.ErrNoRows {
		return errors.NotFound("advisory_input", a.ID)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to update advisory input")
	}
	return nil
}

func scanAdvisory(row rowScanner) (*domain.AdvisoryInput, error) {
	a := &domain.AdvisoryInput{}
	err := row.Scan(
		&a.ID,
		&a.RequestID,
		&a.Team,
		&a.TriggerID,
		&a.Status,
		&a.BlocksGate,
		&a.Findings,
		&a.Recommendation,
		&a.ImpactsStrategy,
		&a.ReviewerID,
		&a.RequestedAt,
		&a.DueAt,
		&a.CompletedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return a, nil
}
