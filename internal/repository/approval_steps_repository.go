package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-acq-requests/internal/domain"
	"github.com/pesio-ai/be-acq-requests/internal/pkg/database"
	"github.com/pesio-ai/be-acq-requests/internal/pkg/errors"
)

// ApprovalStepsRepository persists the approval steps instantiated for each
// request.
type ApprovalStepsRepository struct {
	db *database.DB
}

// NewApprovalStepsRepository creates a new ApprovalStepsRepository.
func NewApprovalStepsRepository(db *database.DB) *ApprovalStepsRepository {
	return &ApprovalStepsRepository{db: db}
}

const stepColumns = `
	id, request_id, template_key, step_number, step_name, gate,
	approver_role, sla_days, escalation_to, is_enabled, status,
	activated_at, due_at, acted_at, acted_by, acted_by_id, comments,
	created_at, updated_at`

// CreateBatch inserts freshly instantiated steps, assigning their IDs.
func (r *ApprovalStepsRepository) CreateBatch(ctx context.Context, steps []*domain.ApprovalStep) error {
	query := `
		INSERT INTO approval_steps
		    (id, request_id, template_key, step_number, step_name, gate,
		     approver_role, sla_days, escalation_to, is_enabled, status,
		     activated_at, due_at)
		VALUES ($1, $2, $3, $4, $5, $6,
		        $7, $8, $9, $10, $11,
		        $12, $13)
		RETURNING created_at, updated_at
	`

	for _, s := range steps {
		if s.ID == "" {
			s.ID = uuid.NewString()
		}
		err := r.db.QueryRow(ctx, query,
			s.ID,
			s.RequestID,
			s.TemplateKey,
			s.StepNumber,
			s.StepName,
			s.Gate,
			s.ApproverRole,
			s.SLADays,
			s.EscalationTo,
			s.Enabled,
			s.Status,
			s.ActivatedAt,
			s.DueAt,
		).Scan(&s.CreatedAt, &s.UpdatedAt)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to create approval step")
		}
	}
	return nil
}

// ListByRequest returns a request's steps ordered by step_number.
func (r *ApprovalStepsRepository) ListByRequest(ctx context.Context, requestID string) ([]*domain.ApprovalStep, error) {
	query := `SELECT` + stepColumns + `
		FROM approval_steps
		WHERE request_id = $1
		ORDER BY step_number ASC
	`

	rows, err := r.db.Query(ctx, query, requestID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get approval steps")
	}
	defer rows.Close()

	return scanSteps(rows)
}

// LockByRequest is ListByRequest with the rows locked for the rest of the
// transaction in ctx.
func (r *ApprovalStepsRepository) LockByRequest(ctx context.Context, requestID string) ([]*domain.ApprovalStep, error) {
	query := `SELECT` + stepColumns + `
		FROM approval_steps
		WHERE request_id = $1
		ORDER BY step_number ASC
		FOR UPDATE
	`

	rows, err := r.db.Query(ctx, query, requestID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to lock approval steps")
	}
	defer rows.Close()

	return scanSteps(rows)
}

// ListActive returns every active step, oldest due date first.
func (r *ApprovalStepsRepository) ListActive(ctx context.Context) ([]*domain.ApprovalStep, error) {
	query := `SELECT` + stepColumns + `
		FROM approval_steps
		WHERE status = 'active'
		ORDER BY due_at ASC NULLS LAST, created_at ASC
	`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list active steps")
	}
	defer rows.Close()

	return scanSteps(rows)
}

// ListActiveByRole returns the active steps waiting on role. An empty role
// lists every active step.
func (r *ApprovalStepsRepository) ListActiveByRole(ctx context.Context, role string) ([]*domain.ApprovalStep, error) {
	if role == "" {
		return r.ListActive(ctx)
	}

	query := `SELECT` + stepColumns + `
		FROM approval_steps
		WHERE status = 'active'
		  AND approver_role = $1
		ORDER BY due_at ASC NULLS LAST, created_at ASC
	`

	rows, err := r.db.Query(ctx, query, role)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get approval queue")
	}
	defer rows.Close()

	return scanSteps(rows)
}

// Update writes a step's mutable columns, provided its stored status is
// still expected. A step that moved underneath the caller is a conflict.
func (r *ApprovalStepsRepository) Update(ctx context.Context, s *domain.ApprovalStep, expected string) error {
	query := `
		UPDATE approval_steps
		SET status       = $3,
		    is_enabled   = $4,
		    activated_at = $5,
		    due_at       = $6,
		    acted_at     = $7,
		    acted_by     = $8,
		    acted_by_id  = $9,
		    comments     = $10,
		    updated_at   = NOW()
		WHERE id = $1
		  AND status = $2
		RETURNING updated_at
	`

	err := r.db.QueryRow(ctx, query,
		s.ID,
		expected,
		s.Status,
		s.Enabled,
		s.ActivatedAt,
		s.DueAt,
		s.ActedAt,
		s.ActedBy,
		s.ActedByID,
		s.Comments,
	).Scan(&s.UpdatedAt)
	if err == pgx.ErrNoRows {
		return errors.Conflict(fmt.Sprintf("step %d is no longer %s", s.StepNumber, expected)).WithDetail("id", s.ID)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to update approval step")
	}
	return nil
}

// ── scan helpers ──────────────────────────────────────────────────────────────

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStep(row rowScanner) (*domain.ApprovalStep, error) {
	s := &domain.ApprovalStep{}
	err := row.Scan(
		&s.ID,
		&s.RequestID,
		&s.TemplateKey,
		&s.StepNumber,
		&s.StepName,
		&s.Gate,
		&s.ApproverRole,
		&s.SLADays,
		&s.EscalationTo,
		&s.Enabled,
		&s.Status,
		&s.ActivatedAt,
		&s.DueAt,
		&s.ActedAt,
		&s.ActedBy,
		&s.ActedByID,
		&s.Comments,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func scanSteps(rows pgx.Rows) ([]*domain.ApprovalStep, error) {
	var steps []*domain.ApprovalStep
	for rows.Next() {
		s, err := scanStep(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan approval step")
		}
		steps = append(steps, s)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to read approval steps")
	}
	return steps, nil
}
