package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-acq-requests/internal/domain"
	"github.com/pesio-ai/be-acq-requests/internal/pkg/database"
	"github.com/pesio-ai/be-acq-requests/internal/pkg/errors"
)

// FundingRepository reads CLINs and execution requests and maintains funding
// line totals.
type FundingRepository struct {
	db *database.DB
}

// NewFundingRepository creates a new FundingRepository.
func NewFundingRepository(db *database.DB) *FundingRepository {
	return &FundingRepository{db: db}
}

// ── CLINs ─────────────────────────────────────────────────────────────────────

const clinColumns = `
	id, request_id, clin_number, description, clin_type, psc_code,
	funding_line_id, estimated_value, severability, ceiling, obligated,
	invoiced, sort_order, created_at, updated_at`

// GetCLIN retrieves a CLIN by primary key.
func (r *FundingRepository) GetCLIN(ctx context.Context, id string) (*domain.CLIN, error) {
	query := `SELECT` + clinColumns + ` FROM clins WHERE id = $1`

	c, err := scanCLIN(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("clin", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get clin")
	}
	return c, nil
}

// GetCLINForUpdate retrieves and locks a CLIN, serialising balance checks
// that commit funds against it.
func (r *FundingRepository) GetCLINForUpdate(ctx context.Context, id string) (*domain.CLIN, error) {
	query := `SELECT` + clinColumns + ` FROM clins WHERE id = $1 FOR UPDATE`

	c, err := scanCLIN(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("clin", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to lock clin")
	}
	return c, nil
}

// ListCLINsByRequest returns a request's CLINs in display order.
func (r *FundingRepository) ListCLINsByRequest(ctx context.Context, requestID string) ([]*domain.CLIN, error) {
	query := `SELECT` + clinColumns + `
		FROM clins
		WHERE request_id = $1
		ORDER BY sort_order ASC, clin_number ASC
	`
	return r.queryCLINs(ctx, query, requestID)
}

// ListCLINsByFundingLine returns the CLINs drawing on a funding line.
func (r *FundingRepository) ListCLINsByFundingLine(ctx context.Context, fundingLineID string) ([]*domain.CLIN, error) {
	query := `SELECT` + clinColumns + `
		FROM clins
		WHERE funding_line_id = $1
		ORDER BY clin_number ASC
	`
	return r.queryCLINs(ctx, query, fundingLineID)
}

func (r *FundingRepository) queryCLINs(ctx context.Context, query string, args ...any) ([]*domain.CLIN, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list clins")
	}
	defer rows.Close()

	var out []*domain.CLIN
	for rows.Next() {
		c, err := scanCLIN(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan clin")
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanCLIN(row rowScanner) (*domain.CLIN, error) {
	c := &domain.CLIN{}
	err := row.Scan(
		&c.ID,
		&c.RequestID,
		&c.CLINNumber,
		&c.Description,
		&c.CLINType,
		&c.PSCCode,
		&c.FundingLineID,
		&c.EstimatedValue,
		&c.Severability,
		&c.Ceiling,
		&c.Obligated,
		&c.Invoiced,
		&c.SortOrder,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ── Funding lines ─────────────────────────────────────────────────────────────

// GetFundingLineForUpdate retrieves and locks a funding line.
func (r *FundingRepository) GetFundingLineForUpdate(ctx context.Context, id string) (*domain.FundingLine, error) {
	query := `
		SELECT id, display_name, fiscal_year, total_allocation, projected_amount,
		       committed_amount, obligated_amount, status, updated_at
		FROM funding_lines
		WHERE id = $1
		FOR UPDATE
	`

	f := &domain.FundingLine{}
	err := r.db.QueryRow(ctx, query, id).Scan(
		&f.ID,
		&f.DisplayName,
		&f.FiscalYear,
		&f.TotalAllocation,
		&f.ProjectedAmount,
		&f.CommittedAmount,
		&f.ObligatedAmount,
		&f.Status,
		&f.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("funding_line", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get funding line")
	}
	return f, nil
}

// UpdateFundingLineTotals writes the recomputed committed amount and status.
func (r *FundingRepository) UpdateFundingLineTotals(ctx context.Context, f *domain.FundingLine) error {
	query := `
		UPDATE funding_lines
		SET committed_amount = $2,
		    status           = $3,
		    updated_at       = NOW()
		WHERE id = $1
		RETURNING updated_at
	`

	err := r.db.QueryRow(ctx, query, f.ID, f.CommittedAmount, f.Status).Scan(&f.UpdatedAt)
	if err == pgx.ErrNoRows {
		return errors.NotFound("funding_line", f.ID)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to update funding line")
	}
	return nil
}

// ── Execution requests ───────────────────────────────────────────────────────

const executionColumns = `
	id, request_number, execution_type, contract_id, clin_id, title,
	estimated_cost, actual_cost, status, funding_status,
	funding_action_amount, requested_by_id, created_at, updated_at`

// ListExecutionsByCLIN returns every execution request drawing on a CLIN.
func (r *FundingRepository) ListExecutionsByCLIN(ctx context.Context, clinID string) ([]*domain.ExecutionRequest, error) {
	query := `SELECT` + executionColumns + `
		FROM execution_requests
		WHERE clin_id = $1
		ORDER BY created_at ASC
	`

	rows, err := r.db.Query(ctx, query, clinID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list execution requests")
	}
	defer rows.Close()

	var out []*domain.ExecutionRequest
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan execution request")
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetExecutionForUpdate retrieves and locks an execution request.
func (r *FundingRepository) GetExecutionForUpdate(ctx context.Context, id string) (*domain.ExecutionRequest, error) {
	query := `SELECT` + executionColumns + ` FROM execution_requests WHERE id = $1 FOR UPDATE`

	e, err := scanExecution(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("execution_request", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get execution request")
	}
	return e, nil
}

// UpdateExecutionFunding writes the status and funding outcome of an
// execution request.
func (r *FundingRepository) UpdateExecutionFunding(ctx context.Context, e *domain.ExecutionRequest) error {
	query := `
		UPDATE execution_requests
		SET status                = $2,
		    funding_status        = $3,
		    funding_action_amount = $4,
		    updated_at            = NOW()
		WHERE id = $1
		RETURNING updated_at
	`

	err := r.db.QueryRow(ctx, query, e.ID, e.Status, e.FundingStatus, e.FundingActionAmount).Scan(&e.UpdatedAt)
	if err == pgx.ErrNoRows {
		return errors.NotFound("execution_request", e.ID)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to update execution request")
	}
	return nil
}

func scanExecution(row rowScanner) (*domain.ExecutionRequest, error) {
	e := &domain.ExecutionRequest{}
	err := row.Scan(
		&e.ID,
		&e.RequestNumber,
		&e.ExecutionType,
		&e.ContractID,
		&e.CLINID,
		&e.Title,
		&e.EstimatedCost,
		&e.ActualCost,
		&e.Status,
		&e.FundingStatus,
		&e.FundingActionAmount,
		&e.RequestedByID,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return e, nil
}
