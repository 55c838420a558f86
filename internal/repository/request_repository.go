package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-acq-requests/internal/domain"
	"github.com/pesio-ai/be-acq-requests/internal/pkg/database"
	"github.com/pesio-ai/be-acq-requests/internal/pkg/errors"
)

// RequestRepository handles acquisition request rows.
type RequestRepository struct {
	db *database.DB
}

// NewRequestRepository creates a new RequestRepository.
func NewRequestRepository(db *database.DB) *RequestRepository {
	return &RequestRepository{db: db}
}

// requestColumns are the writable columns, in the order of requestArgs.
var requestColumns = []string{
	"request_number", "title", "description", "estimated_value", "fiscal_year",
	"priority", "need_by_date", "status",
	"intake_q1_need_type", "intake_q2_situation", "intake_q3_specific_vendor",
	"intake_q4_existing_vehicle", "intake_q5_change_type", "intake_q_buy_category",
	"intake_q_mixed_predominant",
	"derived_acquisition_type", "derived_tier", "derived_pipeline",
	"derived_contract_character", "derived_requirements_doc_type",
	"derived_scls_applicable", "derived_qasp_required", "derived_eval_approach",
	"urgency_flag", "market_research_pending", "approval_template_key",
	"document_set_key", "advisory_triggers", "matched_path_id",
	"classification_source", "classified_at",
	"existing_contract_number", "existing_contract_vendor", "existing_contract_value",
	"existing_contract_end_date", "existing_contract_vehicle", "options_remaining",
	"current_option_year", "cpars_rating",
	"awarded_date", "awarded_vendor", "awarded_amount", "po_number",
	"requestor_id", "requestor_name", "requestor_org", "notes",
}

func requestArgs(q *domain.AcquisitionRequest) []any {
	triggers := q.AdvisoryTriggers
	if triggers == nil {
		triggers = []string{}
	}
	return []any{
		q.RequestNumber, q.Title, q.Description, q.EstimatedValue, q.FiscalYear,
		q.Priority, q.NeedByDate, q.Status,
		q.NeedType, q.Situation, q.VendorKnown,
		q.ExistingVehicle, q.ChangeType, q.BuyCategory,
		q.MixedPredominant,
		q.AcquisitionType, q.Tier, q.Pipeline,
		q.ContractCharacter, q.RequirementsDocType,
		q.SCLSApplicable, q.QASPRequired, q.EvaluationApproach,
		q.UrgencyFlag, q.MarketResearchPending, q.ApprovalTemplateKey,
		q.DocumentSetKey, triggers, q.MatchedPathID,
		q.ClassificationSource, q.ClassifiedAt,
		q.ExistingContractNumber, q.ExistingContractVendor, q.ExistingContractValue,
		q.ExistingContractEndDate, q.ExistingContractVehicle, q.OptionsRemaining,
		q.CurrentOptionYear, q.CPARSRating,
		q.AwardedDate, q.AwardedVendor, q.AwardedAmount, q.PONumber,
		q.RequestorID, q.RequestorName, q.RequestorOrg, q.Notes,
	}
}

var requestSelect = "SELECT id, " + strings.Join(requestColumns, ", ") +
	", created_at, updated_at FROM acquisition_requests"

// Create inserts a request, assigning its ID.
func (r *RequestRepository) Create(ctx context.Context, q *domain.AcquisitionRequest) error {
	if q.ID == "" {
		q.ID = uuid.NewString()
	}

	placeholders := make([]string, len(requestColumns)+1)
	for i := range placeholders {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	query := "INSERT INTO acquisition_requests (id, " + strings.Join(requestColumns, ", ") + ")" +
		" VALUES (" + strings.Join(placeholders, ", ") + ")" +
		" RETURNING created_at, updated_at"

	args := append([]any{q.ID}, requestArgs(q)...)
	if err := r.db.QueryRow(ctx, query, args...).Scan(&q.CreatedAt, &q.UpdatedAt); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create acquisition request")
	}
	return nil
}

// GetByID retrieves a request by primary key.
func (r *RequestRepository) GetByID(ctx context.Context, id string) (*domain.AcquisitionRequest, error) {
	q, err := scanRequest(r.db.QueryRow(ctx, requestSelect+" WHERE id = $1", id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("acquisition_request", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get acquisition request")
	}
	return q, nil
}

// GetForUpdate retrieves a request and locks its row for the transaction in
// ctx.
func (r *RequestRepository) GetForUpdate(ctx context.Context, id string) (*domain.AcquisitionRequest, error) {
	q, err := scanRequest(r.db.QueryRow(ctx, requestSelect+" WHERE id = $1 FOR UPDATE", id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("acquisition_request", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to lock acquisition request")
	}
	return q, nil
}

// Update writes every writable column.
func (r *RequestRepository) Update(ctx context.Context, q *domain.AcquisitionRequest) error {
	sets := make([]string, len(requestColumns))
	for i, col := range requestColumns {
		sets[i] = fmt.Sprintf("%s = $%d", col, i+2)
	}
	query := "UPDATE acquisition_requests SET " + strings.Join(sets, ", ") +
		", updated_at = NOW() WHERE id = $1 RETURNING updated_at"

	args := append([]any{q.ID}, requestArgs(q)...)
	err := r.db.QueryRow(ctx, query, args...).Scan(&q.UpdatedAt)
	if err == pgx.ErrNoRows {
		return errors.NotFound("acquisition_request", q.ID)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to update acquisition request")
	}
	return nil
}

// UpdateStatus moves a request from expected to status.
func (r *RequestRepository) UpdateStatus(ctx context.Context, id, expected, status string) error {
	query := `
		UPDATE acquisition_requests
		SET status     = $3,
		    updated_at = NOW()
		WHERE id = $1
		  AND status = $2
	`

	tag, err := r.db.Exec(ctx, query, id, expected, status)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to update request status")
	}
	if tag.RowsAffected() == 0 {
		return errors.Conflict(fmt.Sprintf("request is no longer %s", expected)).WithDetail("id", id)
	}
	return nil
}

// List returns requests, optionally filtered by status, newest first.
func (r *RequestRepository) List(ctx context.Context, status string, limit, offset int) ([]*domain.AcquisitionRequest, error) {
	query := requestSelect
	args := []any{}
	if status != "" {
		query += " WHERE status = $1"
		args = append(args, status)
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list acquisition requests")
	}
	defer rows.Close()

	var out []*domain.AcquisitionRequest
	for rows.Next() {
		q, err := scanRequest(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan acquisition request")
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

func scanRequest(row rowScanner) (*domain.AcquisitionRequest, error) {
	q := &domain.AcquisitionRequest{}
	err := row.Scan(
		&q.ID,
		&q.RequestNumber, &q.Title, &q.Description, &q.EstimatedValue, &q.FiscalYear,
		&q.Priority, &q.NeedByDate, &q.Status,
		&q.NeedType, &q.Situation, &q.VendorKnown,
		&q.ExistingVehicle, &q.ChangeType, &q.BuyCategory,
		&q.MixedPredominant,
		&q.AcquisitionType, &q.Tier, &q.Pipeline,
		&q.ContractCharacter, &q.RequirementsDocType,
		&q.SCLSApplicable, &q.QASPRequired, &q.EvaluationApproach,
		&q.UrgencyFlag, &q.MarketResearchPending, &q.ApprovalTemplateKey,
		&q.DocumentSetKey, &q.AdvisoryTriggers, &q.MatchedPathID,
		&q.ClassificationSource, &q.ClassifiedAt,
		&q.ExistingContractNumber, &q.ExistingContractVendor, &q.ExistingContractValue,
		&q.ExistingContractEndDate, &q.ExistingContractVehicle, &q.OptionsRemaining,
		&q.CurrentOptionYear, &q.CPARSRating,
		&q.AwardedDate, &q.AwardedVendor, &q.AwardedAmount, &q.PONumber,
		&q.RequestorID, &q.RequestorName, &q.RequestorOrg, &q.Notes,
		&q.CreatedAt, &q.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return q, nil
}
