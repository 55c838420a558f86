package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/pesio-ai/be-acq-requests/internal/domain"
	"github.com/pesio-ai/be-acq-requests/internal/engine/approval"
	"github.com/pesio-ai/be-acq-requests/internal/engine/checklist"
	"github.com/pesio-ai/be-acq-requests/internal/engine/classify"
	"github.com/pesio-ai/be-acq-requests/internal/pkg/errors"
	"github.com/pesio-ai/be-acq-requests/internal/pkg/logger"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// RequestService handles the request lifecycle up to submission: intake,
// edits, classification and the document checklist.
type RequestService struct {
	deps
}

// NewRequestService creates a new RequestService.
func NewRequestService(repos Repositories, catalog CatalogStore, notifier Notifier, opts Options, log *logger.Logger) *RequestService {
	return &RequestService{deps: newDeps(repos, catalog, notifier, opts, log)}
}

// CreateRequestInput is the intake form.
type CreateRequestInput struct {
	Title                 string   `json:"title" validate:"required,max=500"`
	Description           *string  `json:"description"`
	EstimatedValue        float64  `json:"estimated_value" validate:"gte=0"`
	FiscalYear            *string  `json:"fiscal_year"`
	Priority              string   `json:"priority" validate:"omitempty,oneof=critical high medium low"`
	NeedByDate            *string  `json:"need_by_date"`
	NeedType              string   `json:"intake_q1_need_type" validate:"omitempty,oneof=new continue_extend change_existing"`
	Situation             string   `json:"intake_q2_situation"`
	VendorKnown           string   `json:"intake_q3_specific_vendor"`
	ExistingVehicle       string   `json:"intake_q4_existing_vehicle"`
	ChangeType            string   `json:"intake_q5_change_type"`
	BuyCategory           string   `json:"intake_q_buy_category" validate:"omitempty,oneof=product service software_license mixed"`
	MixedPredominant      string   `json:"intake_q_mixed_predominant"`
	RequestorName         *string  `json:"requestor_name"`
	RequestorOrg          *string  `json:"requestor_org"`
	Notes                 *string  `json:"notes"`
	ExistingContractValue *float64 `json:"existing_contract_value"`
}

// ClassifyResult is a stored classification plus the checklist changes it
// caused.
type ClassifyResult struct {
	Request        *domain.AcquisitionRequest `json:"request"`
	Classification classify.Result            `json:"classification"`
	Checklist      *checklist.Diff            `json:"checklist,omitempty"`
}

// ── Intake ────────────────────────────────────────────────────────────────────

// CreateRequest stores a new draft. A request with a need type answered is
// classified straight away.
func (s *RequestService) CreateRequest(ctx context.Context, in CreateRequestInput, p approval.Principal) (*domain.AcquisitionRequest, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}
	if p.ID == "" {
		return nil, errors.New(errors.ErrCodeUnauthorized, "a user id is required to create requests")
	}

	now := s.now()
	q := &domain.AcquisitionRequest{
		RequestNumber:         newRequestNumber(now.Year()),
		Title:                 strings.TrimSpace(in.Title),
		Description:           in.Description,
		EstimatedValue:        in.EstimatedValue,
		FiscalYear:            in.FiscalYear,
		Priority:              in.Priority,
		NeedByDate:            in.NeedByDate,
		Status:                domain.RequestDraft,
		NeedType:              in.NeedType,
		Situation:             in.Situation,
		VendorKnown:           in.VendorKnown,
		ExistingVehicle:       in.ExistingVehicle,
		ChangeType:            in.ChangeType,
		BuyCategory:           in.BuyCategory,
		MixedPredominant:      in.MixedPredominant,
		ExistingContractValue: in.ExistingContractValue,
		RequestorID:           p.ID,
		RequestorName:         in.RequestorName,
		RequestorOrg:          in.RequestorOrg,
		Notes:                 in.Notes,
	}
	if q.Priority == "" {
		q.Priority = "medium"
	}
	if q.RequestorName == nil && p.Name != "" {
		q.RequestorName = &p.Name
	}
	if q.NeedType != "" {
		s.classify(q)
	}

	if err := s.repos.Requests.Create(ctx, q); err != nil {
		return nil, err
	}

	s.appendAudit(ctx, &domain.AuditEntry{
		RequestID:          q.ID,
		EntityType:         "request",
		EntityID:           &q.ID,
		Action:             "created",
		PerformedBy:        p.ID,
		RequestStatusAfter: &q.Status,
		Metadata:           map[string]interface{}{"request_number": q.RequestNumber},
	})

	s.log.Info().
		Str("request_id", q.ID).
		Str("request_number", q.RequestNumber).
		Str("pipeline", q.Pipeline).
		Msg("Acquisition request created")

	return q, nil
}

// newRequestNumber returns a human-facing number such as ACQ-2026-3F9A21C0.
func newRequestNumber(year int) string {
	id := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	return fmt.Sprintf("ACQ-%d-%s", year, id[:8])
}

// GetRequest returns one request.
func (s *RequestService) GetRequest(ctx context.Context, id string) (*domain.AcquisitionRequest, error) {
	return s.repos.Requests.GetByID(ctx, id)
}

// ListRequests pages through requests, optionally filtered by status.
func (s *RequestService) ListRequests(ctx context.Context, status string, limit, offset int) ([]*domain.AcquisitionRequest, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return s.repos.Requests.List(ctx, status, limit, offset)
}

// ── Edits ─────────────────────────────────────────────────────────────────────

// UpdateRequest applies whitelisted field updates to a draft or returned
// request. Changing an intake answer or the estimated value of a classified
// request re-derives its classification and, when a checklist exists,
// reconciles it.
func (s *RequestService) UpdateRequest(ctx context.Context, id string, updates map[string]any, p approval.Principal) (*domain.AcquisitionRequest, error) {
	if len(updates) == 0 {
		return nil, errors.InvalidInput("updates", "at least one field is required")
	}

	var (
		q      *domain.AcquisitionRequest
		diff   checklist.Diff
		events []domain.Notification
	)
	err := s.repos.Tx.InTransaction(ctx, func(ctx context.Context) error {
		var err error
		q, err = s.repos.Requests.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !q.Editable() {
			return errors.Conflict(fmt.Sprintf("request cannot be edited in status '%s'", q.Status))
		}

		reclassify, err := q.ApplyUpdates(updates)
		if err != nil {
			return err
		}

		if len(reclassify) > 0 && (q.Classified() || q.NeedType != "") {
			s.classify(q)
			has, err := s.hasChecklist(ctx, q)
			if err != nil {
				return err
			}
			if has {
				if diff, err = s.reconcileChecklist(ctx, q); err != nil {
					return err
				}
				if diff.Changed() {
					events = append(events, checklistEvent(q, p.ID, diff))
				}
			}
		}

		if err := s.repos.Requests.Update(ctx, q); err != nil {
			return err
		}

		fields := make([]string, 0, len(updates))
		for name := range updates {
			fields = append(fields, name)
		}
		s.appendAudit(ctx, &domain.AuditEntry{
			RequestID:   q.ID,
			EntityType:  "request",
			EntityID:    &q.ID,
			Action:      "updated",
			PerformedBy: p.ID,
			Metadata: map[string]interface{}{
				"fields":       fields,
				"reclassified": len(reclassify) > 0,
			},
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notifyAll(ctx, events)
	return q, nil
}

// ── Classification ────────────────────────────────────────────────────────────

// ClassifyRequest derives and stores the request's classification. When the
// request already has a checklist, the checklist is reconciled against the
// new classification and the requestor is told what changed.
func (s *RequestService) ClassifyRequest(ctx context.Context, id string, p approval.Principal) (*ClassifyResult, error) {
	var (
		out    ClassifyResult
		events []domain.Notification
	)
	err := s.repos.Tx.InTransaction(ctx, func(ctx context.Context) error {
		q, err := s.repos.Requests.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if closedStatus(q.Status) {
			return errors.Conflict(fmt.Sprintf("request cannot be reclassified in status '%s'", q.Status))
		}
		if q.NeedType == "" {
			return errors.InvalidInput("intake_q1_need_type", "need type must be answered before classification")
		}

		before := q.AcquisitionType + "/" + q.Pipeline
		out.Classification = s.classify(q)

		has, err := s.hasChecklist(ctx, q)
		if err != nil {
			return err
		}
		if has {
			diff, err := s.reconcileChecklist(ctx, q)
			if err != nil {
				return err
			}
			out.Checklist = &diff
			if diff.Changed() {
				events = append(events, checklistEvent(q, p.ID, diff))
			}
		}

		if err := s.repos.Requests.Update(ctx, q); err != nil {
			return err
		}
		out.Request = q

		s.appendAudit(ctx, &domain.AuditEntry{
			RequestID:   q.ID,
			EntityType:  "request",
			EntityID:    &q.ID,
			Action:      "classified",
			PerformedBy: p.ID,
			Metadata: map[string]interface{}{
				"previous":         before,
				"acquisition_type": q.AcquisitionType,
				"tier":             q.Tier,
				"pipeline":         q.Pipeline,
				"source":           q.ClassificationSource,
				"matched_path_id":  q.MatchedPathID,
			},
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("request_id", id).
		Str("acquisition_type", out.Classification.AcquisitionType).
		Str("pipeline", out.Classification.Pipeline).
		Str("source", out.Classification.Source).
		Msg("Request classified")

	s.notifyAll(ctx, events)
	return &out, nil
}

// Preview classifies answers without touching any request.
func (s *RequestService) Preview(answers classify.IntakeAnswers, estimatedValue float64) classify.Result {
	return classify.NewEngine(s.catalog).ClassifyAt(answers, estimatedValue, s.now())
}

// ── Checklist ─────────────────────────────────────────────────────────────────

// ReconcileChecklist regenerates a classified request's document package.
func (s *RequestService) ReconcileChecklist(ctx context.Context, id string, p approval.Principal) (checklist.Diff, error) {
	var (
		diff checklist.Diff
		q    *domain.AcquisitionRequest
	)
	err := s.repos.Tx.InTransaction(ctx, func(ctx context.Context) error {
		var err error
		q, err = s.repos.Requests.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !q.Classified() {
			return errors.Conflict("request must be classified before its checklist is generated")
		}
		if diff, err = s.reconcileChecklist(ctx, q); err != nil {
			return err
		}
		s.appendAudit(ctx, &domain.AuditEntry{
			RequestID:   q.ID,
			EntityType:  "package_document",
			Action:      "checklist_generated",
			PerformedBy: p.ID,
			Metadata: map[string]interface{}{
				"added":   diff.Added,
				"removed": diff.Removed,
			},
		})
		return nil
	})
	if err != nil {
		return checklist.Diff{}, err
	}

	if diff.Changed() {
		s.notifier.Notify(ctx, checklistEvent(q, p.ID, diff))
	}
	return diff, nil
}

// ListDocuments returns a request's package documents.
func (s *RequestService) ListDocuments(ctx context.Context, requestID string) ([]*domain.PackageDocument, error) {
	if _, err := s.repos.Requests.GetByID(ctx, requestID); err != nil {
		return nil, err
	}
	return s.repos.Documents.ListByRequest(ctx, requestID)
}

func closedStatus(status string) bool {
	switch status {
	case domain.RequestRejected, domain.RequestAwarded, domain.RequestClosed, domain.RequestCancelled:
		return true
	}
	return false
}
