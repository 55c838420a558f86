package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/pesio-ai/be-acq-requests/internal/domain"
	"github.com/pesio-ai/be-acq-requests/internal/engine/approval"
	"github.com/pesio-ai/be-acq-requests/internal/engine/readiness"
	"github.com/pesio-ai/be-acq-requests/internal/pkg/errors"
	"github.com/pesio-ai/be-acq-requests/internal/pkg/logger"
)

// PackageService manages the acquisition package: document progress,
// advisory reviews and gate readiness.
type PackageService struct {
	deps
}

// NewPackageService creates a new PackageService.
func NewPackageService(repos Repositories, catalog CatalogStore, notifier Notifier, opts Options, log *logger.Logger) *PackageService {
	return &PackageService{deps: newDeps(repos, catalog, notifier, opts, log)}
}

// DocumentStatusInput moves a package document along.
type DocumentStatusInput struct {
	DocumentID string  `json:"document_id" validate:"required"`
	Status     string  `json:"status" validate:"required,oneof=not_started in_progress complete"`
	AssignedTo *string `json:"assigned_to"`
	Notes      *string `json:"notes"`
}

// AdvisoryTransitionInput records progress on an advisory review.
type AdvisoryTransitionInput struct {
	AdvisoryID      string  `json:"advisory_id" validate:"required"`
	Status          string  `json:"status" validate:"required,oneof=requested in_review complete_no_issues complete_issues_found waived info_requested"`
	Findings        *string `json:"findings" validate:"omitempty,max=10000"`
	Recommendation  *string `json:"recommendation" validate:"omitempty,max=10000"`
	ImpactsStrategy *bool   `json:"impacts_strategy"`
}

// advisoryTransitions is the advisory review state machine.
var advisoryTransitions = map[string][]string{
	domain.AdvisoryRequested:     {domain.AdvisoryInReview, domain.AdvisoryInfoRequested},
	domain.AdvisoryInReview:      {domain.AdvisoryCompleteNoIssues, domain.AdvisoryCompleteIssuesFound, domain.AdvisoryWaived, domain.AdvisoryInfoRequested},
	domain.AdvisoryInfoRequested: {domain.AdvisoryRequested},
}

func advisoryTerminal(status string) bool {
	switch status {
	case domain.AdvisoryCompleteNoIssues, domain.AdvisoryCompleteIssuesFound, domain.AdvisoryWaived:
		return true
	}
	return false
}

// ── Gates ─────────────────────────────────────────────────────────────────────

// CheckGate reports whether a request may pass gate and what blocks it.
func (s *PackageService) CheckGate(ctx context.Context, requestID, gate string) (readiness.Result, error) {
	gate = strings.ToLower(strings.TrimSpace(gate))
	if _, ok := s.catalog.Current().Gates().Lookup(gate); !ok {
		return readiness.Result{}, errors.InvalidInput("gate", fmt.Sprintf("unknown gate %q", gate))
	}
	q, err := s.repos.Requests.GetByID(ctx, requestID)
	if err != nil {
		return readiness.Result{}, err
	}
	return s.gateReadiness(ctx, q, gate)
}

// ── Documents ─────────────────────────────────────────────────────────────────

// UpdateDocumentStatus records progress on a package document. Completing a
// document stamps its completion time; moving it back clears it.
func (s *PackageService) UpdateDocumentStatus(ctx context.Context, in DocumentStatusInput, p approval.Principal) (*domain.PackageDocument, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}

	var doc *domain.PackageDocument
	err := s.repos.Tx.InTransaction(ctx, func(ctx context.Context) error {
		var err error
		doc, err = s.repos.Documents.GetForUpdate(ctx, in.DocumentID)
		if err != nil {
			return err
		}

		before := doc.Status
		now := s.now()
		doc.Status = in.Status
		if in.Status == domain.DocComplete {
			if doc.CompletedAt == nil {
				doc.CompletedAt = &now
			}
		} else {
			doc.CompletedAt = nil
		}
		if in.AssignedTo != nil {
			doc.AssignedTo = in.AssignedTo
		}
		if in.Notes != nil {
			doc.Notes = in.Notes
		}
		doc.UpdatedAt = now

		if err := s.repos.Documents.Save(ctx, []*domain.PackageDocument{doc}); err != nil {
			return err
		}

		s.appendAudit(ctx, &domain.AuditEntry{
			RequestID:   doc.RequestID,
			EntityType:  "package_document",
			EntityID:    &doc.ID,
			Action:      "status_changed",
			PerformedBy: p.ID,
			Metadata: map[string]interface{}{
				"template_id": doc.TemplateID,
				"from":        before,
				"to":          doc.Status,
			},
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// ── Advisory reviews ──────────────────────────────────────────────────────────

// ListAdvisories returns a request's advisory reviews.
func (s *PackageService) ListAdvisories(ctx context.Context, requestID string) ([]*domain.AdvisoryInput, error) {
	if _, err := s.repos.Requests.GetByID(ctx, requestID); err != nil {
		return nil, err
	}
	return s.repos.Advisories.ListByRequest(ctx, requestID)
}

// TransitionAdvisory moves an advisory review through its lifecycle:
// requested → in_review → complete_no_issues | complete_issues_found |
// waived, with info_requested as a detour back to requested. Completing
// with issues requires findings.
func (s *PackageService) TransitionAdvisory(ctx context.Context, in AdvisoryTransitionInput, p approval.Principal) (*domain.AdvisoryInput, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}
	if in.Status == domain.AdvisoryCompleteIssuesFound && (in.Findings == nil || strings.TrimSpace(*in.Findings) == "") {
		return nil, errors.InvalidInput("findings", "findings are required when issues are found")
	}

	var (
		a      *domain.AdvisoryInput
		events []domain.Notification
	)
	err := s.repos.Tx.InTransaction(ctx, func(ctx context.Context) error {
		var err error
		a, err = s.repos.Advisories.GetForUpdate(ctx, in.AdvisoryID)
		if err != nil {
			return err
		}
		if !advisoryAllowed(a.Status, in.Status) {
			return errors.Conflict(fmt.Sprintf("advisory review cannot move from %s to %s", a.Status, in.Status))
		}

		before := a.Status
		now := s.now()
		a.Status = in.Status
		if in.Findings != nil {
			a.Findings = in.Findings
		}
		if in.Recommendation != nil {
			a.Recommendation = in.Recommendation
		}
		if in.ImpactsStrategy != nil {
			a.ImpactsStrategy = *in.ImpactsStrategy
		}
		if p.ID != "" && in.Status != domain.AdvisoryRequested {
			a.ReviewerID = strPtr(p.ID)
		}
		if advisoryTerminal(a.Status) {
			a.CompletedAt = &now
		}

		if err := s.repos.Advisories.Update(ctx, a); err != nil {
			return err
		}

		s.appendAudit(ctx, &domain.AuditEntry{
			RequestID:   a.RequestID,
			EntityType:  "advisory_input",
			EntityID:    &a.ID,
			Action:      a.Status,
			PerformedBy: p.ID,
			Metadata: map[string]interface{}{
				"team":             a.Team,
				"from":             before,
				"impacts_strategy": a.ImpactsStrategy,
			},
		})

		if advisoryTerminal(a.Status) {
			severity := "info"
			if a.Status == domain.AdvisoryCompleteIssuesFound {
				severity = "warning"
			}
			events = append(events, domain.Notification{
				EventType:  domain.EventAdvisoryCompleted,
				RequestID:  a.RequestID,
				ActorID:    p.ID,
				Recipients: []string{recipientRequestor},
				Severity:   severity,
				Actionable: a.Status == domain.AdvisoryCompleteIssuesFound,
				Payload: map[string]interface{}{
					"advisory_id":      a.ID,
					"team":             a.Team,
					"status":           a.Status,
					"impacts_strategy": a.ImpactsStrategy,
					"blocks_gate":      a.BlocksGate,
				},
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notifyAll(ctx, events)
	return a, nil
}

func advisoryAllowed(from, to string) bool {
	for _, next := range advisoryTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
