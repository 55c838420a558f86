package service

import (
	"context"
	"fmt"

	"github.com/pesio-ai/be-acq-requests/internal/domain"
	"github.com/pesio-ai/be-acq-requests/internal/engine/approval"
	"github.com/pesio-ai/be-acq-requests/internal/engine/funding"
	"github.com/pesio-ai/be-acq-requests/internal/pkg/errors"
	"github.com/pesio-ai/be-acq-requests/internal/pkg/logger"
)

// Execution funding statuses.
const (
	fundingSufficient   = "sufficient"
	fundingInsufficient = "insufficient"
)

// budgetRole receives funding action notifications.
const budgetRole = "budget"

// FundingService answers balance questions on CLINs and keeps funding line
// totals current.
type FundingService struct {
	deps
}

// NewFundingService creates a new FundingService.
func NewFundingService(repos Repositories, catalog CatalogStore, notifier Notifier, opts Options, log *logger.Logger) *FundingService {
	return &FundingService{deps: newDeps(repos, catalog, notifier, opts, log)}
}

// BalanceInput asks whether a CLIN can absorb an amount.
type BalanceInput struct {
	CLINID string  `json:"clin_id" validate:"required"`
	Amount float64 `json:"amount" validate:"gt=0"`
}

// CLINStatus is a CLIN with its derived balance and health.
type CLINStatus struct {
	CLIN    *domain.CLIN       `json:"clin"`
	Pending float64            `json:"pending_commitments"`
	Health  funding.CLINHealth `json:"health"`
}

// ExecutionDecision is the outcome of authorizing an execution request.
type ExecutionDecision struct {
	Execution *domain.ExecutionRequest `json:"execution"`
	Check     funding.BalanceCheck     `json:"check"`
}

// CheckCLINBalance reports whether the CLIN's available balance covers the
// amount, net of pending commitments.
func (s *FundingService) CheckCLINBalance(ctx context.Context, in BalanceInput) (funding.BalanceCheck, error) {
	if err := validateInput(in); err != nil {
		return funding.BalanceCheck{}, err
	}
	clin, err := s.repos.Funding.GetCLIN(ctx, in.CLINID)
	if err != nil {
		return funding.BalanceCheck{}, err
	}
	pending, err := s.pending(ctx, clin.ID, "")
	if err != nil {
		return funding.BalanceCheck{}, err
	}

	chk := funding.CheckBalance(clin, pending, in.Amount)
	s.metrics.RecordBalanceCheck(chk.Sufficient)
	return chk, nil
}

// GetCLINStatus returns a CLIN with its derived health.
func (s *FundingService) GetCLINStatus(ctx context.Context, clinID string) (*CLINStatus, error) {
	clin, err := s.repos.Funding.GetCLIN(ctx, clinID)
	if err != nil {
		return nil, err
	}
	pending, err := s.pending(ctx, clin.ID, "")
	if err != nil {
		return nil, err
	}
	return &CLINStatus{CLIN: clin, Pending: pending, Health: funding.Health(clin, pending)}, nil
}

// ListCLINs returns a request's CLINs with derived health.
func (s *FundingService) ListCLINs(ctx context.Context, requestID string) ([]*CLINStatus, error) {
	clins, err := s.repos.Funding.ListCLINsByRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	out := make([]*CLINStatus, 0, len(clins))
	for _, c := range clins {
		pending, err := s.pending(ctx, c.ID, "")
		if err != nil {
			return nil, err
		}
		out = append(out, &CLINStatus{CLIN: c, Pending: pending, Health: funding.Health(c, pending)})
	}
	return out, nil
}

// RecomputeFundingLine rebuilds a funding line's committed amount from its
// CLINs and stores the derived status.
func (s *FundingService) RecomputeFundingLine(ctx context.Context, lineID string) (*domain.FundingLine, error) {
	var line domain.FundingLine
	err := s.repos.Tx.InTransaction(ctx, func(ctx context.Context) error {
		current, err := s.repos.Funding.GetFundingLineForUpdate(ctx, lineID)
		if err != nil {
			return err
		}
		clins, err := s.repos.Funding.ListCLINsByFundingLine(ctx, lineID)
		if err != nil {
			return err
		}
		line = funding.RecomputeFundingLine(*current, clins)
		return s.repos.Funding.UpdateFundingLineTotals(ctx, &line)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("funding_line_id", line.ID).
		Float64("committed", line.CommittedAmount).
		Str("status", line.Status).
		Msg("Funding line recomputed")
	return &line, nil
}

// AuthorizeExecution runs the balance check that gates spend on an approved
// execution request. A covered request is authorized; otherwise it moves to
// funding_action_required with the shortfall recorded and the budget office
// is notified.
func (s *FundingService) AuthorizeExecution(ctx context.Context, executionID string, p approval.Principal) (*ExecutionDecision, error) {
	var (
		out    ExecutionDecision
		events []domain.Notification
	)
	err := s.repos.Tx.InTransaction(ctx, func(ctx context.Context) error {
		e, err := s.repos.Funding.GetExecutionForUpdate(ctx, executionID)
		if err != nil {
			return err
		}
		if e.Status != domain.ExecCTOApproved && e.Status != domain.ExecFundingActionComplete {
			return errors.Conflict(fmt.Sprintf("execution request cannot be authorized from status '%s'", e.Status))
		}

		clin, err := s.repos.Funding.GetCLINForUpdate(ctx, e.CLINID)
		if err != nil {
			return err
		}
		// The request itself already holds funds; leave it out.
		pending, err := s.pending(ctx, clin.ID, e.ID)
		if err != nil {
			return err
		}

		chk := funding.CheckBalance(clin, pending, e.EstimatedCost)
		before := e.Status
		if chk.Sufficient {
			e.Status = domain.ExecAuthorized
			e.FundingStatus = strPtr(fundingSufficient)
			e.FundingActionAmount = nil
		} else {
			e.Status = domain.ExecFundingActionRequired
			e.FundingStatus = strPtr(fundingInsufficient)
			shortfall := chk.Shortfall
			e.FundingActionAmount = &shortfall
			events = append(events, domain.Notification{
				EventType:  domain.EventFundingActionNeeds,
				RequestID:  clin.RequestID,
				ActorID:    p.ID,
				Recipients: []string{budgetRole},
				Severity:   "warning",
				Actionable: true,
				Payload: map[string]interface{}{
					"execution_id":     e.ID,
					"execution_number": e.RequestNumber,
					"clin_id":          clin.ID,
					"clin_number":      clin.CLINNumber,
					"requested":        chk.Requested,
					"available":        chk.Available,
					"shortfall":        chk.Shortfall,
				},
			})
		}
		if err := s.repos.Funding.UpdateExecutionFunding(ctx, e); err != nil {
			return err
		}

		s.appendAudit(ctx, &domain.AuditEntry{
			RequestID:   clin.RequestID,
			EntityType:  "execution_request",
			EntityID:    &e.ID,
			Action:      e.Status,
			PerformedBy: p.ID,
			Metadata: map[string]interface{}{
				"from":      before,
				"clin_id":   clin.ID,
				"requested": chk.Requested,
				"available": chk.Available,
				"shortfall": chk.Shortfall,
			},
		})

		out = ExecutionDecision{Execution: e, Check: chk}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordBalanceCheck(out.Check.Sufficient)
	s.notifyAll(ctx, events)
	return &out, nil
}

// pending sums the CLIN's funds-holding execution requests, leaving out
// exclude.
func (s *FundingService) pending(ctx context.Context, clinID, exclude string) (float64, error) {
	execs, err := s.repos.Funding.ListExecutionsByCLIN(ctx, clinID)
	if err != nil {
		return 0, err
	}
	if exclude != "" {
		kept := execs[:0]
		for _, e := range execs {
			if e.ID != exclude {
				kept = append(kept, e)
			}
		}
		execs = kept
	}
	return funding.PendingCommitments(execs), nil
}
