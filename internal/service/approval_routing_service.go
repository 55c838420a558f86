package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/pesio-ai/be-acq-requests/internal/domain"
	"github.com/pesio-ai/be-acq-requests/internal/engine/approval"
	"github.com/pesio-ai/be-acq-requests/internal/engine/checklist"
	"github.com/pesio-ai/be-acq-requests/internal/engine/readiness"
	"github.com/pesio-ai/be-acq-requests/internal/pkg/errors"
	"github.com/pesio-ai/be-acq-requests/internal/pkg/logger"
)

// ApprovalRoutingService orchestrates the multi-gate approval workflow.
type ApprovalRoutingService struct {
	deps
}

// NewApprovalRoutingService creates a new ApprovalRoutingService.
func NewApprovalRoutingService(repos Repositories, catalog CatalogStore, notifier Notifier, opts Options, log *logger.Logger) *ApprovalRoutingService {
	return &ApprovalRoutingService{deps: newDeps(repos, catalog, notifier, opts, log)}
}

// SubmitResult describes a submission.
type SubmitResult struct {
	Request     *domain.AcquisitionRequest `json:"request"`
	Steps       []*domain.ApprovalStep     `json:"steps"`
	Checklist   checklist.Diff             `json:"checklist"`
	Resubmitted bool                       `json:"resubmitted"`
}

// ActInput is one decision on an approval step. StepID may be empty to act
// on the active step.
type ActInput struct {
	RequestID string `json:"request_id" validate:"required"`
	StepID    string `json:"step_id"`
	Action    string `json:"action" validate:"required"`
	Comments  string `json:"comments" validate:"max=4000"`
}

// ActResult describes what a decision changed.
type ActResult struct {
	Request   *domain.AcquisitionRequest `json:"request"`
	Acted     *domain.ApprovalStep       `json:"acted"`
	Activated *domain.ApprovalStep       `json:"activated,omitempty"`
	Completed bool                       `json:"completed"`
}

// ApprovalStatus is a request's approval pipeline at a glance.
type ApprovalStatus struct {
	RequestID     string                 `json:"request_id"`
	RequestStatus string                 `json:"request_status"`
	State         string                 `json:"state"`
	Steps         []*domain.ApprovalStep `json:"steps"`
	Active        *domain.ApprovalStep   `json:"active,omitempty"`
	Overdue       []approval.Overdue     `json:"overdue,omitempty"`
}

// QueueItem is an active step waiting on the caller's role.
type QueueItem struct {
	Step        *domain.ApprovalStep `json:"step"`
	Overdue     bool                 `json:"overdue"`
	DaysOverdue int                  `json:"days_overdue,omitempty"`
}

// ── Submission ────────────────────────────────────────────────────────────────

// SubmitRequest starts the approval pipeline of a classified draft: steps
// are instantiated from the selected template, the checklist is generated,
// advisory reviews are requested and the first enabled step is activated.
// A returned request restarts its existing steps from the first one.
func (s *ApprovalRoutingService) SubmitRequest(ctx context.Context, requestID string, p approval.Principal) (*SubmitResult, error) {
	var (
		out    SubmitResult
		events []domain.Notification
	)
	err := s.repos.Tx.InTransaction(ctx, func(ctx context.Context) error {
		q, err := s.repos.Requests.GetForUpdate(ctx, requestID)
		if err != nil {
			return err
		}
		if !q.Editable() {
			return errors.Conflict(fmt.Sprintf("request cannot be submitted from status '%s'", q.Status))
		}
		if !q.Classified() {
			return errors.InvalidInput("classification", "request must be classified before submission")
		}

		now := s.now()
		var (
			seq     *approval.Sequence
			outcome approval.Outcome
		)
		if q.Status == domain.RequestReturned {
			steps, err := s.repos.Steps.LockByRequest(ctx, q.ID)
			if err != nil {
				return err
			}
			if seq, err = approval.NewSequence(steps, s.adminRole); err != nil {
				return err
			}
			if outcome, err = seq.Reset(now); err != nil {
				return err
			}
			for _, step := range outcome.Changed {
				if err := s.repos.Steps.Update(ctx, step, outcome.Previous[step.ID]); err != nil {
					return err
				}
			}
			out.Resubmitted = true
		} else {
			tmpl, ok := s.catalog.Current().SelectTemplate(q.ApprovalTemplateKey, q.Pipeline)
			if !ok {
				return errors.InvalidInput("approval_template_key",
					fmt.Sprintf("no approval template %q and no default for pipeline %q", q.ApprovalTemplateKey, q.Pipeline))
			}
			steps := approval.Instantiate(tmpl, q, q.ID, now)
			if seq, err = approval.NewSequence(steps, s.adminRole); err != nil {
				return err
			}
			if outcome, err = seq.Start(now); err != nil {
				return err
			}
			if err := s.repos.Steps.CreateBatch(ctx, seq.Steps()); err != nil {
				return err
			}
			q.ApprovalTemplateKey = tmpl.Key
		}

		if out.Checklist, err = s.reconcileChecklist(ctx, q); err != nil {
			return err
		}
		advisoryEvents, err := s.requestAdvisories(ctx, q, p.ID)
		if err != nil {
			return err
		}

		before := q.Status
		q.Status = outcome.RequestStatus
		if err := s.repos.Requests.Update(ctx, q); err != nil {
			return err
		}

		action := "submitted"
		if out.Resubmitted {
			action = "resubmitted"
		}
		s.appendAudit(ctx, &domain.AuditEntry{
			RequestID:           q.ID,
			EntityType:          "request",
			EntityID:            &q.ID,
			Action:              action,
			PerformedBy:         p.ID,
			RequestStatusBefore: &before,
			RequestStatusAfter:  &q.Status,
			Metadata: map[string]interface{}{
				"template_key": q.ApprovalTemplateKey,
				"steps":        len(seq.Steps()),
			},
		})

		events = append(events, requestEvent(domain.EventRequestSubmitted, q, p.ID, "info", map[string]interface{}{
			"resubmitted": out.Resubmitted,
		}))
		if outcome.Activated != nil {
			events = append(events, approvalRequiredEvent(q, outcome.Activated, p.ID))
		}
		if outcome.Completed {
			events = append(events, requestEvent(domain.EventRequestApproved, q, p.ID, "info", nil))
		}
		events = append(events, advisoryEvents...)

		out.Request = q
		out.Steps = seq.Steps()
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("request_id", requestID).
		Str("status", out.Request.Status).
		Int("total_steps", len(out.Steps)).
		Bool("resubmitted", out.Resubmitted).
		Msg("Request submitted for approval")

	s.notifyAll(ctx, events)
	return &out, nil
}

// ── Decisions ─────────────────────────────────────────────────────────────────

// ActOnStep approves, rejects or returns the active step. Approval requires
// the step's gate to be ready. Steps are locked for the duration and written
// only if their stored status is unchanged, so two concurrent decisions on
// one step cannot both succeed.
func (s *ApprovalRoutingService) ActOnStep(ctx context.Context, in ActInput, p approval.Principal) (result *ActResult, err error) {
	defer func() {
		code := "ok"
		if err != nil {
			code = errors.CodeOf(err)
		}
		s.metrics.RecordApprovalAction(strings.ToLower(in.Action), code)
	}()

	if err := validateInput(in); err != nil {
		return nil, err
	}
	action, err := approval.ParseAction(in.Action)
	if err != nil {
		return nil, err
	}
	if action != approval.ActionApprove && strings.TrimSpace(in.Comments) == "" {
		return nil, errors.InvalidInput("comments", fmt.Sprintf("comments are required to %s a step", action))
	}

	var (
		out    ActResult
		events []domain.Notification
	)
	err = s.repos.Tx.InTransaction(ctx, func(ctx context.Context) error {
		q, err := s.repos.Requests.GetForUpdate(ctx, in.RequestID)
		if err != nil {
			return err
		}
		if q.Status != domain.RequestInReview {
			return errors.Conflict(fmt.Sprintf("request is %s, not in review", q.Status))
		}

		steps, err := s.repos.Steps.LockByRequest(ctx, q.ID)
		if err != nil {
			return err
		}
		seq, err := approval.NewSequence(steps, s.adminRole)
		if err != nil {
			return err
		}

		now := s.now()
		outcome, err := seq.Apply(approval.Command{
			Action:    action,
			StepID:    in.StepID,
			Principal: p,
			Comments:  strings.TrimSpace(in.Comments),
		}, now)
		if err != nil {
			return err
		}

		if action == approval.ActionApprove {
			gate := s.stepGate(outcome.Acted)
			ready, err := s.gateReadiness(ctx, q, gate)
			if err != nil {
				return err
			}
			if !ready.Ready {
				return gateNotReady(ready)
			}
		}

		for _, step := range outcome.Changed {
			if err := s.repos.Steps.Update(ctx, step, outcome.Previous[step.ID]); err != nil {
				return err
			}
		}

		before := q.Status
		if outcome.RequestStatus != "" && outcome.RequestStatus != q.Status {
			if err := s.repos.Requests.UpdateStatus(ctx, q.ID, q.Status, outcome.RequestStatus); err != nil {
				return err
			}
			q.Status = outcome.RequestStatus
		}

		s.appendAudit(ctx, &domain.AuditEntry{
			RequestID:           q.ID,
			EntityType:          "approval_step",
			EntityID:            &outcome.Acted.ID,
			Action:              outcome.Acted.Status,
			PerformedBy:         p.ID,
			RequestStatusBefore: &before,
			RequestStatusAfter:  &q.Status,
			Metadata: map[string]interface{}{
				"step_number": outcome.Acted.StepNumber,
				"step_name":   outcome.Acted.StepName,
				"gate":        outcome.Acted.Gate,
				"role":        p.Role,
				"comments":    in.Comments,
			},
		})

		events = decisionEvents(q, action, outcome, p.ID)
		out = ActResult{Request: q, Acted: outcome.Acted, Activated: outcome.Activated, Completed: outcome.Completed}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("request_id", in.RequestID).
		Str("step_id", out.Acted.ID).
		Str("action", string(action)).
		Str("request_status", out.Request.Status).
		Msg("Approval step decided")

	s.notifyAll(ctx, events)
	return &out, nil
}

func decisionEvents(q *domain.AcquisitionRequest, action approval.Action, outcome approval.Outcome, actorID string) []domain.Notification {
	step := outcome.Acted
	stepInfo := map[string]interface{}{
		"step_number": step.StepNumber,
		"step_name":   step.StepName,
	}
	if step.Comments != nil {
		stepInfo["comments"] = *step.Comments
	}

	switch action {
	case approval.ActionReject:
		return []domain.Notification{requestEvent(domain.EventRequestRejected, q, actorID, "warning", stepInfo)}
	case approval.ActionReturn:
		n := requestEvent(domain.EventRequestReturned, q, actorID, "warning", stepInfo)
		n.Actionable = true
		return []domain.Notification{n}
	}

	events := []domain.Notification{requestEvent(domain.EventStepApproved, q, actorID, "info", stepInfo)}
	if outcome.Activated != nil {
		events = append(events, approvalRequiredEvent(q, outcome.Activated, actorID))
	}
	if outcome.Completed {
		events = append(events, requestEvent(domain.EventRequestApproved, q, actorID, "info", nil))
	}
	return events
}

// gateNotReady turns a failed readiness check into a conflict listing the
// blockers.
func gateNotReady(res readiness.Result) error {
	reasons := make([]string, 0, len(res.Blockers))
	for _, b := range res.Blockers {
		reasons = append(reasons, b.Reason)
	}
	err := errors.Conflict(fmt.Sprintf("gate %s is not ready: %s", res.Gate, strings.Join(reasons, "; "))).
		WithDetail("gate", res.Gate).
		WithDetail("blockers", strconv.Itoa(len(res.Blockers)))
	return err
}

// ── Query helpers ─────────────────────────────────────────────────────────────

// GetApprovalStatus returns a request's steps, the active one and any that
// are overdue.
func (s *ApprovalRoutingService) GetApprovalStatus(ctx context.Context, requestID string) (*ApprovalStatus, error) {
	q, err := s.repos.Requests.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	steps, err := s.repos.Steps.ListByRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	seq, err := approval.NewSequence(steps, s.adminRole)
	if err != nil {
		return nil, err
	}

	status := &ApprovalStatus{
		RequestID:     q.ID,
		RequestStatus: q.Status,
		State:         seq.State(),
		Steps:         seq.Steps(),
		Overdue:       approval.FindOverdue(seq.Steps(), s.now()),
	}
	if active, ok := seq.Active(); ok {
		status.Active = active
	}
	return status, nil
}

// ApprovalQueue returns the active steps waiting on the principal's role.
// The admin role sees every active step.
func (s *ApprovalRoutingService) ApprovalQueue(ctx context.Context, p approval.Principal) ([]QueueItem, error) {
	if p.Role == "" {
		return nil, errors.Forbidden("a role is required to read the approval queue")
	}
	role := p.Role
	if s.adminRole != "" && role == s.adminRole {
		role = ""
	}

	steps, err := s.repos.Steps.ListActiveByRole(ctx, role)
	if err != nil {
		return nil, err
	}

	now := s.now()
	overdue := make(map[*domain.ApprovalStep]approval.Overdue)
	for _, o := range approval.FindOverdue(steps, now) {
		overdue[o.Step] = o
	}

	items := make([]QueueItem, 0, len(steps))
	for _, step := range steps {
		item := QueueItem{Step: step}
		if o, ok := overdue[step]; ok {
			item.Overdue = true
			item.DaysOverdue = o.DaysOverdue
		}
		items = append(items, item)
	}
	return items, nil
}

// GetApprovalHistory returns the full audit trail for a request.
func (s *ApprovalRoutingService) GetApprovalHistory(ctx context.Context, requestID string) ([]*domain.AuditEntry, error) {
	if _, err := s.repos.Requests.GetByID(ctx, requestID); err != nil {
		return nil, err
	}
	return s.repos.Audit.ListByRequest(ctx, requestID)
}
