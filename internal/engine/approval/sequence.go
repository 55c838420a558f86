// Package approval instantiates approval steps from templates and runs them
// as a linear sequence with at most one active step.
package approval

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/pesio-ai/be-acq-requests/internal/domain"
	"github.com/pesio-ai/be-acq-requests/internal/engine/condition"
	"github.com/pesio-ai/be-acq-requests/internal/pkg/errors"
	"github.com/pesio-ai/be-acq-requests/internal/rules"
)

// Action is a decision a principal takes on the active step.
type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
	ActionReturn  Action = "return"
)

// ParseAction validates a raw action name.
func ParseAction(s string) (Action, error) {
	switch a := Action(strings.ToLower(strings.TrimSpace(s))); a {
	case ActionApprove, ActionReject, ActionReturn:
		return a, nil
	}
	return "", errors.InvalidInput("action", fmt.Sprintf("unknown action %q (expected approve, reject or return)", s))
}

// Principal is the authenticated actor.
type Principal struct {
	ID   string
	Name string
	Role string
}

// Command is one decision on a step. StepID may be empty to act on the
// currently active step.
type Command struct {
	Action    Action
	StepID    string
	Principal Principal
	Comments  string
}

// Outcome describes what Start, Apply or Reset changed.
type Outcome struct {
	// Acted is the step the command decided, nil for Start and Reset.
	Acted *domain.ApprovalStep
	// Activated is the newly active step, if any.
	Activated *domain.ApprovalStep
	// Changed holds every step whose row must be written, in step order.
	Changed []*domain.ApprovalStep
	// Previous maps the ID of each changed step to its status before the
	// change, for optimistic writes.
	Previous map[string]string
	// RequestStatus is the request status the outcome implies.
	RequestStatus string
	Completed     bool
}

// ── Instantiation ────────────────────────────────────────────────────────────

// Instantiate copies a template's steps for one request. A conditional
// step whose condition does not hold is created disabled; the enabled flag
// is fixed at this point and later template edits do not reach it.
func Instantiate(tmpl rules.ApprovalTemplate, rec condition.Record, requestID string, now time.Time) []*domain.ApprovalStep {
	steps := make([]*domain.ApprovalStep, 0, len(tmpl.Steps))
	for _, def := range tmpl.Steps {
		enabled := def.Enabled
		if enabled && def.IsConditional && strings.TrimSpace(def.Condition) != "" {
			enabled = condition.EvaluateJSON(def.Condition, rec)
		}
		step := &domain.ApprovalStep{
			RequestID:    requestID,
			TemplateKey:  tmpl.Key,
			StepNumber:   def.StepNumber,
			StepName:     def.StepName,
			Gate:         def.Gate,
			ApproverRole: def.ApproverRole,
			SLADays:      def.SLADays,
			Enabled:      enabled,
			Status:       domain.StepPending,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if def.EscalationTo != "" {
			esc := def.EscalationTo
			step.EscalationTo = &esc
		}
		steps = append(steps, step)
	}
	return steps
}

// ── Sequence ─────────────────────────────────────────────────────────────────

// Sequence is a request's ordered steps plus the index of the active one
// (-1 when none is active). All mutation goes through Start, Apply and
// Reset, which read the active index, check it and write it in one call.
type Sequence struct {
	steps     []*domain.ApprovalStep
	active    int
	adminRole string
}

// NewSequence orders steps by step number and locates the active step. More
// than one active step is a corrupted sequence and is reported as a
// conflict.
func NewSequence(steps []*domain.ApprovalStep, adminRole string) (*Sequence, error) {
	ordered := append([]*domain.ApprovalStep(nil), steps...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].StepNumber < ordered[j].StepNumber })

	active := -1
	for i, s := range ordered {
		if s.Status != domain.StepActive {
			continue
		}
		if active >= 0 {
			return nil, errors.Conflict(fmt.Sprintf("steps %d and %d are both active", ordered[active].StepNumber, s.StepNumber))
		}
		active = i
	}
	return &Sequence{steps: ordered, active: active, adminRole: adminRole}, nil
}

// Steps returns the steps in order. The slice is shared.
func (q *Sequence) Steps() []*domain.ApprovalStep { return q.steps }

// Active returns the active step.
func (q *Sequence) Active() (*domain.ApprovalStep, bool) {
	if q.active < 0 {
		return nil, false
	}
	return q.steps[q.active], true
}

// State summarises the sequence: not_started, in_progress, approved,
// rejected or returned.
func (q *Sequence) State() string {
	if q.active >= 0 {
		return "in_progress"
	}
	started := false
	for _, s := range q.steps {
		switch s.Status {
		case domain.StepRejected:
			return domain.RequestRejected
		case domain.StepReturned:
			return domain.RequestReturned
		case domain.StepApproved, domain.StepSkipped:
			started = true
		}
	}
	if started && q.remaining(0) < 0 {
		return domain.RequestApproved
	}
	return "not_started"
}

// remaining returns the index of the first enabled, undecided step at or
// after from, or -1.
func (q *Sequence) remaining(from int) int {
	for i := from; i < len(q.steps); i++ {
		s := q.steps[i]
		if s.Enabled && (s.Status == domain.StepPending || s.Status == domain.StepActive) {
			return i
		}
	}
	return -1
}

// Start activates the first enabled step. A sequence with no enabled step
// completes at once.
func (q *Sequence) Start(now time.Time) (Outcome, error) {
	if q.active >= 0 {
		return Outcome{}, errors.Conflict(fmt.Sprintf("step %d is already active", q.steps[q.active].StepNumber))
	}
	for _, s := range q.steps {
		if s.Decided() {
			return Outcome{}, errors.Conflict(fmt.Sprintf("step %d is already %s", s.StepNumber, s.Status))
		}
	}
	out := Outcome{Previous: map[string]string{}}
	q.advance(0, now, &out)
	return out, nil
}

// Reset returns every step to pending and restarts from the first enabled
// step. Resubmission after a return always restarts the full review rather
// than resuming at the step that returned it.
func (q *Sequence) Reset(now time.Time) (Outcome, error) {
	for _, s := range q.steps {
		if s.Status == domain.StepRejected {
			return Outcome{}, errors.Conflict(fmt.Sprintf("step %d was rejected; the request cannot be resubmitted", s.StepNumber))
		}
	}
	out := Outcome{Previous: map[string]string{}}
	for _, s := range q.steps {
		if s.Status == domain.StepPending {
			continue
		}
		out.record(s)
		s.Status = domain.StepPending
		s.ActivatedAt, s.DueAt, s.ActedAt = nil, nil, nil
		s.ActedBy, s.ActedByID, s.Comments = nil, nil, nil
		s.UpdatedAt = now
	}
	q.active = -1
	q.advance(0, now, &out)
	return out, nil
}

// Apply performs one decision. The targeted step must exist, be the active
// step and be owned by the principal's role (or the admin role).
func (q *Sequence) Apply(cmd Command, now time.Time) (Outcome, error) {
	action, err := ParseAction(string(cmd.Action))
	if err != nil {
		return Outcome{}, err
	}

	idx := q.active
	if cmd.StepID != "" {
		idx = -1
		for i, s := range q.steps {
			if s.ID == cmd.StepID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return Outcome{}, errors.NotFound("approval_step", cmd.StepID)
		}
	}
	if idx < 0 {
		return Outcome{}, errors.Conflict(fmt.Sprintf("no active approval step (pipeline is %s)", q.State()))
	}

	step := q.steps[idx]
	if step.Status != domain.StepActive {
		return Outcome{}, errors.Conflict(fmt.Sprintf("step %d (%s) is %s, not active", step.StepNumber, step.StepName, step.Status))
	}
	if err := Authorize(step, cmd.Principal, q.adminRole); err != nil {
		return Outcome{}, err
	}

	out := Outcome{Acted: step, Previous: map[string]string{}}
	out.record(step)
	step.ActedAt = &now
	step.UpdatedAt = now
	if cmd.Principal.Name != "" {
		name := cmd.Principal.Name
		step.ActedBy = &name
	}
	if cmd.Principal.ID != "" {
		id := cmd.Principal.ID
		step.ActedByID = &id
		if step.ActedBy == nil {
			step.ActedBy = &id
		}
	}
	if cmd.Comments != "" {
		c := cmd.Comments
		step.Comments = &c
	}
	q.active = -1

	switch action {
	case ActionApprove:
		step.Status = domain.StepApproved
		q.advance(idx+1, now, &out)
	case ActionReject:
		step.Status = domain.StepRejected
		out.RequestStatus = domain.RequestRejected
	case ActionReturn:
		step.Status = domain.StepReturned
		out.RequestStatus = domain.RequestReturned
	}
	return out, nil
}

// advance activates the first enabled pending step at or after from,
// marking disabled steps passed over as skipped. With none left the
// sequence is complete.
func (q *Sequence) advance(from int, now time.Time, out *Outcome) {
	for i := from; i < len(q.steps); i++ {
		s := q.steps[i]
		if s.Status != domain.StepPending {
			continue
		}
		if !s.Enabled {
			out.record(s)
			s.Status = domain.StepSkipped
			s.UpdatedAt = now
			continue
		}
		out.record(s)
		s.Status = domain.StepActive
		s.ActivatedAt = &now
		due := now.AddDate(0, 0, s.SLADays)
		s.DueAt = &due
		s.UpdatedAt = now
		q.active = i
		out.Activated = s
		out.RequestStatus = domain.RequestInReview
		return
	}
	out.Completed = true
	out.RequestStatus = domain.RequestApproved
}

// record notes s as changed, keeping the status it had before the first
// change.
func (o *Outcome) record(s *domain.ApprovalStep) {
	for _, c := range o.Changed {
		if c == s {
			return
		}
	}
	if s.ID != "" {
		o.Previous[s.ID] = s.Status
	}
	o.Changed = append(o.Changed, s)
}

// ── Authorization and escalation ─────────────────────────────────────────────

// Authorize checks that p may act on step. The admin role acts on any step.
func Authorize(step *domain.ApprovalStep, p Principal, adminRole string) error {
	if p.Role == "" {
		return errors.Forbidden("a role is required to act on approval steps")
	}
	if p.Role == step.ApproverRole || (adminRole != "" && p.Role == adminRole) {
		return nil
	}
	return errors.Forbidden(fmt.Sprintf("step %d (%s) requires role %q, caller has %q",
		step.StepNumber, step.StepName, step.ApproverRole, p.Role))
}

// Overdue is an active step past its due date together with the role it
// escalates to.
type Overdue struct {
	Step         *domain.ApprovalStep
	DaysOverdue  int
	EscalationTo string
}

// FindOverdue reports the overdue steps among steps. Nothing is changed.
func FindOverdue(steps []*domain.ApprovalStep, now time.Time) []Overdue {
	var out []Overdue
	for _, s := range steps {
		if !s.Overdue(now) {
			continue
		}
		o := Overdue{Step: s, DaysOverdue: int(now.Sub(*s.DueAt).Hours() / 24)}
		if s.EscalationTo != nil {
			o.EscalationTo = *s.EscalationTo
		}
		out = append(out, o)
	}
	return out
}
