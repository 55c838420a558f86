package domain

import "time"

// ── Approval pipeline ───────────────────────────────────────────────────────

// Step statuses.
const (
	StepPending  = "pending"
	StepActive   = "active"
	StepApproved = "approved"
	StepRejected = "rejected"
	StepReturned = "returned"
	StepSkipped  = "skipped"
)

// ApprovalStep is one gate instantiated for a request from its template.
// Later template edits never reach existing steps.
type ApprovalStep struct {
	ID           string     `json:"id"`
	RequestID    string     `json:"request_id"`
	TemplateKey  string     `json:"template_key"`
	StepNumber   int        `json:"step_number"`
	StepName     string     `json:"step_name"`
	Gate         string     `json:"gate"` // iss | asr | finance | ko_review | legal | cio_approval | senior_review | award
	ApproverRole string     `json:"approver_role"`
	SLADays      int        `json:"sla_days"`
	EscalationTo *string    `json:"escalation_to"`
	Enabled      bool       `json:"enabled"`
	Status       string     `json:"status"` // pending | active | approved | rejected | returned | skipped
	ActivatedAt  *time.Time `json:"activated_at"`
	DueAt        *time.Time `json:"due_at"`
	ActedAt      *time.Time `json:"acted_at"`
	ActedBy      *string    `json:"acted_by"`
	ActedByID    *string    `json:"acted_by_id"`
	Comments     *string    `json:"comments"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Overdue reports whether the step is active past its due date.
func (s *ApprovalStep) Overdue(now time.Time) bool {
	return s.Status == StepActive && s.DueAt != nil && now.After(*s.DueAt)
}

// Decided reports whether the step carries a terminal decision.
func (s *ApprovalStep) Decided() bool {
	switch s.Status {
	case StepApproved, StepRejected, StepReturned:
		return true
	}
	return false
}

// AuditEntry is one immutable record in the audit log.
type AuditEntry struct {
	ID                  string                 `json:"id"`
	RequestID           string                 `json:"request_id"`
	EntityType          string                 `json:"entity_type"` // approval_step | advisory_input | package_document | request | execution_request
	EntityID            *string                `json:"entity_id"`
	Action              string                 `json:"action"`
	PerformedBy         string                 `json:"performed_by"`
	PerformedAt         time.Time              `json:"performed_at"`
	RequestStatusBefore *string                `json:"request_status_before"`
	RequestStatusAfter  *string                `json:"request_status_after"`
	Metadata            map[string]interface{} `json:"metadata"`
}
