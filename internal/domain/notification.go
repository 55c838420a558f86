package domain

// Notification event types.
const (
	EventRequestSubmitted   = "request_submitted"
	EventApprovalRequired   = "approval_required"
	EventStepApproved       = "step_approved"
	EventRequestApproved    = "request_approved"
	EventRequestRejected    = "request_rejected"
	EventRequestReturned    = "request_returned"
	EventChecklistChanged   = "checklist_changed"
	EventAdvisoryRequested  = "advisory_requested"
	EventAdvisoryCompleted  = "advisory_completed"
	EventStepOverdue        = "step_overdue"
	EventFundingActionNeeds = "funding_action_required"
)

// Notification is a status-transition event for the notification service.
// Recipients are roles; the notification service resolves them to people.
type Notification struct {
	EventType  string                 `json:"event_type"`
	RequestID  string                 `json:"request_id"`
	ActorID    string                 `json:"actor_id,omitempty"`
	Recipients []string               `json:"recipients"`
	Severity   string                 `json:"severity,omitempty"`
	Actionable bool                   `json:"is_actionable,omitempty"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
}
