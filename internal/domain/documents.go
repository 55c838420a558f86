package domain

import "time"

// ── Package documents and advisory reviews ──────────────────────────────────

// Document statuses.
const (
	DocNotStarted  = "not_started"
	DocInProgress  = "in_progress"
	DocComplete    = "complete"
	DocNotRequired = "not_required"
)

// PackageDocument is a request's instance of a document template. Rows are
// never deleted; a document that stops applying keeps its history and is
// flagged WasRequired.
type PackageDocument struct {
	ID                 string     `json:"id"`
	RequestID          string     `json:"request_id"`
	TemplateID         string     `json:"template_id"`
	DocumentType       string     `json:"document_type"`
	Title              string     `json:"title"`
	Status             string     `json:"status"` // not_started | in_progress | complete | not_required
	RequiredBeforeGate string     `json:"required_before_gate"`
	IsRequired         bool       `json:"is_required"`
	WasRequired        bool       `json:"was_required"`
	Applicability      string     `json:"applicability"`
	AssignedTo         *string    `json:"assigned_to"`
	CompletedAt        *time.Time `json:"completed_at"`
	Notes              *string    `json:"notes"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// Satisfied reports whether the document no longer holds up its gate.
func (d *PackageDocument) Satisfied() bool {
	return d.Status == DocComplete || d.Status == DocNotRequired
}

// Advisory statuses.
const (
	AdvisoryRequested           = "requested"
	AdvisoryInReview            = "in_review"
	AdvisoryCompleteNoIssues    = "complete_no_issues"
	AdvisoryCompleteIssuesFound = "complete_issues_found"
	AdvisoryWaived              = "waived"
	AdvisoryInfoRequested       = "info_requested"
)

// AdvisoryInput is one specialist team's review of a request.
type AdvisoryInput struct {
	ID              string     `json:"id"`
	RequestID       string     `json:"request_id"`
	Team            string     `json:"team"`
	TriggerID       *string    `json:"trigger_id"`
	Status          string     `json:"status"` // requested | in_review | complete_no_issues | complete_issues_found | waived | info_requested
	BlocksGate      *string    `json:"blocks_gate"`
	Findings        *string    `json:"findings"`
	Recommendation  *string    `json:"recommendation"`
	ImpactsStrategy bool       `json:"impacts_strategy"`
	ReviewerID      *string    `json:"reviewer_id"`
	RequestedAt     time.Time  `json:"requested_at"`
	DueAt           *time.Time `json:"due_at"`
	CompletedAt     *time.Time `json:"completed_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Pending reports whether the review is still outstanding.
func (a *AdvisoryInput) Pending() bool {
	return a.Status == AdvisoryRequested || a.Status == AdvisoryInReview
}
