package domain

import "time"

// ── Cost line items and funding ─────────────────────────────────────────────

// Severability determinations.
const (
	SeverabilitySevered    = "severable"
	SeverabilityNonSevered = "non_severable"
	SeverabilityTBD        = "tbd"
	SeverabilityNA         = "na"
)

// CLIN is a priced line item of a request. Balance and health are derived,
// never stored.
type CLIN struct {
	ID             string    `json:"id"`
	RequestID      string    `json:"request_id"`
	CLINNumber     string    `json:"clin_number"`
	Description    *string   `json:"description"`
	CLINType       *string   `json:"clin_type"` // product | service | software_license | data
	PSCCode        *string   `json:"psc_code"`
	FundingLineID  *string   `json:"funding_line_id"`
	EstimatedValue float64   `json:"estimated_value"`
	Severability   *string   `json:"severability"` // severable | non_severable | tbd | na
	Ceiling        float64   `json:"ceiling"`
	Obligated      float64   `json:"obligated"`
	Invoiced       float64   `json:"invoiced"`
	SortOrder      int       `json:"sort_order"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Funding line statuses.
const (
	FundingActive     = "active"
	FundingLowBalance = "low_balance"
	FundingExhausted  = "exhausted"
)

// FundingLine is a line of accounting that CLINs draw on.
type FundingLine struct {
	ID              string    `json:"id"`
	DisplayName     string    `json:"display_name"`
	FiscalYear      *string   `json:"fiscal_year"`
	TotalAllocation float64   `json:"total_allocation"`
	ProjectedAmount float64   `json:"projected_amount"`
	CommittedAmount float64   `json:"committed_amount"`
	ObligatedAmount float64   `json:"obligated_amount"`
	Status          string    `json:"status"` // active | low_balance | exhausted
	UpdatedAt       time.Time `json:"updated_at"`
}

// Available is the unspent headroom on the line.
func (f *FundingLine) Available() float64 {
	return f.TotalAllocation - f.ProjectedAmount - f.CommittedAmount - f.ObligatedAmount
}

// Execution request statuses.
const (
	ExecDraft                 = "draft"
	ExecSubmitted             = "submitted"
	ExecPMApproved            = "pm_approved"
	ExecCTOApproved           = "cto_approved"
	ExecFundingActionRequired = "funding_action_required"
	ExecFundingActionComplete = "funding_action_complete"
	ExecAuthorized            = "authorized"
	ExecExecuting             = "executing"
	ExecInvoiceReceived       = "invoice_received"
	ExecCORValidated          = "cor_validated"
	ExecComplete              = "complete"
	ExecRejected              = "rejected"
	ExecCancelled             = "cancelled"
)

// ExecutionRequest is a spend against a CLIN (ODC purchase or travel).
type ExecutionRequest struct {
	ID                  string    `json:"id"`
	RequestNumber       string    `json:"request_number"`
	ExecutionType       string    `json:"execution_type"` // odc | travel
	ContractID          string    `json:"contract_id"`
	CLINID              string    `json:"clin_id"`
	Title               string    `json:"title"`
	EstimatedCost       float64   `json:"estimated_cost"`
	ActualCost          *float64  `json:"actual_cost"`
	Status              string    `json:"status"`
	FundingStatus       *string   `json:"funding_status"` // sufficient | insufficient | in_progress | complete
	FundingActionAmount *float64  `json:"funding_action_amount"`
	RequestedByID       *string   `json:"requested_by_id"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// HoldsFunds reports whether the request's estimated cost counts against
// its CLIN's available balance: submitted but neither invoiced nor closed.
func (e *ExecutionRequest) HoldsFunds() bool {
	switch e.Status {
	case ExecSubmitted, ExecPMApproved, ExecCTOApproved,
		ExecFundingActionRequired, ExecFundingActionComplete,
		ExecAuthorized, ExecExecuting:
		return true
	}
	return false
}
