// Package domain defines the entities shared by the engines, the
// repositories and the services.
package domain

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pesio-ai/be-acq-requests/internal/pkg/errors"
)

// ── Acquisition requests ────────────────────────────────────────────────────

// Request statuses.
const (
	RequestDraft     = "draft"
	RequestSubmitted = "submitted"
	RequestInReview  = "in_review"
	RequestApproved  = "approved"
	RequestReturned  = "returned"
	RequestRejected  = "rejected"
	RequestAwarded   = "awarded"
	RequestClosed    = "closed"
	RequestCancelled = "cancelled"
)

// AcquisitionRequest is the unit of work that moves through the pipeline.
type AcquisitionRequest struct {
	ID             string  `json:"id"`
	RequestNumber  string  `json:"request_number"`
	Title          string  `json:"title"`
	Description    *string `json:"description"`
	EstimatedValue float64 `json:"estimated_value"`
	FiscalYear     *string `json:"fiscal_year"`
	Priority       string  `json:"priority"` // critical | high | medium | low
	NeedByDate     *string `json:"need_by_date"`
	Status         string  `json:"status"`

	// Intake questionnaire
	NeedType         string `json:"intake_q1_need_type"` // new | continue_extend | change_existing
	Situation        string `json:"intake_q2_situation"`
	VendorKnown      string `json:"intake_q3_specific_vendor"` // yes | yes_sole | yes_limited | no | not_sure
	ExistingVehicle  string `json:"intake_q4_existing_vehicle"`
	ChangeType       string `json:"intake_q5_change_type"`      // add_scope | admin_correction | clin_reallocation | descope
	BuyCategory      string `json:"intake_q_buy_category"`      // product | service | software_license | mixed
	MixedPredominant string `json:"intake_q_mixed_predominant"` // predominantly_product | predominantly_service | roughly_equal

	// Derived classification
	AcquisitionType       string     `json:"derived_acquisition_type"`
	Tier                  string     `json:"derived_tier"`
	Pipeline              string     `json:"derived_pipeline"`
	ContractCharacter     string     `json:"derived_contract_character"`
	RequirementsDocType   string     `json:"derived_requirements_doc_type"`
	SCLSApplicable        bool       `json:"derived_scls_applicable"`
	QASPRequired          bool       `json:"derived_qasp_required"`
	EvaluationApproach    string     `json:"derived_eval_approach"`
	UrgencyFlag           bool       `json:"urgency_flag"`
	MarketResearchPending bool       `json:"market_research_pending"`
	ApprovalTemplateKey   string     `json:"approval_template_key"`
	DocumentSetKey        string     `json:"document_set_key"`
	AdvisoryTriggers      []string   `json:"advisory_triggers"`
	MatchedPathID         string     `json:"matched_path_id"`
	ClassificationSource  string     `json:"classification_source"` // rule | fallback
	ClassifiedAt          *time.Time `json:"classified_at"`

	// Existing contract
	ExistingContractNumber  *string  `json:"existing_contract_number"`
	ExistingContractVendor  *string  `json:"existing_contract_vendor"`
	ExistingContractValue   *float64 `json:"existing_contract_value"`
	ExistingContractEndDate *string  `json:"existing_contract_end_date"`
	ExistingContractVehicle *string  `json:"existing_contract_vehicle"`
	OptionsRemaining        *int     `json:"options_remaining"`
	CurrentOptionYear       *int     `json:"current_option_year"`
	CPARSRating             *string  `json:"cpars_rating"`

	// Award
	AwardedDate   *string  `json:"awarded_date"`
	AwardedVendor *string  `json:"awarded_vendor"`
	AwardedAmount *float64 `json:"awarded_amount"`
	PONumber      *string  `json:"po_number"`

	RequestorID   string    `json:"requestor_id"`
	RequestorName *string   `json:"requestor_name"`
	RequestorOrg  *string   `json:"requestor_org"`
	Notes         *string   `json:"notes"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Classified reports whether a classification has been stored.
func (r *AcquisitionRequest) Classified() bool {
	return r.ClassifiedAt != nil && r.AcquisitionType != "" && r.Pipeline != ""
}

// Editable reports whether the requester may still change the request.
func (r *AcquisitionRequest) Editable() bool {
	return r.Status == RequestDraft || r.Status == RequestReturned
}

// Field implements condition.Record. Only the names below are visible to
// rule conditions.
func (r *AcquisitionRequest) Field(name string) (any, bool) {
	get, ok := requestFields[name]
	if !ok {
		return nil, false
	}
	return get(r), true
}

var requestFields = map[string]func(*AcquisitionRequest) any{
	"estimated_value":               func(r *AcquisitionRequest) any { return r.EstimatedValue },
	"fiscal_year":                   func(r *AcquisitionRequest) any { return r.FiscalYear },
	"priority":                      func(r *AcquisitionRequest) any { return r.Priority },
	"status":                        func(r *AcquisitionRequest) any { return r.Status },
	"intake_q1_need_type":           func(r *AcquisitionRequest) any { return r.NeedType },
	"intake_q2_situation":           func(r *AcquisitionRequest) any { return r.Situation },
	"intake_q3_specific_vendor":     func(r *AcquisitionRequest) any { return r.VendorKnown },
	"intake_q4_existing_vehicle":    func(r *AcquisitionRequest) any { return r.ExistingVehicle },
	"intake_q5_change_type":         func(r *AcquisitionRequest) any { return r.ChangeType },
	"intake_q_buy_category":         func(r *AcquisitionRequest) any { return r.BuyCategory },
	"intake_q_mixed_predominant":    func(r *AcquisitionRequest) any { return r.MixedPredominant },
	"derived_acquisition_type":      func(r *AcquisitionRequest) any { return r.AcquisitionType },
	"derived_tier":                  func(r *AcquisitionRequest) any { return r.Tier },
	"derived_pipeline":              func(r *AcquisitionRequest) any { return r.Pipeline },
	"derived_contract_character":    func(r *AcquisitionRequest) any { return r.ContractCharacter },
	"derived_requirements_doc_type": func(r *AcquisitionRequest) any { return r.RequirementsDocType },
	"derived_scls_applicable":       func(r *AcquisitionRequest) any { return r.SCLSApplicable },
	"derived_qasp_required":         func(r *AcquisitionRequest) any { return r.QASPRequired },
	"derived_eval_approach":         func(r *AcquisitionRequest) any { return r.EvaluationApproach },
	"urgency_flag":                  func(r *AcquisitionRequest) any { return r.UrgencyFlag },
	"market_research_pending":       func(r *AcquisitionRequest) any { return r.MarketResearchPending },
	"existing_contract_number":      func(r *AcquisitionRequest) any { return r.ExistingContractNumber },
	"existing_contract_value":       func(r *AcquisitionRequest) any { return r.ExistingContractValue },
	"existing_contract_vehicle":     func(r *AcquisitionRequest) any { return r.ExistingContractVehicle },
	"options_remaining":             func(r *AcquisitionRequest) any { return r.OptionsRemaining },
	"current_option_year":           func(r *AcquisitionRequest) any { return r.CurrentOptionYear },
	"cpars_rating":                  func(r *AcquisitionRequest) any { return r.CPARSRating },
}

// ConditionFields lists the field names rule conditions may reference.
func ConditionFields() []string {
	names := make([]string, 0, len(requestFields))
	for name := range requestFields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ── Updates ─────────────────────────────────────────────────────────────────

type setter func(r *AcquisitionRequest, v any) error

// updatableFields is the complete set of externally mutable fields. Intake
// answers are included; derived fields are written only by classification.
var updatableFields = map[string]setter{
	"title":                      setRequiredString(func(r *AcquisitionRequest) *string { return &r.Title }),
	"description":                setOptionalString(func(r *AcquisitionRequest) **string { return &r.Description }),
	"estimated_value":            setMoney(func(r *AcquisitionRequest) *float64 { return &r.EstimatedValue }),
	"fiscal_year":                setOptionalString(func(r *AcquisitionRequest) **string { return &r.FiscalYear }),
	"priority":                   setEnum(func(r *AcquisitionRequest) *string { return &r.Priority }, "critical", "high", "medium", "low"),
	"need_by_date":               setOptionalString(func(r *AcquisitionRequest) **string { return &r.NeedByDate }),
	"notes":                      setOptionalString(func(r *AcquisitionRequest) **string { return &r.Notes }),
	"requestor_name":             setOptionalString(func(r *AcquisitionRequest) **string { return &r.RequestorName }),
	"requestor_org":              setOptionalString(func(r *AcquisitionRequest) **string { return &r.RequestorOrg }),
	"intake_q1_need_type":        setEnum(func(r *AcquisitionRequest) *string { return &r.NeedType }, "new", "continue_extend", "change_existing"),
	"intake_q2_situation":        setString(func(r *AcquisitionRequest) *string { return &r.Situation }),
	"intake_q3_specific_vendor":  setString(func(r *AcquisitionRequest) *string { return &r.VendorKnown }),
	"intake_q4_existing_vehicle": setString(func(r *AcquisitionRequest) *string { return &r.ExistingVehicle }),
	"intake_q5_change_type":      setString(func(r *AcquisitionRequest) *string { return &r.ChangeType }),
	"intake_q_buy_category":      setEnum(func(r *AcquisitionRequest) *string { return &r.BuyCategory }, "", "product", "service", "software_license", "mixed"),
	"intake_q_mixed_predominant": setString(func(r *AcquisitionRequest) *string { return &r.MixedPredominant }),
	"existing_contract_number":   setOptionalString(func(r *AcquisitionRequest) **string { return &r.ExistingContractNumber }),
	"existing_contract_vendor":   setOptionalString(func(r *AcquisitionRequest) **string { return &r.ExistingContractVendor }),
	"existing_contract_value":    setOptionalMoney(func(r *AcquisitionRequest) **float64 { return &r.ExistingContractValue }),
	"existing_contract_end_date": setOptionalString(func(r *AcquisitionRequest) **string { return &r.ExistingContractEndDate }),
	"existing_contract_vehicle":  setOptionalString(func(r *AcquisitionRequest) **string { return &r.ExistingContractVehicle }),
	"options_remaining":          setOptionalInt(func(r *AcquisitionRequest) **int { return &r.OptionsRemaining }),
	"current_option_year":        setOptionalInt(func(r *AcquisitionRequest) **int { return &r.CurrentOptionYear }),
	"cpars_rating":               setOptionalString(func(r *AcquisitionRequest) **string { return &r.CPARSRating }),
	"awarded_date":               setOptionalString(func(r *AcquisitionRequest) **string { return &r.AwardedDate }),
	"awarded_vendor":             setOptionalString(func(r *AcquisitionRequest) **string { return &r.AwardedVendor }),
	"awarded_amount":             setOptionalMoney(func(r *AcquisitionRequest) **float64 { return &r.AwardedAmount }),
	"po_number":                  setOptionalString(func(r *AcquisitionRequest) **string { return &r.PONumber }),
}

// UpdatableFields lists the names accepted by ApplyUpdates.
func UpdatableFields() []string {
	names := make([]string, 0, len(updatableFields))
	for name := range updatableFields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ApplyUpdates validates every entry of updates against the whitelist and
// its setter, then applies them. Nothing is applied if any entry fails. The
// returned names are the fields whose value changed an intake answer or the
// estimated value, which invalidate the stored classification.
func (r *AcquisitionRequest) ApplyUpdates(updates map[string]any) ([]string, error) {
	names := make([]string, 0, len(updates))
	for name := range updates {
		if _, ok := updatableFields[name]; !ok {
			return nil, errors.InvalidInput(name, fmt.Sprintf("field %q is not updatable", name))
		}
		names = append(names, name)
	}
	sort.Strings(names)

	staged := *r
	for _, name := range names {
		if err := updatableFields[name](&staged, updates[name]); err != nil {
			return nil, errors.InvalidInput(name, err.Error())
		}
	}

	var reclassify []string
	for _, name := range names {
		if name == "estimated_value" || strings.HasPrefix(name, "intake_") {
			reclassify = append(reclassify, name)
		}
	}
	*r = staged
	return reclassify, nil
}

func setString(field func(*AcquisitionRequest) *string) setter {
	return func(r *AcquisitionRequest, v any) error {
		if v == nil {
			*field(r) = ""
			return nil
		}
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("must be a string")
		}
		*field(r) = strings.TrimSpace(s)
		return nil
	}
}

func setRequiredString(field func(*AcquisitionRequest) *string) setter {
	return func(r *AcquisitionRequest, v any) error {
		s, ok := v.(string)
		if !ok || strings.TrimSpace(s) == "" {
			return fmt.Errorf("must be a non-empty string")
		}
		*field(r) = strings.TrimSpace(s)
		return nil
	}
}

func setOptionalString(field func(*AcquisitionRequest) **string) setter {
	return func(r *AcquisitionRequest, v any) error {
		if v == nil {
			*field(r) = nil
			return nil
		}
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("must be a string or null")
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*field(r) = nil
			return nil
		}
		*field(r) = &s
		return nil
	}
}

func setEnum(field func(*AcquisitionRequest) *string, allowed ...string) setter {
	return func(r *AcquisitionRequest, v any) error {
		s, _ := v.(string)
		for _, a := range allowed {
			if s == a {
				*field(r) = s
				return nil
			}
		}
		return fmt.Errorf("must be one of %s", strings.Join(allowed, ", "))
	}
}

func setMoney(field func(*AcquisitionRequest) *float64) setter {
	return func(r *AcquisitionRequest, v any) error {
		f, err := toNumber(v)
		if err != nil {
			return err
		}
		if f < 0 {
			return fmt.Errorf("must not be negative")
		}
		*field(r) = f
		return nil
	}
}

func setOptionalMoney(field func(*AcquisitionRequest) **float64) setter {
	return func(r *AcquisitionRequest, v any) error {
		if v == nil {
			*field(r) = nil
			return nil
		}
		f, err := toNumber(v)
		if err != nil {
			return err
		}
		if f < 0 {
			return fmt.Errorf("must not be negative")
		}
		*field(r) = &f
		return nil
	}
}

func setOptionalInt(field func(*AcquisitionRequest) **int) setter {
	return func(r *AcquisitionRequest, v any) error {
		if v == nil {
			*field(r) = nil
			return nil
		}
		f, err := toNumber(v)
		if err != nil {
			return err
		}
		if f != math.Trunc(f) || f < 0 {
			return fmt.Errorf("must be a non-negative whole number")
		}
		n := int(f)
		*field(r) = &n
		return nil
	}
}

// toNumber accepts finite numbers only; NaN and infinities are rejected.
func toNumber(v any) (float64, error) {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case int:
		f = float64(x)
	case int64:
		f = float64(x)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, fmt.Errorf("must be a number")
		}
		f = parsed
	default:
		return 0, fmt.Errorf("must be a number")
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("must be a finite number")
	}
	return f, nil
}
