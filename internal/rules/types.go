// Package rules holds the reference tables that shape an acquisition's
// pipeline: thresholds, classification rules, approval templates, document
// templates and advisory triggers.
package rules

import (
	"time"

	"github.com/pesio-ai/be-acq-requests/internal/engine/condition"
)

// Threshold is one dollar breakpoint row.
type Threshold struct {
	Name          string     `json:"name" yaml:"name"`
	DollarLimit   float64    `json:"dollar_limit" yaml:"dollar_limit"`
	EffectiveDate *time.Time `json:"effective_date,omitempty" yaml:"effective_date,omitempty"`
	EndDate       *time.Time `json:"end_date,omitempty" yaml:"end_date,omitempty"`
	FARReference  string     `json:"far_reference,omitempty" yaml:"far_reference,omitempty"`
	Description   string     `json:"description,omitempty" yaml:"description,omitempty"`
}

// ActiveAt reports whether the row's window covers asOf. Open ends are
// unbounded; the end date is inclusive.
func (t Threshold) ActiveAt(asOf time.Time) bool {
	if t.EffectiveDate != nil && asOf.Before(*t.EffectiveDate) {
		return false
	}
	if t.EndDate != nil && asOf.After(t.EndDate.Add(24*time.Hour-time.Nanosecond)) {
		return false
	}
	return true
}

// ClassificationRule is one intake path. Empty match fields, and the
// wildcard tokens "-", "*" and "any", match every input.
type ClassificationRule struct {
	PathID      string `json:"path_id" yaml:"path_id"`
	NeedType    string `json:"need_type,omitempty" yaml:"need_type,omitempty"`
	Situation   string `json:"situation,omitempty" yaml:"situation,omitempty"`
	VendorKnown string `json:"vendor_known,omitempty" yaml:"vendor_known,omitempty"`
	BuyCategory string `json:"buy_category,omitempty" yaml:"buy_category,omitempty"`

	AcquisitionType     string   `json:"acquisition_type" yaml:"acquisition_type"`
	Pipeline            string   `json:"pipeline" yaml:"pipeline"`
	DocumentSetKey      string   `json:"document_set_key,omitempty" yaml:"document_set_key,omitempty"`
	ApprovalTemplateKey string   `json:"approval_template_key,omitempty" yaml:"approval_template_key,omitempty"`
	AdvisoryTriggers    []string `json:"advisory_triggers,omitempty" yaml:"advisory_triggers,omitempty"`
	Notes               string   `json:"notes,omitempty" yaml:"notes,omitempty"`
}

// ApprovalTemplate is an ordered list of approval gates.
type ApprovalTemplate struct {
	Key          string                 `json:"template_key" yaml:"template_key"`
	Name         string                 `json:"name" yaml:"name"`
	Description  string                 `json:"description,omitempty" yaml:"description,omitempty"`
	PipelineType string                 `json:"pipeline_type" yaml:"pipeline_type"`
	IsDefault    bool                   `json:"is_default" yaml:"is_default"`
	Steps        []ApprovalTemplateStep `json:"steps" yaml:"steps"`
}

// ApprovalTemplateStep defines one gate of a template.
type ApprovalTemplateStep struct {
	StepNumber    int    `json:"step_number" yaml:"step_number"`
	StepName      string `json:"step_name" yaml:"step_name"`
	Gate          string `json:"gate,omitempty" yaml:"gate,omitempty"`
	ApproverRole  string `json:"approver_role" yaml:"approver_role"`
	SLADays       int    `json:"sla_days" yaml:"sla_days"`
	IsConditional bool   `json:"is_conditional" yaml:"is_conditional"`
	Condition     string `json:"condition_rule,omitempty" yaml:"condition_rule,omitempty"`
	EscalationTo  string `json:"escalation_to,omitempty" yaml:"escalation_to,omitempty"`
	Enabled       bool   `json:"is_enabled" yaml:"is_enabled"`
}

// Applicability is the outcome of a document rule.
type Applicability string

const (
	Required    Applicability = "required"
	Conditional Applicability = "conditional"
	Recommended Applicability = "recommended"
	NotRequired Applicability = "not_required"
)

// Requires reports whether the outcome makes the document part of the
// required package.
func (a Applicability) Requires() bool {
	return a == Required || a == Conditional
}

// Valid reports whether a is a known outcome.
func (a Applicability) Valid() bool {
	switch a {
	case Required, Conditional, Recommended, NotRequired:
		return true
	}
	return false
}

// DocumentTemplate is a kind of package document.
type DocumentTemplate struct {
	ID                 string         `json:"id" yaml:"id"`
	DocTypeKey         string         `json:"doc_type_key" yaml:"doc_type_key"`
	Name               string         `json:"name" yaml:"name"`
	Category           string         `json:"category,omitempty" yaml:"category,omitempty"`
	RequiredBeforeGate string         `json:"required_before_gate,omitempty" yaml:"required_before_gate,omitempty"`
	SortOrder          int            `json:"sort_order" yaml:"sort_order"`
	Rules              []DocumentRule `json:"rules" yaml:"rules"`
}

// DocumentRule decides a template's applicability when its condition holds.
type DocumentRule struct {
	ID            string        `json:"id" yaml:"id"`
	Conditions    string        `json:"conditions" yaml:"conditions"`
	Applicability Applicability `json:"applicability" yaml:"applicability"`
	Priority      int           `json:"priority" yaml:"priority"`

	// compiled is nil when Conditions is empty or malformed; such a rule
	// never matches.
	compiled *condition.Expr
}

// Matches evaluates the rule's condition against rec.
func (r DocumentRule) Matches(rec condition.Record) bool {
	if r.compiled == nil {
		return false
	}
	return condition.Evaluate(*r.compiled, rec)
}

// AdvisoryTrigger describes when a specialist team reviews a request.
type AdvisoryTrigger struct {
	TriggerID        string `json:"trigger_id" yaml:"trigger_id"`
	Team             string `json:"team" yaml:"team"`
	TriggerCondition string `json:"trigger_condition,omitempty" yaml:"trigger_condition,omitempty"`
	FeedsIntoGate    string `json:"feeds_into_gate,omitempty" yaml:"feeds_into_gate,omitempty"`
	BlocksGate       bool   `json:"blocks_gate" yaml:"blocks_gate"`
	SLADays          int    `json:"sla_days" yaml:"sla_days"`
	EscalationTo     string `json:"escalation_to,omitempty" yaml:"escalation_to,omitempty"`
}

// Tables is the raw rule set as ingested, in table order.
type Tables struct {
	Thresholds          []Threshold          `json:"thresholds" yaml:"thresholds"`
	ClassificationRules []ClassificationRule `json:"classification_rules" yaml:"classification_rules"`
	ApprovalTemplates   []ApprovalTemplate   `json:"approval_templates" yaml:"approval_templates"`
	DocumentTemplates   []DocumentTemplate   `json:"document_templates" yaml:"document_templates"`
	AdvisoryTriggers    []AdvisoryTrigger    `json:"advisory_triggers" yaml:"advisory_triggers"`
}
