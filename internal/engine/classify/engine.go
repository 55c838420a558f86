// Package classify turns intake answers and an estimated value into an
// acquisition classification.
package classify

import (
	"time"

	"github.com/pesio-ai/be-acq-requests/internal/rules"
)

// Source values on a Result.
const (
	SourceRule     = "rule"
	SourceFallback = "fallback"
)

// Result is a complete classification.
type Result struct {
	AcquisitionType       string   `json:"acquisition_type"`
	Tier                  Tier     `json:"tier"`
	Pipeline              string   `json:"pipeline"`
	ContractCharacter     string   `json:"contract_character"`
	RequirementsDocType   string   `json:"requirements_doc_type"`
	SCLSApplicable        bool     `json:"scls_applicable"`
	QASPRequired          bool     `json:"qasp_required"`
	EvaluationApproach    string   `json:"evaluation_approach"`
	UrgencyFlag           bool     `json:"urgency_flag"`
	MarketResearchPending bool     `json:"market_research_pending"`
	ApprovalTemplateKey   string   `json:"approval_template_key,omitempty"`
	DocumentSetKey        string   `json:"document_set_key,omitempty"`
	AdvisoryTriggers      []string `json:"advisory_triggers,omitempty"`
	MatchedPathID         string   `json:"matched_path_id,omitempty"`
	Source                string   `json:"source"`
}

// CatalogSource supplies the rule catalog in effect.
type CatalogSource interface {
	Current() *rules.Catalog
}

// Engine classifies requests against the current rule catalog.
type Engine struct {
	source CatalogSource
	now    func() time.Time
}

// NewEngine creates an engine reading rules from source.
func NewEngine(source CatalogSource) *Engine {
	return &Engine{source: source, now: time.Now}
}

// Classify classifies answers at the current time. It never fails: missing
// answers and an empty rule set fall back to the built-in decision table.
func (e *Engine) Classify(answers IntakeAnswers, estimatedValue float64) Result {
	return e.ClassifyAt(answers, estimatedValue, e.now())
}

// ClassifyAt classifies answers with thresholds resolved as of asOf.
func (e *Engine) ClassifyAt(answers IntakeAnswers, estimatedValue float64, asOf time.Time) Result {
	var (
		thresholdRows []rules.Threshold
		pathRows      []rules.ClassificationRule
	)
	if e.source != nil {
		if c := e.source.Current(); c != nil {
			thresholdRows = c.Thresholds()
			pathRows = c.ClassificationRules()
		}
	}

	tier := ResolveThresholds(thresholdRows, asOf).Tier(estimatedValue)
	res := Result{Tier: tier}

	if row, ok := MatchPath(pathRows, answers); ok {
		res.AcquisitionType = row.AcquisitionType
		res.Pipeline = row.Pipeline
		res.ApprovalTemplateKey = row.ApprovalTemplateKey
		res.DocumentSetKey = row.DocumentSetKey
		res.AdvisoryTriggers = append([]string(nil), row.AdvisoryTriggers...)
		res.MatchedPathID = row.PathID
		res.Source = SourceRule
	} else {
		res.AcquisitionType = FallbackAcquisitionType(answers)
		res.Pipeline = FallbackPipeline(res.AcquisitionType, tier)
		res.Source = SourceFallback
	}

	res.ContractCharacter = ContractCharacter(answers.BuyCategory, answers.MixedPredominant)
	res.RequirementsDocType = RequirementsDocType(res.ContractCharacter, answers.BuyCategory)
	res.SCLSApplicable = ServiceLike(res.ContractCharacter)
	res.QASPRequired = res.SCLSApplicable && tier.AtOrAboveSAT()
	res.EvaluationApproach = EvaluationApproach(res.ContractCharacter, answers.BuyCategory)

	res.UrgencyFlag = answers.NeedType == NeedContinueExtend && answers.Situation == "expired_gap"
	res.MarketResearchPending = answers.NeedType == NeedNew && answers.VendorKnown == "not_sure"

	return res
}

// FallbackAcquisitionType is the fixed decision table used when no rule row
// matches.
func FallbackAcquisitionType(a IntakeAnswers) string {
	switch a.NeedType {
	case NeedNew:
		if a.VendorKnown == "yes" || a.VendorKnown == "yes_sole" {
			return "brand_name"
		}
		return "new_competitive"
	case NeedContinueExtend:
		switch a.Situation {
		case "expiring_same_vendor":
			return "follow_on_sole_source"
		case "expiring_compete":
			return "recompete"
		case "need_bridge":
			return "bridge_extension"
		case "expired_gap":
			return "new_competitive_urgency"
		}
		return "option_exercise"
	case NeedChangeExisting:
		switch a.ChangeType {
		case "admin_correction":
			return "unilateral_mod"
		case "clin_reallocation":
			return "clin_reallocation"
		}
		return "bilateral_mod"
	}
	return "new_competitive"
}

// FallbackPipeline derives the pipeline when no rule row matches.
func FallbackPipeline(acquisitionType string, tier Tier) string {
	if tier == TierMicro {
		return "micro"
	}
	switch acquisitionType {
	case "option_exercise", "bridge_extension":
		return "abbreviated"
	case "unilateral_mod", "clin_reallocation":
		return "ko_only"
	}
	if tier == TierAboveSAT || tier == TierMajor {
		return "full"
	}
	return "abbreviated"
}

// ContractCharacter derives product/service character from the buy
// category; mixed buys split on the predominant element.
func ContractCharacter(buyCategory, mixedPredominant string) string {
	switch buyCategory {
	case "product", "software_license":
		return "product"
	case "service":
		return "service"
	case "mixed":
		if mixedPredominant == "predominantly_product" {
			return "mixed_product"
		}
		return "mixed_service"
	}
	return "service"
}

// ServiceLike reports whether the character is service or service-led.
func ServiceLike(character string) bool {
	return character == "service" || character == "mixed_service"
}

// RequirementsDocType picks the requirements document for a character.
func RequirementsDocType(character, buyCategory string) string {
	if buyCategory == "software_license" {
		return "description"
	}
	switch character {
	case "product", "mixed_product":
		return "specification"
	}
	return "pws"
}

// EvaluationApproach is LPTA for pure product and software buys.
func EvaluationApproach(character, buyCategory string) string {
	if character == "product" || buyCategory == "software_license" {
		return "lpta"
	}
	return "best_value"
}
