package classify

import (
	"strings"
	"unicode"

	"github.com/pesio-ai/be-acq-requests/internal/rules"
)

// Need types.
const (
	NeedNew            = "new"
	NeedContinueExtend = "continue_extend"
	NeedChangeExisting = "change_existing"
)

// IntakeAnswers are the questionnaire answers that drive classification.
type IntakeAnswers struct {
	NeedType         string `json:"need_type"`
	Situation        string `json:"situation,omitempty"`
	VendorKnown      string `json:"vendor_known,omitempty"`
	ChangeType       string `json:"change_type,omitempty"`
	BuyCategory      string `json:"buy_category,omitempty"`
	MixedPredominant string `json:"mixed_predominant,omitempty"`
}

// EffectiveSituation is the answer compared against a row's situation: the
// change type for changes to an existing contract, the situation otherwise.
func (a IntakeAnswers) EffectiveSituation() string {
	if a.NeedType == NeedChangeExisting && a.ChangeType != "" {
		return a.ChangeType
	}
	return a.Situation
}

// situationAliases maps rule-table situation labels to wizard keys.
var situationAliases = map[string]string{
	"no specific vendor":             "no_specific_vendor",
	"specific vendor required":       "specific_vendor",
	"option years remaining":         "options_remaining",
	"expiring, want same contractor": "expiring_same_vendor",
	"expiring, should compete":       "expiring_compete",
	"need bridge for re-compete":     "need_bridge",
	"contract expired (gap)":         "expired_gap",
	"odc clin execution":             "odc_clin",
	"travel clin execution":          "travel_clin",
	"odc clin — insufficient funds":  "odc_clin_insufficient",
	"add scope / increase funding":   "add_scope",
	"admin correction":               "admin_correction",
	"move $ between clins":           "clin_reallocation",
}

// SituationKey returns the wizard key for a rule-table situation label.
func SituationKey(label string) string {
	folded := strings.ToLower(strings.TrimSpace(label))
	if key, ok := situationAliases[folded]; ok {
		return key
	}
	return folded
}

// Token folds s to lower case with every run of spaces and punctuation
// collapsed to a single underscore.
func Token(s string) string {
	var b strings.Builder
	pending := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pending && b.Len() > 0 {
				b.WriteByte('_')
			}
			pending = false
			b.WriteRune(r)
			continue
		}
		pending = true
	}
	return b.String()
}

// FoldVendorKnown collapses the vendor-known answer onto the rule table's
// yes/no column.
func FoldVendorKnown(answer string) string {
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "":
		return ""
	case "yes", "yes_sole":
		return "yes"
	case "yes_limited", "no", "not_sure":
		return "no"
	}
	return strings.ToLower(strings.TrimSpace(answer))
}

func wildcard(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "-", "*", "any":
		return true
	}
	return false
}

// Score weights.
const (
	scoreNeedType    = 1
	scoreSituation   = 2
	scoreVendorKnown = 1
	scoreBuyCategory = 1
)

// MatchPath returns the highest scoring row compatible with in. A row field
// that is not a wildcard and disagrees with a present answer eliminates the
// row; a specified need type eliminates it even when the answer is absent.
// Equal scores keep the earlier row.
func MatchPath(rows []rules.ClassificationRule, in IntakeAnswers) (rules.ClassificationRule, bool) {
	best, bestScore := -1, -1
	for i, row := range rows {
		score, ok := scoreRow(row, in)
		if ok && score > bestScore {
			best, bestScore = i, score
		}
	}
	if best < 0 {
		return rules.ClassificationRule{}, false
	}
	return rows[best], true
}

func scoreRow(row rules.ClassificationRule, in IntakeAnswers) (int, bool) {
	score := 0

	if !wildcard(row.NeedType) {
		if Token(row.NeedType) != Token(in.NeedType) {
			return 0, false
		}
		score += scoreNeedType
	}

	if !wildcard(row.Situation) {
		if answer := in.EffectiveSituation(); answer != "" {
			if !situationMatches(row.Situation, answer) {
				return 0, false
			}
			score += scoreSituation
		}
	}

	if !wildcard(row.VendorKnown) {
		if answer := FoldVendorKnown(in.VendorKnown); answer != "" {
			if strings.ToLower(strings.TrimSpace(row.VendorKnown)) != answer {
				return 0, false
			}
			score += scoreVendorKnown
		}
	}

	if !wildcard(row.BuyCategory) {
		if answer := in.BuyCategory; answer != "" {
			if Token(row.BuyCategory) != Token(answer) {
				return 0, false
			}
			score += scoreBuyCategory
		}
	}

	return score, true
}

// situationMatches accepts the alias dictionary, the canonical token or the
// raw label.
func situationMatches(label, answer string) bool {
	if answer == label {
		return true
	}
	if strings.ToLower(answer) == SituationKey(label) {
		return true
	}
	return Token(answer) == Token(label)
}
