package classify

import (
	"strings"
	"time"

	"github.com/pesio-ai/be-acq-requests/internal/rules"
)

// Tier is a dollar-value bracket.
type Tier string

const (
	TierMicro    Tier = "micro"
	TierSAT      Tier = "sat"
	TierAboveSAT Tier = "above_sat"
	TierMajor    Tier = "major"
)

// AtOrAboveSAT reports whether t is the simplified bracket or higher.
func (t Tier) AtOrAboveSAT() bool {
	return t == TierSAT || t == TierAboveSAT || t == TierMajor
}

// Semantic threshold keys.
const (
	KeyMicroPurchase = "micro_purchase"
	KeySimplified    = "simplified_acquisition"
	KeyAboveSAT      = "above_threshold"
	KeyMajorApproval = "major_approval"
)

var defaultThresholds = map[string]float64{
	KeyMicroPurchase: 15000,
	KeySimplified:    350000,
	KeyAboveSAT:      9000000,
	KeyMajorApproval: 900000,
}

// Thresholds is a resolved set of breakpoints.
type Thresholds struct {
	values map[string]float64
}

// DefaultThresholds returns the built-in breakpoints.
func DefaultThresholds() Thresholds {
	return ResolveThresholds(nil, time.Now())
}

// ThresholdKey maps a free-text threshold name to its semantic key. Names
// that match no known key are returned unchanged.
func ThresholdKey(name string) string {
	folded := strings.ToLower(name)
	switch {
	case strings.Contains(folded, "micro"):
		return KeyMicroPurchase
	case strings.Contains(folded, "simplified"):
		return KeySimplified
	case strings.Contains(folded, "above"):
		return KeyAboveSAT
	case strings.Contains(folded, "major"), strings.HasPrefix(folded, "ja_"):
		return KeyMajorApproval
	}
	return name
}

// ResolveThresholds picks one value per key from the rows active at asOf.
// When several active rows map to the same key, the one with the latest
// effective date wins, ties going to the earlier row; undated rows lose to
// any dated row. Keys with no active row keep their default.
func ResolveThresholds(rows []rules.Threshold, asOf time.Time) Thresholds {
	type pick struct {
		value     float64
		effective *time.Time
	}
	picked := make(map[string]pick)

	for _, row := range rows {
		if !row.ActiveAt(asOf) {
			continue
		}
		key := ThresholdKey(row.Name)
		cur, seen := picked[key]
		if seen && !newer(row.EffectiveDate, cur.effective) {
			continue
		}
		picked[key] = pick{value: row.DollarLimit, effective: row.EffectiveDate}
	}

	values := make(map[string]float64, len(defaultThresholds)+len(picked))
	for k, v := range defaultThresholds {
		values[k] = v
	}
	for k, p := range picked {
		values[k] = p.value
	}
	return Thresholds{values: values}
}

// newer reports whether candidate strictly outranks current.
func newer(candidate, current *time.Time) bool {
	switch {
	case candidate == nil:
		return false
	case current == nil:
		return true
	}
	return candidate.After(*current)
}

// Get returns the value for key and whether one exists.
func (t Thresholds) Get(key string) (float64, bool) {
	v, ok := t.values[key]
	return v, ok
}

// Values returns a copy of every resolved key.
func (t Thresholds) Values() map[string]float64 {
	out := make(map[string]float64, len(t.values))
	for k, v := range t.values {
		out[k] = v
	}
	return out
}

// Tier brackets value against the resolved breakpoints. Boundaries are
// inclusive on the lower bracket.
func (t Thresholds) Tier(value float64) Tier {
	switch {
	case value <= t.limit(KeyMicroPurchase):
		return TierMicro
	case value <= t.limit(KeySimplified):
		return TierSAT
	case value <= t.limit(KeyAboveSAT):
		return TierAboveSAT
	}
	return TierMajor
}

func (t Thresholds) limit(key string) float64 {
	if v, ok := t.values[key]; ok {
		return v
	}
	return defaultThresholds[key]
}
