package rules

import "strings"

// Gate keys.
const (
	GateISS          = "iss"
	GateASR          = "asr"
	GateFinance      = "finance"
	GateKOReview     = "ko_review"
	GateLegal        = "legal"
	GateCIOApproval  = "cio_approval"
	GateSeniorReview = "senior_review"
	GateAward        = "award"
)

// Gate is a named checkpoint in the approval pipeline.
type Gate struct {
	Key               string   `yaml:"key"`
	DisplayName       string   `yaml:"display_name"`
	AdvisoryBlockable bool     `yaml:"advisory_blockable"`
	StepNames         []string `yaml:"step_names"`
}

// GateCatalog resolves gates by key and by approval step name. It is built
// once and never modified.
type GateCatalog struct {
	gates      []Gate
	byKey      map[string]Gate
	byStepName map[string]string
	fallback   string
}

// NewGateCatalog indexes gates. Step names that map to no gate resolve to
// fallback.
func NewGateCatalog(gates []Gate, fallback string) *GateCatalog {
	c := &GateCatalog{
		gates:      append([]Gate(nil), gates...),
		byKey:      make(map[string]Gate, len(gates)),
		byStepName: make(map[string]string),
		fallback:   fallback,
	}
	for _, g := range gates {
		c.byKey[g.Key] = g
		for _, name := range g.StepNames {
			c.byStepName[strings.ToLower(name)] = g.Key
		}
	}
	return c
}

// DefaultGates returns the standard gate set.
func DefaultGates() *GateCatalog {
	return NewGateCatalog([]Gate{
		{Key: GateISS, DisplayName: "Initial Scope Screening", AdvisoryBlockable: true,
			StepNames: []string{"ISS Review", "COR Review", "Supervisor Approval"}},
		{Key: GateASR, DisplayName: "Acquisition Strategy Review", AdvisoryBlockable: true,
			StepNames: []string{"ASR Review"}},
		{Key: GateFinance, DisplayName: "Finance Review",
			StepNames: []string{"Finance Review", "GPC Purchase"}},
		{Key: GateKOReview, DisplayName: "Contracting Officer Review", AdvisoryBlockable: true,
			StepNames: []string{"KO Review"}},
		{Key: GateLegal, DisplayName: "Legal Review",
			StepNames: []string{"Legal Review"}},
		{Key: GateCIOApproval, DisplayName: "CIO Approval",
			StepNames: []string{"CIO Approval"}},
		{Key: GateSeniorReview, DisplayName: "Senior Leadership Review",
			StepNames: []string{"Senior Leadership"}},
		{Key: GateAward, DisplayName: "Award"},
	}, GateKOReview)
}

// Gates returns every gate in catalog order.
func (c *GateCatalog) Gates() []Gate {
	return append([]Gate(nil), c.gates...)
}

// Lookup returns the gate with the given key.
func (c *GateCatalog) Lookup(key string) (Gate, bool) {
	g, ok := c.byKey[key]
	return g, ok
}

// ForStep maps an approval step name to its gate key.
func (c *GateCatalog) ForStep(stepName string) string {
	if key, ok := c.byStepName[strings.ToLower(strings.TrimSpace(stepName))]; ok {
		return key
	}
	return c.fallback
}

// AdvisoryBlockable reports whether advisory inputs may block the gate.
func (c *GateCatalog) AdvisoryBlockable(key string) bool {
	return c.byKey[key].AdvisoryBlockable
}

// RoleNames maps approver role keys to display names.
type RoleNames map[string]string

// DefaultRoles returns the standard role display names.
func DefaultRoles() RoleNames {
	return RoleNames{
		"admin":        "Administrator",
		"requestor":    "Requestor",
		"branch_chief": "Branch Chief",
		"cto":          "Chief Technology Officer",
		"scrm":         "Supply Chain Risk Management",
		"budget":       "Budget Analyst",
		"ko":           "Contracting Officer",
		"legal":        "Legal Counsel",
		"sb":           "Small Business Office",
		"cio":          "Chief Information Officer",
		"section508":   "Section 508 Coordinator",
	}
}

// Display returns the display name for role, or role itself.
func (r RoleNames) Display(role string) string {
	if name, ok := r[role]; ok {
		return name
	}
	return role
}
