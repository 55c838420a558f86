// Package readiness decides whether a request may pass an approval gate.
package readiness

import (
	"fmt"
	"math"

	"github.com/pesio-ai/be-acq-requests/internal/domain"
	"github.com/pesio-ai/be-acq-requests/internal/rules"
)

// SumTolerance is the largest CLIN total versus estimated value mismatch
// that goes unreported.
const SumTolerance = 0.01

// Blocker kinds.
const (
	KindDocument = "document"
	KindAdvisory = "advisory"
	KindCLIN     = "clin"
)

// Blocker is one reason a gate is not ready.
type Blocker struct {
	Kind     string `json:"kind"`
	EntityID string `json:"entity_id,omitempty"`
	Title    string `json:"title"`
	Status   string `json:"status,omitempty"`
	Reason   string `json:"reason"`
}

// Input is everything the aggregator reads for one request and gate.
type Input struct {
	Gate           string
	EstimatedValue float64
	Documents      []*domain.PackageDocument
	Advisories     []*domain.AdvisoryInput
	CLINs          []*domain.CLIN
	// Gates decides which gates advisories can block. Nil uses the
	// default gate catalog.
	Gates *rules.GateCatalog
}

// Result is the readiness verdict. Warnings never affect Ready.
type Result struct {
	Gate            string    `json:"gate"`
	DocumentsReady  bool      `json:"documents_ready"`
	AdvisoriesReady bool      `json:"advisories_ready"`
	CLINsValid      bool      `json:"clins_valid"`
	Ready           bool      `json:"ready"`
	Blockers        []Blocker `json:"blockers"`
	Warnings        []string  `json:"warnings"`
}

// Evaluate computes the verdict. It reads its input only.
func Evaluate(in Input) Result {
	gates := in.Gates
	if gates == nil {
		gates = rules.DefaultGates()
	}

	res := Result{Gate: in.Gate, Blockers: []Blocker{}, Warnings: []string{}}

	docBlockers := documentBlockers(in.Gate, in.Documents)
	res.DocumentsReady = len(docBlockers) == 0
	res.Blockers = append(res.Blockers, docBlockers...)

	res.AdvisoriesReady = true
	if gates.AdvisoryBlockable(in.Gate) {
		advBlockers := advisoryBlockers(in.Gate, in.Advisories)
		res.AdvisoriesReady = len(advBlockers) == 0
		res.Blockers = append(res.Blockers, advBlockers...)
	}

	res.CLINsValid = true
	if in.Gate == rules.GateKOReview {
		clinBlockers, warnings := clinChecks(in.CLINs, in.EstimatedValue)
		res.CLINsValid = len(clinBlockers) == 0
		res.Blockers = append(res.Blockers, clinBlockers...)
		res.Warnings = append(res.Warnings, warnings...)
	}

	res.Ready = res.DocumentsReady && res.AdvisoriesReady && res.CLINsValid
	return res
}

func documentBlockers(gate string, docs []*domain.PackageDocument) []Blocker {
	var out []Blocker
	for _, d := range docs {
		if !d.IsRequired || d.RequiredBeforeGate != gate || d.Satisfied() {
			continue
		}
		out = append(out, Blocker{
			Kind:     KindDocument,
			EntityID: d.ID,
			Title:    d.Title,
			Status:   d.Status,
			Reason:   fmt.Sprintf("%s must be complete before %s", d.Title, gate),
		})
	}
	return out
}

func advisoryBlockers(gate string, advisories []*domain.AdvisoryInput) []Blocker {
	var out []Blocker
	for _, a := range advisories {
		if a.BlocksGate == nil || *a.BlocksGate != gate || !a.Pending() {
			continue
		}
		out = append(out, Blocker{
			Kind:     KindAdvisory,
			EntityID: a.ID,
			Title:    a.Team + " advisory review",
			Status:   a.Status,
			Reason:   fmt.Sprintf("%s review is %s", a.Team, a.Status),
		})
	}
	return out
}

func clinChecks(clins []*domain.CLIN, estimatedValue float64) ([]Blocker, []string) {
	var (
		blockers []Blocker
		warnings []string
		total    float64
	)
	for _, c := range clins {
		total += c.EstimatedValue
		title := "CLIN " + c.CLINNumber
		if c.PSCCode == nil || *c.PSCCode == "" {
			blockers = append(blockers, Blocker{Kind: KindCLIN, EntityID: c.ID, Title: title, Reason: title + " has no PSC code"})
		}
		if c.FundingLineID == nil || *c.FundingLineID == "" {
			blockers = append(blockers, Blocker{Kind: KindCLIN, EntityID: c.ID, Title: title, Reason: title + " has no funding line"})
		}
		if c.Severability == nil || *c.Severability == "" || *c.Severability == domain.SeverabilityTBD {
			blockers = append(blockers, Blocker{Kind: KindCLIN, EntityID: c.ID, Title: title, Reason: title + " severability is not determined"})
		}
	}
	if len(clins) == 0 && estimatedValue > 0 {
		blockers = append(blockers, Blocker{Kind: KindCLIN, Title: "CLINs", Reason: "at least one CLIN is required for a priced request"})
	}
	if len(clins) > 0 && estimatedValue > 0 && math.Abs(total-estimatedValue) > SumTolerance {
		warnings = append(warnings, fmt.Sprintf("CLIN total %.2f does not match estimated value %.2f", total, estimatedValue))
	}
	return blockers, warnings
}
