// Package funding derives CLIN balances and funding line status. Nothing
// here mutates stored state.
package funding

import (
	"math"

	"github.com/pesio-ai/be-acq-requests/internal/domain"
)

// CLIN health statuses.
const (
	StatusHealthy   = "healthy"
	StatusWatch     = "watch"
	StatusCritical  = "critical"
	StatusExhausted = "exhausted"
)

// burnMonths is the window invoiced spend is averaged over.
const burnMonths = 6

// LowBalanceRatio is the share of a funding line's allocation below which
// the line is low_balance.
const LowBalanceRatio = 0.10

// BalanceCheck is the answer to "can this CLIN absorb amount".
type BalanceCheck struct {
	CLINID     string  `json:"clin_id"`
	Requested  float64 `json:"requested"`
	Available  float64 `json:"available"`
	Pending    float64 `json:"pending_commitments"`
	Sufficient bool    `json:"sufficient"`
	Shortfall  float64 `json:"shortfall"`
}

// PendingCommitments sums the estimated cost of execution requests that
// still hold funds on the CLIN.
func PendingCommitments(execs []*domain.ExecutionRequest) float64 {
	var total float64
	for _, e := range execs {
		if e.HoldsFunds() {
			total += e.EstimatedCost
		}
	}
	return total
}

// Available is obligated minus invoiced minus pending commitments.
func Available(c *domain.CLIN, pending float64) float64 {
	return c.Obligated - c.Invoiced - pending
}

// CheckBalance reports whether amount fits in the CLIN's available balance.
func CheckBalance(c *domain.CLIN, pending, amount float64) BalanceCheck {
	avail := round2(Available(c, pending))
	chk := BalanceCheck{
		CLINID:     c.ID,
		Requested:  amount,
		Available:  avail,
		Pending:    pending,
		Sufficient: amount <= avail,
	}
	if !chk.Sufficient {
		chk.Shortfall = round2(amount - avail)
	}
	return chk
}

// CLINHealth summarises a CLIN's burn position.
type CLINHealth struct {
	Status          string   `json:"status"`
	Available       float64  `json:"available"`
	MonthlyBurn     float64  `json:"monthly_burn"`
	MonthsRemaining *float64 `json:"months_remaining,omitempty"`
}

// Health derives the CLIN status from its available balance and the
// average monthly invoiced spend. A CLIN with nothing obligated is healthy.
func Health(c *domain.CLIN, pending float64) CLINHealth {
	avail := round2(Available(c, pending))
	h := CLINHealth{Status: StatusHealthy, Available: avail}
	if c.Obligated == 0 {
		return h
	}
	if avail <= 0 {
		h.Status = StatusExhausted
		return h
	}
	h.MonthlyBurn = round2(c.Invoiced / burnMonths)
	if h.MonthlyBurn <= 0 {
		return h
	}
	// Tiers use the unrounded ratio; only the reported figure is rounded.
	ratio := avail / h.MonthlyBurn
	months := math.Round(ratio*10) / 10
	h.MonthsRemaining = &months
	switch {
	case ratio < 1:
		h.Status = StatusCritical
	case ratio < 3:
		h.Status = StatusWatch
	}
	return h
}

// RecomputeFundingLine returns line with its committed amount and status
// recomputed from the CLINs assigned to it. The argument is not modified.
func RecomputeFundingLine(line domain.FundingLine, clins []*domain.CLIN) domain.FundingLine {
	var committed float64
	for _, c := range clins {
		if c.FundingLineID != nil && *c.FundingLineID == line.ID {
			committed += c.EstimatedValue
		}
	}
	line.CommittedAmount = round2(committed)
	line.Status = LineStatus(line)
	return line
}

// LineStatus derives active, low_balance or exhausted from the line's
// headroom.
func LineStatus(line domain.FundingLine) string {
	avail := line.Available()
	switch {
	case avail <= 0:
		return domain.FundingExhausted
	case line.TotalAllocation > 0 && avail/line.TotalAllocation < LowBalanceRatio:
		return domain.FundingLowBalance
	}
	return domain.FundingActive
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
