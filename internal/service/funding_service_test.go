package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-acq-requests/internal/domain"
	"github.com/pesio-ai/be-acq-requests/internal/engine/funding"
	"github.com/pesio-ai/be-acq-requests/internal/pkg/errors"
)

// odcCLIN seeds an ODC CLIN with 80k obligated and 30k invoiced.
func (env *testEnv) odcCLIN() *domain.CLIN {
	line := "fl-1"
	c := &domain.CLIN{
		ID:            "clin-odc",
		RequestID:     "req-1",
		CLINNumber:    "0003",
		FundingLineID: &line,
		Obligated:     80000,
		Invoiced:      30000,
	}
	env.funding.clins[c.ID] = c
	return c
}

func (env *testEnv) execution(id, status string, cost float64) *domain.ExecutionRequest {
	e := &domain.ExecutionRequest{
		ID:            id,
		RequestNumber: "EXE-" + id,
		ExecutionType: "odc",
		CLINID:        "clin-odc",
		Title:         "Conference travel",
		EstimatedCost: cost,
		Status:        status,
	}
	env.funding.executions[id] = e
	return e
}

func TestCheckCLINBalance(t *testing.T) {
	tests := []struct {
		name       string
		pending    []*domain.ExecutionRequest
		amount     float64
		sufficient bool
		available  float64
		shortfall  float64
	}{
		{name: "fits", amount: 50000, sufficient: true, available: 50000},
		{name: "short", amount: 60000, available: 50000, shortfall: 10000},
		{
			name:      "pending commitments count",
			pending:   []*domain.ExecutionRequest{{ID: "e1", CLINID: "clin-odc", Status: domain.ExecSubmitted, EstimatedCost: 20000}},
			amount:    40000,
			available: 30000,
			shortfall: 10000,
		},
		{
			name:       "closed executions do not",
			pending:    []*domain.ExecutionRequest{{ID: "e1", CLINID: "clin-odc", Status: domain.ExecComplete, EstimatedCost: 20000}},
			amount:     40000,
			sufficient: true,
			available:  50000,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.odcCLIN()
			for _, e := range tt.pending {
				env.funding.executions[e.ID] = e
			}

			chk, err := env.fundingSvc.CheckCLINBalance(context.Background(), BalanceInput{CLINID: "clin-odc", Amount: tt.amount})
			require.NoError(t, err)
			assert.Equal(t, tt.sufficient, chk.Sufficient)
			assert.InDelta(t, tt.available, chk.Available, 0.001)
			assert.InDelta(t, tt.shortfall, chk.Shortfall, 0.001)
		})
	}
}

func TestCheckCLINBalance_Errors(t *testing.T) {
	env := newTestEnv(t)
	env.odcCLIN()

	_, err := env.fundingSvc.CheckCLINBalance(context.Background(), BalanceInput{CLINID: "clin-odc", Amount: 0})
	require.Error(t, err)
	assert.Equal(t, "amount", err.(*errors.Error).Field)

	_, err = env.fundingSvc.CheckCLINBalance(context.Background(), BalanceInput{CLINID: "clin-none", Amount: 10})
	assert.True(t, errors.Is(err, errors.ErrCodeNotFound))
}

func TestGetCLINStatus(t *testing.T) {
	env := newTestEnv(t)
	env.odcCLIN()
	env.execution("e1", domain.ExecAuthorized, 10000)

	st, err := env.fundingSvc.GetCLINStatus(context.Background(), "clin-odc")
	require.NoError(t, err)
	assert.Equal(t, 10000.0, st.Pending)
	assert.Equal(t, 40000.0, st.Health.Available)
	assert.Equal(t, 5000.0, st.Health.MonthlyBurn)
	assert.Equal(t, funding.StatusHealthy, st.Health.Status)

	list, err := env.fundingSvc.ListCLINs(context.Background(), "req-1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "0003", list[0].CLIN.CLINNumber)
}

func TestAuthorizeExecution(t *testing.T) {
	ctx := context.Background()

	t.Run("covered spend is authorized", func(t *testing.T) {
		env := newTestEnv(t)
		env.odcCLIN()
		env.execution("e-other", domain.ExecSubmitted, 5000)
		e := env.execution("e-1", domain.ExecCTOApproved, 40000)

		dec, err := env.fundingSvc.AuthorizeExecution(ctx, e.ID, contractingO)
		require.NoError(t, err)
		assert.True(t, dec.Check.Sufficient)
		assert.InDelta(t, 45000, dec.Check.Available, 0.001, "the execution does not count against itself")
		assert.Equal(t, domain.ExecAuthorized, e.Status)
		require.NotNil(t, e.FundingStatus)
		assert.Equal(t, "sufficient", *e.FundingStatus)
		assert.Nil(t, e.FundingActionAmount)
		assert.Empty(t, env.notifier.sent)
		require.Len(t, env.audit.entries, 1)
		assert.Equal(t, "req-1", env.audit.entries[0].RequestID)
	})

	t.Run("shortfall needs a funding action", func(t *testing.T) {
		env := newTestEnv(t)
		env.odcCLIN()
		env.execution("e-other", domain.ExecSubmitted, 5000)
		e := env.execution("e-1", domain.ExecCTOApproved, 60000)

		dec, err := env.fundingSvc.AuthorizeExecution(ctx, e.ID, contractingO)
		require.NoError(t, err)
		assert.False(t, dec.Check.Sufficient)
		assert.Equal(t, domain.ExecFundingActionRequired, e.Status)
		require.NotNil(t, e.FundingActionAmount)
		assert.InDelta(t, 15000, *e.FundingActionAmount, 0.001)

		require.Len(t, env.notifier.sent, 1)
		n := env.notifier.sent[0]
		assert.Equal(t, domain.EventFundingActionNeeds, n.EventType)
		assert.Equal(t, []string{budgetRole}, n.Recipients)
		assert.True(t, n.Actionable)
	})

	t.Run("only approved executions", func(t *testing.T) {
		env := newTestEnv(t)
		env.odcCLIN()
		e := env.execution("e-1", domain.ExecSubmitted, 100)

		_, err := env.fundingSvc.AuthorizeExecution(ctx, e.ID, contractingO)
		assert.True(t, errors.Is(err, errors.ErrCodeConflict))
		assert.Equal(t, domain.ExecSubmitted, e.Status)
	})
}

func TestRecomputeFundingLine(t *testing.T) {
	env := newTestEnv(t)
	lineID := "fl-1"
	env.funding.lines[lineID] = &domain.FundingLine{ID: lineID, DisplayName: "FY26 O&M", TotalAllocation: 100000, Status: domain.FundingActive}
	env.funding.clins["c1"] = &domain.CLIN{ID: "c1", FundingLineID: &lineID, EstimatedValue: 60000}
	env.funding.clins["c2"] = &domain.CLIN{ID: "c2", FundingLineID: &lineID, EstimatedValue: 35000}

	line, err := env.fundingSvc.RecomputeFundingLine(context.Background(), lineID)
	require.NoError(t, err)
	assert.Equal(t, 95000.0, line.CommittedAmount)
	assert.Equal(t, domain.FundingLowBalance, line.Status)
	assert.Equal(t, domain.FundingLowBalance, env.funding.lines[lineID].Status)

	_, err = env.fundingSvc.RecomputeFundingLine(context.Background(), "fl-none")
	assert.True(t, errors.Is(err, errors.ErrCodeNotFound))
}
