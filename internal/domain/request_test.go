package domain

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-acq-requests/internal/pkg/errors"
)

func TestApplyUpdates_Money(t *testing.T) {
	tests := []struct {
		name    string
		field   string
		value   any
		wantErr bool
	}{
		{"number", "estimated_value", 250000.0, false},
		{"numeric string", "estimated_value", " 1200.50 ", false},
		{"negative", "estimated_value", -1.0, true},
		{"NaN string", "estimated_value", "NaN", true},
		{"infinity string", "estimated_value", "Inf", true},
		{"NaN float", "estimated_value", math.NaN(), true},
		{"optional NaN", "existing_contract_value", "NaN", true},
		{"optional infinity", "awarded_amount", math.Inf(1), true},
		{"optional cleared", "awarded_amount", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &AcquisitionRequest{EstimatedValue: 100}
			_, err := r.ApplyUpdates(map[string]any{tt.field: tt.value})
			if !tt.wantErr {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput))
			assert.Equal(t, 100.0, r.EstimatedValue, "nothing is applied on failure")
		})
	}
}

func TestApplyUpdates_ReportsReclassifyingFields(t *testing.T) {
	r := &AcquisitionRequest{}
	changed, err := r.ApplyUpdates(map[string]any{
		"estimated_value": "9000",
		"notes":           "quote attached",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"estimated_value"}, changed)
	assert.Equal(t, 9000.0, r.EstimatedValue)
}
