package service

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-acq-requests/internal/engine/classify"
	"github.com/pesio-ai/be-acq-requests/internal/pkg/errors"
	"github.com/pesio-ai/be-acq-requests/internal/rules"
)

func TestValidateCondition(t *testing.T) {
	env := newTestEnv(t)

	canonical, err := env.rulesSvc.ValidateCondition(` {"field": "derived_tier", "operator": "in", "values": ["sat"]} `)
	require.NoError(t, err)
	assert.Equal(t, `{"field":"derived_tier","operator":"in","values":["sat"]}`, canonical)

	_, err = env.rulesSvc.ValidateCondition(`{"field":"derived_tier","operator":"~","value":"sat"}`)
	require.Error(t, err)
	assert.Equal(t, "condition", err.(*errors.Error).Field)

	assert.Contains(t, env.rulesSvc.ConditionFields(), "derived_qasp_required")
}

func TestBootstrap(t *testing.T) {
	ctx := context.Background()

	t.Run("seeds an empty store", func(t *testing.T) {
		env := newTestEnv(t)
		empty, err := rules.NewCatalog(rules.Tables{}, nil)
		require.NoError(t, err)
		env.store.Replace(empty)

		sum, err := env.rulesSvc.Bootstrap(ctx, "../../config/rules.yaml")
		require.NoError(t, err)
		assert.Equal(t, 1, env.rules.replaceCalls)
		assert.Equal(t, 8, sum.ClassificationRules)
		assert.Equal(t, 7, sum.ApprovalTemplates)
		assert.Equal(t, 7, sum.DocumentTemplates)
		assert.Equal(t, 5, sum.AdvisoryTriggers)
		assert.Equal(t, 15000.0, sum.Thresholds[classify.KeyMicroPurchase])
		assert.Empty(t, sum.Warnings)
		assert.Len(t, env.store.Current().ClassificationRules(), 8)
	})

	t.Run("keeps stored rules", func(t *testing.T) {
		env := newTestEnv(t)
		env.rules.tables = rules.Tables{
			ClassificationRules: []rules.ClassificationRule{{PathID: "PATH-X", NeedType: "new", AcquisitionType: "new_competitive", Pipeline: "full"}},
		}

		sum, err := env.rulesSvc.Bootstrap(ctx, "../../config/rules.yaml")
		require.NoError(t, err)
		assert.Zero(t, env.rules.replaceCalls)
		assert.Equal(t, 1, sum.ClassificationRules)
	})

	t.Run("missing seed file", func(t *testing.T) {
		env := newTestEnv(t)
		_, err := env.rulesSvc.Bootstrap(ctx, "testdata/none.yaml")
		require.Error(t, err)
		assert.Zero(t, env.rules.replaceCalls)
	})
}

func TestImportRules(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name string
		raw  string
	}{
		{"not yaml", "thresholds: [\n"},
		{"unknown column", "classification_rules:\n  - path_id: P1\n    need: new\n"},
		{"duplicate template", `
approval_templates:
  - template_key: APPR-A
    steps: [{step_number: 1, step_name: KO Review, approver_role: ko}]
  - template_key: APPR-A
    steps: [{step_number: 1, step_name: KO Review, approver_role: ko}]
`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			before := env.store.Current()

			_, err := env.rulesSvc.ImportRules(ctx, []byte(tt.raw))
			require.Error(t, err)
			assert.Equal(t, "rules", err.(*errors.Error).Field)
			assert.Zero(t, env.rules.replaceCalls)
			assert.Same(t, before, env.store.Current())
		})
	}

	t.Run("valid rule set replaces the catalog", func(t *testing.T) {
		env := newTestEnv(t)
		sum, err := env.rulesSvc.ImportRules(ctx, []byte(`
classification_rules:
  - path_id: PATH-001
    need_type: new
    acquisition_type: new_competitive
    pipeline: full
    approval_template_key: APPR-KO
approval_templates:
  - template_key: APPR-KO
    pipeline_type: full
    is_default: true
    steps: [{step_number: 1, step_name: KO Review, approver_role: ko, sla_days: 5, is_enabled: true}]
`))
		require.NoError(t, err)
		assert.Equal(t, 1, env.rules.replaceCalls)
		assert.Equal(t, 1, sum.ApprovalTemplates)

		tmpl, ok := env.store.Current().SelectTemplate("APPR-KO", "full")
		require.True(t, ok)
		assert.Equal(t, "ko_review", tmpl.Steps[0].Gate)
	})
}

func TestReloadRules(t *testing.T) {
	ctx := context.Background()

	t.Run("load failure keeps the catalog", func(t *testing.T) {
		env := newTestEnv(t)
		before := env.store.Current()
		env.rules.loadFn = func(context.Context) (rules.Tables, error) {
			return rules.Tables{}, stderrors.New("connection refused")
		}

		_, err := env.rulesSvc.ReloadRules(ctx)
		require.Error(t, err)
		assert.Same(t, before, env.store.Current())
	})

	t.Run("swaps in stored rules", func(t *testing.T) {
		env := newTestEnv(t)
		before := env.store.Current()

		sum, err := env.rulesSvc.ReloadRules(ctx)
		require.NoError(t, err)
		assert.Zero(t, sum.ClassificationRules)
		assert.NotSame(t, before, env.store.Current())
	})

	t.Run("invalid stored rules are an internal error", func(t *testing.T) {
		env := newTestEnv(t)
		env.rules.tables = rules.Tables{
			ApprovalTemplates: []rules.ApprovalTemplate{{Key: "APPR-A", Steps: []rules.ApprovalTemplateStep{{StepNumber: 1}}}},
		}

		_, err := env.rulesSvc.ReloadRules(ctx)
		assert.True(t, errors.Is(err, errors.ErrCodeInternal))
	})
}

func TestSummaryAndExport(t *testing.T) {
	env := newTestEnv(t)

	sum := env.rulesSvc.Summary()
	assert.Equal(t, 350000.0, sum.Thresholds[classify.KeySimplified])

	exported := env.rulesSvc.Export()
	assert.Len(t, exported.AdvisoryTriggers, 5)
	assert.Len(t, exported.ApprovalTemplates, 7)
}
