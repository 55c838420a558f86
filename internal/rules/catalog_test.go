package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-acq-requests/internal/engine/condition"
)

func loadSeed(t *testing.T) *Catalog {
	t.Helper()
	tables, err := LoadFile("../../config/rules.yaml")
	require.NoError(t, err)
	c, err := NewCatalog(tables, nil)
	require.NoError(t, err)
	return c
}

func TestSeedLoads(t *testing.T) {
	c := loadSeed(t)

	assert.Len(t, c.Thresholds(), 5)
	assert.Len(t, c.ClassificationRules(), 8)
	assert.Empty(t, c.Warnings())
	assert.False(t, c.Empty())

	first := c.Thresholds()[0]
	require.NotNil(t, first.EffectiveDate)
	assert.Equal(t, 2020, first.EffectiveDate.Year())
}

func TestSelectTemplate(t *testing.T) {
	c := loadSeed(t)

	tmpl, ok := c.SelectTemplate("APPR-OPTION", "full")
	require.True(t, ok)
	assert.Equal(t, "APPR-OPTION", tmpl.Key)

	tmpl, ok = c.SelectTemplate("APPR-UNKNOWN", "ko_only")
	require.True(t, ok)
	assert.Equal(t, "APPR-KO-ONLY", tmpl.Key)

	tmpl, ok = c.SelectTemplate("", "micro")
	require.True(t, ok)
	assert.Equal(t, "APPR-MICRO", tmpl.Key)

	_, ok = c.SelectTemplate("", "no_such_pipeline")
	assert.False(t, ok)
}

func TestStepGatesResolvedFromStepNames(t *testing.T) {
	c := loadSeed(t)
	tmpl, ok := c.ApprovalTemplate("APPR-MICRO")
	require.True(t, ok)

	assert.Equal(t, GateISS, tmpl.Steps[0].Gate)
	assert.Equal(t, GateFinance, tmpl.Steps[1].Gate)
}

func TestNewCatalogOrdersDocumentRules(t *testing.T) {
	tables := Tables{
		DocumentTemplates: []DocumentTemplate{
			{ID: "b", SortOrder: 2, Rules: []DocumentRule{
				{ID: "low", Priority: 1, Conditions: `{"field":"x","operator":"exists"}`},
				{ID: "high-1", Priority: 5, Conditions: `{"field":"x","operator":"exists"}`},
				{ID: "high-2", Priority: 5, Conditions: `{"field":"x","operator":"exists"}`},
			}},
			{ID: "a", SortOrder: 1},
		},
	}

	c, err := NewCatalog(tables, nil)
	require.NoError(t, err)

	docs := c.DocumentTemplates()
	require.Len(t, docs, 2)
	assert.Equal(t, "a", docs[0].ID)

	var ids []string
	for _, r := range docs[1].Rules {
		ids = append(ids, r.ID)
		assert.Equal(t, Required, r.Applicability)
	}
	assert.Equal(t, []string{"high-1", "high-2", "low"}, ids)

	// input order untouched
	assert.Equal(t, "low", tables.DocumentTemplates[0].Rules[0].ID)
}

func TestMalformedRuleNeverMatches(t *testing.T) {
	c, err := NewCatalog(Tables{DocumentTemplates: []DocumentTemplate{
		{ID: "d", Rules: []DocumentRule{{ID: "bad", Conditions: `{"allOf":[`}}},
	}}, nil)
	require.NoError(t, err)

	require.Len(t, c.Warnings(), 1)
	assert.Contains(t, c.Warnings()[0], `rule "bad"`)
	assert.False(t, c.DocumentTemplates()[0].Rules[0].Matches(condition.Fields{"x": 1}))
}

func TestNewCatalogRejects(t *testing.T) {
	tests := []struct {
		name   string
		tables Tables
		want   string
	}{
		{"duplicate template", Tables{ApprovalTemplates: []ApprovalTemplate{{Key: "A"}, {Key: "A"}}}, "duplicate key"},
		{"duplicate step", Tables{ApprovalTemplates: []ApprovalTemplate{{Key: "A", Steps: []ApprovalTemplateStep{
			{StepNumber: 1, ApproverRole: "ko"}, {StepNumber: 1, ApproverRole: "ko"},
		}}}}, "duplicate step number 1"},
		{"missing role", Tables{ApprovalTemplates: []ApprovalTemplate{{Key: "A", Steps: []ApprovalTemplateStep{
			{StepNumber: 1},
		}}}}, "approver_role is required"},
		{"bad applicability", Tables{DocumentTemplates: []DocumentTemplate{{ID: "d", Rules: []DocumentRule{
			{ID: "r", Applicability: "maybe"},
		}}}}, "unknown applicability"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCatalog(tt.tables, nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestAdvisoryTriggerLookup(t *testing.T) {
	c := loadSeed(t)

	trig, ok := c.AdvisoryTrigger("section 508")
	require.True(t, ok)
	assert.Equal(t, "ADV-004", trig.TriggerID)

	trig, ok = c.AdvisoryTrigger("adv-001")
	require.True(t, ok)
	assert.Equal(t, "SCRM", trig.Team)
}

func TestStoreReplace(t *testing.T) {
	first, err := NewCatalog(Tables{}, nil)
	require.NoError(t, err)
	s := NewStore(first)
	assert.True(t, s.Current().Empty())

	second := loadSeed(t)
	old := s.Replace(second)

	assert.Same(t, first, old)
	assert.Same(t, second, s.Current())
}

func TestDecodeRejectsUnknownColumns(t *testing.T) {
	_, err := Decode([]byte("classification_rules:\n  - path_id: P\n    situaton: typo\n"))
	assert.Error(t, err)

	empty, err := Decode(nil)
	require.NoError(t, err)
	assert.Empty(t, empty.Thresholds)
}
