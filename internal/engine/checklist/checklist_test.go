package checklist

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-acq-requests/internal/domain"
	"github.com/pesio-ai/be-acq-requests/internal/engine/condition"
	"github.com/pesio-ai/be-acq-requests/internal/rules"
)

var now = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func seedTemplates(t *testing.T) []rules.DocumentTemplate {
	t.Helper()
	tables, err := rules.LoadFile("../../../config/rules.yaml")
	require.NoError(t, err)
	c, err := rules.NewCatalog(tables, nil)
	require.NoError(t, err)
	return c.DocumentTemplates()
}

func serviceRequest() condition.Fields {
	return condition.Fields{
		"estimated_value":               50000.0,
		"derived_tier":                  "sat",
		"derived_acquisition_type":      "new_competitive",
		"derived_requirements_doc_type": "pws",
		"derived_qasp_required":         true,
	}
}

func decisionsByID(ds []Decision) map[string]Decision {
	out := make(map[string]Decision, len(ds))
	for _, d := range ds {
		out[d.Template.ID] = d
	}
	return out
}

func TestDecide(t *testing.T) {
	templates := seedTemplates(t)

	tests := []struct {
		name   string
		record condition.Fields
		want   map[string]rules.Applicability
	}{
		{
			name:   "sat service buy",
			record: serviceRequest(),
			want: map[string]rules.Applicability{
				"doc_001": rules.Required,
				"doc_002": rules.Required,
				"doc_003": rules.Required,
				"doc_004": rules.Required,
				"doc_005": rules.Conditional,
				"doc_006": rules.NotRequired,
				"doc_007": rules.Required,
			},
		},
		{
			name: "micro product buy falls to the lower priority rule",
			record: condition.Fields{
				"estimated_value":               4000.0,
				"derived_tier":                  "micro",
				"derived_acquisition_type":      "new_competitive",
				"derived_requirements_doc_type": "sow",
				"derived_qasp_required":         false,
			},
			want: map[string]rules.Applicability{
				"doc_001": rules.Required,
				"doc_002": rules.NotRequired,
				"doc_003": rules.Recommended,
				"doc_004": rules.NotRequired,
				"doc_005": rules.NotRequired,
				"doc_006": rules.NotRequired,
				"doc_007": rules.Required,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := decisionsByID(Decide(templates, tt.record))
			require.Len(t, got, len(tt.want))
			for id, want := range tt.want {
				assert.Equal(t, want, got[id].Applicability, id)
			}
		})
	}
}

func TestDecideFirstMatchWins(t *testing.T) {
	templates := seedTemplates(t)
	rec := serviceRequest()

	got := decisionsByID(Decide(templates, rec))
	assert.Equal(t, "doc_003_r1", got["doc_003"].RuleID)
	assert.True(t, got["doc_005"].Required(), "conditional counts as required")
	assert.Empty(t, got["doc_006"].RuleID)
}

func TestDecideMalformedRuleIsNotRequired(t *testing.T) {
	c, err := rules.NewCatalog(rules.Tables{
		DocumentTemplates: []rules.DocumentTemplate{{
			ID: "doc_x", Name: "Broken",
			Rules: []rules.DocumentRule{{ID: "r1", Conditions: `{"allOf":[`, Applicability: rules.Required}},
		}},
	}, nil)
	require.NoError(t, err)

	got := Decide(c.DocumentTemplates(), serviceRequest())
	require.Len(t, got, 1)
	assert.Equal(t, rules.NotRequired, got[0].Applicability)
}

func TestApplyCreatesMissingDocuments(t *testing.T) {
	templates := seedTemplates(t)
	docs, diff := Apply("req-1", Decide(templates, serviceRequest()), nil, now)

	assert.ElementsMatch(t, []string{"doc_001", "doc_002", "doc_003", "doc_004", "doc_005", "doc_007"}, diff.Added)
	assert.Empty(t, diff.Removed)
	require.Len(t, docs, 6)
	for _, d := range docs {
		assert.Equal(t, "req-1", d.RequestID)
		assert.Equal(t, domain.DocNotStarted, d.Status)
		assert.True(t, d.IsRequired)
		assert.Empty(t, d.ID)
	}
}

func TestApplyIsIdempotent(t *testing.T) {
	templates := seedTemplates(t)
	rec := serviceRequest()

	docs, _ := Apply("req-1", Decide(templates, rec), nil, now)
	docs[0].Status = domain.DocComplete
	docs[1].Status = domain.DocInProgress

	again, diff := Apply("req-1", Decide(templates, rec), docs, now.Add(time.Hour))
	assert.False(t, diff.Changed())
	require.Len(t, again, len(docs))
	assert.Equal(t, domain.DocComplete, again[0].Status)
	assert.Equal(t, domain.DocInProgress, again[1].Status)
	for i := range again {
		assert.Equal(t, docs[i].IsRequired, again[i].IsRequired)
	}
}

func TestApplyReclassification(t *testing.T) {
	templates := seedTemplates(t)
	docs, _ := Apply("req-1", Decide(templates, serviceRequest()), nil, now)

	byID := map[string]*domain.PackageDocument{}
	for _, d := range docs {
		byID[d.TemplateID] = d
	}
	byID["doc_004"].Status = domain.DocComplete

	// the buy turns out to be a brand-name software license
	rec := condition.Fields{
		"estimated_value":               50000.0,
		"derived_tier":                  "sat",
		"derived_acquisition_type":      "brand_name",
		"derived_requirements_doc_type": "sow",
		"derived_qasp_required":         false,
	}
	out, diff := Apply("req-1", Decide(templates, rec), docs, now)

	assert.ElementsMatch(t, []string{"doc_006"}, diff.Added)
	assert.ElementsMatch(t, []string{"doc_003", "doc_004", "doc_005"}, diff.Removed)

	byID = map[string]*domain.PackageDocument{}
	for _, d := range out {
		byID[d.TemplateID] = d
	}
	assert.False(t, byID["doc_003"].IsRequired)
	assert.True(t, byID["doc_003"].WasRequired)
	assert.Equal(t, domain.DocNotRequired, byID["doc_003"].Status)
	assert.Equal(t, domain.DocComplete, byID["doc_004"].Status, "completed work is kept")
	assert.True(t, byID["doc_004"].WasRequired)
	assert.False(t, byID["doc_006"].WasRequired)

	// flipping back restores not_started and clears the waived flag
	back, diff := Apply("req-1", Decide(templates, serviceRequest()), out, now)
	assert.ElementsMatch(t, []string{"doc_003", "doc_004", "doc_005"}, diff.Added)
	assert.ElementsMatch(t, []string{"doc_006"}, diff.Removed)
	for _, d := range back {
		if d.TemplateID == "doc_003" {
			assert.Equal(t, domain.DocNotStarted, d.Status)
			assert.True(t, d.IsRequired)
			assert.False(t, d.WasRequired)
		}
	}
}

func TestApplyTracksRecommendedWithoutRequiring(t *testing.T) {
	templates := seedTemplates(t)
	rec := condition.Fields{"estimated_value": 4000.0, "derived_tier": "micro"}

	docs, diff := Apply("req-2", Decide(templates, rec), nil, now)
	var mr *domain.PackageDocument
	for _, d := range docs {
		if d.TemplateID == "doc_003" {
			mr = d
		}
	}
	require.NotNil(t, mr)
	assert.False(t, mr.IsRequired)
	assert.Equal(t, domain.DocNotRequired, mr.Status)
	assert.Equal(t, string(rules.Recommended), mr.Applicability)
	assert.Contains(t, diff.Unchanged, "doc_003")
}
