package rules

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/pesio-ai/be-acq-requests/internal/engine/condition"
)

// Catalog is an immutable, pre-sorted view of one rule set. Slices returned
// by its accessors are shared and must not be modified.
type Catalog struct {
	thresholds          []Threshold
	classificationRules []ClassificationRule
	approvalTemplates   []ApprovalTemplate
	documentTemplates   []DocumentTemplate
	advisoryTriggers    []AdvisoryTrigger

	templatesByKey     map[string]int
	defaultsByPipeline map[string]int
	triggersByTeam     map[string]int

	gates    *GateCatalog
	warnings []string
	loadedAt time.Time
}

// NewCatalog validates and indexes t. Document rules are ordered by
// descending priority, keeping table order among equal priorities; approval
// steps by step number. A rule whose condition cannot be parsed is kept but
// never matches, and is reported through Warnings.
func NewCatalog(t Tables, gates *GateCatalog) (*Catalog, error) {
	if gates == nil {
		gates = DefaultGates()
	}

	c := &Catalog{
		thresholds:          append([]Threshold(nil), t.Thresholds...),
		classificationRules: append([]ClassificationRule(nil), t.ClassificationRules...),
		advisoryTriggers:    append([]AdvisoryTrigger(nil), t.AdvisoryTriggers...),
		templatesByKey:      make(map[string]int),
		defaultsByPipeline:  make(map[string]int),
		triggersByTeam:      make(map[string]int),
		gates:               gates,
		loadedAt:            time.Now().UTC(),
	}

	for i, tmpl := range t.ApprovalTemplates {
		if tmpl.Key == "" {
			return nil, fmt.Errorf("approval template %d: template_key is required", i)
		}
		if _, dup := c.templatesByKey[tmpl.Key]; dup {
			return nil, fmt.Errorf("approval template %q: duplicate key", tmpl.Key)
		}

		steps := append([]ApprovalTemplateStep(nil), tmpl.Steps...)
		sort.SliceStable(steps, func(a, b int) bool { return steps[a].StepNumber < steps[b].StepNumber })
		for j := range steps {
			if j > 0 && steps[j].StepNumber == steps[j-1].StepNumber {
				return nil, fmt.Errorf("approval template %q: duplicate step number %d", tmpl.Key, steps[j].StepNumber)
			}
			if steps[j].ApproverRole == "" {
				return nil, fmt.Errorf("approval template %q step %d: approver_role is required", tmpl.Key, steps[j].StepNumber)
			}
			if steps[j].Gate == "" {
				steps[j].Gate = gates.ForStep(steps[j].StepName)
			}
			if steps[j].IsConditional && strings.TrimSpace(steps[j].Condition) != "" {
				if _, err := condition.Parse(steps[j].Condition); err != nil {
					c.warnings = append(c.warnings, fmt.Sprintf("approval template %q step %d: %v", tmpl.Key, steps[j].StepNumber, err))
				}
			}
		}
		tmpl.Steps = steps

		c.templatesByKey[tmpl.Key] = len(c.approvalTemplates)
		if tmpl.IsDefault && tmpl.PipelineType != "" {
			if _, taken := c.defaultsByPipeline[tmpl.PipelineType]; !taken {
				c.defaultsByPipeline[tmpl.PipelineType] = len(c.approvalTemplates)
			}
		}
		c.approvalTemplates = append(c.approvalTemplates, tmpl)
	}

	seenDoc := make(map[string]bool)
	for _, tmpl := range t.DocumentTemplates {
		if tmpl.ID == "" {
			return nil, fmt.Errorf("document template %q: id is required", tmpl.DocTypeKey)
		}
		if seenDoc[tmpl.ID] {
			return nil, fmt.Errorf("document template %q: duplicate id", tmpl.ID)
		}
		seenDoc[tmpl.ID] = true

		ruleSet := append([]DocumentRule(nil), tmpl.Rules...)
		for j := range ruleSet {
			if ruleSet[j].Applicability == "" {
				ruleSet[j].Applicability = Required
			}
			if !ruleSet[j].Applicability.Valid() {
				return nil, fmt.Errorf("document template %q rule %q: unknown applicability %q",
					tmpl.ID, ruleSet[j].ID, ruleSet[j].Applicability)
			}
			expr, err := condition.Parse(ruleSet[j].Conditions)
			if err != nil {
				c.warnings = append(c.warnings, fmt.Sprintf("document template %q rule %q: %v", tmpl.ID, ruleSet[j].ID, err))
				continue
			}
			ruleSet[j].compiled = &expr
		}
		sort.SliceStable(ruleSet, func(a, b int) bool { return ruleSet[a].Priority > ruleSet[b].Priority })
		tmpl.Rules = ruleSet
		c.documentTemplates = append(c.documentTemplates, tmpl)
	}
	sort.SliceStable(c.documentTemplates, func(a, b int) bool {
		return c.documentTemplates[a].SortOrder < c.documentTemplates[b].SortOrder
	})

	for i, trig := range c.advisoryTriggers {
		key := strings.ToLower(trig.Team)
		if _, dup := c.triggersByTeam[key]; !dup {
			c.triggersByTeam[key] = i
		}
		if trig.TriggerID != "" {
			c.triggersByTeam[strings.ToLower(trig.TriggerID)] = i
		}
	}

	return c, nil
}

// Thresholds returns the threshold rows in table order.
func (c *Catalog) Thresholds() []Threshold { return c.thresholds }

// ClassificationRules returns the classification rows in table order.
func (c *Catalog) ClassificationRules() []ClassificationRule { return c.classificationRules }

// ApprovalTemplates returns every approval template.
func (c *Catalog) ApprovalTemplates() []ApprovalTemplate { return c.approvalTemplates }

// DocumentTemplates returns document templates by sort order, each with its
// rules in evaluation order.
func (c *Catalog) DocumentTemplates() []DocumentTemplate { return c.documentTemplates }

// AdvisoryTriggers returns the advisory trigger rows.
func (c *Catalog) AdvisoryTriggers() []AdvisoryTrigger { return c.advisoryTriggers }

// Gates returns the gate catalog.
func (c *Catalog) Gates() *GateCatalog { return c.gates }

// Warnings lists rule rows that were loaded but can never match.
func (c *Catalog) Warnings() []string { return c.warnings }

// LoadedAt is when the catalog was built.
func (c *Catalog) LoadedAt() time.Time { return c.loadedAt }

// ApprovalTemplate returns the template with the given key.
func (c *Catalog) ApprovalTemplate(key string) (ApprovalTemplate, bool) {
	i, ok := c.templatesByKey[key]
	if !ok {
		return ApprovalTemplate{}, false
	}
	return c.approvalTemplates[i], true
}

// SelectTemplate returns the template named by key, falling back to the
// default template for pipeline.
func (c *Catalog) SelectTemplate(key, pipeline string) (ApprovalTemplate, bool) {
	if key != "" {
		if tmpl, ok := c.ApprovalTemplate(key); ok {
			return tmpl, true
		}
	}
	i, ok := c.defaultsByPipeline[pipeline]
	if !ok {
		return ApprovalTemplate{}, false
	}
	return c.approvalTemplates[i], true
}

// AdvisoryTrigger looks a trigger up by team or trigger id, ignoring case.
func (c *Catalog) AdvisoryTrigger(team string) (AdvisoryTrigger, bool) {
	i, ok := c.triggersByTeam[strings.ToLower(strings.TrimSpace(team))]
	if !ok {
		return AdvisoryTrigger{}, false
	}
	return c.advisoryTriggers[i], true
}

// Tables returns the rule set in ingestion shape, for export.
func (c *Catalog) Tables() Tables {
	return Tables{
		Thresholds:          c.thresholds,
		ClassificationRules: c.classificationRules,
		ApprovalTemplates:   c.approvalTemplates,
		DocumentTemplates:   c.documentTemplates,
		AdvisoryTriggers:    c.advisoryTriggers,
	}
}

// Empty reports whether the catalog holds no rows at all.
func (c *Catalog) Empty() bool {
	return len(c.thresholds) == 0 && len(c.classificationRules) == 0 &&
		len(c.approvalTemplates) == 0 && len(c.documentTemplates) == 0 &&
		len(c.advisoryTriggers) == 0
}
