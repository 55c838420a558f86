package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-acq-requests/internal/pkg/database"
	"github.com/pesio-ai/be-acq-requests/internal/pkg/errors"
	"github.com/pesio-ai/be-acq-requests/internal/rules"
)

// RuleCatalogRepository stores the five rule tables. Each table keeps its
// ingestion order in a position column.
type RuleCatalogRepository struct {
	db *database.DB
}

// NewRuleCatalogRepository creates a new RuleCatalogRepository.
func NewRuleCatalogRepository(db *database.DB) *RuleCatalogRepository {
	return &RuleCatalogRepository{db: db}
}

// LoadTables reads every rule table in table order.
func (r *RuleCatalogRepository) LoadTables(ctx context.Context) (rules.Tables, error) {
	var t rules.Tables
	var err error

	if t.Thresholds, err = r.loadThresholds(ctx); err != nil {
		return rules.Tables{}, err
	}
	if t.ClassificationRules, err = r.loadClassificationRules(ctx); err != nil {
		return rules.Tables{}, err
	}
	if t.ApprovalTemplates, err = r.loadApprovalTemplates(ctx); err != nil {
		return rules.Tables{}, err
	}
	if t.DocumentTemplates, err = r.loadDocumentTemplates(ctx); err != nil {
		return rules.Tables{}, err
	}
	if t.AdvisoryTriggers, err = r.loadAdvisoryTriggers(ctx); err != nil {
		return rules.Tables{}, err
	}
	return t, nil
}

// ReplaceAll clears every rule table and loads t in one transaction. Readers
// see either the old rule set or the new one.
func (r *RuleCatalogRepository) ReplaceAll(ctx context.Context, t rules.Tables) error {
	return r.db.InTransaction(ctx, func(ctx context.Context) error {
		for _, table := range []string{
			"rule_thresholds", "rule_classification", "rule_approval_template_steps",
			"rule_approval_templates", "rule_document_rules", "rule_document_templates",
			"rule_advisory_triggers",
		} {
			if _, err := r.db.Exec(ctx, "DELETE FROM "+table); err != nil {
				return errors.Wrap(err, errors.ErrCodeInternal, "failed to clear "+table)
			}
		}

		for i, th := range t.Thresholds {
			_, err := r.db.Exec(ctx, `
				INSERT INTO rule_thresholds
				    (position, name, dollar_limit, effective_date, end_date, far_reference, description)
				VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				i, th.Name, th.DollarLimit, th.EffectiveDate, th.EndDate, th.FARReference, th.Description)
			if err != nil {
				return errors.Wrap(err, errors.ErrCodeInternal, "failed to insert threshold")
			}
		}

		for i, cr := range t.ClassificationRules {
			triggers := cr.AdvisoryTriggers
			if triggers == nil {
				triggers = []string{}
			}
			_, err := r.db.Exec(ctx, `
				INSERT INTO rule_classification
				    (position, path_id, need_type, situation, vendor_known, buy_category,
				     acquisition_type, pipeline, document_set_key, approval_template_key,
				     advisory_triggers, notes)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
				i, cr.PathID, cr.NeedType, cr.Situation, cr.VendorKnown, cr.BuyCategory,
				cr.AcquisitionType, cr.Pipeline, cr.DocumentSetKey, cr.ApprovalTemplateKey,
				triggers, cr.Notes)
			if err != nil {
				return errors.Wrap(err, errors.ErrCodeInternal, "failed to insert classification rule")
			}
		}

		for i, tmpl := range t.ApprovalTemplates {
			_, err := r.db.Exec(ctx, `
				INSERT INTO rule_approval_templates
				    (position, template_key, name, description, pipeline_type, is_default)
				VALUES ($1, $2, $3, $4, $5, $6)`,
				i, tmpl.Key, tmpl.Name, tmpl.Description, tmpl.PipelineType, tmpl.IsDefault)
			if err != nil {
				return errors.Wrap(err, errors.ErrCodeInternal, "failed to insert approval template")
			}
			for _, s := range tmpl.Steps {
				_, err := r.db.Exec(ctx, `
					INSERT INTO rule_approval_template_steps
					    (template_key, step_number, step_name, gate, approver_role, sla_days,
					     is_conditional, condition_rule, escalation_to, is_enabled)
					VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
					tmpl.Key, s.StepNumber, s.StepName, s.Gate, s.ApproverRole, s.SLADays,
					s.IsConditional, s.Condition, s.EscalationTo, s.Enabled)
				if err != nil {
					return errors.Wrap(err, errors.ErrCodeInternal, "failed to insert approval template step")
				}
			}
		}

		pos := 0
		for _, dt := range t.DocumentTemplates {
			_, err := r.db.Exec(ctx, `
				INSERT INTO rule_document_templates
				    (id, doc_type_key, name, category, required_before_gate, sort_order)
				VALUES ($1, $2, $3, $4, $5, $6)`,
				dt.ID, dt.DocTypeKey, dt.Name, dt.Category, dt.RequiredBeforeGate, dt.SortOrder)
			if err != nil {
				return errors.Wrap(err, errors.ErrCodeInternal, "failed to insert document template")
			}
			for _, rule := range dt.Rules {
				_, err := r.db.Exec(ctx, `
					INSERT INTO rule_document_rules
					    (position, id, template_id, conditions, applicability, priority)
					VALUES ($1, $2, $3, $4, $5, $6)`,
					pos, rule.ID, dt.ID, rule.Conditions, string(rule.Applicability), rule.Priority)
				if err != nil {
					return errors.Wrap(err, errors.ErrCodeInternal, "failed to insert document rule")
				}
				pos++
			}
		}

		for i, at := range t.AdvisoryTriggers {
			_, err := r.db.Exec(ctx, `
				INSERT INTO rule_advisory_triggers
				    (position, trigger_id, team, trigger_condition, feeds_into_gate,
				     blocks_gate, sla_days, escalation_to)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
				i, at.TriggerID, at.Team, at.TriggerCondition, at.FeedsIntoGate,
				at.BlocksGate, at.SLADays, at.EscalationTo)
			if err != nil {
				return errors.Wrap(err, errors.ErrCodeInternal, "failed to insert advisory trigger")
			}
		}
		return nil
	})
}

// ── table readers ─────────────────────────────────────────────────────────────

func (r *RuleCatalogRepository) loadThresholds(ctx context.Context) ([]rules.Threshold, error) {
	rows, err := r.db.Query(ctx, `
		SELECT name, dollar_limit, effective_date, end_date, far_reference, description
		FROM rule_thresholds
		ORDER BY position ASC`)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to load thresholds")
	}
	return collect(rows, "threshold", func(row pgx.Rows) (rules.Threshold, error) {
		var th rules.Threshold
		err := row.Scan(&th.Name, &th.DollarLimit, &th.EffectiveDate, &th.EndDate, &th.FARReference, &th.Description)
		return th, err
	})
}

func (r *RuleCatalogRepository) loadClassificationRules(ctx context.Context) ([]rules.ClassificationRule, error) {
	rows, err := r.db.Query(ctx, `
		SELECT path_id, need_type, situation, vendor_known, buy_category,
		       acquisition_type, pipeline, document_set_key, approval_template_key,
		       advisory_triggers, notes
		FROM rule_classification
		ORDER BY position ASC`)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to load classification rules")
	}
	return collect(rows, "classification rule", func(row pgx.Rows) (rules.ClassificationRule, error) {
		var cr rules.ClassificationRule
		err := row.Scan(&cr.PathID, &cr.NeedType, &cr.Situation, &cr.VendorKnown, &cr.BuyCategory,
			&cr.AcquisitionType, &cr.Pipeline, &cr.DocumentSetKey, &cr.ApprovalTemplateKey,
			&cr.AdvisoryTriggers, &cr.Notes)
		return cr, err
	})
}

func (r *RuleCatalogRepository) loadApprovalTemplates(ctx context.Context) ([]rules.ApprovalTemplate, error) {
	rows, err := r.db.Query(ctx, `
		SELECT template_key, name, description, pipeline_type, is_default
		FROM rule_approval_templates
		ORDER BY position ASC`)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to load approval templates")
	}
	templates, err := collect(rows, "approval template", func(row pgx.Rows) (rules.ApprovalTemplate, error) {
		var t rules.ApprovalTemplate
		err := row.Scan(&t.Key, &t.Name, &t.Description, &t.PipelineType, &t.IsDefault)
		return t, err
	})
	if err != nil {
		return nil, err
	}

	rows, err = r.db.Query(ctx, `
		SELECT template_key, step_number, step_name, gate, approver_role, sla_days,
		       is_conditional, condition_rule, escalation_to, is_enabled
		FROM rule_approval_template_steps
		ORDER BY template_key ASC, step_number ASC`)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to load approval template steps")
	}
	type keyedStep struct {
		key  string
		step rules.ApprovalTemplateStep
	}
	steps, err := collect(rows, "approval template step", func(row pgx.Rows) (keyedStep, error) {
		var ks keyedStep
		s := &ks.step
		err := row.Scan(&ks.key, &s.StepNumber, &s.StepName, &s.Gate, &s.ApproverRole, &s.SLADays,
			&s.IsConditional, &s.Condition, &s.EscalationTo, &s.Enabled)
		return ks, err
	})
	if err != nil {
		return nil, err
	}

	byKey := make(map[string]int, len(templates))
	for i, t := range templates {
		byKey[t.Key] = i
	}
	for _, ks := range steps {
		if i, ok := byKey[ks.key]; ok {
			templates[i].Steps = append(templates[i].Steps, ks.step)
		}
	}
	return templates, nil
}

func (r *RuleCatalogRepository) loadDocumentTemplates(ctx context.Context) ([]rules.DocumentTemplate, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, doc_type_key, name, category, required_before_gate, sort_order
		FROM rule_document_templates
		ORDER BY sort_order ASC, id ASC`)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to load document templates")
	}
	templates, err := collect(rows, "document template", func(row pgx.Rows) (rules.DocumentTemplate, error) {
		var t rules.DocumentTemplate
		err := row.Scan(&t.ID, &t.DocTypeKey, &t.Name, &t.Category, &t.RequiredBeforeGate, &t.SortOrder)
		return t, err
	})
	if err != nil {
		return nil, err
	}

	rows, err = r.db.Query(ctx, `
		SELECT template_id, id, conditions, applicability, priority
		FROM rule_document_rules
		ORDER BY position ASC`)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to load document rules")
	}
	type keyedRule struct {
		templateID string
		rule       rules.DocumentRule
	}
	docRules, err := collect(rows, "document rule", func(row pgx.Rows) (keyedRule, error) {
		var kr keyedRule
		var applicability string
		err := row.Scan(&kr.templateID, &kr.rule.ID, &kr.rule.Conditions, &applicability, &kr.rule.Priority)
		kr.rule.Applicability = rules.Applicability(applicability)
		return kr, err
	})
	if err != nil {
		return nil, err
	}

	byID := make(map[string]int, len(templates))
	for i, t := range templates {
		byID[t.ID] = i
	}
	for _, kr := range docRules {
		if i, ok := byID[kr.templateID]; ok {
			templates[i].Rules = append(templates[i].Rules, kr.rule)
		}
	}
	return templates, nil
}

func (r *RuleCatalogRepository) loadAdvisoryTriggers(ctx context.Context) ([]rules.AdvisoryTrigger, error) {
	rows, err := r.db.Query(ctx, `
		SELECT trigger_id, team, trigger_condition, feeds_into_gate, blocks_gate, sla_days, escalation_to
		FROM rule_advisory_triggers
		ORDER BY position ASC`)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to load advisory triggers")
	}
	return collect(rows, "advisory trigger", func(row pgx.Rows) (rules.AdvisoryTrigger, error) {
		var at rules.AdvisoryTrigger
		err := row.Scan(&at.TriggerID, &at.Team, &at.TriggerCondition, &at.FeedsIntoGate,
			&at.BlocksGate, &at.SLADays, &at.EscalationTo)
		return at, err
	})
}

// collect drains rows through scan and closes them.
func collect[T any](rows pgx.Rows, what string, scan func(pgx.Rows) (T, error)) ([]T, error) {
	defer rows.Close()

	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan "+what)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to read "+what+" rows")
	}
	return out, nil
}
