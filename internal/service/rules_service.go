package service

import (
	"context"
	"time"

	"github.com/pesio-ai/be-acq-requests/internal/domain"
	"github.com/pesio-ai/be-acq-requests/internal/engine/classify"
	"github.com/pesio-ai/be-acq-requests/internal/engine/condition"
	"github.com/pesio-ai/be-acq-requests/internal/pkg/errors"
	"github.com/pesio-ai/be-acq-requests/internal/pkg/logger"
	"github.com/pesio-ai/be-acq-requests/internal/rules"
)

// RulesService maintains the rule catalog: reloads from the database, seed
// imports and condition authoring checks.
type RulesService struct {
	deps
}

// NewRulesService creates a new RulesService.
func NewRulesService(repos Repositories, catalog CatalogStore, opts Options, log *logger.Logger) *RulesService {
	return &RulesService{deps: newDeps(repos, catalog, nil, opts, log)}
}

// CatalogSummary describes the catalog in effect.
type CatalogSummary struct {
	LoadedAt            time.Time          `json:"loaded_at"`
	Thresholds          map[string]float64 `json:"thresholds"`
	ClassificationRules int                `json:"classification_rules"`
	ApprovalTemplates   int                `json:"approval_templates"`
	DocumentTemplates   int                `json:"document_templates"`
	AdvisoryTriggers    int                `json:"advisory_triggers"`
	Warnings            []string           `json:"warnings"`
}

// ValidateCondition checks a condition expression and returns its
// canonical encoding.
func (s *RulesService) ValidateCondition(text string) (string, error) {
	canonical, err := condition.Validate(text)
	if err != nil {
		return "", errors.InvalidInput("condition", err.Error())
	}
	return canonical, nil
}

// ConditionFields lists the request fields a condition may reference.
func (s *RulesService) ConditionFields() []string {
	return domain.ConditionFields()
}

// ReloadRules rebuilds the catalog from the database and swaps it in.
// Requests already being processed keep the catalog they started with.
func (s *RulesService) ReloadRules(ctx context.Context) (*CatalogSummary, error) {
	tables, err := s.repos.Rules.LoadTables(ctx)
	if err != nil {
		s.metrics.RecordRuleReload(err, time.Time{})
		return nil, err
	}
	return s.install(tables)
}

// ImportRules validates a YAML rule set, replaces the stored tables with it
// and swaps it in. Nothing is stored if the rule set is invalid.
func (s *RulesService) ImportRules(ctx context.Context, raw []byte) (*CatalogSummary, error) {
	tables, err := rules.Decode(raw)
	if err != nil {
		return nil, errors.InvalidInput("rules", err.Error())
	}
	if _, err := rules.NewCatalog(tables, s.gates()); err != nil {
		return nil, errors.InvalidInput("rules", err.Error())
	}
	if err := s.repos.Rules.ReplaceAll(ctx, tables); err != nil {
		return nil, err
	}
	return s.install(tables)
}

// Bootstrap loads the stored rules. An empty rule store is seeded from
// seedFile when one is configured.
func (s *RulesService) Bootstrap(ctx context.Context, seedFile string) (*CatalogSummary, error) {
	tables, err := s.repos.Rules.LoadTables(ctx)
	if err != nil {
		return nil, err
	}
	empty := len(tables.Thresholds) == 0 && len(tables.ClassificationRules) == 0 &&
		len(tables.ApprovalTemplates) == 0 && len(tables.DocumentTemplates) == 0 &&
		len(tables.AdvisoryTriggers) == 0

	if empty && seedFile != "" {
		if tables, err = rules.LoadFile(seedFile); err != nil {
			return nil, err
		}
		if err := s.repos.Rules.ReplaceAll(ctx, tables); err != nil {
			return nil, err
		}
		s.log.Info().Str("seed_file", seedFile).Msg("Rule tables seeded")
	}
	return s.install(tables)
}

// Summary describes the catalog in effect.
func (s *RulesService) Summary() *CatalogSummary {
	return summarize(s.catalog.Current(), s.now())
}

// Export returns the catalog in effect in ingestion shape.
func (s *RulesService) Export() rules.Tables {
	return s.catalog.Current().Tables()
}

func (s *RulesService) install(tables rules.Tables) (*CatalogSummary, error) {
	c, err := rules.NewCatalog(tables, s.gates())
	if err != nil {
		s.metrics.RecordRuleReload(err, time.Time{})
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "stored rules are invalid")
	}
	s.catalog.Replace(c)
	s.metrics.RecordRuleReload(nil, c.LoadedAt())

	for _, w := range c.Warnings() {
		s.log.Warn().Str("warning", w).Msg("Rule catalog warning")
	}
	s.log.Info().
		Int("classification_rules", len(c.ClassificationRules())).
		Int("approval_templates", len(c.ApprovalTemplates())).
		Int("document_templates", len(c.DocumentTemplates())).
		Msg("Rule catalog loaded")

	return summarize(c, s.now()), nil
}

// gates keeps the gate catalog of the catalog in effect across reloads.
func (s *RulesService) gates() *rules.GateCatalog {
	if current := s.catalog.Current(); current != nil {
		return current.Gates()
	}
	return nil
}

func summarize(c *rules.Catalog, now time.Time) *CatalogSummary {
	return &CatalogSummary{
		LoadedAt:            c.LoadedAt(),
		Thresholds:          classify.ResolveThresholds(c.Thresholds(), now).Values(),
		ClassificationRules: len(c.ClassificationRules()),
		ApprovalTemplates:   len(c.ApprovalTemplates()),
		DocumentTemplates:   len(c.DocumentTemplates()),
		AdvisoryTriggers:    len(c.AdvisoryTriggers()),
		Warnings:            append([]string{}, c.Warnings()...),
	}
}
