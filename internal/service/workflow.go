package service

import (
	"context"
	"strings"
	"time"

	"github.com/pesio-ai/be-acq-requests/internal/domain"
	"github.com/pesio-ai/be-acq-requests/internal/engine/checklist"
	"github.com/pesio-ai/be-acq-requests/internal/engine/classify"
	"github.com/pesio-ai/be-acq-requests/internal/engine/condition"
	"github.com/pesio-ai/be-acq-requests/internal/engine/readiness"
	"github.com/pesio-ai/be-acq-requests/internal/rules"
)

// Notification recipient for the person who raised the request. The
// notification service resolves it from the payload's requestor_id.
const recipientRequestor = "requestor"

// ── Classification ────────────────────────────────────────────────────────────

func intakeOf(q *domain.AcquisitionRequest) classify.IntakeAnswers {
	return classify.IntakeAnswers{
		NeedType:         q.NeedType,
		Situation:        q.Situation,
		VendorKnown:      q.VendorKnown,
		ChangeType:       q.ChangeType,
		BuyCategory:      q.BuyCategory,
		MixedPredominant: q.MixedPredominant,
	}
}

// applyClassification copies a result onto the request's derived fields.
func applyClassification(q *domain.AcquisitionRequest, res classify.Result, now time.Time) {
	q.AcquisitionType = res.AcquisitionType
	q.Tier = string(res.Tier)
	q.Pipeline = res.Pipeline
	q.ContractCharacter = res.ContractCharacter
	q.RequirementsDocType = res.RequirementsDocType
	q.SCLSApplicable = res.SCLSApplicable
	q.QASPRequired = res.QASPRequired
	q.EvaluationApproach = res.EvaluationApproach
	q.UrgencyFlag = res.UrgencyFlag
	q.MarketResearchPending = res.MarketResearchPending
	q.ApprovalTemplateKey = res.ApprovalTemplateKey
	q.DocumentSetKey = res.DocumentSetKey
	q.AdvisoryTriggers = append([]string(nil), res.AdvisoryTriggers...)
	q.MatchedPathID = res.MatchedPathID
	q.ClassificationSource = res.Source
	classifiedAt := now
	q.ClassifiedAt = &classifiedAt
}

func (d *deps) classify(q *domain.AcquisitionRequest) classify.Result {
	engine := classify.NewEngine(d.catalog)
	res := engine.ClassifyAt(intakeOf(q), q.EstimatedValue, d.now())
	applyClassification(q, res, d.now())
	d.metrics.RecordClassification(res.Source, res.Pipeline)
	return res
}

// ── Checklist ─────────────────────────────────────────────────────────────────

// reconcileChecklist regenerates the request's document package against the
// current catalog and persists the result. Must run inside a transaction.
func (d *deps) reconcileChecklist(ctx context.Context, q *domain.AcquisitionRequest) (checklist.Diff, error) {
	existing, err := d.repos.Documents.ListByRequest(ctx, q.ID)
	if err != nil {
		return checklist.Diff{}, err
	}

	decisions := checklist.Decide(d.catalog.Current().DocumentTemplates(), q)
	docs, diff := checklist.Apply(q.ID, decisions, existing, d.now())
	if err := d.repos.Documents.Save(ctx, docs); err != nil {
		return checklist.Diff{}, err
	}

	d.metrics.RecordChecklistDiff(len(diff.Added), len(diff.Removed))
	return diff, nil
}

// hasChecklist reports whether documents were ever generated for q.
func (d *deps) hasChecklist(ctx context.Context, q *domain.AcquisitionRequest) (bool, error) {
	docs, err := d.repos.Documents.ListByRequest(ctx, q.ID)
	if err != nil {
		return false, err
	}
	return len(docs) > 0, nil
}

func checklistEvent(q *domain.AcquisitionRequest, actorID string, diff checklist.Diff) domain.Notification {
	return domain.Notification{
		EventType:  domain.EventChecklistChanged,
		RequestID:  q.ID,
		ActorID:    actorID,
		Recipients: []string{recipientRequestor},
		Severity:   "info",
		Actionable: len(diff.Added) > 0,
		Payload: map[string]interface{}{
			"request_number": q.RequestNumber,
			"requestor_id":   q.RequestorID,
			"added":          diff.Added,
			"removed":        diff.Removed,
		},
	}
}

// ── Advisory inputs ───────────────────────────────────────────────────────────

// requestAdvisories creates one advisory input per triggered team. A team
// already attached to the request is left alone. Triggers whose condition
// does not hold for the request are skipped; a prose condition documents
// the trigger and is not evaluated. Must run inside a transaction.
func (d *deps) requestAdvisories(ctx context.Context, q *domain.AcquisitionRequest, actorID string) ([]domain.Notification, error) {
	catalog := d.catalog.Current()
	now := d.now()

	var events []domain.Notification
	for _, name := range q.AdvisoryTriggers {
		trigger, known := catalog.AdvisoryTrigger(name)
		if !known {
			d.log.Warn().Str("request_id", q.ID).Str("team", name).
				Msg("Advisory trigger not in catalog; requesting non-blocking review")
			trigger = rules.AdvisoryTrigger{Team: name}
		}
		if cond := strings.TrimSpace(trigger.TriggerCondition); strings.HasPrefix(cond, "{") && !condition.EvaluateJSON(cond, q) {
			continue
		}

		a := &domain.AdvisoryInput{
			RequestID:   q.ID,
			Team:        trigger.Team,
			TriggerID:   strPtr(trigger.TriggerID),
			Status:      domain.AdvisoryRequested,
			RequestedAt: now,
		}
		if trigger.BlocksGate && trigger.FeedsIntoGate != "" {
			a.BlocksGate = strPtr(trigger.FeedsIntoGate)
		}
		if trigger.SLADays > 0 {
			due := now.AddDate(0, 0, trigger.SLADays)
			a.DueAt = &due
		}

		created, err := d.repos.Advisories.Create(ctx, a)
		if err != nil {
			return nil, err
		}
		if !created {
			continue
		}

		d.appendAudit(ctx, &domain.AuditEntry{
			RequestID:   q.ID,
			EntityType:  "advisory_input",
			EntityID:    &a.ID,
			Action:      "requested",
			PerformedBy: actorID,
			Metadata: map[string]interface{}{
				"team":        a.Team,
				"blocks_gate": a.BlocksGate,
			},
		})
		events = append(events, domain.Notification{
			EventType:  domain.EventAdvisoryRequested,
			RequestID:  q.ID,
			ActorID:    actorID,
			Recipients: []string{a.Team},
			Severity:   "info",
			Actionable: true,
			Payload: map[string]interface{}{
				"advisory_id":    a.ID,
				"request_number": q.RequestNumber,
				"team":           a.Team,
				"blocks_gate":    a.BlocksGate,
				"due_at":         a.DueAt,
			},
		})
	}
	return events, nil
}

// ── Approval events ───────────────────────────────────────────────────────────

func approvalRequiredEvent(q *domain.AcquisitionRequest, step *domain.ApprovalStep, actorID string) domain.Notification {
	return domain.Notification{
		EventType:  domain.EventApprovalRequired,
		RequestID:  q.ID,
		ActorID:    actorID,
		Recipients: []string{step.ApproverRole},
		Severity:   "info",
		Actionable: true,
		Payload: map[string]interface{}{
			"request_number": q.RequestNumber,
			"title":          q.Title,
			"step_id":        step.ID,
			"step_number":    step.StepNumber,
			"step_name":      step.StepName,
			"gate":           step.Gate,
			"due_at":         step.DueAt,
		},
	}
}

func requestEvent(eventType string, q *domain.AcquisitionRequest, actorID, severity string, extra map[string]interface{}) domain.Notification {
	payload := map[string]interface{}{
		"request_number": q.RequestNumber,
		"title":          q.Title,
		"requestor_id":   q.RequestorID,
		"status":         q.Status,
	}
	for k, v := range extra {
		payload[k] = v
	}
	return domain.Notification{
		EventType:  eventType,
		RequestID:  q.ID,
		ActorID:    actorID,
		Recipients: []string{recipientRequestor},
		Severity:   severity,
		Payload:    payload,
	}
}

// ── Gate readiness ────────────────────────────────────────────────────────────

// gateReadiness gathers the request's documents, advisories and, for the
// contracting officer gate, its CLINs, and evaluates gate.
func (d *deps) gateReadiness(ctx context.Context, q *domain.AcquisitionRequest, gate string) (readiness.Result, error) {
	docs, err := d.repos.Documents.ListByRequest(ctx, q.ID)
	if err != nil {
		return readiness.Result{}, err
	}
	advisories, err := d.repos.Advisories.ListByRequest(ctx, q.ID)
	if err != nil {
		return readiness.Result{}, err
	}
	var clins []*domain.CLIN
	if gate == rules.GateKOReview {
		if clins, err = d.repos.Funding.ListCLINsByRequest(ctx, q.ID); err != nil {
			return readiness.Result{}, err
		}
	}

	res := readiness.Evaluate(readiness.Input{
		Gate:           gate,
		EstimatedValue: q.EstimatedValue,
		Documents:      docs,
		Advisories:     advisories,
		CLINs:          clins,
		Gates:          d.catalog.Current().Gates(),
	})
	d.metrics.RecordGateCheck(gate, res.Ready)
	return res, nil
}

// stepGate returns the gate a step guards, resolving legacy steps stored
// without one by their name.
func (d *deps) stepGate(step *domain.ApprovalStep) string {
	if step.Gate != "" {
		return step.Gate
	}
	return d.catalog.Current().Gates().ForStep(step.StepName)
}
