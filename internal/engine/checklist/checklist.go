// Package checklist decides which package documents a request needs and
// reconciles those decisions with the documents already on file.
package checklist

import (
	"time"

	"github.com/pesio-ai/be-acq-requests/internal/domain"
	"github.com/pesio-ai/be-acq-requests/internal/engine/condition"
	"github.com/pesio-ai/be-acq-requests/internal/rules"
)

// Decision is the applicability of one document template for a request.
type Decision struct {
	Template      rules.DocumentTemplate
	Applicability rules.Applicability
	RuleID        string // empty when no rule matched
}

// Required reports whether the document belongs to the required package.
func (d Decision) Required() bool {
	return d.Applicability.Requires()
}

// Decide evaluates each template's rules in catalog order (descending
// priority) and keeps the first match. Templates with no matching rule are
// not required.
func Decide(templates []rules.DocumentTemplate, rec condition.Record) []Decision {
	decisions := make([]Decision, 0, len(templates))
	for _, tmpl := range templates {
		d := Decision{Template: tmpl, Applicability: rules.NotRequired}
		for _, rule := range tmpl.Rules {
			if rule.Matches(rec) {
				d.Applicability = rule.Applicability
				d.RuleID = rule.ID
				break
			}
		}
		decisions = append(decisions, d)
	}
	return decisions
}

// Diff summarises a reconciliation by template id.
type Diff struct {
	Added     []string `json:"added"`
	Removed   []string `json:"removed"`
	Unchanged []string `json:"unchanged"`
}

// Changed reports whether any required flag moved.
func (d Diff) Changed() bool {
	return len(d.Added) > 0 || len(d.Removed) > 0
}

// Apply folds decisions into the request's existing documents. Missing
// documents are created; existing ones only have their required flags and
// applicability updated. Work in progress and completed work keep their
// status. Documents are never dropped: a document that stops being required
// is marked WasRequired and, if untouched, not_required.
//
// The returned slice holds every document for the request, existing ones
// first (in their given order) followed by new ones. Callers persist entries
// whose ID is empty as inserts and the rest as updates.
func Apply(requestID string, decisions []Decision, existing []*domain.PackageDocument, now time.Time) ([]*domain.PackageDocument, Diff) {
	byTemplate := make(map[string]*domain.PackageDocument, len(existing))
	for _, doc := range existing {
		byTemplate[doc.TemplateID] = doc
	}

	diff := Diff{Added: []string{}, Removed: []string{}, Unchanged: []string{}}
	docs := append([]*domain.PackageDocument(nil), existing...)

	for _, d := range decisions {
		required := d.Required()
		doc, ok := byTemplate[d.Template.ID]
		if !ok {
			if !required && d.Applicability != rules.Recommended {
				// never applicable: nothing to track
				continue
			}
			status := domain.DocNotStarted
			if !required {
				status = domain.DocNotRequired
			}
			doc = &domain.PackageDocument{
				RequestID:          requestID,
				TemplateID:         d.Template.ID,
				DocumentType:       d.Template.DocTypeKey,
				Title:              d.Template.Name,
				Status:             status,
				RequiredBeforeGate: d.Template.RequiredBeforeGate,
				IsRequired:         required,
				Applicability:      string(d.Applicability),
				CreatedAt:          now,
				UpdatedAt:          now,
			}
			docs = append(docs, doc)
			byTemplate[d.Template.ID] = doc
			if required {
				diff.Added = append(diff.Added, d.Template.ID)
			} else {
				diff.Unchanged = append(diff.Unchanged, d.Template.ID)
			}
			continue
		}

		was := doc.IsRequired
		doc.Applicability = string(d.Applicability)
		doc.RequiredBeforeGate = d.Template.RequiredBeforeGate
		switch {
		case was && !required:
			doc.IsRequired = false
			doc.WasRequired = true
			if doc.Status == domain.DocNotStarted {
				doc.Status = domain.DocNotRequired
			}
			doc.UpdatedAt = now
			diff.Removed = append(diff.Removed, d.Template.ID)
		case !was && required:
			doc.IsRequired = true
			doc.WasRequired = false
			if doc.Status == domain.DocNotRequired {
				doc.Status = domain.DocNotStarted
			}
			doc.UpdatedAt = now
			diff.Added = append(diff.Added, d.Template.ID)
		default:
			diff.Unchanged = append(diff.Unchanged, d.Template.ID)
		}
	}
	return docs, diff
}
