package service

import (
	"context"
	"time"

	"github.com/pesio-ai/be-acq-requests/internal/domain"
	"github.com/pesio-ai/be-acq-requests/internal/metrics"
	"github.com/pesio-ai/be-acq-requests/internal/pkg/logger"
	"github.com/pesio-ai/be-acq-requests/internal/rules"
)

// ── Collaborators ─────────────────────────────────────────────────────────────
//
// The services depend on these interfaces; internal/repository and
// internal/client provide the production implementations.

// Transactor runs fn in one database transaction carried by ctx.
// InSavepoint isolates fn's failure from the enclosing transaction.
type Transactor interface {
	InTransaction(ctx context.Context, fn func(ctx context.Context) error) error
	InSavepoint(ctx context.Context, fn func(ctx context.Context) error) error
}

// RequestStore persists acquisition requests.
type RequestStore interface {
	Create(ctx context.Context, q *domain.AcquisitionRequest) error
	GetByID(ctx context.Context, id string) (*domain.AcquisitionRequest, error)
	GetForUpdate(ctx context.Context, id string) (*domain.AcquisitionRequest, error)
	Update(ctx context.Context, q *domain.AcquisitionRequest) error
	UpdateStatus(ctx context.Context, id, expected, status string) error
	List(ctx context.Context, status string, limit, offset int) ([]*domain.AcquisitionRequest, error)
}

// StepStore persists approval steps.
type StepStore interface {
	CreateBatch(ctx context.Context, steps []*domain.ApprovalStep) error
	ListByRequest(ctx context.Context, requestID string) ([]*domain.ApprovalStep, error)
	LockByRequest(ctx context.Context, requestID string) ([]*domain.ApprovalStep, error)
	ListActiveByRole(ctx context.Context, role string) ([]*domain.ApprovalStep, error)
	Update(ctx context.Context, s *domain.ApprovalStep, expected string) error
}

// DocumentStore persists package documents.
type DocumentStore interface {
	ListByRequest(ctx context.Context, requestID string) ([]*domain.PackageDocument, error)
	GetForUpdate(ctx context.Context, id string) (*domain.PackageDocument, error)
	Save(ctx context.Context, docs []*domain.PackageDocument) error
}

// AdvisoryStore persists advisory inputs.
type AdvisoryStore interface {
	Create(ctx context.Context, a *domain.AdvisoryInput) (bool, error)
	ListByRequest(ctx context.Context, requestID string) ([]*domain.AdvisoryInput, error)
	GetForUpdate(ctx context.Context, id string) (*domain.AdvisoryInput, error)
	Update(ctx context.Context, a *domain.AdvisoryInput) error
}

// FundingStore reads CLINs and execution requests and maintains funding
// line totals.
type FundingStore interface {
	GetCLIN(ctx context.Context, id string) (*domain.CLIN, error)
	GetCLINForUpdate(ctx context.Context, id string) (*domain.CLIN, error)
	ListCLINsByRequest(ctx context.Context, requestID string) ([]*domain.CLIN, error)
	ListCLINsByFundingLine(ctx context.Context, fundingLineID string) ([]*domain.CLIN, error)
	GetFundingLineForUpdate(ctx context.Context, id string) (*domain.FundingLine, error)
	UpdateFundingLineTotals(ctx context.Context, f *domain.FundingLine) error
	ListExecutionsByCLIN(ctx context.Context, clinID string) ([]*domain.ExecutionRequest, error)
	GetExecutionForUpdate(ctx context.Context, id string) (*domain.ExecutionRequest, error)
	UpdateExecutionFunding(ctx context.Context, e *domain.ExecutionRequest) error
}

// AuditStore appends to and reads the audit log.
type AuditStore interface {
	Append(ctx context.Context, entry *domain.AuditEntry) error
	ListByRequest(ctx context.Context, requestID string) ([]*domain.AuditEntry, error)
}

// RuleTableStore loads and replaces the persisted rule tables.
type RuleTableStore interface {
	LoadTables(ctx context.Context) (rules.Tables, error)
	ReplaceAll(ctx context.Context, t rules.Tables) error
}

// Notifier delivers workflow events. Implementations never fail the caller.
type Notifier interface {
	Notify(ctx context.Context, n domain.Notification)
}

// CatalogStore holds the rule catalog in effect.
type CatalogStore interface {
	Current() *rules.Catalog
	Replace(c *rules.Catalog) *rules.Catalog
}

// Repositories groups the stores a service may use. Services only touch
// the fields they need.
type Repositories struct {
	Tx         Transactor
	Requests   RequestStore
	Steps      StepStore
	Documents  DocumentStore
	Advisories AdvisoryStore
	Funding    FundingStore
	Audit      AuditStore
	Rules      RuleTableStore
}

// Options carries settings shared by every service.
type Options struct {
	AdminRole string
	Metrics   *metrics.Metrics
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// deps is embedded by every service.
type deps struct {
	repos     Repositories
	catalog   CatalogStore
	notifier  Notifier
	adminRole string
	metrics   *metrics.Metrics
	log       *logger.Logger
	now       func() time.Time
}

func newDeps(repos Repositories, catalog CatalogStore, notifier Notifier, opts Options, log *logger.Logger) deps {
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return deps{
		repos:     repos,
		catalog:   catalog,
		notifier:  notifier,
		adminRole: opts.AdminRole,
		metrics:   opts.Metrics,
		log:       log,
		now:       now,
	}
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, domain.Notification) {}

// ── Internal helpers ──────────────────────────────────────────────────────────

// appendAudit writes an audit entry and logs a warning on failure (never returns error).
// The insert runs in a savepoint so a failed write does not abort the
// caller's transaction.
func (d *deps) appendAudit(ctx context.Context, entry *domain.AuditEntry) {
	if entry.PerformedAt.IsZero() {
		entry.PerformedAt = d.now()
	}
	err := d.repos.Tx.InSavepoint(ctx, func(ctx context.Context) error {
		return d.repos.Audit.Append(ctx, entry)
	})
	if err != nil {
		d.log.Warn().Err(err).
			Str("request_id", entry.RequestID).
			Str("action", entry.Action).
			Msg("Failed to write audit log entry")
	}
}

// notifyAll sends events after the transaction that produced them has
// committed.
func (d *deps) notifyAll(ctx context.Context, events []domain.Notification) {
	for _, n := range events {
		d.notifier.Notify(ctx, n)
	}
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
