package service

import (
	"context"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-acq-requests/internal/domain"
	"github.com/pesio-ai/be-acq-requests/internal/engine/approval"
	"github.com/pesio-ai/be-acq-requests/internal/pkg/errors"
	"github.com/pesio-ai/be-acq-requests/internal/pkg/logger"
	"github.com/pesio-ai/be-acq-requests/internal/rules"
)

// ── Transactor ────────────────────────────────────────────────────────────────

type fakeTx struct {
	inTransactionFn func(ctx context.Context, fn func(ctx context.Context) error) error
	// savepointErrs records the errors rolled back to a savepoint.
	savepointErrs []error
}

func (f *fakeTx) InTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if f.inTransactionFn != nil {
		return f.inTransactionFn(ctx, fn)
	}
	return fn(ctx)
}

func (f *fakeTx) InSavepoint(ctx context.Context, fn func(ctx context.Context) error) error {
	err := fn(ctx)
	if err != nil {
		f.savepointErrs = append(f.savepointErrs, err)
	}
	return err
}

// ── Requests ──────────────────────────────────────────────────────────────────

type fakeRequests struct {
	items          map[string]*domain.AcquisitionRequest
	seq            int
	updateStatusFn func(ctx context.Context, id, expected, status string) error
}

func newFakeRequests() *fakeRequests {
	return &fakeRequests{items: map[string]*domain.AcquisitionRequest{}}
}

func (f *fakeRequests) Create(_ context.Context, q *domain.AcquisitionRequest) error {
	if q.ID == "" {
		f.seq++
		q.ID = fmt.Sprintf("req-%d", f.seq)
	}
	f.items[q.ID] = q
	return nil
}

func (f *fakeRequests) GetByID(_ context.Context, id string) (*domain.AcquisitionRequest, error) {
	q, ok := f.items[id]
	if !ok {
		return nil, errors.NotFound("acquisition_request", id)
	}
	return q, nil
}

func (f *fakeRequests) GetForUpdate(ctx context.Context, id string) (*domain.AcquisitionRequest, error) {
	return f.GetByID(ctx, id)
}

func (f *fakeRequests) Update(_ context.Context, q *domain.AcquisitionRequest) error {
	if _, ok := f.items[q.ID]; !ok {
		return errors.NotFound("acquisition_request", q.ID)
	}
	f.items[q.ID] = q
	return nil
}

func (f *fakeRequests) UpdateStatus(ctx context.Context, id, expected, status string) error {
	if f.updateStatusFn != nil {
		return f.updateStatusFn(ctx, id, expected, status)
	}
	q, ok := f.items[id]
	if !ok {
		return errors.NotFound("acquisition_request", id)
	}
	if q.Status != expected {
		return errors.Conflict("request is no longer " + expected)
	}
	q.Status = status
	return nil
}

func (f *fakeRequests) List(_ context.Context, status string, limit, offset int) ([]*domain.AcquisitionRequest, error) {
	var out []*domain.AcquisitionRequest
	for _, q := range f.items {
		if status == "" || q.Status == status {
			out = append(out, q)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ── Steps ─────────────────────────────────────────────────────────────────────

// fakeSteps stores copies so that a stale expected status is detected the
// way the SQL guard detects it.
type fakeSteps struct {
	rows     map[string]*domain.ApprovalStep
	seq      int
	updateFn func(ctx context.Context, s *domain.ApprovalStep, expected string) error
}

func newFakeSteps() *fakeSteps {
	return &fakeSteps{rows: map[string]*domain.ApprovalStep{}}
}

func (f *fakeSteps) CreateBatch(_ context.Context, steps []*domain.ApprovalStep) error {
	for _, s := range steps {
		if s.ID == "" {
			f.seq++
			s.ID = fmt.Sprintf("step-%d", f.seq)
		}
		c := *s
		f.rows[s.ID] = &c
	}
	return nil
}

func (f *fakeSteps) ListByRequest(_ context.Context, requestID string) ([]*domain.ApprovalStep, error) {
	var out []*domain.ApprovalStep
	for _, s := range f.rows {
		if s.RequestID == requestID {
			c := *s
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StepNumber < out[j].StepNumber })
	return out, nil
}

func (f *fakeSteps) LockByRequest(ctx context.Context, requestID string) ([]*domain.ApprovalStep, error) {
	return f.ListByRequest(ctx, requestID)
}

func (f *fakeSteps) ListActiveByRole(_ context.Context, role string) ([]*domain.ApprovalStep, error) {
	var out []*domain.ApprovalStep
	for _, s := range f.rows {
		if s.Status == domain.StepActive && (role == "" || s.ApproverRole == role) {
			c := *s
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeSteps) Update(ctx context.Context, s *domain.ApprovalStep, expected string) error {
	if f.updateFn != nil {
		return f.updateFn(ctx, s, expected)
	}
	stored, ok := f.rows[s.ID]
	if !ok || stored.Status != expected {
		return errors.Conflict(fmt.Sprintf("step %d is no longer %s", s.StepNumber, expected))
	}
	c := *s
	f.rows[s.ID] = &c
	return nil
}

func (f *fakeSteps) byNumber(requestID string, n int) *domain.ApprovalStep {
	for _, s := range f.rows {
		if s.RequestID == requestID && s.StepNumber == n {
			return s
		}
	}
	return nil
}

// ── Documents ─────────────────────────────────────────────────────────────────

type fakeDocuments struct {
	docs   []*domain.PackageDocument
	seq    int
	saveFn func(ctx context.Context, docs []*domain.PackageDocument) error
}

func (f *fakeDocuments) ListByRequest(_ context.Context, requestID string) ([]*domain.PackageDocument, error) {
	var out []*domain.PackageDocument
	for _, d := range f.docs {
		if d.RequestID == requestID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f *fakeDocuments) GetForUpdate(_ context.Context, id string) (*domain.PackageDocument, error) {
	for _, d := range f.docs {
		if d.ID == id {
			return d, nil
		}
	}
	return nil, errors.NotFound("package_document", id)
}

func (f *fakeDocuments) Save(ctx context.Context, docs []*domain.PackageDocument) error {
	if f.saveFn != nil {
		return f.saveFn(ctx, docs)
	}
	for _, d := range docs {
		if d.ID == "" {
			f.seq++
			d.ID = fmt.Sprintf("doc-%d", f.seq)
			f.docs = append(f.docs, d)
		}
	}
	return nil
}

func (f *fakeDocuments) byTemplate(requestID, templateID string) *domain.PackageDocument {
	for _, d := range f.docs {
		if d.RequestID == requestID && d.TemplateID == templateID {
			return d
		}
	}
	return nil
}

// ── Advisories ────────────────────────────────────────────────────────────────

type fakeAdvisories struct {
	items []*domain.AdvisoryInput
	seq   int
}

func (f *fakeAdvisories) Create(_ context.Context, a *domain.AdvisoryInput) (bool, error) {
	for _, existing := range f.items {
		if existing.RequestID == a.RequestID && existing.Team == a.Team {
			return false, nil
		}
	}
	f.seq++
	a.ID = fmt.Sprintf("adv-%d", f.seq)
	f.items = append(f.items, a)
	return true, nil
}

func (f *fakeAdvisories) ListByRequest(_ context.Context, requestID string) ([]*domain.AdvisoryInput, error) {
	var out []*domain.AdvisoryInput
	for _, a := range f.items {
		if a.RequestID == requestID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeAdvisories) GetForUpdate(_ context.Context, id string) (*domain.AdvisoryInput, error) {
	for _, a := range f.items {
		if a.ID == id {
			return a, nil
		}
	}
	return nil, errors.NotFound("advisory_input", id)
}

func (f *fakeAdvisories) Update(context.Context, *domain.AdvisoryInput) error { return nil }

func (f *fakeAdvisories) byTeam(requestID, team string) *domain.AdvisoryInput {
	for _, a := range f.items {
		if a.RequestID == requestID && a.Team == team {
			return a
		}
	}
	return nil
}

// ── Funding ───────────────────────────────────────────────────────────────────

type fakeFunding struct {
	clins      map[string]*domain.CLIN
	lines      map[string]*domain.FundingLine
	executions map[string]*domain.ExecutionRequest
}

func newFakeFunding() *fakeFunding {
	return &fakeFunding{
		clins:      map[string]*domain.CLIN{},
		lines:      map[string]*domain.FundingLine{},
		executions: map[string]*domain.ExecutionRequest{},
	}
}

func (f *fakeFunding) GetCLIN(_ context.Context, id string) (*domain.CLIN, error) {
	c, ok := f.clins[id]
	if !ok {
		return nil, errors.NotFound("clin", id)
	}
	return c, nil
}

func (f *fakeFunding) GetCLINForUpdate(ctx context.Context, id string) (*domain.CLIN, error) {
	return f.GetCLIN(ctx, id)
}

func (f *fakeFunding) ListCLINsByRequest(_ context.Context, requestID string) ([]*domain.CLIN, error) {
	var out []*domain.CLIN
	for _, c := range f.clins {
		if c.RequestID == requestID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CLINNumber < out[j].CLINNumber })
	return out, nil
}

func (f *fakeFunding) ListCLINsByFundingLine(_ context.Context, lineID string) ([]*domain.CLIN, error) {
	var out []*domain.CLIN
	for _, c := range f.clins {
		if c.FundingLineID != nil && *c.FundingLineID == lineID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeFunding) GetFundingLineForUpdate(_ context.Context, id string) (*domain.FundingLine, error) {
	l, ok := f.lines[id]
	if !ok {
		return nil, errors.NotFound("funding_line", id)
	}
	c := *l
	return &c, nil
}

func (f *fakeFunding) UpdateFundingLineTotals(_ context.Context, l *domain.FundingLine) error {
	c := *l
	f.lines[l.ID] = &c
	return nil
}

func (f *fakeFunding) ListExecutionsByCLIN(_ context.Context, clinID string) ([]*domain.ExecutionRequest, error) {
	var out []*domain.ExecutionRequest
	for _, e := range f.executions {
		if e.CLINID == clinID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeFunding) GetExecutionForUpdate(_ context.Context, id string) (*domain.ExecutionRequest, error) {
	e, ok := f.executions[id]
	if !ok {
		return nil, errors.NotFound("execution_request", id)
	}
	return e, nil
}

func (f *fakeFunding) UpdateExecutionFunding(context.Context, *domain.ExecutionRequest) error {
	return nil
}

// ── Audit, rules, notifications ───────────────────────────────────────────────

type fakeAudit struct {
	entries  []*domain.AuditEntry
	appendFn func(ctx context.Context, e *domain.AuditEntry) error
}

func (f *fakeAudit) Append(ctx context.Context, e *domain.AuditEntry) error {
	if f.appendFn != nil {
		return f.appendFn(ctx, e)
	}
	f.entries = append(f.entries, e)
	return nil
}

func (f *fakeAudit) ListByRequest(_ context.Context, requestID string) ([]*domain.AuditEntry, error) {
	var out []*domain.AuditEntry
	for _, e := range f.entries {
		if e.RequestID == requestID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeAudit) actions() []string {
	out := make([]string, 0, len(f.entries))
	for _, e := range f.entries {
		out = append(out, e.Action)
	}
	return out
}

type fakeRules struct {
	tables       rules.Tables
	loadFn       func(ctx context.Context) (rules.Tables, error)
	replaceCalls int
}

func (f *fakeRules) LoadTables(ctx context.Context) (rules.Tables, error) {
	if f.loadFn != nil {
		return f.loadFn(ctx)
	}
	return f.tables, nil
}

func (f *fakeRules) ReplaceAll(_ context.Context, t rules.Tables) error {
	f.replaceCalls++
	f.tables = t
	return nil
}

type recordingNotifier struct {
	sent []domain.Notification
}

func (r *recordingNotifier) Notify(_ context.Context, n domain.Notification) {
	r.sent = append(r.sent, n)
}

func (r *recordingNotifier) events() []string {
	out := make([]string, 0, len(r.sent))
	for _, n := range r.sent {
		out = append(out, n.EventType)
	}
	return out
}

// ── Environment ───────────────────────────────────────────────────────────────

var testNow = time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)

type testEnv struct {
	tx         *fakeTx
	requests   *fakeRequests
	steps      *fakeSteps
	documents  *fakeDocuments
	advisories *fakeAdvisories
	funding    *fakeFunding
	audit      *fakeAudit
	rules      *fakeRules
	notifier   *recordingNotifier
	store      *rules.Store

	requestSvc  *RequestService
	approvalSvc *ApprovalRoutingService
	packageSvc  *PackageService
	fundingSvc  *FundingService
	rulesSvc    *RulesService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	tables, err := rules.LoadFile("../../config/rules.yaml")
	require.NoError(t, err)
	catalog, err := rules.NewCatalog(tables, nil)
	require.NoError(t, err)

	env := &testEnv{
		tx:         &fakeTx{},
		requests:   newFakeRequests(),
		steps:      newFakeSteps(),
		documents:  &fakeDocuments{},
		advisories: &fakeAdvisories{},
		funding:    newFakeFunding(),
		audit:      &fakeAudit{},
		rules:      &fakeRules{},
		notifier:   &recordingNotifier{},
		store:      rules.NewStore(catalog),
	}

	repos := Repositories{
		Tx:         env.tx,
		Requests:   env.requests,
		Steps:      env.steps,
		Documents:  env.documents,
		Advisories: env.advisories,
		Funding:    env.funding,
		Audit:      env.audit,
		Rules:      env.rules,
	}
	opts := Options{AdminRole: "admin", Now: func() time.Time { return testNow }}
	log := logger.Nop()

	env.requestSvc = NewRequestService(repos, env.store, env.notifier, opts, log)
	env.approvalSvc = NewApprovalRoutingService(repos, env.store, env.notifier, opts, log)
	env.packageSvc = NewPackageService(repos, env.store, env.notifier, opts, log)
	env.fundingSvc = NewFundingService(repos, env.store, env.notifier, opts, log)
	env.rulesSvc = NewRulesService(repos, env.store, opts, log)
	return env
}

var (
	requestor    = approval.Principal{ID: "u-req", Name: "Rita Requestor", Role: "requestor"}
	branchChief  = approval.Principal{ID: "u-bc", Name: "Branch Chief", Role: "branch_chief"}
	contractingO = approval.Principal{ID: "u-ko", Name: "Contracting Officer", Role: "ko"}
)

// competitiveService creates a classified draft for a new competitive
// service buy above the simplified acquisition threshold.
func (env *testEnv) competitiveService(t *testing.T) *domain.AcquisitionRequest {
	t.Helper()
	q, err := env.requestSvc.CreateRequest(context.Background(), CreateRequestInput{
		Title:          "Help desk support",
		EstimatedValue: 500000,
		NeedType:       "new",
		Situation:      "No specific vendor",
		VendorKnown:    "no",
		BuyCategory:    "service",
	}, requestor)
	require.NoError(t, err)
	return q
}
