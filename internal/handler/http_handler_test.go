package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-acq-requests/internal/domain"
	"github.com/pesio-ai/be-acq-requests/internal/engine/approval"
	"github.com/pesio-ai/be-acq-requests/internal/engine/classify"
	"github.com/pesio-ai/be-acq-requests/internal/engine/funding"
	"github.com/pesio-ai/be-acq-requests/internal/engine/readiness"
	"github.com/pesio-ai/be-acq-requests/internal/metrics"
	"github.com/pesio-ai/be-acq-requests/internal/pkg/errors"
	"github.com/pesio-ai/be-acq-requests/internal/pkg/logger"
	"github.com/pesio-ai/be-acq-requests/internal/service"
)

// Fakes embed the interface so only the methods under test need a body.

type fakeRequests struct {
	RequestAPI
	createFn  func(in service.CreateRequestInput, p approval.Principal) (*domain.AcquisitionRequest, error)
	getFn     func(id string) (*domain.AcquisitionRequest, error)
	updateFn  func(id string, updates map[string]any) (*domain.AcquisitionRequest, error)
	previewFn func(a classify.IntakeAnswers, value float64) classify.Result
}

func (f *fakeRequests) CreateRequest(_ context.Context, in service.CreateRequestInput, p approval.Principal) (*domain.AcquisitionRequest, error) {
	return f.createFn(in, p)
}

func (f *fakeRequests) GetRequest(_ context.Context, id string) (*domain.AcquisitionRequest, error) {
	return f.getFn(id)
}

func (f *fakeRequests) UpdateRequest(_ context.Context, id string, updates map[string]any, _ approval.Principal) (*domain.AcquisitionRequest, error) {
	return f.updateFn(id, updates)
}

func (f *fakeRequests) Preview(a classify.IntakeAnswers, value float64) classify.Result {
	return f.previewFn(a, value)
}

type fakeApprovals struct {
	ApprovalAPI
	actFn   func(in service.ActInput, p approval.Principal) (*service.ActResult, error)
	queueFn func(p approval.Principal) ([]service.QueueItem, error)
}

func (f *fakeApprovals) ActOnStep(_ context.Context, in service.ActInput, p approval.Principal) (*service.ActResult, error) {
	return f.actFn(in, p)
}

func (f *fakeApprovals) ApprovalQueue(_ context.Context, p approval.Principal) ([]service.QueueItem, error) {
	return f.queueFn(p)
}

type fakePackages struct {
	PackageAPI
	checkGateFn func(requestID, gate string) (readiness.Result, error)
}

func (f *fakePackages) CheckGate(_ context.Context, requestID, gate string) (readiness.Result, error) {
	return f.checkGateFn(requestID, gate)
}

type fakeFunding struct {
	FundingAPI
	balanceFn func(in service.BalanceInput) (funding.BalanceCheck, error)
}

func (f *fakeFunding) CheckCLINBalance(_ context.Context, in service.BalanceInput) (funding.BalanceCheck, error) {
	return f.balanceFn(in)
}

type fakeRules struct {
	RulesAPI
	reloadCalls int
	importFn    func(raw []byte) (*service.CatalogSummary, error)
}

func (f *fakeRules) ReloadRules(context.Context) (*service.CatalogSummary, error) {
	f.reloadCalls++
	return &service.CatalogSummary{ClassificationRules: 8}, nil
}

func (f *fakeRules) ImportRules(_ context.Context, raw []byte) (*service.CatalogSummary, error) {
	return f.importFn(raw)
}

type fakeHealth struct{ err error }

func (f fakeHealth) Health(context.Context) error { return f.err }

type testServer struct {
	requests  *fakeRequests
	approvals *fakeApprovals
	packages  *fakePackages
	funding   *fakeFunding
	rules     *fakeRules
	metrics   *metrics.Metrics
	handler   http.Handler
}

func newTestServer(t *testing.T, health HealthChecker) *testServer {
	t.Helper()
	ts := &testServer{
		requests:  &fakeRequests{},
		approvals: &fakeApprovals{},
		packages:  &fakePackages{},
		funding:   &fakeFunding{},
		rules:     &fakeRules{},
		metrics:   metrics.New("acq_test"),
	}
	h := NewHTTPHandler(Services{
		Requests:  ts.requests,
		Approvals: ts.approvals,
		Packages:  ts.packages,
		Funding:   ts.funding,
		Rules:     ts.rules,
	}, HTTPOptions{AdminRole: "admin", Metrics: ts.metrics, Health: health}, logger.Nop())
	ts.handler = h.Routes()
	return ts
}

func (ts *testServer) do(method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		_ = json.NewEncoder(&buf).Encode(b)
	}
	req := httptest.NewRequest(method, path, &buf)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotNil(t, body.Error)
	return body
}

var koHeaders = map[string]string{
	HeaderUserID:   "u-ko",
	HeaderUserName: "Kim Officer",
	HeaderUserRole: "contracting_officer",
}

func TestHealth(t *testing.T) {
	rec := newTestServer(t, fakeHealth{}).do(http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = newTestServer(t, fakeHealth{err: assert.AnError}).do(http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCreateRequest(t *testing.T) {
	ts := newTestServer(t, nil)
	var gotPrincipal approval.Principal
	ts.requests.createFn = func(in service.CreateRequestInput, p approval.Principal) (*domain.AcquisitionRequest, error) {
		gotPrincipal = p
		return &domain.AcquisitionRequest{
			ID:            "req-1",
			RequestNumber: "ACQ-2026-00000001",
			Title:         in.Title,
			NeedType:      in.NeedType,
			Status:        domain.RequestDraft,
		}, nil
	}

	rec := ts.do(http.MethodPost, "/api/v1/requests", map[string]any{
		"title":               "Help desk support",
		"estimated_value":     500000,
		"intake_q1_need_type": "new",
	}, koHeaders)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "ACQ-2026-00000001", got["request_number"])
	assert.Equal(t, "new", got["intake_q1_need_type"])
	assert.Equal(t, "draft", got["status"])
	assert.Equal(t, approval.Principal{ID: "u-ko", Name: "Kim Officer", Role: "contracting_officer"}, gotPrincipal)
}

func TestCreateRequest_RejectsUnknownFields(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.do(http.MethodPost, "/api/v1/requests", `{"title":"x","derived_tier":"micro"}`, koHeaders)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, errors.ErrCodeInvalidInput, body.Error.Code)
	assert.Equal(t, "body", body.Error.Field)
	assert.NotEmpty(t, body.RequestID)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		code    string
		message string
	}{
		{"not found", errors.NotFound("request", "req-9"), http.StatusNotFound, errors.ErrCodeNotFound, "request not found"},
		{"conflict", errors.Conflict("request cannot be edited"), http.StatusConflict, errors.ErrCodeConflict, "request cannot be edited"},
		{"forbidden", errors.Forbidden("role mismatch"), http.StatusForbidden, errors.ErrCodeForbidden, "role mismatch"},
		{"foreign error is hidden", assert.AnError, http.StatusInternalServerError, errors.ErrCodeInternal, "internal error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, nil)
			ts.requests.getFn = func(string) (*domain.AcquisitionRequest, error) { return nil, tt.err }

			rec := ts.do(http.MethodGet, "/api/v1/requests/req-9", nil, nil)
			assert.Equal(t, tt.status, rec.Code)
			body := decodeError(t, rec)
			assert.Equal(t, tt.code, body.Error.Code)
			assert.Equal(t, tt.message, body.Error.Message)
		})
	}
}

func TestUpdateRequest_PassesRawFields(t *testing.T) {
	ts := newTestServer(t, nil)
	var got map[string]any
	ts.requests.updateFn = func(id string, updates map[string]any) (*domain.AcquisitionRequest, error) {
		got = updates
		return &domain.AcquisitionRequest{ID: id}, nil
	}

	rec := ts.do(http.MethodPatch, "/api/v1/requests/req-1", `{"estimated_value": 12000, "title": "Laptops"}`, koHeaders)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"estimated_value": 12000.0, "title": "Laptops"}, got)
}

func TestPreviewClassification(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.requests.previewFn = func(a classify.IntakeAnswers, value float64) classify.Result {
		assert.Equal(t, "new", a.NeedType)
		assert.Equal(t, "yes_sole", a.VendorKnown)
		assert.Equal(t, 80000.0, value)
		return classify.Result{AcquisitionType: "sole_source", Tier: classify.TierSAT, Pipeline: "full", Source: "rule"}
	}

	rec := ts.do(http.MethodPost, "/api/v1/requests/preview", map[string]any{
		"intake_q1_need_type":       "new",
		"intake_q3_specific_vendor": "yes_sole",
		"estimated_value":           80000,
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"acquisition_type":"sole_source"`)

	rec = ts.do(http.MethodPost, "/api/v1/requests/preview", map[string]any{"estimated_value": 10}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "intake_q1_need_type", decodeError(t, rec).Error.Field)
}

func TestActOnStep(t *testing.T) {
	ts := newTestServer(t, nil)
	var got service.ActInput
	ts.approvals.actFn = func(in service.ActInput, p approval.Principal) (*service.ActResult, error) {
		got = in
		if in.Action == "approve" {
			return nil, errors.Conflict("gate iss is not ready: SCRM review is requested").
				WithDetail("gate", "iss").
				WithDetail("blockers", "1")
		}
		return &service.ActResult{Acted: &domain.ApprovalStep{ID: "step-1", Status: domain.StepReturned}}, nil
	}

	rec := ts.do(http.MethodPost, "/api/v1/requests/req-1/approval/actions",
		map[string]any{"action": "return", "comments": "Needs IGCE"}, koHeaders)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, service.ActInput{RequestID: "req-1", Action: "return", Comments: "Needs IGCE"}, got)

	rec = ts.do(http.MethodPost, "/api/v1/requests/req-1/approval/actions", map[string]any{"action": "approve"}, koHeaders)
	assert.Equal(t, http.StatusConflict, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, map[string]string{"gate": "iss", "blockers": "1"}, body.Error.Details)
}

func TestApprovalQueue_UsesCallerRole(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.approvals.queueFn = func(p approval.Principal) ([]service.QueueItem, error) {
		assert.Equal(t, "contracting_officer", p.Role)
		return []service.QueueItem{{Step: &domain.ApprovalStep{ID: "step-2"}, Overdue: true, DaysOverdue: 3}}, nil
	}

	rec := ts.do(http.MethodGet, "/api/v1/approvals/queue", nil, koHeaders)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"days_overdue":3`)
}

func TestCheckGate(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.packages.checkGateFn = func(requestID, gate string) (readiness.Result, error) {
		assert.Equal(t, "req-1", requestID)
		assert.Equal(t, "ko_review", gate)
		return readiness.Result{Gate: gate, DocumentsReady: true, AdvisoriesReady: true, Blockers: []readiness.Blocker{}}, nil
	}

	rec := ts.do(http.MethodGet, "/api/v1/requests/req-1/gates/ko_review", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"documents_ready":true`)
}

func TestCheckCLINBalance(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.funding.balanceFn = func(in service.BalanceInput) (funding.BalanceCheck, error) {
		assert.Equal(t, "clin-1", in.CLINID)
		return funding.BalanceCheck{CLINID: in.CLINID, Requested: in.Amount, Available: 500, Shortfall: in.Amount - 500}, nil
	}

	rec := ts.do(http.MethodPost, "/api/v1/clins/clin-1/balance-check", map[string]any{"amount": 750}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var chk funding.BalanceCheck
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &chk))
	assert.False(t, chk.Sufficient)
	assert.Equal(t, 250.0, chk.Shortfall)
}

func TestRulesAdminRoutes(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.rules.importFn = func(raw []byte) (*service.CatalogSummary, error) {
		return nil, errors.InvalidInput("rules", "yaml: line 1: did not find expected node content")
	}

	rec := ts.do(http.MethodPost, "/api/v1/rules/reload", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(http.MethodPost, "/api/v1/rules/reload", nil, koHeaders)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Zero(t, ts.rules.reloadCalls)

	admin := map[string]string{HeaderUserID: "u-admin", HeaderUserRole: "admin"}
	rec = ts.do(http.MethodPost, "/api/v1/rules/reload", nil, admin)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, ts.rules.reloadCalls)

	rec = ts.do(http.MethodPut, "/api/v1/rules", "thresholds: [\n", admin)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "rules", decodeError(t, rec).Error.Field)
}

func TestMetricsRecordRoutePattern(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.requests.getFn = func(id string) (*domain.AcquisitionRequest, error) {
		return &domain.AcquisitionRequest{ID: id}, nil
	}

	ts.do(http.MethodGet, "/api/v1/requests/req-1", nil, nil)
	ts.do(http.MethodGet, "/api/v1/requests/req-2", nil, nil)

	rec := ts.do(http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `route="/api/v1/requests/{id}`)
	assert.NotContains(t, rec.Body.String(), "req-1")
}
