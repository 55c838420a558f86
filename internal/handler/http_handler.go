package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/pesio-ai/be-acq-requests/internal/domain"
	"github.com/pesio-ai/be-acq-requests/internal/engine/approval"
	"github.com/pesio-ai/be-acq-requests/internal/engine/checklist"
	"github.com/pesio-ai/be-acq-requests/internal/engine/classify"
	"github.com/pesio-ai/be-acq-requests/internal/engine/funding"
	"github.com/pesio-ai/be-acq-requests/internal/engine/readiness"
	"github.com/pesio-ai/be-acq-requests/internal/metrics"
	"github.com/pesio-ai/be-acq-requests/internal/pkg/errors"
	"github.com/pesio-ai/be-acq-requests/internal/pkg/logger"
	"github.com/pesio-ai/be-acq-requests/internal/rules"
	"github.com/pesio-ai/be-acq-requests/internal/service"
)

// ── Service contracts ─────────────────────────────────────────────────────────

// RequestAPI is the intake and classification surface.
type RequestAPI interface {
	CreateRequest(ctx context.Context, in service.CreateRequestInput, p approval.Principal) (*domain.AcquisitionRequest, error)
	GetRequest(ctx context.Context, id string) (*domain.AcquisitionRequest, error)
	ListRequests(ctx context.Context, status string, limit, offset int) ([]*domain.AcquisitionRequest, error)
	UpdateRequest(ctx context.Context, id string, updates map[string]any, p approval.Principal) (*domain.AcquisitionRequest, error)
	ClassifyRequest(ctx context.Context, id string, p approval.Principal) (*service.ClassifyResult, error)
	Preview(answers classify.IntakeAnswers, estimatedValue float64) classify.Result
	ReconcileChecklist(ctx context.Context, id string, p approval.Principal) (checklist.Diff, error)
	ListDocuments(ctx context.Context, requestID string) ([]*domain.PackageDocument, error)
}

// ApprovalAPI is the approval pipeline surface.
type ApprovalAPI interface {
	SubmitRequest(ctx context.Context, requestID string, p approval.Principal) (*service.SubmitResult, error)
	ActOnStep(ctx context.Context, in service.ActInput, p approval.Principal) (*service.ActResult, error)
	GetApprovalStatus(ctx context.Context, requestID string) (*service.ApprovalStatus, error)
	ApprovalQueue(ctx context.Context, p approval.Principal) ([]service.QueueItem, error)
	GetApprovalHistory(ctx context.Context, requestID string) ([]*domain.AuditEntry, error)
}

// PackageAPI covers documents, advisory reviews and gate readiness.
type PackageAPI interface {
	CheckGate(ctx context.Context, requestID, gate string) (readiness.Result, error)
	UpdateDocumentStatus(ctx context.Context, in service.DocumentStatusInput, p approval.Principal) (*domain.PackageDocument, error)
	ListAdvisories(ctx context.Context, requestID string) ([]*domain.AdvisoryInput, error)
	TransitionAdvisory(ctx context.Context, in service.AdvisoryTransitionInput, p approval.Principal) (*domain.AdvisoryInput, error)
}

// FundingAPI covers CLIN balances and execution authorization.
type FundingAPI interface {
	CheckCLINBalance(ctx context.Context, in service.BalanceInput) (funding.BalanceCheck, error)
	GetCLINStatus(ctx context.Context, clinID string) (*service.CLINStatus, error)
	ListCLINs(ctx context.Context, requestID string) ([]*service.CLINStatus, error)
	RecomputeFundingLine(ctx context.Context, lineID string) (*domain.FundingLine, error)
	AuthorizeExecution(ctx context.Context, executionID string, p approval.Principal) (*service.ExecutionDecision, error)
}

// RulesAPI administers the rule catalog.
type RulesAPI interface {
	ValidateCondition(text string) (string, error)
	ConditionFields() []string
	ReloadRules(ctx context.Context) (*service.CatalogSummary, error)
	ImportRules(ctx context.Context, raw []byte) (*service.CatalogSummary, error)
	Summary() *service.CatalogSummary
	Export() rules.Tables
}

// HealthChecker reports whether a dependency is reachable.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Services bundles the handler's collaborators.
type Services struct {
	Requests  RequestAPI
	Approvals ApprovalAPI
	Packages  PackageAPI
	Funding   FundingAPI
	Rules     RulesAPI
}

// HTTPOptions tunes the router.
type HTTPOptions struct {
	AdminRole      string
	RequestTimeout time.Duration
	Metrics        *metrics.Metrics
	Health         HealthChecker
}

// HTTPHandler handles HTTP requests
type HTTPHandler struct {
	svc  Services
	opts HTTPOptions
	log  *logger.Logger
}

// NewHTTPHandler creates a new HTTP handler
func NewHTTPHandler(svc Services, opts HTTPOptions, log *logger.Logger) *HTTPHandler {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	return &HTTPHandler{svc: svc, opts: opts, log: log}
}

// Routes builds the router.
func (h *HTTPHandler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.accessLog)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(h.opts.RequestTimeout))

	r.Get("/health", h.Health)
	if h.opts.Metrics != nil {
		r.Handle("/metrics", h.opts.Metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/requests", func(r chi.Router) {
			r.Post("/", h.CreateRequest)
			r.Get("/", h.ListRequests)
			r.Post("/preview", h.PreviewClassification)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetRequest)
				r.Patch("/", h.UpdateRequest)
				r.Post("/classify", h.ClassifyRequest)
				r.Post("/checklist", h.ReconcileChecklist)
				r.Get("/documents", h.ListDocuments)
				r.Post("/submit", h.SubmitRequest)
				r.Get("/approval", h.GetApprovalStatus)
				r.Post("/approval/actions", h.ActOnStep)
				r.Get("/history", h.GetApprovalHistory)
				r.Get("/gates/{gate}", h.CheckGate)
				r.Get("/advisories", h.ListAdvisories)
				r.Get("/clins", h.ListCLINs)
			})
		})

		r.Get("/approvals/queue", h.ApprovalQueue)
		r.Patch("/documents/{id}", h.UpdateDocumentStatus)
		r.Patch("/advisories/{id}", h.TransitionAdvisory)

		r.Get("/clins/{id}", h.GetCLINStatus)
		r.Post("/clins/{id}/balance-check", h.CheckCLINBalance)
		r.Post("/funding-lines/{id}/recompute", h.RecomputeFundingLine)
		r.Post("/executions/{id}/authorize", h.AuthorizeExecution)

		r.Route("/rules", func(r chi.Router) {
			r.Get("/", h.RulesSummary)
			r.Get("/export", h.ExportRules)
			r.Get("/conditions/fields", h.ConditionFields)
			r.Post("/conditions/validate", h.ValidateCondition)

			r.Group(func(r chi.Router) {
				r.Use(h.requireRole(h.opts.AdminRole))
				r.Post("/reload", h.ReloadRules)
				r.Put("/", h.ImportRules)
			})
		})
	})

	return r
}

// Health handles liveness probes
func (h *HTTPHandler) Health(w http.ResponseWriter, r *http.Request) {
	if h.opts.Health != nil {
		if err := h.opts.Health.Health(r.Context()); err != nil {
			h.log.Warn().Err(err).Msg("Health check failed")
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ── Requests ──────────────────────────────────────────────────────────────────

// CreateRequest handles intake submissions
func (h *HTTPHandler) CreateRequest(w http.ResponseWriter, r *http.Request) {
	var in service.CreateRequestInput
	if err := readJSON(r, &in); err != nil {
		h.writeError(w, r, err)
		return
	}

	q, err := h.svc.Requests.CreateRequest(r.Context(), in, principalFrom(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, q)
}

// GetRequest handles get request HTTP requests
func (h *HTTPHandler) GetRequest(w http.ResponseWriter, r *http.Request) {
	q, err := h.svc.Requests.GetRequest(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

// ListRequests handles list requests HTTP requests
func (h *HTTPHandler) ListRequests(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	list, err := h.svc.Requests.ListRequests(r.Context(), status, limit, offset)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"requests": list,
		"count":    len(list),
		"limit":    limit,
		"offset":   offset,
	})
}

// UpdateRequest applies a partial update. The body is a flat object of
// editable request fields.
func (h *HTTPHandler) UpdateRequest(w http.ResponseWriter, r *http.Request) {
	var updates map[string]any
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&updates); err != nil {
		h.writeError(w, r, errors.InvalidInput("body", "invalid request body: "+err.Error()))
		return
	}

	q, err := h.svc.Requests.UpdateRequest(r.Context(), chi.URLParam(r, "id"), updates, principalFrom(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (h *HTTPHandler) ClassifyRequest(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Requests.ClassifyRequest(r.Context(), chi.URLParam(r, "id"), principalFrom(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// previewRequest is an unsaved intake questionnaire.
type previewRequest struct {
	EstimatedValue   float64 `json:"estimated_value"`
	NeedType         string  `json:"intake_q1_need_type"`
	Situation        string  `json:"intake_q2_situation"`
	VendorKnown      string  `json:"intake_q3_specific_vendor"`
	ChangeType       string  `json:"intake_q5_change_type"`
	BuyCategory      string  `json:"intake_q_buy_category"`
	MixedPredominant string  `json:"intake_q_mixed_predominant"`
}

func (p previewRequest) answers() classify.IntakeAnswers {
	return classify.IntakeAnswers{
		NeedType:         p.NeedType,
		Situation:        p.Situation,
		VendorKnown:      p.VendorKnown,
		ChangeType:       p.ChangeType,
		BuyCategory:      p.BuyCategory,
		MixedPredominant: p.MixedPredominant,
	}
}

// PreviewClassification classifies answers without storing anything.
func (h *HTTPHandler) PreviewClassification(w http.ResponseWriter, r *http.Request) {
	var req previewRequest
	if err := readJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.NeedType == "" {
		h.writeError(w, r, errors.InvalidInput("intake_q1_need_type", "need type is required"))
		return
	}
	if req.EstimatedValue < 0 {
		h.writeError(w, r, errors.InvalidInput("estimated_value", "estimated value cannot be negative"))
		return
	}
	writeJSON(w, http.StatusOK, h.svc.Requests.Preview(req.answers(), req.EstimatedValue))
}

func (h *HTTPHandler) ReconcileChecklist(w http.ResponseWriter, r *http.Request) {
	diff, err := h.svc.Requests.ReconcileChecklist(r.Context(), chi.URLParam(r, "id"), principalFrom(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, diff)
}

func (h *HTTPHandler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := h.svc.Requests.ListDocuments(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"documents": docs})
}

// ── Approvals ─────────────────────────────────────────────────────────────────

func (h *HTTPHandler) SubmitRequest(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Approvals.SubmitRequest(r.Context(), chi.URLParam(r, "id"), principalFrom(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// actRequest is a decision on the request's active step, or on StepID.
type actRequest struct {
	StepID   string `json:"step_id"`
	Action   string `json:"action"`
	Comments string `json:"comments"`
}

// ActOnStep records an approve, reject or return decision.
func (h *HTTPHandler) ActOnStep(w http.ResponseWriter, r *http.Request) {
	var req actRequest
	if err := readJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	res, err := h.svc.Approvals.ActOnStep(r.Context(), service.ActInput{
		RequestID: chi.URLParam(r, "id"),
		StepID:    req.StepID,
		Action:    req.Action,
		Comments:  req.Comments,
	}, principalFrom(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *HTTPHandler) GetApprovalStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Approvals.GetApprovalStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *HTTPHandler) GetApprovalHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := h.svc.Approvals.GetApprovalHistory(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

// ApprovalQueue lists the active steps waiting on the caller's role.
func (h *HTTPHandler) ApprovalQueue(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.Approvals.ApprovalQueue(r.Context(), principalFrom(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}

// ── Package ───────────────────────────────────────────────────────────────────

// CheckGate reports the readiness of one gate.
func (h *HTTPHandler) CheckGate(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Packages.CheckGate(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "gate"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type documentStatusRequest struct {
	Status     string  `json:"status"`
	AssignedTo *string `json:"assigned_to"`
	Notes      *string `json:"notes"`
}

func (h *HTTPHandler) UpdateDocumentStatus(w http.ResponseWriter, r *http.Request) {
	var req documentStatusRequest
	if err := readJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	doc, err := h.svc.Packages.UpdateDocumentStatus(r.Context(), service.DocumentStatusInput{
		DocumentID: chi.URLParam(r, "id"),
		Status:     req.Status,
		AssignedTo: req.AssignedTo,
		Notes:      req.Notes,
	}, principalFrom(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *HTTPHandler) ListAdvisories(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.Packages.ListAdvisories(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"advisories": list})
}

type advisoryRequest struct {
	Status          string  `json:"status"`
	Findings        *string `json:"findings"`
	Recommendation  *string `json:"recommendation"`
	ImpactsStrategy *bool   `json:"impacts_strategy"`
}

func (h *HTTPHandler) TransitionAdvisory(w http.ResponseWriter, r *http.Request) {
	var req advisoryRequest
	if err := readJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	a, err := h.svc.Packages.TransitionAdvisory(r.Context(), service.AdvisoryTransitionInput{
		AdvisoryID:      chi.URLParam(r, "id"),
		Status:          req.Status,
		Findings:        req.Findings,
		Recommendation:  req.Recommendation,
		ImpactsStrategy: req.ImpactsStrategy,
	}, principalFrom(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// ── Funding ───────────────────────────────────────────────────────────────────

func (h *HTTPHandler) ListCLINs(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.Funding.ListCLINs(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"clins": list})
}

func (h *HTTPHandler) GetCLINStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Funding.GetCLINStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// CheckCLINBalance answers whether the CLIN can absorb {"amount": n}.
func (h *HTTPHandler) CheckCLINBalance(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount float64 `json:"amount"`
	}
	if err := readJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	chk, err := h.svc.Funding.CheckCLINBalance(r.Context(), service.BalanceInput{
		CLINID: chi.URLParam(r, "id"),
		Amount: req.Amount,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chk)
}

func (h *HTTPHandler) RecomputeFundingLine(w http.ResponseWriter, r *http.Request) {
	line, err := h.svc.Funding.RecomputeFundingLine(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, line)
}

func (h *HTTPHandler) AuthorizeExecution(w http.ResponseWriter, r *http.Request) {
	dec, err := h.svc.Funding.AuthorizeExecution(r.Context(), chi.URLParam(r, "id"), principalFrom(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dec)
}

// ── Rules ─────────────────────────────────────────────────────────────────────

func (h *HTTPHandler) RulesSummary(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Rules.Summary())
}

func (h *HTTPHandler) ExportRules(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Rules.Export())
}

func (h *HTTPHandler) ConditionFields(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"fields": h.svc.Rules.ConditionFields()})
}

// ValidateCondition checks {"condition": "..."} and echoes its canonical
// form.
func (h *HTTPHandler) ValidateCondition(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Condition string `json:"condition"`
	}
	if err := readJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	canonical, err := h.svc.Rules.ValidateCondition(req.Condition)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"valid": true, "canonical": canonical})
}

func (h *HTTPHandler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	sum, err := h.svc.Rules.ReloadRules(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// ImportRules replaces every rule table with the YAML document in the body.
func (h *HTTPHandler) ImportRules(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.writeError(w, r, errors.InvalidInput("body", "unreadable request body"))
		return
	}

	sum, err := h.svc.Rules.ImportRules(r.Context(), raw)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}
