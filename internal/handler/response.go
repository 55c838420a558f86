package handler

import (
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/pesio-ai/be-acq-requests/internal/engine/approval"
	"github.com/pesio-ai/be-acq-requests/internal/pkg/errors"
)

// Caller identity headers set by the gateway.
const (
	HeaderUserID   = "X-User-ID"
	HeaderUserName = "X-User-Name"
	HeaderUserRole = "X-User-Role"
)

const maxBodyBytes = 1 << 20

// errorBody is the error envelope returned on every failed call.
type errorBody struct {
	RequestID string        `json:"request_id"`
	Error     *errors.Error `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err onto its HTTP status. Internal errors are logged and
// their cause is not echoed to the caller.
func (h *HTTPHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *errors.Error
	if !stderrors.As(err, &appErr) || appErr.Code == errors.ErrCodeInternal {
		h.log.Error().Err(err).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("request_id", requestID(r)).
			Msg("Request failed")
		appErr = errors.New(errors.ErrCodeInternal, "internal error")
	}
	writeJSON(w, errors.HTTPStatus(appErr), errorBody{RequestID: requestID(r), Error: appErr})
}

// readJSON decodes the body into dst, rejecting unknown fields.
func readJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errors.InvalidInput("body", "invalid request body: "+err.Error())
	}
	return nil
}

func requestID(r *http.Request) string {
	if id := middleware.GetReqID(r.Context()); id != "" {
		return id
	}
	return "req_" + uuid.NewString()
}

// principalFrom reads the caller from the gateway headers. A missing user
// ID yields an anonymous principal that services reject where identity is
// required.
func principalFrom(r *http.Request) approval.Principal {
	return approval.Principal{
		ID:   strings.TrimSpace(r.Header.Get(HeaderUserID)),
		Name: strings.TrimSpace(r.Header.Get(HeaderUserName)),
		Role: strings.TrimSpace(r.Header.Get(HeaderUserRole)),
	}
}
