// Package api is the HTTP surface of reportdesk: a chi router over the
// work-order services with JWT auth, capability checks, per-IP rate limits and
// RFC 7807 problem responses.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/Mindburn-Labs/reportdesk/pkg/contracts"
)

const problemTypeBase = "https://reportdesk.dev/errors/"

// ProblemDetail implements RFC 7807 (Problem Details for HTTP APIs).
// All API error responses use this format.
type ProblemDetail struct {
	// Type is a URI reference that identifies the problem type.
	Type string `json:"type"`
	// Title is a short, human-readable summary of the problem type.
	Title string `json:"title"`
	// Status is the HTTP status code.
	Status int `json:"status"`
	// Detail is a human-readable explanation specific to this occurrence.
	Detail string `json:"detail,omitempty"`
	// Instance is a URI reference identifying the specific occurrence.
	Instance string `json:"instance,omitempty"`
	// TraceID is the request id of this occurrence.
	TraceID string `json:"trace_id,omitempty"`
	// Details carries the structured payload of domain errors.
	Details any `json:"details,omitempty"`
}

func (p *ProblemDetail) Error() string {
	return fmt.Sprintf("%s: %s", p.Title, p.Detail)
}

func writeProblem(w http.ResponseWriter, p *ProblemDetail) {
	if p.Type == "" {
		p.Type = fmt.Sprintf("%s%d", problemTypeBase, p.Status)
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

// WriteError writes an RFC 7807 Problem Detail JSON response.
func WriteError(w http.ResponseWriter, status int, title, detail string) {
	writeProblem(w, &ProblemDetail{Title: title, Status: status, Detail: detail})
}

// WriteErrorR writes an RFC 7807 response enriched with the request path and
// request id.
func WriteErrorR(w http.ResponseWriter, r *http.Request, status int, title, detail string) {
	writeProblem(w, &ProblemDetail{
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: r.URL.Path,
		TraceID:  w.Header().Get(requestIDHeader),
	})
}

func WriteBadRequest(w http.ResponseWriter, detail string) {
	WriteError(w, http.StatusBadRequest, "Bad Request", detail)
}

func WriteUnauthorized(w http.ResponseWriter, detail string) {
	if detail == "" {
		detail = "Authentication required"
	}
	WriteError(w, http.StatusUnauthorized, "Unauthorized", detail)
}

func WriteForbidden(w http.ResponseWriter, detail string) {
	if detail == "" {
		detail = "Insufficient permissions"
	}
	WriteError(w, http.StatusForbidden, "Forbidden", detail)
}

func WriteNotFound(w http.ResponseWriter, detail string) {
	WriteError(w, http.StatusNotFound, "Not Found", detail)
}

func WriteMethodNotAllowed(w http.ResponseWriter) {
	WriteError(w, http.StatusMethodNotAllowed, "Method Not Allowed", "The HTTP method is not supported for this endpoint")
}

// WriteTooManyRequests writes a 429 error response with a Retry-After header.
func WriteTooManyRequests(w http.ResponseWriter, retryAfterSecs int) {
	w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfterSecs))
	WriteError(w, http.StatusTooManyRequests, "Too Many Requests", "Rate limit exceeded. Retry after the specified interval.")
}

// WriteInternal writes a 500 error response.
// The err parameter is logged but never exposed to the client.
func WriteInternal(w http.ResponseWriter, err error) {
	slog.Error("internal server error", "error", err)
	WriteError(w, http.StatusInternalServerError, "Internal Server Error", "An unexpected error occurred. Please try again later.")
}

// Problem maps an error returned by a service to a problem response. Errors
// outside the domain taxonomy become an opaque 500.
func Problem(err error) *ProblemDetail {
	var (
		ve *contracts.ValidationError
		nf *contracts.NotFoundError
		ce *contracts.ConflictError
		it *contracts.InvalidTransitionError
		rb *contracts.ReadinessBlockError
		ue *contracts.UpstreamError
	)
	switch {
	case errors.As(err, &ve):
		return &ProblemDetail{Type: problemTypeBase + "validation", Title: "Validation Failed", Status: http.StatusUnprocessableEntity,
			Detail: ve.Error(), Details: ve}
	case errors.As(err, &nf):
		return &ProblemDetail{Type: problemTypeBase + "not-found", Title: "Not Found", Status: http.StatusNotFound,
			Detail: nf.Error(), Details: nf}
	case errors.As(err, &it):
		return &ProblemDetail{Type: problemTypeBase + "invalid-transition", Title: "Invalid Transition", Status: http.StatusConflict,
			Detail: it.Error(), Details: it}
	case errors.As(err, &rb):
		return &ProblemDetail{Type: problemTypeBase + "readiness-blocked", Title: "Readiness Incomplete", Status: http.StatusConflict,
			Detail: rb.Error(), Details: rb}
	case errors.As(err, &ce):
		return &ProblemDetail{Type: problemTypeBase + "conflict", Title: "Conflict", Status: http.StatusConflict,
			Detail: ce.Error(), Details: ce}
	case errors.As(err, &ue):
		return &ProblemDetail{Type: problemTypeBase + "upstream", Title: "Bad Gateway", Status: http.StatusBadGateway,
			Detail: fmt.Sprintf("%s is unavailable", ue.Collaborator), Details: map[string]string{"collaborator": ue.Collaborator}}
	case errors.Is(err, context.DeadlineExceeded):
		return &ProblemDetail{Title: "Gateway Timeout", Status: http.StatusGatewayTimeout, Detail: "request deadline exceeded"}
	case errors.Is(err, context.Canceled):
		// 499 is nginx's "client closed request"; nobody reads the body.
		return &ProblemDetail{Title: "Client Closed Request", Status: 499}
	}
	return &ProblemDetail{Title: "Internal Server Error", Status: http.StatusInternalServerError,
		Detail: "An unexpected error occurred. Please try again later."}
}

// WriteServiceError writes the problem for a service error.
func WriteServiceError(w http.ResponseWriter, r *http.Request, err error) {
	p := Problem(err)
	p.Instance = r.URL.Path
	p.TraceID = w.Header().Get(requestIDHeader)
	if p.Status >= http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "status", p.Status, "error", err)
	}
	writeProblem(w, p)
}
