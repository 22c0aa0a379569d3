package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/Mindburn-Labs/reportdesk/pkg/evidence"
	"github.com/Mindburn-Labs/reportdesk/pkg/factory"
	"github.com/Mindburn-Labs/reportdesk/pkg/observability"
	"github.com/Mindburn-Labs/reportdesk/pkg/release"
	"github.com/Mindburn-Labs/reportdesk/pkg/snapshot"
	"github.com/Mindburn-Labs/reportdesk/pkg/workorder"
)

const maxBodyBytes = 1 << 20

// Deps are the services the router dispatches to.
type Deps struct {
	WorkOrders *workorder.Service
	Snapshots  *snapshot.Service
	Evidence   *evidence.Service
	Factory    *factory.Service
	Release    *release.Service

	Auth        *Authenticator
	RateLimiter *RateLimiter
	Obs         *observability.Provider
	Logger      *slog.Logger
	// Health reports dependency health; nil means always healthy.
	Health func(ctx context.Context) error
}

type server struct {
	Deps
}

// NewRouter builds the HTTP handler.
func NewRouter(d Deps) http.Handler {
	if d.Logger == nil {
		d.Logger = slog.Default().With("component", "api")
	}
	s := &server{Deps: d}

	r := chi.NewRouter()
	r.Use(RequestID, Recoverer, RequestLogger(d.Logger), Tracing(d.Obs))
	if d.RateLimiter != nil {
		r.Use(d.RateLimiter.Middleware)
	}
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		WriteErrorR(w, r, http.StatusNotFound, "Not Found", "no such route")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) { WriteMethodNotAllowed(w) })

	r.Get("/health", s.health)

	r.Route("/v1", func(v1 chi.Router) {
		v1.Use(d.Auth.Middleware)

		read := v1.With(Require(CapWorkOrdersRead))
		write := v1.With(Require(CapWorkOrdersWrite))

		read.Get("/work-orders", s.listWorkOrders)
		write.Post("/work-orders", s.createWorkOrder)
		read.Get("/work-orders/{id}", s.getWorkOrder)
		write.Patch("/work-orders/{id}/contract", s.patchContract)
		read.Get("/work-orders/{id}/snapshots", s.history)
		write.Put("/work-orders/{id}/evidence/{evidenceID}", s.upsertEvidence)
		read.Get("/work-orders/{id}/evidence", s.listEvidence)
		write.Put("/work-orders/{id}/links", s.link)
		read.Get("/work-orders/{id}/links", s.listLinks)
		write.Delete("/work-orders/{id}/links/{linkID}", s.unlink)
		write.Post("/work-orders/{id}/transitions", s.transition)
		read.Get("/work-orders/{id}/export", s.export)
		write.Post("/work-orders/{id}/pack", s.ensurePack)
		read.Get("/work-orders/{id}/pack", s.packView)
		v1.With(Require(CapBillingRelease)).Post("/work-orders/{id}/release", s.release)
		read.Get("/work-orders/{id}/releases", s.releases)
		read.Get("/work-orders/{id}/comments", s.listComments)
		write.Post("/work-orders/{id}/comments", s.addComment)
		v1.With(Require(CapJobsReport)).Post("/jobs/{id}/status", s.jobStatus)
	})
	return r
}

func (s *server) health(w http.ResponseWriter, r *http.Request) {
	if s.Health != nil {
		if err := s.Health(r.Context()); err != nil {
			s.Logger.WarnContext(r.Context(), "health check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decode reads a JSON body into v, rejecting unknown fields and trailing data.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooBig *http.MaxBytesError
		switch {
		case errors.As(err, &tooBig):
			WriteErrorR(w, r, http.StatusRequestEntityTooLarge, "Request Entity Too Large", fmt.Sprintf("body exceeds %d bytes", maxBodyBytes))
		case errors.Is(err, io.EOF):
			WriteErrorR(w, r, http.StatusBadRequest, "Bad Request", "request body is required")
		default:
			WriteErrorR(w, r, http.StatusBadRequest, "Bad Request", "malformed JSON: "+err.Error())
		}
		return false
	}
	if dec.More() {
		WriteErrorR(w, r, http.StatusBadRequest, "Bad Request", "unexpected data after JSON body")
		return false
	}
	return true
}

// readBody returns the raw body for handlers that parse it themselves.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		WriteErrorR(w, r, http.StatusRequestEntityTooLarge, "Request Entity Too Large", fmt.Sprintf("body exceeds %d bytes", maxBodyBytes))
		return nil, false
	}
	if len(strings.TrimSpace(string(raw))) == 0 {
		WriteErrorR(w, r, http.StatusBadRequest, "Bad Request", "request body is required")
		return nil, false
	}
	return raw, true
}
