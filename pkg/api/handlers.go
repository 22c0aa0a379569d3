package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/Mindburn-Labs/reportdesk/pkg/contracts"
	"github.com/Mindburn-Labs/reportdesk/pkg/document"
	"github.com/Mindburn-Labs/reportdesk/pkg/evidence"
	"github.com/Mindburn-Labs/reportdesk/pkg/logging"
	"github.com/Mindburn-Labs/reportdesk/pkg/release"
	"github.com/Mindburn-Labs/reportdesk/pkg/workorder"
)

// actor is only called behind the auth middleware.
func actor(r *http.Request) contracts.Actor {
	p, _ := PrincipalFrom(r.Context())
	return p.Actor()
}

func (s *server) listWorkOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := workorder.ListFilter{Status: q.Get("status")}
	var err error
	if v := q.Get("limit"); v != "" {
		if f.Limit, err = strconv.Atoi(v); err != nil {
			WriteErrorR(w, r, http.StatusBadRequest, "Bad Request", "limit must be an integer")
			return
		}
	}
	if v := q.Get("offset"); v != "" {
		if f.Offset, err = strconv.Atoi(v); err != nil {
			WriteErrorR(w, r, http.StatusBadRequest, "Bad Request", "offset must be an integer")
			return
		}
	}
	out, err := s.WorkOrders.List(r.Context(), actor(r), f)
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"work_orders": out})
}

func (s *server) createWorkOrder(w http.ResponseWriter, r *http.Request) {
	var in workorder.CreateInput
	if !decode(w, r, &in) {
		return
	}
	d, err := s.WorkOrders.Create(r.Context(), actor(r), in)
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/work-orders/"+d.WorkOrder.ID)
	writeJSON(w, http.StatusCreated, d)
}

func (s *server) getWorkOrder(w http.ResponseWriter, r *http.Request) {
	d, err := s.WorkOrders.Get(r.Context(), actor(r), chi.URLParam(r, "id"))
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *server) patchContract(w http.ResponseWriter, r *http.Request) {
	raw, ok := readBody(w, r)
	if !ok {
		return
	}
	patch, err := document.Parse(raw)
	if err != nil {
		WriteErrorR(w, r, http.StatusBadRequest, "Bad Request", "contract patch must be a JSON object")
		return
	}
	res, err := s.Snapshots.PatchContract(r.Context(), actor(r), chi.URLParam(r, "id"), patch)
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *server) history(w http.ResponseWriter, r *http.Request) {
	h, err := s.Snapshots.History(r.Context(), actor(r), chi.URLParam(r, "id"))
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h)
}

func (s *server) upsertEvidence(w http.ResponseWriter, r *http.Request) {
	var in evidence.ItemInput
	if !decode(w, r, &in) {
		return
	}
	item, err := s.Evidence.UpsertItem(r.Context(), actor(r), chi.URLParam(r, "id"), chi.URLParam(r, "evidenceID"), in)
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *server) listEvidence(w http.ResponseWriter, r *http.Request) {
	items, err := s.Evidence.ListItems(r.Context(), actor(r), chi.URLParam(r, "id"))
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *server) link(w http.ResponseWriter, r *http.Request) {
	var in evidence.LinkInput
	if !decode(w, r, &in) {
		return
	}
	l, err := s.Evidence.Link(r.Context(), actor(r), chi.URLParam(r, "id"), in)
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

func (s *server) listLinks(w http.ResponseWriter, r *http.Request) {
	links, err := s.Evidence.ListLinks(r.Context(), actor(r), chi.URLParam(r, "id"), r.URL.Query().Get("snapshot_id"))
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"links": links})
}

func (s *server) unlink(w http.ResponseWriter, r *http.Request) {
	if err := s.Evidence.Unlink(r.Context(), actor(r), chi.URLParam(r, "id"), chi.URLParam(r, "linkID")); err != nil {
		WriteServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type transitionRequest struct {
	Status contracts.Status `json:"status"`
	Note   string           `json:"note,omitempty"`
}

func (s *server) transition(w http.ResponseWriter, r *http.Request) {
	var in transitionRequest
	if !decode(w, r, &in) {
		return
	}
	d, err := s.WorkOrders.Transition(r.Context(), actor(r), chi.URLParam(r, "id"), in.Status, in.Note)
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *server) export(w http.ResponseWriter, r *http.Request) {
	b, err := s.Snapshots.ExportBundle(r.Context(), actor(r), chi.URLParam(r, "id"))
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

type packRequest struct {
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

func (s *server) ensurePack(w http.ResponseWriter, r *http.Request) {
	var in packRequest
	if r.ContentLength != 0 && !decode(w, r, &in) {
		return
	}
	if in.IdempotencyKey == "" {
		in.IdempotencyKey = r.Header.Get("Idempotency-Key")
	}
	res, err := s.Factory.EnsureReportPack(r.Context(), actor(r), chi.URLParam(r, "id"), logging.RequestID(r.Context()), in.IdempotencyKey)
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	status := http.StatusCreated
	if res.Idempotent {
		status = http.StatusOK
	}
	writeJSON(w, status, res)
}

func (s *server) packView(w http.ResponseWriter, r *http.Request) {
	v, err := s.Factory.PackView(r.Context(), actor(r), chi.URLParam(r, "id"))
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *server) release(w http.ResponseWriter, r *http.Request) {
	var in release.Request
	if !decode(w, r, &in) {
		return
	}
	if in.IdempotencyKey == "" {
		in.IdempotencyKey = r.Header.Get("Idempotency-Key")
	}
	if p, _ := PrincipalFrom(r.Context()); in.Override && !p.Can(CapBillingOverride) {
		WriteForbidden(w, "missing capability "+CapBillingOverride)
		return
	}
	res, err := s.Release.ReleaseDeliverables(r.Context(), actor(r), chi.URLParam(r, "id"), in)
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	status := http.StatusCreated
	if res.Idempotent {
		status = http.StatusOK
	}
	writeJSON(w, status, res)
}

func (s *server) releases(w http.ResponseWriter, r *http.Request) {
	out, err := s.Release.History(r.Context(), actor(r), chi.URLParam(r, "id"))
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"releases": out})
}

func (s *server) listComments(w http.ResponseWriter, r *http.Request) {
	out, err := s.WorkOrders.ListComments(r.Context(), actor(r), chi.URLParam(r, "id"))
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"comments": out})
}

type commentRequest struct {
	Body string `json:"body"`
}

func (s *server) addComment(w http.ResponseWriter, r *http.Request) {
	var in commentRequest
	if !decode(w, r, &in) {
		return
	}
	c, err := s.WorkOrders.AddComment(r.Context(), actor(r), chi.URLParam(r, "id"), in.Body)
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

type jobStatusRequest struct {
	Status contracts.JobStatus `json:"status"`
	Error  string              `json:"error,omitempty"`
}

func (s *server) jobStatus(w http.ResponseWriter, r *http.Request) {
	var in jobStatusRequest
	if !decode(w, r, &in) {
		return
	}
	j, err := s.Factory.RecordJobStatus(r.Context(), actor(r), chi.URLParam(r, "id"), in.Status, in.Error)
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}
