package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/conveyorci/conveyor/internal/gate"
	"github.com/conveyorci/conveyor/internal/pipeline"
	"github.com/conveyorci/conveyor/internal/storage"
)

// Handler exposes the run-control API.
type Handler struct {
	Runs      *RunService
	Store     storage.RunStore
	Approvals *gate.Registry
}

// Mount registers the API routes on r.
func (h *Handler) Mount(r chi.Router) {
	r.Get("/healthz", h.handleHealth)
	r.Route("/v1/runs", func(r chi.Router) {
		r.Post("/", h.handleTrigger)
		r.Get("/", h.handleList)
		r.Get("/{id}", h.handleGet)
		r.Post("/{id}/approvals/{stage}", h.handleApproval)
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleTrigger(w http.ResponseWriter, r *http.Request) {
	var req TriggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	rec, err := h.Runs.Trigger(r.Context(), req)
	if err != nil {
		if pipeline.IsMalformedSpec(err) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, rec)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	opts := storage.ListOptions{
		Pipeline: r.URL.Query().Get("pipeline"),
		Limit:    50,
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		opts.Limit = limit
	}

	runs, err := h.Store.ListRuns(r.Context(), opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if runs == nil {
		runs = []*storage.RunRecord{}
	}
	writeJSON(w, http.StatusOK, runs)
}

type runDetail struct {
	*storage.RunRecord
	Stages []storage.StageRecord `json:"stages"`
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rec, err := h.Store.GetRun(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	stages, err := h.Store.ListStageResults(r.Context(), id)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if stages == nil {
		stages = []storage.StageRecord{}
	}

	writeJSON(w, http.StatusOK, runDetail{RunRecord: rec, Stages: stages})
}

type approvalRequest struct {
	Approve bool `json:"approve"`
}

func (h *Handler) handleApproval(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	stage := chi.URLParam(r, "stage")

	var req approvalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if !h.Approvals.Resolve(id, stage, req.Approve) {
		writeError(w, http.StatusNotFound, "no approval pending for this stage")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"run_id":   id,
		"stage":    stage,
		"approved": req.Approve,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
