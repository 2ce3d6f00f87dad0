package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tjfontaine/taskgate/internal/core/domain"
	"github.com/tjfontaine/taskgate/internal/core/ports"
	"github.com/tjfontaine/taskgate/internal/lifecycle"
)

// ActorHeader names the caller performing a transition.
const ActorHeader = "X-Actor-ID"

const maxBodyBytes = 1 << 20

// TaskReader loads tasks for read endpoints.
type TaskReader interface {
	GetTask(ctx context.Context, orgID, id string) (*domain.Task, error)
}

// Lifecycle applies status changes. *lifecycle.Coordinator implements it.
type Lifecycle interface {
	Transition(ctx context.Context, orgID, actorID, taskID string, to domain.TaskStatus, reason string) (*domain.Task, error)
	Approve(ctx context.Context, orgID, actorID, taskID string) (*domain.Task, error)
}

// GateRunner evaluates pre hooks. *hooks.Engine implements it.
type GateRunner interface {
	ExecuteGate(ctx context.Context, orgID, eventType string, payload map[string]any) (*domain.GateResult, error)
}

type handlers struct {
	tasks     TaskReader
	lifecycle Lifecycle
	gate      GateRunner
	locker    ports.TaskLocker
	logger    *slog.Logger
}

func (h *handlers) routes(r chi.Router) {
	r.Get("/healthz", h.health)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/statuses/{status}/transitions", h.listTransitions)

		r.Route("/orgs/{orgID}", func(r chi.Router) {
			r.Get("/tasks/{taskID}", h.getTask)
			r.Post("/tasks/{taskID}/transitions", h.transition)
			r.Post("/tasks/{taskID}/approve", h.approve)
			r.Post("/gates/{eventType}", h.executeGate)
		})
	})
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type transitionsResponse struct {
	Status      domain.TaskStatus   `json:"status"`
	Transitions []domain.TaskStatus `json:"transitions"`
	Terminal    bool                `json:"terminal"`
}

func (h *handlers) listTransitions(w http.ResponseWriter, r *http.Request) {
	status := domain.TaskStatus(chi.URLParam(r, "status"))
	if !status.Valid() {
		writeError(w, r, h.logger, domain.InvalidRequest("unknown status: "+string(status)))
		return
	}

	next := lifecycle.ValidTransitions(status)
	if next == nil {
		next = []domain.TaskStatus{}
	}
	writeJSON(w, http.StatusOK, transitionsResponse{
		Status:      status,
		Transitions: next,
		Terminal:    lifecycle.IsTerminal(status),
	})
}

func (h *handlers) getTask(w http.ResponseWriter, r *http.Request) {
	orgID, taskID := chi.URLParam(r, "orgID"), chi.URLParam(r, "taskID")
	AddLogField(r.Context(), "org_id", orgID)
	AddLogField(r.Context(), "task_id", taskID)

	task, err := h.tasks.GetTask(r.Context(), orgID, taskID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

type transitionRequest struct {
	Status domain.TaskStatus `json:"status"`
	Reason string            `json:"reason,omitempty"`
}

type transitionResponse struct {
	Task               *domain.Task `json:"task"`
	CompletionRejected bool         `json:"completion_rejected"`
	RejectionFeedback  string       `json:"rejection_feedback,omitempty"`
}

func (h *handlers) transition(w http.ResponseWriter, r *http.Request) {
	orgID, taskID := chi.URLParam(r, "orgID"), chi.URLParam(r, "taskID")
	actorID := r.Header.Get(ActorHeader)
	ctx := r.Context()
	AddLogField(ctx, "org_id", orgID)
	AddLogField(ctx, "task_id", taskID)
	AddLogField(ctx, "actor_id", actorID)

	if actorID == "" {
		writeError(w, r, h.logger, domain.InvalidRequest("missing "+ActorHeader+" header"))
		return
	}

	var req transitionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if req.Status == "" {
		writeError(w, r, h.logger, domain.InvalidRequest("status is required"))
		return
	}
	AddLogField(ctx, "to", string(req.Status))

	unlock, err := h.locker.Lock(ctx, lockKey(orgID, taskID))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	defer unlock()

	task, err := h.lifecycle.Transition(ctx, orgID, actorID, taskID, req.Status, req.Reason)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	resp := transitionResponse{Task: task}
	if req.Status == domain.TaskStatusDone && task.Status != domain.TaskStatusDone {
		resp.CompletionRejected = true
		if fb, ok := task.Metadata[domain.MetaRejectionFeedback].(string); ok {
			resp.RejectionFeedback = fb
		}
		AddLogField(ctx, "completion_rejected", "true")
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) approve(w http.ResponseWriter, r *http.Request) {
	orgID, taskID := chi.URLParam(r, "orgID"), chi.URLParam(r, "taskID")
	actorID := r.Header.Get(ActorHeader)
	ctx := r.Context()
	AddLogField(ctx, "org_id", orgID)
	AddLogField(ctx, "task_id", taskID)

	if actorID == "" {
		writeError(w, r, h.logger, domain.InvalidRequest("missing "+ActorHeader+" header"))
		return
	}

	unlock, err := h.locker.Lock(ctx, lockKey(orgID, taskID))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	defer unlock()

	task, err := h.lifecycle.Approve(ctx, orgID, actorID, taskID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

type gateRequest struct {
	Data map[string]any `json:"data"`
}

func (h *handlers) executeGate(w http.ResponseWriter, r *http.Request) {
	orgID, eventType := chi.URLParam(r, "orgID"), chi.URLParam(r, "eventType")
	AddLogField(r.Context(), "org_id", orgID)
	AddLogField(r.Context(), "event_type", eventType)

	var req gateRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	result, err := h.gate.ExecuteGate(r.Context(), orgID, eventType, req.Data)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return domain.InvalidRequest("request body is required")
		}
		return domain.InvalidRequest("invalid JSON body: " + err.Error())
	}
	return nil
}

func lockKey(orgID, taskID string) string {
	return orgID + "/" + taskID
}
