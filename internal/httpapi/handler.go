// Package httpapi is the HTTP/SSE boundary adapter: a thin translation
// layer from the Issue Engine's operations to the envelope-wrapped REST
// contract and the named-event SSE stream described in SPEC_FULL.md §6.
// Grounded on the teacher's internal/orchestration/controlplane/api
// package: the same stdlib http.ServeMux with Go 1.22 PathValue routing,
// the same writeJSON/writeError envelope helpers, and the same
// listener-first Server wrapper for deterministic port binding in tests.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/WuChenDi/bitk/internal/apperr"
	"github.com/WuChenDi/bitk/internal/client"
	"github.com/WuChenDi/bitk/internal/domain"
	"github.com/WuChenDi/bitk/internal/engine"
	"github.com/WuChenDi/bitk/internal/eventbus"
	"github.com/WuChenDi/bitk/internal/log"
)

// Handler provides HTTP endpoints for Issue Engine operations.
type Handler struct {
	engine   *engine.IssueEngine
	bus      *eventbus.Bus
	resolver *eventbus.ProjectResolver
	projects domain.ProjectRepository
}

// NewHandler wires a Handler against the process-wide engine, bus, and
// project repository. resolver is built once here from issues.ProjectIDFor
// so every SSE subscription shares the same TTL cache.
func NewHandler(eng *engine.IssueEngine, bus *eventbus.Bus, projects domain.ProjectRepository, projectIDFor func(ctx context.Context, issueID string) (string, error)) *Handler {
	return &Handler{
		engine:   eng,
		bus:      bus,
		projects: projects,
		resolver: eventbus.NewProjectResolver(projectIDFor),
	}
}

// Routes returns an http.Handler with every boundary route registered.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /issues/{id}/execute", h.Execute)
	mux.HandleFunc("POST /issues/{id}/follow-up", h.FollowUp)
	mux.HandleFunc("POST /issues/{id}/restart", h.Restart)
	mux.HandleFunc("POST /issues/{id}/cancel", h.Cancel)
	mux.HandleFunc("GET /issues/{id}/logs", h.Logs)
	mux.HandleFunc("GET /events", h.Events)
	mux.HandleFunc("GET /health", h.Health)

	return mux
}

// === Request types ===

type executeRequest struct {
	EngineType     string `json:"engineType"`
	Prompt         string `json:"prompt"`
	WorkingDir     string `json:"workingDir"`
	Model          string `json:"model"`
	PermissionMode string `json:"permissionMode"`
}

type followUpRequest struct {
	Prompt         string `json:"prompt"`
	Model          string `json:"model"`
	PermissionMode string `json:"permissionMode"`
	BusyAction     string `json:"busyAction"`
}

// === Handlers ===

// Execute starts a fresh execution for an issue.
// POST /issues/{id}/execute
func (h *Handler) Execute(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, apperr.New(apperr.KindValidation, "invalid JSON body"))
		return
	}

	err := h.engine.ExecuteIssue(r.Context(), id, engine.ExecuteParams{
		EngineType:     client.EngineType(req.EngineType),
		Prompt:         req.Prompt,
		WorkingDir:     req.WorkingDir,
		Model:          req.Model,
		PermissionMode: client.PermissionMode(req.PermissionMode),
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, apperr.OK(map[string]string{"issueId": id}))
}

// FollowUp delivers a follow-up prompt to an issue's conversation.
// POST /issues/{id}/follow-up
func (h *Handler) FollowUp(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req followUpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, apperr.New(apperr.KindValidation, "invalid JSON body"))
		return
	}

	busyAction := engine.BusyActionQueue
	if req.BusyAction == string(engine.BusyActionCancel) {
		busyAction = engine.BusyActionCancel
	}

	err := h.engine.FollowUpIssue(r.Context(), id, req.Prompt, req.Model, client.PermissionMode(req.PermissionMode), busyAction)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, apperr.OK(map[string]string{"issueId": id}))
}

// Restart drops queued pending input and spawns a fresh execution.
// POST /issues/{id}/restart
func (h *Handler) Restart(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.engine.RestartIssue(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, apperr.OK(map[string]string{"issueId": id}))
}

// Cancel requests a soft cancel of an issue's running process.
// POST /issues/{id}/cancel
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.engine.CancelIssue(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, apperr.OK(map[string]string{"issueId": id}))
}

// Logs returns a paginated page of an issue's conversation log.
// GET /issues/{id}/logs?cursor=&before=&limit=&devMode=
func (h *Handler) Logs(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	q := domain.LogCursor{
		Cursor: r.URL.Query().Get("cursor"),
		Before: r.URL.Query().Get("before"),
	}
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil {
			q.Limit = limit
		}
	}
	devMode := r.URL.Query().Get("devMode") == "true"

	page, err := h.engine.GetLogs(r.Context(), id, devMode, q)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, apperr.OK(pageToJSON(page)))
}

// Health reports process liveness. Always succeeds if the process can
// respond at all; the envelope's data carries status="ok".
// GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, apperr.OK(map[string]string{"status": "ok"}))
}

// === Helpers ===

func (h *Handler) writeJSON(w http.ResponseWriter, status int, env apperr.Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(env); err != nil {
		log.ErrorErr(log.CatHTTP, "encoding response envelope", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	env, status := apperr.Fail(err)
	h.writeJSON(w, status, env)
}

func pageToJSON(page domain.LogPage) map[string]any {
	entries := make([]map[string]any, 0, len(page.Entries))
	for _, e := range page.Entries {
		entries = append(entries, logEntryToJSON(e))
	}
	return map[string]any{
		"entries":    entries,
		"nextCursor": page.NextCursor,
		"hasMore":    page.HasMore,
	}
}

func logEntryToJSON(e *domain.LogEntry) map[string]any {
	out := map[string]any{
		"entryType": string(e.EntryType()),
		"content":   e.Content(),
		"turnIndex": e.TurnIndex(),
	}
	if !e.Timestamp().IsZero() {
		out["timestamp"] = e.Timestamp()
	}
	if len(e.Metadata()) > 0 {
		out["metadata"] = e.Metadata()
	}
	if ta := e.ToolAction(); ta != nil {
		out["toolAction"] = ta
	}
	out["messageId"] = e.ID()
	if e.ReplyToMessageID() != "" {
		out["replyToMessageId"] = e.ReplyToMessageID()
	}
	return out
}
