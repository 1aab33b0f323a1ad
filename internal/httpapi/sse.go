package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/WuChenDi/bitk/internal/apperr"
	"github.com/WuChenDi/bitk/internal/eventbus"
	"github.com/WuChenDi/bitk/internal/log"
)

// heartbeatInterval matches the ±1s tolerance named in the project-scoped
// SSE end-to-end scenario.
const heartbeatInterval = 15 * time.Second

// Events streams every named event for a project via SSE.
// GET /events?projectId=<id-or-alias>
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	idOrAlias := r.URL.Query().Get("projectId")
	if idOrAlias == "" {
		h.writeError(w, apperr.New(apperr.KindValidation, "projectId is required"))
		return
	}

	projectID, err := h.projects.ResolveIDOrAlias(r.Context(), idOrAlias)
	if err != nil {
		h.writeError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.writeError(w, apperr.New(apperr.KindInternal, "streaming not supported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	sub := h.bus.Subscribe(ctx, h.resolver, projectID)

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			writeSSE(w, flusher, "heartbeat", map[string]any{})
		case evt, ok := <-sub.Log:
			if !ok {
				return
			}
			writeSSE(w, flusher, "log", logEventToJSON(evt.Payload))
		case evt, ok := <-sub.State:
			if !ok {
				return
			}
			writeSSE(w, flusher, "state", stateEventToJSON(evt.Payload))
		case evt, ok := <-sub.Settled:
			if !ok {
				return
			}
			writeSSE(w, flusher, "done", settledEventToJSON(evt.Payload))
		case evt, ok := <-sub.IssueUpdated:
			if !ok {
				return
			}
			writeSSE(w, flusher, "issue-updated", issueUpdatedEventToJSON(evt.Payload))
		case evt, ok := <-sub.ChangesSummary:
			if !ok {
				return
			}
			writeSSE(w, flusher, "changes-summary", changesSummaryEventToJSON(evt.Payload))
		}
	}
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.ErrorErr(log.CatHTTP, "marshaling SSE payload", err, "event", event)
		return
	}
	_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	flusher.Flush()
}

func logEventToJSON(e eventbus.LogEvent) map[string]any {
	out := map[string]any{
		"issueId":     e.IssueID,
		"executionId": e.ExecutionID,
	}
	if e.Entry != nil {
		out["entry"] = logEntryToJSON(e.Entry)
	}
	return out
}

func stateEventToJSON(e eventbus.StateEvent) map[string]any {
	return map[string]any{
		"issueId":     e.IssueID,
		"executionId": e.ExecutionID,
		"state":       e.State,
	}
}

func settledEventToJSON(e eventbus.SettledEvent) map[string]any {
	return map[string]any{
		"issueId":     e.IssueID,
		"executionId": e.ExecutionID,
		"finalStatus": e.FinalStatus,
	}
}

func issueUpdatedEventToJSON(e eventbus.IssueUpdatedEvent) map[string]any {
	return map[string]any{
		"issueId":   e.IssueID,
		"projectId": e.ProjectID,
		"deleted":   e.Deleted,
	}
}

func changesSummaryEventToJSON(e eventbus.ChangesSummaryEvent) map[string]any {
	return map[string]any{
		"issueId": e.IssueID,
		"summary": e.Summary,
	}
}
