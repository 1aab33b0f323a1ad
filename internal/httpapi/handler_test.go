package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/WuChenDi/bitk/internal/client/providers/echo"
	"github.com/WuChenDi/bitk/internal/domain"
	"github.com/WuChenDi/bitk/internal/engine"
	"github.com/WuChenDi/bitk/internal/eventbus"
)

// newTestHandler wires a Handler against in-memory fakes instead of a real
// database or mockery-generated mocks: IssueEngine is a concrete struct,
// not an interface, so the teacher's pattern of mocking the business-logic
// boundary doesn't apply here directly -- the fakes stand in for the
// repositories IssueEngine is built on instead.
func newTestHandler(t *testing.T) (*Handler, *fakeIssueRepo, *fakeLogRepo) {
	t.Helper()
	issues := newFakeIssueRepo()
	logs := newFakeLogRepo()
	bus := eventbus.New()
	eng := engine.New(issues, logs, bus, nil, 4)
	projects := &fakeProjectRepo{id: "proj-1", alias: "proj-alias"}
	h := NewHandler(eng, bus, projects, issues.ProjectIDFor)
	return h, issues, logs
}

func workingIssue(id string) *domain.Issue {
	return domain.ReconstituteIssue(
		id, "proj-1",
		domain.StatusWorking,
		1, "a title",
		domain.PriorityMedium,
		1, "", false,
		"echo",
		domain.SessionCompleted,
		"", "", "", "",
		time.Now(), time.Now(),
		false,
	)
}

func decodeEnvelope(t *testing.T, body *bytes.Buffer) map[string]any {
	t.Helper()
	var env map[string]any
	require.NoError(t, json.NewDecoder(body).Decode(&env))
	return env
}

func TestHandler_Execute_Success(t *testing.T) {
	h, issues, _ := newTestHandler(t)
	issues.put(workingIssue("issue-1"))

	reqBody := `{"engineType":"echo","prompt":"do the thing","workingDir":"/tmp"}`
	req := httptest.NewRequest("POST", "/issues/issue-1/execute", bytes.NewBufferString(reqBody))
	w := httptest.NewRecorder()

	h.Routes().ServeHTTP(w, req)

	require.Equal(t, 200, w.Code)
	env := decodeEnvelope(t, w.Body)
	assert.Equal(t, true, env["success"])
}

func TestHandler_Execute_UnknownIssue(t *testing.T) {
	h, _, _ := newTestHandler(t)

	req := httptest.NewRequest("POST", "/issues/missing/execute", bytes.NewBufferString(`{"engineType":"echo"}`))
	w := httptest.NewRecorder()

	h.Routes().ServeHTTP(w, req)

	require.Equal(t, 404, w.Code)
	env := decodeEnvelope(t, w.Body)
	assert.Equal(t, false, env["success"])
}

func TestHandler_Execute_InvalidJSON(t *testing.T) {
	h, issues, _ := newTestHandler(t)
	issues.put(workingIssue("issue-1"))

	req := httptest.NewRequest("POST", "/issues/issue-1/execute", bytes.NewBufferString(`not json`))
	w := httptest.NewRecorder()

	h.Routes().ServeHTTP(w, req)

	require.Equal(t, 400, w.Code)
}

func TestHandler_Execute_WrongStatus(t *testing.T) {
	h, issues, _ := newTestHandler(t)
	issue := workingIssue("issue-1")
	require.NoError(t, issue.SetStatus(domain.StatusTodo))
	issues.put(issue)

	req := httptest.NewRequest("POST", "/issues/issue-1/execute", bytes.NewBufferString(`{"engineType":"echo"}`))
	w := httptest.NewRecorder()

	h.Routes().ServeHTTP(w, req)

	require.Equal(t, 400, w.Code)
}

func TestHandler_Cancel_NoRunningProcess(t *testing.T) {
	h, issues, _ := newTestHandler(t)
	issues.put(workingIssue("issue-1"))

	req := httptest.NewRequest("POST", "/issues/issue-1/cancel", nil)
	w := httptest.NewRecorder()

	h.Routes().ServeHTTP(w, req)

	require.Equal(t, 404, w.Code)
}

func TestHandler_Logs_Empty(t *testing.T) {
	h, issues, _ := newTestHandler(t)
	issues.put(workingIssue("issue-1"))

	req := httptest.NewRequest("GET", "/issues/issue-1/logs", nil)
	w := httptest.NewRecorder()

	h.Routes().ServeHTTP(w, req)

	require.Equal(t, 200, w.Code)
	env := decodeEnvelope(t, w.Body)
	data := env["data"].(map[string]any)
	assert.Equal(t, []any{}, normalizeEntries(data["entries"]))
	assert.Equal(t, false, data["hasMore"])
}

func TestHandler_Logs_ReturnsAppendedEntries(t *testing.T) {
	h, issues, logs := newTestHandler(t)
	issues.put(workingIssue("issue-1"))
	entry := domain.NewLogEntry(domain.NewLogEntryParams{
		ID:        "log-1",
		IssueID:   "issue-1",
		TurnIndex: 1,
		EntryType: domain.EntryAssistantMessage,
		Content:   "hello",
		Visible:   true,
	})
	require.NoError(t, logs.Append(context.Background(), entry))

	req := httptest.NewRequest("GET", "/issues/issue-1/logs?limit=10", nil)
	w := httptest.NewRecorder()

	h.Routes().ServeHTTP(w, req)

	require.Equal(t, 200, w.Code)
	env := decodeEnvelope(t, w.Body)
	data := env["data"].(map[string]any)
	entries := data["entries"].([]any)
	require.Len(t, entries, 1)
	first := entries[0].(map[string]any)
	assert.Equal(t, "hello", first["content"])
}

func TestHandler_Health(t *testing.T) {
	h, _, _ := newTestHandler(t)

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()

	h.Routes().ServeHTTP(w, req)

	require.Equal(t, 200, w.Code)
	env := decodeEnvelope(t, w.Body)
	data := env["data"].(map[string]any)
	assert.Equal(t, "ok", data["status"])
}

// normalizeEntries treats a nil slice and an empty slice the same way JSON
// does: both decode to an empty []any, never nil, since pageToJSON always
// allocates with make([]map[string]any, 0, ...).
func normalizeEntries(v any) []any {
	if v == nil {
		return []any{}
	}
	return v.([]any)
}
