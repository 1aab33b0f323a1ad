package gemini

import (
	"encoding/json"
	"fmt"

	"github.com/WuChenDi/bitk/internal/client"
)

// geminiEvent mirrors one line of Gemini CLI's stream-json output. Gemini
// uses a flatter, top-level-field shape than Claude's nested message/content
// blocks.
type geminiEvent struct {
	Type       string          `json:"type"`
	SessionID  string          `json:"session_id,omitempty"`
	Model      string          `json:"model,omitempty"`
	Role       string          `json:"role,omitempty"`
	Content    string          `json:"content,omitempty"`
	ToolName   string          `json:"tool_name,omitempty"`
	Parameters json.RawMessage `json:"parameters,omitempty"`
	Status     string          `json:"status,omitempty"`
	Output     string          `json:"output,omitempty"`
	Stats      *geminiStats    `json:"stats,omitempty"`
	Error      *geminiError    `json:"error,omitempty"`
}

type geminiStats struct {
	TokensPrompt     int   `json:"tokens_prompt,omitempty"`
	TokensCandidates int   `json:"tokens_candidates,omitempty"`
	DurationMs       int64 `json:"duration_ms,omitempty"`
}

type geminiError struct {
	Message string `json:"message,omitempty"`
	Code    string `json:"code,omitempty"`
}

// NormalizeLogLine maps one Gemini stream-json line to a NormalizedEntry.
func NormalizeLogLine(raw string) (*client.NormalizedEntry, error) {
	var evt geminiEvent
	if err := json.Unmarshal([]byte(raw), &evt); err != nil {
		return nil, fmt.Errorf("gemini: parse line: %w", err)
	}

	switch evt.Type {
	case "init":
		return &client.NormalizedEntry{
			EntryType: "system-message",
			Content:   "session initialized",
			Metadata:  map[string]any{"type": "system", "sessionId": evt.SessionID},
		}, nil
	case "message":
		if evt.Content == "" {
			return nil, nil
		}
		if evt.Role == "assistant" {
			return &client.NormalizedEntry{EntryType: "assistant-message", Content: evt.Content}, nil
		}
		return &client.NormalizedEntry{EntryType: "user-message", Content: evt.Content}, nil
	case "tool_use":
		return normalizeToolUse(evt), nil
	case "tool_result":
		return &client.NormalizedEntry{EntryType: "tool-use", Content: evt.Output}, nil
	case "result":
		meta := map[string]any{"turnCompleted": true}
		if evt.Stats != nil {
			meta["durationMs"] = evt.Stats.DurationMs
		}
		return &client.NormalizedEntry{EntryType: "system-message", Content: "turn complete", Metadata: meta}, nil
	case "error":
		msg := ""
		if evt.Error != nil {
			msg = evt.Error.Message
		}
		return &client.NormalizedEntry{EntryType: "error-message", Content: msg}, nil
	default:
		return nil, nil
	}
}

func normalizeToolUse(evt geminiEvent) *client.NormalizedEntry {
	var params struct {
		FilePath string `json:"file_path"`
		Command  string `json:"command"`
		Pattern  string `json:"pattern"`
		URL      string `json:"url"`
	}
	_ = json.Unmarshal(evt.Parameters, &params)

	action := &client.NormalizedToolAction{ToolName: evt.ToolName}
	switch evt.ToolName {
	case "shell", "bash":
		action.Kind = string(client.ClassifyCommand(params.Command))
		action.Command = params.Command
	case "read_file":
		action.Kind = "file-read"
		action.Path = params.FilePath
	case "write_file", "edit_file":
		action.Kind = "file-edit"
		action.Path = params.FilePath
	case "search":
		action.Kind = "search"
		action.Query = params.Pattern
	case "web_fetch":
		action.Kind = "web-fetch"
		action.URL = params.URL
	default:
		action.Kind = "tool"
	}

	content := action.Path
	if content == "" {
		content = action.Command
	}
	if content == "" {
		content = evt.ToolName
	}
	return &client.NormalizedEntry{EntryType: "tool-use", Content: content, ToolAction: action}
}
