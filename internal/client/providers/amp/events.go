package amp

import (
	"encoding/json"
	"fmt"

	"github.com/WuChenDi/bitk/internal/client"
)

// Amp shares Claude's stream-json shape (assistant/message/content blocks)
// since both CLIs wrap the same underlying model family.
type contentBlock struct {
	Type  string          `json:"type,omitempty"`
	Text  string          `json:"text,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

type messageContent struct {
	Role    string         `json:"role,omitempty"`
	Content []contentBlock `json:"content,omitempty"`
}

type ampError struct {
	Message string `json:"message,omitempty"`
	Code    string `json:"code,omitempty"`
}

type rawEvent struct {
	Type          string          `json:"type"`
	SubType       string          `json:"subtype,omitempty"`
	SessionID     string          `json:"session_id,omitempty"`
	Message       *messageContent `json:"message,omitempty"`
	Error         json.RawMessage `json:"error,omitempty"`
	DurationMs    int64           `json:"duration_ms,omitempty"`
	IsErrorResult bool            `json:"is_error,omitempty"`
	Result        string          `json:"result,omitempty"`
	NumTurns      int             `json:"num_turns,omitempty"`
}

// NormalizeLogLine maps one Amp stream-json line to a NormalizedEntry.
func NormalizeLogLine(raw string) (*client.NormalizedEntry, error) {
	var evt rawEvent
	if err := json.Unmarshal([]byte(raw), &evt); err != nil {
		return nil, fmt.Errorf("amp: parse line: %w", err)
	}

	switch evt.Type {
	case "system":
		if evt.SubType != "init" {
			return nil, nil
		}
		return &client.NormalizedEntry{
			EntryType: "system-message",
			Content:   "session initialized",
			Metadata:  map[string]any{"type": "system", "sessionId": evt.SessionID},
		}, nil
	case "assistant":
		return normalizeAssistant(evt), nil
	case "result":
		meta := map[string]any{"resultSubtype": evt.SubType, "turnCompleted": true, "durationMs": evt.DurationMs, "numTurns": evt.NumTurns}
		if evt.IsErrorResult {
			return &client.NormalizedEntry{EntryType: "error-message", Content: ampErrorMessage(evt.Error, evt.Result), Metadata: meta}, nil
		}
		return &client.NormalizedEntry{EntryType: "system-message", Content: evt.Result, Metadata: meta}, nil
	case "error":
		return &client.NormalizedEntry{EntryType: "error-message", Content: ampErrorMessage(evt.Error, "")}, nil
	default:
		return nil, nil
	}
}

// ampErrorMessage returns the message of a JSON {"message": ...} object or
// the value of a plain JSON string, falling back to fallback when raw is
// neither (or is empty).
func ampErrorMessage(raw json.RawMessage, fallback string) string {
	var obj ampError
	if json.Unmarshal(raw, &obj) == nil && obj.Message != "" {
		return obj.Message
	}
	var s string
	if json.Unmarshal(raw, &s) == nil && s != "" {
		return s
	}
	return fallback
}

func normalizeAssistant(evt rawEvent) *client.NormalizedEntry {
	if evt.Message == nil {
		return nil
	}
	for _, block := range evt.Message.Content {
		if block.Type == "tool_use" {
			return normalizeToolUse(block)
		}
	}
	var text string
	for _, block := range evt.Message.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	if text == "" {
		return nil
	}
	return &client.NormalizedEntry{EntryType: "assistant-message", Content: text}
}

func normalizeToolUse(block contentBlock) *client.NormalizedEntry {
	var input struct {
		Cmd      string `json:"cmd"`
		Path     string `json:"path"`
		Pattern  string `json:"pattern"`
		URL      string `json:"url"`
	}
	_ = json.Unmarshal(block.Input, &input)

	action := &client.NormalizedToolAction{ToolName: block.Name}
	switch block.Name {
	case "Bash", "bash":
		action.Kind = string(client.ClassifyCommand(input.Cmd))
		action.Command = input.Cmd
	case "Read", "Edit", "Write":
		action.Kind = "file-edit"
		action.Path = input.Path
	case "Grep", "Glob":
		action.Kind = "search"
		action.Query = input.Pattern
	default:
		action.Kind = "tool"
	}
	content := action.Path
	if content == "" {
		content = action.Command
	}
	if content == "" {
		content = block.Name
	}
	return &client.NormalizedEntry{EntryType: "tool-use", Content: content, ToolAction: action}
}
