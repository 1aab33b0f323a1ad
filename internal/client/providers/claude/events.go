// Package claude adapts the Claude Code CLI's `--output-format stream-json`
// protocol to the engine's Adapter interface.
package claude

import (
	"encoding/json"
	"strings"
)

type rawUsage struct {
	InputTokens              int `json:"input_tokens,omitempty"`
	OutputTokens             int `json:"output_tokens,omitempty"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens,omitempty"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens,omitempty"`
}

type contentBlock struct {
	Type  string          `json:"type,omitempty"`
	Text  string          `json:"text,omitempty"`
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

type messageContent struct {
	ID         string         `json:"id,omitempty"`
	Role       string         `json:"role,omitempty"`
	Content    []contentBlock `json:"content,omitempty"`
	Model      string         `json:"model,omitempty"`
	Usage      *rawUsage      `json:"usage,omitempty"`
	StopReason string         `json:"stop_reason,omitempty"`
}

// rawEvent mirrors one line of Claude CLI's stream-json output. Error is
// json.RawMessage because the CLI sends it as either a bare string error
// code (e.g. "invalid_request") or an {"message": ...} object.
type rawEvent struct {
	Type          string          `json:"type"`
	SubType       string          `json:"subtype,omitempty"`
	SessionID     string          `json:"session_id,omitempty"`
	Message       *messageContent `json:"message,omitempty"`
	Error         json.RawMessage `json:"error,omitempty"`
	TotalCostUSD  float64         `json:"total_cost_usd,omitempty"`
	DurationMs    int64           `json:"duration_ms,omitempty"`
	IsErrorResult bool            `json:"is_error,omitempty"`
	Result        string          `json:"result,omitempty"`
	NumTurns      int             `json:"num_turns,omitempty"`
}

// errorInfo is the object shape of rawEvent.Error when the CLI sends a
// structured error rather than a bare code string.
type errorInfo struct {
	Message string `json:"message,omitempty"`
	Code    string `json:"code,omitempty"`
}

// parsedError normalizes the polymorphic error field and flags context
// exhaustion the same way the CLI's own "Prompt is too long" text does.
func parsedError(raw json.RawMessage, stopReason, messageText string) (msg, code string, contextExceeded bool) {
	if len(raw) == 0 {
		return "", "", false
	}
	var info errorInfo
	if err := json.Unmarshal(raw, &info); err == nil && info.Message != "" {
		msg, code = info.Message, info.Code
	} else {
		var bareCode string
		if err := json.Unmarshal(raw, &bareCode); err == nil {
			code = bareCode
		}
	}
	if code == "invalid_request" {
		if strings.Contains(messageText, "Prompt is too long") || stopReason == "stop_sequence" {
			contextExceeded = true
			if msg == "" {
				msg = messageText
			}
		}
	}
	return msg, code, contextExceeded
}

func (m *messageContent) text() string {
	if m == nil {
		return ""
	}
	var out string
	for _, b := range m.Content {
		if b.Type == "text" {
			out += b.Text
		}
	}
	return out
}
