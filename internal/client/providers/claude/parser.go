package claude

import (
	"encoding/json"
	"fmt"

	"github.com/WuChenDi/bitk/internal/client"
)

// NormalizeLogLine maps one stream-json line to at most one NormalizedEntry.
// The system init event and the result envelope each yield an entry; other
// system events and unknown event types return (nil, nil).
func NormalizeLogLine(raw string) (*client.NormalizedEntry, error) {
	var evt rawEvent
	if err := json.Unmarshal([]byte(raw), &evt); err != nil {
		return nil, fmt.Errorf("claude: parse line: %w", err)
	}

	switch evt.Type {
	case "system":
		return normalizeSystem(evt)
	case "assistant":
		return normalizeAssistant(evt)
	case "user":
		return normalizeUser(evt)
	case "result":
		return normalizeResult(evt)
	default:
		return nil, nil
	}
}

func normalizeSystem(evt rawEvent) (*client.NormalizedEntry, error) {
	if evt.SubType != "init" {
		return nil, nil
	}
	return &client.NormalizedEntry{
		EntryType: "system-message",
		Content:   "session initialized",
		Metadata:  map[string]any{"type": "system", "sessionId": evt.SessionID},
	}, nil
}

func normalizeAssistant(evt rawEvent) (*client.NormalizedEntry, error) {
	if evt.Message == nil {
		return nil, nil
	}

	for _, block := range evt.Message.Content {
		if block.Type == "tool_use" {
			return normalizeToolUse(block), nil
		}
	}

	text := evt.Message.text()
	msg, _, contextExceeded := parsedError(evt.Error, evt.Message.StopReason, text)
	if contextExceeded {
		return &client.NormalizedEntry{
			EntryType: "error-message",
			Content:   msg,
			Metadata:  map[string]any{"reason": "context-exceeded"},
		}, nil
	}
	if text == "" {
		return nil, nil
	}
	return &client.NormalizedEntry{
		EntryType: "assistant-message",
		Content:   text,
		Metadata:  map[string]any{"turnCompleted": evt.Message.StopReason != ""},
	}, nil
}

func normalizeUser(evt rawEvent) (*client.NormalizedEntry, error) {
	if evt.Message == nil {
		return nil, nil
	}
	text := evt.Message.text()
	if text == "" {
		return nil, nil
	}
	return &client.NormalizedEntry{EntryType: "user-message", Content: text}, nil
}

func normalizeResult(evt rawEvent) (*client.NormalizedEntry, error) {
	meta := map[string]any{
		"resultSubtype": evt.SubType,
		"turnCompleted": true,
		"durationMs":    evt.DurationMs,
		"numTurns":      evt.NumTurns,
	}
	if evt.IsErrorResult {
		return &client.NormalizedEntry{
			EntryType: "error-message",
			Content:   evt.Result,
			Metadata:  meta,
		}, nil
	}
	return &client.NormalizedEntry{
		EntryType: "system-message",
		Content:   evt.Result,
		Metadata:  meta,
	}, nil
}

func normalizeToolUse(block contentBlock) *client.NormalizedEntry {
	action := classifyToolUse(block)
	return &client.NormalizedEntry{
		EntryType:  "tool-use",
		Content:    describeToolUse(block, action),
		ToolAction: action,
	}
}

func describeToolUse(block contentBlock, action *client.NormalizedToolAction) string {
	if action.Description != "" {
		return action.Description
	}
	if action.Path != "" {
		return action.Path
	}
	if action.Command != "" {
		return action.Command
	}
	return block.Name
}

func classifyToolUse(block contentBlock) *client.NormalizedToolAction {
	var input struct {
		FilePath    string `json:"file_path"`
		Command     string `json:"command"`
		Description string `json:"description"`
		Pattern     string `json:"pattern"`
		URL         string `json:"url"`
	}
	_ = json.Unmarshal(block.Input, &input)

	action := &client.NormalizedToolAction{ToolName: block.Name, Description: input.Description}

	switch block.Name {
	case "Bash", "bash":
		action.Kind = string(client.ClassifyCommand(input.Command))
		action.Command = input.Command
	case "Read", "View", "read", "view":
		action.Kind = "file-read"
		action.Path = input.FilePath
	case "Edit", "Write", "edit", "write":
		action.Kind = "file-edit"
		action.Path = input.FilePath
	case "Grep", "Glob", "grep", "glob":
		action.Kind = "search"
		action.Query = input.Pattern
	case "WebFetch", "webfetch":
		action.Kind = "web-fetch"
		action.URL = input.URL
	default:
		action.Kind = "tool"
	}
	return action
}
