package engine

import (
	"context"

	"github.com/WuChenDi/bitk/internal/client"
	"github.com/WuChenDi/bitk/internal/domain"
	"github.com/WuChenDi/bitk/internal/eventbus"
	"github.com/WuChenDi/bitk/internal/log"
)

// TriggerAutoTitle spawns a system-initiated, meta-tagged turn asking the
// issue's engine for a short title. Every entry this turn produces is
// tagged metadata.type=system (see ManagedProcess.MetaTurn) so clients hide
// it from the normal conversation view; failures are logged, never
// surfaced to the caller, matching the spec's "failures are logged but not
// surfaced" rule.
func (e *IssueEngine) TriggerAutoTitle(ctx context.Context, issueID string) {
	issue, err := e.loadLiveIssue(ctx, issueID)
	if err != nil {
		log.Debug(log.CatEngine, "auto-title: loading issue", "issue", issueID, "error", err)
		return
	}

	e.mu.Lock()
	_, busy := e.processes[issueID]
	e.mu.Unlock()
	if busy {
		log.Debug(log.CatEngine, "auto-title: issue busy, skipping", "issue", issueID)
		return
	}

	adapter, err := client.NewAdapter(client.EngineType(issue.EngineType()))
	if err != nil {
		log.Debug(log.CatEngine, "auto-title: resolving adapter", "issue", issueID, "error", err)
		return
	}

	opts := client.SpawnOptions{
		Prompt:            autoTitleSystemPrompt,
		Model:             issue.Model(),
		ExternalSessionID: issue.ExternalSessionID(),
	}
	if err := e.spawn(ctx, issue, adapter, opts, true, true); err != nil {
		log.Debug(log.CatEngine, "auto-title: spawn failed", "issue", issueID, "error", err)
	}
}

// applyAutoTitle is called from settlement for a meta-turn execution: it
// scans the in-memory log ring for this turn's assistant output, extracts
// the <bitk><title> wrapper, and writes the result to the issue's title if
// non-empty.
func (e *IssueEngine) applyAutoTitle(ctx context.Context, issue *domain.Issue, mp *ManagedProcess) {
	var text string
	for _, entry := range mp.logs.snapshot() {
		if entry.entryType == string(domain.EntryAssistantMessage) {
			text += entry.content
		}
	}
	title := ExtractTitle(text)
	if title == "" {
		log.Debug(log.CatEngine, "auto-title: no title extracted", "issue", issue.ID())
		return
	}
	issue.SetTitle(title)
	if err := e.issues.Save(ctx, issue); err != nil {
		log.Error(log.CatEngine, "auto-title: saving issue", "issue", issue.ID(), "error", err)
		return
	}
	e.bus.PublishIssueUpdated(eventbus.IssueUpdatedEvent{IssueID: issue.ID(), ProjectID: issue.ProjectID()}, nil)
}
