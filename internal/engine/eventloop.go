package engine

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/WuChenDi/bitk/internal/client"
	"github.com/WuChenDi/bitk/internal/domain"
	"github.com/WuChenDi/bitk/internal/eventbus"
	"github.com/WuChenDi/bitk/internal/log"
)

// runEventLoop drains one execution's Events()/Errors() channels until both
// close, the same shape as the teacher's Process.eventLoop: wait for BOTH
// channels to close before declaring the process complete, so no
// in-flight error is dropped.
func (e *IssueEngine) runEventLoop(ctx context.Context, issueID string, mp *ManagedProcess) {
	startGen := mp.currentGeneration()
	proc := mp.Proc()
	events := proc.Events()
	errs := proc.Errors()

	var eventsClosed, errorsClosed bool
	for !eventsClosed || !errorsClosed {
		select {
		case entry, ok := <-events:
			if !ok {
				eventsClosed = true
				events = nil
				continue
			}
			e.handleEntry(ctx, issueID, mp, entry)

		case err, ok := <-errs:
			if !ok {
				errorsClosed = true
				errs = nil
				continue
			}
			log.Debug(log.CatEngine, "stream error", "issue", issueID, "error", err)
		}
	}

	exitErr := <-proc.Exited()

	// A merged-follow-up continuation may have reattached mp to a new
	// subprocess while this loop was still draining the old one's
	// channels. That continuation's own event loop owns finalization now;
	// this attempt must not release the concurrency slot or settle twice.
	if mp.currentGeneration() != startGen {
		return
	}
	e.handleProcessComplete(ctx, issueID, mp, exitErr)
}

// handleEntry persists one normalized entry, tags it per meta-turn and
// cancellation-noise rules, publishes it, and checks for a turn-completion
// signal.
func (e *IssueEngine) handleEntry(ctx context.Context, issueID string, mp *ManagedProcess, raw client.NormalizedEntry) {
	if mp.CancelledByUser() {
		subtype, _ := domain.Metadata(raw.Metadata).ResultSubtype()
		if subtype == "error_during_execution" && IsCancellationNoise(raw.Content) {
			if turnCompletionSignal(raw) {
				e.completeTurn(ctx, issueID, mp)
			}
			return
		}
	}

	if mp.MetaTurn() {
		if raw.Metadata == nil {
			raw.Metadata = map[string]any{}
		}
		raw.Metadata["type"] = "system"
	}

	if raw.EntryType == string(domain.EntrySystemMessage) {
		learnSlashCommands(mp, raw.Content)
	}

	entry := domain.NewLogEntry(domain.NewLogEntryParams{
		ID:               uuid.New().String(),
		IssueID:          issueID,
		TurnIndex:        mp.TurnIndex(),
		EntryType:        domain.EntryType(raw.EntryType),
		Content:          raw.Content,
		Metadata:         raw.Metadata,
		ToolAction:       toDomainToolAction(raw.ToolAction),
		ReplyToMessageID: raw.ReplyToMessageID,
		Visible:          true,
	})

	if err := e.logs.Append(ctx, entry); err != nil {
		log.Error(log.CatEngine, "persisting log entry", "issue", issueID, "error", err)
		return
	}
	mp.AppendLog(string(entry.EntryType()), entry.Content(), entry.TurnIndex())
	e.bus.PublishLog(eventbus.LogEvent{IssueID: issueID, ExecutionID: mp.ExecutionID, Entry: entry})

	if raw.EntryType == string(domain.EntryErrorMessage) {
		mp.SetLogicalFailure(raw.Content)
	}

	if turnCompletionSignal(raw) {
		e.completeTurn(ctx, issueID, mp)
	}
}

// turnCompletionSignal implements the three-way inference rule (§4.4): any
// of metadata.turnCompleted=true, metadata carrying resultSubtype, or a
// system-message entry whose metadata carries duration.
func turnCompletionSignal(raw client.NormalizedEntry) bool {
	md := domain.Metadata(raw.Metadata)
	if md.TurnCompleted() {
		return true
	}
	if _, ok := md.ResultSubtype(); ok {
		return true
	}
	if raw.EntryType == string(domain.EntrySystemMessage) {
		if _, ok := md.Duration(); ok {
			return true
		}
	}
	return false
}

// completeTurn merges any queued pending inputs into the running execution
// if present, otherwise hands off to settlement. Runs synchronously on the
// event-loop goroutine so a second entry can't race a turn-completion
// decision already in flight.
func (e *IssueEngine) completeTurn(ctx context.Context, issueID string, mp *ManagedProcess) {
	pending := mp.DrainPending()
	if len(pending) > 0 {
		e.dispatchMergedFollowUp(ctx, issueID, mp, pending)
		return
	}
	e.settle(ctx, issueID, mp)
}

// dispatchMergedFollowUp joins every queued pending prompt (blank-line
// separated), applies the last-wins model override, and spawns a follow-up
// continuation while the managed process stays logically "running" from
// the caller's perspective (a fresh subprocess attempt, same issue entry).
func (e *IssueEngine) dispatchMergedFollowUp(ctx context.Context, issueID string, mp *ManagedProcess, pending []PendingInput) {
	prompts := make([]string, 0, len(pending))
	model := ""
	for _, p := range pending {
		prompts = append(prompts, p.Prompt)
		if p.Model != "" {
			model = p.Model
		}
	}
	merged := strings.Join(prompts, "\n\n")

	issue, err := e.issues.FindByID(ctx, issueID)
	if err != nil {
		log.Error(log.CatEngine, "reloading issue for merged follow-up", "issue", issueID, "error", err)
		e.settle(ctx, issueID, mp)
		return
	}
	if model == "" {
		model = issue.Model()
	} else {
		issue.SetModel(model)
	}

	adapter, err := client.NewAdapter(client.EngineType(issue.EngineType()))
	if err != nil {
		log.Error(log.CatEngine, "resolving adapter for merged follow-up", "issue", issueID, "error", err)
		e.settle(ctx, issueID, mp)
		return
	}

	proc, err := adapter.SpawnFollowUp(ctx, client.SpawnOptions{
		Prompt:            merged,
		Model:             model,
		ExternalSessionID: issue.ExternalSessionID(),
	}, e.env)
	if err != nil {
		log.Error(log.CatEngine, "spawning merged follow-up", "issue", issueID, "error", err)
		e.settle(ctx, issueID, mp)
		return
	}

	mp.reattach(proc)
	mp.nextTurn()
	mp.setState(StateRunning)
	_ = e.issues.Save(ctx, issue)

	// The merged prompts are sent; mark their durable pending rows
	// dispatched so settlement does not send them a second time.
	sent := make(map[string]bool, len(pending))
	for _, p := range pending {
		sent[p.Prompt] = true
	}
	if rows, err := e.logs.PendingFor(ctx, issueID); err == nil {
		for _, r := range rows {
			if sent[r.Content()] {
				_ = e.logs.MarkDispatched(ctx, r.ID())
			}
		}
	}

	log.SafeGo("issue-engine-followup-"+mp.ExecutionID, func() { e.runEventLoop(context.Background(), issueID, mp) })
}

func toDomainToolAction(a *client.NormalizedToolAction) *domain.ToolAction {
	if a == nil {
		return nil
	}
	return &domain.ToolAction{
		Kind:        domain.ToolActionKind(a.Kind),
		Path:        a.Path,
		Command:     a.Command,
		Query:       a.Query,
		URL:         a.URL,
		ToolName:    a.ToolName,
		Description: a.Description,
	}
}

// learnSlashCommands extracts a best-effort slash-command list from an
// init-style system message. Adapters vary in how they announce these; this
// only recognizes a simple space-delimited "/cmd" convention, which is
// enough to populate app_settings.engine:slashCommands without a
// per-adapter parser.
func learnSlashCommands(mp *ManagedProcess, content string) {
	var found []string
	for _, tok := range strings.Fields(content) {
		if strings.HasPrefix(tok, "/") && len(tok) > 1 {
			found = append(found, tok)
		}
	}
	if len(found) > 0 {
		mp.LearnSlashCommands(found)
	}
}
