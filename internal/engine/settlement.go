package engine

import (
	"context"
	"regexp"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/WuChenDi/bitk/internal/client"
	"github.com/WuChenDi/bitk/internal/domain"
	"github.com/WuChenDi/bitk/internal/eventbus"
	"github.com/WuChenDi/bitk/internal/log"
	"github.com/WuChenDi/bitk/internal/tracing"
)

// sessionErrorMarkers are the substrings (case-insensitive) that identify a
// failed turn as a lost-conversation session error rather than an ordinary
// logical failure.
var sessionErrorMarkers = []string{"no conversation found", "session"}

// settle runs the six-step settlement procedure (§4.4) exactly once per
// ManagedProcess, guarded by mp.settleOnce so both the turn-completion path
// and the process-exit fallback path can call it safely.
func (e *IssueEngine) settle(ctx context.Context, issueID string, mp *ManagedProcess) {
	mp.settleOnce.Do(func() {
		e.doSettle(ctx, issueID, mp)
	})
}

func (e *IssueEngine) doSettle(ctx context.Context, issueID string, mp *ManagedProcess) {
	ctx, span := e.tracer.Start(ctx, tracing.SpanPrefixEngine+"settle",
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	defer span.End()
	span.SetAttributes(
		attribute.String(tracing.AttrIssueID, issueID),
		attribute.String(tracing.AttrExecutionID, mp.ExecutionID),
	)

	mp.setState(StateExited)

	logicalFailure, reason := mp.LogicalFailure()
	finalStatus := domain.SessionCompleted
	if logicalFailure {
		finalStatus = domain.SessionFailed
	}

	e.bus.PublishState(eventbus.StateEvent{IssueID: issueID, ExecutionID: mp.ExecutionID, State: string(finalStatus)})

	issue, err := e.issues.FindByID(ctx, issueID)
	if err != nil {
		log.Error(log.CatEngine, "settlement: reloading issue", "issue", issueID, "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.finishExecution(issueID)
		return
	}

	if logicalFailure {
		hadAssistantOutput := false
		for _, entry := range mp.logs.snapshot() {
			if entry.entryType == string(domain.EntryAssistantMessage) && entry.turnIndex == mp.TurnIndex() {
				hadAssistantOutput = true
				break
			}
		}
		if !hadAssistantOutput {
			e.maybeRecoverSession(issue, reason)
		}
	}
	issue.SetSessionStatus(finalStatus)
	if err := e.issues.Save(ctx, issue); err != nil {
		log.Error(log.CatEngine, "settlement: saving issue", "issue", issueID, "error", err)
	}

	if mp.MetaTurn() && !logicalFailure {
		e.applyAutoTitle(ctx, issue, mp)
	}

	// Step 3: durable pending messages (DB, visible=1) are merged and
	// dispatched as a follow-up; on success they're marked dispatched.
	pendingRows, err := e.logs.PendingFor(ctx, issueID)
	if err != nil {
		log.Error(log.CatEngine, "settlement: reading pending messages", "issue", issueID, "error", err)
	} else if len(pendingRows) > 0 {
		// e.spawn (inside flushDurablePending) overwrites this issue's
		// process-table entry with the new continuation before this
		// function returns, so there is no separate entry to clean up here.
		e.flushDurablePending(ctx, issue, pendingRows)
		return
	}

	// Step 4: re-read sessionStatus; if a follow-up already reactivated it,
	// a concurrent flushDurablePending call (or an external follow-up) beat
	// us here -- skip the remaining settlement steps and don't emit settled.
	reloaded, err := e.issues.FindByID(ctx, issueID)
	if err == nil && reloaded.SessionStatus() != finalStatus {
		e.finishExecution(issueID)
		return
	}

	// Step 5: auto-move working -> review.
	if reloaded != nil && reloaded.Status() == domain.StatusWorking {
		_ = reloaded.SetStatus(domain.StatusReview)
		_ = e.issues.Save(ctx, reloaded)
		e.bus.PublishIssueUpdated(eventbus.IssueUpdatedEvent{IssueID: issueID, ProjectID: reloaded.ProjectID()}, nil)
	}

	// Step 6: emit issue-settled.
	e.bus.PublishSettled(eventbus.SettledEvent{IssueID: issueID, ExecutionID: mp.ExecutionID, FinalStatus: string(finalStatus)})
	e.finishExecution(issueID)
}

// flushDurablePending merges every durable pending row's content into one
// follow-up prompt and dispatches it as a fresh execution continuing the
// issue's session; successfully-dispatched rows are marked dispatched.
func (e *IssueEngine) flushDurablePending(ctx context.Context, issue *domain.Issue, rows []*domain.LogEntry) {
	prompts := make([]string, 0, len(rows))
	for _, r := range rows {
		prompts = append(prompts, r.Content())
	}
	merged := strings.Join(prompts, "\n\n")

	adapter, err := client.NewAdapter(client.EngineType(issue.EngineType()))
	if err != nil {
		log.Error(log.CatEngine, "flushDurablePending: resolving adapter", "issue", issue.ID(), "error", err)
		return
	}

	opts := client.SpawnOptions{
		Prompt:            merged,
		Model:             issue.Model(),
		ExternalSessionID: issue.ExternalSessionID(),
	}
	if err := e.spawn(ctx, issue, adapter, opts, true, false); err != nil {
		log.Error(log.CatEngine, "flushDurablePending: spawning follow-up", "issue", issue.ID(), "error", err)
		return
	}

	for _, r := range rows {
		if err := e.logs.MarkDispatched(ctx, r.ID()); err != nil {
			log.Error(log.CatEngine, "flushDurablePending: marking dispatched", "issue", issue.ID(), "entry", r.ID(), "error", err)
		}
	}
}

// maybeRecoverSession implements the session-error recovery rule: on a
// failed turn with no assistant output whose reason mentions a lost
// conversation, clear externalSessionId so the next follow-up starts fresh.
func (e *IssueEngine) maybeRecoverSession(issue *domain.Issue, reason string) {
	lower := strings.ToLower(reason)
	for _, marker := range sessionErrorMarkers {
		if strings.Contains(lower, marker) {
			issue.ClearExternalSessionID()
			return
		}
	}
}

// handleProcessComplete runs once per subprocess attempt that this event
// loop owns through to its actual OS exit (generation-gated by the
// caller). It releases the concurrency slot exactly once and, if the
// stream never produced a turn-completion signal (abnormal exit), falls
// back to settlement so the issue never gets stuck mid-execution.
func (e *IssueEngine) handleProcessComplete(ctx context.Context, issueID string, mp *ManagedProcess, exitErr error) {
	mp.release.Do(e.releaseSlot)

	if exitErr != nil {
		_, reason := mp.LogicalFailure()
		if reason == "" {
			mp.SetLogicalFailure(exitErr.Error())
		}
	}
	e.settle(ctx, issueID, mp)
}

// finishExecution removes issueID's entry from the live process table,
// restoring the invariant that an idle issue has no managed process.
func (e *IssueEngine) finishExecution(issueID string) {
	e.mu.Lock()
	delete(e.processes, issueID)
	e.mu.Unlock()
}

// bitkTitleRegexp matches the auto-title wrapper the dedicated system
// prompt asks the adapter to reply with.
var bitkTitleRegexp = regexp.MustCompile(`<bitk><title>(.*?)</title></bitk>`)

// ExtractTitle implements the auto-title round-trip contract (§8): returns
// T trimmed and capped at 200 characters, or "" if the trimmed match is
// empty or no match is found.
func ExtractTitle(text string) string {
	m := bitkTitleRegexp.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	title := strings.TrimSpace(m[1])
	if title == "" {
		return ""
	}
	if r := []rune(title); len(r) > 200 {
		title = string(r[:200])
	}
	return title
}

// autoTitleSystemPrompt is the dedicated system prompt used to request a
// short conversation title, wrapped in the <bitk><title> sentinel tags the
// engine parses back out via ExtractTitle.
const autoTitleSystemPrompt = "[SYSTEM TASK] Generate a short title for this conversation.\n" +
	"Reply with only the title, wrapped exactly as <bitk><title>your title here</title></bitk>."
