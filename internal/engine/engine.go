package engine

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/WuChenDi/bitk/internal/apperr"
	"github.com/WuChenDi/bitk/internal/client"
	"github.com/WuChenDi/bitk/internal/domain"
	"github.com/WuChenDi/bitk/internal/eventbus"
	"github.com/WuChenDi/bitk/internal/log"
	"github.com/WuChenDi/bitk/internal/tracing"
)

// BusyAction selects how followUpIssue handles an already-running process.
type BusyAction string

const (
	BusyActionQueue  BusyAction = "queue"
	BusyActionCancel BusyAction = "cancel"
)

// ExecuteParams carries the fields needed to start a fresh execution.
type ExecuteParams struct {
	EngineType     client.EngineType
	Prompt         string
	WorkingDir     string
	Model          string
	PermissionMode client.PermissionMode
}

// IssueEngine is the Issue Engine (C4): the per-issue lifecycle controller.
// It owns every ManagedProcess, keyed by issue id, and enforces the
// at-most-one-running-process-per-issue invariant by holding the issue's
// table entry for the full lifetime of an execution.
type IssueEngine struct {
	issues domain.IssueRepository
	logs   domain.LogRepository
	bus    *eventbus.Bus
	env    map[string]string // adapter credential env, forwarded via safeEnv

	sem chan struct{} // global concurrency cap (§4.4)

	mu        sync.Mutex
	processes map[string]*ManagedProcess // issueID -> live execution

	maxLogEntries int
	tracer        trace.Tracer
}

// New constructs an IssueEngine. maxConcurrency <= 0 falls back to 4, the
// spec's suggested default for the unspecified concurrency cap. The engine
// traces nothing until SetTracer installs a real tracer; the zero value is
// a noop tracer so every span call site is safe to reach unconditionally.
func New(issues domain.IssueRepository, logs domain.LogRepository, bus *eventbus.Bus, adapterEnv map[string]string, maxConcurrency int) *IssueEngine {
	if maxConcurrency <= 0 {
		maxConcurrency = 4
	}
	return &IssueEngine{
		issues:        issues,
		logs:          logs,
		bus:           bus,
		env:           adapterEnv,
		sem:           make(chan struct{}, maxConcurrency),
		processes:     make(map[string]*ManagedProcess),
		maxLogEntries: DefaultMaxLogEntries,
		tracer:        noop.NewTracerProvider().Tracer("noop"),
	}
}

// SetTracer installs the tracer used by the spawn and settlement spans,
// typically (*tracing.Provider).Tracer() from main's startup wiring.
func (e *IssueEngine) SetTracer(tracer trace.Tracer) {
	e.tracer = tracer
}

// ExecuteIssue starts a fresh execution for issueID. Pre-conditions: the
// issue exists and is not soft-deleted; status must not be todo or done
// (those paths queue as pending at a higher level); review auto-promotes
// to working.
func (e *IssueEngine) ExecuteIssue(ctx context.Context, issueID string, p ExecuteParams) error {
	issue, err := e.loadLiveIssue(ctx, issueID)
	if err != nil {
		return err
	}
	if issue.Status() == domain.StatusTodo || issue.Status() == domain.StatusDone {
		return apperr.New(apperr.KindValidation, "issue must be working or review to execute directly")
	}

	e.mu.Lock()
	if _, busy := e.processes[issueID]; busy {
		e.mu.Unlock()
		return apperr.New(apperr.KindBusy, "an execution is already running for this issue; queue or cancel")
	}
	e.mu.Unlock()

	if issue.Status() == domain.StatusReview {
		_ = issue.SetStatus(domain.StatusWorking)
	}
	issue.SetEngineType(string(p.EngineType))
	issue.SetPrompt(p.Prompt)
	if p.Model != "" {
		issue.SetModel(p.Model)
	}
	issue.SetSessionStatus(domain.SessionPending)
	if err := e.issues.Save(ctx, issue); err != nil {
		return apperr.Wrap(apperr.KindInternal, "saving issue", err)
	}

	adapter, err := client.NewAdapter(p.EngineType)
	if err != nil {
		return apperr.Wrap(apperr.KindValidation, "unknown engine type", err)
	}

	return e.spawn(ctx, issue, adapter, client.SpawnOptions{
		Prompt:         p.Prompt,
		WorkingDir:     p.WorkingDir,
		Model:          p.Model,
		PermissionMode: p.PermissionMode,
	}, false, false)
}

// FollowUpIssue delivers prompt to issueID's conversation. If no active
// process exists, this behaves like a fresh execution with continuity
// (spawnFollowUp). If active, busyAction selects what happens:
// BusyActionQueue persists and queues the prompt for the running process;
// BusyActionCancel cancels the running process and returns without
// sending prompt or spawning a retry.
func (e *IssueEngine) FollowUpIssue(ctx context.Context, issueID, prompt string, model string, permissionMode client.PermissionMode, busyAction BusyAction) error {
	issue, err := e.loadLiveIssue(ctx, issueID)
	if err != nil {
		return err
	}

	e.mu.Lock()
	mp, busy := e.processes[issueID]
	e.mu.Unlock()

	if !busy {
		adapter, err := client.NewAdapter(client.EngineType(issue.EngineType()))
		if err != nil {
			return apperr.Wrap(apperr.KindValidation, "unknown engine type", err)
		}
		if model != "" {
			issue.SetModel(model)
		}
		issue.SetSessionStatus(domain.SessionPending)
		if err := e.issues.Save(ctx, issue); err != nil {
			return apperr.Wrap(apperr.KindInternal, "saving issue", err)
		}
		return e.spawn(ctx, issue, adapter, client.SpawnOptions{
			Prompt:            prompt,
			WorkingDir:        "", // follow-ups pass no working directory to the adapter
			Model:             issue.Model(),
			PermissionMode:    permissionMode,
			ExternalSessionID: issue.ExternalSessionID(),
		}, true, false)
	}

	switch busyAction {
	case BusyActionCancel:
		if err := mp.Proc().Cancel(); err != nil {
			return apperr.Wrap(apperr.KindInternal, "cancelling running process", err)
		}
		mp.MarkCancelledByUser()
		// The retry is driven by the caller observing the exit via the
		// state/settled events and re-invoking FollowUpIssue once idle;
		// this method only performs the cancel half of cancel-and-retry.
		return nil
	case BusyActionQueue:
		fallthrough
	default:
		meta := map[string]any{"pending": true}
		entry := domain.NewLogEntry(domain.NewLogEntryParams{
			ID:         uuid.New().String(),
			IssueID:    issueID,
			TurnIndex:  mp.TurnIndex(),
			EntryType:  domain.EntryUserMessage,
			Content:    prompt,
			Metadata:   meta,
			Visible:    true,
		})
		if err := e.logs.Append(ctx, entry); err != nil {
			return apperr.Wrap(apperr.KindInternal, "persisting pending message", err)
		}
		mp.QueuePending(PendingInput{Prompt: prompt, DisplayPrompt: prompt, Model: model})
		return nil
	}
}

// RestartIssue drops any queued pending input (marking it dispatched
// without sending) and spawns a fresh execution. Used to recover from
// session-id errors.
func (e *IssueEngine) RestartIssue(ctx context.Context, issueID string) error {
	issue, err := e.loadLiveIssue(ctx, issueID)
	if err != nil {
		return err
	}

	e.mu.Lock()
	mp, busy := e.processes[issueID]
	e.mu.Unlock()
	if busy {
		for _, pend := range mp.DrainPending() {
			_ = pend // dropped without sending; durable entries are marked dispatched below
		}
	}

	pendingRows, err := e.logs.PendingFor(ctx, issueID)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "reading pending messages", err)
	}
	for _, row := range pendingRows {
		if err := e.logs.MarkDispatched(ctx, row.ID()); err != nil {
			return apperr.Wrap(apperr.KindInternal, "marking pending dispatched", err)
		}
	}

	adapter, err := client.NewAdapter(client.EngineType(issue.EngineType()))
	if err != nil {
		return apperr.Wrap(apperr.KindValidation, "unknown engine type", err)
	}
	issue.SetSessionStatus(domain.SessionPending)
	if err := e.issues.Save(ctx, issue); err != nil {
		return apperr.Wrap(apperr.KindInternal, "saving issue", err)
	}
	return e.spawn(ctx, issue, adapter, client.SpawnOptions{
		Prompt:         issue.Prompt(),
		Model:          issue.Model(),
		PermissionMode: client.PermissionAuto,
	}, false, false)
}

// CancelIssue requests a soft cancel of issueID's running process. The
// adapter's graceful-then-hard-kill window governs how long it takes to
// actually exit.
func (e *IssueEngine) CancelIssue(ctx context.Context, issueID string) error {
	e.mu.Lock()
	mp, busy := e.processes[issueID]
	e.mu.Unlock()
	if !busy {
		return apperr.New(apperr.KindNotFound, "no running execution for this issue")
	}
	mp.MarkCancelledByUser()
	if err := mp.Proc().Cancel(); err != nil {
		return apperr.Wrap(apperr.KindInternal, "cancelling process", err)
	}
	return nil
}

// GetLogs is a thin pass-through to the log repository's pagination
// contract (§4.4); the engine adds no policy here beyond routing.
func (e *IssueEngine) GetLogs(ctx context.Context, issueID string, devMode bool, q domain.LogCursor) (domain.LogPage, error) {
	return e.logs.Page(ctx, issueID, devMode, q)
}

func (e *IssueEngine) loadLiveIssue(ctx context.Context, issueID string) (*domain.Issue, error) {
	issue, err := e.issues.FindByID(ctx, issueID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindNotFound, "issue not found", err)
	}
	if issue.IsDeleted() {
		return nil, apperr.New(apperr.KindNotFound, "issue has been deleted")
	}
	return issue, nil
}

// spawn acquires a concurrency-cap slot, calls the adapter's Spawn or
// SpawnFollowUp, registers the resulting ManagedProcess, and starts its
// event loop. isFollowUp selects which adapter method is used; metaTurn
// tags every entry emitted this turn as a system-hidden turn (used by the
// auto-title flow).
func (e *IssueEngine) spawn(ctx context.Context, issue *domain.Issue, adapter client.Adapter, opts client.SpawnOptions, isFollowUp, metaTurn bool) error {
	ctx, span := e.tracer.Start(ctx, tracing.SpanPrefixEngine+"spawn",
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	defer span.End()
	span.SetAttributes(
		attribute.String(tracing.AttrIssueID, issue.ID()),
		attribute.String(tracing.AttrEngineType, issue.EngineType()),
	)

	select {
	case e.sem <- struct{}{}:
	default:
		err := apperr.New(apperr.KindBusy, "concurrency limit reached; try again shortly")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	var proc client.SpawnedProcess
	var err error
	if isFollowUp {
		proc, err = adapter.SpawnFollowUp(ctx, opts, e.env)
	} else {
		proc, err = adapter.Spawn(ctx, opts, e.env)
	}
	if err != nil {
		<-e.sem
		issue.SetSessionStatus(domain.SessionFailed)
		_ = e.issues.Save(ctx, issue)
		e.bus.PublishState(eventbus.StateEvent{IssueID: issue.ID(), State: string(StateExited)})
		wrapped := apperr.Wrap(apperr.KindSpawnFailed, "spawning adapter process", err)
		span.RecordError(wrapped)
		span.SetStatus(codes.Error, wrapped.Error())
		return wrapped
	}

	executionID := uuid.New().String()
	span.SetAttributes(attribute.String(tracing.AttrExecutionID, executionID))
	span.SetStatus(codes.Ok, "")
	mp := NewManagedProcess(executionID, issue.ID(), proc, e.maxLogEntries)
	mp.SetMetaTurn(metaTurn)

	e.mu.Lock()
	e.processes[issue.ID()] = mp
	e.mu.Unlock()

	mp.setState(StateRunning)
	issue.SetSessionStatus(domain.SessionRunning)
	_ = e.issues.Save(ctx, issue)
	e.bus.PublishState(eventbus.StateEvent{IssueID: issue.ID(), ExecutionID: executionID, State: string(StateRunning)})

	if !isFollowUp && !metaTurn {
		initial := domain.NewLogEntry(domain.NewLogEntryParams{
			ID:        uuid.New().String(),
			IssueID:   issue.ID(),
			TurnIndex: mp.TurnIndex(),
			EntryType: domain.EntryUserMessage,
			Content:   opts.Prompt,
			Visible:   true,
		})
		if err := e.logs.Append(ctx, initial); err != nil {
			log.Error(log.CatEngine, "persisting initial user-message", "issue", issue.ID(), "error", err)
		} else {
			e.bus.PublishLog(eventbus.LogEvent{IssueID: issue.ID(), ExecutionID: executionID, Entry: initial})
		}
	}

	log.SafeGo("issue-engine-"+executionID, func() { e.runEventLoop(context.Background(), issue.ID(), mp) })
	return nil
}

// releaseSlot frees one concurrency-cap slot. Invoked exactly once per
// managed process's lifetime via mp.release.Do in handleProcessComplete,
// regardless of how many subprocess attempts (continuations) it went
// through.
func (e *IssueEngine) releaseSlot() {
	select {
	case <-e.sem:
	default:
	}
}
