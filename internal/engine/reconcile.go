package engine

import (
	"context"
	"time"

	"github.com/WuChenDi/bitk/internal/domain"
	"github.com/WuChenDi/bitk/internal/eventbus"
	"github.com/WuChenDi/bitk/internal/log"
)

// ReconcileStaleSessions implements the stale-session reconciliation rule
// (§4.4): any issue with status=working and sessionStatus in
// {pending, running} but no in-memory managed process is auto-moved to
// review with sessionStatus set to failed. Called once at startup and
// again on every tick of the periodic sweep started by StartReconcileLoop.
func (e *IssueEngine) ReconcileStaleSessions(ctx context.Context, projectIDs []string) {
	for _, projectID := range projectIDs {
		issues, err := e.issues.ListByProject(ctx, projectID, false)
		if err != nil {
			log.Error(log.CatEngine, "reconcile: listing issues", "project", projectID, "error", err)
			continue
		}
		for _, issue := range issues {
			e.reconcileOne(ctx, issue)
		}
	}
}

func (e *IssueEngine) reconcileOne(ctx context.Context, issue *domain.Issue) {
	if issue.Status() != domain.StatusWorking {
		return
	}
	if issue.SessionStatus() != domain.SessionPending && issue.SessionStatus() != domain.SessionRunning {
		return
	}

	e.mu.Lock()
	_, hasProcess := e.processes[issue.ID()]
	e.mu.Unlock()
	if hasProcess {
		return
	}

	_ = issue.SetStatus(domain.StatusReview)
	issue.SetSessionStatus(domain.SessionFailed)
	if err := e.issues.Save(ctx, issue); err != nil {
		log.Error(log.CatEngine, "reconcile: saving issue", "issue", issue.ID(), "error", err)
		return
	}
	e.bus.PublishIssueUpdated(eventbus.IssueUpdatedEvent{IssueID: issue.ID(), ProjectID: issue.ProjectID()}, nil)
	log.Info(log.CatEngine, "reconciled stale session", "issue", issue.ID())
}

// StartReconcileLoop runs ReconcileStaleSessions once immediately, then
// again every interval until ctx is cancelled. listProjectIDs supplies the
// current set of project ids to sweep (the engine has no project
// repository of its own; the caller wires one in).
func (e *IssueEngine) StartReconcileLoop(ctx context.Context, interval time.Duration, listProjectIDs func(context.Context) ([]string, error)) {
	run := func() {
		ids, err := listProjectIDs(ctx)
		if err != nil {
			log.Error(log.CatEngine, "reconcile: listing projects", "error", err)
			return
		}
		e.ReconcileStaleSessions(ctx, ids)
	}

	run()

	log.SafeGo("issue-engine-reconcile", func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				run()
			}
		}
	})
}
