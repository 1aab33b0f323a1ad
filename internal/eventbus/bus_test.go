package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/WuChenDi/bitk/internal/apperr"
	"github.com/WuChenDi/bitk/internal/changes"
)

func waitFor[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		var zero T
		return zero
	}
}

func assertNoEvent[T any](t *testing.T, ch <-chan T) {
	t.Helper()
	select {
	case v := <-ch:
		t.Fatalf("unexpected event delivered: %+v", v)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBus_Subscribe_DeliversMatchingProjectEvents(t *testing.T) {
	bus := New()
	lookup := func(ctx context.Context, issueID string) (string, error) {
		if issueID == "issue-1" {
			return "proj-a", nil
		}
		return "", apperr.New(apperr.KindNotFound, "unknown issue")
	}
	resolver := NewProjectResolver(lookup)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub := bus.Subscribe(ctx, resolver, "proj-a")

	bus.PublishLog(LogEvent{IssueID: "issue-1"})

	evt := waitFor(t, sub.Log)
	require.Equal(t, "issue-1", evt.Payload.IssueID)
}

func TestBus_Subscribe_FiltersOtherProjects(t *testing.T) {
	bus := New()
	lookup := func(ctx context.Context, issueID string) (string, error) {
		return "proj-b", nil
	}
	resolver := NewProjectResolver(lookup)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub := bus.Subscribe(ctx, resolver, "proj-a")

	bus.PublishLog(LogEvent{IssueID: "issue-1"})

	assertNoEvent(t, sub.Log)
}

func TestBus_Subscribe_DropsEventsForUnresolvableIssues(t *testing.T) {
	bus := New()
	lookup := func(ctx context.Context, issueID string) (string, error) {
		return "", apperr.New(apperr.KindNotFound, "issue not found")
	}
	resolver := NewProjectResolver(lookup)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub := bus.Subscribe(ctx, resolver, "proj-a")

	bus.PublishState(StateEvent{IssueID: "ghost-issue", State: "running"})

	assertNoEvent(t, sub.State)
}

func TestBus_Subscribe_IssueUpdatedFiltersByOwnProjectID(t *testing.T) {
	bus := New()
	resolver := NewProjectResolver(func(ctx context.Context, issueID string) (string, error) {
		return "unused", nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub := bus.Subscribe(ctx, resolver, "proj-a")

	bus.PublishIssueUpdated(IssueUpdatedEvent{IssueID: "issue-1", ProjectID: "proj-b"}, resolver)
	assertNoEvent(t, sub.IssueUpdated)

	bus.PublishIssueUpdated(IssueUpdatedEvent{IssueID: "issue-2", ProjectID: "proj-a"}, resolver)
	evt := waitFor(t, sub.IssueUpdated)
	require.Equal(t, "issue-2", evt.Payload.IssueID)
}

func TestBus_PublishIssueUpdated_DeletionInvalidatesResolverCache(t *testing.T) {
	bus := New()
	calls := 0
	resolver := NewProjectResolver(func(ctx context.Context, issueID string) (string, error) {
		calls++
		return "proj-a", nil
	})

	ctx := context.Background()
	_, err := resolver.cache.resolve(ctx, "issue-1")
	require.NoError(t, err)
	require.Equal(t, 1, calls)

	// cached: a second resolve shouldn't call lookup again.
	_, err = resolver.cache.resolve(ctx, "issue-1")
	require.NoError(t, err)
	require.Equal(t, 1, calls)

	bus.PublishIssueUpdated(IssueUpdatedEvent{IssueID: "issue-1", ProjectID: "proj-a", Deleted: true}, resolver)

	_, err = resolver.cache.resolve(ctx, "issue-1")
	require.NoError(t, err)
	require.Equal(t, 2, calls, "deletion must invalidate the cached entry")
}

func TestBus_Subscribe_UnsubscribesOnContextCancel(t *testing.T) {
	bus := New()
	resolver := NewProjectResolver(func(ctx context.Context, issueID string) (string, error) {
		return "proj-a", nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	sub := bus.Subscribe(ctx, resolver, "proj-a")
	cancel()

	select {
	case _, ok := <-sub.Log:
		require.False(t, ok, "channel must close once the subscription context is cancelled")
	case <-time.After(time.Second):
		t.Fatal("subscription channel never closed after cancel")
	}
}

func TestBus_Subscribe_DeliversChangesSummaryFromDiffSummarizer(t *testing.T) {
	bus := New()
	resolver := NewProjectResolver(func(ctx context.Context, issueID string) (string, error) {
		return "proj-a", nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub := bus.Subscribe(ctx, resolver, "proj-a")

	fileChanges := changes.Summarize(
		changes.FileSnapshot{"main.go": "package main\n"},
		changes.FileSnapshot{"main.go": "package main\n\nfunc main() {}\n"},
	)
	bus.PublishChangesSummary(ChangesSummaryEvent{IssueID: "issue-1", Summary: changes.FormatSummary(fileChanges)})

	evt := waitFor(t, sub.ChangesSummary)
	require.Equal(t, "issue-1", evt.Payload.IssueID)
	require.Contains(t, evt.Payload.Summary, "main.go")
}
