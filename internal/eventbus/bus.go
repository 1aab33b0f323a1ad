package eventbus

import (
	"context"

	"github.com/WuChenDi/bitk/internal/pubsub"
)

// Bus is the process-wide Event Bus: one broker per named channel, so a
// subscriber only pays for the kinds it cares about. Created once at
// startup (see the "global singletons, explicit init" design note) and
// passed by reference to the Issue Engine and the HTTP/SSE boundary.
type Bus struct {
	log            *pubsub.Broker[LogEvent]
	state          *pubsub.Broker[StateEvent]
	settled        *pubsub.Broker[SettledEvent]
	issueUpdated   *pubsub.Broker[IssueUpdatedEvent]
	changesSummary *pubsub.Broker[ChangesSummaryEvent]
}

// New constructs an empty Bus with no subscribers.
func New() *Bus {
	return &Bus{
		log:            pubsub.NewBroker[LogEvent](),
		state:          pubsub.NewBroker[StateEvent](),
		settled:        pubsub.NewBroker[SettledEvent](),
		issueUpdated:   pubsub.NewBroker[IssueUpdatedEvent](),
		changesSummary: pubsub.NewBroker[ChangesSummaryEvent](),
	}
}

func (b *Bus) PublishLog(e LogEvent)                       { b.log.Publish(pubsub.UpdatedEvent, e) }
func (b *Bus) PublishState(e StateEvent)                   { b.state.Publish(pubsub.UpdatedEvent, e) }
func (b *Bus) PublishSettled(e SettledEvent)                { b.settled.Publish(pubsub.UpdatedEvent, e) }
func (b *Bus) PublishChangesSummary(e ChangesSummaryEvent)  { b.changesSummary.Publish(pubsub.UpdatedEvent, e) }

// PublishIssueUpdated also invalidates the resolver's project cache
// immediately on deletion, per the Project-Issue Cache Entry invariant that
// a deleted issue's mapping cannot outlive the issue.
func (b *Bus) PublishIssueUpdated(e IssueUpdatedEvent, resolver *ProjectResolver) {
	if e.Deleted && resolver != nil {
		resolver.cache.invalidate(e.IssueID)
	}
	b.issueUpdated.Publish(pubsub.UpdatedEvent, e)
}

// ProjectResolver wraps the Bus's project-id cache so the HTTP/SSE boundary
// can construct project-scoped subscriptions without reaching into Bus
// internals.
type ProjectResolver struct {
	cache *projectCache
}

// NewProjectResolver builds a resolver backed by lookup (issueId -> projectId),
// typically domain.IssueRepository.ProjectIDFor.
func NewProjectResolver(lookup func(ctx context.Context, issueID string) (string, error)) *ProjectResolver {
	return &ProjectResolver{cache: newProjectCache(lookup)}
}

// ProjectSubscription is a project-scoped view over the five named
// channels: every delivered event's resolved issue belongs to projectID.
// Subscribers must not block; the underlying pubsub.Broker drops events
// for a subscriber whose channel is full rather than stalling the publisher.
type ProjectSubscription struct {
	ProjectID      string
	Log            <-chan pubsub.Event[LogEvent]
	State          <-chan pubsub.Event[StateEvent]
	Settled        <-chan pubsub.Event[SettledEvent]
	IssueUpdated   <-chan pubsub.Event[IssueUpdatedEvent]
	ChangesSummary <-chan pubsub.Event[ChangesSummaryEvent]
}

// Subscribe opens a project-scoped subscription. ctx governs the
// subscription's lifetime; cancelling it unsubscribes from every channel
// (the underlying brokers close their per-subscriber channels on ctx.Done()).
//
// Filtering happens in a forwarding goroutine per channel rather than in the
// broker itself, since the broker has no notion of "project" -- only the
// resolver here knows how to map an issue id to a project id.
func (b *Bus) Subscribe(ctx context.Context, resolver *ProjectResolver, projectID string) *ProjectSubscription {
	return &ProjectSubscription{
		ProjectID:      projectID,
		Log:            filterChan(ctx, b.log.Subscribe(ctx), resolver, projectID, func(e LogEvent) string { return e.IssueID }),
		State:          filterChan(ctx, b.state.Subscribe(ctx), resolver, projectID, func(e StateEvent) string { return e.IssueID }),
		Settled:        filterChan(ctx, b.settled.Subscribe(ctx), resolver, projectID, func(e SettledEvent) string { return e.IssueID }),
		IssueUpdated:   filterIssueUpdated(ctx, b.issueUpdated.Subscribe(ctx), projectID),
		ChangesSummary: filterChan(ctx, b.changesSummary.Subscribe(ctx), resolver, projectID, func(e ChangesSummaryEvent) string { return e.IssueID }),
	}
}

// filterChan forwards only events whose issue resolves to projectID. A
// resolver error (e.g. issue already deleted) drops the event rather than
// propagating -- a stale event for a gone issue is simply not of interest
// to any live subscriber.
func filterChan[T any](ctx context.Context, in <-chan pubsub.Event[T], resolver *ProjectResolver, projectID string, issueIDOf func(T) string) <-chan pubsub.Event[T] {
	out := make(chan pubsub.Event[T], 64)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-in:
				if !ok {
					return
				}
				resolved, err := resolver.cache.resolve(ctx, issueIDOf(evt.Payload))
				if err != nil || resolved != projectID {
					continue
				}
				select {
				case out <- evt:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

// filterIssueUpdated uses the event's own ProjectID field directly: it
// already carries ownership and is the signal that invalidates the cache,
// so it can't depend on the cache to filter itself.
func filterIssueUpdated(ctx context.Context, in <-chan pubsub.Event[IssueUpdatedEvent], projectID string) <-chan pubsub.Event[IssueUpdatedEvent] {
	out := make(chan pubsub.Event[IssueUpdatedEvent], 64)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-in:
				if !ok {
					return
				}
				if evt.Payload.ProjectID != projectID {
					continue
				}
				select {
				case out <- evt:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}
