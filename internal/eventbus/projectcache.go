package eventbus

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// projectCacheTTL is the Project-Issue Cache Entry TTL (§3): issueId ->
// projectId, 5 minutes, evicted lazily on lookup.
const projectCacheTTL = 5 * time.Minute

// projectLookup resolves an issue id to its owning project id on a cache
// miss. Implemented by domain.IssueRepository.ProjectIDFor in production.
type projectLookup func(ctx context.Context, issueID string) (string, error)

// projectCache wraps go-cache the same way client.ProbeAvailability does,
// giving the project-scoped subscriber a one-shot DB fallback on miss and
// an explicit invalidate hook for issue deletion.
type projectCache struct {
	cache  *gocache.Cache
	lookup projectLookup
}

func newProjectCache(lookup projectLookup) *projectCache {
	return &projectCache{
		cache:  gocache.New(projectCacheTTL, 2*projectCacheTTL),
		lookup: lookup,
	}
}

// resolve returns issueID's project id, consulting the cache first and
// falling through to a one-shot DB lookup on a miss.
func (c *projectCache) resolve(ctx context.Context, issueID string) (string, error) {
	if v, ok := c.cache.Get(issueID); ok {
		return v.(string), nil
	}
	projectID, err := c.lookup(ctx, issueID)
	if err != nil {
		return "", err
	}
	c.cache.Set(issueID, projectID, gocache.DefaultExpiration)
	return projectID, nil
}

// invalidate drops a cached entry immediately, used when an issue-updated
// event reports deletion so a stale mapping can't outlive the issue.
func (c *projectCache) invalidate(issueID string) {
	c.cache.Delete(issueID)
}
