package client

import (
	"context"
	"os/exec"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

const (
	availabilityTTL     = 10 * time.Minute
	availabilityTimeout = 30 * time.Second
)

var availabilityCache = gocache.New(availabilityTTL, 2*availabilityTTL)

// ProbeAvailability runs probe under a hard 30s bound and caches the result
// for 10 minutes per engine type, so repeated Availability() calls (surfaced
// e.g. from a health endpoint) don't repeatedly shell out to the CLI.
func ProbeAvailability(ctx context.Context, engineType EngineType, probe func(context.Context) Availability) Availability {
	if cached, ok := availabilityCache.Get(string(engineType)); ok {
		return cached.(Availability)
	}

	probeCtx, cancel := context.WithTimeout(ctx, availabilityTimeout)
	defer cancel()

	result := make(chan Availability, 1)
	go func() {
		result <- probe(probeCtx)
	}()

	var avail Availability
	select {
	case avail = <-result:
	case <-probeCtx.Done():
		avail = Availability{Installed: true, Executable: false, Error: "timeout"}
	}

	availabilityCache.Set(string(engineType), avail, gocache.DefaultExpiration)
	return avail
}

// LookPath resolves an executable name against PATH, the common first step
// of every adapter's Availability probe.
func LookPath(name string) (string, error) {
	return exec.LookPath(name)
}
