// Package codex is a deliberate stub: the upstream CLI's headless spawn
// contract was never stabilized at the time this core was written, so the
// adapter reports itself as unavailable rather than guessing at one.
package codex

import (
	"context"

	"github.com/WuChenDi/bitk/internal/apperr"
	"github.com/WuChenDi/bitk/internal/client"
)

func init() {
	client.RegisterAdapter(client.EngineCodex, func() client.Adapter { return &Adapter{} })
}

// Adapter always reports itself unavailable and refuses to spawn.
type Adapter struct{}

// Type implements client.Adapter.
func (a *Adapter) Type() client.EngineType { return client.EngineCodex }

// Availability implements client.Adapter, always reporting executable=false.
func (a *Adapter) Availability(ctx context.Context) client.Availability {
	return client.Availability{
		Installed:  false,
		Executable: false,
		AuthStatus: client.AuthUnknown,
		Error:      "codex adapter is a stub in this build",
	}
}

// Models implements client.Adapter.
func (a *Adapter) Models(ctx context.Context) []client.Model { return nil }

// Spawn implements client.Adapter, always failing.
func (a *Adapter) Spawn(ctx context.Context, opts client.SpawnOptions, env map[string]string) (client.SpawnedProcess, error) {
	return nil, apperr.New(apperr.KindEngineUnavail, "codex adapter is not implemented")
}

// SpawnFollowUp implements client.Adapter, always failing.
func (a *Adapter) SpawnFollowUp(ctx context.Context, opts client.SpawnOptions, env map[string]string) (client.SpawnedProcess, error) {
	return nil, apperr.New(apperr.KindEngineUnavail, "codex adapter is not implemented")
}

// NormalizeLogLine implements client.Adapter. Never called since Spawn
// always fails, kept only to satisfy the interface.
func (a *Adapter) NormalizeLogLine(raw string) (*client.NormalizedEntry, error) {
	return nil, nil
}

var _ client.Adapter = (*Adapter)(nil)
