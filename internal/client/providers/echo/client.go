// Package echo is a deterministic fake adapter used by end-to-end test
// scenarios: it never spawns a real subprocess, instead synthesizing a
// fixed turn (an assistant message followed by a completed result) on a
// short delay, so tests can exercise the full engine lifecycle without an
// installed AI CLI.
package echo

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/WuChenDi/bitk/internal/client"
	"github.com/WuChenDi/bitk/internal/log"
)

func init() {
	client.RegisterAdapter(client.EngineEcho, func() client.Adapter { return &Adapter{} })
}

// Adapter synthesizes a canned conversation instead of driving a real CLI.
type Adapter struct{}

// Type implements client.Adapter.
func (a *Adapter) Type() client.EngineType { return client.EngineEcho }

// Availability implements client.Adapter; the echo adapter is always usable.
func (a *Adapter) Availability(ctx context.Context) client.Availability {
	return client.Availability{Installed: true, Executable: true, Version: "echo-1.0", AuthStatus: client.AuthAuthenticated}
}

// Models implements client.Adapter.
func (a *Adapter) Models(ctx context.Context) []client.Model {
	return []client.Model{{ID: "echo", Name: "Echo", IsDefault: true}}
}

// Spawn implements client.Adapter.
func (a *Adapter) Spawn(ctx context.Context, opts client.SpawnOptions, env map[string]string) (client.SpawnedProcess, error) {
	return newFakeProcess(opts), nil
}

// SpawnFollowUp implements client.Adapter.
func (a *Adapter) SpawnFollowUp(ctx context.Context, opts client.SpawnOptions, env map[string]string) (client.SpawnedProcess, error) {
	return newFakeProcess(opts), nil
}

// NormalizeLogLine implements client.Adapter. The echo adapter never
// produces raw lines to normalize; its entries are synthesized directly.
func (a *Adapter) NormalizeLogLine(raw string) (*client.NormalizedEntry, error) {
	return nil, nil
}

// fakeProcess implements client.SpawnedProcess without any real subprocess.
type fakeProcess struct {
	events  chan client.NormalizedEntry
	errors  chan error
	exited  chan error
	cancel  chan struct{}
	workDir string
	ref     string
}

func newFakeProcess(opts client.SpawnOptions) *fakeProcess {
	ref := opts.ExternalSessionID
	if ref == "" {
		ref = fmt.Sprintf("echo-session-%d", time.Now().UnixNano())
	}
	p := &fakeProcess{
		events:  make(chan client.NormalizedEntry, 8),
		errors:  make(chan error, 1),
		exited:  make(chan error, 1),
		cancel:  make(chan struct{}),
		workDir: opts.WorkingDir,
		ref:     ref,
	}
	log.SafeGo("echo-run", func() { p.run(opts) })
	return p
}

func (p *fakeProcess) run(opts client.SpawnOptions) {
	select {
	case <-time.After(20 * time.Millisecond):
	case <-p.cancel:
		close(p.errors)
		p.exited <- fmt.Errorf("cancelled")
		close(p.exited)
		close(p.events)
		return
	}

	p.events <- client.NormalizedEntry{
		EntryType: "assistant-message",
		Content:   fmt.Sprintf("echo: %s", opts.Prompt),
	}
	p.events <- client.NormalizedEntry{
		EntryType: "system-message",
		Content:   "turn complete",
		Metadata:  map[string]any{"turnCompleted": true, "resultSubtype": "success"},
	}
	close(p.events)
	close(p.errors)
	p.exited <- nil
	close(p.exited)
}

func (p *fakeProcess) Events() <-chan client.NormalizedEntry { return p.events }
func (p *fakeProcess) Errors() <-chan error                  { return p.errors }
func (p *fakeProcess) Exited() <-chan error                  { return p.exited }
func (p *fakeProcess) SessionRef() string                    { return p.ref }
func (p *fakeProcess) WorkDir() string                        { return p.workDir }
func (p *fakeProcess) PID() int                                { return 0 }
func (p *fakeProcess) IsRunning() bool                         { return true }

func (p *fakeProcess) Cancel() error {
	select {
	case <-p.cancel:
	default:
		close(p.cancel)
	}
	return nil
}

func (p *fakeProcess) Kill(sig os.Signal) error { return p.Cancel() }

var _ client.Adapter = (*Adapter)(nil)
var _ client.SpawnedProcess = (*fakeProcess)(nil)
