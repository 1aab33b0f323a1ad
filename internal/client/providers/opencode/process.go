package opencode

import (
	"context"
	"os"
	"os/exec"
	"sync"

	"github.com/WuChenDi/bitk/internal/client"
	"github.com/WuChenDi/bitk/internal/log"
	"github.com/WuChenDi/bitk/internal/streamnorm"
)

// process implements client.SpawnedProcess directly rather than through the
// shared basicProcess: its stdout is owned by the JSON-RPC session reader
// (matching responses by id), not by a plain line-by-line parser.
type process struct {
	cmd        *exec.Cmd
	session    *streamnorm.Session
	events     chan client.NormalizedEntry
	errors     chan error
	exited     chan error
	cancel     context.CancelFunc
	ctx        context.Context
	workDir    string
	sessionRef string
	running    bool
	mu         sync.RWMutex
}

func (p *process) Events() <-chan client.NormalizedEntry { return p.events }
func (p *process) Errors() <-chan error                  { return p.errors }
func (p *process) Exited() <-chan error                  { return p.exited }
func (p *process) WorkDir() string                       { return p.workDir }

func (p *process) SessionRef() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.sessionRef
}

func (p *process) setSessionRef(ref string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sessionRef == "" {
		p.sessionRef = ref
	}
}

func (p *process) pushEntry(e client.NormalizedEntry) {
	select {
	case p.events <- e:
	case <-p.ctx.Done():
	}
}

func (p *process) sendError(err error) {
	select {
	case p.errors <- err:
	default:
		log.Debug(log.CatAdapter, "error channel full, dropping error", "provider", "opencode", "error", err)
	}
}

func (p *process) PID() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.cmd == nil || p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

func (p *process) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

// Cancel performs the same graceful-then-hard-kill sequence as basicProcess:
// cancelling the context invokes cmd.Cancel (SIGTERM), and cmd.WaitDelay
// escalates to SIGKILL if the child hasn't exited within the grace window.
func (p *process) Cancel() error {
	p.cancel()
	return nil
}

func (p *process) Kill(sig os.Signal) error {
	p.mu.RLock()
	proc := p.cmd.Process
	p.mu.RUnlock()
	if proc == nil {
		return nil
	}
	return proc.Signal(sig)
}

func (p *process) waitForExit() {
	err := p.cmd.Wait()

	p.mu.Lock()
	p.running = false
	p.mu.Unlock()

	close(p.errors)
	p.exited <- err
	close(p.exited)
}

var _ client.SpawnedProcess = (*process)(nil)
