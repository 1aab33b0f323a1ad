package client

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"syscall"

	"github.com/WuChenDi/bitk/internal/log"
)

// spawnBuilder provides a fluent API for launching a headless adapter
// subprocess. It consolidates the pipe/context/goroutine boilerplate shared
// by every provider; providers differ only in executable, args, and parser.
type spawnBuilder struct {
	ctx          context.Context
	execPath     string
	args         []string
	workDir      string
	sessionRef   string
	env          []string
	parseLine    ParseLineFunc
	providerName string
	needsStdin   bool
}

func newSpawnBuilder(ctx context.Context, providerName string) *spawnBuilder {
	return &spawnBuilder{ctx: ctx, providerName: providerName}
}

// SpawnConfig is the one-shot configuration every provider's Spawn and
// SpawnFollowUp assemble before handing off to Spawn.
type SpawnConfig struct {
	ProviderName string
	ExecPath     string
	Args         []string
	WorkDir      string
	SessionRef   string
	Env          []string
	NeedsStdin   bool
	ParseLine    ParseLineFunc
}

// Spawn starts a subprocess per cfg and returns its SpawnedProcess handle.
// Every provider's Spawn/SpawnFollowUp funnels through this one entry point
// so the graceful-cancel-then-hard-kill process lifecycle is implemented
// exactly once.
func Spawn(ctx context.Context, cfg SpawnConfig) (SpawnedProcess, error) {
	b := newSpawnBuilder(ctx, cfg.ProviderName).
		withExecutable(cfg.ExecPath, cfg.Args).
		withWorkDir(cfg.WorkDir).
		withSessionRef(cfg.SessionRef).
		withEnv(cfg.Env).
		withStdin(cfg.NeedsStdin).
		withParseLine(cfg.ParseLine)
	return b.build()
}

func (b *spawnBuilder) withExecutable(path string, args []string) *spawnBuilder {
	b.execPath = path
	b.args = args
	return b
}

func (b *spawnBuilder) withWorkDir(dir string) *spawnBuilder {
	b.workDir = dir
	return b
}

func (b *spawnBuilder) withSessionRef(ref string) *spawnBuilder {
	b.sessionRef = ref
	return b
}

func (b *spawnBuilder) withEnv(env []string) *spawnBuilder {
	b.env = env
	return b
}

func (b *spawnBuilder) withParseLine(fn ParseLineFunc) *spawnBuilder {
	b.parseLine = fn
	return b
}

func (b *spawnBuilder) withStdin(enabled bool) *spawnBuilder {
	b.needsStdin = enabled
	return b
}

// build validates configuration, starts the subprocess, and returns a
// SpawnedProcess whose Cancel() performs the graceful-then-hard-kill
// sequence: cmd.Cancel sends SIGTERM when the process context is cancelled,
// and cmd.WaitDelay escalates to SIGKILL if the child hasn't exited within
// gracefulShutdownWindow.
func (b *spawnBuilder) build() (SpawnedProcess, error) {
	if b.execPath == "" {
		return nil, fmt.Errorf("spawn builder: executable path is required")
	}
	if b.parseLine == nil {
		return nil, fmt.Errorf("spawn builder: parseLine is required")
	}

	procCtx, cancel := context.WithCancel(b.ctx)

	cmd := exec.CommandContext(procCtx, b.execPath, b.args...)
	cmd.Dir = b.workDir
	cmd.Env = b.env
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = gracefulShutdownWindow

	var stdin io.WriteCloser
	var err error

	cleanup := func() {
		cancel()
		if stdin != nil {
			_ = stdin.Close()
		}
	}

	if b.needsStdin {
		stdin, err = cmd.StdinPipe()
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("spawn builder: stdin pipe: %w", err)
		}
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("spawn builder: stdout pipe: %w", err)
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("spawn builder: stderr pipe: %w", err)
	}

	p := &basicProcess{
		cmd:          cmd,
		stdin:        stdin,
		stdout:       stdout,
		stderr:       stderr,
		workDir:      b.workDir,
		sessionRef:   b.sessionRef,
		status:       statusPending,
		events:       make(chan NormalizedEntry, 100),
		errors:       make(chan error, 10),
		exited:       make(chan error, 1),
		cancel:       cancel,
		ctx:          procCtx,
		providerName: b.providerName,
		parseLine:    b.parseLine,
	}

	log.Debug(log.CatAdapter, "spawning process", "provider", b.providerName, "execPath", b.execPath, "workDir", b.workDir)

	if err := cmd.Start(); err != nil {
		cleanup()
		return nil, fmt.Errorf("spawn builder: start %s: %w", b.providerName, err)
	}

	log.Debug(log.CatAdapter, "process started", "provider", b.providerName, "pid", cmd.Process.Pid)

	p.setStatus(statusRunning)
	p.startGoroutines()

	return p, nil
}
