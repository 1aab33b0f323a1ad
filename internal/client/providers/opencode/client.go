// Package opencode drives the OpenCode CLI over a persistent JSON-RPC
// session on stdin/stdout (`opencode serve --stdio`), the concrete
// instantiation of the engine's JSON-RPC adapter variant: strict
// initialize/initialized handshake, id-matched calls, 15s per-call timeout,
// and streamed session notifications translated into normalized entries.
package opencode

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"syscall"

	"github.com/WuChenDi/bitk/internal/client"
	"github.com/WuChenDi/bitk/internal/log"
	"github.com/WuChenDi/bitk/internal/streamnorm"
)

func init() {
	client.RegisterAdapter(client.EngineOpenCode, func() client.Adapter { return &Adapter{} })
}

// Adapter drives the OpenCode CLI's JSON-RPC-over-stdio protocol.
type Adapter struct{}

// Type implements client.Adapter.
func (a *Adapter) Type() client.EngineType { return client.EngineOpenCode }

// Availability implements client.Adapter.
func (a *Adapter) Availability(ctx context.Context) client.Availability {
	return client.ProbeAvailability(ctx, client.EngineOpenCode, probe)
}

func probe(ctx context.Context) client.Availability {
	path, err := client.LookPath("opencode")
	if err != nil {
		return client.Availability{Installed: false, Error: err.Error()}
	}
	out, err := exec.CommandContext(ctx, path, "--version").Output()
	if err != nil {
		return client.Availability{Installed: true, Executable: false, Error: err.Error()}
	}
	return client.Availability{Installed: true, Executable: true, Version: strings.TrimSpace(string(out)), AuthStatus: client.AuthUnknown}
}

// Models implements client.Adapter.
func (a *Adapter) Models(ctx context.Context) []client.Model {
	return []client.Model{{ID: "anthropic/claude-opus-4-5", Name: "Claude Opus (via OpenCode)", IsDefault: true}}
}

// Spawn implements client.Adapter.
func (a *Adapter) Spawn(ctx context.Context, opts client.SpawnOptions, env map[string]string) (client.SpawnedProcess, error) {
	return spawn(ctx, opts, env)
}

// SpawnFollowUp implements client.Adapter.
func (a *Adapter) SpawnFollowUp(ctx context.Context, opts client.SpawnOptions, env map[string]string) (client.SpawnedProcess, error) {
	return spawn(ctx, opts, env)
}

// NormalizeLogLine implements client.Adapter. Unused by this adapter: its
// output arrives as JSON-RPC notifications decoded by the session reader,
// not as independently parseable lines. Kept to satisfy the interface.
func (a *Adapter) NormalizeLogLine(raw string) (*client.NormalizedEntry, error) {
	return nil, nil
}

func spawn(ctx context.Context, opts client.SpawnOptions, env map[string]string) (client.SpawnedProcess, error) {
	path, err := client.LookPath("opencode")
	if err != nil {
		return nil, err
	}

	procCtx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(procCtx, path, "serve", "--stdio")
	cmd.Dir = opts.WorkingDir
	cmd.Env = client.SafeEnv(os.LookupEnv, env, nil)
	cmd.Cancel = func() error { return cmd.Process.Signal(syscall.SIGTERM) }
	cmd.WaitDelay = client.GracefulShutdownWindow

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("opencode: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("opencode: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("opencode: stderr pipe: %w", err)
	}

	p := &process{
		cmd:     cmd,
		cancel:  cancel,
		ctx:     procCtx,
		workDir: opts.WorkingDir,
		events:  make(chan client.NormalizedEntry, 100),
		errors:  make(chan error, 10),
		exited:  make(chan error, 1),
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("opencode: start: %w", err)
	}
	p.running = true

	p.session = streamnorm.NewSession(stdin, stdout, p.handleNotification, "opencode")
	log.SafeGo("opencode-stderr", func() { drainStderr(stderr) })
	log.SafeGo("opencode-wait", p.waitForExit)
	log.SafeGo("opencode-run", func() { p.runSession(procCtx, opts) })

	return p, nil
}

func drainStderr(stderr io.Reader) {
	buf := make([]byte, 4096)
	for {
		n, err := stderr.Read(buf)
		if n > 0 {
			log.Debug(log.CatAdapter, "stderr", "provider", "opencode", "chunk", string(buf[:n]))
		}
		if err != nil {
			return
		}
	}
}

// runSession performs the strict initialize/initialized handshake and then
// issues the session.run call that drives the actual turn; notifications
// arriving while the call is in flight are translated into NormalizedEntry
// values by handleNotification.
func (p *process) runSession(ctx context.Context, opts client.SpawnOptions) {
	if _, err := p.session.Initialize(ctx, map[string]any{"workDir": opts.WorkingDir}); err != nil {
		p.sendError(fmt.Errorf("opencode: handshake: %w", err))
		return
	}

	params := map[string]any{"prompt": opts.Prompt, "model": opts.Model}
	if opts.ExternalSessionID != "" {
		params["session"] = opts.ExternalSessionID
	}

	result, err := p.session.Call(ctx, "session.run", params)
	if err != nil {
		p.sendError(fmt.Errorf("opencode: session.run: %w", err))
		return
	}

	var final struct {
		SessionID string `json:"sessionId"`
		Result    string `json:"result"`
	}
	if err := json.Unmarshal(result, &final); err == nil {
		if final.SessionID != "" {
			p.setSessionRef(final.SessionID)
		}
		if final.Result != "" {
			p.pushEntry(client.NormalizedEntry{
				EntryType: "system-message",
				Content:   final.Result,
				Metadata:  map[string]any{"turnCompleted": true},
			})
		}
	}
	close(p.events)
}

// handleNotification translates inbound "session.message" / "session.tool"
// notifications into normalized entries as they stream in.
func (p *process) handleNotification(method string, params json.RawMessage) {
	switch method {
	case "session.message":
		var payload struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		}
		if json.Unmarshal(params, &payload) == nil && payload.Content != "" {
			entryType := "assistant-message"
			if payload.Role == "user" {
				entryType = "user-message"
			}
			p.pushEntry(client.NormalizedEntry{EntryType: entryType, Content: payload.Content})
		}
	case "session.tool":
		var payload struct {
			Name string `json:"name"`
			Path string `json:"path"`
		}
		if json.Unmarshal(params, &payload) == nil {
			p.pushEntry(client.NormalizedEntry{
				EntryType:  "tool-use",
				Content:    payload.Path,
				ToolAction: &client.NormalizedToolAction{ToolName: payload.Name, Path: payload.Path, Kind: "tool"},
			})
		}
	case "session.id":
		var payload struct {
			SessionID string `json:"sessionId"`
		}
		if json.Unmarshal(params, &payload) == nil && payload.SessionID != "" {
			p.setSessionRef(payload.SessionID)
		}
	}
}

var _ client.Adapter = (*Adapter)(nil)
