// Package gemini adapts the Gemini CLI's `--output-format stream-json`
// protocol to the engine's Adapter interface.
package gemini

import (
	"context"
	"os"
	"os/exec"
	"strings"

	"github.com/WuChenDi/bitk/internal/client"
)

func init() {
	client.RegisterAdapter(client.EngineGemini, func() client.Adapter { return &Adapter{} })
}

// Adapter drives the Gemini CLI.
type Adapter struct{}

// Type implements client.Adapter.
func (a *Adapter) Type() client.EngineType { return client.EngineGemini }

// Availability implements client.Adapter.
func (a *Adapter) Availability(ctx context.Context) client.Availability {
	return client.ProbeAvailability(ctx, client.EngineGemini, probe)
}

func probe(ctx context.Context) client.Availability {
	path, err := client.LookPath("gemini")
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
	return []client.Model{
		{ID: "gemini-2.5-pro", Name: "Gemini 2.5 Pro", IsDefault: true},
		{ID: "gemini-2.5-flash", Name: "Gemini 2.5 Flash"},
	}
}

// Spawn implements client.Adapter.
func (a *Adapter) Spawn(ctx context.Context, opts client.SpawnOptions, env map[string]string) (client.SpawnedProcess, error) {
	return spawn(ctx, opts, env)
}

// SpawnFollowUp implements client.Adapter.
func (a *Adapter) SpawnFollowUp(ctx context.Context, opts client.SpawnOptions, env map[string]string) (client.SpawnedProcess, error) {
	return spawn(ctx, opts, env)
}

// NormalizeLogLine implements client.Adapter.
func (a *Adapter) NormalizeLogLine(raw string) (*client.NormalizedEntry, error) {
	return NormalizeLogLine(raw)
}

// buildArgs mirrors Gemini CLI's quirk of requiring -p instead of a
// positional prompt when resuming an existing session.
func buildArgs(opts client.SpawnOptions) []string {
	var args []string
	if opts.Model != "" {
		args = append(args, "-m", opts.Model)
	}
	if opts.ExternalSessionID != "" {
		args = append(args, "--resume", opts.ExternalSessionID)
	}
	if opts.PermissionMode == client.PermissionBypass || opts.PermissionMode == client.PermissionAuto {
		args = append(args, "--yolo")
	}
	args = append(args, "--output-format", "stream-json")
	if opts.ExternalSessionID != "" {
		args = append(args, "-p", opts.Prompt)
	} else {
		args = append(args, opts.Prompt)
	}
	return args
}

func spawn(ctx context.Context, opts client.SpawnOptions, env map[string]string) (client.SpawnedProcess, error) {
	path, err := client.LookPath("gemini")
	if err != nil {
		return nil, err
	}
	envPairs := client.SafeEnv(os.LookupEnv, env, nil)
	return client.Spawn(ctx, client.SpawnConfig{
		ProviderName: "gemini",
		ExecPath:     path,
		Args:         buildArgs(opts),
		WorkDir:      opts.WorkingDir,
		SessionRef:   opts.ExternalSessionID,
		Env:          envPairs,
		ParseLine:    NormalizeLogLine,
	})
}

var _ client.Adapter = (*Adapter)(nil)
