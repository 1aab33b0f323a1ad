// Package amp adapts the Amp CLI's `--stream-json -x` headless mode to the
// engine's Adapter interface. Amp resumes conversations via a thread
// subcommand (`threads continue <id>`) rather than a resume flag.
package amp

import (
	"context"
	"os"
	"os/exec"
	"strings"

	"github.com/WuChenDi/bitk/internal/client"
)

func init() {
	client.RegisterAdapter(client.EngineAmp, func() client.Adapter { return &Adapter{} })
}

// Adapter drives the Amp CLI.
type Adapter struct{}

// Type implements client.Adapter.
func (a *Adapter) Type() client.EngineType { return client.EngineAmp }

// Availability implements client.Adapter.
func (a *Adapter) Availability(ctx context.Context) client.Availability {
	return client.ProbeAvailability(ctx, client.EngineAmp, probe)
}

func probe(ctx context.Context) client.Availability {
	path, err := client.LookPath("amp")
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
		{ID: "opus", Name: "Opus", IsDefault: true},
		{ID: "sonnet", Name: "Sonnet"},
	}
}

// Spawn implements client.Adapter.
func (a *Adapter) Spawn(ctx context.Context, opts client.SpawnOptions, env map[string]string) (client.SpawnedProcess, error) {
	return spawn(ctx, opts, env, false)
}

// SpawnFollowUp implements client.Adapter.
func (a *Adapter) SpawnFollowUp(ctx context.Context, opts client.SpawnOptions, env map[string]string) (client.SpawnedProcess, error) {
	return spawn(ctx, opts, env, true)
}

// NormalizeLogLine implements client.Adapter.
func (a *Adapter) NormalizeLogLine(raw string) (*client.NormalizedEntry, error) {
	return NormalizeLogLine(raw)
}

func buildArgs(opts client.SpawnOptions, isResume bool) []string {
	var args []string
	if isResume && opts.ExternalSessionID != "" {
		args = append(args, "threads", "continue", opts.ExternalSessionID)
	}
	if opts.PermissionMode == client.PermissionBypass {
		args = append(args, "--dangerously-allow-all")
	}
	args = append(args, "--no-notifications", "--no-ide")
	if opts.Model == "sonnet" {
		args = append(args, "--use-sonnet")
	}
	args = append(args, "--stream-json", "-x")
	if opts.Prompt != "" {
		args = append(args, opts.Prompt)
	}
	return args
}

func spawn(ctx context.Context, opts client.SpawnOptions, env map[string]string, isResume bool) (client.SpawnedProcess, error) {
	path, err := client.LookPath("amp")
	if err != nil {
		return nil, err
	}
	envPairs := client.SafeEnv(os.LookupEnv, env, nil)
	return client.Spawn(ctx, client.SpawnConfig{
		ProviderName: "amp",
		ExecPath:     path,
		Args:         buildArgs(opts, isResume),
		WorkDir:      opts.WorkingDir,
		SessionRef:   opts.ExternalSessionID,
		Env:          envPairs,
		ParseLine:    NormalizeLogLine,
	})
}

var _ client.Adapter = (*Adapter)(nil)
