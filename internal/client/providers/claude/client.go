package claude

import (
	"context"
	"os"
	"os/exec"
	"strings"

	"github.com/WuChenDi/bitk/internal/client"
)

func init() {
	client.RegisterAdapter(client.EngineClaude, func() client.Adapter { return &Adapter{} })
}

// Adapter drives the Claude Code CLI in `--print --output-format
// stream-json` mode.
type Adapter struct{}

// Type implements client.Adapter.
func (a *Adapter) Type() client.EngineType { return client.EngineClaude }

// Availability implements client.Adapter.
func (a *Adapter) Availability(ctx context.Context) client.Availability {
	return client.ProbeAvailability(ctx, client.EngineClaude, probe)
}

func probe(ctx context.Context) client.Availability {
	path, err := client.LookPath("claude")
	if err != nil {
		return client.Availability{Installed: false, Error: err.Error()}
	}
	out, err := exec.CommandContext(ctx, path, "--version").Output()
	if err != nil {
		return client.Availability{Installed: true, Executable: false, Error: err.Error()}
	}
	return client.Availability{
		Installed:  true,
		Executable: true,
		Version:    strings.TrimSpace(string(out)),
		AuthStatus: client.AuthUnknown,
	}
}

// Models implements client.Adapter.
func (a *Adapter) Models(ctx context.Context) []client.Model {
	return []client.Model{
		{ID: "sonnet", Name: "Claude Sonnet", IsDefault: true},
		{ID: "opus", Name: "Claude Opus"},
		{ID: "haiku", Name: "Claude Haiku"},
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

func spawn(ctx context.Context, opts client.SpawnOptions, env map[string]string) (client.SpawnedProcess, error) {
	path, err := client.LookPath("claude")
	if err != nil {
		return nil, err
	}

	args := []string{"--print", "--output-format", "stream-json", "--verbose"}
	if opts.ExternalSessionID != "" {
		args = append(args, "--resume", opts.ExternalSessionID)
	}
	if opts.Model != "" {
		args = append(args, "--model", opts.Model)
	}
	if opts.PermissionMode == client.PermissionBypass {
		args = append(args, "--dangerously-skip-permissions")
	}
	if opts.Prompt != "" {
		args = append(args, "--", opts.Prompt)
	}

	envPairs := client.SafeEnv(os.LookupEnv, env, nil)

	return client.Spawn(ctx, client.SpawnConfig{
		ProviderName: "claude",
		ExecPath:     path,
		Args:         args,
		WorkDir:      opts.WorkingDir,
		SessionRef:   opts.ExternalSessionID,
		Env:          envPairs,
		NeedsStdin:   false,
		ParseLine:    NormalizeLogLine,
	})
}

var _ client.Adapter = (*Adapter)(nil)
