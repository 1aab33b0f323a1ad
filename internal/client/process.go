package client

import "os"

// SpawnedProcess is the handle an adapter returns from Spawn/SpawnFollowUp.
// The Issue Engine owns it from the moment it is returned: adapters treat
// the subprocess as belonging to the engine after return (§5 shared-resource
// policy) and never read from it again themselves.
type SpawnedProcess interface {
	// Events yields normalized stdout entries as they are parsed off the
	// wire by the Stream Normalizer (C2) feeding this adapter's parser.
	Events() <-chan NormalizedEntry

	// Errors yields stream-level errors (I/O errors). Lines that fail to
	// parse are logged and skipped, not sent here.
	// A value here never terminates the subprocess by itself.
	Errors() <-chan error

	// Exited resolves exactly once, carrying the process's exit error
	// (nil on clean exit).
	Exited() <-chan error

	// SessionRef returns the adapter-assigned external session identifier,
	// populated once learned from the stream (may be empty until then).
	SessionRef() string

	// Cancel requests a graceful stop, then hard-kills after a 5s
	// deadline if the process is still alive. Safe to call multiple times;
	// idempotent after the process has exited.
	Cancel() error

	// Kill sends sig immediately, bypassing the graceful grace period.
	Kill(sig os.Signal) error

	// PID returns the OS process id, or 0 before the process has started.
	PID() int

	// WorkDir returns the working directory the process was spawned in.
	WorkDir() string

	// IsRunning reports whether the process is still alive.
	IsRunning() bool
}

// NormalizedEntry is the adapter-produced mapping of one raw output line,
// prior to the Issue Engine stamping it with turn/entry indices and
// persisting it. Mirrors the wire shape described in §6 minus the fields
// the engine itself assigns (turnIndex, entryIndex, messageId).
type NormalizedEntry struct {
	EntryType        string
	Content          string
	Timestamp        string
	Metadata         map[string]any
	ToolAction       *NormalizedToolAction
	ReplyToMessageID string
}

// NormalizedToolAction mirrors domain.ToolAction at the adapter boundary,
// before the engine re-types it into the domain package's shape.
type NormalizedToolAction struct {
	Kind        string
	Path        string
	Command     string
	Query       string
	URL         string
	ToolName    string
	Description string
}
