// Package engine implements the Managed Process (C3) and Issue Engine (C4)
// components: the per-execution in-memory state bundle and the per-issue
// lifecycle controller built on top of it, following the event-loop shape
// the teacher's v2/process.Process uses to drive a headless AI subprocess.
package engine

import (
	"strings"
	"sync"
	"time"

	"github.com/WuChenDi/bitk/internal/client"
)

// ManagedProcess is the passive, in-memory bookkeeping for one execution
// (one subprocess-backed attempt to make progress on an issue). It owns no
// goroutines of its own: the Issue Engine's event loop (see eventloop.go)
// reads from proc.Events()/Errors()/Exited() and mutates this bundle as
// entries arrive. Every field access goes through the accessor/mutator
// methods below so the event loop and any concurrent reader (getLogs,
// status queries) never race.
type ManagedProcess struct {
	ExecutionID string
	IssueID     string

	mu    sync.RWMutex
	proc  client.SpawnedProcess
	state State

	turnIndex   int
	turnInFlight bool

	pending *pendingQueue
	logs    *logRing

	cancelledByUser bool
	metaTurn        bool

	logicalFailure bool
	failureReason  string

	slashCommands []string

	startedAt  time.Time
	generation int

	release    sync.Once
	settleOnce sync.Once
}

// NewManagedProcess wraps a freshly spawned SpawnedProcess. The process
// begins in StateStarting; the engine's spawn (engine.go) transitions it to
// StateRunning once the adapter's spawn call has succeeded (mirrors the spec's
// starting -> running / starting -> idle(failed) transition).
func NewManagedProcess(executionID, issueID string, proc client.SpawnedProcess, maxLogEntries int) *ManagedProcess {
	return &ManagedProcess{
		ExecutionID: executionID,
		IssueID:     issueID,
		proc:        proc,
		state:       StateStarting,
		pending:     newPendingQueue(),
		logs:        newLogRing(maxLogEntries),
		startedAt:   time.Now(),
	}
}

// Proc returns the underlying subprocess handle.
func (m *ManagedProcess) Proc() client.SpawnedProcess {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.proc
}

// reattach swaps in a continuation's subprocess handle (dispatched after
// merging queued pending inputs at turn completion) and bumps the
// generation counter so the superseded attempt's event loop can recognize
// it has been replaced and stop short of running handleProcessComplete.
func (m *ManagedProcess) reattach(proc client.SpawnedProcess) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.proc = proc
	m.generation++
	return m.generation
}

// currentGeneration reports the generation counter an event loop should
// compare its captured start-of-loop value against before finalizing.
func (m *ManagedProcess) currentGeneration() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.generation
}

func (m *ManagedProcess) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *ManagedProcess) setState(s State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = s
}

// IsRunning reports whether this execution is considered the issue's live
// process (the invariant "at most one running managed process per issue"
// is enforced by the caller holding the issue's entry in its process table,
// not by this type).
func (m *ManagedProcess) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state == StateRunning
}

func (m *ManagedProcess) TurnIndex() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.turnIndex
}

func (m *ManagedProcess) nextTurn() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turnIndex++
	return m.turnIndex
}

func (m *ManagedProcess) TurnInFlight() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.turnInFlight
}

func (m *ManagedProcess) setTurnInFlight(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turnInFlight = v
}

// QueuePending appends a follow-up that arrived while this execution was
// busy. The caller is responsible for also persisting the durable pending
// log entry (mark-dispatched semantics) -- this only tracks the in-memory
// FIFO the running subprocess will receive at turn completion.
func (m *ManagedProcess) QueuePending(in PendingInput) {
	m.pending.push(in)
}

// DrainPending removes and returns every queued follow-up in FIFO order.
func (m *ManagedProcess) DrainPending() []PendingInput {
	return m.pending.drain()
}

func (m *ManagedProcess) PendingCount() int {
	return m.pending.len()
}

// AppendLog records an entry in the bounded in-memory ring. This never
// fails; overflow silently evicts the oldest entry.
func (m *ManagedProcess) AppendLog(entryType, content string, turnIndex int) {
	m.logs.push(&ringEntry{entryType: entryType, content: content, turnIndex: turnIndex})
}

func (m *ManagedProcess) LogRingLen() int { return m.logs.len() }

// CancelledByUser reports whether the operator requested cancellation.
// Once set, the turn-completion consumer suppresses known cancellation
// noise (see IsCancellationNoise).
func (m *ManagedProcess) CancelledByUser() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cancelledByUser
}

func (m *ManagedProcess) MarkCancelledByUser() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelledByUser = true
}

// MetaTurn reports whether the current turn is system-initiated (e.g.
// auto-title) and so its entries should be tagged metadata.type=system and
// hidden from normal UI rendering.
func (m *ManagedProcess) MetaTurn() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.metaTurn
}

func (m *ManagedProcess) SetMetaTurn(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metaTurn = v
}

// LogicalFailure reports an adapter-signaled in-stream error (distinct from
// a subprocess exit failure): the subprocess isn't killed, but settlement
// will report finalStatus=failed.
func (m *ManagedProcess) LogicalFailure() (bool, string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.logicalFailure, m.failureReason
}

func (m *ManagedProcess) SetLogicalFailure(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logicalFailure = true
	m.failureReason = reason
}

// LearnSlashCommands records slash commands advertised by an adapter's
// init/system message. Learned once per execution; duplicates are ignored.
func (m *ManagedProcess) LearnSlashCommands(cmds []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[string]bool, len(m.slashCommands))
	for _, c := range m.slashCommands {
		seen[c] = true
	}
	for _, c := range cmds {
		if c != "" && !seen[c] {
			m.slashCommands = append(m.slashCommands, c)
			seen[c] = true
		}
	}
}

func (m *ManagedProcess) SlashCommands() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.slashCommands))
	copy(out, m.slashCommands)
	return out
}

// cancellationNoise is the fixed list of residual error strings a subprocess
// may emit after an operator-initiated cancel; these are dropped rather than
// surfaced once CancelledByUser is true.
var cancellationNoise = []string{
	"request was aborted",
	"request interrupted by user",
	"rust analyzer lsp crashed",
	"rust-analyzer-lsp",
}

// IsCancellationNoise reports whether text matches one of the fixed
// cancellation-noise strings. Matching is substring and case-insensitive:
// text is lowercased before it is compared.
func IsCancellationNoise(text string) bool {
	lower := strings.ToLower(text)
	for _, noise := range cancellationNoise {
		if strings.Contains(lower, noise) {
			return true
		}
	}
	return false
}
