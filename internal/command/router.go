// Package command routes user-submitted command text: local commands
// execute immediately against the console environment, everything else is
// assigned a correlation id and dispatched to the remote agent. The router
// also owns the pending-request table and its timeout discipline.
package command

import (
	"io"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/veyra-ai/console/internal/conn"
	apperrors "github.com/veyra-ai/console/internal/errors"
	"github.com/veyra-ai/console/internal/protocol"
)

// Submitter hands a remote command to the connection layer.
// Satisfied by *conn.Manager.
type Submitter interface {
	Submit(req protocol.CommandRequestPayload) error
}

// Environment is the console surface local commands act on.
// Satisfied by the session coordinator.
type Environment interface {
	// ClearTranscript removes all transcript entries.
	ClearTranscript()

	// Navigate switches the active section.
	Navigate(name string) error

	// SetTheme applies a display theme and persists the choice.
	SetTheme(name string) error

	// StatusLine describes the current connection state for the user.
	StatusLine() string

	// SectionNames lists the navigable sections.
	SectionNames() []string
}

// Sink receives the transcript-visible outcomes of routing.
// Satisfied by the session coordinator.
type Sink interface {
	// UserEntry records the user's submitted command text.
	UserEntry(text string)

	// SystemEntry records console-originated output (local command results,
	// notices).
	SystemEntry(text string)

	// AgentEntry records a complete agent response for a command.
	AgentEntry(commandID, text string)

	// AgentChunk appends an incremental slice of an agent response.
	// done marks the final chunk.
	AgentChunk(commandID, chunk string, done bool)

	// ErrorEntry records a command failure.
	ErrorEntry(commandID, text string)
}

// floodRate limits how fast commands may be submitted. Matches a fast
// typist with keyboard repeat; anything above it is runaway input.
const (
	floodRate  rate.Limit = 10 // commands per second
	floodBurst            = 20
)

// pendingRequest is one remote command awaiting its terminal response.
type pendingRequest struct {
	commandID string
	sentAt    time.Time
	timer     *time.Timer
}

// RouterConfig holds the dependencies for a Router.
type RouterConfig struct {
	// Submitter dispatches remote commands. Required.
	Submitter Submitter

	// Environment executes local commands. Required.
	Environment Environment

	// Sink receives routing outcomes. Required.
	Sink Sink

	// RequestTimeout is the per-command response budget. Zero means 10s.
	// Streaming chunks extend the budget; the clock restarts on each chunk.
	RequestTimeout time.Duration

	// Logger receives routing diagnostics. Nil discards them.
	Logger *log.Logger
}

// Router classifies and dispatches command submissions.
// Local commands run synchronously on the submitting goroutine; remote
// commands are tracked in the pending table until a result, timeout, or
// connection loss settles them.
type Router struct {
	submitter Submitter
	env       Environment
	sink      Sink
	timeout   time.Duration
	logger    *log.Logger

	// newID generates correlation ids; replaced in tests.
	newID func() string

	limiter *rate.Limiter

	mu      sync.Mutex
	pending map[string]*pendingRequest
}

// NewRouter creates a router with an empty pending table.
func NewRouter(cfg RouterConfig) *Router {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Router{
		submitter: cfg.Submitter,
		env:       cfg.Environment,
		sink:      cfg.Sink,
		timeout:   timeout,
		logger:    logger,
		newID:     uuid.NewString,
		limiter:   rate.NewLimiter(floodRate, floodBurst),
		pending:   make(map[string]*pendingRequest),
	}
}

// Submit routes one command submission. Empty or whitespace-only text is
// ignored without any transcript entry. Local commands execute immediately;
// remote commands are recorded as a User entry and dispatched with a fresh
// correlation id.
func (r *Router) Submit(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	if !r.limiter.Allow() {
		r.sink.SystemEntry("too many commands at once; slowing down")
		return
	}

	if r.runLocal(text) {
		return
	}

	commandID := r.newID()
	r.sink.UserEntry(text)

	req := protocol.CommandRequestPayload{
		CommandID: commandID,
		Text:      text,
		IssuedAt:  time.Now().UnixMilli(),
	}

	r.mu.Lock()
	p := &pendingRequest{
		commandID: commandID,
		sentAt:    time.Now(),
	}
	p.timer = time.AfterFunc(r.timeout, func() { r.expire(commandID) })
	r.pending[commandID] = p
	r.mu.Unlock()

	if err := r.submitter.Submit(req); err != nil {
		// Submission never reached a transport; settle immediately.
		if r.take(commandID) != nil {
			r.sink.ErrorEntry(commandID, apperrors.GetMessage(err))
		}
	}
}

// runLocal executes the command if its first word names a local command.
// Returns false when the text must be routed to the agent. Local command
// names are matched case-insensitively; argument text keeps its case.
func (r *Router) runLocal(text string) bool {
	fields := strings.Fields(text)
	name := strings.ToLower(fields[0])
	args := fields[1:]

	switch name {
	case "help":
		r.sink.SystemEntry(helpText)

	case "clear":
		r.env.ClearTranscript()
		r.sink.SystemEntry("transcript cleared")

	case "status":
		r.sink.SystemEntry(r.env.StatusLine())

	case "sections":
		r.sink.SystemEntry("sections: " + strings.Join(r.env.SectionNames(), ", "))

	case "open":
		if len(args) == 0 {
			r.sink.SystemEntry("usage: open <section>")
			return true
		}
		if err := r.env.Navigate(args[0]); err != nil {
			r.sink.ErrorEntry("", apperrors.GetMessage(err))
			return true
		}
		r.sink.SystemEntry("switched to " + strings.ToLower(args[0]))

	case "theme":
		if len(args) == 0 {
			r.sink.SystemEntry("usage: theme <name>")
			return true
		}
		if err := r.env.SetTheme(args[0]); err != nil {
			r.sink.ErrorEntry("", apperrors.GetMessage(err))
			return true
		}
		r.sink.SystemEntry("theme set to " + args[0])

	default:
		return false
	}
	return true
}

const helpText = `local commands:
  help              show this help
  clear             clear the transcript
  status            show the connection state
  sections          list the control surface sections
  open <section>    switch the active section
  theme <name>      set the display theme
anything else is sent to the agent`

// HandleResult settles a pending command with the agent's terminal answer.
// Results for unknown or already-settled ids are dropped; a late result
// after a timeout must not produce a second transcript entry.
func (r *Router) HandleResult(res protocol.CommandResultPayload) {
	p := r.take(res.CommandID)
	if p == nil {
		r.logger.Printf("command: dropping result for unknown command %s", res.CommandID)
		return
	}

	if res.Success {
		r.sink.AgentEntry(res.CommandID, res.ResultText)
		return
	}
	rejectErr := apperrors.Rejected(res.CommandID, res.ErrorCode, res.ResultText)
	r.sink.ErrorEntry(res.CommandID, rejectErr.Message)
}

// HandleStream appends one incremental response chunk. Each chunk restarts
// the command's response clock, so a long streaming answer doesn't time out
// mid-flight; the final chunk settles the command.
func (r *Router) HandleStream(chunk protocol.CommandStreamPayload) {
	r.mu.Lock()
	p, ok := r.pending[chunk.CommandID]
	if ok && !chunk.Done {
		p.timer.Reset(r.timeout)
	}
	r.mu.Unlock()

	if !ok {
		r.logger.Printf("command: dropping stream chunk for unknown command %s", chunk.CommandID)
		return
	}

	r.sink.AgentChunk(chunk.CommandID, chunk.Chunk, chunk.Done)

	if chunk.Done {
		r.take(chunk.CommandID)
	}
}

// HandleConnectionState settles every pending command when the connection
// leaves the open state for a non-transient reason. Commands are settled
// oldest first so the transcript reflects submission order.
func (r *Router) HandleConnectionState(state conn.State) {
	switch state {
	case conn.StateReconnecting, conn.StateOffline, conn.StateIdle:
	default:
		return
	}

	r.mu.Lock()
	settled := make([]*pendingRequest, 0, len(r.pending))
	for _, p := range r.pending {
		p.timer.Stop()
		settled = append(settled, p)
	}
	r.pending = make(map[string]*pendingRequest)
	r.mu.Unlock()

	if len(settled) == 0 {
		return
	}

	sort.Slice(settled, func(i, j int) bool {
		return settled[i].sentAt.Before(settled[j].sentAt)
	})

	r.logger.Printf("command: settling %d pending command(s) after connection loss", len(settled))
	for _, p := range settled {
		r.sink.ErrorEntry(p.commandID, apperrors.Disconnected(p.commandID).Message)
	}
}

// PendingCount returns the number of commands awaiting a response.
func (r *Router) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// expire settles a command whose response budget ran out. A response that
// raced the timer wins: take is idempotent, so only one side settles.
func (r *Router) expire(commandID string) {
	if r.take(commandID) == nil {
		return
	}
	r.sink.ErrorEntry(commandID, apperrors.RequestTimeout(commandID).Message)
}

// take removes and returns the pending entry for the id, stopping its
// timer. Returns nil when the command was already settled.
func (r *Router) take(commandID string) *pendingRequest {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.pending[commandID]
	if !ok {
		return nil
	}
	p.timer.Stop()
	delete(r.pending, commandID)
	return p
}
