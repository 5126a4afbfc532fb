// Package session ties the console together: the Coordinator owns the
// transcript and telemetry snapshot, wires the connection manager, command
// router, section machine, and feedback resolver to each other, and exposes
// the surface UI collaborators subscribe to.
package session

import (
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/veyra-ai/console/internal/command"
	"github.com/veyra-ai/console/internal/conn"
	"github.com/veyra-ai/console/internal/feedback"
	"github.com/veyra-ai/console/internal/protocol"
	"github.com/veyra-ai/console/internal/section"
)

// PreferenceStore persists user choices across sessions.
// Satisfied by *storage.SQLiteStore; nil disables persistence.
type PreferenceStore interface {
	SaveLastSection(name string) error
	SaveTheme(name string) error
}

// CoordinatorConfig holds the dependencies for a Coordinator.
type CoordinatorConfig struct {
	// Manager drives the connection to the agent. Required.
	Manager *conn.Manager

	// Resolver plays feedback cues. Nil disables cues.
	Resolver *feedback.Resolver

	// Prefs persists section and theme choices. Nil disables persistence.
	Prefs PreferenceStore

	// InitialSection is the section active at startup.
	InitialSection section.Section

	// Theme is the display theme active at startup.
	Theme string

	// TranscriptLimit bounds retained transcript entries. Zero means 500.
	TranscriptLimit int

	// RequestTimeout is the per-command response budget. Zero means 10s.
	RequestTimeout time.Duration

	// Logger receives coordinator diagnostics. Nil discards them.
	Logger *log.Logger
}

// Coordinator is the session hub. It implements the router's Environment
// and Sink, translates inbound envelopes into router calls and snapshot
// updates, and fans transcript, state, and snapshot changes out to
// subscribers.
type Coordinator struct {
	manager    *conn.Manager
	router     *command.Router
	machine    *section.Machine
	resolver   *feedback.Resolver
	transcript *Transcript
	prefs      PreferenceStore
	logger     *log.Logger

	mu       sync.Mutex
	theme    string
	snapshot Snapshot
	hasSnap  bool

	// streaming maps a command id to the transcript entry its chunks grow.
	streaming map[string]int64

	transcriptSubs []func(Entry)
	stateSubs      []func(conn.State)
	snapshotSubs   []func(Snapshot)
}

// New creates and wires a coordinator. After New the manager delivers
// envelopes and state changes into the session; call Start to connect.
func New(cfg CoordinatorConfig) *Coordinator {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	initial := cfg.InitialSection
	if initial == "" {
		initial = section.Console
	}

	c := &Coordinator{
		manager:    cfg.Manager,
		resolver:   cfg.Resolver,
		transcript: NewTranscript(cfg.TranscriptLimit),
		prefs:      cfg.Prefs,
		logger:     logger,
		theme:      cfg.Theme,
		streaming:  make(map[string]int64),
	}

	c.machine = section.NewMachine(initial, c.refreshSection, logger)

	c.router = command.NewRouter(command.RouterConfig{
		Submitter:      cfg.Manager,
		Environment:    c,
		Sink:           c,
		RequestTimeout: cfg.RequestTimeout,
		Logger:         logger,
	})

	cfg.Manager.SetMessageHandler(c.handleEnvelope)
	// Pending commands settle before subscribers hear about the transition,
	// so the transcript already shows the failures when the state notice
	// arrives.
	cfg.Manager.AddStateListener(c.router.HandleConnectionState)
	cfg.Manager.AddStateListener(c.handleState)

	return c
}

// Start connects to the agent.
func (c *Coordinator) Start() {
	c.manager.Connect()
}

// Stop disconnects gracefully.
func (c *Coordinator) Stop() {
	c.manager.Disconnect()
}

// Submit routes one user command submission.
func (c *Coordinator) Submit(text string) {
	c.router.Submit(text)
}

// PlayFeedback plays a cue through the resolver.
func (c *Coordinator) PlayFeedback(event feedback.Event) {
	if c.resolver != nil {
		c.resolver.Play(event)
	}
}

// ConnectionState returns the current connection state.
func (c *Coordinator) ConnectionState() conn.State {
	return c.manager.State()
}

// ActiveSection returns the currently active section.
func (c *Coordinator) ActiveSection() section.Section {
	return c.machine.Active()
}

// Theme returns the active display theme.
func (c *Coordinator) Theme() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.theme
}

// Transcript returns a copy of the retained transcript entries.
func (c *Coordinator) Transcript() []Entry {
	return c.transcript.Entries()
}

// Snapshot returns the most recent telemetry snapshot, if any push has
// arrived this session.
func (c *Coordinator) Snapshot() (Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot, c.hasSnap
}

// SubscribeTranscript registers a callback for every new or updated
// transcript entry. Callbacks run synchronously on the producing goroutine.
func (c *Coordinator) SubscribeTranscript(fn func(Entry)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transcriptSubs = append(c.transcriptSubs, fn)
}

// SubscribeConnectionState registers a callback for connection transitions.
func (c *Coordinator) SubscribeConnectionState(fn func(conn.State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stateSubs = append(c.stateSubs, fn)
}

// SubscribeSnapshot registers a callback for telemetry snapshot updates.
func (c *Coordinator) SubscribeSnapshot(fn func(Snapshot)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshotSubs = append(c.snapshotSubs, fn)
}

// Environment implementation — local commands act through these.

// ClearTranscript removes all transcript entries.
func (c *Coordinator) ClearTranscript() {
	c.transcript.Clear()
}

// Navigate switches the active section and persists the choice.
func (c *Coordinator) Navigate(name string) error {
	if err := c.machine.Navigate(name); err != nil {
		return err
	}
	if c.prefs != nil {
		if err := c.prefs.SaveLastSection(string(c.machine.Active())); err != nil {
			c.logger.Printf("session: failed to persist section choice: %v", err)
		}
	}
	c.PlayFeedback(feedback.EventButton)
	return nil
}

// SetTheme applies a display theme and persists the choice.
func (c *Coordinator) SetTheme(name string) error {
	c.mu.Lock()
	c.theme = name
	c.mu.Unlock()

	if c.prefs != nil {
		if err := c.prefs.SaveTheme(name); err != nil {
			c.logger.Printf("session: failed to persist theme choice: %v", err)
		}
	}
	return nil
}

// StatusLine describes the session for the status local command.
func (c *Coordinator) StatusLine() string {
	return fmt.Sprintf("connection: %s | section: %s | %d command(s) pending",
		c.manager.State(), c.machine.Active(), c.router.PendingCount())
}

// SectionNames lists the navigable sections.
func (c *Coordinator) SectionNames() []string {
	return section.Names()
}

// Sink implementation — routing outcomes land in the transcript.

// UserEntry records the user's submitted command text.
func (c *Coordinator) UserEntry(text string) {
	c.appendAndNotify(OriginUser, text)
}

// SystemEntry records console-originated output.
func (c *Coordinator) SystemEntry(text string) {
	c.appendAndNotify(OriginSystem, text)
}

// AgentEntry records a complete agent response. If the command already
// streamed its response, the terminal result only closes the streaming
// entry; it never produces a duplicate.
func (c *Coordinator) AgentEntry(commandID, text string) {
	if entryID, ok := c.takeStreaming(commandID); ok {
		c.transcript.Complete(entryID)
		c.notifyEntry(entryID)
		return
	}
	c.appendAndNotify(OriginAgent, text)
}

// AgentChunk appends an incremental slice of an agent response. The first
// chunk opens an agent entry; later chunks grow it; done closes it.
func (c *Coordinator) AgentChunk(commandID, chunk string, done bool) {
	c.mu.Lock()
	entryID, ok := c.streaming[commandID]
	if !ok {
		entryID = c.transcript.AppendIncomplete(OriginAgent, chunk)
		c.streaming[commandID] = entryID
	}
	if done {
		delete(c.streaming, commandID)
	}
	c.mu.Unlock()

	if ok {
		c.transcript.AppendChunk(entryID, chunk)
	}
	if done {
		c.transcript.Complete(entryID)
	}
	c.notifyEntry(entryID)
}

// ErrorEntry records a command failure. An open streaming entry for the
// command is closed first so it doesn't dangle incomplete.
func (c *Coordinator) ErrorEntry(commandID, text string) {
	if entryID, ok := c.takeStreaming(commandID); ok {
		c.transcript.Complete(entryID)
		c.notifyEntry(entryID)
	}
	c.appendAndNotify(OriginError, text)
}

// Inbound plumbing.

// handleEnvelope dispatches one inbound envelope from the manager.
// Runs on the channel's read goroutine (or a fallback exchange goroutine).
func (c *Coordinator) handleEnvelope(env protocol.Envelope) {
	switch env.Type {
	case protocol.MessageTypeCommandResult:
		res, err := env.DecodeCommandResult()
		if err != nil {
			c.logger.Printf("session: dropping malformed result: %v", err)
			return
		}
		c.router.HandleResult(res)

	case protocol.MessageTypeCommandStream:
		chunk, err := env.DecodeCommandStream()
		if err != nil {
			c.logger.Printf("session: dropping malformed stream chunk: %v", err)
			return
		}
		c.router.HandleStream(chunk)

	case protocol.MessageTypeTelemetry:
		tel, err := env.DecodeTelemetry()
		if err != nil {
			c.logger.Printf("session: dropping malformed telemetry: %v", err)
			return
		}
		c.applyTelemetry(tel)

	default:
		c.logger.Printf("session: dropping unhandled message type %q", env.Type)
	}
}

// applyTelemetry replaces the snapshot wholesale and notifies subscribers.
func (c *Coordinator) applyTelemetry(tel protocol.TelemetryPayload) {
	snap := Snapshot{
		CPU:          tel.CPU,
		Memory:       tel.Memory,
		Disk:         tel.Disk,
		NetworkState: tel.NetworkState,
		CapturedAt:   time.Now(),
	}

	c.mu.Lock()
	c.snapshot = snap
	c.hasSnap = true
	subs := make([]func(Snapshot), len(c.snapshotSubs))
	copy(subs, c.snapshotSubs)
	c.mu.Unlock()

	for _, fn := range subs {
		fn(snap)
	}
}

// handleState reacts to connection transitions: subscribers are notified
// and the open/offline edges get a cue.
func (c *Coordinator) handleState(state conn.State) {
	c.mu.Lock()
	subs := make([]func(conn.State), len(c.stateSubs))
	copy(subs, c.stateSubs)
	c.mu.Unlock()

	for _, fn := range subs {
		fn(state)
	}

	switch state {
	case conn.StateOpen:
		c.PlayFeedback(feedback.EventConfirm)
	case conn.StateOffline:
		c.PlayFeedback(feedback.EventError)
	}
}

// refreshSection populates a section when it becomes active. The system
// section asks the agent for a fresh telemetry push; the request is
// best-effort, so an unusable transport only means the section shows the
// last snapshot.
func (c *Coordinator) refreshSection(s section.Section) {
	if s != section.System {
		return
	}
	if err := c.manager.Send(protocol.NewTelemetryRequestMessage()); err != nil {
		c.logger.Printf("session: telemetry refresh skipped: %v", err)
	}
}

// takeStreaming removes and returns the streaming entry id for a command.
func (c *Coordinator) takeStreaming(commandID string) (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entryID, ok := c.streaming[commandID]
	if ok {
		delete(c.streaming, commandID)
	}
	return entryID, ok
}

// appendAndNotify appends a complete entry and notifies subscribers.
func (c *Coordinator) appendAndNotify(origin Origin, text string) {
	id := c.transcript.Append(origin, text)
	c.notifyEntry(id)
}

// notifyEntry sends the current form of an entry to transcript subscribers.
func (c *Coordinator) notifyEntry(id int64) {
	entry, ok := c.transcript.Entry(id)
	if !ok {
		return
	}

	c.mu.Lock()
	subs := make([]func(Entry), len(c.transcriptSubs))
	copy(subs, c.transcriptSubs)
	c.mu.Unlock()

	for _, fn := range subs {
		fn(entry)
	}
}
