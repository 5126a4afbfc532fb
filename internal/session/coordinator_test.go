package session

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/veyra-ai/console/internal/conn"
	"github.com/veyra-ai/console/internal/feedback"
	"github.com/veyra-ai/console/internal/protocol"
	"github.com/veyra-ai/console/internal/section"
)

// stubChannel records outbound messages; inbound traffic is injected through
// the captured onMessage callback.
type stubChannel struct {
	mu   sync.Mutex
	sent []protocol.Message
}

func (s *stubChannel) Send(msg protocol.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, msg)
	return nil
}

func (s *stubChannel) Close() error { return nil }

func (s *stubChannel) sentMessages() []protocol.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]protocol.Message, len(s.sent))
	copy(out, s.sent)
	return out
}

// agentStub wires a fake dialer and lets tests play the agent's side.
type agentStub struct {
	mu        sync.Mutex
	channel   *stubChannel
	onMessage func(protocol.Envelope)
	onClosed  func(error)
	dialErr   error
}

func (a *agentStub) dialer() conn.Dialer {
	return func(onMessage func(protocol.Envelope), onClosed func(error)) (conn.Channel, error) {
		a.mu.Lock()
		defer a.mu.Unlock()
		if a.dialErr != nil {
			return nil, a.dialErr
		}
		a.channel = &stubChannel{}
		a.onMessage = onMessage
		a.onClosed = onClosed
		return a.channel, nil
	}
}

// respond injects an inbound envelope as if the agent sent it.
func (a *agentStub) respond(t *testing.T, msgType protocol.MessageType, payload interface{}) {
	t.Helper()
	a.mu.Lock()
	onMessage := a.onMessage
	a.mu.Unlock()
	if onMessage == nil {
		t.Fatal("no open channel to respond on")
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	onMessage(protocol.Envelope{Type: msgType, Payload: raw})
}

func (a *agentStub) dropConnection(t *testing.T) {
	t.Helper()
	a.mu.Lock()
	onClosed := a.onClosed
	a.mu.Unlock()
	if onClosed == nil {
		t.Fatal("no open channel to drop")
	}
	onClosed(errors.New("connection reset"))
}

// lastCommandID returns the id of the most recent command.request sent.
func (a *agentStub) lastCommandID(t *testing.T) string {
	t.Helper()
	a.mu.Lock()
	ch := a.channel
	a.mu.Unlock()
	msgs := ch.sentMessages()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Type == protocol.MessageTypeCommandRequest {
			return msgs[i].ID
		}
	}
	t.Fatal("no command.request was sent")
	return ""
}

// memPrefs is an in-memory PreferenceStore.
type memPrefs struct {
	mu      sync.Mutex
	section string
	theme   string
}

func (m *memPrefs) SaveLastSection(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.section = name
	return nil
}

func (m *memPrefs) SaveTheme(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.theme = name
	return nil
}

func newTestCoordinator(agent *agentStub, prefs PreferenceStore) *Coordinator {
	manager := conn.NewManager(conn.ManagerConfig{
		Dialer:         agent.dialer(),
		MaxAttempts:    3,
		BackoffBase:    5 * time.Millisecond,
		BackoffCeiling: 20 * time.Millisecond,
	})
	return New(CoordinatorConfig{
		Manager:        manager,
		Prefs:          prefs,
		InitialSection: section.Console,
		Theme:          "dark",
		RequestTimeout: time.Second,
	})
}

func entriesOf(c *Coordinator, origin Origin) []Entry {
	var out []Entry
	for _, e := range c.Transcript() {
		if e.Origin == origin {
			out = append(out, e)
		}
	}
	return out
}

func TestCoordinatorRemoteCommandRoundTrip(t *testing.T) {
	agent := &agentStub{}
	c := newTestCoordinator(agent, nil)
	c.Start()
	defer c.Stop()

	c.Submit("open notepad")

	commandID := agent.lastCommandID(t)
	agent.respond(t, protocol.MessageTypeCommandResult, protocol.CommandResultPayload{
		CommandID:  commandID,
		Success:    true,
		ResultText: "opened",
	})

	users := entriesOf(c, OriginUser)
	if len(users) != 1 || users[0].Text != "open notepad" {
		t.Fatalf("expected user entry for submission, got %v", users)
	}
	agents := entriesOf(c, OriginAgent)
	if len(agents) != 1 || agents[0].Text != "opened" {
		t.Fatalf("expected agent entry 'opened', got %v", agents)
	}
}

func TestCoordinatorStreamingResponse(t *testing.T) {
	agent := &agentStub{}
	c := newTestCoordinator(agent, nil)
	c.Start()
	defer c.Stop()

	c.Submit("tell me a story")
	commandID := agent.lastCommandID(t)

	agent.respond(t, protocol.MessageTypeCommandStream, protocol.CommandStreamPayload{
		CommandID: commandID, Chunk: "once ",
	})
	agent.respond(t, protocol.MessageTypeCommandStream, protocol.CommandStreamPayload{
		CommandID: commandID, Chunk: "upon ",
	})
	agent.respond(t, protocol.MessageTypeCommandStream, protocol.CommandStreamPayload{
		CommandID: commandID, Chunk: "a time", Done: true,
	})

	agents := entriesOf(c, OriginAgent)
	if len(agents) != 1 {
		t.Fatalf("expected one growing agent entry, got %d", len(agents))
	}
	if agents[0].Text != "once upon a time" {
		t.Errorf("expected accumulated text, got %q", agents[0].Text)
	}
	if !agents[0].Complete {
		t.Error("agent entry not complete after final chunk")
	}
}

func TestCoordinatorLocalCommands(t *testing.T) {
	agent := &agentStub{}
	prefs := &memPrefs{}
	c := newTestCoordinator(agent, prefs)
	c.Start()
	defer c.Stop()

	c.Submit("status")
	systems := entriesOf(c, OriginSystem)
	if len(systems) != 1 || !strings.Contains(systems[0].Text, "connection: open") {
		t.Fatalf("expected status entry, got %v", systems)
	}

	c.Submit("open settings")
	if c.ActiveSection() != section.Settings {
		t.Errorf("expected active section settings, got %s", c.ActiveSection())
	}
	if prefs.section != "settings" {
		t.Errorf("section choice not persisted, got %q", prefs.section)
	}

	c.Submit("theme light")
	if c.Theme() != "light" {
		t.Errorf("expected theme light, got %s", c.Theme())
	}
	if prefs.theme != "light" {
		t.Errorf("theme choice not persisted, got %q", prefs.theme)
	}

	c.Submit("clear")
	entries := c.Transcript()
	if len(entries) != 1 || entries[0].Origin != OriginSystem {
		t.Errorf("expected only the clear notice after clearing, got %v", entries)
	}
}

func TestCoordinatorTelemetryReplacesSnapshot(t *testing.T) {
	agent := &agentStub{}
	c := newTestCoordinator(agent, nil)
	c.Start()
	defer c.Stop()

	if _, ok := c.Snapshot(); ok {
		t.Fatal("expected no snapshot before the first push")
	}

	var mu sync.Mutex
	var pushes []Snapshot
	c.SubscribeSnapshot(func(s Snapshot) {
		mu.Lock()
		pushes = append(pushes, s)
		mu.Unlock()
	})

	agent.respond(t, protocol.MessageTypeTelemetry, protocol.TelemetryPayload{
		CPU: 40, Memory: 60, Disk: 70, NetworkState: "online",
	})
	agent.respond(t, protocol.MessageTypeTelemetry, protocol.TelemetryPayload{
		CPU: 90, NetworkState: "degraded",
	})

	snap, ok := c.Snapshot()
	if !ok {
		t.Fatal("expected a snapshot")
	}
	// Wholesale replacement: the second push's zero fields win too.
	if snap.CPU != 90 || snap.Memory != 0 || snap.Disk != 0 || snap.NetworkState != "degraded" {
		t.Errorf("snapshot not replaced wholesale: %+v", snap)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(pushes) != 2 {
		t.Errorf("expected 2 snapshot notifications, got %d", len(pushes))
	}
}

func TestCoordinatorSystemSectionRequestsTelemetry(t *testing.T) {
	agent := &agentStub{}
	c := newTestCoordinator(agent, nil)
	c.Start()
	defer c.Stop()

	if err := c.Navigate("system"); err != nil {
		t.Fatalf("navigate failed: %v", err)
	}

	for _, msg := range agent.channel.sentMessages() {
		if msg.Type == protocol.MessageTypeTelemetryRequest {
			return
		}
	}
	t.Error("expected a telemetry.request after opening the system section")
}

func TestCoordinatorConnectionLossSettlesPending(t *testing.T) {
	agent := &agentStub{}
	c := newTestCoordinator(agent, nil)
	c.Start()
	defer c.Stop()

	var mu sync.Mutex
	var states []conn.State
	c.SubscribeConnectionState(func(s conn.State) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	})

	c.Submit("long running command")
	agent.dropConnection(t)

	errsEntries := entriesOf(c, OriginError)
	if len(errsEntries) != 1 {
		t.Fatalf("expected one disconnected entry, got %v", errsEntries)
	}
	if !strings.Contains(errsEntries[0].Text, "connection to agent lost") {
		t.Errorf("unexpected error text: %q", errsEntries[0].Text)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(states) == 0 || states[0] != conn.StateReconnecting {
		t.Errorf("expected reconnecting notification first, got %v", states)
	}
}

func TestCoordinatorFeedbackNeverBlocksSession(t *testing.T) {
	agent := &agentStub{}
	manager := conn.NewManager(conn.ManagerConfig{
		Dialer:      agent.dialer(),
		MaxAttempts: 3,
		BackoffBase: 5 * time.Millisecond,
	})
	c := New(CoordinatorConfig{
		Manager: manager,
		// Bell writer is nil and no providers exist: every tier is missing.
		Resolver:       feedback.NewResolver(nil, nil, nil, nil),
		RequestTimeout: time.Second,
	})
	c.Start()
	defer c.Stop()

	// Cue playback has no tier to land on; the session must carry on.
	c.PlayFeedback(feedback.EventConfirm)
	c.Submit("status")
	if len(entriesOf(c, OriginSystem)) != 1 {
		t.Error("session stalled after feedback failure")
	}
}
