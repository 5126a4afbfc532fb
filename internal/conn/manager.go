// Package conn owns the connection lifecycle to the remote agent: the
// resilience state machine, the retry schedule, the offline health probe,
// and the queue of commands waiting for the channel to open. It sits between
// the raw transports and the session coordinator.
package conn

import (
	"encoding/json"
	"io"
	"log"
	"sync"
	"time"

	apperrors "github.com/veyra-ai/console/internal/errors"
	"github.com/veyra-ai/console/internal/protocol"
)

// State is the connection lifecycle state visible to the rest of the console.
type State string

const (
	// StateIdle means no connection exists and none is being attempted.
	StateIdle State = "idle"

	// StateConnecting means a dial attempt is in flight.
	StateConnecting State = "connecting"

	// StateOpen means the primary channel is established and usable.
	StateOpen State = "open"

	// StateClosing means a graceful local shutdown is in progress.
	StateClosing State = "closing"

	// StateReconnecting means the last attempt failed and a retry is
	// scheduled after a backoff delay.
	StateReconnecting State = "reconnecting"

	// StateOffline means the retry budget is exhausted. Commands route over
	// the fallback transport and a background probe watches for recovery.
	StateOffline State = "offline"
)

// defaultQueueLimit bounds the commands held while a connection attempt is
// in flight. Overflow fails the submit rather than growing without bound.
const defaultQueueLimit = 64

// Channel is one open connection to the agent, as the manager sees it.
// Satisfied by *transport.Channel.
type Channel interface {
	Send(msg protocol.Message) error
	Close() error
}

// Dialer performs one connection attempt. Implementations must deliver every
// inbound envelope to onMessage and invoke onClosed exactly once after a
// successful open ends (nil for a locally requested close, non-nil for a
// loss). On a failed attempt onClosed is never invoked.
type Dialer func(onMessage func(protocol.Envelope), onClosed func(error)) (Channel, error)

// FallbackTransport is the secondary request/response path used while
// offline. Satisfied by *transport.Fallback.
type FallbackTransport interface {
	Exchange(req protocol.CommandRequestPayload) (protocol.CommandResultPayload, error)
	Healthy() error
}

// ManagerConfig holds the dependencies and tuning for a Manager.
type ManagerConfig struct {
	// Dialer opens primary channel attempts. Required.
	Dialer Dialer

	// Fallback routes commands while offline and backs the health probe.
	// Nil disables both; offline submits then fail immediately.
	Fallback FallbackTransport

	// MaxAttempts is the consecutive failure budget before going offline.
	// Zero means 5.
	MaxAttempts int

	// BackoffBase is the initial retry delay. Zero means 500ms.
	BackoffBase time.Duration

	// BackoffCeiling caps the retry delay. Zero means 30s.
	BackoffCeiling time.Duration

	// ProbeInterval is the fixed cadence of the offline health probe.
	// Zero means 15s.
	ProbeInterval time.Duration

	// QueueLimit bounds commands queued during connection attempts.
	// Zero means 64.
	QueueLimit int

	// Logger receives lifecycle diagnostics. Nil discards them.
	Logger *log.Logger
}

// Manager drives the connection state machine. All transitions are
// serialized under one mutex; state listeners run outside the lock, on the
// goroutine that caused the transition, so they may call back into the
// manager without deadlocking.
type Manager struct {
	mu      sync.Mutex
	state   State
	policy  *RetryPolicy
	channel Channel

	// gen identifies the current connection attempt. Callbacks from an
	// abandoned channel carry a stale gen and are ignored.
	gen uint64

	queue      []protocol.CommandRequestPayload
	queueLimit int

	retryTimer *time.Timer
	probeStop  chan struct{}

	dialer        Dialer
	fallback      FallbackTransport
	probeInterval time.Duration

	onMessage func(protocol.Envelope)
	listeners []func(State)

	logger *log.Logger
}

// NewManager creates a manager in the Idle state. Connect starts it.
func NewManager(cfg ManagerConfig) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	base := cfg.BackoffBase
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	ceiling := cfg.BackoffCeiling
	if ceiling <= 0 {
		ceiling = 30 * time.Second
	}
	probeInterval := cfg.ProbeInterval
	if probeInterval <= 0 {
		probeInterval = 15 * time.Second
	}
	queueLimit := cfg.QueueLimit
	if queueLimit <= 0 {
		queueLimit = defaultQueueLimit
	}

	return &Manager{
		state:         StateIdle,
		policy:        NewRetryPolicy(maxAttempts, base, ceiling),
		queueLimit:    queueLimit,
		dialer:        cfg.Dialer,
		fallback:      cfg.Fallback,
		probeInterval: probeInterval,
		logger:        logger,
	}
}

// SetMessageHandler installs the handler for inbound envelopes from the
// current channel and for results synthesized from fallback exchanges.
// Must be called before Connect.
func (m *Manager) SetMessageHandler(handler func(protocol.Envelope)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onMessage = handler
}

// AddStateListener registers a callback invoked on every state transition.
// Listeners run synchronously on the transitioning goroutine, outside the
// manager's lock.
func (m *Manager) AddStateListener(listener func(State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, listener)
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connect starts a connection attempt. It is a no-op while an attempt is
// already in flight or the channel is open. From Offline it resets the
// retry counter and stops the probe; from Reconnecting it preempts the
// scheduled retry and attempts immediately.
func (m *Manager) Connect() {
	m.mu.Lock()
	switch m.state {
	case StateConnecting, StateOpen:
		// Repeated connects are idempotent.
		m.mu.Unlock()
		return
	case StateOffline:
		// An explicit reconnect thaws the frozen retry counter.
		m.policy.Reset()
		m.stopProbeLocked()
	case StateReconnecting:
		m.stopRetryLocked()
	}
	emit := m.setStateLocked(StateConnecting)
	m.mu.Unlock()

	if emit != nil {
		emit()
	}
	m.dial()
}

// Disconnect shuts the connection down gracefully and returns the manager
// to Idle. No retry is scheduled and queued commands are dropped.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.stopRetryLocked()
	m.stopProbeLocked()

	if m.state == StateOpen {
		ch := m.channel
		m.channel = nil
		m.gen++ // the channel's own closed callback is now stale
		emitClosing := m.setStateLocked(StateClosing)
		m.mu.Unlock()

		if emitClosing != nil {
			emitClosing()
		}
		if ch != nil {
			ch.Close()
		}

		m.mu.Lock()
		emitIdle := m.setStateLocked(StateIdle)
		m.mu.Unlock()
		if emitIdle != nil {
			emitIdle()
		}
		return
	}

	m.queue = nil
	m.gen++ // abandon any in-flight dial
	emit := m.setStateLocked(StateIdle)
	m.mu.Unlock()
	if emit != nil {
		emit()
	}
}

// Submit routes one command according to the current state: sent directly
// when Open, queued while an attempt is in flight, exchanged over the
// fallback transport when Offline, and rejected when Idle or Closing.
func (m *Manager) Submit(req protocol.CommandRequestPayload) error {
	m.mu.Lock()
	switch m.state {
	case StateOpen:
		ch := m.channel
		m.mu.Unlock()
		return ch.Send(commandMessage(req))

	case StateConnecting, StateReconnecting:
		if len(m.queue) >= m.queueLimit {
			m.mu.Unlock()
			return apperrors.QueueFull(req.CommandID)
		}
		m.queue = append(m.queue, req)
		m.mu.Unlock()
		return nil

	case StateOffline:
		fb := m.fallback
		m.mu.Unlock()
		if fb == nil {
			return apperrors.TransportNotOpen(string(StateOffline))
		}
		go m.exchangeFallback(fb, req)
		return nil

	default:
		state := m.state
		m.mu.Unlock()
		return apperrors.TransportNotOpen(string(state))
	}
}

// Send delivers a non-command message on the open channel.
// Unlike Submit it has no queue or fallback path; anything other than an
// open channel fails immediately.
func (m *Manager) Send(msg protocol.Message) error {
	m.mu.Lock()
	state := m.state
	ch := m.channel
	m.mu.Unlock()

	if state != StateOpen || ch == nil {
		return apperrors.TransportNotOpen(string(state))
	}
	return ch.Send(msg)
}

// dial performs one connection attempt. Called with the state already set
// to Connecting; runs on the goroutine that caused the transition.
func (m *Manager) dial() {
	m.mu.Lock()
	if m.state != StateConnecting {
		m.mu.Unlock()
		return
	}
	m.gen++
	gen := m.gen
	dialer := m.dialer
	m.mu.Unlock()

	ch, err := dialer(
		func(env protocol.Envelope) { m.deliver(gen, env) },
		func(closeErr error) { m.handleClosed(gen, closeErr) },
	)

	m.mu.Lock()
	if m.state != StateConnecting || gen != m.gen {
		// Disconnect raced the dial; abandon the result.
		m.mu.Unlock()
		if err == nil && ch != nil {
			ch.Close()
		}
		return
	}

	if err != nil {
		emit := m.failLocked()
		m.mu.Unlock()
		m.logger.Printf("conn: connection attempt failed: %v", err)
		if emit != nil {
			emit()
		}
		return
	}

	m.channel = ch
	m.policy.Reset()
	queued := m.queue
	m.queue = nil
	emit := m.setStateLocked(StateOpen)
	m.mu.Unlock()

	if emit != nil {
		emit()
	}

	// Flush commands queued while the attempt was in flight, in order.
	for _, pending := range queued {
		if sendErr := ch.Send(commandMessage(pending)); sendErr != nil {
			m.logger.Printf("conn: failed to flush queued command %s: %v",
				pending.CommandID, sendErr)
		}
	}
}

// failLocked records a failed attempt or an unexpected loss and moves to
// Reconnecting with a scheduled retry, or to Offline once the budget is
// exhausted. Caller holds the lock; the returned closure (possibly nil)
// emits the transition after unlock.
func (m *Manager) failLocked() func() {
	delay, exhausted := m.policy.RecordFailure()
	if exhausted {
		m.logger.Printf("conn: retry budget exhausted after %d attempts, going offline",
			m.policy.Attempts())
		emit := m.setStateLocked(StateOffline)
		m.startProbeLocked()
		return emit
	}

	m.logger.Printf("conn: retrying in %s (attempt %d)", delay, m.policy.Attempts())
	m.retryTimer = time.AfterFunc(delay, m.retryFire)
	return m.setStateLocked(StateReconnecting)
}

// retryFire runs when the backoff delay elapses.
func (m *Manager) retryFire() {
	m.mu.Lock()
	if m.state != StateReconnecting {
		// Disconnect or a manual Connect won the race.
		m.mu.Unlock()
		return
	}
	m.retryTimer = nil
	emit := m.setStateLocked(StateConnecting)
	m.mu.Unlock()

	if emit != nil {
		emit()
	}
	m.dial()
}

// handleClosed is the channel's terminal callback. An unexpected loss of an
// open channel enters the retry path; everything else is either a graceful
// shutdown already handled by Disconnect or a stale callback.
func (m *Manager) handleClosed(gen uint64, err error) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.channel = nil

	if m.state != StateOpen {
		m.mu.Unlock()
		return
	}

	if err == nil {
		// The agent closed an open channel cleanly without us asking;
		// from this side that is still a loss.
		err = apperrors.New(apperrors.CodeTransportClosed, "connection closed by agent")
	}
	emit := m.failLocked()
	m.mu.Unlock()

	m.logger.Printf("conn: connection lost: %v", err)
	if emit != nil {
		emit()
	}
}

// deliver forwards an inbound envelope unless it arrived from an abandoned
// channel.
func (m *Manager) deliver(gen uint64, env protocol.Envelope) {
	m.mu.Lock()
	stale := gen != m.gen
	handler := m.onMessage
	m.mu.Unlock()

	if stale || handler == nil {
		return
	}
	handler(env)
}

// exchangeFallback runs one offline command over the fallback transport and
// feeds the outcome back through the normal inbound message path, so the
// layers above see no difference between channel and fallback results.
func (m *Manager) exchangeFallback(fb FallbackTransport, req protocol.CommandRequestPayload) {
	result, err := fb.Exchange(req)
	if err != nil {
		m.logger.Printf("conn: fallback exchange for %s failed: %v", req.CommandID, err)
		result = protocol.CommandResultPayload{
			CommandID:  req.CommandID,
			Success:    false,
			ResultText: "agent unreachable over fallback transport",
			ErrorCode:  apperrors.CodeTransportFailure,
		}
	}

	payload, marshalErr := json.Marshal(result)
	if marshalErr != nil {
		m.logger.Printf("conn: failed to encode fallback result for %s: %v",
			req.CommandID, marshalErr)
		return
	}

	m.mu.Lock()
	handler := m.onMessage
	m.mu.Unlock()
	if handler != nil {
		handler(protocol.Envelope{
			Type:    protocol.MessageTypeCommandResult,
			ID:      result.CommandID,
			Payload: payload,
		})
	}
}

// startProbeLocked launches the offline health probe. Caller holds the lock.
func (m *Manager) startProbeLocked() {
	if m.probeStop != nil || m.fallback == nil {
		return
	}
	stop := make(chan struct{})
	m.probeStop = stop
	go m.probeLoop(stop)
}

// stopProbeLocked stops the probe if running. Caller holds the lock.
func (m *Manager) stopProbeLocked() {
	if m.probeStop != nil {
		close(m.probeStop)
		m.probeStop = nil
	}
}

// probeLoop checks agent reachability at a fixed cadence while offline.
// The first successful probe triggers a reconnect and ends the loop.
func (m *Manager) probeLoop(stop chan struct{}) {
	ticker := time.NewTicker(m.probeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := m.fallback.Healthy(); err != nil {
				m.logger.Printf("conn: offline probe failed: %v", err)
				continue
			}
			m.logger.Printf("conn: agent reachable again, reconnecting")
			m.Connect()
			return
		}
	}
}

// stopRetryLocked cancels a scheduled retry if one is pending.
// Caller holds the lock.
func (m *Manager) stopRetryLocked() {
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
}

// setStateLocked transitions to the new state and returns a closure that
// notifies listeners, to be run after the lock is released. Returns nil when
// the state is unchanged. Caller holds the lock.
func (m *Manager) setStateLocked(next State) func() {
	if m.state == next {
		return nil
	}
	prev := m.state
	m.state = next

	listeners := make([]func(State), len(m.listeners))
	copy(listeners, m.listeners)
	logger := m.logger

	return func() {
		logger.Printf("conn: %s -> %s", prev, next)
		for _, listener := range listeners {
			listener(next)
		}
	}
}

// commandMessage wraps a command request in its wire envelope, preserving
// the id assigned at routing time.
func commandMessage(req protocol.CommandRequestPayload) protocol.Message {
	return protocol.Message{
		Type:    protocol.MessageTypeCommandRequest,
		ID:      req.CommandID,
		Payload: req,
	}
}
