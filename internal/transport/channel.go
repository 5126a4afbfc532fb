// Package transport owns the two transports to the remote agent: the
// primary persistent WebSocket channel and the secondary HTTP fallback.
// A Channel represents exactly one connection attempt; reconnection policy
// lives above it in the conn package.
package transport

import (
	"encoding/json"
	"io"
	"log"
	"sync"
	"time"

	// gorilla/websocket is the most popular WebSocket library for Go.
	// It provides a complete implementation of the WebSocket protocol
	// with support for reading/writing messages, ping/pong, and close handling.
	"github.com/gorilla/websocket"

	apperrors "github.com/veyra-ai/console/internal/errors"
	"github.com/veyra-ai/console/internal/protocol"
)

// sendBufferSize is the buffer size of the outbound message channel.
// It absorbs short bursts without blocking callers; a full buffer fails
// the send rather than stalling the coordinator.
const sendBufferSize = 64

const (
	writeDeadline = 10 * time.Second
	readDeadline  = 60 * time.Second
	pingInterval  = 30 * time.Second
)

// ChannelConfig holds the dependencies for one connection attempt.
type ChannelConfig struct {
	// URL is the agent's WebSocket endpoint (ws:// or wss://).
	URL string

	// DialTimeout bounds the handshake. Zero means 10 seconds.
	DialTimeout time.Duration

	// OnMessage is invoked for every decoded inbound envelope.
	// It is called from the channel's read goroutine.
	OnMessage func(protocol.Envelope)

	// OnClosed is invoked exactly once when the connection ends.
	// The error is nil for a locally initiated graceful close and non-nil
	// when the connection drops unexpectedly.
	OnClosed func(error)

	// Logger receives channel diagnostics. Nil discards them.
	Logger *log.Logger
}

// Channel is one open WebSocket connection to the agent.
// It runs a read pump and a write pump until closed; all lifecycle
// reporting goes through the configured callbacks.
type Channel struct {
	conn   *websocket.Conn
	send   chan protocol.Message
	done   chan struct{}
	logger *log.Logger

	onMessage func(protocol.Envelope)
	onClosed  func(error)

	// closeOnce guards the done channel; notifyOnce guards OnClosed so the
	// manager sees exactly one terminal event per connection attempt.
	closeOnce  sync.Once
	notifyOnce sync.Once

	// graceful records that Close was requested locally, so the read pump's
	// resulting error is reported as a clean shutdown rather than a loss.
	mu       sync.Mutex
	graceful bool
}

// Dial opens a new channel to the agent.
// On success the channel's pumps are already running and inbound messages
// flow to OnMessage. On failure no goroutines are started and OnClosed is
// never invoked.
func Dial(cfg ChannelConfig) (*Channel, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	timeout := cfg.DialTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	dialer := websocket.Dialer{HandshakeTimeout: timeout}
	conn, _, err := dialer.Dial(cfg.URL, nil)
	if err != nil {
		return nil, apperrors.TransportFailure("dial", err)
	}

	c := &Channel{
		conn:      conn,
		send:      make(chan protocol.Message, sendBufferSize),
		done:      make(chan struct{}),
		logger:    logger,
		onMessage: cfg.OnMessage,
		onClosed:  cfg.OnClosed,
	}

	go c.writePump()
	go c.readPump()

	return c, nil
}

// Send queues a message for delivery on this channel.
// It fails fast when the channel is closed or the outbound buffer is full;
// it never blocks the caller on a slow connection.
func (c *Channel) Send(msg protocol.Message) error {
	select {
	case <-c.done:
		return apperrors.New(apperrors.CodeTransportClosed, "channel is closed")
	default:
	}

	select {
	case c.send <- msg:
		return nil
	case <-c.done:
		return apperrors.New(apperrors.CodeTransportClosed, "channel is closed")
	default:
		return apperrors.New(apperrors.CodeTransportFailure, "outbound buffer full")
	}
}

// Close shuts the channel down gracefully.
// The write pump sends a close frame and the read pump reports a clean
// shutdown (OnClosed with nil) rather than a connection loss.
func (c *Channel) Close() error {
	c.mu.Lock()
	c.graceful = true
	c.mu.Unlock()

	c.closeSend()
	return nil
}

// closeSend safely signals the channel to shut down exactly once.
// This is safe to call multiple times from different goroutines.
// We only close the done channel (not send) to avoid racing with
// ongoing send operations. All senders check done before sending.
func (c *Channel) closeSend() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// notifyClosed reports the terminal event for this connection attempt.
// A graceful local close always reports nil regardless of the read error
// the close frame produced.
func (c *Channel) notifyClosed(err error) {
	c.notifyOnce.Do(func() {
		c.mu.Lock()
		graceful := c.graceful
		c.mu.Unlock()

		if graceful {
			err = nil
		}
		if c.onClosed != nil {
			c.onClosed(err)
		}
	})
}

// writePump continuously sends messages from the send channel to the
// WebSocket. It also sends periodic pings to keep the connection alive.
func (c *Channel) writePump() {
	// Pings help detect dead connections and keep NAT/firewalls happy.
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			// Shutdown signaled; send close frame and exit.
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case msg := <-c.send:
			// Set a write deadline to prevent hanging on slow connections.
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))

			data, err := json.Marshal(msg)
			if err != nil {
				c.logger.Printf("transport: failed to marshal %s message: %v", msg.Type, err)
				continue
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Printf("transport: write error: %v", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads messages from the WebSocket until the connection ends,
// decoding envelopes and handing them to OnMessage. When the loop exits it
// reports the terminal event through OnClosed.
func (c *Channel) readPump() {
	var lossErr error

	defer func() {
		// Signal the write pump to exit, then report exactly once.
		c.closeSend()
		c.notifyClosed(lossErr)
	}()

	// Max message size: 512KB. Agent responses are text; anything larger
	// indicates a protocol violation.
	c.conn.SetReadLimit(512 * 1024)
	c.conn.SetReadDeadline(time.Now().Add(readDeadline))

	// Reset the read deadline whenever the agent answers our ping.
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure) {
				c.logger.Printf("transport: read error: %v", err)
			}
			lossErr = apperrors.TransportFailure("read", err)
			return
		}

		// Any inbound traffic proves the connection is alive.
		c.conn.SetReadDeadline(time.Now().Add(readDeadline))

		env, err := protocol.DecodeEnvelope(data)
		if err != nil {
			c.logger.Printf("transport: dropping malformed message: %v", err)
			continue
		}

		if env.Type == protocol.MessageTypeHeartbeat {
			// Keep-alive only; nothing to dispatch.
			continue
		}

		if c.onMessage != nil {
			c.onMessage(env)
		}
	}
}
