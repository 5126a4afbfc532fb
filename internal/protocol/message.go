// Package protocol defines the wire format shared with the remote agent.
// All messages are JSON envelopes of the form {type, id, payload}; the
// payload structure depends on the type. The same payload shapes are used
// by the fallback HTTP transport.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType identifies the kind of message exchanged with the agent.
// Each type has a specific payload structure defined below.
type MessageType string

const (
	// MessageTypeCommandRequest carries a user command to the agent.
	// Payload: CommandRequestPayload
	MessageTypeCommandRequest MessageType = "command.request"

	// MessageTypeCommandResult is the agent's terminal answer to a command.
	// Payload: CommandResultPayload
	MessageTypeCommandResult MessageType = "command.result"

	// MessageTypeCommandStream carries an incremental slice of an agent
	// response. Chunks for the same command id arrive in order; the final
	// chunk sets Done.
	// Payload: CommandStreamPayload
	MessageTypeCommandStream MessageType = "command.stream"

	// MessageTypeTelemetry is pushed by the agent without solicitation.
	// Each push replaces the previous system snapshot wholesale.
	// Payload: TelemetryPayload
	MessageTypeTelemetry MessageType = "telemetry"

	// MessageTypeTelemetryRequest asks the agent for a fresh telemetry push.
	// Sent when a section that displays the snapshot becomes active.
	// Payload: none (empty object)
	MessageTypeTelemetryRequest MessageType = "telemetry.request"

	// MessageTypeHeartbeat is used to keep the connection alive.
	// Payload: none (empty object)
	MessageTypeHeartbeat MessageType = "heartbeat"
)

// Message is the outbound envelope for all agent messages.
// Every message has a type and an optional ID for request/response
// correlation. The Payload field contains type-specific data.
type Message struct {
	// Type identifies what kind of message this is.
	Type MessageType `json:"type"`

	// ID is an optional message identifier for correlation.
	ID string `json:"id,omitempty"`

	// Payload contains the message-specific data.
	// The structure depends on the Type field.
	Payload interface{} `json:"payload"`
}

// Envelope is the inbound form of a message: the payload is kept raw until
// the type is known, then decoded into the matching payload struct.
type Envelope struct {
	Type    MessageType     `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// CommandRequestPayload carries a remote command submission.
type CommandRequestPayload struct {
	// CommandID is the caller-assigned correlation id (UUID).
	CommandID string `json:"command_id"`

	// Text is the raw command text as the user submitted it.
	Text string `json:"text"`

	// IssuedAt is when the command was submitted (Unix milliseconds).
	IssuedAt int64 `json:"issued_at"`
}

// CommandResultPayload is the agent's terminal answer to a command.
type CommandResultPayload struct {
	// CommandID correlates this result with its command.request.
	CommandID string `json:"command_id"`

	// Success indicates whether the agent executed the command.
	Success bool `json:"success"`

	// ResultText is the agent's response text (or failure description).
	ResultText string `json:"result_text"`

	// ErrorCode is a stable agent-side error code if Success is false.
	ErrorCode string `json:"error_code,omitempty"`
}

// CommandStreamPayload is one incremental slice of an agent response.
type CommandStreamPayload struct {
	// CommandID correlates this chunk with its command.request.
	CommandID string `json:"command_id"`

	// Chunk is the next piece of response text.
	Chunk string `json:"chunk"`

	// Done marks the final chunk; the response is complete after it.
	Done bool `json:"done"`
}

// TelemetryPayload carries a system snapshot pushed by the agent.
// Pushes replace the previous snapshot wholesale; fields from different
// pushes are never merged.
type TelemetryPayload struct {
	// CPU is the agent host's CPU utilization in percent (0-100).
	CPU float64 `json:"cpu"`

	// Memory is the agent host's memory utilization in percent (0-100).
	Memory float64 `json:"memory"`

	// Disk is the agent host's disk utilization in percent (0-100).
	Disk float64 `json:"disk"`

	// NetworkState describes the agent's network reachability
	// (e.g., "online", "degraded", "offline").
	NetworkState string `json:"network_state"`
}

// NewCommandRequestMessage creates a command.request envelope.
// This is a convenience function to ensure consistent message creation.
func NewCommandRequestMessage(commandID, text string) Message {
	return Message{
		Type: MessageTypeCommandRequest,
		ID:   commandID,
		Payload: CommandRequestPayload{
			CommandID: commandID,
			Text:      text,
			IssuedAt:  time.Now().UnixMilli(),
		},
	}
}

// NewTelemetryRequestMessage creates a telemetry.request envelope.
func NewTelemetryRequestMessage() Message {
	return Message{
		Type:    MessageTypeTelemetryRequest,
		Payload: struct{}{},
	}
}

// NewHeartbeatMessage creates a heartbeat envelope for keep-alive.
func NewHeartbeatMessage() Message {
	return Message{
		Type:    MessageTypeHeartbeat,
		Payload: struct{}{},
	}
}

// DecodeEnvelope parses raw wire data into an Envelope.
// The payload stays raw; use the typed Decode helpers once the type is known.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("decode envelope: missing type")
	}
	return env, nil
}

// DecodeCommandResult decodes the envelope payload as a CommandResultPayload.
func (e Envelope) DecodeCommandResult() (CommandResultPayload, error) {
	var p CommandResultPayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return CommandResultPayload{}, fmt.Errorf("decode command.result: %w", err)
	}
	return p, nil
}

// DecodeCommandStream decodes the envelope payload as a CommandStreamPayload.
func (e Envelope) DecodeCommandStream() (CommandStreamPayload, error) {
	var p CommandStreamPayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return CommandStreamPayload{}, fmt.Errorf("decode command.stream: %w", err)
	}
	return p, nil
}

// DecodeTelemetry decodes the envelope payload as a TelemetryPayload.
func (e Envelope) DecodeTelemetry() (TelemetryPayload, error) {
	var p TelemetryPayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return TelemetryPayload{}, fmt.Errorf("decode telemetry: %w", err)
	}
	return p, nil
}
