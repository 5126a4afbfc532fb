package protocol

import (
	"encoding/json"
	"testing"
	"time"
)

func TestNewCommandRequestMessage(t *testing.T) {
	before := time.Now().UnixMilli()
	msg := NewCommandRequestMessage("cmd-123", "open notepad")
	after := time.Now().UnixMilli()

	if msg.Type != MessageTypeCommandRequest {
		t.Errorf("expected type command.request, got %s", msg.Type)
	}
	if msg.ID != "cmd-123" {
		t.Errorf("expected envelope id cmd-123, got %s", msg.ID)
	}

	payload, ok := msg.Payload.(CommandRequestPayload)
	if !ok {
		t.Fatalf("unexpected payload type %T", msg.Payload)
	}
	if payload.CommandID != "cmd-123" || payload.Text != "open notepad" {
		t.Errorf("unexpected payload: %+v", payload)
	}
	if payload.IssuedAt < before || payload.IssuedAt > after {
		t.Errorf("issued_at %d outside [%d, %d]", payload.IssuedAt, before, after)
	}
}

func TestMessageWireFormat(t *testing.T) {
	msg := NewCommandRequestMessage("cmd-1", "hello")
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var wire map[string]json.RawMessage
	if err := json.Unmarshal(data, &wire); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	for _, key := range []string{"type", "id", "payload"} {
		if _, ok := wire[key]; !ok {
			t.Errorf("wire form missing %q key", key)
		}
	}
}

func TestDecodeEnvelopeRoundTrip(t *testing.T) {
	data := []byte(`{"type":"command.result","id":"cmd-9","payload":{"command_id":"cmd-9","success":true,"result_text":"done"}}`)

	env, err := DecodeEnvelope(data)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if env.Type != MessageTypeCommandResult || env.ID != "cmd-9" {
		t.Errorf("unexpected envelope: %+v", env)
	}

	res, err := env.DecodeCommandResult()
	if err != nil {
		t.Fatalf("payload decode failed: %v", err)
	}
	if !res.Success || res.ResultText != "done" || res.CommandID != "cmd-9" {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestDecodeEnvelopeRejectsMissingType(t *testing.T) {
	if _, err := DecodeEnvelope([]byte(`{"id":"x","payload":{}}`)); err == nil {
		t.Error("expected error for missing type")
	}
	if _, err := DecodeEnvelope([]byte(`not json`)); err == nil {
		t.Error("expected error for malformed json")
	}
}

func TestDecodeTelemetry(t *testing.T) {
	data := []byte(`{"type":"telemetry","payload":{"cpu":41.5,"memory":62,"disk":73.1,"network_state":"online"}}`)

	env, err := DecodeEnvelope(data)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	tel, err := env.DecodeTelemetry()
	if err != nil {
		t.Fatalf("telemetry decode failed: %v", err)
	}
	if tel.CPU != 41.5 || tel.Memory != 62 || tel.Disk != 73.1 || tel.NetworkState != "online" {
		t.Errorf("unexpected telemetry: %+v", tel)
	}
}

func TestDecodeCommandStream(t *testing.T) {
	data := []byte(`{"type":"command.stream","payload":{"command_id":"cmd-2","chunk":"hel","done":false}}`)

	env, err := DecodeEnvelope(data)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	chunk, err := env.DecodeCommandStream()
	if err != nil {
		t.Fatalf("stream decode failed: %v", err)
	}
	if chunk.CommandID != "cmd-2" || chunk.Chunk != "hel" || chunk.Done {
		t.Errorf("unexpected chunk: %+v", chunk)
	}
}
