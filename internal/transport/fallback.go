package transport

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	apperrors "github.com/veyra-ai/console/internal/errors"
	"github.com/veyra-ai/console/internal/protocol"
)

// Fallback is the secondary request/response transport used while the
// primary channel is unavailable. It trades the channel's streaming and
// push telemetry for plain HTTP exchanges, which is enough to keep remote
// commands working when the WebSocket cannot be established.
type Fallback struct {
	baseURL string
	client  *http.Client
	logger  *log.Logger
}

// NewFallback creates a fallback transport rooted at baseURL
// (e.g., "http://127.0.0.1:8766"). The timeout bounds each exchange;
// zero means 10 seconds.
func NewFallback(baseURL string, timeout time.Duration, logger *log.Logger) *Fallback {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Fallback{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// Exchange submits one command and waits for its result.
// Unlike the primary channel there is no correlation to manage here: the
// agent answers the command in the HTTP response body.
func (f *Fallback) Exchange(req protocol.CommandRequestPayload) (protocol.CommandResultPayload, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return protocol.CommandResultPayload{}, apperrors.TransportFailure("encode", err)
	}

	resp, err := f.client.Post(f.baseURL+"/api/command", "application/json", bytes.NewReader(body))
	if err != nil {
		return protocol.CommandResultPayload{}, apperrors.TransportFailure("exchange", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return protocol.CommandResultPayload{}, apperrors.TransportFailure("exchange",
			fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	var result protocol.CommandResultPayload
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return protocol.CommandResultPayload{}, apperrors.Wrap(apperrors.CodeTransportBadReply,
			"fallback returned an unparseable result", err)
	}

	// The agent echoes the command id; fill it in for older agents that don't.
	if result.CommandID == "" {
		result.CommandID = req.CommandID
	}

	return result, nil
}

// Healthy checks the agent's reachability over the fallback transport.
// Used by the offline background probe; success means a reconnect attempt
// on the primary channel is worth making.
func (f *Fallback) Healthy() error {
	resp, err := f.client.Get(f.baseURL + "/api/health")
	if err != nil {
		return apperrors.TransportFailure("probe", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apperrors.TransportFailure("probe", fmt.Errorf("unexpected status %d", resp.StatusCode))
	}
	return nil
}
