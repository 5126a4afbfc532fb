// Package discovery locates a Veyra agent on the local network via
// mDNS/DNS-SD, so the console can connect without manual endpoint entry.
// Discovery is optional; an explicitly configured agent URL always wins.
package discovery

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"

	apperrors "github.com/veyra-ai/console/internal/errors"
)

// ServiceType is the mDNS service type Veyra agents advertise.
// Follows the standard Bonjour naming convention: _<service>._<protocol>
const ServiceType = "_veyra-agent._tcp"

// Endpoint is one discovered agent.
type Endpoint struct {
	// Name is the agent's advertised instance name.
	Name string

	// Host is the agent's IP address.
	Host string

	// Port is the agent's WebSocket port.
	Port int

	// Version is the agent's advertised protocol version, if any.
	Version string
}

// URL returns the agent's WebSocket endpoint.
func (e Endpoint) URL() string {
	return fmt.Sprintf("ws://%s:%d/ws", e.Host, e.Port)
}

// FallbackURL returns the agent's HTTP fallback base URL, by convention one
// port above the WebSocket port.
func (e Endpoint) FallbackURL() string {
	return fmt.Sprintf("http://%s:%d", e.Host, e.Port+1)
}

// Browse searches the local network for an agent and returns the first one
// found. It gives up after timeout with a discovery.not_found error.
func Browse(ctx context.Context, timeout time.Duration, logger *log.Logger) (Endpoint, error) {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return Endpoint{}, apperrors.Wrap(apperrors.CodeDiscoveryNotFound, "mdns resolver unavailable", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	found := make(chan Endpoint, 1)

	go func() {
		for entry := range entries {
			ep, ok := endpointFromEntry(entry)
			if !ok {
				logger.Printf("discovery: skipping %q: no usable address", entry.Instance)
				continue
			}
			select {
			case found <- ep:
			default:
			}
		}
	}()

	if err := resolver.Browse(ctx, ServiceType, "local.", entries); err != nil {
		return Endpoint{}, apperrors.Wrap(apperrors.CodeDiscoveryNotFound, "mdns browse failed", err)
	}

	select {
	case ep := <-found:
		logger.Printf("discovery: found agent %q at %s", ep.Name, ep.URL())
		return ep, nil
	case <-ctx.Done():
		return Endpoint{}, apperrors.DiscoveryNotFound(ServiceType)
	}
}

// endpointFromEntry converts a service entry, preferring IPv4.
func endpointFromEntry(entry *zeroconf.ServiceEntry) (Endpoint, bool) {
	ep := Endpoint{
		Name: entry.Instance,
		Port: entry.Port,
	}

	if len(entry.AddrIPv4) > 0 {
		ep.Host = entry.AddrIPv4[0].String()
	} else if len(entry.AddrIPv6) > 0 {
		ep.Host = fmt.Sprintf("[%s]", entry.AddrIPv6[0])
	} else {
		return Endpoint{}, false
	}

	for _, txt := range entry.Text {
		if strings.HasPrefix(txt, "version=") {
			ep.Version = strings.TrimPrefix(txt, "version=")
		}
	}
	return ep, true
}
