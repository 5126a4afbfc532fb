package config

// DefaultAgentURL is the default WebSocket endpoint of the remote agent.
const DefaultAgentURL = "ws://127.0.0.1:8765/ws"

// DefaultFallbackURL is the default base URL of the fallback transport.
const DefaultFallbackURL = "http://127.0.0.1:8766"

// DefaultMaxAttempts is the number of consecutive failed connection
// attempts tolerated before going offline.
const DefaultMaxAttempts = 5

// DefaultBackoffBaseMs is the initial reconnect delay in milliseconds.
const DefaultBackoffBaseMs = 500

// DefaultBackoffCeilingMs caps the reconnect delay in milliseconds.
const DefaultBackoffCeilingMs = 30000

// DefaultProbeIntervalMs is the offline health probe interval in milliseconds.
const DefaultProbeIntervalMs = 15000

// DefaultRequestTimeoutMs is the per-command response budget in milliseconds.
const DefaultRequestTimeoutMs = 10000

// DefaultTranscriptLimit is the maximum number of retained transcript entries.
const DefaultTranscriptLimit = 500

// DefaultSection is the control surface section shown at startup.
const DefaultSection = "console"

// DefaultTheme is the display theme applied at startup.
const DefaultTheme = "dark"
