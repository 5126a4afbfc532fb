package session

import "time"

// Snapshot is the agent host's most recent telemetry. Each telemetry push
// replaces the previous snapshot wholesale; fields from different pushes
// are never merged.
type Snapshot struct {
	// CPU is the agent host's CPU utilization in percent (0-100).
	CPU float64

	// Memory is the agent host's memory utilization in percent (0-100).
	Memory float64

	// Disk is the agent host's disk utilization in percent (0-100).
	Disk float64

	// NetworkState describes the agent's network reachability.
	NetworkState string

	// CapturedAt is when the console received the push.
	CapturedAt time.Time
}
