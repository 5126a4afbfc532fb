// Package section models the control surface's navigation as a small state
// machine over a fixed set of sections. Exactly one section is active at a
// time; switching to a new section triggers its refresh hook.
package section

import (
	"io"
	"log"
	"strings"
	"sync"

	apperrors "github.com/veyra-ai/console/internal/errors"
)

// Section identifies one pane of the control surface.
type Section string

const (
	// Console is the command transcript and input pane.
	Console Section = "console"

	// System shows the agent host's telemetry snapshot.
	System Section = "system"

	// Vision shows what the agent currently observes.
	Vision Section = "vision"

	// Tasks lists the agent's scheduled and running tasks.
	Tasks Section = "tasks"

	// Files browses the agent host's exposed directories.
	Files Section = "files"

	// Settings edits console preferences.
	Settings Section = "settings"
)

// All lists every section in display order.
var All = []Section{Console, System, Vision, Tasks, Files, Settings}

// Parse resolves a section name case-insensitively.
func Parse(name string) (Section, error) {
	normalized := Section(strings.ToLower(strings.TrimSpace(name)))
	for _, s := range All {
		if s == normalized {
			return s, nil
		}
	}
	return "", apperrors.SectionUnknown(name)
}

// Names returns all section names in display order.
func Names() []string {
	names := make([]string, len(All))
	for i, s := range All {
		names[i] = string(s)
	}
	return names
}

// RefreshFunc runs when a section becomes active, to populate it with fresh
// data. It runs under the machine's lock and must not navigate.
type RefreshFunc func(Section)

// Machine tracks the active section. Transitions are serialized: a refresh
// completes before the next navigation is observed.
type Machine struct {
	mu      sync.Mutex
	active  Section
	refresh RefreshFunc
	logger  *log.Logger
}

// NewMachine creates a machine with the given initial section active.
// The refresh hook is not invoked for the initial section; nil disables
// refreshes entirely.
func NewMachine(initial Section, refresh RefreshFunc, logger *log.Logger) *Machine {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Machine{
		active:  initial,
		refresh: refresh,
		logger:  logger,
	}
}

// Navigate switches the active section and triggers its refresh.
// Navigating to the already-active section is a no-op: the section does not
// re-refresh. An unknown name fails without changing the active section.
func (m *Machine) Navigate(name string) error {
	target, err := Parse(name)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if target == m.active {
		return nil
	}

	m.logger.Printf("section: %s -> %s", m.active, target)
	m.active = target
	if m.refresh != nil {
		m.refresh(target)
	}
	return nil
}

// Active returns the currently active section.
func (m *Machine) Active() Section {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}
