// Package feedback renders short non-speech cues (wake, confirm, error,
// button) through a tiered resolver: a bundled cue library first, an
// on-device generator second, and the terminal bell as the last resort.
// Feedback must never take the console down, so every tier failure —
// including a panic inside a provider — degrades to the next tier.
package feedback

import (
	"fmt"
	"io"
	"log"

	apperrors "github.com/veyra-ai/console/internal/errors"
)

// Event identifies one cue kind.
type Event string

const (
	// EventWake acknowledges that the console is listening.
	EventWake Event = "wake"

	// EventConfirm signals a completed action.
	EventConfirm Event = "confirm"

	// EventError signals a failure.
	EventError Event = "error"

	// EventButton accompanies a control surface interaction.
	EventButton Event = "button"
)

// CueLibrary plays a pre-rendered cue for an event. Tier one.
type CueLibrary interface {
	Play(event Event) error
}

// Generator synthesizes a cue for an event on the fly. Tier two.
type Generator interface {
	Synthesize(event Event) error
}

// tier is one resolver level with a name for diagnostics.
type tier struct {
	name string
	play func(Event) error
}

// Resolver plays cues through the first available tier.
type Resolver struct {
	tiers  []tier
	logger *log.Logger
}

// NewResolver builds the tier chain. Nil providers are skipped; bell is the
// writer that receives the terminal bell byte (nil disables the last tier).
func NewResolver(library CueLibrary, generator Generator, bell io.Writer, logger *log.Logger) *Resolver {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	var tiers []tier
	if library != nil {
		tiers = append(tiers, tier{name: "library", play: library.Play})
	}
	if generator != nil {
		tiers = append(tiers, tier{name: "generator", play: generator.Synthesize})
	}
	if bell != nil {
		tiers = append(tiers, tier{name: "bell", play: func(Event) error {
			_, err := bell.Write([]byte{0x07})
			return err
		}})
	}

	return &Resolver{tiers: tiers, logger: logger}
}

// Play renders the cue through the highest-fidelity tier that succeeds.
// It never returns an error and never panics: tier failures are logged and
// the next tier is tried; when every tier fails the cue is silently skipped.
func (r *Resolver) Play(event Event) {
	for _, t := range r.tiers {
		err := attempt(t, event)
		if err == nil {
			return
		}
		r.logger.Printf("feedback: %v", err)
	}
	r.logger.Printf("feedback: no tier could play %q cue", event)
}

// attempt runs one tier, converting a panic inside the provider into an
// ordinary tier failure.
func attempt(t tier, event Event) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = apperrors.FeedbackUnavailable(t.name, fmt.Errorf("panic: %v", rec))
		}
	}()

	if playErr := t.play(event); playErr != nil {
		return apperrors.FeedbackUnavailable(t.name, playErr)
	}
	return nil
}
