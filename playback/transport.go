// Package playback owns the local looping transport and keeps it in step
// with a link session.
//
// A Manager starts and stops a Transport. Without link it starts right
// away; with link enabled it waits for the next downbeat and then
// periodically corrects the transport's phase to the session's phase.
package playback

import (
	"context"
	"time"
)

// Position is a transport position: a measure and a phase in beats since
// the start of that measure.
type Position struct {
	Measure int
	Phase   float64
}

// Transport is the local audio transport.
type Transport interface {
	// Resume wakes the audio engine. It may block until the engine runs.
	Resume(ctx context.Context) error

	// Start starts playback after lookahead.
	Start(lookahead time.Duration) error
	Stop()
	Playing() bool

	Position() Position
	SetPosition(p Position)
	// SetBeatsPerMeasure changes the measure length, keeping the beat
	// position in the loop.
	SetBeatsPerMeasure(beats float64)

	BPM() float64
	SetBPM(bpm float64)

	// Progress is the position in the loop, in [0, 1).
	Progress() float64

	LookAhead() time.Duration
	SetLookAhead(d time.Duration)
}
