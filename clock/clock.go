// Package clock provides the shared clock session that the link server owns.
//
// Binding mirrors the surface of an Ableton Link peer: a tempo, a quantum,
// a peer count, change callbacks and a periodic update loop sampling the
// current beat and phase. Session is a software implementation of Binding
// that keeps a beat timeline without any network peers.
package clock

import (
	"math"
	"time"
)

// DefaultQuantum is the default number of beats in a cycle.
const DefaultQuantum = 4

// DefaultUpdateInterval is the sampling interval used when none is given.
const DefaultUpdateInterval = 10 * time.Millisecond

// UpdateFunc receives periodic samples of the session.
type UpdateFunc func(beat, phase, bpm float64)

// Binding is a native clock peer.
type Binding interface {
	Enable(enable bool)
	IsEnabled() bool

	BPM() float64
	SetBPM(bpm float64)
	Quantum() float64
	SetQuantum(quantum float64)
	NumPeers() uint64

	// Beat and Phase sample the timeline now.
	Beat() float64
	Phase() float64

	SetTempoCallback(cb func(bpm float64))
	SetNumPeersCallback(cb func(numPeers uint64))

	// StartUpdate samples the session every interval and calls cb with the
	// sample. Starting again replaces the running loop.
	StartUpdate(interval time.Duration, cb UpdateFunc)
	// StopUpdate stops the update loop. It is safe to call when no loop runs.
	StopUpdate()

	Close() error
}

// PhaseOf returns beat modulo quantum in [0, quantum).
func PhaseOf(beat, quantum float64) float64 {
	if quantum <= 0 {
		return 0
	}
	p := math.Mod(beat, quantum)
	if p < 0 {
		p += quantum
	}
	return p
}

// BeatsToDuration converts a number of beats at bpm to a duration.
func BeatsToDuration(beats, bpm float64) time.Duration {
	if bpm <= 0 {
		return 0
	}
	return time.Duration(beats * 60 / bpm * float64(time.Second))
}
