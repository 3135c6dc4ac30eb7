// Package tempo keeps BPM values inside an acceptable range and decides
// which tempo changes need to be propagated.
package tempo

import (
	"math"
	"sync"
)

// Default range bounds.
const (
	DefaultMin = 20
	DefaultMax = 999
)

// Tolerance is the smallest BPM difference treated as a tempo change.
// Tempo values travel as float32 on the wire.
const Tolerance = 1e-3

// Range is an acceptable BPM range.
type Range struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

// DefaultRange returns the application default range.
func DefaultRange() Range {
	return Range{Min: DefaultMin, Max: DefaultMax}
}

// Valid reports whether r can be folded into: halving a value just above Max
// must not land below Min.
func (r Range) Valid() bool {
	return r.Min > 0 && r.Max >= 2*r.Min && !math.IsInf(r.Max, 0)
}

// Fold brings v into r by repeated halving or doubling, which keeps the
// tempo in the same "octave" relationship. Non-positive or non-finite
// values fold to Min. If r is not valid, v is clamped instead.
func (r Range) Fold(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return r.Min
	}
	if !r.Valid() {
		return math.Max(r.Min, math.Min(r.Max, v))
	}
	for v > r.Max {
		v /= 2
	}
	for v < r.Min {
		v *= 2
	}
	return v
}

// Equal reports whether two tempos are the same within Tolerance.
func Equal(a, b float64) bool {
	return math.Abs(a-b) < Tolerance
}

// Tracker is the single place that decides whether a tempo change is new.
// Local changes are pushed only when they differ from the last known value;
// remote changes are applied only when they differ and were not originated
// by the tracker's owner.
type Tracker struct {
	self string

	mu    sync.Mutex
	last  float64
	known bool
}

// NewTracker creates a tracker owned by the party with id self.
func NewTracker(self string) *Tracker {
	return &Tracker{self: self}
}

// Local records a tempo change made by the owner.
// It returns true if the change must be propagated.
func (t *Tracker) Local(bpm float64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.known && Equal(t.last, bpm) {
		return false
	}
	t.last, t.known = bpm, true
	return true
}

// Remote records a tempo change received from origin.
// It returns true if the change must be applied locally.
func (t *Tracker) Remote(bpm float64, origin string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if origin != "" && origin == t.self {
		return false
	}
	if t.known && Equal(t.last, bpm) {
		return false
	}
	t.last, t.known = bpm, true
	return true
}

// Last returns the last known tempo.
func (t *Tracker) Last() (bpm float64, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last, t.known
}
