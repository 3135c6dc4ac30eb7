package clock

// Edges are the discrete events derived from one sample.
type Edges struct {
	Beat     bool
	Downbeat bool
}

// EdgeDetector turns a stream of (beat, phase) samples into beat and
// downbeat edges. The first sample only primes the detector.
//
// A downbeat is reported whenever the phase decreases, i.e. a quantum
// boundary was crossed. A beat is reported whenever the beat counter
// strictly increases.
type EdgeDetector struct {
	primed     bool
	phaseStale bool
	lastBeat   int64
	lastPhase  float64
}

// Observe feeds one sample to the detector.
func (d *EdgeDetector) Observe(beat int64, phase float64) Edges {
	if !d.primed {
		d.primed = true
		d.lastBeat, d.lastPhase = beat, phase
		return Edges{}
	}
	var e Edges
	if phase-d.lastPhase < 0 && !d.phaseStale {
		e.Downbeat = true
	}
	d.phaseStale = false
	if beat-d.lastBeat > 0 {
		e.Beat = true
		d.lastBeat = beat
	}
	d.lastPhase = phase
	return e
}

// LastBeat returns the last beat counter value that produced an edge.
func (d *EdgeDetector) LastBeat() int64 {
	return d.lastBeat
}

// Requantize is called when the quantum changes. The phase of the next
// sample is measured against the new quantum, so it only re-primes the
// phase; beat edges are still reported.
func (d *EdgeDetector) Requantize() {
	if d.primed {
		d.phaseStale = true
	}
}

// Reset forgets the previous sample.
func (d *EdgeDetector) Reset() {
	*d = EdgeDetector{}
}
