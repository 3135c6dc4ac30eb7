package playback

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/scgolang/linksync/clock"
)

// DefaultSampleRate is the frame rate of a Clock.
const DefaultSampleRate = beep.SampleRate(44100)

// ClockConfig contains configuration for a Clock.
type ClockConfig struct {
	SampleRate      beep.SampleRate
	BPM             float64
	BeatsPerMeasure float64
	// Measures is the loop length.
	Measures int
}

func (c ClockConfig) withDefaults() ClockConfig {
	if c.SampleRate <= 0 {
		c.SampleRate = DefaultSampleRate
	}
	if c.BPM <= 0 {
		c.BPM = 120
	}
	if c.BeatsPerMeasure <= 0 {
		c.BeatsPerMeasure = clock.DefaultQuantum
	}
	if c.Measures <= 0 {
		c.Measures = 1
	}
	return c
}

// ClockOption configures a Clock.
type ClockOption func(*Clock)

// WithNow sets the time source of a Clock.
func WithNow(now func() time.Time) ClockOption {
	return func(c *Clock) {
		c.now = now
	}
}

// Clock is a software Transport that loops over a number of measures.
// Its position advances in whole frames at the configured sample rate.
type Clock struct {
	ClockConfig

	now func() time.Time

	mu         sync.Mutex
	bpm        float64
	playing    bool
	lookahead  time.Duration
	anchorTime time.Time
	anchorBeat float64
}

// NewClock creates a stopped clock at the start of the loop.
func NewClock(config ClockConfig, opts ...ClockOption) *Clock {
	c := &Clock{
		ClockConfig: config.withDefaults(),
		now:         time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	c.bpm = c.ClockConfig.BPM
	return c
}

// Resume is a no-op: a software clock is never suspended.
func (c *Clock) Resume(ctx context.Context) error {
	return ctx.Err()
}

// Start starts the clock after lookahead. Starting a running clock is a no-op.
func (c *Clock) Start(lookahead time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.playing {
		return nil
	}
	if lookahead < 0 {
		lookahead = 0
	}
	c.playing = true
	c.anchorTime = c.now().Add(lookahead)
	return nil
}

// Stop stops the clock and rewinds it to the start of the loop.
func (c *Clock) Stop() {
	c.mu.Lock()
	c.playing = false
	c.anchorBeat = 0
	c.mu.Unlock()
}

// Playing reports whether the clock runs.
func (c *Clock) Playing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playing
}

// Frames returns the number of frames played since the loop started.
func (c *Clock) Frames() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.SampleRate.N(clock.BeatsToDuration(c.loopBeat(c.now()), c.bpm))
}

// Position returns the current measure and phase.
func (c *Clock) Position() Position {
	c.mu.Lock()
	defer c.mu.Unlock()

	b := c.loopBeat(c.now())
	m := int(b / c.BeatsPerMeasure)
	return Position{Measure: m, Phase: b - float64(m)*c.BeatsPerMeasure}
}

// SetPosition moves the clock. Positions outside the loop wrap around.
func (c *Clock) SetPosition(p Position) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if c.playing && now.After(c.anchorTime) {
		c.anchorTime = now
	}
	c.anchorBeat = c.wrap(float64(p.Measure)*c.BeatsPerMeasure + p.Phase)
}

// SetBeatsPerMeasure changes the measure length. The clock keeps its beat
// position, wrapped into the new loop length.
func (c *Clock) SetBeatsPerMeasure(beats float64) {
	if beats <= 0 || math.IsNaN(beats) || math.IsInf(beats, 0) {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	b := c.beat(now)
	if c.playing && now.After(c.anchorTime) {
		c.anchorTime = now
	}
	c.BeatsPerMeasure = beats
	c.anchorBeat = c.wrap(b)
}

// BPM returns the tempo.
func (c *Clock) BPM() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bpm
}

// SetBPM changes the tempo without moving the current position.
func (c *Clock) SetBPM(bpm float64) {
	if bpm <= 0 || math.IsNaN(bpm) || math.IsInf(bpm, 0) {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if c.playing && now.After(c.anchorTime) {
		c.anchorBeat = c.beat(now)
		c.anchorTime = now
	}
	c.bpm = bpm
}

// Progress returns the position in the loop, in [0, 1).
func (c *Clock) Progress() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loopBeat(c.now()) / c.loopLength()
}

// LookAhead returns the scheduling lookahead.
func (c *Clock) LookAhead() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lookahead
}

// SetLookAhead sets the scheduling lookahead.
func (c *Clock) SetLookAhead(d time.Duration) {
	if d < 0 {
		d = 0
	}
	c.mu.Lock()
	c.lookahead = d
	c.mu.Unlock()
}

func (c *Clock) loopLength() float64 {
	return c.BeatsPerMeasure * float64(c.Measures)
}

func (c *Clock) wrap(beat float64) float64 {
	return clock.PhaseOf(beat, c.loopLength())
}

// beat returns the unwrapped beat at now, counting whole frames only.
func (c *Clock) beat(now time.Time) float64 {
	if !c.playing || !now.After(c.anchorTime) {
		return c.anchorBeat
	}
	frames := c.SampleRate.N(now.Sub(c.anchorTime))
	return c.anchorBeat + float64(frames)/float64(c.SampleRate)*c.bpm/60
}

func (c *Clock) loopBeat(now time.Time) float64 {
	return c.wrap(c.beat(now))
}
