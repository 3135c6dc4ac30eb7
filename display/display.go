// Package display turns transport progress into what the screen shows:
// the step being played and the scroll offset that keeps it in view.
package display

import (
	"context"
	"math"
	"time"
)

// DefaultInterval is the default polling interval (about 30 frames per second).
const DefaultInterval = 33 * time.Millisecond

// Frame is what the display shows at one point in time.
type Frame struct {
	// Step is the highlighted step.
	Step int
	// Offset is the first visible step.
	Offset int
	// Progress is the raw loop progress in [0, 1).
	Progress float64
}

// Source reports the progress of a transport.
type Source interface {
	Progress() float64
}

// Follower maps progress to a highlighted step and scrolls just enough to
// keep that step visible.
type Follower struct {
	// Steps is the number of steps in the loop.
	Steps int
	// Window is the number of visible steps.
	Window int

	offset int
}

// Follow returns the frame for progress.
func (f *Follower) Follow(progress float64) Frame {
	steps := f.Steps
	if steps <= 0 {
		steps = 1
	}
	window := f.Window
	if window <= 0 || window > steps {
		window = steps
	}
	if math.IsNaN(progress) || progress < 0 {
		progress = 0
	}
	step := int(progress * float64(steps))
	if step >= steps {
		step = steps - 1
	}

	switch {
	case step < f.offset:
		f.offset = step
	case step >= f.offset+window:
		f.offset = step - window + 1
	}
	if limit := steps - window; f.offset > limit {
		f.offset = limit
	}
	return Frame{Step: step, Offset: f.offset, Progress: progress}
}

// Poll samples src every interval and calls sink whenever the step or the
// offset changes. It returns when ctx is done.
func Poll(ctx context.Context, src Source, f *Follower, interval time.Duration, sink func(Frame)) error {
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var (
		last  Frame
		drawn bool
	)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			fr := f.Follow(src.Progress())
			if drawn && fr.Step == last.Step && fr.Offset == last.Offset {
				continue
			}
			last, drawn = fr, true
			sink(fr)
		}
	}
}
