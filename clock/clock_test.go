package clock_test

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/scgolang/linksync/clock"
)

type fakeTime struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeTime) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeTime) Advance(d time.Duration) {
	f.mu.Lock()
	f.t = f.t.Add(d)
	f.mu.Unlock()
}

func newFakeTime() *fakeTime {
	return &fakeTime{t: time.Date(2017, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func near(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestSessionTimeline(t *testing.T) {
	ft := newFakeTime()
	s := clock.NewSession(120, 4, clock.WithNow(ft.Now))

	ft.Advance(time.Second) // 2 beats at 120 bpm
	if beat := s.Beat(); !near(beat, 2) {
		t.Fatalf("expected beat 2, got %f", beat)
	}
	ft.Advance(1500 * time.Millisecond) // 3 more beats
	if phase := s.Phase(); !near(phase, 1) {
		t.Fatalf("expected phase 1, got %f", phase)
	}
}

func TestSessionTempoChangeKeepsBeat(t *testing.T) {
	ft := newFakeTime()
	s := clock.NewSession(120, 4, clock.WithNow(ft.Now))

	var changes []float64
	s.SetTempoCallback(func(bpm float64) { changes = append(changes, bpm) })

	ft.Advance(time.Second)
	s.SetBPM(60)
	if beat := s.Beat(); !near(beat, 2) {
		t.Fatalf("expected beat 2 right after tempo change, got %f", beat)
	}
	ft.Advance(time.Second)
	if beat := s.Beat(); !near(beat, 3) {
		t.Fatalf("expected beat 3, got %f", beat)
	}
	s.SetBPM(60)
	if len(changes) != 1 || changes[0] != 60 {
		t.Fatalf("expected one tempo callback with 60, got %v", changes)
	}
}

func TestSessionPeers(t *testing.T) {
	s := clock.NewSession(120, 4)
	var got []uint64
	s.SetNumPeersCallback(func(n uint64) { got = append(got, n) })
	s.SetNumPeers(2)
	s.SetNumPeers(2)
	s.SetNumPeers(0)
	if len(got) != 2 || got[0] != 2 || got[1] != 0 {
		t.Fatalf("expected [2 0], got %v", got)
	}
}

func TestSessionUpdateLoop(t *testing.T) {
	s := clock.NewSession(120, 4)
	samples := make(chan float64, 16)
	s.StartUpdate(time.Millisecond, func(beat, phase, bpm float64) {
		select {
		case samples <- bpm:
		default:
		}
	})
	select {
	case bpm := <-samples:
		if bpm != 120 {
			t.Fatalf("expected bpm 120 in sample, got %f", bpm)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for update sample")
	}
	s.StopUpdate()
	s.StopUpdate()
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestPhaseOf(t *testing.T) {
	for _, tc := range []struct {
		beat, quantum, phase float64
	}{
		{0, 4, 0},
		{5.5, 4, 1.5},
		{-1, 4, 3},
		{3, 0, 0},
	} {
		if got := clock.PhaseOf(tc.beat, tc.quantum); !near(got, tc.phase) {
			t.Fatalf("PhaseOf(%f, %f) = %f, expected %f", tc.beat, tc.quantum, got, tc.phase)
		}
	}
}

func TestEdgeDetector(t *testing.T) {
	type sample struct {
		beat  int64
		phase float64
	}
	samples := []sample{
		{7, 3.2}, // primes
		{7, 3.6},
		{8, 0.1}, // beat + downbeat
		{8, 0.5},
		{9, 1.0}, // beat
		{9, 1.0},
		{10, 2.0}, // beat
		{11, 3.9}, // beat
		{12, 0.0}, // beat + downbeat
		{12, 0.2},
		{13, 1.1}, // beat
	}
	var (
		d         clock.EdgeDetector
		beats     []int64
		downbeats int
	)
	for _, s := range samples {
		e := d.Observe(s.beat, s.phase)
		if e.Beat {
			beats = append(beats, d.LastBeat())
		}
		if e.Downbeat {
			downbeats++
		}
	}
	expected := []int64{8, 9, 10, 11, 12, 13}
	if len(beats) != len(expected) {
		t.Fatalf("expected beats %v, got %v", expected, beats)
	}
	for i := range expected {
		if beats[i] != expected[i] {
			t.Fatalf("expected beats %v, got %v", expected, beats)
		}
	}
	if downbeats != 2 {
		t.Fatalf("expected 2 downbeats, got %d", downbeats)
	}
}

func TestEdgeDetectorCountsEveryWraparound(t *testing.T) {
	var d clock.EdgeDetector
	phases := []float64{0.5, 3.9, 0.1, 3.8, 0.2, 0.3, 0.1}
	downbeats := 0
	for i, p := range phases {
		if d.Observe(int64(i), p).Downbeat {
			downbeats++
		}
	}
	// 3.9->0.1, 3.8->0.2, 0.3->0.1
	if downbeats != 3 {
		t.Fatalf("expected 3 downbeats, got %d", downbeats)
	}
}

func TestEdgeDetectorRequantize(t *testing.T) {
	var d clock.EdgeDetector
	d.Requantize() // nothing to forget yet
	d.Observe(6, 2.5)

	// Quantum 4 -> 2: beat 6.7 has phase 0.7, which is not a downbeat.
	d.Requantize()
	if e := d.Observe(6, 0.7); e.Downbeat || e.Beat {
		t.Fatalf("expected no edge after requantize, got %+v", e)
	}
	if e := d.Observe(7, 1.2); e.Downbeat || !e.Beat {
		t.Fatalf("expected beat only, got %+v", e)
	}
	if e := d.Observe(8, 0.1); !e.Downbeat || !e.Beat {
		t.Fatalf("expected beat and downbeat, got %+v", e)
	}

	// Beat edges survive a requantize.
	d.Requantize()
	if e := d.Observe(9, 1.0); e.Downbeat || !e.Beat {
		t.Fatalf("expected beat only, got %+v", e)
	}
}
