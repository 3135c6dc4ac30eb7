package tempo_test

import (
	"math"
	"testing"

	"github.com/scgolang/linksync/tempo"
)

func TestFoldOctaves(t *testing.T) {
	r := tempo.DefaultRange()
	for _, v := range []float64{0.3, 1, 19.99, 20, 60, 120, 999, 1000, 4000, 1e9} {
		got := r.Fold(v)
		if got < r.Min || got > r.Max {
			t.Fatalf("Fold(%f) = %f, outside [%f, %f]", v, got, r.Min, r.Max)
		}
		ratio := math.Log2(got / v)
		if math.Abs(ratio-math.Round(ratio)) > 1e-9 {
			t.Fatalf("Fold(%f) = %f is not a power of two away", v, got)
		}
	}
}

func TestFoldKeepsInRange(t *testing.T) {
	r := tempo.Range{Min: 60, Max: 120}
	if got := r.Fold(90); got != 90 {
		t.Fatalf("expected 90 untouched, got %f", got)
	}
	if got := r.Fold(240); got != 120 {
		t.Fatalf("expected 120, got %f", got)
	}
	if got := r.Fold(25); got != 100 {
		t.Fatalf("expected 100, got %f", got)
	}
}

func TestFoldDegenerate(t *testing.T) {
	r := tempo.DefaultRange()
	for _, v := range []float64{0, -10, math.NaN(), math.Inf(1)} {
		if got := r.Fold(v); got != r.Min {
			t.Fatalf("Fold(%f) = %f, expected %f", v, got, r.Min)
		}
	}
	narrow := tempo.Range{Min: 100, Max: 150}
	if narrow.Valid() {
		t.Fatal("expected narrow range to be invalid")
	}
	if got := narrow.Fold(400); got != 150 {
		t.Fatalf("expected clamp to 150, got %f", got)
	}
}

func TestTrackerLocal(t *testing.T) {
	tr := tempo.NewTracker("w1")
	if !tr.Local(120) {
		t.Fatal("first local change must propagate")
	}
	if tr.Local(120) {
		t.Fatal("repeated local value must not propagate")
	}
	if !tr.Local(121) {
		t.Fatal("new local value must propagate")
	}
}

func TestTrackerRemote(t *testing.T) {
	tr := tempo.NewTracker("w1")
	tr.Local(120)
	if tr.Remote(130, "w1") {
		t.Fatal("echo of own change must be ignored")
	}
	if tr.Remote(120.0001, "w2") {
		t.Fatal("value within tolerance must be ignored")
	}
	if !tr.Remote(130, "w2") {
		t.Fatal("new remote value must be applied")
	}
	if tr.Local(130) {
		t.Fatal("local value equal to applied remote must not propagate")
	}
	if bpm, ok := tr.Last(); !ok || bpm != 130 {
		t.Fatalf("expected last 130, got %f (%v)", bpm, ok)
	}
}
