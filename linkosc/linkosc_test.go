package linkosc_test

import (
	"testing"

	"github.com/scgolang/linksync/linkosc"
	"github.com/scgolang/osc"
)

func TestChannelNames(t *testing.T) {
	if expected, got := "/link/bpm", linkosc.Channel(linkosc.BPM); expected != got {
		t.Fatalf("expected %s, got %s", expected, got)
	}
	if expected, got := "/link/enabled-status/w1/", linkosc.Scoped(linkosc.EnabledStatus, "w1"); expected != got {
		t.Fatalf("expected %s, got %s", expected, got)
	}
}

func TestSplit(t *testing.T) {
	for _, tc := range []struct {
		channel    string
		capability string
		target     string
		ok         bool
	}{
		{"/link/downbeat", "downbeat", "", true},
		{"/link/phase/w2/", "phase", "w2", true},
		{"/link/phase/w2", "", "", false},
		{"/link/", "", "", false},
		{"/sync/tempo", "", "", false},
		{"/link/phase//", "", "", false},
	} {
		capability, target, ok := linkosc.Split(tc.channel)
		if ok != tc.ok || capability != tc.capability || target != tc.target {
			t.Fatalf("Split(%q) = (%q, %q, %v), expected (%q, %q, %v)", tc.channel, capability, target, ok, tc.capability, tc.target, tc.ok)
		}
	}
}

func TestScopedAndBroadcastDoNotCollide(t *testing.T) {
	broadcast := linkosc.Channel(linkosc.EnabledStatus)
	if broadcast == linkosc.Scoped(linkosc.EnabledStatus, "") {
		t.Fatal("scoped channel with empty target collides with broadcast")
	}
	if linkosc.Scoped(linkosc.Phase, "a") == linkosc.Scoped(linkosc.Phase, "b") {
		t.Fatal("scoped channels collide across targets")
	}
}

func TestReadBPM(t *testing.T) {
	m := linkosc.BPMMessage(linkosc.Channel(linkosc.BPM), 128, "w1")
	bpm, origin, err := linkosc.ReadBPM(m)
	if err != nil {
		t.Fatal(err)
	}
	if bpm != 128 || origin != "w1" {
		t.Fatalf("expected 128 from w1, got %f from %s", bpm, origin)
	}
	if _, _, err := linkosc.ReadBPM(linkosc.Message(linkosc.Channel(linkosc.BPM))); err == nil {
		t.Fatal("expected error reading empty bpm message")
	}
	bpm, origin, err = linkosc.ReadBPM(linkosc.FloatMessage(linkosc.Channel(linkosc.BPM), 90))
	if err != nil {
		t.Fatal(err)
	}
	if bpm != 90 || origin != "" {
		t.Fatalf("expected 90 with no origin, got %f from %q", bpm, origin)
	}
}

func TestReadInit(t *testing.T) {
	bpm, quantum, err := linkosc.ReadInit(linkosc.InitMessage(100, 4))
	if err != nil {
		t.Fatal(err)
	}
	if bpm != 100 || quantum != 4 {
		t.Fatalf("expected (100, 4), got (%f, %f)", bpm, quantum)
	}
	if _, _, err := linkosc.ReadInit(linkosc.Message(linkosc.Channel(linkosc.Init), osc.Float(100))); err == nil {
		t.Fatal("expected error for missing quantum")
	}
}

func TestReadTypeMismatch(t *testing.T) {
	if _, err := linkosc.ReadBool(linkosc.IntMessage("/link/beat", 3)); err == nil {
		t.Fatal("expected error reading bool from int argument")
	}
	n, err := linkosc.ReadInt(linkosc.IntMessage("/link/beat", 3))
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Fatalf("expected 3, got %d", n)
	}
}
