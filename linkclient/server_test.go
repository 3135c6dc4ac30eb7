package linkclient_test

import (
	"context"
	"testing"
	"time"

	"github.com/scgolang/linksync/clock"
	"github.com/scgolang/linksync/linkclient"
	"github.com/scgolang/linksync/linkosc"
	"github.com/scgolang/linksync/linkserver"
	"github.com/scgolang/linksync/transport"
	"github.com/scgolang/osc"
)

func newLinkServer(t *testing.T) *linkserver.Server {
	t.Helper()
	srv := linkserver.New(clock.NewSession(120, 4), linkserver.Config{QueryTimeout: 200 * time.Millisecond}, nil)
	t.Cleanup(func() { _ = srv.Kill() })
	return srv
}

func connect(t *testing.T, srv *linkserver.Server, id string) *linkclient.Client {
	t.Helper()
	c, _ := connectConn(t, srv, id)
	return c
}

// connectConn also returns the client end of the connection.
func connectConn(t *testing.T, srv *linkserver.Server, id string) (*linkclient.Client, *transport.PipeConn) {
	t.Helper()
	local, remote := transport.Pipe(nil)
	c := linkclient.New(id, local, linkclient.Config{}, nil)
	srv.Attach(id, remote)
	t.Cleanup(func() { _ = c.Close() })
	return c, local
}

func enable(t *testing.T, c *linkclient.Client, bpm float64) {
	t.Helper()
	done := make(chan struct{}, 1)
	c.Enable(context.Background(), bpm, 4, func() { done <- struct{}{} })
	receive(t, done)
}

func TestEnableDisableAcrossClients(t *testing.T) {
	srv := newLinkServer(t)
	c1 := connect(t, srv, "w1")
	c2, conn2 := connectConn(t, srv, "w2")

	enable(t, c1, 100)
	if expected, got := linkserver.Enabled, srv.State(); expected != got {
		t.Fatalf("expected state %s, got %s", expected, got)
	}
	if !c1.IsEnabled() || !c1.IsInitialized() {
		t.Fatal("expected c1 to see link enabled")
	}
	eventually(t, "c2 to see link enabled", c2.IsEnabled)

	// c2 never engaged, but c1 still uses link. Every earlier scoped
	// status has been handled, so the next one answers the disable.
	reply := make(chan bool, 1)
	conn2.Once(linkosc.Scoped(linkosc.EnabledStatus, "w2"), func(m osc.Message) error {
		on, err := linkosc.ReadBool(m)
		reply <- on
		return err
	})
	if err := c2.Disable(); err != nil {
		t.Fatal(err)
	}
	if !receive(t, reply) {
		t.Fatal("expected disable to be refused")
	}
	if expected, got := linkserver.Enabled, srv.State(); expected != got {
		t.Fatalf("expected state %s, got %s", expected, got)
	}

	if err := c1.Disable(); err != nil {
		t.Fatal(err)
	}
	eventually(t, "server to disable", func() bool { return srv.State() == linkserver.Disabled })
	eventually(t, "c1 to see link disabled", func() bool { return !c1.IsEnabled() })
	eventually(t, "c2 to see link disabled", func() bool { return !c2.IsEnabled() })
}

func TestEnableRightAfterConnect(t *testing.T) {
	srv := newLinkServer(t)
	c := connect(t, srv, "w1")
	if err := c.Ping(); err != nil {
		t.Fatal(err)
	}
	// The attach and ping statuses still report link disabled.
	enable(t, c, 120)
	if expected, got := linkserver.Enabled, srv.State(); expected != got {
		t.Fatalf("expected state %s, got %s", expected, got)
	}
	if !c.IsEnabled() {
		t.Fatal("expected client to see link enabled")
	}
}

func TestQueries(t *testing.T) {
	srv := newLinkServer(t)
	c := connect(t, srv, "w1")
	enable(t, c, 100)

	phase, err := c.GetPhaseSynchronous()
	if err != nil {
		t.Fatal(err)
	}
	if phase < 0 || phase >= 4 {
		t.Fatalf("expected phase in [0, 4), got %f", phase)
	}

	phases := make(chan float64, 1)
	c.RequestPhase(func(p float64) { phases <- p })
	if p := receive(t, phases); p < 0 || p >= 4 {
		t.Fatalf("expected phase in [0, 4), got %f", p)
	}

	bpms := make(chan float64, 1)
	c.SetBPMToLinkBPM(func(bpm float64) { bpms <- bpm })
	if bpm := receive(t, bpms); bpm != 100 {
		t.Fatalf("expected link tempo 100, got %f", bpm)
	}

	if err := c.SetQuantum(3); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), wait)
	defer cancel()
	quantum, err := c.Quantum(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if quantum != 3 {
		t.Fatalf("expected quantum 3, got %f", quantum)
	}
}

func TestTempoReachesOtherClients(t *testing.T) {
	srv := newLinkServer(t)
	c1 := connect(t, srv, "w1")
	c2 := connect(t, srv, "w2")
	enable(t, c1, 120)

	bpms := make(chan float64, 4)
	c2.OnBPM(func(bpm float64) { bpms <- bpm })
	if err := c1.UpdateLinkBPM(140); err != nil {
		t.Fatal(err)
	}
	if bpm := receive(t, bpms); bpm != 140 {
		t.Fatalf("expected 140, got %f", bpm)
	}
}

func TestKill(t *testing.T) {
	srv := newLinkServer(t)
	c := connect(t, srv, "w1")
	enable(t, c, 120)
	if err := c.Kill(); err != nil {
		t.Fatal(err)
	}
	eventually(t, "server to be killed", func() bool { return srv.State() == linkserver.Killed })
	eventually(t, "client to see link uninitialized", func() bool { return !c.IsInitialized() })
}

func TestQuantumReachesClients(t *testing.T) {
	srv := newLinkServer(t)
	c1 := connect(t, srv, "w1")
	c2 := connect(t, srv, "w2")
	enable(t, c1, 120)

	quanta := make(chan float64, 4)
	c2.OnQuantum(func(q float64) { quanta <- q })
	if err := c1.SetQuantum(3); err != nil {
		t.Fatal(err)
	}
	if q := receive(t, quanta); q != 3 {
		t.Fatalf("expected quantum 3, got %f", q)
	}
}
