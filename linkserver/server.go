// Package linkserver exposes one clock session to many targets.
//
// The server is the single owner of a clock.Binding. Targets (one per UI
// instance) are attached with a transport.Conn; the server answers their
// requests on scoped channels and broadcasts session events to all of them.
// While enabled, a downbeat clock samples the binding at a fixed interval
// and broadcasts beat and downbeat edges.
package linkserver

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/scgolang/linksync/clock"
	"github.com/scgolang/linksync/linkosc"
	"github.com/scgolang/linksync/tempo"
	"github.com/scgolang/linksync/transport"
	"github.com/scgolang/osc"
	"github.com/sirupsen/logrus"
)

// Errors returned by state transitions.
var (
	ErrNotInitialized = errors.New("link is not initialized")
	ErrKilled         = errors.New("link has been killed")
)

// State is the lifecycle state of a Server.
type State int

// Server states.
const (
	Uninitialized State = iota
	Initialized
	Enabled
	Disabled
	Killed
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Initialized:
		return "initialized"
	case Enabled:
		return "enabled"
	case Disabled:
		return "disabled"
	case Killed:
		return "killed"
	}
	return "unknown"
}

// Defaults.
const (
	DefaultInterval     = 10 * time.Millisecond
	DefaultQueryTimeout = time.Second
)

// Config contains configuration for a Server.
type Config struct {
	// Interval is the sampling interval of the downbeat clock.
	Interval time.Duration
	// QueryTimeout bounds each "are you still using link" query on disable.
	QueryTimeout time.Duration
	// Range is the acceptable tempo range.
	Range tempo.Range
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.QueryTimeout <= 0 {
		c.QueryTimeout = DefaultQueryTimeout
	}
	if c.Range == (tempo.Range{}) {
		c.Range = tempo.DefaultRange()
	}
	return c
}

// Server owns a clock binding and fans its events out to targets.
type Server struct {
	Config

	binding clock.Binding
	log     logrus.FieldLogger
	tempo   *tempo.Tracker

	// opMu serializes whole state transitions (enable, disable, kill, init).
	opMu sync.Mutex

	mu       sync.Mutex
	state    State
	targets  map[string]*target
	edges    clock.EdgeDetector
	clockGen uint64
	running  bool
}

type target struct {
	id   string
	conn transport.Conn
	subs []transport.Subscription
}

// New creates a server owning binding.
func New(binding clock.Binding, config Config, log logrus.FieldLogger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	srv := &Server{
		Config:  config.withDefaults(),
		binding: binding,
		log:     log,
		tempo:   tempo.NewTracker(""),
		targets: map[string]*target{},
	}
	srv.tempo.Local(binding.BPM())
	binding.SetTempoCallback(srv.onTempo)
	binding.SetNumPeersCallback(srv.onNumPeers)
	return srv
}

// State returns the current state.
func (srv *Server) State() State {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	return srv.state
}

func (srv *Server) setState(s State) {
	srv.mu.Lock()
	old := srv.state
	srv.state = s
	srv.mu.Unlock()

	if old != s {
		srv.log.WithFields(logrus.Fields{"from": old, "to": s}).Info("link state changed")
	}
}

// IsInitialized reports whether Init has been called.
func (srv *Server) IsInitialized() bool {
	s := srv.State()
	return s != Uninitialized && s != Killed
}

// IsEnabled reports whether the server is enabled.
func (srv *Server) IsEnabled() bool {
	return srv.State() == Enabled
}

// Init initializes the session with a tempo and quantum.
// Initializing an initialized server does not change the session.
func (srv *Server) Init(bpm, quantum float64) error {
	srv.opMu.Lock()
	defer srv.opMu.Unlock()

	switch srv.State() {
	case Killed:
		return ErrKilled
	case Uninitialized:
	default:
		return nil
	}
	bpm = srv.Range.Fold(bpm)
	srv.tempo.Local(bpm)
	srv.binding.SetBPM(bpm)
	if quantum > 0 {
		srv.binding.SetQuantum(quantum)
	}
	srv.setState(Initialized)
	srv.broadcast(linkosc.BoolMessage(linkosc.Channel(linkosc.InitializedStatus), true))
	return nil
}

// Enable enables the binding and starts the downbeat clock.
// Enabling an enabled server is a no-op.
func (srv *Server) Enable() error {
	srv.opMu.Lock()
	defer srv.opMu.Unlock()

	switch srv.State() {
	case Killed:
		return ErrKilled
	case Uninitialized:
		return ErrNotInitialized
	case Enabled:
		return nil
	}
	srv.binding.Enable(true)
	srv.StartDownbeatClock(srv.Interval)
	srv.setState(Enabled)
	srv.broadcast(linkosc.BoolMessage(linkosc.Channel(linkosc.EnabledStatus), true))
	return nil
}

// Disable disables the binding unless some target is still using it.
// Every target is asked whether it still uses link; a target that does not
// answer within QueryTimeout is treated as still using it, unless its
// connection closes or it is removed while being asked.
// Disable reports whether the server ended up disabled.
func (srv *Server) Disable(ctx context.Context) (bool, error) {
	srv.opMu.Lock()
	defer srv.opMu.Unlock()

	switch srv.State() {
	case Killed:
		return false, ErrKilled
	case Disabled:
		return true, nil
	case Enabled:
	default:
		return false, nil
	}
	inUse, err := srv.anyInUse(ctx)
	if err != nil {
		return false, errors.Wrap(err, "probing targets")
	}
	if inUse {
		srv.log.Info("link still in use, not disabling")
		return false, nil
	}
	srv.StopDownbeatClock()
	srv.binding.Enable(false)
	srv.setState(Disabled)
	srv.broadcast(linkosc.BoolMessage(linkosc.Channel(linkosc.EnabledStatus), false))
	return true, nil
}

// Kill stops the clock and releases the binding. Killed is terminal.
func (srv *Server) Kill() error {
	srv.opMu.Lock()
	defer srv.opMu.Unlock()

	if srv.State() == Killed {
		return nil
	}
	srv.StopDownbeatClock()
	srv.binding.Enable(false)
	err := srv.binding.Close()
	srv.setState(Killed)
	srv.broadcast(linkosc.BoolMessage(linkosc.Channel(linkosc.EnabledStatus), false))
	srv.broadcast(linkosc.BoolMessage(linkosc.Channel(linkosc.InitializedStatus), false))
	return errors.Wrap(err, "closing binding")
}

// SetBPM sets the session tempo on behalf of origin. The value is folded
// into range; unchanged tempos are not applied or broadcast.
func (srv *Server) SetBPM(bpm float64, origin string) {
	bpm = srv.Range.Fold(bpm)
	if !srv.tempo.Local(bpm) {
		return
	}
	srv.binding.SetBPM(bpm)
	srv.broadcast(linkosc.BPMMessage(linkosc.Channel(linkosc.BPM), bpm, origin))
}

// SetQuantum renegotiates the quantum and broadcasts it.
func (srv *Server) SetQuantum(quantum float64) {
	if quantum <= 0 {
		return
	}
	srv.mu.Lock()
	srv.binding.SetQuantum(quantum)
	srv.edges.Requantize()
	srv.mu.Unlock()
	srv.broadcast(linkosc.FloatMessage(linkosc.Channel(linkosc.Quantum), quantum))
}

// onTempo handles tempo changes reported by the binding.
func (srv *Server) onTempo(bpm float64) {
	if !srv.tempo.Local(bpm) {
		return
	}
	srv.broadcast(linkosc.BPMMessage(linkosc.Channel(linkosc.BPM), bpm, linkosc.OriginLink))
}

func (srv *Server) onNumPeers(n uint64) {
	srv.log.WithField("peers", n).Info("link peers changed")
	srv.broadcast(linkosc.IntMessage(linkosc.Channel(linkosc.NumPeers), int64(n)))
}

// StartDownbeatClock starts sampling the binding every interval. A running
// clock is replaced, so at most one clock runs at a time.
func (srv *Server) StartDownbeatClock(interval time.Duration) {
	srv.mu.Lock()
	srv.clockGen++
	gen := srv.clockGen
	srv.running = true
	srv.edges.Reset()
	srv.mu.Unlock()

	srv.binding.StartUpdate(interval, func(beat, phase, _ float64) {
		srv.sample(gen, beat, phase)
	})
}

// StopDownbeatClock stops the downbeat clock. It is safe to call when no
// clock is running.
func (srv *Server) StopDownbeatClock() {
	srv.mu.Lock()
	srv.clockGen++
	srv.running = false
	srv.mu.Unlock()

	srv.binding.StopUpdate()
}

// ClockRunning reports whether the downbeat clock is running.
func (srv *Server) ClockRunning() bool {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	return srv.running
}

func (srv *Server) sample(gen uint64, beat, phase float64) {
	srv.mu.Lock()
	if gen != srv.clockGen {
		srv.mu.Unlock()
		return
	}
	count := int64(math.Floor(beat))
	e := srv.edges.Observe(count, phase)
	srv.mu.Unlock()

	if e.Downbeat {
		srv.broadcast(linkosc.Message(linkosc.Channel(linkosc.Downbeat)))
	}
	if e.Beat {
		srv.broadcast(linkosc.IntMessage(linkosc.Channel(linkosc.Beat), count))
	}
}

// RegisterTarget adds a target. Registering an existing id replaces it.
func (srv *Server) RegisterTarget(id string, conn transport.Conn) {
	srv.mu.Lock()
	old := srv.targets[id]
	srv.targets[id] = &target{id: id, conn: conn}
	srv.mu.Unlock()

	if old != nil && old.conn != conn {
		for _, sub := range old.subs {
			old.conn.RemoveListener(sub)
		}
	}
}

// RemoveTarget removes a target. Removing an unknown id is a no-op.
func (srv *Server) RemoveTarget(id string) {
	srv.mu.Lock()
	t := srv.targets[id]
	delete(srv.targets, id)
	srv.mu.Unlock()

	if t == nil {
		return
	}
	for _, sub := range t.subs {
		t.conn.RemoveListener(sub)
	}
	srv.log.WithField("target", id).Info("target removed")
}

func (srv *Server) removeConn(id string, conn transport.Conn) {
	srv.mu.Lock()
	t := srv.targets[id]
	same := t != nil && t.conn == conn
	srv.mu.Unlock()

	if same {
		srv.RemoveTarget(id)
	}
}

func (srv *Server) registered(id string, conn transport.Conn) bool {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	t := srv.targets[id]
	return t != nil && t.conn == conn
}

// Targets returns the ids of the registered targets.
func (srv *Server) Targets() []string {
	srv.mu.Lock()
	ids := make([]string, 0, len(srv.targets))
	for id := range srv.targets {
		ids = append(ids, id)
	}
	srv.mu.Unlock()

	sort.Strings(ids)
	return ids
}

func (srv *Server) snapshot() []*target {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	ts := make([]*target, 0, len(srv.targets))
	for _, t := range srv.targets {
		ts = append(ts, t)
	}
	return ts
}

// broadcast sends m to every target. Delivery failures leave that target
// with stale state until its next ping, so they are only logged.
func (srv *Server) broadcast(m osc.Message) {
	for _, t := range srv.snapshot() {
		if err := t.conn.Send(m); err != nil {
			srv.log.WithError(err).WithFields(logrus.Fields{
				"target":  t.id,
				"channel": m.Address,
			}).Debug("broadcast failed")
		}
	}
}

// sendTo sends m to target id only.
func (srv *Server) sendTo(id string, m osc.Message) {
	srv.mu.Lock()
	t := srv.targets[id]
	srv.mu.Unlock()
	if t == nil {
		return
	}
	if err := t.conn.Send(m); err != nil {
		srv.log.WithError(err).WithFields(logrus.Fields{
			"target":  id,
			"channel": m.Address,
		}).Debug("send failed")
	}
}
