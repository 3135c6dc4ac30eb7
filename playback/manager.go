package playback

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/scgolang/linksync/clock"
	"github.com/scgolang/linksync/tempo"
	"github.com/scgolang/linksync/transport"
	"github.com/sirupsen/logrus"
)

// ErrLinkRegistered is returned when a second link client is registered.
var ErrLinkRegistered = errors.New("link client already registered")

// State is the playback state of a Manager.
type State int

// Manager states.
const (
	Stopped State = iota
	WaitingForDownbeat
	Playing
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case WaitingForDownbeat:
		return "waiting for downbeat"
	case Playing:
		return "playing"
	}
	return "unknown"
}

// Defaults.
const (
	DefaultLookAhead        = 100 * time.Millisecond
	DefaultWatchdogMeasures = 2
)

// Link is the part of a link client the manager uses.
type Link interface {
	IsEnabled() bool
	Enable(ctx context.Context, bpm, quantum float64, onEnabled func())
	Disable() error
	UpdateLinkBPM(bpm float64) error
	RequestPhase(cb func(phase float64))
	OnBPM(f func(bpm float64)) transport.Subscription
	OnQuantum(f func(quantum float64)) transport.Subscription
	OnceDownbeat(f func()) transport.Subscription
	RemoveListener(s transport.Subscription)
}

// Sink follows the transport, e.g. to drive external gear.
type Sink interface {
	Start(p Position) error
	Stop() error
	Locate(p Position) error
}

// measureSink is implemented by sinks whose positions depend on the
// measure length.
type measureSink interface {
	SetBeatsPerMeasure(beats float64)
}

// Config contains configuration for a Manager.
type Config struct {
	// LookAhead is the safety lookahead used when not in low latency mode.
	LookAhead time.Duration
	// Quantum is the initial number of beats in a measure. The link
	// session can change it later.
	Quantum float64
	// Range is the acceptable tempo range. Local tempo changes are folded
	// into it.
	Range tempo.Range
	// WatchdogMeasures is the number of measures between phase resyncs.
	WatchdogMeasures int
}

func (c Config) withDefaults() Config {
	if c.LookAhead <= 0 {
		c.LookAhead = DefaultLookAhead
	}
	if c.Quantum <= 0 {
		c.Quantum = clock.DefaultQuantum
	}
	if c.Range == (tempo.Range{}) {
		c.Range = tempo.DefaultRange()
	}
	if c.WatchdogMeasures <= 0 {
		c.WatchdogMeasures = DefaultWatchdogMeasures
	}
	return c
}

// Manager starts and stops a transport, optionally in sync with link.
type Manager struct {
	Config

	engine Transport
	log    logrus.FieldLogger

	mu         sync.Mutex
	state      State
	link       Link
	quantum    float64
	pending    *transport.Subscription
	gen        uint64
	lowLatency bool
	sinks      []Sink
}

// NewManager creates a stopped manager for engine.
func NewManager(engine Transport, config Config, log logrus.FieldLogger) *Manager {
	if log == nil {
		log = logrus.StandardLogger()
	}
	m := &Manager{
		Config: config.withDefaults(),
		engine: engine,
		log:    log,
	}
	m.quantum = m.Config.Quantum
	engine.SetLookAhead(m.LookAhead)
	engine.SetBeatsPerMeasure(m.quantum)
	return m
}

// AddSink adds a sink that follows start, stop and relocation.
func (m *Manager) AddSink(s Sink) {
	m.mu.Lock()
	if ms, ok := s.(measureSink); ok {
		ms.SetBeatsPerMeasure(m.quantum)
	}
	m.sinks = append(m.sinks, s)
	m.mu.Unlock()
}

// State returns the playback state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Link returns the registered link client, or nil.
func (m *Manager) Link() Link {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.link
}

// RegisterLinkClient registers the link client. Only the first
// registration counts; later ones return ErrLinkRegistered.
func (m *Manager) RegisterLinkClient(l Link) error {
	m.mu.Lock()
	if m.link != nil {
		m.mu.Unlock()
		m.log.Error("link client already registered, keeping the first one")
		return ErrLinkRegistered
	}
	m.link = l
	m.mu.Unlock()

	l.OnBPM(func(bpm float64) {
		m.engine.SetBPM(bpm)
	})
	l.OnQuantum(m.SetQuantum)
	return nil
}

// BeatsPerMeasure returns the current quantum.
func (m *Manager) BeatsPerMeasure() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.quantum
}

// SetQuantum changes the measure length of the transport and the sinks,
// e.g. after the link session renegotiated its quantum. Non-positive
// values are ignored.
func (m *Manager) SetQuantum(quantum float64) {
	if quantum <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if quantum == m.quantum {
		return
	}
	m.quantum = quantum
	m.engine.SetBeatsPerMeasure(quantum)
	for _, s := range m.sinks {
		if ms, ok := s.(measureSink); ok {
			ms.SetBeatsPerMeasure(quantum)
		}
	}
	m.log.WithField("quantum", quantum).Info("quantum changed")
}

// EnableLink asks the server to enable link and synchronizes once it has.
func (m *Manager) EnableLink(ctx context.Context) error {
	l := m.Link()
	if l == nil {
		return errors.New("no link client registered")
	}
	l.Enable(ctx, m.engine.BPM(), m.BeatsPerMeasure(), m.SynchronizeToLink)
	return nil
}

// DisableLink tells the server this manager no longer uses link.
func (m *Manager) DisableLink() error {
	l := m.Link()
	if l == nil {
		return nil
	}
	return errors.Wrap(l.Disable(), "disabling link")
}

// Play starts playback. With link enabled, playback starts on the next
// downbeat at the start of the loop.
func (m *Manager) Play(ctx context.Context) error {
	if err := m.engine.Resume(ctx); err != nil {
		return errors.Wrap(err, "resuming transport")
	}
	m.mu.Lock()
	if m.state != Stopped {
		m.mu.Unlock()
		return nil
	}
	if m.link == nil || !m.link.IsEnabled() {
		err := m.startLocked(m.lookAheadLocked(), m.engine.Position())
		m.mu.Unlock()
		return err
	}
	m.gen++
	gen := m.gen
	sub := m.link.OnceDownbeat(func() {
		m.onDownbeat(gen)
	})
	m.pending = &sub
	m.state = WaitingForDownbeat
	m.mu.Unlock()

	m.log.Debug("waiting for downbeat")
	return nil
}

func (m *Manager) onDownbeat(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.gen || m.state != WaitingForDownbeat {
		return
	}
	m.pending = nil
	m.engine.SetPosition(Position{})
	if err := m.startLocked(0, Position{}); err != nil {
		m.log.WithError(err).Error("starting on downbeat")
	}
}

// startLocked starts the engine. On failure the manager stays stopped.
func (m *Manager) startLocked(lookahead time.Duration, pos Position) error {
	if err := m.engine.Start(lookahead); err != nil {
		m.state = Stopped
		return errors.Wrap(err, "starting transport")
	}
	m.state = Playing
	for _, s := range m.sinks {
		if err := s.Start(pos); err != nil {
			m.log.WithError(err).Warn("sink failed to start")
		}
	}
	return nil
}

// Stop stops playback and cancels a pending downbeat start.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.gen++
	if m.pending != nil {
		m.link.RemoveListener(*m.pending)
		m.pending = nil
	}
	wasPlaying := m.state == Playing
	m.engine.Stop()
	m.state = Stopped
	if !wasPlaying {
		return
	}
	for _, s := range m.sinks {
		if err := s.Stop(); err != nil {
			m.log.WithError(err).Warn("sink failed to stop")
		}
	}
}

// SynchronizeToLink moves the transport to the session phase, keeping the
// current measure. It does nothing unless playing with link enabled.
func (m *Manager) SynchronizeToLink() {
	m.mu.Lock()
	l, gen := m.link, m.gen
	ok := m.state == Playing && l != nil && l.IsEnabled()
	m.mu.Unlock()
	if !ok {
		return
	}
	l.RequestPhase(func(phase float64) {
		m.applyPhase(gen, phase)
	})
}

func (m *Manager) applyPhase(gen uint64, phase float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.gen || m.state != Playing {
		return
	}
	pos := m.engine.Position()
	pos.Phase = clock.PhaseOf(phase, m.quantum)
	m.engine.SetPosition(pos)
	m.log.WithFields(logrus.Fields{"measure": pos.Measure, "phase": pos.Phase}).Debug("synchronized to link")

	for _, s := range m.sinks {
		if err := s.Locate(pos); err != nil {
			m.log.WithError(err).Warn("sink failed to locate")
		}
	}
}

// SetBPM applies a local tempo change and pushes it to link. The tempo is
// folded into Range first, so transport and session agree.
func (m *Manager) SetBPM(bpm float64) error {
	bpm = m.Range.Fold(bpm)
	m.engine.SetBPM(bpm)
	l := m.Link()
	if l == nil || !l.IsEnabled() {
		return nil
	}
	return errors.Wrap(l.UpdateLinkBPM(bpm), "updating link tempo")
}

// ToggleLowLatency switches low latency mode and returns the new mode.
func (m *Manager) ToggleLowLatency() bool {
	m.mu.Lock()
	on := !m.lowLatency
	m.mu.Unlock()
	m.SetLowLatency(on)
	return on
}

// SetLowLatency sets the engine lookahead to zero, or back to the safety
// lookahead.
func (m *Manager) SetLowLatency(on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lowLatency = on
	m.engine.SetLookAhead(m.lookAheadLocked())
}

// LowLatency reports whether low latency mode is on.
func (m *Manager) LowLatency() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lowLatency
}

func (m *Manager) lookAheadLocked() time.Duration {
	if m.lowLatency {
		return 0
	}
	return m.LookAhead
}

// Run resynchronizes to link every WatchdogMeasures measures until ctx is
// done.
func (m *Manager) Run(ctx context.Context) error {
	for {
		timer := time.NewTimer(m.watchdogInterval())
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
			m.SynchronizeToLink()
		}
	}
}

func (m *Manager) watchdogInterval() time.Duration {
	d := clock.BeatsToDuration(float64(m.WatchdogMeasures)*m.BeatsPerMeasure(), m.engine.BPM())
	if d <= 0 {
		return time.Second
	}
	return d
}
