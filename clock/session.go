package clock

import (
	"sync"
	"time"
)

// Session is a software clock session. The timeline is anchored at a
// (time, beat) pair and advances at the current tempo; tempo changes
// re-anchor it so the beat count stays continuous.
type Session struct {
	now func() time.Time

	mu         sync.Mutex
	enabled    bool
	bpm        float64
	quantum    float64
	anchorTime time.Time
	anchorBeat float64
	numPeers   uint64

	tempoCallback    func(float64)
	numPeersCallback func(uint64)

	update *updateLoop
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithNow sets the time source of the session.
func WithNow(now func() time.Time) SessionOption {
	return func(s *Session) {
		s.now = now
	}
}

// NewSession creates a session at the given tempo and quantum.
func NewSession(bpm, quantum float64, opts ...SessionOption) *Session {
	s := &Session{
		now:     time.Now,
		bpm:     bpm,
		quantum: quantum,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.quantum <= 0 {
		s.quantum = DefaultQuantum
	}
	s.anchorTime = s.now()
	return s
}

// Enable enables or disables the session.
func (s *Session) Enable(enable bool) {
	s.mu.Lock()
	s.enabled = enable
	s.mu.Unlock()
}

// IsEnabled returns whether the session is enabled.
func (s *Session) IsEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// BPM returns the current tempo.
func (s *Session) BPM() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bpm
}

// SetBPM changes the tempo, keeping the beat count continuous.
// The tempo callback fires when the value changes.
func (s *Session) SetBPM(bpm float64) {
	if bpm <= 0 {
		return
	}
	s.mu.Lock()
	if s.bpm == bpm {
		s.mu.Unlock()
		return
	}
	now := s.now()
	s.anchorBeat = s.beatAt(now)
	s.anchorTime = now
	s.bpm = bpm
	cb := s.tempoCallback
	s.mu.Unlock()

	if cb != nil {
		cb(bpm)
	}
}

// Quantum returns the current quantum.
func (s *Session) Quantum() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.quantum
}

// SetQuantum sets the quantum. Non-positive values are ignored.
func (s *Session) SetQuantum(quantum float64) {
	if quantum <= 0 {
		return
	}
	s.mu.Lock()
	s.quantum = quantum
	s.mu.Unlock()
}

// NumPeers returns the number of connected peers.
func (s *Session) NumPeers() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.numPeers
}

// SetNumPeers records a change in the number of peers, as a remote peer
// joining or leaving the session would.
func (s *Session) SetNumPeers(n uint64) {
	s.mu.Lock()
	if s.numPeers == n {
		s.mu.Unlock()
		return
	}
	s.numPeers = n
	cb := s.numPeersCallback
	s.mu.Unlock()

	if cb != nil {
		cb(n)
	}
}

// RequestBeat maps beat to the current time.
func (s *Session) RequestBeat(beat float64) {
	s.mu.Lock()
	s.anchorTime = s.now()
	s.anchorBeat = beat
	s.mu.Unlock()
}

// Beat returns the beat at the current time.
func (s *Session) Beat() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.beatAt(s.now())
}

// Phase returns the phase at the current time.
func (s *Session) Phase() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return PhaseOf(s.beatAt(s.now()), s.quantum)
}

func (s *Session) beatAt(t time.Time) float64 {
	return s.anchorBeat + t.Sub(s.anchorTime).Seconds()*s.bpm/60
}

func (s *Session) sample() (beat, phase, bpm float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	beat = s.beatAt(s.now())
	return beat, PhaseOf(beat, s.quantum), s.bpm
}

// SetTempoCallback sets a callback to be called when the tempo changes.
func (s *Session) SetTempoCallback(cb func(float64)) {
	s.mu.Lock()
	s.tempoCallback = cb
	s.mu.Unlock()
}

// SetNumPeersCallback sets a callback to be called when the number of peers changes.
func (s *Session) SetNumPeersCallback(cb func(uint64)) {
	s.mu.Lock()
	s.numPeersCallback = cb
	s.mu.Unlock()
}

// StartUpdate starts sampling the session every interval.
func (s *Session) StartUpdate(interval time.Duration, cb UpdateFunc) {
	s.mu.Lock()
	old := s.update
	s.update = startUpdateLoop(interval, s.sample, cb)
	s.mu.Unlock()

	if old != nil {
		old.stop()
	}
}

// StopUpdate stops the update loop.
func (s *Session) StopUpdate() {
	s.mu.Lock()
	old := s.update
	s.update = nil
	s.mu.Unlock()

	if old != nil {
		old.stop()
	}
}

// Close stops updates and disables the session.
func (s *Session) Close() error {
	s.StopUpdate()
	s.Enable(false)
	return nil
}

type updateLoop struct {
	once sync.Once
	quit chan struct{}
}

func startUpdateLoop(interval time.Duration, sample func() (float64, float64, float64), cb UpdateFunc) *updateLoop {
	if interval <= 0 {
		interval = DefaultUpdateInterval
	}
	l := &updateLoop{quit: make(chan struct{})}
	ticker := time.NewTicker(interval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-l.quit:
				return
			case <-ticker.C:
			}
			// A stop may race with the tick; check again before calling out.
			select {
			case <-l.quit:
				return
			default:
			}
			cb(sample())
		}
	}()
	return l
}

func (l *updateLoop) stop() {
	l.once.Do(func() { close(l.quit) })
}
