// Package linkclient is the per-window proxy of a link server.
//
// A Client caches the server's initialized and enabled flags, pushes and
// pulls tempo, answers the server's liveness query and re-emits the
// server's broadcasts to local listeners. It works over any transport.Conn.
package linkclient

import (
	"context"
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

// DefaultTimeout bounds every round trip to the server.
const DefaultTimeout = time.Second

// Config contains configuration for a Client.
type Config struct {
	// Timeout bounds the enable handshake and phase/tempo queries.
	Timeout time.Duration
	// Range is the acceptable tempo range. Local tempos are folded into it.
	Range tempo.Range
	// Quantum is used by Enable when the caller passes a non-positive one.
	Quantum float64
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Range == (tempo.Range{}) {
		c.Range = tempo.DefaultRange()
	}
	if c.Quantum <= 0 {
		c.Quantum = clock.DefaultQuantum
	}
	return c
}

// Client talks to a link server on behalf of one target.
type Client struct {
	Config

	id    string
	conn  transport.Conn
	log   logrus.FieldLogger
	tempo *tempo.Tracker

	// events re-emits server broadcasts after the cached state is updated.
	events *transport.Emitter

	mu          sync.Mutex
	initialized bool
	enabled     bool
	engaged     bool
	subs        []transport.Subscription
}

// New creates a client for target id on conn and subscribes to the
// server's channels.
func New(id string, conn transport.Conn, config Config, log logrus.FieldLogger) *Client {
	if log == nil {
		log = logrus.StandardLogger()
	}
	log = log.WithField("target", id)

	c := &Client{
		Config: config.withDefaults(),
		id:     id,
		conn:   conn,
		log:    log,
		tempo:  tempo.NewTracker(id),
		events: transport.NewEmitter(log),
	}
	for _, capability := range []string{linkosc.InitializedStatus, linkosc.EnabledStatus} {
		c.subscribe(linkosc.Channel(capability), c.status)
		c.subscribe(linkosc.Scoped(capability, id), c.status)
	}
	c.subscribe(linkosc.Channel(linkosc.BPM), c.bpm)
	for _, capability := range []string{linkosc.Beat, linkosc.Downbeat, linkosc.NumPeers, linkosc.Quantum} {
		c.subscribe(linkosc.Channel(capability), c.events.Emit)
	}
	c.subscribe(linkosc.Scoped(linkosc.IsEnabled, id), func(osc.Message) error {
		return c.conn.Send(linkosc.BoolMessage(linkosc.Channel(linkosc.IsEnabled), c.IsEngaged()))
	})
	return c
}

func (c *Client) subscribe(channel string, h osc.Method) {
	c.subs = append(c.subs, c.conn.On(channel, h))
}

// ID returns the target id of the client.
func (c *Client) ID() string {
	return c.id
}

// status caches a status push and re-emits it on the broadcast channel.
func (c *Client) status(m osc.Message) error {
	capability, _, ok := linkosc.Split(m.Address)
	if !ok {
		return errors.Errorf("unexpected status channel %s", m.Address)
	}
	on, err := linkosc.ReadBool(m)
	if err != nil {
		return err
	}
	c.mu.Lock()
	switch capability {
	case linkosc.InitializedStatus:
		c.initialized = on
	case linkosc.EnabledStatus:
		c.enabled = on
	}
	c.mu.Unlock()

	return c.events.Emit(linkosc.BoolMessage(linkosc.Channel(capability), on))
}

// bpm forwards tempo broadcasts that are new to this client.
func (c *Client) bpm(m osc.Message) error {
	bpm, origin, err := linkosc.ReadBPM(m)
	if err != nil {
		return err
	}
	if !c.tempo.Remote(bpm, origin) {
		return nil
	}
	return c.events.Emit(m)
}

// IsInitialized returns the cached initialized flag.
func (c *Client) IsInitialized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initialized
}

// IsEnabled returns the cached enabled flag.
func (c *Client) IsEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}

// IsEngaged reports whether this client wants link to stay enabled.
func (c *Client) IsEngaged() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.engaged
}

// Ping asks the server to push its current status.
func (c *Client) Ping() error {
	return errors.Wrap(c.conn.Send(linkosc.Message(linkosc.Channel(linkosc.Ping))), "sending ping")
}

// Enable initializes the server if needed, then enables it. onEnabled is
// called once the server confirms. Enable returns immediately.
func (c *Client) Enable(ctx context.Context, bpm, quantum float64, onEnabled func()) {
	c.mu.Lock()
	c.engaged = true
	initialized := c.initialized
	c.mu.Unlock()

	if quantum <= 0 {
		quantum = c.Config.Quantum
	}
	go func() {
		if err := c.enable(ctx, initialized, bpm, quantum); err != nil {
			c.log.WithError(err).Warn("enabling link failed")
			return
		}
		if onEnabled != nil {
			onEnabled()
		}
	}()
}

func (c *Client) enable(ctx context.Context, initialized bool, bpm, quantum float64) error {
	if !initialized {
		bpm = c.Range.Fold(bpm)
		c.tempo.Local(bpm)
		if err := c.conn.Send(linkosc.InitMessage(bpm, quantum)); err != nil {
			return errors.Wrap(err, "sending init")
		}
		c.mu.Lock()
		c.initialized = true
		c.mu.Unlock()
	}
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	r, err := c.conn.Invoke(ctx, linkosc.Message(linkosc.Channel(linkosc.Enable)), linkosc.Scoped(linkosc.Enable, c.id))
	if err != nil {
		return err
	}
	enabled, err := linkosc.ReadBool(r)
	if err != nil {
		return err
	}
	if !enabled {
		return errors.New("server refused to enable")
	}
	c.log.Info("link enabled")
	return nil
}

// Disable tells the server this client no longer uses link. The server
// only disables once no other target uses it.
func (c *Client) Disable() error {
	c.mu.Lock()
	c.engaged = false
	initialized := c.initialized
	c.mu.Unlock()

	if !initialized {
		return nil
	}
	return errors.Wrap(c.conn.Send(linkosc.Message(linkosc.Channel(linkosc.Disable))), "sending disable")
}

// Kill terminates the server's clock session.
func (c *Client) Kill() error {
	c.mu.Lock()
	c.engaged = false
	c.mu.Unlock()
	return errors.Wrap(c.conn.Send(linkosc.Message(linkosc.Channel(linkosc.Kill))), "sending kill")
}

// GetPhaseSynchronous blocks until the server reports the current phase or
// Timeout elapses.
func (c *Client) GetPhaseSynchronous() (float64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.Timeout)
	defer cancel()
	return c.query(ctx, linkosc.GetPhaseSync, linkosc.GetPhaseSync)
}

// RequestPhase asks for the current phase and calls cb with the answer.
func (c *Client) RequestPhase(cb func(phase float64)) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.Timeout)
		defer cancel()
		phase, err := c.query(ctx, linkosc.GetPhase, linkosc.Phase)
		if err != nil {
			c.log.WithError(err).Warn("phase request failed")
			return
		}
		cb(phase)
	}()
}

// SetBPMToLinkBPM asks for the session tempo and calls cb with it.
func (c *Client) SetBPMToLinkBPM(cb func(bpm float64)) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.Timeout)
		defer cancel()
		bpm, err := c.query(ctx, linkosc.GetTempo, linkosc.Tempo)
		if err != nil {
			c.log.WithError(err).Warn("tempo request failed")
			return
		}
		c.tempo.Remote(bpm, linkosc.OriginLink)
		cb(bpm)
	}()
}

// Tempo asks for the session tempo.
func (c *Client) Tempo(ctx context.Context) (float64, error) {
	bpm, err := c.query(ctx, linkosc.GetTempo, linkosc.Tempo)
	if err != nil {
		return 0, err
	}
	c.tempo.Remote(bpm, linkosc.OriginLink)
	return bpm, nil
}

// Quantum asks for the session quantum.
func (c *Client) Quantum(ctx context.Context) (float64, error) {
	return c.query(ctx, linkosc.GetQuantum, linkosc.Quantum)
}

// SetQuantum renegotiates the session quantum.
func (c *Client) SetQuantum(quantum float64) error {
	return errors.Wrap(c.conn.Send(linkosc.FloatMessage(linkosc.Channel(linkosc.SetQuantum), quantum)), "sending set-quantum")
}

func (c *Client) query(ctx context.Context, request, reply string) (float64, error) {
	r, err := c.conn.Invoke(ctx, linkosc.Message(linkosc.Channel(request)), linkosc.Scoped(reply, c.id))
	if err != nil {
		return 0, err
	}
	return linkosc.ReadFloat(r)
}

// UpdateLinkBPM pushes a local tempo change to the server. The tempo is
// folded into range and only sent when it differs from the last known one.
func (c *Client) UpdateLinkBPM(bpm float64) error {
	bpm = c.Range.Fold(bpm)
	if !c.tempo.Local(bpm) {
		return nil
	}
	return errors.Wrap(c.conn.Send(linkosc.BPMMessage(linkosc.Channel(linkosc.SetBPM), bpm, c.id)), "sending set-bpm")
}

// Close unsubscribes from the server and closes the connection.
func (c *Client) Close() error {
	for _, sub := range c.subs {
		c.conn.RemoveListener(sub)
	}
	c.events.Close()
	return errors.Wrap(c.conn.Close(), "closing connection")
}
