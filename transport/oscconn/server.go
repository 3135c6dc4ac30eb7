package oscconn

import (
	"context"
	"net"
	"strconv"
	"sync"

	"github.com/pkg/errors"
	"github.com/scgolang/linksync/linkosc"
	"github.com/scgolang/linksync/transport"
	"github.com/scgolang/osc"
	"github.com/sirupsen/logrus"
)

// TargetFunc is called when a target registers.
type TargetFunc func(id string, c transport.Conn)

// Listener is the server side of OSC link connections.
// It creates one transport.Conn per registered target.
type Listener struct {
	log      logrus.FieldLogger
	udp      *osc.UDPConn
	onTarget TargetFunc

	mu      sync.Mutex
	targets map[string]*target
	closed  bool
}

// Listen starts listening on host:port. onTarget is called on the receive
// loop for every target that registers.
func Listen(host string, port int, onTarget TargetFunc, log logrus.FieldLogger) (*Listener, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	laddr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, errors.Wrap(err, "resolving listen address")
	}
	udp, err := osc.ListenUDP("udp", laddr)
	if err != nil {
		return nil, errors.Wrap(err, "creating OSC server")
	}
	return &Listener{
		log:      log,
		udp:      udp,
		onTarget: onTarget,
		targets:  map[string]*target{},
	}, nil
}

// Addr returns the local address of the listener.
func (l *Listener) Addr() net.Addr {
	return l.udp.LocalAddr()
}

// Serve runs the receive loop until ctx is done or the listener is closed.
func (l *Listener) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		_ = l.Close()
	}()
	err := l.udp.Serve(1, osc.PatternMatching{
		Address: osc.Method(l.receive),
	})
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return nil
	}
	return errors.Wrap(err, "serving OSC")
}

// Close closes every target and the listener.
func (l *Listener) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	targets := l.targets
	l.targets = map[string]*target{}
	l.mu.Unlock()

	for _, t := range targets {
		t.shutdown()
	}
	return errors.Wrap(l.udp.Close(), "closing OSC server")
}

func (l *Listener) receive(m osc.Message) error {
	id, inner, err := open(m)
	if err != nil {
		l.log.WithError(err).Warn("dropping malformed datagram")
		return nil
	}
	log := l.log.WithField("target", id)

	switch inner.Address {
	case linkosc.Channel(linkosc.Register):
		addr, err := readRegister(inner)
		if err != nil {
			log.WithError(err).Warn("bad register message")
			return nil
		}
		l.register(id, addr, log)
	case linkosc.Channel(linkosc.Unregister):
		l.unregister(id)
	default:
		l.mu.Lock()
		t := l.targets[id]
		l.mu.Unlock()
		if t == nil {
			log.WithField("channel", inner.Address).Debug("dropping datagram from unregistered target")
			return nil
		}
		if err := t.Emit(inner); err != nil {
			log.WithError(err).Debug("dropping datagram after close")
		}
	}
	return nil
}

func (l *Listener) register(id string, addr net.Addr, log logrus.FieldLogger) {
	t := &target{
		Emitter: transport.NewEmitter(log),
		id:      id,
		addr:    addr,
		l:       l,
		closed:  make(chan struct{}),
	}
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		t.shutdown()
		return
	}
	old := l.targets[id]
	l.targets[id] = t
	l.mu.Unlock()

	if old != nil {
		old.shutdown()
	}
	log.WithField("addr", addr).Info("target registered")
	if l.onTarget != nil {
		l.onTarget(id, t)
	}
}

func (l *Listener) unregister(id string) {
	l.mu.Lock()
	t := l.targets[id]
	delete(l.targets, id)
	l.mu.Unlock()

	if t != nil {
		t.shutdown()
		l.log.WithField("target", id).Info("target unregistered")
	}
}

func (l *Listener) sendTo(id string, addr net.Addr, m osc.Message) error {
	return errors.Wrapf(l.udp.SendTo(addr, seal(id, m)), "sending to %s", addr)
}

// target is the server side Conn of one registered target.
type target struct {
	*transport.Emitter

	id   string
	addr net.Addr
	l    *Listener

	once   sync.Once
	closed chan struct{}
}

func (t *target) Send(m osc.Message) error {
	select {
	case <-t.closed:
		return transport.ErrClosed
	default:
	}
	return t.l.sendTo(t.id, t.addr, m)
}

func (t *target) Invoke(ctx context.Context, m osc.Message, reply string) (osc.Message, error) {
	return transport.Invoke(ctx, t, m, reply)
}

func (t *target) Done() <-chan struct{} {
	return t.closed
}

// Close drops the target from the listener.
func (t *target) Close() error {
	t.l.mu.Lock()
	if t.l.targets[t.id] == t {
		delete(t.l.targets, t.id)
	}
	t.l.mu.Unlock()
	t.shutdown()
	return nil
}

func (t *target) shutdown() {
	t.once.Do(func() {
		close(t.closed)
		t.Emitter.Close()
	})
}
