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

// Client is the target side of an OSC link connection.
type Client struct {
	*transport.Emitter

	id  string
	log logrus.FieldLogger
	udp *osc.UDPConn

	closeOnce sync.Once
	closed    chan struct{}
	serveErr  chan error
}

// Dial connects to the link server at host:port and registers as target id.
// The connection is closed when ctx is done.
func Dial(ctx context.Context, id, host string, port int, log logrus.FieldLogger) (*Client, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	log = log.WithField("target", id)

	raddr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, errors.Wrap(err, "resolving server address")
	}
	udp, err := osc.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, errors.Wrap(err, "connecting to server")
	}
	laddr, ok := udp.LocalAddr().(*net.UDPAddr)
	if !ok {
		_ = udp.Close()
		return nil, errors.Errorf("unexpected local address %s", udp.LocalAddr())
	}
	c := &Client{
		Emitter:  transport.NewEmitter(log),
		id:       id,
		log:      log,
		udp:      udp,
		closed:   make(chan struct{}),
		serveErr: make(chan error, 1),
	}
	go c.serve()

	if err := c.Send(registerMessage(laddr)); err != nil {
		_ = c.Close()
		return nil, errors.Wrap(err, "sending register message")
	}
	go func() {
		select {
		case <-ctx.Done():
			_ = c.Close()
		case <-c.closed:
		}
	}()
	return c, nil
}

// ID returns the target id of the client.
func (c *Client) ID() string {
	return c.id
}

func (c *Client) serve() {
	err := c.udp.Serve(1, osc.PatternMatching{
		Address: osc.Method(c.receive),
	})
	select {
	case <-c.closed:
		err = nil
	default:
	}
	c.serveErr <- err
	_ = c.Close()
}

func (c *Client) receive(m osc.Message) error {
	target, inner, err := open(m)
	if err != nil {
		c.log.WithError(err).Warn("dropping malformed datagram")
		return nil
	}
	if target != c.id {
		c.log.WithField("to", target).Debug("dropping datagram for another target")
		return nil
	}
	if err := c.Emit(inner); err != nil {
		c.log.WithError(err).Debug("dropping datagram after close")
	}
	return nil
}

// Send sends m to the server.
func (c *Client) Send(m osc.Message) error {
	select {
	case <-c.closed:
		return transport.ErrClosed
	default:
	}
	return errors.Wrap(c.udp.Send(seal(c.id, m)), "sending datagram")
}

// Invoke sends m and waits for the next message on reply.
func (c *Client) Invoke(ctx context.Context, m osc.Message, reply string) (osc.Message, error) {
	return transport.Invoke(ctx, c, m, reply)
}

// Done is closed when the client is closed.
func (c *Client) Done() <-chan struct{} {
	return c.closed
}

// Err returns the error that stopped the receive loop, if it has stopped.
func (c *Client) Err() error {
	select {
	case err := <-c.serveErr:
		c.serveErr <- err
		return err
	default:
		return nil
	}
}

// Close unregisters from the server and closes the connection.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		_ = c.udp.Send(seal(c.id, linkosc.Message(linkosc.Channel(linkosc.Unregister))))
		close(c.closed)
		c.Emitter.Close()
		err = c.udp.Close()
	})
	return errors.Wrap(err, "closing connection")
}
