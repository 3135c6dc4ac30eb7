package transport

import (
	"context"
	"sync"

	"github.com/scgolang/osc"
	"github.com/sirupsen/logrus"
)

// PipeConn is one end of an in-process pipe.
type PipeConn struct {
	*Emitter

	peer   *PipeConn
	closed chan struct{}
	once   *sync.Once
}

// Pipe returns two connected in-process endpoints. Closing either end
// closes both.
func Pipe(log logrus.FieldLogger) (*PipeConn, *PipeConn) {
	var (
		closed = make(chan struct{})
		once   = &sync.Once{}
		a      = &PipeConn{Emitter: NewEmitter(log), closed: closed, once: once}
		b      = &PipeConn{Emitter: NewEmitter(log), closed: closed, once: once}
	)
	a.peer, b.peer = b, a
	return a, b
}

// Send delivers m to the other end.
func (p *PipeConn) Send(m osc.Message) error {
	select {
	case <-p.closed:
		return ErrClosed
	default:
	}
	return p.peer.Emit(m)
}

// Invoke sends m and waits for the next message on reply.
func (p *PipeConn) Invoke(ctx context.Context, m osc.Message, reply string) (osc.Message, error) {
	return Invoke(ctx, p, m, reply)
}

// Done is closed when either end is closed.
func (p *PipeConn) Done() <-chan struct{} {
	return p.closed
}

// Close closes both ends of the pipe.
func (p *PipeConn) Close() error {
	p.once.Do(func() {
		close(p.closed)
		p.Emitter.Close()
		p.peer.Emitter.Close()
	})
	return nil
}
