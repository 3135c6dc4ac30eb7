package transport

import (
	"sync"

	"github.com/scgolang/osc"
	"github.com/sirupsen/logrus"
)

// queueSize is the number of received messages an Emitter buffers before
// Emit blocks.
const queueSize = 1024

type listener struct {
	id   uint64
	h    osc.Method
	once bool
}

// Emitter holds the listeners of one endpoint and runs its event loop.
// Transports embed an Emitter and feed it every message they receive.
type Emitter struct {
	log logrus.FieldLogger

	mu        sync.Mutex
	nextID    uint64
	listeners map[string][]listener

	queue     chan osc.Message
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewEmitter creates an emitter and starts its event loop.
func NewEmitter(log logrus.FieldLogger) *Emitter {
	if log == nil {
		log = logrus.StandardLogger()
	}
	e := &Emitter{
		log:       log,
		listeners: map[string][]listener{},
		queue:     make(chan osc.Message, queueSize),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	go e.loop()
	return e
}

// On registers h for every message on address.
func (e *Emitter) On(address string, h osc.Method) Subscription {
	return e.add(address, h, false)
}

// Once registers h for the next message on address.
func (e *Emitter) Once(address string, h osc.Method) Subscription {
	return e.add(address, h, true)
}

func (e *Emitter) add(address string, h osc.Method, once bool) Subscription {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.nextID++
	e.listeners[address] = append(e.listeners[address], listener{id: e.nextID, h: h, once: once})
	return Subscription{Address: address, id: e.nextID}
}

// RemoveListener removes the listener identified by s.
func (e *Emitter) RemoveListener(s Subscription) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ls := e.listeners[s.Address]
	for i, l := range ls {
		if l.id == s.id {
			ls = append(ls[:i:i], ls[i+1:]...)
			break
		}
	}
	if len(ls) == 0 {
		delete(e.listeners, s.Address)
		return
	}
	e.listeners[s.Address] = ls
}

// Emit queues m for dispatch on the event loop.
func (e *Emitter) Emit(m osc.Message) error {
	select {
	case <-e.quit:
		return ErrClosed
	default:
	}
	select {
	case e.queue <- m:
		return nil
	case <-e.quit:
		return ErrClosed
	}
}

// Done is closed when the emitter is closed.
func (e *Emitter) Done() <-chan struct{} {
	return e.quit
}

// Close stops the event loop. Queued messages are dropped.
func (e *Emitter) Close() {
	e.closeOnce.Do(func() { close(e.quit) })
}

// Wait blocks until the event loop has exited.
func (e *Emitter) Wait() {
	<-e.done
}

func (e *Emitter) loop() {
	defer close(e.done)
	for {
		select {
		case <-e.quit:
			return
		case m := <-e.queue:
			e.dispatch(m)
		}
	}
}

func (e *Emitter) dispatch(m osc.Message) {
	e.mu.Lock()
	ls := e.listeners[m.Address]
	handlers := make([]osc.Method, 0, len(ls))
	kept := ls[:0:0]
	for _, l := range ls {
		handlers = append(handlers, l.h)
		if !l.once {
			kept = append(kept, l)
		}
	}
	if len(kept) == 0 {
		delete(e.listeners, m.Address)
	} else if len(kept) != len(ls) {
		e.listeners[m.Address] = kept
	}
	e.mu.Unlock()

	for _, h := range handlers {
		if err := h(m); err != nil {
			e.log.WithError(err).WithField("channel", m.Address).Warn("handler failed")
		}
	}
}
