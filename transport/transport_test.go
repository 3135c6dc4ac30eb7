package transport_test

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/scgolang/linksync/transport"
	"github.com/scgolang/osc"
)

func TestPipeOrdering(t *testing.T) {
	a, b := transport.Pipe(nil)
	defer a.Close()

	got := make(chan int32, 10)
	b.On("/n", func(m osc.Message) error {
		n, err := m.Arguments[0].ReadInt32()
		if err != nil {
			return err
		}
		got <- n
		return nil
	})
	for i := int32(0); i < 10; i++ {
		if err := a.Send(osc.Message{Address: "/n", Arguments: osc.Arguments{osc.Int(i)}}); err != nil {
			t.Fatal(err)
		}
	}
	for i := int32(0); i < 10; i++ {
		n, ok := transport.TimeoutReceive(got, time.Second)
		if !ok {
			t.Fatalf("timeout waiting for message %d", i)
		}
		if n != i {
			t.Fatalf("expected %d, got %d", i, n)
		}
	}
}

func TestOnceAndRemoveListener(t *testing.T) {
	a, b := transport.Pipe(nil)
	defer a.Close()

	var (
		once    = make(chan struct{}, 4)
		removed = make(chan struct{}, 4)
		always  = make(chan struct{}, 4)
	)
	b.Once("/x", func(osc.Message) error { once <- struct{}{}; return nil })
	sub := b.On("/x", func(osc.Message) error { removed <- struct{}{}; return nil })
	b.On("/x", func(osc.Message) error { always <- struct{}{}; return nil })
	b.RemoveListener(sub)
	b.RemoveListener(sub)

	for i := 0; i < 2; i++ {
		if err := a.Send(osc.Message{Address: "/x"}); err != nil {
			t.Fatal(err)
		}
	}
	for i := 0; i < 2; i++ {
		if _, ok := transport.TimeoutReceive(always, time.Second); !ok {
			t.Fatal("timeout waiting for persistent listener")
		}
	}
	if len(once) != 1 {
		t.Fatalf("expected once listener to fire once, fired %d times", len(once))
	}
	if len(removed) != 0 {
		t.Fatalf("expected removed listener not to fire, fired %d times", len(removed))
	}
}

func TestInvoke(t *testing.T) {
	a, b := transport.Pipe(nil)
	defer a.Close()

	b.On("/get", func(osc.Message) error {
		return b.Send(osc.Message{Address: "/reply", Arguments: osc.Arguments{osc.Float(42)}})
	})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	r, err := a.Invoke(ctx, osc.Message{Address: "/get"}, "/reply")
	if err != nil {
		t.Fatal(err)
	}
	f, err := r.Arguments[0].ReadFloat32()
	if err != nil {
		t.Fatal(err)
	}
	if f != 42 {
		t.Fatalf("expected 42, got %f", f)
	}
}

func TestInvokeTimeout(t *testing.T) {
	a, _ := transport.Pipe(nil)
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := a.Invoke(ctx, osc.Message{Address: "/get"}, "/reply")
	if errors.Cause(err) != context.DeadlineExceeded {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestClose(t *testing.T) {
	a, b := transport.Pipe(nil)
	if err := b.Close(); err != nil {
		t.Fatal(err)
	}
	select {
	case <-a.Done():
	default:
		t.Fatal("expected peer to be done after close")
	}
	if err := a.Send(osc.Message{Address: "/x"}); errors.Cause(err) != transport.ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestTrySend(t *testing.T) {
	c := make(chan int, 1)
	if !transport.TrySend(c, 1) {
		t.Fatal("expected first send to succeed")
	}
	if transport.TrySend(c, 2) {
		t.Fatal("expected send on full channel to fail")
	}
}
