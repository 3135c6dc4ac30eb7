package linkserver

import (
	"context"

	"github.com/pkg/errors"
	"github.com/scgolang/linksync/linkosc"
	"github.com/scgolang/linksync/transport"
	"github.com/scgolang/osc"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// errInUse stops the query group as soon as one target answers yes.
var errInUse = errors.New("link in use")

// Attach registers a target and serves its requests on conn. The target is
// removed when conn is closed.
func (srv *Server) Attach(id string, conn transport.Conn) {
	srv.RegisterTarget(id, conn)

	var (
		log  = srv.log.WithField("target", id)
		subs []transport.Subscription
	)
	handle := func(capability string, h func(osc.Message) error) {
		subs = append(subs, conn.On(linkosc.Channel(capability), func(m osc.Message) error {
			return errors.Wrap(h(m), capability)
		}))
	}
	handle(linkosc.Ping, func(osc.Message) error {
		srv.sendStatus(id)
		return nil
	})
	handle(linkosc.Init, func(m osc.Message) error {
		bpm, quantum, err := linkosc.ReadInit(m)
		if err != nil {
			return err
		}
		return srv.Init(bpm, quantum)
	})
	handle(linkosc.Enable, func(osc.Message) error {
		err := srv.Enable()
		enabled := srv.IsEnabled()
		srv.sendTo(id, linkosc.BoolMessage(linkosc.Scoped(linkosc.EnabledStatus, id), enabled))
		// The acknowledgement has its own channel: scoped enabled-status
		// is also pushed on attach, ping and disable.
		srv.sendTo(id, linkosc.BoolMessage(linkosc.Scoped(linkosc.Enable, id), enabled))
		return err
	})
	handle(linkosc.Disable, func(osc.Message) error {
		// Probing waits on the replies of every target, including this
		// one, so it cannot run on this target's event loop.
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*srv.QueryTimeout)
			defer cancel()
			if _, err := srv.Disable(ctx); err != nil {
				log.WithError(err).Warn("disable failed")
			}
			srv.sendTo(id, linkosc.BoolMessage(linkosc.Scoped(linkosc.EnabledStatus, id), srv.IsEnabled()))
		}()
		return nil
	})
	handle(linkosc.Kill, func(osc.Message) error {
		return srv.Kill()
	})
	handle(linkosc.SetBPM, func(m osc.Message) error {
		bpm, origin, err := linkosc.ReadBPM(m)
		if err != nil {
			return err
		}
		if origin == "" {
			origin = id
		}
		srv.SetBPM(bpm, origin)
		return nil
	})
	handle(linkosc.GetTempo, func(osc.Message) error {
		srv.sendTo(id, linkosc.FloatMessage(linkosc.Scoped(linkosc.Tempo, id), srv.binding.BPM()))
		return nil
	})
	handle(linkosc.SetQuantum, func(m osc.Message) error {
		quantum, err := linkosc.ReadFloat(m)
		if err != nil {
			return err
		}
		srv.SetQuantum(quantum)
		return nil
	})
	handle(linkosc.GetQuantum, func(osc.Message) error {
		srv.sendTo(id, linkosc.FloatMessage(linkosc.Scoped(linkosc.Quantum, id), srv.binding.Quantum()))
		return nil
	})
	handle(linkosc.GetPhase, func(osc.Message) error {
		srv.sendTo(id, linkosc.FloatMessage(linkosc.Scoped(linkosc.Phase, id), srv.binding.Phase()))
		return nil
	})
	handle(linkosc.GetPhaseSync, func(osc.Message) error {
		srv.sendTo(id, linkosc.FloatMessage(linkosc.Scoped(linkosc.GetPhaseSync, id), srv.binding.Phase()))
		return nil
	})

	srv.mu.Lock()
	if t := srv.targets[id]; t != nil && t.conn == conn {
		t.subs = subs
	}
	srv.mu.Unlock()

	go func() {
		<-conn.Done()
		srv.removeConn(id, conn)
	}()
	log.Info("target attached")
	srv.sendStatus(id)
}

func (srv *Server) sendStatus(id string) {
	srv.sendTo(id, linkosc.BoolMessage(linkosc.Scoped(linkosc.InitializedStatus, id), srv.IsInitialized()))
	srv.sendTo(id, linkosc.BoolMessage(linkosc.Scoped(linkosc.EnabledStatus, id), srv.IsEnabled()))
}

// anyInUse asks every target whether it still uses link.
func (srv *Server) anyInUse(ctx context.Context) (bool, error) {
	g, gctx := errgroup.WithContext(ctx)
	for _, t := range srv.snapshot() {
		t := t
		g.Go(func() error {
			if srv.targetInUse(gctx, t) {
				return errInUse
			}
			return nil
		})
	}
	switch err := g.Wait(); {
	case err == nil:
		return false, nil
	case ctx.Err() != nil:
		// Targets cut short by the caller have not confirmed anything.
		return false, errors.Wrap(ctx.Err(), "in-use query interrupted")
	case err == errInUse:
		return true, nil
	default:
		return false, err
	}
}

// targetInUse reports whether t should be treated as still using link.
func (srv *Server) targetInUse(ctx context.Context, t *target) bool {
	log := srv.log.WithField("target", t.id)

	pctx, cancel := context.WithTimeout(ctx, srv.QueryTimeout)
	defer cancel()

	r, err := t.conn.Invoke(pctx, linkosc.Message(linkosc.Scoped(linkosc.IsEnabled, t.id)), linkosc.Channel(linkosc.IsEnabled))
	if err != nil {
		switch cause := errors.Cause(err); {
		case cause == transport.ErrClosed:
			return false
		case ctx.Err() != nil:
			// Another target already answered yes, or the caller gave up.
			// Neither confirms that this one is done with link.
			return true
		case !srv.registered(t.id, t.conn):
			log.Debug("target went away during in-use query")
			return false
		default:
			log.WithError(err).Warn("no answer to is-enabled query, treating as in use")
			return true
		}
	}
	enabled, err := linkosc.ReadBool(r)
	if err != nil {
		log.WithError(err).Warn("bad is-enabled answer, treating as in use")
		return true
	}
	log.WithFields(logrus.Fields{"enabled": enabled}).Debug("is-enabled answer")
	return enabled
}
