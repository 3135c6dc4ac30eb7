package linkclient

import (
	"github.com/scgolang/linksync/linkosc"
	"github.com/scgolang/linksync/transport"
	"github.com/scgolang/osc"
)

// On registers h for every server event of the given capability
// (e.g. linkosc.BPM, linkosc.Downbeat, linkosc.EnabledStatus).
// Tempo events are only delivered when they are new to this client.
func (c *Client) On(event string, h osc.Method) transport.Subscription {
	return c.events.On(linkosc.Channel(event), h)
}

// Once registers h for the next server event of the given capability.
func (c *Client) Once(event string, h osc.Method) transport.Subscription {
	return c.events.Once(linkosc.Channel(event), h)
}

// RemoveListener removes a listener registered with On, Once or one of the
// typed helpers. Removing twice is a no-op.
func (c *Client) RemoveListener(s transport.Subscription) {
	c.events.RemoveListener(s)
}

// OnBPM calls f with every new session tempo.
func (c *Client) OnBPM(f func(bpm float64)) transport.Subscription {
	return c.On(linkosc.BPM, func(m osc.Message) error {
		bpm, _, err := linkosc.ReadBPM(m)
		if err != nil {
			return err
		}
		f(bpm)
		return nil
	})
}

// OnDownbeat calls f on every downbeat.
func (c *Client) OnDownbeat(f func()) transport.Subscription {
	return c.On(linkosc.Downbeat, func(osc.Message) error {
		f()
		return nil
	})
}

// OnceDownbeat calls f on the next downbeat.
func (c *Client) OnceDownbeat(f func()) transport.Subscription {
	return c.Once(linkosc.Downbeat, func(osc.Message) error {
		f()
		return nil
	})
}

// OnBeat calls f with the beat count of every beat.
func (c *Client) OnBeat(f func(beat int64)) transport.Subscription {
	return c.On(linkosc.Beat, func(m osc.Message) error {
		beat, err := linkosc.ReadInt(m)
		if err != nil {
			return err
		}
		f(beat)
		return nil
	})
}

// OnNumPeers calls f whenever the number of link peers changes.
func (c *Client) OnNumPeers(f func(peers uint64)) transport.Subscription {
	return c.On(linkosc.NumPeers, func(m osc.Message) error {
		n, err := linkosc.ReadInt(m)
		if err != nil {
			return err
		}
		if n < 0 {
			n = 0
		}
		f(uint64(n))
		return nil
	})
}

// OnEnabledStatus calls f with every enabled status pushed by the server.
func (c *Client) OnEnabledStatus(f func(enabled bool)) transport.Subscription {
	return c.On(linkosc.EnabledStatus, func(m osc.Message) error {
		on, err := linkosc.ReadBool(m)
		if err != nil {
			return err
		}
		f(on)
		return nil
	})
}

// OnQuantum calls f with every quantum the server renegotiates.
func (c *Client) OnQuantum(f func(quantum float64)) transport.Subscription {
	return c.On(linkosc.Quantum, func(m osc.Message) error {
		quantum, err := linkosc.ReadFloat(m)
		if err != nil {
			return err
		}
		f(quantum)
		return nil
	})
}
