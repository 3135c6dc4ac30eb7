// Copyright © 2017 Brian Sorahan <bsorahan@gmail.com>
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cmd

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/faiface/beep"
	"github.com/pkg/errors"
	"github.com/scgolang/linksync/display"
	"github.com/scgolang/linksync/linkclient"
	"github.com/scgolang/linksync/playback"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// statusInterval is how often the UI status table is refreshed.
const statusInterval = 100 * time.Millisecond

var playFlags struct {
	ui         bool
	link       bool
	lowLatency bool
	midiPort   string
	measures   int
}

// playCmd represents the play command
var playCmd = &cobra.Command{
	Use:   "play",
	Short: "Play a loop in sync with a link server",
	Long: `Play a loop in sync with a link server.

While link is enabled, playback starts on the next downbeat of the session
and its phase is corrected every couple of measures. With --midi the
transport is mirrored to a MIDI output as start, stop and song position
messages.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		if flags.Changed("midi") {
			cfg.MIDI.Port = playFlags.midiPort
		}
		if flags.Changed("measures") {
			cfg.Playback.Measures = playFlags.measures
		}
		if flags.Changed("low-latency") {
			cfg.Playback.LowLatency = playFlags.lowLatency
		}
		ctx, cancel := signalContext()
		defer cancel()

		client, err := dial(context.Background(), targetID("play"))
		if err != nil {
			return err
		}
		defer client.Close()

		p, err := newPlayer(client)
		if err != nil {
			return err
		}
		defer p.close()

		if playFlags.ui {
			return p.runUI(ctx)
		}
		return p.run(ctx)
	},
}

func init() {
	flags := playCmd.Flags()
	flags.BoolVar(&playFlags.ui, "ui", true, "show the terminal UI")
	flags.BoolVar(&playFlags.link, "link", false, "enable link on start")
	flags.BoolVar(&playFlags.lowLatency, "low-latency", false, "schedule without lookahead")
	flags.StringVar(&playFlags.midiPort, "midi", "", "MIDI output port for transport sync")
	flags.IntVar(&playFlags.measures, "measures", 4, "loop length in measures")
	RootCmd.AddCommand(playCmd)
}

// player wires a link client, a playback manager and the display.
type player struct {
	client    *linkclient.Client
	engine    *playback.Clock
	manager   *playback.Manager
	follower  *display.Follower
	peers     atomic.Uint64
	closeMIDI func()
}

func newPlayer(client *linkclient.Client) (*player, error) {
	var (
		quantum = cfg.Link.Quantum
		engine  = playback.NewClock(playback.ClockConfig{
			SampleRate:      beep.SampleRate(cfg.Playback.SampleRate),
			BPM:             cfg.Link.BPM,
			BeatsPerMeasure: quantum,
			Measures:        cfg.Playback.Measures,
		})
		manager = playback.NewManager(engine, playback.Config{
			LookAhead:        cfg.Playback.LookAhead,
			Quantum:          quantum,
			Range:            cfg.Link.Range,
			WatchdogMeasures: cfg.Playback.WatchdogMeasures,
		}, logrus.StandardLogger())
		steps = cfg.Playback.Measures * int(quantum) * cfg.Playback.StepsPerBeat
	)
	manager.SetLowLatency(cfg.Playback.LowLatency)
	if err := manager.RegisterLinkClient(client); err != nil {
		return nil, err
	}
	p := &player{
		client:   client,
		engine:   engine,
		manager:  manager,
		follower: &display.Follower{Steps: steps, Window: 16},
	}
	if err := client.Ping(); err != nil {
		return nil, err
	}
	if cfg.MIDI.Port != "" {
		send, closeMIDI, err := openMIDI(cfg.MIDI.Port)
		if err != nil {
			return nil, err
		}
		p.closeMIDI = closeMIDI
		manager.AddSink(playback.NewMIDISync(send, quantum))
	}
	client.OnNumPeers(func(n uint64) {
		p.peers.Store(n)
		logrus.WithField("peers", n).Info("link peers changed")
	})
	return p, nil
}

func (p *player) close() {
	p.manager.Stop()
	if p.client.IsEngaged() {
		if err := release(p.client); err != nil {
			logrus.WithError(err).Warn("releasing link")
		}
	}
	if p.closeMIDI != nil {
		p.closeMIDI()
	}
}

// run plays without a UI until ctx is done.
func (p *player) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return p.manager.Run(ctx)
	})
	g.Go(func() error {
		return display.Poll(ctx, p.engine, p.follower, display.DefaultInterval, func(fr display.Frame) {
			logrus.WithField("step", fr.Step).Debug("step")
		})
	})
	if playFlags.link {
		if err := p.manager.EnableLink(ctx); err != nil {
			return err
		}
	}
	if err := p.manager.Play(ctx); err != nil {
		return errors.Wrap(err, "starting playback")
	}
	return g.Wait()
}

// runUI plays with the terminal UI until it is quit or ctx is done.
func (p *player) runUI(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ui := display.NewUI("linksync", p.follower.Window, map[rune]func(){
		' ': func() { p.togglePlay(ctx) },
		'l': func() { p.toggleLink(ctx) },
		't': func() { p.manager.ToggleLowLatency() },
		'+': func() { p.nudgeTempo(1) },
		'-': func() { p.nudgeTempo(-1) },
	})
	logrus.SetOutput(ui.LogWriter())
	defer logrus.SetOutput(os.Stderr)
	p.client.OnNumPeers(func(n uint64) {
		ui.Notify(fmt.Sprintf("%d link peer(s)", n))
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return ui.Run()
	})
	g.Go(func() error {
		<-ctx.Done()
		ui.Stop()
		return nil
	})
	g.Go(func() error {
		return p.manager.Run(ctx)
	})
	g.Go(func() error {
		return display.Poll(ctx, p.engine, p.follower, display.DefaultInterval, ui.SetFrame)
	})
	g.Go(func() error {
		ticker := time.NewTicker(statusInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				ui.SetStatus(p.status())
			}
		}
	})
	if playFlags.link {
		if err := p.manager.EnableLink(ctx); err != nil {
			logrus.WithError(err).Error("enabling link")
		}
	}
	return g.Wait()
}

func (p *player) status() display.Status {
	pos := p.engine.Position()
	return display.Status{
		State:       p.manager.State().String(),
		BPM:         p.engine.BPM(),
		Peers:       p.peers.Load(),
		LinkEnabled: p.client.IsEnabled(),
		LowLatency:  p.manager.LowLatency(),
		Measure:     pos.Measure,
		Phase:       pos.Phase,
	}
}

func (p *player) togglePlay(ctx context.Context) {
	if p.manager.State() != playback.Stopped {
		p.manager.Stop()
		return
	}
	if err := p.manager.Play(ctx); err != nil {
		logrus.WithError(err).Error("starting playback")
	}
}

func (p *player) toggleLink(ctx context.Context) {
	var err error
	if p.client.IsEngaged() {
		err = p.manager.DisableLink()
	} else {
		err = p.manager.EnableLink(ctx)
	}
	if err != nil {
		logrus.WithError(err).Error("toggling link")
	}
}

func (p *player) nudgeTempo(delta float64) {
	if err := p.manager.SetBPM(p.engine.BPM() + delta); err != nil {
		logrus.WithError(err).Error("changing tempo")
	}
}
