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

	"github.com/pkg/errors"
	"github.com/scgolang/linksync/clock"
	"github.com/scgolang/linksync/linkserver"
	"github.com/scgolang/linksync/transport"
	"github.com/scgolang/linksync/transport/oscconn"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveFlags struct {
	host  string
	port  int
	bpm   float64
	peers uint64
}

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start a link server",
	Long: `Start a link server.

The server owns the clock session. Players join it with "linksync play";
the session is initialized and enabled by the first player that enables
link, and disabled once no player uses it anymore.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		if flags.Changed("host") {
			cfg.Server.Host = serveFlags.host
		}
		if flags.Changed("port") {
			cfg.Server.Port = serveFlags.port
		}
		if flags.Changed("bpm") {
			cfg.Link.BPM = serveFlags.bpm
		}
		ctx, cancel := signalContext()
		defer cancel()

		return errors.Wrap(runServer(ctx), "running server")
	},
}

func init() {
	flags := serveCmd.Flags()
	flags.StringVar(&serveFlags.host, "host", "", "listen address (default from config)")
	flags.IntVar(&serveFlags.port, "port", 0, "listen port (default from config)")
	flags.Float64Var(&serveFlags.bpm, "bpm", 120, "tempo of the session before the first player initializes it")
	flags.Uint64Var(&serveFlags.peers, "peers", 0, "number of simulated link peers")
	RootCmd.AddCommand(serveCmd)
}

// runServer serves the link server until ctx is done.
func runServer(ctx context.Context) error {
	var (
		log     = logrus.StandardLogger()
		session = clock.NewSession(cfg.Link.BPM, cfg.Link.Quantum)
		srv     = linkserver.New(session, linkserver.Config{
			Interval:     cfg.Server.Interval,
			QueryTimeout: cfg.Server.QueryTimeout,
			Range:        cfg.Link.Range,
		}, log)
	)
	defer func() {
		if err := srv.Kill(); err != nil {
			log.WithError(err).Warn("killing link")
		}
	}()

	l, err := oscconn.Listen(cfg.Server.Host, cfg.Server.Port, func(id string, c transport.Conn) {
		srv.Attach(id, c)
	}, log)
	if err != nil {
		return errors.Wrap(err, "listening")
	}
	log.WithField("addr", l.Addr()).Info("link server listening")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return l.Serve(ctx)
	})
	if serveFlags.peers > 0 {
		session.SetNumPeers(serveFlags.peers)
	}
	return g.Wait()
}
