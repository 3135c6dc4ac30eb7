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
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/scgolang/linksync/config"
	"github.com/scgolang/linksync/linkclient"
	"github.com/scgolang/linksync/transport/oscconn"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	configPath string
	logLevel   string
	cfg        = config.Default()
)

// RootCmd represents the base command when called without any subcommands
var RootCmd = &cobra.Command{
	Use:   "linksync",
	Short: "Share a tempo and beat clock between players",
	Long: `linksync runs a link server that owns a clock session and lets any
number of players join it, keep their tempo in sync and start on the
next downbeat.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load(configPath)
		if err != nil {
			return errors.Wrap(err, "loading config")
		}
		if cmd.Flags().Changed("log-level") {
			c.Log.Level = logLevel
		}
		level, err := c.Log.ParseLevel()
		if err != nil {
			return err
		}
		logrus.SetLevel(level)
		cfg = c
		return nil
	},
}

// Execute adds all child commands to the root command and runs it.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	flags := RootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "config file (YAML)")
	flags.StringVar(&logLevel, "log-level", "info", "log level")
}

// signalContext returns a context that is canceled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// dial connects a link client to the configured server as target id.
func dial(ctx context.Context, id string) (*linkclient.Client, error) {
	log := logrus.StandardLogger()
	conn, err := oscconn.Dial(ctx, id, cfg.Server.Host, cfg.Server.Port, log)
	if err != nil {
		return nil, errors.Wrap(err, "dialing link server")
	}
	return linkclient.New(id, conn, linkclient.Config{
		Timeout: cfg.Link.Timeout,
		Range:   cfg.Link.Range,
		Quantum: cfg.Link.Quantum,
	}, log), nil
}

// release tells the server this process no longer uses link, and waits
// until the request has been handled.
func release(client *linkclient.Client) error {
	if err := client.Disable(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Link.Timeout)
	defer cancel()
	_, err := client.Tempo(ctx)
	return errors.Wrap(err, "waiting for disable")
}

// targetID returns a target id unique to this process.
func targetID(name string) string {
	return fmt.Sprintf("%s-%d", name, os.Getpid())
}
