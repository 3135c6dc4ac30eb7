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

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var beatsFlags struct {
	enable bool
	n      int64
}

// beatsCmd represents the beats command
var beatsCmd = &cobra.Command{
	Use:   "beats",
	Short: "Display beats and downbeats from a link server on stdout",
	Long: `Display beats and downbeats from a link server on stdout.

Beats are only sent while link is enabled; use --enable to enable it for
as long as the command runs.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		client, err := dial(context.Background(), targetID("beats"))
		if err != nil {
			return err
		}
		defer client.Close()

		n := beatsFlags.n
		if n < 1 {
			n = 1
		}
		client.OnBeat(func(beat int64) {
			if beat%n == 0 {
				fmt.Printf("%d\n", beat)
			}
		})
		client.OnDownbeat(func() {
			fmt.Println("downbeat")
		})
		client.OnNumPeers(func(peers uint64) {
			logrus.WithField("peers", peers).Info("link peers changed")
		})
		if err := client.Ping(); err != nil {
			return err
		}
		if beatsFlags.enable {
			client.Enable(ctx, cfg.Link.BPM, cfg.Link.Quantum, func() {
				logrus.Info("link enabled")
			})
		}
		<-ctx.Done()

		if beatsFlags.enable {
			return release(client)
		}
		return nil
	},
}

func init() {
	flags := beatsCmd.Flags()
	flags.BoolVar(&beatsFlags.enable, "enable", false, "enable link while running")
	flags.Int64VarP(&beatsFlags.n, "every", "n", 1, "only display every n beats")
	RootCmd.AddCommand(beatsCmd)
}
