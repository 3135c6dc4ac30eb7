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
	"strconv"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// tempoCmd represents the tempo command
var tempoCmd = &cobra.Command{
	Use:   "tempo [bpm]",
	Short: "Read or change the tempo of a link server",
	Long: `Read or change the tempo of a link server.

Without arguments the current session tempo is printed. With a bpm argument
the tempo is changed; values outside the tempo range are folded into it by
halving or doubling.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*cfg.Link.Timeout)
		defer cancel()

		client, err := dial(ctx, targetID("tempo"))
		if err != nil {
			return err
		}
		defer client.Close()

		if len(args) == 1 {
			bpm, err := strconv.ParseFloat(args[0], 64)
			if err != nil {
				return errors.Wrap(err, "parsing tempo")
			}
			if err := client.UpdateLinkBPM(bpm); err != nil {
				return err
			}
		}
		// Reading back also waits until the server handled the change.
		bpm, err := client.Tempo(ctx)
		if err != nil {
			return errors.Wrap(err, "reading tempo")
		}
		fmt.Printf("%f\n", bpm)
		return nil
	},
}

func init() {
	RootCmd.AddCommand(tempoCmd)
}
