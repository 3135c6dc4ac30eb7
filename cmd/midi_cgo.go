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

//go:build cgo

package cmd

import (
	"github.com/pkg/errors"
	"gitlab.com/gomidi/midi/v2"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv"
)

// openMIDI opens the MIDI output port matching name.
func openMIDI(name string) (send func(midi.Message) error, closeMIDI func(), err error) {
	out, err := midi.FindOutPort(name)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "finding MIDI output %q", name)
	}
	send, err = midi.SendTo(out)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "opening MIDI output %q", name)
	}
	return send, midi.CloseDriver, nil
}
