package playback

import (
	"github.com/pkg/errors"
	"gitlab.com/gomidi/midi/v2"
)

// sixteenthsPerBeat is the resolution of the MIDI song position pointer.
const sixteenthsPerBeat = 4

// maxSongPosition is the largest 14-bit song position.
const maxSongPosition = 1<<14 - 1

// MIDISync is a Sink that sends MIDI realtime start, stop and song position
// messages, so external sequencers follow the transport.
type MIDISync struct {
	send            func(msg midi.Message) error
	beatsPerMeasure float64
}

// NewMIDISync creates a MIDI sink. send is usually obtained from
// midi.SendTo on an output port.
func NewMIDISync(send func(msg midi.Message) error, beatsPerMeasure float64) *MIDISync {
	if beatsPerMeasure <= 0 {
		beatsPerMeasure = 4
	}
	return &MIDISync{send: send, beatsPerMeasure: beatsPerMeasure}
}

// SetBeatsPerMeasure changes the measure length used to convert positions
// to song positions.
func (s *MIDISync) SetBeatsPerMeasure(beats float64) {
	if beats > 0 {
		s.beatsPerMeasure = beats
	}
}

// Start locates the receiver and starts it. A start at the top of the song
// uses Start, any other position uses Continue.
func (s *MIDISync) Start(p Position) error {
	if err := s.Locate(p); err != nil {
		return err
	}
	if s.songPosition(p) == 0 {
		return errors.Wrap(s.send(midi.Start()), "sending start")
	}
	return errors.Wrap(s.send(midi.Continue()), "sending continue")
}

// Stop stops the receiver.
func (s *MIDISync) Stop() error {
	return errors.Wrap(s.send(midi.Stop()), "sending stop")
}

// Locate sends a song position pointer for p.
func (s *MIDISync) Locate(p Position) error {
	return errors.Wrap(s.send(midi.SPP(s.songPosition(p))), "sending song position")
}

// songPosition converts p to MIDI beats (sixteenth notes).
func (s *MIDISync) songPosition(p Position) uint16 {
	beats := float64(p.Measure)*s.beatsPerMeasure + p.Phase
	n := int(beats * sixteenthsPerBeat)
	switch {
	case n < 0:
		return 0
	case n > maxSongPosition:
		return maxSongPosition
	}
	return uint16(n)
}
