package linkosc

import (
	"github.com/pkg/errors"
	"github.com/scgolang/osc"
)

// Message creates a message on channel with the given arguments.
func Message(channel string, args ...osc.Argument) osc.Message {
	return osc.Message{
		Address:   channel,
		Arguments: osc.Arguments(args),
	}
}

// BoolMessage creates a message carrying a single bool.
func BoolMessage(channel string, b bool) osc.Message {
	return Message(channel, osc.Bool(b))
}

// FloatMessage creates a message carrying a single number.
func FloatMessage(channel string, f float64) osc.Message {
	return Message(channel, osc.Float(float32(f)))
}

// IntMessage creates a message carrying a single integer.
func IntMessage(channel string, n int64) osc.Message {
	return Message(channel, osc.Int(int32(n)))
}

// BPMMessage creates a tempo change message tagged with the id of the party
// that originated the change.
func BPMMessage(channel string, bpm float64, origin string) osc.Message {
	return Message(channel, osc.Float(float32(bpm)), osc.String(origin))
}

// InitMessage creates an init request.
func InitMessage(bpm, quantum float64) osc.Message {
	return Message(Channel(Init), osc.Float(float32(bpm)), osc.Float(float32(quantum)))
}

func expectArgs(m osc.Message, n int) error {
	if got := len(m.Arguments); got < n {
		return errors.Errorf("%s: expected %d argument(s), got %d", m.Address, n, got)
	}
	return nil
}

// ReadBool reads the first argument of m as a bool.
func ReadBool(m osc.Message) (bool, error) {
	if err := expectArgs(m, 1); err != nil {
		return false, err
	}
	b, err := m.Arguments[0].ReadBool()
	if err != nil {
		return false, errors.Wrapf(err, "reading bool from %s", m.Address)
	}
	return b, nil
}

// ReadFloat reads the first argument of m as a number.
func ReadFloat(m osc.Message) (float64, error) {
	return readFloatAt(m, 0)
}

func readFloatAt(m osc.Message, i int) (float64, error) {
	if err := expectArgs(m, i+1); err != nil {
		return 0, err
	}
	f, err := m.Arguments[i].ReadFloat32()
	if err != nil {
		return 0, errors.Wrapf(err, "reading float from %s", m.Address)
	}
	return float64(f), nil
}

// ReadInt reads the first argument of m as an integer.
func ReadInt(m osc.Message) (int64, error) {
	if err := expectArgs(m, 1); err != nil {
		return 0, err
	}
	n, err := m.Arguments[0].ReadInt32()
	if err != nil {
		return 0, errors.Wrapf(err, "reading int from %s", m.Address)
	}
	return int64(n), nil
}

// ReadString reads argument i of m as a string.
func ReadString(m osc.Message, i int) (string, error) {
	if err := expectArgs(m, i+1); err != nil {
		return "", err
	}
	s, err := m.Arguments[i].ReadString()
	if err != nil {
		return "", errors.Wrapf(err, "reading string from %s", m.Address)
	}
	return s, nil
}

// ReadBPM reads a tempo change message. A message without an origin is
// accepted and reported with an empty origin.
func ReadBPM(m osc.Message) (bpm float64, origin string, err error) {
	bpm, err = ReadFloat(m)
	if err != nil {
		return 0, "", errors.Wrap(err, "reading bpm")
	}
	if len(m.Arguments) < 2 {
		return bpm, "", nil
	}
	origin, err = ReadString(m, 1)
	if err != nil {
		return 0, "", errors.Wrap(err, "reading origin")
	}
	return bpm, origin, nil
}

// ReadInit reads an init request.
func ReadInit(m osc.Message) (bpm, quantum float64, err error) {
	if bpm, err = readFloatAt(m, 0); err != nil {
		return 0, 0, errors.Wrap(err, "reading bpm")
	}
	if quantum, err = readFloatAt(m, 1); err != nil {
		return 0, 0, errors.Wrap(err, "reading quantum")
	}
	return bpm, quantum, nil
}
