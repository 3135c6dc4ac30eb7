// Package oscconn carries linksync channels over OSC on UDP.
//
// Every datagram is an OSC message sent to Address whose first two
// arguments are the target id and the linksync channel name, followed by
// the channel payload. Targets announce themselves with a register message
// carrying the host and port they listen on.
package oscconn

import (
	"net"

	"github.com/pkg/errors"
	"github.com/scgolang/linksync/linkosc"
	"github.com/scgolang/osc"
)

// Address is the OSC address of every linksync datagram.
const Address = "/linksync"

// seal wraps m in an envelope for target.
func seal(target string, m osc.Message) osc.Message {
	args := make(osc.Arguments, 0, len(m.Arguments)+2)
	args = append(args, osc.String(target), osc.String(m.Address))
	args = append(args, m.Arguments...)
	return osc.Message{Address: Address, Arguments: args}
}

// open unwraps an envelope.
func open(m osc.Message) (target string, inner osc.Message, err error) {
	if len(m.Arguments) < 2 {
		return "", inner, errors.Errorf("expected at least 2 arguments, got %d", len(m.Arguments))
	}
	target, err = m.Arguments[0].ReadString()
	if err != nil {
		return "", inner, errors.Wrap(err, "reading target")
	}
	channel, err := m.Arguments[1].ReadString()
	if err != nil {
		return "", inner, errors.Wrap(err, "reading channel")
	}
	inner = osc.Message{Address: channel, Arguments: m.Arguments[2:]}
	return target, inner, nil
}

// registerMessage announces a target listening on addr.
func registerMessage(addr *net.UDPAddr) osc.Message {
	return linkosc.Message(
		linkosc.Channel(linkosc.Register),
		osc.String(addr.IP.String()),
		osc.Int(int32(addr.Port)),
	)
}

// readRegister reads the reply address of a register message.
func readRegister(m osc.Message) (*net.UDPAddr, error) {
	host, err := linkosc.ReadString(m, 0)
	if err != nil {
		return nil, errors.Wrap(err, "reading host")
	}
	if len(m.Arguments) < 2 {
		return nil, errors.New("register: missing port")
	}
	port, err := m.Arguments[1].ReadInt32()
	if err != nil {
		return nil, errors.Wrap(err, "reading port")
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return nil, errors.Errorf("register: invalid host %q", host)
	}
	return &net.UDPAddr{IP: ip, Port: int(port)}, nil
}
