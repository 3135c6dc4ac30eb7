// Package linkosc defines the channel names and payload framing used in the
// linksync protocol. Every capability is addressed by a channel built from a
// fixed prefix, the capability name and, for messages aimed at a single
// target, a target scope suffix.
package linkosc

import (
	"strings"
)

// Prefix is shared by every linksync channel.
const Prefix = "/link/"

// MasterPort is the default listening port for the link server.
const MasterPort = 5777

// Capability names.
const (
	Ping              = "ping"
	Init              = "init"
	InitializedStatus = "initialized-status"
	EnabledStatus     = "enabled-status"
	Enable            = "enable"
	Disable           = "disable"
	SetBPM            = "set-bpm"
	BPM               = "bpm"
	GetTempo          = "get-tempo"
	Tempo             = "tempo"
	SetQuantum        = "set-quantum"
	GetQuantum        = "get-quantum"
	Quantum           = "quantum"
	GetPhase          = "get-phase"
	Phase             = "phase"
	GetPhaseSync      = "get-phase-sync"
	Beat              = "beat"
	Downbeat          = "downbeat"
	NumPeers          = "numPeers"
	IsEnabled         = "is-enabled"
	Kill              = "kill"
	Register          = "register"
	Unregister        = "unregister"
)

// OriginLink tags tempo changes that came from the native clock session
// rather than from one of the targets.
const OriginLink = "link"

// Channel returns the broadcast channel for a capability.
// Client-to-server requests use the same form.
func Channel(capability string) string {
	return Prefix + capability
}

// Scoped returns the channel for a capability addressed to one target.
func Scoped(capability, target string) string {
	return Prefix + capability + "/" + target + "/"
}

// Split parses a channel name back into its capability and target scope.
// target is empty for broadcast channels.
func Split(channel string) (capability, target string, ok bool) {
	if !strings.HasPrefix(channel, Prefix) {
		return "", "", false
	}
	rest := strings.TrimPrefix(channel, Prefix)
	if rest == "" {
		return "", "", false
	}
	i := strings.IndexByte(rest, '/')
	if i < 0 {
		return rest, "", true
	}
	capability, scope := rest[:i], rest[i+1:]
	if capability == "" || !strings.HasSuffix(scope, "/") {
		return "", "", false
	}
	target = strings.TrimSuffix(scope, "/")
	if target == "" || strings.Contains(target, "/") {
		return "", "", false
	}
	return capability, target, true
}
