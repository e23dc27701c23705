// Package snp2p carries quorumnet commands between service nodes. The
// transport surface is small: fire-and-forget command sends keyed by
// network identity, replies routed back over the delivering
// connection, and a gossip topic announcing newly approved blink
// transactions to non-quorum listeners.
package snp2p

import (
	"context"
	"errors"
)

// Message is one inbound command.
type Message struct {
	Cmd  string
	Data []byte

	// ConnID identifies the delivering connection, usable with a
	// Replier for as long as the remote stays connected.
	ConnID string

	// RemoteID is the remote's network identity.
	RemoteID string

	// FromSN reports whether the remote authenticated as a registered
	// service node. Quorum commands from anyone else are dropped by
	// the handlers.
	FromSN bool
}

// HandlerFunc consumes one inbound command. Handlers run on transport
// goroutines and must not block on network round-trips.
type HandlerFunc func(ctx context.Context, msg Message)

// Sender delivers commands to remotes by network identity.
type Sender interface {
	// SendStrong delivers cmd, dialing connectAddr first if there is
	// no open connection. connectAddr may be empty when the remote is
	// expected to be connected already.
	SendStrong(ctx context.Context, netID, connectAddr, cmd string, data []byte) error

	// SendWeak delivers cmd only if a connection to the remote is
	// already open, and silently does nothing otherwise.
	SendWeak(ctx context.Context, netID, cmd string, data []byte) error
}

// Replier routes a response back to the origin of an inbound message.
type Replier interface {
	Reply(ctx context.Context, connID, cmd string, data []byte) error
}

var ErrNotConnected = errors.New("no open connection to remote")
