// Package network is the bridge's view of the host publish/subscribe bus.
//
// The bridge only needs two operations, captured by PubSub. Two backends
// are provided: MemoryPubSub delivers within the process, Libp2pPubSub
// joins a gossipsub mesh so other nodes can publish to and consume from
// the bridge's topics.
package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
)

// ErrClosed is returned by backends after Close.
var ErrClosed = errors.New("pubsub closed")

// Backend names accepted by New.
const (
	BackendMemory = "memory"
	BackendLibp2p = "libp2p"
)

// Message is one delivery on a topic.
type Message struct {
	Topic   string
	Payload []byte
}

// PubSub is a minimal interface for broadcast-style communication.
type PubSub interface {
	Publish(topic string, payload []byte) error
	Subscribe(topic string) (<-chan Message, func(), error)
}

// Bus is a PubSub that owns resources.
type Bus interface {
	PubSub
	io.Closer
}

// Options selects and configures a backend.
type Options struct {
	Backend string
	// SubscriptionBuffer is the per-subscriber channel capacity.
	SubscriptionBuffer int
	Libp2p             Libp2pOptions
	Logger             *slog.Logger
}

// New constructs the backend named by opts.Backend.
func New(ctx context.Context, opts Options) (Bus, error) {
	switch opts.Backend {
	case "", BackendMemory:
		return NewMemoryPubSub(WithBuffer(opts.SubscriptionBuffer)), nil
	case BackendLibp2p:
		lo := opts.Libp2p
		if lo.Logger == nil {
			lo.Logger = opts.Logger
		}
		if lo.SubscriptionBuffer == 0 {
			lo.SubscriptionBuffer = opts.SubscriptionBuffer
		}
		return NewLibp2pPubSub(ctx, lo)
	default:
		return nil, fmt.Errorf("unknown bus backend %q", opts.Backend)
	}
}
