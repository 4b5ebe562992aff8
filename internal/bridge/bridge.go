// Package bridge relays messages between the UDP transport and the bus.
//
// Inbound, every datagram is decoded as an envelope and checked against the
// inbound route table; a match republishes msg.data on the route's bus
// topic. Anything else (bad JSON, missing fields, another op, an unknown
// topic or type) is expected traffic at a network boundary and is dropped
// without being treated as an error.
//
// Outbound, each outbound route subscribes one bus topic. Every message
// delivered there is wrapped in a publish envelope and handed to the
// Sender, which addresses it to the last peer seen by the transport.
//
// A Bridge holds no state besides its route table, which is fixed at
// construction.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"sync"

	"golang.org/x/time/rate"

	"udp-topic-bridge/internal/core/network"
	"udp-topic-bridge/internal/datagram"
	"udp-topic-bridge/internal/envelope"
	"udp-topic-bridge/internal/logging"
	"udp-topic-bridge/internal/metrics"
)

// Sender delivers an encoded envelope to the remote peer.
type Sender interface {
	Send(b []byte) error
}

// Options configures a Bridge. Zero values select the defaults.
type Options struct {
	Routes  Routes
	Logger  *slog.Logger
	Metrics *metrics.Metrics

	// RateLimit caps accepted inbound datagrams per second; 0 disables it.
	RateLimit float64
	// RateBurst is the limiter's bucket size; defaults to 1 when RateLimit is set.
	RateBurst int
}

// Bridge routes between a datagram Sender and a PubSub bus.
type Bridge struct {
	bus      network.PubSub
	sender   Sender
	inbound  map[routeKey]Route
	outbound []Route
	limiter  *rate.Limiter
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// New validates the routes and builds a Bridge. Routes default to
// DefaultRoutes when both lists are empty.
func New(bus network.PubSub, sender Sender, opts Options) (*Bridge, error) {
	if bus == nil {
		return nil, fmt.Errorf("bridge: bus is required")
	}
	if sender == nil {
		return nil, fmt.Errorf("bridge: sender is required")
	}

	routes := opts.Routes
	if len(routes.Inbound) == 0 && len(routes.Outbound) == 0 {
		routes = DefaultRoutes()
	}
	if err := routes.Validate(); err != nil {
		return nil, fmt.Errorf("bridge: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.NewUnregistered()
	}

	b := &Bridge{
		bus:      bus,
		sender:   sender,
		inbound:  make(map[routeKey]Route, len(routes.Inbound)),
		outbound: append([]Route(nil), routes.Outbound...),
		logger:   logger.With(logging.KeyComponent, "bridge"),
		metrics:  m,
	}
	for _, r := range routes.Inbound {
		b.inbound[r.key()] = r
	}
	if opts.RateLimit > 0 {
		burst := opts.RateBurst
		if burst <= 0 {
			burst = 1
		}
		b.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	return b, nil
}

// HandleDatagram decodes and routes one inbound datagram. It never fails:
// every rejection is logged at debug level and counted.
func (b *Bridge) HandleDatagram(data []byte, from netip.AddrPort) {
	if b.limiter != nil && !b.limiter.Allow() {
		b.drop(metrics.ReasonRateLimited, from, len(data))
		return
	}

	env, err := envelope.Decode(data)
	if err != nil {
		reason := metrics.ReasonMissingField
		if errors.Is(err, envelope.ErrMalformedJSON) {
			reason = metrics.ReasonMalformedJSON
		}
		b.drop(reason, from, len(data), logging.KeyError, err)
		return
	}

	if env.Op != envelope.OpPublish {
		b.drop(metrics.ReasonUnsupportedOp, from, len(data), logging.KeyOp, env.Op)
		return
	}
	route, ok := b.inbound[routeKey{topic: env.Topic, typ: env.Type}]
	if !ok {
		b.drop(metrics.ReasonUnroutable, from, len(data),
			logging.KeyTopic, env.Topic,
			logging.KeyType, env.Type)
		return
	}

	err = b.bus.Publish(route.BusTopic, []byte(env.Payload.Data))
	b.metrics.RecordPublish(route.BusTopic, err)
	if err != nil {
		b.logger.Warn("bus publish failed",
			logging.KeyBusTopic, route.BusTopic,
			logging.KeyError, err)
		return
	}
	b.logger.Debug("published datagram to bus",
		logging.KeyPeer, from.String(),
		logging.KeyBusTopic, route.BusTopic,
		logging.KeyBytes, len(env.Payload.Data))
}

// HandleBusMessage wraps msg in an envelope for route and sends it to the
// peer. Send failures are logged and counted, never returned.
func (b *Bridge) HandleBusMessage(route Route, msg network.Message) {
	b.metrics.RecordBusMessage(route.BusTopic)

	out, err := envelope.Encode(route.Topic, route.Type, string(msg.Payload))
	if err != nil {
		b.metrics.RecordSendError(metrics.ReasonEncode)
		b.logger.Warn("encode envelope failed", logging.KeyTopic, route.Topic, logging.KeyError, err)
		return
	}

	switch err := b.sender.Send(out); {
	case err == nil:
		b.logger.Debug("queued envelope for peer",
			logging.KeyTopic, route.Topic,
			logging.KeyBytes, len(out))
	case errors.Is(err, datagram.ErrNoPeer):
		b.logger.Debug("no peer to send to yet", logging.KeyTopic, route.Topic)
	default:
		b.logger.Warn("send to peer failed", logging.KeyTopic, route.Topic, logging.KeyError, err)
	}
}

// Run subscribes every outbound route and forwards bus messages until ctx
// is cancelled. It returns the first subscribe error, or nil on
// cancellation.
func (b *Bridge) Run(ctx context.Context) error {
	type subscription struct {
		route  Route
		ch     <-chan network.Message
		cancel func()
	}

	subs := make([]subscription, 0, len(b.outbound))
	defer func() {
		for _, s := range subs {
			s.cancel()
		}
	}()
	for _, r := range b.outbound {
		ch, cancel, err := b.bus.Subscribe(r.BusTopic)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", r.BusTopic, err)
		}
		subs = append(subs, subscription{route: r, ch: ch, cancel: cancel})
		b.logger.Info("subscribed to bus topic",
			logging.KeyBusTopic, r.BusTopic,
			logging.KeyTopic, r.Topic)
	}

	var wg sync.WaitGroup
	for _, s := range subs {
		wg.Add(1)
		go func(s subscription) {
			defer wg.Done()
			b.consume(ctx, s.route, s.ch)
		}(s)
	}
	wg.Wait()
	return nil
}

func (b *Bridge) consume(ctx context.Context, route Route, ch <-chan network.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				b.logger.Info("bus subscription closed", logging.KeyBusTopic, route.BusTopic)
				return
			}
			b.HandleBusMessage(route, msg)
		}
	}
}

func (b *Bridge) drop(reason string, from netip.AddrPort, n int, attrs ...any) {
	b.metrics.RecordDrop(reason)
	if !b.logger.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	args := append([]any{
		logging.KeyReason, reason,
		logging.KeyPeer, from.String(),
		logging.KeyBytes, n,
	}, attrs...)
	b.logger.Debug("datagram dropped", args...)
}
