package datagram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"time"

	"udp-topic-bridge/internal/logging"
	"udp-topic-bridge/internal/metrics"
)

var (
	ErrNoPeer         = errors.New("no peer has sent a datagram yet")
	ErrQueueFull      = errors.New("send queue full")
	ErrClosed         = errors.New("transport closed")
	ErrAlreadyStarted = errors.New("transport already started")
)

// Handler receives each inbound datagram. b is only valid for the duration
// of the call.
type Handler interface {
	HandleDatagram(b []byte, from netip.AddrPort)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(b []byte, from netip.AddrPort)

func (f HandlerFunc) HandleDatagram(b []byte, from netip.AddrPort) { f(b, from) }

type outbound struct {
	data []byte
	to   netip.AddrPort
}

// Transport owns one UDP socket. It runs a single receive loop with one
// outstanding read at a time, a send worker draining a bounded queue, and
// tracks the endpoint of the last sender.
type Transport struct {
	cfg     Config
	conn    *net.UDPConn
	logger  *slog.Logger
	metrics *metrics.Metrics

	peerMu  sync.Mutex
	peer    netip.AddrPort
	hasPeer bool

	sendMu sync.RWMutex
	queue  chan outbound
	closed bool

	lifeMu  sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	done    chan struct{}

	errMu sync.Mutex
	err   error
}

// Listen binds the UDP socket described by cfg. A nil m gets a private
// metrics set.
func Listen(cfg Config, logger *slog.Logger, m *metrics.Metrics) (*Transport, error) {
	cfg = cfg.withDefaults()
	addr, err := net.ResolveUDPAddr("udp", cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("resolve %q: %w", cfg.Address, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen udp %s: %w", cfg.Address, err)
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	if m == nil {
		m = metrics.NewUnregistered()
	}
	t := &Transport{
		cfg:     cfg,
		conn:    conn,
		logger:  logger.With(logging.KeyComponent, "datagram"),
		metrics: m,
		queue:   make(chan outbound, cfg.SendQueueSize),
		done:    make(chan struct{}),
	}
	t.logger.Info("udp socket bound", logging.KeyLocalAddr, t.LocalAddr().String())
	return t, nil
}

// Start launches the receive loop and the send worker. Inbound datagrams
// are delivered to h, one at a time, in the receive goroutine.
func (t *Transport) Start(ctx context.Context, h Handler) error {
	if h == nil {
		return fmt.Errorf("datagram: handler is required")
	}
	t.lifeMu.Lock()
	defer t.lifeMu.Unlock()
	if t.started {
		return ErrAlreadyStarted
	}
	if t.isClosed() {
		return ErrClosed
	}
	t.started = true
	ctx, t.cancel = context.WithCancel(ctx)

	t.wg.Add(2)
	go func() {
		defer t.wg.Done()
		defer close(t.done)
		t.receiveLoop(ctx, h)
	}()
	go func() {
		defer t.wg.Done()
		t.sendLoop(ctx)
	}()
	go func() {
		<-ctx.Done()
		t.Close()
	}()
	return nil
}

// Send queues b for delivery to the current peer and returns without
// waiting for the write. The peer is resolved at call time.
func (t *Transport) Send(b []byte) error {
	to, ok := t.Peer()
	if !ok {
		t.metrics.RecordSendError(metrics.ReasonNoPeer)
		t.logger.Debug("dropping outbound datagram, no peer yet", logging.KeyBytes, len(b))
		return ErrNoPeer
	}

	t.sendMu.RLock()
	defer t.sendMu.RUnlock()
	if t.closed {
		t.metrics.RecordSendError(metrics.ReasonClosed)
		return ErrClosed
	}
	select {
	case t.queue <- outbound{data: b, to: to}:
		t.metrics.SendQueueLen.Set(float64(len(t.queue)))
		return nil
	default:
		t.metrics.RecordSendError(metrics.ReasonQueueFull)
		t.logger.Warn("send queue full, dropping datagram",
			logging.KeyPeer, to.String(),
			logging.KeyBytes, len(b))
		return ErrQueueFull
	}
}

// Peer returns the endpoint of the most recent sender.
func (t *Transport) Peer() (netip.AddrPort, bool) {
	t.peerMu.Lock()
	defer t.peerMu.Unlock()
	return t.peer, t.hasPeer
}

// LocalAddr returns the bound socket address.
func (t *Transport) LocalAddr() netip.AddrPort {
	if ua, ok := t.conn.LocalAddr().(*net.UDPAddr); ok {
		return ua.AddrPort()
	}
	return netip.AddrPort{}
}

// Done is closed once the receive loop has exited.
func (t *Transport) Done() <-chan struct{} {
	return t.done
}

// Err returns the error that terminated the receive loop, or nil when it
// stopped because the transport was closed.
func (t *Transport) Err() error {
	t.errMu.Lock()
	defer t.errMu.Unlock()
	return t.err
}

// Close releases the socket. Queued datagrams are discarded. Safe to call
// more than once.
func (t *Transport) Close() error {
	t.lifeMu.Lock()
	if t.isClosed() {
		t.lifeMu.Unlock()
		t.wg.Wait()
		return nil
	}
	t.sendMu.Lock()
	t.closed = true
	t.sendMu.Unlock()

	if t.cancel != nil {
		t.cancel()
	}
	err := t.conn.Close()
	if !t.started {
		close(t.done)
	}
	t.lifeMu.Unlock()

	t.wg.Wait()
	return err
}

func (t *Transport) isClosed() bool {
	t.sendMu.RLock()
	defer t.sendMu.RUnlock()
	return t.closed
}

func (t *Transport) setPeer(from netip.AddrPort) {
	t.peerMu.Lock()
	changed := !t.hasPeer || t.peer != from
	t.peer = from
	t.hasPeer = true
	t.peerMu.Unlock()

	if changed {
		t.metrics.PeerChanges.Inc()
		t.logger.Info("remote peer changed", logging.KeyPeer, from.String())
	}
}

func (t *Transport) receiveLoop(ctx context.Context, h Handler) {
	buf := make([]byte, t.cfg.MaxDatagramSize)
	consecutive := 0

	for {
		n, from, err := t.conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				t.logger.Debug("receive loop stopped")
				return
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}

			consecutive++
			t.metrics.ReceiveErrors.Inc()
			t.logger.Warn("udp receive failed", logging.KeyError, err)
			if t.cfg.MaxReceiveErrors > 0 && consecutive >= t.cfg.MaxReceiveErrors {
				t.fail(fmt.Errorf("receive: %d consecutive errors: %w", consecutive, err))
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(t.cfg.ReceiveErrorBackoff):
			}
			continue
		}
		consecutive = 0

		from = netip.AddrPortFrom(from.Addr().Unmap(), from.Port())
		t.setPeer(from)
		t.metrics.RecordReceive(n)
		h.HandleDatagram(buf[:n], from)
	}
}

func (t *Transport) fail(err error) {
	t.errMu.Lock()
	t.err = err
	t.errMu.Unlock()
	t.logger.Error("receive loop terminated", logging.KeyError, err)
}

func (t *Transport) sendLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case out := <-t.queue:
			t.metrics.SendQueueLen.Set(float64(len(t.queue)))
			n, err := t.conn.WriteToUDPAddrPort(out.data, out.to)
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					return
				}
				t.metrics.RecordSendError(metrics.ReasonWrite)
				t.logger.Warn("udp send failed",
					logging.KeyPeer, out.to.String(),
					logging.KeyError, err)
				continue
			}
			t.metrics.RecordSend(n)
			t.logger.Debug("sent udp datagram",
				logging.KeyPeer, out.to.String(),
				logging.KeyBytes, n)
		}
	}
}
