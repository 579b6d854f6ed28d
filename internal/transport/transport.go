// Package transport moves Envelopes over TCP.
//
// Delivery is send-and-forget: Send dials the peer, writes one framed
// envelope and closes the connection. The listener reads envelopes from each
// accepted connection until it closes, one goroutine per connection.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"lanchat/internal/wire"
)

const (
	DefaultPort  = 8888
	DialTimeout  = 5 * time.Second
	WriteTimeout = 5 * time.Second
)

// ErrDelivery wraps every failure surfaced by Send.
var ErrDelivery = errors.New("delivery failed")

// Handler receives each decoded inbound envelope. It is called from the
// connection's goroutine.
type Handler func(wire.Envelope)

// Transport owns the TCP listener and its connections.
type Transport struct {
	handler Handler
	log     *zap.Logger

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	closed   bool
	wg       sync.WaitGroup
}

// New returns a Transport that dispatches inbound envelopes to h.
func New(h Handler, log *zap.Logger) *Transport {
	if log == nil {
		log = zap.NewNop()
	}
	return &Transport{
		handler: h,
		log:     log.Named("transport"),
		conns:   make(map[net.Conn]struct{}),
	}
}

// Listen binds addr and serves in the background. A bind failure is
// returned to the caller.
func (t *Transport) Listen(ctx context.Context, addr string) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		ln.Close()
		return net.ErrClosed
	}
	t.listener = ln
	t.mu.Unlock()

	t.log.Info("listening", zap.Stringer("addr", ln.Addr()))

	t.wg.Add(1)
	go t.acceptLoop(ln)

	context.AfterFunc(ctx, func() { t.Close() })
	return nil
}

// Addr returns the listener address, or nil before Listen.
func (t *Transport) Addr() net.Addr {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.listener == nil {
		return nil
	}
	return t.listener.Addr()
}

// Port returns the bound TCP port, or 0 before Listen.
func (t *Transport) Port() int {
	if a, ok := t.Addr().(*net.TCPAddr); ok {
		return a.Port
	}
	return 0
}

func (t *Transport) acceptLoop(ln net.Listener) {
	defer t.wg.Done()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			t.log.Warn("accept error", zap.Error(err))
			continue
		}

		if !t.track(conn) {
			conn.Close()
			return
		}
		t.wg.Add(1)
		go t.serveConn(conn)
	}
}

func (t *Transport) track(conn net.Conn) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return false
	}
	t.conns[conn] = struct{}{}
	return true
}

func (t *Transport) untrack(conn net.Conn) {
	t.mu.Lock()
	delete(t.conns, conn)
	t.mu.Unlock()
}

// serveConn reads envelopes until the peer closes or a read fails. Errors
// end only this connection.
func (t *Transport) serveConn(conn net.Conn) {
	defer t.wg.Done()
	defer t.untrack(conn)
	defer conn.Close()

	remote := conn.RemoteAddr().String()
	for {
		env, err := wire.ReadEnvelope(conn)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) && !errors.Is(err, io.EOF) {
				t.log.Warn("dropping connection", zap.String("remote", remote), zap.Error(err))
			}
			return
		}
		t.log.Debug("envelope received",
			zap.String("id", env.ID),
			zap.Stringer("kind", env.Kind),
			zap.String("sender", env.Sender),
			zap.String("remote", remote))
		if t.handler != nil {
			t.handler(env)
		}
	}
}

// Send dials host:port, writes env and closes the connection. It does not
// wait for any acknowledgment.
func (t *Transport) Send(ctx context.Context, host string, port int, env wire.Envelope) error {
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	d := net.Dialer{Timeout: DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("%w: dial %s: %v", ErrDelivery, addr, err)
	}
	defer conn.Close()

	_ = conn.SetWriteDeadline(time.Now().Add(WriteTimeout))
	if err := wire.WriteEnvelope(conn, env); err != nil {
		return fmt.Errorf("%w: write to %s: %v", ErrDelivery, addr, err)
	}
	t.log.Debug("envelope sent",
		zap.String("id", env.ID),
		zap.Stringer("kind", env.Kind),
		zap.String("to", addr))
	return nil
}

// Close stops the listener, closes live connections and waits for every
// handler goroutine to return.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		t.wg.Wait()
		return nil
	}
	t.closed = true
	var err error
	if t.listener != nil {
		err = t.listener.Close()
	}
	for c := range t.conns {
		c.Close()
	}
	t.mu.Unlock()

	t.wg.Wait()
	return err
}
