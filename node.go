package main

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"go.uber.org/zap"

	"lanchat/internal/config"
	"lanchat/internal/discovery"
	"lanchat/internal/identity"
	"lanchat/internal/pipeline"
	"lanchat/internal/session"
	"lanchat/internal/transport"
	"lanchat/internal/wire"
)

// NewNode binds the chat listener and builds every component. Failing to
// bind the chat port is fatal.
func NewNode(ctx context.Context, cfg *config.Config, id identity.Provider, out session.Printer, log *zap.Logger) (*Node, error) {
	if log == nil {
		log = zap.NewNop()
	}
	keyString, err := identity.PublicKeyToString(id.PublicKey())
	if err != nil {
		return nil, fmt.Errorf("encode public key: %w", err)
	}

	n := &Node{
		cfg:        cfg,
		log:        log,
		id:         id,
		CLIInput:   make(chan string),
		Notices:    make(chan string),
		PeerJoined: make(chan discovery.PeerRecord, 16),
		Shutdown:   make(chan struct{}),
		done:       make(chan struct{}),
	}

	n.transport = transport.New(func(e wire.Envelope) { n.pipeline.HandleEnvelope(e) }, log)
	n.pipeline = pipeline.New(cfg.Username, id, n.transport, log)

	listenAddr := net.JoinHostPort(cfg.Chat.Host, strconv.Itoa(cfg.Chat.Port))
	if err := n.transport.Listen(ctx, listenAddr); err != nil {
		return nil, fmt.Errorf("chat listener on %s: %w", listenAddr, err)
	}

	n.discovery = discovery.New(discovery.Config{
		Username:      cfg.Username,
		ChatPort:      n.transport.Port(),
		PublicKey:     keyString,
		ListenAddr:    fmt.Sprintf(":%d", cfg.Discovery.Port),
		BroadcastAddr: cfg.Discovery.Broadcast,
		Port:          cfg.Discovery.Port,
		Interval:      cfg.Discovery.Interval,
		Window:        cfg.Discovery.Window,
	}, log, nil)
	n.discovery.OnJoin = n.peerJoined

	scfg := session.Config{
		Username:    cfg.Username,
		PublicKey:   keyString,
		Fingerprint: identity.Fingerprint(id.PublicKey()),
	}
	if cfg.UI.Sound {
		chime := NewChime(log)
		scfg.OnRequest = func(string) { chime.Play() }
	}
	n.session = session.New(scfg, n.discovery.Directory(), n.pipeline, out, log)

	return n, nil
}

// Start launches discovery and prints the banner. A discovery failure leaves
// chat usable and is reported on the console.
func (n *Node) Start(ctx context.Context) {
	n.session.Welcome(fmt.Sprintf("Listening for chats on port %d.", n.transport.Port()))

	if err := n.discovery.Start(ctx); err != nil {
		n.log.Error("discovery unavailable", zap.Error(err))
		n.session.Notice("Peer discovery unavailable: "+err.Error(), true)
	}
}

// peerJoined runs on the discovery goroutine and hands the record to the
// event loop.
func (n *Node) peerJoined(rec discovery.PeerRecord) {
	select {
	case n.PeerJoined <- rec:
	case <-n.Shutdown:
	}
}

// Run is the event loop. It owns every call into the session and returns
// after the node has shut down.
func (n *Node) Run(ctx context.Context) {
	defer n.teardown()

	events := n.pipeline.Events()
	for {
		select {
		case line := <-n.CLIInput:
			if n.session.HandleLine(ctx, line) {
				return
			}

		case text := <-n.Notices:
			n.session.Notice(text, true)

		case ev := <-events:
			n.session.HandleInbound(ev)

		case rec := <-n.PeerJoined:
			n.session.PeerJoined(rec)

		case <-n.Shutdown:
			return

		case <-ctx.Done():
			return
		}
	}
}

// Stop asks the event loop to exit and waits for teardown.
func (n *Node) Stop() {
	n.requestStop()
	<-n.done
}

// Done is closed once the node has fully shut down.
func (n *Node) Done() <-chan struct{} { return n.done }

func (n *Node) requestStop() {
	n.stopOnce.Do(func() { close(n.Shutdown) })
}

func (n *Node) teardown() {
	n.requestStop()
	n.pipeline.Close()
	n.discovery.Stop()
	if err := n.transport.Close(); err != nil {
		n.log.Debug("close transport", zap.Error(err))
	}

	if dropped := n.pipeline.Dropped(); dropped > 0 {
		n.log.Info("unreadable messages dropped", zap.Uint64("count", dropped))
	}
	n.log.Info("node shut down")
	close(n.done)
}

var _ pipeline.Sender = (*transport.Transport)(nil)
