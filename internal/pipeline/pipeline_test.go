package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"lanchat/internal/crypto"
	"lanchat/internal/discovery"
	"lanchat/internal/identity"
	"lanchat/internal/transport"
	"lanchat/internal/wire"
)

type recordingSender struct {
	host string
	port int
	envs []wire.Envelope
	err  error
}

func (s *recordingSender) Send(_ context.Context, host string, port int, env wire.Envelope) error {
	s.host, s.port = host, port
	s.envs = append(s.envs, env)
	return s.err
}

func mustIdentity(t *testing.T) *identity.Static {
	t.Helper()
	id, err := identity.Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	return id
}

func TestSendEncryptsForRecipient(t *testing.T) {
	local, bob := mustIdentity(t), mustIdentity(t)
	out := &recordingSender{}
	p := New("local", local, out, nil)

	peer := discovery.PeerRecord{Username: "bob", Address: "10.0.0.7", Port: 9002, PublicKey: bob.PublicKey()}
	if err := p.Send(context.Background(), peer, wire.KindRequest, "hello"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(out.envs) != 1 || out.host != "10.0.0.7" || out.port != 9002 {
		t.Fatalf("sent %d envelopes to %s:%d", len(out.envs), out.host, out.port)
	}
	env := out.envs[0]
	if env.Kind != wire.KindRequest || env.Sender != "local" || env.ID == "" {
		t.Fatalf("envelope = %+v", env)
	}
	pt, err := crypto.DecryptWith(env.Payload, bob.PrivateKey())
	if err != nil || string(pt) != "hello" {
		t.Fatalf("bob decrypt: %q, %v", pt, err)
	}
	if _, err := crypto.DecryptWith(env.Payload, local.PrivateKey()); err == nil {
		t.Fatal("sender's own key must not open the payload")
	}
}

func TestSendPropagatesDeliveryError(t *testing.T) {
	out := &recordingSender{err: transport.ErrDelivery}
	p := New("local", mustIdentity(t), out, nil)
	peer := discovery.PeerRecord{Username: "bob", PublicKey: mustIdentity(t).PublicKey()}
	if err := p.Send(context.Background(), peer, wire.KindChat, "x"); !errors.Is(err, transport.ErrDelivery) {
		t.Fatalf("want ErrDelivery, got %v", err)
	}
}

func TestHandleEnvelopeDropsUnreadable(t *testing.T) {
	local, stranger := mustIdentity(t), mustIdentity(t)
	p := New("local", local, nil, nil)

	payload, err := crypto.EncryptFor([]byte("not for you"), stranger.PublicKey())
	if err != nil {
		t.Fatalf("EncryptFor: %v", err)
	}
	p.HandleEnvelope(wire.NewEnvelope(wire.KindChat, "mallory", payload))
	p.HandleEnvelope(wire.NewEnvelope(wire.KindChat, "mallory", []byte("garbage")))

	if p.Dropped() != 2 {
		t.Fatalf("Dropped = %d, want 2", p.Dropped())
	}
	select {
	case ev := <-p.Events():
		t.Fatalf("unexpected event %+v", ev)
	default:
	}

	good, _ := crypto.EncryptFor([]byte("hi"), local.PublicKey())
	p.HandleEnvelope(wire.NewEnvelope(wire.KindChat, "carol", good))
	ev := <-p.Events()
	if ev.Sender != "carol" || ev.Text != "hi" || ev.Kind != wire.KindChat {
		t.Fatalf("event = %+v", ev)
	}
}

func TestHandleEnvelopeReturnsAfterClose(t *testing.T) {
	local := mustIdentity(t)
	p := New("local", local, nil, nil)
	payload, _ := crypto.EncryptFor([]byte("x"), local.PublicKey())
	env := wire.NewEnvelope(wire.KindChat, "bob", payload)
	for i := 0; i < EventBuffer; i++ {
		p.HandleEnvelope(env)
	}

	done := make(chan struct{})
	go func() {
		p.HandleEnvelope(env)
		close(done)
	}()
	p.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("HandleEnvelope blocked after Close")
	}
}

// A local chat request reaches a simulated peer over real sockets.
func TestRequestOverLoopback(t *testing.T) {
	local, bob := mustIdentity(t), mustIdentity(t)

	var bobPipe *Pipeline
	bobTr := transport.New(func(e wire.Envelope) { bobPipe.HandleEnvelope(e) }, nil)
	bobPipe = New("bob", bob, bobTr, nil)
	if err := bobTr.Listen(context.Background(), "127.0.0.1:0"); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer bobTr.Close()

	localPipe := New("local", local, transport.New(nil, nil), nil)
	peer := discovery.PeerRecord{Username: "bob", Address: "127.0.0.1", Port: bobTr.Port(), PublicKey: bob.PublicKey()}
	if err := localPipe.Send(context.Background(), peer, wire.KindRequest, "hello"); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case ev := <-bobPipe.Events():
		if ev.Kind != wire.KindRequest || ev.Sender != "local" || ev.Text != "hello" {
			t.Fatalf("bob got %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("bob received nothing")
	}
	select {
	case ev := <-bobPipe.Events():
		t.Fatalf("bob got a second event %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}
