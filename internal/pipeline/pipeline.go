// Package pipeline joins the transport with message encryption: outbound text
// is sealed for the recipient before it is framed, and inbound envelopes are
// opened with the local key before anyone else sees them.
package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"lanchat/internal/crypto"
	"lanchat/internal/discovery"
	"lanchat/internal/identity"
	"lanchat/internal/wire"
)

// EventBuffer is the capacity of the inbound event channel.
const EventBuffer = 64

// Event is a decrypted inbound message.
type Event struct {
	Kind   wire.Kind
	Sender string
	Text   string
	SentAt time.Time
}

// Sender delivers one envelope to host:port.
type Sender interface {
	Send(ctx context.Context, host string, port int, env wire.Envelope) error
}

// Pipeline encrypts outbound and decrypts inbound messages.
type Pipeline struct {
	username string
	id       identity.Provider
	out      Sender
	log      *zap.Logger

	events    chan Event
	done      chan struct{}
	closeOnce sync.Once
	dropped   atomic.Uint64
}

// New builds a Pipeline for the local user.
func New(username string, id identity.Provider, out Sender, log *zap.Logger) *Pipeline {
	if log == nil {
		log = zap.NewNop()
	}
	return &Pipeline{
		username: username,
		id:       id,
		out:      out,
		log:      log.Named("pipeline"),
		events:   make(chan Event, EventBuffer),
		done:     make(chan struct{}),
	}
}

// Events delivers decrypted inbound messages in arrival order.
func (p *Pipeline) Events() <-chan Event { return p.events }

// Dropped counts inbound envelopes that could not be decrypted.
func (p *Pipeline) Dropped() uint64 { return p.dropped.Load() }

// Send encrypts text for peer and delivers it as an envelope of the given kind.
func (p *Pipeline) Send(ctx context.Context, peer discovery.PeerRecord, kind wire.Kind, text string) error {
	if peer.PublicKey == nil {
		return errors.New("peer has no public key")
	}
	payload, err := crypto.EncryptFor([]byte(text), peer.PublicKey)
	if err != nil {
		return err
	}
	env := wire.NewEnvelope(kind, p.username, payload)
	return p.out.Send(ctx, peer.Address, peer.Port, env)
}

// HandleEnvelope decrypts env and queues the resulting Event. Undecryptable
// envelopes are logged and counted, never queued. It blocks while the event
// buffer is full and returns immediately once the pipeline is closed.
func (p *Pipeline) HandleEnvelope(env wire.Envelope) {
	pt, err := crypto.DecryptWith(env.Payload, p.id.PrivateKey())
	if err != nil {
		p.dropped.Add(1)
		p.log.Warn("dropping unreadable message",
			zap.String("id", env.ID),
			zap.String("sender", env.Sender),
			zap.Stringer("kind", env.Kind),
			zap.Error(err))
		return
	}

	ev := Event{
		Kind:   env.Kind,
		Sender: env.Sender,
		Text:   string(pt),
		SentAt: env.SentAt(),
	}
	select {
	case p.events <- ev:
	case <-p.done:
	}
}

// Close releases goroutines blocked in HandleEnvelope.
func (p *Pipeline) Close() {
	p.closeOnce.Do(func() { close(p.done) })
}
