// Package wire defines what lanchat puts on the network: the TCP Envelope,
// its length-prefixed CBOR framing, and the UDP discovery Announcement.
package wire

import (
	"errors"
	"fmt"
	"time"

	cbor "github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
)

// Kind is the type of an Envelope.
type Kind uint8

const (
	KindRequest Kind = iota + 1
	KindChat
	KindAccept
)

var ErrUnknownKind = errors.New("unknown envelope kind")

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "REQUEST"
	case KindChat:
		return "CHAT"
	case KindAccept:
		return "ACCEPT"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	return k >= KindRequest && k <= KindAccept
}

// Envelope is the unit of transmission over TCP. Payload is always
// ciphertext for the recipient; the envelope itself is not encrypted.
type Envelope struct {
	ID        string `cbor:"1,keyasint"`
	Kind      Kind   `cbor:"2,keyasint"`
	Sender    string `cbor:"3,keyasint"`
	Payload   []byte `cbor:"4,keyasint"`
	Timestamp int64  `cbor:"5,keyasint"` // epoch millis
}

// NewEnvelope stamps a fresh id and the current time.
func NewEnvelope(kind Kind, sender string, payload []byte) Envelope {
	return Envelope{
		ID:        uuid.NewString(),
		Kind:      kind,
		Sender:    sender,
		Payload:   payload,
		Timestamp: time.Now().UnixMilli(),
	}
}

// SentAt returns Timestamp as a time.Time.
func (e Envelope) SentAt() time.Time {
	return time.UnixMilli(e.Timestamp)
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	decMode, err = cbor.DecOptions{
		DupMapKey: cbor.DupMapKeyEnforcedAPF,
	}.DecMode()
	if err != nil {
		panic(err)
	}
}

// Marshal encodes e as canonical CBOR.
func (e Envelope) Marshal() ([]byte, error) {
	if !e.Kind.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, e.Kind)
	}
	return encMode.Marshal(e)
}

// UnmarshalEnvelope decodes CBOR produced by Envelope.Marshal.
func UnmarshalEnvelope(data []byte) (Envelope, error) {
	var e Envelope
	if err := decMode.Unmarshal(data, &e); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if !e.Kind.Valid() {
		return Envelope{}, fmt.Errorf("%w: %d", ErrUnknownKind, e.Kind)
	}
	if e.Sender == "" {
		return Envelope{}, errors.New("decode envelope: missing sender")
	}
	return e, nil
}
