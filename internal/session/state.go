package session

import "fmt"

// Mode is what the interactive user is currently doing.
type Mode int

const (
	ModeMainMenu Mode = iota
	ModeInbox
	ModeChat
)

func (m Mode) String() string {
	switch m {
	case ModeMainMenu:
		return "MAIN_MENU"
	case ModeInbox:
		return "INBOX_VIEW"
	case ModeChat:
		return "IN_CHAT"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// State is a snapshot of the session. Partner is set only in ModeChat.
type State struct {
	Mode    Mode
	Partner string
}

func (s State) String() string {
	if s.Mode == ModeChat {
		return fmt.Sprintf("%s(%s)", s.Mode, s.Partner)
	}
	return s.Mode.String()
}

// inbox holds messages from senders without an active chat, oldest first.
// Senders are kept in first-arrival order for display.
type inbox struct {
	msgs  map[string][]string
	order []string
}

func newInbox() *inbox {
	return &inbox{msgs: make(map[string][]string)}
}

func (b *inbox) add(from, text string) {
	if _, ok := b.msgs[from]; !ok {
		b.order = append(b.order, from)
	}
	b.msgs[from] = append(b.msgs[from], text)
}

// peek returns a copy of from's queue.
func (b *inbox) peek(from string) []string {
	q := b.msgs[from]
	if len(q) == 0 {
		return nil
	}
	return append([]string(nil), q...)
}

// take removes and returns from's queue.
func (b *inbox) take(from string) []string {
	q, ok := b.msgs[from]
	if !ok {
		return nil
	}
	delete(b.msgs, from)
	for i, name := range b.order {
		if name == from {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
	return q
}

// Summary is one inbox line: a sender and how many messages are queued.
type Summary struct {
	From  string
	Count int
}

func (b *inbox) summary() []Summary {
	out := make([]Summary, 0, len(b.order))
	for _, name := range b.order {
		out = append(out, Summary{From: name, Count: len(b.msgs[name])})
	}
	return out
}
