// Package session is the interactive switchboard: it tracks what the user is
// doing (main menu, inbox, or a chat) and applies both console commands and
// inbound messages to that state.
//
// Every state change and every line written to the Printer happens under a
// single mutex, so an inbound ACCEPT can never split a command's "check the
// partner, then act" sequence and notifications never interleave with output
// from a command.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"

	"go.uber.org/zap"

	"lanchat/internal/discovery"
	"lanchat/internal/pipeline"
	"lanchat/internal/wire"
)

var (
	ErrNotOnline      = errors.New("not online")
	ErrNoRequest      = errors.New("no request")
	ErrSelfChat       = errors.New("cannot chat with yourself")
	ErrUnknownCommand = errors.New("unknown command")
	ErrUsage          = errors.New("usage")
)

// Directory answers who is online.
type Directory interface {
	Find(username string) (discovery.PeerRecord, bool)
	List() []discovery.PeerRecord
}

// Sender encrypts and delivers one message to a peer.
type Sender interface {
	Send(ctx context.Context, peer discovery.PeerRecord, kind wire.Kind, text string) error
}

// Printer renders session output. Calls are serialized by the Machine.
type Printer interface {
	Header(title string)
	Info(text string)
	System(text string)
	Error(text string)
	Chat(from, text string)
	Notify(text string)
	Prompt(s State)
}

// Config identifies the local user.
type Config struct {
	Username    string
	PublicKey   string
	Fingerprint string

	// OnRequest, if set, is called when a request is surfaced in the main
	// menu. It runs under the session lock and must not block.
	OnRequest func(from string)
}

// Machine owns the session state and the inbox.
type Machine struct {
	cfg Config
	dir Directory
	out Sender
	p   Printer
	log *zap.Logger

	mu    sync.Mutex
	state State
	inbox *inbox
}

// New returns a Machine in ModeMainMenu with an empty inbox.
func New(cfg Config, dir Directory, out Sender, p Printer, log *zap.Logger) *Machine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Machine{
		cfg:   cfg,
		dir:   dir,
		out:   out,
		p:     p,
		log:   log.Named("session"),
		inbox: newInbox(),
	}
}

// State returns a snapshot of the current mode and partner.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Queued returns a copy of the messages waiting from a sender.
func (m *Machine) Queued(from string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inbox.peek(from)
}

// Pending summarizes the inbox in first-arrival order.
func (m *Machine) Pending() []Summary {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inbox.summary()
}

// Welcome prints the banner, any extra system lines and the first prompt.
func (m *Machine) Welcome(lines ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.p.Header("LAN chat: " + m.cfg.Username)
	for _, l := range lines {
		m.p.System(l)
	}
	m.p.System("Type 'help' for commands.")
	m.p.Prompt(m.state)
}

// HandleLine applies one line of user input. It reports true when the user
// asked to exit.
func (m *Machine) HandleLine(ctx context.Context, line string) (exit bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var err error
	switch m.state.Mode {
	case ModeChat:
		err = m.chatLineLocked(ctx, line)
	case ModeInbox:
		exit, err = m.inboxCommandLocked(ctx, line)
	default:
		exit, err = m.menuCommandLocked(ctx, line)
	}
	if err != nil {
		m.p.Error(userMessage(err))
	}
	if !exit {
		m.p.Prompt(m.state)
	}
	return exit
}

func (m *Machine) menuCommandLocked(ctx context.Context, line string) (bool, error) {
	verb, rest := splitCommand(line)
	switch verb {
	case "":
		return false, nil
	case "online", "list":
		m.listOnlineLocked()
	case "requests", "inbox":
		m.state = State{Mode: ModeInbox}
		m.showInboxLocked()
	case "chat":
		user, text := cutWord(rest)
		if user == "" || text == "" {
			return false, fmt.Errorf("%w: chat <user> <message>", ErrUsage)
		}
		return false, m.requestLocked(ctx, user, text)
	case "mykey":
		m.p.Header("Your public key")
		m.p.Info(m.cfg.PublicKey)
		if m.cfg.Fingerprint != "" {
			m.p.System("Fingerprint: " + m.cfg.Fingerprint)
		}
	case "help":
		m.helpLocked()
	case "exit":
		m.p.System("Shutting down...")
		return true, nil
	default:
		return false, fmt.Errorf("%w: %s", ErrUnknownCommand, verb)
	}
	return false, nil
}

func (m *Machine) inboxCommandLocked(ctx context.Context, line string) (bool, error) {
	verb, rest := splitCommand(line)
	user, _ := cutWord(rest)
	switch verb {
	case "":
		return false, nil
	case "accept":
		if user == "" {
			return false, fmt.Errorf("%w: accept <user>", ErrUsage)
		}
		return false, m.acceptLocked(ctx, user)
	case "read":
		if user == "" {
			return false, fmt.Errorf("%w: read <user>", ErrUsage)
		}
		msgs := m.inbox.peek(user)
		if len(msgs) == 0 {
			return false, fmt.Errorf("%w from %s", ErrNoRequest, user)
		}
		for _, text := range msgs {
			m.p.Chat(user, text)
		}
	case "back":
		m.state = State{Mode: ModeMainMenu}
	case "help":
		m.helpLocked()
	case "exit":
		m.p.System("Shutting down...")
		return true, nil
	default:
		return false, fmt.Errorf("%w: %s", ErrUnknownCommand, verb)
	}
	return false, nil
}

// chatLineLocked sends line to the partner. Only "quit" is reserved; every
// other non-empty line is message text.
func (m *Machine) chatLineLocked(ctx context.Context, line string) error {
	text := strings.TrimSpace(line)
	if text == "" {
		return nil
	}
	partner := m.state.Partner
	if strings.EqualFold(text, "quit") {
		m.state = State{Mode: ModeMainMenu}
		m.p.System("Left chat with " + partner + ".")
		return nil
	}
	peer, ok := m.dir.Find(partner)
	if !ok {
		return fmt.Errorf("%s is %w", partner, ErrNotOnline)
	}
	if err := m.out.Send(ctx, peer, wire.KindChat, text); err != nil {
		m.log.Warn("chat send failed", zap.String("peer", partner), zap.Error(err))
		return fmt.Errorf("message to %s not delivered: %w", partner, err)
	}
	return nil
}

// Request sends a chat request. It is the programmatic form of
// "chat <user> <message>".
func (m *Machine) Request(ctx context.Context, user, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requestLocked(ctx, user, text)
}

func (m *Machine) requestLocked(ctx context.Context, user, text string) error {
	if user == m.cfg.Username {
		return ErrSelfChat
	}
	peer, ok := m.dir.Find(user)
	if !ok {
		return fmt.Errorf("%s is %w", user, ErrNotOnline)
	}
	if err := m.out.Send(ctx, peer, wire.KindRequest, text); err != nil {
		m.log.Warn("request send failed", zap.String("peer", user), zap.Error(err))
		return fmt.Errorf("request to %s not delivered: %w", user, err)
	}
	m.p.System("Chat request sent to " + user + ".")
	return nil
}

// Accept accepts the queued request from user. It is the programmatic form
// of "accept <user>" and works from any mode.
func (m *Machine) Accept(ctx context.Context, user string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.acceptLocked(ctx, user)
}

// acceptLocked leaves the inbox untouched unless the ACCEPT is delivered.
func (m *Machine) acceptLocked(ctx context.Context, user string) error {
	if len(m.inbox.peek(user)) == 0 {
		return fmt.Errorf("%w from %s", ErrNoRequest, user)
	}
	peer, ok := m.dir.Find(user)
	if !ok {
		return fmt.Errorf("%s is %w", user, ErrNotOnline)
	}
	if err := m.out.Send(ctx, peer, wire.KindAccept, m.cfg.Username); err != nil {
		m.log.Warn("accept send failed", zap.String("peer", user), zap.Error(err))
		return fmt.Errorf("accept to %s not delivered: %w", user, err)
	}

	queued := m.inbox.take(user)
	m.enterChatLocked(user)
	for _, text := range queued {
		m.p.Chat(user, text)
	}
	return nil
}

func (m *Machine) enterChatLocked(partner string) {
	m.state = State{Mode: ModeChat, Partner: partner}
	m.p.Header("Chat with " + partner)
	m.p.System("Type 'quit' to return to the main menu.")
}

// HandleInbound applies a decrypted inbound message.
func (m *Machine) HandleInbound(ev pipeline.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.log.Debug("inbound message",
		zap.Stringer("kind", ev.Kind),
		zap.String("sender", ev.Sender),
		zap.Time("sent_at", ev.SentAt),
		zap.Duration("age", time.Since(ev.SentAt)))

	switch ev.Kind {
	case wire.KindAccept:
		m.p.Notify(ev.Sender + " accepted your chat request.")
		m.enterChatLocked(ev.Sender)
	case wire.KindChat:
		if m.state.Mode == ModeChat && m.state.Partner == ev.Sender {
			m.p.Chat(ev.Sender, ev.Text)
		} else {
			m.queueLocked(ev.Sender, ev.Text)
		}
	case wire.KindRequest:
		m.queueLocked(ev.Sender, ev.Text)
	default:
		m.log.Warn("ignoring inbound message", zap.Stringer("kind", ev.Kind), zap.String("sender", ev.Sender))
		return
	}
	m.p.Prompt(m.state)
}

// queueLocked stores a message from a sender without an active chat. The
// user is only interrupted in the main menu.
func (m *Machine) queueLocked(from, text string) {
	m.inbox.add(from, text)
	if m.state.Mode != ModeMainMenu {
		return
	}
	m.p.Notify("New chat request from " + from + ". Type 'requests' to view.")
	if m.cfg.OnRequest != nil {
		m.cfg.OnRequest(from)
	}
}

// Notice prints a system line and redraws the prompt. It is used for
// messages that do not originate from a command or a peer.
func (m *Machine) Notice(text string, isError bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if isError {
		m.p.Error(text)
	} else {
		m.p.System(text)
	}
	m.p.Prompt(m.state)
}

// PeerJoined announces a newly discovered peer.
func (m *Machine) PeerJoined(rec discovery.PeerRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.p.Notify(rec.Username + " is online.")
	m.p.Prompt(m.state)
}

func (m *Machine) listOnlineLocked() {
	m.p.Header("Online users")
	peers := m.dir.List()
	if len(peers) == 0 {
		m.p.Info("No other users found on the network.")
		return
	}
	for _, p := range peers {
		m.p.Info(fmt.Sprintf("%s  %s:%d", p.Username, p.Address, p.Port))
	}
}

func (m *Machine) showInboxLocked() {
	m.p.Header("Pending requests")
	pending := m.inbox.summary()
	if len(pending) == 0 {
		m.p.Info("No pending requests.")
		return
	}
	for _, s := range pending {
		noun := "messages"
		if s.Count == 1 {
			noun = "message"
		}
		m.p.Info(fmt.Sprintf("%s (%d %s)", s.From, s.Count, noun))
	}
}

func (m *Machine) helpLocked() {
	switch m.state.Mode {
	case ModeInbox:
		m.p.Info("accept <user>   start chatting with user")
		m.p.Info("read <user>     show queued messages")
		m.p.Info("back            return to the main menu")
		m.p.Info("exit            quit lanchat")
	default:
		m.p.Info("online                list users on the network")
		m.p.Info("requests              view pending chat requests")
		m.p.Info("chat <user> <msg>     send a chat request")
		m.p.Info("mykey                 show your public key")
		m.p.Info("exit                  quit lanchat")
	}
}

// splitCommand returns the lower-cased first word and the remainder.
func splitCommand(line string) (verb, rest string) {
	verb, rest = cutWord(line)
	return strings.ToLower(verb), rest
}

// cutWord splits off the first whitespace-delimited word. Case is kept.
func cutWord(s string) (word, rest string) {
	s = strings.TrimSpace(s)
	i := strings.IndexFunc(s, unicode.IsSpace)
	if i < 0 {
		return s, ""
	}
	return s[:i], strings.TrimSpace(s[i:])
}

func userMessage(err error) string {
	if errors.Is(err, ErrUsage) {
		return "Usage: " + strings.TrimPrefix(err.Error(), "usage: ")
	}
	return err.Error()
}
