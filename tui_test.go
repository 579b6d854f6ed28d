package main

import (
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"lanchat/internal/discovery"
	"lanchat/internal/session"
)

func newTestUI(printer *tuiPrinter, input chan string, shutdown chan struct{}) *UI {
	ta := textarea.New()
	ta.Focus()
	return &UI{
		username: "alice",
		input:    input,
		shutdown: shutdown,
		output:   printer.msgs,
		online: func() []discovery.PeerRecord {
			return []discovery.PeerRecord{{Username: "bob"}}
		},
		pending: func() []session.Summary {
			return []session.Summary{{From: "carol", Count: 2}, {From: "dave", Count: 1}}
		},
		viewport: viewport.New(80, 20),
		textarea: ta,
	}
}

func TestTUIPrinterForwardsOutput(t *testing.T) {
	p := newTUIPrinter()
	ui := newTestUI(p, make(chan string), make(chan struct{}))

	p.System("bob is online.")
	p.Chat("bob", "hi")
	p.Prompt(session.State{Mode: session.ModeChat, Partner: "bob"})

	for i := 0; i < 3; i++ {
		msg := ui.listenForOutput()()
		ui.Update(msg)
	}

	if len(ui.messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(ui.messages))
	}
	if ui.messages[0].Kind != lineSystem || ui.messages[1].From != "bob" {
		t.Fatalf("unexpected lines: %+v", ui.messages)
	}
	if ui.state.Mode != session.ModeChat || ui.state.Partner != "bob" {
		t.Fatalf("state = %s", ui.state)
	}
}

func TestTUIPrinterCloseUnblocks(t *testing.T) {
	p := &tuiPrinter{msgs: make(chan tea.Msg), done: make(chan struct{})}
	p.Close()
	p.Close()

	done := make(chan struct{})
	go func() {
		p.Info("dropped")
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("send blocked after Close")
	}
}

func TestTUIEnterSubmitsLine(t *testing.T) {
	input := make(chan string, 1)
	ui := newTestUI(newTUIPrinter(), input, make(chan struct{}))
	ui.state = session.State{Mode: session.ModeChat, Partner: "bob"}
	ui.textarea.SetValue("hello bob")

	_, cmd := ui.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if cmd == nil {
		t.Fatal("enter returned no command")
	}
	cmd()

	select {
	case got := <-input:
		if got != "hello bob" {
			t.Fatalf("submitted %q", got)
		}
	default:
		t.Fatal("line was not submitted")
	}
	if ui.textarea.Value() != "" {
		t.Fatalf("textarea not cleared: %q", ui.textarea.Value())
	}
	last := ui.messages[len(ui.messages)-1]
	if last.Kind != lineSelf || last.Text != "hello bob" {
		t.Fatalf("echo = %+v, want own chat line", last)
	}
}

func TestTUIEnterIgnoresBlankInput(t *testing.T) {
	ui := newTestUI(newTUIPrinter(), make(chan string), make(chan struct{}))
	ui.textarea.SetValue("   ")

	_, cmd := ui.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if cmd != nil {
		t.Fatal("blank input produced a command")
	}
	if len(ui.messages) != 0 {
		t.Fatalf("blank input echoed: %+v", ui.messages)
	}
}

func TestTUIQuitsOnShutdown(t *testing.T) {
	shutdown := make(chan struct{})
	ui := newTestUI(newTUIPrinter(), make(chan string), shutdown)
	close(shutdown)

	if _, ok := ui.waitForShutdown()().(tea.QuitMsg); !ok {
		t.Fatal("shutdown did not produce a quit message")
	}
}

func TestTUIViewShowsPeersAndMode(t *testing.T) {
	ui := newTestUI(newTUIPrinter(), make(chan string), make(chan struct{}))
	ui.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	ui.Update(tickMsg(time.Now()))
	ui.state = session.State{Mode: session.ModeInbox}

	if ui.requests != 3 {
		t.Fatalf("requests = %d, want 3", ui.requests)
	}
	view := ui.View()
	for _, want := range []string{"bob", "INBOX_VIEW", "accept <user>", "Requests: 3"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
}
