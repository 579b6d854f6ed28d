package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"go.uber.org/zap"

	"lanchat/internal/session"
)

const (
	mainPrompt  = "(online | requests | chat <user> <msg> | exit) > "
	inboxPrompt = "(accept <user> | read <user> | back) > "
	chatPrompt  = "You: "
)

// maxInputLine bounds one console line. Longer lines are discarded and
// reported; reading carries on with the next line.
const maxInputLine = 64 * 1024

var errLineTooLong = errors.New("console line too long")

// consolePrinter renders session output as styled lines. The session
// serializes calls, so it needs no lock of its own.
type consolePrinter struct {
	w io.Writer

	// clearLine erases a half-typed prompt; empty when w is not a terminal.
	clearLine string

	header lipgloss.Style
	system lipgloss.Style
	errMsg lipgloss.Style
	sender lipgloss.Style
	notify lipgloss.Style
	prompt lipgloss.Style
}

// NewConsolePrinter styles output for w. Colors are dropped when w is not a
// terminal.
func NewConsolePrinter(w io.Writer) session.Printer {
	r := lipgloss.NewRenderer(w)
	clearLine := ""
	if r.ColorProfile() != termenv.Ascii {
		clearLine = "\r\033[K"
	}
	return &consolePrinter{
		w:         w,
		clearLine: clearLine,

		header: r.NewStyle().Bold(true).Foreground(primaryColor),
		system: r.NewStyle().Foreground(warningColor),
		errMsg: r.NewStyle().Bold(true).Foreground(errorColor),
		sender: r.NewStyle().Bold(true).Foreground(accentColor),
		notify: r.NewStyle().Foreground(warningColor),
		prompt: r.NewStyle().Bold(true).Foreground(promptColor),
	}
}

func (c *consolePrinter) Header(title string) {
	fmt.Fprintf(c.w, "\n%s\n", c.header.Render("=== "+title+" ==="))
}

func (c *consolePrinter) Info(text string) {
	fmt.Fprintln(c.w, text)
}

func (c *consolePrinter) System(text string) {
	fmt.Fprintln(c.w, c.system.Render("[SYSTEM] "+text))
}

func (c *consolePrinter) Error(text string) {
	fmt.Fprintln(c.w, c.errMsg.Render("[ERROR] "+text))
}

func (c *consolePrinter) Chat(from, text string) {
	fmt.Fprintf(c.w, "%s %s\n", c.sender.Render("["+from+"]:"), text)
}

// Notify clears the current prompt line before printing, so a notification
// arriving while the user types starts on a fresh line.
func (c *consolePrinter) Notify(text string) {
	fmt.Fprintf(c.w, "%s%s\n", c.clearLine, c.notify.Render("[!] "+text))
}

func (c *consolePrinter) Prompt(s session.State) {
	p := mainPrompt
	switch s.Mode {
	case session.ModeInbox:
		p = inboxPrompt
	case session.ModeChat:
		p = chatPrompt
	}
	fmt.Fprint(c.w, c.prompt.Render(p))
}

// readConsole feeds lines from r into the event loop until EOF, then asks
// the node to stop. Reads from a terminal cannot be interrupted, so this
// goroutine is not waited for on shutdown.
func (n *Node) readConsole(r io.Reader) {
	br := bufio.NewReader(r)
	for {
		line, err := readLine(br, maxInputLine)
		if errors.Is(err, errLineTooLong) {
			msg := fmt.Sprintf("Input line longer than %d bytes ignored.", maxInputLine)
			if !n.deliver(n.Notices, msg) {
				return
			}
			continue
		}
		if err == nil || line != "" {
			if !n.deliver(n.CLIInput, line) {
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				n.log.Warn("console read error", zap.Error(err))
			}
			break
		}
	}
	n.requestStop()
}

// deliver hands s to the event loop. It reports false once the node is
// shutting down.
func (n *Node) deliver(ch chan<- string, s string) bool {
	select {
	case ch <- s:
		return true
	case <-n.Shutdown:
		return false
	}
}

// readLine returns the next line without its line ending. A line over limit
// bytes is consumed whole and reported as errLineTooLong.
func readLine(br *bufio.Reader, limit int) (string, error) {
	var buf []byte
	tooLong := false
	for {
		chunk, err := br.ReadSlice('\n')
		if !tooLong {
			if len(buf)+len(strings.TrimRight(string(chunk), "\r\n")) > limit {
				tooLong, buf = true, nil
			} else {
				buf = append(buf, chunk...)
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if tooLong {
			return "", errLineTooLong
		}
		return strings.TrimRight(string(buf), "\r\n"), err
	}
}
