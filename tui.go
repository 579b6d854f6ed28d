package main

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"lanchat/internal/discovery"
	"lanchat/internal/identity"
	"lanchat/internal/session"
)

// Styles for the TUI
var (
	// Color scheme
	primaryColor    = lipgloss.Color("#7C3AED") // Purple
	accentColor     = lipgloss.Color("#10B981") // Green
	infoColor       = lipgloss.Color("#3B82F6") // Blue
	promptColor     = lipgloss.Color("#22D3EE") // Cyan
	warningColor    = lipgloss.Color("#F59E0B") // Amber
	errorColor      = lipgloss.Color("#EF4444") // Red
	mutedColor      = lipgloss.Color("#6B7280") // Gray
	backgroundColor = lipgloss.Color("#1F2937") // Dark gray

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(primaryColor).
			Padding(0, 1)

	peerPanelStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(mutedColor).
			Padding(0, 1)

	messagePanelStyle = lipgloss.NewStyle().
				BorderStyle(lipgloss.RoundedBorder()).
				BorderForeground(mutedColor).
				Padding(0, 1)

	statusBarStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Background(backgroundColor).
			Padding(0, 1)

	inputStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(accentColor).
			Padding(0, 1)

	systemMessageStyle = lipgloss.NewStyle().
				Foreground(accentColor).
				Italic(true)

	errorMessageStyle = lipgloss.NewStyle().
				Foreground(errorColor).
				Bold(true)

	notifyMessageStyle = lipgloss.NewStyle().
				Foreground(warningColor).
				Bold(true)

	titleMessageStyle = lipgloss.NewStyle().
				Foreground(primaryColor).
				Bold(true).
				Underline(true)

	userMessageStyle = lipgloss.NewStyle().
				Foreground(primaryColor).
				Bold(true)

	peerMessageStyle = lipgloss.NewStyle().
				Foreground(infoColor)

	commandEchoStyle = lipgloss.NewStyle().
				Foreground(mutedColor)

	timestampStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Faint(true)

	peerOnlineStyle = lipgloss.NewStyle().
			Foreground(accentColor)
)

type lineKind int

const (
	lineInfo lineKind = iota
	lineSystem
	lineError
	lineChat
	lineNotify
	lineHeader
	lineSelf
	lineEcho
)

// lineMsg is one line of session output.
type lineMsg struct {
	Kind      lineKind
	From      string
	Text      string
	Timestamp time.Time
}

// stateMsg carries the session state that would otherwise select a prompt.
type stateMsg session.State

// tickMsg is sent periodically to refresh the peer panel
type tickMsg time.Time

// tuiPrinter forwards session output to the UI. Sends block until the UI
// takes the line or the printer is closed.
type tuiPrinter struct {
	msgs      chan tea.Msg
	done      chan struct{}
	closeOnce sync.Once
}

func newTUIPrinter() *tuiPrinter {
	return &tuiPrinter{
		msgs: make(chan tea.Msg, 256),
		done: make(chan struct{}),
	}
}

func (p *tuiPrinter) send(m tea.Msg) {
	select {
	case p.msgs <- m:
	case <-p.done:
	}
}

func (p *tuiPrinter) line(kind lineKind, from, text string) {
	p.send(lineMsg{Kind: kind, From: from, Text: text, Timestamp: time.Now()})
}

func (p *tuiPrinter) Header(title string)    { p.line(lineHeader, "", title) }
func (p *tuiPrinter) Info(text string)       { p.line(lineInfo, "", text) }
func (p *tuiPrinter) System(text string)     { p.line(lineSystem, "", text) }
func (p *tuiPrinter) Error(text string)      { p.line(lineError, "", text) }
func (p *tuiPrinter) Chat(from, text string) { p.line(lineChat, from, text) }
func (p *tuiPrinter) Notify(text string)     { p.line(lineNotify, "", text) }
func (p *tuiPrinter) Prompt(s session.State) { p.send(stateMsg(s)) }

// Close releases any session call blocked on a UI that has gone away.
func (p *tuiPrinter) Close() {
	p.closeOnce.Do(func() { close(p.done) })
}

// UI represents the TUI model
type UI struct {
	username    string
	fingerprint string

	input    chan<- string
	shutdown <-chan struct{}
	output   <-chan tea.Msg
	online   func() []discovery.PeerRecord
	pending  func() []session.Summary

	state      session.State
	messages   []lineMsg
	peers      []discovery.PeerRecord
	requests   int
	viewport   viewport.Model
	textarea   textarea.Model
	ready      bool
	width      int
	height     int
	lastUpdate time.Time
	showHelp   bool
}

// NewUI builds the TUI for node. Session output must be going to printer.
func NewUI(node *Node, printer *tuiPrinter) *UI {
	ta := textarea.New()
	ta.Placeholder = "Type a command, or 'help'..."
	ta.Focus()
	ta.Prompt = "┃ "
	ta.CharLimit = 500
	ta.SetWidth(80)
	ta.SetHeight(1)
	ta.FocusedStyle.CursorLine = lipgloss.NewStyle()
	ta.ShowLineNumbers = false
	ta.KeyMap.InsertNewline.SetEnabled(false)

	vp := viewport.New(80, 20)
	vp.SetContent("")

	return &UI{
		username:    node.cfg.Username,
		fingerprint: identity.Fingerprint(node.id.PublicKey()),
		input:       node.CLIInput,
		shutdown:    node.Shutdown,
		output:      printer.msgs,
		online:      node.discovery.Directory().List,
		pending:     node.session.Pending,
		state:       node.session.State(),
		viewport:    vp,
		textarea:    ta,
		lastUpdate:  time.Now(),
	}
}

// Init initializes the TUI
func (ui *UI) Init() tea.Cmd {
	return tea.Batch(
		textarea.Blink,
		ui.listenForOutput(),
		ui.waitForShutdown(),
		ui.tickCmd(),
	)
}

// listenForOutput waits for the next line from the session.
func (ui *UI) listenForOutput() tea.Cmd {
	return func() tea.Msg {
		select {
		case m := <-ui.output:
			return m
		case <-ui.shutdown:
			return nil
		}
	}
}

// waitForShutdown quits the program once the node stops, for example after
// the user types exit.
func (ui *UI) waitForShutdown() tea.Cmd {
	return func() tea.Msg {
		<-ui.shutdown
		return tea.QuitMsg{}
	}
}

// submit hands a line to the event loop without blocking Update, which must
// keep draining session output.
func (ui *UI) submit(line string) tea.Cmd {
	return func() tea.Msg {
		select {
		case ui.input <- line:
		case <-ui.shutdown:
		}
		return nil
	}
}

// tickCmd sends periodic ticks to update peer list and status
func (ui *UI) tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update handles messages and updates the model
func (ui *UI) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		tiCmd tea.Cmd
		vpCmd tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return ui, tea.Quit

		case tea.KeyCtrlH:
			ui.showHelp = !ui.showHelp
			ui.updateViewport()
			return ui, nil

		case tea.KeyEnter:
			line := ui.textarea.Value()
			ui.textarea.Reset()
			if strings.TrimSpace(line) == "" {
				return ui, nil
			}
			ui.echo(line)
			return ui, ui.submit(line)
		}

	case tea.WindowSizeMsg:
		ui.width = msg.Width
		ui.height = msg.Height
		ui.ready = true

		headerHeight := 3
		footerHeight := 5
		statusBarHeight := 1
		ui.viewport.Width = ui.width - 35 // Leave space for peer panel
		ui.viewport.Height = ui.height - headerHeight - footerHeight - statusBarHeight
		ui.textarea.SetWidth(ui.width - 4)

		ui.updateViewport()

	case lineMsg:
		ui.appendLine(msg)
		return ui, ui.listenForOutput()

	case stateMsg:
		ui.state = session.State(msg)
		return ui, ui.listenForOutput()

	case tickMsg:
		ui.peers = ui.online()
		ui.requests = 0
		for _, p := range ui.pending() {
			ui.requests += p.Count
		}
		ui.lastUpdate = time.Time(msg)
		return ui, ui.tickCmd()
	}

	ui.textarea, tiCmd = ui.textarea.Update(msg)
	ui.viewport, vpCmd = ui.viewport.Update(msg)
	return ui, tea.Batch(tiCmd, vpCmd)
}

// echo shows what the user typed. Lines typed in a chat are messages to the
// partner; anything else is shown as a command.
func (ui *UI) echo(line string) {
	kind := lineEcho
	if ui.state.Mode == session.ModeChat && !strings.EqualFold(strings.TrimSpace(line), "quit") {
		kind = lineSelf
	}
	ui.appendLine(lineMsg{Kind: kind, From: ui.username, Text: line, Timestamp: time.Now()})
}

func (ui *UI) appendLine(m lineMsg) {
	ui.messages = append(ui.messages, m)
	ui.updateViewport()
	ui.viewport.GotoBottom()
}

// updateViewport updates the viewport content with all messages
func (ui *UI) updateViewport() {
	var content strings.Builder

	if ui.showHelp {
		content.WriteString(renderHelp())
	} else {
		for _, m := range ui.messages {
			content.WriteString(renderLine(m))
			content.WriteString("\n")
		}
	}

	ui.viewport.SetContent(content.String())
}

func renderLine(m lineMsg) string {
	timestamp := timestampStyle.Render(m.Timestamp.Format("15:04:05"))

	switch m.Kind {
	case lineHeader:
		return fmt.Sprintf("%s %s", timestamp, titleMessageStyle.Render(m.Text))
	case lineSystem:
		return fmt.Sprintf("%s %s", timestamp, systemMessageStyle.Render(m.Text))
	case lineError:
		return fmt.Sprintf("%s %s", timestamp, errorMessageStyle.Render("error: "+m.Text))
	case lineNotify:
		return fmt.Sprintf("%s %s", timestamp, notifyMessageStyle.Render("[!] "+m.Text))
	case lineChat:
		return fmt.Sprintf("%s %s %s", timestamp, peerMessageStyle.Render("["+m.From+"]"), m.Text)
	case lineSelf:
		return fmt.Sprintf("%s %s %s", timestamp, userMessageStyle.Render("[You]"), m.Text)
	case lineEcho:
		return fmt.Sprintf("%s %s", timestamp, commandEchoStyle.Render("> "+m.Text))
	default:
		return fmt.Sprintf("%s %s", timestamp, m.Text)
	}
}

func renderHelp() string {
	return `
╔══════════════════════════════════════════════════════════════════╗
║                        LAN CHAT - HELP                           ║
╚══════════════════════════════════════════════════════════════════╝

MAIN MENU:
  online                 List users seen on the network
  requests               Open the inbox of pending chat requests
  chat <user> <message>  Send a chat request to a user
  mykey                  Show your public key and fingerprint
  exit                   Quit

INBOX:
  accept <user>          Accept a request and start chatting
  read <user>            Show the queued messages from a user
  back                   Return to the main menu

IN A CHAT:
  Anything you type is sent to your partner
  quit                   Leave the chat

ENCRYPTION:
  Each message is sealed for the recipient's RSA public key,
  which is learned from their discovery announcements.

KEYBOARD SHORTCUTS:
  Ctrl+H                 Toggle this help screen
  Ctrl+C / Esc           Quit application
  Enter                  Send line

Press Ctrl+H to close this help screen
`
}

// View renders the TUI
func (ui *UI) View() string {
	if !ui.ready {
		return "\n  Initializing LAN Chat...\n"
	}

	header := headerStyle.Render("LAN Chat - " + ui.username)

	messagePanel := messagePanelStyle.Width(ui.width - 35).Height(ui.viewport.Height + 2).Render(
		fmt.Sprintf("Messages\n%s", ui.viewport.View()))

	peerPanel := ui.renderPeerPanel()

	mainContent := lipgloss.JoinHorizontal(lipgloss.Top, messagePanel, peerPanel)

	statusBar := ui.renderStatusBar()

	inputArea := inputStyle.Width(ui.width - 4).Render(
		fmt.Sprintf("%s (Ctrl+H for help)\n%s", inputTitle(ui.state), ui.textarea.View()))

	return lipgloss.JoinVertical(
		lipgloss.Left,
		header,
		mainContent,
		statusBar,
		inputArea,
	)
}

func inputTitle(s session.State) string {
	switch s.Mode {
	case session.ModeInbox:
		return "Inbox: accept <user> | read <user> | back"
	case session.ModeChat:
		return "Chat with " + s.Partner + " ('quit' to leave)"
	default:
		return "Menu: online | requests | chat <user> <msg> | exit"
	}
}

const maxPanelPeers = 15

// renderPeerPanel renders the online peer list
func (ui *UI) renderPeerPanel() string {
	var content strings.Builder

	content.WriteString("Online\n")
	content.WriteString(strings.Repeat("─", 28) + "\n")

	lines := 2
	if len(ui.peers) == 0 {
		content.WriteString(commandEchoStyle.Render("  No other users found") + "\n")
		lines++
	}
	for i, p := range ui.peers {
		if i == maxPanelPeers {
			content.WriteString(fmt.Sprintf("  ... and %d more\n", len(ui.peers)-maxPanelPeers))
			lines++
			break
		}
		content.WriteString(fmt.Sprintf("  %s %s\n", peerOnlineStyle.Render("●"), p.Username))
		lines++
	}

	panelHeight := ui.viewport.Height + 2
	for i := lines; i < panelHeight; i++ {
		content.WriteString("\n")
	}

	return peerPanelStyle.Width(30).Height(panelHeight).Render(content.String())
}

// renderStatusBar renders the bottom status bar
func (ui *UI) renderStatusBar() string {
	leftSection := fmt.Sprintf("%s | %s", ui.username, ui.state)
	rightSection := fmt.Sprintf("Online: %d | Requests: %d | key %s | %s",
		len(ui.peers), ui.requests, ui.fingerprint, ui.lastUpdate.Format("15:04:05"))

	totalWidth := ui.width - 4
	spacing := totalWidth - lipgloss.Width(leftSection) - lipgloss.Width(rightSection)
	if spacing < 0 {
		spacing = 0
	}

	statusText := leftSection + strings.Repeat(" ", spacing) + rightSection
	return statusBarStyle.Width(ui.width - 4).Render(statusText)
}
