package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/streamhub/internal/client"
	"github.com/mattjoyce/streamhub/internal/event"
	"github.com/mattjoyce/streamhub/internal/status"
)

func runWatch(args []string) error {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	apiBase := fs.String("api", "http://127.0.0.1:8090", "base URL for StreamHub API")
	token := fs.String("token", os.Getenv("STREAMHUB_API_TOKEN"), "Bearer token for API auth")
	backoffBase := fs.Duration("backoff-base", time.Second, "initial reconnect delay")
	backoffCap := fs.Duration("backoff-cap", 30*time.Second, "maximum reconnect delay")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: streamhub watch [--api <url>] [--token <token>] <session_id>")
	}
	if strings.TrimSpace(*token) == "" {
		return fmt.Errorf("token is required (use --token or STREAMHUB_API_TOKEN)")
	}

	cfg := watchConfig{
		APIBase:     strings.TrimRight(*apiBase, "/"),
		Token:       *token,
		SessionID:   fs.Arg(0),
		BackoffBase: *backoffBase,
		BackoffCap:  *backoffCap,
	}

	p := tea.NewProgram(newWatchModel(cfg), tea.WithAltScreen())
	_, err := p.Run()
	return err
}

type watchConfig struct {
	APIBase     string
	Token       string
	SessionID   string
	BackoffBase time.Duration
	BackoffCap  time.Duration
}

type eventMsg struct {
	Event event.Event
}

type statusMsg struct {
	Snapshot status.Snapshot
}

type stateMsg struct {
	State client.ConnState
}

type truncatedMsg struct {
	OldestSequence uint64
}

type subscribedMsg struct {
	Sub *client.Subscription
}

type watchModel struct {
	cfg      watchConfig
	messages chan tea.Msg
	sub      *client.Subscription

	width      int
	height     int
	connState  client.ConnState
	statusLine string
	done       bool
	failed     bool
	events     []string
	answer     strings.Builder
	lastSeq    uint64
}

func newWatchModel(cfg watchConfig) *watchModel {
	return &watchModel{
		cfg:        cfg,
		messages:   make(chan tea.Msg, 256),
		connState:  client.StateIdle,
		statusLine: status.DefaultPlaceholder,
	}
}

func (m *watchModel) Init() tea.Cmd {
	return tea.Batch(
		startSubscriptionCmd(m.cfg, m.messages),
		waitForMessageCmd(m.messages),
	)
}

func (m *watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			if m.sub != nil {
				m.sub.Unsubscribe()
			}
			return m, tea.Quit
		}
		return m, nil
	case subscribedMsg:
		m.sub = msg.Sub
		return m, waitForMessageCmd(m.messages)
	case stateMsg:
		m.connState = msg.State
		m.appendLine(fmt.Sprintf("[%s] connection %s", time.Now().Format("15:04:05"), msg.State))
		return m, waitForMessageCmd(m.messages)
	case statusMsg:
		m.statusLine = msg.Snapshot.Text
		return m, waitForMessageCmd(m.messages)
	case truncatedMsg:
		m.answer.Reset()
		m.appendLine(fmt.Sprintf("[%s] history truncated before %d, view rebuilt from retained window",
			time.Now().Format("15:04:05"), msg.OldestSequence))
		return m, waitForMessageCmd(m.messages)
	case eventMsg:
		m.handleEvent(msg.Event)
		return m, waitForMessageCmd(m.messages)
	default:
		return m, nil
	}
}

func (m *watchModel) handleEvent(ev event.Event) {
	m.lastSeq = ev.Sequence
	ts := ev.Timestamp.Local().Format("15:04:05")

	switch ev.Type {
	case event.TypeStatus:
		var p event.StatusPayload
		if err := json.Unmarshal(ev.Payload, &p); err == nil {
			m.appendLine(fmt.Sprintf("[%s] status: %s", ts, p.Message))
		}
	case event.TypeTool:
		var p event.ToolPayload
		if err := json.Unmarshal(ev.Payload, &p); err == nil {
			line := fmt.Sprintf("[%s] tool %s %s", ts, p.Name, p.Phase)
			if p.Error != "" {
				line += " error=" + trimForLog(p.Error, 60)
			}
			m.appendLine(line)
		}
	case event.TypeReasoning:
		var p event.ReasoningPayload
		if err := json.Unmarshal(ev.Payload, &p); err == nil {
			m.appendLine(fmt.Sprintf("[%s] reasoning: %s", ts, trimForLog(p.Text, 100)))
		}
	case event.TypeToken:
		var p event.TokenPayload
		if err := json.Unmarshal(ev.Payload, &p); err == nil {
			m.answer.WriteString(p.Content)
		}
	case event.TypeDone:
		m.done = true
		m.appendLine(fmt.Sprintf("[%s] done", ts))
	case event.TypeError:
		var p event.ErrorPayload
		if err := json.Unmarshal(ev.Payload, &p); err == nil {
			m.failed = true
			m.appendLine(fmt.Sprintf("[%s] error: %s", ts, p.Message))
		}
	default:
		m.appendLine(fmt.Sprintf("[%s] %s", ts, ev.Type))
	}
}

func (m *watchModel) appendLine(line string) {
	m.events = append(m.events, line)
	if len(m.events) > 800 {
		m.events = m.events[len(m.events)-800:]
	}
}

func (m *watchModel) View() string {
	accent := lipgloss.Color("#38BDF8")
	title := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#0B1120")).
		Background(accent).
		Padding(0, 1).
		Render("StreamHub Watch")

	badge := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#0B1120")).
		Background(accent).
		Padding(0, 1)
	switch {
	case m.failed:
		badge = badge.Background(lipgloss.Color("#EF4444")).Foreground(lipgloss.Color("#F8FAFC"))
	case m.done:
		badge = badge.Background(lipgloss.Color("#86EFAC"))
	case m.connState != client.StateOpen:
		badge = badge.Background(lipgloss.Color("#6B7280"))
	}

	meta := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#7DD3FC")).
		Render(fmt.Sprintf("session=%s  api=%s  stream=%s  seq=%d", m.cfg.SessionID, m.cfg.APIBase, m.connState, m.lastSeq))

	statusBar := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#F8FAFC")).
		Render("» " + m.statusLine)

	panelWidth := bodyWidth(m.width)
	answerHeight, eventsHeight := panelHeights(m.height)

	answerLines := strings.Split(strings.TrimRight(m.answer.String(), "\n"), "\n")
	if m.answer.Len() == 0 {
		answerLines = []string{"waiting for response..."}
	}
	eventLines := m.events
	if len(eventLines) == 0 {
		eventLines = []string{"waiting for events..."}
	}

	answerPanel := renderPanel("Response", answerLines, panelWidth, answerHeight, accent, false)
	eventsPanel := renderPanel("Events", eventLines, panelWidth, eventsHeight, accent, false)

	footer := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#7DD3FC")).
		Render("q: quit")

	return strings.Join([]string{title + " " + badge.Render(statusLabel(m)), meta, statusBar, answerPanel, eventsPanel, footer}, "\n")
}

func statusLabel(m *watchModel) string {
	switch {
	case m.failed:
		return "FAILED"
	case m.done:
		return "DONE"
	default:
		return strings.ToUpper(string(m.connState))
	}
}

func panelHeights(terminalHeight int) (answer, events int) {
	available := terminalHeight - 6
	if available < 12 {
		available = 12
	}
	answer = available / 2
	events = available - answer
	if answer < 5 {
		answer = 5
	}
	if events < 5 {
		events = 5
	}
	return answer, events
}

func renderPanel(title string, lines []string, width, height int, accent lipgloss.Color, keepHead bool) string {
	if height < 3 {
		height = 3
	}
	contentHeight := height - 1
	if contentHeight < 1 {
		contentHeight = 1
	}
	if len(lines) > contentHeight {
		if keepHead {
			lines = lines[:contentHeight]
		} else {
			lines = lines[len(lines)-contentHeight:]
		}
	}
	for len(lines) < contentHeight {
		lines = append(lines, "")
	}
	content := lipgloss.NewStyle().Bold(true).Foreground(accent).Render(title) + "\n" + strings.Join(lines, "\n")

	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(accent).
		Foreground(lipgloss.Color("#F8FAFC")).
		Background(lipgloss.Color("#0F172A")).
		Width(width).
		Height(height).
		Padding(0, 1).
		Render(content)
}

func bodyWidth(terminalWidth int) int {
	if terminalWidth <= 0 {
		return 80
	}
	w := terminalWidth - 2
	if w < 40 {
		return 40
	}
	return w
}

func trimForLog(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}

// startSubscriptionCmd opens the reconnecting subscription and bridges its
// callbacks onto the bubbletea message channel. Callbacks drop messages
// rather than block when the UI falls behind.
func startSubscriptionCmd(cfg watchConfig, out chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		logger := slog.New(slog.NewTextHandler(io.Discard, nil))
		c := client.New(client.Config{
			BaseURL:     cfg.APIBase,
			Token:       cfg.Token,
			BackoffBase: cfg.BackoffBase,
			BackoffCap:  cfg.BackoffCap,
		}, nil, logger)

		push := func(msg tea.Msg) {
			select {
			case out <- msg:
			default:
			}
		}

		sub := c.Subscribe(cfg.SessionID, client.Callbacks{
			OnEvent:     func(ev event.Event) { push(eventMsg{Event: ev}) },
			OnStatus:    func(s status.Snapshot) { push(statusMsg{Snapshot: s}) },
			OnState:     func(s client.ConnState) { push(stateMsg{State: s}) },
			OnTruncated: func(oldest uint64) { push(truncatedMsg{OldestSequence: oldest}) },
		})
		return subscribedMsg{Sub: sub}
	}
}

func waitForMessageCmd(in <-chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		return <-in
	}
}
