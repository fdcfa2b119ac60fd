// Package tui renders the document dashboard and chat in the terminal.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"policyqa/internal/client"
	"policyqa/internal/domain"
)

// Asker is the chat subset of the API client.
type Asker interface {
	Ask(ctx context.Context, message, sessionID string) (*domain.Answer, error)
}

type stateMsg client.State

type answerMsg struct {
	answer *domain.Answer
	err    error
}

// Model is the Bubble Tea model. It re-renders whenever the store changes,
// so poller updates show up without user input.
type Model struct {
	store   *client.Store
	asker   Asker
	session string
	changes chan struct{}

	state    client.State
	input    textinput.Model
	viewport viewport.Model
	bar      progress.Model
	status   string
	busy     bool
	ready    bool
	width    int
}

func New(store *client.Store, asker Asker, sessionID string) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask about your policies and press Enter"
	ti.CharLimit = 0
	ti.Focus()

	changes := make(chan struct{}, 1)
	store.Subscribe(func(client.State) {
		select {
		case changes <- struct{}{}:
		default:
		}
	})

	return Model{
		store:    store,
		asker:    asker,
		session:  sessionID,
		changes:  changes,
		state:    store.State(),
		input:    ti,
		viewport: viewport.New(0, 0),
		bar:      progress.New(progress.WithDefaultGradient(), progress.WithWidth(20), progress.WithoutPercentage()),
		status:   "Tab switches view. Ctrl+C quits.",
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.waitForChange())
}

func (m Model) waitForChange() tea.Cmd {
	return func() tea.Msg {
		<-m.changes
		return stateMsg(m.store.State())
	}
}

func (m Model) ask(question string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		ans, err := m.asker.Ask(ctx, question, m.session)
		return answerMsg{answer: ans, err: err}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		m.width = msg.Width
		_, bh := bodyStyle.GetFrameSize()
		_, ih := inputStyle.GetFrameSize()
		reserved := 2 + 1 + ih + 1 // header+tabs, status, input box
		m.viewport.Width = max(20, msg.Width-2)
		m.viewport.Height = max(3, msg.Height-reserved-bh)
		m.viewport.SetContent(m.renderBody())
		return m, nil

	case stateMsg:
		m.state = client.State(msg)
		m.viewport.SetContent(m.renderBody())
		if m.state.Tab == client.TabChat {
			m.viewport.GotoBottom()
		}
		return m, m.waitForChange()

	case answerMsg:
		m.busy = false
		if msg.err != nil {
			m.status = "Chat failed: " + msg.err.Error()
			m.store.Dispatch(client.AppendMessage{Message: client.ChatMessage{
				Role: "assistant", Content: "Sorry, I could not answer that: " + msg.err.Error(), Failed: true, At: time.Now(),
			}})
			return m, nil
		}
		m.status = fmt.Sprintf("Answered with %d source(s).", len(msg.answer.Sources))
		m.store.Dispatch(client.AppendMessage{Message: client.ChatMessage{
			Role: "assistant", Content: msg.answer.Text, Sources: msg.answer.Sources, At: time.Now(),
		}})
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyCtrlD:
			return m, tea.Quit
		case tea.KeyTab:
			next := client.TabChat
			if m.state.Tab == client.TabChat {
				next = client.TabDocuments
			}
			m.store.Dispatch(client.SetTab{Tab: next})
			return m, nil
		case tea.KeyUp, tea.KeyDown, tea.KeyPgUp, tea.KeyPgDown:
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		case tea.KeyEnter:
			q := strings.TrimSpace(m.input.Value())
			if m.state.Tab != client.TabChat || q == "" || m.busy {
				return m, nil
			}
			m.input.Reset()
			m.busy = true
			m.status = "Thinking..."
			m.store.Dispatch(client.AppendMessage{Message: client.ChatMessage{Role: "user", Content: q, At: time.Now()}})
			return m, m.ask(q)
		}
	}

	if m.state.Tab != client.TabChat {
		return m, nil
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := titleStyle.Render("Policy Q&A")
	tabs := m.renderTabs()
	body := bodyStyle.Render(m.viewport.View())
	status := statusLineStyle.Render(m.status)
	if m.state.Tab != client.TabChat {
		return header + "\n" + tabs + "\n" + body + "\n" + status
	}
	return header + "\n" + tabs + "\n" + body + "\n" + inputStyle.Render(m.input.View()) + "\n" + status
}

func (m Model) renderTabs() string {
	var parts []string
	for _, t := range []struct {
		tab   client.Tab
		label string
	}{{client.TabDocuments, fmt.Sprintf("Documents (%d)", len(m.state.Documents))}, {client.TabChat, "Chat"}} {
		if t.tab == m.state.Tab {
			parts = append(parts, activeTabStyle.Render(t.label))
		} else {
			parts = append(parts, tabStyle.Render(t.label))
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, parts...)
}

func (m Model) renderBody() string {
	if m.state.Tab == client.TabChat {
		return renderChat(m.state.Messages)
	}
	return m.renderDocuments()
}

func (m Model) renderDocuments() string {
	if len(m.state.Documents) == 0 {
		return "No documents yet. Upload with: policyqa upload <files...> --watch"
	}
	var b strings.Builder
	for _, d := range m.state.Documents {
		name := nameStyle.Render(truncate(d.Filename, 32))
		label := statusStyle(d.Status).Render(statusLabel(d))
		fmt.Fprintf(&b, "%s  %s  %s\n", name, m.bar.ViewAs(float64(d.Progress)/100), label)
		detail := humanBytes(d.Size)
		if d.ChunksCount > 0 {
			detail += fmt.Sprintf(" · %d chunks", d.ChunksCount)
		}
		if d.Error != "" {
			detail += " · " + errorStyle.Render(d.Error)
		}
		b.WriteString(dimStyle.Render("  "+detail) + "\n")
	}
	return b.String()
}

func statusLabel(d client.LocalDocument) string {
	label := d.Status.Label()
	if d.Stalled {
		label += " (still processing, polling stopped)"
	}
	return label
}

func renderChat(msgs []client.ChatMessage) string {
	if len(msgs) == 0 {
		return "Ask a question about your uploaded policies."
	}
	var b strings.Builder
	for _, msg := range msgs {
		if msg.Role == "user" {
			b.WriteString(userStyle.Render("You: ") + msg.Content + "\n")
			continue
		}
		style := assistantStyle
		if msg.Failed {
			style = errorStyle
		}
		b.WriteString(style.Render("Assistant: ") + msg.Content + "\n")
		for _, src := range msg.Sources {
			ref := src.DocumentName
			if src.Page != nil {
				ref += fmt.Sprintf(" p.%d", *src.Page)
			}
			b.WriteString(dimStyle.Render(fmt.Sprintf("  [%s] %s (%.2f)", src.ID, ref, src.RelevanceScore)) + "\n")
		}
		b.WriteString("\n")
	}
	return b.String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s + strings.Repeat(" ", n-len(r))
	}
	return string(r[:n-1]) + "…"
}

func humanBytes(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(n)/(1<<10))
	}
	return fmt.Sprintf("%d B", n)
}

var (
	titleStyle      = lipgloss.NewStyle().Bold(true)
	tabStyle        = lipgloss.NewStyle().Padding(0, 1).Foreground(lipgloss.Color("8"))
	activeTabStyle  = lipgloss.NewStyle().Padding(0, 1).Bold(true).Underline(true)
	bodyStyle       = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	inputStyle      = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	statusLineStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	nameStyle       = lipgloss.NewStyle().Bold(true)
	dimStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	errorStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	userStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	assistantStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("13")).Bold(true)
)

func statusStyle(s domain.Status) lipgloss.Style {
	switch s {
	case domain.StatusReady:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	case domain.StatusError:
		return errorStyle
	default:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	}
}
