package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/felixgeelhaar/diario/internal/chat"
)

// AskFunc sends one question to the chat backend.
type AskFunc func(ctx context.Context, question string) (chat.Answer, error)

type answerMsg struct {
	answer chat.Answer
	err    error
}

var (
	userStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7D56F4"))
	assistantStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#04B575"))
)

// ChatModel is a single-session diary chat.
type ChatModel struct {
	ask      AskFunc
	ctx      context.Context
	session  string
	input    textinput.Model
	spinner  spinner.Model
	viewport viewport.Model
	lines    []string
	waiting  bool
	ready    bool
	width    int
}

func NewChatModel(ctx context.Context, session string, ask AskFunc) ChatModel {
	in := textinput.New()
	in.Placeholder = "Ask your diary..."
	in.Focus()
	in.CharLimit = 2000

	return ChatModel{
		ask:     ask,
		ctx:     ctx,
		session: session,
		input:   in,
		spinner: spinner.New(spinner.WithSpinner(spinner.Dot)),
		width:   80,
	}
}

func (m ChatModel) Init() tea.Cmd {
	return textinput.Blink
}

// Transcript returns the rendered conversation lines.
func (m ChatModel) Transcript() []string {
	return m.lines
}

func (m ChatModel) Waiting() bool {
	return m.waiting
}

func (m ChatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			q := strings.TrimSpace(m.input.Value())
			if q == "" || m.waiting {
				return m, nil
			}
			m.input.Reset()
			m.waiting = true
			m.appendLine(userStyle.Render("You: ") + q)
			return m, tea.Batch(m.spinner.Tick, m.send(q))
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		h := max(msg.Height-4, 3)
		if !m.ready {
			m.viewport = viewport.New(msg.Width, h)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = h
		}
		m.input.Width = max(msg.Width-4, 10)
		m.refresh()

	case answerMsg:
		m.waiting = false
		if msg.err != nil {
			m.appendLine(errorStyle.Render("Error: " + msg.err.Error()))
		} else {
			m.appendLine(assistantStyle.Render("Diary: ") + msg.answer.Text)
			if len(msg.answer.Sources) > 0 {
				m.appendLine(mutedStyle.Render("  from " + sourceDates(msg.answer)))
			}
		}
		return m, nil

	case spinner.TickMsg:
		if !m.waiting {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m ChatModel) send(q string) tea.Cmd {
	return func() tea.Msg {
		ans, err := m.ask(m.ctx, q)
		return answerMsg{answer: ans, err: err}
	}
}

func (m *ChatModel) appendLine(s string) {
	m.lines = append(m.lines, s)
	m.refresh()
}

func (m *ChatModel) refresh() {
	if !m.ready {
		return
	}
	m.viewport.SetContent(lipgloss.NewStyle().Width(m.width).Render(strings.Join(m.lines, "\n")))
	m.viewport.GotoBottom()
}

func sourceDates(a chat.Answer) string {
	seen := make(map[string]bool)
	var dates []string
	for _, p := range a.Sources {
		if !seen[p.Date] {
			seen[p.Date] = true
			dates = append(dates, p.Date)
		}
	}
	return strings.Join(dates, ", ")
}

func (m ChatModel) View() string {
	header := titleStyle.Render(" diario ") + mutedStyle.Render(" session "+m.session)
	if !m.ready {
		return header + "\n\n" + m.input.View()
	}
	status := ""
	if m.waiting {
		status = fmt.Sprintf("%s thinking...", m.spinner.View())
	}
	return fmt.Sprintf("%s\n%s\n%s\n%s", header, m.viewport.View(), status, m.input.View())
}
