// Package tui renders diario's interactive terminal views: a progress view
// for re-indexing and the diary chat.
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// TUI forwards ui.UI updates to a running progress program.
type TUI struct {
	program *tea.Program
}

func NewTUI(p *tea.Program) *TUI {
	return &TUI{program: p}
}

func (t *TUI) UpdateStatus(status string) {
	t.program.Send(StatusMsg(status))
}

func (t *TUI) UpdateProgress(done, total int) {
	t.program.Send(ProgressMsg{Done: done, Total: total})
}

func (t *TUI) Log(msg string) {
	t.program.Send(LogMsg(msg))
}

// Done tells the program the operation finished.
func (t *TUI) Done() {
	t.program.Send(DoneMsg{})
}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#04B575"))

	mutedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#888888"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF5F5F"))
)

type LogMsg string
type StatusMsg string
type DoneMsg struct{}

type ProgressMsg struct {
	Done  int
	Total int
}

// ProgressModel shows a status line, a scrolling log and a progress bar.
type ProgressModel struct {
	Title    string
	Status   string
	Done     int
	Total    int
	Log      []string
	Progress progress.Model
	Viewport viewport.Model
	Finished bool
	Quitting bool
	Ready    bool
}

func NewProgressModel(title string) ProgressModel {
	return ProgressModel{
		Title:    title,
		Status:   "Starting...",
		Progress: progress.New(progress.WithDefaultGradient()),
	}
}

func (m ProgressModel) Init() tea.Cmd {
	return nil
}

func (m ProgressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.String() == "q" {
			m.Quitting = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		if !m.Ready {
			m.Viewport = viewport.New(msg.Width, max(msg.Height-8, 3))
			m.Ready = true
		} else {
			m.Viewport.Width = msg.Width
			m.Viewport.Height = max(msg.Height-8, 3)
		}
		m.Progress.Width = max(msg.Width-4, 10)

	case LogMsg:
		m.Log = append(m.Log, string(msg))
		m.Viewport.SetContent(strings.Join(m.Log, "\n"))
		m.Viewport.GotoBottom()

	case StatusMsg:
		m.Status = string(msg)

	case ProgressMsg:
		m.Done, m.Total = msg.Done, msg.Total

	case DoneMsg:
		m.Finished = true
		return m, tea.Quit
	}

	var cmd tea.Cmd
	m.Viewport, cmd = m.Viewport.Update(msg)
	return m, cmd
}

// Fraction is the share of work done, 0 when the total is unknown.
func (m ProgressModel) Fraction() float64 {
	if m.Total <= 0 {
		return 0
	}
	return float64(m.Done) / float64(m.Total)
}

func (m ProgressModel) View() string {
	if !m.Ready {
		return "\n  " + m.Status
	}

	header := titleStyle.Render(" " + m.Title + " ")
	status := infoStyle.Render(fmt.Sprintf(" %s ", m.Status))
	count := mutedStyle.Render(fmt.Sprintf(" %d/%d ", m.Done, m.Total))

	view := fmt.Sprintf("%s%s%s\n\n%s\n\n%s",
		header, status, count,
		m.Viewport.View(),
		m.Progress.ViewAs(m.Fraction()))

	if m.Quitting {
		return view + "\n  Quitting...\n"
	}
	return view
}
