// Package tui is a terminal front end for the sync engine: one viewport
// with the merged message list, a composer line and a status header. It is
// deliberately thin; all synchronization behavior lives in roomsync.
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/parley-chat/parley/internal/roomsync"
)

var (
	headerStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	nameStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	userStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
	thinkingStyle = lipgloss.NewStyle().Faint(true).Italic(true)
	noticeStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

// refreshMsg means the engine snapshot may have changed.
type refreshMsg struct{}

// sendResultMsg carries the outcome of an asynchronous send.
type sendResultMsg struct{ err error }

// Model is the bubbletea model wrapping one engine session.
type Model struct {
	engine *roomsync.Engine

	viewport viewport.Model
	input    textinput.Model
	spin     spinner.Model

	width   int
	height  int
	ready   bool
	sendErr string
}

// NewModel builds the model for an engine that has already entered a room.
func NewModel(engine *roomsync.Engine) Model {
	ti := textinput.New()
	ti.Placeholder = "Say something..."
	ti.Focus()
	ti.CharLimit = 4000

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return Model{
		engine: engine,
		input:  ti,
		spin:   sp,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.waitForChange(), m.spin.Tick, textinput.Blink)
}

// waitForChange blocks on the engine's notification channel and converts
// each signal into a refresh.
func (m Model) waitForChange() tea.Cmd {
	ch := m.engine.Changes()
	return func() tea.Msg {
		<-ch
		return refreshMsg{}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		bodyHeight := msg.Height - 4
		if bodyHeight < 1 {
			bodyHeight = 1
		}
		if !m.ready {
			m.viewport = viewport.New(msg.Width, bodyHeight)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = bodyHeight
		}
		m.viewport.SetContent(m.renderEntries())
		m.viewport.GotoBottom()

	case refreshMsg:
		if m.ready {
			atBottom := m.viewport.AtBottom()
			m.viewport.SetContent(m.renderEntries())
			if atBottom {
				m.viewport.GotoBottom()
			}
		}
		cmds = append(cmds, m.waitForChange())

	case sendResultMsg:
		if msg.err != nil {
			m.sendErr = msg.err.Error()
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		cmds = append(cmds, cmd)

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.engine.Close()
			return m, tea.Quit
		case tea.KeyEnter:
			content := strings.TrimSpace(m.input.Value())
			if content != "" {
				m.input.Reset()
				m.sendErr = ""
				engine := m.engine
				cmds = append(cmds, func() tea.Msg {
					return sendResultMsg{err: engine.Send(roomsync.SendRequest{Content: content})}
				})
			}
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)

	if m.ready {
		m.viewport, cmd = m.viewport.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func (m Model) View() string {
	if !m.ready {
		return "starting..."
	}

	snap := m.engine.Snapshot()

	header := headerStyle.Render("parley") + "  " + snap.RoomID
	switch snap.Push.State {
	case roomsync.PushReconnecting:
		header += "  " + noticeStyle.Render(fmt.Sprintf("reconnecting (attempt %d)", snap.Push.Attempt))
	case roomsync.PushTerminal:
		header += "  " + noticeStyle.Render("live updates lost, polling only — rejoin to retry")
	case roomsync.PushClosed:
		header += "  " + noticeStyle.Render("server closed the live stream")
	}
	if snap.State == roomsync.StateLoading {
		header += "  " + m.spin.View() + "loading"
	}

	footer := m.input.View()
	if m.sendErr != "" {
		footer += "\n" + errorStyle.Render("send failed: "+m.sendErr)
	} else {
		footer += "\n"
	}

	return header + "\n" + m.viewport.View() + "\n" + footer
}

// renderEntries formats the merged list: committed messages first, then the
// in-progress turns with their partial text.
func (m Model) renderEntries() string {
	snap := m.engine.Snapshot()
	var b strings.Builder

	for _, msg := range snap.Messages {
		name := msg.ParticipantName
		style := nameStyle
		if name == "" {
			name = string(msg.Role)
		}
		if msg.Role == "user" {
			style = userStyle
			if msg.ParticipantName == "" {
				name = "you"
			}
		}
		b.WriteString(style.Render(name) + "  " + msg.Content + "\n")
		if msg.IsSkipped && msg.Excuse != "" {
			b.WriteString(thinkingStyle.Render("  ("+msg.Excuse+")") + "\n")
		}
	}

	for _, turn := range snap.Turns {
		name := turn.AgentName
		if name == "" {
			name = turn.AgentID
		}
		line := nameStyle.Render(name) + "  " + m.spin.View()
		if turn.Response != "" {
			line += turn.Response
		} else if turn.Thinking != "" {
			line += thinkingStyle.Render(turn.Thinking)
		} else {
			line += thinkingStyle.Render("thinking...")
		}
		b.WriteString(line + "\n")
	}

	if b.Len() == 0 {
		return thinkingStyle.Render("no messages yet")
	}
	return b.String()
}
