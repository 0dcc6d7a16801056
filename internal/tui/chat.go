// Package tui is the terminal chat front end for a conversation client.
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
	"github.com/charmbracelet/x/ansi"

	"github.com/ashureev/clario/internal/client"
	"github.com/ashureev/clario/internal/domain"
)

// QuitCommand ends the session and leaves the chat.
const QuitCommand = "/quit"

var (
	userStyle       = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	agentStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("170"))
	errStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("160"))
	suggestionStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
	statusStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	onlineStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("70"))
)

// Conversation is what the chat needs from a client.
type Conversation interface {
	State() *client.State
	ConnState() client.ConnState
	Send(ctx context.Context, content string) error
	End(ctx context.Context) error
}

type stateChangedMsg struct{}

type connChangedMsg client.ConnState

type sendDoneMsg struct{ err error }

type endedMsg struct{}

type model struct {
	ctx      context.Context
	conv     Conversation
	conn     client.ConnState
	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model
	width    int
}

func newModel(ctx context.Context, conv Conversation) model {
	in := textinput.New()
	in.Placeholder = "Describe your idea, or " + QuitCommand + " to leave"
	in.Prompt = "› "
	in.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return model{
		ctx:      ctx,
		conv:     conv,
		conn:     conv.ConnState(),
		input:    in,
		viewport: viewport.New(80, 20),
		spinner:  sp,
		width:    80,
	}
}

// Run starts the chat and blocks until the user quits.
func Run(ctx context.Context, conv Conversation, onConn func(func(client.ConnState))) error {
	p := tea.NewProgram(newModel(ctx, conv), tea.WithAltScreen(), tea.WithContext(ctx))
	if onConn != nil {
		onConn(func(s client.ConnState) { p.Send(connChangedMsg(s)) })
	}
	_, err := p.Run()
	return err
}

func waitForChange(st *client.State) tea.Cmd {
	return func() tea.Msg {
		<-st.Changed()
		return stateChangedMsg{}
	}
}

func (m model) Init() tea.Cmd {
	// The first stateChangedMsg renders what Start produced and starts
	// the wait loop.
	return tea.Batch(textinput.Blink, m.spinner.Tick, func() tea.Msg {
		return stateChangedMsg{}
	})
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.viewport.Width = msg.Width
		m.viewport.Height = max(msg.Height-3, 1)
		m.input.Width = max(msg.Width-4, 10)
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			return m, tea.Quit
		case tea.KeyEnter:
			text := strings.TrimSpace(m.input.Value())
			m.input.Reset()
			if text == "" {
				return m, nil
			}
			if text == QuitCommand {
				return m, m.end()
			}
			return m, m.send(text)
		}

	case stateChangedMsg:
		m.refresh()
		return m, waitForChange(m.conv.State())

	case connChangedMsg:
		m.conn = client.ConnState(msg)
		return m, nil

	case sendDoneMsg:
		return m, nil

	case endedMsg:
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmds []tea.Cmd
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m model) send(text string) tea.Cmd {
	ctx, conv := m.ctx, m.conv
	return func() tea.Msg {
		return sendDoneMsg{err: conv.Send(ctx, text)}
	}
}

func (m model) end() tea.Cmd {
	ctx, conv := m.ctx, m.conv
	return func() tea.Msg {
		_ = conv.End(ctx)
		return endedMsg{}
	}
}

func (m *model) refresh() {
	m.viewport.SetContent(RenderMessages(m.conv.State().Messages(), m.width))
	m.viewport.GotoBottom()
}

func (m model) View() string {
	st := m.conv.State()
	spin := ""
	if st.Pending() {
		spin = m.spinner.View()
	}
	return m.viewport.View() + "\n" +
		StatusLine(m.conn, st.Pending(), spin, m.width) + "\n" +
		m.input.View()
}

// RenderMessages renders the transcript. Error messages are shown in red.
func RenderMessages(msgs []client.Message, width int) string {
	if width <= 0 {
		width = 80
	}
	body := lipgloss.NewStyle().Width(width)
	var b strings.Builder
	for _, msg := range msgs {
		switch {
		case msg.Role == domain.RoleUser:
			b.WriteString(userStyle.Render("you"))
		case msg.IsError:
			b.WriteString(errStyle.Bold(true).Render(label(msg.AgentType)))
		default:
			b.WriteString(agentStyle.Render(label(msg.AgentType)))
		}
		b.WriteString("\n")
		if msg.IsError {
			b.WriteString(errStyle.Width(width).Render(msg.Content))
		} else {
			b.WriteString(body.Render(msg.Content))
		}
		b.WriteString("\n")
		for _, s := range msg.Suggestions {
			b.WriteString(suggestionStyle.Render("  · " + s))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	return b.String()
}

func label(t domain.AgentType) string {
	switch t {
	case domain.AgentPromoter:
		return "promoter"
	case domain.AgentScopePlanner:
		return "scope planner"
	case domain.AgentReviewer:
		return "reviewer"
	case domain.AgentRecorder:
		return "recorder"
	case "":
		return "assistant"
	default:
		return string(t)
	}
}

// StatusLine renders the connection state, truncated to width.
func StatusLine(conn client.ConnState, pending bool, spin string, width int) string {
	var state string
	switch conn {
	case client.Connected:
		state = onlineStyle.Render("● live")
	case client.Failed:
		state = errStyle.Render("● offline, using HTTP")
	default:
		state = statusStyle.Render(fmt.Sprintf("○ %s", conn))
	}
	line := state
	if pending {
		line += " " + spin + statusStyle.Render(" thinking…")
	}
	if width > 0 {
		line = ansi.Truncate(line, width, "…")
	}
	return line
}
