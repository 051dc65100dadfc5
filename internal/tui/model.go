package tui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/benkoppe/sustainabotily/internal/chat"
	"github.com/benkoppe/sustainabotily/internal/domain"
	"github.com/benkoppe/sustainabotily/internal/session"
)

// ChatPort is the TUI-facing subset of the chat engine.
type ChatPort interface {
	Ask(ctx context.Context, sess *session.Session, text string) (*chat.Reply, error)
	Transcript(sess *session.Session) ([]chat.Entry, error)
	ProjectedScaleCaption(sess *session.Session) (string, error)
}

type replyStartedMsg struct{ reply *chat.Reply }

type fragmentMsg struct{ text string }

type replyDoneMsg struct{ err error }

type askFailedMsg struct{ err error }

// Model is the Bubble Tea model for the chat application.
type Model struct {
	ctx      context.Context
	cancel   context.CancelFunc
	engine   ChatPort
	sess     *session.Session
	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model
	digest   string
	status   string
	pending  string
	// streamed mirrors the reply text; the reply itself is only touched
	// from command goroutines.
	streamed string
	reply    *chat.Reply
	ready    bool
}

// New creates a new TUI model for sess. digest is shown under the title.
// Quitting cancels ctx for any reply still streaming.
func New(ctx context.Context, engine ChatPort, sess *session.Session, digest string) Model {
	ctx, cancel := context.WithCancel(ctx)
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask about sustainability at Cornell and press Enter"
	ti.Focus()
	ti.CharLimit = 0
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	return Model{
		ctx:      ctx,
		cancel:   cancel,
		engine:   engine,
		sess:     sess,
		input:    ti,
		viewport: viewport.New(0, 0),
		spinner:  sp,
		digest:   digest,
		status:   "Ready. Enter sends, ctrl+r clears history, ctrl+c quits.",
	}
}

// Init initializes the model (text input cursor blink).
func (m Model) Init() tea.Cmd { return textinput.Blink }

// Update handles key, window and streaming events.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, th := transcriptBoxStyle.GetFrameSize()
		_, qh := queryBoxStyle.GetFrameSize()
		reserved := 2 + 2 + qh + th // header, digest, status, projection
		m.viewport.Width = max(20, msg.Width-2)
		m.viewport.Height = max(3, msg.Height-reserved-1)
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyCtrlD:
			m.cancel()
			return m, tea.Quit
		case tea.KeyCtrlR:
			if m.reply != nil {
				m.status = "Wait for the answer to finish before clearing history."
				return m, nil
			}
			if err := m.sess.Reset(); err != nil {
				m.status = "Error: " + err.Error()
				return m, nil
			}
			m.status = "History cleared."
			m.refresh()
			return m, nil
		case tea.KeyEnter:
			q := strings.TrimSpace(m.input.Value())
			if q == "" || m.reply != nil {
				return m, nil
			}
			m.input.Reset()
			m.pending = q
			m.status = "Thinking..."
			m.refresh()
			return m, tea.Batch(m.ask(q), m.spinner.Tick)
		}

	case replyStartedMsg:
		m.reply = msg.reply
		m.pending = ""
		m.streamed = ""
		m.refresh()
		return m, recv(m.reply)

	case fragmentMsg:
		m.streamed += msg.text
		m.refresh()
		return m, recv(m.reply)

	case replyDoneMsg:
		m.reply = nil
		m.streamed = ""
		if msg.err != nil {
			m.status = "Answer interrupted: " + msg.err.Error()
		} else {
			m.status = "Ready."
		}
		m.refresh()
		return m, nil

	case askFailedMsg:
		m.pending = ""
		m.status = "Error: " + msg.err.Error()
		m.refresh()
		return m, nil

	case spinner.TickMsg:
		if m.reply == nil && m.pending == "" {
			return m, nil
		}
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

func (m Model) ask(q string) tea.Cmd {
	return func() tea.Msg {
		reply, err := m.engine.Ask(m.ctx, m.sess, q)
		if err != nil {
			return askFailedMsg{err: err}
		}
		return replyStartedMsg{reply: reply}
	}
}

// recv reads one fragment. The reply commits the assistant turn itself
// before returning io.EOF or an error.
func recv(reply *chat.Reply) tea.Cmd {
	return func() tea.Msg {
		frag, err := reply.Recv()
		if errors.Is(err, io.EOF) {
			return replyDoneMsg{}
		}
		if err != nil {
			return replyDoneMsg{err: err}
		}
		return fragmentMsg{text: frag}
	}
}

// View renders the TUI layout.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := headerStyle.Render("Sustainabot")
	digest := dimStyle.Render(m.digest)
	transcript := transcriptBoxStyle.Render(m.viewport.View())
	input := queryBoxStyle.Render(m.input.View())
	status := m.status
	if m.reply != nil || m.pending != "" {
		status = m.spinner.View() + " " + status
	}
	projection, _ := m.engine.ProjectedScaleCaption(m.sess)
	return header + "\n" + digest + "\n" + transcript + "\n" + input + "\n" +
		statusStyle.Render(status) + "\n" + projectionStyle.Render(projection)
}

func (m *Model) refresh() {
	m.viewport.SetContent(m.renderTranscript())
	m.viewport.GotoBottom()
}

func (m Model) renderTranscript() string {
	entries, err := m.engine.Transcript(m.sess)
	if err != nil {
		return "Error: " + err.Error()
	}
	var b strings.Builder
	for _, e := range entries {
		b.WriteString(renderEntry(e))
		b.WriteString("\n\n")
	}
	if m.pending != "" {
		b.WriteString(userStyle.Render("You: ") + m.pending + "\n\n")
	}
	if m.reply != nil {
		b.WriteString(botStyle.Render("Sustainabot: ") + m.streamed)
	}
	if b.Len() == 0 {
		return dimStyle.Render("No messages yet.")
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderEntry(e chat.Entry) string {
	if e.Role == domain.RoleUser {
		return userStyle.Render("You: ") + e.Text
	}
	out := botStyle.Render("Sustainabot: ") + e.Text
	if e.Failed() {
		out += "\n" + errorStyle.Render(fmt.Sprintf("[response %s]", e.Error))
	}
	if e.Caption != "" {
		out += "\n" + captionStyle.Render(e.Caption)
	}
	return out
}

var (
	headerStyle        = lipgloss.NewStyle().Bold(true)
	dimStyle           = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	transcriptBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	queryBoxStyle      = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	statusStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	projectionStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	userStyle          = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	botStyle           = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	captionStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Italic(true)
	errorStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)
