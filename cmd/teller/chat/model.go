// Package chat provides the interactive terminal chat interface for teller.
// The chat is split across two files:
//   - model.go: types, Init, Update loop
//   - view.go: rendering
package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"

	"teller/internal/processor"
	"teller/internal/types"
)

type role int

const (
	roleUser role = iota
	roleAssistant
)

type message struct {
	Role        role
	Content     string
	Suggestions []string
}

// replyMsg carries a processed turn back into the update loop.
type replyMsg struct {
	reply *types.TurnReply
}

// Model is the bubbletea model for the chat session.
type Model struct {
	ctx       context.Context
	proc      *processor.Processor
	userID    string
	sessionID string

	viewport viewport.Model
	input    textinput.Model
	history  []message
	waiting  bool
	ready    bool
	width    int
	height   int
}

// NewModel builds the chat model with a fresh session id.
func NewModel(ctx context.Context, proc *processor.Processor, userID string) Model {
	input := textinput.New()
	input.Placeholder = "Say something like: transfer 50 dollars to Ali"
	input.Focus()
	input.CharLimit = 1000

	return Model{
		ctx:       ctx,
		proc:      proc,
		userID:    userID,
		sessionID: uuid.NewString(),
		input:     input,
		history: []message{{
			Role:    roleAssistant,
			Content: "Hi! I can help you transfer money, pay bills, or check a balance.",
		}},
	}
}

// Run starts the chat UI and blocks until the user exits.
func Run(ctx context.Context, proc *processor.Processor, userID string) error {
	p := tea.NewProgram(NewModel(ctx, proc, userID), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	return err
}

func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		vpHeight := msg.Height - 5
		if vpHeight < 3 {
			vpHeight = 3
		}
		if !m.ready {
			m.viewport = viewport.New(msg.Width, vpHeight)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = vpHeight
		}
		m.input.Width = msg.Width - 4
		m.refreshViewport()
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			text := strings.TrimSpace(m.input.Value())
			if text == "" || m.waiting {
				return m, nil
			}
			m.history = append(m.history, message{Role: roleUser, Content: text})
			m.input.Reset()
			m.waiting = true
			m.refreshViewport()
			return m, m.processTurn(text)
		}

	case replyMsg:
		m.waiting = false
		m.history = append(m.history, message{
			Role:        roleAssistant,
			Content:     msg.reply.ReplyText,
			Suggestions: msg.reply.Suggestions,
		})
		m.refreshViewport()
		return m, nil
	}

	var cmds []tea.Cmd
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

// processTurn runs the turn off the UI goroutine. The processor never lets a
// raw error reach the reply text, so the error return only matters for logs.
func (m Model) processTurn(text string) tea.Cmd {
	ctx, proc := m.ctx, m.proc
	sessionID, userID := m.sessionID, m.userID
	return func() tea.Msg {
		reply, _ := proc.ProcessTurn(ctx, sessionID, userID, text)
		if reply == nil {
			reply = &types.TurnReply{ReplyText: "Something went wrong. Please try again."}
		}
		return replyMsg{reply: reply}
	}
}

func (m *Model) refreshViewport() {
	if !m.ready {
		return
	}
	m.viewport.SetContent(m.renderHistory())
	m.viewport.GotoBottom()
}

func (m Model) statusLine() string {
	if m.waiting {
		return "thinking..."
	}
	return fmt.Sprintf("session %s | esc to quit", m.sessionID[:8])
}
