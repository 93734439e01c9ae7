package tui

import (
	"fmt"
	"strings"

	"study-client/internal/study"

	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// chatModel renders the active conversation: a viewport over the
// message history and a one-line input box. It holds no message state
// of its own; setSnapshot feeds it the latest store view.
type chatModel struct {
	theme    Theme
	markdown *MarkdownRenderer

	input textarea.Model
	vp    viewport.Model
	ready bool

	width  int
	height int

	active        *study.ActiveChat
	loading       bool
	showReasoning bool
	lastCount     int
}

func newChatModel(theme Theme, markdown *MarkdownRenderer) chatModel {
	ta := textarea.New()
	ta.Placeholder = "Type your message and press Enter"
	ta.Focus()
	ta.CharLimit = 4000
	ta.SetHeight(1)
	ta.Prompt = " "
	ta.ShowLineNumbers = false
	ta.FocusedStyle.CursorLine = lipgloss.NewStyle()
	ta.BlurredStyle.CursorLine = lipgloss.NewStyle()
	ta.FocusedStyle.Base = lipgloss.NewStyle()
	ta.BlurredStyle.Base = lipgloss.NewStyle()

	return chatModel{
		theme:    theme,
		markdown: markdown,
		input:    ta,
		width:    100,
		height:   24,
	}
}

func (c *chatModel) Init() tea.Cmd {
	return textarea.Blink
}

func (c *chatModel) Focus() tea.Cmd {
	return c.input.Focus()
}

func (c *chatModel) reset() {
	c.input.Reset()
	c.showReasoning = false
	c.lastCount = 0
}

func (c *chatModel) setSize(width, height int) {
	c.width = width
	c.height = height
	vpHeight := height - 4
	if vpHeight < 5 {
		vpHeight = 5
	}
	if !c.ready {
		c.vp = viewport.New(width-2, vpHeight)
		c.ready = true
	} else {
		c.vp.Width = width - 2
		c.vp.Height = vpHeight
	}
	c.input.SetWidth(max(10, width-6))
	c.refreshViewport()
}

func (c *chatModel) setSnapshot(snap study.Snapshot) {
	c.active = snap.Active
	c.loading = snap.Loading
	count := 0
	if c.active != nil {
		count = len(c.active.Messages)
	}
	grew := count != c.lastCount
	c.lastCount = count
	c.refreshViewport()
	if grew {
		c.vp.GotoBottom()
	}
}

func (c *chatModel) toggleReasoning() {
	c.showReasoning = !c.showReasoning
	c.refreshViewport()
}

// takeInput returns the current input text and clears the box.
func (c *chatModel) takeInput() string {
	text := c.input.Value()
	c.input.Reset()
	return text
}

func (c *chatModel) Update(msg tea.Msg) tea.Cmd {
	var cmds []tea.Cmd
	var cmd tea.Cmd

	if k, ok := msg.(tea.KeyMsg); ok {
		switch k.Type {
		case tea.KeyPgUp:
			c.vp.ViewUp()
			return nil
		case tea.KeyPgDown:
			c.vp.ViewDown()
			return nil
		}
	}

	c.input, cmd = c.input.Update(msg)
	cmds = append(cmds, cmd)
	c.vp, cmd = c.vp.Update(msg)
	cmds = append(cmds, cmd)
	return tea.Batch(cmds...)
}

func (c *chatModel) refreshViewport() {
	if !c.ready || c.active == nil {
		return
	}
	contentWidth := c.vp.Width - 2
	if contentWidth < 20 {
		contentWidth = 20
	}

	var b strings.Builder
	for _, msg := range c.active.Messages {
		b.WriteString(c.renderMessage(msg, contentWidth))
		b.WriteString("\n\n")
	}
	if c.loading {
		b.WriteString(c.theme.RoleSys.Render("assistant is typing…"))
		b.WriteString("\n")
	}
	c.vp.SetContent(strings.TrimRight(b.String(), "\n"))
}

func (c *chatModel) renderMessage(msg study.ChatMessage, width int) string {
	var roleStyle lipgloss.Style
	label := "BOT"
	if msg.Sender == study.SenderUser {
		roleStyle = c.theme.RoleYou
		label = "YOU"
	} else {
		roleStyle = c.theme.RoleBot
	}

	header := roleStyle.Render(label) + " " + c.theme.TopBarMeta.Render(msg.Timestamp.Format("15:04"))

	var body string
	if msg.Sender == study.SenderUser {
		body = lipgloss.NewStyle().Foreground(c.theme.TextPrimary).Width(width).Render(msg.Text)
	} else {
		body = c.markdown.Render(msg.Text, width)
	}

	out := header + "\n" + body
	if c.showReasoning && msg.Reasoning != "" {
		reasoning := lipgloss.NewStyle().Foreground(c.theme.TextFaint).Italic(true).Width(width).
			Render("reasoning: " + msg.Reasoning)
		out += "\n" + reasoning
	}
	return out
}

func (c *chatModel) View() string {
	if !c.ready || c.active == nil {
		return "…"
	}

	header := c.theme.PaneTitle.Render("topic: "+FormatUseCase(c.active.UseCase)) +
		"  " + c.theme.TopBarMeta.Render(c.progressLine())

	chat := c.theme.Pane.Width(c.width - 2).Render(c.vp.View())
	input := c.theme.InputBoxF.Width(c.width - 2).Render(c.input.View())
	return lipgloss.JoinVertical(lipgloss.Left, header, chat, input)
}

func (c *chatModel) progressLine() string {
	if c.active.CanComplete {
		return "you can finish this conversation with ctrl+d"
	}
	n := c.active.MessagesNeeded
	if n == 1 {
		return "1 more message before you can finish"
	}
	return fmt.Sprintf("%d more messages before you can finish", n)
}
