package tui

import (
	"context"
	"errors"
	"strings"
	"time"

	"study-client/internal/study"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

type actionDoneMsg struct{ err error }
type spinMsg struct{}

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// Model is the root of the interface. It owns no protocol state of its
// own: every keystroke either updates a widget or dispatches a store
// action, and every render starts from a fresh store snapshot.
type Model struct {
	store    *study.Store
	theme    Theme
	keys     keyMap
	markdown *MarkdownRenderer

	width  int
	height int
	ready  bool

	snap study.Snapshot

	survey *surveyModel
	chat   chatModel

	spinnerPos int
	lastErr    string
	// localErr holds a synchronous validation failure; the store only
	// records network errors.
	localErr string
	quitting bool
}

func NewModel(store *study.Store, themeName ThemeName) *Model {
	t := NewTheme(themeName)
	m := &Model{
		store:    store,
		theme:    t,
		keys:     defaultKeyMap(),
		markdown: NewMarkdownRenderer(),
		width:    100,
		height:   30,
	}
	m.chat = newChatModel(t, m.markdown)
	m.snap = store.Snapshot()
	return m
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.chat.Init(), m.spinTick())
}

// dispatch runs one store action off the UI goroutine and reports back
// when it resolves.
func (m *Model) dispatch(action func(context.Context) error) tea.Cmd {
	run := func() tea.Msg {
		return actionDoneMsg{err: action(context.Background())}
	}
	return tea.Batch(run, m.spinTick())
}

// refresh pulls the latest snapshot and rebuilds phase-scoped widgets
// when the protocol moved.
func (m *Model) refresh() tea.Cmd {
	prev := m.snap
	m.snap = m.store.Snapshot()

	if m.snap.Err != "" && m.snap.Err != m.lastErr {
		m.lastErr = m.snap.Err
		appendUIErrorLog(string(m.snap.Phase), m.snap.EvaluationID, m.snap.Err)
	}

	var cmds []tea.Cmd
	switch m.snap.Phase {
	case study.PhasePreSurvey, study.PhasePostSurvey:
		phase := study.SurveyPre
		if m.snap.Phase == study.PhasePostSurvey {
			phase = study.SurveyPost
		}
		questions := m.snap.Questions[phase]
		// Never rebuild while a submission is in flight, or the form
		// would reappear blank under the spinner.
		if !m.snap.Loading && (m.survey == nil || m.survey.phase != phase || m.survey.stale(questions)) {
			m.survey = newSurveyModel(phase, questions, m.theme, m.width)
			cmds = append(cmds, m.survey.Init())
		}
	case study.PhaseChat:
		m.survey = nil
		if prev.Phase != study.PhaseChat {
			m.chat.reset()
			cmds = append(cmds, m.chat.Focus())
		}
		m.chat.setSnapshot(m.snap)
	default:
		m.survey = nil
	}
	return tea.Batch(cmds...)
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ready = true
		m.chat.setSize(msg.Width, msg.Height-chromeHeight)
		if m.survey != nil {
			m.survey.setWidth(msg.Width)
		}
		return m, nil

	case spinMsg:
		m.spinnerPos = (m.spinnerPos + 1) % len(spinnerFrames)
		// Re-read the snapshot so optimistic appends show up while a
		// request is still in flight.
		cmd := m.refresh()
		if m.snap.Loading {
			return m, tea.Batch(cmd, m.spinTick())
		}
		return m, cmd

	case actionDoneMsg:
		m.localErr = ""
		var verr *study.ValidationError
		if errors.As(msg.err, &verr) {
			m.localErr = verr.Message
		}
		return m, m.refresh()

	case tea.KeyMsg:
		if key.Matches(msg, m.keys.Quit) {
			m.quitting = true
			return m, tea.Quit
		}
		if key.Matches(msg, m.keys.Dismiss) && (m.snap.Err != "" || m.localErr != "") {
			m.localErr = ""
			m.store.DismissError()
			return m, m.refresh()
		}
		return m.updatePhase(msg)
	}

	return m.updatePhase(msg)
}

func (m *Model) updatePhase(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch m.snap.Phase {
	case study.PhaseLanding:
		if k, ok := msg.(tea.KeyMsg); ok && key.Matches(k, m.keys.Enter) && !m.snap.Loading {
			return m, m.dispatch(m.store.StartEvaluation)
		}
		return m, nil

	case study.PhasePreSurvey, study.PhasePostSurvey:
		if m.survey == nil {
			// Questions failed to load; Enter retries the fetch.
			if k, ok := msg.(tea.KeyMsg); ok && key.Matches(k, m.keys.Enter) && !m.snap.Loading {
				phase := study.SurveyPre
				if m.snap.Phase == study.PhasePostSurvey {
					phase = study.SurveyPost
				}
				return m, m.dispatch(func(ctx context.Context) error {
					return m.store.FetchQuestions(ctx, phase)
				})
			}
			return m, nil
		}
		cmd := m.survey.Update(msg)
		if m.survey.done {
			survey := m.survey
			m.survey = nil
			return m, m.dispatch(func(ctx context.Context) error {
				for _, r := range survey.answers() {
					if err := m.store.SetResponse(survey.phase, r.QuestionID, r.Answer); err != nil {
						return err
					}
				}
				return m.store.SubmitResponses(ctx, survey.phase)
			})
		}
		return m, cmd

	case study.PhaseChat:
		if k, ok := msg.(tea.KeyMsg); ok {
			switch {
			case key.Matches(k, m.keys.FinishChat):
				m.store.CompleteChat()
				return m, m.refresh()
			case key.Matches(k, m.keys.ToggleReason):
				m.chat.toggleReasoning()
				return m, nil
			case key.Matches(k, m.keys.Enter):
				if m.snap.Loading {
					// Keep the draft; the send triggers once the
					// in-flight request resolves.
					return m, nil
				}
				text := m.chat.takeInput()
				if strings.TrimSpace(text) == "" {
					return m, nil
				}
				return m, m.dispatch(func(ctx context.Context) error {
					return m.store.SendMessage(ctx, text)
				})
			}
		}
		cmd := m.chat.Update(msg)
		return m, cmd

	case study.PhaseTopicTransition:
		if k, ok := msg.(tea.KeyMsg); ok && key.Matches(k, m.keys.Enter) && !m.snap.Loading {
			return m, m.dispatch(m.store.ContinueToNextTopic)
		}
		return m, nil

	case study.PhaseResults:
		if k, ok := msg.(tea.KeyMsg); ok && key.Matches(k, m.keys.Enter) {
			m.quitting = true
			return m, tea.Quit
		}
		return m, nil
	}
	return m, nil
}

// chromeHeight is the vertical space the top bar, banner row, and
// footer occupy around the phase view.
const chromeHeight = 6

func (m *Model) View() string {
	if !m.ready {
		return "…"
	}
	if m.quitting {
		return ""
	}

	top := m.renderTopBar()
	banner := m.renderBanner()

	var body string
	switch m.snap.Phase {
	case study.PhaseLanding:
		body = m.renderLanding()
	case study.PhasePreSurvey, study.PhasePostSurvey:
		body = m.renderSurvey()
	case study.PhaseChat:
		body = m.chat.View()
	case study.PhaseTopicTransition:
		body = m.renderTransition()
	case study.PhaseResults:
		body = m.renderResults()
	}

	footer := m.renderFooter()
	return lipgloss.JoinVertical(lipgloss.Left, top, banner, body, footer)
}

func (m *Model) renderTopBar() string {
	title := m.theme.TopBarTitle.Render("chatbot study")
	badge := m.theme.TopBarBadge.Render(phaseLabel(m.snap.Phase))
	var meta string
	if m.snap.Loading {
		meta = m.theme.Spinner.Render(spinnerFrames[m.spinnerPos]) + " " + m.theme.TopBarMeta.Render("working")
	} else if m.snap.UserGoal != "" && m.snap.Phase == study.PhaseChat {
		meta = m.theme.TopBarMeta.Render("goal: " + m.snap.UserGoal)
	}
	bar := title + "  " + badge
	if meta != "" {
		bar += "  " + meta
	}
	return m.theme.TopBar.Render(bar)
}

func (m *Model) renderBanner() string {
	text := m.snap.Err
	if text == "" {
		text = m.localErr
	}
	if text == "" {
		return ""
	}
	width := m.width - 2
	if width < 20 {
		width = 20
	}
	return m.theme.ErrorBanner.Width(width).Render("✗ " + text + "  (esc to dismiss)")
}

func (m *Model) renderFooter() string {
	var hints []string
	switch m.snap.Phase {
	case study.PhaseLanding:
		hints = append(hints, "enter begin")
	case study.PhasePreSurvey, study.PhasePostSurvey:
		hints = append(hints, "enter next", "shift+tab back")
	case study.PhaseChat:
		hints = append(hints, "enter send", "alt+r reasoning")
		if m.snap.Active != nil && m.snap.Active.CanComplete {
			hints = append(hints, "ctrl+d finish conversation")
		}
	case study.PhaseTopicTransition:
		hints = append(hints, "enter continue")
	case study.PhaseResults:
		hints = append(hints, "enter exit")
	}
	hints = append(hints, "ctrl+c quit")
	return m.theme.Footer.Render(strings.Join(hints, " · "))
}

func (m *Model) spinTick() tea.Cmd {
	return tea.Tick(90*time.Millisecond, func(time.Time) tea.Msg { return spinMsg{} })
}

func phaseLabel(p study.Phase) string {
	switch p {
	case study.PhaseLanding:
		return "WELCOME"
	case study.PhasePreSurvey:
		return "SURVEY"
	case study.PhaseChat:
		return "CHAT"
	case study.PhasePostSurvey:
		return "FEEDBACK"
	case study.PhaseTopicTransition:
		return "NEXT TOPIC"
	case study.PhaseResults:
		return "DONE"
	}
	return strings.ToUpper(string(p))
}
