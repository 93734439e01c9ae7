package tui

import (
	"fmt"
	"strconv"
	"strings"

	"study-client/internal/study"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
)

// likertLabels maps the 1–5 agreement scale to its display labels.
var likertLabels = map[int]string{
	1: "Strongly disagree",
	2: "Disagree",
	3: "Neutral",
	4: "Agree",
	5: "Strongly agree",
}

// surveyModel wraps one phase's questions in a huh form. Validation
// runs per field as the participant moves through the form; the store
// re-validates on submission, so the form is a convenience layer, not
// the gatekeeper.
type surveyModel struct {
	phase     study.SurveyPhase
	questions []study.Question
	form      *huh.Form
	done      bool

	ints map[string]*int
	strs map[string]*string
}

func newSurveyModel(phase study.SurveyPhase, questions []study.Question, theme Theme, width int) *surveyModel {
	m := &surveyModel{
		phase:     phase,
		questions: questions,
		ints:      make(map[string]*int),
		strs:      make(map[string]*string),
	}

	var fields []huh.Field
	for i := range questions {
		q := questions[i]
		title := q.Text
		if q.Required {
			title += " *"
		}

		switch q.Kind {
		case study.KindLikert:
			val := new(int)
			m.ints[q.ID] = val
			// A select binds its first option as the default, so every
			// select leads with an explicit no-answer entry; answers()
			// drops the zero values it leaves behind.
			options := []huh.Option[int]{huh.NewOption("Select a rating", 0)}
			for v := 1; v <= 5; v++ {
				options = append(options, huh.NewOption(fmt.Sprintf("%d — %s", v, likertLabels[v]), v))
			}
			fields = append(fields, huh.NewSelect[int]().
				Key(q.ID).
				Title(title).
				Options(options...).
				Value(val).
				Validate(func(v int) error {
					if q.Required && v == 0 {
						return fmt.Errorf("please select a rating")
					}
					return nil
				}))

		case study.KindDropdown:
			val := new(string)
			m.strs[q.ID] = val
			options := []huh.Option[string]{huh.NewOption("No answer", "")}
			for _, opt := range q.Options {
				options = append(options, huh.NewOption(opt, opt))
			}
			fields = append(fields, huh.NewSelect[string]().
				Key(q.ID).
				Title(title).
				Options(options...).
				Value(val).
				Validate(func(s string) error {
					if q.Required && s == "" {
						return fmt.Errorf("please select an option")
					}
					return nil
				}))

		case study.KindNumeric:
			val := new(string)
			m.strs[q.ID] = val
			fields = append(fields, huh.NewInput().
				Key(q.ID).
				Title(title).
				Placeholder(numericHint(q)).
				Value(val).
				Validate(func(s string) error {
					s = strings.TrimSpace(s)
					if s == "" {
						if q.Required {
							return fmt.Errorf("this field is required")
						}
						return nil
					}
					n, err := strconv.ParseFloat(s, 64)
					if err != nil {
						return fmt.Errorf("please enter a number")
					}
					if verr := study.ValidateAnswer(q, study.NumberAnswer(n)); verr != nil {
						return fmt.Errorf("%s", verr.(*study.ValidationError).Message)
					}
					return nil
				}))

		default: // free text
			val := new(string)
			m.strs[q.ID] = val
			fields = append(fields, huh.NewText().
				Key(q.ID).
				Title(title).
				Value(val).
				Validate(func(s string) error {
					if q.Required && strings.TrimSpace(s) == "" {
						return fmt.Errorf("this field is required")
					}
					return nil
				}))
		}
	}

	group := huh.NewGroup(fields...).
		Title(surveyTitle(phase)).
		Description("Use arrow keys to choose, Enter to advance")
	m.form = huh.NewForm(group).WithWidth(formWidth(width)).WithShowHelp(false)
	return m
}

func surveyTitle(phase study.SurveyPhase) string {
	if phase == study.SurveyPre {
		return "Before we start"
	}
	return "About this conversation"
}

func numericHint(q study.Question) string {
	switch {
	case q.MinValue != nil && q.MaxValue != nil:
		return fmt.Sprintf("%g–%g", *q.MinValue, *q.MaxValue)
	case q.MinValue != nil:
		return fmt.Sprintf("at least %g", *q.MinValue)
	case q.MaxValue != nil:
		return fmt.Sprintf("at most %g", *q.MaxValue)
	}
	return ""
}

func formWidth(termWidth int) int {
	w := termWidth - 4
	if w > 80 {
		w = 80
	}
	if w < 40 {
		w = 40
	}
	return w
}

func (m *surveyModel) Init() tea.Cmd {
	return m.form.Init()
}

func (m *surveyModel) setWidth(width int) {
	m.form = m.form.WithWidth(formWidth(width))
}

// stale reports whether the form was built from a different question
// set than the one now held.
func (m *surveyModel) stale(questions []study.Question) bool {
	if len(questions) != len(m.questions) {
		return true
	}
	for i := range questions {
		if questions[i].ID != m.questions[i].ID {
			return true
		}
	}
	return false
}

func (m *surveyModel) Update(msg tea.Msg) tea.Cmd {
	form, cmd := m.form.Update(msg)
	if f, ok := form.(*huh.Form); ok {
		m.form = f
		if m.form.State == huh.StateCompleted {
			m.done = true
		}
	}
	return cmd
}

func (m *surveyModel) View() string {
	return m.form.View()
}

// answers converts the filled form back into domain responses.
// Unanswered optional questions produce no response at all.
func (m *surveyModel) answers() []study.Response {
	var out []study.Response
	for _, q := range m.questions {
		switch q.Kind {
		case study.KindLikert:
			v := *m.ints[q.ID]
			if v == 0 {
				continue
			}
			out = append(out, study.Response{QuestionID: q.ID, Answer: study.ScaleAnswer(v)})
		case study.KindDropdown:
			v := *m.strs[q.ID]
			if v == "" {
				continue
			}
			out = append(out, study.Response{QuestionID: q.ID, Answer: study.OptionAnswer(v)})
		case study.KindNumeric:
			v := strings.TrimSpace(*m.strs[q.ID])
			if v == "" {
				continue
			}
			n, err := strconv.ParseFloat(v, 64)
			if err != nil {
				continue
			}
			out = append(out, study.Response{QuestionID: q.ID, Answer: study.NumberAnswer(n)})
		default:
			v := strings.TrimSpace(*m.strs[q.ID])
			if v == "" {
				continue
			}
			out = append(out, study.Response{QuestionID: q.ID, Answer: study.TextAnswer(v)})
		}
	}
	return out
}
