package study

import "time"

// Phase is the participant's current step in the study protocol.
type Phase string

const (
	PhaseLanding         Phase = "landing"
	PhasePreSurvey       Phase = "pre-survey"
	PhaseChat            Phase = "chat"
	PhasePostSurvey      Phase = "post-survey"
	PhaseTopicTransition Phase = "topic-transition"
	PhaseResults         Phase = "results"
)

// SurveyPhase selects one of the two question sets served by the API.
type SurveyPhase string

const (
	SurveyPre  SurveyPhase = "pre"
	SurveyPost SurveyPhase = "post"
)

// Sender identifies who produced a chat message.
type Sender string

const (
	SenderUser Sender = "user"
	SenderBot  Sender = "bot"
)

// QuestionKind is the input widget a survey question expects.
type QuestionKind string

const (
	KindLikert   QuestionKind = "likert"
	KindText     QuestionKind = "text"
	KindNumeric  QuestionKind = "numeric"
	KindDropdown QuestionKind = "dropdown"
)

// Question is a survey item as served by the evaluation service.
// Immutable once fetched for the lifetime of a survey phase.
type Question struct {
	ID       string       `json:"id"`
	Text     string       `json:"text"`
	Kind     QuestionKind `json:"type"`
	Required bool         `json:"required"`
	Order    int          `json:"order"`
	Survey   SurveyPhase  `json:"survey_type"`

	// Constraints for numeric questions.
	MinValue *float64 `json:"min_value,omitempty"`
	MaxValue *float64 `json:"max_value,omitempty"`
	Step     *float64 `json:"step,omitempty"`
	// Options for dropdown questions.
	Options []string `json:"options,omitempty"`
}

// Answer is the value a participant gave for one question. Exactly one
// field is meaningful, selected by Kind.
type Answer struct {
	Kind   QuestionKind
	Scale  int
	Number float64
	Text   string
}

func ScaleAnswer(v int) Answer      { return Answer{Kind: KindLikert, Scale: v} }
func TextAnswer(s string) Answer    { return Answer{Kind: KindText, Text: s} }
func NumberAnswer(f float64) Answer { return Answer{Kind: KindNumeric, Number: f} }
func OptionAnswer(s string) Answer  { return Answer{Kind: KindDropdown, Text: s} }

// Value returns the wire representation of the answer.
func (a Answer) Value() any {
	switch a.Kind {
	case KindLikert:
		return a.Scale
	case KindNumeric:
		return a.Number
	default:
		return a.Text
	}
}

// Response pairs a question with the participant's answer. Within a
// survey phase responses are keyed by question ID; setting a response
// for an answered question replaces the previous value.
type Response struct {
	QuestionID string
	Answer     Answer
}

// ChatMessage is one turn of a conversation. Messages are immutable
// once appended and their order is conversation order.
type ChatMessage struct {
	ID        string
	Sender    Sender
	Text      string
	Reasoning string // bot only, may be empty
	Timestamp time.Time
}

// ChatSession is one topic-scoped conversation within an evaluation.
type ChatSession struct {
	ID         int64
	UseCase    string
	PromptType string
	UserGoal   string
	Completed  bool
	// Primed records that the one-shot introduction exchange has been
	// issued for this session, regardless of its outcome.
	Primed        bool
	Messages      []ChatMessage
	PostResponses []Response
}

// EvaluationInfo is the service's answer to starting an evaluation.
type EvaluationInfo struct {
	EvaluationID int64
	UserGoal     string
}

// ChatConfig is the service's configuration for a fresh chat session.
type ChatConfig struct {
	ChatSessionID int64
	UseCase       string
	PromptType    string
	UserGoal      string
}

// BotReply is a successful chat exchange result.
type BotReply struct {
	Content   string
	Reasoning string
}

// TopicStatus reports whether further topics remain for an evaluation.
type TopicStatus struct {
	Completed   bool
	NextUseCase string
}
