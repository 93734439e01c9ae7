package study

import "time"

// Snapshot is the read side of the store: everything the presentation
// layer needs for one render, copied so the UI never aliases live
// state. Message slices are copies; Question slices are shared but
// immutable once fetched.
type Snapshot struct {
	Phase        Phase
	EvaluationID int64
	UserGoal     string

	Loading  bool
	Err      string
	MinChat  int
	Pending  string
	AllDone  bool
	Started  time.Time
	Ended    time.Time

	Questions map[SurveyPhase][]Question
	Responses map[SurveyPhase]map[string]Response

	Active   *ActiveChat
	Sessions []SessionSummary
}

// ActiveChat is the live conversation as the chat view renders it.
type ActiveChat struct {
	ID              int64
	UseCase         string
	PromptType      string
	UserGoal        string
	Messages        []ChatMessage
	CanComplete     bool
	MessagesNeeded  int
}

// SessionSummary is one completed (or active) topic for the results
// view.
type SessionSummary struct {
	UseCase       string
	MessageCount  int
	Completed     bool
	AverageRating float64
}

func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Phase:        s.phase,
		EvaluationID: s.evaluationID,
		UserGoal:     s.userGoal,
		Loading:      s.loading,
		Err:          s.lastErr,
		MinChat:      s.minChatMessages,
		Pending:      s.pendingTopic,
		AllDone:      s.allTopicsCompleted,
		Started:      s.startedAt,
		Ended:        s.endedAt,
		Questions: map[SurveyPhase][]Question{
			SurveyPre:  s.questions[SurveyPre],
			SurveyPost: s.questions[SurveyPost],
		},
		Responses: map[SurveyPhase]map[string]Response{
			SurveyPre:  copyResponses(s.responses[SurveyPre]),
			SurveyPost: copyResponses(s.responses[SurveyPost]),
		},
	}

	if s.active != nil {
		snap.Active = &ActiveChat{
			ID:             s.active.ID,
			UseCase:        s.active.UseCase,
			PromptType:     s.active.PromptType,
			UserGoal:       s.active.UserGoal,
			Messages:       append([]ChatMessage(nil), s.active.Messages...),
			CanComplete:    len(s.active.Messages) >= s.minChatMessages,
			MessagesNeeded: max(0, s.minChatMessages-len(s.active.Messages)),
		}
	}

	for _, sess := range s.sessions {
		snap.Sessions = append(snap.Sessions, SessionSummary{
			UseCase:       sess.UseCase,
			MessageCount:  len(sess.Messages),
			Completed:     sess.Completed,
			AverageRating: averageScale(sess.PostResponses),
		})
	}
	return snap
}

// Summary aggregates the whole run for the results screen.
type Summary struct {
	Duration      time.Duration
	TotalMessages int
	Topics        []SessionSummary
	AverageRating float64
	PreResponses  []Response
}

func (s *Store) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	sum := Summary{PreResponses: append([]Response(nil), s.submittedPre...)}
	if !s.startedAt.IsZero() && !s.endedAt.IsZero() {
		sum.Duration = s.endedAt.Sub(s.startedAt)
	}
	var ratingTotal float64
	var rated int
	for _, sess := range s.sessions {
		sum.TotalMessages += len(sess.Messages)
		topic := SessionSummary{
			UseCase:       sess.UseCase,
			MessageCount:  len(sess.Messages),
			Completed:     sess.Completed,
			AverageRating: averageScale(sess.PostResponses),
		}
		sum.Topics = append(sum.Topics, topic)
		for _, r := range sess.PostResponses {
			if r.Answer.Kind == KindLikert {
				ratingTotal += float64(r.Answer.Scale)
				rated++
			}
		}
	}
	if rated > 0 {
		sum.AverageRating = ratingTotal / float64(rated)
	}
	return sum
}

func averageScale(responses []Response) float64 {
	var total float64
	var n int
	for _, r := range responses {
		if r.Answer.Kind == KindLikert {
			total += float64(r.Answer.Scale)
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return total / float64(n)
}

func copyResponses(in map[string]Response) map[string]Response {
	out := make(map[string]Response, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
