package study

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// PrimingPrompt is the fixed instruction sent once per chat session to
// elicit the bot's self-introduction. It never appears in the visible
// history.
const PrimingPrompt = "Please introduce yourself briefly and explain how you can help."

// Service is the remote evaluation API as the store consumes it.
// *Client satisfies it; tests substitute their own.
type Service interface {
	CreateSession(ctx context.Context) (string, error)
	StartEvaluation(ctx context.Context, sessionID string) (EvaluationInfo, error)
	FetchQuestions(ctx context.Context, phase SurveyPhase) ([]Question, error)
	SubmitResponses(ctx context.Context, chatSessionID, evalID int64, phase SurveyPhase, responses []Response) error
	StartChatSession(ctx context.Context, evalID int64, useCase string) (ChatConfig, error)
	SendChatMessage(ctx context.Context, chatSessionID int64, message string, history []ChatMessage) (BotReply, error)
	NextTopic(ctx context.Context, evalID int64) (TopicStatus, error)
}

// Archiver receives completed protocol data for local record keeping.
// The store only ever writes to it; failures are logged, never fatal.
type Archiver interface {
	ArchiveSession(evalID int64, sess ChatSession) error
	ArchiveResponses(evalID, chatSessionID int64, phase SurveyPhase, responses []Response) error
}

// Store is the single source of protocol truth: it holds the current
// phase, the active chat session and its history, per-phase survey
// state, and orchestrates every transition. All mutation goes through
// its action methods; the phase only changes when a transition's
// network steps succeed.
type Store struct {
	mu  sync.Mutex
	svc Service
	log *Logger
	arc Archiver

	minChatMessages int

	phase        Phase
	sessionID    string
	evaluationID int64
	userGoal     string
	startedAt    time.Time
	endedAt      time.Time

	questions map[SurveyPhase][]Question
	responses map[SurveyPhase]map[string]Response
	// submitted marks a phase whose POST /responses has succeeded, so
	// a retry after a later step failed does not re-post or trip the
	// completeness guard on the already-cleared bucket.
	submitted map[SurveyPhase]bool

	sessions     []*ChatSession
	active       *ChatSession
	pendingTopic string

	allTopicsCompleted bool
	submittedPre       []Response

	inflight int
	loading  bool
	lastErr  string

	// Chat sends form a FIFO queue. A ticket is issued under mu in the
	// same critical section as the optimistic append, and the network
	// leg waits for its turn, so replies are applied in the order the
	// messages became visible.
	sendSeq  uint64
	sendTurn uint64
	sendCond *sync.Cond
}

func NewStore(svc Service, cfg Config, log *Logger) *Store {
	minMsgs := cfg.MinChatMessages
	if minMsgs <= 0 {
		minMsgs = 4
	}
	s := &Store{
		svc:             svc,
		log:             log,
		minChatMessages: minMsgs,
		phase:           PhaseLanding,
		questions:       make(map[SurveyPhase][]Question),
		responses: map[SurveyPhase]map[string]Response{
			SurveyPre:  {},
			SurveyPost: {},
		},
		submitted: make(map[SurveyPhase]bool),
	}
	s.sendCond = sync.NewCond(&s.mu)
	return s
}

// SetArchiver attaches the optional transcript archive.
func (s *Store) SetArchiver(a Archiver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.arc = a
}

// StartEvaluation drives landing → pre-survey: it lazily creates the
// service session, requests an evaluation identifier, then fetches the
// pre-survey questions. The evaluation id is committed as soon as it
// is issued and is never cleared afterwards.
func (s *Store) StartEvaluation(ctx context.Context) error {
	s.mu.Lock()
	if s.phase != PhaseLanding || s.loading {
		s.mu.Unlock()
		return nil
	}
	s.begin()
	sessionID := s.sessionID
	s.mu.Unlock()

	if sessionID == "" {
		id, err := s.svc.CreateSession(ctx)
		if err != nil {
			return s.fail("start evaluation", err)
		}
		s.mu.Lock()
		s.sessionID = id
		sessionID = id
		s.mu.Unlock()
	}

	info, err := s.svc.StartEvaluation(ctx, sessionID)
	if err != nil {
		return s.fail("start evaluation", err)
	}

	s.mu.Lock()
	s.evaluationID = info.EvaluationID
	s.userGoal = info.UserGoal
	s.startedAt = time.Now()
	s.phase = PhasePreSurvey
	s.mu.Unlock()

	qs, err := s.svc.FetchQuestions(ctx, SurveyPre)
	if err != nil {
		// Already on pre-survey; the question fetch is retryable there.
		return s.fail("fetch pre-survey questions", err)
	}

	s.mu.Lock()
	s.questions[SurveyPre] = qs
	s.end()
	s.mu.Unlock()
	return nil
}

// FetchQuestions re-fetches one phase's question set, for retry after
// a failed fetch. Questions already held are replaced wholesale.
func (s *Store) FetchQuestions(ctx context.Context, phase SurveyPhase) error {
	s.mu.Lock()
	if s.loading {
		s.mu.Unlock()
		return nil
	}
	s.begin()
	s.mu.Unlock()

	qs, err := s.svc.FetchQuestions(ctx, phase)
	if err != nil {
		return s.fail("fetch questions", err)
	}

	s.mu.Lock()
	s.questions[phase] = qs
	s.end()
	s.mu.Unlock()
	return nil
}

// SetResponse records one answer, replacing any prior answer for the
// same question. Synchronous; invalid input is rejected before it is
// stored.
func (s *Store) SetResponse(phase SurveyPhase, questionID string, a Answer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var q *Question
	for i := range s.questions[phase] {
		if s.questions[phase][i].ID == questionID {
			q = &s.questions[phase][i]
			break
		}
	}
	if q == nil {
		return &ValidationError{QuestionID: questionID, Message: "unknown question"}
	}
	if err := ValidateAnswer(*q, a); err != nil {
		return err
	}
	s.responses[phase][questionID] = Response{QuestionID: questionID, Answer: a}
	return nil
}

// SubmitResponses posts one survey phase and advances the protocol:
// the pre path starts the first topic (or ends the study when none
// exist); the post path polls for the next topic, parking on the
// transition screen when one remains. An incomplete phase returns a
// ValidationError without any network call.
func (s *Store) SubmitResponses(ctx context.Context, phase SurveyPhase) error {
	s.mu.Lock()
	if s.loading || !s.phaseAccepts(phase) {
		s.mu.Unlock()
		return nil
	}
	alreadyPosted := s.submitted[phase]
	if !alreadyPosted {
		if verr := incomplete(s.questions[phase], s.responses[phase]); verr != nil {
			s.mu.Unlock()
			return verr
		}
	}
	s.begin()
	evalID := s.evaluationID
	var chatID int64
	if phase == SurveyPost && s.active != nil {
		chatID = s.active.ID
	}
	batch := orderedResponses(s.questions[phase], s.responses[phase])
	s.mu.Unlock()

	if !alreadyPosted {
		if err := s.svc.SubmitResponses(ctx, chatID, evalID, phase, batch); err != nil {
			return s.fail("submit responses", err)
		}
		s.mu.Lock()
		s.submitted[phase] = true
		if phase == SurveyPre {
			s.submittedPre = batch
		} else if s.active != nil {
			s.active.PostResponses = batch
		}
		s.responses[phase] = map[string]Response{}
		s.mu.Unlock()
		s.archiveResponses(evalID, chatID, phase, batch)
	}

	topic, err := s.svc.NextTopic(ctx, evalID)
	if err != nil {
		return s.fail("get next topic", err)
	}

	if topic.Completed {
		s.mu.Lock()
		s.finishStudy()
		s.end()
		s.mu.Unlock()
		return nil
	}

	if phase == SurveyPre {
		// First topic: go straight into the chat.
		return s.beginTopic(ctx, topic.NextUseCase)
	}

	s.mu.Lock()
	s.pendingTopic = topic.NextUseCase
	s.phase = PhaseTopicTransition
	s.end()
	s.mu.Unlock()
	return nil
}

// CompleteChat marks the active session done and moves to the post
// survey. Gated on the minimum visible message count; a call that does
// not meet the guard is a no-op, not an error.
func (s *Store) CompleteChat() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != PhaseChat || s.active == nil {
		return
	}
	if len(s.active.Messages) < s.minChatMessages {
		return
	}
	s.active.Completed = true
	s.submitted[SurveyPost] = false
	s.phase = PhasePostSurvey
}

// ContinueToNextTopic drives topic-transition → chat for the topic
// recorded when the previous post survey was submitted.
func (s *Store) ContinueToNextTopic(ctx context.Context) error {
	s.mu.Lock()
	if s.phase != PhaseTopicTransition || s.loading {
		s.mu.Unlock()
		return nil
	}
	s.begin()
	topic := s.pendingTopic
	s.mu.Unlock()

	return s.beginTopic(ctx, topic)
}

// SendMessage appends the participant's message immediately and then
// exchanges it with the service. The append never waits on the
// network; the network legs run strictly in the order the messages
// were appended. On failure the message stays visible and sending
// again is the retry. Replies for a session that is no longer active
// are discarded.
func (s *Store) SendMessage(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	s.mu.Lock()
	if s.phase != PhaseChat || s.active == nil {
		s.mu.Unlock()
		return nil
	}
	sess := s.active
	sessID := sess.ID
	msgID := uuid.NewString()
	sess.Messages = append(sess.Messages, ChatMessage{
		ID:        msgID,
		Sender:    SenderUser,
		Text:      text,
		Timestamp: time.Now(),
	})
	s.begin()
	// The ticket shares the append's critical section, so the network
	// legs run in the order the messages appeared.
	ticket := s.sendSeq
	s.sendSeq++
	for s.sendTurn != ticket {
		s.sendCond.Wait()
	}
	history := historyBefore(sess, msgID)
	s.mu.Unlock()

	reply, err := s.svc.SendChatMessage(ctx, sessID, text, history)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendTurn++
	s.sendCond.Broadcast()
	s.end()
	if err != nil {
		s.lastErr = humanMessage(err)
		s.logError("send message", err)
		return err
	}
	if s.active == nil || s.active.ID != sessID {
		// Session replaced while the request was in flight.
		return nil
	}
	s.active.Messages = append(s.active.Messages, ChatMessage{
		ID:        uuid.NewString(),
		Sender:    SenderBot,
		Text:      reply.Content,
		Reasoning: reply.Reasoning,
		Timestamp: time.Now(),
	})
	return nil
}

// historyBefore is the conversation as the service should see it for
// the message with msgID: every completed earlier turn, including a
// reply that resolved while this send waited for its turn, and none of
// the user messages queued behind it. Caller holds mu.
func historyBefore(sess *ChatSession, msgID string) []ChatMessage {
	history := make([]ChatMessage, 0, len(sess.Messages))
	seen := false
	for _, m := range sess.Messages {
		if m.ID == msgID {
			seen = true
			continue
		}
		if seen && m.Sender == SenderUser {
			continue
		}
		history = append(history, m)
	}
	return history
}

// DismissError clears the shared error banner.
func (s *Store) DismissError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastErr = ""
}

// beginTopic starts a chat session for useCase, activates it, makes
// sure the post-survey questions are on hand, and primes the bot. The
// new session is committed as soon as the service confirms it, so a
// later failure in this sequence leaves the participant in the chat
// with the error recorded rather than rolling the topic back.
func (s *Store) beginTopic(ctx context.Context, useCase string) error {
	s.mu.Lock()
	evalID := s.evaluationID
	s.mu.Unlock()

	cfg, err := s.svc.StartChatSession(ctx, evalID, useCase)
	if err != nil {
		return s.fail("start chat session", err)
	}

	sess := &ChatSession{
		ID:         cfg.ChatSessionID,
		UseCase:    cfg.UseCase,
		PromptType: cfg.PromptType,
		UserGoal:   cfg.UserGoal,
	}

	s.mu.Lock()
	s.sessions = append(s.sessions, sess)
	s.active = sess
	s.pendingTopic = ""
	s.responses[SurveyPost] = map[string]Response{}
	s.submitted[SurveyPost] = false
	s.phase = PhaseChat
	needPostQuestions := len(s.questions[SurveyPost]) == 0
	s.mu.Unlock()

	if needPostQuestions {
		if qs, err := s.svc.FetchQuestions(ctx, SurveyPost); err != nil {
			// Not fatal here; the post-survey view can re-fetch.
			s.logError("fetch post-survey questions", err)
		} else {
			s.mu.Lock()
			s.questions[SurveyPost] = qs
			s.mu.Unlock()
		}
	}

	s.primeSession(ctx, sess)

	s.mu.Lock()
	s.end()
	s.mu.Unlock()
	return nil
}

// primeSession issues the one-shot introduction exchange for a fresh
// session. The latch is set before the call, so the exchange happens
// at most once per session even when it fails.
func (s *Store) primeSession(ctx context.Context, sess *ChatSession) {
	s.mu.Lock()
	if sess.Primed {
		s.mu.Unlock()
		return
	}
	sess.Primed = true
	sessID := sess.ID
	ticket := s.sendSeq
	s.sendSeq++
	for s.sendTurn != ticket {
		s.sendCond.Wait()
	}
	s.mu.Unlock()

	reply, err := s.svc.SendChatMessage(ctx, sessID, PrimingPrompt, nil)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendTurn++
	s.sendCond.Broadcast()
	if err != nil {
		s.lastErr = humanMessage(err)
		s.logError("prime chat session", err)
		return
	}
	if s.active == nil || s.active.ID != sessID {
		return
	}
	s.active.Messages = append(s.active.Messages, ChatMessage{
		ID:        uuid.NewString(),
		Sender:    SenderBot,
		Text:      reply.Content,
		Reasoning: reply.Reasoning,
		Timestamp: time.Now(),
	})
}

// finishStudy enters the terminal results phase. Caller holds mu.
func (s *Store) finishStudy() {
	s.allTopicsCompleted = true
	s.endedAt = time.Now()
	s.phase = PhaseResults
	if s.arc != nil {
		for _, sess := range s.sessions {
			if err := s.arc.ArchiveSession(s.evaluationID, *sess); err != nil {
				s.log.Warn("archive session failed", map[string]any{"chat_session_id": sess.ID, "error": err.Error()})
			}
		}
	}
}

func (s *Store) archiveResponses(evalID, chatID int64, phase SurveyPhase, batch []Response) {
	s.mu.Lock()
	arc := s.arc
	s.mu.Unlock()
	if arc == nil {
		return
	}
	if err := arc.ArchiveResponses(evalID, chatID, phase, batch); err != nil {
		s.log.Warn("archive responses failed", map[string]any{"phase": phase, "error": err.Error()})
	}
}

// phaseAccepts reports whether a survey submission matches the current
// protocol phase. Caller holds mu.
func (s *Store) phaseAccepts(phase SurveyPhase) bool {
	switch phase {
	case SurveyPre:
		return s.phase == PhasePreSurvey
	case SurveyPost:
		return s.phase == PhasePostSurvey
	}
	return false
}

// begin marks an asynchronous action in flight. Caller holds mu.
func (s *Store) begin() {
	s.inflight++
	s.loading = true
	s.lastErr = ""
}

// end retires an asynchronous action. Caller holds mu.
func (s *Store) end() {
	s.inflight--
	if s.inflight <= 0 {
		s.inflight = 0
		s.loading = false
	}
}

// fail records a network failure without advancing the phase, leaving
// the triggering action retryable.
func (s *Store) fail(action string, err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.end()
	s.lastErr = humanMessage(err)
	s.logError(action, err)
	return err
}

func (s *Store) logError(action string, err error) {
	s.log.Error(action, map[string]any{"error": err.Error()})
}

func humanMessage(err error) string {
	if se, ok := err.(*ServiceError); ok {
		return se.Message
	}
	return err.Error()
}
