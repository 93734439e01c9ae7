package study

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type submission struct {
	chatSessionID int64
	evalID        int64
	phase         SurveyPhase
	responses     []Response
}

type sendCall struct {
	sessionID int64
	message   string
	history   []ChatMessage
}

// fakeService scripts the remote API for store tests.
type fakeService struct {
	mu sync.Mutex

	sessionID string
	evalID    int64
	userGoal  string
	questions map[SurveyPhase][]Question
	topics    []string
	topicIdx  int
	reply     BotReply

	errCreateSession error
	errStartEval     error
	errQuestions     error
	errSubmit        error
	errStartChat     error
	errSend          error
	errNextTopic     error

	submissions  []submission
	sends        []sendCall
	chatSessions int64

	// blockSend, when non-nil, parks SendChatMessage calls whose
	// message matches blockOn until the channel is closed.
	blockSend chan struct{}
	blockOn   string
	// sendStarted is signalled once per parked call.
	sendStarted chan struct{}
}

func newFakeService() *fakeService {
	return &fakeService{
		sessionID: "s1",
		evalID:    42,
		userGoal:  "book a doctor's appointment",
		questions: map[SurveyPhase][]Question{
			SurveyPre: {
				{ID: "pre-1", Text: "I am comfortable using chatbots.", Kind: KindLikert, Required: true, Order: 1, Survey: SurveyPre},
				{ID: "pre-2", Text: "Previous experiences?", Kind: KindText, Required: false, Order: 2, Survey: SurveyPre},
			},
			SurveyPost: {
				{ID: "post-1", Text: "The chatbot understood me.", Kind: KindLikert, Required: true, Order: 1, Survey: SurveyPost},
			},
		},
		topics: []string{"health_care"},
		reply:  BotReply{Content: "Hi!"},
	}
}

func (f *fakeService) CreateSession(ctx context.Context) (string, error) {
	if f.errCreateSession != nil {
		return "", f.errCreateSession
	}
	return f.sessionID, nil
}

func (f *fakeService) StartEvaluation(ctx context.Context, sessionID string) (EvaluationInfo, error) {
	if f.errStartEval != nil {
		return EvaluationInfo{}, f.errStartEval
	}
	return EvaluationInfo{EvaluationID: f.evalID, UserGoal: f.userGoal}, nil
}

func (f *fakeService) FetchQuestions(ctx context.Context, phase SurveyPhase) ([]Question, error) {
	if f.errQuestions != nil {
		return nil, f.errQuestions
	}
	return f.questions[phase], nil
}

func (f *fakeService) SubmitResponses(ctx context.Context, chatSessionID, evalID int64, phase SurveyPhase, responses []Response) error {
	if f.errSubmit != nil {
		return f.errSubmit
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submissions = append(f.submissions, submission{chatSessionID, evalID, phase, responses})
	return nil
}

func (f *fakeService) StartChatSession(ctx context.Context, evalID int64, useCase string) (ChatConfig, error) {
	if f.errStartChat != nil {
		return ChatConfig{}, f.errStartChat
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chatSessions++
	if useCase == "" && f.topicIdx < len(f.topics) {
		useCase = f.topics[f.topicIdx]
	}
	return ChatConfig{ChatSessionID: f.chatSessions, UseCase: useCase, PromptType: "proactive", UserGoal: f.userGoal}, nil
}

func (f *fakeService) SendChatMessage(ctx context.Context, chatSessionID int64, message string, history []ChatMessage) (BotReply, error) {
	f.mu.Lock()
	block := f.blockSend
	blockOn := f.blockOn
	started := f.sendStarted
	f.mu.Unlock()
	if block != nil && message == blockOn {
		if started != nil {
			started <- struct{}{}
		}
		<-block
	}
	if f.errSend != nil {
		return BotReply{}, f.errSend
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, sendCall{chatSessionID, message, append([]ChatMessage(nil), history...)})
	return f.reply, nil
}

func (f *fakeService) NextTopic(ctx context.Context, evalID int64) (TopicStatus, error) {
	if f.errNextTopic != nil {
		return TopicStatus{}, f.errNextTopic
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.topicIdx >= len(f.topics) {
		return TopicStatus{Completed: true}, nil
	}
	t := f.topics[f.topicIdx]
	f.topicIdx++
	return TopicStatus{Completed: false, NextUseCase: t}, nil
}

func (f *fakeService) sendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sends)
}

func newTestStore(svc Service) *Store {
	return NewStore(svc, Config{MinChatMessages: 4}, NewLogger(nil))
}

// answerPre fills every required pre-survey question.
func answerPre(t *testing.T, s *Store) {
	t.Helper()
	if err := s.SetResponse(SurveyPre, "pre-1", ScaleAnswer(4)); err != nil {
		t.Fatal(err)
	}
}

// advanceToChat walks a fresh store to the chat phase.
func advanceToChat(t *testing.T, s *Store, svc *fakeService) {
	t.Helper()
	ctx := context.Background()
	if err := s.StartEvaluation(ctx); err != nil {
		t.Fatal(err)
	}
	answerPre(t, s)
	if err := s.SubmitResponses(ctx, SurveyPre); err != nil {
		t.Fatal(err)
	}
	if got := s.Snapshot().Phase; got != PhaseChat {
		t.Fatalf("expected chat phase, got %s", got)
	}
}

func TestStartEvaluation_AdvancesToPreSurvey(t *testing.T) {
	svc := newFakeService()
	s := newTestStore(svc)

	if err := s.StartEvaluation(context.Background()); err != nil {
		t.Fatal(err)
	}

	snap := s.Snapshot()
	if snap.Phase != PhasePreSurvey {
		t.Fatalf("expected pre-survey, got %s", snap.Phase)
	}
	if snap.EvaluationID != 42 {
		t.Fatalf("expected evaluation id 42, got %d", snap.EvaluationID)
	}
	if len(snap.Questions[SurveyPre]) != 2 {
		t.Fatalf("expected 2 pre questions, got %d", len(snap.Questions[SurveyPre]))
	}
	if snap.Loading {
		t.Fatal("loading should be false after the action resolves")
	}
	if snap.UserGoal == "" {
		t.Fatal("expected the user goal to be recorded")
	}
}

func TestStartEvaluation_FailureStaysOnLanding(t *testing.T) {
	svc := newFakeService()
	svc.errStartEval = &ServiceError{Status: 500, Message: "evaluation unavailable"}
	s := newTestStore(svc)

	if err := s.StartEvaluation(context.Background()); err == nil {
		t.Fatal("expected an error")
	}

	snap := s.Snapshot()
	if snap.Phase != PhaseLanding {
		t.Fatalf("phase must not advance on failure, got %s", snap.Phase)
	}
	if snap.Err != "evaluation unavailable" {
		t.Fatalf("expected the error recorded, got %q", snap.Err)
	}
	if snap.Loading {
		t.Fatal("loading must clear on the failure path")
	}
}

func TestStartEvaluation_QuestionFetchFailureLandsOnPreSurvey(t *testing.T) {
	svc := newFakeService()
	svc.errQuestions = &ServiceError{Status: 502, Message: "questions unavailable"}
	s := newTestStore(svc)

	if err := s.StartEvaluation(context.Background()); err == nil {
		t.Fatal("expected an error")
	}

	snap := s.Snapshot()
	if snap.Phase != PhasePreSurvey {
		t.Fatalf("evaluation was created, so the phase should be pre-survey, got %s", snap.Phase)
	}
	if snap.EvaluationID != 42 {
		t.Fatal("the evaluation id must be kept once issued")
	}

	// The fetch is retryable in place.
	svc.errQuestions = nil
	if err := s.FetchQuestions(context.Background(), SurveyPre); err != nil {
		t.Fatal(err)
	}
	if got := len(s.Snapshot().Questions[SurveyPre]); got != 2 {
		t.Fatalf("expected questions after retry, got %d", got)
	}
}

func TestStartEvaluation_IgnoredOutsideLanding(t *testing.T) {
	svc := newFakeService()
	s := newTestStore(svc)
	advanceToChat(t, s, svc)

	before := s.Snapshot()
	if err := s.StartEvaluation(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := s.Snapshot().Phase; got != before.Phase {
		t.Fatalf("start evaluation must be a no-op outside landing, got %s", got)
	}
}

func TestSubmitPre_IncompleteIssuesNoRequest(t *testing.T) {
	svc := newFakeService()
	s := newTestStore(svc)
	if err := s.StartEvaluation(context.Background()); err != nil {
		t.Fatal(err)
	}

	err := s.SubmitResponses(context.Background(), SurveyPre)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected a ValidationError, got %v", err)
	}
	if verr.QuestionID != "pre-1" {
		t.Fatalf("expected the unanswered question named, got %q", verr.QuestionID)
	}
	if len(svc.submissions) != 0 {
		t.Fatal("no submission request may be issued while incomplete")
	}
	snap := s.Snapshot()
	if snap.Phase != PhasePreSurvey {
		t.Fatalf("phase must stay pre-survey, got %s", snap.Phase)
	}
	if snap.Loading {
		t.Fatal("a guard rejection must not leave loading set")
	}
}

func TestSubmitPre_OptionalQuestionsDoNotBlock(t *testing.T) {
	svc := newFakeService()
	s := newTestStore(svc)
	if err := s.StartEvaluation(context.Background()); err != nil {
		t.Fatal(err)
	}
	answerPre(t, s) // required only; pre-2 (optional) left blank

	if err := s.SubmitResponses(context.Background(), SurveyPre); err != nil {
		t.Fatal(err)
	}
	if got := s.Snapshot().Phase; got != PhaseChat {
		t.Fatalf("expected chat, got %s", got)
	}
}

func TestSubmitPre_PrimesNewSessionOnce(t *testing.T) {
	svc := newFakeService()
	s := newTestStore(svc)
	advanceToChat(t, s, svc)

	if n := svc.sendCount(); n != 1 {
		t.Fatalf("expected exactly one priming exchange, got %d", n)
	}
	svc.mu.Lock()
	prime := svc.sends[0]
	svc.mu.Unlock()
	if prime.message != PrimingPrompt {
		t.Fatalf("unexpected priming message %q", prime.message)
	}
	if len(prime.history) != 0 {
		t.Fatal("priming must carry an empty history")
	}

	snap := s.Snapshot()
	if snap.Active == nil {
		t.Fatal("expected an active chat session")
	}
	if len(snap.Active.Messages) != 1 {
		t.Fatalf("expected only the bot introduction in history, got %d messages", len(snap.Active.Messages))
	}
	if m := snap.Active.Messages[0]; m.Sender != SenderBot || m.Text != "Hi!" {
		t.Fatalf("unexpected first message %+v", m)
	}
	// The submitted bucket is cleared after a successful post.
	if len(snap.Responses[SurveyPre]) != 0 {
		t.Fatal("pre responses must be cleared after submission")
	}
	// Post questions are fetched alongside the new session.
	if len(snap.Questions[SurveyPost]) != 1 {
		t.Fatalf("expected post questions fetched, got %d", len(snap.Questions[SurveyPost]))
	}
}

func TestSubmitPre_NoTopicsGoesStraightToResults(t *testing.T) {
	svc := newFakeService()
	svc.topics = nil
	s := newTestStore(svc)
	if err := s.StartEvaluation(context.Background()); err != nil {
		t.Fatal(err)
	}
	answerPre(t, s)
	if err := s.SubmitResponses(context.Background(), SurveyPre); err != nil {
		t.Fatal(err)
	}
	snap := s.Snapshot()
	if snap.Phase != PhaseResults {
		t.Fatalf("expected results, got %s", snap.Phase)
	}
	if !snap.AllDone {
		t.Fatal("expected allTopicsCompleted")
	}
}

func TestSubmitPre_SubmitFailureKeepsResponses(t *testing.T) {
	svc := newFakeService()
	svc.errSubmit = &ServiceError{Status: 500, Message: "write failed"}
	s := newTestStore(svc)
	if err := s.StartEvaluation(context.Background()); err != nil {
		t.Fatal(err)
	}
	answerPre(t, s)

	if err := s.SubmitResponses(context.Background(), SurveyPre); err == nil {
		t.Fatal("expected an error")
	}
	snap := s.Snapshot()
	if snap.Phase != PhasePreSurvey {
		t.Fatalf("phase must stay pre-survey, got %s", snap.Phase)
	}
	if len(snap.Responses[SurveyPre]) != 1 {
		t.Fatal("responses must survive a failed submission for retry")
	}

	// Retrying the same action succeeds.
	svc.errSubmit = nil
	if err := s.SubmitResponses(context.Background(), SurveyPre); err != nil {
		t.Fatal(err)
	}
	if got := s.Snapshot().Phase; got != PhaseChat {
		t.Fatalf("expected chat after retry, got %s", got)
	}
}

func TestSubmitPost_RetryAfterNextTopicFailureDoesNotRepost(t *testing.T) {
	svc := newFakeService()
	svc.topics = []string{"health_care", "education"}
	s := newTestStore(svc)
	advanceToChat(t, s, svc)
	fillChat(t, s, svc)
	s.CompleteChat()

	if err := s.SetResponse(SurveyPost, "post-1", ScaleAnswer(5)); err != nil {
		t.Fatal(err)
	}

	svc.errNextTopic = &ServiceError{Status: 503, Message: "topic service down"}
	if err := s.SubmitResponses(context.Background(), SurveyPost); err == nil {
		t.Fatal("expected an error")
	}
	if got := s.Snapshot().Phase; got != PhasePostSurvey {
		t.Fatalf("phase must stay post-survey, got %s", got)
	}
	posted := len(svc.submissions)

	svc.errNextTopic = nil
	if err := s.SubmitResponses(context.Background(), SurveyPost); err != nil {
		t.Fatal(err)
	}
	if len(svc.submissions) != posted {
		t.Fatal("a retry after a successful post must not re-post the responses")
	}
	if got := s.Snapshot().Phase; got != PhaseTopicTransition {
		t.Fatalf("expected topic-transition, got %s", got)
	}
}

// fillChat exchanges enough messages to satisfy the completion guard.
func fillChat(t *testing.T, s *Store, svc *fakeService) {
	t.Helper()
	svc.reply = BotReply{Content: "Sure."}
	for i := 0; len(s.Snapshot().Active.Messages) < s.Snapshot().MinChat; i++ {
		if err := s.SendMessage(context.Background(), "Hello there"); err != nil {
			t.Fatal(err)
		}
		if i > 10 {
			t.Fatal("chat never reached the minimum length")
		}
	}
}

func TestCompleteChat_GuardedByMinimumMessages(t *testing.T) {
	svc := newFakeService()
	s := newTestStore(svc)
	advanceToChat(t, s, svc)

	// Only the priming reply so far; the guard must hold.
	s.CompleteChat()
	if got := s.Snapshot().Phase; got != PhaseChat {
		t.Fatalf("complete chat below the minimum must be a no-op, got %s", got)
	}

	fillChat(t, s, svc)
	s.CompleteChat()
	snap := s.Snapshot()
	if snap.Phase != PhasePostSurvey {
		t.Fatalf("expected post-survey, got %s", snap.Phase)
	}

	// P1: every session but the active one is completed, and after
	// completion none is left open.
	for _, sess := range snap.Sessions {
		if !sess.Completed {
			t.Fatalf("expected all sessions completed, found open %q", sess.UseCase)
		}
	}
}

func TestSendMessage_OptimisticAppend(t *testing.T) {
	svc := newFakeService()
	s := newTestStore(svc)
	advanceToChat(t, s, svc)

	svc.mu.Lock()
	svc.blockSend = make(chan struct{})
	svc.blockOn = "Hello"
	svc.sendStarted = make(chan struct{}, 1)
	svc.reply = BotReply{Content: "Hello back"}
	svc.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- s.SendMessage(context.Background(), "Hello") }()

	<-svc.sendStarted

	// The user's message is visible before the response returns.
	snap := s.Snapshot()
	msgs := snap.Active.Messages
	if len(msgs) != 2 || msgs[1].Sender != SenderUser || msgs[1].Text != "Hello" {
		t.Fatalf("expected the user message appended optimistically, got %+v", msgs)
	}
	if !snap.Loading {
		t.Fatal("loading must be true while the send is in flight")
	}

	close(svc.blockSend)
	if err := <-done; err != nil {
		t.Fatal(err)
	}

	snap = s.Snapshot()
	msgs = snap.Active.Messages
	if len(msgs) != 3 || msgs[2].Sender != SenderBot || msgs[2].Text != "Hello back" {
		t.Fatalf("expected the bot reply appended after the user message, got %+v", msgs)
	}
	if snap.Loading {
		t.Fatal("loading must clear once the send resolves")
	}

	// The outbound call carried the history as it stood before the new
	// message.
	svc.mu.Lock()
	last := svc.sends[len(svc.sends)-1]
	svc.mu.Unlock()
	if last.message != "Hello" {
		t.Fatalf("unexpected outbound message %q", last.message)
	}
	if len(last.history) != 1 || last.history[0].Sender != SenderBot {
		t.Fatalf("expected only the priming reply in the outbound history, got %+v", last.history)
	}
}

func TestSendMessage_FailureKeepsUserMessageVisible(t *testing.T) {
	svc := newFakeService()
	s := newTestStore(svc)
	advanceToChat(t, s, svc)

	svc.errSend = &ServiceError{Status: 500, Message: "model overloaded"}
	if err := s.SendMessage(context.Background(), "Hello"); err == nil {
		t.Fatal("expected an error")
	}

	snap := s.Snapshot()
	msgs := snap.Active.Messages
	if len(msgs) != 2 || msgs[1].Sender != SenderUser {
		t.Fatalf("the user message must not be rolled back, got %+v", msgs)
	}
	if snap.Err != "model overloaded" {
		t.Fatalf("expected the error recorded, got %q", snap.Err)
	}
	if snap.Loading {
		t.Fatal("loading must clear on the failure path")
	}

	// Sending again is the retry.
	svc.errSend = nil
	if err := s.SendMessage(context.Background(), "Hello again"); err != nil {
		t.Fatal(err)
	}
	msgs = s.Snapshot().Active.Messages
	if msgs[len(msgs)-1].Sender != SenderBot {
		t.Fatal("expected the retry to complete the exchange")
	}
}

func TestSendMessage_StaleReplyDiscarded(t *testing.T) {
	svc := newFakeService()
	s := newTestStore(svc)
	advanceToChat(t, s, svc)

	svc.mu.Lock()
	svc.blockSend = make(chan struct{})
	svc.blockOn = "Hello"
	svc.sendStarted = make(chan struct{}, 1)
	svc.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- s.SendMessage(context.Background(), "Hello") }()
	<-svc.sendStarted

	// The session is replaced while the request is in flight.
	replacement := &ChatSession{ID: 999, UseCase: "education", Primed: true}
	s.mu.Lock()
	oldLen := len(s.active.Messages)
	s.sessions = append(s.sessions, replacement)
	s.active = replacement
	s.mu.Unlock()

	close(svc.blockSend)
	if err := <-done; err != nil {
		t.Fatal(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(replacement.Messages) != 0 {
		t.Fatalf("a stale reply must not land in the new session, got %+v", replacement.Messages)
	}
	if len(s.sessions[0].Messages) != oldLen {
		t.Fatal("a stale reply must not be appended to the superseded session either")
	}
}

func TestSendMessage_QueuedSendWaitsItsTurn(t *testing.T) {
	svc := newFakeService()
	s := newTestStore(svc)
	advanceToChat(t, s, svc)

	svc.mu.Lock()
	svc.blockSend = make(chan struct{})
	svc.blockOn = "first"
	svc.sendStarted = make(chan struct{}, 1)
	svc.reply = BotReply{Content: "Sure."}
	svc.mu.Unlock()

	firstDone := make(chan error, 1)
	go func() { firstDone <- s.SendMessage(context.Background(), "first") }()
	<-svc.sendStarted

	// The second message is initiated only after the first turn's
	// append is visible.
	if msgs := s.Snapshot().Active.Messages; msgs[len(msgs)-1].Text != "first" {
		t.Fatalf("first message not appended yet, got %+v", msgs)
	}
	secondDone := make(chan error, 1)
	go func() { secondDone <- s.SendMessage(context.Background(), "second") }()

	// While the earlier send is parked in the network, the later one
	// must not reach the service.
	before := svc.sendCount()
	for i := 0; i < 20; i++ {
		time.Sleep(5 * time.Millisecond)
		if svc.sendCount() != before {
			t.Fatal("a later send overtook an earlier one")
		}
	}

	close(svc.blockSend)
	if err := <-firstDone; err != nil {
		t.Fatal(err)
	}
	if err := <-secondDone; err != nil {
		t.Fatal(err)
	}

	svc.mu.Lock()
	defer svc.mu.Unlock()
	n := len(svc.sends)
	if svc.sends[n-2].message != "first" || svc.sends[n-1].message != "second" {
		t.Fatalf("sends out of order: %q then %q", svc.sends[n-2].message, svc.sends[n-1].message)
	}
}

func TestSendMessage_QueuedSendCarriesEarlierReply(t *testing.T) {
	svc := newFakeService()
	s := newTestStore(svc)
	advanceToChat(t, s, svc)

	svc.mu.Lock()
	svc.blockSend = make(chan struct{})
	svc.blockOn = "first"
	svc.sendStarted = make(chan struct{}, 1)
	svc.reply = BotReply{Content: "Sure."}
	svc.mu.Unlock()

	firstDone := make(chan error, 1)
	go func() { firstDone <- s.SendMessage(context.Background(), "first") }()
	<-svc.sendStarted

	secondDone := make(chan error, 1)
	go func() { secondDone <- s.SendMessage(context.Background(), "second") }()

	close(svc.blockSend)
	if err := <-firstDone; err != nil {
		t.Fatal(err)
	}
	if err := <-secondDone; err != nil {
		t.Fatal(err)
	}

	svc.mu.Lock()
	last := svc.sends[len(svc.sends)-1]
	svc.mu.Unlock()
	if last.message != "second" {
		t.Fatalf("expected the second send last, got %q", last.message)
	}
	// Its history holds the whole first turn: the priming reply, the
	// first user message, and the reply the first send produced.
	if len(last.history) != 3 {
		t.Fatalf("expected 3 messages in the queued send's history, got %+v", last.history)
	}
	if last.history[1].Text != "first" {
		t.Fatalf("expected the first user message in the history, got %+v", last.history)
	}
	if last.history[2].Sender != SenderBot || last.history[2].Text != "Sure." {
		t.Fatalf("expected the earlier turn's reply in the history, got %+v", last.history)
	}
	for _, m := range last.history {
		if m.Text == "second" {
			t.Fatal("a send must not carry its own message in the history")
		}
	}
}

func TestSendMessage_HistoryAppendOnly(t *testing.T) {
	svc := newFakeService()
	s := newTestStore(svc)
	advanceToChat(t, s, svc)

	var prev []ChatMessage
	for _, text := range []string{"one", "two", "three"} {
		if err := s.SendMessage(context.Background(), text); err != nil {
			t.Fatal(err)
		}
		cur := s.Snapshot().Active.Messages
		if len(cur) < len(prev) {
			t.Fatal("history shrank")
		}
		for i := range prev {
			if cur[i].ID != prev[i].ID || cur[i].Text != prev[i].Text {
				t.Fatalf("history was reordered at %d", i)
			}
		}
		prev = cur
	}
}

func TestSubmitPost_NextTopicParksOnTransition(t *testing.T) {
	svc := newFakeService()
	svc.topics = []string{"health_care", "education"}
	s := newTestStore(svc)
	advanceToChat(t, s, svc)
	fillChat(t, s, svc)
	s.CompleteChat()

	if err := s.SetResponse(SurveyPost, "post-1", ScaleAnswer(4)); err != nil {
		t.Fatal(err)
	}
	if err := s.SubmitResponses(context.Background(), SurveyPost); err != nil {
		t.Fatal(err)
	}

	snap := s.Snapshot()
	if snap.Phase != PhaseTopicTransition {
		t.Fatalf("expected topic-transition, got %s", snap.Phase)
	}
	if snap.Pending != "education" {
		t.Fatalf("expected the pending topic recorded, got %q", snap.Pending)
	}
	if snap.AllDone {
		t.Fatal("the study is not over while topics remain")
	}
}

func TestSubmitPost_LastTopicBypassesTransition(t *testing.T) {
	svc := newFakeService()
	s := newTestStore(svc)
	advanceToChat(t, s, svc)
	fillChat(t, s, svc)
	s.CompleteChat()

	if err := s.SetResponse(SurveyPost, "post-1", ScaleAnswer(4)); err != nil {
		t.Fatal(err)
	}
	if err := s.SubmitResponses(context.Background(), SurveyPost); err != nil {
		t.Fatal(err)
	}

	snap := s.Snapshot()
	if snap.Phase != PhaseResults {
		t.Fatalf("expected results directly, got %s", snap.Phase)
	}
	if !snap.AllDone {
		t.Fatal("expected allTopicsCompleted")
	}
	if snap.Ended.IsZero() {
		t.Fatal("expected the end time stamped")
	}
}

func TestContinueToNextTopic_StartsAndPrimesNewSession(t *testing.T) {
	svc := newFakeService()
	svc.topics = []string{"health_care", "education"}
	s := newTestStore(svc)
	advanceToChat(t, s, svc)
	fillChat(t, s, svc)
	s.CompleteChat()
	if err := s.SetResponse(SurveyPost, "post-1", ScaleAnswer(4)); err != nil {
		t.Fatal(err)
	}
	if err := s.SubmitResponses(context.Background(), SurveyPost); err != nil {
		t.Fatal(err)
	}
	sendsBefore := svc.sendCount()

	if err := s.ContinueToNextTopic(context.Background()); err != nil {
		t.Fatal(err)
	}

	snap := s.Snapshot()
	if snap.Phase != PhaseChat {
		t.Fatalf("expected chat, got %s", snap.Phase)
	}
	if snap.Active == nil || snap.Active.UseCase != "education" {
		t.Fatalf("expected the pending topic activated, got %+v", snap.Active)
	}
	if snap.Pending != "" {
		t.Fatal("the pending topic must be consumed")
	}
	if got := svc.sendCount() - sendsBefore; got != 1 {
		t.Fatalf("expected exactly one priming exchange for the new session, got %d", got)
	}

	// P1: the first topic is completed, only the new session is open.
	open := 0
	for _, sess := range snap.Sessions {
		if !sess.Completed {
			open++
		}
	}
	if open != 1 {
		t.Fatalf("expected exactly one open session, got %d", open)
	}
	// The post-survey bucket starts fresh for the new topic.
	if len(snap.Responses[SurveyPost]) != 0 {
		t.Fatal("post responses must reset for a new topic")
	}
}

func TestSetResponse_ReplacesPriorAnswer(t *testing.T) {
	svc := newFakeService()
	s := newTestStore(svc)
	if err := s.StartEvaluation(context.Background()); err != nil {
		t.Fatal(err)
	}

	if err := s.SetResponse(SurveyPre, "pre-1", ScaleAnswer(2)); err != nil {
		t.Fatal(err)
	}
	if err := s.SetResponse(SurveyPre, "pre-1", ScaleAnswer(5)); err != nil {
		t.Fatal(err)
	}

	snap := s.Snapshot()
	if len(snap.Responses[SurveyPre]) != 1 {
		t.Fatalf("expected a single response, got %d", len(snap.Responses[SurveyPre]))
	}
	if got := snap.Responses[SurveyPre]["pre-1"].Answer.Scale; got != 5 {
		t.Fatalf("expected the answer replaced, got %d", got)
	}
}

func TestSetResponse_RejectsInvalidInput(t *testing.T) {
	svc := newFakeService()
	s := newTestStore(svc)
	if err := s.StartEvaluation(context.Background()); err != nil {
		t.Fatal(err)
	}

	if err := s.SetResponse(SurveyPre, "pre-1", ScaleAnswer(9)); err == nil {
		t.Fatal("expected an out-of-range rating to be rejected")
	}
	if err := s.SetResponse(SurveyPre, "nope", ScaleAnswer(3)); err == nil {
		t.Fatal("expected an unknown question to be rejected")
	}
	if len(s.Snapshot().Responses[SurveyPre]) != 0 {
		t.Fatal("rejected answers must not be stored")
	}
}

func TestSummary_AggregatesTopics(t *testing.T) {
	svc := newFakeService()
	s := newTestStore(svc)
	advanceToChat(t, s, svc)
	fillChat(t, s, svc)
	s.CompleteChat()
	if err := s.SetResponse(SurveyPost, "post-1", ScaleAnswer(4)); err != nil {
		t.Fatal(err)
	}
	if err := s.SubmitResponses(context.Background(), SurveyPost); err != nil {
		t.Fatal(err)
	}

	sum := s.Summary()
	if len(sum.Topics) != 1 {
		t.Fatalf("expected one topic, got %d", len(sum.Topics))
	}
	if sum.Topics[0].UseCase != "health_care" {
		t.Fatalf("unexpected topic %q", sum.Topics[0].UseCase)
	}
	if sum.AverageRating != 4 {
		t.Fatalf("expected average rating 4, got %g", sum.AverageRating)
	}
	if sum.TotalMessages == 0 {
		t.Fatal("expected messages counted")
	}
	if len(sum.PreResponses) != 1 {
		t.Fatalf("expected the submitted pre responses kept, got %d", len(sum.PreResponses))
	}
	if sum.Duration <= 0 {
		t.Fatal("expected a positive duration")
	}
}

func TestLoadingClearsOnEveryPath(t *testing.T) {
	cases := []struct {
		name string
		run  func(s *Store, svc *fakeService)
	}{
		{"start failure", func(s *Store, svc *fakeService) {
			svc.errStartEval = errors.New("boom")
			_ = s.StartEvaluation(context.Background())
		}},
		{"fetch failure", func(s *Store, svc *fakeService) {
			_ = s.StartEvaluation(context.Background())
			svc.errQuestions = errors.New("boom")
			_ = s.FetchQuestions(context.Background(), SurveyPost)
		}},
		{"submit guard", func(s *Store, svc *fakeService) {
			_ = s.StartEvaluation(context.Background())
			_ = s.SubmitResponses(context.Background(), SurveyPre)
		}},
		{"chat failure", func(s *Store, svc *fakeService) {
			_ = s.StartEvaluation(context.Background())
			_ = s.SetResponse(SurveyPre, "pre-1", ScaleAnswer(3))
			_ = s.SubmitResponses(context.Background(), SurveyPre)
			svc.errSend = errors.New("boom")
			_ = s.SendMessage(context.Background(), "hi")
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := newFakeService()
			s := newTestStore(svc)
			tc.run(s, svc)
			if s.Snapshot().Loading {
				t.Fatal("loading left set")
			}
		})
	}
}

func TestDismissError(t *testing.T) {
	svc := newFakeService()
	svc.errStartEval = &ServiceError{Status: 500, Message: "nope"}
	s := newTestStore(svc)
	_ = s.StartEvaluation(context.Background())
	if s.Snapshot().Err == "" {
		t.Fatal("expected an error recorded")
	}
	s.DismissError()
	if s.Snapshot().Err != "" {
		t.Fatal("expected the error cleared")
	}
}

func TestPrimingLatchSurvivesFailure(t *testing.T) {
	svc := newFakeService()
	svc.errSend = errors.New("model down")
	s := newTestStore(svc)
	advanceToChat(t, s, svc)

	// Priming failed; the latch still holds, so re-entering the same
	// session must not prime again.
	svc.errSend = nil
	s.mu.Lock()
	sess := s.active
	s.mu.Unlock()
	s.primeSession(context.Background(), sess)

	if n := svc.sendCount(); n != 0 {
		t.Fatalf("the priming exchange is one-shot per session, got %d extra", n)
	}
	if s.Snapshot().Err == "" {
		t.Fatal("the priming failure must be recorded")
	}
}

func TestSendMessage_BlankInputIgnored(t *testing.T) {
	svc := newFakeService()
	s := newTestStore(svc)
	advanceToChat(t, s, svc)
	before := svc.sendCount()

	if err := s.SendMessage(context.Background(), "   \n"); err != nil {
		t.Fatal(err)
	}
	if svc.sendCount() != before {
		t.Fatal("blank input must not reach the service")
	}
	if got := len(s.Snapshot().Active.Messages); got != 1 {
		t.Fatalf("blank input must not be appended, got %d messages", got)
	}
}

func TestEvaluationIDNeverCleared(t *testing.T) {
	svc := newFakeService()
	s := newTestStore(svc)
	advanceToChat(t, s, svc)

	svc.errSend = errors.New("boom")
	_ = s.SendMessage(context.Background(), "hi")
	svc.errSend = nil
	fillChat(t, s, svc)
	s.CompleteChat()

	if got := s.Snapshot().EvaluationID; got != 42 {
		t.Fatalf("the evaluation id must survive every transition, got %d", got)
	}
}

func TestSnapshotCopiesDoNotAliasLiveState(t *testing.T) {
	svc := newFakeService()
	s := newTestStore(svc)
	advanceToChat(t, s, svc)

	snap := s.Snapshot()
	snap.Active.Messages[0].Text = "mutated"
	snap.Responses[SurveyPre]["x"] = Response{}

	fresh := s.Snapshot()
	if fresh.Active.Messages[0].Text == "mutated" {
		t.Fatal("snapshot messages alias live state")
	}
	if _, ok := fresh.Responses[SurveyPre]["x"]; ok {
		t.Fatal("snapshot responses alias live state")
	}
}

func TestStartEvaluation_TimestampsRecorded(t *testing.T) {
	svc := newFakeService()
	svc.topics = nil
	s := newTestStore(svc)
	start := time.Now()
	if err := s.StartEvaluation(context.Background()); err != nil {
		t.Fatal(err)
	}
	answerPre(t, s)
	if err := s.SubmitResponses(context.Background(), SurveyPre); err != nil {
		t.Fatal(err)
	}
	snap := s.Snapshot()
	if snap.Started.Before(start.Add(-time.Second)) || snap.Started.IsZero() {
		t.Fatal("expected the start time stamped")
	}
	if snap.Ended.Before(snap.Started) {
		t.Fatal("expected the end time at or after the start time")
	}
}
