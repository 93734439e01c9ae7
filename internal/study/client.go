package study

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is the typed wrapper over the evaluation service's HTTP API.
// Every method is a single round trip with no retries; failures are
// normalized into *ServiceError.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Log     *Logger
}

func NewClient(baseURL string, timeout time.Duration, log *Logger) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: timeout},
		Log:     log,
	}
}

type sessionResponse struct {
	SessionID string `json:"session_id"`
}

type evaluationRequest struct {
	SessionID string `json:"session_id"`
}

type evaluationResponse struct {
	EvaluationID int64 `json:"evaluation_id"`
	Config       struct {
		UserGoal string `json:"user_goal"`
	} `json:"config"`
}

type questionsResponse struct {
	Questions []Question `json:"questions"`
}

type wireResponse struct {
	QuestionID string `json:"question_id"`
	Answer     any    `json:"answer"`
}

type responsesRequest struct {
	ChatSessionID int64          `json:"chat_session_id,omitempty"`
	EvalID        int64          `json:"eval_id"`
	Type          SurveyPhase    `json:"type"`
	Responses     []wireResponse `json:"responses"`
}

type chatSessionRequest struct {
	EvaluationID int64  `json:"evaluation_id"`
	UseCase      string `json:"use_case,omitempty"`
}

type chatSessionResponse struct {
	ChatSessionID int64 `json:"chat_session_id"`
	Config        struct {
		UseCase    string `json:"use_case"`
		PromptType string `json:"prompt_type"`
		UserGoal   string `json:"user_goal"`
	} `json:"config"`
}

type historyEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatMessageRequest struct {
	ChatSessionID int64          `json:"chatSessionId"`
	Message       string         `json:"message"`
	History       []historyEntry `json:"history"`
}

type chatMessageResponse struct {
	Success bool `json:"success"`
	Message struct {
		Content   string `json:"content"`
		Reasoning string `json:"reasoning,omitempty"`
	} `json:"message"`
}

type nextTopicResponse struct {
	Completed   bool   `json:"completed"`
	NextUseCase string `json:"next_use_case,omitempty"`
}

// CreateSession registers this browser-equivalent visit and returns
// the opaque session identifier.
func (c *Client) CreateSession(ctx context.Context) (string, error) {
	var out sessionResponse
	if err := c.post(ctx, "/session", struct{}{}, &out, "failed to create session"); err != nil {
		return "", err
	}
	if out.SessionID == "" {
		return "", &ServiceError{Message: "service returned an empty session id"}
	}
	return out.SessionID, nil
}

// StartEvaluation creates the evaluation record the rest of the
// protocol writes against.
func (c *Client) StartEvaluation(ctx context.Context, sessionID string) (EvaluationInfo, error) {
	var out evaluationResponse
	err := c.post(ctx, "/evaluation", evaluationRequest{SessionID: sessionID}, &out, "failed to start evaluation")
	if err != nil {
		return EvaluationInfo{}, err
	}
	return EvaluationInfo{EvaluationID: out.EvaluationID, UserGoal: out.Config.UserGoal}, nil
}

// FetchQuestions returns the question set for one survey phase.
func (c *Client) FetchQuestions(ctx context.Context, phase SurveyPhase) ([]Question, error) {
	var out questionsResponse
	path := "/questions?type=" + url.QueryEscape(string(phase))
	if err := c.get(ctx, path, &out, "failed to fetch questions"); err != nil {
		return nil, err
	}
	return out.Questions, nil
}

// SubmitResponses posts one survey phase's accumulated answers.
// chatSessionID is zero for the pre survey, which has no topic yet.
func (c *Client) SubmitResponses(ctx context.Context, chatSessionID, evalID int64, phase SurveyPhase, responses []Response) error {
	req := responsesRequest{
		ChatSessionID: chatSessionID,
		EvalID:        evalID,
		Type:          phase,
		Responses:     make([]wireResponse, 0, len(responses)),
	}
	for _, r := range responses {
		req.Responses = append(req.Responses, wireResponse{QuestionID: r.QuestionID, Answer: r.Answer.Value()})
	}
	return c.post(ctx, "/responses", req, nil, "failed to submit responses")
}

// StartChatSession asks the service for a new topic-scoped session.
// useCase is empty for the first topic; the service then picks one.
func (c *Client) StartChatSession(ctx context.Context, evalID int64, useCase string) (ChatConfig, error) {
	var out chatSessionResponse
	err := c.post(ctx, "/chat/session", chatSessionRequest{EvaluationID: evalID, UseCase: useCase}, &out, "failed to start chat session")
	if err != nil {
		return ChatConfig{}, err
	}
	return ChatConfig{
		ChatSessionID: out.ChatSessionID,
		UseCase:       out.Config.UseCase,
		PromptType:    out.Config.PromptType,
		UserGoal:      out.Config.UserGoal,
	}, nil
}

// SendChatMessage sends one turn. The service is stateless between
// calls, so the full prior history travels with every message, tagged
// with the roles the model API expects.
func (c *Client) SendChatMessage(ctx context.Context, chatSessionID int64, message string, history []ChatMessage) (BotReply, error) {
	req := chatMessageRequest{
		ChatSessionID: chatSessionID,
		Message:       message,
		History:       make([]historyEntry, 0, len(history)),
	}
	for _, m := range history {
		role := "assistant"
		if m.Sender == SenderUser {
			role = "user"
		}
		req.History = append(req.History, historyEntry{Role: role, Content: m.Text})
	}
	var out chatMessageResponse
	if err := c.post(ctx, "/chat/message", req, &out, "failed to send message"); err != nil {
		return BotReply{}, err
	}
	if !out.Success || out.Message.Content == "" {
		return BotReply{}, &ServiceError{Message: "service returned no reply"}
	}
	return BotReply{Content: out.Message.Content, Reasoning: out.Message.Reasoning}, nil
}

// NextTopic reports whether another topic remains for the evaluation.
func (c *Client) NextTopic(ctx context.Context, evalID int64) (TopicStatus, error) {
	var out nextTopicResponse
	path := "/chat/next-topic?evaluation_id=" + strconv.FormatInt(evalID, 10)
	if err := c.get(ctx, path, &out, "failed to get next topic"); err != nil {
		return TopicStatus{}, err
	}
	return TopicStatus{Completed: out.Completed, NextUseCase: out.NextUseCase}, nil
}

func (c *Client) post(ctx context.Context, path string, in, out any, fallback string) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return &ServiceError{Message: fmt.Sprintf("%s: %v", fallback, err)}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return &ServiceError{Message: fmt.Sprintf("%s: %v", fallback, err)}
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out, fallback)
}

func (c *Client) get(ctx context.Context, path string, out any, fallback string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return &ServiceError{Message: fmt.Sprintf("%s: %v", fallback, err)}
	}
	return c.do(req, out, fallback)
}

func (c *Client) do(req *http.Request, out any, fallback string) error {
	start := time.Now()
	resp, err := c.HTTP.Do(req)
	if err != nil {
		c.Log.Error("request failed", map[string]any{"path": req.URL.Path, "error": err.Error()})
		return &ServiceError{Message: fmt.Sprintf("%s: %v", fallback, err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &ServiceError{Message: fmt.Sprintf("%s: %v", fallback, err)}
	}

	c.Log.Info("request", map[string]any{
		"method":      req.Method,
		"path":        req.URL.Path,
		"status":      resp.StatusCode,
		"duration_ms": time.Since(start).Milliseconds(),
	})

	// Non-2xx is a failure regardless of body shape. The error message
	// comes from the body when it parses, else the generic fallback.
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errBody struct {
			Error string `json:"error"`
		}
		msg := fallback
		if json.Unmarshal(body, &errBody) == nil && errBody.Error != "" {
			msg = errBody.Error
		}
		return &ServiceError{Status: resp.StatusCode, Message: msg}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &ServiceError{Status: resp.StatusCode, Message: fmt.Sprintf("%s: malformed response", fallback)}
	}
	return nil
}
