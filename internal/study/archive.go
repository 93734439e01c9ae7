package study

import (
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteArchive is a write-only local record of what the client sent
// to the service: completed chat transcripts and submitted survey
// responses. It is an audit trail for the researcher, not protocol
// state; the store never reads it back.
type SQLiteArchive struct {
	dbPath string

	mu   sync.Mutex
	db   *sql.DB
	once sync.Once
	err  error
}

func NewSQLiteArchive(path string) (*SQLiteArchive, error) {
	path = filepath.Clean(strings.TrimSpace(path))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	a := &SQLiteArchive{dbPath: path}
	if err := a.init(); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *SQLiteArchive) init() error {
	a.once.Do(func() {
		db, err := sql.Open("sqlite", a.dbPath)
		if err != nil {
			a.err = err
			return
		}
		// Keep sqlite responsive under contention.
		_, _ = db.Exec("PRAGMA busy_timeout = 5000;")
		_, _ = db.Exec("PRAGMA journal_mode = WAL;")

		schema := []string{
			`CREATE TABLE IF NOT EXISTS chat_sessions (
				id INTEGER NOT NULL,
				evaluation_id INTEGER NOT NULL,
				use_case TEXT NOT NULL,
				prompt_type TEXT,
				user_goal TEXT,
				completed INTEGER NOT NULL,
				archived_at_ns INTEGER NOT NULL,
				PRIMARY KEY (evaluation_id, id)
			);`,
			`CREATE TABLE IF NOT EXISTS chat_messages (
				id TEXT NOT NULL,
				chat_session_id INTEGER NOT NULL,
				evaluation_id INTEGER NOT NULL,
				sender TEXT NOT NULL,
				content TEXT NOT NULL,
				reasoning TEXT,
				created_at_ns INTEGER NOT NULL,
				PRIMARY KEY (chat_session_id, id)
			);`,
			`CREATE INDEX IF NOT EXISTS idx_messages_session_created ON chat_messages(chat_session_id, created_at_ns);`,
			`CREATE TABLE IF NOT EXISTS survey_responses (
				evaluation_id INTEGER NOT NULL,
				chat_session_id INTEGER NOT NULL,
				survey_type TEXT NOT NULL,
				question_id TEXT NOT NULL,
				answer TEXT NOT NULL,
				archived_at_ns INTEGER NOT NULL,
				PRIMARY KEY (evaluation_id, chat_session_id, survey_type, question_id)
			);`,
		}
		for _, stmt := range schema {
			if _, err := db.Exec(stmt); err != nil {
				_ = db.Close()
				a.err = err
				return
			}
		}
		a.db = db
	})
	return a.err
}

func (a *SQLiteArchive) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.db == nil {
		return nil
	}
	return a.db.Close()
}

// ArchiveSession upserts one chat session and its full transcript.
func (a *SQLiteArchive) ArchiveSession(evalID int64, sess ChatSession) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := time.Now().UnixNano()
	completed := 0
	if sess.Completed {
		completed = 1
	}
	_, err := a.db.Exec(
		`INSERT OR REPLACE INTO chat_sessions (id, evaluation_id, use_case, prompt_type, user_goal, completed, archived_at_ns)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, evalID, sess.UseCase, sess.PromptType, sess.UserGoal, completed, now,
	)
	if err != nil {
		return err
	}
	for _, m := range sess.Messages {
		_, err := a.db.Exec(
			`INSERT OR REPLACE INTO chat_messages (id, chat_session_id, evaluation_id, sender, content, reasoning, created_at_ns)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			m.ID, sess.ID, evalID, string(m.Sender), m.Text, m.Reasoning, m.Timestamp.UnixNano(),
		)
		if err != nil {
			return err
		}
	}
	return nil
}

// ArchiveResponses records one submitted survey batch. Answers are
// stored as their JSON wire values.
func (a *SQLiteArchive) ArchiveResponses(evalID, chatSessionID int64, phase SurveyPhase, responses []Response) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := time.Now().UnixNano()
	for _, r := range responses {
		val, err := json.Marshal(r.Answer.Value())
		if err != nil {
			return err
		}
		_, err = a.db.Exec(
			`INSERT OR REPLACE INTO survey_responses (evaluation_id, chat_session_id, survey_type, question_id, answer, archived_at_ns)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			evalID, chatSessionID, string(phase), r.QuestionID, string(val), now,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

// ArchivedSession is one exported chat session with its transcript.
type ArchivedSession struct {
	ID           int64              `json:"id"`
	EvaluationID int64              `json:"evaluation_id"`
	UseCase      string             `json:"use_case"`
	PromptType   string             `json:"prompt_type,omitempty"`
	UserGoal     string             `json:"user_goal,omitempty"`
	Completed    bool               `json:"completed"`
	Messages     []ArchivedMessage  `json:"messages"`
	Responses    []ArchivedResponse `json:"responses,omitempty"`
}

type ArchivedMessage struct {
	ID        string    `json:"id"`
	Sender    string    `json:"sender"`
	Content   string    `json:"content"`
	Reasoning string    `json:"reasoning,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type ArchivedResponse struct {
	SurveyType string          `json:"survey_type"`
	QuestionID string          `json:"question_id"`
	Answer     json.RawMessage `json:"answer"`
}

// ArchiveDump is the full export: pre-survey responses are recorded
// against chat session 0 and surface at the top level.
type ArchiveDump struct {
	Sessions     []ArchivedSession  `json:"sessions"`
	PreResponses []ArchivedResponse `json:"pre_responses,omitempty"`
}

// Export reads everything back for the `export` subcommand, filtered
// to one evaluation when evalID is non-zero. This is the only read
// path and it belongs to the CLI tool, not the store.
func (a *SQLiteArchive) Export(evalID int64) (ArchiveDump, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var dump ArchiveDump

	query := `SELECT id, evaluation_id, use_case, prompt_type, user_goal, completed
		 FROM chat_sessions ORDER BY evaluation_id, archived_at_ns, id`
	var args []any
	if evalID != 0 {
		query = `SELECT id, evaluation_id, use_case, prompt_type, user_goal, completed
		 FROM chat_sessions WHERE evaluation_id = ? ORDER BY archived_at_ns, id`
		args = append(args, evalID)
	}
	rows, err := a.db.Query(query, args...)
	if err != nil {
		return dump, err
	}
	defer rows.Close()

	for rows.Next() {
		var s ArchivedSession
		var completed int
		if err := rows.Scan(&s.ID, &s.EvaluationID, &s.UseCase, &s.PromptType, &s.UserGoal, &completed); err != nil {
			return dump, err
		}
		s.Completed = completed != 0
		dump.Sessions = append(dump.Sessions, s)
	}
	if err := rows.Err(); err != nil {
		return dump, err
	}

	for i := range dump.Sessions {
		msgs, err := a.exportMessages(dump.Sessions[i].ID)
		if err != nil {
			return dump, err
		}
		dump.Sessions[i].Messages = msgs
		resps, err := a.exportResponses(dump.Sessions[i].EvaluationID, dump.Sessions[i].ID)
		if err != nil {
			return dump, err
		}
		dump.Sessions[i].Responses = resps
	}

	pre, err := a.exportPreResponses(evalID)
	if err != nil {
		return dump, err
	}
	dump.PreResponses = pre
	return dump, nil
}

// exportPreResponses returns the eval-level rows (pre survey, recorded
// against session 0), across all evaluations when evalID is zero.
func (a *SQLiteArchive) exportPreResponses(evalID int64) ([]ArchivedResponse, error) {
	if evalID != 0 {
		return a.exportResponses(evalID, 0)
	}
	return a.exportResponses(-1, 0)
}

func (a *SQLiteArchive) exportMessages(chatSessionID int64) ([]ArchivedMessage, error) {
	rows, err := a.db.Query(
		`SELECT id, sender, content, reasoning, created_at_ns
		 FROM chat_messages WHERE chat_session_id = ? ORDER BY created_at_ns`, chatSessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ArchivedMessage
	for rows.Next() {
		var m ArchivedMessage
		var ns int64
		if err := rows.Scan(&m.ID, &m.Sender, &m.Content, &m.Reasoning, &ns); err != nil {
			return nil, err
		}
		m.CreatedAt = time.Unix(0, ns)
		out = append(out, m)
	}
	return out, rows.Err()
}

// exportResponses returns one session's responses; a negative evalID
// selects the eval-level rows (pre survey, recorded against session 0)
// across all evaluations.
func (a *SQLiteArchive) exportResponses(evalID, chatSessionID int64) ([]ArchivedResponse, error) {
	query := `SELECT survey_type, question_id, answer
		 FROM survey_responses WHERE evaluation_id = ? AND chat_session_id = ? ORDER BY survey_type, question_id`
	args := []any{evalID, chatSessionID}
	if evalID < 0 {
		query = `SELECT survey_type, question_id, answer
		 FROM survey_responses WHERE chat_session_id = 0 ORDER BY evaluation_id, survey_type, question_id`
		args = nil
	}
	rows, err := a.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ArchivedResponse
	for rows.Next() {
		var r ArchivedResponse
		var answer string
		if err := rows.Scan(&r.SurveyType, &r.QuestionID, &answer); err != nil {
			return nil, err
		}
		r.Answer = json.RawMessage(answer)
		out = append(out, r)
	}
	return out, rows.Err()
}
