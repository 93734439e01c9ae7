package tui

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"study-client/internal/study"
)

type uiErrorEntry struct {
	Timestamp    string `json:"timestamp"`
	Phase        string `json:"phase,omitempty"`
	EvaluationID int64  `json:"evaluation_id,omitempty"`
	Message      string `json:"message"`
}

func uiErrorLogPath() string {
	if p := strings.TrimSpace(os.Getenv("STUDY_ERROR_LOG")); p != "" {
		return p
	}
	cfgPath := study.DefaultConfigPath()
	if strings.TrimSpace(cfgPath) == "" {
		return filepath.Join(os.TempDir(), "study-client", "error.log")
	}
	return filepath.Join(filepath.Dir(cfgPath), "error.log")
}

// appendUIErrorLog records a surfaced error out of band of the main
// log, so field issues can be reported after a run. Best effort only.
func appendUIErrorLog(phase string, evaluationID int64, message string) {
	message = strings.TrimSpace(message)
	if message == "" {
		return
	}
	path := uiErrorLogPath()
	if path == "" {
		return
	}

	_ = os.MkdirAll(filepath.Dir(path), 0o755)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer f.Close()

	entry := uiErrorEntry{
		Timestamp:    time.Now().UTC().Format(time.RFC3339Nano),
		Phase:        phase,
		EvaluationID: evaluationID,
		Message:      message,
	}
	b, _ := json.Marshal(entry)
	b = append(b, '\n')
	_, _ = f.Write(b)
}
