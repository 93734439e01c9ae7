package study

import "fmt"

// ServiceError is any failure of a remote call: a non-2xx status, a
// transport error, or an unparseable success body. Status is 0 when
// the request never produced an HTTP response.
type ServiceError struct {
	Status  int
	Message string
}

func (e *ServiceError) Error() string {
	if e.Status == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s (status %d)", e.Message, e.Status)
}

// ValidationError reports locally-detected bad survey input. It is
// raised before any network call and is addressed to a single question
// where possible so the UI can surface it inline.
type ValidationError struct {
	QuestionID string
	Message    string
}

func (e *ValidationError) Error() string {
	if e.QuestionID == "" {
		return e.Message
	}
	return fmt.Sprintf("question %s: %s", e.QuestionID, e.Message)
}
