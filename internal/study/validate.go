package study

import (
	"fmt"
	"strings"
)

// ValidateAnswer checks an answer against its question's kind and
// constraints. Both numeric bounds are enforced.
func ValidateAnswer(q Question, a Answer) error {
	switch q.Kind {
	case KindLikert:
		if a.Kind != KindLikert {
			return &ValidationError{QuestionID: q.ID, Message: "expected a scale rating"}
		}
		if a.Scale < 1 || a.Scale > 5 {
			return &ValidationError{QuestionID: q.ID, Message: "rating must be between 1 and 5"}
		}
	case KindText:
		if a.Kind != KindText {
			return &ValidationError{QuestionID: q.ID, Message: "expected text"}
		}
		if q.Required && strings.TrimSpace(a.Text) == "" {
			return &ValidationError{QuestionID: q.ID, Message: "an answer is required"}
		}
	case KindNumeric:
		if a.Kind != KindNumeric {
			return &ValidationError{QuestionID: q.ID, Message: "expected a number"}
		}
		if q.MinValue != nil && a.Number < *q.MinValue {
			return &ValidationError{QuestionID: q.ID, Message: fmt.Sprintf("value must be at least %g", *q.MinValue)}
		}
		if q.MaxValue != nil && a.Number > *q.MaxValue {
			return &ValidationError{QuestionID: q.ID, Message: fmt.Sprintf("value must be at most %g", *q.MaxValue)}
		}
	case KindDropdown:
		if a.Kind != KindDropdown {
			return &ValidationError{QuestionID: q.ID, Message: "expected a selection"}
		}
		for _, opt := range q.Options {
			if a.Text == opt {
				return nil
			}
		}
		return &ValidationError{QuestionID: q.ID, Message: "not one of the listed options"}
	}
	return nil
}

// incomplete returns a ValidationError naming the first required
// question without a response, or nil when the phase is complete.
// Optional questions never block submission.
func incomplete(questions []Question, responses map[string]Response) *ValidationError {
	for _, q := range questions {
		if !q.Required {
			continue
		}
		if _, ok := responses[q.ID]; !ok {
			return &ValidationError{QuestionID: q.ID, Message: "please answer this question before continuing"}
		}
	}
	return nil
}

// orderedResponses flattens the response map in question display order
// so submissions are deterministic.
func orderedResponses(questions []Question, responses map[string]Response) []Response {
	out := make([]Response, 0, len(responses))
	for _, q := range questions {
		if r, ok := responses[q.ID]; ok {
			out = append(out, r)
		}
	}
	return out
}
