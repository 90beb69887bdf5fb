package models

import (
	"errors"
	"strings"
	"testing"
)

func TestQuestionValidate(t *testing.T) {
	cases := []struct {
		name    string
		q       Question
		wantErr error
	}{
		{"valid dtmf", Question{ID: "q1", Text: "Interested?", Type: QuestionTypeDTMF, Options: []QuestionOption{{Key: "1", Label: "yes", Value: "yes"}}}, nil},
		{"valid voice", Question{ID: "q2", Text: "Tell us more", Type: QuestionTypeVoiceRecording, MaxLength: 60}, nil},
		{"missing id", Question{Text: "Interested?", Type: QuestionTypeDTMF}, ErrEmptyQuestionID},
		{"missing text", Question{ID: "q1", Type: QuestionTypeDTMF}, ErrEmptyQuestionText},
		{"bad type", Question{ID: "q1", Text: "Interested?", Type: "video"}, ErrInvalidQuestionType},
		{"negative max length", Question{ID: "q1", Text: "Interested?", Type: QuestionTypeVoiceRecording, MaxLength: -1}, ErrInvalidMaxLength},
		{"text too long", Question{ID: "q1", Text: strings.Repeat("a", MaxQuestionTextLength+1), Type: QuestionTypeVoiceRecording}, ErrQuestionTextTooLong},
		{"text at limit", Question{ID: "q1", Text: strings.Repeat("a", MaxQuestionTextLength), Type: QuestionTypeVoiceRecording}, nil},
		{"option label too long", Question{ID: "q1", Text: "Interested?", Type: QuestionTypeDTMF, Options: []QuestionOption{{Key: "1", Label: strings.Repeat("b", MaxOptionLabelLength+1), Value: "yes"}}}, ErrOptionLabelTooLong},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.q.Validate()
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("Validate() = %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestScenarioValidate(t *testing.T) {
	s := Scenario{
		Name: "sales",
		Questions: []Question{
			{ID: "q1", Text: "Interested?", Type: QuestionTypeDTMF, Options: []QuestionOption{{Key: "1", Label: "yes", Value: "yes"}}},
		},
		Transitions: []Transition{{FromQuestionID: "q1", Condition: "answer == '1'"}},
	}
	if err := s.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	s.Name = ""
	if err := s.Validate(); !errors.Is(err, ErrEmptyScenarioName) {
		t.Errorf("expected ErrEmptyScenarioName, got %v", err)
	}

	s.Name = "sales"
	s.Transitions[0].FromQuestionID = ""
	if err := s.Validate(); !errors.Is(err, ErrEmptyTransitionSource) {
		t.Errorf("expected ErrEmptyTransitionSource, got %v", err)
	}
}

func TestQueuedResponse(t *testing.T) {
	resp := Queued("Phone numbers enqueued", map[string]int{"queued": 2})
	if resp.Status != string(APIStatusQueued) {
		t.Errorf("status = %q, want %q", resp.Status, APIStatusQueued)
	}
	if resp.Message != "Phone numbers enqueued" || resp.Result == nil {
		t.Errorf("unexpected envelope: %+v", resp)
	}
}

func TestCallStatusIsTerminal(t *testing.T) {
	terminal := []CallStatus{CallStatusCompleted, CallStatusFailed, CallStatusNoAnswer}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []CallStatus{CallStatusInitiated, CallStatusInProgress} {
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}
