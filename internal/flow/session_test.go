package flow

import (
	"errors"
	"testing"
	"time"

	"github.com/BTreeMap/CallPipe/internal/models"
)

func TestNewCallSession(t *testing.T) {
	s := NewCallSession("call-1", "scn-1", "+819012345678")
	if s.Status != models.CallStatusInitiated {
		t.Errorf("new session status = %s, want initiated", s.Status)
	}
	if s.CurrentQuestionID != "" {
		t.Errorf("new session should have no current question, got %q", s.CurrentQuestionID)
	}
	if s.StartedAt.IsZero() {
		t.Error("new session should have a start timestamp")
	}
}

func TestRecordAnswer(t *testing.T) {
	s := NewCallSession("call-1", "scn-1", "+819012345678")
	s.Status = models.CallStatusInProgress
	s.CurrentQuestionID = "q1"
	s.Retries = 1

	answer := models.Answer{QuestionID: "q1", Type: models.AnswerTypeDTMF, Value: "1", Timestamp: time.Now()}
	if err := RecordAnswer(s, answer, "q2"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(s.Answers) != 1 || s.CurrentQuestionID != "q2" {
		t.Errorf("session after RecordAnswer: answers=%d current=%q", len(s.Answers), s.CurrentQuestionID)
	}
	if s.Retries != 0 {
		t.Errorf("retries should reset on advance, got %d", s.Retries)
	}
}

func TestFinalize(t *testing.T) {
	s := NewCallSession("call-1", "scn-1", "+819012345678")
	s.Status = models.CallStatusInProgress
	s.CurrentQuestionID = "q1"

	if err := Finalize(s, models.CallStatusCompleted); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Status != models.CallStatusCompleted || s.CompletedAt == nil {
		t.Errorf("session after Finalize: status=%s completedAt=%v", s.Status, s.CompletedAt)
	}
	if s.CurrentQuestionID != "" {
		t.Errorf("terminal session should have no current question, got %q", s.CurrentQuestionID)
	}
}

func TestTerminalSessionRejectsMutation(t *testing.T) {
	s := NewCallSession("call-1", "scn-1", "+819012345678")
	if err := Finalize(s, models.CallStatusFailed); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	answer := models.Answer{QuestionID: "q1", Type: models.AnswerTypeDTMF, Value: "1"}
	if err := RecordAnswer(s, answer, "q2"); !errors.Is(err, models.ErrSessionAlreadyTerminal) {
		t.Errorf("RecordAnswer on terminal session = %v, want ErrSessionAlreadyTerminal", err)
	}
	if err := Finalize(s, models.CallStatusCompleted); !errors.Is(err, models.ErrSessionAlreadyTerminal) {
		t.Errorf("Finalize on terminal session = %v, want ErrSessionAlreadyTerminal", err)
	}
	if s.Status != models.CallStatusFailed || len(s.Answers) != 0 {
		t.Errorf("terminal session mutated: status=%s answers=%d", s.Status, len(s.Answers))
	}
}

func TestFinalizeRejectsNonTerminalStatus(t *testing.T) {
	s := NewCallSession("call-1", "scn-1", "+819012345678")
	if err := Finalize(s, models.CallStatusInProgress); err == nil {
		t.Error("Finalize with non-terminal status should fail")
	}
	if s.Status != models.CallStatusInitiated {
		t.Errorf("session status should be untouched, got %s", s.Status)
	}
}
