package flow

import (
	"errors"
	"testing"

	"github.com/BTreeMap/CallPipe/internal/models"
)

func startedSession(t *testing.T, e *Engine) *models.CallSession {
	t.Helper()
	s := NewCallSession("call-1", e.Graph().ID(), "+819012345678")
	d, err := e.Start(s)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if d.Type != DirectivePlayPrompt {
		t.Fatalf("Start directive = %+v, want play_prompt", d)
	}
	return s
}

func newTestEngine(t *testing.T, s models.Scenario, opts ...EngineOption) *Engine {
	t.Helper()
	g, err := NewScenarioGraph(s)
	if err != nil {
		t.Fatalf("graph compilation failed: %v", err)
	}
	return NewEngine(g, opts...)
}

func TestEngineStart(t *testing.T) {
	e := newTestEngine(t, sampleScenario())
	s := NewCallSession("call-1", "scn-1", "+819012345678")

	d, err := e.Start(s)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Type != DirectivePlayPrompt || d.Question.ID != "q1" {
		t.Errorf("Start directive = %+v, want play_prompt q1", d)
	}
	if s.Status != models.CallStatusInProgress || s.CurrentQuestionID != "q1" {
		t.Errorf("session after Start: status=%s current=%q", s.Status, s.CurrentQuestionID)
	}
}

func TestEngineEndToEndCompletedOnFirstAnswer(t *testing.T) {
	// q1 "1" matches the end transition: one answer, hang-up completed.
	e := newTestEngine(t, sampleScenario())
	s := startedSession(t, e)

	d, err := e.OnAnswer(s, "q1", "1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Type != DirectiveHangUp || d.Status != models.CallStatusCompleted {
		t.Errorf("directive = %+v, want hang-up completed", d)
	}
	if s.Status != models.CallStatusCompleted || len(s.Answers) != 1 {
		t.Errorf("session: status=%s answers=%d, want completed with 1 answer", s.Status, len(s.Answers))
	}
	if s.Answers[0].Value != "1" || s.Answers[0].Label != "yes" {
		t.Errorf("answer = %+v, want value 1 label yes", s.Answers[0])
	}
}

func TestEngineEndToEndBranchAndFallback(t *testing.T) {
	// q1 "2" branches to q2; q2 is optional with no outgoing transitions, so
	// its answer falls back past the end of the question list to completed.
	e := newTestEngine(t, sampleScenario())
	s := startedSession(t, e)

	d, err := e.OnAnswer(s, "q1", "2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Type != DirectivePlayPrompt || d.Question.ID != "q2" {
		t.Errorf("directive = %+v, want play_prompt q2", d)
	}
	if s.CurrentQuestionID != "q2" || s.Status != models.CallStatusInProgress {
		t.Errorf("session: current=%q status=%s", s.CurrentQuestionID, s.Status)
	}

	d, err = e.OnAnswer(s, "q2", "https://api.twilio.com/recordings/RE123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Type != DirectiveHangUp || d.Status != models.CallStatusCompleted {
		t.Errorf("directive = %+v, want hang-up completed", d)
	}
	if len(s.Answers) != 2 {
		t.Fatalf("expected 2 answers, got %d", len(s.Answers))
	}
	if s.Answers[1].AudioURL == "" {
		t.Errorf("voice answer missing audio URL: %+v", s.Answers[1])
	}
}

func TestEngineFirstMatchingTransitionWins(t *testing.T) {
	// Two transitions from q1 both match "1"; the authored-first target wins.
	s := sampleScenario()
	s.Transitions = []models.Transition{
		{FromQuestionID: "q1", Condition: "answer == '1'", ToQuestionID: "q2"},
		{FromQuestionID: "q1", Condition: "answer != '9'"},
	}
	e := newTestEngine(t, s)
	sess := startedSession(t, e)

	d, err := e.OnAnswer(sess, "q1", "1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Type != DirectivePlayPrompt || d.Question.ID != "q2" {
		t.Errorf("directive = %+v, want play_prompt q2 from the first matching transition", d)
	}
}

func TestEngineOutOfOrderAnswer(t *testing.T) {
	e := newTestEngine(t, sampleScenario())
	s := startedSession(t, e)

	_, err := e.OnAnswer(s, "q2", "https://api.twilio.com/recordings/RE123")
	if !errors.Is(err, models.ErrOutOfOrderAnswer) {
		t.Fatalf("expected ErrOutOfOrderAnswer, got %v", err)
	}
	if s.CurrentQuestionID != "q1" || len(s.Answers) != 0 || s.Status != models.CallStatusInProgress {
		t.Errorf("session must be unaffected by an out-of-order answer: %+v", s)
	}
}

func TestEngineInvalidAnswerShape(t *testing.T) {
	e := newTestEngine(t, sampleScenario())
	s := startedSession(t, e)

	_, err := e.OnAnswer(s, "q1", "7") // not a declared option key
	if !errors.Is(err, models.ErrInvalidAnswerShape) {
		t.Fatalf("expected ErrInvalidAnswerShape, got %v", err)
	}
	if len(s.Answers) != 0 || s.Status != models.CallStatusInProgress {
		t.Errorf("session must be unaffected by an invalid answer: %+v", s)
	}

	// Voice answer without a recording reference.
	s2 := startedSession(t, e)
	if _, err := e.OnAnswer(s2, "q1", "2"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := e.OnAnswer(s2, "q2", "not-a-url"); !errors.Is(err, models.ErrInvalidAnswerShape) {
		t.Errorf("expected ErrInvalidAnswerShape for bare voice value, got %v", err)
	}
}

func TestEngineRequiredQuestionRetriesThenFails(t *testing.T) {
	e := newTestEngine(t, sampleScenario(), WithMaxRetries(2))
	s := startedSession(t, e)

	// Timed-out gathers on a required question: two re-prompts, then failed.
	for i := 1; i <= 2; i++ {
		d, err := e.OnAnswer(s, "q1", "")
		if err != nil {
			t.Fatalf("re-prompt %d: unexpected error: %v", i, err)
		}
		if d.Type != DirectivePlayPrompt || d.Question.ID != "q1" {
			t.Fatalf("re-prompt %d directive = %+v, want play_prompt q1", i, d)
		}
		if s.Retries != i {
			t.Errorf("retries = %d, want %d", s.Retries, i)
		}
	}

	d, err := e.OnAnswer(s, "q1", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Type != DirectiveHangUp || d.Status != models.CallStatusFailed {
		t.Errorf("directive after retry exhaustion = %+v, want hang-up failed", d)
	}
	if s.Status != models.CallStatusFailed {
		t.Errorf("session status = %s, want failed", s.Status)
	}
}

func TestEngineOptionalQuestionFallsBackByAuthoredOrder(t *testing.T) {
	s := sampleScenario()
	s.Questions[0].Required = false
	s.Questions = append(s.Questions, models.Question{
		ID: "q3", Text: "Anything else?", Type: models.QuestionTypeVoiceRecording,
	})
	// No transition matches an empty answer on optional q1.
	e := newTestEngine(t, s)
	sess := startedSession(t, e)

	d, err := e.OnAnswer(sess, "q1", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Type != DirectivePlayPrompt || d.Question.ID != "q2" {
		t.Errorf("directive = %+v, want fallback to q2", d)
	}
	if len(sess.Answers) != 1 {
		t.Errorf("fallback should still record the answer, got %d", len(sess.Answers))
	}
}

func TestEngineOnNoAnswerIdempotent(t *testing.T) {
	e := newTestEngine(t, sampleScenario())
	s := NewCallSession("call-1", "scn-1", "+819012345678")

	d := e.OnNoAnswer(s)
	if d.Type != DirectiveHangUp || d.Status != models.CallStatusNoAnswer {
		t.Errorf("directive = %+v, want hang-up no_answer", d)
	}
	completedAt := s.CompletedAt

	// Second delivery must be a no-op, not an error.
	d = e.OnNoAnswer(s)
	if d.Status != models.CallStatusNoAnswer {
		t.Errorf("second OnNoAnswer directive = %+v", d)
	}
	if s.CompletedAt != completedAt || s.Status != models.CallStatusNoAnswer {
		t.Errorf("second OnNoAnswer mutated session: status=%s completedAt=%v", s.Status, s.CompletedAt)
	}
}

func TestEngineOnProviderFailureAnyState(t *testing.T) {
	e := newTestEngine(t, sampleScenario())

	// NotStarted.
	s := NewCallSession("call-1", "scn-1", "+819012345678")
	if d := e.OnProviderFailure(s, "carrier error"); d.Status != models.CallStatusFailed {
		t.Errorf("NotStarted failure directive = %+v", d)
	}

	// Mid-call.
	s2 := startedSession(t, e)
	if d := e.OnProviderFailure(s2, "dropped"); d.Status != models.CallStatusFailed {
		t.Errorf("mid-call failure directive = %+v", d)
	}

	// Already terminal: status is preserved, not overwritten.
	s3 := NewCallSession("call-3", "scn-1", "+819012345678")
	e.OnNoAnswer(s3)
	if d := e.OnProviderFailure(s3, "late event"); d.Status != models.CallStatusNoAnswer {
		t.Errorf("terminal failure directive = %+v, want preserved no_answer", d)
	}
	if s3.Status != models.CallStatusNoAnswer {
		t.Errorf("terminal status overwritten: %s", s3.Status)
	}
}

func TestEngineStartEmptyScenario(t *testing.T) {
	e := newTestEngine(t, models.Scenario{ID: "scn-empty", Name: "empty"})
	s := NewCallSession("call-1", "scn-empty", "+819012345678")

	d, err := e.Start(s)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Type != DirectiveHangUp || d.Status != models.CallStatusCompleted {
		t.Errorf("empty scenario Start directive = %+v, want hang-up completed", d)
	}
}
