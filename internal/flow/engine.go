package flow

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/CallPipe/internal/models"
)

// DirectiveType identifies what the telephony adapter should do next.
type DirectiveType string

const (
	// DirectivePlayPrompt instructs the adapter to play a question's prompt
	// and collect its answer. Re-prompts reuse the same directive.
	DirectivePlayPrompt DirectiveType = "play_prompt"
	// DirectiveHangUp instructs the adapter to end the call.
	DirectiveHangUp DirectiveType = "hang_up"
)

// Directive is the single instruction the engine returns for each event.
type Directive struct {
	Type     DirectiveType
	Question *models.Question  // set for play_prompt
	Status   models.CallStatus // set for hang_up
}

// Default engine configuration
const (
	// DefaultMaxRetries is the number of re-prompts issued for a required
	// question before the call is finalized as failed.
	DefaultMaxRetries = 2
)

// Engine drives call sessions across a scenario graph in response to external
// telephony events. The engine holds no per-call state: each method takes the
// session it advances, so one engine serves every concurrent call against its
// graph. Callers must deliver a single call's events in arrival order; events
// for different sessions may be processed concurrently.
//
// The engine performs no I/O and owns no timers. Persistence, signaling, and
// SMS dispatch happen in the calling collaborator after a directive is
// returned; gather timeouts reach the engine as an OnAnswer with an empty
// value or an explicit OnNoAnswer.
type Engine struct {
	graph      *ScenarioGraph
	evaluator  *ConditionEvaluator
	maxRetries int
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithMaxRetries overrides the re-prompt limit for required questions.
func WithMaxRetries(n int) EngineOption {
	return func(e *Engine) {
		if n >= 0 {
			e.maxRetries = n
		}
	}
}

// NewEngine creates an execution engine for the given graph.
func NewEngine(graph *ScenarioGraph, opts ...EngineOption) *Engine {
	e := &Engine{
		graph:      graph,
		evaluator:  NewConditionEvaluator(),
		maxRetries: DefaultMaxRetries,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Graph returns the scenario graph the engine executes.
func (e *Engine) Graph() *ScenarioGraph { return e.graph }

// Start handles the call-connected event: it moves the session to
// in_progress and directs the adapter to play the start question. An empty
// scenario finalizes immediately as completed.
func (e *Engine) Start(s *models.CallSession) (Directive, error) {
	if s.Status.IsTerminal() {
		slog.Debug("Engine.Start on terminal session", "sessionID", s.ID, "status", s.Status)
		return Directive{Type: DirectiveHangUp, Status: s.Status}, models.ErrSessionAlreadyTerminal
	}

	first, ok := e.graph.StartQuestion()
	if !ok {
		slog.Error("Engine.Start on empty scenario", "sessionID", s.ID, "scenarioID", e.graph.ID())
		if err := Finalize(s, models.CallStatusCompleted); err != nil {
			return Directive{}, err
		}
		return Directive{Type: DirectiveHangUp, Status: models.CallStatusCompleted}, nil
	}

	s.Status = models.CallStatusInProgress
	s.CurrentQuestionID = first.ID
	s.Retries = 0
	slog.Info("Engine started call", "sessionID", s.ID, "scenarioID", e.graph.ID(), "firstQuestion", first.ID)
	return Directive{Type: DirectivePlayPrompt, Question: first}, nil
}

// OnAnswer handles a digit-received or recording-received event for the
// given question. Out-of-order answers are rejected without touching the
// session. The question's transitions are evaluated in authored order and
// the first match wins; no match re-prompts required questions up to the
// retry limit and advances optional ones by authored order.
func (e *Engine) OnAnswer(s *models.CallSession, questionID, rawValue string) (Directive, error) {
	if s.Status.IsTerminal() {
		slog.Debug("Engine.OnAnswer on terminal session", "sessionID", s.ID, "questionID", questionID)
		return Directive{Type: DirectiveHangUp, Status: s.Status}, models.ErrSessionAlreadyTerminal
	}
	if questionID != s.CurrentQuestionID {
		slog.Error("Engine.OnAnswer out of order", "sessionID", s.ID, "questionID", questionID, "currentQuestionID", s.CurrentQuestionID)
		return Directive{}, fmt.Errorf("%w: got %q, current is %q", models.ErrOutOfOrderAnswer, questionID, s.CurrentQuestionID)
	}

	question, ok := e.graph.Question(questionID)
	if !ok {
		// Unreachable when the session was started from this graph.
		return Directive{}, fmt.Errorf("question %q not in scenario %s", questionID, e.graph.ID())
	}

	answer, err := BuildAnswer(question, rawValue)
	if err != nil {
		slog.Error("Engine.OnAnswer invalid answer shape", "sessionID", s.ID, "questionID", questionID, "error", err)
		return Directive{}, err
	}

	// First matching transition wins; evaluation order is the authored order.
	for _, t := range e.graph.OutgoingTransitions(questionID) {
		if !e.evaluator.Evaluate(t.Condition, answer) {
			continue
		}
		return e.takeTransition(s, answer, t)
	}

	return e.noTransitionMatched(s, question, answer)
}

// takeTransition records the answer and either advances to the transition's
// target or ends the call when the target is empty.
func (e *Engine) takeTransition(s *models.CallSession, answer models.Answer, t models.Transition) (Directive, error) {
	if t.ToQuestionID == "" {
		if err := RecordAnswer(s, answer, ""); err != nil {
			return Directive{}, err
		}
		if err := Finalize(s, models.CallStatusCompleted); err != nil {
			return Directive{}, err
		}
		slog.Info("Engine reached end of scenario", "sessionID", s.ID, "questionID", answer.QuestionID)
		return Directive{Type: DirectiveHangUp, Status: models.CallStatusCompleted}, nil
	}

	next, ok := e.graph.Question(t.ToQuestionID)
	if !ok {
		// Dangling target: the validator reports this as a defect, but a call
		// running against an unvalidated graph degrades to termination
		// instead of crashing.
		slog.Error("Engine transition targets unknown question", "sessionID", s.ID, "target", t.ToQuestionID)
		if err := RecordAnswer(s, answer, ""); err != nil {
			return Directive{}, err
		}
		if err := Finalize(s, models.CallStatusFailed); err != nil {
			return Directive{}, err
		}
		return Directive{Type: DirectiveHangUp, Status: models.CallStatusFailed}, nil
	}

	if err := RecordAnswer(s, answer, next.ID); err != nil {
		return Directive{}, err
	}
	slog.Debug("Engine advanced", "sessionID", s.ID, "from", answer.QuestionID, "to", next.ID)
	return Directive{Type: DirectivePlayPrompt, Question: next}, nil
}

// noTransitionMatched applies the no-match policy: required questions
// re-prompt up to the retry limit and then fail the call; optional questions
// record the answer and fall back to the next question in authored order,
// completing the call when none remains.
func (e *Engine) noTransitionMatched(s *models.CallSession, question *models.Question, answer models.Answer) (Directive, error) {
	if question.Required {
		if s.Retries < e.maxRetries {
			s.Retries++
			slog.Debug("Engine re-prompting required question", "sessionID", s.ID, "questionID", question.ID, "retry", s.Retries)
			return Directive{Type: DirectivePlayPrompt, Question: question}, nil
		}
		slog.Info("Engine retry limit exhausted", "sessionID", s.ID, "questionID", question.ID, "maxRetries", e.maxRetries)
		if err := Finalize(s, models.CallStatusFailed); err != nil {
			return Directive{}, err
		}
		return Directive{Type: DirectiveHangUp, Status: models.CallStatusFailed}, nil
	}

	next, ok := e.graph.NextByOrder(question.ID)
	if !ok {
		if err := RecordAnswer(s, answer, ""); err != nil {
			return Directive{}, err
		}
		if err := Finalize(s, models.CallStatusCompleted); err != nil {
			return Directive{}, err
		}
		slog.Info("Engine completed via fallback at end of question list", "sessionID", s.ID, "questionID", question.ID)
		return Directive{Type: DirectiveHangUp, Status: models.CallStatusCompleted}, nil
	}

	if err := RecordAnswer(s, answer, next.ID); err != nil {
		return Directive{}, err
	}
	slog.Debug("Engine fell back to next question by authored order", "sessionID", s.ID, "from", question.ID, "to", next.ID)
	return Directive{Type: DirectivePlayPrompt, Question: next}, nil
}

// OnNoAnswer handles the no-answer event: the session finalizes as
// no_answer regardless of its current state. Safe to deliver in any state;
// already terminal sessions are left untouched.
func (e *Engine) OnNoAnswer(s *models.CallSession) Directive {
	if s.Status.IsTerminal() {
		slog.Debug("Engine.OnNoAnswer on terminal session, no-op", "sessionID", s.ID, "status", s.Status)
		return Directive{Type: DirectiveHangUp, Status: s.Status}
	}
	// Finalize cannot fail here: the status was just checked as non-terminal.
	_ = Finalize(s, models.CallStatusNoAnswer)
	slog.Info("Engine finalized call as no_answer", "sessionID", s.ID)
	return Directive{Type: DirectiveHangUp, Status: models.CallStatusNoAnswer}
}

// OnProviderFailure handles a provider-reported failure: the session
// finalizes as failed regardless of its current state, including NotStarted.
// Idempotent once terminal.
func (e *Engine) OnProviderFailure(s *models.CallSession, reason string) Directive {
	if s.Status.IsTerminal() {
		slog.Debug("Engine.OnProviderFailure on terminal session, no-op", "sessionID", s.ID, "status", s.Status, "reason", reason)
		return Directive{Type: DirectiveHangUp, Status: s.Status}
	}
	_ = Finalize(s, models.CallStatusFailed)
	slog.Info("Engine finalized call as failed", "sessionID", s.ID, "reason", reason)
	return Directive{Type: DirectiveHangUp, Status: models.CallStatusFailed}
}

// BuildAnswer validates a raw answer against the owning question's type and
// constructs the Answer record. DTMF answers must match one of the question's
// declared option keys or values; voice answers must carry a recording URL.
// A mismatch is rejected with models.ErrInvalidAnswerShape before it can
// reach the state machine, except for empty values on optional questions,
// which represent a gather timeout and evaluate as a non-match.
func BuildAnswer(question *models.Question, rawValue string) (models.Answer, error) {
	answer := models.Answer{
		QuestionID:   question.ID,
		QuestionText: question.Text,
		Timestamp:    time.Now(),
	}

	switch question.Type {
	case models.QuestionTypeDTMF:
		answer.Type = models.AnswerTypeDTMF
		answer.Value = rawValue
		if rawValue == "" {
			// Timed-out gather: allowed through so the no-match policy applies.
			return answer, nil
		}
		for _, opt := range question.Options {
			if opt.Key == rawValue || opt.Value == rawValue {
				answer.Label = opt.Label
				return answer, nil
			}
		}
		return models.Answer{}, fmt.Errorf("%w: %q is not an option of question %q", models.ErrInvalidAnswerShape, rawValue, question.ID)
	case models.QuestionTypeVoiceRecording:
		answer.Type = models.AnswerTypeVoice
		if rawValue == "" {
			// Timed-out or skipped recording.
			return answer, nil
		}
		if !strings.HasPrefix(rawValue, "http://") && !strings.HasPrefix(rawValue, "https://") {
			return models.Answer{}, fmt.Errorf("%w: %q is not a recording reference for question %q", models.ErrInvalidAnswerShape, rawValue, question.ID)
		}
		answer.Value = rawValue
		answer.AudioURL = rawValue
		return answer, nil
	default:
		return models.Answer{}, fmt.Errorf("%w: question %q has unsupported type %s", models.ErrInvalidAnswerShape, question.ID, question.Type)
	}
}
