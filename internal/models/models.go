// Package models defines the core data structures for CallPipe.
//
// It includes the IVR scenario model (questions, transitions), call sessions
// with their collected answers, and the shared error taxonomy.
package models

import (
	"errors"
	"time"
)

// QuestionType defines how a question collects its answer.
type QuestionType string

const (
	// QuestionTypeDTMF collects a touch-tone keypress answer.
	QuestionTypeDTMF QuestionType = "dtmf"
	// QuestionTypeVoiceRecording collects a recorded voice answer.
	QuestionTypeVoiceRecording QuestionType = "voice_recording"
)

// AnswerType identifies the shape of a collected answer.
type AnswerType string

const (
	// AnswerTypeDTMF is a touch-tone digit answer.
	AnswerTypeDTMF AnswerType = "dtmf"
	// AnswerTypeVoice is a recorded voice answer.
	AnswerTypeVoice AnswerType = "voice"
)

// Validation constants for input validation
const (
	// MaxQuestionTextLength defines the maximum allowed length for question text
	MaxQuestionTextLength = 2048
	// MaxOptionLabelLength defines the maximum allowed length for option labels
	MaxOptionLabelLength = 100
)

// Error variables for better error handling and testability
var (
	// ErrMalformedScenario indicates a schema-level violation in authored
	// scenario data. Raised at load/construction and fatal to that load.
	ErrMalformedScenario = errors.New("malformed scenario")
	// ErrScenarioHasDefects indicates activation was attempted on a scenario
	// with outstanding semantic defects.
	ErrScenarioHasDefects = errors.New("scenario has validation defects")
	// ErrScenarioNotFound indicates the requested scenario does not exist or is not active.
	ErrScenarioNotFound = errors.New("scenario not found")
	// ErrInvalidAnswerShape indicates an inbound answer did not match the
	// owning question's type. Rejected at the boundary; the call re-prompts.
	ErrInvalidAnswerShape = errors.New("answer does not match question type")
	// ErrOutOfOrderAnswer indicates an answer arrived for a question that is
	// not the session's current question. Indicates an adapter bug; the event
	// is dropped and the session is unaffected.
	ErrOutOfOrderAnswer = errors.New("answer is not for the current question")
	// ErrSessionAlreadyTerminal indicates a mutation was attempted on a
	// session that already reached a terminal status.
	ErrSessionAlreadyTerminal = errors.New("session already terminal")

	ErrEmptyQuestionID       = errors.New("question id cannot be empty")
	ErrEmptyQuestionText     = errors.New("question text cannot be empty")
	ErrQuestionTextTooLong   = errors.New("question text exceeds maximum length")
	ErrOptionLabelTooLong    = errors.New("option label exceeds maximum length")
	ErrInvalidQuestionType   = errors.New("invalid question type")
	ErrInvalidMaxLength      = errors.New("max_length must be positive")
	ErrEmptyScenarioName     = errors.New("scenario name cannot be empty")
	ErrEmptyTransitionSource = errors.New("transition from_question_id cannot be empty")
)

// IsValidQuestionType checks if the given question type is supported.
func IsValidQuestionType(qt QuestionType) bool {
	switch qt {
	case QuestionTypeDTMF, QuestionTypeVoiceRecording:
		return true
	default:
		return false
	}
}

// QuestionOption represents a selectable keypress option for DTMF questions.
type QuestionOption struct {
	Key   string `json:"key"`   // digit the callee presses
	Label string `json:"label"` // human-readable meaning
	Value string `json:"value"` // value recorded in the answer
}

// Question represents a single prompt in an IVR scenario.
type Question struct {
	ID        string           `json:"id"`
	Text      string           `json:"text"`
	Type      QuestionType     `json:"type"`
	Options   []QuestionOption `json:"options,omitempty"`
	Required  bool             `json:"required"`
	MaxLength int              `json:"max_length,omitempty"` // recording length cap in seconds
}

// Validate performs schema-level validation on a Question.
// Semantic checks (e.g. DTMF questions without options) are the validator's job.
func (q *Question) Validate() error {
	if q.ID == "" {
		return ErrEmptyQuestionID
	}
	if q.Text == "" {
		return ErrEmptyQuestionText
	}
	if len(q.Text) > MaxQuestionTextLength {
		return ErrQuestionTextTooLong
	}
	if !IsValidQuestionType(q.Type) {
		return ErrInvalidQuestionType
	}
	for i := range q.Options {
		if len(q.Options[i].Label) > MaxOptionLabelLength {
			return ErrOptionLabelTooLong
		}
	}
	if q.MaxLength < 0 {
		return ErrInvalidMaxLength
	}
	return nil
}

// Transition represents a guarded edge between two questions.
// An empty ToQuestionID means the call ends when the condition matches.
type Transition struct {
	FromQuestionID string `json:"from_question_id"`
	Condition      string `json:"condition"`
	ToQuestionID   string `json:"to_question_id,omitempty"`
}

// Validate performs schema-level validation on a Transition.
func (t *Transition) Validate() error {
	if t.FromQuestionID == "" {
		return ErrEmptyTransitionSource
	}
	return nil
}

// Scenario is the raw authored form of an IVR scenario as stored and edited.
// A Scenario is compiled into a flow.ScenarioGraph before execution.
type Scenario struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Questions   []Question   `json:"questions"`
	Transitions []Transition `json:"transitions"`
	IsActive    bool         `json:"is_active"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// Validate performs schema-level validation on a Scenario.
// It returns ErrMalformedScenario-compatible sentinel errors for the first
// violation found; semantic defect collection lives in the flow validator.
func (s *Scenario) Validate() error {
	if s.Name == "" {
		return ErrEmptyScenarioName
	}
	for i := range s.Questions {
		if err := s.Questions[i].Validate(); err != nil {
			return err
		}
	}
	for i := range s.Transitions {
		if err := s.Transitions[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}

// DefectKind identifies a class of semantic scenario defect.
type DefectKind string

const (
	// DefectDuplicateQuestionID reports two questions sharing an id.
	DefectDuplicateQuestionID DefectKind = "duplicate_question_id"
	// DefectUnknownSourceQuestion reports a transition whose source question does not exist.
	DefectUnknownSourceQuestion DefectKind = "unknown_source_question"
	// DefectUnknownTargetQuestion reports a transition whose target question does not exist.
	DefectUnknownTargetQuestion DefectKind = "unknown_target_question"
	// DefectEmptyScenario reports a scenario with no questions.
	DefectEmptyScenario DefectKind = "empty_scenario"
	// DefectMissingOptions reports a DTMF question with no options.
	DefectMissingOptions DefectKind = "missing_options"
)

// Defect is a reported semantic violation of a scenario graph.
// A scenario with defects may be inspected and edited but never activated.
type Defect struct {
	Kind        DefectKind `json:"kind"`
	Description string     `json:"description"`
}

// CallStatus represents the lifecycle status of a call session.
type CallStatus string

const (
	// CallStatusInitiated indicates the call was created but not yet answered.
	CallStatusInitiated CallStatus = "initiated"
	// CallStatusInProgress indicates the callee answered and the scenario is running.
	CallStatusInProgress CallStatus = "in_progress"
	// CallStatusCompleted indicates the scenario ran to its end.
	CallStatusCompleted CallStatus = "completed"
	// CallStatusFailed indicates the provider reported a failure or retries were exhausted.
	CallStatusFailed CallStatus = "failed"
	// CallStatusNoAnswer indicates the callee never answered.
	CallStatusNoAnswer CallStatus = "no_answer"
)

// IsTerminal reports whether the status permits no further session mutation.
func (s CallStatus) IsTerminal() bool {
	switch s {
	case CallStatusCompleted, CallStatusFailed, CallStatusNoAnswer:
		return true
	default:
		return false
	}
}

// Answer represents one collected response within a call session.
type Answer struct {
	QuestionID   string     `json:"question_id"`
	QuestionText string     `json:"question_text,omitempty"`
	Type         AnswerType `json:"answer_type"`
	Value        string     `json:"value,omitempty"`
	Label        string     `json:"label,omitempty"`
	AudioURL     string     `json:"audio_url,omitempty"`
	Timestamp    time.Time  `json:"timestamp"`
}

// CallSession is the per-call mutable execution context. It is created when a
// call begins against an active scenario, mutated only by the execution
// engine, and becomes immutable once Status reaches a terminal value.
type CallSession struct {
	ID                string     `json:"id"`
	ScenarioID        string     `json:"scenario_id"`
	PhoneNumber       string     `json:"phone_number"`
	ProviderCallSID   string     `json:"provider_call_sid,omitempty"`
	CurrentQuestionID string     `json:"current_question_id,omitempty"` // empty: not started or terminated
	Answers           []Answer   `json:"answers"`
	Status            CallStatus `json:"status"`
	Retries           int        `json:"retries"` // re-prompts issued for the current question
	StartedAt         time.Time  `json:"started_at"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
}

// PhoneNumberStatus represents the dialing status of a managed phone number.
type PhoneNumberStatus string

const (
	PhoneNumberStatusPending    PhoneNumberStatus = "pending"
	PhoneNumberStatusCalling    PhoneNumberStatus = "calling"
	PhoneNumberStatusCompleted  PhoneNumberStatus = "completed"
	PhoneNumberStatusFailed     PhoneNumberStatus = "failed"
	PhoneNumberStatusNoInterest PhoneNumberStatus = "no_interest"
)

// PhoneNumber represents an entry in the outbound dialing list.
type PhoneNumber struct {
	ID          string            `json:"id"`
	PhoneNumber string            `json:"phone_number"`
	Status      PhoneNumberStatus `json:"status"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// SMSStatus represents the delivery status of a follow-up SMS.
type SMSStatus string

const (
	SMSStatusPending   SMSStatus = "pending"
	SMSStatusSent      SMSStatus = "sent"
	SMSStatusDelivered SMSStatus = "delivered"
	SMSStatusFailed    SMSStatus = "failed"
)

// SMSNotification represents a follow-up SMS dispatched after a terminal call.
type SMSNotification struct {
	ID             string     `json:"id"`
	CallSessionID  string     `json:"call_session_id"`
	RecipientPhone string     `json:"recipient_phone"`
	Body           string     `json:"body"`
	ProviderSID    string     `json:"provider_sid,omitempty"`
	Status         SMSStatus  `json:"status"`
	RetryCount     int        `json:"retry_count"`
	SentAt         *time.Time `json:"sent_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}
