package flow

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/CallPipe/internal/models"
)

// NewCallSession creates a call session bound to the given scenario.
// The session starts in the initiated status with no current question; the
// engine sets the first question when the call connects.
func NewCallSession(id, scenarioID, phoneNumber string) *models.CallSession {
	return &models.CallSession{
		ID:          id,
		ScenarioID:  scenarioID,
		PhoneNumber: phoneNumber,
		Status:      models.CallStatusInitiated,
		StartedAt:   time.Now(),
	}
}

// RecordAnswer appends an answer to the session and moves the current
// question pointer to nextQuestionID (empty when the call is about to end).
// Terminal sessions reject the mutation with models.ErrSessionAlreadyTerminal.
func RecordAnswer(s *models.CallSession, answer models.Answer, nextQuestionID string) error {
	if s.Status.IsTerminal() {
		slog.Error("RecordAnswer on terminal session", "sessionID", s.ID, "status", s.Status)
		return models.ErrSessionAlreadyTerminal
	}
	s.Answers = append(s.Answers, answer)
	s.CurrentQuestionID = nextQuestionID
	s.Retries = 0
	slog.Debug("Session answer recorded", "sessionID", s.ID, "questionID", answer.QuestionID, "next", nextQuestionID)
	return nil
}

// Finalize sets a terminal status and the completion timestamp, after which
// the session rejects further mutation. Finalizing an already terminal
// session returns models.ErrSessionAlreadyTerminal; callers that need
// idempotent termination (the engine's provider-event handlers) check the
// status first.
func Finalize(s *models.CallSession, status models.CallStatus) error {
	if s.Status.IsTerminal() {
		slog.Debug("Finalize on terminal session ignored", "sessionID", s.ID, "status", s.Status, "requested", status)
		return models.ErrSessionAlreadyTerminal
	}
	if !status.IsTerminal() {
		slog.Error("Finalize called with non-terminal status", "sessionID", s.ID, "status", status)
		return fmt.Errorf("cannot finalize session %s with non-terminal status %s", s.ID, status)
	}
	now := time.Now()
	s.Status = status
	s.CompletedAt = &now
	s.CurrentQuestionID = ""
	slog.Debug("Session finalized", "sessionID", s.ID, "status", status)
	return nil
}
