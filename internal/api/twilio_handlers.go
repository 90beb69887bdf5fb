// Package api provides Twilio webhook handlers for CallPipe.
//
// Twilio drives a call by POSTing form-encoded events to these endpoints and
// executing the TwiML each response returns. The handlers translate every
// event into an execution engine call, persist the advanced session, and
// render the engine's directive back as TwiML. Gather and record timeouts
// arrive as posts without input and reach the engine as empty answers.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/BTreeMap/CallPipe/internal/flow"
	"github.com/BTreeMap/CallPipe/internal/models"
)

// twilioVoiceHandler handles the initial webhook Twilio fires when an
// outbound call is answered (POST /twilio/voice). The session was created by
// the dialer before the call was placed; it is correlated here via CallSid.
func (s *Server) twilioVoiceHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.twilioVoiceHandler: processing webhook", "method", r.Method)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		slog.Warn("Server.twilioVoiceHandler: failed to parse form", "error", err)
		writeTwiMLResponse(w, rejectTwiML("An application error occurred. Goodbye."))
		return
	}

	callSID := r.FormValue("CallSid")
	session, err := s.st.GetCallSessionByProviderSID(callSID)
	if err != nil {
		slog.Error("Server.twilioVoiceHandler: failed to look up session", "error", err, "callSID", callSID)
		writeTwiMLResponse(w, rejectTwiML("An application error occurred. Goodbye."))
		return
	}
	if session == nil {
		slog.Warn("Server.twilioVoiceHandler: no session for call", "callSID", callSID)
		writeTwiMLResponse(w, rejectTwiML("This call is not recognized. Goodbye."))
		return
	}

	engine, err := s.engineForScenario(session.ScenarioID)
	if err != nil {
		slog.Error("Server.twilioVoiceHandler: failed to build engine", "error", err, "sessionID", session.ID)
		s.failSession(session, "scenario unavailable")
		writeTwiMLResponse(w, rejectTwiML("An application error occurred. Goodbye."))
		return
	}

	directive, err := engine.Start(session)
	if err != nil && !errors.Is(err, models.ErrSessionAlreadyTerminal) {
		slog.Error("Server.twilioVoiceHandler: engine start failed", "error", err, "sessionID", session.ID)
		writeTwiMLResponse(w, hangupTwiML())
		return
	}
	s.persistSession(session)

	slog.Info("Server.twilioVoiceHandler: call connected", "sessionID", session.ID, "directive", directive.Type)
	writeTwiMLResponse(w, s.directiveTwiML(directive, session.ID))
}

// twilioGatherHandler handles digit collection results
// (POST /twilio/gather?session={id}&question={id}). A post without Digits is
// the gather timeout falling through the redirect.
func (s *Server) twilioGatherHandler(w http.ResponseWriter, r *http.Request) {
	s.answerWebhook(w, r, "Digits", "Server.twilioGatherHandler")
}

// twilioRecordingHandler handles recording results
// (POST /twilio/recording?session={id}&question={id}). The recording URL is
// the answer value; an absent URL is a skipped recording.
func (s *Server) twilioRecordingHandler(w http.ResponseWriter, r *http.Request) {
	s.answerWebhook(w, r, "RecordingUrl", "Server.twilioRecordingHandler")
}

// answerWebhook is the shared answer-delivery path for gather and recording
// callbacks.
func (s *Server) answerWebhook(w http.ResponseWriter, r *http.Request, formField, handlerName string) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug(handlerName+": processing webhook", "method", r.Method)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		slog.Warn(handlerName+": failed to parse form", "error", err)
		writeTwiMLResponse(w, rejectTwiML("An application error occurred. Goodbye."))
		return
	}

	sessionID := r.URL.Query().Get("session")
	questionID := r.URL.Query().Get("question")
	rawValue := r.FormValue(formField)

	session, err := s.st.GetCallSession(sessionID)
	if err != nil {
		slog.Error(handlerName+": failed to look up session", "error", err, "sessionID", sessionID)
		writeTwiMLResponse(w, rejectTwiML("An application error occurred. Goodbye."))
		return
	}
	if session == nil {
		slog.Warn(handlerName+": unknown session", "sessionID", sessionID)
		writeTwiMLResponse(w, rejectTwiML("This call is not recognized. Goodbye."))
		return
	}

	engine, err := s.engineForScenario(session.ScenarioID)
	if err != nil {
		slog.Error(handlerName+": failed to build engine", "error", err, "sessionID", session.ID)
		s.failSession(session, "scenario unavailable")
		writeTwiMLResponse(w, rejectTwiML("An application error occurred. Goodbye."))
		return
	}

	directive, err := engine.OnAnswer(session, questionID, rawValue)
	switch {
	case err == nil:
		s.persistSession(session)
		if directive.Type == flow.DirectiveHangUp {
			s.onTerminalSession(session)
		}
		writeTwiMLResponse(w, s.directiveTwiML(directive, session.ID))
	case errors.Is(err, models.ErrSessionAlreadyTerminal):
		writeTwiMLResponse(w, hangupTwiML())
	case errors.Is(err, models.ErrInvalidAnswerShape):
		// Unexpected input for the question type. Replay the current prompt
		// without consuming a retry; the session was not advanced.
		slog.Warn(handlerName+": invalid answer shape", "sessionID", session.ID, "questionID", questionID, "error", err)
		if q, ok := engine.Graph().Question(session.CurrentQuestionID); ok {
			writeTwiMLResponse(w, renderTwiML(s.promptTwiML(q, session.ID)))
			return
		}
		writeTwiMLResponse(w, hangupTwiML())
	case errors.Is(err, models.ErrOutOfOrderAnswer):
		// Stale webhook for a question the call has moved past. Re-anchor the
		// caller on the current question instead of dropping the call.
		slog.Warn(handlerName+": out-of-order answer", "sessionID", session.ID, "questionID", questionID, "currentQuestionID", session.CurrentQuestionID)
		if q, ok := engine.Graph().Question(session.CurrentQuestionID); ok {
			writeTwiMLResponse(w, renderTwiML(s.promptTwiML(q, session.ID)))
			return
		}
		writeTwiMLResponse(w, hangupTwiML())
	default:
		slog.Error(handlerName+": engine error", "error", err, "sessionID", session.ID)
		writeTwiMLResponse(w, hangupTwiML())
	}
}

// twilioStatusHandler handles call lifecycle status callbacks
// (POST /twilio/status). No-answer and failure outcomes finalize the session;
// a completed callback for a still-active session means the caller hung up.
func (s *Server) twilioStatusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.twilioStatusHandler: processing webhook", "method", r.Method)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		slog.Warn("Server.twilioStatusHandler: failed to parse form", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	callSID := r.FormValue("CallSid")
	callStatus := r.FormValue("CallStatus")

	session, err := s.st.GetCallSessionByProviderSID(callSID)
	if err != nil {
		slog.Error("Server.twilioStatusHandler: failed to look up session", "error", err, "callSID", callSID)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if session == nil {
		slog.Warn("Server.twilioStatusHandler: no session for call", "callSID", callSID, "callStatus", callStatus)
		w.WriteHeader(http.StatusOK)
		return
	}

	engine, err := s.engineForScenario(session.ScenarioID)
	if err != nil {
		slog.Error("Server.twilioStatusHandler: failed to build engine", "error", err, "sessionID", session.ID)
		s.failSession(session, "scenario unavailable")
		w.WriteHeader(http.StatusOK)
		return
	}

	wasTerminal := session.Status.IsTerminal()
	switch callStatus {
	case "no-answer", "busy":
		engine.OnNoAnswer(session)
	case "failed", "canceled":
		engine.OnProviderFailure(session, callStatus)
	case "completed":
		// The caller hung up mid-flow if the session is still active.
		if !session.Status.IsTerminal() {
			engine.OnProviderFailure(session, "caller hung up")
		}
	default:
		// Intermediate statuses (queued, ringing, in-progress) need no action.
		w.WriteHeader(http.StatusOK)
		return
	}

	s.persistSession(session)
	if !wasTerminal && session.Status.IsTerminal() {
		s.onTerminalSession(session)
	}
	slog.Info("Server.twilioStatusHandler: status processed", "sessionID", session.ID, "callStatus", callStatus, "sessionStatus", session.Status)
	w.WriteHeader(http.StatusOK)
}

// persistSession saves the advanced session. Telephony webhooks cannot be
// retried meaningfully, so persistence errors are logged rather than surfaced
// to Twilio.
func (s *Server) persistSession(session *models.CallSession) {
	if err := s.st.SaveCallSession(*session); err != nil {
		slog.Error("Server.persistSession: failed to save call session", "error", err, "sessionID", session.ID)
	}
}

// failSession finalizes a session as failed outside the engine when its
// scenario can no longer be loaded.
func (s *Server) failSession(session *models.CallSession, reason string) {
	if session.Status.IsTerminal() {
		return
	}
	if err := flow.Finalize(session, models.CallStatusFailed); err != nil {
		slog.Error("Server.failSession: failed to finalize session", "error", err, "sessionID", session.ID)
		return
	}
	slog.Info("Server.failSession: session failed", "sessionID", session.ID, "reason", reason)
	s.persistSession(session)
	s.onTerminalSession(session)
}

// onTerminalSession runs post-call work once a session reaches a terminal
// status: the dial list entry is resolved and the follow-up SMS is dispatched.
func (s *Server) onTerminalSession(session *models.CallSession) {
	s.resolvePhoneNumber(session)

	if s.dispatcher == nil {
		return
	}
	scenario, err := s.st.GetScenario(session.ScenarioID)
	if err != nil {
		slog.Warn("Server.onTerminalSession: failed to load scenario for SMS", "error", err, "sessionID", session.ID)
	}
	if _, err := s.dispatcher.Dispatch(context.Background(), session, scenario); err != nil {
		slog.Error("Server.onTerminalSession: follow-up SMS dispatch failed", "error", err, "sessionID", session.ID)
	}
}

// resolvePhoneNumber moves the dial list entry that produced this session out
// of the calling state.
func (s *Server) resolvePhoneNumber(session *models.CallSession) {
	status := models.PhoneNumberStatusCompleted
	if session.Status != models.CallStatusCompleted {
		status = models.PhoneNumberStatusFailed
	}
	if err := s.st.UpdatePhoneNumberStatusByNumber(session.PhoneNumber, status); err != nil {
		slog.Warn("Server.resolvePhoneNumber: failed to update phone number status", "error", err, "phone", session.PhoneNumber)
	}
}
