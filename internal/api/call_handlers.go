// Package api provides HTTP handlers for phone number intake and call history.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/BTreeMap/CallPipe/internal/models"
)

// numberIntakeRequest is the payload for enqueueing phone numbers to dial.
type numberIntakeRequest struct {
	PhoneNumbers []string `json:"phone_numbers"`
}

// numbersHandler handles POST /numbers: it canonicalizes and enqueues phone
// numbers for the dialer. Invalid numbers are reported per entry without
// failing the batch.
func (s *Server) numbersHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.numbersHandler: processing request", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		slog.Warn("Server.numbersHandler: method not allowed", "method", r.Method)
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
		return
	}

	var req numberIntakeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.numbersHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if len(req.PhoneNumbers) == 0 {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing required field: phone_numbers"))
		return
	}

	queued := 0
	rejected := make(map[string]string)
	for _, raw := range req.PhoneNumbers {
		canonical, err := s.msgService.ValidateAndCanonicalizeRecipient(raw)
		if err != nil {
			slog.Warn("Server.numbersHandler: rejected phone number", "error", err, "raw", raw)
			rejected[raw] = err.Error()
			continue
		}
		now := time.Now()
		entry := models.PhoneNumber{
			ID:          uuid.NewString(),
			PhoneNumber: canonical,
			Status:      models.PhoneNumberStatusPending,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := s.st.AddPhoneNumber(entry); err != nil {
			slog.Error("Server.numbersHandler: failed to add phone number", "error", err, "phone", canonical)
			rejected[raw] = "failed to enqueue"
			continue
		}
		queued++
	}

	slog.Info("Server.numbersHandler: numbers enqueued", "queued", queued, "rejected", len(rejected))
	writeJSONResponse(w, http.StatusCreated, models.Queued("Phone numbers enqueued", map[string]interface{}{
		"queued":   queued,
		"rejected": rejected,
	}))
}

// sessionsHandler handles GET /sessions with optional scenario_id and status
// query filters.
func (s *Server) sessionsHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.sessionsHandler: processing request", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		slog.Warn("Server.sessionsHandler: method not allowed", "method", r.Method)
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
		return
	}

	scenarioID := r.URL.Query().Get("scenario_id")
	status := models.CallStatus(r.URL.Query().Get("status"))
	sessions, err := s.st.ListCallSessions(scenarioID, status)
	if err != nil {
		slog.Error("Server.sessionsHandler: failed to list call sessions", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch call sessions"))
		return
	}
	slog.Debug("Server.sessionsHandler: sessions fetched", "count", len(sessions))
	writeJSONResponse(w, http.StatusOK, models.Success(sessions))
}

// sessionHandler handles GET /sessions/{id} and GET /sessions/{id}/sms.
func (s *Server) sessionHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/sessions/")
	segments := strings.Split(strings.Trim(path, "/"), "/")
	if len(segments) == 0 || segments[0] == "" {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Missing session ID"))
		return
	}
	sessionID := segments[0]

	session, err := s.st.GetCallSession(sessionID)
	if err != nil {
		slog.Error("Server.sessionHandler: failed to get call session", "error", err, "sessionID", sessionID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch call session"))
		return
	}
	if session == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Call session not found"))
		return
	}

	if len(segments) == 2 && segments[1] == "sms" {
		notifications, err := s.st.ListSMSNotifications(sessionID)
		if err != nil {
			slog.Error("Server.sessionHandler: failed to list SMS notifications", "error", err, "sessionID", sessionID)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch SMS notifications"))
			return
		}
		writeJSONResponse(w, http.StatusOK, models.Success(notifications))
		return
	}
	if len(segments) > 1 {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Unknown session endpoint"))
		return
	}

	writeJSONResponse(w, http.StatusOK, models.Success(session))
}
