// Package api provides HTTP handlers for scenario management.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/BTreeMap/CallPipe/internal/flow"
	"github.com/BTreeMap/CallPipe/internal/models"
)

// scenariosHandler routes collection-level scenario requests
// (POST /scenarios, GET /scenarios).
func (s *Server) scenariosHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.scenariosHandler: processing request", "method", r.Method, "path", r.URL.Path)
	switch r.Method {
	case http.MethodPost:
		s.createScenarioHandler(w, r)
	case http.MethodGet:
		s.listScenariosHandler(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		slog.Warn("Server.scenariosHandler: method not allowed", "method", r.Method)
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
	}
}

// scenarioHandler routes item-level scenario requests
// (GET /scenarios/{id}, GET /scenarios/{id}/defects, POST /scenarios/{id}/activate).
func (s *Server) scenarioHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	path := strings.TrimPrefix(r.URL.Path, "/scenarios/")
	segments := strings.Split(strings.Trim(path, "/"), "/")
	if len(segments) == 0 || segments[0] == "" {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Missing scenario ID"))
		return
	}
	scenarioID := segments[0]

	if len(segments) == 1 {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
			return
		}
		s.getScenarioHandler(w, r, scenarioID)
		return
	}

	if len(segments) == 2 {
		switch segments[1] {
		case "defects":
			if r.Method != http.MethodGet {
				w.Header().Set("Allow", http.MethodGet)
				writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
				return
			}
			s.scenarioDefectsHandler(w, r, scenarioID)
			return
		case "activate":
			if r.Method != http.MethodPost {
				w.Header().Set("Allow", http.MethodPost)
				writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
				return
			}
			s.activateScenarioHandler(w, r, scenarioID)
			return
		}
	}

	writeJSONResponse(w, http.StatusNotFound, models.Error("Unknown scenario endpoint"))
}

// createScenarioHandler handles POST /scenarios. The scenario is persisted
// inactive regardless of its defects; activation is a separate, gated step.
func (s *Server) createScenarioHandler(w http.ResponseWriter, r *http.Request) {
	var scenario models.Scenario
	if err := json.NewDecoder(r.Body).Decode(&scenario); err != nil {
		slog.Warn("Server.createScenarioHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	now := time.Now()
	if scenario.ID != "" {
		// In-flight call sessions resolve their graph from the stored
		// scenario by id. An edit must become a new scenario instance, so a
		// re-POST of an existing id is saved under a fresh id and the stored
		// version stays untouched.
		existing, err := s.st.GetScenario(scenario.ID)
		if err != nil {
			slog.Error("Server.createScenarioHandler: failed to check scenario id", "error", err, "scenarioID", scenario.ID)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to save scenario"))
			return
		}
		if existing != nil {
			previousID := scenario.ID
			scenario.ID = uuid.NewString()
			scenario.CreatedAt = now
			slog.Info("Server.createScenarioHandler: id already exists, saving as new version",
				"previousID", previousID, "scenarioID", scenario.ID)
		}
	}
	if scenario.ID == "" {
		scenario.ID = uuid.NewString()
	}
	if scenario.CreatedAt.IsZero() {
		scenario.CreatedAt = now
	}
	scenario.UpdatedAt = now
	scenario.IsActive = false

	if err := scenario.Validate(); err != nil {
		slog.Warn("Server.createScenarioHandler: validation failed", "error", err, "scenarioID", scenario.ID)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	graph, err := flow.NewScenarioGraph(scenario)
	if err != nil {
		slog.Warn("Server.createScenarioHandler: malformed scenario", "error", err, "scenarioID", scenario.ID)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	defects := s.validator.Validate(graph)

	if err := s.st.SaveScenario(scenario); err != nil {
		slog.Error("Server.createScenarioHandler: failed to save scenario", "error", err, "scenarioID", scenario.ID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to save scenario"))
		return
	}

	slog.Info("Server.createScenarioHandler: scenario saved", "scenarioID", scenario.ID, "defects", len(defects))
	writeJSONResponse(w, http.StatusCreated, models.SuccessWithMessage("Scenario saved", map[string]interface{}{
		"id":      scenario.ID,
		"defects": defects,
	}))
}

// listScenariosHandler handles GET /scenarios.
func (s *Server) listScenariosHandler(w http.ResponseWriter, r *http.Request) {
	scenarios, err := s.st.ListScenarios()
	if err != nil {
		slog.Error("Server.listScenariosHandler: failed to list scenarios", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch scenarios"))
		return
	}
	slog.Debug("Server.listScenariosHandler: scenarios fetched", "count", len(scenarios))
	writeJSONResponse(w, http.StatusOK, models.Success(scenarios))
}

// getScenarioHandler handles GET /scenarios/{id}.
func (s *Server) getScenarioHandler(w http.ResponseWriter, r *http.Request, scenarioID string) {
	scenario, err := s.st.GetScenario(scenarioID)
	if err != nil {
		slog.Error("Server.getScenarioHandler: failed to get scenario", "error", err, "scenarioID", scenarioID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch scenario"))
		return
	}
	if scenario == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Scenario not found"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(scenario))
}

// scenarioDefectsHandler handles GET /scenarios/{id}/defects. The full defect
// list is always reported, not just the first finding.
func (s *Server) scenarioDefectsHandler(w http.ResponseWriter, r *http.Request, scenarioID string) {
	defects, err := s.validateScenario(scenarioID)
	if err != nil {
		if errors.Is(err, models.ErrScenarioNotFound) {
			writeJSONResponse(w, http.StatusNotFound, models.Error("Scenario not found"))
			return
		}
		slog.Error("Server.scenarioDefectsHandler: validation failed", "error", err, "scenarioID", scenarioID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to validate scenario"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]interface{}{
		"scenario_id": scenarioID,
		"defects":     defects,
		"valid":       len(defects) == 0,
	}))
}

// activateScenarioHandler handles POST /scenarios/{id}/activate. Activation is
// refused while the scenario has any defect; activating one scenario
// deactivates the rest.
func (s *Server) activateScenarioHandler(w http.ResponseWriter, r *http.Request, scenarioID string) {
	scenario, err := s.st.GetScenario(scenarioID)
	if err != nil {
		slog.Error("Server.activateScenarioHandler: failed to get scenario", "error", err, "scenarioID", scenarioID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch scenario"))
		return
	}
	if scenario == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Scenario not found"))
		return
	}

	defects, err := s.validateScenario(scenarioID)
	if err != nil {
		slog.Error("Server.activateScenarioHandler: validation failed", "error", err, "scenarioID", scenarioID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to validate scenario"))
		return
	}
	if len(defects) > 0 {
		slog.Warn("Server.activateScenarioHandler: scenario has defects", "scenarioID", scenarioID, "defects", len(defects))
		writeJSONResponse(w, http.StatusConflict, models.APIResponse{
			Status:  string(models.APIStatusError),
			Message: models.ErrScenarioHasDefects.Error(),
			Result:  defects,
		})
		return
	}

	scenario.IsActive = true
	scenario.UpdatedAt = time.Now()
	if err := s.st.SaveScenario(*scenario); err != nil {
		slog.Error("Server.activateScenarioHandler: failed to save scenario", "error", err, "scenarioID", scenarioID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to activate scenario"))
		return
	}

	slog.Info("Server.activateScenarioHandler: scenario activated", "scenarioID", scenarioID)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Scenario activated", nil))
}

// validateScenario builds the graph for a stored scenario and collects its
// defects.
func (s *Server) validateScenario(scenarioID string) ([]models.Defect, error) {
	scenario, err := s.st.GetScenario(scenarioID)
	if err != nil {
		return nil, err
	}
	if scenario == nil {
		return nil, models.ErrScenarioNotFound
	}
	graph, err := flow.NewScenarioGraph(*scenario)
	if err != nil {
		return nil, err
	}
	return s.validator.Validate(graph), nil
}
