package store

import (
	"encoding/json"
	"fmt"

	"github.com/BTreeMap/CallPipe/internal/models"
)

// scenarioData is the JSON document stored in the scenarios.scenario_data
// column. Questions and transitions are arrays, so the authored order that
// transition evaluation depends on survives the round trip.
type scenarioData struct {
	Questions   []models.Question   `json:"questions"`
	Transitions []models.Transition `json:"transitions"`
}

// marshalScenarioData encodes a scenario's questions and transitions.
func marshalScenarioData(s models.Scenario) (string, error) {
	data, err := json.Marshal(scenarioData{Questions: s.Questions, Transitions: s.Transitions})
	if err != nil {
		return "", fmt.Errorf("failed to marshal scenario data for %s: %w", s.ID, err)
	}
	return string(data), nil
}

// unmarshalScenarioData decodes the scenario_data column into the scenario.
func unmarshalScenarioData(raw string, s *models.Scenario) error {
	if raw == "" {
		return nil
	}
	var data scenarioData
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return fmt.Errorf("failed to unmarshal scenario data for %s: %w", s.ID, err)
	}
	s.Questions = data.Questions
	s.Transitions = data.Transitions
	return nil
}

// marshalAnswers encodes a session's collected answers.
func marshalAnswers(answers []models.Answer) (string, error) {
	if len(answers) == 0 {
		return "", nil
	}
	data, err := json.Marshal(answers)
	if err != nil {
		return "", fmt.Errorf("failed to marshal answers: %w", err)
	}
	return string(data), nil
}

// unmarshalAnswers decodes the answers column.
func unmarshalAnswers(raw string) ([]models.Answer, error) {
	if raw == "" {
		return nil, nil
	}
	var answers []models.Answer
	if err := json.Unmarshal([]byte(raw), &answers); err != nil {
		return nil, fmt.Errorf("failed to unmarshal answers: %w", err)
	}
	return answers, nil
}

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
