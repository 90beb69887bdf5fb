package flow

import (
	"fmt"
	"log/slog"

	"github.com/BTreeMap/CallPipe/internal/models"
)

// Validator performs semantic validation of a compiled scenario graph.
// It collects every defect rather than stopping at the first, so an author
// sees the full repair list in one pass. Activation must be rejected
// whenever Validate returns a non-empty list.
type Validator struct{}

// NewValidator creates a scenario validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate checks the graph and returns all semantic defects found.
// An empty scenario short-circuits the remaining checks since they are
// meaningless without questions.
func (v *Validator) Validate(g *ScenarioGraph) []models.Defect {
	if g.QuestionCount() == 0 {
		slog.Debug("Validator found empty scenario", "scenarioID", g.ID())
		return []models.Defect{{
			Kind:        models.DefectEmptyScenario,
			Description: "scenario has no questions",
		}}
	}

	var defects []models.Defect

	// Build the id index once; duplicate detection and reference checks both
	// use it instead of repeated membership scans.
	seen := make(map[string]bool, g.QuestionCount())
	known := make(map[string]bool, g.QuestionCount())
	for _, q := range g.Questions() {
		if seen[q.ID] {
			defects = append(defects, models.Defect{
				Kind:        models.DefectDuplicateQuestionID,
				Description: fmt.Sprintf("duplicate question id %q", q.ID),
			})
		}
		seen[q.ID] = true
		known[q.ID] = true

		if q.Type == models.QuestionTypeDTMF && len(q.Options) == 0 {
			defects = append(defects, models.Defect{
				Kind:        models.DefectMissingOptions,
				Description: fmt.Sprintf("dtmf question %q has no options", q.ID),
			})
		}
	}

	for i, t := range g.transitions {
		if !known[t.FromQuestionID] {
			defects = append(defects, models.Defect{
				Kind:        models.DefectUnknownSourceQuestion,
				Description: fmt.Sprintf("transition %d references unknown source question %q", i, t.FromQuestionID),
			})
		}
		if t.ToQuestionID != "" && !known[t.ToQuestionID] {
			defects = append(defects, models.Defect{
				Kind:        models.DefectUnknownTargetQuestion,
				Description: fmt.Sprintf("transition %d references unknown target question %q", i, t.ToQuestionID),
			})
		}
	}

	slog.Debug("Validator finished", "scenarioID", g.ID(), "defects", len(defects))
	return defects
}
