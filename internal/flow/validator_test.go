package flow

import (
	"testing"

	"github.com/BTreeMap/CallPipe/internal/models"
)

func countDefects(defects []models.Defect, kind models.DefectKind) int {
	n := 0
	for _, d := range defects {
		if d.Kind == kind {
			n++
		}
	}
	return n
}

func TestValidateValidScenario(t *testing.T) {
	g, err := NewScenarioGraph(sampleScenario())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if defects := NewValidator().Validate(g); len(defects) != 0 {
		t.Errorf("valid scenario should have no defects, got %+v", defects)
	}
}

func TestValidateEmptyScenario(t *testing.T) {
	g, err := NewScenarioGraph(models.Scenario{ID: "scn-empty", Name: "empty"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defects := NewValidator().Validate(g)
	if len(defects) != 1 || defects[0].Kind != models.DefectEmptyScenario {
		t.Errorf("expected single EmptyScenario defect, got %+v", defects)
	}
}

func TestValidateDuplicateQuestionIDs(t *testing.T) {
	s := sampleScenario()
	s.Questions = append(s.Questions, s.Questions[0]) // second q1
	g, err := NewScenarioGraph(s)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defects := NewValidator().Validate(g)
	if got := countDefects(defects, models.DefectDuplicateQuestionID); got != 1 {
		t.Errorf("expected 1 DuplicateQuestionID defect, got %d in %+v", got, defects)
	}
}

func TestValidateUnknownReferences(t *testing.T) {
	s := sampleScenario()
	s.Transitions = append(s.Transitions,
		models.Transition{FromQuestionID: "ghost", Condition: "answer == '1'"},
		models.Transition{FromQuestionID: "q1", Condition: "answer == '3'", ToQuestionID: "nowhere"},
		models.Transition{FromQuestionID: "q1", Condition: "answer == '4'", ToQuestionID: "elsewhere"},
	)
	g, err := NewScenarioGraph(s)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defects := NewValidator().Validate(g)
	if got := countDefects(defects, models.DefectUnknownSourceQuestion); got != 1 {
		t.Errorf("expected 1 UnknownSourceQuestion defect, got %d in %+v", got, defects)
	}
	// Exactly one UnknownTargetQuestion per dangling reference.
	if got := countDefects(defects, models.DefectUnknownTargetQuestion); got != 2 {
		t.Errorf("expected 2 UnknownTargetQuestion defects, got %d in %+v", got, defects)
	}
}

func TestValidateMissingOptions(t *testing.T) {
	s := sampleScenario()
	s.Questions[0].Options = nil
	g, err := NewScenarioGraph(s)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defects := NewValidator().Validate(g)
	if got := countDefects(defects, models.DefectMissingOptions); got != 1 {
		t.Errorf("expected 1 MissingOptions defect, got %d in %+v", got, defects)
	}

	// One option is enough to pass that check.
	s.Questions[0].Options = []models.QuestionOption{{Key: "1", Label: "yes", Value: "yes"}}
	g, err = NewScenarioGraph(s)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if defects := NewValidator().Validate(g); countDefects(defects, models.DefectMissingOptions) != 0 {
		t.Errorf("single-option dtmf question should pass, got %+v", defects)
	}
}

func TestValidateCollectsAllDefects(t *testing.T) {
	s := sampleScenario()
	s.Questions = append(s.Questions, s.Questions[0])
	s.Questions[1].Options = nil // voice question, no effect
	s.Questions = append(s.Questions, models.Question{ID: "q3", Text: "Pick one", Type: models.QuestionTypeDTMF})
	s.Transitions = append(s.Transitions, models.Transition{FromQuestionID: "ghost", Condition: "", ToQuestionID: "nowhere"})
	g, err := NewScenarioGraph(s)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defects := NewValidator().Validate(g)
	// duplicate q1, missing options on q3, unknown source and unknown target
	if len(defects) != 4 {
		t.Errorf("expected 4 defects collected in one pass, got %d: %+v", len(defects), defects)
	}
}
