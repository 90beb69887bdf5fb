package flow

import (
	"errors"
	"testing"

	"github.com/BTreeMap/CallPipe/internal/models"
)

func sampleScenario() models.Scenario {
	return models.Scenario{
		ID:   "scn-1",
		Name: "sales outreach",
		Questions: []models.Question{
			{
				ID:       "q1",
				Text:     "Are you interested in our plan? Press 1 for yes, 2 for no.",
				Type:     models.QuestionTypeDTMF,
				Required: true,
				Options: []models.QuestionOption{
					{Key: "1", Label: "yes", Value: "yes"},
					{Key: "2", Label: "no", Value: "no"},
				},
			},
			{
				ID:   "q2",
				Text: "Please tell us why after the beep.",
				Type: models.QuestionTypeVoiceRecording,
			},
		},
		Transitions: []models.Transition{
			{FromQuestionID: "q1", Condition: "answer == '1'"},
			{FromQuestionID: "q1", Condition: "answer == '2'", ToQuestionID: "q2"},
		},
		IsActive: true,
	}
}

func TestNewScenarioGraph(t *testing.T) {
	g, err := NewScenarioGraph(sampleScenario())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if g.ID() != "scn-1" || g.Name() != "sales outreach" || !g.IsActive() {
		t.Errorf("graph metadata mismatch: id=%s name=%s active=%v", g.ID(), g.Name(), g.IsActive())
	}

	q, ok := g.Question("q2")
	if !ok || q.Type != models.QuestionTypeVoiceRecording {
		t.Errorf("Question(q2) = %+v, %v", q, ok)
	}
	if _, ok := g.Question("missing"); ok {
		t.Error("Question(missing) should not resolve")
	}

	start, ok := g.StartQuestion()
	if !ok || start.ID != "q1" {
		t.Errorf("StartQuestion = %+v, %v; want q1", start, ok)
	}
}

func TestNewScenarioGraphMalformed(t *testing.T) {
	s := sampleScenario()
	s.Questions[0].Text = ""
	if _, err := NewScenarioGraph(s); !errors.Is(err, models.ErrMalformedScenario) {
		t.Errorf("expected ErrMalformedScenario, got %v", err)
	}

	s = sampleScenario()
	s.Name = ""
	if _, err := NewScenarioGraph(s); !errors.Is(err, models.ErrMalformedScenario) {
		t.Errorf("expected ErrMalformedScenario for empty name, got %v", err)
	}
}

func TestNewScenarioGraphDoesNotMutateInput(t *testing.T) {
	s := sampleScenario()
	g, err := NewScenarioGraph(s)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s.Questions[0].ID = "mutated"
	s.Transitions[0].Condition = "answer == 'mutated'"

	if _, ok := g.Question("q1"); !ok {
		t.Error("graph should retain its own copy of questions")
	}
	if got := g.OutgoingTransitions("q1")[0].Condition; got != "answer == '1'" {
		t.Errorf("graph transition mutated through input: %q", got)
	}
}

func TestOutgoingTransitionsPreserveAuthoredOrder(t *testing.T) {
	g, err := NewScenarioGraph(sampleScenario())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ts := g.OutgoingTransitions("q1")
	if len(ts) != 2 {
		t.Fatalf("expected 2 transitions, got %d", len(ts))
	}
	if ts[0].Condition != "answer == '1'" || ts[1].Condition != "answer == '2'" {
		t.Errorf("transitions out of authored order: %+v", ts)
	}
	if ts := g.OutgoingTransitions("q2"); len(ts) != 0 {
		t.Errorf("q2 should have no outgoing transitions, got %+v", ts)
	}
}

func TestNextByOrder(t *testing.T) {
	g, err := NewScenarioGraph(sampleScenario())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	next, ok := g.NextByOrder("q1")
	if !ok || next.ID != "q2" {
		t.Errorf("NextByOrder(q1) = %+v, %v; want q2", next, ok)
	}
	if _, ok := g.NextByOrder("q2"); ok {
		t.Error("NextByOrder(q2) should report no next question")
	}
	if _, ok := g.NextByOrder("missing"); ok {
		t.Error("NextByOrder(missing) should report no next question")
	}
}

func TestGraphSerializationRoundTripPreservesOrder(t *testing.T) {
	// Transition evaluation order must survive a store round trip; the graph
	// compiles from the authored lists, so equality of the lists is enough.
	s := sampleScenario()
	g1, err := NewScenarioGraph(s)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	g2, err := NewScenarioGraph(s)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t1, t2 := g1.OutgoingTransitions("q1"), g2.OutgoingTransitions("q1")
	for i := range t1 {
		if t1[i] != t2[i] {
			t.Errorf("transition %d differs between compilations: %+v vs %+v", i, t1[i], t2[i])
		}
	}
}
