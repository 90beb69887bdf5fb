// Package flow implements the IVR scenario model and its execution state machine.
//
// A scenario is authored as a list of questions and guarded transitions
// (models.Scenario), compiled into an immutable ScenarioGraph, gated by the
// Validator before activation, and driven per call by the Engine in response
// to telephony events.
package flow

import (
	"fmt"
	"log/slog"

	"github.com/BTreeMap/CallPipe/internal/models"
)

// ScenarioGraph is an immutable, validated-shape representation of a
// scenario's questions and transitions. It is shared read-only by all
// concurrent call sessions referencing it; a scenario under edit must be
// compiled into a new graph instance rather than mutated in place.
//
// The start question is by convention the first entry of the authored
// questions list.
type ScenarioGraph struct {
	id          string
	name        string
	active      bool
	questions   []models.Question            // authored order
	byID        map[string]*models.Question  // id -> question, O(1) lookup
	outgoing    map[string][]models.Transition // from id -> transitions in authored order
	transitions []models.Transition
}

// NewScenarioGraph compiles an authored scenario into a graph. The input is
// never mutated. It fails with an error wrapping models.ErrMalformedScenario
// only on schema-level violations; semantic defects (dangling references,
// duplicates) are the Validator's job and do not block construction.
func NewScenarioGraph(s models.Scenario) (*ScenarioGraph, error) {
	if err := s.Validate(); err != nil {
		slog.Error("ScenarioGraph construction rejected malformed scenario", "scenarioID", s.ID, "error", err)
		return nil, fmt.Errorf("%w: %w", models.ErrMalformedScenario, err)
	}

	g := &ScenarioGraph{
		id:          s.ID,
		name:        s.Name,
		active:      s.IsActive,
		questions:   make([]models.Question, len(s.Questions)),
		byID:        make(map[string]*models.Question, len(s.Questions)),
		outgoing:    make(map[string][]models.Transition, len(s.Questions)),
		transitions: make([]models.Transition, len(s.Transitions)),
	}
	copy(g.questions, s.Questions)
	copy(g.transitions, s.Transitions)

	for i := range g.questions {
		q := &g.questions[i]
		// First-wins on duplicates; the Validator reports them as defects.
		if _, exists := g.byID[q.ID]; !exists {
			g.byID[q.ID] = q
		}
	}
	for _, t := range g.transitions {
		g.outgoing[t.FromQuestionID] = append(g.outgoing[t.FromQuestionID], t)
	}

	slog.Debug("ScenarioGraph compiled", "scenarioID", s.ID, "questions", len(g.questions), "transitions", len(g.transitions))
	return g, nil
}

// ID returns the scenario id.
func (g *ScenarioGraph) ID() string { return g.id }

// Name returns the scenario name.
func (g *ScenarioGraph) Name() string { return g.name }

// IsActive reports whether the scenario was marked active when compiled.
func (g *ScenarioGraph) IsActive() bool { return g.active }

// Question looks up a question by id.
func (g *ScenarioGraph) Question(id string) (*models.Question, bool) {
	q, ok := g.byID[id]
	return q, ok
}

// StartQuestion returns the scenario's start question: the first entry of the
// authored questions list. ok is false for an empty scenario.
func (g *ScenarioGraph) StartQuestion() (*models.Question, bool) {
	if len(g.questions) == 0 {
		return nil, false
	}
	return &g.questions[0], true
}

// OutgoingTransitions returns the transitions leaving the given question in
// their authored order. Order is significant: the engine evaluates them as an
// ordered decision list and the first match wins.
func (g *ScenarioGraph) OutgoingTransitions(questionID string) []models.Transition {
	return g.outgoing[questionID]
}

// NextByOrder returns the question following the given one in authored order.
// Used as the fallback advance for optional questions with no matching
// transition. ok is false when the question is last or unknown.
func (g *ScenarioGraph) NextByOrder(questionID string) (*models.Question, bool) {
	for i := range g.questions {
		if g.questions[i].ID == questionID {
			if i+1 < len(g.questions) {
				return &g.questions[i+1], true
			}
			return nil, false
		}
	}
	return nil, false
}

// QuestionCount returns the number of authored questions, duplicates included.
func (g *ScenarioGraph) QuestionCount() int { return len(g.questions) }

// Questions returns the authored question list. Callers must not modify the
// returned slice.
func (g *ScenarioGraph) Questions() []models.Question { return g.questions }
