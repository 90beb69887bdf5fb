package flow

import (
	"testing"

	"github.com/BTreeMap/CallPipe/internal/models"
)

func TestEvaluateEquality(t *testing.T) {
	e := NewConditionEvaluator()
	answer := models.Answer{Value: "1", Label: "yes"}

	cases := []struct {
		condition string
		want      bool
	}{
		{"answer == '1'", true},
		{"answer == \"1\"", true},
		{"answer === '1'", true},
		{"answer == 1", true},
		{"answer == '2'", false},
		{"answer != '2'", true},
		{"answer !== '1'", false},
		{"answer == 'yes'", true}, // label match
		{"answer=='1'", true},     // no spaces
		{"", true},                // unconditional
		{"   ", true},
	}
	for _, tc := range cases {
		if got := e.Evaluate(tc.condition, answer); got != tc.want {
			t.Errorf("Evaluate(%q) = %v, want %v", tc.condition, got, tc.want)
		}
	}
}

func TestEvaluateMalformedConditionsFailClosed(t *testing.T) {
	e := NewConditionEvaluator()
	answer := models.Answer{Value: "1"}

	malformed := []string{
		"digits == '1'",
		"answer = '1'",
		"answer > 1",
		"answer == ",
		"answer == 'unterminated",
		"answer == 'a' || answer == 'b'",
		"answer == 'a' 'b'",
		"1 == answer",
		"delete everything",
	}
	for _, c := range malformed {
		if e.Evaluate(c, answer) {
			t.Errorf("Evaluate(%q) should fail closed, got true", c)
		}
	}
}

func TestEvaluateEmptyAnswerValue(t *testing.T) {
	e := NewConditionEvaluator()
	timeout := models.Answer{Value: ""}
	if e.Evaluate("answer == '1'", timeout) {
		t.Error("empty answer should not match an equality condition")
	}
	if !e.Evaluate("answer != '1'", timeout) {
		t.Error("empty answer should match an inequality condition")
	}
}
