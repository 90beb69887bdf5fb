package flow

import (
	"log/slog"
	"strings"

	"github.com/BTreeMap/CallPipe/internal/models"
)

// ConditionEvaluator evaluates a transition's guard condition against a
// collected answer. The grammar is a small closed comparison rather than an
// arbitrary expression:
//
//	answer == '1'
//	answer === "yes"
//	answer != no
//
// The left operand is always the literal word "answer"; the right operand is
// a single- or double-quoted string or a bare token. A condition matches when
// the literal equals the answer's value, its option key, or its option label.
// Malformed conditions fail closed: they evaluate to false instead of
// raising, so a broken condition degrades a branch to "does not match"
// rather than crashing the call.
type ConditionEvaluator struct{}

// NewConditionEvaluator creates a condition evaluator.
func NewConditionEvaluator() *ConditionEvaluator {
	return &ConditionEvaluator{}
}

// Evaluate reports whether the answer satisfies the condition.
// An empty condition matches unconditionally.
func (e *ConditionEvaluator) Evaluate(condition string, answer models.Answer) bool {
	condition = strings.TrimSpace(condition)
	if condition == "" {
		return true
	}

	negate, literal, ok := parseCondition(condition)
	if !ok {
		slog.Debug("ConditionEvaluator rejecting malformed condition", "condition", condition)
		return false
	}

	matched := literal == answer.Value || (answer.Label != "" && literal == answer.Label)
	if negate {
		return !matched
	}
	return matched
}

// parseCondition splits "answer <op> <literal>" into its negation flag and
// comparison literal. ok is false for anything outside the grammar.
func parseCondition(condition string) (negate bool, literal string, ok bool) {
	rest, found := strings.CutPrefix(condition, "answer")
	if !found {
		return false, "", false
	}
	rest = strings.TrimSpace(rest)

	switch {
	case strings.HasPrefix(rest, "==="):
		rest = rest[3:]
	case strings.HasPrefix(rest, "!=="):
		negate = true
		rest = rest[3:]
	case strings.HasPrefix(rest, "=="):
		rest = rest[2:]
	case strings.HasPrefix(rest, "!="):
		negate = true
		rest = rest[2:]
	default:
		return false, "", false
	}

	literal, ok = parseLiteral(strings.TrimSpace(rest))
	return negate, literal, ok
}

// parseLiteral unquotes a single- or double-quoted string, or accepts a bare
// token without whitespace or quotes.
func parseLiteral(s string) (string, bool) {
	if s == "" {
		return "", false
	}
	if len(s) >= 2 {
		first, last := s[0], s[len(s)-1]
		if (first == '\'' && last == '\'') || (first == '"' && last == '"') {
			inner := s[1 : len(s)-1]
			if strings.ContainsAny(inner, `'"`) {
				return "", false
			}
			return inner, true
		}
	}
	if strings.ContainsAny(s, ` '"`) {
		return "", false
	}
	return s, true
}
