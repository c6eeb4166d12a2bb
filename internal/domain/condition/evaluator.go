// Package condition evaluates automation condition trees against event payloads.
//
// Evaluation is total: a missing field, a type mismatch or an unknown
// operator makes the leaf false with a Reason, it never returns an error or
// panics. Neither the payload nor the tree is modified.
package condition

import (
	"strings"

	"github.com/complyflow/complyflow/internal/domain/automation"
)

// Result is the outcome of evaluating a condition tree.
type Result struct {
	Matched bool
	Leaves  []automation.LeafResult
}

// operatorFunc compares a present field value with the leaf value. reason is
// set when the result is false because the comparison is undefined for the
// value types.
type operatorFunc func(fieldValue, compareValue any) (matched bool, reason string)

// Evaluator evaluates condition trees. The zero value is not usable; use New.
type Evaluator struct {
	operators map[automation.Operator]operatorFunc
}

// New creates an evaluator with every supported operator registered.
func New() *Evaluator {
	return &Evaluator{
		operators: map[automation.Operator]operatorFunc{
			automation.OpEq:       operatorEq,
			automation.OpNeq:      operatorNeq,
			automation.OpGt:       numericOperator(func(c int) bool { return c > 0 }),
			automation.OpGte:      numericOperator(func(c int) bool { return c >= 0 }),
			automation.OpLt:       numericOperator(func(c int) bool { return c < 0 }),
			automation.OpLte:      numericOperator(func(c int) bool { return c <= 0 }),
			automation.OpContains: operatorContains,
			automation.OpIn:       operatorIn,
		},
	}
}

// Evaluate evaluates tree against payload. An empty leaf list always
// matches. Leaves are combined with AND (all) or OR (any); an unknown logic
// value makes a non-empty tree fail.
func (e *Evaluator) Evaluate(tree automation.ConditionTree, payload map[string]any) Result {
	if len(tree.Rules) == 0 {
		return Result{Matched: true, Leaves: []automation.LeafResult{}}
	}

	leaves := make([]automation.LeafResult, len(tree.Rules))
	for i, leaf := range tree.Rules {
		leaves[i] = e.evaluateLeaf(leaf, payload)
	}

	var matched bool
	switch tree.Logic.Normalize() {
	case automation.LogicAnd:
		matched = true
		for _, l := range leaves {
			if !l.Matched {
				matched = false
				break
			}
		}
	case automation.LogicOr:
		for _, l := range leaves {
			if l.Matched {
				matched = true
				break
			}
		}
	default:
		matched = false
	}

	return Result{Matched: matched, Leaves: leaves}
}

func (e *Evaluator) evaluateLeaf(leaf automation.ConditionLeaf, payload map[string]any) automation.LeafResult {
	res := automation.LeafResult{Leaf: leaf}

	op, ok := e.operators[leaf.Operator]
	if !ok {
		res.Reason = "unknown operator " + string(leaf.Operator)
		return res
	}

	value, exists := Lookup(payload, leaf.Field)
	if !exists {
		res.Reason = "field not present"
		return res
	}

	res.Matched, res.Reason = op(value, leaf.Value)
	return res
}

// Lookup resolves field in payload. An exact key wins; otherwise a dotted
// path walks nested maps ("owner.department").
func Lookup(payload map[string]any, field string) (any, bool) {
	if v, ok := payload[field]; ok {
		return v, true
	}
	if !strings.Contains(field, ".") {
		return nil, false
	}

	var current any = payload
	for _, part := range strings.Split(field, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}
