package weft

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// ExprPredicate compiles a boolean expression over the state into a
// PredicateFunc. State fields are the expression's variables:
//
//	urgent, err := weft.ExprPredicate(`severity == "critical" && retries < 2`)
//	builder.Branch("triage", urgent, "page", "queue")
//
// The expression is compiled once here; evaluation failures at run time
// (for example a missing field) evaluate to false.
func ExprPredicate(code string) (PredicateFunc, error) {
	program, err := expr.Compile(code, expr.AsBool(), expr.AllowUndefinedVariables())
	if err != nil {
		return nil, fmt.Errorf("compile predicate %q: %w", code, err)
	}
	return func(s State) bool {
		out, err := vm.Run(program, map[string]any(s))
		if err != nil {
			return false
		}
		b, ok := out.(bool)
		return ok && b
	}, nil
}

// ExprRouter compiles an expression into a RouterFunc. The expression must
// evaluate to a router label or a list of labels:
//
//	router, err := weft.ExprRouter(`is_adaptive ? ["py", "js", "solution"] : ["solution"]`)
//	builder.Route("classify", router, targets)
//
// A run-time evaluation failure or a non-label result returns no targets,
// which the engine surfaces as a RoutingError.
func ExprRouter(code string) (RouterFunc, error) {
	program, err := expr.Compile(code, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, fmt.Errorf("compile router %q: %w", code, err)
	}
	return func(s State) []string {
		out, err := vm.Run(program, map[string]any(s))
		if err != nil {
			return nil
		}
		switch v := out.(type) {
		case string:
			return []string{v}
		case []string:
			return v
		case []any:
			labels := make([]string, 0, len(v))
			for _, item := range v {
				label, ok := item.(string)
				if !ok {
					return nil
				}
				labels = append(labels, label)
			}
			return labels
		default:
			return nil
		}
	}, nil
}
