package api

import (
	"fmt"
)

// MergePolicy controls how a later write to a state field combines with an
// earlier one.
type MergePolicy int

const (
	// Overwrite replaces the previous value. This is the default policy and
	// is appropriate for scalar and object fields (a generated artifact, a
	// classification result, a counter).
	Overwrite MergePolicy = iota

	// Accumulate combines the previous and new value with an ordered,
	// associative combinator: slices are concatenated, string-keyed maps are
	// unioned. Concurrent branches each append independently without
	// clobbering each other.
	Accumulate
)

func (p MergePolicy) String() string {
	switch p {
	case Overwrite:
		return "overwrite"
	case Accumulate:
		return "accumulate"
	default:
		return fmt.Sprintf("MergePolicy(%d)", int(p))
	}
}

// State is the shared bag of fields a graph computes over. Task functions
// receive the current state and return a partial update containing only the
// fields they wrote; the engine merges updates according to the graph's
// Schema.
//
// State values are treated as immutable: Merge never mutates its inputs, and
// task functions must not modify the state they are given.
type State map[string]any

// Clone returns a shallow copy of the state. Field values are shared;
// callers must not mutate them.
func (s State) Clone() State {
	out := make(State, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Schema declares a graph's state fields and their merge policies. It is
// fixed when the graph is compiled.
type Schema struct {
	fields map[string]MergePolicy
	order  []string
}

// NewSchema creates an empty schema.
func NewSchema() *Schema {
	return &Schema{fields: make(map[string]MergePolicy)}
}

// Field declares a state field with the given merge policy. Redeclaring a
// field replaces its policy. Returns the schema for chaining:
//
//	schema := api.NewSchema().
//	    Field("artifact", api.Overwrite).
//	    Field("critique_errors", api.Accumulate)
func (s *Schema) Field(name string, policy MergePolicy) *Schema {
	if _, ok := s.fields[name]; !ok {
		s.order = append(s.order, name)
	}
	s.fields[name] = policy
	return s
}

// Policy returns the declared merge policy for a field and whether the field
// is declared at all.
func (s *Schema) Policy(name string) (MergePolicy, bool) {
	p, ok := s.fields[name]
	return p, ok
}

// Fields returns the declared field names in declaration order.
func (s *Schema) Fields() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Merge applies a partial update to a base state and returns the result.
//
// For every field present in update: if the field's policy is Overwrite the
// updated value replaces the old one; if it is Accumulate the values are
// combined (prior first, update second). Fields absent from update pass
// through unchanged. Neither input is mutated.
//
// Writing a field the schema does not declare is an error: silent state
// growth hides exactly the wiring bugs the schema exists to catch.
func (s *Schema) Merge(base, update State) (State, error) {
	out := base.Clone()
	for field, value := range update {
		policy, ok := s.fields[field]
		if !ok {
			return nil, fmt.Errorf("state merge: field %q is not declared in the schema", field)
		}
		if policy == Overwrite {
			out[field] = value
			continue
		}
		prev, had := out[field]
		if !had || prev == nil {
			out[field] = value
			continue
		}
		combined, err := combine(prev, value)
		if err != nil {
			return nil, fmt.Errorf("state merge: field %q: %w", field, err)
		}
		out[field] = combined
	}
	return out, nil
}

// combine is the Accumulate combinator. It is associative and
// order-sensitive: slice values concatenate prior-then-next, map values
// union with next winning on key collision.
func combine(prev, next any) (any, error) {
	switch p := prev.(type) {
	case []string:
		n, ok := next.([]string)
		if !ok {
			return nil, fmt.Errorf("cannot combine []string with %T", next)
		}
		out := make([]string, 0, len(p)+len(n))
		out = append(out, p...)
		out = append(out, n...)
		return out, nil
	case []Document:
		n, ok := next.([]Document)
		if !ok {
			return nil, fmt.Errorf("cannot combine []Document with %T", next)
		}
		out := make([]Document, 0, len(p)+len(n))
		out = append(out, p...)
		out = append(out, n...)
		return out, nil
	case []any:
		n, ok := next.([]any)
		if !ok {
			return nil, fmt.Errorf("cannot combine []any with %T", next)
		}
		out := make([]any, 0, len(p)+len(n))
		out = append(out, p...)
		out = append(out, n...)
		return out, nil
	case map[string]string:
		n, ok := next.(map[string]string)
		if !ok {
			return nil, fmt.Errorf("cannot combine map[string]string with %T", next)
		}
		out := make(map[string]string, len(p)+len(n))
		for k, v := range p {
			out[k] = v
		}
		for k, v := range n {
			out[k] = v
		}
		return out, nil
	case map[string]any:
		n, ok := next.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("cannot combine map[string]any with %T", next)
		}
		out := make(map[string]any, len(p)+len(n))
		for k, v := range p {
			out[k] = v
		}
		for k, v := range n {
			out[k] = v
		}
		return out, nil
	default:
		return nil, fmt.Errorf("accumulate requires a slice or string-keyed map value, got %T", prev)
	}
}

// Get reads a typed field from the state. It returns a *MissingFieldError if
// no ancestor node (or the initial state) wrote the field; the engine never
// defaults missing fields.
func Get[T any](s State, field string) (T, error) {
	var zero T
	v, ok := s[field]
	if !ok {
		return zero, &MissingFieldError{Field: field}
	}
	typed, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("state field %q holds %T, not %T", field, v, zero)
	}
	return typed, nil
}

// GetOr reads a typed field, returning fallback when the field is absent.
// Use this only for fields that are genuinely optional; required inputs
// should go through Get so a missing ancestor write fails fast.
func GetOr[T any](s State, field string, fallback T) T {
	v, ok := s[field]
	if !ok {
		return fallback
	}
	typed, ok := v.(T)
	if !ok {
		return fallback
	}
	return typed
}
