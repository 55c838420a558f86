// Package condition interprets the structured boolean expressions stored on
// document rules and conditional approval steps.
//
// An expression is either a single comparison
//
//	{"field": "derived_tier", "operator": "in", "values": ["sat", "above_sat"]}
//
// or a composite {"allOf": [...]} / {"anyOf": [...]}, nested to any depth.
// Evaluation never fails: an expression that cannot be parsed, or that is
// structurally malformed, evaluates to false.
package condition

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Operator is a comparison operator.
type Operator string

const (
	OpExists Operator = "exists"
	OpIn     Operator = "in"
	OpNotIn  Operator = "not_in"
	OpEq     Operator = "=="
	OpNe     Operator = "!="
	OpGt     Operator = ">"
	OpLt     Operator = "<"
	OpGte    Operator = ">="
	OpLte    Operator = "<="
)

// Known reports whether op is a supported operator.
func (op Operator) Known() bool {
	switch op {
	case OpExists, OpIn, OpNotIn, OpEq, OpNe, OpGt, OpLt, OpGte, OpLte:
		return true
	}
	return false
}

// Expr is a parsed condition expression. Exactly one of AllOf, AnyOf or
// Field is meaningful; when a stored object carries more than one, allOf
// takes precedence over anyOf, and both over a single comparison.
type Expr struct {
	AllOf []Expr
	AnyOf []Expr

	Field    string
	Operator Operator
	Value    any
	Values   []any

	hasValue  bool
	hasValues bool
	composite bool
}

// IsComposite reports whether e is an allOf/anyOf node.
func (e Expr) IsComposite() bool {
	return e.composite || e.AllOf != nil || e.AnyOf != nil
}

type wireExpr struct {
	AllOf    json.RawMessage `json:"allOf,omitempty"`
	AnyOf    json.RawMessage `json:"anyOf,omitempty"`
	Field    *string         `json:"field,omitempty"`
	Operator *string         `json:"operator,omitempty"`
	Value    json.RawMessage `json:"value,omitempty"`
	Values   json.RawMessage `json:"values,omitempty"`
}

// UnmarshalJSON decodes a stored expression.
func (e *Expr) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return errors.New("condition must be an object")
	}
	var w wireExpr
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	*e = Expr{}
	switch {
	case w.AllOf != nil:
		subs, err := decodeList(w.AllOf)
		if err != nil {
			return fmt.Errorf("allOf: %w", err)
		}
		e.AllOf, e.composite = subs, true
		return nil
	case w.AnyOf != nil:
		subs, err := decodeList(w.AnyOf)
		if err != nil {
			return fmt.Errorf("anyOf: %w", err)
		}
		e.AnyOf, e.composite = subs, true
		return nil
	}

	if w.Field == nil || *w.Field == "" {
		return errors.New("condition requires a field")
	}
	if w.Operator == nil || *w.Operator == "" {
		return errors.New("condition requires an operator")
	}
	e.Field = *w.Field
	e.Operator = Operator(*w.Operator)

	if w.Value != nil {
		if err := json.Unmarshal(w.Value, &e.Value); err != nil {
			return fmt.Errorf("value: %w", err)
		}
		e.hasValue = true
	}
	if w.Values != nil {
		if err := json.Unmarshal(w.Values, &e.Values); err != nil {
			return fmt.Errorf("values must be a list: %w", err)
		}
		e.hasValues = true
	}
	return nil
}

func decodeList(raw json.RawMessage) ([]Expr, error) {
	var subs []Expr
	if err := json.Unmarshal(raw, &subs); err != nil {
		return nil, err
	}
	return subs, nil
}

// MarshalJSON encodes e in its canonical stored form.
func (e Expr) MarshalJSON() ([]byte, error) {
	switch {
	case e.AllOf != nil || (e.composite && e.AnyOf == nil):
		return json.Marshal(map[string][]Expr{"allOf": nonNil(e.AllOf)})
	case e.AnyOf != nil:
		return json.Marshal(map[string][]Expr{"anyOf": e.AnyOf})
	}

	out := struct {
		Field    string   `json:"field"`
		Operator Operator `json:"operator"`
		Value    *any     `json:"value,omitempty"`
		Values   *[]any   `json:"values,omitempty"`
	}{Field: e.Field, Operator: e.Operator}
	if e.hasValue || e.Value != nil {
		v := e.Value
		out.Value = &v
	}
	if e.hasValues || e.Values != nil {
		vs := nonNil(e.Values)
		out.Values = &vs
	}
	return json.Marshal(out)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// Parse decodes a stored expression. It reports syntax errors only; use
// Validate for authoring-time checks.
func Parse(text string) (Expr, error) {
	var e Expr
	if err := json.Unmarshal([]byte(text), &e); err != nil {
		return Expr{}, err
	}
	return e, nil
}

// Validate parses text and checks that it is well formed: every composite
// is non-empty, every operator is known, list operators carry values and
// comparison operators carry a value. It returns the canonical encoding.
func Validate(text string) (string, error) {
	e, err := Parse(text)
	if err != nil {
		return "", err
	}
	if err := e.validate("$"); err != nil {
		return "", err
	}
	canonical, err := json.Marshal(e)
	if err != nil {
		return "", err
	}
	return string(canonical), nil
}

func (e Expr) validate(path string) error {
	if e.IsComposite() {
		subs, key := e.AllOf, "allOf"
		if subs == nil {
			subs, key = e.AnyOf, "anyOf"
		}
		if len(subs) == 0 {
			return fmt.Errorf("%s.%s: must not be empty", path, key)
		}
		for i, sub := range subs {
			if err := sub.validate(fmt.Sprintf("%s.%s[%d]", path, key, i)); err != nil {
				return err
			}
		}
		return nil
	}

	if !e.Operator.Known() {
		return fmt.Errorf("%s: unknown operator %q", path, e.Operator)
	}
	switch e.Operator {
	case OpIn, OpNotIn:
		if !e.hasValues && e.Values == nil {
			return fmt.Errorf("%s: operator %q requires values", path, e.Operator)
		}
	case OpExists:
	default:
		if !e.hasValue && e.Value == nil {
			return fmt.Errorf("%s: operator %q requires a value", path, e.Operator)
		}
	}
	return nil
}
