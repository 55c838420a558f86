package condition

import (
	"strconv"
	"strings"
)

// Record exposes a whitelisted set of fields to the evaluator. Field reports
// false for names outside the whitelist; those evaluate as missing.
type Record interface {
	Field(name string) (any, bool)
}

// Fields is a map-backed Record.
type Fields map[string]any

// Field implements Record.
func (f Fields) Field(name string) (any, bool) {
	v, ok := f[name]
	return v, ok
}

// EvaluateJSON parses text and evaluates it against rec. Empty or malformed
// text evaluates to false.
func EvaluateJSON(text string, rec Record) bool {
	if strings.TrimSpace(text) == "" {
		return false
	}
	e, err := Parse(text)
	if err != nil {
		return false
	}
	return Evaluate(e, rec)
}

// Evaluate reports whether e holds for rec.
func Evaluate(e Expr, rec Record) bool {
	if e.IsComposite() {
		switch {
		case e.AllOf != nil || e.AnyOf == nil:
			if len(e.AllOf) == 0 {
				return false
			}
			for _, sub := range e.AllOf {
				if !Evaluate(sub, rec) {
					return false
				}
			}
			return true
		default:
			if len(e.AnyOf) == 0 {
				return false
			}
			for _, sub := range e.AnyOf {
				if Evaluate(sub, rec) {
					return true
				}
			}
			return false
		}
	}
	return evaluateSingle(e, rec)
}

func evaluateSingle(e Expr, rec Record) bool {
	if e.Field == "" || !e.Operator.Known() {
		return false
	}

	var actual any
	if rec != nil {
		if v, ok := rec.Field(e.Field); ok {
			actual = normalize(v)
		}
	}

	switch e.Operator {
	case OpExists:
		return actual != nil
	case OpIn:
		return contains(e.Values, actual)
	case OpNotIn:
		return !contains(e.Values, actual)
	case OpEq:
		return equal(actual, normalize(e.Value))
	case OpNe:
		return !equal(actual, normalize(e.Value))
	}

	lhs, rhs := toFloat(actual), toFloat(normalize(e.Value))
	switch e.Operator {
	case OpGt:
		return lhs > rhs
	case OpLt:
		return lhs < rhs
	case OpGte:
		return lhs >= rhs
	case OpLte:
		return lhs <= rhs
	}
	return false
}

func contains(values []any, actual any) bool {
	for _, v := range values {
		if equal(actual, normalize(v)) {
			return true
		}
	}
	return false
}

// equal compares two normalized values without type coercion.
func equal(a, b any) bool {
	switch av := a.(type) {
	case nil:
		return b == nil
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case float64:
		bv, ok := b.(float64)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	}
	return false
}

// normalize folds Go values onto the JSON value space (nil, string, float64,
// bool). Empty strings and nil pointers become nil so that unset text fields
// read as missing.
func normalize(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case string:
		if x == "" {
			return nil
		}
		return x
	case *string:
		if x == nil || *x == "" {
			return nil
		}
		return *x
	case bool:
		return x
	case *bool:
		if x == nil {
			return nil
		}
		return *x
	case float64:
		return x
	case *float64:
		if x == nil {
			return nil
		}
		return *x
	case float32:
		return float64(x)
	case int:
		return float64(x)
	case *int:
		if x == nil {
			return nil
		}
		return float64(*x)
	case int32:
		return float64(x)
	case int64:
		return float64(x)
	case interface{ String() string }:
		return normalize(x.String())
	}
	return v
}

// toFloat coerces a normalized value for numeric comparison. Missing and
// unparsable values are 0.
func toFloat(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case bool:
		if x {
			return 1
		}
		return 0
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0
		}
		return f
	}
	return 0
}
