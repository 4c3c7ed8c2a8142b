// Package condition compiles textual capture predicates for versioned entities.
package condition

import (
	"fmt"
	"log"
	"strings"

	"github.com/rpattn/versioned/internal/domain"
)

// Engine names an expression language.
type Engine string

const (
	EngineExpr Engine = "expr"
	EngineCEL  Engine = "cel"
	EngineJS   Engine = "js"
)

// Predicate decides whether a pending save should capture a version.
type Predicate func(rec domain.Record) bool

// ParseEngine resolves an engine name; empty selects expr.
func ParseEngine(value string) (Engine, error) {
	switch Engine(strings.ToLower(strings.TrimSpace(value))) {
	case "", EngineExpr:
		return EngineExpr, nil
	case EngineCEL:
		return EngineCEL, nil
	case EngineJS, "javascript":
		return EngineJS, nil
	default:
		return "", fmt.Errorf("unsupported condition engine %q", value)
	}
}

// Compile turns expression into a Predicate. Every declared field is exposed by
// name, together with record (all fields), kind (the record subtype) and version
// (the current counter). Evaluation errors and non-boolean results count as false.
func Compile(engine Engine, expression string, fields []domain.FieldDefinition) (Predicate, error) {
	expression = strings.TrimSpace(expression)
	if expression == "" {
		return nil, fmt.Errorf("condition expression must not be empty")
	}

	var (
		eval func(map[string]any) (any, error)
		err  error
	)
	switch engine {
	case "", EngineExpr:
		eval, err = compileExpr(expression, fields)
	case EngineCEL:
		eval, err = compileCEL(expression, fields)
	case EngineJS:
		eval, err = compileJS(expression, fields)
	default:
		return nil, fmt.Errorf("unsupported condition engine %q", engine)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to compile condition %q: %w", expression, err)
	}

	return func(rec domain.Record) bool {
		result, err := eval(environment(rec, fields))
		if err != nil {
			log.Printf("[condition] %q failed for %s: %v", expression, rec.ID, err)
			return false
		}
		ok, isBool := result.(bool)
		if !isBool {
			log.Printf("[condition] %q returned %T, not bool", expression, result)
			return false
		}
		return ok
	}, nil
}

func environment(rec domain.Record, fields []domain.FieldDefinition) map[string]any {
	values := make(map[string]any, len(fields))
	for _, field := range fields {
		value := rec.Get(field.Name)
		if coerced, err := field.Type.Coerce(value); err == nil {
			value = coerced
		}
		values[field.Name] = value
	}

	env := make(map[string]any, len(values)+3)
	for name, value := range values {
		env[name] = value
	}
	env["record"] = values
	env["kind"] = rec.Type
	env["version"] = rec.Version
	return env
}
