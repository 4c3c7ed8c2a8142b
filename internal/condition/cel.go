package condition

import (
	celgo "github.com/google/cel-go/cel"

	"github.com/rpattn/versioned/internal/domain"
)

func compileCEL(expression string, fields []domain.FieldDefinition) (func(map[string]any) (any, error), error) {
	opts := []celgo.EnvOption{
		celgo.Variable("record", celgo.MapType(celgo.StringType, celgo.DynType)),
		celgo.Variable("kind", celgo.StringType),
		celgo.Variable("version", celgo.IntType),
	}
	for _, field := range fields {
		switch field.Name {
		case "record", "kind", "version":
			continue
		}
		opts = append(opts, celgo.Variable(field.Name, celgo.DynType))
	}

	env, err := celgo.NewEnv(opts...)
	if err != nil {
		return nil, err
	}
	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, issues.Err()
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, err
	}
	return func(vars map[string]any) (any, error) {
		out, _, err := prg.Eval(vars)
		if err != nil {
			return nil, err
		}
		return out.Value(), nil
	}, nil
}
