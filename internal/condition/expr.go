package condition

import (
	exprlang "github.com/expr-lang/expr"

	"github.com/rpattn/versioned/internal/domain"
)

func compileExpr(expression string, _ []domain.FieldDefinition) (func(map[string]any) (any, error), error) {
	program, err := exprlang.Compile(expression,
		exprlang.Env(map[string]any{}),
		exprlang.AllowUndefinedVariables(),
	)
	if err != nil {
		return nil, err
	}
	return func(env map[string]any) (any, error) {
		return exprlang.Run(program, env)
	}, nil
}
