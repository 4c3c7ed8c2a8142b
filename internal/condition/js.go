package condition

import (
	"fmt"

	"github.com/dop251/goja"

	"github.com/rpattn/versioned/internal/domain"
)

// compileJS compiles once; each evaluation gets its own runtime since goja
// runtimes are not safe for concurrent use.
func compileJS(expression string, _ []domain.FieldDefinition) (func(map[string]any) (any, error), error) {
	program, err := goja.Compile("condition", fmt.Sprintf("(function(){ return (%s); })()", expression), true)
	if err != nil {
		return nil, err
	}
	return func(env map[string]any) (any, error) {
		vm := goja.New()
		for name, value := range env {
			if err := vm.Set(name, value); err != nil {
				return nil, err
			}
		}
		value, err := vm.RunProgram(program)
		if err != nil {
			return nil, err
		}
		return value.Export(), nil
	}, nil
}
