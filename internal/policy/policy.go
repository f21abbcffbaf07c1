// Package policy evaluates an optional CEL admission expression that decides
// whether a freshly loaded value may enter the cache. Expressions see the
// candidate entry's key, size and prior hit count, e.g.
//
//	sizeBytes < 1048576 && !key.startsWith("tmp:")
//
// Evaluation failures fail open: a broken policy logs and admits rather than
// silently emptying the cache.
package policy

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
)

// Admission wraps one compiled admission expression. A nil Admission admits
// everything.
type Admission struct {
	source  string
	program cel.Program
	logger  *slog.Logger
}

// Compile builds the admission policy from a CEL expression. Empty or
// whitespace-only expressions return nil, meaning admit-all.
func Compile(expression string, logger *slog.Logger) (*Admission, error) {
	expression = strings.TrimSpace(expression)
	if expression == "" {
		return nil, nil
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	env, err := cel.NewEnv(
		cel.Variable("key", cel.StringType),
		cel.Variable("sizeBytes", cel.IntType),
		cel.Variable("hits", cel.IntType),
		cel.HomogeneousAggregateLiterals(),
	)
	if err != nil {
		return nil, fmt.Errorf("policy: build environment: %w", err)
	}

	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("policy: compile %q: %w", expression, issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("policy: expression %q must yield a boolean, got %s", expression, ast.OutputType())
	}

	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("policy: program %q: %w", expression, err)
	}

	return &Admission{
		source:  expression,
		program: program,
		logger:  logger.With(slog.String("component", "admission_policy")),
	}, nil
}

// Admit reports whether the candidate entry may be cached.
func (a *Admission) Admit(key string, sizeBytes, hits int64) bool {
	if a == nil {
		return true
	}
	val, _, err := a.program.Eval(map[string]any{
		"key":       key,
		"sizeBytes": sizeBytes,
		"hits":      hits,
	})
	if err != nil {
		a.logger.Warn("admission evaluation failed, admitting",
			slog.String("expression", a.source),
			slog.String("key", key),
			slog.Any("error", err))
		return true
	}
	switch v := val.(type) {
	case types.Bool:
		return bool(v)
	case ref.Val:
		if b, ok := v.Value().(bool); ok {
			return b
		}
	}
	a.logger.Warn("admission yielded non-bool result, admitting",
		slog.String("expression", a.source),
		slog.String("key", key))
	return true
}

// Source returns the original CEL expression for logging.
func (a *Admission) Source() string {
	if a == nil {
		return ""
	}
	return a.source
}
