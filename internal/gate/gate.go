// Package gate decides whether a pipeline stage is admitted to execution.
//
// A gate is compiled once when the execution plan is built and evaluated
// against the run's context immediately before the stage would start. Gates
// fail closed: a predicate the evaluator does not recognize skips the stage
// and surfaces a configuration error instead of silently running it.
package gate

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Context carries the run attributes a predicate may reference.
type Context struct {
	Branch string
	Commit string
	Build  string
	Env    map[string]string
}

// Decision is the outcome of evaluating a gate.
type Decision int

const (
	// Admit lets the stage run.
	Admit Decision = iota
	// Skip holds the stage back without failing the run.
	Skip
)

// Config is the raw predicate as it appears in the pipeline file. Keys the
// parser did not recognize are preserved in Unknown so evaluation can report
// them rather than ignore them.
type Config struct {
	Branch   string
	Branches []string
	Expr     string
	Unknown  []string
}

// exprEnv is the typed environment expression predicates are compiled
// against. Referencing a name outside this set is a compile error.
type exprEnv struct {
	Branch string            `expr:"branch"`
	Commit string            `expr:"commit"`
	Build  string            `expr:"build"`
	Env    map[string]string `expr:"env"`
}

// Gate is a compiled stage predicate. The zero value admits everything.
type Gate struct {
	branch   string
	branches []string
	exprSrc  string
	program  *vm.Program
	unknown  []string
}

// Compile validates a predicate configuration and compiles any expression it
// contains. Unknown predicate keys do not fail compilation; they are carried
// into the gate so evaluation reports them as a configuration error.
func Compile(cfg Config) (*Gate, error) {
	g := &Gate{
		branch:   cfg.Branch,
		branches: cfg.Branches,
		exprSrc:  cfg.Expr,
		unknown:  cfg.Unknown,
	}

	if cfg.Expr != "" {
		program, err := expr.Compile(cfg.Expr, expr.Env(exprEnv{}), expr.AsBool())
		if err != nil {
			return nil, fmt.Errorf("compiling predicate %q: %w", cfg.Expr, err)
		}
		g.program = program
	}

	return g, nil
}

// ConfigError reports a predicate the evaluator refuses to act on. The stage
// it guards is skipped, never executed.
type ConfigError struct {
	Keys []string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("unrecognized gate predicate: %s", strings.Join(e.Keys, ", "))
}

// IsConfigError reports whether err is a gate configuration error.
func IsConfigError(err error) bool {
	_, ok := err.(*ConfigError)
	return ok
}

// Evaluate applies the gate to a run context. All configured predicates must
// admit for the stage to run. An unrecognized predicate returns Skip together
// with a *ConfigError.
func (g *Gate) Evaluate(ctx Context) (Decision, error) {
	if g == nil {
		return Admit, nil
	}
	if len(g.unknown) > 0 {
		return Skip, &ConfigError{Keys: g.unknown}
	}

	if g.branch != "" && ctx.Branch != g.branch {
		return Skip, nil
	}

	if len(g.branches) > 0 {
		matched := false
		for _, b := range g.branches {
			if ctx.Branch == b {
				matched = true
				break
			}
		}
		if !matched {
			return Skip, nil
		}
	}

	if g.program != nil {
		out, err := expr.Run(g.program, exprEnv{
			Branch: ctx.Branch,
			Commit: ctx.Commit,
			Build:  ctx.Build,
			Env:    ctx.Env,
		})
		if err != nil {
			return Skip, fmt.Errorf("evaluating predicate %q: %w", g.exprSrc, err)
		}
		if ok, _ := out.(bool); !ok {
			return Skip, nil
		}
	}

	return Admit, nil
}
