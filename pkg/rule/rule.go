// Package rule is the compiler façade: it wires pkg/sig, pkg/variable,
// pkg/emit, and pkg/vm behind the small surface a caller needs to
// compile a rule expression and iterate its matches.
package rule

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hashicorp/go-hclog"

	"github.com/oisee/ecsrule/pkg/emit"
	"github.com/oisee/ecsrule/pkg/sig"
	"github.com/oisee/ecsrule/pkg/variable"
	"github.com/oisee/ecsrule/pkg/vm"
	"github.com/oisee/ecsrule/pkg/world"
)

// Sentinel errors for the compile-time taxonomy. Use errors.Is against
// these; the wrapped message carries the offending name/count.
var (
	ErrParse            = errors.New("ecsrule: parse error")
	ErrTooManyVariables = errors.New("ecsrule: too many variables")
	ErrUnconstrained    = errors.New("ecsrule: unconstrained variable")
	ErrInternal         = errors.New("ecsrule: internal error")
)

var log = hclog.Default().Named("ecsrule")

// Rule is a compiled rule expression, ready to be iterated any number
// of times (including concurrently — Iter allocates fresh per-iteration
// state and Rule itself is never mutated after New returns).
type Rule struct {
	world *world.World
	prog  *emit.Program
	expr  string
}

// New parses expr against world and compiles it into a Rule. world must
// already have every predicate/entity name the expression can resolve
// interned (sig.Parse interns on the fly, so this is rarely a concern).
func New(w *world.World, expr string) (rl *Rule, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrInternal, r)
			log.Error("internal error compiling rule", "expr", expr, "panic", r)
		}
	}()

	terms, perr := sig.Parse(w, expr)
	if perr != nil {
		log.Warn("parse error", "expr", expr, "error", perr)
		return nil, fmt.Errorf("%w: %s", ErrParse, perr)
	}

	vr, verr := variable.Analyze(terms)
	if verr != nil {
		switch e := verr.(type) {
		case *variable.TooManyVariablesError:
			log.Warn("too many variables", "expr", expr, "count", e.Count)
			return nil, fmt.Errorf("%w: %s", ErrTooManyVariables, e)
		case *variable.UnconstrainedError:
			log.Warn("unconstrained variable", "expr", expr, "variable", e.Name)
			return nil, fmt.Errorf("%w: %s", ErrUnconstrained, e)
		default:
			return nil, fmt.Errorf("%w: %s", ErrInternal, verr)
		}
	}

	prog := emit.Emit(terms, vr)
	if verr := assertProgramInvariants(prog); verr != nil {
		panic(verr)
	}
	return &Rule{world: w, prog: prog, expr: expr}, nil
}

// Free releases the rule's compiled program, so a stale reference reads
// zero values rather than silently retaining memory.
func (r *Rule) Free() {
	r.prog = nil
	r.world = nil
}

// Iter starts a fresh iteration over the rule's matches. Multiple
// Iter() calls, including concurrent ones, are independent: Rule holds
// no mutable per-iteration state.
func (r *Rule) Iter() *vm.Iterator {
	return vm.NewIterator(r.prog, r.world)
}

// VariableCount returns the number of distinct variable records
// (Table-kind and Entity-kind are counted separately; see
// spec.md §9 on dual-kinded variables).
func (r *Rule) VariableCount() int {
	if r.prog == nil {
		return 0
	}
	return len(r.prog.Variables)
}

// FindVariable resolves a name to its first matching variable id,
// preferring the Entity-kind record if the name has one. Returns
// (-1, false) if the name never appears in the rule.
func (r *Rule) FindVariable(name string) (int, bool) {
	if id, ok := r.entityIDOf(name); ok {
		return id, true
	}
	if id, ok := r.tableIDOf(name); ok {
		return id, true
	}
	return -1, false
}

func (r *Rule) entityIDOf(name string) (int, bool) {
	if r.prog == nil {
		return -1, false
	}
	for i, v := range r.prog.Variables {
		if v.Name == name && v.Kind == variable.KindEntity {
			return i, true
		}
	}
	return -1, false
}

func (r *Rule) tableIDOf(name string) (int, bool) {
	if r.prog == nil {
		return -1, false
	}
	for i, v := range r.prog.Variables {
		if v.Name == name && v.Kind == variable.KindTable {
			return i, true
		}
	}
	return -1, false
}

// VariableName returns the name of variable id.
func (r *Rule) VariableName(id int) string {
	if r.prog == nil || id < 0 || id >= len(r.prog.Variables) {
		return ""
	}
	return r.prog.Variables[id].Name
}

// VariableIsEntity reports whether variable id is the Entity-kind
// record for its name.
func (r *Rule) VariableIsEntity(id int) bool {
	if r.prog == nil || id < 0 || id >= len(r.prog.Variables) {
		return false
	}
	return r.prog.Variables[id].Kind == variable.KindEntity
}

// String disassembles the compiled program, one line per operation. A
// freed Rule (prog == nil) disassembles to a message saying so, rather
// than panicking.
func (r *Rule) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "rule %q\n", r.expr)
	if r.prog == nil {
		fmt.Fprintf(&b, "  <freed>\n")
		return b.String()
	}
	for i, op := range r.prog.Ops {
		fmt.Fprintf(&b, "%4d: %-8s", i, op.Kind)
		if op.HasIn {
			fmt.Fprintf(&b, " in=r%d", op.RIn)
		}
		if op.HasOut {
			fmt.Fprintf(&b, " out=r%d", op.ROut)
		}
		fmt.Fprintf(&b, " onok=%d onfail=%d\n", op.OnOK, op.OnFail)
	}
	return b.String()
}
