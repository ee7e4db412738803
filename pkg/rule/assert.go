package rule

import (
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/oisee/ecsrule/pkg/emit"
)

// assertProgramInvariants re-checks the structural invariants pkg/emit's
// own tests assert at the unit level, but at the boundary where a caller
// could have handed New a hand-built or corrupted Program through some
// future entry point. Every violation found is collected, not just the
// first, so a single bad emission doesn't hide a second one behind it.
//
// This only ever fires on a pkg/emit bug; New's recover converts it to
// ErrInternal, matching spec.md's "assertions are fatal" contract.
func assertProgramInvariants(prog *emit.Program) error {
	var result *multierror.Error
	n := len(prog.Ops)

	for i, op := range prog.Ops {
		if op.OnOK < -1 || op.OnOK >= n {
			result = multierror.Append(result, fmt.Errorf("op %d: onok=%d out of bounds [-1,%d)", i, op.OnOK, n))
		}
		if op.OnFail < -1 || op.OnFail >= n {
			result = multierror.Append(result, fmt.Errorf("op %d: onfail=%d out of bounds [-1,%d)", i, op.OnFail, n))
		}
		if op.HasIn && (op.RIn < 0 || op.RIn >= prog.VariableCount) {
			result = multierror.Append(result, fmt.Errorf("op %d: rin=%d out of bounds [0,%d)", i, op.RIn, prog.VariableCount))
		}
		if op.HasOut && (op.ROut < 0 || op.ROut >= prog.VariableCount) {
			result = multierror.Append(result, fmt.Errorf("op %d: rout=%d out of bounds [0,%d)", i, op.ROut, prog.VariableCount))
		}
	}
	if n == 0 || prog.Ops[0].Kind != emit.OpInput {
		result = multierror.Append(result, fmt.Errorf("program must start with Input, got %d ops", n))
	}
	if n > 0 && prog.Ops[n-1].Kind != emit.OpYield {
		result = multierror.Append(result, fmt.Errorf("program must end with Yield"))
	}

	return result.ErrorOrNil()
}
