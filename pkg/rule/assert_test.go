package rule

import (
	"strings"
	"testing"

	"github.com/oisee/ecsrule/pkg/emit"
)

func TestAssertProgramInvariantsCatchesOutOfBoundsJump(t *testing.T) {
	prog := &emit.Program{
		Ops: []emit.Operation{
			{Kind: emit.OpInput, OnOK: 1, OnFail: -1},
			{Kind: emit.OpYield, OnOK: -1, OnFail: 5},
		},
		VariableCount: 0,
	}
	err := assertProgramInvariants(prog)
	if err == nil {
		t.Fatal("expected an invariant violation for onfail=5")
	}
	if !strings.Contains(err.Error(), "onfail=5") {
		t.Errorf("error = %v, want it to mention onfail=5", err)
	}
}

func TestAssertProgramInvariantsAggregatesMultipleViolations(t *testing.T) {
	prog := &emit.Program{
		Ops: []emit.Operation{
			{Kind: emit.OpInput, OnOK: 99, OnFail: -1, HasIn: true, RIn: 40},
			{Kind: emit.OpYield, OnOK: -1, OnFail: -1},
		},
		VariableCount: 1,
	}
	err := assertProgramInvariants(prog)
	if err == nil {
		t.Fatal("expected invariant violations")
	}
	if !strings.Contains(err.Error(), "onok=99") || !strings.Contains(err.Error(), "rin=40") {
		t.Errorf("error = %v, want it to aggregate both the onok and rin violations", err)
	}
}

func TestAssertProgramInvariantsAcceptsAWellFormedProgram(t *testing.T) {
	prog := &emit.Program{
		Ops: []emit.Operation{
			{Kind: emit.OpInput, OnOK: 1, OnFail: -1},
			{Kind: emit.OpYield, OnOK: -1, OnFail: 0},
		},
		VariableCount: 0,
	}
	if err := assertProgramInvariants(prog); err != nil {
		t.Fatalf("unexpected violation: %v", err)
	}
}
