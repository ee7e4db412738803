package emit

import (
	"testing"

	"github.com/oisee/ecsrule/pkg/pair"
	"github.com/oisee/ecsrule/pkg/variable"
)

const knows = pair.Id(1)
const eats = pair.Id(2)
const bob = pair.Id(10)

func compile(t *testing.T, terms []variable.Term) *Program {
	t.Helper()
	vr, err := variable.Analyze(terms)
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	return Emit(terms, vr)
}

func TestEmitInvariantsInputAndYield(t *testing.T) {
	terms := []variable.Term{
		{Pred: variable.Const(knows), Subj: variable.Var("."), HasObj: true, Obj: variable.Const(bob)},
	}
	p := compile(t, terms)

	if p.Ops[0].Kind != OpInput || p.Ops[0].OnOK != 1 || p.Ops[0].OnFail != -1 {
		t.Fatalf("op0 = %+v, want Input{OnOK:1, OnFail:-1}", p.Ops[0])
	}
	last := len(p.Ops) - 1
	if p.Ops[last].Kind != OpYield {
		t.Fatalf("last op = %v, want Yield", p.Ops[last].Kind)
	}
	if p.Ops[last].OnFail != last-1 {
		t.Errorf("Yield.OnFail = %d, want %d", p.Ops[last].OnFail, last-1)
	}
}

func TestEmitJumpTargetsWithinBounds(t *testing.T) {
	terms := []variable.Term{
		{Pred: variable.Const(knows), Subj: variable.Var("X"), HasObj: true, Obj: variable.Var("Y")},
	}
	p := compile(t, terms)
	for i, op := range p.Ops {
		if op.OnFail >= i {
			t.Errorf("op %d: OnFail=%d must be < %d", i, op.OnFail, i)
		}
		if op.OnOK != -1 && (op.OnOK < i+1 || op.OnOK > len(p.Ops)) {
			t.Errorf("op %d: OnOK=%d out of range", i, op.OnOK)
		}
	}
}

func TestEmitMinimumProgramLength(t *testing.T) {
	// Knows(., Bob): at least Input, one data op, Yield.
	terms := []variable.Term{
		{Pred: variable.Const(knows), Subj: variable.Var("."), HasObj: true, Obj: variable.Const(bob)},
	}
	p := compile(t, terms)
	if len(p.Ops) < 3 {
		t.Fatalf("len(Ops) = %d, want >= 3", len(p.Ops))
	}
}

func TestEmitNoUseBeforeWrite(t *testing.T) {
	terms := []variable.Term{
		{Pred: variable.Const(knows), Subj: variable.Var("X"), HasObj: true, Obj: variable.Var("Y")},
		{Pred: variable.Const(knows), Subj: variable.Var("Y"), HasObj: true, Obj: variable.Var("Z")},
	}
	p := compile(t, terms)

	written := map[int]bool{}
	for i, op := range p.Ops {
		if op.HasIn && op.RIn != NoRegister && !written[op.RIn] {
			t.Fatalf("op %d (%v) reads register %d before it is written", i, op.Kind, op.RIn)
		}
		if op.HasOut {
			written[op.ROut] = true
		}
	}
}

// TestEmitStragglerOrderIsDeterministic builds a rule with two variables
// (Y, Z) that are each used as an object of X's terms before their own
// subject terms are processed. X's terms mark both Entity-written, so
// their own terms compile to With ops reading the Entity registers.
// Compiling the same rule repeatedly must produce identical output.
func TestEmitStragglerOrderIsDeterministic(t *testing.T) {
	terms := []variable.Term{
		{Pred: variable.Const(eats), Subj: variable.Var("X"), HasObj: true, Obj: variable.Var("Y")},
		{Pred: variable.Const(eats), Subj: variable.Var("X"), HasObj: true, Obj: variable.Var("Z")},
		{Pred: variable.Const(knows), Subj: variable.Var("Y"), HasObj: true, Obj: variable.Var("A")},
		{Pred: variable.Const(knows), Subj: variable.Var("Z"), HasObj: true, Obj: variable.Var("B")},
	}

	first := compile(t, terms)
	for i := 0; i < 20; i++ {
		again := compile(t, terms)
		if len(again.Ops) != len(first.Ops) {
			t.Fatalf("run %d: len(Ops) = %d, want %d", i, len(again.Ops), len(first.Ops))
		}
		for j := range first.Ops {
			a, b := first.Ops[j], again.Ops[j]
			if a.Kind != b.Kind || a.RIn != b.RIn || a.ROut != b.ROut || a.HasIn != b.HasIn || a.HasOut != b.HasOut {
				t.Fatalf("run %d: op %d differs: %+v vs %+v", i, j, a, b)
			}
		}
	}
}

func TestEmitZeroSubjectVariablesYieldsBoolean(t *testing.T) {
	terms := []variable.Term{
		{Pred: variable.Const(knows), Subj: variable.Const(bob), HasObj: true, Obj: variable.Const(bob)},
	}
	p := compile(t, terms)
	last := p.Ops[len(p.Ops)-1]
	if last.HasIn {
		t.Error("Yield should have no input register for a fixed-entity rule")
	}
}
