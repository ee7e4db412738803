// Package emit implements the rule solver's program emitter: it walks a
// term list in variable order and produces a linear sequence of opcodes
// with register assignments, jump targets, and inline pair filters.
package emit

import (
	"github.com/oisee/ecsrule/pkg/pair"
	"github.com/oisee/ecsrule/pkg/variable"
)

// Op identifies an opcode in the emitted program.
type Op int

const (
	OpInput Op = iota
	OpSelect
	OpDfs
	OpWith
	OpEach
	OpYield
)

func (o Op) String() string {
	switch o {
	case OpInput:
		return "Input"
	case OpSelect:
		return "Select"
	case OpDfs:
		return "Dfs"
	case OpWith:
		return "With"
	case OpEach:
		return "Each"
	case OpYield:
		return "Yield"
	default:
		return "?"
	}
}

// NoRegister is the MAX sentinel from spec.md: an operation with RIn ==
// NoRegister has no input register and instead reads Subject directly.
const NoRegister = -1

// Pair is the compiled (predicate, object) half of a term: the subject
// is carried on the owning Operation instead, since it drives op choice.
type Pair struct {
	Pred       pair.Id // concrete id, or the Entity-kind variable id if PredIsVar
	Obj        pair.Id
	PredIsVar  bool
	ObjIsVar   bool
	IsBinary   bool
	Transitive bool
}

// Operation is one emitted instruction.
type Operation struct {
	Kind    Op
	Param   Pair
	Subject pair.Id // constant subject id, meaningful only when RIn == NoRegister

	OnOK   int // jump target on success, -1 terminates
	OnFail int // jump target on failure, -1 terminates

	Column int // index into the rule's term list, for stashing matches; -1 if unused

	RIn    int
	ROut   int
	HasIn  bool
	HasOut bool
}

// Program is the emitted bytecode plus the bookkeeping the VM needs to
// size its register/column arrays.
type Program struct {
	Ops           []Operation
	Variables     []variable.Variable
	VariableCount int
	ColumnCount   int
	ThisVar       int // variable id to expose at Yield, or NoRegister
	ThisIsTable   bool
}

type emitter struct {
	ops           []Operation
	vars          []variable.Variable
	tableID       map[string]int
	entityID      map[string]int
	tableWritten  map[string]bool
	entityWritten map[string]bool
}

func (e *emitter) add(op Operation) int {
	idx := len(e.ops)
	e.ops = append(e.ops, op)
	return idx
}

// wire fills the standard forward/backward jump targets for a
// sequentially emitted operation: on success, go to the slot that will
// be filled next; on failure, retry the previous operation with redo.
func wire(op *Operation, addr int) {
	op.OnOK = addr + 1
	op.OnFail = addr - 1
}

func buildPair(t variable.Term, vr *variable.Result) Pair {
	p := Pair{IsBinary: t.HasObj, Transitive: t.Transitive}
	if t.Pred.Kind == variable.SlotVar {
		p.PredIsVar = true
		p.Pred = pair.Id(vr.EntityID[t.Pred.Name])
	} else {
		p.Pred = t.Pred.Const
	}
	if t.HasObj {
		if t.Obj.Kind == variable.SlotVar {
			p.ObjIsVar = true
			p.Obj = pair.Id(vr.EntityID[t.Obj.Name])
		} else {
			p.Obj = t.Obj.Const
		}
	}
	return p
}

// writeVariable translates a Table-written-but-not-yet-Entity-written
// variable into an Entity register, emitting an Each op, so that a
// filter about to reference it substitutes a concrete value instead of
// treating it as wildcard.
func (e *emitter) writeVariable(name string, vr *variable.Result) {
	if e.entityWritten[name] {
		return
	}
	if !e.tableWritten[name] {
		return
	}
	entID, ok := vr.EntityID[name]
	if !ok {
		return
	}
	tblID := vr.TableID[name]
	addr := len(e.ops)
	op := Operation{
		Kind:   OpEach,
		RIn:    tblID,
		ROut:   entID,
		HasIn:  true,
		HasOut: true,
		Column: -1,
	}
	wire(&op, addr)
	e.add(op)
	e.entityWritten[name] = true
}

func (e *emitter) prepareTermInputs(t variable.Term, vr *variable.Result) {
	if t.Pred.Kind == variable.SlotVar {
		e.writeVariable(t.Pred.Name, vr)
	}
	if t.HasObj && t.Obj.Kind == variable.SlotVar {
		e.writeVariable(t.Obj.Name, vr)
	}
}

func (e *emitter) markTermOutputs(t variable.Term) {
	if t.Pred.Kind == variable.SlotVar {
		e.entityWritten[t.Pred.Name] = true
	}
	if t.HasObj && t.Obj.Kind == variable.SlotVar {
		e.entityWritten[t.Obj.Name] = true
	}
}

// Emit compiles terms (already analyzed into vr) into a Program.
func Emit(terms []variable.Term, vr *variable.Result) *Program {
	e := &emitter{
		vars:          vr.Variables,
		tableID:       vr.TableID,
		entityID:      vr.EntityID,
		tableWritten:  map[string]bool{},
		entityWritten: map[string]bool{},
	}

	// 1. Input at position 0.
	e.add(Operation{Kind: OpInput, OnOK: 1, OnFail: -1, Column: -1, RIn: NoRegister, ROut: NoRegister})

	// 2. Constant-subject terms.
	for i, t := range terms {
		if t.Subj.Kind != variable.SlotConst {
			continue
		}
		e.prepareTermInputs(t, vr)
		addr := len(e.ops)
		op := Operation{
			Kind:    OpWith,
			Param:   buildPair(t, vr),
			Subject: t.Subj.Const,
			RIn:     NoRegister,
			ROut:    NoRegister,
			Column:  i,
		}
		wire(&op, addr)
		e.add(op)
		e.markTermOutputs(t)
	}

	// 3. Subject variables in sort order.
	for _, v := range vr.Variables {
		if v.Kind != variable.KindTable {
			continue
		}
		for i, t := range terms {
			if t.Subj.Kind != variable.SlotVar || t.Subj.Name != v.Name {
				continue
			}
			e.prepareTermInputs(t, vr)

			var op Operation
			switch {
			case e.entityWritten[v.Name]:
				op = Operation{Kind: OpWith, RIn: vr.EntityID[v.Name], HasIn: true}
			case e.tableWritten[v.Name]:
				op = Operation{Kind: OpWith, RIn: vr.TableID[v.Name], HasIn: true}
			default:
				kind := OpSelect
				if t.Transitive {
					kind = OpDfs
				}
				op = Operation{Kind: kind, RIn: NoRegister, ROut: v.ID, HasOut: true}
				e.tableWritten[v.Name] = true
			}
			op.Param = buildPair(t, vr)
			op.Column = i
			addr := len(e.ops)
			wire(&op, addr)
			e.add(op)
			e.markTermOutputs(t)
		}
	}

	// 4. Straggler Entity-kind variables whose Table companion was
	// written but never translated. Iterate vr.Variables (already
	// stably sorted) rather than the tableWritten map directly, so two
	// simultaneously pending stragglers always emit in the same order.
	for _, v := range vr.Variables {
		if e.tableWritten[v.Name] {
			e.writeVariable(v.Name, vr)
		}
	}

	// 5. Yield.
	thisVar := NoRegister
	thisIsTable := false
	if entID, ok := vr.EntityID["."]; ok {
		thisVar = entID
	} else if tblID, ok := vr.TableID["."]; ok {
		thisVar = tblID
		thisIsTable = true
	}
	yieldAddr := len(e.ops)
	e.add(Operation{
		Kind:   OpYield,
		RIn:    thisVar,
		HasIn:  thisVar != NoRegister,
		OnOK:   -1,
		OnFail: yieldAddr - 1,
		Column: -1,
		ROut:   NoRegister,
	})

	return &Program{
		Ops:           e.ops,
		Variables:     vr.Variables,
		VariableCount: len(vr.Variables),
		ColumnCount:   len(terms),
		ThisVar:       thisVar,
		ThisIsTable:   thisIsTable,
	}
}
