// Package vm implements the rule solver's evaluation VM: a backtracking
// interpreter with per-opcode scratch state, a per-frame register file,
// and a per-frame column array so operations resumed with redo=true can
// continue from where they left off.
package vm

import (
	"github.com/oisee/ecsrule/pkg/emit"
	"github.com/oisee/ecsrule/pkg/pair"
	"github.com/oisee/ecsrule/pkg/variable"
	"github.com/oisee/ecsrule/pkg/world"
)

// World is the small, enumerated interface the VM calls into the ECS
// world through (spec.md §6). *world.World implements it; nothing in
// this package depends on the world's internal representation.
type World interface {
	TableSet(f pair.Filter) []world.TableRecord
	TableFromEntity(e pair.Id) (*world.Table, bool)
	RecordOf(e pair.Id) (world.Record, bool)
	IsTransitive(pred pair.Id) bool
}

// regVal is one register cell: a tagged union of {entity id, table
// pointer}. Valid is false for an unwritten register, which behaves as
// Wildcard when substituted into a filter.
type regVal struct {
	entity  pair.Id
	table   *world.Table
	isTable bool
	valid   bool
}

// Result is what Next() exposes after a successful Yield.
type Result struct {
	// Count is the number of rows exposed: 0 or 1 for a boolean/entity
	// result, or a table's row count for a Table-kind "This".
	Count    int
	Table    *world.Table // non-nil when the output is Table-kind
	Entity   pair.Id      // valid when the output is a single entity
	HasEntity bool
}

// Iterator drives a compiled Program against a World, yielding once per
// Next() call.
type Iterator struct {
	prog  *emit.Program
	world World

	op   int
	redo bool

	regs [][]regVal // [opIndex][variableID]
	cols [][]int    // [opIndex][columnID]

	ctx []interface{} // per-op scratch, lazily allocated, typed by op kind

	result Result
}

// NewIterator allocates scratch and positions the iterator at op 0, with
// every register initialized to Wildcard (unwritten).
func NewIterator(prog *emit.Program, w World) *Iterator {
	n := len(prog.Ops)
	it := &Iterator{
		prog: prog,
		world: w,
		op:   0,
		redo: false,
		regs: make([][]regVal, n),
		cols: make([][]int, n),
		ctx:  make([]interface{}, n),
	}
	for i := range it.regs {
		it.regs[i] = make([]regVal, prog.VariableCount)
		it.cols[i] = make([]int, prog.ColumnCount)
	}
	return it
}

// Next runs the VM until the next Yield or until the program is
// exhausted, in which case it returns false forever after.
func (it *Iterator) Next() bool {
	for {
		if it.op == -1 {
			return false
		}
		k := it.op
		o := &it.prog.Ops[k]

		if o.Kind == emit.OpYield {
			if !it.redo {
				it.materialize(k)
				it.redo = true
				return true
			}
			it.op = o.OnFail
			it.redo = true
			continue
		}

		ok := it.step(k, it.redo)
		if ok {
			it.copyForward(k)
			it.op = o.OnOK
			it.redo = false
		} else {
			it.op = o.OnFail
			it.redo = true
		}
	}
}

// Free releases the iterator's scratch state. Idempotent.
func (it *Iterator) Free() {
	it.regs = nil
	it.cols = nil
	it.ctx = nil
	it.op = -1
}

// Variable reads a reified Entity-kind variable; returns (0, false) for
// a Table-kind variable or one not yet written.
func (it *Iterator) Variable(id int) (pair.Id, bool) {
	if id < 0 || id >= len(it.prog.Variables) {
		return 0, false
	}
	if it.prog.Variables[id].Kind != variable.KindEntity {
		return 0, false
	}
	// After a successful Next, it.op is the Yield, and the Yield's own
	// frame holds the registers the last successful op copied into it.
	frame := it.op
	if frame < 0 || frame >= len(it.regs) {
		return 0, false
	}
	rv := it.regs[frame][id]
	if !rv.valid {
		return 0, false
	}
	return rv.entity, true
}

func (it *Iterator) step(k int, redo bool) bool {
	o := &it.prog.Ops[k]
	switch o.Kind {
	case emit.OpInput:
		return !redo
	case emit.OpSelect:
		return it.stepSelect(k, redo)
	case emit.OpWith:
		return it.stepWith(k, redo)
	case emit.OpEach:
		return it.stepEach(k, redo)
	case emit.OpDfs:
		return it.stepDfs(k, redo)
	default:
		return false
	}
}

func (it *Iterator) copyForward(k int) {
	next := k + 1
	if next >= len(it.regs) {
		return
	}
	copy(it.regs[next], it.regs[k])
	copy(it.cols[next], it.cols[k])
}

// regLookup returns a pair.RegisterValue reader bound to frame k's
// registers, for use with pair.NewFilter's substitution callback.
func (it *Iterator) regLookup(k int) func(varID pair.Id) pair.RegisterValue {
	regs := it.regs[k]
	return func(varID pair.Id) pair.RegisterValue {
		i := int(varID)
		if i < 0 || i >= len(regs) || !regs[i].valid {
			return pair.RegisterValue{}
		}
		return pair.RegisterValue{Id: regs[i].entity, Valid: true}
	}
}

// buildFilter constructs the runtime Filter for op's Param, substituting
// frame k's current registers (the previous frame's view, since frame k
// has just been copied forward from k-1 and not yet written to by op).
func (it *Iterator) buildFilter(k int, o emit.Operation) pair.Filter {
	p := o.Param
	return pair.NewFilter(p.PredIsVar, p.ObjIsVar, p.Pred, p.Obj, p.IsBinary, it.regLookup(k))
}

func findRecordForTable(records []world.TableRecord, tbl *world.Table) (world.TableRecord, bool) {
	for _, r := range records {
		if r.Table == tbl {
			return r, true
		}
	}
	return world.TableRecord{}, false
}

// resolveInputTable resolves op's input register (or constant subject)
// to a table: directly if the register holds a table, or by looking up
// the entity's table if it holds an entity.
func (it *Iterator) resolveInputTable(k int, o emit.Operation) (*world.Table, bool) {
	if !o.HasIn {
		return it.world.TableFromEntity(o.Subject)
	}
	rv := it.regs[k][o.RIn]
	if !rv.valid {
		return nil, false
	}
	if rv.isTable {
		return rv.table, true
	}
	return it.world.TableFromEntity(rv.entity)
}

func (it *Iterator) materialize(yieldOp int) {
	o := &it.prog.Ops[yieldOp]
	r := Result{}
	if !o.HasIn {
		r.Count = 0
		it.result = r
		return
	}
	rv := it.regs[yieldOp][o.RIn]
	if !rv.valid {
		it.result = Result{Count: 0}
		return
	}
	if rv.isTable {
		r.Table = rv.table
		r.Count = len(rv.table.Entities)
	} else {
		r.Entity = rv.entity
		r.HasEntity = true
		r.Count = 1
	}
	it.result = r
}

// Result returns the output materialized by the most recent successful
// Next() call.
func (it *Iterator) Result() Result {
	return it.result
}
