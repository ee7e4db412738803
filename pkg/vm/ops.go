package vm

import (
	"github.com/oisee/ecsrule/pkg/emit"
	"github.com/oisee/ecsrule/pkg/pair"
	"github.com/oisee/ecsrule/pkg/world"
)

// recordCursor walks a table_set: it resumes a wildcard match within the
// current table before advancing to the next table in the set.
type recordCursor struct {
	records []world.TableRecord
	idx     int
}

// advance returns the next (table, column) satisfying f. On a fresh visit
// it scans forward from idx 0; on redo it first tries to extend the match
// within the current table (if f is a wildcard) before moving on.
func advance(rc *recordCursor, f pair.Filter, lastCol int, redo bool) (*world.Table, int, bool) {
	if redo {
		if f.Wildcard && rc.idx < len(rc.records) {
			tbl := rc.records[rc.idx].Table
			if col := pair.FindNextMatch(tbl.Type, lastCol+1, f); col >= 0 {
				return tbl, col, true
			}
		}
		rc.idx++
	}
	for rc.idx < len(rc.records) {
		rec := rc.records[rc.idx]
		if col := pair.FindNextMatch(rec.Table.Type, rec.Column, f); col >= 0 {
			return rec.Table, col, true
		}
		rc.idx++
	}
	return nil, -1, false
}

func (it *Iterator) reifySetter(k int) func(varID int, val pair.Id) {
	regs := it.regs[k]
	return func(varID int, val pair.Id) {
		regs[varID] = regVal{entity: val, valid: true}
	}
}

type selectCtx struct {
	filter  pair.Filter
	cursor  recordCursor
}

func (it *Iterator) selectCtx(k int) *selectCtx {
	if it.ctx[k] == nil {
		it.ctx[k] = &selectCtx{}
	}
	return it.ctx[k].(*selectCtx)
}

// stepSelect implements spec.md §4's Select: look up the table set for
// the pair filter, then find_next_match within it, advancing across
// tables on redo and resuming mid-table wildcard scans.
func (it *Iterator) stepSelect(k int, redo bool) bool {
	o := &it.prog.Ops[k]
	ctx := it.selectCtx(k)
	if !redo {
		ctx.filter = it.buildFilter(k, *o)
		ctx.cursor = recordCursor{records: it.world.TableSet(ctx.filter)}
	}
	lastCol := it.cols[k][o.Column]
	tbl, col, ok := advance(&ctx.cursor, ctx.filter, lastCol, redo)
	if !ok {
		return false
	}
	it.cols[k][o.Column] = col
	it.regs[k][o.ROut] = regVal{table: tbl, isTable: true, valid: true}
	pair.ReifyVariables(tbl.Type[col], ctx.filter, it.reifySetter(k))
	return true
}

type eachCtx struct {
	row int
}

func (it *Iterator) eachCtx(k int) *eachCtx {
	if it.ctx[k] == nil {
		it.ctx[k] = &eachCtx{row: -1}
	}
	return it.ctx[k].(*eachCtx)
}

// stepEach translates a Table-kind register into an Entity-kind one,
// one row per (redo) call, per spec.md's write_variable contract.
func (it *Iterator) stepEach(k int, redo bool) bool {
	o := &it.prog.Ops[k]
	ctx := it.eachCtx(k)
	if !redo {
		ctx.row = 0
	} else {
		ctx.row++
	}
	rv := it.regs[k][o.RIn]
	if !rv.valid || !rv.isTable {
		return false
	}
	tbl := rv.table
	for ctx.row < len(tbl.Entities) {
		e := tbl.Entities[ctx.row]
		if e == pair.Wildcard || e == pair.This {
			ctx.row++
			continue
		}
		it.regs[k][o.ROut] = regVal{entity: e, valid: true}
		return true
	}
	return false
}

type withCtx struct {
	filter pair.Filter
	table  *world.Table
	mode   int
	cursor recordCursor
}

const (
	withModeNone = iota
	withModeNormal
	withModeTransitive
)

func (it *Iterator) withCtxFor(k int) *withCtx {
	if it.ctx[k] == nil {
		it.ctx[k] = &withCtx{}
	}
	return it.ctx[k].(*withCtx)
}

// stepWith implements spec.md §4's With: resolve the input register (or
// constant subject) to a table, probe the table set for the filter by
// table identity, and on a miss for a transitive binary predicate fall
// through to the transitive reachability probe.
func (it *Iterator) stepWith(k int, redo bool) bool {
	o := &it.prog.Ops[k]
	ctx := it.withCtxFor(k)

	if !redo {
		ctx.filter = it.buildFilter(k, *o)
		tbl, ok := it.resolveInputTable(k, *o)
		if !ok {
			ctx.mode = withModeNone
			return false
		}
		ctx.table = tbl
		ts := it.world.TableSet(ctx.filter)
		if rec, found := findRecordForTable(ts, tbl); found {
			ctx.mode = withModeNormal
			col := pair.FindNextMatch(tbl.Type, rec.Column, ctx.filter)
			if col < 0 {
				return false
			}
			it.cols[k][o.Column] = col
			it.commitWith(k, *o, tbl, col, ctx.filter)
			return true
		}
		predID := pair.Id(o.Param.Pred)
		if ctx.filter.IsBinary && !ctx.filter.ObjWildcard && it.world.IsTransitive(predID) {
			ctx.mode = withModeTransitive
			target := pair.High(ctx.filter.Mask)
			for _, obj := range it.transitiveClosure(predID, tbl) {
				if obj == target {
					if o.HasOut {
						it.regs[k][o.ROut] = regVal{table: tbl, isTable: true, valid: true}
					}
					return true
				}
			}
			return false
		}
		ctx.mode = withModeNone
		return false
	}

	switch ctx.mode {
	case withModeNormal:
		if !ctx.filter.Wildcard {
			return false
		}
		lastCol := it.cols[k][o.Column]
		col := pair.FindNextMatch(ctx.table.Type, lastCol+1, ctx.filter)
		if col < 0 {
			return false
		}
		it.cols[k][o.Column] = col
		it.commitWith(k, *o, ctx.table, col, ctx.filter)
		return true
	default:
		// Transitive probe is a one-shot reachability check: redo fails.
		return false
	}
}

func (it *Iterator) commitWith(k int, o emit.Operation, tbl *world.Table, col int, f pair.Filter) {
	if o.HasOut {
		it.regs[k][o.ROut] = regVal{table: tbl, isTable: true, valid: true}
	}
	pair.ReifyVariables(tbl.Type[col], f, it.reifySetter(k))
}
