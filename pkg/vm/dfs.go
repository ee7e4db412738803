package vm

import (
	"github.com/oisee/ecsrule/pkg/emit"
	"github.com/oisee/ecsrule/pkg/pair"
	"github.com/oisee/ecsrule/pkg/world"
)

// dfsCtx tracks a Dfs op's progress: a cursor over candidate subject
// tables (any table with at least one occurrence of the predicate), and
// the transitive closure computed for whichever candidate is current.
type dfsCtx struct {
	filter     pair.Filter
	predID     pair.Id
	records    []world.TableRecord
	tableIdx   int
	curTable   *world.Table
	closure    []pair.Id
	closureIdx int
}

func (it *Iterator) dfsCtxFor(k int) *dfsCtx {
	if it.ctx[k] == nil {
		it.ctx[k] = &dfsCtx{}
	}
	return it.ctx[k].(*dfsCtx)
}

func alwaysUnresolved(pair.Id) pair.RegisterValue { return pair.RegisterValue{} }

// stepDfs implements the transitive variant of a subject's first
// sighting (spec.md §4.4): Select only ever looks one hop deep, so a
// transitive predicate instead walks every candidate subject table's
// full reachable-object closure, one (table, object) match per call.
func (it *Iterator) stepDfs(k int, redo bool) bool {
	o := &it.prog.Ops[k]
	ctx := it.dfsCtxFor(k)

	if !redo {
		ctx.filter = it.buildFilter(k, *o)
		ctx.predID = pair.Id(o.Param.Pred)
		subjectFilter := pair.NewFilter(false, true, ctx.predID, 0, true, alwaysUnresolved)
		ctx.records = it.world.TableSet(subjectFilter)
		ctx.tableIdx = 0
		ctx.curTable = nil
		ctx.closure = nil
		ctx.closureIdx = 0
	}

	for {
		if ctx.curTable != nil {
			for ctx.closureIdx < len(ctx.closure) {
				obj := ctx.closure[ctx.closureIdx]
				ctx.closureIdx++
				if !ctx.filter.ObjWildcard {
					if obj != pair.High(ctx.filter.Mask) {
						continue
					}
					it.commitDfs(k, *o, ctx.curTable, ctx.filter, pair.Wildcard)
					return true
				}
				it.commitDfs(k, *o, ctx.curTable, ctx.filter, obj)
				return true
			}
			ctx.curTable = nil
		}
		if ctx.tableIdx >= len(ctx.records) {
			return false
		}
		rec := ctx.records[ctx.tableIdx]
		ctx.tableIdx++
		ctx.curTable = rec.Table
		ctx.closure = it.transitiveClosure(ctx.predID, rec.Table)
		ctx.closureIdx = 0
	}
}

// commitDfs binds the subject table output and, if the object half was a
// variable, its reified value. obj == pair.Wildcard means the object was
// already concrete, so nothing needs reifying.
func (it *Iterator) commitDfs(k int, o emit.Operation, tbl *world.Table, f pair.Filter, obj pair.Id) {
	if o.HasOut {
		it.regs[k][o.ROut] = regVal{table: tbl, isTable: true, valid: true}
	}
	if obj != pair.Wildcard && f.HiVar >= 0 {
		it.regs[k][f.HiVar] = regVal{entity: obj, valid: true}
	}
}

// transitiveClosure computes every object reachable from start's shared
// component set by one or more pred edges, breadth-first across tables
// (every entity in a table shares its Type, so the walk operates at
// table granularity and visits each table at most once — the cycle
// guard that keeps a cyclic relation from looping forever).
func (it *Iterator) transitiveClosure(pred pair.Id, start *world.Table) []pair.Id {
	visited := map[*world.Table]bool{start: true}
	seen := map[pair.Id]bool{}
	var result []pair.Id
	queue := []*world.Table{start}
	for len(queue) > 0 {
		tbl := queue[0]
		queue = queue[1:]
		for _, id := range tbl.Type {
			if !pair.IsPair(id) || pair.Low(id) != pred {
				continue
			}
			obj := pair.High(id)
			if !seen[obj] {
				seen[obj] = true
				result = append(result, obj)
			}
			if next, ok := it.world.TableFromEntity(obj); ok && !visited[next] {
				visited[next] = true
				queue = append(queue, next)
			}
		}
	}
	return result
}
