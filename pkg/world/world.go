// Package world is the rule solver's external ECS collaborator: a small
// in-memory archetype store. spec.md declares the real ECS world out of
// scope for the solver itself; this package exists only so the solver
// has something concrete to compile against and iterate, in tests and in
// the cmd/ruledbg CLI.
package world

import (
	"sort"
	"strconv"
	"strings"

	"github.com/oisee/ecsrule/pkg/pair"
)

// Table is an archetype: a bucket of entities sharing an identical
// component set. Type is the sorted sequence of those component ids,
// sorted predicate-major so pair ids sharing a predicate are contiguous
// (required by pair.FindNextMatch's early-cut).
type Table struct {
	Type     []pair.Id
	Entities []pair.Id
}

// TableRecord names a table containing a requested id, plus the first
// column at which it appears.
type TableRecord struct {
	Table  *Table
	Column int
}

// Record locates an entity within its table.
type Record struct {
	Table *Table
	Row   int
}

// World is the in-memory reference ECS store.
type World struct {
	names  map[string]pair.Id
	nextID pair.Id

	transitive map[pair.Id]bool

	// working set, populated by Fact/Relate before Build.
	entityTypes map[pair.Id]map[pair.Id]bool
	entityOrder []pair.Id

	// finalized by Build.
	tables      []*Table
	exact       map[pair.Id][]TableRecord
	byPred      map[pair.Id][]TableRecord
	byObj       map[pair.Id][]TableRecord
	allPairs    []TableRecord
	allUnary    []TableRecord
	entityTable map[pair.Id]*Table
	entityRow   map[pair.Id]int
	built       bool
}

// New creates an empty world.
func New() *World {
	return &World{
		names:       map[string]pair.Id{},
		nextID:      1,
		transitive:  map[pair.Id]bool{},
		entityTypes: map[pair.Id]map[pair.Id]bool{},
	}
}

// Intern returns the id for name, creating one if this is the first use.
func (w *World) Intern(name string) pair.Id {
	if id, ok := w.names[name]; ok {
		return id
	}
	id := w.nextID
	w.nextID++
	w.names[name] = id
	return id
}

// Lookup resolves a name to its id, if interned.
func (w *World) Lookup(name string) (pair.Id, bool) {
	id, ok := w.names[name]
	return id, ok
}

// MarkTransitive declares pred a transitive relation.
func (w *World) MarkTransitive(name string) {
	w.transitive[w.Intern(name)] = true
}

// IsTransitive reports whether pred was declared transitive.
func (w *World) IsTransitive(pred pair.Id) bool {
	return w.transitive[pred]
}

func (w *World) ensureEntity(e pair.Id) {
	if _, ok := w.entityTypes[e]; !ok {
		w.entityTypes[e] = map[pair.Id]bool{}
		w.entityOrder = append(w.entityOrder, e)
	}
}

// Fact asserts that subject has the unary component pred.
func (w *World) Fact(subject, pred string) {
	s, p := w.Intern(subject), w.Intern(pred)
	w.ensureEntity(s)
	w.entityTypes[s][pair.PackUnary(p)] = true
}

// Relate asserts the binary relation pred(subject, obj).
func (w *World) Relate(subject, pred, obj string) {
	s, p, o := w.Intern(subject), w.Intern(pred), w.Intern(obj)
	w.ensureEntity(s)
	w.entityTypes[s][pair.Pack(p, o)] = true
}

func typeSortLess(a, b pair.Id) bool {
	la, lb := pair.Low(a), pair.Low(b)
	if la != lb {
		return la < lb
	}
	pa, pb := pair.IsPair(a), pair.IsPair(b)
	if pa != pb {
		return pb // unary before pair at the same predicate value
	}
	return pair.High(a) < pair.High(b)
}

func typeKey(ids []pair.Id) string {
	var b strings.Builder
	for _, id := range ids {
		b.WriteString(strconv.FormatUint(uint64(id), 16))
		b.WriteByte(',')
	}
	return b.String()
}

// Build finalizes all facts asserted so far into archetype tables and
// the packed-id index. Call once after all Fact/Relate calls and before
// compiling any rule; the world is read-only from then on (spec.md §5).
func (w *World) Build() {
	byKey := map[string]*Table{}

	for _, e := range w.entityOrder {
		set := w.entityTypes[e]
		typ := make([]pair.Id, 0, len(set))
		for id := range set {
			typ = append(typ, id)
		}
		sort.Slice(typ, func(i, j int) bool { return typeSortLess(typ[i], typ[j]) })

		key := typeKey(typ)
		tbl, ok := byKey[key]
		if !ok {
			tbl = &Table{Type: typ}
			byKey[key] = tbl
			w.tables = append(w.tables, tbl)
		}
		tbl.Entities = append(tbl.Entities, e)
	}

	w.exact = map[pair.Id][]TableRecord{}
	w.byPred = map[pair.Id][]TableRecord{}
	w.byObj = map[pair.Id][]TableRecord{}
	w.entityTable = map[pair.Id]*Table{}
	w.entityRow = map[pair.Id]int{}

	for _, tbl := range w.tables {
		seenPred := map[pair.Id]bool{}
		seenObj := map[pair.Id]bool{}
		addedAllPairs, addedAllUnary := false, false

		for col, id := range tbl.Type {
			w.exact[id] = append(w.exact[id], TableRecord{Table: tbl, Column: col})
			if pair.IsPair(id) {
				pred, obj := pair.Low(id), pair.High(id)
				if !seenPred[pred] {
					w.byPred[pred] = append(w.byPred[pred], TableRecord{Table: tbl, Column: col})
					seenPred[pred] = true
				}
				if !seenObj[obj] {
					w.byObj[obj] = append(w.byObj[obj], TableRecord{Table: tbl, Column: col})
					seenObj[obj] = true
				}
				if !addedAllPairs {
					w.allPairs = append(w.allPairs, TableRecord{Table: tbl, Column: col})
					addedAllPairs = true
				}
			} else if !addedAllUnary {
				w.allUnary = append(w.allUnary, TableRecord{Table: tbl, Column: col})
				addedAllUnary = true
			}
		}
		for row, e := range tbl.Entities {
			w.entityTable[e] = tbl
			w.entityRow[e] = row
		}
	}
	w.built = true
}

// TableSet returns the tables containing an id matching f, using the
// appropriate index (exact, by-predicate, by-object, or the full
// wildcard set) so the lookup costs O(1) map access regardless of which
// half of the id is still unresolved.
func (w *World) TableSet(f pair.Filter) []TableRecord {
	if !f.IsBinary {
		if f.PredWildcard {
			return w.allUnary
		}
		return w.exact[f.Mask]
	}
	switch {
	case f.PredWildcard && f.ObjWildcard:
		return w.allPairs
	case f.PredWildcard:
		return w.byObj[pair.High(f.Mask)]
	case f.ObjWildcard:
		return w.byPred[pair.Low(f.Mask)]
	default:
		return w.exact[f.Mask]
	}
}

// TableFromEntity returns the table e belongs to.
func (w *World) TableFromEntity(e pair.Id) (*Table, bool) {
	t, ok := w.entityTable[e]
	return t, ok
}

// RecordOf returns where e sits within its table.
func (w *World) RecordOf(e pair.Id) (Record, bool) {
	t, ok := w.entityTable[e]
	if !ok {
		return Record{}, false
	}
	return Record{Table: t, Row: w.entityRow[e]}, true
}
