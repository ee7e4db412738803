// Package variable implements the rule solver's variable analyzer: it
// discovers the variables used by a term list, elects a root, computes
// dependency depths via DFS with cycle marking, and sorts variables into
// emission order.
package variable

import (
	"fmt"
	"sort"

	"github.com/oisee/ecsrule/pkg/pair"
)

// MaxSubjectVariables bounds the number of distinct subject variables a
// single rule may use.
const MaxSubjectVariables = 256

// MaxDepth marks a variable whose depth has not yet been assigned.
const MaxDepth = int(^uint(0) >> 1)

// Kind distinguishes the two incarnations a variable name may have: bound
// to a table (the subject of some term) or bound to a single entity
// (used as a predicate or object). A single name may have both — see
// spec.md §9 on dual-kinded variables; they are modeled as two distinct
// records correlated by name, never collapsed into one.
type Kind int

const (
	KindTable Kind = iota
	KindEntity
)

func (k Kind) String() string {
	if k == KindTable {
		return "table"
	}
	return "entity"
}

// Variable is one entry in the analyzed variable array.
type Variable struct {
	Name   string
	ID     int // index in the array after sort; set by Analyze
	Kind   Kind
	Occurs int
	Depth  int // distance from root; MaxDepth until assigned

	marked bool // cycle-detection flag, used only during depth assignment
}

// SlotKind distinguishes a term slot's three possible forms.
type SlotKind int

const (
	SlotConst SlotKind = iota
	SlotVar
)

// Slot is one position (predicate, subject, or object) of a Term. A
// variable slot named "." denotes the This placeholder from spec.md §3.
type Slot struct {
	Kind  SlotKind
	Const pair.Id
	Name  string
}

// Var returns a variable slot with the given name.
func Var(name string) Slot { return Slot{Kind: SlotVar, Name: name} }

// Const returns a concrete-entity slot.
func Const(id pair.Id) Slot { return Slot{Kind: SlotConst, Const: id} }

// IsThis reports whether the slot is the reserved "." placeholder.
func (s Slot) IsThis() bool { return s.Kind == SlotVar && s.Name == "." }

// Term is one conjunct of a rule: Pred(Subj[, Obj]).
type Term struct {
	Pred       Slot
	Subj       Slot
	Obj        Slot
	HasObj     bool
	Transitive bool // Pred is a concrete id declared transitive, and HasObj
}

// Result is the analyzer's output: the sorted variable array plus the
// name lookups the emitter needs to correlate dual-kinded variables.
type Result struct {
	Variables []Variable
	TableID   map[string]int // name -> Table-kind variable id, absent if none
	EntityID  map[string]int // name -> Entity-kind variable id, absent if none
	Root      int            // Table-kind variable id elected as root, or -1
}

// UnconstrainedError reports a subject variable unreachable from the root.
type UnconstrainedError struct {
	Name string
}

func (e *UnconstrainedError) Error() string {
	return fmt.Sprintf("unconstrained variable %s", e.Name)
}

// TooManyVariablesError reports exceeding MaxSubjectVariables.
type TooManyVariablesError struct {
	Count int
}

func (e *TooManyVariablesError) Error() string {
	return fmt.Sprintf("too many variables: %d subjects (max %d)", e.Count, MaxSubjectVariables)
}

type builder struct {
	table     []*Variable
	entity    []*Variable
	tableIdx  map[string]int
	entityIdx map[string]int
}

func newBuilder() *builder {
	return &builder{
		tableIdx:  map[string]int{},
		entityIdx: map[string]int{},
	}
}

func (b *builder) tableVar(name string) *Variable {
	if i, ok := b.tableIdx[name]; ok {
		return b.table[i]
	}
	v := &Variable{Name: name, Kind: KindTable, Depth: MaxDepth}
	b.tableIdx[name] = len(b.table)
	b.table = append(b.table, v)
	return v
}

func (b *builder) entityVar(name string) *Variable {
	if i, ok := b.entityIdx[name]; ok {
		return b.entity[i]
	}
	v := &Variable{Name: name, Kind: KindEntity, Depth: MaxDepth}
	b.entityIdx[name] = len(b.entity)
	b.entity = append(b.entity, v)
	return v
}

// Analyze runs the six analysis phases over terms and returns the sorted
// variable array, or a compile error (too many variables, unconstrained
// variable).
func Analyze(terms []Term) (*Result, error) {
	b := newBuilder()

	// Phase 1: collect roots (subject variables).
	for _, t := range terms {
		if t.Subj.Kind == SlotVar {
			v := b.tableVar(t.Subj.Name)
			v.Occurs++
		}
	}
	if len(b.table) > MaxSubjectVariables {
		return nil, &TooManyVariablesError{Count: len(b.table)}
	}

	// Phase 2: materialize all used names as Entity-kind, except subject.
	for _, t := range terms {
		if t.Pred.Kind == SlotVar {
			v := b.entityVar(t.Pred.Name)
			v.Occurs++
		}
		if t.HasObj && t.Obj.Kind == SlotVar {
			v := b.entityVar(t.Obj.Name)
			v.Occurs++
		}
	}

	// Phase 3: elect root. "." always takes precedence (spec.md §9 open
	// question, resolved as stated in the comment: occurrences already
	// encode "."'s frequency, but the contract is that "." wins outright).
	var root *Variable
	if i, ok := b.tableIdx["."]; ok {
		root = b.table[i]
	} else {
		for _, v := range b.table {
			if root == nil || v.Occurs > root.Occurs {
				root = v
			}
		}
	}

	// Phase 4: depth assignment.
	if root != nil {
		root.Depth = 0
		root.marked = true
		for _, v := range b.table {
			ensureDepth(v, root, terms, b)
		}
		crawl(terms, b)
	}

	// Phase 5: validate.
	reached := map[string]bool{}
	for grew := root != nil; grew; {
		grew = false
		reached[root.Name] = true
		for _, t := range terms {
			ns := []string{t.Pred.Name, t.Subj.Name, t.Obj.Name}
			for _, n := range ns {
				if n != "" && !reached[n] && (reached[ns[0]] || reached[ns[1]] || reached[ns[2]]) {
					reached[n], grew = true, true
				}
			}
		}
	}
	for _, v := range b.table {
		if v.Depth == MaxDepth || !reached[v.Name] {
			return nil, &UnconstrainedError{Name: v.Name}
		}
	}

	// Phase 6: sort by (kind, depth, -occurs, -creationIndex), stable.
	type indexed struct {
		v   *Variable
		idx int
	}
	all := make([]indexed, 0, len(b.table)+len(b.entity))
	for i, v := range b.table {
		all = append(all, indexed{v, i})
	}
	for i, v := range b.entity {
		all = append(all, indexed{v, len(b.table) + i})
	}
	sort.SliceStable(all, func(i, j int) bool {
		a, c := all[i], all[j]
		if a.v.Kind != c.v.Kind {
			return a.v.Kind < c.v.Kind
		}
		if a.v.Depth != c.v.Depth {
			return a.v.Depth < c.v.Depth
		}
		if a.v.Occurs != c.v.Occurs {
			return a.v.Occurs > c.v.Occurs
		}
		return a.idx > c.idx
	})

	res := &Result{
		Variables: make([]Variable, len(all)),
		TableID:   map[string]int{},
		EntityID:  map[string]int{},
		Root:      -1,
	}
	for id, e := range all {
		v := *e.v
		v.ID = id
		res.Variables[id] = v
		if v.Kind == KindTable {
			res.TableID[v.Name] = id
		} else {
			res.EntityID[v.Name] = id
		}
	}
	if root != nil {
		res.Root = res.TableID[root.Name]
	}
	return res, nil
}

// ensureDepth assigns v.Depth if not already set, via the recursive DFS
// described in spec.md §4.2 phase 4.
func ensureDepth(v, root *Variable, terms []Term, b *builder) {
	if v == root || v.Depth != MaxDepth {
		return
	}
	if v.marked {
		v.Depth = 0
		return
	}
	visit(v, root, terms, b)
}

func visit(v, root *Variable, terms []Term, b *builder) {
	v.marked = true
	best := MaxDepth
	for _, t := range terms {
		if t.Subj.Kind != SlotVar || t.Subj.Name != v.Name {
			continue
		}
		predVar := subjectCompanion(t.Pred, b)
		var objVar *Variable
		if t.HasObj {
			objVar = subjectCompanion(t.Obj, b)
		}
		if d := termDepth(predVar, objVar, root, terms, b); d < best {
			best = d
		}
	}
	if best == MaxDepth {
		v.Depth = 0
	} else {
		v.Depth = best
	}
}

// subjectCompanion returns slot's Table-kind variable record if the name
// is also used as a subject elsewhere (i.e. has a Table-kind companion);
// otherwise nil, meaning the slot is treated as non-variable for depth
// purposes ("if they are subjects of some other term").
func subjectCompanion(s Slot, b *builder) *Variable {
	if s.Kind != SlotVar {
		return nil
	}
	if i, ok := b.tableIdx[s.Name]; ok {
		return b.table[i]
	}
	return nil
}

func termDepth(predVar, objVar, root *Variable, terms []Term, b *builder) int {
	if predVar == nil && objVar == nil {
		return 0
	}
	best := MaxDepth
	if predVar != nil {
		if d := depthOf(predVar, root, terms, b); d < best {
			best = d
		}
	}
	if objVar != nil {
		if d := depthOf(objVar, root, terms, b); d < best {
			best = d
		}
	}
	return best
}

func depthOf(u, root *Variable, terms []Term, b *builder) int {
	if u == root || u.Depth != MaxDepth {
		return u.Depth + 1
	}
	if u.marked {
		return 0
	}
	visit(u, root, terms, b)
	return u.Depth + 1
}

// crawl discovers variables reachable only through predicate/object
// co-occurrence (e.g. (X,Y) and (Z,Y), tied by Y) and assigns their
// Entity-kind (and, if present, Table-kind) companions a depth of
// v.Depth+1 when otherwise unreached. Runs once Table-kind depths have
// fully converged, in ascending depth order so dependents see a final
// value.
func crawl(terms []Term, b *builder) {
	ordered := make([]*Variable, len(b.table))
	copy(ordered, b.table)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Depth < ordered[j].Depth })

	for _, v := range ordered {
		for _, t := range terms {
			if t.Subj.Kind != SlotVar || t.Subj.Name != v.Name {
				continue
			}
			assignCompanionDepth(t.Pred, v.Depth+1, b)
			if t.HasObj {
				assignCompanionDepth(t.Obj, v.Depth+1, b)
			}
		}
	}
}

func assignCompanionDepth(s Slot, depth int, b *builder) {
	if s.Kind != SlotVar {
		return
	}
	if i, ok := b.entityIdx[s.Name]; ok {
		if b.entity[i].Depth > depth {
			b.entity[i].Depth = depth
		}
	}
	if i, ok := b.tableIdx[s.Name]; ok {
		if b.table[i].Depth > depth {
			b.table[i].Depth = depth
		}
	}
}
