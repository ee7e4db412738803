package pair

import "testing"

func TestPackUnpack(t *testing.T) {
	id := Pack(Id(5), Id(9))
	if !IsPair(id) {
		t.Fatal("Pack should set PairFlag")
	}
	if Low(id) != 5 {
		t.Errorf("Low = %d, want 5", Low(id))
	}
	if High(id) != 9 {
		t.Errorf("High = %d, want 9", High(id))
	}
}

func TestPackUnary(t *testing.T) {
	id := PackUnary(Id(42))
	if IsPair(id) {
		t.Fatal("PackUnary must not set PairFlag")
	}
	if Low(id) != 42 {
		t.Errorf("Low = %d, want 42", Low(id))
	}
}

func TestFindNextMatchGroundTruth(t *testing.T) {
	// Table type: predicate-sorted pair ids for two predicates.
	typ := []Id{
		Pack(1, 10),
		Pack(1, 20),
		Pack(2, 30),
	}

	tests := []struct {
		name  string
		f     Filter
		start int
		want  int
	}{
		{
			name:  "concrete match at start",
			f:     Filter{ExprMask: ^Id(0), ExprMatch: Pack(1, 10), LoVar: -1, HiVar: -1},
			start: 0,
			want:  0,
		},
		{
			name: "wildcard predicate scans whole type",
			f: Filter{
				PredWildcard: true, Wildcard: true,
				ExprMask:  PairFlag | (Id(0xFFFFFF) << 32),
				ExprMatch: PairFlag | (Id(30) << 32),
				LoVar:     -1, HiVar: -1,
			},
			start: 0,
			want:  2,
		},
		{
			name: "early cut: concrete predicate, start>0, mismatch means no match",
			f: Filter{
				PredWildcard: false,
				ExprMask:     ^Id(0),
				ExprMatch:    Pack(1, 10),
				LoVar:        -1, HiVar: -1,
			},
			start: 1,
			want:  -1,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := FindNextMatch(typ, tc.start, tc.f)
			if got != tc.want {
				t.Errorf("FindNextMatch() = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestNewFilterReifiesWildcards(t *testing.T) {
	reg := map[Id]RegisterValue{}
	f := NewFilter(false, true, 7, 100, true, func(v Id) RegisterValue {
		return reg[v]
	})
	if !f.ObjWildcard || !f.Wildcard {
		t.Fatal("unwritten object variable should reify as wildcard")
	}
	if f.HiVar != 100 {
		t.Errorf("HiVar = %d, want 100", f.HiVar)
	}
	if f.PredWildcard {
		t.Error("concrete predicate must not be marked wildcard")
	}
}

func TestReifyVariablesIdempotent(t *testing.T) {
	f := Filter{LoVar: 1, HiVar: 2}
	e := Pack(3, 4)
	got := map[int]Id{}
	set := func(varID int, val Id) { got[varID] = val }

	ReifyVariables(e, f, set)
	first := map[int]Id{1: got[1], 2: got[2]}
	ReifyVariables(e, f, set)
	if got[1] != first[1] || got[2] != first[2] {
		t.Fatal("reification must be idempotent")
	}
	if got[1] != 3 || got[2] != 4 {
		t.Errorf("got %v, want {1:3 2:4}", got)
	}
}

func TestSameVarConstraint(t *testing.T) {
	f := Filter{SameVar: true, ExprMask: PairFlag, ExprMatch: PairFlag, LoVar: -1, HiVar: -1}
	if matches(Pack(5, 6), f) {
		t.Error("low != high should fail SameVar constraint")
	}
	if !matches(Pack(5, 5), f) {
		t.Error("low == high should satisfy SameVar constraint")
	}
}
