package sig_test

import (
	"testing"

	"github.com/oisee/ecsrule/pkg/sig"
	"github.com/oisee/ecsrule/pkg/variable"
	"github.com/oisee/ecsrule/pkg/world"
)

func TestParseSimpleBinaryTerm(t *testing.T) {
	w := world.New()
	terms, err := sig.Parse(w, "Knows(., X)")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(terms) != 1 {
		t.Fatalf("len(terms) = %d, want 1", len(terms))
	}
	term := terms[0]
	if !term.Subj.IsThis() {
		t.Errorf("Subj = %+v, want This", term.Subj)
	}
	if term.Obj.Kind != variable.SlotVar || term.Obj.Name != "X" {
		t.Errorf("Obj = %+v, want variable X", term.Obj)
	}
	knowsID, ok := w.Lookup("Knows")
	if !ok || term.Pred.Const != knowsID {
		t.Errorf("Pred not resolved to interned Knows id")
	}
}

func TestParseMultipleTermsAndConstants(t *testing.T) {
	w := world.New()
	terms, err := sig.Parse(w, "Knows(., X), Eats(X, Apple)")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(terms) != 2 {
		t.Fatalf("len(terms) = %d, want 2", len(terms))
	}
	second := terms[1]
	if second.Subj.Kind != variable.SlotVar || second.Subj.Name != "X" {
		t.Errorf("terms[1].Subj = %+v, want variable X", second.Subj)
	}
	appleID, _ := w.Lookup("Apple")
	if second.Obj.Kind != variable.SlotConst || second.Obj.Const != appleID {
		t.Errorf("terms[1].Obj = %+v, want constant Apple", second.Obj)
	}
}

func TestParseBareIdentMeansUnaryOnThis(t *testing.T) {
	w := world.New()
	terms, err := sig.Parse(w, "Mortal")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(terms) != 1 || !terms[0].Subj.IsThis() || terms[0].HasObj {
		t.Fatalf("terms = %+v, want single unary term on This", terms)
	}
}

func TestParseTransitiveFlagFollowsWorldDeclaration(t *testing.T) {
	w := world.New()
	w.MarkTransitive("Knows")
	terms, err := sig.Parse(w, "Knows(., Bob)")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if !terms[0].Transitive {
		t.Error("expected Transitive=true for a declared-transitive binary predicate")
	}
}

func TestParseSyntaxErrorReportsPosition(t *testing.T) {
	w := world.New()
	_, err := sig.Parse(w, "Knows(.,")
	if err == nil {
		t.Fatal("expected a parse error for an unterminated term")
	}
	perr, ok := err.(*sig.ParseError)
	if !ok {
		t.Fatalf("error = %T, want *sig.ParseError", err)
	}
	if perr.Line == 0 {
		t.Error("expected a non-zero line number")
	}
}

func TestParseUnaryTermNoObject(t *testing.T) {
	w := world.New()
	terms, err := sig.Parse(w, "Sleeps(X)")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if terms[0].HasObj {
		t.Error("expected HasObj=false for a single-argument term")
	}
}
