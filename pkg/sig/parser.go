package sig

import (
	"fmt"

	"github.com/oisee/ecsrule/pkg/variable"
	"github.com/oisee/ecsrule/pkg/world"
)

// ParseError reports a syntax error at a specific source position.
type ParseError struct {
	Line int
	Col  int
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("sig: %d:%d: %s", e.Line, e.Col, e.Msg)
}

// Parser turns rule-expression text into a term list, interning any
// predicate or constant-argument name it encounters through w.
type Parser struct {
	lex   *Lexer
	tok   Token
	world *world.World
}

// NewParser returns a parser over expr, bound to w for name resolution.
func NewParser(w *world.World, expr string) *Parser {
	p := &Parser{lex: NewLexer(expr), world: w}
	p.tok = p.lex.Next()
	return p
}

func (p *Parser) advance() {
	p.tok = p.lex.Next()
}

func (p *Parser) errorf(format string, args ...interface{}) error {
	return &ParseError{Line: p.tok.Line, Col: p.tok.Col, Msg: fmt.Sprintf(format, args...)}
}

func (p *Parser) expect(k TokenKind) (Token, error) {
	if p.tok.Kind != k {
		return Token{}, p.errorf("expected %s, found %s %q", k, p.tok.Kind, p.tok.Text)
	}
	t := p.tok
	p.advance()
	return t, nil
}

// Parse runs the grammar's top production, rule := term ("," term)*.
func Parse(w *world.World, expr string) ([]variable.Term, error) {
	p := NewParser(w, expr)
	return p.ParseRule()
}

// ParseRule parses every term of the expression and expects EOF after
// the last one.
func (p *Parser) ParseRule() ([]variable.Term, error) {
	var terms []variable.Term
	for {
		t, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		terms = append(terms, t)
		if p.tok.Kind == TokComma {
			p.advance()
			continue
		}
		break
	}
	if p.tok.Kind != TokEOF {
		return nil, p.errorf("unexpected %s %q after rule", p.tok.Kind, p.tok.Text)
	}
	return terms, nil
}

// parseTerm implements: term := ident "(" arg ("," arg)? ")" | ident.
// The bare-ident form is sugar for Pred(.): a unary check against the
// root entity.
func (p *Parser) parseTerm() (variable.Term, error) {
	nameTok, err := p.expect(TokIdent)
	if err != nil {
		return variable.Term{}, err
	}
	predID := p.world.Intern(nameTok.Text)

	if p.tok.Kind != TokLParen {
		return variable.Term{
			Pred: variable.Const(predID),
			Subj: variable.Var("."),
		}, nil
	}
	p.advance() // consume "("

	subj, err := p.parseArg()
	if err != nil {
		return variable.Term{}, err
	}

	term := variable.Term{Pred: variable.Const(predID), Subj: subj}
	if p.tok.Kind == TokComma {
		p.advance()
		obj, err := p.parseArg()
		if err != nil {
			return variable.Term{}, err
		}
		term.HasObj = true
		term.Obj = obj
		term.Transitive = p.world.IsTransitive(predID)
	}
	if _, err := p.expect(TokRParen); err != nil {
		return variable.Term{}, err
	}
	return term, nil
}

// parseArg implements: arg := "." | ident | Ident. An identifier that
// starts with an uppercase letter and has no lowercase letters (X, Y,
// FOO_2) is a variable; "." is the root placeholder; anything else
// (Bob, apple) resolves to a concrete entity id via w.Intern.
func (p *Parser) parseArg() (variable.Slot, error) {
	switch p.tok.Kind {
	case TokDot:
		p.advance()
		return variable.Var("."), nil
	case TokIdent:
		name := p.tok.Text
		p.advance()
		if isVariableName(name) {
			return variable.Var(name), nil
		}
		return variable.Const(p.world.Intern(name)), nil
	default:
		return variable.Slot{}, p.errorf("expected an argument, found %s %q", p.tok.Kind, p.tok.Text)
	}
}

func isVariableName(name string) bool {
	if name[0] < 'A' || name[0] > 'Z' {
		return false
	}
	for _, r := range name {
		if r >= 'a' && r <= 'z' {
			return false
		}
	}
	return true
}
