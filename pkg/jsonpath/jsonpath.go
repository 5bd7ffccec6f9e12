// Package jsonpath evaluates path expressions against JSON-decoded trees.
//
// Job-graph templates are third-party-defined and schema-free from the
// gateway's point of view, so both parameter injection and result extraction
// go through late-bound path expressions with recursive descent ("$..seed")
// and wildcard support rather than typed structs.
package jsonpath

import (
	"errors"
	"fmt"

	"github.com/ohler55/ojg/jp"
)

// ErrInvalidExpression indicates a malformed path expression. This is a
// workflow configuration problem, never a caller problem.
var ErrInvalidExpression = errors.New("invalid path expression")

// Expr is a compiled path expression.
type Expr struct {
	src  string
	expr jp.Expr
}

// Parse compiles a path expression.
func Parse(src string) (Expr, error) {
	expr, err := jp.ParseString(src)
	if err != nil {
		return Expr{}, fmt.Errorf("%w %q: %w", ErrInvalidExpression, src, err)
	}

	return Expr{src: src, expr: expr}, nil
}

// MustParse compiles a path expression known to be valid at compile time.
// It panics on malformed input and exists for tests and fixed expressions.
func MustParse(src string) Expr {
	expr, err := Parse(src)
	if err != nil {
		panic(err)
	}

	return expr
}

func (e Expr) String() string {
	return e.src
}

// Find returns the values at every location matching the expression, in
// document order. An empty result is not an error.
func (e Expr) Find(doc any) []any {
	return e.expr.Get(doc)
}

// Set overwrites the value at every matching location in place and returns
// the number of locations written. Zero means the document does not contain
// the path; callers decide whether that is fatal.
func (e Expr) Set(doc, value any) (int, error) {
	matched := len(e.expr.Get(doc))
	if matched == 0 {
		return 0, nil
	}

	if err := e.expr.Set(doc, value); err != nil {
		return 0, fmt.Errorf("%w %q: %w", ErrInvalidExpression, e.src, err)
	}

	return matched, nil
}

// Find parses and evaluates an expression in one step.
func Find(doc any, src string) ([]any, error) {
	expr, err := Parse(src)
	if err != nil {
		return nil, err
	}

	return expr.Find(doc), nil
}

// Set parses an expression and overwrites every match in one step.
func Set(doc any, src string, value any) (int, error) {
	expr, err := Parse(src)
	if err != nil {
		return 0, err
	}

	return expr.Set(doc, value)
}
