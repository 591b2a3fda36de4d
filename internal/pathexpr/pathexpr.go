// Package pathexpr evaluates a restricted JSONPath subset against decoded
// JSON documents: "$", ".name" member access, "[n]" positional
// indexing, and "[*]" wildcard fan-out, chainable after a wildcard.
package pathexpr

import (
	"fmt"
	"strconv"
	"strings"

	"knowgraph/internal/kgerrors"
)

type stepKind int

const (
	stepMember stepKind = iota
	stepIndex
	stepWildcard
)

type step struct {
	kind  stepKind
	name  string
	index int
}

// Expr is a parsed, reusable path expression. Parse once, evaluate many.
type Expr struct {
	raw   string
	steps []step
}

// String returns the original path text.
func (e Expr) String() string { return e.raw }

// Parse compiles path into an Expr. path must start with "$". Returns
// kgerrors.ErrPathInvalid wrapped with detail on any malformed syntax.
func Parse(path string) (Expr, error) {
	trimmed := strings.TrimSpace(path)
	if !strings.HasPrefix(trimmed, "$") {
		return Expr{}, kgerrors.Op("pathexpr.Parse", fmt.Errorf("%w: path %q must start with $", kgerrors.ErrPathInvalid, path))
	}
	rest := trimmed[1:]
	var steps []step
	for len(rest) > 0 {
		switch rest[0] {
		case '.':
			rest = rest[1:]
			end := strings.IndexAny(rest, ".[")
			var name string
			if end < 0 {
				name, rest = rest, ""
			} else {
				name, rest = rest[:end], rest[end:]
			}
			if name == "" {
				return Expr{}, kgerrors.Op("pathexpr.Parse", fmt.Errorf("%w: empty member name in %q", kgerrors.ErrPathInvalid, path))
			}
			steps = append(steps, step{kind: stepMember, name: name})
		case '[':
			close := strings.IndexByte(rest, ']')
			if close < 0 {
				return Expr{}, kgerrors.Op("pathexpr.Parse", fmt.Errorf("%w: unterminated [ in %q", kgerrors.ErrPathInvalid, path))
			}
			inner := rest[1:close]
			rest = rest[close+1:]
			if inner == "*" {
				steps = append(steps, step{kind: stepWildcard})
				continue
			}
			n, err := strconv.Atoi(inner)
			if err != nil {
				return Expr{}, kgerrors.Op("pathexpr.Parse", fmt.Errorf("%w: bad index %q in %q", kgerrors.ErrPathInvalid, inner, path))
			}
			steps = append(steps, step{kind: stepIndex, index: n})
		default:
			return Expr{}, kgerrors.Op("pathexpr.Parse", fmt.Errorf("%w: unexpected token at %q in %q", kgerrors.ErrPathInvalid, rest, path))
		}
	}
	return Expr{raw: trimmed, steps: steps}, nil
}

// Validate parses path purely to check syntax, discarding the result.
func Validate(path string) error {
	_, err := Parse(path)
	return err
}

// absent is the sentinel for "no value", distinguished from a present nil/null.
type absent struct{}

var noValue = absent{}

// EvalScalar evaluates e against doc in scalar mode: if multiple matches
// exist, the first is returned. ok is false for "no value".
func (e Expr) EvalScalar(doc any) (value any, ok bool) {
	results := e.evalAll([]any{doc})
	for _, r := range results {
		if _, isAbsent := r.(absent); isAbsent {
			continue
		}
		return r, true
	}
	return nil, false
}

// EvalMulti evaluates e against doc in multi mode, returning the full
// sequence with absent entries dropped.
func (e Expr) EvalMulti(doc any) []any {
	results := e.evalAll([]any{doc})
	out := make([]any, 0, len(results))
	for _, r := range results {
		if _, isAbsent := r.(absent); isAbsent {
			continue
		}
		out = append(out, r)
	}
	return out
}

func (e Expr) evalAll(current []any) []any {
	for _, st := range e.steps {
		var next []any
		switch st.kind {
		case stepMember:
			for _, c := range current {
				next = append(next, memberOf(c, st.name))
			}
		case stepIndex:
			for _, c := range current {
				next = append(next, indexOf(c, st.index))
			}
		case stepWildcard:
			for _, c := range current {
				next = append(next, wildcardOf(c)...)
			}
		}
		current = next
	}
	return current
}

func memberOf(doc any, name string) any {
	m, ok := doc.(map[string]any)
	if !ok {
		return noValue
	}
	v, ok := m[name]
	if !ok {
		return noValue
	}
	return v
}

func indexOf(doc any, idx int) any {
	arr, ok := doc.([]any)
	if !ok {
		return noValue
	}
	i := idx
	if i < 0 {
		i += len(arr)
	}
	if i < 0 || i >= len(arr) {
		return noValue
	}
	return arr[i]
}

func wildcardOf(doc any) []any {
	arr, ok := doc.([]any)
	if !ok {
		return nil
	}
	out := make([]any, len(arr))
	copy(out, arr)
	return out
}
