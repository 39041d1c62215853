// Copyright 2024-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package indexing

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/exceptions"
)

// Bounds is an inclusive integer interval.
type Bounds struct {
	Lower, Upper int64
}

// Contains reports whether value lies inside the interval.
func (b Bounds) Contains(value int64) bool {
	return value >= b.Lower && value <= b.Upper
}

// ContainsBounds reports whether other is fully inside b.
func (b Bounds) ContainsBounds(other Bounds) bool {
	return other.Lower >= b.Lower && other.Upper <= b.Upper
}

// Intersects reports whether the two intervals share at least one point.
func (b Bounds) Intersects(other Bounds) bool {
	return b.Lower <= other.Upper && other.Lower <= b.Upper
}

// Size returns the number of points in the interval (zero when empty).
func (b Bounds) Size() int64 {
	if b.Upper < b.Lower {
		return 0
	}
	return b.Upper - b.Lower + 1
}

// String prints the interval as "[lower, upper]".
func (b Bounds) String() string { return fmt.Sprintf("[%d, %d]", b.Lower, b.Upper) }

// Constraint restricts a map's domain to the points where Expr evaluates
// inside Bounds.
type Constraint struct {
	Expr   *Expr
	Bounds Bounds
}

// Map is an affine-style mapping from a domain of dimension and symbol
// variables to a tuple of integer coordinates, restricted by constraints.
//
// Dimensions are the "outer" variables of the domain (for the GPU thread maps,
// the thread and block ids) and symbols are the "inner" loop variables (the
// unroll iteration). A point (dims, symbols) belongs to the domain iff every
// variable lies in its bounds and every constraint holds; Exprs then give the
// codomain coordinates of that point.
type Map struct {
	Exprs        []*Expr
	DimBounds    []Bounds
	SymbolBounds []Bounds
	Constraints  []Constraint

	knownEmpty bool
}

// NewMap creates a Map without constraints. Use AddConstraint to restrict the
// domain.
func NewMap(exprs []*Expr, dimBounds, symbolBounds []Bounds) *Map {
	return &Map{Exprs: exprs, DimBounds: dimBounds, SymbolBounds: symbolBounds}
}

// Identity returns the rank-dimensional identity map with the given dimension
// bounds.
func Identity(dimBounds []Bounds) *Map {
	exprs := make([]*Expr, len(dimBounds))
	for i := range exprs {
		exprs[i] = Dim(i)
	}
	return NewMap(exprs, slices.Clone(dimBounds), nil)
}

// ShapeBounds returns one [0, dim-1] interval per dimension, the domain of the
// coordinate space of a tensor with the given dimensions.
func ShapeBounds(dimensions []int) []Bounds {
	bounds := make([]Bounds, len(dimensions))
	for i, d := range dimensions {
		bounds[i] = Bounds{0, int64(d) - 1}
	}
	return bounds
}

// AddConstraint restricts the domain to points where expr evaluates inside
// bounds.
func (m *Map) AddConstraint(expr *Expr, bounds Bounds) {
	m.Constraints = append(m.Constraints, Constraint{Expr: expr, Bounds: bounds})
}

// NumDims returns the number of dimension variables of the domain.
func (m *Map) NumDims() int { return len(m.DimBounds) }

// NumSymbols returns the number of symbol variables of the domain.
func (m *Map) NumSymbols() int { return len(m.SymbolBounds) }

// NumResults returns the number of codomain coordinates.
func (m *Map) NumResults() int { return len(m.Exprs) }

// KnownEmpty reports whether simplification proved the domain empty.
func (m *Map) KnownEmpty() bool { return m.knownEmpty }

// Eval returns the codomain coordinates of the given domain point. It does not
// check domain membership; see IsInBounds.
func (m *Map) Eval(dims, symbols []int64) []int64 {
	if len(dims) != m.NumDims() || len(symbols) != m.NumSymbols() {
		exceptions.Panicf("Map.Eval: point has %d dims and %d symbols, map domain has %d and %d",
			len(dims), len(symbols), m.NumDims(), m.NumSymbols())
	}
	coords := make([]int64, len(m.Exprs))
	for i, e := range m.Exprs {
		coords[i] = e.Eval(dims, symbols)
	}
	return coords
}

// IsInBounds reports whether the point belongs to the map's domain: inside all
// variable bounds and satisfying all constraints.
func (m *Map) IsInBounds(dims, symbols []int64) bool {
	if m.knownEmpty {
		return false
	}
	if len(dims) != m.NumDims() || len(symbols) != m.NumSymbols() {
		exceptions.Panicf("Map.IsInBounds: point has %d dims and %d symbols, map domain has %d and %d",
			len(dims), len(symbols), m.NumDims(), m.NumSymbols())
	}
	for i, b := range m.DimBounds {
		if !b.Contains(dims[i]) {
			return false
		}
	}
	for i, b := range m.SymbolBounds {
		if !b.Contains(symbols[i]) {
			return false
		}
	}
	for _, c := range m.Constraints {
		if !c.Bounds.Contains(c.Expr.Eval(dims, symbols)) {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of the map.
func (m *Map) Clone() *Map {
	return &Map{
		Exprs:        slices.Clone(m.Exprs),
		DimBounds:    slices.Clone(m.DimBounds),
		SymbolBounds: slices.Clone(m.SymbolBounds),
		Constraints:  slices.Clone(m.Constraints),
		knownEmpty:   m.knownEmpty,
	}
}

// Equal reports structural equality of the two maps, constraints included.
func (m *Map) Equal(other *Map) bool {
	if m == other {
		return true
	}
	if m == nil || other == nil {
		return false
	}
	if len(m.Exprs) != len(other.Exprs) ||
		!slices.Equal(m.DimBounds, other.DimBounds) ||
		!slices.Equal(m.SymbolBounds, other.SymbolBounds) ||
		len(m.Constraints) != len(other.Constraints) {
		return false
	}
	for i, e := range m.Exprs {
		if !e.Equal(other.Exprs[i]) {
			return false
		}
	}
	for i, c := range m.Constraints {
		if c.Bounds != other.Constraints[i].Bounds || !c.Expr.Equal(other.Constraints[i].Expr) {
			return false
		}
	}
	return true
}

// Compose returns the map equivalent to applying first and then second, i.e.
// result(p) == second(first(p)) for every p in first's domain that first maps
// into second's domain.
//
// The composed domain is first's domain (first's symbols followed by second's,
// renumbered); second's dimension bounds and constraints become constraints of
// the result, translated through first's expressions, so composition loses no
// domain information. Callers usually want to Simplify the result.
func Compose(first, second *Map) *Map {
	if second.NumDims() != first.NumResults() {
		exceptions.Panicf("indexing.Compose: second map has %d dims, first map produces %d coordinates",
			second.NumDims(), first.NumResults())
	}
	symbolOffset := first.NumSymbols()
	composed := &Map{
		Exprs:        make([]*Expr, 0, second.NumResults()),
		DimBounds:    slices.Clone(first.DimBounds),
		SymbolBounds: append(slices.Clone(first.SymbolBounds), second.SymbolBounds...),
		Constraints:  slices.Clone(first.Constraints),
	}
	for _, e := range second.Exprs {
		composed.Exprs = append(composed.Exprs, e.substitute(first.Exprs, symbolOffset))
	}
	// Second's domain bounds constrain first's results.
	for i, b := range second.DimBounds {
		composed.Constraints = append(composed.Constraints, Constraint{Expr: first.Exprs[i], Bounds: b})
	}
	for _, c := range second.Constraints {
		composed.Constraints = append(composed.Constraints,
			Constraint{Expr: c.Expr.substitute(first.Exprs, symbolOffset), Bounds: c.Bounds})
	}
	return composed
}

// Simplify rewrites the map's expressions and constraints in place: constant
// folding, range-based identities (x mod m == x and x floordiv m == 0 when x
// provably lies in [0, m)), removal of constraints implied by the domain
// bounds, and detection of unsatisfiable constraints (see KnownEmpty).
//
// Simplification is observationally transparent: the simplified map agrees
// with the original on every point of the domain, and describes the same
// domain.
func (m *Map) Simplify() {
	for i, e := range m.Exprs {
		m.Exprs[i] = simplifyExpr(e, m.DimBounds, m.SymbolBounds)
	}
	kept := m.Constraints[:0]
	for _, c := range m.Constraints {
		c.Expr = simplifyExpr(c.Expr, m.DimBounds, m.SymbolBounds)
		b := exprBounds(c.Expr, m.DimBounds, m.SymbolBounds)
		if c.Bounds.ContainsBounds(b) {
			// Always true, implied by the domain bounds.
			continue
		}
		if !c.Bounds.Intersects(b) {
			// Never true: the domain is empty.
			m.knownEmpty = true
		}
		if containsConstraint(kept, c) {
			continue
		}
		kept = append(kept, c)
	}
	m.Constraints = kept
}

func containsConstraint(constraints []Constraint, c Constraint) bool {
	for _, other := range constraints {
		if other.Bounds == c.Bounds && other.Expr.Equal(c.Expr) {
			return true
		}
	}
	return false
}

// DelinearizeIndex returns the expressions converting a linear (row-major)
// index into the coordinates of a tensor with the given dimensions:
// coord[i] = (linear floordiv stride[i]) mod dim[i], with the mod elided where
// range analysis makes it redundant (left to Simplify).
func DelinearizeIndex(linear *Expr, dimensions []int) []*Expr {
	exprs := make([]*Expr, len(dimensions))
	stride := int64(1)
	for axis := len(dimensions) - 1; axis >= 0; axis-- {
		e := linear
		if stride > 1 {
			e = FloorDiv(e, Constant(stride))
		}
		exprs[axis] = Mod(e, Constant(int64(dimensions[axis])))
		stride *= int64(dimensions[axis])
	}
	return exprs
}

// String prints the map in the usual notation, e.g.
//
//	(d0, d1)[s0] -> (expr0, expr1), domain: d0 in [0, 127], d1 in [0, 7], s0 in [0, 3], expr in [0, 1023]
func (m *Map) String() string {
	var sb strings.Builder
	sb.WriteByte('(')
	for i := range m.DimBounds {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "d%d", i)
	}
	sb.WriteByte(')')
	if len(m.SymbolBounds) > 0 {
		sb.WriteByte('[')
		for i := range m.SymbolBounds {
			if i > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "s%d", i)
		}
		sb.WriteByte(']')
	}
	sb.WriteString(" -> (")
	for i, e := range m.Exprs {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(e.String())
	}
	sb.WriteString("), domain:")
	for i, b := range m.DimBounds {
		fmt.Fprintf(&sb, " d%d in %s", i, b)
	}
	for i, b := range m.SymbolBounds {
		fmt.Fprintf(&sb, " s%d in %s", i, b)
	}
	for _, c := range m.Constraints {
		fmt.Fprintf(&sb, " %s in %s", c.Expr, c.Bounds)
	}
	if m.knownEmpty {
		sb.WriteString(" (known empty)")
	}
	return sb.String()
}
