// Copyright 2024-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package indexing implements the affine index-space algebra used by the
// fusion emitters: expressions over dimension and symbol variables, and Map,
// a constrained mapping from a (dims, symbols) domain to integer tensor
// coordinates.
//
// Maps compose exactly (see Compose) and simplify conservatively (see
// Map.Simplify): simplification never discards a reachable domain point nor
// admits an unreachable one.
package indexing

import (
	"fmt"

	"github.com/gomlx/exceptions"
)

// ExprKind discriminates the Expr variants.
type ExprKind int

const (
	// ExprConstant is an integer literal.
	ExprConstant ExprKind = iota

	// ExprDim refers to a domain dimension variable (printed d0, d1, ...).
	ExprDim

	// ExprSymbol refers to a domain symbol variable (printed s0, s1, ...).
	// Symbols are the loop/unroll variables of a map's domain.
	ExprSymbol

	// ExprAdd is lhs + rhs.
	ExprAdd

	// ExprMul is lhs * rhs.
	ExprMul

	// ExprFloorDiv is lhs floordiv rhs, rhs a positive constant.
	ExprFloorDiv

	// ExprMod is lhs mod rhs (non-negative result), rhs a positive constant.
	ExprMod
)

// String returns the operator name of the kind.
func (k ExprKind) String() string {
	switch k {
	case ExprConstant:
		return "constant"
	case ExprDim:
		return "dim"
	case ExprSymbol:
		return "symbol"
	case ExprAdd:
		return "add"
	case ExprMul:
		return "mul"
	case ExprFloorDiv:
		return "floordiv"
	case ExprMod:
		return "mod"
	default:
		return "unknown"
	}
}

// Expr is an affine-style integer expression over dimension and symbol
// variables. Exprs are immutable once created; all transformations return new
// expressions.
type Expr struct {
	kind ExprKind

	// value is the literal for ExprConstant, and the variable position for
	// ExprDim and ExprSymbol.
	value int64

	lhs, rhs *Expr
}

// Constant returns a literal expression.
func Constant(value int64) *Expr {
	return &Expr{kind: ExprConstant, value: value}
}

// Dim returns a reference to domain dimension variable `position`.
func Dim(position int) *Expr {
	if position < 0 {
		exceptions.Panicf("indexing.Dim(%d): position must be non-negative", position)
	}
	return &Expr{kind: ExprDim, value: int64(position)}
}

// Symbol returns a reference to domain symbol variable `position`.
func Symbol(position int) *Expr {
	if position < 0 {
		exceptions.Panicf("indexing.Symbol(%d): position must be non-negative", position)
	}
	return &Expr{kind: ExprSymbol, value: int64(position)}
}

// Add returns lhs + rhs.
func Add(lhs, rhs *Expr) *Expr {
	return &Expr{kind: ExprAdd, lhs: lhs, rhs: rhs}
}

// Mul returns lhs * rhs.
func Mul(lhs, rhs *Expr) *Expr {
	return &Expr{kind: ExprMul, lhs: lhs, rhs: rhs}
}

// FloorDiv returns lhs floordiv rhs. The divisor must be a positive constant,
// which keeps the algebra decidable for range analysis.
func FloorDiv(lhs, rhs *Expr) *Expr {
	checkPositiveConstant("indexing.FloorDiv", rhs)
	return &Expr{kind: ExprFloorDiv, lhs: lhs, rhs: rhs}
}

// Mod returns lhs mod rhs, with a non-negative result. The modulus must be a
// positive constant.
func Mod(lhs, rhs *Expr) *Expr {
	checkPositiveConstant("indexing.Mod", rhs)
	return &Expr{kind: ExprMod, lhs: lhs, rhs: rhs}
}

func checkPositiveConstant(op string, e *Expr) {
	if e.kind != ExprConstant || e.value <= 0 {
		exceptions.Panicf("%s: right-hand side must be a positive constant, got %s", op, e)
	}
}

// Kind returns the expression variant.
func (e *Expr) Kind() ExprKind { return e.kind }

// Value returns the literal of an ExprConstant, or the variable position of an
// ExprDim/ExprSymbol. It panics for other kinds.
func (e *Expr) Value() int64 {
	switch e.kind {
	case ExprConstant, ExprDim, ExprSymbol:
		return e.value
	}
	exceptions.Panicf("Expr.Value() called on %s expression %s", e.kind, e)
	return 0
}

// Operands returns the left- and right-hand sides of a binary expression. They
// are nil for leaf expressions.
func (e *Expr) Operands() (lhs, rhs *Expr) { return e.lhs, e.rhs }

// Eval evaluates the expression at the given dimension and symbol values.
func (e *Expr) Eval(dims, symbols []int64) int64 {
	switch e.kind {
	case ExprConstant:
		return e.value
	case ExprDim:
		if int(e.value) >= len(dims) {
			exceptions.Panicf("Expr.Eval: expression references d%d but only %d dim values given", e.value, len(dims))
		}
		return dims[e.value]
	case ExprSymbol:
		if int(e.value) >= len(symbols) {
			exceptions.Panicf("Expr.Eval: expression references s%d but only %d symbol values given", e.value, len(symbols))
		}
		return symbols[e.value]
	case ExprAdd:
		return e.lhs.Eval(dims, symbols) + e.rhs.Eval(dims, symbols)
	case ExprMul:
		return e.lhs.Eval(dims, symbols) * e.rhs.Eval(dims, symbols)
	case ExprFloorDiv:
		return floorDiv(e.lhs.Eval(dims, symbols), e.rhs.value)
	case ExprMod:
		return floorMod(e.lhs.Eval(dims, symbols), e.rhs.value)
	}
	exceptions.Panicf("Expr.Eval: unknown expression kind %d", e.kind)
	return 0
}

// Equal reports structural equality.
func (e *Expr) Equal(other *Expr) bool {
	if e == other {
		return true
	}
	if e == nil || other == nil || e.kind != other.kind {
		return false
	}
	switch e.kind {
	case ExprConstant, ExprDim, ExprSymbol:
		return e.value == other.value
	}
	return e.lhs.Equal(other.lhs) && e.rhs.Equal(other.rhs)
}

// String prints the expression in the usual affine notation, e.g.
// "(d1 * 128 + d0) * 4 + s0".
func (e *Expr) String() string {
	return e.print(false)
}

func (e *Expr) print(parenthesize bool) string {
	switch e.kind {
	case ExprConstant:
		return fmt.Sprintf("%d", e.value)
	case ExprDim:
		return fmt.Sprintf("d%d", e.value)
	case ExprSymbol:
		return fmt.Sprintf("s%d", e.value)
	case ExprAdd:
		s := fmt.Sprintf("%s + %s", e.lhs.print(true), e.rhs.print(false))
		if parenthesize {
			return "(" + s + ")"
		}
		return s
	case ExprMul:
		return fmt.Sprintf("%s * %s", e.lhs.print(true), e.rhs.print(true))
	case ExprFloorDiv:
		return fmt.Sprintf("%s floordiv %s", e.lhs.print(true), e.rhs.print(true))
	case ExprMod:
		return fmt.Sprintf("%s mod %s", e.lhs.print(true), e.rhs.print(true))
	default:
		return "?"
	}
}

// floorDiv implements division rounding towards negative infinity.
func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// floorMod implements the modulo matching floorDiv: the result has the sign of
// the divisor, so it is non-negative for the positive divisors this package
// allows.
func floorMod(a, b int64) int64 {
	m := a % b
	if m != 0 && ((m < 0) != (b < 0)) {
		m += b
	}
	return m
}

// substitute replaces each dimension variable d_i with dimRepl[i] and shifts
// every symbol variable by symbolOffset. Used by Compose.
func (e *Expr) substitute(dimRepl []*Expr, symbolOffset int) *Expr {
	switch e.kind {
	case ExprConstant:
		return e
	case ExprDim:
		if int(e.value) >= len(dimRepl) {
			exceptions.Panicf("Expr.substitute: expression references d%d but only %d replacements given", e.value, len(dimRepl))
		}
		return dimRepl[e.value]
	case ExprSymbol:
		return Symbol(int(e.value) + symbolOffset)
	default:
		return &Expr{
			kind: e.kind,
			lhs:  e.lhs.substitute(dimRepl, symbolOffset),
			rhs:  e.rhs.substitute(dimRepl, symbolOffset),
		}
	}
}
