// Copyright 2024-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package indexing

// This file implements range analysis and expression rewriting. All rewrites
// must be observationally transparent: for every point of the domain described
// by the dim/symbol bounds, the rewritten expression evaluates to the same
// value as the original.

// exprBounds returns an inclusive interval containing every value the
// expression can take over the given dim and symbol bounds.
func exprBounds(e *Expr, dims, symbols []Bounds) Bounds {
	switch e.kind {
	case ExprConstant:
		return Bounds{e.value, e.value}
	case ExprDim:
		return dims[e.value]
	case ExprSymbol:
		return symbols[e.value]
	case ExprAdd:
		lhs := exprBounds(e.lhs, dims, symbols)
		rhs := exprBounds(e.rhs, dims, symbols)
		return Bounds{lhs.Lower + rhs.Lower, lhs.Upper + rhs.Upper}
	case ExprMul:
		lhs := exprBounds(e.lhs, dims, symbols)
		rhs := exprBounds(e.rhs, dims, symbols)
		candidates := [4]int64{
			lhs.Lower * rhs.Lower, lhs.Lower * rhs.Upper,
			lhs.Upper * rhs.Lower, lhs.Upper * rhs.Upper,
		}
		b := Bounds{candidates[0], candidates[0]}
		for _, c := range candidates[1:] {
			b.Lower = min(b.Lower, c)
			b.Upper = max(b.Upper, c)
		}
		return b
	case ExprFloorDiv:
		lhs := exprBounds(e.lhs, dims, symbols)
		divisor := e.rhs.value
		return Bounds{floorDiv(lhs.Lower, divisor), floorDiv(lhs.Upper, divisor)}
	case ExprMod:
		lhs := exprBounds(e.lhs, dims, symbols)
		modulus := e.rhs.value
		if lhs.Lower >= 0 && lhs.Upper < modulus {
			return lhs
		}
		if lhs.Lower >= 0 {
			return Bounds{0, min(lhs.Upper, modulus-1)}
		}
		return Bounds{0, modulus - 1}
	}
	return Bounds{}
}

// simplifyExpr rewrites the expression using constant folding and range-based
// identities over the given domain bounds.
func simplifyExpr(e *Expr, dims, symbols []Bounds) *Expr {
	switch e.kind {
	case ExprConstant, ExprDim, ExprSymbol:
		return e
	}

	lhs := simplifyExpr(e.lhs, dims, symbols)
	rhs := simplifyExpr(e.rhs, dims, symbols)

	// Fold when both sides are literals.
	if lhs.kind == ExprConstant && rhs.kind == ExprConstant {
		return Constant((&Expr{kind: e.kind, lhs: lhs, rhs: rhs}).Eval(nil, nil))
	}

	switch e.kind {
	case ExprAdd:
		// Canonicalize the constant to the right.
		if lhs.kind == ExprConstant {
			lhs, rhs = rhs, lhs
		}
		if rhs.kind == ExprConstant {
			if rhs.value == 0 {
				return lhs
			}
			// (x + c1) + c2 => x + (c1+c2)
			if lhs.kind == ExprAdd && lhs.rhs.kind == ExprConstant {
				return Add(lhs.lhs, Constant(lhs.rhs.value+rhs.value))
			}
		}
		return Add(lhs, rhs)

	case ExprMul:
		if lhs.kind == ExprConstant {
			lhs, rhs = rhs, lhs
		}
		if rhs.kind == ExprConstant {
			switch rhs.value {
			case 0:
				return Constant(0)
			case 1:
				return lhs
			}
		}
		return Mul(lhs, rhs)

	case ExprFloorDiv:
		divisor := rhs.value
		if divisor == 1 {
			return lhs
		}
		if b := exprBounds(lhs, dims, symbols); b.Lower >= 0 && b.Upper < divisor {
			return Constant(0)
		}
		return FloorDiv(lhs, rhs)

	case ExprMod:
		modulus := rhs.value
		if modulus == 1 {
			return Constant(0)
		}
		if b := exprBounds(lhs, dims, symbols); b.Lower >= 0 && b.Upper < modulus {
			return lhs
		}
		return Mod(lhs, rhs)
	}
	return e
}
