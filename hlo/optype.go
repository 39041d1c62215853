// Copyright 2024-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package hlo

// OpType is an enum of the operations an Instruction can carry.
//
// The loop fusion emitter only generates code for element-wise graphs, but the
// graph representation also models the structural ops needed to express them
// (parameters, constants, broadcasts) and nested fusions.
type OpType int

const (
	OpInvalid OpType = iota

	// Structural ops.
	OpParameter
	OpConstant
	OpIota
	OpBroadcast
	OpReverse
	OpFusion

	// Element-wise unary ops.
	OpNeg
	OpAbs
	OpExp
	OpLog
	OpTanh
	OpSqrt

	// Element-wise binary ops.
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMax
	OpMin
	OpPow
)

// String returns the lowercase name of the op, matching the usual HLO
// spelling.
func (t OpType) String() string {
	switch t {
	case OpParameter:
		return "parameter"
	case OpConstant:
		return "constant"
	case OpIota:
		return "iota"
	case OpBroadcast:
		return "broadcast"
	case OpReverse:
		return "reverse"
	case OpFusion:
		return "fusion"
	case OpNeg:
		return "negate"
	case OpAbs:
		return "abs"
	case OpExp:
		return "exponential"
	case OpLog:
		return "log"
	case OpTanh:
		return "tanh"
	case OpSqrt:
		return "sqrt"
	case OpAdd:
		return "add"
	case OpSub:
		return "subtract"
	case OpMul:
		return "multiply"
	case OpDiv:
		return "divide"
	case OpMax:
		return "maximum"
	case OpMin:
		return "minimum"
	case OpPow:
		return "power"
	default:
		return "invalid"
	}
}

// IsUnary reports whether the op is an element-wise unary operation.
func (t OpType) IsUnary() bool { return t >= OpNeg && t <= OpSqrt }

// IsBinary reports whether the op is an element-wise binary operation.
func (t OpType) IsBinary() bool { return t >= OpAdd && t <= OpPow }

// IsElementwise reports whether the op computes each output element from the
// operand elements at the same coordinates.
func (t OpType) IsElementwise() bool { return t.IsUnary() || t.IsBinary() }
