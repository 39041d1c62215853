// Copyright 2024-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package mir is the structured intermediate representation populated by the
// fusion emitters: a module of functions in SSA form over scalar, index and
// tensor values.
//
// Tensor values are immutable: InsertOp produces a new tensor value instead of
// mutating its operand, and LoopOp threads tensor values through its
// iterations as explicit iter-args. That functional discipline is what lets
// the loop emitter treat output buffers as values re-bound at each iteration.
//
// The package also provides a reference interpreter (see Execute) that runs
// an emitted function over a launch grid, used by tests and the demo CLI.
package mir

import (
	"fmt"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/google/uuid"

	"github.com/gomlx/fusegen/indexing"
	"github.com/gomlx/fusegen/types/shapes"
)

// TypeKind discriminates the Type variants.
type TypeKind int

const (
	InvalidType TypeKind = iota

	// IndexType is the integer type of coordinates and loop variables.
	IndexType

	// ScalarType is a single element of some DType.
	ScalarType

	// TensorType is an immutable tensor value of some shape.
	TensorType
)

// Type of a Value.
type Type struct {
	Kind  TypeKind
	DType dtypes.DType // ScalarType and TensorType.
	Shape shapes.Shape // TensorType only.
}

// Index returns the index type.
func Index() Type { return Type{Kind: IndexType} }

// Scalar returns the scalar type of the given dtype.
func Scalar(dtype dtypes.DType) Type { return Type{Kind: ScalarType, DType: dtype} }

// Tensor returns the tensor type of the given (non-tuple) shape.
func Tensor(shape shapes.Shape) Type {
	if !shape.Ok() || shape.IsTuple() {
		exceptions.Panicf("mir.Tensor: invalid tensor shape %s", shape)
	}
	return Type{Kind: TensorType, DType: shape.DType, Shape: shape}
}

// Equal reports type equality.
func (t Type) Equal(other Type) bool {
	if t.Kind != other.Kind {
		return false
	}
	switch t.Kind {
	case ScalarType:
		return t.DType == other.DType
	case TensorType:
		return t.Shape.Equal(other.Shape)
	}
	return true
}

// String prints the type, e.g. "index", "f32" or "tensor<8x8xf32>".
func (t Type) String() string {
	switch t.Kind {
	case IndexType:
		return "index"
	case ScalarType:
		return dtypeString(t.DType)
	case TensorType:
		s := "tensor<"
		for _, d := range t.Shape.Dimensions {
			s += fmt.Sprintf("%dx", d)
		}
		return s + dtypeString(t.DType) + ">"
	default:
		return "invalid"
	}
}

func dtypeString(dtype dtypes.DType) string {
	switch dtype {
	case dtypes.Float16:
		return "f16"
	case dtypes.BFloat16:
		return "bf16"
	case dtypes.Float32:
		return "f32"
	case dtypes.Float64:
		return "f64"
	case dtypes.Int8:
		return "i8"
	case dtypes.Int16:
		return "i16"
	case dtypes.Int32:
		return "i32"
	case dtypes.Int64:
		return "i64"
	default:
		return dtype.String()
	}
}

// Value is an SSA value: a function parameter, a block argument or an op
// result.
type Value struct {
	id  int
	typ Type
}

// Type returns the value's type.
func (v *Value) Type() Type { return v.typ }

// String prints the value's SSA name, e.g. "%3".
func (v *Value) String() string { return fmt.Sprintf("%%%d", v.id) }

// OpKind discriminates the operations.
type OpKind int

const (
	OpInvalid OpKind = iota

	// OpConstant materializes a literal (scalar or index).
	OpConstant

	// OpThreadID and OpBlockID produce the launch coordinates of the executing
	// thread.
	OpThreadID
	OpBlockID

	// OpBinary and OpUnary are element arithmetic on scalars.
	OpBinary
	OpUnary

	// OpIndexCast converts an index value to a scalar.
	OpIndexCast

	// OpExtract reads one element of a tensor value.
	OpExtract

	// OpInsert produces a new tensor value equal to its operand except for one
	// element. The operand tensor value is unchanged.
	OpInsert

	// OpCall invokes another function of the module.
	OpCall

	// OpLoop iterates the domain of an indexing map, threading iter-args
	// functionally: the body receives the current iter values and yields the
	// next ones; the op's results are the values after the last iteration.
	OpLoop

	// OpYield terminates a loop body with the updated iter-args.
	OpYield

	// OpReturn terminates a function.
	OpReturn
)

// BinaryKind selects the arithmetic of an OpBinary.
type BinaryKind int

const (
	BinAdd BinaryKind = iota
	BinSub
	BinMul
	BinDiv
	BinMax
	BinMin
	BinPow
)

// String returns the printed mnemonic.
func (k BinaryKind) String() string {
	switch k {
	case BinAdd:
		return "add"
	case BinSub:
		return "sub"
	case BinMul:
		return "mul"
	case BinDiv:
		return "div"
	case BinMax:
		return "max"
	case BinMin:
		return "min"
	case BinPow:
		return "pow"
	default:
		return "?"
	}
}

// UnaryKind selects the arithmetic of an OpUnary.
type UnaryKind int

const (
	UnNeg UnaryKind = iota
	UnAbs
	UnExp
	UnLog
	UnTanh
	UnSqrt
)

// String returns the printed mnemonic.
func (k UnaryKind) String() string {
	switch k {
	case UnNeg:
		return "neg"
	case UnAbs:
		return "abs"
	case UnExp:
		return "exp"
	case UnLog:
		return "log"
	case UnTanh:
		return "tanh"
	case UnSqrt:
		return "sqrt"
	default:
		return "?"
	}
}

// Op is one operation. Which fields are meaningful depends on Kind.
type Op struct {
	Kind    OpKind
	Inputs  []*Value
	Results []*Value

	// Attributes.
	Literal float64       // OpConstant.
	Axis    int           // OpThreadID / OpBlockID (0 is x).
	BinKind BinaryKind    // OpBinary.
	UnKind  UnaryKind     // OpUnary.
	Callee  *Func         // OpCall.
	Map     *indexing.Map // OpLoop.
	Body    *Block        // OpLoop region.
}

// Block is a sequence of ops, with arguments when it is a loop region: the
// loop's symbol values, then the codomain coordinates, then the iter-args.
type Block struct {
	Args []*Value
	Ops  []*Op
}

// Func is a function of a Module. Params are the function arguments;
// for entry functions they are the input buffers followed by the output
// buffers, order significant.
type Func struct {
	Name        string
	Params      []*Value
	ResultTypes []Type

	// Body is nil for functions that are declared but not yet lowered.
	Body *Block

	module      *Module
	nextValueID int
}

// newValue allocates a fresh SSA value in this function.
func (f *Func) newValue(t Type) *Value {
	v := &Value{id: f.nextValueID, typ: t}
	f.nextValueID++
	return v
}

// Module is a set of functions being populated by one code-generation call.
// It is owned by the calling pipeline; the emitters keep no reference to it
// after they return.
type Module struct {
	Name  string
	Funcs []*Func

	funcNames map[string]bool
}

// NewModule returns an empty module.
func NewModule(name string) *Module {
	return &Module{Name: name, funcNames: make(map[string]bool)}
}

// NewFunc declares a function with the given parameter and result types and no
// body. Duplicate names get a unique suffix.
func (m *Module) NewFunc(name string, paramTypes, resultTypes []Type) *Func {
	if m.funcNames[name] {
		name = fmt.Sprintf("%s_%s", name, uuid.NewString()[:8])
	}
	m.funcNames[name] = true
	f := &Func{Name: name, ResultTypes: resultTypes, module: m}
	f.Params = make([]*Value, len(paramTypes))
	for i, t := range paramTypes {
		f.Params[i] = f.newValue(t)
	}
	m.Funcs = append(m.Funcs, f)
	return f
}
