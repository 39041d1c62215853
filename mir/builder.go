// Copyright 2024-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package mir

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"

	"github.com/gomlx/fusegen/indexing"
)

// Builder appends ops to a function body (or, inside EmitLoopNest, to a loop
// region). Type mismatches are programming errors and panic.
type Builder struct {
	fn    *Func
	block *Block
}

// NewBuilder returns a builder positioned at the end of the function's body,
// creating an empty body if the function was only declared.
func NewBuilder(fn *Func) *Builder {
	if fn.Body == nil {
		fn.Body = &Block{}
	}
	return &Builder{fn: fn, block: fn.Body}
}

// Func returns the function being built.
func (b *Builder) Func() *Func { return b.fn }

func (b *Builder) add(op *Op) *Op {
	b.block.Ops = append(b.block.Ops, op)
	return op
}

func (b *Builder) newResult(t Type) *Value { return b.fn.newValue(t) }

// Constant materializes a scalar literal.
func (b *Builder) Constant(dtype dtypes.DType, value float64) *Value {
	op := &Op{Kind: OpConstant, Literal: value, Results: []*Value{b.newResult(Scalar(dtype))}}
	b.add(op)
	return op.Results[0]
}

// IndexConstant materializes an index literal.
func (b *Builder) IndexConstant(value int64) *Value {
	op := &Op{Kind: OpConstant, Literal: float64(value), Results: []*Value{b.newResult(Index())}}
	b.add(op)
	return op.Results[0]
}

// ThreadID returns the thread coordinate along the given axis (0 is x).
func (b *Builder) ThreadID(axis int) *Value {
	op := &Op{Kind: OpThreadID, Axis: axis, Results: []*Value{b.newResult(Index())}}
	b.add(op)
	return op.Results[0]
}

// BlockID returns the block coordinate along the given axis (0 is x).
func (b *Builder) BlockID(axis int) *Value {
	op := &Op{Kind: OpBlockID, Axis: axis, Results: []*Value{b.newResult(Index())}}
	b.add(op)
	return op.Results[0]
}

// Binary emits scalar arithmetic over two values of the same scalar type.
func (b *Builder) Binary(kind BinaryKind, lhs, rhs *Value) *Value {
	if lhs.typ.Kind != ScalarType || !lhs.typ.Equal(rhs.typ) {
		exceptions.Panicf("Builder.Binary(%s): operands must share a scalar type, got %s and %s",
			kind, lhs.typ, rhs.typ)
	}
	op := &Op{Kind: OpBinary, BinKind: kind, Inputs: []*Value{lhs, rhs},
		Results: []*Value{b.newResult(lhs.typ)}}
	b.add(op)
	return op.Results[0]
}

// Unary emits scalar arithmetic over one value.
func (b *Builder) Unary(kind UnaryKind, x *Value) *Value {
	if x.typ.Kind != ScalarType {
		exceptions.Panicf("Builder.Unary(%s): operand must be a scalar, got %s", kind, x.typ)
	}
	op := &Op{Kind: OpUnary, UnKind: kind, Inputs: []*Value{x},
		Results: []*Value{b.newResult(x.typ)}}
	b.add(op)
	return op.Results[0]
}

// IndexCast converts an index value to a scalar of the given dtype.
func (b *Builder) IndexCast(x *Value, dtype dtypes.DType) *Value {
	if x.typ.Kind != IndexType {
		exceptions.Panicf("Builder.IndexCast: operand must be an index, got %s", x.typ)
	}
	op := &Op{Kind: OpIndexCast, Inputs: []*Value{x}, Results: []*Value{b.newResult(Scalar(dtype))}}
	b.add(op)
	return op.Results[0]
}

// Extract reads the element of the tensor at the given coordinates (one index
// value per axis).
func (b *Builder) Extract(tensor *Value, indices ...*Value) *Value {
	b.checkTensorIndices("Extract", tensor, indices)
	op := &Op{Kind: OpExtract, Inputs: append([]*Value{tensor}, indices...),
		Results: []*Value{b.newResult(Scalar(tensor.typ.DType))}}
	b.add(op)
	return op.Results[0]
}

// Insert produces a new tensor value: the operand tensor with the element at
// the given coordinates replaced by scalar.
func (b *Builder) Insert(scalar, tensor *Value, indices ...*Value) *Value {
	b.checkTensorIndices("Insert", tensor, indices)
	if scalar.typ.Kind != ScalarType || scalar.typ.DType != tensor.typ.DType {
		exceptions.Panicf("Builder.Insert: scalar type %s does not match tensor %s", scalar.typ, tensor.typ)
	}
	op := &Op{Kind: OpInsert, Inputs: append([]*Value{scalar, tensor}, indices...),
		Results: []*Value{b.newResult(tensor.typ)}}
	b.add(op)
	return op.Results[0]
}

func (b *Builder) checkTensorIndices(what string, tensor *Value, indices []*Value) {
	if tensor.typ.Kind != TensorType {
		exceptions.Panicf("Builder.%s: expected a tensor value, got %s", what, tensor.typ)
	}
	if len(indices) != tensor.typ.Shape.Rank() {
		exceptions.Panicf("Builder.%s: %d indices for rank-%d tensor %s",
			what, len(indices), tensor.typ.Shape.Rank(), tensor.typ)
	}
	for i, idx := range indices {
		if idx.typ.Kind != IndexType {
			exceptions.Panicf("Builder.%s: index #%d has type %s, expected index", what, i, idx.typ)
		}
	}
}

// Call invokes another function of the module with the given arguments.
func (b *Builder) Call(callee *Func, args ...*Value) []*Value {
	if callee == nil {
		exceptions.Panicf("Builder.Call: nil callee")
	}
	if len(args) != len(callee.Params) {
		exceptions.Panicf("Builder.Call(%s): %d arguments for %d parameters",
			callee.Name, len(args), len(callee.Params))
	}
	for i, arg := range args {
		if !arg.typ.Equal(callee.Params[i].typ) {
			exceptions.Panicf("Builder.Call(%s): argument #%d has type %s, parameter expects %s",
				callee.Name, i, arg.typ, callee.Params[i].typ)
		}
	}
	op := &Op{Kind: OpCall, Callee: callee, Inputs: args}
	op.Results = make([]*Value, len(callee.ResultTypes))
	for i, t := range callee.ResultTypes {
		op.Results[i] = b.newResult(t)
	}
	b.add(op)
	return op.Results
}

// Return terminates the function with the given values, which must match the
// function's declared result types.
func (b *Builder) Return(values ...*Value) {
	if len(values) != len(b.fn.ResultTypes) {
		exceptions.Panicf("Builder.Return: %d values for %d declared results in %s",
			len(values), len(b.fn.ResultTypes), b.fn.Name)
	}
	for i, v := range values {
		if !v.typ.Equal(b.fn.ResultTypes[i]) {
			exceptions.Panicf("Builder.Return: value #%d has type %s, %s declares %s",
				i, v.typ, b.fn.Name, b.fn.ResultTypes[i])
		}
	}
	b.add(&Op{Kind: OpReturn, Inputs: values})
}

// LoopBodyFn builds one loop iteration: it receives the iter values from the
// previous iteration and the output coordinates of the current domain point,
// and returns the updated iter values.
type LoopBodyFn func(iterArgs, coords []*Value) ([]*Value, error)

// EmitLoopNest emits a loop over the domain of the indexing map, threading the
// init values through every iteration and returning the values after the last
// one.
//
// The map's dimension variables must be (thread.x, block.x), in that order:
// EmitLoopNest materializes them with ThreadID/BlockID ops, so the loop's
// symbols (the unroll iteration) are the only runtime-iterated variables per
// thread. Domain points failing the map's constraints are skipped, which is
// how boundary threads are masked.
func (b *Builder) EmitLoopNest(inits []*Value, m *indexing.Map, body LoopBodyFn) ([]*Value, error) {
	if m.NumDims() != 2 {
		return nil, errors.Errorf("EmitLoopNest: map domain must be (thread.x, block.x), got %d dims: %s",
			m.NumDims(), m)
	}
	dims := []*Value{b.ThreadID(0), b.BlockID(0)}

	op := &Op{Kind: OpLoop, Map: m, Inputs: append(dims, inits...), Body: &Block{}}

	// Region arguments: symbols, codomain coordinates, iter-args.
	for range m.SymbolBounds {
		op.Body.Args = append(op.Body.Args, b.newResult(Index()))
	}
	coords := make([]*Value, m.NumResults())
	for i := range coords {
		coords[i] = b.newResult(Index())
		op.Body.Args = append(op.Body.Args, coords[i])
	}
	iterArgs := make([]*Value, len(inits))
	for i, init := range inits {
		iterArgs[i] = b.newResult(init.typ)
		op.Body.Args = append(op.Body.Args, iterArgs[i])
	}

	// Redirect the builder into the region, build the body, then yield the
	// updated values and restore the insertion point.
	outer := b.block
	b.block = op.Body
	defer func() { b.block = outer }()
	updated, err := body(iterArgs, coords)
	if err != nil {
		return nil, err
	}
	if len(updated) != len(inits) {
		exceptions.Panicf("EmitLoopNest: body returned %d values for %d iter-args", len(updated), len(inits))
	}
	for i, v := range updated {
		if !v.typ.Equal(inits[i].typ) {
			exceptions.Panicf("EmitLoopNest: iter-arg #%d updated with type %s, expected %s",
				i, v.typ, inits[i].typ)
		}
	}
	b.add(&Op{Kind: OpYield, Inputs: updated})
	b.block = outer

	op.Results = make([]*Value, len(inits))
	for i, init := range inits {
		op.Results[i] = b.newResult(init.typ)
	}
	b.add(op)
	return op.Results, nil
}
