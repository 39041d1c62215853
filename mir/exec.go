// Copyright 2024-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package mir

import (
	"math"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/pkg/errors"
	"github.com/x448/float16"

	"github.com/gomlx/fusegen/launch"
	"github.com/gomlx/fusegen/types/shapes"
)

// Buffer is a concrete tensor value used by the interpreter: a shape plus flat
// row-major storage in the shape's dtype. Arithmetic happens in float64; loads
// and stores convert, so reduced-precision dtypes round exactly as their
// storage does.
type Buffer struct {
	shape shapes.Shape
	flat  any
}

// NewBuffer returns a zero-initialized buffer of the given (non-tuple) shape.
func NewBuffer(shape shapes.Shape) *Buffer {
	if !shape.Ok() || shape.IsTuple() {
		exceptions.Panicf("mir.NewBuffer: invalid buffer shape %s", shape)
	}
	b := &Buffer{shape: shape}
	size := shape.Size()
	switch shape.DType {
	case dtypes.Float16:
		b.flat = make([]float16.Float16, size)
	case dtypes.BFloat16:
		b.flat = make([]bfloat16.BFloat16, size)
	case dtypes.Float32:
		b.flat = make([]float32, size)
	case dtypes.Float64:
		b.flat = make([]float64, size)
	case dtypes.Int32:
		b.flat = make([]int32, size)
	case dtypes.Int64:
		b.flat = make([]int64, size)
	default:
		exceptions.Panicf("mir.NewBuffer: unsupported dtype %s", shape.DType)
	}
	return b
}

// NewBufferFromFloats returns a buffer of the given shape with the values
// converted from float64.
func NewBufferFromFloats(shape shapes.Shape, values []float64) *Buffer {
	if len(values) != shape.Size() {
		exceptions.Panicf("mir.NewBufferFromFloats: %d values for shape %s (size %d)",
			len(values), shape, shape.Size())
	}
	b := NewBuffer(shape)
	for i, v := range values {
		b.set(i, v)
	}
	return b
}

// Shape returns the buffer's shape.
func (b *Buffer) Shape() shapes.Shape { return b.shape }

// Floats returns a copy of the buffer contents converted to float64.
func (b *Buffer) Floats() []float64 {
	out := make([]float64, b.shape.Size())
	for i := range out {
		out[i] = b.at(i)
	}
	return out
}

// Clone returns a deep copy.
func (b *Buffer) Clone() *Buffer {
	clone := NewBuffer(b.shape)
	switch flat := b.flat.(type) {
	case []float16.Float16:
		copy(clone.flat.([]float16.Float16), flat)
	case []bfloat16.BFloat16:
		copy(clone.flat.([]bfloat16.BFloat16), flat)
	case []float32:
		copy(clone.flat.([]float32), flat)
	case []float64:
		copy(clone.flat.([]float64), flat)
	case []int32:
		copy(clone.flat.([]int32), flat)
	case []int64:
		copy(clone.flat.([]int64), flat)
	}
	return clone
}

func (b *Buffer) at(linear int) float64 {
	switch flat := b.flat.(type) {
	case []float16.Float16:
		return float64(flat[linear].Float32())
	case []bfloat16.BFloat16:
		return float64(flat[linear].Float32())
	case []float32:
		return float64(flat[linear])
	case []float64:
		return flat[linear]
	case []int32:
		return float64(flat[linear])
	case []int64:
		return float64(flat[linear])
	}
	exceptions.Panicf("mir.Buffer: unsupported storage %T", b.flat)
	return 0
}

func (b *Buffer) set(linear int, value float64) {
	switch flat := b.flat.(type) {
	case []float16.Float16:
		flat[linear] = float16.Fromfloat32(float32(value))
	case []bfloat16.BFloat16:
		flat[linear] = bfloat16.FromFloat32(float32(value))
	case []float32:
		flat[linear] = float32(value)
	case []float64:
		flat[linear] = value
	case []int32:
		flat[linear] = int32(value)
	case []int64:
		flat[linear] = int64(value)
	default:
		exceptions.Panicf("mir.Buffer: unsupported storage %T", b.flat)
	}
}

func (b *Buffer) linearize(indices []int64) int {
	if len(indices) != b.shape.Rank() {
		exceptions.Panicf("mir.Buffer: %d indices for rank-%d buffer %s", len(indices), b.shape.Rank(), b.shape)
	}
	linear := 0
	for axis, stride := range b.shape.Strides() {
		idx := indices[axis]
		if idx < 0 || idx >= int64(b.shape.Dimensions[axis]) {
			exceptions.Panicf("mir.Buffer: index %d out of range for axis %d of %s", idx, axis, b.shape)
		}
		linear += int(idx) * stride
	}
	return linear
}

// execContext carries the launch coordinates of the simulated thread.
type execContext struct {
	threadID, blockID int64
}

// Execute runs the function over the given launch grid, once per (block,
// thread) point, sequentially, threading the output buffer values across
// invocations: the buffers returned by one simulated thread are the output
// arguments of the next. Inputs bind to the leading parameters; the remaining
// (output) parameters are allocated zero-initialized.
//
// This is a reference interpreter for tests and tooling, not a performance
// path.
func Execute(fn *Func, grid launch.Dimensions, inputs []*Buffer) ([]*Buffer, error) {
	if fn.Body == nil {
		return nil, errors.Errorf("mir.Execute: function %s has no body", fn.Name)
	}
	if len(inputs) > len(fn.Params) {
		return nil, errors.Errorf("mir.Execute: %d inputs for %d parameters of %s",
			len(inputs), len(fn.Params), fn.Name)
	}
	args := make([]any, len(fn.Params))
	for i, p := range fn.Params {
		if p.typ.Kind != TensorType {
			return nil, errors.Errorf("mir.Execute: parameter #%d of %s is %s, expected a tensor",
				i, fn.Name, p.typ)
		}
		if i < len(inputs) {
			if !inputs[i].shape.Equal(p.typ.Shape) {
				return nil, errors.Errorf("mir.Execute: input #%d has shape %s, %s expects %s",
					i, inputs[i].shape, fn.Name, p.typ.Shape)
			}
			args[i] = inputs[i]
		} else {
			args[i] = NewBuffer(p.typ.Shape)
		}
	}

	numOutputs := len(fn.Params) - len(inputs)
	for blockID := int64(0); blockID < int64(grid.GridSize); blockID++ {
		for threadID := int64(0); threadID < int64(grid.BlockSize); threadID++ {
			ctx := execContext{threadID: threadID, blockID: blockID}
			results, err := evalFunc(ctx, fn, args)
			if err != nil {
				return nil, errors.Wrapf(err, "executing %s at block=%d thread=%d", fn.Name, blockID, threadID)
			}
			if len(results) != numOutputs {
				return nil, errors.Errorf("mir.Execute: %s returned %d values, expected %d output buffers",
					fn.Name, len(results), numOutputs)
			}
			for i, r := range results {
				buf, ok := r.(*Buffer)
				if !ok {
					return nil, errors.Errorf("mir.Execute: %s result #%d is %T, expected a tensor", fn.Name, i, r)
				}
				args[len(inputs)+i] = buf
			}
		}
	}

	outputs := make([]*Buffer, numOutputs)
	for i := range outputs {
		outputs[i] = args[len(inputs)+i].(*Buffer)
	}
	return outputs, nil
}

func evalFunc(ctx execContext, fn *Func, args []any) ([]any, error) {
	if fn.Body == nil {
		return nil, errors.Errorf("function %s has no body", fn.Name)
	}
	if len(args) != len(fn.Params) {
		return nil, errors.Errorf("function %s called with %d arguments for %d parameters",
			fn.Name, len(args), len(fn.Params))
	}
	env := make(map[*Value]any, len(fn.Params))
	for i, p := range fn.Params {
		env[p] = args[i]
	}
	results, isReturn, err := evalBlock(ctx, fn.Body, env)
	if err != nil {
		return nil, err
	}
	if !isReturn {
		return nil, errors.Errorf("function %s body did not end in a return", fn.Name)
	}
	return results, nil
}

// evalBlock runs the ops of a block. It returns the values of the terminating
// return or yield, with isReturn distinguishing the two.
func evalBlock(ctx execContext, block *Block, env map[*Value]any) (values []any, isReturn bool, err error) {
	for _, op := range block.Ops {
		switch op.Kind {
		case OpConstant:
			if op.Results[0].typ.Kind == IndexType {
				env[op.Results[0]] = int64(op.Literal)
			} else {
				env[op.Results[0]] = op.Literal
			}

		case OpThreadID:
			env[op.Results[0]] = ctx.threadID

		case OpBlockID:
			env[op.Results[0]] = ctx.blockID

		case OpBinary:
			lhs := env[op.Inputs[0]].(float64)
			rhs := env[op.Inputs[1]].(float64)
			env[op.Results[0]] = evalBinary(op.BinKind, lhs, rhs)

		case OpUnary:
			env[op.Results[0]] = evalUnary(op.UnKind, env[op.Inputs[0]].(float64))

		case OpIndexCast:
			env[op.Results[0]] = float64(env[op.Inputs[0]].(int64))

		case OpExtract:
			buf := env[op.Inputs[0]].(*Buffer)
			env[op.Results[0]] = buf.at(buf.linearize(indexValues(env, op.Inputs[1:])))

		case OpInsert:
			scalar := env[op.Inputs[0]].(float64)
			buf := env[op.Inputs[1]].(*Buffer)
			updated := buf.Clone()
			updated.set(updated.linearize(indexValues(env, op.Inputs[2:])), scalar)
			env[op.Results[0]] = updated

		case OpCall:
			args := make([]any, len(op.Inputs))
			for i, in := range op.Inputs {
				args[i] = env[in]
			}
			results, err := evalFunc(ctx, op.Callee, args)
			if err != nil {
				return nil, false, err
			}
			for i, r := range results {
				env[op.Results[i]] = r
			}

		case OpLoop:
			if err := evalLoop(ctx, op, env); err != nil {
				return nil, false, err
			}

		case OpYield:
			values := make([]any, len(op.Inputs))
			for i, in := range op.Inputs {
				values[i] = env[in]
			}
			return values, false, nil

		case OpReturn:
			values := make([]any, len(op.Inputs))
			for i, in := range op.Inputs {
				values[i] = env[in]
			}
			return values, true, nil

		default:
			return nil, false, errors.Errorf("cannot interpret op kind %d", op.Kind)
		}
	}
	return nil, false, errors.Errorf("block ended without a terminator")
}

// evalLoop iterates the symbol space of the loop's indexing map in row-major
// order, skipping points outside the domain, and threads the iter values
// through the body.
func evalLoop(ctx execContext, op *Op, env map[*Value]any) error {
	m := op.Map
	numDims := m.NumDims()
	dims := indexValues(env, op.Inputs[:numDims])

	iters := make([]any, len(op.Inputs)-numDims)
	for i, in := range op.Inputs[numDims:] {
		iters[i] = env[in]
	}

	numSyms := m.NumSymbols()
	numCoords := m.NumResults()
	symbols := make([]int64, numSyms)
	for i := range symbols {
		symbols[i] = m.SymbolBounds[i].Lower
	}
	for {
		if m.IsInBounds(dims, symbols) {
			coords := m.Eval(dims, symbols)
			for i, arg := range op.Body.Args {
				switch {
				case i < numSyms:
					env[arg] = symbols[i]
				case i < numSyms+numCoords:
					env[arg] = coords[i-numSyms]
				default:
					env[arg] = iters[i-numSyms-numCoords]
				}
			}
			yielded, isReturn, err := evalBlock(ctx, op.Body, env)
			if err != nil {
				return err
			}
			if isReturn {
				return errors.Errorf("loop body terminated with return instead of yield")
			}
			if len(yielded) != len(iters) {
				return errors.Errorf("loop body yielded %d values for %d iter-args", len(yielded), len(iters))
			}
			iters = yielded
		}
		// Advance the symbol odometer.
		axis := numSyms - 1
		for ; axis >= 0; axis-- {
			symbols[axis]++
			if symbols[axis] <= m.SymbolBounds[axis].Upper {
				break
			}
			symbols[axis] = m.SymbolBounds[axis].Lower
		}
		if axis < 0 {
			break
		}
	}

	for i, r := range op.Results {
		env[r] = iters[i]
	}
	return nil
}

func indexValues(env map[*Value]any, values []*Value) []int64 {
	out := make([]int64, len(values))
	for i, v := range values {
		out[i] = env[v].(int64)
	}
	return out
}

func evalBinary(kind BinaryKind, lhs, rhs float64) float64 {
	switch kind {
	case BinAdd:
		return lhs + rhs
	case BinSub:
		return lhs - rhs
	case BinMul:
		return lhs * rhs
	case BinDiv:
		return lhs / rhs
	case BinMax:
		return math.Max(lhs, rhs)
	case BinMin:
		return math.Min(lhs, rhs)
	case BinPow:
		return math.Pow(lhs, rhs)
	}
	exceptions.Panicf("evalBinary: unknown kind %d", kind)
	return 0
}

func evalUnary(kind UnaryKind, x float64) float64 {
	switch kind {
	case UnNeg:
		return -x
	case UnAbs:
		return math.Abs(x)
	case UnExp:
		return math.Exp(x)
	case UnLog:
		return math.Log(x)
	case UnTanh:
		return math.Tanh(x)
	case UnSqrt:
		return math.Sqrt(x)
	}
	exceptions.Panicf("evalUnary: unknown kind %d", kind)
	return 0
}
