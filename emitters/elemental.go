// Copyright 2024-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package emitters

import (
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/gomlx/fusegen/hlo"
	"github.com/gomlx/fusegen/mir"
)

// CallTargetFn resolves the function compiled for the subgraph that owns an
// instruction, for instructions emitted outside the current subgraph.
type CallTargetFn func(instr *hlo.Instruction) *mir.Func

// binaryKind translates an element-wise binary op to its arithmetic kind.
func binaryKind(t hlo.OpType) mir.BinaryKind {
	switch t {
	case hlo.OpAdd:
		return mir.BinAdd
	case hlo.OpSub:
		return mir.BinSub
	case hlo.OpMul:
		return mir.BinMul
	case hlo.OpDiv:
		return mir.BinDiv
	case hlo.OpMax:
		return mir.BinMax
	case hlo.OpMin:
		return mir.BinMin
	case hlo.OpPow:
		return mir.BinPow
	}
	exceptions.Panicf("binaryKind: %s is not a binary op", t)
	return 0
}

// unaryKind translates an element-wise unary op to its arithmetic kind.
func unaryKind(t hlo.OpType) mir.UnaryKind {
	switch t {
	case hlo.OpNeg:
		return mir.UnNeg
	case hlo.OpAbs:
		return mir.UnAbs
	case hlo.OpExp:
		return mir.UnExp
	case hlo.OpLog:
		return mir.UnLog
	case hlo.OpTanh:
		return mir.UnTanh
	case hlo.OpSqrt:
		return mir.UnSqrt
	}
	exceptions.Panicf("unaryKind: %s is not a unary op", t)
	return 0
}

// elementalEmitter lowers the instructions of one subgraph to scalar ops,
// memoizing each (instruction, coordinates) pair so shared operands within the
// subgraph are emitted once.
type elementalEmitter struct {
	builder     *mir.Builder
	subgraph    *Subgraph
	callTargets CallTargetFn
	inputs      []*mir.Value // Computation parameters, as tensor values.

	memo map[emitKey]*mir.Value
}

type emitKey struct {
	instr  *hlo.Instruction
	coords string
}

func coordsKey(coords []*mir.Value) string {
	var sb strings.Builder
	for _, c := range coords {
		sb.WriteString(c.String())
		sb.WriteByte(',')
	}
	return sb.String()
}

// EmitSubgraph lowers the subgraph at the given output coordinates and returns
// one scalar per subgraph root. The indices must match the rank of the
// subgraph root; the builder's insertion point is where the scalars are
// needed (it may be inside a loop region).
func EmitSubgraph(sg *Subgraph, callTargets CallTargetFn, b *mir.Builder,
	inputs, indices []*mir.Value) ([]*mir.Value, error) {
	e := &elementalEmitter{
		builder:     b,
		subgraph:    sg,
		callTargets: callTargets,
		inputs:      inputs,
		memo:        make(map[emitKey]*mir.Value),
	}
	results := make([]*mir.Value, 0, len(sg.Roots()))
	for _, root := range sg.Roots() {
		v, err := e.emit(root, indices)
		if err != nil {
			return nil, err
		}
		results = append(results, v)
	}
	return results, nil
}

// SubgraphToMirFunction lowers the subgraph into its declared function: the
// function's trailing index parameters are the coordinates, the leading
// parameters the computation inputs.
func SubgraphToMirFunction(sg *Subgraph, fn *mir.Func, callTargets CallTargetFn) error {
	if fn.Body != nil {
		exceptions.Panicf("SubgraphToMirFunction: %s already has a body", fn.Name)
	}
	b := mir.NewBuilder(fn)
	numInputs := len(fn.Params) - subgraphRootShape(sg).Rank()
	inputs := fn.Params[:numInputs]
	indices := fn.Params[numInputs:]
	scalars, err := EmitSubgraph(sg, callTargets, b, inputs, indices)
	if err != nil {
		return errors.Wrapf(err, "lowering subgraph %s", sg.Name())
	}
	b.Return(scalars...)
	klog.V(2).Infof("lowered subgraph %s (%d ops)", sg.Name(), len(fn.Body.Ops))
	return nil
}

// emit produces the scalar value of instr at the given coordinates. The
// coordinates always match instr's rank: they are re-derived at each
// structural op on the way down.
func (e *elementalEmitter) emit(instr *hlo.Instruction, coords []*mir.Value) (*mir.Value, error) {
	key := emitKey{instr: instr, coords: coordsKey(coords)}
	if v, ok := e.memo[key]; ok {
		return v, nil
	}
	v, err := e.emitUncached(instr, coords)
	if err != nil {
		return nil, err
	}
	e.memo[key] = v
	return v, nil
}

func (e *elementalEmitter) emitUncached(instr *hlo.Instruction, coords []*mir.Value) (*mir.Value, error) {
	opType := instr.OpType()

	// Values owned by another subgraph are obtained by calling its function.
	if !e.subgraph.Contains(instr) && !isInlined(instr) {
		callee := e.callTargets(instr)
		if callee == nil {
			exceptions.Panicf("emit: no call target for %s, which is outside subgraph %s",
				instr.Name(), e.subgraph.Name())
		}
		args := append(append([]*mir.Value{}, e.inputs...), coords...)
		return e.builder.Call(callee, args...)[0], nil
	}

	switch {
	case opType == hlo.OpParameter:
		tensor := e.inputs[instr.ParamIndex()]
		return e.builder.Extract(tensor, coords...), nil

	case opType == hlo.OpConstant:
		return e.builder.Constant(instr.Shape().DType, instr.Literal()), nil

	case opType == hlo.OpIota:
		return e.builder.IndexCast(coords[instr.IotaAxis()], instr.Shape().DType), nil

	case opType == hlo.OpBroadcast:
		// The operand's axes are the trailing axes of the result.
		operand := instr.Operand(0)
		operandCoords := coords[len(coords)-operand.Shape().Rank():]
		return e.emit(operand, operandCoords)

	case opType.IsUnary():
		x, err := e.emit(instr.Operand(0), coords)
		if err != nil {
			return nil, err
		}
		return e.builder.Unary(unaryKind(opType), x), nil

	case opType.IsBinary():
		lhs, err := e.emit(instr.Operand(0), coords)
		if err != nil {
			return nil, err
		}
		rhs, err := e.emit(instr.Operand(1), coords)
		if err != nil {
			return nil, err
		}
		return e.builder.Binary(binaryKind(opType), lhs, rhs), nil
	}

	return nil, errors.Errorf("elemental lowering does not support %s (%s)", opType, instr.Name())
}
