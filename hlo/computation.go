// Copyright 2024-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package hlo represents fused element-wise operator graphs: a Computation is
// a DAG of Instructions, built incrementally, with explicit parameters and one
// or more root instructions (the fusion outputs).
//
// The package also derives the local output→input indexing relation of each
// instruction (see OperandIndexing), which the emitters compose with the
// thread→output map to locate operand reads.
//
// To simplify error handling, graph construction panics (with a stack trace,
// see github.com/gomlx/exceptions) on malformed inputs: those are programming
// errors, not data errors.
package hlo

import (
	"fmt"
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"

	"github.com/gomlx/fusegen/types/shapes"
)

// Computation is a DAG of instructions with named parameters and designated
// roots. Instructions are stored in creation order, which is a valid
// topological order: operands always precede their users.
type Computation struct {
	name string

	instructions []*Instruction
	parameters   []*Instruction
	roots        []*Instruction
}

// Instruction is a node in a Computation. It is created through the
// Computation builder methods and immutable afterwards.
type Instruction struct {
	computation *Computation
	index       int
	name        string

	opType   OpType
	shape    shapes.Shape
	operands []*Instruction
	users    []*Instruction

	// Op-specific payloads.
	paramIndex  int          // OpParameter
	literal     float64      // OpConstant
	iotaAxis    int          // OpIota
	reverseAxes []int        // OpReverse
	fused       *Computation // OpFusion
}

// NewComputation returns an empty computation with the given name.
func NewComputation(name string) *Computation {
	return &Computation{name: name}
}

// Name returns the computation name.
func (c *Computation) Name() string { return c.name }

// Instructions returns all instructions in creation (topological) order.
func (c *Computation) Instructions() []*Instruction { return c.instructions }

// Parameters returns the parameter instructions in parameter order.
func (c *Computation) Parameters() []*Instruction { return c.parameters }

// NumParameters returns the number of parameters.
func (c *Computation) NumParameters() int { return len(c.parameters) }

// SetRoots designates the computation outputs, in output order. For
// multi-output fusions all root leaf shapes must have identical dimensions;
// that legality is validated by the caller, not here.
func (c *Computation) SetRoots(roots ...*Instruction) {
	if len(roots) == 0 {
		exceptions.Panicf("%s.SetRoots: at least one root required", c.name)
	}
	c.checkInstructions("SetRoots", roots...)
	c.roots = slices.Clone(roots)
}

// Roots returns the designated outputs. If SetRoots was never called, it
// defaults to the last created instruction.
func (c *Computation) Roots() []*Instruction {
	if len(c.roots) > 0 {
		return c.roots
	}
	if len(c.instructions) == 0 {
		exceptions.Panicf("%s.Roots: computation is empty", c.name)
	}
	return c.instructions[len(c.instructions)-1:]
}

// newInstruction appends a new instruction of the given opType and shape to
// the computation. It's used by the builder methods below.
func (c *Computation) newInstruction(opType OpType, shape shapes.Shape, operands ...*Instruction) *Instruction {
	instr := &Instruction{
		computation: c,
		index:       len(c.instructions),
		name:        fmt.Sprintf("%s.%d", opType, len(c.instructions)),
		opType:      opType,
		shape:       shape,
		operands:    slices.Clone(operands),
	}
	for _, operand := range operands {
		operand.users = append(operand.users, instr)
	}
	c.instructions = append(c.instructions, instr)
	return instr
}

// checkInstructions validates that the instructions are non-nil and belong to
// this computation.
func (c *Computation) checkInstructions(op string, instructions ...*Instruction) {
	for idx, instr := range instructions {
		if instr == nil {
			exceptions.Panicf("%s.%s: input instruction #%d is nil!?", c.name, op, idx)
		}
		if instr.computation != c {
			exceptions.Panicf("%s.%s: input instruction #%d (%s) belongs to computation %q",
				c.name, op, idx, instr.name, instr.computation.name)
		}
	}
}

// Parameter adds a named input of the given shape. Parameter order defines
// the order of the buffer arguments of the generated function.
func (c *Computation) Parameter(name string, shape shapes.Shape) *Instruction {
	if !shape.Ok() {
		exceptions.Panicf("%s.Parameter(%q): invalid shape", c.name, name)
	}
	instr := c.newInstruction(OpParameter, shape)
	instr.paramIndex = len(c.parameters)
	if name != "" {
		instr.name = name
	}
	c.parameters = append(c.parameters, instr)
	return instr
}

// Constant adds a scalar literal of the given dtype. Non-scalar constants are
// expressed as Broadcast(Constant(...)).
func (c *Computation) Constant(dtype dtypes.DType, value float64) *Instruction {
	instr := c.newInstruction(OpConstant, shapes.Scalar(dtype))
	instr.literal = value
	return instr
}

// Iota adds an instruction whose elements are their own coordinate along the
// given axis.
func (c *Computation) Iota(shape shapes.Shape, axis int) *Instruction {
	if axis < 0 || axis >= shape.Rank() {
		exceptions.Panicf("%s.Iota: axis %d out of range for shape %s", c.name, axis, shape)
	}
	instr := c.newInstruction(OpIota, shape)
	instr.iotaAxis = axis
	return instr
}

// Unary adds an element-wise unary operation.
func (c *Computation) Unary(opType OpType, x *Instruction) *Instruction {
	if !opType.IsUnary() {
		exceptions.Panicf("%s.Unary: %s is not a unary op", c.name, opType)
	}
	c.checkInstructions(opType.String(), x)
	return c.newInstruction(opType, x.shape, x)
}

// Binary adds an element-wise binary operation. Both operands must have the
// same shape; broadcast first if needed.
func (c *Computation) Binary(opType OpType, lhs, rhs *Instruction) *Instruction {
	if !opType.IsBinary() {
		exceptions.Panicf("%s.Binary: %s is not a binary op", c.name, opType)
	}
	c.checkInstructions(opType.String(), lhs, rhs)
	if !lhs.shape.Equal(rhs.shape) {
		exceptions.Panicf("%s.Binary(%s): operand shapes %s and %s differ",
			c.name, opType, lhs.shape, rhs.shape)
	}
	return c.newInstruction(opType, lhs.shape, lhs, rhs)
}

// Broadcast expands the operand to the given shape by prepending axes: the
// operand's dimensions must equal the trailing dimensions of the target shape
// (a scalar broadcasts to anything).
func (c *Computation) Broadcast(x *Instruction, shape shapes.Shape) *Instruction {
	c.checkInstructions("Broadcast", x)
	opRank, rank := x.shape.Rank(), shape.Rank()
	if opRank > rank || !slices.Equal(x.shape.Dimensions, shape.Dimensions[rank-opRank:]) {
		exceptions.Panicf("%s.Broadcast: cannot broadcast %s to %s (operand dims must match trailing target dims)",
			c.name, x.shape, shape)
	}
	return c.newInstruction(OpBroadcast, shape, x)
}

// Reverse flips the operand along the given axes.
func (c *Computation) Reverse(x *Instruction, axes ...int) *Instruction {
	c.checkInstructions("Reverse", x)
	for _, axis := range axes {
		if axis < 0 || axis >= x.shape.Rank() {
			exceptions.Panicf("%s.Reverse: axis %d out of range for shape %s", c.name, axis, x.shape)
		}
	}
	instr := c.newInstruction(OpReverse, x.shape, x)
	instr.reverseAxes = slices.Clone(axes)
	return instr
}

// Fusion adds a nested fused computation applied to the given operands, which
// must match the nested computation's parameters. Its shape is the nested
// root shape, or a tuple of them for multi-output nested computations.
func (c *Computation) Fusion(fused *Computation, operands ...*Instruction) *Instruction {
	c.checkInstructions("Fusion", operands...)
	if fused == nil {
		exceptions.Panicf("%s.Fusion: nested computation is nil", c.name)
	}
	if len(operands) != fused.NumParameters() {
		exceptions.Panicf("%s.Fusion: %d operands for nested computation %q with %d parameters",
			c.name, len(operands), fused.name, fused.NumParameters())
	}
	for i, operand := range operands {
		if !operand.shape.Equal(fused.parameters[i].shape) {
			exceptions.Panicf("%s.Fusion: operand #%d has shape %s, nested parameter %q expects %s",
				c.name, i, operand.shape, fused.parameters[i].name, fused.parameters[i].shape)
		}
	}
	roots := fused.Roots()
	var shape shapes.Shape
	if len(roots) == 1 {
		shape = roots[0].shape
	} else {
		rootShapes := make([]shapes.Shape, len(roots))
		for i, root := range roots {
			rootShapes[i] = root.shape
		}
		shape = shapes.MakeTuple(rootShapes...)
	}
	instr := c.newInstruction(OpFusion, shape, operands...)
	instr.fused = fused
	return instr
}

// Computation returns the computation the instruction belongs to.
func (i *Instruction) Computation() *Computation { return i.computation }

// Name returns the instruction name (auto-generated unless it is a named
// parameter).
func (i *Instruction) Name() string { return i.name }

// OpType returns the operation of the instruction.
func (i *Instruction) OpType() OpType { return i.opType }

// Shape returns the output shape of the instruction.
func (i *Instruction) Shape() shapes.Shape { return i.shape }

// Operands returns the operand instructions.
func (i *Instruction) Operands() []*Instruction { return i.operands }

// NumOperands returns the number of operands.
func (i *Instruction) NumOperands() int { return len(i.operands) }

// Operand returns the idx-th operand, panicking when out of range.
func (i *Instruction) Operand(idx int) *Instruction {
	if idx < 0 || idx >= len(i.operands) {
		exceptions.Panicf("Instruction %s has %d operands, requested #%d", i.name, len(i.operands), idx)
	}
	return i.operands[idx]
}

// Users returns the instructions consuming this instruction's value, in
// creation order.
func (i *Instruction) Users() []*Instruction { return i.users }

// ParamIndex returns the parameter position of an OpParameter instruction.
func (i *Instruction) ParamIndex() int {
	if i.opType != OpParameter {
		exceptions.Panicf("ParamIndex called on %s instruction %s", i.opType, i.name)
	}
	return i.paramIndex
}

// Literal returns the scalar literal of an OpConstant instruction.
func (i *Instruction) Literal() float64 {
	if i.opType != OpConstant {
		exceptions.Panicf("Literal called on %s instruction %s", i.opType, i.name)
	}
	return i.literal
}

// IotaAxis returns the coordinate axis of an OpIota instruction.
func (i *Instruction) IotaAxis() int { return i.iotaAxis }

// FusedComputation returns the nested computation of an OpFusion instruction.
func (i *Instruction) FusedComputation() *Computation {
	if i.opType != OpFusion {
		exceptions.Panicf("FusedComputation called on %s instruction %s", i.opType, i.name)
	}
	return i.fused
}

// String prints a one-line summary of the instruction.
func (i *Instruction) String() string {
	return fmt.Sprintf("%s = %s%s", i.name, i.opType, i.shape)
}
