// Copyright 2024-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package hlo

import (
	"github.com/gomlx/exceptions"

	"github.com/gomlx/fusegen/indexing"
)

// OperandIndexing returns the local output→input indexing relation of the
// instruction: for each operand position, the set of maps from the
// instruction's own output coordinates (for output outputID) to the
// coordinates that operand is read at.
//
// For element-wise and other simple ops the set has exactly one map per
// operand. Nested OpFusion instructions are the exception: a parameter used
// along paths with different indexing contributes one map per distinct
// indexing, so callers handling only elemental operators must check the set
// size (the loop emitter treats >1 as a contract violation).
func OperandIndexing(instr *Instruction, outputID int) map[int][]*indexing.Map {
	outputShape := instr.shape.Leaf()
	outputBounds := indexing.ShapeBounds(outputShape.Dimensions)

	result := make(map[int][]*indexing.Map, instr.NumOperands())
	switch {
	case instr.opType.IsElementwise():
		for idx := range instr.operands {
			result[idx] = []*indexing.Map{indexing.Identity(outputBounds)}
		}

	case instr.opType == OpBroadcast:
		// Trailing output coordinates index the operand; prepended axes are
		// dropped.
		opRank := instr.Operand(0).shape.Rank()
		rank := outputShape.Rank()
		exprs := make([]*indexing.Expr, opRank)
		for i := range exprs {
			exprs[i] = indexing.Dim(rank - opRank + i)
		}
		result[0] = []*indexing.Map{indexing.NewMap(exprs, indexing.ShapeBounds(outputShape.Dimensions), nil)}

	case instr.opType == OpReverse:
		exprs := make([]*indexing.Expr, outputShape.Rank())
		for i := range exprs {
			exprs[i] = indexing.Dim(i)
		}
		for _, axis := range instr.reverseAxes {
			// coord -> (dim-1) - coord
			exprs[axis] = indexing.Add(
				indexing.Mul(indexing.Dim(axis), indexing.Constant(-1)),
				indexing.Constant(int64(outputShape.Dimensions[axis])-1))
		}
		result[0] = []*indexing.Map{indexing.NewMap(exprs, indexing.ShapeBounds(outputShape.Dimensions), nil)}

	case instr.opType == OpFusion:
		return fusionOperandIndexing(instr.fused, outputID)

	case instr.NumOperands() == 0:
		// Parameters, constants and iota read nothing.

	default:
		exceptions.Panicf("OperandIndexing: unsupported op %s (%s)", instr.opType, instr.name)
	}
	return result
}

// fusionOperandIndexing propagates indexing maps from the designated root of
// the nested computation down to its parameters, composing and simplifying at
// each step. A parameter reached through paths with distinct indexing
// accumulates multiple maps.
func fusionOperandIndexing(fused *Computation, rootIdx int) map[int][]*indexing.Map {
	roots := fused.Roots()
	if rootIdx < 0 || rootIdx >= len(roots) {
		exceptions.Panicf("fusionOperandIndexing: output %d out of range, computation %q has %d roots",
			rootIdx, fused.name, len(roots))
	}
	root := roots[rootIdx]

	// Maps from the root's coordinate space to each instruction's.
	instrMaps := make(map[*Instruction][]*indexing.Map, len(fused.instructions))
	rootShape := root.shape.Leaf()
	instrMaps[root] = []*indexing.Map{indexing.Identity(indexing.ShapeBounds(rootShape.Dimensions))}

	// Instructions are in topological order, so a reverse sweep visits every
	// user before its operands.
	for i := len(fused.instructions) - 1; i >= 0; i-- {
		instr := fused.instructions[i]
		maps := instrMaps[instr]
		if len(maps) == 0 {
			continue // Not reachable from this root.
		}
		local := OperandIndexing(instr, 0)
		for opIdx, opMaps := range local {
			operand := instr.Operand(opIdx)
			for _, m := range maps {
				for _, l := range opMaps {
					composed := indexing.Compose(m, l)
					composed.Simplify()
					instrMaps[operand] = appendUniqueMap(instrMaps[operand], composed)
				}
			}
		}
	}

	result := make(map[int][]*indexing.Map, fused.NumParameters())
	for _, param := range fused.parameters {
		if maps := instrMaps[param]; len(maps) > 0 {
			result[param.paramIndex] = maps
		}
	}
	return result
}

func appendUniqueMap(maps []*indexing.Map, m *indexing.Map) []*indexing.Map {
	for _, existing := range maps {
		if existing.Equal(m) {
			return maps
		}
	}
	return append(maps, m)
}
