// Copyright 2024-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package emitters

import (
	"fmt"

	"github.com/gomlx/exceptions"
	"k8s.io/klog/v2"

	"github.com/gomlx/fusegen/hlo"
	"github.com/gomlx/fusegen/mir"
	"github.com/gomlx/fusegen/types/shapes"
)

// Subgraph is one partition of a computation: a set of instructions emitted
// together, headed by one or more roots. The root subgraph of a computation
// is headed by the computation's roots and is inlined into the loop body;
// every other subgraph is compiled once into a callable function, so shared
// subexpressions are evaluated by call instead of duplicated inline.
type Subgraph struct {
	name    string
	roots   []*hlo.Instruction
	members map[*hlo.Instruction]bool
}

// Name returns the subgraph name, derived from its computation and root.
func (s *Subgraph) Name() string { return s.name }

// Roots returns the instructions whose values the subgraph produces.
func (s *Subgraph) Roots() []*hlo.Instruction { return s.roots }

// Contains reports whether the instruction is emitted inside this subgraph.
func (s *Subgraph) Contains(instr *hlo.Instruction) bool { return s.members[instr] }

// PartitionedComputation is one computation split into subgraphs. The
// partitioner owns subgraph identity; consumers only look instructions up.
type PartitionedComputation struct {
	computation  *hlo.Computation
	subgraphs    []*Subgraph
	subgraphFor  map[*hlo.Instruction]*Subgraph
	rootSubgraph *Subgraph
}

// Computation returns the partitioned computation.
func (pc *PartitionedComputation) Computation() *hlo.Computation { return pc.computation }

// Subgraphs returns all subgraphs, root subgraph included.
func (pc *PartitionedComputation) Subgraphs() []*Subgraph { return pc.subgraphs }

// RootSubgraph returns the subgraph containing the computation's roots. It is
// always inlined, never declared as a function.
func (pc *PartitionedComputation) RootSubgraph() *Subgraph { return pc.rootSubgraph }

// FindSubgraph returns the subgraph that emits the instruction. Parameters,
// constants and iota are emitted inline at every use and belong to no
// subgraph; asking for them (or for an instruction of another computation) is
// a programming error.
func (pc *PartitionedComputation) FindSubgraph(instr *hlo.Instruction) *Subgraph {
	sg := pc.subgraphFor[instr]
	if sg == nil {
		exceptions.Panicf("FindSubgraph: instruction %s of %q belongs to no subgraph",
			instr.Name(), pc.computation.Name())
	}
	return sg
}

// PartitionedComputations is the partition of a fused computation (currently
// always a single computation; the plural mirrors the lookup API consumers
// use).
type PartitionedComputations struct {
	computations  []*PartitionedComputation
	byComputation map[*hlo.Computation]*PartitionedComputation
}

// Computations returns the partitioned computations.
func (p *PartitionedComputations) Computations() []*PartitionedComputation { return p.computations }

// FindPartitionedComputation returns the partition of the given computation,
// panicking if it was not part of this partitioning.
func (p *PartitionedComputations) FindPartitionedComputation(c *hlo.Computation) *PartitionedComputation {
	pc := p.byComputation[c]
	if pc == nil {
		exceptions.Panicf("FindPartitionedComputation: computation %q was not partitioned", c.Name())
	}
	return pc
}

// isInlined reports ops that are re-emitted at every use site instead of
// joining a subgraph: they cost nothing to duplicate.
func isInlined(instr *hlo.Instruction) bool {
	switch instr.OpType() {
	case hlo.OpParameter, hlo.OpConstant, hlo.OpIota:
		return true
	}
	return false
}

// Partition splits the fused computation into a root subgraph plus one
// subgraph per shared (multi-user) instruction. Instructions with a single
// user join their user's subgraph, so each non-root subgraph is the maximal
// single-use tree hanging off one shared value.
func Partition(comp *hlo.Computation) *PartitionedComputations {
	pc := &PartitionedComputation{
		computation: comp,
		subgraphFor: make(map[*hlo.Instruction]*Subgraph),
	}
	roots := comp.Roots()
	pc.rootSubgraph = &Subgraph{
		name:    fmt.Sprintf("%s_root", comp.Name()),
		roots:   roots,
		members: make(map[*hlo.Instruction]bool),
	}
	pc.subgraphs = append(pc.subgraphs, pc.rootSubgraph)
	rootSet := make(map[*hlo.Instruction]bool, len(roots))
	for _, root := range roots {
		rootSet[root] = true
	}

	// Instructions are in topological order, so walking backwards sees every
	// user before its operands.
	instructions := comp.Instructions()
	for i := len(instructions) - 1; i >= 0; i-- {
		instr := instructions[i]
		if isInlined(instr) {
			continue
		}
		switch {
		case rootSet[instr]:
			pc.rootSubgraph.members[instr] = true
			pc.subgraphFor[instr] = pc.rootSubgraph
		case len(instr.Users()) == 1:
			// Single use: emit inside the user's subgraph.
			sg := pc.subgraphFor[instr.Users()[0]]
			if sg == nil {
				// User is unreachable from the roots; so is this instruction.
				continue
			}
			sg.members[instr] = true
			pc.subgraphFor[instr] = sg
		case len(instr.Users()) > 1:
			// Shared value: head its own subgraph, compiled once and called.
			sg := &Subgraph{
				name:    fmt.Sprintf("%s_%s", comp.Name(), instr.Name()),
				roots:   []*hlo.Instruction{instr},
				members: map[*hlo.Instruction]bool{instr: true},
			}
			pc.subgraphs = append(pc.subgraphs, sg)
			pc.subgraphFor[instr] = sg
		}
	}
	klog.V(2).Infof("partitioned %q into %d subgraphs", comp.Name(), len(pc.subgraphs))

	return &PartitionedComputations{
		computations:  []*PartitionedComputation{pc},
		byComputation: map[*hlo.Computation]*PartitionedComputation{comp: pc},
	}
}

// DeclareFunctions declares (without lowering) one callable per non-root
// subgraph in the module: the computation's parameters as tensor arguments,
// followed by one index argument per axis of the subgraph root, returning one
// scalar per subgraph root. Root subgraphs are skipped: they are inlined into
// the caller's loop body, and a declaration would stay in the module as a
// dead bodyless function.
func (p *PartitionedComputations) DeclareFunctions(module *mir.Module) map[*Subgraph]*mir.Func {
	fns := make(map[*Subgraph]*mir.Func)
	for _, pc := range p.computations {
		paramTypes := make([]mir.Type, 0, pc.computation.NumParameters())
		for _, param := range pc.computation.Parameters() {
			paramTypes = append(paramTypes, mir.Tensor(param.Shape()))
		}
		for _, sg := range pc.subgraphs {
			if sg == pc.rootSubgraph {
				continue
			}
			types := paramTypes
			resultTypes := make([]mir.Type, 0, len(sg.roots))
			rank := subgraphRootShape(sg).Rank()
			for range rank {
				types = append(types, mir.Index())
			}
			for _, root := range sg.roots {
				resultTypes = append(resultTypes, mir.Scalar(root.Shape().Leaf().DType))
			}
			fns[sg] = module.NewFunc(sg.name, types, resultTypes)
		}
	}
	return fns
}

// subgraphRootShape returns the coordinate space of the subgraph: the leaf
// shape of its first root. Multi-root subgraphs only occur as root subgraphs,
// whose roots agree in shape by upstream legality.
func subgraphRootShape(sg *Subgraph) shapes.Shape {
	return sg.roots[0].Shape().Leaf()
}
