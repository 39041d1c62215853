// Copyright 2024-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package emitters generates loop-based element-wise kernels: it turns a fused
// computation into a module of scalar functions plus an entry function whose
// grid-strided loop computes every output element once.
//
// The pipeline is indexing-map driven: a map from (thread.x, block.x) and the
// unroll iteration to output coordinates decides which elements each thread
// produces, and composing it with the output-to-operand maps of the graph
// gives the read patterns. Boundary threads are masked by the map's
// constraints rather than by the launch geometry.
package emitters

import (
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/gomlx/fusegen/hlo"
	"github.com/gomlx/fusegen/indexing"
	"github.com/gomlx/fusegen/launch"
	"github.com/gomlx/fusegen/mir"
	"github.com/gomlx/fusegen/types/shapes"
)

// Analysis bundles the fusion being compiled with the device it targets. It
// is computed once by the caller and shared by every emitter decision.
type Analysis struct {
	Computation *hlo.Computation
	Device      launch.DeviceInfo
}

// Roots returns the fusion roots, one per output.
func (a Analysis) Roots() []*hlo.Instruction { return a.Computation.Roots() }

// OutputShape returns the shape iterated by the loop: the first leaf shape of
// the first root. All roots of a loop fusion agree on it element-count-wise.
func (a Analysis) OutputShape() shapes.Shape {
	return a.Roots()[0].Shape().Leaf()
}

// LoopFusion emits a fused element-wise computation as a single flat loop
// kernel: every thread walks its unrolled slice of the linearized output,
// evaluating the fusion once per in-bounds element.
type LoopFusion struct {
	analysis Analysis
	config   launch.Config
}

// NewLoopFusion returns the emitter for the analyzed fusion.
func NewLoopFusion(analysis Analysis, config launch.Config) *LoopFusion {
	if config.UnrollFactor < 1 {
		config.UnrollFactor = 1
	}
	return &LoopFusion{analysis: analysis, config: config}
}

// LaunchDimensions computes the grid for the fusion's output shape.
func (f *LoopFusion) LaunchDimensions() (launch.Dimensions, error) {
	return launch.Calculate(f.analysis.OutputShape(), f.analysis.Device, f.config)
}

// DefaultThreadIdToOutputIndexing builds the canonical map from the launch
// coordinates (d0=thread.x, d1=block.x) and the unroll iteration s0 to output
// coordinates: the linear element index (d1*blockSize+d0)*unroll+s0 is
// delinearized over the output shape, constrained to the shape's size so
// excess threads of the last block are masked.
func DefaultThreadIdToOutputIndexing(dims launch.Dimensions, outputShape shapes.Shape) *indexing.Map {
	d0, d1, s0 := indexing.Dim(0), indexing.Dim(1), indexing.Symbol(0)
	linear := indexing.Add(
		indexing.Mul(
			indexing.Add(indexing.Mul(d1, indexing.Constant(int64(dims.BlockSize))), d0),
			indexing.Constant(int64(dims.UnrollFactor))),
		s0)
	m := indexing.NewMap(
		indexing.DelinearizeIndex(linear, outputShape.Dimensions),
		[]indexing.Bounds{
			{Lower: 0, Upper: int64(dims.BlockSize) - 1},
			{Lower: 0, Upper: int64(dims.GridSize) - 1},
		},
		[]indexing.Bounds{{Lower: 0, Upper: int64(dims.UnrollFactor) - 1}},
	)
	m.AddConstraint(linear, indexing.Bounds{Lower: 0, Upper: int64(outputShape.Size()) - 1})
	m.Simplify()
	return m
}

// ComputeThreadIdToOutputIndexing returns the map from launch coordinates to
// the output coordinates of the given root. Loop fusions iterate all roots
// identically, so the map does not depend on rootIndex.
func (f *LoopFusion) ComputeThreadIdToOutputIndexing(rootIndex int) (*indexing.Map, error) {
	if rootIndex < 0 || rootIndex >= len(f.analysis.Roots()) {
		return nil, errors.Errorf("root index %d out of range, fusion has %d roots",
			rootIndex, len(f.analysis.Roots()))
	}
	dims, err := f.LaunchDimensions()
	if err != nil {
		return nil, err
	}
	return DefaultThreadIdToOutputIndexing(dims, f.analysis.OutputShape()), nil
}

// ComputeThreadIdToInputIndexing returns the map from launch coordinates to
// the coordinates read from the given operand of the given root: the
// thread-to-output map composed with the root's output-to-operand map.
//
// The operand must be read at exactly one indexing per output; an operand
// read at several distinct indexings (possible inside nested fusions) is a
// caller bug and panics.
func (f *LoopFusion) ComputeThreadIdToInputIndexing(rootIndex, operandIndex int) (*indexing.Map, error) {
	threadToOutput, err := f.ComputeThreadIdToOutputIndexing(rootIndex)
	if err != nil {
		return nil, err
	}
	root := f.analysis.Roots()[rootIndex]
	if operandIndex < 0 || operandIndex >= root.NumOperands() {
		return nil, errors.Errorf("operand index %d out of range, root %s has %d operands",
			operandIndex, root.Name(), root.NumOperands())
	}
	maps := hlo.OperandIndexing(root, 0)[operandIndex]
	if len(maps) != 1 {
		exceptions.Panicf("operand %d of root %s is read at %d distinct indexings, loop fusion requires exactly one",
			operandIndex, root.Name(), len(maps))
	}
	composed := indexing.Compose(threadToOutput, maps[0])
	composed.Simplify()
	return composed, nil
}

// DeclareEntryFunction declares the kernel entry in the module: one tensor
// parameter per computation input, then one tensor parameter per root output,
// returning the final output tensor values.
func (f *LoopFusion) DeclareEntryFunction(module *mir.Module, name string) *mir.Func {
	comp := f.analysis.Computation
	paramTypes := make([]mir.Type, 0, comp.NumParameters()+len(f.analysis.Roots()))
	for _, param := range comp.Parameters() {
		paramTypes = append(paramTypes, mir.Tensor(param.Shape()))
	}
	resultTypes := make([]mir.Type, 0, len(f.analysis.Roots()))
	for _, root := range f.analysis.Roots() {
		t := mir.Tensor(root.Shape().Leaf())
		paramTypes = append(paramTypes, t)
		resultTypes = append(resultTypes, t)
	}
	return module.NewFunc(name, paramTypes, resultTypes)
}

// EmitFusion lowers the fusion into the module: it partitions the
// computation, compiles every shared subgraph into its own function, and
// fills the entry function with the grid-strided loop that evaluates the root
// subgraph and inserts one scalar per root into the threaded output tensors.
//
// The entry function must be declared (its shape is what DeclareEntryFunction
// produces) and not yet lowered.
func (f *LoopFusion) EmitFusion(module *mir.Module, entryFn *mir.Func) error {
	comp := f.analysis.Computation
	roots := f.analysis.Roots()
	if entryFn.Body != nil {
		exceptions.Panicf("EmitFusion: entry function %s already has a body", entryFn.Name)
	}
	if len(entryFn.Params) != comp.NumParameters()+len(roots) {
		exceptions.Panicf("EmitFusion: entry function %s has %d parameters, fusion needs %d inputs + %d outputs",
			entryFn.Name, len(entryFn.Params), comp.NumParameters(), len(roots))
	}

	indexingMap, err := f.ComputeThreadIdToOutputIndexing(0)
	if err != nil {
		return err
	}
	klog.V(2).Infof("emitting %q with thread-to-output map %s", comp.Name(), indexingMap)

	partitions := Partition(comp)
	pc := partitions.FindPartitionedComputation(comp)
	// Root subgraphs are inlined into the loop body; DeclareFunctions only
	// declares the shared (callable) ones.
	subgraphFns := partitions.DeclareFunctions(module)

	callTargets := func(instr *hlo.Instruction) *mir.Func {
		return subgraphFns[pc.FindSubgraph(instr)]
	}
	for sg, fn := range subgraphFns {
		if err := SubgraphToMirFunction(sg, fn, callTargets); err != nil {
			return err
		}
	}

	b := mir.NewBuilder(entryFn)
	inputs := entryFn.Params[:comp.NumParameters()]
	outputInits := entryFn.Params[comp.NumParameters():]
	results, err := b.EmitLoopNest(outputInits, indexingMap,
		func(outputTensors, coords []*mir.Value) ([]*mir.Value, error) {
			scalars, err := EmitSubgraph(pc.RootSubgraph(), callTargets, b, inputs, coords)
			if err != nil {
				return nil, err
			}
			if len(scalars) != len(outputTensors) {
				exceptions.Panicf("EmitFusion: root subgraph produced %d scalars for %d outputs",
					len(scalars), len(outputTensors))
			}
			updated := make([]*mir.Value, len(outputTensors))
			for i, scalar := range scalars {
				updated[i] = b.Insert(scalar, outputTensors[i], coords...)
			}
			return updated, nil
		})
	if err != nil {
		return errors.Wrapf(err, "emitting loop nest for %q", comp.Name())
	}
	b.Return(results...)
	return nil
}
