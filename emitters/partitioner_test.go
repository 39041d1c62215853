// Copyright 2024-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package emitters

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/fusegen/hlo"
	"github.com/gomlx/fusegen/mir"
	"github.com/gomlx/fusegen/types/shapes"
)

// sharedComputation builds
//
//	a  = p0 * p0            (single user, inlined into t's subgraph)
//	t  = a + p1             (two users, extracted as its own subgraph)
//	r0 = exp(t), r1 = -t    (roots)
func sharedComputation(t *testing.T) (*hlo.Computation, *hlo.Instruction) {
	t.Helper()
	s := shapes.Make(dtypes.Float32, 16)
	comp := hlo.NewComputation("fused_computation")
	p0 := comp.Parameter("p0", s)
	p1 := comp.Parameter("p1", s)
	a := comp.Binary(hlo.OpMul, p0, p0)
	shared := comp.Binary(hlo.OpAdd, a, p1)
	r0 := comp.Unary(hlo.OpExp, shared)
	r1 := comp.Unary(hlo.OpNeg, shared)
	comp.SetRoots(r0, r1)
	return comp, shared
}

func TestPartitionSharedSubexpression(t *testing.T) {
	comp, shared := sharedComputation(t)
	pc := Partition(comp).FindPartitionedComputation(comp)

	require.Len(t, pc.Subgraphs(), 2)
	root := pc.RootSubgraph()
	require.Len(t, root.Roots(), 2)
	assert.True(t, root.Contains(comp.Roots()[0]))
	assert.True(t, root.Contains(comp.Roots()[1]))

	sg := pc.FindSubgraph(shared)
	require.NotSame(t, root, sg)
	assert.Equal(t, []*hlo.Instruction{shared}, sg.Roots())
	// The single-user multiply is emitted inside the shared subgraph.
	assert.Same(t, sg, pc.FindSubgraph(shared.Operand(0)))

	// Parameters belong to no subgraph: they are inlined at every use.
	assert.Panics(t, func() { pc.FindSubgraph(comp.Parameters()[0]) })
}

func TestPartitionSingleRootIsOneSubgraph(t *testing.T) {
	s := shapes.Make(dtypes.Float32, 8)
	comp := hlo.NewComputation("single")
	p0 := comp.Parameter("p0", s)
	r := comp.Unary(hlo.OpSqrt, comp.Unary(hlo.OpAbs, p0))

	pc := Partition(comp).FindPartitionedComputation(comp)
	require.Len(t, pc.Subgraphs(), 1)
	assert.Same(t, pc.RootSubgraph(), pc.FindSubgraph(r))
	assert.Same(t, pc.RootSubgraph(), pc.FindSubgraph(r.Operand(0)))
}

func TestDeclareFunctions(t *testing.T) {
	comp, shared := sharedComputation(t)
	partitions := Partition(comp)
	pc := partitions.FindPartitionedComputation(comp)

	module := mir.NewModule("test")
	fns := partitions.DeclareFunctions(module)
	// Only the shared subgraph: the root subgraph is inlined, so declaring it
	// would leave a dead bodyless function in the module.
	require.Len(t, fns, 1)
	require.Len(t, module.Funcs, 1)
	require.NotContains(t, fns, pc.RootSubgraph())

	fn := fns[pc.FindSubgraph(shared)]
	require.NotNil(t, fn)
	assert.Equal(t, "fused_computation_"+shared.Name(), fn.Name)
	assert.Nil(t, fn.Body)
	// Two tensor inputs plus one index per axis of the rank-1 root.
	require.Len(t, fn.Params, 3)
	assert.Equal(t, mir.TensorType, fn.Params[0].Type().Kind)
	assert.Equal(t, mir.TensorType, fn.Params[1].Type().Kind)
	assert.Equal(t, mir.IndexType, fn.Params[2].Type().Kind)
	require.Len(t, fn.ResultTypes, 1)
	assert.Equal(t, mir.Scalar(dtypes.Float32), fn.ResultTypes[0])
}

func TestFindPartitionedComputationPanicsOnForeign(t *testing.T) {
	comp, _ := sharedComputation(t)
	other := hlo.NewComputation("other")
	assert.Panics(t, func() { Partition(comp).FindPartitionedComputation(other) })
}
