package hlo

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/fusegen/indexing"
	"github.com/gomlx/fusegen/types/shapes"
)

func TestOperandIndexingElementwise(t *testing.T) {
	c := NewComputation("f")
	s := shapes.Make(dtypes.Float32, 4, 8)
	p0 := c.Parameter("x", s)
	p1 := c.Parameter("y", s)
	sum := c.Binary(OpAdd, p0, p1)

	maps := OperandIndexing(sum, 0)
	require.Len(t, maps, 2)
	identity := indexing.Identity(indexing.ShapeBounds([]int{4, 8}))
	for opIdx := 0; opIdx < 2; opIdx++ {
		require.Lenf(t, maps[opIdx], 1, "operand %d", opIdx)
		assert.True(t, maps[opIdx][0].Equal(identity))
	}

	// Parameters read nothing.
	assert.Empty(t, OperandIndexing(p0, 0))
}

func TestOperandIndexingBroadcast(t *testing.T) {
	c := NewComputation("f")
	vec := c.Parameter("v", shapes.Make(dtypes.Float32, 8))
	b := c.Broadcast(vec, shapes.Make(dtypes.Float32, 4, 8))

	maps := OperandIndexing(b, 0)
	require.Len(t, maps[0], 1)
	m := maps[0][0]
	// Output coordinate (i, j) reads operand coordinate (j).
	assert.Equal(t, []int64{7}, m.Eval([]int64{3, 7}, nil))
	assert.Equal(t, 2, m.NumDims())
	assert.Equal(t, 1, m.NumResults())

	// Scalar broadcast has an empty codomain.
	scalar := c.Constant(dtypes.Float32, 1)
	b2 := c.Broadcast(scalar, shapes.Make(dtypes.Float32, 4, 8))
	maps2 := OperandIndexing(b2, 0)
	require.Len(t, maps2[0], 1)
	assert.Equal(t, 0, maps2[0][0].NumResults())
}

func TestOperandIndexingReverse(t *testing.T) {
	c := NewComputation("f")
	p := c.Parameter("x", shapes.Make(dtypes.Float32, 8))
	rev := c.Reverse(p, 0)

	maps := OperandIndexing(rev, 0)
	require.Len(t, maps[0], 1)
	m := maps[0][0]
	for i := int64(0); i < 8; i++ {
		assert.Equal(t, []int64{7 - i}, m.Eval([]int64{i}, nil))
	}
}

func TestFusionOperandIndexingSingleMap(t *testing.T) {
	// Nested element-wise computation: all uses of the parameter share the
	// identity indexing, so they dedup to a single map.
	inner := NewComputation("inner")
	s := shapes.Make(dtypes.Float32, 8)
	ip := inner.Parameter("x", s)
	inner.SetRoots(inner.Binary(OpMul, ip, inner.Unary(OpExp, ip)))

	outer := NewComputation("outer")
	p := outer.Parameter("x", s)
	f := outer.Fusion(inner, p)

	maps := OperandIndexing(f, 0)
	require.Len(t, maps[0], 1)
	assert.True(t, maps[0][0].Equal(indexing.Identity(indexing.ShapeBounds([]int{8}))))
}

func TestFusionOperandIndexingMultipleMaps(t *testing.T) {
	// x + reverse(x): the parameter is read at two distinct indexings, so the
	// relation exposes two maps for operand 0.
	inner := NewComputation("inner")
	s := shapes.Make(dtypes.Float32, 8)
	ip := inner.Parameter("x", s)
	inner.SetRoots(inner.Binary(OpAdd, ip, inner.Reverse(ip, 0)))

	outer := NewComputation("outer")
	p := outer.Parameter("x", s)
	f := outer.Fusion(inner, p)

	maps := OperandIndexing(f, 0)
	require.Len(t, maps[0], 2)
	assert.False(t, maps[0][0].Equal(maps[0][1]))

	// Together the two maps read coordinates i and 7-i.
	got := map[int64]bool{}
	for _, m := range maps[0] {
		got[m.Eval([]int64{2}, nil)[0]] = true
	}
	assert.Equal(t, map[int64]bool{2: true, 5: true}, got)
}

func TestFusionOperandIndexingMultiOutput(t *testing.T) {
	inner := NewComputation("inner")
	s := shapes.Make(dtypes.Float32, 8)
	ip := inner.Parameter("x", s)
	iq := inner.Parameter("y", s)
	inner.SetRoots(inner.Unary(OpNeg, ip), inner.Unary(OpAbs, iq))

	outer := NewComputation("outer")
	p := outer.Parameter("x", s)
	q := outer.Parameter("y", s)
	f := outer.Fusion(inner, p, q)

	// Output 0 only reaches parameter 0, output 1 only parameter 1.
	maps0 := OperandIndexing(f, 0)
	require.Len(t, maps0, 1)
	require.Len(t, maps0[0], 1)
	maps1 := OperandIndexing(f, 1)
	require.Len(t, maps1, 1)
	require.Len(t, maps1[1], 1)

	assert.Panics(t, func() { OperandIndexing(f, 2) })
}
