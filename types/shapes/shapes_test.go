package shapes

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShapeBasics(t *testing.T) {
	s := Make(dtypes.Float32, 2, 3)
	assert.True(t, s.Ok())
	assert.Equal(t, 2, s.Rank())
	assert.Equal(t, 6, s.Size())
	assert.Equal(t, 3, s.Dim(1))
	assert.Equal(t, 3, s.Dim(-1))
	assert.Equal(t, "(Float32)[2 3]", s.String())

	scalar := Scalar(dtypes.Float64)
	assert.True(t, scalar.IsScalar())
	assert.Equal(t, 1, scalar.Size())

	assert.False(t, Invalid().Ok())
	assert.Panics(t, func() { Make(dtypes.Float32, 2, 0) })
	assert.Panics(t, func() { s.Dim(2) })
}

func TestShapeEqual(t *testing.T) {
	a := Make(dtypes.Float32, 4, 4)
	b := Make(dtypes.Float32, 4, 4)
	c := Make(dtypes.Float64, 4, 4)
	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.True(t, a.EqualDimensions(c))
	assert.False(t, a.Equal(Make(dtypes.Float32, 4)))

	clone := a.Clone()
	clone.Dimensions[0] = 7
	assert.Equal(t, 4, a.Dimensions[0])
}

func TestShapeTupleAndLeaf(t *testing.T) {
	leaf := Make(dtypes.Float32, 8, 8)
	tuple := MakeTuple(leaf, Make(dtypes.Float32, 8, 8))
	require.True(t, tuple.IsTuple())
	assert.Equal(t, 2, tuple.TupleSize())
	assert.Equal(t, "Tuple<(Float32)[8 8], (Float32)[8 8]>", tuple.String())

	// Leaf unwraps nested tuples by always taking the first component.
	nested := MakeTuple(tuple, Make(dtypes.Int32, 2))
	assert.True(t, nested.Leaf().Equal(leaf))
	assert.True(t, leaf.Leaf().Equal(leaf))

	assert.Panics(t, func() { MakeTuple() })
}

func TestShapeStrides(t *testing.T) {
	s := Make(dtypes.Float32, 2, 3, 4)
	assert.Equal(t, []int{12, 4, 1}, s.Strides())
	assert.Empty(t, Scalar(dtypes.Float32).Strides())
}
