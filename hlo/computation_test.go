package hlo

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/fusegen/types/shapes"
)

func TestComputationBuilder(t *testing.T) {
	c := NewComputation("fused")
	s := shapes.Make(dtypes.Float32, 1024)
	p0 := c.Parameter("lhs", s)
	p1 := c.Parameter("rhs", s)
	sum := c.Binary(OpAdd, p0, p1)
	c.SetRoots(sum)

	assert.Equal(t, "fused", c.Name())
	assert.Equal(t, 2, c.NumParameters())
	assert.Equal(t, []*Instruction{p0, p1}, c.Parameters())
	assert.Equal(t, []*Instruction{sum}, c.Roots())
	assert.Len(t, c.Instructions(), 3)

	assert.Equal(t, OpAdd, sum.OpType())
	assert.Equal(t, 2, sum.NumOperands())
	assert.Equal(t, p0, sum.Operand(0))
	assert.Equal(t, []*Instruction{sum}, p0.Users())
	assert.Equal(t, 1, p1.ParamIndex())
	assert.Equal(t, "lhs", p0.Name())
	assert.True(t, sum.Shape().Equal(s))
}

func TestUnaryOperandWiring(t *testing.T) {
	c := NewComputation("f")
	s := shapes.Make(dtypes.Float32, 8)
	p := c.Parameter("x", s)
	neg := c.Unary(OpNeg, p)
	tanh := c.Unary(OpTanh, neg)

	require.Equal(t, 1, neg.NumOperands())
	assert.Equal(t, p, neg.Operand(0))
	assert.Equal(t, []*Instruction{neg}, p.Users())
	assert.Equal(t, []*Instruction{tanh}, neg.Users())
	assert.Equal(t, neg, tanh.Operand(0))
}

func TestComputationDefaultRoot(t *testing.T) {
	c := NewComputation("f")
	p := c.Parameter("x", shapes.Make(dtypes.Float32, 4))
	neg := c.Unary(OpNeg, p)
	// No SetRoots: defaults to the last instruction.
	assert.Equal(t, []*Instruction{neg}, c.Roots())
}

func TestComputationValidation(t *testing.T) {
	c := NewComputation("f")
	other := NewComputation("g")
	s := shapes.Make(dtypes.Float32, 8)
	p := c.Parameter("x", s)
	foreign := other.Parameter("y", s)

	assert.Panics(t, func() { c.Binary(OpAdd, p, foreign) })
	assert.Panics(t, func() { c.Binary(OpAdd, p, nil) })
	assert.Panics(t, func() { c.Binary(OpNeg, p, p) })
	assert.Panics(t, func() { c.Unary(OpAdd, p) })
	assert.Panics(t, func() { c.Binary(OpAdd, p, c.Parameter("z", shapes.Make(dtypes.Float32, 4))) })
	assert.Panics(t, func() { c.Iota(s, 3) })
	assert.Panics(t, func() { c.Reverse(p, 1) })
	assert.Panics(t, func() { NewComputation("empty").Roots() })
}

func TestBroadcast(t *testing.T) {
	c := NewComputation("f")
	scalar := c.Constant(dtypes.Float32, 2.5)
	assert.True(t, scalar.Shape().IsScalar())
	assert.Equal(t, 2.5, scalar.Literal())

	target := shapes.Make(dtypes.Float32, 4, 8)
	b := c.Broadcast(scalar, target)
	assert.True(t, b.Shape().Equal(target))

	vec := c.Parameter("v", shapes.Make(dtypes.Float32, 8))
	b2 := c.Broadcast(vec, target) // trailing dims match
	assert.True(t, b2.Shape().Equal(target))

	bad := c.Parameter("w", shapes.Make(dtypes.Float32, 4))
	assert.Panics(t, func() { c.Broadcast(bad, target) })
}

func TestFusionInstruction(t *testing.T) {
	inner := NewComputation("inner")
	s := shapes.Make(dtypes.Float32, 8)
	ip := inner.Parameter("x", s)
	inner.SetRoots(inner.Unary(OpExp, ip))

	outer := NewComputation("outer")
	p := outer.Parameter("x", s)
	f := outer.Fusion(inner, p)
	assert.Equal(t, OpFusion, f.OpType())
	assert.True(t, f.Shape().Equal(s))
	assert.Equal(t, inner, f.FusedComputation())

	// Multi-output nested computation gets a tuple shape.
	multi := NewComputation("multi")
	mp := multi.Parameter("x", s)
	multi.SetRoots(multi.Unary(OpNeg, mp), multi.Unary(OpAbs, mp))
	f2 := outer.Fusion(multi, p)
	require.True(t, f2.Shape().IsTuple())
	assert.Equal(t, 2, f2.Shape().TupleSize())
	assert.True(t, f2.Shape().Leaf().Equal(s))

	// Operand arity and shapes are checked.
	assert.Panics(t, func() { outer.Fusion(inner) })
	assert.Panics(t, func() { outer.Fusion(inner, outer.Parameter("bad", shapes.Make(dtypes.Float32, 4))) })
}
