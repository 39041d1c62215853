package mir

import (
	"strings"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/fusegen/indexing"
	"github.com/gomlx/fusegen/types/shapes"
)

func TestTypes(t *testing.T) {
	assert.Equal(t, "index", Index().String())
	assert.Equal(t, "f32", Scalar(dtypes.Float32).String())
	assert.Equal(t, "bf16", Scalar(dtypes.BFloat16).String())
	assert.Equal(t, "tensor<8x8xf32>", Tensor(shapes.Make(dtypes.Float32, 8, 8)).String())

	assert.True(t, Scalar(dtypes.Float32).Equal(Scalar(dtypes.Float32)))
	assert.False(t, Scalar(dtypes.Float32).Equal(Scalar(dtypes.Float64)))
	assert.False(t, Scalar(dtypes.Float32).Equal(Index()))
	assert.Panics(t, func() { Tensor(shapes.Invalid()) })
}

func TestModuleUniqueFuncNames(t *testing.T) {
	m := NewModule("test")
	f1 := m.NewFunc("f", nil, nil)
	f2 := m.NewFunc("f", nil, nil)
	assert.Equal(t, "f", f1.Name)
	assert.NotEqual(t, f1.Name, f2.Name)
	assert.True(t, strings.HasPrefix(f2.Name, "f_"))
	assert.Len(t, m.Funcs, 2)
}

func TestBuilderTypeChecks(t *testing.T) {
	m := NewModule("test")
	tensorType := Tensor(shapes.Make(dtypes.Float32, 4))
	fn := m.NewFunc("f", []Type{tensorType}, []Type{tensorType})
	b := NewBuilder(fn)

	tensor := fn.Params[0]
	c := b.Constant(dtypes.Float32, 1)
	c64 := b.Constant(dtypes.Float64, 1)
	idx := b.IndexConstant(0)

	assert.Panics(t, func() { b.Binary(BinAdd, c, c64) })
	assert.Panics(t, func() { b.Binary(BinAdd, c, idx) })
	assert.Panics(t, func() { b.Unary(UnNeg, idx) })
	assert.Panics(t, func() { b.Extract(c, idx) })
	assert.Panics(t, func() { b.Extract(tensor) })          // missing index
	assert.Panics(t, func() { b.Extract(tensor, c) })       // scalar used as index
	assert.Panics(t, func() { b.Insert(c64, tensor, idx) }) // dtype mismatch
	assert.Panics(t, func() { b.Return(c) })                // wrong result type

	scalar := b.Extract(tensor, idx)
	updated := b.Insert(scalar, tensor, idx)
	assert.True(t, updated.Type().Equal(tensorType))
	b.Return(updated)
}

func TestBuilderCall(t *testing.T) {
	m := NewModule("test")
	callee := m.NewFunc("callee", []Type{Scalar(dtypes.Float32)}, []Type{Scalar(dtypes.Float32)})
	fn := m.NewFunc("caller", nil, []Type{Scalar(dtypes.Float32)})
	b := NewBuilder(fn)

	c := b.Constant(dtypes.Float32, 3)
	results := b.Call(callee, c)
	require.Len(t, results, 1)
	assert.True(t, results[0].Type().Equal(Scalar(dtypes.Float32)))

	assert.Panics(t, func() { b.Call(callee) })
	assert.Panics(t, func() { b.Call(callee, b.IndexConstant(1)) })
	assert.Panics(t, func() { b.Call(nil, c) })
}

// threadBlockMap returns the map (d0, d1)[s0] -> (d1 * block + d0 + s0 * 0)
// simplified to one coordinate per thread over `size` elements.
func threadBlockMap(block, grid, size int) *indexing.Map {
	linear := indexing.Add(
		indexing.Mul(indexing.Dim(1), indexing.Constant(int64(block))),
		indexing.Dim(0))
	m := indexing.NewMap(
		[]*indexing.Expr{linear},
		[]indexing.Bounds{{Lower: 0, Upper: int64(block) - 1}, {Lower: 0, Upper: int64(grid) - 1}},
		[]indexing.Bounds{{Lower: 0, Upper: 0}})
	m.AddConstraint(linear, indexing.Bounds{Lower: 0, Upper: int64(size) - 1})
	m.Simplify()
	return m
}

func TestEmitLoopNestAndPrint(t *testing.T) {
	m := NewModule("test")
	tensorType := Tensor(shapes.Make(dtypes.Float32, 8))
	fn := m.NewFunc("main", []Type{tensorType, tensorType}, []Type{tensorType})
	b := NewBuilder(fn)

	idxMap := threadBlockMap(8, 1, 8)
	results, err := b.EmitLoopNest([]*Value{fn.Params[1]}, idxMap,
		func(iterArgs, coords []*Value) ([]*Value, error) {
			v := b.Extract(fn.Params[0], coords...)
			return []*Value{b.Insert(v, iterArgs[0], coords...)}, nil
		})
	require.NoError(t, err)
	require.Len(t, results, 1)
	b.Return(results[0])

	text := m.String()
	assert.Contains(t, text, "func @main")
	assert.Contains(t, text, "thread_id x")
	assert.Contains(t, text, "block_id x")
	assert.Contains(t, text, "loop (")
	assert.Contains(t, text, "tensor.extract")
	assert.Contains(t, text, "tensor.insert")
	assert.Contains(t, text, "yield")
	assert.Contains(t, text, "return")
}

func TestEmitLoopNestRejectsBadMap(t *testing.T) {
	m := NewModule("test")
	tensorType := Tensor(shapes.Make(dtypes.Float32, 8))
	fn := m.NewFunc("main", []Type{tensorType}, []Type{tensorType})
	b := NewBuilder(fn)

	oneDim := indexing.Identity(indexing.ShapeBounds([]int{8}))
	_, err := b.EmitLoopNest([]*Value{fn.Params[0]}, oneDim,
		func(iterArgs, coords []*Value) ([]*Value, error) { return iterArgs, nil })
	assert.Error(t, err)
}
