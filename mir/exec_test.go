package mir

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/fusegen/launch"
	"github.com/gomlx/fusegen/types/shapes"
)

func TestBufferDTypes(t *testing.T) {
	for _, dtype := range []dtypes.DType{
		dtypes.Float16, dtypes.BFloat16, dtypes.Float32, dtypes.Float64, dtypes.Int32, dtypes.Int64,
	} {
		shape := shapes.Make(dtype, 4)
		buf := NewBufferFromFloats(shape, []float64{1, 2, 3, 4})
		assert.Equalf(t, []float64{1, 2, 3, 4}, buf.Floats(), "dtype %s", dtype)

		clone := buf.Clone()
		clone.set(0, 7)
		assert.Equalf(t, 1.0, buf.at(0), "dtype %s: clone must not alias", dtype)
	}

	// Reduced precision rounds through its storage.
	buf := NewBufferFromFloats(shapes.Make(dtypes.BFloat16, 1), []float64{1.0 / 3.0})
	assert.InDelta(t, 1.0/3.0, buf.at(0), 1e-2)
	assert.NotEqual(t, 1.0/3.0, buf.at(0))

	assert.Panics(t, func() { NewBuffer(shapes.Make(dtypes.Complex64, 2)) })
	assert.Panics(t, func() { NewBufferFromFloats(shapes.Make(dtypes.Float32, 2), []float64{1}) })
}

func TestBufferLinearize(t *testing.T) {
	buf := NewBufferFromFloats(shapes.Make(dtypes.Float32, 2, 3), []float64{0, 1, 2, 3, 4, 5})
	assert.Equal(t, 5.0, buf.at(buf.linearize([]int64{1, 2})))
	assert.Panics(t, func() { buf.linearize([]int64{1}) })
	assert.Panics(t, func() { buf.linearize([]int64{2, 0}) })
}

// buildCopyFunc emits main(in, out) that copies in to out through a loop nest.
func buildCopyFunc(t *testing.T, m *Module, size int) *Func {
	tensorType := Tensor(shapes.Make(dtypes.Float32, size))
	fn := m.NewFunc("main", []Type{tensorType, tensorType}, []Type{tensorType})
	b := NewBuilder(fn)
	results, err := b.EmitLoopNest([]*Value{fn.Params[1]}, threadBlockMap(size, 1, size),
		func(iterArgs, coords []*Value) ([]*Value, error) {
			v := b.Extract(fn.Params[0], coords...)
			return []*Value{b.Insert(v, iterArgs[0], coords...)}, nil
		})
	require.NoError(t, err)
	b.Return(results[0])
	return fn
}

func TestExecuteCopy(t *testing.T) {
	m := NewModule("test")
	fn := buildCopyFunc(t, m, 8)

	in := NewBufferFromFloats(shapes.Make(dtypes.Float32, 8), []float64{5, 4, 3, 2, 1, 0, -1, -2})
	outs, err := Execute(fn, launch.Dimensions{GridSize: 1, BlockSize: 8, UnrollFactor: 1}, []*Buffer{in})
	require.NoError(t, err)
	require.Len(t, outs, 1)
	assert.Equal(t, in.Floats(), outs[0].Floats())
	// Functional discipline: the input buffer is untouched.
	assert.Equal(t, 5.0, in.at(0))
}

func TestExecuteMasksOutOfBoundsThreads(t *testing.T) {
	// 6 elements on an 8-thread block: threads 6 and 7 must be masked by the
	// map's constraint and write nothing.
	m := NewModule("test")
	tensorType := Tensor(shapes.Make(dtypes.Float32, 6))
	fn := m.NewFunc("main", []Type{tensorType, tensorType}, []Type{tensorType})
	b := NewBuilder(fn)
	results, err := b.EmitLoopNest([]*Value{fn.Params[1]}, threadBlockMap(8, 1, 6),
		func(iterArgs, coords []*Value) ([]*Value, error) {
			v := b.Extract(fn.Params[0], coords...)
			return []*Value{b.Insert(v, iterArgs[0], coords...)}, nil
		})
	require.NoError(t, err)
	b.Return(results[0])

	in := NewBufferFromFloats(shapes.Make(dtypes.Float32, 6), []float64{1, 2, 3, 4, 5, 6})
	outs, err := Execute(fn, launch.Dimensions{GridSize: 1, BlockSize: 8, UnrollFactor: 1}, []*Buffer{in})
	require.NoError(t, err)
	assert.Equal(t, in.Floats(), outs[0].Floats())
}

func TestExecuteCall(t *testing.T) {
	m := NewModule("test")
	scalarType := Scalar(dtypes.Float32)
	tensorType := Tensor(shapes.Make(dtypes.Float32, 4))

	// double(x) = x + x
	double := m.NewFunc("double", []Type{scalarType}, []Type{scalarType})
	db := NewBuilder(double)
	db.Return(db.Binary(BinAdd, double.Params[0], double.Params[0]))

	fn := m.NewFunc("main", []Type{tensorType, tensorType}, []Type{tensorType})
	b := NewBuilder(fn)
	results, err := b.EmitLoopNest([]*Value{fn.Params[1]}, threadBlockMap(4, 1, 4),
		func(iterArgs, coords []*Value) ([]*Value, error) {
			v := b.Extract(fn.Params[0], coords...)
			doubled := b.Call(double, v)[0]
			return []*Value{b.Insert(doubled, iterArgs[0], coords...)}, nil
		})
	require.NoError(t, err)
	b.Return(results[0])

	in := NewBufferFromFloats(shapes.Make(dtypes.Float32, 4), []float64{1, 2, 3, 4})
	outs, err := Execute(fn, launch.Dimensions{GridSize: 1, BlockSize: 4, UnrollFactor: 1}, []*Buffer{in})
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 4, 6, 8}, outs[0].Floats())
}

func TestExecuteErrors(t *testing.T) {
	m := NewModule("test")
	declared := m.NewFunc("nobody", []Type{Tensor(shapes.Make(dtypes.Float32, 2))}, nil)
	_, err := Execute(declared, launch.Dimensions{GridSize: 1, BlockSize: 1}, nil)
	assert.Error(t, err)

	fn := buildCopyFunc(t, m, 8)
	wrongShape := NewBuffer(shapes.Make(dtypes.Float32, 4))
	_, err = Execute(fn, launch.Dimensions{GridSize: 1, BlockSize: 8}, []*Buffer{wrongShape})
	assert.Error(t, err)
}
