package launch

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/fusegen/types/shapes"
)

func TestCalculate(t *testing.T) {
	device := DefaultDevice()

	dims, err := Calculate(shapes.Make(dtypes.Float32, 1024), device, Config{})
	require.NoError(t, err)
	assert.Equal(t, Dimensions{GridSize: 1, BlockSize: 1024, UnrollFactor: 1}, dims)
	assert.Equal(t, 1024, dims.TotalElements())

	// Larger than one block.
	dims, err = Calculate(shapes.Make(dtypes.Float32, 4096), device, Config{})
	require.NoError(t, err)
	assert.Equal(t, Dimensions{GridSize: 4, BlockSize: 1024, UnrollFactor: 1}, dims)

	// Odd sizes round the grid up; masked threads are handled by indexing
	// constraints, not here.
	dims, err = Calculate(shapes.Make(dtypes.Float32, 1025), device, Config{})
	require.NoError(t, err)
	assert.Equal(t, Dimensions{GridSize: 2, BlockSize: 1024, UnrollFactor: 1}, dims)
	assert.GreaterOrEqual(t, dims.TotalElements(), 1025)

	// Unrolling reduces the thread count.
	dims, err = Calculate(shapes.Make(dtypes.Float32, 4096), device, Config{UnrollFactor: 4})
	require.NoError(t, err)
	assert.Equal(t, Dimensions{GridSize: 1, BlockSize: 1024, UnrollFactor: 4}, dims)

	// Small shapes use a single partial block.
	dims, err = Calculate(shapes.Make(dtypes.Float32, 8, 8), device, Config{})
	require.NoError(t, err)
	assert.Equal(t, Dimensions{GridSize: 1, BlockSize: 64, UnrollFactor: 1}, dims)
}

func TestCalculateErrors(t *testing.T) {
	device := DefaultDevice()

	_, err := Calculate(shapes.Invalid(), device, Config{})
	assert.Error(t, err)

	tuple := shapes.MakeTuple(shapes.Make(dtypes.Float32, 8))
	_, err = Calculate(tuple, device, Config{})
	assert.Error(t, err)

	_, err = Calculate(shapes.Make(dtypes.Float32, 8), DeviceInfo{Name: "broken"}, Config{})
	assert.Error(t, err)
}
