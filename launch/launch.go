// Copyright 2024-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package launch resolves the launch geometry (grid, block and unroll
// parameters) used to execute a fused element-wise computation on a GPU-like
// device: one logical thread per output element, optionally unrolled.
package launch

import (
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/gomlx/fusegen/types/shapes"
)

// DeviceInfo describes the launch-relevant characteristics of the target
// device.
type DeviceInfo struct {
	// Name of the device, used only for logging.
	Name string

	// ThreadsPerBlockLimit is the maximum block size the device supports.
	ThreadsPerBlockLimit int

	// CoreCount is the number of streaming multiprocessors. Currently only
	// informational.
	CoreCount int
}

// DefaultDevice returns a generic device descriptor usable for tests and the
// demo CLI.
func DefaultDevice() DeviceInfo {
	return DeviceInfo{Name: "generic", ThreadsPerBlockLimit: 1024, CoreCount: 80}
}

// Config holds the tunable knobs of the geometry calculation.
type Config struct {
	// UnrollFactor is the number of output elements each thread produces.
	// Values below 1 mean no unrolling.
	UnrollFactor int
}

// Dimensions is the resolved launch geometry: GridSize blocks of BlockSize
// threads, each thread handling UnrollFactor consecutive output elements.
type Dimensions struct {
	GridSize     int
	BlockSize    int
	UnrollFactor int
}

// TotalThreads returns GridSize * BlockSize.
func (d Dimensions) TotalThreads() int { return d.GridSize * d.BlockSize }

// TotalElements returns the number of logical grid points, threads times
// unroll iterations. It is at least the output size; the excess is masked by
// the indexing map's constraints.
func (d Dimensions) TotalElements() int { return d.TotalThreads() * d.UnrollFactor }

// Calculate resolves the launch geometry for the given (non-tuple) output
// shape. This is the only recoverable failure path of the code generator: an
// unsupported shape returns an error and the caller may pick a different
// code-generation strategy.
func Calculate(outputShape shapes.Shape, device DeviceInfo, config Config) (Dimensions, error) {
	if !outputShape.Ok() {
		return Dimensions{}, errors.Errorf("launch.Calculate: invalid output shape %s", outputShape)
	}
	if outputShape.IsTuple() {
		return Dimensions{}, errors.Errorf("launch.Calculate: tuple shape %s, caller must resolve the leaf shape first", outputShape)
	}
	if device.ThreadsPerBlockLimit <= 0 {
		return Dimensions{}, errors.Errorf("launch.Calculate: device %q has no threads-per-block limit", device.Name)
	}

	unroll := max(config.UnrollFactor, 1)
	size := outputShape.Size()
	numThreads := ceilDiv(size, unroll)
	blockSize := min(numThreads, device.ThreadsPerBlockLimit)
	gridSize := ceilDiv(numThreads, blockSize)

	dims := Dimensions{GridSize: gridSize, BlockSize: blockSize, UnrollFactor: unroll}
	klog.V(2).Infof("launch geometry for %s on %s: grid=%d block=%d unroll=%d",
		outputShape, device.Name, dims.GridSize, dims.BlockSize, dims.UnrollFactor)
	return dims, nil
}

func ceilDiv(a, b int) int { return (a + b - 1) / b }
