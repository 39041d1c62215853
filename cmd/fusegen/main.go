// Copyright 2024-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// fusegen demonstrates the loop fusion emitter: it builds one of a few sample
// element-wise computations, prints the launch geometry and indexing maps,
// dumps the generated module, and optionally interprets it on ramp inputs.
//
//	fusegen -kernel=saxpy -size=1000 -unroll=4 -run
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"

	"github.com/gomlx/fusegen/emitters"
	"github.com/gomlx/fusegen/hlo"
	"github.com/gomlx/fusegen/launch"
	"github.com/gomlx/fusegen/mir"
	"github.com/gomlx/fusegen/types/shapes"
)

var (
	flagKernel = flag.String("kernel", "saxpy", "Sample computation to emit: "+
		"\"add\" (x+y), \"saxpy\" (2x+y), \"shared\" (two outputs sharing a subexpression) "+
		"or \"affine\" (2x+iota).")
	flagSize   = flag.Int("size", 1000, "Number of elements of the (1D) kernel inputs and outputs.")
	flagUnroll = flag.Int("unroll", 1, "Elements each thread produces per loop iteration.")
	flagRun    = flag.Bool("run", false, "Interpret the generated module on ramp inputs and print "+
		"the first output elements.")
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Padding(1, 4, 0, 4)
	moduleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#999")).PaddingLeft(4)
	headerStyle = lipgloss.NewStyle().Reverse(true).Padding(0, 2, 0, 2).Align(lipgloss.Center)
	rowStyle    = lipgloss.NewStyle().PaddingLeft(1).PaddingRight(1)
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	if flag.NArg() > 0 {
		klog.Errorf("Unexpected arguments %v. See 'fusegen -help'.", flag.Args())
		os.Exit(1)
	}

	comp := sampleComputation(*flagKernel, *flagSize)
	analysis := emitters.Analysis{Computation: comp, Device: launch.DefaultDevice()}
	fusion := emitters.NewLoopFusion(analysis, launch.Config{UnrollFactor: *flagUnroll})

	dims := must.M1(fusion.LaunchDimensions())
	fmt.Println(titleStyle.Render(fmt.Sprintf("Kernel %q on %s", comp.Name(), analysis.Device.Name)))
	printLaunch(dims)
	printIndexing(fusion, comp)

	module := mir.NewModule(comp.Name())
	entry := fusion.DeclareEntryFunction(module, "main")
	must.M(fusion.EmitFusion(module, entry))
	fmt.Println(titleStyle.Render("Generated module"))
	fmt.Println(moduleStyle.Render(module.String()))

	if *flagRun {
		run(comp, entry, dims)
	}
}

// sampleComputation builds the demo fusion selected by -kernel.
func sampleComputation(kernel string, size int) *hlo.Computation {
	s := shapes.Make(dtypes.Float32, size)
	comp := hlo.NewComputation(kernel)
	switch kernel {
	case "add":
		comp.Binary(hlo.OpAdd, comp.Parameter("x", s), comp.Parameter("y", s))
	case "saxpy":
		x := comp.Parameter("x", s)
		y := comp.Parameter("y", s)
		two := comp.Broadcast(comp.Constant(dtypes.Float32, 2), s)
		comp.Binary(hlo.OpAdd, comp.Binary(hlo.OpMul, two, x), y)
	case "shared":
		x := comp.Parameter("x", s)
		y := comp.Parameter("y", s)
		sum := comp.Binary(hlo.OpAdd, x, y)
		comp.SetRoots(
			comp.Unary(hlo.OpTanh, sum),
			comp.Binary(hlo.OpMul, sum, sum))
	case "affine":
		x := comp.Parameter("x", s)
		two := comp.Broadcast(comp.Constant(dtypes.Float32, 2), s)
		comp.Binary(hlo.OpAdd, comp.Binary(hlo.OpMul, two, x), comp.Iota(s, 0))
	default:
		klog.Errorf("Unknown -kernel=%q. See 'fusegen -help'.", kernel)
		os.Exit(1)
	}
	return comp
}

func newPlainTable(headers ...string) *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == 0 && len(headers) > 0 {
				return headerStyle
			}
			return rowStyle
		}).
		Headers(headers...)
}

func printLaunch(dims launch.Dimensions) {
	table := newPlainTable("Blocks", "Threads/block", "Unroll", "Total threads")
	table.Row(
		strconv.Itoa(dims.GridSize),
		strconv.Itoa(dims.BlockSize),
		strconv.Itoa(dims.UnrollFactor),
		strconv.Itoa(dims.TotalThreads()))
	fmt.Println(table.Render())
}

func printIndexing(fusion *emitters.LoopFusion, comp *hlo.Computation) {
	table := newPlainTable("Map", "Expression")
	out := must.M1(fusion.ComputeThreadIdToOutputIndexing(0))
	table.Row("thread -> output", out.String())
	for operand := range comp.Roots()[0].NumOperands() {
		in := must.M1(fusion.ComputeThreadIdToInputIndexing(0, operand))
		table.Row(fmt.Sprintf("thread -> operand #%d", operand), in.String())
	}
	fmt.Println(table.Render())
}

// run interprets the module on ramp inputs (input #i holds j*(i+1) at element
// j) and prints the first elements of each output.
func run(comp *hlo.Computation, entry *mir.Func, dims launch.Dimensions) {
	inputs := make([]*mir.Buffer, comp.NumParameters())
	for i, param := range comp.Parameters() {
		shape := param.Shape()
		values := make([]float64, shape.Size())
		for j := range values {
			values[j] = float64(j * (i + 1))
		}
		inputs[i] = mir.NewBufferFromFloats(shape, values)
	}
	outputs := must.M1(mir.Execute(entry, dims, inputs))

	fmt.Println(titleStyle.Render("Interpreted outputs"))
	const preview = 8
	for i, out := range outputs {
		values := out.Floats()
		if len(values) > preview {
			values = values[:preview]
		}
		fmt.Printf("    output #%d (%s): %v ...\n", i, out.Shape(), values)
	}
}
