// Copyright 2024-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package mir

import (
	"fmt"
	"strings"
)

// String prints the whole module in a textual SSA form. The format is meant
// for humans and golden-ish assertions, not round-tripping.
func (m *Module) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "module @%s {\n", m.Name)
	for _, f := range m.Funcs {
		f.print(&sb, "  ")
	}
	sb.WriteString("}\n")
	return sb.String()
}

// String prints the single function.
func (f *Func) String() string {
	var sb strings.Builder
	f.print(&sb, "")
	return sb.String()
}

func (f *Func) print(sb *strings.Builder, indent string) {
	fmt.Fprintf(sb, "%sfunc @%s(", indent, f.Name)
	for i, p := range f.Params {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(sb, "%s: %s", p, p.typ)
	}
	sb.WriteString(")")
	if len(f.ResultTypes) > 0 {
		sb.WriteString(" -> (")
		for i, t := range f.ResultTypes {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(t.String())
		}
		sb.WriteString(")")
	}
	if f.Body == nil {
		sb.WriteString("\n")
		return
	}
	sb.WriteString(" {\n")
	printBlock(sb, f.Body, indent+"  ")
	fmt.Fprintf(sb, "%s}\n", indent)
}

func printBlock(sb *strings.Builder, block *Block, indent string) {
	for _, op := range block.Ops {
		printOp(sb, op, indent)
	}
}

func printOp(sb *strings.Builder, op *Op, indent string) {
	sb.WriteString(indent)
	if len(op.Results) > 0 {
		for i, r := range op.Results {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(r.String())
		}
		sb.WriteString(" = ")
	}
	switch op.Kind {
	case OpConstant:
		if op.Results[0].typ.Kind == IndexType {
			fmt.Fprintf(sb, "constant %d : index", int64(op.Literal))
		} else {
			fmt.Fprintf(sb, "constant %v : %s", op.Literal, op.Results[0].typ)
		}
	case OpThreadID:
		fmt.Fprintf(sb, "thread_id %s", axisName(op.Axis))
	case OpBlockID:
		fmt.Fprintf(sb, "block_id %s", axisName(op.Axis))
	case OpBinary:
		fmt.Fprintf(sb, "%s %s, %s : %s", op.BinKind, op.Inputs[0], op.Inputs[1], op.Results[0].typ)
	case OpUnary:
		fmt.Fprintf(sb, "%s %s : %s", op.UnKind, op.Inputs[0], op.Results[0].typ)
	case OpIndexCast:
		fmt.Fprintf(sb, "index_cast %s : %s", op.Inputs[0], op.Results[0].typ)
	case OpExtract:
		fmt.Fprintf(sb, "tensor.extract %s%s : %s", op.Inputs[0], indexList(op.Inputs[1:]), op.Inputs[0].typ)
	case OpInsert:
		fmt.Fprintf(sb, "tensor.insert %s into %s%s : %s",
			op.Inputs[0], op.Inputs[1], indexList(op.Inputs[2:]), op.Inputs[1].typ)
	case OpCall:
		fmt.Fprintf(sb, "call @%s(%s)", op.Callee.Name, valueList(op.Inputs))
	case OpLoop:
		fmt.Fprintf(sb, "loop (%s) iter(%s) over %s {\n",
			valueList(op.Inputs[:op.Map.NumDims()]),
			valueList(op.Inputs[op.Map.NumDims():]),
			op.Map)
		fmt.Fprintf(sb, "%s^body(%s):\n", indent, valueList(op.Body.Args))
		printBlock(sb, op.Body, indent+"  ")
		fmt.Fprintf(sb, "%s}", indent)
	case OpYield:
		fmt.Fprintf(sb, "yield %s", valueList(op.Inputs))
	case OpReturn:
		fmt.Fprintf(sb, "return %s", valueList(op.Inputs))
	default:
		sb.WriteString("<invalid op>")
	}
	sb.WriteString("\n")
}

func axisName(axis int) string {
	switch axis {
	case 0:
		return "x"
	case 1:
		return "y"
	case 2:
		return "z"
	default:
		return fmt.Sprintf("axis%d", axis)
	}
}

func valueList(values []*Value) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = v.String()
	}
	return strings.Join(parts, ", ")
}

func indexList(values []*Value) string {
	if len(values) == 0 {
		return "[]"
	}
	return "[" + valueList(values) + "]"
}
