package asm

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/chazu/jclass/pkg/constpool"
)

var newarrayNames = map[int]string{
	4:  "boolean",
	5:  "char",
	6:  "float",
	7:  "double",
	8:  "byte",
	9:  "short",
	10: "int",
	11: "long",
}

// NewarrayName returns the listing name of a newarray type code.
func NewarrayName(code int) (string, bool) {
	name, ok := newarrayNames[code]
	return name, ok
}

// NewarrayCode returns the type code of a newarray listing name.
func NewarrayCode(name string) (int, bool) {
	for code, n := range newarrayNames {
		if n == name {
			return code, true
		}
	}
	return 0, false
}

// FormatConstant writes a loadable constant in listing syntax:
// 5, 5L, 1.5f, 2.0d, "str", class X, methodtype (I)V,
// methodhandle invokeStatic [interface] Owner.name desc.
func FormatConstant(e constpool.Entry) string {
	switch x := e.(type) {
	case constpool.Integer:
		return strconv.Itoa(int(x.Value))
	case constpool.Long:
		return strconv.FormatInt(x.Value, 10) + "L"
	case constpool.Float:
		return formatFloat(float64(x.Value()), 32) + "f"
	case constpool.Double:
		return formatFloat(x.Value(), 64) + "d"
	case constpool.String:
		return strconv.Quote(x.Value)
	case constpool.Class:
		return "class " + x.Name
	case constpool.MethodType:
		return "methodtype " + x.Descriptor
	case constpool.MethodHandle:
		return "methodhandle " + FormatHandle(x)
	}
	return e.String()
}

func formatFloat(v float64, bits int) string {
	s := strconv.FormatFloat(v, 'g', -1, bits)
	if !math.IsInf(v, 0) && !math.IsNaN(v) && !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}

// FormatHandle writes a method handle as kind [interface] Owner.name desc.
func FormatHandle(h constpool.MethodHandle) string {
	iface := ""
	if h.Interface {
		iface = "interface "
	}
	return fmt.Sprintf("%s %s%s.%s %s", h.Kind, iface, h.Owner, h.Name, h.Descriptor)
}

// Disassemble returns the listing of a method body. Labels are written as
// L<n> and regions as R<n>.
func Disassemble(l *List, vars []LocalVariable) string {
	var sb strings.Builder
	for _, insn := range l.Instructions() {
		switch insn.(type) {
		case Mark:
			sb.WriteString(FormatInstruction(insn))
		default:
			sb.WriteString("    ")
			sb.WriteString(FormatInstruction(insn))
		}
		sb.WriteString("\n")
	}
	for _, v := range vars {
		sb.WriteString(fmt.Sprintf("    .var %d %s %s L%d L%d\n", v.Slot, v.Name, v.Descriptor, v.Start, v.End))
	}
	return sb.String()
}

// FormatInstruction writes one instruction in listing syntax.
func FormatInstruction(insn Instruction) string {
	switch x := insn.(type) {
	case Insn:
		return x.Op.String()
	case IntInsn:
		if x.Op == OpNewarray {
			if name, ok := newarrayNames[x.Operand]; ok {
				return "newarray " + name
			}
		}
		return fmt.Sprintf("%s %d", x.Op, x.Operand)
	case Ldc:
		e, err := constpool.FromValue(x.Value)
		if err != nil {
			return fmt.Sprintf("ldc <%T>", x.Value)
		}
		return "ldc " + FormatConstant(e)
	case VarInsn:
		return fmt.Sprintf("%s %d", x.Op, x.Slot)
	case Iinc:
		return fmt.Sprintf("iinc %d %d", x.Slot, x.Delta)
	case Jump:
		return fmt.Sprintf("%s L%d", x.Op, x.Target)
	case TableSwitch:
		var sb strings.Builder
		fmt.Fprintf(&sb, "tableswitch %d L%d", x.Low, x.Default)
		for _, t := range x.Targets {
			fmt.Fprintf(&sb, " L%d", t)
		}
		return sb.String()
	case LookupSwitch:
		var sb strings.Builder
		fmt.Fprintf(&sb, "lookupswitch L%d", x.Default)
		for k, t := range x.Targets {
			fmt.Fprintf(&sb, " %d:L%d", x.Keys[k], t)
		}
		return sb.String()
	case FieldInsn:
		return fmt.Sprintf("%s %s.%s %s", x.Op, x.Owner, x.Name, x.Descriptor)
	case MethodInsn:
		iface := ""
		if x.Interface && x.Op != OpInvokeinterface {
			iface = "interface "
		}
		return fmt.Sprintf("%s %s%s.%s %s", x.Op, iface, x.Owner, x.Name, x.Descriptor)
	case InvokeDynamic:
		var sb strings.Builder
		fmt.Fprintf(&sb, "invokedynamic %s %s %s", x.Name, x.Descriptor, FormatHandle(x.Bootstrap))
		for _, a := range x.Args {
			sb.WriteString(" ")
			sb.WriteString(FormatConstant(a))
		}
		return sb.String()
	case TypeInsn:
		return fmt.Sprintf("%s %s", x.Op, x.Class)
	case MultiANewArray:
		return fmt.Sprintf("multianewarray %s %d", x.Descriptor, x.Dims)
	case Mark:
		return fmt.Sprintf("L%d:", x.Label)
	case TryBegin:
		if x.CatchType == "" {
			return fmt.Sprintf(".try R%d L%d", x.Region, x.Handler)
		}
		return fmt.Sprintf(".try R%d L%d %s", x.Region, x.Handler, x.CatchType)
	case TryEnd:
		return fmt.Sprintf(".endtry R%d", x.Region)
	case LineNumber:
		return fmt.Sprintf(".line %d", x.Line)
	}
	return fmt.Sprintf("<%T>", insn)
}
