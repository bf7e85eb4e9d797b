package asm

import (
	"bytes"
	"encoding/binary"
	"errors"
	"reflect"
	"testing"

	"github.com/chazu/jclass/pkg/constpool"
	"github.com/chazu/jclass/pkg/vtype"
)

func assemble(t *testing.T, m *Method) (*Code, *constpool.Pool) {
	t.Helper()
	pool := constpool.New()
	code, err := Assemble(m, pool)
	if err != nil {
		t.Fatalf("Assemble(%s%s) error: %v", m.Name, m.Descriptor, err)
	}
	return code, pool
}

// filler appends n bytes of stack-neutral code (n must be even).
func filler(l *List, n int) {
	for j := 0; j < n/2; j++ {
		l.Add(Insn{Op: OpIconst0}, Insn{Op: OpPop})
	}
}

func TestHelloWorldScenario(t *testing.T) {
	body := NewList().Add(
		FieldInsn{Op: OpGetstatic, Owner: "java/lang/System", Name: "out", Descriptor: "Ljava/io/PrintStream;"},
		Ldc{Value: "Hello, world"},
		MethodInsn{Op: OpInvokevirtual, Owner: "java/io/PrintStream", Name: "println", Descriptor: "(Ljava/lang/String;)V"},
		Insn{Op: OpReturn},
	)
	code, pool := assemble(t, &Method{
		Owner:      "Hello",
		Name:       "main",
		Descriptor: "([Ljava/lang/String;)V",
		Static:     true,
		Body:       body,
	})

	if code.MaxStack != 2 {
		t.Errorf("MaxStack = %d, want 2", code.MaxStack)
	}
	if code.MaxLocals != 1 {
		t.Errorf("MaxLocals = %d, want 1", code.MaxLocals)
	}
	if len(code.Bytes) != 3+2+3+1 {
		t.Errorf("code length = %d, want 9", len(code.Bytes))
	}

	want := []constpool.Entry{
		constpool.Utf8{Value: "java/lang/System"},
		constpool.Class{Name: "java/lang/System"},
		constpool.Utf8{Value: "out"},
		constpool.Utf8{Value: "Ljava/io/PrintStream;"},
		constpool.NameAndType{Name: "out", Descriptor: "Ljava/io/PrintStream;"},
		constpool.FieldRef{Class: "java/lang/System", Name: "out", Descriptor: "Ljava/io/PrintStream;"},
		constpool.Utf8{Value: "Hello, world"},
		constpool.String{Value: "Hello, world"},
		constpool.Utf8{Value: "java/io/PrintStream"},
		constpool.Class{Name: "java/io/PrintStream"},
		constpool.Utf8{Value: "println"},
		constpool.Utf8{Value: "(Ljava/lang/String;)V"},
		constpool.NameAndType{Name: "println", Descriptor: "(Ljava/lang/String;)V"},
		constpool.MethodRef{Class: "java/io/PrintStream", Name: "println", Descriptor: "(Ljava/lang/String;)V"},
	}
	if pool.Len() != len(want) {
		t.Errorf("pool.Len() = %d, want %d", pool.Len(), len(want))
	}
	for _, e := range want {
		if _, ok := pool.Lookup(e); !ok {
			t.Errorf("pool is missing %s", e)
		}
	}

	field, _ := pool.Lookup(want[5])
	str, _ := pool.Lookup(want[7])
	method, _ := pool.Lookup(want[13])
	wantBytes := []byte{
		byte(OpGetstatic), byte(field >> 8), byte(field),
		byte(OpLdc), byte(str),
		byte(OpInvokevirtual), byte(method >> 8), byte(method),
		byte(OpReturn),
	}
	if !bytes.Equal(code.Bytes, wantBytes) {
		t.Errorf("code = % x, want % x", code.Bytes, wantBytes)
	}
}

func TestStackBalance(t *testing.T) {
	ops := []struct {
		op    Opcode
		delta int
	}{
		{OpIconst1, 1},
		{OpLconst0, 2},
		{OpPop2, -2},
		{OpDconst1, 2},
		{OpDup2, 2},
		{OpDadd, -2},
		{OpD2i, -1},
		{OpIconst2, 1},
		{OpSwap, 0},
		{OpDupX1, 1},
		{OpIadd, -1},
		{OpIadd, -1},
		{OpIadd, -1},
		{OpPop, -1},
	}
	body := NewList()
	depth, want := 0, 0
	for _, o := range ops {
		body.Add(Insn{Op: o.op})
		depth += o.delta
		want = max(want, depth)
	}
	if depth != 0 {
		t.Fatalf("test sequence ends at depth %d", depth)
	}
	body.Add(Insn{Op: OpReturn})

	code, _ := assemble(t, &Method{Owner: "T", Name: "m", Descriptor: "()V", Static: true, Body: body})
	if code.MaxStack != want {
		t.Errorf("MaxStack = %d, want %d", code.MaxStack, want)
	}
}

func TestLocalsGrowMonotonically(t *testing.T) {
	prev := 0
	for _, slot := range []int{0, 1, 3, 3, 7, 300} {
		body := NewList()
		for s := 0; s <= slot; s += 2 {
			body.Add(Insn{Op: OpLconst1}, VarInsn{Op: OpLstore, Slot: s})
		}
		body.Add(Insn{Op: OpReturn})
		code, _ := assemble(t, &Method{Owner: "T", Name: "m", Descriptor: "()V", Static: true, Body: body})
		if code.MaxLocals < prev {
			t.Errorf("slot %d: MaxLocals = %d, decreased from %d", slot, code.MaxLocals, prev)
		}
		last := slot - slot%2
		if code.MaxLocals != last+2 {
			t.Errorf("slot %d: MaxLocals = %d, want %d", slot, code.MaxLocals, last+2)
		}
		prev = code.MaxLocals
	}
}

func TestParametersSeedLocals(t *testing.T) {
	tests := []struct {
		desc   string
		static bool
		want   int
	}{
		{"()V", true, 0},
		{"()V", false, 1},
		{"(IJ)V", true, 3},
		{"(DLjava/lang/String;)V", false, 4},
	}
	for _, tt := range tests {
		body := NewList().Add(Insn{Op: OpReturn})
		code, _ := assemble(t, &Method{Owner: "T", Name: "m", Descriptor: tt.desc, Static: tt.static, Body: body})
		if code.MaxLocals != tt.want {
			t.Errorf("%s static=%v: MaxLocals = %d, want %d", tt.desc, tt.static, code.MaxLocals, tt.want)
		}
	}
}

func TestLabelResolvesToNextInstruction(t *testing.T) {
	body := NewList()
	end := body.NewLabel()
	body.Add(
		VarInsn{Op: OpIload, Slot: 0},
		Jump{Op: OpIfeq, Target: end},
		Insn{Op: OpIconst1},
		Insn{Op: OpPop},
	)
	body.Mark(end)
	body.Add(Insn{Op: OpReturn})

	code, _ := assemble(t, &Method{Owner: "T", Name: "m", Descriptor: "(I)V", Static: true, Body: body})
	jump := code.Instructions[1]
	ret := code.Instructions[5]
	if ret.Offset != 6 {
		t.Fatalf("return offset = %d, want 6", ret.Offset)
	}
	if jump.Offset+jump.Delta != ret.Offset {
		t.Errorf("branch resolves to %d, want %d", jump.Offset+jump.Delta, ret.Offset)
	}
	if jump.Size != 3 || jump.Wide {
		t.Errorf("branch size = %d wide = %v, want 3 narrow", jump.Size, jump.Wide)
	}
}

func TestBranchWidth(t *testing.T) {
	tests := []struct {
		name     string
		op       Opcode
		run      int
		wantSize int
	}{
		{"short goto", OpGoto, 100, 3},
		{"short ifeq", OpIfeq, 100, 3},
		{"long goto", OpGoto, 33000, 5},
		{"long ifeq", OpIfeq, 33000, 8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := NewList()
			end := body.NewLabel()
			body.Add(VarInsn{Op: OpIload, Slot: 0})
			body.Add(Jump{Op: tt.op, Target: end})
			filler(body, tt.run)
			body.Mark(end)
			body.Add(Insn{Op: OpReturn})

			code, _ := assemble(t, &Method{Owner: "T", Name: "m", Descriptor: "(I)V", Static: true, Body: body})
			jump := code.Instructions[1]
			if jump.Size != tt.wantSize {
				t.Fatalf("branch size = %d, want %d", jump.Size, tt.wantSize)
			}
			target := 1 + tt.wantSize + tt.run
			if len(code.Bytes) != target+1 {
				t.Errorf("code length = %d, want %d", len(code.Bytes), target+1)
			}

			b := code.Bytes[1:]
			switch tt.wantSize {
			case 3:
				if got := int(int16(binary.BigEndian.Uint16(b[1:]))); got != target-1 {
					t.Errorf("offset = %d, want %d", got, target-1)
				}
			case 5:
				if Opcode(b[0]) != OpGotoW {
					t.Errorf("opcode = %s, want goto_w", Opcode(b[0]))
				}
				if got := int(int32(binary.BigEndian.Uint32(b[1:]))); got != target-1 {
					t.Errorf("offset = %d, want %d", got, target-1)
				}
			case 8:
				if Opcode(b[0]) != OpIfne || b[1] != 0 || b[2] != 8 || Opcode(b[3]) != OpGotoW {
					t.Errorf("wide conditional = % x, want ifne +8 goto_w", b[:8])
				}
				if got := int(int32(binary.BigEndian.Uint32(b[4:]))); got != target-4 {
					t.Errorf("goto_w offset = %d, want %d", got, target-4)
				}
			}
		})
	}
}

func TestBranchWideningCascades(t *testing.T) {
	body := NewList()
	a, b := body.NewLabel(), body.NewLabel()
	body.Add(VarInsn{Op: OpIload, Slot: 0}, Jump{Op: OpIfeq, Target: a})
	body.Add(VarInsn{Op: OpIload, Slot: 0}, Jump{Op: OpIfeq, Target: b})
	filler(body, 32758)
	body.Mark(a)
	body.Add(Insn{Op: OpNop})
	filler(body, 10)
	body.Mark(b)
	body.Add(Insn{Op: OpReturn})

	code, _ := assemble(t, &Method{Owner: "T", Name: "m", Descriptor: "(I)V", Static: true, Body: body})
	if got := code.Instructions[3].Size; got != 8 {
		t.Errorf("inner branch size = %d, want 8", got)
	}
	// The outer branch fits until the inner one widens.
	if got := code.Instructions[1].Size; got != 8 {
		t.Errorf("outer branch size = %d, want 8", got)
	}
	if len(code.Bytes) != 32788 {
		t.Errorf("code length = %d, want 32788", len(code.Bytes))
	}
	far := int(int32(binary.BigEndian.Uint32(code.Bytes[5:])))
	if far != 32776-4 {
		t.Errorf("outer goto_w offset = %d, want %d", far, 32776-4)
	}
}

func TestSwitchPadding(t *testing.T) {
	for prefix := 0; prefix < 4; prefix++ {
		body := NewList()
		def, one := body.NewLabel(), body.NewLabel()
		body.Add(Insn{Op: OpIconst0})
		for j := 0; j < prefix; j++ {
			body.Add(Insn{Op: OpNop})
		}
		body.Add(TableSwitch{Low: 0, High: 0, Default: def, Targets: []Label{one}})
		body.Mark(def)
		body.Mark(one)
		body.Add(Insn{Op: OpReturn})

		code, _ := assemble(t, &Method{Owner: "T", Name: "m", Descriptor: "()V", Static: true, Body: body})
		sw := code.Instructions[1+prefix]
		o := sw.Offset
		want := (4 - (o+1)%4) % 4
		if sw.Padding != want {
			t.Errorf("offset %d: padding = %d, want %d", o, sw.Padding, want)
		}
		if (o+1+sw.Padding)%4 != 0 {
			t.Errorf("offset %d: operands start at %d, not aligned", o, o+1+sw.Padding)
		}
		if sw.Size != 1+want+12+4 {
			t.Errorf("offset %d: size = %d, want %d", o, sw.Size, 1+want+12+4)
		}
		for _, b := range sw.Bytes[1 : 1+want] {
			if b != 0 {
				t.Errorf("offset %d: padding byte %#x, want 0", o, b)
			}
		}
		defOff := int(int32(binary.BigEndian.Uint32(sw.Bytes[1+want:])))
		if defOff != sw.Size {
			t.Errorf("offset %d: default offset = %d, want %d", o, defOff, sw.Size)
		}
	}
}

func TestLookupSwitchSortsKeys(t *testing.T) {
	body := NewList()
	def, a, b := body.NewLabel(), body.NewLabel(), body.NewLabel()
	body.Add(
		VarInsn{Op: OpIload, Slot: 0},
		LookupSwitch{Default: def, Keys: []int32{5, -1}, Targets: []Label{a, b}},
	)
	body.Mark(a)
	body.Add(Insn{Op: OpReturn})
	body.Mark(b)
	body.Add(Insn{Op: OpReturn})
	body.Mark(def)
	body.Add(Insn{Op: OpReturn})

	code, _ := assemble(t, &Method{Owner: "T", Name: "m", Descriptor: "(I)V", Static: true, Body: body})
	sw := code.Instructions[1]
	if sw.Padding != 2 {
		t.Fatalf("padding = %d, want 2", sw.Padding)
	}
	if len(sw.Keys) != 2 || sw.Keys[0] != -1 || sw.Keys[1] != 5 {
		t.Errorf("keys = %v, want [-1 5]", sw.Keys)
	}
	p := sw.Bytes[1+sw.Padding+8:]
	// a is at 28 and b at 29; offsets are relative to the switch at 1.
	wantPairs := []int32{-1, 28, 5, 27}
	for i, w := range wantPairs {
		if got := int32(binary.BigEndian.Uint32(p[4*i:])); got != w {
			t.Errorf("pair word %d = %d, want %d", i, got, w)
		}
	}
	// Table follows Keys: default first, then one target per sorted key.
	if want := []int{30, 28, 27}; !reflect.DeepEqual(sw.Table, want) {
		t.Errorf("table = %v, want %v", sw.Table, want)
	}
}

func TestSwitchErrors(t *testing.T) {
	body := NewList()
	l := body.NewLabel()
	body.Add(Insn{Op: OpIconst0}, TableSwitch{Low: 0, High: 2, Default: l, Targets: []Label{l}})
	body.Mark(l)
	body.Add(Insn{Op: OpReturn})
	_, err := Assemble(&Method{Owner: "T", Name: "m", Descriptor: "()V", Static: true, Body: body}, constpool.New())
	var ve *VerifyError
	if !errors.As(err, &ve) {
		t.Errorf("target count mismatch: error = %v, want *VerifyError", err)
	}

	body = NewList()
	l = body.NewLabel()
	body.Add(Insn{Op: OpIconst0}, LookupSwitch{Default: l, Keys: []int32{1, 1}, Targets: []Label{l, l}})
	body.Mark(l)
	body.Add(Insn{Op: OpReturn})
	_, err = Assemble(&Method{Owner: "T", Name: "m", Descriptor: "()V", Static: true, Body: body}, constpool.New())
	if !errors.As(err, &ve) {
		t.Errorf("duplicate keys: error = %v, want *VerifyError", err)
	}
}

func TestVerifyErrors(t *testing.T) {
	tests := []struct {
		name   string
		desc   string
		insns  []Instruction
		index  int
		offset int
	}{
		{"underflow", "()V", []Instruction{Insn{Op: OpIadd}}, 0, 0},
		{"mismatch", "()V", []Instruction{Insn{Op: OpIconst0}, Insn{Op: OpLconst0}, Insn{Op: OpLadd}}, 2, 2},
		{"return value from void", "()V", []Instruction{Insn{Op: OpIconst0}, Insn{Op: OpIreturn}}, 1, 1},
		{"void return from int", "()I", []Instruction{Insn{Op: OpReturn}}, 0, 0},
		{"wrong return kind", "()I", []Instruction{Insn{Op: OpLconst0}, Insn{Op: OpLreturn}}, 1, 1},
		{"split long", "()V", []Instruction{Insn{Op: OpLconst0}, Insn{Op: OpPop}}, 1, 1},
		{"jsr", "()V", []Instruction{Jump{Op: OpJsr}}, 0, 0},
		{"operands missing", "()V", []Instruction{Insn{Op: OpBipush}}, 0, 0},
		{"iload of reference", "(Ljava/lang/String;)V", []Instruction{VarInsn{Op: OpIload, Slot: 0}}, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := NewList().Add(tt.insns...)
			body.Add(Insn{Op: OpReturn})
			_, err := Assemble(&Method{Owner: "T", Name: "m", Descriptor: tt.desc, Static: true, Body: body}, constpool.New())
			var ve *VerifyError
			if !errors.As(err, &ve) {
				t.Fatalf("error = %v, want *VerifyError", err)
			}
			if ve.Index != tt.index || ve.Offset != tt.offset {
				t.Errorf("error at index %d offset %d, want %d/%d", ve.Index, ve.Offset, tt.index, tt.offset)
			}
		})
	}
}

func TestMismatchIsWrapped(t *testing.T) {
	body := NewList().Add(Insn{Op: OpFconst0}, Insn{Op: OpI2l}, Insn{Op: OpReturn})
	_, err := Assemble(&Method{Owner: "T", Name: "m", Descriptor: "()V", Static: true, Body: body}, constpool.New())
	var me *vtype.MismatchError
	if !errors.As(err, &me) {
		t.Fatalf("error = %v, want wrapped *vtype.MismatchError", err)
	}
	if me.Expected != vtype.Int || me.Actual != vtype.Float {
		t.Errorf("mismatch = %s/%s, want int/float", me.Expected, me.Actual)
	}
	if me.Offset != 1 {
		t.Errorf("mismatch offset = %d, want 1", me.Offset)
	}
}

func TestLabelErrors(t *testing.T) {
	body := NewList()
	l := body.NewLabel()
	body.Add(Insn{Op: OpNop}, Jump{Op: OpGoto, Target: l})
	_, err := Assemble(&Method{Owner: "T", Name: "m", Descriptor: "()V", Static: true, Body: body}, constpool.New())
	var le *LabelError
	if !errors.As(err, &le) {
		t.Fatalf("unplaced label: error = %v, want *LabelError", err)
	}
	if le.Index != 1 || le.Label != l {
		t.Errorf("LabelError = %+v, want index 1 label %d", le, l)
	}

	body = NewList()
	l = body.NewLabel()
	body.Mark(l)
	body.Add(Insn{Op: OpNop})
	body.Mark(l)
	body.Add(Insn{Op: OpReturn})
	_, err = Assemble(&Method{Owner: "T", Name: "m", Descriptor: "()V", Static: true, Body: body}, constpool.New())
	if !errors.As(err, &le) || le.Index != 2 {
		t.Errorf("double placement: error = %v, want *LabelError at 2", err)
	}

	body = NewList().Add(Jump{Op: OpGoto, Target: Label(3)})
	_, err = Assemble(&Method{Owner: "T", Name: "m", Descriptor: "()V", Static: true, Body: body}, constpool.New())
	if !errors.As(err, &le) {
		t.Errorf("foreign label: error = %v, want *LabelError", err)
	}
}

func TestRangeErrors(t *testing.T) {
	tests := []struct {
		name string
		insn Instruction
	}{
		{"bipush", IntInsn{Op: OpBipush, Operand: 200}},
		{"sipush", IntInsn{Op: OpSipush, Operand: -40000}},
		{"iinc delta", Iinc{Slot: 0, Delta: 1 << 16}},
		{"slot", VarInsn{Op: OpIload, Slot: 70000}},
		{"line", LineNumber{Line: -1}},
	}
	for _, tt := range tests {
		body := NewList().Add(tt.insn, Insn{Op: OpReturn})
		_, err := Assemble(&Method{Owner: "T", Name: "m", Descriptor: "()V", Static: true, Body: body}, constpool.New())
		var re *RangeError
		if !errors.As(err, &re) {
			t.Errorf("%s: error = %v, want *RangeError", tt.name, err)
		}
	}

	_, err := Assemble(&Method{Owner: "T", Name: "m", Descriptor: "()V", Static: true, Body: NewList()}, constpool.New())
	var re *RangeError
	if !errors.As(err, &re) || re.What != "code length" {
		t.Errorf("empty body: error = %v, want code length *RangeError", err)
	}
}

func TestUnsupportedConstant(t *testing.T) {
	body := NewList().Add(Ldc{Value: struct{}{}}, Insn{Op: OpReturn})
	_, err := Assemble(&Method{Owner: "T", Name: "m", Descriptor: "()V", Static: true, Body: body}, constpool.New())
	var ue *constpool.UnsupportedConstantError
	if !errors.As(err, &ue) {
		t.Errorf("error = %v, want *constpool.UnsupportedConstantError", err)
	}
}

func TestLocalForms(t *testing.T) {
	tests := []struct {
		insn Instruction
		want []byte
	}{
		{VarInsn{Op: OpIload, Slot: 2}, []byte{byte(OpIload2)}},
		{VarInsn{Op: OpIload, Slot: 4}, []byte{byte(OpIload), 4}},
		{VarInsn{Op: OpIload, Slot: 256}, []byte{byte(OpWide), byte(OpIload), 1, 0}},
		{Iinc{Slot: 4, Delta: -1}, []byte{byte(OpIinc), 4, 0xFF}},
		{Iinc{Slot: 4, Delta: 1000}, []byte{byte(OpWide), byte(OpIinc), 0, 4, 0x03, 0xE8}},
	}
	for _, tt := range tests {
		body := NewList().Add(tt.insn)
		if _, ok := tt.insn.(VarInsn); ok {
			body.Add(Insn{Op: OpPop})
		}
		body.Add(Insn{Op: OpReturn})
		code, _ := assemble(t, &Method{Owner: "T", Name: "m", Descriptor: "()V", Static: true, Body: body})
		if got := code.Instructions[0].Bytes; !bytes.Equal(got, tt.want) {
			t.Errorf("%s = % x, want % x", FormatInstruction(tt.insn), got, tt.want)
		}
	}
}

func TestLdcWidth(t *testing.T) {
	pool := constpool.New()
	for i := 0; i < 300; i++ {
		if _, err := pool.Utf8(string(rune('a'+i%26)) + string(rune('A'+i/26))); err != nil {
			t.Fatal(err)
		}
	}
	body := NewList().Add(
		Ldc{Value: int32(7)},
		Ldc{Value: int64(7)},
		Insn{Op: OpPop2},
		Insn{Op: OpPop},
		Insn{Op: OpReturn},
	)
	code, err := Assemble(&Method{Owner: "T", Name: "m", Descriptor: "()V", Static: true, Body: body}, pool)
	if err != nil {
		t.Fatal(err)
	}
	if op := code.Instructions[0].Op; op != OpLdcW {
		t.Errorf("int constant above index 255 uses %s, want ldc_w", op)
	}
	if op := code.Instructions[1].Op; op != OpLdc2W {
		t.Errorf("long constant uses %s, want ldc2_w", op)
	}
	if code.MaxStack != 3 {
		t.Errorf("MaxStack = %d, want 3", code.MaxStack)
	}
}

func TestConstructorInitializesReceiver(t *testing.T) {
	body := NewList().Add(
		VarInsn{Op: OpAload, Slot: 0},
		MethodInsn{Op: OpInvokespecial, Owner: "java/lang/Object", Name: "<init>", Descriptor: "()V"},
		VarInsn{Op: OpAload, Slot: 0},
		FieldInsn{Op: OpGetfield, Owner: "Point", Name: "x", Descriptor: "I"},
		Insn{Op: OpPop},
		Insn{Op: OpReturn},
	)
	code, _ := assemble(t, &Method{Owner: "Point", Name: "<init>", Descriptor: "()V", Body: body})
	if code.MaxStack != 1 || code.MaxLocals != 1 {
		t.Errorf("max stack/locals = %d/%d, want 1/1", code.MaxStack, code.MaxLocals)
	}

	body = NewList().Add(
		TypeInsn{Op: OpNew, Class: "java/lang/StringBuilder"},
		Insn{Op: OpDup},
		MethodInsn{Op: OpInvokespecial, Owner: "java/lang/StringBuilder", Name: "<init>", Descriptor: "()V"},
		MethodInsn{Op: OpInvokevirtual, Owner: "java/lang/StringBuilder", Name: "toString", Descriptor: "()Ljava/lang/String;"},
		Insn{Op: OpAreturn},
	)
	code, _ = assemble(t, &Method{Owner: "T", Name: "m", Descriptor: "()Ljava/lang/String;", Static: true, Body: body})
	if code.MaxStack != 2 {
		t.Errorf("MaxStack = %d, want 2", code.MaxStack)
	}

	body = NewList().Add(
		TypeInsn{Op: OpNew, Class: "java/lang/Object"},
		MethodInsn{Op: OpInvokevirtual, Owner: "java/lang/Object", Name: "<init>", Descriptor: "()V"},
		Insn{Op: OpReturn},
	)
	_, err := Assemble(&Method{Owner: "T", Name: "m", Descriptor: "()V", Static: true, Body: body}, constpool.New())
	var ve *VerifyError
	if !errors.As(err, &ve) {
		t.Errorf("<init> via invokevirtual: error = %v, want *VerifyError", err)
	}
}

func TestInvokeInterfaceCount(t *testing.T) {
	body := NewList().Add(
		VarInsn{Op: OpAload, Slot: 0},
		Insn{Op: OpLconst1},
		Insn{Op: OpIconst0},
		MethodInsn{Op: OpInvokeinterface, Owner: "java/util/function/Consumer", Name: "m", Descriptor: "(JI)V"},
		Insn{Op: OpReturn},
	)
	code, pool := assemble(t, &Method{Owner: "T", Name: "m", Descriptor: "(Ljava/lang/Object;)V", Static: true, Body: body})
	e := code.Instructions[3]
	if e.Size != 5 || e.Bytes[3] != 4 || e.Bytes[4] != 0 {
		t.Errorf("invokeinterface = % x, want count 4 and zero", e.Bytes)
	}
	if _, ok := pool.At(e.Index).(constpool.InterfaceMethodRef); !ok {
		t.Errorf("operand %s is not an interface method ref", pool.At(e.Index))
	}
}

func TestInvokeDynamic(t *testing.T) {
	bsm := constpool.MethodHandle{
		Kind:       constpool.RefInvokeStatic,
		Owner:      "java/lang/invoke/StringConcatFactory",
		Name:       "makeConcatWithConstants",
		Descriptor: "(Ljava/lang/invoke/MethodHandles$Lookup;Ljava/lang/String;Ljava/lang/invoke/MethodType;Ljava/lang/String;[Ljava/lang/Object;)Ljava/lang/invoke/CallSite;",
	}
	body := NewList().Add(
		VarInsn{Op: OpIload, Slot: 0},
		InvokeDynamic{Name: "concat", Descriptor: "(I)Ljava/lang/String;", Bootstrap: bsm, Args: []constpool.Entry{constpool.String{Value: "n=\x01"}}},
		Insn{Op: OpAreturn},
	)
	code, pool := assemble(t, &Method{Owner: "T", Name: "m", Descriptor: "(I)Ljava/lang/String;", Static: true, Body: body})
	e := code.Instructions[1]
	if e.Size != 5 || e.Bytes[3] != 0 || e.Bytes[4] != 0 {
		t.Errorf("invokedynamic = % x", e.Bytes)
	}
	if len(pool.BootstrapMethods()) != 1 {
		t.Errorf("bootstrap methods = %d, want 1", len(pool.BootstrapMethods()))
	}
}

func TestLdcWideDynamicConstant(t *testing.T) {
	pool := constpool.New()
	bsm, err := pool.AddBootstrapMethod(constpool.MethodHandle{
		Kind:       constpool.RefInvokeStatic,
		Owner:      "T",
		Name:       "bootstrap",
		Descriptor: "(Ljava/lang/invoke/MethodHandles$Lookup;Ljava/lang/String;Ljava/lang/Class;)J",
	})
	if err != nil {
		t.Fatal(err)
	}
	body := NewList().Add(
		Ldc{Value: constpool.Dynamic{Bootstrap: bsm, Name: "big", Descriptor: "J"}},
		Insn{Op: OpLreturn},
	)
	code, err := Assemble(&Method{Owner: "T", Name: "m", Descriptor: "()J", Static: true, Body: body}, pool)
	if err != nil {
		t.Fatalf("Assemble error: %v", err)
	}
	e := code.Instructions[0]
	if e.Op != OpLdc2W || e.Size != 3 || e.Bytes[0] != byte(OpLdc2W) {
		t.Errorf("ldc of a long dynamic constant = %s % x, want ldc2_w", e.Op, e.Bytes)
	}
	if code.MaxStack != 2 {
		t.Errorf("MaxStack = %d, want 2", code.MaxStack)
	}
}

func TestExceptionTable(t *testing.T) {
	body := NewList()
	handler, end := body.NewLabel(), body.NewLabel()
	outer, empty := body.NewRegion(), body.NewRegion()
	body.Add(
		TryBegin{Region: outer, Handler: handler, CatchType: "java/lang/Exception"},
		MethodInsn{Op: OpInvokestatic, Owner: "T", Name: "work", Descriptor: "()V"},
		TryEnd{Region: outer},
		TryBegin{Region: empty, Handler: handler, CatchType: "java/lang/Exception"},
		TryEnd{Region: empty},
		Jump{Op: OpGoto, Target: end},
	)
	body.Mark(handler)
	body.Add(Insn{Op: OpPop})
	body.Mark(end)
	body.Add(Insn{Op: OpReturn})

	code, pool := assemble(t, &Method{Owner: "T", Name: "m", Descriptor: "()V", Static: true, Body: body, Frames: true})
	if len(code.Exceptions) != 1 {
		t.Fatalf("exceptions = %+v, want one entry", code.Exceptions)
	}
	ex := code.Exceptions[0]
	catch, _ := pool.Lookup(constpool.Class{Name: "java/lang/Exception"})
	want := ExceptionEntry{StartPC: 0, EndPC: 3, HandlerPC: 6, CatchType: catch}
	if ex != want {
		t.Errorf("exception = %+v, want %+v", ex, want)
	}

	if len(code.Frames) != 2 {
		t.Fatalf("frames = %+v, want 2", code.Frames)
	}
	h := code.Frames[0]
	if h.Offset != 6 || len(h.Stack) != 1 || h.Stack[0] != vtype.Ref("java/lang/Exception") {
		t.Errorf("handler frame = %+v", h)
	}
	wantMap := []byte{0, 2, 64 + 6, 7, byte(catch >> 8), byte(catch), 0}
	if !bytes.Equal(code.StackMap, wantMap) {
		t.Errorf("StackMap = % x, want % x", code.StackMap, wantMap)
	}
}

func TestRegionErrors(t *testing.T) {
	body := NewList()
	h := body.NewLabel()
	r := body.NewRegion()
	body.Add(TryBegin{Region: r, Handler: h}, Insn{Op: OpNop}, Insn{Op: OpReturn})
	body.Mark(h)
	body.Add(Insn{Op: OpAthrow})
	_, err := Assemble(&Method{Owner: "T", Name: "m", Descriptor: "()V", Static: true, Body: body}, constpool.New())
	var ve *VerifyError
	if !errors.As(err, &ve) || ve.Index != 0 {
		t.Errorf("unclosed region: error = %v, want *VerifyError at 0", err)
	}

	body = NewList()
	r = body.NewRegion()
	body.Add(TryEnd{Region: r}, Insn{Op: OpReturn})
	_, err = Assemble(&Method{Owner: "T", Name: "m", Descriptor: "()V", Static: true, Body: body}, constpool.New())
	if !errors.As(err, &ve) {
		t.Errorf("close before open: error = %v, want *VerifyError", err)
	}
}

func TestStackMapSameFrame(t *testing.T) {
	body := NewList()
	zero := body.NewLabel()
	body.Add(
		VarInsn{Op: OpIload, Slot: 0},
		Jump{Op: OpIfeq, Target: zero},
		Insn{Op: OpIconst1},
		Insn{Op: OpIreturn},
	)
	body.Mark(zero)
	body.Add(Insn{Op: OpIconst0}, Insn{Op: OpIreturn})

	code, _ := assemble(t, &Method{Owner: "T", Name: "m", Descriptor: "(I)I", Static: true, Body: body, Frames: true})
	if want := []byte{0, 1, 6}; !bytes.Equal(code.StackMap, want) {
		t.Errorf("StackMap = % x, want % x", code.StackMap, want)
	}

	code, _ = assemble(t, &Method{Owner: "T", Name: "m", Descriptor: "(I)I", Static: true, Body: body})
	if code.StackMap != nil {
		t.Errorf("StackMap = % x without Frames, want nil", code.StackMap)
	}
}

func TestDepthMismatchAtLabel(t *testing.T) {
	body := NewList()
	l := body.NewLabel()
	body.Add(
		VarInsn{Op: OpIload, Slot: 0},
		Jump{Op: OpIfeq, Target: l},
		Insn{Op: OpIconst1},
	)
	body.Mark(l)
	body.Add(Insn{Op: OpReturn})
	_, err := Assemble(&Method{Owner: "T", Name: "m", Descriptor: "(I)V", Static: true, Body: body}, constpool.New())
	var ve *VerifyError
	if !errors.As(err, &ve) || ve.Index != 3 {
		t.Errorf("error = %v, want *VerifyError at the label", err)
	}
}

func TestUnreachableCodeRestoresBranchState(t *testing.T) {
	body := NewList()
	l := body.NewLabel()
	body.Add(
		Insn{Op: OpIconst1},
		Jump{Op: OpGoto, Target: l},
	)
	body.Mark(l)
	body.Add(Insn{Op: OpIreturn})
	code, _ := assemble(t, &Method{Owner: "T", Name: "m", Descriptor: "()I", Static: true, Body: body})
	if code.MaxStack != 1 {
		t.Errorf("MaxStack = %d, want 1", code.MaxStack)
	}
}

func TestLineNumbersAndLocals(t *testing.T) {
	body := NewList()
	start, end := body.NewLabel(), body.NewLabel()
	body.Add(LineNumber{Line: 10}, Insn{Op: OpIconst5}, VarInsn{Op: OpIstore, Slot: 1})
	body.Mark(start)
	body.Add(LineNumber{Line: 11}, Iinc{Slot: 1, Delta: 1})
	body.Mark(end)
	body.Add(Insn{Op: OpReturn})

	code, pool := assemble(t, &Method{
		Owner: "T", Name: "m", Descriptor: "()V", Static: true, Body: body,
		LocalVariables: []LocalVariable{{Slot: 1, Name: "n", Descriptor: "I", Start: start, End: end}, {Slot: 5, Name: "d", Descriptor: "D", Start: start, End: end}},
	})
	wantLines := []LineNumberEntry{{0, 10}, {2, 11}}
	if len(code.LineNumbers) != 2 || code.LineNumbers[0] != wantLines[0] || code.LineNumbers[1] != wantLines[1] {
		t.Errorf("LineNumbers = %v, want %v", code.LineNumbers, wantLines)
	}
	name, _ := pool.Lookup(constpool.Utf8{Value: "n"})
	desc, _ := pool.Lookup(constpool.Utf8{Value: "I"})
	want := LocalVariableEntry{StartPC: 2, Length: 3, Name: name, Descriptor: desc, Index: 1}
	if len(code.LocalVariables) != 2 || code.LocalVariables[0] != want {
		t.Errorf("LocalVariables = %+v, want first %+v", code.LocalVariables, want)
	}
	if code.MaxLocals != 7 {
		t.Errorf("MaxLocals = %d, want 7", code.MaxLocals)
	}
}

func TestAssembleIsDeterministic(t *testing.T) {
	build := func() *List {
		body := NewList()
		l := body.NewLabel()
		body.Add(Ldc{Value: "x"}, Ldc{Value: 1.5}, Insn{Op: OpPop2}, Insn{Op: OpPop}, Jump{Op: OpGoto, Target: l})
		body.Mark(l)
		body.Add(Insn{Op: OpReturn})
		return body
	}
	a, _ := assemble(t, &Method{Owner: "T", Name: "m", Descriptor: "()V", Static: true, Body: build(), Frames: true})
	b, _ := assemble(t, &Method{Owner: "T", Name: "m", Descriptor: "()V", Static: true, Body: build(), Frames: true})
	if !bytes.Equal(a.Bytes, b.Bytes) || !bytes.Equal(a.StackMap, b.StackMap) {
		t.Error("assembling the same body twice produced different output")
	}
}

func TestEndsBlock(t *testing.T) {
	tests := []struct {
		op   Opcode
		want bool
	}{
		{OpGoto, true},
		{OpGotoW, true},
		{OpAthrow, true},
		{OpTableswitch, true},
		{OpLookupswitch, true},
		{OpReturn, true},
		{OpIreturn, true},
		{OpAreturn, true},
		{OpIfeq, false},
		{OpIfnull, false},
		{OpInvokestatic, false},
		{OpNop, false},
	}
	for _, tt := range tests {
		if got := tt.op.EndsBlock(); got != tt.want {
			t.Errorf("%s.EndsBlock() = %v, want %v", tt.op, got, tt.want)
		}
	}
}

func TestUndefinedOpcode(t *testing.T) {
	if Opcode(0xCB).IsDefined() {
		t.Error("0xCB.IsDefined() = true")
	}
	body := NewList().Add(Insn{Op: Opcode(0xCB)}, Insn{Op: OpReturn})
	_, err := Assemble(&Method{Owner: "T", Name: "m", Descriptor: "()V", Static: true, Body: body}, constpool.New())
	var ve *VerifyError
	if !errors.As(err, &ve) {
		t.Errorf("Assemble error = %v, want *VerifyError", err)
	}
}

func TestMarkersEncodeEmpty(t *testing.T) {
	body := NewList()
	l, r := body.NewLabel(), body.NewRegion()
	body.Add(LineNumber{Line: 7}, TryBegin{Region: r, Handler: l}, Insn{Op: OpNop}, TryEnd{Region: r}, Insn{Op: OpReturn})
	body.Mark(l)
	body.Add(Insn{Op: OpPop}, Insn{Op: OpReturn})
	code, _ := assemble(t, &Method{Owner: "T", Name: "m", Descriptor: "()V", Static: true, Body: body})
	for i, insn := range body.Instructions() {
		e := code.Instructions[i]
		if IsMarker(insn) != e.Marker {
			t.Errorf("instruction %d: Marker = %v, want %v", i, e.Marker, IsMarker(insn))
		}
		if e.Marker && (e.Size != 0 || len(e.Bytes) != 0) {
			t.Errorf("marker %d encoded %d bytes", i, len(e.Bytes))
		}
	}
}
