package asm

import (
	"bytes"
	"errors"
	"io"
	"reflect"
	"strings"
	"testing"

	"github.com/chazu/jclass/pkg/constpool"
)

func roundTripBody() (*List, []LocalVariable) {
	body := NewList()
	start, done, h, dflt, c0, c1 := body.NewLabel(), body.NewLabel(), body.NewLabel(), body.NewLabel(), body.NewLabel(), body.NewLabel()
	r := body.NewRegion()

	body.Add(LineNumber{Line: 3})
	body.Mark(start)
	body.Add(
		Ldc{Value: "s"},
		Insn{Op: OpPop},
		Insn{Op: OpIconst0},
		VarInsn{Op: OpIstore, Slot: 1},
		TryBegin{Region: r, Handler: h, CatchType: "java/lang/RuntimeException"},
		MethodInsn{Op: OpInvokestatic, Owner: "T", Name: "f", Descriptor: "()V"},
		TryEnd{Region: r},
		VarInsn{Op: OpIload, Slot: 0},
		TableSwitch{Low: 0, High: 1, Default: dflt, Targets: []Label{c0, c1}},
	)
	body.Mark(c0)
	body.Add(LineNumber{Line: 5}, Iinc{Slot: 1, Delta: 200}, Jump{Op: OpGoto, Target: done})
	body.Mark(c1)
	body.Add(VarInsn{Op: OpIload, Slot: 1}, VarInsn{Op: OpIload, Slot: 0}, Jump{Op: OpIfIcmpge, Target: done})
	body.Mark(dflt)
	body.Add(Jump{Op: OpGoto, Target: done})
	body.Mark(h)
	body.Add(Insn{Op: OpPop})
	body.Mark(done)
	body.Add(VarInsn{Op: OpIload, Slot: 1}, Insn{Op: OpIreturn})

	vars := []LocalVariable{{Slot: 1, Name: "acc", Descriptor: "I", Start: start, End: done}}
	return body, vars
}

func TestDecodeRoundTrip(t *testing.T) {
	body, vars := roundTripBody()
	m := &Method{Owner: "T", Name: "m", Descriptor: "(I)I", Static: true, Body: body, LocalVariables: vars, Frames: true}
	first, pool := assemble(t, m)

	decoded, dvars, err := Decode(pool, first.Bytes, first.Exceptions, first.LineNumbers, first.LocalVariables)
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	m2 := &Method{Owner: "T", Name: "m", Descriptor: "(I)I", Static: true, Body: decoded, LocalVariables: dvars, Frames: true}
	second, err := Assemble(m2, pool)
	if err != nil {
		t.Fatalf("Assemble(decoded) error: %v\n%s", err, Disassemble(decoded, dvars))
	}

	if !bytes.Equal(first.Bytes, second.Bytes) {
		t.Errorf("code differs after round trip:\n% x\n% x", first.Bytes, second.Bytes)
	}
	if !bytes.Equal(first.StackMap, second.StackMap) {
		t.Errorf("StackMap differs: % x vs % x", first.StackMap, second.StackMap)
	}
	if first.MaxStack != second.MaxStack || first.MaxLocals != second.MaxLocals {
		t.Errorf("max stack/locals = %d/%d, want %d/%d", second.MaxStack, second.MaxLocals, first.MaxStack, first.MaxLocals)
	}
	if !reflect.DeepEqual(first.Exceptions, second.Exceptions) {
		t.Errorf("Exceptions = %+v, want %+v", second.Exceptions, first.Exceptions)
	}
	if !reflect.DeepEqual(first.LineNumbers, second.LineNumbers) {
		t.Errorf("LineNumbers = %+v, want %+v", second.LineNumbers, first.LineNumbers)
	}
	if !reflect.DeepEqual(first.LocalVariables, second.LocalVariables) {
		t.Errorf("LocalVariables = %+v, want %+v", second.LocalVariables, first.LocalVariables)
	}
}

func TestDecodePreservesInterningOrder(t *testing.T) {
	body, vars := roundTripBody()
	m := &Method{Owner: "T", Name: "m", Descriptor: "(I)I", Static: true, Body: body, LocalVariables: vars, Frames: true}
	code, pool := assemble(t, m)

	decoded, dvars, err := Decode(pool, code.Bytes, code.Exceptions, code.LineNumbers, code.LocalVariables)
	if err != nil {
		t.Fatal(err)
	}
	fresh := constpool.New()
	if _, err := Assemble(&Method{Owner: "T", Name: "m", Descriptor: "(I)I", Static: true, Body: decoded, LocalVariables: dvars, Frames: true}, fresh); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(pool.Entries(), fresh.Entries()) {
		t.Errorf("pool entries differ:\n%v\n%v", pool.Entries(), fresh.Entries())
	}
}

func TestDecodeWideBranch(t *testing.T) {
	body := NewList()
	end := body.NewLabel()
	body.Add(VarInsn{Op: OpIload, Slot: 0}, Jump{Op: OpIfeq, Target: end})
	filler(body, 33000)
	body.Mark(end)
	body.Add(Insn{Op: OpReturn})
	code, pool := assemble(t, &Method{Owner: "T", Name: "m", Descriptor: "(I)V", Static: true, Body: body})

	decoded, _, err := Decode(pool, code.Bytes, nil, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	insns := decoded.Instructions()
	if j, ok := insns[1].(Jump); !ok || j.Op != OpIfne {
		t.Errorf("insns[1] = %s, want ifne", FormatInstruction(insns[1]))
	}
	if j, ok := insns[2].(Jump); !ok || j.Op != OpGotoW {
		t.Errorf("insns[2] = %s, want goto_w", FormatInstruction(insns[2]))
	}
	again, err := Assemble(&Method{Owner: "T", Name: "m", Descriptor: "(I)V", Static: true, Body: decoded}, pool)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(code.Bytes, again.Bytes) {
		t.Error("wide branch did not survive a round trip")
	}
}

func TestDecodeShortForms(t *testing.T) {
	code := []byte{byte(OpAload0), byte(OpIstore3), byte(OpWide), byte(OpLload), 0x01, 0x00, byte(OpPop2), byte(OpPop), byte(OpReturn)}
	l, _, err := Decode(constpool.New(), code, nil, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	want := []Instruction{
		VarInsn{Op: OpAload, Slot: 0},
		VarInsn{Op: OpIstore, Slot: 3},
		VarInsn{Op: OpLload, Slot: 256},
		Insn{Op: OpPop2},
		Insn{Op: OpPop},
		Insn{Op: OpReturn},
	}
	if !reflect.DeepEqual(l.Instructions(), want) {
		t.Errorf("Decode() = %v, want %v", l.Instructions(), want)
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		code []byte
		want string
	}{
		{"jsr", []byte{byte(OpJsr), 0, 3, byte(OpReturn)}, "jsr/ret"},
		{"ret", []byte{byte(OpRet), 1}, "jsr/ret"},
		{"undefined", []byte{0xCB}, "undefined opcode"},
		{"target outside", []byte{byte(OpGoto), 0x10, 0x00}, "outside code"},
		{"bad pool index", []byte{byte(OpGetstatic), 0, 9}, "invalid constant pool index"},
		{"wide bad", []byte{byte(OpWide), byte(OpNop), 0, 0}, "wide nop"},
	}
	for _, tt := range tests {
		_, _, err := Decode(constpool.New(), tt.code, nil, nil, nil)
		if err == nil || !strings.Contains(err.Error(), tt.want) {
			t.Errorf("%s: error = %v, want containing %q", tt.name, err, tt.want)
		}
	}

	_, _, err := Decode(constpool.New(), []byte{byte(OpSipush), 1}, nil, nil, nil)
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("truncated: error = %v, want io.ErrUnexpectedEOF", err)
	}
}
