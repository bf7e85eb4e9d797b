package asm

import (
	"fmt"

	"github.com/chazu/jclass/pkg/vtype"
)

// Opcode is a JVM instruction opcode.
type Opcode byte

const (
	// ========================================================================
	// Constants (0x00-0x14)
	// ========================================================================

	OpNop        Opcode = 0x00
	OpAconstNull Opcode = 0x01
	OpIconstM1   Opcode = 0x02
	OpIconst0    Opcode = 0x03
	OpIconst1    Opcode = 0x04
	OpIconst2    Opcode = 0x05
	OpIconst3    Opcode = 0x06
	OpIconst4    Opcode = 0x07
	OpIconst5    Opcode = 0x08
	OpLconst0    Opcode = 0x09
	OpLconst1    Opcode = 0x0A
	OpFconst0    Opcode = 0x0B
	OpFconst1    Opcode = 0x0C
	OpFconst2    Opcode = 0x0D
	OpDconst0    Opcode = 0x0E
	OpDconst1    Opcode = 0x0F
	OpBipush     Opcode = 0x10 // bipush <byte>
	OpSipush     Opcode = 0x11 // sipush <short>
	OpLdc        Opcode = 0x12 // ldc <index:u8>
	OpLdcW       Opcode = 0x13 // ldc_w <index:u16>
	OpLdc2W      Opcode = 0x14 // ldc2_w <index:u16>

	// ========================================================================
	// Loads (0x15-0x35)
	// ========================================================================

	OpIload  Opcode = 0x15
	OpLload  Opcode = 0x16
	OpFload  Opcode = 0x17
	OpDload  Opcode = 0x18
	OpAload  Opcode = 0x19
	OpIload0 Opcode = 0x1A
	OpIload1 Opcode = 0x1B
	OpIload2 Opcode = 0x1C
	OpIload3 Opcode = 0x1D
	OpLload0 Opcode = 0x1E
	OpLload1 Opcode = 0x1F
	OpLload2 Opcode = 0x20
	OpLload3 Opcode = 0x21
	OpFload0 Opcode = 0x22
	OpFload1 Opcode = 0x23
	OpFload2 Opcode = 0x24
	OpFload3 Opcode = 0x25
	OpDload0 Opcode = 0x26
	OpDload1 Opcode = 0x27
	OpDload2 Opcode = 0x28
	OpDload3 Opcode = 0x29
	OpAload0 Opcode = 0x2A
	OpAload1 Opcode = 0x2B
	OpAload2 Opcode = 0x2C
	OpAload3 Opcode = 0x2D
	OpIaload Opcode = 0x2E
	OpLaload Opcode = 0x2F
	OpFaload Opcode = 0x30
	OpDaload Opcode = 0x31
	OpAaload Opcode = 0x32
	OpBaload Opcode = 0x33
	OpCaload Opcode = 0x34
	OpSaload Opcode = 0x35

	// ========================================================================
	// Stores (0x36-0x56)
	// ========================================================================

	OpIstore  Opcode = 0x36
	OpLstore  Opcode = 0x37
	OpFstore  Opcode = 0x38
	OpDstore  Opcode = 0x39
	OpAstore  Opcode = 0x3A
	OpIstore0 Opcode = 0x3B
	OpIstore1 Opcode = 0x3C
	OpIstore2 Opcode = 0x3D
	OpIstore3 Opcode = 0x3E
	OpLstore0 Opcode = 0x3F
	OpLstore1 Opcode = 0x40
	OpLstore2 Opcode = 0x41
	OpLstore3 Opcode = 0x42
	OpFstore0 Opcode = 0x43
	OpFstore1 Opcode = 0x44
	OpFstore2 Opcode = 0x45
	OpFstore3 Opcode = 0x46
	OpDstore0 Opcode = 0x47
	OpDstore1 Opcode = 0x48
	OpDstore2 Opcode = 0x49
	OpDstore3 Opcode = 0x4A
	OpAstore0 Opcode = 0x4B
	OpAstore1 Opcode = 0x4C
	OpAstore2 Opcode = 0x4D
	OpAstore3 Opcode = 0x4E
	OpIastore Opcode = 0x4F
	OpLastore Opcode = 0x50
	OpFastore Opcode = 0x51
	OpDastore Opcode = 0x52
	OpAastore Opcode = 0x53
	OpBastore Opcode = 0x54
	OpCastore Opcode = 0x55
	OpSastore Opcode = 0x56

	// ========================================================================
	// Stack (0x57-0x5F)
	// ========================================================================

	OpPop    Opcode = 0x57
	OpPop2   Opcode = 0x58
	OpDup    Opcode = 0x59
	OpDupX1  Opcode = 0x5A
	OpDupX2  Opcode = 0x5B
	OpDup2   Opcode = 0x5C
	OpDup2X1 Opcode = 0x5D
	OpDup2X2 Opcode = 0x5E
	OpSwap   Opcode = 0x5F

	// ========================================================================
	// Math (0x60-0x84)
	// ========================================================================

	OpIadd  Opcode = 0x60
	OpLadd  Opcode = 0x61
	OpFadd  Opcode = 0x62
	OpDadd  Opcode = 0x63
	OpIsub  Opcode = 0x64
	OpLsub  Opcode = 0x65
	OpFsub  Opcode = 0x66
	OpDsub  Opcode = 0x67
	OpImul  Opcode = 0x68
	OpLmul  Opcode = 0x69
	OpFmul  Opcode = 0x6A
	OpDmul  Opcode = 0x6B
	OpIdiv  Opcode = 0x6C
	OpLdiv  Opcode = 0x6D
	OpFdiv  Opcode = 0x6E
	OpDdiv  Opcode = 0x6F
	OpIrem  Opcode = 0x70
	OpLrem  Opcode = 0x71
	OpFrem  Opcode = 0x72
	OpDrem  Opcode = 0x73
	OpIneg  Opcode = 0x74
	OpLneg  Opcode = 0x75
	OpFneg  Opcode = 0x76
	OpDneg  Opcode = 0x77
	OpIshl  Opcode = 0x78
	OpLshl  Opcode = 0x79
	OpIshr  Opcode = 0x7A
	OpLshr  Opcode = 0x7B
	OpIushr Opcode = 0x7C
	OpLushr Opcode = 0x7D
	OpIand  Opcode = 0x7E
	OpLand  Opcode = 0x7F
	OpIor   Opcode = 0x80
	OpLor   Opcode = 0x81
	OpIxor  Opcode = 0x82
	OpLxor  Opcode = 0x83
	OpIinc  Opcode = 0x84 // iinc <slot:u8> <delta:i8>

	// ========================================================================
	// Conversions (0x85-0x93)
	// ========================================================================

	OpI2l Opcode = 0x85
	OpI2f Opcode = 0x86
	OpI2d Opcode = 0x87
	OpL2i Opcode = 0x88
	OpL2f Opcode = 0x89
	OpL2d Opcode = 0x8A
	OpF2i Opcode = 0x8B
	OpF2l Opcode = 0x8C
	OpF2d Opcode = 0x8D
	OpD2i Opcode = 0x8E
	OpD2l Opcode = 0x8F
	OpD2f Opcode = 0x90
	OpI2b Opcode = 0x91
	OpI2c Opcode = 0x92
	OpI2s Opcode = 0x93

	// ========================================================================
	// Comparisons and branches (0x94-0xAB)
	// ========================================================================

	OpLcmp         Opcode = 0x94
	OpFcmpl        Opcode = 0x95
	OpFcmpg        Opcode = 0x96
	OpDcmpl        Opcode = 0x97
	OpDcmpg        Opcode = 0x98
	OpIfeq         Opcode = 0x99 // if* <offset:i16>
	OpIfne         Opcode = 0x9A
	OpIflt         Opcode = 0x9B
	OpIfge         Opcode = 0x9C
	OpIfgt         Opcode = 0x9D
	OpIfle         Opcode = 0x9E
	OpIfIcmpeq     Opcode = 0x9F
	OpIfIcmpne     Opcode = 0xA0
	OpIfIcmplt     Opcode = 0xA1
	OpIfIcmpge     Opcode = 0xA2
	OpIfIcmpgt     Opcode = 0xA3
	OpIfIcmple     Opcode = 0xA4
	OpIfAcmpeq     Opcode = 0xA5
	OpIfAcmpne     Opcode = 0xA6
	OpGoto         Opcode = 0xA7
	OpJsr          Opcode = 0xA8
	OpRet          Opcode = 0xA9
	OpTableswitch  Opcode = 0xAA
	OpLookupswitch Opcode = 0xAB

	// ========================================================================
	// Returns (0xAC-0xB1)
	// ========================================================================

	OpIreturn Opcode = 0xAC
	OpLreturn Opcode = 0xAD
	OpFreturn Opcode = 0xAE
	OpDreturn Opcode = 0xAF
	OpAreturn Opcode = 0xB0
	OpReturn  Opcode = 0xB1

	// ========================================================================
	// References (0xB2-0xC3)
	// ========================================================================

	OpGetstatic       Opcode = 0xB2 // <index:u16>
	OpPutstatic       Opcode = 0xB3
	OpGetfield        Opcode = 0xB4
	OpPutfield        Opcode = 0xB5
	OpInvokevirtual   Opcode = 0xB6
	OpInvokespecial   Opcode = 0xB7
	OpInvokestatic    Opcode = 0xB8
	OpInvokeinterface Opcode = 0xB9 // <index:u16> <count:u8> 0
	OpInvokedynamic   Opcode = 0xBA // <index:u16> 0 0
	OpNew             Opcode = 0xBB
	OpNewarray        Opcode = 0xBC // <atype:u8>
	OpAnewarray       Opcode = 0xBD
	OpArraylength     Opcode = 0xBE
	OpAthrow          Opcode = 0xBF
	OpCheckcast       Opcode = 0xC0
	OpInstanceof      Opcode = 0xC1
	OpMonitorenter    Opcode = 0xC2
	OpMonitorexit     Opcode = 0xC3

	// ========================================================================
	// Extended (0xC4-0xC9)
	// ========================================================================

	OpWide           Opcode = 0xC4
	OpMultianewarray Opcode = 0xC5 // <index:u16> <dims:u8>
	OpIfnull         Opcode = 0xC6
	OpIfnonnull      Opcode = 0xC7
	OpGotoW          Opcode = 0xC8 // goto_w <offset:i32>
	OpJsrW           Opcode = 0xC9
)

// Form describes the operand layout that follows an opcode byte.
type Form uint8

const (
	FormNone Form = iota
	FormByte
	FormShort
	FormConst
	FormLocal
	FormIinc
	FormBranch
	FormBranchWide
	FormTableSwitch
	FormLookupSwitch
	FormField
	FormMethod
	FormInterface
	FormDynamic
	FormType
	FormMultiArray
	FormWide
)

// OpcodeInfo provides metadata about each opcode.
type OpcodeInfo struct {
	Name string // Mnemonic as written in listings
	Form Form   // Operand layout

	// Pop and Push are the fixed stack effect of zero-operand opcodes,
	// bottom of stack first. Opcodes whose effect depends on operands or on
	// the stack contents leave both nil and are handled by preprocess.
	Pop  []vtype.Type
	Push []vtype.Type
}

func types(t ...vtype.Type) []vtype.Type { return t }

var (
	tI = vtype.Int
	tL = vtype.Long
	tF = vtype.Float
	tD = vtype.Double
	tA = vtype.AnyRef
)

// opcodeInfoTable maps opcodes to their metadata.
var opcodeInfoTable = map[Opcode]OpcodeInfo{
	// Constants
	OpNop:        {"nop", FormNone, nil, nil},
	OpAconstNull: {"aconst_null", FormNone, nil, types(vtype.Null)},
	OpIconstM1:   {"iconst_m1", FormNone, nil, types(tI)},
	OpIconst0:    {"iconst_0", FormNone, nil, types(tI)},
	OpIconst1:    {"iconst_1", FormNone, nil, types(tI)},
	OpIconst2:    {"iconst_2", FormNone, nil, types(tI)},
	OpIconst3:    {"iconst_3", FormNone, nil, types(tI)},
	OpIconst4:    {"iconst_4", FormNone, nil, types(tI)},
	OpIconst5:    {"iconst_5", FormNone, nil, types(tI)},
	OpLconst0:    {"lconst_0", FormNone, nil, types(tL)},
	OpLconst1:    {"lconst_1", FormNone, nil, types(tL)},
	OpFconst0:    {"fconst_0", FormNone, nil, types(tF)},
	OpFconst1:    {"fconst_1", FormNone, nil, types(tF)},
	OpFconst2:    {"fconst_2", FormNone, nil, types(tF)},
	OpDconst0:    {"dconst_0", FormNone, nil, types(tD)},
	OpDconst1:    {"dconst_1", FormNone, nil, types(tD)},
	OpBipush:     {"bipush", FormByte, nil, types(tI)},
	OpSipush:     {"sipush", FormShort, nil, types(tI)},
	OpLdc:        {"ldc", FormConst, nil, nil},
	OpLdcW:       {"ldc_w", FormConst, nil, nil},
	OpLdc2W:      {"ldc2_w", FormConst, nil, nil},

	// Loads
	OpIload:  {"iload", FormLocal, nil, nil},
	OpLload:  {"lload", FormLocal, nil, nil},
	OpFload:  {"fload", FormLocal, nil, nil},
	OpDload:  {"dload", FormLocal, nil, nil},
	OpAload:  {"aload", FormLocal, nil, nil},
	OpIload0: {"iload_0", FormNone, nil, nil},
	OpIload1: {"iload_1", FormNone, nil, nil},
	OpIload2: {"iload_2", FormNone, nil, nil},
	OpIload3: {"iload_3", FormNone, nil, nil},
	OpLload0: {"lload_0", FormNone, nil, nil},
	OpLload1: {"lload_1", FormNone, nil, nil},
	OpLload2: {"lload_2", FormNone, nil, nil},
	OpLload3: {"lload_3", FormNone, nil, nil},
	OpFload0: {"fload_0", FormNone, nil, nil},
	OpFload1: {"fload_1", FormNone, nil, nil},
	OpFload2: {"fload_2", FormNone, nil, nil},
	OpFload3: {"fload_3", FormNone, nil, nil},
	OpDload0: {"dload_0", FormNone, nil, nil},
	OpDload1: {"dload_1", FormNone, nil, nil},
	OpDload2: {"dload_2", FormNone, nil, nil},
	OpDload3: {"dload_3", FormNone, nil, nil},
	OpAload0: {"aload_0", FormNone, nil, nil},
	OpAload1: {"aload_1", FormNone, nil, nil},
	OpAload2: {"aload_2", FormNone, nil, nil},
	OpAload3: {"aload_3", FormNone, nil, nil},
	OpIaload: {"iaload", FormNone, types(tA, tI), types(tI)},
	OpLaload: {"laload", FormNone, types(tA, tI), types(tL)},
	OpFaload: {"faload", FormNone, types(tA, tI), types(tF)},
	OpDaload: {"daload", FormNone, types(tA, tI), types(tD)},
	OpAaload: {"aaload", FormNone, nil, nil},
	OpBaload: {"baload", FormNone, types(tA, tI), types(tI)},
	OpCaload: {"caload", FormNone, types(tA, tI), types(tI)},
	OpSaload: {"saload", FormNone, types(tA, tI), types(tI)},

	// Stores
	OpIstore:  {"istore", FormLocal, nil, nil},
	OpLstore:  {"lstore", FormLocal, nil, nil},
	OpFstore:  {"fstore", FormLocal, nil, nil},
	OpDstore:  {"dstore", FormLocal, nil, nil},
	OpAstore:  {"astore", FormLocal, nil, nil},
	OpIstore0: {"istore_0", FormNone, nil, nil},
	OpIstore1: {"istore_1", FormNone, nil, nil},
	OpIstore2: {"istore_2", FormNone, nil, nil},
	OpIstore3: {"istore_3", FormNone, nil, nil},
	OpLstore0: {"lstore_0", FormNone, nil, nil},
	OpLstore1: {"lstore_1", FormNone, nil, nil},
	OpLstore2: {"lstore_2", FormNone, nil, nil},
	OpLstore3: {"lstore_3", FormNone, nil, nil},
	OpFstore0: {"fstore_0", FormNone, nil, nil},
	OpFstore1: {"fstore_1", FormNone, nil, nil},
	OpFstore2: {"fstore_2", FormNone, nil, nil},
	OpFstore3: {"fstore_3", FormNone, nil, nil},
	OpDstore0: {"dstore_0", FormNone, nil, nil},
	OpDstore1: {"dstore_1", FormNone, nil, nil},
	OpDstore2: {"dstore_2", FormNone, nil, nil},
	OpDstore3: {"dstore_3", FormNone, nil, nil},
	OpAstore0: {"astore_0", FormNone, nil, nil},
	OpAstore1: {"astore_1", FormNone, nil, nil},
	OpAstore2: {"astore_2", FormNone, nil, nil},
	OpAstore3: {"astore_3", FormNone, nil, nil},
	OpIastore: {"iastore", FormNone, types(tA, tI, tI), nil},
	OpLastore: {"lastore", FormNone, types(tA, tI, tL), nil},
	OpFastore: {"fastore", FormNone, types(tA, tI, tF), nil},
	OpDastore: {"dastore", FormNone, types(tA, tI, tD), nil},
	OpAastore: {"aastore", FormNone, types(tA, tI, tA), nil},
	OpBastore: {"bastore", FormNone, types(tA, tI, tI), nil},
	OpCastore: {"castore", FormNone, types(tA, tI, tI), nil},
	OpSastore: {"sastore", FormNone, types(tA, tI, tI), nil},

	// Stack
	OpPop:    {"pop", FormNone, nil, nil},
	OpPop2:   {"pop2", FormNone, nil, nil},
	OpDup:    {"dup", FormNone, nil, nil},
	OpDupX1:  {"dup_x1", FormNone, nil, nil},
	OpDupX2:  {"dup_x2", FormNone, nil, nil},
	OpDup2:   {"dup2", FormNone, nil, nil},
	OpDup2X1: {"dup2_x1", FormNone, nil, nil},
	OpDup2X2: {"dup2_x2", FormNone, nil, nil},
	OpSwap:   {"swap", FormNone, nil, nil},

	// Math
	OpIadd:  {"iadd", FormNone, types(tI, tI), types(tI)},
	OpLadd:  {"ladd", FormNone, types(tL, tL), types(tL)},
	OpFadd:  {"fadd", FormNone, types(tF, tF), types(tF)},
	OpDadd:  {"dadd", FormNone, types(tD, tD), types(tD)},
	OpIsub:  {"isub", FormNone, types(tI, tI), types(tI)},
	OpLsub:  {"lsub", FormNone, types(tL, tL), types(tL)},
	OpFsub:  {"fsub", FormNone, types(tF, tF), types(tF)},
	OpDsub:  {"dsub", FormNone, types(tD, tD), types(tD)},
	OpImul:  {"imul", FormNone, types(tI, tI), types(tI)},
	OpLmul:  {"lmul", FormNone, types(tL, tL), types(tL)},
	OpFmul:  {"fmul", FormNone, types(tF, tF), types(tF)},
	OpDmul:  {"dmul", FormNone, types(tD, tD), types(tD)},
	OpIdiv:  {"idiv", FormNone, types(tI, tI), types(tI)},
	OpLdiv:  {"ldiv", FormNone, types(tL, tL), types(tL)},
	OpFdiv:  {"fdiv", FormNone, types(tF, tF), types(tF)},
	OpDdiv:  {"ddiv", FormNone, types(tD, tD), types(tD)},
	OpIrem:  {"irem", FormNone, types(tI, tI), types(tI)},
	OpLrem:  {"lrem", FormNone, types(tL, tL), types(tL)},
	OpFrem:  {"frem", FormNone, types(tF, tF), types(tF)},
	OpDrem:  {"drem", FormNone, types(tD, tD), types(tD)},
	OpIneg:  {"ineg", FormNone, types(tI), types(tI)},
	OpLneg:  {"lneg", FormNone, types(tL), types(tL)},
	OpFneg:  {"fneg", FormNone, types(tF), types(tF)},
	OpDneg:  {"dneg", FormNone, types(tD), types(tD)},
	OpIshl:  {"ishl", FormNone, types(tI, tI), types(tI)},
	OpLshl:  {"lshl", FormNone, types(tL, tI), types(tL)},
	OpIshr:  {"ishr", FormNone, types(tI, tI), types(tI)},
	OpLshr:  {"lshr", FormNone, types(tL, tI), types(tL)},
	OpIushr: {"iushr", FormNone, types(tI, tI), types(tI)},
	OpLushr: {"lushr", FormNone, types(tL, tI), types(tL)},
	OpIand:  {"iand", FormNone, types(tI, tI), types(tI)},
	OpLand:  {"land", FormNone, types(tL, tL), types(tL)},
	OpIor:   {"ior", FormNone, types(tI, tI), types(tI)},
	OpLor:   {"lor", FormNone, types(tL, tL), types(tL)},
	OpIxor:  {"ixor", FormNone, types(tI, tI), types(tI)},
	OpLxor:  {"lxor", FormNone, types(tL, tL), types(tL)},
	OpIinc:  {"iinc", FormIinc, nil, nil},

	// Conversions
	OpI2l: {"i2l", FormNone, types(tI), types(tL)},
	OpI2f: {"i2f", FormNone, types(tI), types(tF)},
	OpI2d: {"i2d", FormNone, types(tI), types(tD)},
	OpL2i: {"l2i", FormNone, types(tL), types(tI)},
	OpL2f: {"l2f", FormNone, types(tL), types(tF)},
	OpL2d: {"l2d", FormNone, types(tL), types(tD)},
	OpF2i: {"f2i", FormNone, types(tF), types(tI)},
	OpF2l: {"f2l", FormNone, types(tF), types(tL)},
	OpF2d: {"f2d", FormNone, types(tF), types(tD)},
	OpD2i: {"d2i", FormNone, types(tD), types(tI)},
	OpD2l: {"d2l", FormNone, types(tD), types(tL)},
	OpD2f: {"d2f", FormNone, types(tD), types(tF)},
	OpI2b: {"i2b", FormNone, types(tI), types(tI)},
	OpI2c: {"i2c", FormNone, types(tI), types(tI)},
	OpI2s: {"i2s", FormNone, types(tI), types(tI)},

	// Comparisons and branches
	OpLcmp:         {"lcmp", FormNone, types(tL, tL), types(tI)},
	OpFcmpl:        {"fcmpl", FormNone, types(tF, tF), types(tI)},
	OpFcmpg:        {"fcmpg", FormNone, types(tF, tF), types(tI)},
	OpDcmpl:        {"dcmpl", FormNone, types(tD, tD), types(tI)},
	OpDcmpg:        {"dcmpg", FormNone, types(tD, tD), types(tI)},
	OpIfeq:         {"ifeq", FormBranch, types(tI), nil},
	OpIfne:         {"ifne", FormBranch, types(tI), nil},
	OpIflt:         {"iflt", FormBranch, types(tI), nil},
	OpIfge:         {"ifge", FormBranch, types(tI), nil},
	OpIfgt:         {"ifgt", FormBranch, types(tI), nil},
	OpIfle:         {"ifle", FormBranch, types(tI), nil},
	OpIfIcmpeq:     {"if_icmpeq", FormBranch, types(tI, tI), nil},
	OpIfIcmpne:     {"if_icmpne", FormBranch, types(tI, tI), nil},
	OpIfIcmplt:     {"if_icmplt", FormBranch, types(tI, tI), nil},
	OpIfIcmpge:     {"if_icmpge", FormBranch, types(tI, tI), nil},
	OpIfIcmpgt:     {"if_icmpgt", FormBranch, types(tI, tI), nil},
	OpIfIcmple:     {"if_icmple", FormBranch, types(tI, tI), nil},
	OpIfAcmpeq:     {"if_acmpeq", FormBranch, types(tA, tA), nil},
	OpIfAcmpne:     {"if_acmpne", FormBranch, types(tA, tA), nil},
	OpGoto:         {"goto", FormBranch, nil, nil},
	OpJsr:          {"jsr", FormBranch, nil, nil},
	OpRet:          {"ret", FormLocal, nil, nil},
	OpTableswitch:  {"tableswitch", FormTableSwitch, types(tI), nil},
	OpLookupswitch: {"lookupswitch", FormLookupSwitch, types(tI), nil},

	// Returns
	OpIreturn: {"ireturn", FormNone, types(tI), nil},
	OpLreturn: {"lreturn", FormNone, types(tL), nil},
	OpFreturn: {"freturn", FormNone, types(tF), nil},
	OpDreturn: {"dreturn", FormNone, types(tD), nil},
	OpAreturn: {"areturn", FormNone, types(tA), nil},
	OpReturn:  {"return", FormNone, nil, nil},

	// References
	OpGetstatic:       {"getstatic", FormField, nil, nil},
	OpPutstatic:       {"putstatic", FormField, nil, nil},
	OpGetfield:        {"getfield", FormField, nil, nil},
	OpPutfield:        {"putfield", FormField, nil, nil},
	OpInvokevirtual:   {"invokevirtual", FormMethod, nil, nil},
	OpInvokespecial:   {"invokespecial", FormMethod, nil, nil},
	OpInvokestatic:    {"invokestatic", FormMethod, nil, nil},
	OpInvokeinterface: {"invokeinterface", FormInterface, nil, nil},
	OpInvokedynamic:   {"invokedynamic", FormDynamic, nil, nil},
	OpNew:             {"new", FormType, nil, nil},
	OpNewarray:        {"newarray", FormByte, types(tI), nil},
	OpAnewarray:       {"anewarray", FormType, types(tI), nil},
	OpArraylength:     {"arraylength", FormNone, types(tA), types(tI)},
	OpAthrow:          {"athrow", FormNone, types(tA), nil},
	OpCheckcast:       {"checkcast", FormType, types(tA), nil},
	OpInstanceof:      {"instanceof", FormType, types(tA), types(tI)},
	OpMonitorenter:    {"monitorenter", FormNone, types(tA), nil},
	OpMonitorexit:     {"monitorexit", FormNone, types(tA), nil},

	// Extended
	OpWide:           {"wide", FormWide, nil, nil},
	OpMultianewarray: {"multianewarray", FormMultiArray, nil, nil},
	OpIfnull:         {"ifnull", FormBranch, types(tA), nil},
	OpIfnonnull:      {"ifnonnull", FormBranch, types(tA), nil},
	OpGotoW:          {"goto_w", FormBranchWide, nil, nil},
	OpJsrW:           {"jsr_w", FormBranchWide, nil, nil},
}

var opcodeByName = func() map[string]Opcode {
	m := make(map[string]Opcode, len(opcodeInfoTable))
	for op, info := range opcodeInfoTable {
		m[info.Name] = op
	}
	return m
}()

// GetOpcodeInfo returns metadata for an opcode.
// Returns an OpcodeInfo named "UNKNOWN(0xNN)" if the opcode is not defined.
func GetOpcodeInfo(op Opcode) OpcodeInfo {
	if info, ok := opcodeInfoTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN(0x%02X)", byte(op))}
}

// Lookup returns the opcode with the given mnemonic.
func Lookup(name string) (Opcode, bool) {
	op, ok := opcodeByName[name]
	return op, ok
}

// String returns the mnemonic of an opcode.
func (op Opcode) String() string {
	return GetOpcodeInfo(op).Name
}

// Form returns the operand layout of the opcode.
func (op Opcode) Form() Form {
	return GetOpcodeInfo(op).Form
}

// IsDefined reports whether op is a JVM opcode.
func (op Opcode) IsDefined() bool {
	_, ok := opcodeInfoTable[op]
	return ok
}

// IsConditional reports whether op is a two-way branch.
func (op Opcode) IsConditional() bool {
	return (op >= OpIfeq && op <= OpIfAcmpne) || op == OpIfnull || op == OpIfnonnull
}

// IsReturn reports whether op returns from the method.
func (op Opcode) IsReturn() bool {
	return op >= OpIreturn && op <= OpReturn
}

// EndsBlock reports whether control never falls through op to the next
// instruction.
func (op Opcode) EndsBlock() bool {
	switch op {
	case OpGoto, OpGotoW, OpAthrow, OpTableswitch, OpLookupswitch, OpRet:
		return true
	}
	return op.IsReturn()
}

// Invert returns the conditional branch that jumps when op falls through.
func (op Opcode) Invert() Opcode {
	switch op {
	case OpIfnull:
		return OpIfnonnull
	case OpIfnonnull:
		return OpIfnull
	}
	// if* opcodes come in complementary pairs: eq/ne, lt/ge, gt/le.
	if (op-OpIfeq)%2 == 0 {
		return op + 1
	}
	return op - 1
}

// loadStore describes the typed local-variable opcodes.
type loadStore struct {
	base  Opcode // iload, istore, ...
	short Opcode // iload_0, istore_0, ...
	typ   vtype.Type
	store bool
}

var localOps = map[Opcode]loadStore{
	OpIload:  {OpIload, OpIload0, tI, false},
	OpLload:  {OpLload, OpLload0, tL, false},
	OpFload:  {OpFload, OpFload0, tF, false},
	OpDload:  {OpDload, OpDload0, tD, false},
	OpAload:  {OpAload, OpAload0, tA, false},
	OpIstore: {OpIstore, OpIstore0, tI, true},
	OpLstore: {OpLstore, OpLstore0, tL, true},
	OpFstore: {OpFstore, OpFstore0, tF, true},
	OpDstore: {OpDstore, OpDstore0, tD, true},
	OpAstore: {OpAstore, OpAstore0, tA, true},
}

// shortLocal splits an xload_n/xstore_n opcode into its base opcode and
// slot.
func shortLocal(op Opcode) (Opcode, int, bool) {
	switch {
	case op >= OpIload0 && op <= OpAload3:
		n := int(op - OpIload0)
		return OpIload + Opcode(n/4), n % 4, true
	case op >= OpIstore0 && op <= OpAstore3:
		n := int(op - OpIstore0)
		return OpIstore + Opcode(n/4), n % 4, true
	}
	return 0, 0, false
}

// Array type codes used by newarray.
var newarrayTypes = map[int]string{
	4:  "[Z",
	5:  "[C",
	6:  "[F",
	7:  "[D",
	8:  "[B",
	9:  "[S",
	10: "[I",
	11: "[J",
}
