package vm

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Opcode definitions
// ---------------------------------------------------------------------------

// Opcode represents a single bytecode instruction.
type Opcode byte

// Loads
const (
	OpLoadNil   Opcode = 0x00 // A = nil
	OpLoadBool  Opcode = 0x01 // A = B != 0
	OpLoadInt   Opcode = 0x02 // A = Int
	OpLoadConst Opcode = 0x03 // A = K[B]
	OpMove      Opcode = 0x04 // A = R[B]
)

// Globals
const (
	OpGetGlobal       Opcode = 0x10 // A = G[K[B]]
	OpSetGlobal       Opcode = 0x11 // G[K[A]] = R[B]
	OpSetGlobalConst  Opcode = 0x12 // G[K[A]] = K[B]
	OpSetGlobalGlobal Opcode = 0x13 // G[K[A]] = G[K[B]]
)

// Tables
const (
	OpNewTable      Opcode = 0x20 // A = {} sized for B array and C map entries
	OpSetTable      Opcode = 0x21 // R[A][R[B]] = R[C]
	OpSetField      Opcode = 0x22 // R[A][K[B]] = R[C]
	OpSetInt        Opcode = 0x23 // R[A][B] = R[C]
	OpSetTableConst Opcode = 0x24 // R[A][R[B]] = K[C]
	OpSetFieldConst Opcode = 0x25 // R[A][K[B]] = K[C]
	OpSetIntConst   Opcode = 0x26 // R[A][B] = K[C]
	OpSetList       Opcode = 0x27 // append R[A+1..A+B] to R[A], truncate stack to A+1
	OpGetTable      Opcode = 0x28 // A = R[B][R[C]]
	OpGetField      Opcode = 0x29 // A = R[B][K[C]]
	OpGetInt        Opcode = 0x2A // A = R[B][C]
)

// Calls
const (
	OpCall Opcode = 0x30 // call R[A] with B arguments at R[A+1..]
)

// ---------------------------------------------------------------------------
// Opcode metadata
// ---------------------------------------------------------------------------

// OperandKind describes how an 8-bit operand is interpreted.
type OperandKind uint8

const (
	OperandNone  OperandKind = iota // unused
	OperandSlot                     // stack slot index
	OperandConst                    // constant pool index
	OperandByte                     // inline literal byte (bool, integer key)
	OperandCount                    // element or argument count
)

// OpcodeInfo holds metadata about an opcode.
type OpcodeInfo struct {
	Name     string         // human-readable name
	Operands [3]OperandKind // meaning of A, B, C
	HasInt   bool           // carries an inline int64
}

var (
	none  = OperandNone
	slot  = OperandSlot
	konst = OperandConst
	lit   = OperandByte
	count = OperandCount
)

// opcodeTable maps opcodes to their metadata.
var opcodeTable = map[Opcode]OpcodeInfo{
	OpLoadNil:   {"LOADNIL", [3]OperandKind{slot, none, none}, false},
	OpLoadBool:  {"LOADBOOL", [3]OperandKind{slot, lit, none}, false},
	OpLoadInt:   {"LOADINT", [3]OperandKind{slot, none, none}, true},
	OpLoadConst: {"LOADCONST", [3]OperandKind{slot, konst, none}, false},
	OpMove:      {"MOVE", [3]OperandKind{slot, slot, none}, false},

	OpGetGlobal:       {"GETGLOBAL", [3]OperandKind{slot, konst, none}, false},
	OpSetGlobal:       {"SETGLOBAL", [3]OperandKind{konst, slot, none}, false},
	OpSetGlobalConst:  {"SETGLOBALCONST", [3]OperandKind{konst, konst, none}, false},
	OpSetGlobalGlobal: {"SETGLOBALGLOBAL", [3]OperandKind{konst, konst, none}, false},

	OpNewTable:      {"NEWTABLE", [3]OperandKind{slot, count, count}, false},
	OpSetTable:      {"SETTABLE", [3]OperandKind{slot, slot, slot}, false},
	OpSetField:      {"SETFIELD", [3]OperandKind{slot, konst, slot}, false},
	OpSetInt:        {"SETINT", [3]OperandKind{slot, lit, slot}, false},
	OpSetTableConst: {"SETTABLECONST", [3]OperandKind{slot, slot, konst}, false},
	OpSetFieldConst: {"SETFIELDCONST", [3]OperandKind{slot, konst, konst}, false},
	OpSetIntConst:   {"SETINTCONST", [3]OperandKind{slot, lit, konst}, false},
	OpSetList:       {"SETLIST", [3]OperandKind{slot, count, none}, false},
	OpGetTable:      {"GETTABLE", [3]OperandKind{slot, slot, slot}, false},
	OpGetField:      {"GETFIELD", [3]OperandKind{slot, slot, konst}, false},
	OpGetInt:        {"GETINT", [3]OperandKind{slot, slot, lit}, false},

	OpCall: {"CALL", [3]OperandKind{slot, count, none}, false},
}

// Info returns metadata for the opcode.
func (op Opcode) Info() OpcodeInfo {
	if info, ok := opcodeTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN(0x%02X)", byte(op))}
}

// String returns the human-readable name of an opcode.
func (op Opcode) String() string {
	return op.Info().Name
}

// AllOpcodes returns every defined opcode.
func AllOpcodes() []Opcode {
	ops := make([]Opcode, 0, len(opcodeTable))
	for op := range opcodeTable {
		ops = append(ops, op)
	}
	return ops
}

// ---------------------------------------------------------------------------
// Instruction
// ---------------------------------------------------------------------------

// Instruction is one fixed-width bytecode instruction. A, B and C are 8-bit
// slot or constant indices; Int is only used by LOADINT.
type Instruction struct {
	Op      Opcode
	A, B, C uint8
	Int     int64
}

// String formats the instruction without constant annotations.
func (in Instruction) String() string {
	info := in.Op.Info()
	var b strings.Builder
	fmt.Fprintf(&b, "%-16s", info.Name)
	for i, kind := range info.Operands {
		if kind == OperandNone {
			continue
		}
		fmt.Fprintf(&b, " %d", in.operand(i))
	}
	if info.HasInt {
		fmt.Fprintf(&b, " %d", in.Int)
	}
	return strings.TrimRight(b.String(), " ")
}

func (in Instruction) operand(i int) uint8 {
	switch i {
	case 0:
		return in.A
	case 1:
		return in.B
	}
	return in.C
}

// Convenience constructors used by the compiler and by tests.

func LoadNil(dst uint8) Instruction { return Instruction{Op: OpLoadNil, A: dst} }

func LoadBool(dst uint8, b bool) Instruction {
	in := Instruction{Op: OpLoadBool, A: dst}
	if b {
		in.B = 1
	}
	return in
}

func LoadInt(dst uint8, i int64) Instruction { return Instruction{Op: OpLoadInt, A: dst, Int: i} }

func LoadConst(dst, k uint8) Instruction { return Instruction{Op: OpLoadConst, A: dst, B: k} }

func Move(dst, src uint8) Instruction { return Instruction{Op: OpMove, A: dst, B: src} }

func GetGlobal(dst, name uint8) Instruction { return Instruction{Op: OpGetGlobal, A: dst, B: name} }

// ABC builds an instruction from raw operands.
func ABC(op Opcode, a, b, c uint8) Instruction { return Instruction{Op: op, A: a, B: b, C: c} }
