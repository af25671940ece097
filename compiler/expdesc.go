package compiler

import (
	"fmt"

	"github.com/chazu/lunette/vm"
)

// ExpKind tags a parsed expression whose instruction has not been chosen yet.
type ExpKind int

const (
	ExpNil ExpKind = iota
	ExpBoolean
	ExpInteger
	ExpFloat
	ExpString
	ExpLocal      // value already in Slot
	ExpGlobal     // global named by constant Key
	ExpIndex      // Slot[Key], key in a stack slot
	ExpIndexField // Slot[K[Key]], key is a string constant
	ExpIndexInt   // Slot[Key], key is an inline integer 0..255
)

var expKindNames = map[ExpKind]string{
	ExpNil:        "nil",
	ExpBoolean:    "boolean",
	ExpInteger:    "integer",
	ExpFloat:      "float",
	ExpString:     "string",
	ExpLocal:      "local",
	ExpGlobal:     "global",
	ExpIndex:      "index",
	ExpIndexField: "index-field",
	ExpIndexInt:   "index-int",
}

func (k ExpKind) String() string {
	if name, ok := expKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("ExpKind(%d)", k)
}

// ExpDesc describes a parsed expression. The instruction that materializes
// it is only chosen once its destination is known.
type ExpDesc struct {
	Kind  ExpKind
	Bool  bool
	Int   int64
	Float float64
	Str   string
	Slot  int // ExpLocal slot, or table slot of the index forms
	Key   int // global name constant, key slot, key constant or inline key
}

// IsLiteral reports whether the expression is a constant that can be
// consumed straight from the constant pool.
func (e ExpDesc) IsLiteral() bool {
	switch e.Kind {
	case ExpNil, ExpBoolean, ExpInteger, ExpFloat, ExpString:
		return true
	}
	return false
}

// Value returns the runtime value of a literal expression.
func (e ExpDesc) Value() vm.Value {
	switch e.Kind {
	case ExpBoolean:
		return vm.FromBool(e.Bool)
	case ExpInteger:
		return vm.FromInt(e.Int)
	case ExpFloat:
		return vm.FromFloat(e.Float)
	case ExpString:
		return vm.FromString(e.Str)
	}
	return vm.Nil
}

func (e ExpDesc) String() string {
	switch e.Kind {
	case ExpNil:
		return "nil"
	case ExpBoolean:
		return fmt.Sprintf("boolean(%t)", e.Bool)
	case ExpInteger:
		return fmt.Sprintf("integer(%d)", e.Int)
	case ExpFloat:
		return fmt.Sprintf("float(%g)", e.Float)
	case ExpString:
		return fmt.Sprintf("string(%q)", e.Str)
	case ExpLocal:
		return fmt.Sprintf("local(%d)", e.Slot)
	case ExpGlobal:
		return fmt.Sprintf("global(K%d)", e.Key)
	}
	return fmt.Sprintf("%s(%d, %d)", e.Kind, e.Slot, e.Key)
}

// Constructors

func nilExp() ExpDesc { return ExpDesc{Kind: ExpNil} }
func boolExp(b bool) ExpDesc { return ExpDesc{Kind: ExpBoolean, Bool: b} }
func intExp(i int64) ExpDesc { return ExpDesc{Kind: ExpInteger, Int: i} }
func floatExp(f float64) ExpDesc { return ExpDesc{Kind: ExpFloat, Float: f} }
func stringExp(s string) ExpDesc { return ExpDesc{Kind: ExpString, Str: s} }
func localExp(slot int) ExpDesc { return ExpDesc{Kind: ExpLocal, Slot: slot} }
func globalExp(k int) ExpDesc { return ExpDesc{Kind: ExpGlobal, Key: k} }
func indexExp(t, key int) ExpDesc { return ExpDesc{Kind: ExpIndex, Slot: t, Key: key} }
func indexFieldExp(t, k int) ExpDesc { return ExpDesc{Kind: ExpIndexField, Slot: t, Key: k} }
func indexIntExp(t, key int) ExpDesc { return ExpDesc{Kind: ExpIndexInt, Slot: t, Key: key} }

// ConstantPool interns literal values. *vm.Chunk implements it.
type ConstantPool interface {
	AddConstant(v vm.Value) (int, error)
}

// planDischarge returns the instructions that place e in slot dst. The
// result is empty when e is already the local in dst.
//
//	nil, boolean, integer  -> LOADNIL / LOADBOOL / LOADINT (inline operand)
//	float, string          -> LOADCONST (constant pool)
//	local                  -> MOVE, elided when the slot is dst
//	global                 -> GETGLOBAL
//	index forms            -> GETTABLE / GETFIELD / GETINT
func planDischarge(e ExpDesc, dst uint8, pool ConstantPool) ([]vm.Instruction, error) {
	switch e.Kind {
	case ExpNil:
		return []vm.Instruction{vm.LoadNil(dst)}, nil
	case ExpBoolean:
		return []vm.Instruction{vm.LoadBool(dst, e.Bool)}, nil
	case ExpInteger:
		return []vm.Instruction{vm.LoadInt(dst, e.Int)}, nil
	case ExpFloat, ExpString:
		k, err := pool.AddConstant(e.Value())
		if err != nil {
			return nil, err
		}
		return []vm.Instruction{vm.LoadConst(dst, uint8(k))}, nil
	case ExpLocal:
		if e.Slot == int(dst) {
			return nil, nil
		}
		return []vm.Instruction{vm.Move(dst, uint8(e.Slot))}, nil
	case ExpGlobal:
		return []vm.Instruction{vm.GetGlobal(dst, uint8(e.Key))}, nil
	case ExpIndex:
		return []vm.Instruction{vm.ABC(vm.OpGetTable, dst, uint8(e.Slot), uint8(e.Key))}, nil
	case ExpIndexField:
		return []vm.Instruction{vm.ABC(vm.OpGetField, dst, uint8(e.Slot), uint8(e.Key))}, nil
	case ExpIndexInt:
		return []vm.Instruction{vm.ABC(vm.OpGetInt, dst, uint8(e.Slot), uint8(e.Key))}, nil
	}
	return nil, vm.NewError(vm.ErrCompile, "cannot discharge %s expression", e.Kind)
}
