package vm

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unsafe"

	"github.com/zeebo/xxh3"
)

// Kind identifies the variant held by a Value.
type Kind uint8

const (
	KindNil Kind = iota
	KindBoolean
	KindInteger
	KindFloat
	KindFunction
	KindString
	KindTable
)

var kindNames = [...]string{
	KindNil:      "nil",
	KindBoolean:  "boolean",
	KindInteger:  "integer",
	KindFloat:    "float",
	KindFunction: "function",
	KindString:   "string",
	KindTable:    "table",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", k)
}

// Value is a tagged union over every runtime datum.
//
// Layout:
//   - Nil: kind only
//   - Boolean, Integer, Float: payload in bits (Float as its IEEE 754 bit pattern)
//   - String: up to shortStrMax bytes inline in short, longer strings in ref
//     as *midString or *longString
//   - Table: *Table in ref, shared by every copy of the Value
//   - Function: *NativeFunction in ref
//
// The zero Value is nil.
type Value struct {
	kind  Kind
	n     uint8 // length of an inline string
	short [shortStrMax]byte
	bits  uint64
	ref   interface{}
}

// Nil is the nil value.
var Nil = Value{}

// ---------------------------------------------------------------------------
// Constructors
// ---------------------------------------------------------------------------

// FromBool creates a Boolean value.
func FromBool(b bool) Value {
	if b {
		return Value{kind: KindBoolean, bits: 1}
	}
	return Value{kind: KindBoolean}
}

// FromInt creates an Integer value.
func FromInt(i int64) Value {
	return Value{kind: KindInteger, bits: uint64(i)}
}

// FromFloat creates a Float value.
func FromFloat(f float64) Value {
	return Value{kind: KindFloat, bits: math.Float64bits(f)}
}

// FromTable wraps a table handle. Every copy of the returned Value refers to
// the same table.
func FromTable(t *Table) Value {
	if t == nil {
		panic("vm: FromTable(nil)")
	}
	return Value{kind: KindTable, ref: t}
}

// FromNative wraps a native function.
func FromNative(fn *NativeFunction) Value {
	if fn == nil {
		panic("vm: FromNative(nil)")
	}
	return Value{kind: KindFunction, ref: fn}
}

// ---------------------------------------------------------------------------
// Type checking and accessors
// ---------------------------------------------------------------------------

// Kind returns the variant of v.
func (v Value) Kind() Kind { return v.kind }

// IsNil returns true if v is nil.
func (v Value) IsNil() bool { return v.kind == KindNil }

// IsString returns true if v is a string of any size class.
func (v Value) IsString() bool { return v.kind == KindString }

// IsNaN returns true if v is a Float holding NaN.
func (v Value) IsNaN() bool {
	return v.kind == KindFloat && math.IsNaN(math.Float64frombits(v.bits))
}

// Bool returns the payload of a Boolean. Panics on any other kind.
func (v Value) Bool() bool {
	if v.kind != KindBoolean {
		panic("vm: Value.Bool: not a boolean")
	}
	return v.bits != 0
}

// Int returns the payload of an Integer. Panics on any other kind.
func (v Value) Int() int64 {
	if v.kind != KindInteger {
		panic("vm: Value.Int: not an integer")
	}
	return int64(v.bits)
}

// Float returns the payload of a Float. Panics on any other kind.
func (v Value) Float() float64 {
	if v.kind != KindFloat {
		panic("vm: Value.Float: not a float")
	}
	return math.Float64frombits(v.bits)
}

// Table returns the table handle. Panics on any other kind.
func (v Value) Table() *Table {
	t, ok := v.ref.(*Table)
	if v.kind != KindTable || !ok {
		panic("vm: Value.Table: not a table")
	}
	return t
}

// Native returns the native function. Panics on any other kind.
func (v Value) Native() *NativeFunction {
	fn, ok := v.ref.(*NativeFunction)
	if v.kind != KindFunction || !ok {
		panic("vm: Value.Native: not a function")
	}
	return fn
}

// Bytes returns the byte content of a string, or the display text of a
// table. The returned slice may share storage with v and must not be
// modified. Any other kind is a contract violation and panics.
func (v Value) Bytes() []byte {
	switch v.kind {
	case KindString:
		return v.stringBytes()
	case KindTable:
		return []byte(v.String())
	}
	panic(fmt.Sprintf("vm: Value.Bytes: cannot convert %s", v.kind))
}

// Text returns the content of a string, or the display text of a table.
// Any other kind is a contract violation and panics.
func (v Value) Text() string {
	switch v.kind {
	case KindString:
		return string(v.stringBytes())
	case KindTable:
		return v.String()
	}
	panic(fmt.Sprintf("vm: Value.Text: cannot convert %s", v.kind))
}

// TypeName returns the Lua type name used in error messages.
func (v Value) TypeName() string {
	switch v.kind {
	case KindInteger, KindFloat:
		return "number"
	}
	return v.kind.String()
}

// ---------------------------------------------------------------------------
// Equality and hashing
// ---------------------------------------------------------------------------

// Equal reports whether v and o are the same value. Integer and Float are
// distinct variants and never equal each other. Strings compare by content
// regardless of size class; tables and functions by identity.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNil:
		return true
	case KindBoolean, KindInteger:
		return v.bits == o.bits
	case KindFloat:
		return math.Float64frombits(v.bits) == math.Float64frombits(o.bits)
	case KindString:
		return bytes.Equal(v.stringBytes(), o.stringBytes())
	case KindTable, KindFunction:
		return v.ref == o.ref
	}
	return false
}

// Hash returns a hash consistent with Equal for every kind except Float
// NaN: floats hash by bit pattern, so a NaN key hashes stably but never
// compares equal to itself. -0.0 hashes as 0.0 since the two are equal.
// Hashing nil panics; nil is never a key.
func (v Value) Hash() uint64 {
	var buf [9]byte
	buf[0] = byte(v.kind)
	switch v.kind {
	case KindNil:
		panic("vm: Value.Hash: nil is not hashable")
	case KindBoolean, KindInteger:
		binary.LittleEndian.PutUint64(buf[1:], v.bits)
	case KindFloat:
		bits := v.bits
		if math.Float64frombits(bits) == 0 {
			bits = 0
		}
		binary.LittleEndian.PutUint64(buf[1:], bits)
	case KindString:
		return xxh3.Hash(v.stringBytes())
	case KindTable:
		binary.LittleEndian.PutUint64(buf[1:], uint64(uintptr(unsafe.Pointer(v.ref.(*Table)))))
	case KindFunction:
		binary.LittleEndian.PutUint64(buf[1:], uint64(uintptr(unsafe.Pointer(v.ref.(*NativeFunction)))))
	}
	return xxh3.Hash(buf[:])
}

// ---------------------------------------------------------------------------
// Display
// ---------------------------------------------------------------------------

// String returns the display form used by print.
func (v Value) String() string {
	switch v.kind {
	case KindNil:
		return "nil"
	case KindBoolean:
		return strconv.FormatBool(v.bits != 0)
	case KindInteger:
		return strconv.FormatInt(int64(v.bits), 10)
	case KindFloat:
		return formatFloat(math.Float64frombits(v.bits))
	case KindString:
		return string(v.stringBytes())
	case KindTable:
		return fmt.Sprintf("table: %p", v.ref.(*Table))
	case KindFunction:
		return fmt.Sprintf("function: builtin: %p", v.ref.(*NativeFunction))
	}
	return fmt.Sprintf("<invalid value kind %d>", v.kind)
}

// GoString returns a debugging form: strings are quoted, tables report the
// size of both stores.
func (v Value) GoString() string {
	switch v.kind {
	case KindString:
		return strconv.Quote(string(v.stringBytes()))
	case KindTable:
		t := v.ref.(*Table)
		return fmt.Sprintf("table(array=%d, map=%d)", t.ArrayLen(), t.MapLen())
	case KindFunction:
		return "function " + v.ref.(*NativeFunction).Name
	}
	return v.String()
}

// formatFloat prints like %.14g and keeps a trailing ".0" on integral values
// so floats stay distinguishable from integers.
func formatFloat(f float64) string {
	switch {
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	case math.IsNaN(f):
		return "nan"
	}
	s := strconv.FormatFloat(f, 'g', 14, 64)
	if strings.ContainsAny(s, "e.") {
		// FormatFloat keeps trailing zeros in the mantissa with an explicit precision.
		if mant, exp, ok := strings.Cut(s, "e"); ok {
			return trimZeros(mant) + "e" + exp
		}
		return trimZeros(s)
	}
	return s + ".0"
}

func trimZeros(s string) string {
	if !strings.Contains(s, ".") {
		return s
	}
	s = strings.TrimRight(s, "0")
	if strings.HasSuffix(s, ".") {
		s += "0"
	}
	return s
}
