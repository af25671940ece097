// Package dist implements the portable form of a compiled lunette chunk.
// A chunk is encoded as canonical CBOR, so equal programs produce equal
// bytes and a stable content hash.
package dist

// FormatVersion is bumped whenever the encoded layout changes.
const FormatVersion uint8 = 2

// ConstKind identifies the kind of a constant in the encoded pool. Only
// literal kinds can appear in a constant pool.
type ConstKind uint8

const (
	ConstNil     ConstKind = 0
	ConstBoolean ConstKind = 1
	ConstInteger ConstKind = 2
	ConstFloat   ConstKind = 3
	ConstString  ConstKind = 4
)

// Chunk is the encoded form of a vm.Chunk.
type Chunk struct {
	Version   uint8         `cbor:"1,keyasint"`
	Name      string        `cbor:"2,keyasint"`
	Constants []Constant    `cbor:"3,keyasint"`
	Code      []Instruction `cbor:"4,keyasint"`
	Locals    []Local       `cbor:"5,keyasint,omitempty"`
}

// Constant is one literal from the constant pool. Floats travel as their
// IEEE 754 bit pattern so the sign of zero survives.
type Constant struct {
	Kind      ConstKind `cbor:"1,keyasint"`
	Bool      bool      `cbor:"2,keyasint,omitempty"`
	Int       int64     `cbor:"3,keyasint,omitempty"`
	FloatBits uint64    `cbor:"4,keyasint,omitempty"`
	Bytes     []byte    `cbor:"5,keyasint,omitempty"`
}

// Instruction mirrors vm.Instruction.
type Instruction struct {
	Op  uint8 `cbor:"1,keyasint"`
	A   uint8 `cbor:"2,keyasint,omitempty"`
	B   uint8 `cbor:"3,keyasint,omitempty"`
	C   uint8 `cbor:"4,keyasint,omitempty"`
	Int int64 `cbor:"5,keyasint,omitempty"`
}

// Local mirrors vm.LocalInfo.
type Local struct {
	Name   string `cbor:"1,keyasint"`
	Slot   int    `cbor:"2,keyasint"`
	Line   int    `cbor:"3,keyasint,omitempty"`
	Column int    `cbor:"4,keyasint,omitempty"`
}
