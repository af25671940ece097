package dist

import (
	"crypto/sha256"
	"fmt"
	"math"

	"github.com/chazu/lunette/vm"
	"github.com/fxamacker/cbor/v2"
)

// cborEncMode uses canonical mode for deterministic encoding.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("dist: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// MarshalChunk serializes a Chunk to CBOR bytes.
func MarshalChunk(c *Chunk) ([]byte, error) {
	return cborEncMode.Marshal(c)
}

// UnmarshalChunk deserializes a Chunk from CBOR bytes.
func UnmarshalChunk(data []byte) (*Chunk, error) {
	var c Chunk
	if err := cbor.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("dist: unmarshal chunk: %w", err)
	}
	if c.Version != FormatVersion {
		return nil, fmt.Errorf("dist: unsupported chunk version %d", c.Version)
	}
	return &c, nil
}

// Encode converts a compiled chunk to canonical CBOR.
func Encode(c *vm.Chunk) ([]byte, error) {
	w, err := FromVM(c)
	if err != nil {
		return nil, err
	}
	return MarshalChunk(w)
}

// Decode reads a compiled chunk from CBOR.
func Decode(data []byte) (*vm.Chunk, error) {
	w, err := UnmarshalChunk(data)
	if err != nil {
		return nil, err
	}
	return w.ToVM()
}

// Hash returns the sha256 of the canonical encoding of c.
func Hash(c *vm.Chunk) ([32]byte, error) {
	data, err := Encode(c)
	if err != nil {
		return [32]byte{}, err
	}
	return sha256.Sum256(data), nil
}

// FromVM converts a compiled chunk to its encoded form. Tables and
// functions never appear in a constant pool and are rejected.
func FromVM(c *vm.Chunk) (*Chunk, error) {
	w := &Chunk{
		Version:   FormatVersion,
		Name:      c.Name,
		Constants: make([]Constant, len(c.Constants)),
		Code:      make([]Instruction, len(c.Code)),
	}
	for i, k := range c.Constants {
		kc, err := fromValue(k)
		if err != nil {
			return nil, fmt.Errorf("dist: constant %d: %w", i, err)
		}
		w.Constants[i] = kc
	}
	for i, in := range c.Code {
		w.Code[i] = Instruction{Op: uint8(in.Op), A: in.A, B: in.B, C: in.C, Int: in.Int}
	}
	for _, l := range c.Locals {
		w.Locals = append(w.Locals, Local{Name: l.Name, Slot: l.Slot, Line: l.Line, Column: l.Column})
	}
	return w, nil
}

// ToVM converts the encoded form back into an executable chunk.
func (w *Chunk) ToVM() (*vm.Chunk, error) {
	c := vm.NewChunk(w.Name)
	c.Constants = make([]vm.Value, len(w.Constants))
	for i, kc := range w.Constants {
		v, err := kc.toValue()
		if err != nil {
			return nil, fmt.Errorf("dist: constant %d: %w", i, err)
		}
		c.Constants[i] = v
	}
	c.Code = make([]vm.Instruction, len(w.Code))
	for i, in := range w.Code {
		c.Code[i] = vm.Instruction{Op: vm.Opcode(in.Op), A: in.A, B: in.B, C: in.C, Int: in.Int}
	}
	for _, l := range w.Locals {
		c.Locals = append(c.Locals, vm.LocalInfo{Name: l.Name, Slot: l.Slot, Line: l.Line, Column: l.Column})
	}
	return c, nil
}

func fromValue(v vm.Value) (Constant, error) {
	switch v.Kind() {
	case vm.KindNil:
		return Constant{Kind: ConstNil}, nil
	case vm.KindBoolean:
		return Constant{Kind: ConstBoolean, Bool: v.Bool()}, nil
	case vm.KindInteger:
		return Constant{Kind: ConstInteger, Int: v.Int()}, nil
	case vm.KindFloat:
		return Constant{Kind: ConstFloat, FloatBits: math.Float64bits(v.Float())}, nil
	case vm.KindString:
		return Constant{Kind: ConstString, Bytes: append([]byte(nil), v.Bytes()...)}, nil
	}
	return Constant{}, fmt.Errorf("cannot encode %s value", v.Kind())
}

func (k Constant) toValue() (vm.Value, error) {
	switch k.Kind {
	case ConstNil:
		return vm.Nil, nil
	case ConstBoolean:
		return vm.FromBool(k.Bool), nil
	case ConstInteger:
		return vm.FromInt(k.Int), nil
	case ConstFloat:
		return vm.FromFloat(math.Float64frombits(k.FloatBits)), nil
	case ConstString:
		return vm.FromBytes(k.Bytes), nil
	}
	return vm.Nil, fmt.Errorf("unknown constant kind %d", k.Kind)
}
