package vm

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// MaxConstants is the number of constants addressable by an 8-bit operand.
const MaxConstants = 256

// LocalInfo records where a local variable was declared and which slot it
// occupies. Used by the disassembler and the language server.
type LocalInfo struct {
	Name   string
	Slot   int
	Line   int
	Column int
}

// Chunk is a compiled program: a constant pool and a straight-line
// instruction sequence. Both are append-only during compilation and
// read-only during execution.
type Chunk struct {
	Name      string
	Constants []Value
	Code      []Instruction
	Locals    []LocalInfo
}

// NewChunk creates an empty chunk.
func NewChunk(name string) *Chunk {
	return &Chunk{Name: name}
}

// AddConstant returns the pool index of v, adding it if no equal constant
// exists yet. Strings are compared by content, so equal strings share one
// index regardless of size class. Floats are compared by bit pattern, so
// 0.0 and -0.0 keep separate entries.
func (c *Chunk) AddConstant(v Value) (int, error) {
	for i, k := range c.Constants {
		if sameConstant(k, v) {
			return i, nil
		}
	}
	if len(c.Constants) >= MaxConstants {
		return 0, NewError(ErrCompile, "too many constants (limit %d)", MaxConstants)
	}
	c.Constants = append(c.Constants, v)
	return len(c.Constants) - 1, nil
}

func sameConstant(a, b Value) bool {
	if a.kind == KindFloat && b.kind == KindFloat {
		return a.bits == b.bits
	}
	return a.Equal(b)
}

// Emit appends an instruction and returns its index.
func (c *Chunk) Emit(in Instruction) int {
	c.Code = append(c.Code, in)
	return len(c.Code) - 1
}

// Disassemble returns a human-readable listing of the constant pool and the
// instruction sequence.
func (c *Chunk) Disassemble() string {
	var sb strings.Builder

	if c.Name != "" {
		sb.WriteString(fmt.Sprintf("; === %s ===\n", c.Name))
	}

	sb.WriteString(fmt.Sprintf("; Constants (%d):\n", len(c.Constants)))
	for i, k := range c.Constants {
		sb.WriteString(fmt.Sprintf(";   [%3d] %s\n", i, displayConstant(k)))
	}

	if len(c.Locals) > 0 {
		sb.WriteString("; Locals:\n")
		for _, l := range c.Locals {
			sb.WriteString(fmt.Sprintf(";   %-12s slot=%d line %d:%d\n", l.Name, l.Slot, l.Line, l.Column))
		}
	}

	sb.WriteString("; Code:\n")
	for pc, in := range c.Code {
		line := in.String()
		if note := c.annotate(in); note != "" {
			line = fmt.Sprintf("%-30s ; %s", line, note)
		}
		sb.WriteString(fmt.Sprintf("%04d  %s\n", pc, line))
	}
	return sb.String()
}

// annotate renders the constants referenced by an instruction.
func (c *Chunk) annotate(in Instruction) string {
	info := in.Op.Info()
	var notes []string
	for i, kind := range info.Operands {
		if kind != OperandConst {
			continue
		}
		idx := int(in.operand(i))
		if idx < len(c.Constants) {
			notes = append(notes, displayConstant(c.Constants[idx]))
		} else {
			notes = append(notes, fmt.Sprintf("<bad constant %d>", idx))
		}
	}
	return strings.Join(notes, " ")
}

func displayConstant(v Value) string {
	if v.IsString() {
		s := v.Text()
		if len(s) > 40 {
			cut := 37
			for cut > 0 && !utf8.RuneStart(s[cut]) {
				cut--
			}
			s = s[:cut] + "..."
		}
		return fmt.Sprintf("%q", s)
	}
	return v.String()
}
