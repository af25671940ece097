package compiler

import (
	"fmt"
	"io"
	"strings"

	"github.com/chazu/lunette/vm"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("lunette.compiler")

// MaxSlots is the number of stack slots addressable by an 8-bit operand.
const MaxSlots = 256

// ---------------------------------------------------------------------------
// Compilation state
// ---------------------------------------------------------------------------

type localVar struct {
	name string
	slot int
}

// funcState is the state of one compilation. It is threaded through every
// parsing method; there is no package-level compiler state.
type funcState struct {
	chunk  *vm.Chunk
	lex    *Lexer
	locals []localVar
	sp     int   // next free stack slot
	last   Token // most recently consumed token, for error positions
}

func newFuncState(lex *Lexer, name string) *funcState {
	return &funcState{
		chunk: vm.NewChunk(name),
		lex:   lex,
	}
}

// ---------------------------------------------------------------------------
// Entry points
// ---------------------------------------------------------------------------

// Compile reads a whole program from r and compiles it. Compilation stops
// at the first error, which is returned as a *vm.Error; no partial chunk is
// returned.
func Compile(r io.Reader, name string) (chunk *vm.Chunk, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			if e, ok := rec.(*vm.Error); ok {
				chunk, err = nil, e
				return
			}
			panic(rec)
		}
	}()

	fs := newFuncState(NewLexer(r), name)
	fs.block()
	log.Infof("compiled %s: %d constants, %d instructions, %d locals",
		name, len(fs.chunk.Constants), len(fs.chunk.Code), len(fs.locals))
	if log.AllowLevel(commonlog.Debug) {
		log.Debugf("\n%s", fs.chunk.Disassemble())
	}
	return fs.chunk, nil
}

// CompileString compiles an in-memory program.
func CompileString(source, name string) (*vm.Chunk, error) {
	return Compile(strings.NewReader(source), name)
}

// ---------------------------------------------------------------------------
// Token handling and errors
// ---------------------------------------------------------------------------

func (fs *funcState) peek() Token {
	tok := fs.lex.Peek()
	if tok.Type == TokenError {
		fs.fail(vm.ErrLexical, tok.Pos, "%s", tok.Literal)
	}
	return tok
}

func (fs *funcState) next() Token {
	tok := fs.peek()
	fs.lex.Next()
	fs.last = tok
	return tok
}

// check consumes the next token if it has the given type.
func (fs *funcState) check(typ TokenType) bool {
	if fs.peek().Type == typ {
		fs.next()
		return true
	}
	return false
}

func (fs *funcState) expect(typ TokenType) Token {
	tok := fs.peek()
	if tok.Type != typ {
		fs.fail(vm.ErrSyntax, tok.Pos, "expected '%s' near %s", typ, describe(tok))
	}
	return fs.next()
}

func (fs *funcState) unexpected(tok Token) {
	fs.fail(vm.ErrSyntax, tok.Pos, "unexpected %s", describe(tok))
}

// fail aborts compilation. Recovered by Compile.
func (fs *funcState) fail(typ vm.ErrorType, pos Position, format string, args ...interface{}) {
	panic(vm.NewErrorAt(typ, pos.Line, pos.Column, format, args...))
}

func (fs *funcState) compileErrorf(format string, args ...interface{}) {
	fs.fail(vm.ErrCompile, fs.last.Pos, format, args...)
}

func describe(tok Token) string {
	switch tok.Type {
	case TokenEOF:
		return "<eof>"
	case TokenName, TokenInteger, TokenFloat:
		return fmt.Sprintf("'%s'", tok.Literal)
	case TokenString:
		return fmt.Sprintf("string %q", tok.Literal)
	}
	return fmt.Sprintf("'%s'", tok.Type)
}

// ---------------------------------------------------------------------------
// Code emission, slots and constants
// ---------------------------------------------------------------------------

func (fs *funcState) emit(in vm.Instruction) int {
	return fs.chunk.Emit(in)
}

// constant interns v and returns its pool index.
func (fs *funcState) constant(v vm.Value) uint8 {
	k, err := fs.chunk.AddConstant(v)
	if err != nil {
		fs.compileErrorf("too many constants (limit %d)", vm.MaxConstants)
	}
	return uint8(k)
}

func (fs *funcState) nameConstant(name string) int {
	return int(fs.constant(vm.FromString(name)))
}

// allocSlot reserves the next free stack slot.
func (fs *funcState) allocSlot() uint8 {
	if fs.sp >= MaxSlots {
		fs.compileErrorf("too many stack slots (limit %d)", MaxSlots)
	}
	slot := fs.sp
	fs.sp++
	return uint8(slot)
}

// isTemp reports whether slot holds a temporary rather than a named local.
func (fs *funcState) isTemp(slot int) bool {
	return slot >= len(fs.locals)
}

// freeExp releases the temporaries e occupies at the top of the stack so
// the value can be discharged into them.
func (fs *funcState) freeExp(e ExpDesc) {
	free := func(slot int) {
		if fs.isTemp(slot) && slot == fs.sp-1 {
			fs.sp--
		}
	}
	switch e.Kind {
	case ExpLocal:
		free(e.Slot)
	case ExpIndex:
		free(e.Key)
		free(e.Slot)
	case ExpIndexField, ExpIndexInt:
		free(e.Slot)
	}
}

// ---------------------------------------------------------------------------
// Discharge
// ---------------------------------------------------------------------------

// discharge emits the instruction that places e in dst.
func (fs *funcState) discharge(e ExpDesc, dst uint8) {
	code, err := planDischarge(e, dst, fs.chunk)
	if err != nil {
		fs.compileErrorf("too many constants (limit %d)", vm.MaxConstants)
	}
	for _, in := range code {
		fs.emit(in)
	}
}

// dischargeNext places e in a freshly allocated slot, reusing the
// temporaries e itself occupied at the top of the stack.
func (fs *funcState) dischargeNext(e ExpDesc) uint8 {
	fs.freeExp(e)
	dst := fs.allocSlot()
	fs.discharge(e, dst)
	return dst
}

// dischargeTop returns a slot holding e: its own slot if e is already a
// local, otherwise the next free one.
func (fs *funcState) dischargeTop(e ExpDesc) uint8 {
	if e.Kind == ExpLocal {
		return uint8(e.Slot)
	}
	return fs.dischargeNext(e)
}

// dischargeConstOrStack returns a constant index for a literal, or a slot
// holding any other expression. isConst selects between an instruction
// and its constant-sourced variant.
func (fs *funcState) dischargeConstOrStack(e ExpDesc) (operand uint8, isConst bool) {
	if e.IsLiteral() {
		return fs.constant(e.Value()), true
	}
	return fs.dischargeTop(e), false
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

// block compiles statements until end of input.
func (fs *funcState) block() {
	for {
		tok := fs.peek()
		switch tok.Type {
		case TokenEOF:
			return
		case TokenSemicolon:
			fs.next()
		case TokenLocal:
			fs.next()
			fs.localStat()
		case TokenName:
			fs.exprStat()
		case TokenLBrace:
			// A constructor that is never bound is still built.
			fs.tableConstructor()
		default:
			fs.unexpected(tok)
		}
		fs.sp = len(fs.locals)
	}
}

// localStat compiles `local NAME [= exp]`. The new local is only visible
// after its initializer, so `local x = x` reads the outer x.
func (fs *funcState) localStat() {
	name := fs.expect(TokenName)
	slot := len(fs.locals)
	if slot >= MaxSlots {
		fs.compileErrorf("too many local variables (limit %d)", MaxSlots)
	}

	if fs.check(TokenAssign) {
		e := fs.expr()
		fs.discharge(e, uint8(slot))
	} else {
		fs.emit(vm.LoadNil(uint8(slot)))
	}

	fs.locals = append(fs.locals, localVar{name: name.Literal, slot: slot})
	fs.chunk.Locals = append(fs.chunk.Locals, vm.LocalInfo{
		Name:   name.Literal,
		Slot:   slot,
		Line:   name.Pos.Line,
		Column: name.Pos.Column,
	})
	fs.sp = slot + 1
}

// exprStat compiles an assignment or a call starting with a name.
func (fs *funcState) exprStat() {
	target, called := fs.prefixExp(true)
	if called {
		return
	}
	if !fs.check(TokenAssign) {
		fs.unexpected(fs.peek())
	}
	fs.assign(target)
}

// assign stores the next expression into target.
func (fs *funcState) assign(target ExpDesc) {
	switch target.Kind {
	case ExpLocal:
		fs.discharge(fs.expr(), uint8(target.Slot))

	case ExpGlobal:
		fs.assignGlobal(uint8(target.Key), fs.expr())

	case ExpIndex, ExpIndexField, ExpIndexInt:
		val, isConst := fs.dischargeConstOrStack(fs.expr())
		fs.emit(vm.ABC(setOp(target.Kind, isConst), uint8(target.Slot), uint8(target.Key), val))

	default:
		fs.compileErrorf("cannot assign to %s expression", target.Kind)
	}
}

// assignGlobal picks the global store variant from the shape of the value.
func (fs *funcState) assignGlobal(name uint8, e ExpDesc) {
	switch {
	case e.IsLiteral():
		fs.emit(vm.ABC(vm.OpSetGlobalConst, name, fs.constant(e.Value()), 0))
	case e.Kind == ExpGlobal:
		fs.emit(vm.ABC(vm.OpSetGlobalGlobal, name, uint8(e.Key), 0))
	default:
		fs.emit(vm.ABC(vm.OpSetGlobal, name, fs.dischargeTop(e), 0))
	}
}

// setOp returns the table store for an index form, stack- or
// constant-sourced.
func setOp(kind ExpKind, isConst bool) vm.Opcode {
	switch kind {
	case ExpIndexField:
		if isConst {
			return vm.OpSetFieldConst
		}
		return vm.OpSetField
	case ExpIndexInt:
		if isConst {
			return vm.OpSetIntConst
		}
		return vm.OpSetInt
	}
	if isConst {
		return vm.OpSetTableConst
	}
	return vm.OpSetTable
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

// expr parses one expression into a descriptor.
func (fs *funcState) expr() ExpDesc {
	tok := fs.peek()
	switch tok.Type {
	case TokenNil:
		fs.next()
		return nilExp()
	case TokenTrue:
		fs.next()
		return boolExp(true)
	case TokenFalse:
		fs.next()
		return boolExp(false)
	case TokenInteger:
		fs.next()
		return intExp(tok.Int)
	case TokenFloat:
		fs.next()
		return floatExp(tok.Float)
	case TokenString:
		fs.next()
		return stringExp(tok.Literal)
	case TokenLBrace:
		return fs.tableConstructor()
	case TokenSub:
		fs.next()
		return fs.negate(tok, fs.expr())
	case TokenName, TokenLParen:
		e, called := fs.prefixExp(false)
		if called {
			fs.fail(vm.ErrSyntax, tok.Pos, "function call used as a value")
		}
		return e
	}
	fs.unexpected(tok)
	return nilExp()
}

// negate folds unary minus into a numeric literal.
func (fs *funcState) negate(op Token, e ExpDesc) ExpDesc {
	switch e.Kind {
	case ExpInteger:
		return intExp(-e.Int)
	case ExpFloat:
		return floatExp(-e.Float)
	}
	fs.fail(vm.ErrSyntax, op.Pos, "unary minus applies only to numeric literals")
	return e
}

// prefixExp parses a name or parenthesised expression followed by index
// suffixes. When allowCall is set a call suffix ends the expression: the
// call is emitted and called is true.
func (fs *funcState) prefixExp(allowCall bool) (ExpDesc, bool) {
	var e ExpDesc
	tok := fs.next()
	switch tok.Type {
	case TokenName:
		e = fs.singleVar(tok.Literal)
	case TokenLParen:
		e = fs.expr()
		fs.expect(TokenRParen)
	default:
		fs.unexpected(tok)
	}
	return fs.suffixes(e, allowCall)
}

// suffixes applies `.NAME`, `[exp]` and call suffixes to e.
func (fs *funcState) suffixes(e ExpDesc, allowCall bool) (ExpDesc, bool) {
	for {
		switch fs.peek().Type {
		case TokenDot:
			fs.next()
			t := fs.dischargeTop(e)
			name := fs.expect(TokenName)
			e = indexFieldExp(int(t), fs.nameConstant(name.Literal))

		case TokenLBracket:
			fs.next()
			t := fs.dischargeTop(e)
			e = fs.indexKey(int(t), fs.expr())
			fs.expect(TokenRBracket)

		case TokenLParen, TokenString, TokenLBrace:
			if !allowCall {
				return e, true
			}
			fs.call(e)
			return e, true

		default:
			return e, false
		}
	}
}

// indexKey builds the index descriptor for t[key], using the inline forms
// for string and small integer keys.
func (fs *funcState) indexKey(t int, key ExpDesc) ExpDesc {
	switch {
	case key.Kind == ExpString:
		return indexFieldExp(t, fs.nameConstant(key.Str))
	case key.Kind == ExpInteger && key.Int >= 0 && key.Int <= 255:
		return indexIntExp(t, int(key.Int))
	}
	return indexExp(t, int(fs.dischargeTop(key)))
}

// singleVar resolves a name to the most recent local, else a global.
func (fs *funcState) singleVar(name string) ExpDesc {
	for i := len(fs.locals) - 1; i >= 0; i-- {
		if fs.locals[i].name == name {
			return localExp(fs.locals[i].slot)
		}
	}
	return globalExp(fs.nameConstant(name))
}

// call compiles the arguments of a call to fn and emits CALL. The function
// is copied to a fresh slot and the arguments follow it.
func (fs *funcState) call(fn ExpDesc) {
	fi := fs.dischargeNext(fn)
	nargs := 0

	tok := fs.next()
	switch tok.Type {
	case TokenString:
		fs.dischargeNext(stringExp(tok.Literal))
		nargs = 1

	case TokenLBrace:
		fs.dischargeNext(fs.tableBody(tok))
		nargs = 1

	case TokenLParen:
		if !fs.check(TokenRParen) {
			for {
				fs.dischargeNext(fs.expr())
				nargs++
				if !fs.check(TokenComma) {
					break
				}
			}
			fs.expect(TokenRParen)
		}
	}

	if nargs >= MaxSlots {
		fs.compileErrorf("too many arguments (limit %d)", MaxSlots-1)
	}
	fs.emit(vm.ABC(vm.OpCall, fi, uint8(nargs), 0))
	fs.sp = int(fi)
}
