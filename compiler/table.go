package compiler

import (
	"math"

	"github.com/chazu/lunette/vm"
)

// FieldsPerFlush is the number of array entries buffered on the stack
// before they are moved into the table with one SETLIST.
const FieldsPerFlush = 50

// tableConstructor parses `{ fields }`.
func (fs *funcState) tableConstructor() ExpDesc {
	open := fs.expect(TokenLBrace)
	return fs.tableBody(open)
}

// tableBody compiles the fields of a constructor whose '{' has been
// consumed. The table lives in a fresh temporary slot t:
//
//   - map entries are stored as soon as they are parsed and release their
//     temporaries
//   - array entries accumulate in t+1, t+2, ... and are flushed with
//     SETLIST every FieldsPerFlush entries and once more at the end
//
// NEWTABLE is emitted first and patched with the size hints afterwards.
func (fs *funcState) tableBody(open Token) ExpDesc {
	t := fs.allocSlot()
	pc := fs.emit(vm.ABC(vm.OpNewTable, t, 0, 0))

	narray, nmap, pending := 0, 0, 0
	for !fs.check(TokenRBrace) {
		base := fs.sp
		entry := fs.peek()

		switch entry.Type {
		case TokenLBracket:
			fs.next()
			key := fs.expr()
			fs.expect(TokenRBracket)
			fs.expect(TokenAssign)
			fs.mapEntry(t, key, entry, base)
			nmap++

		case TokenName:
			fs.next()
			if fs.check(TokenAssign) {
				fs.mapEntry(t, stringExp(entry.Literal), entry, base)
				nmap++
				break
			}
			e, called := fs.suffixes(fs.singleVar(entry.Literal), false)
			if called {
				fs.fail(vm.ErrSyntax, entry.Pos, "function call used as a value")
			}
			fs.dischargeNext(e)
			narray++
			pending++

		default:
			fs.dischargeNext(fs.expr())
			narray++
			pending++
		}

		if pending == FieldsPerFlush {
			fs.emit(vm.ABC(vm.OpSetList, t, uint8(pending), 0))
			fs.sp = int(t) + 1
			pending = 0
		}

		if !fs.check(TokenComma) && !fs.check(TokenSemicolon) {
			fs.expect(TokenRBrace)
			break
		}
	}

	if pending > 0 {
		fs.emit(vm.ABC(vm.OpSetList, t, uint8(pending), 0))
		fs.sp = int(t) + 1
	}

	fs.chunk.Code[pc].B = uint8(min(narray, 255))
	fs.chunk.Code[pc].C = uint8(min(nmap, 255))
	log.Debugf("table at slot %d opened %s: %d array, %d map entries", t, open.Pos, narray, nmap)
	return localExp(int(t))
}

// mapEntry stores value under key in table t and rolls the stack back to
// base. Nil and NaN keys are rejected.
func (fs *funcState) mapEntry(t uint8, key ExpDesc, at Token, base int) {
	switch {
	case key.Kind == ExpNil:
		fs.fail(vm.ErrCompile, at.Pos, "table index is nil")
	case key.Kind == ExpFloat && math.IsNaN(key.Float):
		fs.fail(vm.ErrCompile, at.Pos, "table index is NaN")
	}

	var target ExpDesc
	switch {
	case key.Kind == ExpString:
		target = indexFieldExp(int(t), fs.nameConstant(key.Str))
	case key.Kind == ExpInteger && key.Int >= 0 && key.Int <= 255:
		target = indexIntExp(int(t), int(key.Int))
	default:
		target = indexExp(int(t), int(fs.dischargeTop(key)))
	}

	val, isConst := fs.dischargeConstOrStack(fs.expr())
	fs.emit(vm.ABC(setOp(target.Kind, isConst), t, uint8(target.Key), val))
	fs.sp = base
}
