package vm

import (
	"github.com/tliron/commonlog"
)

// Execute runs chunk from its first instruction to its last. The first
// runtime error aborts execution and is returned as an *Error.
func (vm *VM) Execute(chunk *Chunk) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(*Error); ok {
				err = e
				return
			}
			panic(r)
		}
	}()

	vm.stack = vm.stack[:0]
	trace := log.AllowLevel(commonlog.Debug)
	log.Infof("executing %s (%d instructions)", chunk.Name, len(chunk.Code))

	for pc, in := range chunk.Code {
		if trace {
			log.Debugf("%04d %s", pc, in)
		}
		vm.step(chunk, in)
	}
	return nil
}

// step executes a single instruction.
func (vm *VM) step(chunk *Chunk, in Instruction) {
	k := chunk.Constants

	switch in.Op {
	// Loads
	case OpLoadNil:
		vm.setStack(in.A, Nil)
	case OpLoadBool:
		vm.setStack(in.A, FromBool(in.B != 0))
	case OpLoadInt:
		vm.setStack(in.A, FromInt(in.Int))
	case OpLoadConst:
		vm.setStack(in.A, k[in.B])
	case OpMove:
		vm.setStack(in.A, vm.stack[in.B])

	// Globals
	case OpGetGlobal:
		vm.setStack(in.A, vm.globals[globalName(k[in.B])])
	case OpSetGlobal:
		vm.globals[globalName(k[in.A])] = vm.stack[in.B]
	case OpSetGlobalConst:
		vm.globals[globalName(k[in.A])] = k[in.B]
	case OpSetGlobalGlobal:
		vm.globals[globalName(k[in.A])] = vm.globals[globalName(k[in.B])]

	// Tables
	case OpNewTable:
		vm.setStack(in.A, FromTable(NewTable(int(in.B), int(in.C))))
	case OpSetTable:
		indexTarget(vm.stack[in.A]).Set(vm.stack[in.B], vm.stack[in.C])
	case OpSetField:
		indexTarget(vm.stack[in.A]).Set(k[in.B], vm.stack[in.C])
	case OpSetInt:
		indexTarget(vm.stack[in.A]).Set(FromInt(int64(in.B)), vm.stack[in.C])
	case OpSetTableConst:
		indexTarget(vm.stack[in.A]).Set(vm.stack[in.B], k[in.C])
	case OpSetFieldConst:
		indexTarget(vm.stack[in.A]).Set(k[in.B], k[in.C])
	case OpSetIntConst:
		indexTarget(vm.stack[in.A]).Set(FromInt(int64(in.B)), k[in.C])
	case OpSetList:
		vm.setList(int(in.A), int(in.B))
	case OpGetTable:
		vm.setStack(in.A, indexTarget(vm.stack[in.B]).Get(vm.stack[in.C]))
	case OpGetField:
		vm.setStack(in.A, indexTarget(vm.stack[in.B]).Get(k[in.C]))
	case OpGetInt:
		vm.setStack(in.A, indexTarget(vm.stack[in.B]).Get(FromInt(int64(in.C))))

	// Calls
	case OpCall:
		vm.call(int(in.A), int(in.B))

	default:
		runtimeError("unknown opcode %s", in.Op)
	}
}

// setStack writes slot i. Writing at the current length appends; writing
// past it means a slot was skipped.
func (vm *VM) setStack(i uint8, v Value) {
	switch n := len(vm.stack); {
	case int(i) == n:
		vm.stack = append(vm.stack, v)
	case int(i) < n:
		vm.stack[i] = v
	default:
		runtimeError("stack slot %d written before slot %d", i, n)
	}
}

func (vm *VM) setList(t, n int) {
	end := t + 1 + n
	if end > len(vm.stack) {
		runtimeError("SETLIST of %d values at slot %d overruns stack of %d", n, t, len(vm.stack))
	}
	indexTarget(vm.stack[t]).Append(vm.stack[t+1 : end]...)
	vm.stack = vm.stack[:t+1]
}

func (vm *VM) call(fi, nargs int) {
	fv := vm.stack[fi]
	if fv.Kind() != KindFunction {
		runtimeError("attempt to call a %s value", fv.TypeName())
	}
	fn := fv.Native()
	vm.funcIndex, vm.argCount = fi, nargs
	nret := fn.Fn(vm)
	log.Debugf("call %s: %d args, %d results", fn.Name, nargs, nret)
}

func indexTarget(v Value) *Table {
	if v.Kind() != KindTable {
		runtimeError("attempt to index a %s value", v.TypeName())
	}
	return v.Table()
}

func globalName(k Value) string {
	if !k.IsString() {
		runtimeError("global name must be a string, got %s", k.TypeName())
	}
	return k.Text()
}
