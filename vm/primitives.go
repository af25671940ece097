package vm

import (
	"bufio"
)

// Primitive is the signature of a host-implemented function. It reads its
// arguments through the VM, pushes any results itself and returns how many
// it pushed.
type Primitive func(vm *VM) int

// NativeFunction is a callable Value backed by Go code.
type NativeFunction struct {
	Name string
	Fn   Primitive
}

func (vm *VM) registerPrimitives() {
	vm.Register("print", primPrint)
}

// primPrint writes its arguments separated by tabs, then a newline.
func primPrint(vm *VM) int {
	w := bufio.NewWriter(vm.Out())
	for i := 0; i < vm.ArgCount(); i++ {
		if i > 0 {
			w.WriteByte('\t')
		}
		arg := vm.Arg(i)
		if arg.IsString() {
			w.Write(arg.Bytes())
		} else {
			w.WriteString(arg.String())
		}
	}
	w.WriteByte('\n')
	if err := w.Flush(); err != nil {
		runtimeError("print: %v", err)
	}
	return 0
}
