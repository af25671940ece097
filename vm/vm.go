package vm

import (
	"io"
	"os"
	"sort"

	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("lunette.vm")

// VM executes compiled chunks against a global table and a value stack.
// A VM is not safe for concurrent use.
type VM struct {
	globals map[string]Value
	stack   []Value

	funcIndex int // slot of the function in the current call
	argCount  int // arguments passed to the current call

	out io.Writer
}

// Option configures a VM.
type Option func(*VM)

// WithOutput sets the writer natives such as print write to.
func WithOutput(w io.Writer) Option {
	return func(vm *VM) { vm.out = w }
}

// WithGlobals preloads globals.
func WithGlobals(globals map[string]Value) Option {
	return func(vm *VM) {
		for name, v := range globals {
			vm.globals[name] = v
		}
	}
}

// NewVM creates a VM with the standard natives registered.
func NewVM(opts ...Option) *VM {
	vm := &VM{
		globals: make(map[string]Value),
		out:     os.Stdout,
	}
	vm.registerPrimitives()
	for _, opt := range opts {
		opt(vm)
	}
	return vm
}

// Register installs a native function as a global.
func (vm *VM) Register(name string, fn Primitive) {
	vm.globals[name] = FromNative(&NativeFunction{Name: name, Fn: fn})
}

// ---------------------------------------------------------------------------
// Native calling convention
// ---------------------------------------------------------------------------

// FuncIndex returns the stack slot holding the function being called.
// Arguments start at FuncIndex()+1.
func (vm *VM) FuncIndex() int { return vm.funcIndex }

// ArgCount returns the number of arguments passed to the current call.
func (vm *VM) ArgCount() int { return vm.argCount }

// Arg returns argument i (0-based) of the current call, or Nil if the call
// passed fewer arguments.
func (vm *VM) Arg(i int) Value {
	if i < 0 || i >= vm.argCount {
		return Nil
	}
	idx := vm.funcIndex + 1 + i
	if idx >= len(vm.stack) {
		return Nil
	}
	return vm.stack[idx]
}

// Push appends v to the stack.
func (vm *VM) Push(v Value) {
	vm.stack = append(vm.stack, v)
}

// GetGlobal returns the global named name, or Nil.
func (vm *VM) GetGlobal(name string) Value {
	return vm.globals[name]
}

// SetGlobal assigns a global.
func (vm *VM) SetGlobal(name string, v Value) {
	vm.globals[name] = v
}

// GlobalNames returns the names of all defined globals in sorted order.
func (vm *VM) GlobalNames() []string {
	names := make([]string, 0, len(vm.globals))
	for name := range vm.globals {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Out returns the writer natives print to.
func (vm *VM) Out() io.Writer { return vm.out }

// Stack returns a copy of the value stack.
func (vm *VM) Stack() []Value {
	return append([]Value(nil), vm.stack...)
}
