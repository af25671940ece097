package compiler

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/chazu/lunette/vm"
)

// compileAndRun compiles src, runs it on a fresh VM and returns what it
// printed along with the VM for inspecting globals.
func compileAndRun(t *testing.T, src string) (string, *vm.VM) {
	t.Helper()
	chunk, err := CompileString(src, "test.lua")
	if err != nil {
		t.Fatalf("compile %q: %v", src, err)
	}
	var out bytes.Buffer
	machine := vm.NewVM(vm.WithOutput(&out))
	if err := machine.Execute(chunk); err != nil {
		t.Fatalf("execute %q: %v\n%s", src, err, chunk.Disassemble())
	}
	return out.String(), machine
}

func mustCompile(t *testing.T, src string) *vm.Chunk {
	t.Helper()
	chunk, err := CompileString(src, "test.lua")
	if err != nil {
		t.Fatalf("compile %q: %v", src, err)
	}
	return chunk
}

func expectCode(t *testing.T, chunk *vm.Chunk, want ...vm.Instruction) {
	t.Helper()
	if len(chunk.Code) != len(want) {
		t.Fatalf("got %d instructions, want %d:\n%s", len(chunk.Code), len(want), chunk.Disassemble())
	}
	for i := range want {
		if chunk.Code[i] != want[i] {
			t.Errorf("instruction %d = %v, want %v", i, chunk.Code[i], want[i])
		}
	}
}

func expectCompileError(t *testing.T, src string, typ vm.ErrorType, fragment string) *vm.Error {
	t.Helper()
	chunk, err := CompileString(src, "bad.lua")
	if chunk != nil {
		t.Errorf("%q: got a chunk alongside an error", src)
	}
	var verr *vm.Error
	if !errors.As(err, &verr) {
		t.Fatalf("%q: err = %v, want *vm.Error", src, err)
	}
	if verr.Type != typ {
		t.Errorf("%q: error type = %s, want %s", src, verr.Type, typ)
	}
	if !strings.Contains(verr.Message, fragment) {
		t.Errorf("%q: message = %q, want it to contain %q", src, verr.Message, fragment)
	}
	return verr
}

// ---------------------------------------------------------------------------
// Scenarios
// ---------------------------------------------------------------------------

func TestCompilePrintHello(t *testing.T) {
	chunk := mustCompile(t, `print("hello")`)
	expectCode(t, chunk,
		vm.GetGlobal(0, 0),
		vm.LoadConst(1, 1),
		vm.ABC(vm.OpCall, 0, 1, 0),
	)
	if chunk.Constants[0].Text() != "print" || chunk.Constants[1].Text() != "hello" {
		t.Errorf("constants = %v", chunk.Constants)
	}

	out, _ := compileAndRun(t, `print("hello")`)
	if out != "hello\n" {
		t.Errorf("output = %q, want %q", out, "hello\n")
	}
}

func TestCompileLocalMove(t *testing.T) {
	src := "local a = 10; local b = a; print(b)"
	chunk := mustCompile(t, src)
	expectCode(t, chunk,
		vm.LoadInt(0, 10),
		vm.Move(1, 0),
		vm.GetGlobal(2, 0),
		vm.Move(3, 1),
		vm.ABC(vm.OpCall, 2, 1, 0),
	)

	out, _ := compileAndRun(t, src)
	if out != "10\n" {
		t.Errorf("output = %q, want %q", out, "10\n")
	}
}

func TestCompileGlobalAssignment(t *testing.T) {
	src := "x = 10\ny = x"
	chunk := mustCompile(t, src)
	expectCode(t, chunk,
		vm.ABC(vm.OpSetGlobalConst, 0, 1, 0),
		vm.ABC(vm.OpSetGlobalGlobal, 2, 0, 0),
	)

	_, machine := compileAndRun(t, src)
	if got := machine.GetGlobal("y"); !got.Equal(vm.FromInt(10)) {
		t.Errorf("y = %v, want 10", got)
	}
}

func TestCompileGlobalFromLocal(t *testing.T) {
	chunk := mustCompile(t, "local a = 1; g = a")
	expectCode(t, chunk,
		vm.LoadInt(0, 1),
		vm.ABC(vm.OpSetGlobal, 0, 0, 0),
	)
}

func TestCompileShadowing(t *testing.T) {
	out, _ := compileAndRun(t, "local x = 1; local x = 2; print(x)")
	if out != "2\n" {
		t.Errorf("output = %q, want %q", out, "2\n")
	}
}

func TestCompileLocalSeesOuterBinding(t *testing.T) {
	out, _ := compileAndRun(t, `x = "global"; local x = x; print(x)`)
	if out != "global\n" {
		t.Errorf("output = %q, want %q", out, "global\n")
	}
}

func TestCompileUndefinedGlobalIsNil(t *testing.T) {
	out, _ := compileAndRun(t, "print(undefined)")
	if out != "nil\n" {
		t.Errorf("output = %q, want %q", out, "nil\n")
	}
}

// ---------------------------------------------------------------------------
// Literals and expressions
// ---------------------------------------------------------------------------

func TestCompileLiteralLoads(t *testing.T) {
	chunk := mustCompile(t, `local a = nil; local b = true; local c = 7; local d = 1.5; local e = "s"; local f`)
	expectCode(t, chunk,
		vm.LoadNil(0),
		vm.LoadBool(1, true),
		vm.LoadInt(2, 7),
		vm.LoadConst(3, 0),
		vm.LoadConst(4, 1),
		vm.LoadNil(5),
	)
	if len(chunk.Locals) != 6 || chunk.Locals[5].Name != "f" {
		t.Errorf("Locals = %+v", chunk.Locals)
	}
}

func TestCompileConstantDedup(t *testing.T) {
	chunk := mustCompile(t, `a = "k"; b = "k"; c = 2.5; d = 2.5; e = 2`)
	// a, k, b, c, 2.5, d, e, 2
	if len(chunk.Constants) != 8 {
		t.Errorf("got %d constants, want 8:\n%s", len(chunk.Constants), chunk.Disassemble())
	}
}

func TestCompileUnaryMinus(t *testing.T) {
	out, _ := compileAndRun(t, "print(-5, -2.5, - 0x10)")
	if out != "-5\t-2.5\t-16\n" {
		t.Errorf("output = %q", out)
	}
}

func TestCompileParenthesised(t *testing.T) {
	out, _ := compileAndRun(t, `local a = ("p"); print((a))`)
	if out != "p\n" {
		t.Errorf("output = %q", out)
	}
}

func TestCompileCallForms(t *testing.T) {
	out, _ := compileAndRun(t, "print \"str\"\nprint {}\nprint()\nprint(1, true, nil)")
	lines := strings.Split(out, "\n")
	if lines[0] != "str" {
		t.Errorf("string call printed %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "table: 0x") {
		t.Errorf("table call printed %q", lines[1])
	}
	if lines[2] != "" {
		t.Errorf("empty call printed %q", lines[2])
	}
	if lines[3] != "1\ttrue\tnil" {
		t.Errorf("multi-argument call printed %q", lines[3])
	}
}

func TestCompileStatementSeparators(t *testing.T) {
	out, _ := compileAndRun(t, ";;print(1);\n;print(2)")
	if out != "1\n2\n" {
		t.Errorf("output = %q", out)
	}
}

// ---------------------------------------------------------------------------
// Tables
// ---------------------------------------------------------------------------

func TestCompileTableConstructor(t *testing.T) {
	chunk := mustCompile(t, `local t = { 10, x = "a", [3] = 30, 20, ["y"] = true }`)
	expectCode(t, chunk,
		vm.ABC(vm.OpNewTable, 0, 2, 3),
		vm.LoadInt(1, 10),
		vm.ABC(vm.OpSetFieldConst, 0, 0, 1),
		vm.ABC(vm.OpSetIntConst, 0, 3, 2),
		vm.LoadInt(2, 20),
		vm.ABC(vm.OpSetFieldConst, 0, 3, 4),
		vm.ABC(vm.OpSetList, 0, 2, 0),
	)

	_, machine := compileAndRun(t, `t = { 10, x = "a", [3] = 30, 20, ["y"] = true }`)
	tbl := machine.GetGlobal("t").Table()
	for key, want := range map[vm.Value]vm.Value{
		vm.FromInt(1):      vm.FromInt(10),
		vm.FromInt(2):      vm.FromInt(20),
		vm.FromInt(3):      vm.FromInt(30),
		vm.FromString("x"): vm.FromString("a"),
		vm.FromString("y"): vm.FromBool(true),
	} {
		if got := tbl.Get(key); !got.Equal(want) {
			t.Errorf("t[%#v] = %#v, want %#v", key, got, want)
		}
	}
}

func TestCompileTableFlushBoundaries(t *testing.T) {
	for _, n := range []int{0, 1, 49, 50, 51, 99, 100, 101, 300} {
		t.Run(fmt.Sprintf("%d entries", n), func(t *testing.T) {
			items := make([]string, n)
			for i := range items {
				items[i] = fmt.Sprint(i + 1)
			}
			src := "t = {" + strings.Join(items, ", ") + "}"
			chunk := mustCompile(t, src)

			flushes := 0
			for _, in := range chunk.Code {
				if in.Op == vm.OpSetList {
					flushes++
					if in.B == 0 || in.B > FieldsPerFlush {
						t.Errorf("SETLIST of %d entries", in.B)
					}
				}
			}
			if want := (n + FieldsPerFlush - 1) / FieldsPerFlush; flushes != want {
				t.Errorf("got %d SETLIST, want %d", flushes, want)
			}
			if hint := int(chunk.Code[0].B); hint != min(n, 255) {
				t.Errorf("array hint = %d, want %d", hint, min(n, 255))
			}

			_, machine := compileAndRun(t, src)
			tbl := machine.GetGlobal("t").Table()
			if tbl.ArrayLen() != n || tbl.MapLen() != 0 {
				t.Fatalf("array=%d map=%d, want %d and 0", tbl.ArrayLen(), tbl.MapLen(), n)
			}
			for i, v := range tbl.Array() {
				if v.Int() != int64(i+1) {
					t.Errorf("t[%d] = %v", i+1, v)
				}
			}
		})
	}
}

func TestCompileMapEntriesDoNotDisturbArray(t *testing.T) {
	items := make([]string, 0, 120)
	for i := 1; i <= 60; i++ {
		items = append(items, fmt.Sprint(i), fmt.Sprintf("k%d = %d", i, -i))
	}
	_, machine := compileAndRun(t, "t = {"+strings.Join(items, "; ")+"}")
	tbl := machine.GetGlobal("t").Table()
	if tbl.ArrayLen() != 60 || tbl.MapLen() != 60 {
		t.Fatalf("array=%d map=%d, want 60 and 60", tbl.ArrayLen(), tbl.MapLen())
	}
	if got := tbl.Get(vm.FromInt(60)); got.Int() != 60 {
		t.Errorf("t[60] = %v", got)
	}
	if got := tbl.Get(vm.FromString("k7")); got.Int() != -7 {
		t.Errorf("t.k7 = %v", got)
	}
}

func TestCompileNestedTables(t *testing.T) {
	out, _ := compileAndRun(t, `
		local t = { {1, 2}, inner = { v = "deep" }, 3 }
		print(t[1][2], t.inner.v, t[2])
	`)
	if out != "2\tdeep\t3\n" {
		t.Errorf("output = %q", out)
	}
}

func TestCompileTableEntryFromVariables(t *testing.T) {
	out, _ := compileAndRun(t, `
		local a = "A"
		g = "G"
		local t = { a, g, [a] = g, key = a }
		print(t[1], t[2], t.A, t.key)
	`)
	if out != "A\tG\tG\tA\n" {
		t.Errorf("output = %q", out)
	}
}

func TestCompileTrailingSeparator(t *testing.T) {
	_, machine := compileAndRun(t, "t = {1, 2,}; u = {x = 1;}")
	if n := machine.GetGlobal("t").Table().ArrayLen(); n != 2 {
		t.Errorf("len(t) = %d, want 2", n)
	}
}

func TestCompileBareConstructorStatement(t *testing.T) {
	chunk := mustCompile(t, "{ 1, 2 }\nprint(3)")
	if chunk.Code[0].Op != vm.OpNewTable {
		t.Errorf("first instruction = %v, want NEWTABLE", chunk.Code[0])
	}
	out, _ := compileAndRun(t, "{ 1, 2 }\nprint(3)")
	if out != "3\n" {
		t.Errorf("output = %q", out)
	}
}

func TestCompileIndexAssignment(t *testing.T) {
	out, _ := compileAndRun(t, `
		local t = {}
		local k = "dyn"
		t.name = "n"
		t[1] = 100
		t[k] = k
		t[300] = 3
		t.copy = t.name
		obj = {}
		obj.field = t[1]
		print(t.name, t[1], t.dyn, t[300], t.copy, obj.field)
	`)
	if out != "n\t100\tdyn\t3\tn\t100\n" {
		t.Errorf("output = %q", out)
	}
}

func TestCompileIndexForms(t *testing.T) {
	chunk := mustCompile(t, `local t = {}; local k = 1; t.f = 1; t[2] = 2; t[k] = 3; t[-1] = 4`)
	var ops []vm.Opcode
	for _, in := range chunk.Code[2:] {
		ops = append(ops, in.Op)
	}
	want := []vm.Opcode{vm.OpSetFieldConst, vm.OpSetIntConst, vm.OpSetTableConst, vm.OpLoadInt, vm.OpSetTableConst}
	if len(ops) != len(want) {
		t.Fatalf("ops = %v, want %v", ops, want)
	}
	for i := range want {
		if ops[i] != want[i] {
			t.Errorf("op %d = %s, want %s", i, ops[i], want[i])
		}
	}
}

func TestCompileGlobalTableField(t *testing.T) {
	_, machine := compileAndRun(t, "cfg = { depth = 2 }\ncfg.depth = 3\nd = cfg.depth")
	if got := machine.GetGlobal("d"); got.Int() != 3 {
		t.Errorf("d = %v, want 3", got)
	}
}

func TestCompileTempSlotsReleased(t *testing.T) {
	chunk := mustCompile(t, "a = t.x.y.z")
	highest := uint8(0)
	for _, in := range chunk.Code {
		if in.Op == vm.OpGetGlobal || in.Op == vm.OpGetField {
			highest = max(highest, in.A)
		}
	}
	if highest != 0 {
		t.Errorf("chained field reads used slot %d, want everything in slot 0:\n%s", highest, chunk.Disassemble())
	}
}

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

func TestCompileSyntaxErrors(t *testing.T) {
	tests := []struct {
		src      string
		fragment string
	}{
		{"x", "unexpected <eof>"},
		{"local = 1", "expected 'NAME' near '='"},
		{"1 = 2", "unexpected '1'"},
		{"print(1", "expected ')' near <eof>"},
		{"t = {1 2}", "expected '}' near '2'"},
		{"x = ", "unexpected <eof>"},
		{"local x = print(1)", "function call used as a value"},
		{"x = -y", "unary minus applies only to numeric literals"},
		{"x = 1 + 2", "unexpected '+'"},
		{"if x then end", "unexpected 'if'"},
		{"t = { f(1) }", "function call used as a value"},
	}
	for _, tt := range tests {
		expectCompileError(t, tt.src, vm.ErrSyntax, tt.fragment)
	}
}

func TestCompileErrorPosition(t *testing.T) {
	verr := expectCompileError(t, "local a = 1\nprint(a\n", vm.ErrSyntax, "expected ')'")
	if verr.Line != 3 {
		t.Errorf("error at line %d, want 3", verr.Line)
	}
	verr = expectCompileError(t, "x = 1\n  y = @", vm.ErrLexical, "unexpected character")
	if verr.Line != 2 || verr.Column != 7 {
		t.Errorf("error at %d:%d, want 2:7", verr.Line, verr.Column)
	}
}

func TestCompileLexicalErrors(t *testing.T) {
	expectCompileError(t, `print("open`, vm.ErrLexical, "unfinished string")
	expectCompileError(t, `x = 3abc`, vm.ErrLexical, "malformed number")
}

func TestCompileNilKey(t *testing.T) {
	verr := expectCompileError(t, "t = {\n  [nil] = 1 }", vm.ErrCompile, "table index is nil")
	if verr.Line != 2 || verr.Column != 3 {
		t.Errorf("error at %d:%d, want 2:3", verr.Line, verr.Column)
	}
}

func TestCompileSlotLimit(t *testing.T) {
	args := make([]string, 300)
	for i := range args {
		args[i] = "1"
	}
	expectCompileError(t, "print("+strings.Join(args, ",")+")", vm.ErrCompile, "too many stack slots")
}

func TestCompileLocalLimit(t *testing.T) {
	var sb strings.Builder
	for i := 0; i <= MaxSlots; i++ {
		fmt.Fprintf(&sb, "local v%d = %d\n", i, i)
	}
	expectCompileError(t, sb.String(), vm.ErrCompile, "too many local variables")
}

func TestCompileConstantLimit(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 200; i++ {
		fmt.Fprintf(&sb, "g%d = \"s%d\"\n", i, i)
	}
	expectCompileError(t, sb.String(), vm.ErrCompile, "too many constants")
}

// ---------------------------------------------------------------------------
// Runtime errors from compiled code
// ---------------------------------------------------------------------------

func TestCompiledRuntimeErrors(t *testing.T) {
	tests := []struct {
		src      string
		fragment string
	}{
		{"nope()", "attempt to call a nil value"},
		{"x = 1; x()", "attempt to call a number value"},
		{"local n = 1; n.x = 2", "attempt to index a number value"},
		{"print(missing.field)", "attempt to index a nil value"},
		{"local t = {}; t[nil] = 1", "table index is nil"},
		{"local t = {}; local k; t[k] = 1", "table index is nil"},
	}
	for _, tt := range tests {
		chunk := mustCompile(t, tt.src)
		err := vm.NewVM(vm.WithOutput(&bytes.Buffer{})).Execute(chunk)
		var verr *vm.Error
		if !errors.As(err, &verr) || verr.Type != vm.ErrRuntime {
			t.Errorf("%q: err = %v, want runtime error", tt.src, err)
			continue
		}
		if !strings.Contains(verr.Message, tt.fragment) {
			t.Errorf("%q: message = %q, want %q", tt.src, verr.Message, tt.fragment)
		}
	}
}

func TestCompileRecordsLocals(t *testing.T) {
	chunk := mustCompile(t, "local first = 1\n  local second")
	want := []vm.LocalInfo{
		{Name: "first", Slot: 0, Line: 1, Column: 7},
		{Name: "second", Slot: 1, Line: 2, Column: 9},
	}
	if len(chunk.Locals) != len(want) {
		t.Fatalf("Locals = %+v", chunk.Locals)
	}
	for i := range want {
		if chunk.Locals[i] != want[i] {
			t.Errorf("local %d = %+v, want %+v", i, chunk.Locals[i], want[i])
		}
	}
}
