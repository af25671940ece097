package server

import (
	"errors"
	"sort"

	protocol "github.com/tliron/glsp/protocol_3_16"

	"github.com/chazu/lunette/compiler"
	"github.com/chazu/lunette/vm"
)

// Analysis is the result of compiling one document.
type Analysis struct {
	Chunk *vm.Chunk // nil when compilation failed
	Err   *vm.Error
}

// Analyze compiles text and records either the chunk or the first error.
func Analyze(uri, text string) *Analysis {
	chunk, err := compiler.CompileString(text, uri)
	if err != nil {
		var verr *vm.Error
		if !errors.As(err, &verr) {
			verr = vm.NewError(vm.ErrCompile, "%v", err)
		}
		return &Analysis{Err: verr}
	}
	return &Analysis{Chunk: chunk}
}

// Diagnostics converts a compile error into an LSP diagnostic.
func (a *Analysis) Diagnostics() []protocol.Diagnostic {
	if a.Err == nil {
		return []protocol.Diagnostic{}
	}
	severity := protocol.DiagnosticSeverityError
	source := lspName
	code := protocol.IntegerOrString{Value: string(a.Err.Type)}
	return []protocol.Diagnostic{{
		Range:    errorRange(a.Err),
		Severity: &severity,
		Code:     &code,
		Source:   &source,
		Message:  a.Err.Message,
	}}
}

// errorRange covers the character an error was reported at.
func errorRange(e *vm.Error) protocol.Range {
	if e.Line <= 0 {
		return protocol.Range{}
	}
	line := protocol.UInteger(e.Line - 1)
	col := protocol.UInteger(0)
	if e.Column > 0 {
		col = protocol.UInteger(e.Column - 1)
	}
	return protocol.Range{
		Start: protocol.Position{Line: line, Character: col},
		End:   protocol.Position{Line: line, Character: col + 1},
	}
}

// globalNames returns the names of every global a chunk reads or writes.
func globalNames(chunk *vm.Chunk) []string {
	if chunk == nil {
		return nil
	}
	seen := make(map[string]bool)
	add := func(k uint8) {
		if int(k) < len(chunk.Constants) && chunk.Constants[k].IsString() {
			seen[chunk.Constants[k].Text()] = true
		}
	}
	for _, in := range chunk.Code {
		switch in.Op {
		case vm.OpGetGlobal:
			add(in.B)
		case vm.OpSetGlobal, vm.OpSetGlobalConst:
			add(in.A)
		case vm.OpSetGlobalGlobal:
			add(in.A)
			add(in.B)
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// lookupLocal returns the declaration of name visible at line (1-based):
// the most recent one declared on or before that line.
func lookupLocal(chunk *vm.Chunk, name string, line int) *vm.LocalInfo {
	if chunk == nil {
		return nil
	}
	for i := len(chunk.Locals) - 1; i >= 0; i-- {
		l := &chunk.Locals[i]
		if l.Name == name && l.Line <= line {
			return l
		}
	}
	return nil
}

// nameOccurrences returns the range of every name token spelled word.
// Scanning stops at the first lexical error.
func nameOccurrences(text, word string) []protocol.Range {
	var ranges []protocol.Range
	lex := compiler.NewStringLexer(text)
	for {
		tok := lex.Next()
		if tok.Type == compiler.TokenEOF || tok.Type == compiler.TokenError {
			return ranges
		}
		if tok.Type != compiler.TokenName || tok.Literal != word {
			continue
		}
		line := protocol.UInteger(tok.Pos.Line - 1)
		col := protocol.UInteger(tok.Pos.Column - 1)
		ranges = append(ranges, protocol.Range{
			Start: protocol.Position{Line: line, Character: col},
			End:   protocol.Position{Line: line, Character: col + protocol.UInteger(len(word))},
		})
	}
}

var luaKeywords = []string{
	"and", "break", "do", "else", "elseif", "end", "false", "for",
	"function", "goto", "if", "in", "local", "nil", "not", "or",
	"repeat", "return", "then", "true", "until", "while",
}
