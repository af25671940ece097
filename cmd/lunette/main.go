// lunette CLI - compiles and runs a Lua script, or serves the language server
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/tliron/commonlog"

	"github.com/chazu/lunette/compiler"
	"github.com/chazu/lunette/manifest"
	"github.com/chazu/lunette/server"
	"github.com/chazu/lunette/source"
	"github.com/chazu/lunette/vm"
	"github.com/chazu/lunette/vm/dist"

	_ "github.com/tliron/commonlog/simple"
)

var log = commonlog.GetLogger("lunette")

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// verbosity is a repeatable -v flag: each bare -v adds one, -v=N sets N.
type verbosity struct {
	level int
	set   bool
}

func (v *verbosity) String() string   { return strconv.Itoa(v.level) }
func (v *verbosity) IsBoolFlag() bool { return true }

func (v *verbosity) Set(s string) error {
	if !v.set {
		v.level = 0
		v.set = true
	}
	if s == "true" {
		v.level++
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("invalid verbosity %q", s)
	}
	v.level = n
	return nil
}

// run is main without the process exit, so tests can drive it.
func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("lunette", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var verbose verbosity
	fs.Var(&verbose, "v", "Increase log verbosity (repeatable, or -v=N)")
	dumpFormat := fs.String("dump", "", "Listing printed before running: text, cbor or none (default from lunette.toml, else text)")
	configPath := fs.String("config", "", "Path to lunette.toml (default: search upwards from the script)")
	lspMode := fs.Bool("lsp", false, "Start the language server on stdio")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: lunette [options] <script.lua>\n\n")
		fmt.Fprintf(stderr, "Compiles a Lua script, prints its bytecode listing and runs it.\n\n")
		fmt.Fprintf(stderr, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(stderr, "\nExamples:\n")
		fmt.Fprintf(stderr, "  lunette hello.lua            # Print listing, then run\n")
		fmt.Fprintf(stderr, "  lunette -dump=none hello.lua # Run without listing\n")
		fmt.Fprintf(stderr, "  lunette -v -v hello.lua      # Debug logging to stderr\n")
		fmt.Fprintf(stderr, "  lunette -lsp                 # Language server for editors\n")
	}

	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return 0
		}
		return 2
	}

	if *lspMode {
		return runLSP(fs.Args(), *configPath, verbose)
	}

	if fs.NArg() != 1 {
		fs.Usage()
		return 0
	}
	path := fs.Arg(0)

	m, err := loadManifest(*configPath, filepath.Dir(path))
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	if *dumpFormat != "" {
		m.Dump.Format = *dumpFormat
	}
	configureLogging(m, verbose)

	if err := runScript(path, m, stdout); err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

// loadManifest reads an explicit config file, or the nearest lunette.toml
// above dir, or falls back to defaults.
func loadManifest(configPath, dir string) (*manifest.Manifest, error) {
	if configPath != "" {
		return manifest.LoadFile(configPath)
	}
	m, err := manifest.FindAndLoad(dir)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return manifest.Default(), nil
	}
	return m, nil
}

func configureLogging(m *manifest.Manifest, verbose verbosity) {
	level := m.Run.Verbosity
	if verbose.set {
		level = verbose.level
	}
	var logPath *string
	if m.Run.LogFile != "" {
		p := m.Resolve(m.Run.LogFile)
		logPath = &p
	}
	commonlog.Configure(level, logPath)
}

// runScript compiles the script, emits the configured listing and runs it.
func runScript(path string, m *manifest.Manifest, stdout io.Writer) error {
	f, err := source.Open(path, m.Run.SourceEncoding)
	if err != nil {
		return err
	}
	chunk, err := compiler.Compile(f, path)
	f.Close()
	if err != nil {
		return err
	}

	if hash, err := dist.Hash(chunk); err == nil {
		log.Infof("%s: chunk sha256 %x", path, hash)
	} else {
		log.Warningf("%s: cannot hash chunk: %v", path, err)
	}

	if err := dump(chunk, m, stdout); err != nil {
		return err
	}

	globals, err := m.GlobalValues()
	if err != nil {
		return err
	}
	machine := vm.NewVM(vm.WithOutput(stdout), vm.WithGlobals(globals))
	return machine.Execute(chunk)
}

// dump writes the listing of chunk in the configured format.
func dump(chunk *vm.Chunk, m *manifest.Manifest, stdout io.Writer) error {
	var data []byte
	switch m.Dump.Format {
	case manifest.DumpNone:
		return nil
	case manifest.DumpText, "":
		data = []byte(chunk.Disassemble())
	case manifest.DumpCBOR:
		encoded, err := dist.Encode(chunk)
		if err != nil {
			return err
		}
		data = encoded
	default:
		return fmt.Errorf("unknown dump format %q", m.Dump.Format)
	}

	if out := m.Resolve(m.Dump.Output); out != "" {
		if err := os.WriteFile(out, data, 0644); err != nil {
			return fmt.Errorf("writing dump: %w", err)
		}
		log.Infof("wrote %s dump to %s", m.Dump.Format, out)
		return nil
	}
	_, err := stdout.Write(data)
	return err
}

// runLSP serves the language server on stdio. Logs never go to stdout,
// which carries the protocol.
func runLSP(args []string, configPath string, verbose verbosity) int {
	dir := "."
	if len(args) > 0 {
		dir = args[0]
	}
	m, err := loadManifest(configPath, dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	configureLogging(m, verbose)

	globals, err := m.GlobalValues()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	srv := server.NewLSP(vm.NewVM(vm.WithOutput(io.Discard), vm.WithGlobals(globals)))
	if err := srv.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}
