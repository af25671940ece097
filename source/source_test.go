package source

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/japanese"
)

func TestNewReaderUTF8Passthrough(t *testing.T) {
	for _, name := range []string{"", "UTF-8", "utf8"} {
		in := strings.NewReader(`print("héllo")`)
		r, err := NewReader(in, name)
		if err != nil {
			t.Fatalf("NewReader(%q): %v", name, err)
		}
		if r != io.Reader(in) {
			t.Errorf("NewReader(%q) wrapped a UTF-8 reader", name)
		}
	}
}

func TestNewReaderShiftJIS(t *testing.T) {
	want := `print("こんにちは")`
	encoded, err := japanese.ShiftJIS.NewEncoder().String(want)
	if err != nil {
		t.Fatal(err)
	}

	r, err := NewReader(strings.NewReader(encoded), "Shift_JIS")
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestReadAllLatin1(t *testing.T) {
	want := `print("café")`
	encoded, err := charmap.ISO8859_1.NewEncoder().String(want)
	if err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(t.TempDir(), "latin1.lua")
	if err := os.WriteFile(path, []byte(encoded), 0644); err != nil {
		t.Fatal(err)
	}

	got, err := ReadAll(path, "ISO-8859-1")
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestLookupUnknown(t *testing.T) {
	if _, err := Lookup("no-such-charset"); err == nil {
		t.Fatal("expected error for unknown encoding")
	}
}

func TestOpenMissingFile(t *testing.T) {
	if _, err := Open(filepath.Join(t.TempDir(), "missing.lua"), ""); err == nil {
		t.Fatal("expected error for missing file")
	}
}
