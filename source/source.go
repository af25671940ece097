// Package source opens lunette scripts and decodes them to UTF-8.
package source

import (
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/transform"
)

// NewReader wraps r so that it yields UTF-8. An empty name or any spelling
// of UTF-8 returns r unchanged; other names are looked up in the IANA
// registry (for example "Shift_JIS" or "ISO-8859-1").
func NewReader(r io.Reader, name string) (io.Reader, error) {
	enc, err := Lookup(name)
	if err != nil {
		return nil, err
	}
	if enc == nil {
		return r, nil
	}
	return transform.NewReader(r, enc.NewDecoder()), nil
}

// Lookup returns the encoding registered under name, or nil for UTF-8.
func Lookup(name string) (encoding.Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "utf-8", "utf8":
		return nil, nil
	}
	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil {
		return nil, fmt.Errorf("source: unknown encoding %q: %w", name, err)
	}
	if enc == nil {
		return nil, fmt.Errorf("source: encoding %q is not supported", name)
	}
	return enc, nil
}

// File is an open script decoded to UTF-8.
type File struct {
	io.Reader
	f *os.File
}

// Close closes the underlying file.
func (f *File) Close() error {
	return f.f.Close()
}

// Open opens the script at path and decodes it from the named encoding.
func Open(path, name string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	r, err := NewReader(f, name)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &File{Reader: r, f: f}, nil
}

// ReadAll reads and decodes the whole script at path.
func ReadAll(path, name string) (string, error) {
	f, err := Open(path, name)
	if err != nil {
		return "", err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return "", fmt.Errorf("source: reading %s: %w", path, err)
	}
	return string(data), nil
}
