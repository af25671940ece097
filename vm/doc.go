// Package vm implements the lunette virtual machine.
//
// This package contains:
//   - The tagged Value representation with size-classed strings
//   - The hybrid array/map Table
//   - The register-style instruction set and compiled Chunk
//   - The linear interpreter and the native calling convention
//   - Native functions such as print
package vm
