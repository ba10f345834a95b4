// Package vm implements the mvm register/stack hybrid virtual machine.
//
// This package contains:
//   - Tagged value representation (primitives, strings, collections, refs)
//   - Opcode catalogue and instruction sequences with debug symbols
//   - Lexical scopes shared between frames and closures
//   - The dispatcher, call stack and protected-call error model
//   - The Bridge contract for foreign classes, methods and fields
//   - Process launching for `go` contexts and the trace hook
package vm
