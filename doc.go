// Package dlink implements a minimal dynamic linker for relocatable
// modules built against a fixed ELF-derived layout: a dynamic section at
// the start of the image, and a GOT, an ELF-style chained-bucket hash
// table, a symbol table and a string table, each found at the offset its
// dynamic-section tag gives.
//
// It resolves a module's external references against a preloaded global
// symbol map (see ParseMap) or a user-supplied resolve callback
// (SetResolveCallback), and patches the module's GOT so that resolved calls
// run at native speed after their first use.
//
// The target this was built for is a single-threaded, interrupt-driven
// 32-bit MIPS host with no virtual memory. Where that model has no Go
// analogue (masking a hardware interrupt, running at a fixed link address)
// this package exposes the gap as an interface (CriticalSection,
// ICacheFlusher) rather than papering over it.
package dlink
