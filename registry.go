package dlink

import "sync"

// handleRegistry maps the opaque 32-bit value stored in got[1] back to
// the *Module it identifies. On a real 32-bit target the handle's own
// address fits directly in a GOT slot, but this package also has to run
// its lazy-resolution tests on 64-bit hosts where a pointer does not fit
// in 32 bits. A small registry of sequentially-assigned IDs stands in for
// "the handle's address" — see DESIGN.md for the rationale.
var handleRegistry = struct {
	mu   sync.Mutex
	next uint32
	byID map[uint32]*Module
}{byID: make(map[uint32]*Module)}

// registerHandle assigns an id and stores it so resolveHelper can recover
// m from the value the trampoline reads out of got[1]. ID 0 is never
// assigned.
func registerHandle(m *Module) uint32 {
	handleRegistry.mu.Lock()
	defer handleRegistry.mu.Unlock()
	handleRegistry.next++
	id := handleRegistry.next
	handleRegistry.byID[id] = m
	return id
}

func lookupHandle(id uint32) *Module {
	handleRegistry.mu.Lock()
	defer handleRegistry.mu.Unlock()
	return handleRegistry.byID[id]
}

func unregisterHandle(id uint32) {
	handleRegistry.mu.Lock()
	defer handleRegistry.mu.Unlock()
	delete(handleRegistry.byID, id)
}
