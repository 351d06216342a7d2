package dlink

import "log/slog"

// gotSlotForSymbol maps a symtab index to its GOT slot. The external GOT
// entries sit right after the localGotNo local ones (a count that
// includes the two reserved words at the front), in the same order as
// the symtab entries from firstGotSym onward — so the mapping is a
// direct offset, not a search. Returns -1 for symbols with no GOT entry.
func (m *Module) gotSlotForSymbol(symIdx uint32) int {
	if symIdx < m.firstGotSym {
		return -1
	}
	slot := int(m.localGotNo) + int(symIdx-m.firstGotSym)
	if slot >= len(m.got) {
		return -1
	}
	return slot
}

// eagerResolve (Now mode) resolves every undefined external data or
// function symbol immediately instead of leaving its GOT slot pointed at
// the lazy trampoline. Undefined symbols of any other type (sections,
// file names) have nothing to resolve and are skipped.
func (m *Module) eagerResolve() *DLError {
	for idx := m.firstGotSym; idx < m.symbolCount; idx++ {
		s := m.symtab[idx]
		if s.Shndx != 0 {
			continue // locally defined; its GOT slot already holds the relocated value
		}
		if t := s.symType(); t != sttObject && t != sttFunc {
			continue
		}
		if _, err := m.resolveSymbolAt(idx); err != nil {
			return err
		}
	}
	return nil
}

// resolveSymbolAt is the GOT-patch step shared by eager resolution and
// the lazy trampoline path: look the symbol's name up in the global map
// (or the resolve callback), patch its GOT slot, and return the resolved
// address.
func (m *Module) resolveSymbolAt(symIdx uint32) (uint32, *DLError) {
	if symIdx >= m.symbolCount {
		return 0, newErr(MapSymbol)
	}
	s := m.symtab[symIdx]
	name := m.symName(s)
	addr, ok := m.ctx.resolveName(name)
	if !ok {
		return 0, newErr(MapSymbol)
	}
	if slot := m.gotSlotForSymbol(symIdx); slot >= 0 {
		m.got[slot] = addr
	}
	return addr, nil
}

// resolveHelper is what the trampoline's assembly calls through
// resolveHelperASM on a symbol's first call: recover the module from its
// handle and patch the one GOT slot the trampoline landed on.
func resolveHelper(handleID, symIndex uint32) (uint32, *DLError) {
	m := lookupHandle(handleID)
	if m == nil {
		return 0, newErr(DllNull)
	}
	return m.resolveSymbolAt(symIndex)
}

// resolveHelperASM is the Go-callable entry point the assembly trampoline
// jumps to. Unlike Init's graceful error return, a failed lazy resolution
// has nowhere to propagate to — the caller mid-call expects an address,
// not an (addr, error) pair — so it logs and hangs rather than jump to
// garbage.
func resolveHelperASM(handleID, symIndex uint32) uint32 {
	m := lookupHandle(handleID)
	addr, err := resolveHelper(handleID, symIndex)
	if err != nil {
		logger := slog.Default()
		if m != nil && m.logger != nil {
			logger = m.logger
		}
		logger.Error("dlink: lazy symbol resolution failed, halting", "handleID", handleID, "symIndex", symIndex, "err", err)
		select {} // no OS to return control to
	}
	return addr
}

// ResolveLazy exercises the same GOT-patch path the real trampoline
// drives, for hosts where the trampoline sentinel can never actually be
// jumped to. Tests use it to simulate "symbol symIndex's stub fired for
// the first time."
func (m *Module) ResolveLazy(symIndex uint32) (uint32, error) {
	addr, err := m.resolveSymbolAt(symIndex)
	if err != nil {
		m.ctx.setLastErr(err.Code)
		return 0, err
	}
	m.ctx.setLastErr(None)
	return addr, nil
}
