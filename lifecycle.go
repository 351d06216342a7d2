package dlink

// lookupLocal resolves a name against the module's own .hash section:
// hash it, walk the bucket's chain, and confirm each candidate by string
// compare against the strtab — unlike the global map, a module's own
// symbol table keeps its names around, so the exact check is free. A link
// of 0 ends the walk like chainEnd does, and chain links that point
// outside the table or the symtab terminate it rather than being chased.
func (m *Module) lookupLocal(name string) (sym, bool) {
	if len(m.hashTb) == 0 || m.hashTb.nbucket() == 0 {
		return sym{}, false
	}
	h := elfHash(name)
	b := h % m.hashTb.nbucket()
	for i := m.hashTb.bucketHead(b); i != chainEnd && i != 0; {
		if i >= m.hashTb.nchain() || i >= uint32(len(m.symtab)) {
			break
		}
		if m.symName(m.symtab[i]) == name {
			return m.symtab[i], true
		}
		i = m.hashTb.chainNext(i)
	}
	return sym{}, false
}

// Sym resolves name within m's own symbol table. It does not consult the
// global map or resolve callback — that's what a module's own undefined
// references use, via the GOT patch path, not what callers asking "does
// this module export X" use.
//
// A nil *Module is the default handle: Sym falls back to the global map
// instead of a module-local table.
func (m *Module) Sym(name string) (uintptr, error) {
	if m == nil {
		return defaultCtx.GetSymbol(name)
	}
	if m.closed {
		m.ctx.setLastErr(DllNull)
		return 0, newErr(DllNull)
	}
	s, ok := m.lookupLocal(name)
	if !ok || s.Shndx == 0 {
		m.ctx.setLastErr(DllSymbol)
		return 0, newErr(DllSymbol)
	}
	m.ctx.setLastErr(None)
	return uintptr(s.Value), nil
}

// runList walks a __CTOR_LIST__/__DTOR_LIST__ array: first word is a
// count, followed by that many function addresses. Those addresses are
// read as-is — a linker script already arranges for them to be correct in
// place, so they are not rebased the way the GOT and symtab are. See
// DESIGN.md for why the asymmetry is intentional.
func (m *Module) runList(symbolName string, reverse bool) {
	s, ok := m.lookupLocal(symbolName)
	if !ok || s.Value == 0 {
		return
	}
	off := int(s.Value - m.baseAddr)
	if off < 0 || off+4 > len(m.base) {
		return
	}
	count := readU32LE(m.base, off)
	maxEntries := uint32((len(m.base) - off - 4) / 4)
	if count > maxEntries {
		count = maxEntries
	}
	if reverse {
		for i := int(count) - 1; i >= 0; i-- {
			m.caller.Call(readU32LE(m.base, off+4+i*4))
		}
	} else {
		for i := 0; i < int(count); i++ {
			m.caller.Call(readU32LE(m.base, off+4+i*4))
		}
	}
}

// Close runs the module's destructors in forward order (the reverse of
// constructor order), frees its handle, and releases its buffer if Open
// (rather than Init) created it. Closing the nil default handle is a
// no-op.
func (m *Module) Close() {
	if m == nil || m.closed {
		return
	}
	m.closed = true

	m.runList("__DTOR_LIST__", false)
	unregisterHandle(m.handleID)

	if m.owned && m.loader != nil {
		if rel, ok := m.loader.(Releaser); ok {
			rel.Release(m.base)
		}
	}
}
