package dlink

import (
	"encoding/binary"
	"testing"
)

// testModuleSpec drives buildTestModule: a hand-assembled minimal dynamic
// section plus GOT, hash table, symbol table and string table — just
// enough of the on-disk format for Init to walk. The image has one
// external, undefined symbol ("ext_symbol") and optional
// __CTOR_LIST__/__DTOR_LIST__ arrays so the same fixture drives the lazy,
// eager, and constructor/destructor scenarios.
type testModuleSpec struct {
	ctorAddrs  []uint32
	dtorAddrs  []uint32
	extSymInfo uint8 // st_info for ext_symbol; 0 means STT_FUNC
}

// builtModule records what buildTestModule put where, so a test can
// assert on ext_symbol's resolved GOT slot without recomputing the layout.
type builtModule struct {
	buf         []byte
	extSymIndex uint32
	extGotSlot  int
}

func buildTestModule(t *testing.T, spec testModuleSpec) builtModule {
	t.Helper()

	// --- local symbols first, then the one external/undefined symbol ---
	type localSym struct {
		name string
		data []byte // raw section content; offset patched into Value after relocation math
	}

	var locals []localSym
	if spec.ctorAddrs != nil {
		locals = append(locals, localSym{name: "__CTOR_LIST__", data: encodeFuncList(spec.ctorAddrs)})
	}
	if spec.dtorAddrs != nil {
		locals = append(locals, localSym{name: "__DTOR_LIST__", data: encodeFuncList(spec.dtorAddrs)})
	}

	symbolCount := uint32(1 + len(locals) + 1) // null symbol + locals + ext_symbol
	firstGotSym := uint32(1 + len(locals))

	// DT_MIPS_LOCAL_GOTNO counts the two reserved words at the front of
	// the GOT, so the minimum local count is 2.
	const localGotNo = 2
	gotWords := localGotNo + (symbolCount - firstGotSym)

	// --- lay out the buffer: [dynamic][got][hash][symtab][strtab][data] ---
	const numDynTags = 8 // PLTGOT, HASH, STRTAB, SYMTAB, SYMENT, LOCAL_GOTNO, SYMTABNO, GOTSYM (+ terminator below)
	dynSize := (numDynTags + 1) * dynEntrySize

	buf := make([]byte, dynSize)

	gotOff := len(buf)
	buf = append(buf, make([]byte, gotWords*4)...)

	nbucket := symbolCount
	ht := newChainedTable(nbucket, symbolCount)

	// strtab: index 0 is the empty string, matching the null symbol's name.
	var strtab []byte
	strtab = append(strtab, 0)
	nameOffsets := []uint32{0}
	for _, l := range locals {
		nameOffsets = append(nameOffsets, uint32(len(strtab)))
		strtab = append(strtab, []byte(l.name)...)
		strtab = append(strtab, 0)
	}
	extNameOff := uint32(len(strtab))
	strtab = append(strtab, []byte("ext_symbol")...)
	strtab = append(strtab, 0)

	// data section holding the ctor/dtor arrays, appended after strtab;
	// offsets into it become each local symbol's (pre-relocation) Value.
	var dataSection []byte
	dataOffsets := make([]uint32, len(locals))
	for i, l := range locals {
		dataOffsets[i] = uint32(len(dataSection))
		dataSection = append(dataSection, l.data...)
	}

	hashOff := len(buf)
	buf = append(buf, make([]byte, len(ht)*4)...) // placeholder; real contents written after ht.append below

	symtabOff := len(buf)
	// null symbol (index 0)
	symtab := make([]byte, symEntrySize) // all zero
	for i, l := range locals {
		idx := uint32(1 + i)
		h := elfHash(l.name)
		ht.append(h%nbucket, idx)

		s := sym{Name: nameOffsets[idx], Value: dataOffsets[i], Shndx: 1} // Shndx!=0: defined
		entry := make([]byte, symEntrySize)
		encodeSym(entry, 0, s)
		symtab = append(symtab, entry...)
	}
	{
		idx := firstGotSym
		h := elfHash("ext_symbol")
		ht.append(h%nbucket, idx)
		info := spec.extSymInfo
		if info == 0 {
			info = sttFunc
		}
		s := sym{Name: extNameOff, Value: 0, Info: info, Shndx: 0} // undefined
		entry := make([]byte, symEntrySize)
		encodeSym(entry, 0, s)
		symtab = append(symtab, entry...)
	}
	buf = append(buf, symtab...)

	// The hash table was mutated (via append) after being copied into buf
	// above; re-copy the final contents back in.
	for i, w := range ht {
		binary.LittleEndian.PutUint32(buf[hashOff+i*4:], w)
	}

	strtabOff := len(buf)
	buf = append(buf, strtab...)

	dataOff := len(buf)
	buf = append(buf, dataSection...)
	for i := range dataOffsets {
		dataOffsets[i] += uint32(dataOff)
	}

	// Now that dataOffsets are absolute, patch the local symbols' Value
	// fields (they were written relative to dataSection above).
	for i := range locals {
		off := symtabOff + (1+i)*symEntrySize
		binary.LittleEndian.PutUint32(buf[off+4:], dataOffsets[i])
	}

	// --- dynamic section ---
	writeDyn := func(i int, tag int32, value uint32) {
		off := i * dynEntrySize
		binary.LittleEndian.PutUint32(buf[off:], uint32(tag))
		binary.LittleEndian.PutUint32(buf[off+4:], value)
	}
	writeDyn(0, dtPLTGOT, uint32(gotOff))
	writeDyn(1, dtHash, uint32(hashOff))
	writeDyn(2, dtStrtab, uint32(strtabOff))
	writeDyn(3, dtSymtab, uint32(symtabOff))
	writeDyn(4, dtSyment, symEntrySize)
	writeDyn(5, dtMipsLocalGotno, localGotNo)
	writeDyn(6, dtMipsSymtabno, symbolCount)
	writeDyn(7, dtMipsGotsym, firstGotSym)
	writeDyn(8, dtNull, 0)

	return builtModule{
		buf:         buf,
		extSymIndex: firstGotSym,
		extGotSlot:  localGotNo,
	}
}

// encodeFuncList builds a __CTOR_LIST__/__DTOR_LIST__-shaped array: a
// count word followed by that many raw (unrelocated) addresses.
func encodeFuncList(addrs []uint32) []byte {
	out := make([]byte, 4+4*len(addrs))
	binary.LittleEndian.PutUint32(out, uint32(len(addrs)))
	for i, a := range addrs {
		binary.LittleEndian.PutUint32(out[4+4*i:], a)
	}
	return out
}

type recordingCaller struct{ calls []uint32 }

func (r *recordingCaller) Call(addr uint32) { r.calls = append(r.calls, addr) }

func freshContextWithSymbol(name string, addr uintptr) *Context {
	ctx := NewContext()
	ctx.SetResolveCallback(func(n string) (uintptr, bool) {
		if n == name {
			return addr, true
		}
		return 0, false
	})
	return ctx
}

func TestInitLazyModeLeavesExternalSymbolUnresolved(t *testing.T) {
	built := buildTestModule(t, testModuleSpec{})
	ctx := freshContextWithSymbol("ext_symbol", 0x80050000)

	m, err := Init(built.buf, Lazy, WithContext(ctx))
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer m.Close()

	if m.got[built.extGotSlot] == 0x80050000 {
		t.Error("lazy mode resolved the symbol eagerly, want it deferred")
	}
}

func TestResolveLazyPatchesGOT(t *testing.T) {
	built := buildTestModule(t, testModuleSpec{})
	ctx := freshContextWithSymbol("ext_symbol", 0x80050000)

	m, err := Init(built.buf, Lazy, WithContext(ctx))
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer m.Close()

	addr, err := m.ResolveLazy(built.extSymIndex)
	if err != nil {
		t.Fatalf("ResolveLazy: %v", err)
	}
	if addr != 0x80050000 {
		t.Errorf("ResolveLazy returned %#x, want 0x80050000", addr)
	}
	if m.got[built.extGotSlot] != 0x80050000 {
		t.Errorf("got[%d] = %#x, want 0x80050000", built.extGotSlot, m.got[built.extGotSlot])
	}
}

func TestResolveLazyUnknownSymbolFails(t *testing.T) {
	built := buildTestModule(t, testModuleSpec{})
	ctx := NewContext() // no resolver, no map

	m, err := Init(built.buf, Lazy, WithContext(ctx))
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer m.Close()

	if _, err := m.ResolveLazy(built.extSymIndex); err == nil {
		t.Fatal("ResolveLazy succeeded with no symbol source configured")
	}
}

func TestInitNowModeResolvesEagerly(t *testing.T) {
	built := buildTestModule(t, testModuleSpec{})
	ctx := freshContextWithSymbol("ext_symbol", 0x80050000)

	m, err := Init(built.buf, Now, WithContext(ctx))
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer m.Close()

	if m.got[built.extGotSlot] != 0x80050000 {
		t.Errorf("got[%d] = %#x, want 0x80050000 resolved during Init", built.extGotSlot, m.got[built.extGotSlot])
	}
}

func TestInitNowModeFailsOnUnresolvableSymbol(t *testing.T) {
	built := buildTestModule(t, testModuleSpec{})
	ctx := NewContext()

	_, err := Init(built.buf, Now, WithContext(ctx))
	if err == nil {
		t.Fatal("Init(Now) succeeded despite an unresolvable external symbol")
	}
	if de, ok := err.(*DLError); !ok || de.Code != MapSymbol {
		t.Errorf("err = %v, want MapSymbol", err)
	}
}

func TestConstructorsRunInReverseDestructorsInForwardOrder(t *testing.T) {
	built := buildTestModule(t, testModuleSpec{
		ctorAddrs: []uint32{0xC1, 0xC2, 0xC3},
		dtorAddrs: []uint32{0xD1, 0xD2, 0xD3},
	})
	ctx := NewContext()
	caller := &recordingCaller{}

	m, err := Init(built.buf, Lazy, WithContext(ctx), WithFuncCaller(caller))
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	wantCtors := []uint32{0xC3, 0xC2, 0xC1}
	if len(caller.calls) != len(wantCtors) {
		t.Fatalf("constructor calls = %v, want %v", caller.calls, wantCtors)
	}
	for i, want := range wantCtors {
		if caller.calls[i] != want {
			t.Errorf("ctor call[%d] = %#x, want %#x", i, caller.calls[i], want)
		}
	}

	caller.calls = nil
	m.Close()

	wantDtors := []uint32{0xD1, 0xD2, 0xD3}
	if len(caller.calls) != len(wantDtors) {
		t.Fatalf("destructor calls = %v, want %v", caller.calls, wantDtors)
	}
	for i, want := range wantDtors {
		if caller.calls[i] != want {
			t.Errorf("dtor call[%d] = %#x, want %#x", i, caller.calls[i], want)
		}
	}
}

func TestInitRejectsTruncatedDynamicSection(t *testing.T) {
	buf := []byte{1, 2, 3} // not even one full (tag, value) pair
	_, err := Init(buf, Lazy)
	if err == nil {
		t.Fatal("Init on a truncated dynamic section succeeded")
	}
	if de, ok := err.(*DLError); !ok || de.Code != DllFormat {
		t.Errorf("err = %v, want DllFormat", err)
	}
}

func TestInitRejectsMismatchedSymentSize(t *testing.T) {
	buf := make([]byte, 3*dynEntrySize)
	binary.LittleEndian.PutUint32(buf[0:], dtSyment)
	binary.LittleEndian.PutUint32(buf[4:], 999) // not 16
	binary.LittleEndian.PutUint32(buf[8:], dtNull)

	_, err := Init(buf, Lazy)
	if err == nil {
		t.Fatal("Init with a bad DT_SYMENT value succeeded")
	}
	if de, ok := err.(*DLError); !ok || de.Code != DllFormat {
		t.Errorf("err = %v, want DllFormat", err)
	}
}

func TestInitRejectsNilBuffer(t *testing.T) {
	_, err := Init(nil, Lazy)
	if err == nil {
		t.Fatal("Init(nil) succeeded")
	}
	if de, ok := err.(*DLError); !ok || de.Code != DllNull {
		t.Errorf("err = %v, want DllNull", err)
	}
}

func TestModuleSymLooksUpLocalTable(t *testing.T) {
	built := buildTestModule(t, testModuleSpec{ctorAddrs: []uint32{0xC1}})
	ctx := NewContext()

	m, err := Init(built.buf, Lazy, WithContext(ctx))
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer m.Close()

	addr, err := m.Sym("__CTOR_LIST__")
	if err != nil {
		t.Fatalf("Sym(__CTOR_LIST__): %v", err)
	}
	if addr == 0 {
		t.Error("Sym(__CTOR_LIST__) returned 0")
	}

	if _, err := m.Sym("ext_symbol"); err == nil {
		t.Error("Sym(ext_symbol) succeeded on an undefined symbol, want DllSymbol")
	}

	if _, err := m.Sym("nonexistent"); err == nil {
		t.Error("Sym(nonexistent) succeeded, want DllSymbol")
	}
}

func TestNilModuleSymFallsBackToGlobalMap(t *testing.T) {
	defaultCtx.UnloadMap()
	if _, err := defaultCtx.ParseMap([]byte("global_thing T 80099000\n")); err != nil {
		t.Fatalf("ParseMap: %v", err)
	}
	defer defaultCtx.UnloadMap()

	var m *Module
	addr, err := m.Sym("global_thing")
	if err != nil {
		t.Fatalf("Sym on nil module: %v", err)
	}
	if addr != 0x80099000 {
		t.Errorf("addr = %#x, want 0x80099000", addr)
	}
}

func TestNilModuleCloseIsNoOp(t *testing.T) {
	var m *Module
	m.Close() // must not panic
}

func TestInitRejectsBadDynamicTagValues(t *testing.T) {
	cases := []struct {
		name  string
		tag   int32
		value uint32
	}{
		{"abi version", dtMipsRldVersion, 2},
		{"quickstart flag", dtMipsFlags, rhfQuickstart},
		{"nonzero base address", dtMipsBaseAddress, 0x80000000},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			buf := make([]byte, 2*dynEntrySize)
			binary.LittleEndian.PutUint32(buf[0:], uint32(c.tag))
			binary.LittleEndian.PutUint32(buf[4:], c.value)
			binary.LittleEndian.PutUint32(buf[8:], dtNull)

			_, err := Init(buf, Lazy, WithContext(NewContext()))
			if err == nil {
				t.Fatal("Init accepted a module it must reject")
			}
			if de, ok := err.(*DLError); !ok || de.Code != DllFormat {
				t.Errorf("err = %v, want DllFormat", err)
			}
		})
	}
}

func TestInitFormatFailureErrorIsReadAndClear(t *testing.T) {
	buf := make([]byte, 3*dynEntrySize)
	binary.LittleEndian.PutUint32(buf[0:], dtSyment)
	binary.LittleEndian.PutUint32(buf[4:], 12)
	binary.LittleEndian.PutUint32(buf[8:], dtNull)

	if _, err := Init(buf, Lazy); err == nil {
		t.Fatal("Init with DT_SYMENT = 12 succeeded")
	}
	if got, want := Error(), DllFormat.String(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if got := Error(); got != "" {
		t.Errorf("Error() = %q on second call, want \"\" (read-and-clear)", got)
	}
}

func TestInitInstallsHandleIDInReservedSlot(t *testing.T) {
	built := buildTestModule(t, testModuleSpec{})
	m, err := Init(built.buf, Lazy, WithContext(NewContext()))
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer m.Close()

	if m.got[1] != m.handleID {
		t.Errorf("got[1] = %#x, want handle id %#x", m.got[1], m.handleID)
	}
}

func TestInitNowModeSkipsUndefinedNonCodeDataSymbols(t *testing.T) {
	const sttFile = 4
	built := buildTestModule(t, testModuleSpec{extSymInfo: sttFile})
	ctx := NewContext() // no resolver, no map: a FUNC/OBJECT symbol would fail

	m, err := Init(built.buf, Now, WithContext(ctx))
	if err != nil {
		t.Fatalf("Init(Now) failed on a skippable symbol type: %v", err)
	}
	m.Close()
}

func TestModuleSymAfterCloseFails(t *testing.T) {
	built := buildTestModule(t, testModuleSpec{ctorAddrs: []uint32{0xC1}})
	m, err := Init(built.buf, Lazy, WithContext(NewContext()))
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	m.Close()

	if _, err := m.Sym("__CTOR_LIST__"); err == nil {
		t.Fatal("Sym on a closed module succeeded")
	}
}

func TestInitRejectsLocalGotnoBelowReservedCount(t *testing.T) {
	built := buildTestModule(t, testModuleSpec{})
	// Entry 5 of the fixture's dynamic section is DT_MIPS_LOCAL_GOTNO; a
	// count below 2 cannot cover the reserved trampoline/handle words.
	binary.LittleEndian.PutUint32(built.buf[5*dynEntrySize+4:], 1)

	_, err := Init(built.buf, Lazy, WithContext(NewContext()))
	if err == nil {
		t.Fatal("Init accepted DT_MIPS_LOCAL_GOTNO = 1")
	}
	if de, ok := err.(*DLError); !ok || de.Code != DllFormat {
		t.Errorf("err = %v, want DllFormat", err)
	}
}
