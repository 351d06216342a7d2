package dlink

import (
	"log/slog"
	"unsafe"
)

// Mode selects whether Init resolves external references immediately
// (Now) or defers each one to its first call through the lazy trampoline
// (Lazy).
type Mode int

const (
	Lazy Mode = iota
	Now
)

func (m Mode) String() string {
	if m == Now {
		return "now"
	}
	return "lazy"
}

// FuncCaller invokes the function at a relocated address. On the real
// target this is a register-setup-then-branch sequence that loads the
// callee's GOT pointer before jumping; that contract is architecture
// specific, so Module just needs *something* to call when it walks a
// constructor or destructor list, and tests and real targets alike supply
// one via WithFuncCaller.
type FuncCaller interface {
	Call(addr uint32)
}

type noopFuncCaller struct{ logger *slog.Logger }

func (c noopFuncCaller) Call(addr uint32) {
	if c.logger != nil {
		c.logger.Debug("dlink: no FuncCaller configured, skipping constructor/destructor", "addr", addr)
	}
}

// Module is the handle to one loaded module: its base buffer, its
// relocated GOT, its relocated symbol table, and the dynamic-section
// metadata the initial walk extracts.
type Module struct {
	base   []byte
	owned  bool
	loader ByteLoader // non-nil only when owned; Close releases through it if it is a Releaser

	baseAddr uint32 // this port's stand-in for "the load address" — see DESIGN.md

	gotOffset   int
	hashOffset  int
	strtabOff   int
	symtabOff   int
	localGotNo  uint32
	symbolCount uint32
	firstGotSym uint32

	got    []uint32
	hashTb chainedTable
	symtab []sym
	strtab []byte

	handleID uint32

	ctx    *Context
	cs     CriticalSection
	icache ICacheFlusher
	caller FuncCaller
	logger *slog.Logger

	closed bool
}

// Option configures Init/Open. Every option has a working default, so
// callers on the real target need none of them; they exist so Go tests
// and general-purpose hosts can supply working collaborators for the
// platform-specific parts (critical sections, cache flush, the
// call-with-GOT contract) and so multiple independent linker contexts can
// coexist in one process instead of sharing the package-level default.
type Option func(*moduleConfig)

type moduleConfig struct {
	ctx    *Context
	cs     CriticalSection
	icache ICacheFlusher
	caller FuncCaller
	logger *slog.Logger
}

func WithContext(ctx *Context) Option               { return func(c *moduleConfig) { c.ctx = ctx } }
func WithCriticalSection(cs CriticalSection) Option { return func(c *moduleConfig) { c.cs = cs } }
func WithICacheFlusher(f ICacheFlusher) Option      { return func(c *moduleConfig) { c.icache = f } }
func WithFuncCaller(fc FuncCaller) Option           { return func(c *moduleConfig) { c.caller = fc } }
func WithLogger(l *slog.Logger) Option              { return func(c *moduleConfig) { c.logger = l } }

func resolveConfig(opts []Option) moduleConfig {
	cfg := moduleConfig{ctx: defaultCtx}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	if cfg.cs == nil {
		cfg.cs = NoCriticalSection{}
	}
	if cfg.icache == nil {
		cfg.icache = NoICacheFlusher{}
	}
	if cfg.caller == nil {
		cfg.caller = noopFuncCaller{logger: cfg.logger}
	}
	return cfg
}

// Init initializes a module from an already-loaded image: walk buf's
// dynamic section, relocate the GOT and symbol table, optionally
// eager-resolve, flush the instruction cache, and run constructors. The
// caller keeps ownership of buf.
func Init(buf []byte, mode Mode, opts ...Option) (*Module, error) {
	return initModule(buf, mode, false, nil, opts)
}

// Open loads path via loader and then runs Init on the returned bytes.
// The loader is retained so Close can release the buffer it produced.
func Open(path string, mode Mode, loader ByteLoader, opts ...Option) (*Module, error) {
	cfg := resolveConfig(opts)
	if loader == nil {
		cfg.ctx.setLastErr(NoFileAPI)
		return nil, newErr(NoFileAPI)
	}
	buf, err := loader.Load(path)
	if err != nil {
		code := FileRead
		if de, ok := err.(*DLError); ok {
			code = de.Code
		}
		cfg.ctx.setLastErr(code)
		return nil, err
	}
	m, err := initModule(buf, mode, true, loader, opts)
	if err != nil {
		if rel, ok := loader.(Releaser); ok {
			rel.Release(buf)
		}
		return nil, err
	}
	return m, nil
}

func initModule(buf []byte, mode Mode, owned bool, loader ByteLoader, opts []Option) (*Module, error) {
	cfg := resolveConfig(opts)
	if len(buf) == 0 {
		cfg.ctx.setLastErr(DllNull)
		return nil, newErr(DllNull)
	}

	m := &Module{
		base:      buf,
		owned:     owned,
		loader:    loader,
		gotOffset: -1, hashOffset: -1, strtabOff: -1, symtabOff: -1,
		ctx:    cfg.ctx,
		cs:     cfg.cs,
		icache: cfg.icache,
		caller: cfg.caller,
		logger: cfg.logger,
	}

	if err := m.walkDynamic(buf); err != nil {
		cfg.ctx.setLastErr(err.Code)
		return nil, err
	}
	if err := m.buildGOT(buf); err != nil {
		cfg.ctx.setLastErr(err.Code)
		return nil, err
	}
	if err := m.loadTables(buf); err != nil {
		cfg.ctx.setLastErr(err.Code)
		return nil, err
	}

	m.handleID = registerHandle(m)
	installTrampoline(m.got, m.handleID)

	m.relocateGOT()
	m.relocateSymtab()

	if mode == Now {
		if err := m.eagerResolve(); err != nil {
			unregisterHandle(m.handleID)
			cfg.ctx.setLastErr(err.Code)
			return nil, err
		}
	}

	// The GOT overlaps fetched code paths on this architecture family, so
	// the flush is not optional, and it must not be interrupted.
	m.cs.Enter()
	m.icache.FlushCache()
	m.cs.Exit()

	m.runList("__CTOR_LIST__", true)

	cfg.ctx.setLastErr(None)
	return m, nil
}

// walkDynamic decodes (tag, value) pairs until the terminating DT_NULL,
// validating the MIPS-specific tags along the way.
func (m *Module) walkDynamic(buf []byte) *DLError {
	for off := 0; ; off += dynEntrySize {
		if off+dynEntrySize > len(buf) {
			return wrapErr(DllFormat, errOutOfRange)
		}
		e := decodeDyn(buf, off)
		if e.Tag == dtNull {
			break
		}
		switch e.Tag {
		case dtPLTGOT:
			m.gotOffset = int(e.Value)
		case dtHash:
			m.hashOffset = int(e.Value)
		case dtStrtab:
			m.strtabOff = int(e.Value)
		case dtSymtab:
			m.symtabOff = int(e.Value)
		case dtSyment:
			if e.Value != symEntrySize {
				return newErr(DllFormat)
			}
		case dtMipsRldVersion:
			if e.Value != 1 {
				return newErr(DllFormat)
			}
		case dtMipsFlags:
			if e.Value&rhfQuickstart != 0 {
				return newErr(DllFormat)
			}
		case dtMipsLocalGotno:
			m.localGotNo = e.Value
		case dtMipsBaseAddress:
			if e.Value != 0 {
				return newErr(DllFormat)
			}
		case dtMipsSymtabno:
			m.symbolCount = e.Value
		case dtMipsGotsym:
			m.firstGotSym = e.Value
		}
	}

	if m.gotOffset < 0 || m.hashOffset < 0 || m.strtabOff < 0 || m.symtabOff < 0 {
		return newErr(DllFormat)
	}
	if m.firstGotSym > m.symbolCount {
		return newErr(DllFormat)
	}
	return nil
}

// buildGOT sizes the GOT — localGotNo local entries (the first two of
// which are the reserved trampoline/handle words, which DT_MIPS_LOCAL_GOTNO
// counts) plus one entry per external symbol from firstGotSym to
// symbolCount — and reinterprets the module's byte buffer as a []uint32
// over that region so every later step can index it directly.
func (m *Module) buildGOT(buf []byte) *DLError {
	extGot := m.symbolCount - m.firstGotSym
	total := uint64(m.localGotNo) + uint64(extGot)
	if m.localGotNo < 2 {
		return newErr(DllFormat)
	}
	if m.gotOffset%4 != 0 || m.gotOffset > len(buf) {
		return wrapErr(DllFormat, errOutOfRange)
	}
	if total*4 > uint64(len(buf)-m.gotOffset) {
		return wrapErr(DllFormat, errOutOfRange)
	}
	m.got = unsafe.Slice((*uint32)(unsafe.Pointer(&buf[m.gotOffset])), int(total))
	return nil
}

func (m *Module) loadTables(buf []byte) *DLError {
	ht, err := decodeChainedTable(buf, m.hashOffset)
	if err != nil {
		return err.(*DLError)
	}
	m.hashTb = ht

	if m.symtabOff > len(buf) || uint64(m.symbolCount)*symEntrySize > uint64(len(buf)-m.symtabOff) {
		return wrapErr(DllFormat, errOutOfRange)
	}
	m.symtab = make([]sym, m.symbolCount)
	for i := uint32(0); i < m.symbolCount; i++ {
		m.symtab[i] = decodeSym(buf, m.symtabOff+int(i)*symEntrySize)
	}

	if m.strtabOff > len(buf) {
		return wrapErr(DllFormat, errOutOfRange)
	}
	m.strtab = buf[m.strtabOff:]
	return nil
}

// relocateGOT turns link-time offsets into absolute addresses: every
// entry past the two reserved words gets the module's base address added
// in.
func (m *Module) relocateGOT() {
	m.baseAddr = uint32(uintptr(unsafe.Pointer(&m.base[0])))
	for i := 2; i < len(m.got); i++ {
		m.got[i] += m.baseAddr
	}
}

// relocateSymtab rebases every defined symbol's value the same way, so
// later address comparisons between the GOT and the symbol table line up.
func (m *Module) relocateSymtab() {
	for i := range m.symtab {
		if m.symtab[i].Value != 0 {
			m.symtab[i].Value += m.baseAddr
		}
	}
}

func (m *Module) symName(s sym) string {
	return cstring(m.strtab, int(s.Name))
}
