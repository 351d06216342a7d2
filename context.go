package dlink

import (
	"log/slog"
	"sync"
)

// ResolveFunc is an optional resolver that, once installed, takes the
// place of the global symbol map for GOT resolution — a host can wire in
// symbols that were never going to be listed in a text map, such as ones
// synthesized at runtime.
type ResolveFunc func(name string) (uintptr, bool)

// Context bundles the global symbol map, the optional resolve callback,
// and the sticky last-error code. The package keeps one as a default
// behind the package-level functions, but NewContext lets a host run more
// than one independent linker instance in the same process — useful for
// tests, and for the CLI's per-invocation isolation.
type Context struct {
	mu      sync.RWMutex
	symbols *symbolMap
	resolve ResolveFunc
	lastErr ErrorCode
	logger  *slog.Logger
}

// NewContext returns a Context with no symbol map loaded yet and the
// package's default logger.
func NewContext() *Context {
	return &Context{logger: slog.Default()}
}

var defaultCtx = NewContext()

func (c *Context) setLastErr(code ErrorCode) {
	c.mu.Lock()
	c.lastErr = code
	c.mu.Unlock()
}

// Error returns the message for the most recent failed operation on c and
// clears it. It returns "" when no error is pending.
func (c *Context) Error() string {
	c.mu.Lock()
	code := c.lastErr
	c.lastErr = None
	c.mu.Unlock()
	if code == None {
		return ""
	}
	return code.String()
}

// SetResolveCallback installs fn as the resolver for GOT patching,
// replacing the global map lookup while set. A nil fn clears it and
// restores the map.
func (c *Context) SetResolveCallback(fn ResolveFunc) {
	c.mu.Lock()
	c.resolve = fn
	c.mu.Unlock()
}

// ParseMap parses a nm-style symbol listing and installs it as c's global
// map, replacing any map loaded previously. count is the number of valid
// entries kept.
func (c *Context) ParseMap(data []byte) (int, error) {
	symMap, count, err := buildSymbolMap(data)
	if err != nil {
		c.setLastErr(err.(*DLError).Code)
		return 0, err
	}
	c.mu.Lock()
	c.symbols = symMap
	c.mu.Unlock()
	c.logger.Debug("dlink: parsed symbol map", "symbols", count)
	c.setLastErr(None)
	return count, nil
}

// LoadMap reads path via loader and parses it as a symbol map.
func (c *Context) LoadMap(path string, loader ByteLoader) (int, error) {
	if loader == nil {
		c.setLastErr(NoFileAPI)
		return 0, newErr(NoFileAPI)
	}
	data, err := loader.Load(path)
	if err != nil {
		if de, ok := err.(*DLError); ok {
			c.setLastErr(de.Code)
		} else {
			c.setLastErr(FileRead)
		}
		return 0, err
	}
	defer func() {
		if rel, ok := loader.(Releaser); ok {
			rel.Release(data)
		}
	}()
	return c.ParseMap(data)
}

// UnloadMap discards the currently loaded global symbol map.
func (c *Context) UnloadMap() {
	c.mu.Lock()
	c.symbols = nil
	c.mu.Unlock()
}

// GetSymbol resolves name against the global map only; module-local
// lookup is Module.Sym.
func (c *Context) GetSymbol(name string) (uintptr, error) {
	c.mu.RLock()
	m := c.symbols
	c.mu.RUnlock()
	if m == nil {
		c.setLastErr(NoMap)
		return 0, newErr(NoMap)
	}
	addr, ok := m.lookup(name)
	if !ok {
		c.setLastErr(MapSymbol)
		return 0, newErr(MapSymbol)
	}
	c.setLastErr(None)
	return addr, nil
}

// resolveName is the lookup the GOT patch path drives. An installed
// resolve callback replaces the global map outright — it is the host
// saying "I know where symbols live", not a fallback for map misses.
func (c *Context) resolveName(name string) (uint32, bool) {
	c.mu.RLock()
	m := c.symbols
	fn := c.resolve
	c.mu.RUnlock()

	if fn != nil {
		if addr, ok := fn(name); ok {
			return uint32(addr), true
		}
		return 0, false
	}
	if m != nil {
		if addr, ok := m.lookup(name); ok {
			return uint32(addr), true
		}
	}
	return 0, false
}

// Package-level wrappers operate on the default Context, for hosts that
// want the one-linker-per-process model instead of threading a Context
// around.

func ParseMap(data []byte) (int, error) { return defaultCtx.ParseMap(data) }

func LoadMap(path string, loader ByteLoader) (int, error) { return defaultCtx.LoadMap(path, loader) }

func UnloadMap() { defaultCtx.UnloadMap() }

func GetSymbol(name string) (uintptr, error) { return defaultCtx.GetSymbol(name) }

func SetResolveCallback(fn ResolveFunc) { defaultCtx.SetResolveCallback(fn) }

func Error() string { return defaultCtx.Error() }
