package dlink

import (
	"strconv"
	"strings"
)

// symbolRecord is one parsed entry in the global symbol map: a name hash
// plus the address it resolves to. Entry index 0 is always the zero value
// and never looked up — see chainedTable's doc comment.
type symbolRecord struct {
	hash uint32
	addr uintptr
}

// symbolMap is the process-wide (or Context-scoped) directory built by
// ParseMap: a chained hash table over symbolRecords, looked up by hash
// only. Two distinct names that collide on elfHash resolve to whichever
// was inserted first; callers feeding the map are responsible for keeping
// it collision-free. The format affords no cheap way to do better — the
// map stores hashes, not names, so a full-name confirm would mean keeping
// the whole text blob alive.
type symbolMap struct {
	table   chainedTable
	entries []symbolRecord
}

// lookup walks the bucket for name's hash, comparing hashes only.
func (m *symbolMap) lookup(name string) (uintptr, bool) {
	if m == nil || m.table.nbucket() == 0 {
		return 0, false
	}
	h := elfHash(name)
	b := h % m.table.nbucket()
	for i := m.table.bucketHead(b); i != chainEnd; i = m.table.chainNext(i) {
		if m.entries[i].hash == h {
			return m.entries[i].addr, true
		}
	}
	return 0, false
}

// validMapLine parses one "<name> <type> <hex-address> [<hex-size>] ..."
// line. Trailing tokens beyond the address are ignored. A line is valid
// only if the address parses, is nonzero, and the type's first letter
// (case-folded) is T, R, D or B — text, rodata, data or bss.
func validMapLine(line string) (name string, addr uint32, ok bool) {
	fields := strings.Fields(line)
	if len(fields) < 3 {
		return "", 0, false
	}
	name, typ, addrField := fields[0], fields[1], fields[2]
	if typ == "" {
		return "", 0, false
	}
	switch c := typ[0]; c {
	case 'T', 't', 'R', 'r', 'D', 'd', 'B', 'b':
	default:
		return "", 0, false
	}
	// Addresses may be printed as 64-bit hex; only the low 32 bits survive.
	v, err := strconv.ParseUint(strings.TrimPrefix(addrField, "0x"), 16, 64)
	if err != nil {
		return "", 0, false
	}
	v32 := uint32(v)
	if v32 == 0 {
		return "", 0, false
	}
	return name, v32, true
}

// buildSymbolMap counts lines as an upper bound on capacity, then fills a
// chained hash table with every valid line. The chain region gets one
// extra slot because entry index 0 is reserved: a fully valid input uses
// indices 1 through len(lines).
func buildSymbolMap(data []byte) (*symbolMap, int, error) {
	text := string(data)
	lines := strings.Split(text, "\n")
	capacity := uint32(len(lines))
	if capacity == 0 {
		return nil, 0, newErr(NoSymbols)
	}

	table := newChainedTable(capacity, capacity+1)
	entries := make([]symbolRecord, capacity+1)

	var next uint32 = 1
	for _, line := range lines {
		name, addr, ok := validMapLine(line)
		if !ok {
			continue
		}
		h := elfHash(name)
		b := h % capacity
		entries[next] = symbolRecord{hash: h, addr: uintptr(addr)}
		table.append(b, next)
		next++
	}

	count := int(next - 1)
	if count == 0 {
		return nil, 0, newErr(NoSymbols)
	}
	return &symbolMap{table: table, entries: entries[:next]}, count, nil
}
