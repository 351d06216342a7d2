package dlink

import "encoding/binary"

// Fixed MIPS dynamic-tag and ELF32 layout constants. This is not a general
// ELF parser: only the tags the module format actually uses are
// recognized; everything else is walked over and ignored.
const (
	dtNull   = 0
	dtPLTGOT = 3
	dtHash   = 4
	dtStrtab = 5
	dtSymtab = 6
	dtSyment = 11

	dtMipsRldVersion  = 0x70000001
	dtMipsFlags       = 0x70000005
	dtMipsBaseAddress = 0x70000006
	dtMipsLocalGotno  = 0x7000000a
	dtMipsSymtabno    = 0x70000011
	dtMipsGotsym      = 0x70000013

	rhfQuickstart = 0x00000001
)

const (
	sttObject = 1
	sttFunc   = 2
)

// symEntrySize is the only Elf32_Sym size this linker accepts.
const symEntrySize = 16

// dynEntrySize is the size of one (tag, value) pair in the dynamic section.
const dynEntrySize = 8

// chainEnd is the empty/terminator sentinel used throughout the chained
// hash table format. Index 0 of every entry table is reserved and never
// assigned, which lets a bucket head or chain link of 0 also mean "empty"
// without ambiguity.
const chainEnd uint32 = 0xFFFFFFFF

// sym mirrors Elf32_Sym: 16 bytes, { st_name, st_value, st_size uint32;
// st_info, st_other uint8; st_shndx uint16 }.
type sym struct {
	Name  uint32
	Value uint32
	Size  uint32
	Info  uint8
	Other uint8
	Shndx uint16
}

func (s sym) symType() uint8 { return s.Info & 0xf }

// decodeSym reads one 16-byte Elf32_Sym record at offset off in buf.
func decodeSym(buf []byte, off int) sym {
	return sym{
		Name:  binary.LittleEndian.Uint32(buf[off : off+4]),
		Value: binary.LittleEndian.Uint32(buf[off+4 : off+8]),
		Size:  binary.LittleEndian.Uint32(buf[off+8 : off+12]),
		Info:  buf[off+12],
		Other: buf[off+13],
		Shndx: binary.LittleEndian.Uint16(buf[off+14 : off+16]),
	}
}

func encodeSym(buf []byte, off int, s sym) {
	binary.LittleEndian.PutUint32(buf[off:off+4], s.Name)
	binary.LittleEndian.PutUint32(buf[off+4:off+8], s.Value)
	binary.LittleEndian.PutUint32(buf[off+8:off+12], s.Size)
	buf[off+12] = s.Info
	buf[off+13] = s.Other
	binary.LittleEndian.PutUint16(buf[off+14:off+16], s.Shndx)
}

// dynEntry is one (tag, value) pair from the module's dynamic section.
type dynEntry struct {
	Tag   int32
	Value uint32
}

func decodeDyn(buf []byte, off int) dynEntry {
	return dynEntry{
		Tag:   int32(binary.LittleEndian.Uint32(buf[off : off+4])),
		Value: binary.LittleEndian.Uint32(buf[off+4 : off+8]),
	}
}

// cstring reads a NUL-terminated string out of buf starting at off. An
// offset outside buf reads as the empty string rather than panicking, so
// a malformed st_name degrades to a lookup miss.
func cstring(buf []byte, off int) string {
	if off < 0 || off >= len(buf) {
		return ""
	}
	end := off
	for end < len(buf) && buf[end] != 0 {
		end++
	}
	return string(buf[off:end])
}
