//go:build mips || mipsle

package dlink

// trampolineAddr returns the address of dlResolveWrapper, implemented in
// trampoline.s. installTrampoline uses it to fill got[0] with a real,
// callable address on the one architecture family this linker actually
// targets.
func trampolineAddr() uint32

func installTrampoline(got []uint32, handleID uint32) {
	got[0] = trampolineAddr()
	got[1] = handleID
}
