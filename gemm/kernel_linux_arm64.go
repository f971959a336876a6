//go:build linux && arm64

package gemm

import (
	"fmt"
	"unsafe"

	"github.com/ebitengine/purego"
	"golang.org/x/sys/unix"

	"github.com/elara-ml/gemmjit/asm"
)

// Kernel is a finalized microkernel mapped into executable memory. It owns
// no state beyond the mapping: invocations are pure over their arguments and
// may run concurrently as long as each targets a disjoint output region,
// which is the caller's tiling responsibility.
type Kernel struct {
	mem   []byte
	entry uintptr
}

// Load maps prog into an anonymous RX region. The mapping starts writable
// for the copy, is flipped to read-execute, and the instruction cache is
// invalidated before the entry point is exposed.
func Load(prog asm.Program) (*Kernel, error) {
	code := prog.Code()
	if len(code) == 0 {
		return nil, fmt.Errorf("gemm: load of empty program")
	}
	pageSize := unix.Getpagesize()
	size := (len(code) + pageSize - 1) / pageSize * pageSize
	mem, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("gemm: mmap kernel region: %w", err)
	}
	copy(mem, code)
	if err := unix.Mprotect(mem, unix.PROT_READ|unix.PROT_EXEC); err != nil {
		_ = unix.Munmap(mem)
		return nil, fmt.Errorf("gemm: mprotect kernel region: %w", err)
	}
	base := uintptr(unsafe.Pointer(&mem[0]))
	flushICache(base, base+uintptr(len(code)))
	return &Kernel{mem: mem, entry: base}, nil
}

// Entry returns the kernel's entry address.
func (k *Kernel) Entry() uintptr { return k.entry }

// Call invokes the kernel. mr must not exceed the generation-time MaxRows,
// kcBytes must equal the generation-time KBytes, and all strides are in
// bytes. The two final arguments travel on the stack per AAPCS64.
func (k *Kernel) Call(mr, nc, kcBytes int, a unsafe.Pointer, aStride int, w, c unsafe.Pointer, cmStride, cnStride int, params unsafe.Pointer) {
	purego.SyscallN(k.entry,
		uintptr(mr),
		uintptr(nc),
		uintptr(kcBytes),
		uintptr(a),
		uintptr(aStride),
		uintptr(w),
		uintptr(c),
		uintptr(cmStride),
		uintptr(cnStride),
		uintptr(params),
	)
}

// Close unmaps the kernel. The kernel must not be invoked afterwards.
func (k *Kernel) Close() error {
	if k.mem == nil {
		return nil
	}
	err := unix.Munmap(k.mem)
	k.mem = nil
	k.entry = 0
	return err
}

// flushICache cleans the data cache and invalidates the instruction cache
// over [begin, end). Required on ARM64: the caches are not coherent after
// writing code.
func flushICache(begin, end uintptr)
