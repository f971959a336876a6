// Package testutil disassembles emitted machine code with GNU objdump for
// golden-instruction tests. Tests using it skip when objdump is unavailable.
package testutil

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"testing"
)

// machineAArch64 is the ELF e_machine value for AArch64.
const machineAArch64 = 183

// Line is a single instruction line from the disassembly.
type Line struct {
	Text       string
	Normalized string
	Mnemonic   string
}

// Contains reports whether the normalized instruction text contains substr.
func (l Line) Contains(substr string) bool {
	return strings.Contains(l.Normalized, substr)
}

// Disassemble wraps code in a minimal AArch64 ELF and runs
// objdump -d --no-show-raw-insn over it, returning one Line per instruction.
func Disassemble(t *testing.T, code []byte) []Line {
	t.Helper()

	objdump, err := exec.LookPath("objdump")
	if err != nil {
		t.Skipf("objdump not found: %v", err)
	}

	tmp, err := os.CreateTemp(t.TempDir(), "kernel-*.elf")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	if _, err := tmp.Write(wrapELF(code)); err != nil {
		t.Fatalf("write temp ELF: %v", err)
	}
	if err := tmp.Close(); err != nil {
		t.Fatalf("close temp ELF: %v", err)
	}

	// The ELF header carries the machine type; a non-multiarch binutils
	// build cannot disassemble it and is as good as absent.
	out, err := exec.Command(objdump, "-d", "--no-show-raw-insn", tmp.Name()).CombinedOutput()
	if err != nil {
		t.Skipf("objdump cannot disassemble aarch64: %v\n%s", err, out)
	}

	lines, err := parseDisassembly(string(out))
	if err != nil {
		t.Fatalf("parse objdump output: %v", err)
	}
	if len(lines) == 0 {
		t.Fatalf("objdump produced no instructions:\n%s", out)
	}
	return lines
}

// wrapELF builds the smallest relocatable container objdump will
// disassemble: an ELF header, a .text section holding code, and the section
// name table.
func wrapELF(code []byte) []byte {
	const (
		headerSize    = 64
		secHeaderSize = 64
		sectionCount  = 3 // null, .text, .shstrtab
	)

	shstr := []byte("\x00.text\x00.shstrtab\x00")
	textOffset := headerSize
	shstrOffset := textOffset + (len(code)+15)/16*16
	sectionOffset := shstrOffset + (len(shstr)+7)/8*8
	buf := make([]byte, sectionOffset+sectionCount*secHeaderSize)
	copy(buf[textOffset:], code)
	copy(buf[shstrOffset:], shstr)

	le := binary.LittleEndian
	copy(buf, []byte{0x7F, 'E', 'L', 'F', 2, 1, 1}) // 64-bit little-endian
	le.PutUint16(buf[16:], 2)                       // e_type ET_EXEC
	le.PutUint16(buf[18:], machineAArch64)
	le.PutUint32(buf[20:], 1) // e_version
	le.PutUint64(buf[40:], uint64(sectionOffset))
	le.PutUint16(buf[52:], headerSize)
	le.PutUint16(buf[58:], secHeaderSize)
	le.PutUint16(buf[60:], sectionCount)
	le.PutUint16(buf[62:], 2) // e_shstrndx

	writeSection := func(idx int, nameOff, typ uint32, flags uint64, off, size, align int) {
		s := buf[sectionOffset+idx*secHeaderSize:]
		le.PutUint32(s[0:], nameOff)
		le.PutUint32(s[4:], typ)
		le.PutUint64(s[8:], flags)
		le.PutUint64(s[24:], uint64(off))
		le.PutUint64(s[32:], uint64(size))
		le.PutUint64(s[48:], uint64(align))
	}
	// .text: SHT_PROGBITS, ALLOC|EXECINSTR.
	writeSection(1, 1, 1, 0x6, textOffset, len(code), 16)
	// .shstrtab: SHT_STRTAB.
	writeSection(2, uint32(len("\x00.text\x00")), 3, 0, shstrOffset, len(shstr), 1)
	return buf
}

func parseDisassembly(out string) ([]Line, error) {
	scanner := bufio.NewScanner(strings.NewReader(out))
	var lines []Line
	for scanner.Scan() {
		raw := scanner.Text()
		colon := strings.IndexRune(raw, ':')
		if colon == -1 {
			continue
		}
		text := strings.TrimSpace(raw[colon+1:])
		switch {
		case text == "", strings.HasPrefix(text, "<"),
			strings.HasPrefix(text, "."), strings.HasPrefix(text, "file format"):
			continue
		}
		fields := strings.Fields(text)
		if len(fields) == 0 {
			continue
		}
		lines = append(lines, Line{
			Text:       text,
			Normalized: strings.Join(fields, " "),
			Mnemonic:   strings.ToLower(fields[0]),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanner error: %w", err)
	}
	return lines, nil
}
