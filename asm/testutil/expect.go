package testutil

import (
	"fmt"
	"testing"
)

// Expect describes one instruction the disassembly must show at its position.
type Expect struct {
	Name     string
	Mnemonic string
	Contains []string
}

func (e Expect) match(line Line) error {
	if e.Mnemonic != "" && line.Mnemonic != e.Mnemonic {
		return fmt.Errorf("mnemonic=%s, want %s", line.Mnemonic, e.Mnemonic)
	}
	for _, needle := range e.Contains {
		if !line.Contains(needle) {
			return fmt.Errorf("missing %q in %q", needle, line.Normalized)
		}
	}
	return nil
}

// Verify checks each expectation against the disassembly in order. Trailing
// instructions beyond the expectations are ignored, so alignment padding does
// not fail the test.
func Verify(t *testing.T, lines []Line, expect []Expect) {
	t.Helper()
	if len(lines) < len(expect) {
		t.Fatalf("disassembly has %d instructions, want at least %d", len(lines), len(expect))
	}
	for idx, exp := range expect {
		if err := exp.match(lines[idx]); err != nil {
			t.Fatalf("instruction %q mismatch at line %d: %v\nline: %s", exp.Name, idx, err, lines[idx].Text)
		}
	}
}

// ContainsMnemonic reports whether any disassembled instruction uses the
// given mnemonic.
func ContainsMnemonic(lines []Line, mnemonic string) bool {
	for _, l := range lines {
		if l.Mnemonic == mnemonic {
			return true
		}
	}
	return false
}
