package aarch64

import "fmt"

// XReg identifies a 64-bit general-purpose register. Register 31 encodes SP
// or XZR depending on the instruction; both aliases are provided and the
// encoders pick the interpretation the instruction defines.
type XReg uint8

const (
	X0 XReg = iota
	X1
	X2
	X3
	X4
	X5
	X6
	X7
	X8
	X9
	X10
	X11
	X12
	X13
	X14
	X15
	X16
	X17
	X18
	X19
	X20
	X21
	X22
	X23
	X24
	X25
	X26
	X27
	X28
	X29
	X30
	SP  XReg = 31
	XZR XReg = 31
)

func (r XReg) validate() error {
	if r > 31 {
		return fmt.Errorf("aarch64 asm: invalid general register X%d", r)
	}
	return nil
}

// VReg identifies a 128-bit SIMD register V0-V31. The width an instruction
// touches (S/D/Q scalar or the .4S/.16B vector arrangements) is fixed by the
// instruction method, not the register value.
type VReg uint8

const (
	V0 VReg = iota
	V1
	V2
	V3
	V4
	V5
	V6
	V7
	V8
	V9
	V10
	V11
	V12
	V13
	V14
	V15
	V16
	V17
	V18
	V19
	V20
	V21
	V22
	V23
	V24
	V25
	V26
	V27
	V28
	V29
	V30
	V31
)

func (r VReg) validate() error {
	if r > 31 {
		return fmt.Errorf("aarch64 asm: invalid vector register V%d", r)
	}
	return nil
}

// Cond is the 4-bit condition code field used by conditional branches and
// conditional selects.
type Cond uint8

const (
	EQ Cond = 0x0
	NE Cond = 0x1
	HS Cond = 0x2 // unsigned >=, also CS
	LO Cond = 0x3 // unsigned <, also CC
	MI Cond = 0x4
	PL Cond = 0x5
	HI Cond = 0x8 // unsigned >
	LS Cond = 0x9 // unsigned <=
	GE Cond = 0xA
	LT Cond = 0xB
	GT Cond = 0xC
	LE Cond = 0xD
)
