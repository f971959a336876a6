package aarch64

import "fmt"

// Scalar width selectors for SIMD&FP loads and stores.
type scalarWidth uint8

const (
	widthS scalarWidth = 4  // 32-bit lane
	widthD scalarWidth = 8  // 64-bit half vector
	widthQ scalarWidth = 16 // full 128-bit vector
)

func encodeAddXReg(rd, rn, rm XReg) (uint32, error) {
	if err := firstErr(rd.validate(), rn.validate(), rm.validate()); err != nil {
		return 0, err
	}
	return 0x8B000000 | uint32(rm)<<16 | uint32(rn)<<5 | uint32(rd), nil
}

func encodeSubXReg(rd, rn, rm XReg) (uint32, error) {
	if err := firstErr(rd.validate(), rn.validate(), rm.validate()); err != nil {
		return 0, err
	}
	return 0xCB000000 | uint32(rm)<<16 | uint32(rn)<<5 | uint32(rd), nil
}

func encodeSubsXImm(rd, rn XReg, imm uint32) (uint32, error) {
	if err := firstErr(rd.validate(), rn.validate()); err != nil {
		return 0, err
	}
	if imm > 0xFFF {
		return 0, fmt.Errorf("aarch64 asm: SUBS immediate %d out of range", imm)
	}
	return 0xF1000000 | imm<<10 | uint32(rn)<<5 | uint32(rd), nil
}

func encodeCmpXImm(rn XReg, imm uint32) (uint32, error) {
	// CMP is SUBS with the zero register destination.
	return encodeSubsXImm(XZR, rn, imm)
}

// encodeTstXMask encodes TST (ANDS XZR) with an all-low-ones bitmask
// immediate, the only shape the generator tests remaining-length bits with.
func encodeTstXMask(rn XReg, mask uint64) (uint32, error) {
	if err := rn.validate(); err != nil {
		return 0, err
	}
	ones := uint32(0)
	for m := mask; m&1 == 1; m >>= 1 {
		ones++
	}
	if ones == 0 || ones > 63 || mask != (1<<ones)-1 {
		return 0, fmt.Errorf("aarch64 asm: unsupported TST mask %#x", mask)
	}
	// 64-bit bitmask immediate: N=1, immr=0, imms=ones-1.
	return 0xF2400000 | (ones-1)<<10 | uint32(rn)<<5 | uint32(XZR), nil
}

func encodeCselX(rd, rn, rm XReg, cond Cond) (uint32, error) {
	if err := firstErr(rd.validate(), rn.validate(), rm.validate()); err != nil {
		return 0, err
	}
	return 0x9A800000 | uint32(rm)<<16 | uint32(cond&0xF)<<12 | uint32(rn)<<5 | uint32(rd), nil
}

// encodeLdrXUnsigned encodes LDR Xt, [Xn, #imm] with an unsigned offset
// scaled by 8. The generator uses it for the stack-passed arguments.
func encodeLdrXUnsigned(rt, rn XReg, imm int32) (uint32, error) {
	if err := firstErr(rt.validate(), rn.validate()); err != nil {
		return 0, err
	}
	if imm < 0 || imm%8 != 0 || imm/8 > 0xFFF {
		return 0, fmt.Errorf("aarch64 asm: LDR offset %d unencodable", imm)
	}
	return 0xF9400000 | uint32(imm/8)<<10 | uint32(rn)<<5 | uint32(rt), nil
}

// encodePrfm encodes PRFM PLDL1KEEP, [Xn, #imm] (imm scaled by 8).
func encodePrfm(rn XReg, imm int32) (uint32, error) {
	if err := rn.validate(); err != nil {
		return 0, err
	}
	if imm < 0 || imm%8 != 0 || imm/8 > 0xFFF {
		return 0, fmt.Errorf("aarch64 asm: PRFM offset %d unencodable", imm)
	}
	return 0xF9800000 | uint32(imm/8)<<10 | uint32(rn)<<5, nil
}

// encodeLdrVPost encodes LDR (S/D/Q) Vt, [Xn], #imm post-indexed.
func encodeLdrVPost(rt VReg, rn XReg, imm int32, w scalarWidth) (uint32, error) {
	return encodeLoadStoreVPost(rt, rn, imm, w, false)
}

// encodeStrVPost encodes STR (S/D/Q) Vt, [Xn], #imm post-indexed.
func encodeStrVPost(rt VReg, rn XReg, imm int32, w scalarWidth) (uint32, error) {
	return encodeLoadStoreVPost(rt, rn, imm, w, true)
}

func encodeLoadStoreVPost(rt VReg, rn XReg, imm int32, w scalarWidth, store bool) (uint32, error) {
	if err := firstErr(rt.validate(), rn.validate()); err != nil {
		return 0, err
	}
	if imm < -256 || imm > 255 {
		return 0, fmt.Errorf("aarch64 asm: post-index offset %d out of range", imm)
	}
	var base uint32
	switch w {
	case widthQ:
		base = 0x3CC00400
	case widthD:
		base = 0xFC400400
	case widthS:
		base = 0xBC400400
	default:
		return 0, fmt.Errorf("aarch64 asm: unsupported SIMD width %d", w)
	}
	if store {
		base &^= 0x00400000
	}
	return base | (uint32(imm)&0x1FF)<<12 | uint32(rn)<<5 | uint32(rt), nil
}

// encodeStrSUnsigned encodes STR St, [Xn] (unsigned zero offset), used by
// the single-lane column store which never advances the pointer.
func encodeStrSUnsigned(rt VReg, rn XReg) (uint32, error) {
	if err := firstErr(rt.validate(), rn.validate()); err != nil {
		return 0, err
	}
	return 0xBD000000 | uint32(rn)<<5 | uint32(rt), nil
}

// encodeLdpQPost encodes LDP Qt1, Qt2, [Xn], #imm post-indexed.
func encodeLdpQPost(rt1, rt2 VReg, rn XReg, imm int32) (uint32, error) {
	if err := firstErr(rt1.validate(), rt2.validate(), rn.validate()); err != nil {
		return 0, err
	}
	if imm%16 != 0 || imm/16 < -64 || imm/16 > 63 {
		return 0, fmt.Errorf("aarch64 asm: LDP offset %d unencodable", imm)
	}
	imm7 := uint32(imm/16) & 0x7F
	return 0xACC00000 | imm7<<15 | uint32(rt2)<<10 | uint32(rn)<<5 | uint32(rt1), nil
}

// encodeSt1TwoQPost encodes ST1 {Vt.16B, Vt+1.16B}, [Xn], Xm.
func encodeSt1TwoQPost(rt VReg, rn, rm XReg) (uint32, error) {
	if err := firstErr(rt.validate(), rn.validate(), rm.validate()); err != nil {
		return 0, err
	}
	if rt > 30 {
		return 0, fmt.Errorf("aarch64 asm: ST1 pair base V%d has no successor", rt)
	}
	return 0x4C80A000 | uint32(rm)<<16 | uint32(rn)<<5 | uint32(rt), nil
}

// encodeLd2R4S encodes LD2R {Vt.4S, Vt+1.4S}, [Xn]: broadcast two adjacent
// 32-bit values into a register pair.
func encodeLd2R4S(rt VReg, rn XReg) (uint32, error) {
	if err := firstErr(rt.validate(), rn.validate()); err != nil {
		return 0, err
	}
	if rt > 30 {
		return 0, fmt.Errorf("aarch64 asm: LD2R base V%d has no successor", rt)
	}
	return 0x4D60C800 | uint32(rn)<<5 | uint32(rt), nil
}

// encodeLd3R4SPost encodes LD3R {Vt.4S..Vt+2.4S}, [Xn], #12: broadcast
// three adjacent 32-bit values and advance the pointer past them.
func encodeLd3R4SPost(rt VReg, rn XReg) (uint32, error) {
	if err := firstErr(rt.validate(), rn.validate()); err != nil {
		return 0, err
	}
	if rt > 29 {
		return 0, fmt.Errorf("aarch64 asm: LD3R base V%d has no successors", rt)
	}
	return 0x4DDFE800 | uint32(rn)<<5 | uint32(rt), nil
}

// encodeFmlaLane4S encodes FMLA Vd.4S, Vn.4S, Vm.S[lane]: fused
// multiply-add broadcasting one scalar lane of Vm across Vn.
func encodeFmlaLane4S(rd, rn, rm VReg, lane int) (uint32, error) {
	if err := firstErr(rd.validate(), rn.validate(), rm.validate()); err != nil {
		return 0, err
	}
	if lane < 0 || lane > 3 {
		return 0, fmt.Errorf("aarch64 asm: FMLA lane %d out of range", lane)
	}
	l := uint32(lane) & 1
	h := uint32(lane) >> 1
	return 0x4F801000 | l<<21 | uint32(rm)<<16 | h<<11 | uint32(rn)<<5 | uint32(rd), nil
}

func encodeFmax4S(rd, rn, rm VReg) (uint32, error) {
	if err := firstErr(rd.validate(), rn.validate(), rm.validate()); err != nil {
		return 0, err
	}
	return 0x4E20F400 | uint32(rm)<<16 | uint32(rn)<<5 | uint32(rd), nil
}

func encodeFmin4S(rd, rn, rm VReg) (uint32, error) {
	if err := firstErr(rd.validate(), rn.validate(), rm.validate()); err != nil {
		return 0, err
	}
	return 0x4EA0F400 | uint32(rm)<<16 | uint32(rn)<<5 | uint32(rd), nil
}

func encodeFadd4S(rd, rn, rm VReg) (uint32, error) {
	if err := firstErr(rd.validate(), rn.validate(), rm.validate()); err != nil {
		return 0, err
	}
	return 0x4E20D400 | uint32(rm)<<16 | uint32(rn)<<5 | uint32(rd), nil
}

func encodeFmul4S(rd, rn, rm VReg) (uint32, error) {
	if err := firstErr(rd.validate(), rn.validate(), rm.validate()); err != nil {
		return 0, err
	}
	return 0x6E20DC00 | uint32(rm)<<16 | uint32(rn)<<5 | uint32(rd), nil
}

// encodeMov16B encodes MOV Vd.16B, Vn.16B (an ORR alias).
func encodeMov16B(rd, rn VReg) (uint32, error) {
	if err := firstErr(rd.validate(), rn.validate()); err != nil {
		return 0, err
	}
	return 0x4EA01C00 | uint32(rn)<<16 | uint32(rn)<<5 | uint32(rd), nil
}

// encodeDupD2 encodes DUP Dd, Vn.D[1]: shift the high half of Vn into the
// low half of Vd.
func encodeDupD2(rd, rn VReg) (uint32, error) {
	if err := firstErr(rd.validate(), rn.validate()); err != nil {
		return 0, err
	}
	return 0x5E180400 | uint32(rn)<<5 | uint32(rd), nil
}

// encodeMoviZero4S encodes MOVI Vd.4S, #0.
func encodeMoviZero4S(rd VReg) (uint32, error) {
	if err := rd.validate(); err != nil {
		return 0, err
	}
	return 0x4F000400 | uint32(rd), nil
}

func encodeBcond(cond Cond) uint32 { return 0x54000000 | uint32(cond&0xF) }

func encodeTbz(rt XReg, bit uint32) (uint32, error) {
	if err := rt.validate(); err != nil {
		return 0, err
	}
	if bit > 31 {
		return 0, fmt.Errorf("aarch64 asm: TBZ bit %d above word range", bit)
	}
	return 0x36000000 | bit<<19 | uint32(rt), nil
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
