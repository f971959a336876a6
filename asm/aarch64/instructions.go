package aarch64

// Instruction methods. Each appends exactly one word; failures stick to the
// assembler and make the rest of the stream a no-op.

// AddX emits ADD Xd, Xn, Xm.
func (a *Assembler) AddX(rd, rn, rm XReg) { a.emit(encodeAddXReg(rd, rn, rm)) }

// SubX emits SUB Xd, Xn, Xm.
func (a *Assembler) SubX(rd, rn, rm XReg) { a.emit(encodeSubXReg(rd, rn, rm)) }

// SubsXImm emits SUBS Xd, Xn, #imm, setting flags.
func (a *Assembler) SubsXImm(rd, rn XReg, imm uint32) { a.emit(encodeSubsXImm(rd, rn, imm)) }

// CmpXImm emits CMP Xn, #imm.
func (a *Assembler) CmpXImm(rn XReg, imm uint32) { a.emit(encodeCmpXImm(rn, imm)) }

// TstXMask emits TST Xn, #mask for a low-ones mask.
func (a *Assembler) TstXMask(rn XReg, mask uint64) { a.emit(encodeTstXMask(rn, mask)) }

// CselX emits CSEL Xd, Xn, Xm, cond.
func (a *Assembler) CselX(rd, rn, rm XReg, cond Cond) { a.emit(encodeCselX(rd, rn, rm, cond)) }

// LdrX emits LDR Xt, [Xn, #imm] with an unsigned scaled offset.
func (a *Assembler) LdrX(rt, rn XReg, imm int32) { a.emit(encodeLdrXUnsigned(rt, rn, imm)) }

// Prfm emits PRFM PLDL1KEEP, [Xn, #imm].
func (a *Assembler) Prfm(rn XReg, imm int32) { a.emit(encodePrfm(rn, imm)) }

// LdrQPost emits LDR Qt, [Xn], #imm.
func (a *Assembler) LdrQPost(rt VReg, rn XReg, imm int32) { a.emit(encodeLdrVPost(rt, rn, imm, widthQ)) }

// LdrDPost emits LDR Dt, [Xn], #imm.
func (a *Assembler) LdrDPost(rt VReg, rn XReg, imm int32) { a.emit(encodeLdrVPost(rt, rn, imm, widthD)) }

// LdrSPost emits LDR St, [Xn], #imm.
func (a *Assembler) LdrSPost(rt VReg, rn XReg, imm int32) { a.emit(encodeLdrVPost(rt, rn, imm, widthS)) }

// LdpQPost emits LDP Qt1, Qt2, [Xn], #imm.
func (a *Assembler) LdpQPost(rt1, rt2 VReg, rn XReg, imm int32) {
	a.emit(encodeLdpQPost(rt1, rt2, rn, imm))
}

// StrQPost emits STR Qt, [Xn], #imm.
func (a *Assembler) StrQPost(rt VReg, rn XReg, imm int32) { a.emit(encodeStrVPost(rt, rn, imm, widthQ)) }

// StrDPost emits STR Dt, [Xn], #imm.
func (a *Assembler) StrDPost(rt VReg, rn XReg, imm int32) { a.emit(encodeStrVPost(rt, rn, imm, widthD)) }

// StrS emits STR St, [Xn].
func (a *Assembler) StrS(rt VReg, rn XReg) { a.emit(encodeStrSUnsigned(rt, rn)) }

// St1TwoQPost emits ST1 {Vt.16B, Vt+1.16B}, [Xn], Xm.
func (a *Assembler) St1TwoQPost(rt VReg, rn, rm XReg) { a.emit(encodeSt1TwoQPost(rt, rn, rm)) }

// Ld2R emits LD2R {Vt.4S, Vt+1.4S}, [Xn].
func (a *Assembler) Ld2R(rt VReg, rn XReg) { a.emit(encodeLd2R4S(rt, rn)) }

// Ld3RPost emits LD3R {Vt.4S..Vt+2.4S}, [Xn], #12.
func (a *Assembler) Ld3RPost(rt VReg, rn XReg) { a.emit(encodeLd3R4SPost(rt, rn)) }

// FmlaLane emits FMLA Vd.4S, Vn.4S, Vm.S[lane].
func (a *Assembler) FmlaLane(rd, rn, rm VReg, lane int) { a.emit(encodeFmlaLane4S(rd, rn, rm, lane)) }

// Fmax emits FMAX Vd.4S, Vn.4S, Vm.4S.
func (a *Assembler) Fmax(rd, rn, rm VReg) { a.emit(encodeFmax4S(rd, rn, rm)) }

// Fmin emits FMIN Vd.4S, Vn.4S, Vm.4S.
func (a *Assembler) Fmin(rd, rn, rm VReg) { a.emit(encodeFmin4S(rd, rn, rm)) }

// Fadd emits FADD Vd.4S, Vn.4S, Vm.4S.
func (a *Assembler) Fadd(rd, rn, rm VReg) { a.emit(encodeFadd4S(rd, rn, rm)) }

// Fmul emits FMUL Vd.4S, Vn.4S, Vm.4S.
func (a *Assembler) Fmul(rd, rn, rm VReg) { a.emit(encodeFmul4S(rd, rn, rm)) }

// MovV emits MOV Vd.16B, Vn.16B.
func (a *Assembler) MovV(rd, rn VReg) { a.emit(encodeMov16B(rd, rn)) }

// DupD2 emits DUP Dd, Vn.D[1].
func (a *Assembler) DupD2(rd, rn VReg) { a.emit(encodeDupD2(rd, rn)) }

// MoviZero emits MOVI Vd.4S, #0.
func (a *Assembler) MoviZero(rd VReg) { a.emit(encodeMoviZero4S(rd)) }

// B emits an unconditional branch to the label.
func (a *Assembler) B(l Label) { a.reference(l, 0x14000000, branchB) }

// BCond emits B.cond to the label.
func (a *Assembler) BCond(cond Cond, l Label) { a.reference(l, encodeBcond(cond), branchCond) }

// Tbz emits TBZ Xt, #bit, label: branch if the bit is zero.
func (a *Assembler) Tbz(rt XReg, bit uint32, l Label) {
	word, err := encodeTbz(rt, bit)
	if err != nil {
		a.fail(err)
		return
	}
	a.reference(l, word, branchTbz)
}

// Ret emits RET.
func (a *Assembler) Ret() { a.emit(0xD65F03C0, nil) }

// Nop emits NOP.
func (a *Assembler) Nop() { a.emit(0xD503201F, nil) }

// Hlt emits HLT #0, the trap word used for padding.
func (a *Assembler) Hlt() { a.emit(0xD4400000, nil) }
