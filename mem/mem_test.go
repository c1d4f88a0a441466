package mem

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func expectByte(m *Memory, addr uint64, want uint8) {
	v, ok := m.ReadByte(addr)
	ExpectWithOffset(1, ok).To(BeTrue())
	ExpectWithOffset(1, v).To(Equal(want))
}

func expectWord(m *Memory, addr uint64, want uint32) {
	v, ok := m.ReadWord(addr)
	ExpectWithOffset(1, ok).To(BeTrue())
	ExpectWithOffset(1, v).To(Equal(want))
}

var _ = Describe("Memory", func() {
	var (
		m    *Memory
		core CoreServices
	)

	BeforeEach(func() {
		var err error
		m, err = MakeBuilder().
			WithSize(16 * MB).
			WithHartCount(2).
			Build()
		Expect(err).ToNot(HaveOccurred())
		core = m.CoreServices()
	})

	It("should round-trip values at every width", func() {
		Expect(m.WriteByte(0, 0x100, 0xAB)).To(BeTrue())
		expectByte(m, 0x100, 0xAB)

		Expect(m.WriteHalf(0, 0x200, 0xBEEF)).To(BeTrue())
		h, ok := m.ReadHalf(0x200)
		Expect(ok).To(BeTrue())
		Expect(h).To(Equal(uint16(0xBEEF)))

		Expect(m.WriteWord(0, 0x300, 0xDEADBEEF)).To(BeTrue())
		expectWord(m, 0x300, 0xDEADBEEF)

		Expect(m.WriteDouble(0, 0x400, 0x0123456789ABCDEF)).To(BeTrue())
		d, ok := m.ReadDouble(0x400)
		Expect(ok).To(BeTrue())
		Expect(d).To(Equal(uint64(0x0123456789ABCDEF)))
	})

	It("should read untouched memory as zero", func() {
		d, ok := m.ReadDouble(0x8000)
		Expect(ok).To(BeTrue())
		Expect(d).To(Equal(uint64(0)))
	})

	It("should store multi-byte values little-endian", func() {
		Expect(m.WriteWord(0, 0x100, 0x04030201)).To(BeTrue())

		for i := uint64(0); i < 4; i++ {
			expectByte(m, 0x100+i, uint8(i+1))
		}
	})

	It("should allow misaligned access within uniform attributes", func() {
		Expect(m.WriteWord(0, 0x101, 0x11223344)).To(BeTrue())
		expectWord(m, 0x101, 0x11223344)
	})

	It("should reject reads and writes beyond the memory size", func() {
		_, ok := m.ReadWord(16 * MB)
		Expect(ok).To(BeFalse())

		Expect(m.WriteWord(0, 16*MB, 1)).To(BeFalse())
	})

	Context("with a DCCM next to external memory", func() {
		BeforeEach(func() {
			Expect(m.DefineDccm(0x1000, 0x1000)).To(Succeed())
			m.FinishCcmConfig(false)
		})

		It("should reject misaligned stores straddling the boundary", func() {
			Expect(m.WriteWord(0, 0x1FFE, 0xDEADBEEF)).To(BeFalse())

			expectByte(m, 0x1FFE, 0)
			expectByte(m, 0x1FFF, 0)
		})

		It("should reject misaligned loads straddling the boundary", func() {
			_, ok := m.ReadWord(0x1FFE)
			Expect(ok).To(BeFalse())
		})

		It("should reject instruction fetch from the DCCM", func() {
			_, ok := m.FetchWord(0x1800)
			Expect(ok).To(BeFalse())
		})

		It("should let pokes straddle the boundary", func() {
			Expect(core.PokeWord(0x1FFE, 0x04030201)).To(BeTrue())
			expectByte(m, 0x1FFF, 0x02)
			expectByte(m, 0x2000, 0x03)
		})
	})

	Context("with an ICCM at the bottom of memory", func() {
		BeforeEach(func() {
			Expect(m.DefineIccm(0x0, 0x1000)).To(Succeed())
			m.FinishCcmConfig(false)
		})

		It("should fetch a halfword at the last ICCM halfword", func() {
			_, ok := m.FetchHalf(0xFFE)
			Expect(ok).To(BeTrue())
		})

		It("should reject a word fetch straddling the ICCM boundary", func() {
			_, ok := m.FetchWord(0xFFE)
			Expect(ok).To(BeFalse())
		})

		It("should fetch misaligned instructions inside the ICCM", func() {
			_, ok := m.FetchWord(0x7FE)
			Expect(ok).To(BeTrue())
		})

		It("should reject data stores to the ICCM", func() {
			Expect(m.WriteWord(0, 0x800, 1)).To(BeFalse())
		})

		It("should allow data stores once ICCM data access is granted", func() {
			m.FinishCcmConfig(true)
			Expect(m.WriteWord(0, 0x800, 1)).To(BeTrue())
		})
	})

	Context("with a memory-mapped register area", func() {
		BeforeEach(func() {
			Expect(m.DefineMmrArea(0x4000, 0x1000)).To(Succeed())
			Expect(m.SetMmrMask(0x4000, 0x000000FF)).To(Succeed())
			m.FinishCcmConfig(false)
		})

		It("should mask stores to a register word", func() {
			Expect(m.WriteWord(0, 0x4000, 0xAAAABBCC)).To(BeTrue())
			expectWord(m, 0x4000, 0x000000CC)
		})

		It("should not mask words without an installed mask", func() {
			Expect(m.WriteWord(0, 0x4004, 0xAAAABBCC)).To(BeTrue())
			expectWord(m, 0x4004, 0xAAAABBCC)
		})

		It("should reject non-word access to register pages", func() {
			Expect(m.WriteByte(0, 0x4000, 0x55)).To(BeFalse())
			Expect(m.WriteHalf(0, 0x4000, 0x5555)).To(BeFalse())
			Expect(m.WriteDouble(0, 0x4000, 1)).To(BeFalse())

			_, ok := m.ReadByte(0x4000)
			Expect(ok).To(BeFalse())
			_, ok = m.ReadHalf(0x4002)
			Expect(ok).To(BeFalse())
			_, ok = m.ReadDouble(0x4000)
			Expect(ok).To(BeFalse())
		})

		It("should reject unaligned word access to register pages", func() {
			Expect(m.WriteWord(0, 0x4002, 1)).To(BeFalse())

			_, ok := m.ReadWord(0x4002)
			Expect(ok).To(BeFalse())
		})

		It("should reject sub-word pokes to register pages", func() {
			Expect(core.PokeByte(0x4000, 1)).To(BeFalse())
			Expect(core.PokeWord(0x4000, 0xFFFF)).To(BeTrue())
			expectWord(m, 0x4000, 0x00FF)
		})

		It("should return the masked value from a write trial", func() {
			v, ok := m.CheckWriteWord(0x4000, 0xAAAABBCC)
			Expect(ok).To(BeTrue())
			Expect(v).To(Equal(uint32(0x000000CC)))

			expectWord(m, 0x4000, 0)
		})

		It("should fail the trial of a sub-word register write", func() {
			_, ok := m.CheckWriteByte(0x4000, 1)
			Expect(ok).To(BeFalse())
		})

		It("should zero register words on reset and keep the masks", func() {
			Expect(m.WriteWord(0, 0x4000, 0xFF)).To(BeTrue())
			Expect(m.WriteWord(0, 0x4004, 0x1234)).To(BeTrue())

			m.ResetMmrWords()

			expectWord(m, 0x4000, 0)
			expectWord(m, 0x4004, 0)
			Expect(m.MmrMask(0x4000)).To(Equal(uint32(0x000000FF)))
		})
	})

	It("should pass an ordinary write trial without committing", func() {
		v, ok := m.CheckWriteWord(0x100, 0x1234)
		Expect(ok).To(BeTrue())
		Expect(v).To(Equal(uint32(0x1234)))
		expectWord(m, 0x100, 0)
	})

	It("should copy contents from another memory", func() {
		other, err := MakeBuilder().WithSize(16 * MB).Build()
		Expect(err).ToNot(HaveOccurred())
		Expect(other.WriteWord(0, 0x100, 0xCAFEBABE)).To(BeTrue())

		m.CopyFrom(other)

		expectWord(m, 0x100, 0xCAFEBABE)
	})

	It("should classify addresses", func() {
		Expect(m.DefineIccm(0x0, 0x1000)).To(Succeed())
		Expect(m.DefineDccm(0x1000, 0x1000)).To(Succeed())
		Expect(m.DefineMmrArea(0x4000, 0x1000)).To(Succeed())
		m.FinishCcmConfig(false)

		Expect(m.IsAddrInIccm(0x10)).To(BeTrue())
		Expect(m.IsAddrInDccm(0x1800)).To(BeTrue())
		Expect(m.IsAddrInMappedRegs(0x4000)).To(BeTrue())
		Expect(m.IsDataAddrExternal(0x8000)).To(BeTrue())
		Expect(m.IsDataAddrExternal(0x1800)).To(BeFalse())
	})
})
