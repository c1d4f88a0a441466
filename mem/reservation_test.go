package mem

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Reservations", func() {
	var (
		m    *Memory
		core CoreServices
	)

	BeforeEach(func() {
		var err error
		m, err = MakeBuilder().
			WithSize(16 * MB).
			WithHartCount(4).
			Build()
		Expect(err).ToNot(HaveOccurred())
		core = m.CoreServices()
	})

	It("should hold a reservation until it is invalidated", func() {
		core.MakeLr(0, 0x2000, 4)

		Expect(core.HasLr(0, 0x2000)).To(BeTrue())
		Expect(core.HasLr(0, 0x2004)).To(BeFalse())

		core.InvalidateLr(0)
		Expect(core.HasLr(0, 0x2000)).To(BeFalse())
	})

	It("should replace a prior reservation of the same hart", func() {
		core.MakeLr(0, 0x2000, 4)
		core.MakeLr(0, 0x3000, 8)

		Expect(core.HasLr(0, 0x2000)).To(BeFalse())
		Expect(core.HasLr(0, 0x3000)).To(BeTrue())
	})

	It("should invalidate a reservation on a conflicting store by "+
		"another hart", func() {
		core.MakeLr(0, 0x2000, 4)

		Expect(m.WriteWord(1, 0x2000, 0x1)).To(BeTrue())

		Expect(core.HasLr(0, 0x2000)).To(BeFalse())
	})

	It("should invalidate on partial overlap from either side", func() {
		core.MakeLr(0, 0x2000, 8)
		Expect(m.WriteByte(1, 0x2007, 0x1)).To(BeTrue())
		Expect(core.HasLr(0, 0x2000)).To(BeFalse())

		core.MakeLr(0, 0x2004, 4)
		Expect(m.WriteDouble(1, 0x2000, 0x1)).To(BeTrue())
		Expect(core.HasLr(0, 0x2004)).To(BeFalse())
	})

	It("should keep a reservation on a non-overlapping store", func() {
		core.MakeLr(0, 0x2000, 4)

		Expect(m.WriteWord(1, 0x2004, 0x1)).To(BeTrue())

		Expect(core.HasLr(0, 0x2000)).To(BeTrue())
	})

	It("should preserve a hart's reservation across its own store", func() {
		core.MakeLr(0, 0x2000, 4)

		Expect(m.WriteWord(0, 0x2000, 0x1)).To(BeTrue())

		Expect(core.HasLr(0, 0x2000)).To(BeTrue())
	})

	It("should invalidate every conflicting reservation on a poke", func() {
		core.MakeLr(0, 0x2000, 4)
		core.MakeLr(1, 0x2000, 4)
		core.MakeLr(2, 0x3000, 4)

		Expect(core.PokeWord(0x2000, 0x1)).To(BeTrue())

		Expect(core.HasLr(0, 0x2000)).To(BeFalse())
		Expect(core.HasLr(1, 0x2000)).To(BeFalse())
		Expect(core.HasLr(2, 0x3000)).To(BeTrue())
	})
})

var _ = Describe("Last-write records", func() {
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

	It("should report no write before the first store", func() {
		size, _, _ := core.LastWriteNew(0)
		Expect(size).To(Equal(uint64(0)))
	})

	It("should record the most recent store", func() {
		Expect(m.WriteWord(0, 0x100, 0x11)).To(BeTrue())
		Expect(m.WriteWord(0, 0x100, 0x22)).To(BeTrue())

		size, addr, value := core.LastWriteNew(0)
		Expect(size).To(Equal(uint64(4)))
		Expect(addr).To(Equal(uint64(0x100)))
		Expect(value).To(Equal(uint64(0x22)))

		size, addr, prev := core.LastWritePrev(0)
		Expect(size).To(Equal(uint64(4)))
		Expect(addr).To(Equal(uint64(0x100)))
		Expect(prev).To(Equal(uint64(0x11)))
	})

	It("should keep per-hart records independent", func() {
		Expect(m.WriteByte(0, 0x100, 0xAA)).To(BeTrue())
		Expect(m.WriteHalf(1, 0x200, 0xBBBB)).To(BeTrue())

		size, addr, value := core.LastWriteNew(0)
		Expect(size).To(Equal(uint64(1)))
		Expect(addr).To(Equal(uint64(0x100)))
		Expect(value).To(Equal(uint64(0xAA)))

		size, addr, value = core.LastWriteNew(1)
		Expect(size).To(Equal(uint64(2)))
		Expect(addr).To(Equal(uint64(0x200)))
		Expect(value).To(Equal(uint64(0xBBBB)))
	})

	It("should record the masked value of a register store", func() {
		Expect(m.DefineMmrArea(0x4000, 0x1000)).To(Succeed())
		Expect(m.SetMmrMask(0x4000, 0x0000FFFF)).To(Succeed())

		Expect(m.WriteWord(0, 0x4000, 0xAABBCCDD)).To(BeTrue())

		_, _, value := core.LastWriteNew(0)
		Expect(value).To(Equal(uint64(0x0000CCDD)))
	})

	It("should not record pokes", func() {
		Expect(core.PokeWord(0x100, 0x1234)).To(BeTrue())

		size, _, _ := core.LastWriteNew(0)
		Expect(size).To(Equal(uint64(0)))
	})

	It("should clear on request", func() {
		Expect(m.WriteWord(0, 0x100, 0x11)).To(BeTrue())

		core.ClearLastWrite(0)

		size, _, _ := core.LastWriteNew(0)
		Expect(size).To(Equal(uint64(0)))
	})
})

var _ = Describe("Atomic memory operations", func() {
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

	It("should load, modify and store in one step", func() {
		Expect(m.WriteWord(0, 0x100, 40)).To(BeTrue())

		old, ok := core.Amo(0, 0x100, 4, func(v uint64) uint64 { return v + 2 })
		Expect(ok).To(BeTrue())
		Expect(old).To(Equal(uint64(40)))

		expectWord(m, 0x100, 42)
	})

	It("should support double-word operations", func() {
		Expect(m.WriteDouble(0, 0x200, 0xFFFFFFFF00000000)).To(BeTrue())

		old, ok := core.Amo(0, 0x200, 8, func(v uint64) uint64 { return v >> 32 })
		Expect(ok).To(BeTrue())
		Expect(old).To(Equal(uint64(0xFFFFFFFF00000000)))

		d, ok := m.ReadDouble(0x200)
		Expect(ok).To(BeTrue())
		Expect(d).To(Equal(uint64(0xFFFFFFFF)))
	})

	It("should reject widths other than 4 and 8", func() {
		_, ok := core.Amo(0, 0x100, 2, func(v uint64) uint64 { return v })
		Expect(ok).To(BeFalse())
	})

	It("should fail on non-writable pages", func() {
		Expect(m.DefineIccm(0x0, 0x1000)).To(Succeed())

		_, ok := core.Amo(0, 0x800, 4, func(v uint64) uint64 { return v })
		Expect(ok).To(BeFalse())
	})

	It("should invalidate other harts' conflicting reservations", func() {
		core.MakeLr(1, 0x100, 4)

		_, ok := core.Amo(0, 0x100, 4, func(v uint64) uint64 { return v + 1 })
		Expect(ok).To(BeTrue())

		Expect(core.HasLr(1, 0x100)).To(BeFalse())
	})
})
