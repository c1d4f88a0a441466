package pma

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Manager", func() {
	var mgr *Manager

	BeforeEach(func() {
		var err error
		mgr, err = NewManager(1<<30, DefaultPageSize, DefaultRegionSize)
		Expect(err).ToNot(HaveOccurred())
	})

	It("should reject sizes that are not powers of two", func() {
		_, err := NewManager(3000, DefaultPageSize, DefaultRegionSize)
		Expect(err).To(HaveOccurred())

		_, err = NewManager(1<<30, 3000, DefaultRegionSize)
		Expect(err).To(HaveOccurred())
	})

	It("should default every page to external read/write/execute", func() {
		p := mgr.Pma(0x1234)
		Expect(p.IsRead()).To(BeTrue())
		Expect(p.IsWrite()).To(BeTrue())
		Expect(p.IsExec()).To(BeTrue())
		Expect(p.IsExternal()).To(BeTrue())
		Expect(p.IsMapped()).To(BeTrue())
	})

	It("should treat addresses beyond the memory as unmapped", func() {
		Expect(mgr.Pma(1 << 30).IsMapped()).To(BeFalse())
	})

	It("should mark ICCM pages fetchable and readable but not writable", func() {
		Expect(mgr.DefineIccm(0x0000, 0x1000)).To(Succeed())

		p := mgr.Pma(0x800)
		Expect(p.IsExec()).To(BeTrue())
		Expect(p.IsRead()).To(BeTrue())
		Expect(p.IsWrite()).To(BeFalse())
		Expect(p.IsIccm()).To(BeTrue())
	})

	It("should grant data access to ICCM pages on request", func() {
		Expect(mgr.DefineIccm(0x0000, 0x1000)).To(Succeed())

		mgr.FinishCcmConfig(true)

		p := mgr.Pma(0x800)
		Expect(p.IsRead()).To(BeTrue())
		Expect(p.IsWrite()).To(BeTrue())
		Expect(p.IsExec()).To(BeTrue())
	})

	It("should mark DCCM pages read-write", func() {
		Expect(mgr.DefineDccm(0x1000, 0x1000)).To(Succeed())

		p := mgr.Pma(0x1800)
		Expect(p.IsRead()).To(BeTrue())
		Expect(p.IsWrite()).To(BeTrue())
		Expect(p.IsExec()).To(BeFalse())
		Expect(p.IsDccm()).To(BeTrue())
		Expect(p.IsExternal()).To(BeFalse())
	})

	It("should reject unaligned areas", func() {
		Expect(mgr.DefineIccm(0x100, 0x1000)).ToNot(Succeed())
		Expect(mgr.DefineDccm(0x1000, 0x100)).ToNot(Succeed())
	})

	It("should reject areas crossing a region boundary", func() {
		err := mgr.DefineDccm(DefaultRegionSize-0x1000, 0x2000)
		Expect(err).To(HaveOccurred())
	})

	It("should reject overlapping areas", func() {
		Expect(mgr.DefineIccm(0x0000, 0x2000)).To(Succeed())
		Expect(mgr.DefineDccm(0x1000, 0x1000)).ToNot(Succeed())
		Expect(mgr.DefineMmrArea(0x1000, 0x1000)).ToNot(Succeed())
	})

	Context("memory-mapped register areas", func() {
		BeforeEach(func() {
			Expect(mgr.DefineMmrArea(0x3000, 0x1000)).To(Succeed())
		})

		It("should mark the pages as register pages", func() {
			p := mgr.Pma(0x3000)
			Expect(p.IsMmr()).To(BeTrue())
			Expect(p.IsRead()).To(BeTrue())
			Expect(p.IsWrite()).To(BeTrue())
			Expect(p.IsExternal()).To(BeFalse())
		})

		It("should default every word mask to all ones", func() {
			Expect(mgr.MmrMask(0x3000)).To(Equal(^uint32(0)))
			Expect(mgr.MmrMask(0x3ffc)).To(Equal(^uint32(0)))
		})

		It("should install word masks", func() {
			Expect(mgr.SetMmrMask(0x3000, 0x00ff)).To(Succeed())
			Expect(mgr.MmrMask(0x3000)).To(Equal(uint32(0x00ff)))
			Expect(mgr.MmrMask(0x3002)).To(Equal(uint32(0x00ff)))
			Expect(mgr.MmrMask(0x3004)).To(Equal(^uint32(0)))
		})

		It("should reject masks at unaligned addresses", func() {
			Expect(mgr.SetMmrMask(0x3002, 0x00ff)).ToNot(Succeed())
		})

		It("should reject masks outside register areas", func() {
			Expect(mgr.SetMmrMask(0x8000, 0x00ff)).ToNot(Succeed())
		})

		It("should report the configured ranges", func() {
			Expect(mgr.MmrRanges()).To(Equal([][2]uint64{{0x3000, 0x4000}}))
		})
	})
})
