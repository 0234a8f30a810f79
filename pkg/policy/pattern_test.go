package policy_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/strata/pkg/fragment"
	"github.com/papercomputeco/strata/pkg/policy"
)

var _ = Describe("DerivePattern", func() {
	It("computes accesses per day over the fragment's lifetime", func() {
		now := time.Now().UTC()
		frag := fragment.New("o", "x", fragment.KindOther, 0.5)
		frag.CreatedAt = now.Add(-48 * time.Hour)
		frag.LastAccessedAt = now.Add(-6 * time.Hour)
		frag.AccessCount = 10

		p := policy.DerivePattern(frag, now)
		Expect(p.Frequency).To(BeNumerically("~", 5.0, 1e-9))
		Expect(p.RecencyHours).To(BeNumerically("~", 6.0, 1e-9))
	})

	It("floors the age so brand-new fragments do not divide by zero", func() {
		now := time.Now().UTC()
		frag := fragment.New("o", "x", fragment.KindOther, 0.5)
		frag.CreatedAt = now
		frag.AccessCount = 1

		p := policy.DerivePattern(frag, now)
		Expect(p.Frequency).To(BeNumerically("~", 24.0, 1e-9))
	})

	It("nudges importance up for actively used fragments, clamped to 1", func() {
		now := time.Now().UTC()
		busy := fragment.New("o", "x", fragment.KindOther, 0.95)
		busy.AccessCount = 10

		p := policy.DerivePattern(busy, now)
		Expect(p.Importance).To(Equal(1.0))

		idle := fragment.New("o", "x", fragment.KindOther, 0.95)
		p = policy.DerivePattern(idle, now)
		Expect(p.Importance).To(Equal(0.95))
	})
})

var _ = Describe("Config", func() {
	It("maps tier capacities for the router", func() {
		cfg := policy.NewDefaultConfig()
		caps := cfg.Capacities()
		Expect(caps[fragment.TierHot]).To(Equal(int64(10_000)))
		Expect(caps[fragment.TierCold]).To(Equal(int64(10_000_000)))
	})

	It("computes expiry deadlines from the tier TTL", func() {
		cfg := policy.NewDefaultConfig()
		now := time.Now().UTC()

		expiry := cfg.ExpiryFor(fragment.TierHot, now)
		Expect(expiry).NotTo(BeNil())
		Expect(*expiry).To(Equal(now.Add(24 * time.Hour)))

		Expect(cfg.ExpiryFor(fragment.TierUnknown, now)).To(BeNil())
	})
})
