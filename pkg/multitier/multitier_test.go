package multitier_test

import (
	"context"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/strata/pkg/backend"
	"github.com/papercomputeco/strata/pkg/fragment"
	"github.com/papercomputeco/strata/pkg/multitier"
	testutils "github.com/papercomputeco/strata/pkg/utils/test"
)

var _ = Describe("Storage", func() {
	var (
		ctx      context.Context
		backends map[fragment.Tier]*testutils.MockBackend
		storage  *multitier.Storage
	)

	BeforeEach(func() {
		ctx = context.Background()
		backends = map[fragment.Tier]*testutils.MockBackend{
			fragment.TierHot:      testutils.NewMockBackend(),
			fragment.TierWarm:     testutils.NewMockBackend(),
			fragment.TierSemantic: testutils.NewMockBackend(),
			fragment.TierCold:     testutils.NewMockBackend(),
		}

		drivers := make(map[fragment.Tier]backend.Driver, len(backends))
		for tier, b := range backends {
			drivers[tier] = b
		}

		var err error
		storage, err = multitier.NewStorage(multitier.Config{
			Backends: drivers,
			Capacities: map[fragment.Tier]int64{
				fragment.TierHot:      10,
				fragment.TierWarm:     100,
				fragment.TierSemantic: 1000,
				fragment.TierCold:     10000,
			},
		})
		Expect(err).NotTo(HaveOccurred())
	})

	It("refuses construction without backends", func() {
		_, err := multitier.NewStorage(multitier.Config{})
		Expect(err).To(MatchError(multitier.ErrNoBackends))
	})

	Describe("initial placement", func() {
		It("routes by priority", func() {
			Expect(multitier.InitialTier(fragment.New("o", "x", fragment.KindOther, 0.9))).To(Equal(fragment.TierHot))
			Expect(multitier.InitialTier(fragment.New("o", "x", fragment.KindOther, 0.6))).To(Equal(fragment.TierWarm))
			Expect(multitier.InitialTier(fragment.New("o", strings.Repeat("x", 60), fragment.KindOther, 0.3))).To(Equal(fragment.TierSemantic))
			Expect(multitier.InitialTier(fragment.New("o", "short", fragment.KindOther, 0.3))).To(Equal(fragment.TierCold))
			Expect(multitier.InitialTier(fragment.New("o", "x", fragment.KindOther, 0.05))).To(Equal(fragment.TierCold))
		})

		It("stores an unknown-tier fragment on its priority tier", func() {
			frag := fragment.New("o", "x", fragment.KindOther, 0.95)
			Expect(storage.Store(ctx, frag, fragment.TierUnknown)).To(Succeed())
			Expect(frag.Tier).To(Equal(fragment.TierHot))
			Expect(backends[fragment.TierHot].Count()).To(Equal(1))
		})
	})

	Describe("fallback", func() {
		It("falls through to the next tier when the preferred backend fails", func() {
			backends[fragment.TierHot].FailStore = true

			frag := fragment.New("o", "x", fragment.KindOther, 0.95)
			Expect(storage.Store(ctx, frag, fragment.TierHot)).To(Succeed())
			Expect(frag.Tier).To(Equal(fragment.TierWarm))
			Expect(backends[fragment.TierWarm].Count()).To(Equal(1))
		})

		It("fails only when every tier refused", func() {
			for _, b := range backends {
				b.FailStore = true
			}
			frag := fragment.New("o", "x", fragment.KindOther, 0.95)
			Expect(storage.Store(ctx, frag, fragment.TierHot)).NotTo(Succeed())
		})
	})

	Describe("Get", func() {
		It("searches hottest to coldest and reports the holding tier", func() {
			frag := fragment.New("o", "x", fragment.KindOther, 0.3)
			frag.Tier = fragment.TierCold
			Expect(backends[fragment.TierCold].Store(ctx, frag)).To(Succeed())

			got, found, err := storage.Get(ctx, frag.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(found).To(BeTrue())
			Expect(got.Tier).To(Equal(fragment.TierCold))
		})

		It("skips a failing tier instead of masking a colder hit", func() {
			frag := fragment.New("o", "x", fragment.KindOther, 0.3)
			Expect(backends[fragment.TierWarm].Store(ctx, frag)).To(Succeed())
			backends[fragment.TierHot].FailGet = true

			got, found, err := storage.Get(ctx, frag.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(found).To(BeTrue())
			Expect(got.Tier).To(Equal(fragment.TierWarm))
		})

		It("restricts the search when tiers are given", func() {
			frag := fragment.New("o", "x", fragment.KindOther, 0.3)
			Expect(backends[fragment.TierCold].Store(ctx, frag)).To(Succeed())

			_, found, err := storage.Get(ctx, frag.ID, fragment.TierHot, fragment.TierWarm)
			Expect(err).NotTo(HaveOccurred())
			Expect(found).To(BeFalse())
		})
	})

	Describe("Delete", func() {
		It("removes every copy across tiers", func() {
			frag := fragment.New("o", "x", fragment.KindOther, 0.3)
			Expect(backends[fragment.TierHot].Store(ctx, frag)).To(Succeed())
			Expect(backends[fragment.TierWarm].Store(ctx, frag)).To(Succeed())

			Expect(storage.Delete(ctx, frag.ID)).To(Succeed())
			Expect(backends[fragment.TierHot].Count()).To(BeZero())
			Expect(backends[fragment.TierWarm].Count()).To(BeZero())
		})

		It("returns NotFoundError when no tier held the fragment", func() {
			err := storage.Delete(ctx, "missing")
			Expect(err).To(MatchError(backend.NotFoundError{ID: "missing"}))
		})
	})

	Describe("Migrate", func() {
		var frag *fragment.Fragment

		BeforeEach(func() {
			frag = fragment.New("o", "x", fragment.KindOther, 0.9)
			frag.Tier = fragment.TierHot
			Expect(backends[fragment.TierHot].Store(ctx, frag)).To(Succeed())
		})

		It("writes to the target then deletes from the source", func() {
			Expect(storage.Migrate(ctx, frag.ID, fragment.TierHot, fragment.TierWarm)).To(Succeed())

			Expect(backends[fragment.TierHot].Count()).To(BeZero())
			got, found, _ := backends[fragment.TierWarm].Get(ctx, frag.ID)
			Expect(found).To(BeTrue())
			Expect(got.Tier).To(Equal(fragment.TierWarm))
		})

		It("applies mutators to the moved copy only", func() {
			Expect(storage.Migrate(ctx, frag.ID, fragment.TierHot, fragment.TierWarm, func(f *fragment.Fragment) {
				f.Priority = 0.1
			})).To(Succeed())

			got, _, _ := backends[fragment.TierWarm].Get(ctx, frag.ID)
			Expect(got.Priority).To(Equal(0.1))
		})

		It("still succeeds when the source delete fails, leaving a duplicate", func() {
			backends[fragment.TierHot].FailDelete = true

			Expect(storage.Migrate(ctx, frag.ID, fragment.TierHot, fragment.TierWarm)).To(Succeed())

			_, foundHot, _ := backends[fragment.TierHot].Get(ctx, frag.ID)
			_, foundWarm, _ := backends[fragment.TierWarm].Get(ctx, frag.ID)
			Expect(foundHot).To(BeTrue())
			Expect(foundWarm).To(BeTrue())

			got, found, err := storage.Get(ctx, frag.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(found).To(BeTrue())
			Expect(got).NotTo(BeNil())
		})

		It("fails when the target write fails and leaves the source intact", func() {
			backends[fragment.TierWarm].FailStore = true

			Expect(storage.Migrate(ctx, frag.ID, fragment.TierHot, fragment.TierWarm)).NotTo(Succeed())
			Expect(backends[fragment.TierHot].Count()).To(Equal(1))
		})

		It("rejects a same-tier move", func() {
			Expect(storage.Migrate(ctx, frag.ID, fragment.TierHot, fragment.TierHot)).NotTo(Succeed())
		})

		It("returns NotFoundError for an absent source fragment", func() {
			err := storage.Migrate(ctx, "missing", fragment.TierHot, fragment.TierWarm)
			Expect(err).To(MatchError(backend.NotFoundError{ID: "missing"}))
		})
	})

	Describe("BatchMigrate", func() {
		It("reports a per-item outcome and never aborts siblings", func() {
			a := fragment.New("o", "a", fragment.KindOther, 0.9)
			Expect(backends[fragment.TierHot].Store(ctx, a)).To(Succeed())

			results := storage.BatchMigrate(ctx, []multitier.MigrationRequest{
				{ID: a.ID, From: fragment.TierHot, To: fragment.TierWarm},
				{ID: "missing", From: fragment.TierHot, To: fragment.TierWarm},
			})

			Expect(results).To(HaveLen(2))
			Expect(results[0].Err).NotTo(HaveOccurred())
			Expect(results[1].Err).To(MatchError(backend.NotFoundError{ID: "missing"}))
		})
	})

	Describe("ListByPriority", func() {
		It("merges across tiers sorted by priority descending", func() {
			low := fragment.New("o", "low", fragment.KindOther, 0.2)
			mid := fragment.New("o", "mid", fragment.KindOther, 0.5)
			high := fragment.New("o", "high", fragment.KindOther, 0.9)
			Expect(backends[fragment.TierCold].Store(ctx, low)).To(Succeed())
			Expect(backends[fragment.TierWarm].Store(ctx, mid)).To(Succeed())
			Expect(backends[fragment.TierHot].Store(ctx, high)).To(Succeed())

			out, err := storage.ListByPriority(ctx, 0.3, 1.0, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(HaveLen(2))
			Expect(out[0].ID).To(Equal(high.ID))
			Expect(out[1].ID).To(Equal(mid.ID))
		})

		It("truncates to the limit", func() {
			for i := 0; i < 5; i++ {
				Expect(backends[fragment.TierWarm].Store(ctx, fragment.New("o", "x", fragment.KindOther, 0.5))).To(Succeed())
			}
			out, err := storage.ListByPriority(ctx, 0, 1, 3)
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(HaveLen(3))
		})
	})

	Describe("Stats", func() {
		It("reports per-tier usage with utilization", func() {
			for i := 0; i < 5; i++ {
				Expect(backends[fragment.TierHot].Store(ctx, fragment.New("o", "x", fragment.KindOther, 0.9))).To(Succeed())
			}

			stats, err := storage.Stats(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(stats[fragment.TierHot].Fragments).To(Equal(int64(5)))
			Expect(stats[fragment.TierHot].Capacity).To(Equal(int64(10)))
			Expect(stats[fragment.TierHot].Utilization).To(BeNumerically("~", 0.5, 1e-9))
		})

		It("computes single-tier utilization", func() {
			Expect(backends[fragment.TierHot].Store(ctx, fragment.New("o", "x", fragment.KindOther, 0.9))).To(Succeed())
			util, err := storage.Utilization(ctx, fragment.TierHot)
			Expect(err).NotTo(HaveOccurred())
			Expect(util).To(BeNumerically("~", 0.1, 1e-9))
		})
	})
})
