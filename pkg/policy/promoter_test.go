package policy_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/strata/pkg/fragment"
	"github.com/papercomputeco/strata/pkg/multitier"
	"github.com/papercomputeco/strata/pkg/policy"
	testutils "github.com/papercomputeco/strata/pkg/utils/test"
)

var _ = Describe("Promoter", func() {
	var (
		ctx      context.Context
		storage  *multitier.Storage
		backends map[fragment.Tier]*testutils.MockBackend
		promoter *policy.Promoter
	)

	BeforeEach(func() {
		ctx = context.Background()
		storage, backends = newTestStorage()
		promoter = policy.NewPromoter(storage, nil, nil, nil)
	})

	// storeOnTier places a fragment directly without going through the
	// router's placement logic.
	storeOnTier := func(frag *fragment.Fragment, tier fragment.Tier) {
		frag.Tier = tier
		Expect(backends[tier].Store(ctx, frag)).To(Succeed())
	}

	Describe("AnalyzeCandidates", func() {
		It("flags frequently and recently accessed fragments", func() {
			frag := fragment.New("o", "busy", fragment.KindOther, 0.3)
			frag.AccessCount = 5
			storeOnTier(frag, fragment.TierWarm)

			candidates, err := promoter.AnalyzeCandidates(ctx, fragment.TierWarm)
			Expect(err).NotTo(HaveOccurred())
			Expect(candidates).To(HaveLen(1))
			Expect(candidates[0].Fragment.ID).To(Equal(frag.ID))
			Expect(candidates[0].Reason).To(Equal(policy.ReasonHighFrequency))
			Expect(candidates[0].State).To(Equal(policy.StateAnalyzed))
		})

		It("flags important high-priority fragments regardless of frequency", func() {
			frag := fragment.New("o", "vital", fragment.KindOther, 0.7)
			storeOnTier(frag, fragment.TierWarm)

			candidates, err := promoter.AnalyzeCandidates(ctx, fragment.TierWarm)
			Expect(err).NotTo(HaveOccurred())
			Expect(candidates).To(HaveLen(1))
			Expect(candidates[0].Reason).To(Equal(policy.ReasonHighImportance))
		})

		It("ignores idle low-priority fragments", func() {
			frag := fragment.New("o", "dull", fragment.KindOther, 0.3)
			storeOnTier(frag, fragment.TierWarm)

			candidates, err := promoter.AnalyzeCandidates(ctx, fragment.TierWarm)
			Expect(err).NotTo(HaveOccurred())
			Expect(candidates).To(BeEmpty())
		})

		It("never yields candidates from the hottest tier", func() {
			frag := fragment.New("o", "busy", fragment.KindOther, 0.9)
			frag.AccessCount = 50
			storeOnTier(frag, fragment.TierHot)

			candidates, err := promoter.AnalyzeCandidates(ctx, fragment.TierHot)
			Expect(err).NotTo(HaveOccurred())
			Expect(candidates).To(BeEmpty())
		})

		It("reuses cached decisions within the cache window", func() {
			analyzer := testutils.NewMockAnalyzer()
			cfg := policy.NewDefaultConfig()
			cfg.DecisionCacheTTL = time.Hour
			cached := policy.NewPromoter(storage, analyzer, cfg, nil)

			frag := fragment.New("o", "flippy", fragment.KindOther, 0.3)
			analyzer.Patterns[frag.ID] = policy.AccessPattern{Frequency: 0, RecencyHours: 100}
			storeOnTier(frag, fragment.TierWarm)

			candidates, err := cached.AnalyzeCandidates(ctx, fragment.TierWarm)
			Expect(err).NotTo(HaveOccurred())
			Expect(candidates).To(BeEmpty())

			// The pattern now qualifies, but the cached decision still rules.
			analyzer.Patterns[frag.ID] = policy.AccessPattern{Frequency: 10, RecencyHours: 1}
			candidates, err = cached.AnalyzeCandidates(ctx, fragment.TierWarm)
			Expect(err).NotTo(HaveOccurred())
			Expect(candidates).To(BeEmpty())
		})

		It("re-evaluates once the cache window lapses", func() {
			analyzer := testutils.NewMockAnalyzer()
			cfg := policy.NewDefaultConfig()
			cfg.DecisionCacheTTL = 0
			uncached := policy.NewPromoter(storage, analyzer, cfg, nil)

			frag := fragment.New("o", "flippy", fragment.KindOther, 0.3)
			analyzer.Patterns[frag.ID] = policy.AccessPattern{Frequency: 0, RecencyHours: 100}
			storeOnTier(frag, fragment.TierWarm)

			candidates, err := uncached.AnalyzeCandidates(ctx, fragment.TierWarm)
			Expect(err).NotTo(HaveOccurred())
			Expect(candidates).To(BeEmpty())

			analyzer.Patterns[frag.ID] = policy.AccessPattern{Frequency: 10, RecencyHours: 1}
			candidates, err = uncached.AnalyzeCandidates(ctx, fragment.TierWarm)
			Expect(err).NotTo(HaveOccurred())
			Expect(candidates).To(HaveLen(1))
		})
	})

	Describe("Execute", func() {
		It("moves the fragment one tier hotter with a fresh access stamp", func() {
			frag := fragment.New("o", "busy", fragment.KindOther, 0.3)
			frag.AccessCount = 5
			storeOnTier(frag, fragment.TierWarm)

			candidates, err := promoter.AnalyzeCandidates(ctx, fragment.TierWarm)
			Expect(err).NotTo(HaveOccurred())
			Expect(candidates).To(HaveLen(1))

			Expect(promoter.Execute(ctx, candidates[0], fragment.TierHot)).To(Succeed())
			Expect(candidates[0].State).To(Equal(policy.StateExecuted))

			moved, found, _ := backends[fragment.TierHot].Get(ctx, frag.ID)
			Expect(found).To(BeTrue())
			Expect(moved.Tier).To(Equal(fragment.TierHot))
			Expect(moved.ExpiresAt).NotTo(BeNil())
			_, stillWarm, _ := backends[fragment.TierWarm].Get(ctx, frag.ID)
			Expect(stillWarm).To(BeFalse())
		})

		It("rejects a move that is not strictly hotter", func() {
			frag := fragment.New("o", "busy", fragment.KindOther, 0.7)
			storeOnTier(frag, fragment.TierWarm)

			candidates, err := promoter.AnalyzeCandidates(ctx, fragment.TierWarm)
			Expect(err).NotTo(HaveOccurred())
			Expect(candidates).To(HaveLen(1))

			err = promoter.Execute(ctx, candidates[0], fragment.TierCold)
			Expect(err).To(MatchError(policy.InvalidTransitionError{
				From: fragment.TierWarm,
				To:   fragment.TierCold,
			}))
			Expect(candidates[0].State).To(Equal(policy.StateFailed))
		})

		It("skips a fragment that vanished since analysis", func() {
			frag := fragment.New("o", "busy", fragment.KindOther, 0.7)
			storeOnTier(frag, fragment.TierWarm)

			candidates, err := promoter.AnalyzeCandidates(ctx, fragment.TierWarm)
			Expect(err).NotTo(HaveOccurred())
			Expect(candidates).To(HaveLen(1))

			Expect(backends[fragment.TierWarm].Delete(ctx, frag.ID)).To(Succeed())

			Expect(promoter.Execute(ctx, candidates[0], fragment.TierHot)).To(Succeed())
			Expect(candidates[0].State).To(Equal(policy.StateSkipped))
		})

		It("skips without error when the target tier is full", func() {
			for i := 0; i < 9; i++ {
				occupant := fragment.New("o", "filler", fragment.KindOther, 0.9)
				storeOnTier(occupant, fragment.TierHot)
			}

			frag := fragment.New("o", "busy", fragment.KindOther, 0.7)
			storeOnTier(frag, fragment.TierWarm)

			candidates, err := promoter.AnalyzeCandidates(ctx, fragment.TierWarm)
			Expect(err).NotTo(HaveOccurred())
			Expect(candidates).To(HaveLen(1))

			Expect(promoter.Execute(ctx, candidates[0], fragment.TierHot)).To(Succeed())
			Expect(candidates[0].State).To(Equal(policy.StateSkipped))
			Expect(candidates[0].Err).To(MatchError(policy.CapacityError{
				Tier:        fragment.TierHot,
				Utilization: 0.9,
			}))

			_, stillWarm, _ := backends[fragment.TierWarm].Get(ctx, frag.ID)
			Expect(stillWarm).To(BeTrue())
		})
	})

	Describe("ExecuteBatch", func() {
		It("promotes each candidate one tier hotter and reports outcomes", func() {
			a := fragment.New("o", "a", fragment.KindOther, 0.7)
			storeOnTier(a, fragment.TierWarm)
			b := fragment.New("o", "b", fragment.KindOther, 0.7)
			storeOnTier(b, fragment.TierCold)

			var candidates []*policy.Candidate
			for _, tier := range []fragment.Tier{fragment.TierWarm, fragment.TierCold} {
				cands, err := promoter.AnalyzeCandidates(ctx, tier)
				Expect(err).NotTo(HaveOccurred())
				candidates = append(candidates, cands...)
			}
			Expect(candidates).To(HaveLen(2))

			outcomes, report := promoter.ExecuteBatch(ctx, candidates)
			Expect(outcomes[a.ID]).NotTo(HaveOccurred())
			Expect(outcomes[b.ID]).NotTo(HaveOccurred())
			Expect(report.Attempted).To(Equal(2))
			Expect(report.Succeeded).To(Equal(2))
			Expect(report.Reasons[policy.ReasonHighImportance]).To(Equal(2))

			_, aHot, _ := backends[fragment.TierHot].Get(ctx, a.ID)
			Expect(aHot).To(BeTrue())
			_, bSemantic, _ := backends[fragment.TierSemantic].Get(ctx, b.ID)
			Expect(bSemantic).To(BeTrue())
		})
	})
})
