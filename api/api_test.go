package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/gofiber/fiber/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/strata/pkg/backend"
	"github.com/papercomputeco/strata/pkg/coordinator"
	"github.com/papercomputeco/strata/pkg/fragment"
	"github.com/papercomputeco/strata/pkg/logger"
	"github.com/papercomputeco/strata/pkg/multitier"
	testutils "github.com/papercomputeco/strata/pkg/utils/test"
)

var _ = Describe("Server", func() {
	var (
		ctx      context.Context
		server   *Server
		coord    *coordinator.Coordinator
		backends map[fragment.Tier]*testutils.MockBackend
	)

	BeforeEach(func() {
		ctx = context.Background()
		backends = map[fragment.Tier]*testutils.MockBackend{
			fragment.TierHot:  testutils.NewMockBackend(),
			fragment.TierWarm: testutils.NewMockBackend(),
			fragment.TierCold: testutils.NewMockBackend(),
		}

		drivers := make(map[fragment.Tier]backend.Driver, len(backends))
		for tier, b := range backends {
			drivers[tier] = b
		}

		storage, err := multitier.NewStorage(multitier.Config{
			Backends: drivers,
			Capacities: map[fragment.Tier]int64{
				fragment.TierHot:  10,
				fragment.TierWarm: 20,
				fragment.TierCold: 80,
			},
		})
		Expect(err).NotTo(HaveOccurred())

		coord, err = coordinator.New(coordinator.Config{Storage: storage})
		Expect(err).NotTo(HaveOccurred())

		server = NewServer(Config{ListenAddr: ":0"}, coord, logger.Nop())
	})

	// do sends a request through the fiber app without binding a socket.
	do := func(method, path string, body any) *http.Response {
		var reader io.Reader
		if body != nil {
			raw, err := json.Marshal(body)
			Expect(err).NotTo(HaveOccurred())
			reader = bytes.NewReader(raw)
		}

		req, err := http.NewRequest(method, path, reader)
		Expect(err).NotTo(HaveOccurred())
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := server.app.Test(req)
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	decode := func(resp *http.Response, out any) {
		raw, err := io.ReadAll(resp.Body)
		Expect(err).NotTo(HaveOccurred())
		Expect(json.Unmarshal(raw, out)).To(Succeed())
	}

	Describe("GET /ping", func() {
		It("returns pong", func() {
			resp := do(http.MethodGet, "/ping", nil)
			Expect(resp.StatusCode).To(Equal(fiber.StatusOK))
		})
	})

	Describe("POST /fragments", func() {
		It("ingests a fragment and reports its landing tier", func() {
			resp := do(http.MethodPost, "/fragments", IngestRequest{
				OwnerID:  "owner-1",
				Content:  "remember this",
				Priority: 0.9,
			})
			Expect(resp.StatusCode).To(Equal(fiber.StatusCreated))

			var out IngestResponse
			decode(resp, &out)
			Expect(out.ID).NotTo(BeEmpty())
			Expect(out.Tier).To(Equal("hot"))
		})

		It("rejects a body without content", func() {
			resp := do(http.MethodPost, "/fragments", IngestRequest{Priority: 0.9})
			Expect(resp.StatusCode).To(Equal(fiber.StatusBadRequest))
		})

		It("rejects malformed JSON", func() {
			req, err := http.NewRequest(http.MethodPost, "/fragments", bytes.NewReader([]byte("{nope")))
			Expect(err).NotTo(HaveOccurred())
			req.Header.Set("Content-Type", "application/json")

			resp, err := server.app.Test(req)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(fiber.StatusBadRequest))
		})

		It("returns 503 when no tier accepts the fragment", func() {
			for _, b := range backends {
				b.FailStore = true
			}
			resp := do(http.MethodPost, "/fragments", IngestRequest{Content: "x", Priority: 0.9})
			Expect(resp.StatusCode).To(Equal(fiber.StatusServiceUnavailable))
		})
	})

	Describe("GET /fragments/:id", func() {
		It("returns a stored fragment", func() {
			frag := fragment.New("owner-1", "payload", fragment.KindOther, 0.9)
			Expect(coord.Ingest(ctx, frag)).To(Succeed())

			resp := do(http.MethodGet, "/fragments/"+frag.ID, nil)
			Expect(resp.StatusCode).To(Equal(fiber.StatusOK))

			var out fragment.Fragment
			decode(resp, &out)
			Expect(out.ID).To(Equal(frag.ID))
			Expect(out.Content).To(Equal("payload"))
		})

		It("returns 404 for an unknown id", func() {
			resp := do(http.MethodGet, "/fragments/unknown", nil)
			Expect(resp.StatusCode).To(Equal(fiber.StatusNotFound))
		})
	})

	Describe("DELETE /fragments/:id", func() {
		It("removes the fragment", func() {
			frag := fragment.New("owner-1", "payload", fragment.KindOther, 0.9)
			Expect(coord.Ingest(ctx, frag)).To(Succeed())

			resp := do(http.MethodDelete, "/fragments/"+frag.ID, nil)
			Expect(resp.StatusCode).To(Equal(fiber.StatusNoContent))

			resp = do(http.MethodGet, "/fragments/"+frag.ID, nil)
			Expect(resp.StatusCode).To(Equal(fiber.StatusNotFound))
		})

		It("returns 404 for an unknown id", func() {
			resp := do(http.MethodDelete, "/fragments/unknown", nil)
			Expect(resp.StatusCode).To(Equal(fiber.StatusNotFound))
		})
	})

	Describe("fragment protection", func() {
		It("shields and unshields a fragment from eviction", func() {
			frag := fragment.New("owner-1", "precious", fragment.KindOther, 0.9)
			Expect(coord.Ingest(ctx, frag)).To(Succeed())

			resp := do(http.MethodPost, "/fragments/"+frag.ID+"/protect", nil)
			Expect(resp.StatusCode).To(Equal(fiber.StatusNoContent))
			Expect(coord.Evictor().IsProtected(frag.ID)).To(BeTrue())

			resp = do(http.MethodDelete, "/fragments/"+frag.ID+"/protect", nil)
			Expect(resp.StatusCode).To(Equal(fiber.StatusNoContent))
			Expect(coord.Evictor().IsProtected(frag.ID)).To(BeFalse())
		})
	})

	Describe("GET /status", func() {
		It("reports the coordinator wiring", func() {
			resp := do(http.MethodGet, "/status", nil)
			Expect(resp.StatusCode).To(Equal(fiber.StatusOK))

			var out coordinator.ControllerStatus
			decode(resp, &out)
			Expect(out.Running).To(BeFalse())
			Expect(out.Tiers).To(ConsistOf("hot", "warm", "cold"))
		})
	})

	Describe("GET /stats", func() {
		It("reports counters and tier usage", func() {
			frag := fragment.New("owner-1", "payload", fragment.KindOther, 0.9)
			Expect(coord.Ingest(ctx, frag)).To(Succeed())

			resp := do(http.MethodGet, "/stats", nil)
			Expect(resp.StatusCode).To(Equal(fiber.StatusOK))

			var out fragment.MemoryStats
			decode(resp, &out)
			Expect(out.Ingested).To(Equal(int64(1)))
			Expect(out.Tiers["hot"].Fragments).To(Equal(int64(1)))
		})
	})

	Describe("POST /optimize", func() {
		It("runs a cycle and returns its report", func() {
			resp := do(http.MethodPost, "/optimize", nil)
			Expect(resp.StatusCode).To(Equal(fiber.StatusOK))

			var out coordinator.CycleReport
			decode(resp, &out)
			Expect(out.Promotion).NotTo(BeNil())
			Expect(out.Demotion).NotTo(BeNil())
			Expect(out.Eviction).NotTo(BeNil())
		})
	})

	Describe("POST /optimize/emergency", func() {
		It("rejects a target utilization outside (0,1)", func() {
			resp := do(http.MethodPost, "/optimize/emergency", EmergencyRequest{TargetUtilization: 1.5})
			Expect(resp.StatusCode).To(Equal(fiber.StatusBadRequest))
		})

		It("runs an emergency pass", func() {
			resp := do(http.MethodPost, "/optimize/emergency", EmergencyRequest{TargetUtilization: 0.5})
			Expect(resp.StatusCode).To(Equal(fiber.StatusOK))
		})
	})
})
