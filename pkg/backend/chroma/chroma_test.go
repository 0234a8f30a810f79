package chroma_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/strata/pkg/backend"
	"github.com/papercomputeco/strata/pkg/backend/chroma"
	"github.com/papercomputeco/strata/pkg/fragment"
	"github.com/papercomputeco/strata/pkg/logger"
	testutils "github.com/papercomputeco/strata/pkg/utils/test"
)

const apiPrefix = "/api/v2/tenants/default_tenant/databases/default_database/collections"

type fakeDocument struct {
	Document  string
	Metadata  map[string]any
	Embedding []float32
}

// fakeChroma is an in-memory stand-in for the Chroma v2 REST API, covering
// only the endpoints the driver talks to.
type fakeChroma struct {
	mu sync.Mutex

	collectionID   string
	collectionName string
	created        bool

	order []string
	docs  map[string]fakeDocument
}

func newFakeChroma() *fakeChroma {
	return &fakeChroma{
		collectionID: "col-0001",
		docs:         make(map[string]fakeDocument),
	}
}

func (f *fakeChroma) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		path := strings.TrimPrefix(r.URL.Path, apiPrefix)
		switch {
		case path == "" && r.Method == http.MethodPost:
			f.handleCreate(w, r)
		case strings.HasSuffix(path, "/upsert"):
			f.handleUpsert(w, r)
		case strings.HasSuffix(path, "/get"):
			f.handleGet(w, r)
		case strings.HasSuffix(path, "/delete"):
			f.handleDelete(w, r)
		case strings.HasSuffix(path, "/count"):
			fmt.Fprintf(w, "%d", len(f.docs))
		case r.Method == http.MethodGet:
			f.handleLookup(w, strings.TrimPrefix(path, "/"))
		default:
			http.NotFound(w, r)
		}
	})
}

func (f *fakeChroma) handleLookup(w http.ResponseWriter, name string) {
	if !f.created || f.collectionName != name {
		http.NotFound(w, nil)
		return
	}
	json.NewEncoder(w).Encode(map[string]string{
		"id":   f.collectionID,
		"name": f.collectionName,
	})
}

func (f *fakeChroma) handleCreate(w http.ResponseWriter, r *http.Request) {
	var body map[string]string
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f.created = true
	f.collectionName = body["name"]
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]string{
		"id":   f.collectionID,
		"name": f.collectionName,
	})
}

func (f *fakeChroma) handleUpsert(w http.ResponseWriter, r *http.Request) {
	var body struct {
		IDs        []string         `json:"ids"`
		Embeddings [][]float32      `json:"embeddings"`
		Metadatas  []map[string]any `json:"metadatas"`
		Documents  []string         `json:"documents"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	for i, id := range body.IDs {
		doc := fakeDocument{}
		if i < len(body.Documents) {
			doc.Document = body.Documents[i]
		}
		if i < len(body.Metadatas) {
			doc.Metadata = body.Metadatas[i]
		}
		if i < len(body.Embeddings) {
			doc.Embedding = body.Embeddings[i]
		}
		if _, exists := f.docs[id]; !exists {
			f.order = append(f.order, id)
		}
		f.docs[id] = doc
	}
	w.WriteHeader(http.StatusOK)
}

func (f *fakeChroma) handleGet(w http.ResponseWriter, r *http.Request) {
	var body struct {
		IDs    []string `json:"ids"`
		Limit  int      `json:"limit"`
		Offset int      `json:"offset"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ids := body.IDs
	if len(ids) == 0 {
		ids = f.order
		if body.Offset > 0 {
			if body.Offset >= len(ids) {
				ids = nil
			} else {
				ids = ids[body.Offset:]
			}
		}
		if body.Limit > 0 && body.Limit < len(ids) {
			ids = ids[:body.Limit]
		}
	}

	resp := struct {
		IDs       []string         `json:"ids"`
		Metadatas []map[string]any `json:"metadatas"`
		Documents []string         `json:"documents"`
	}{IDs: []string{}, Metadatas: []map[string]any{}, Documents: []string{}}

	for _, id := range ids {
		doc, ok := f.docs[id]
		if !ok {
			continue
		}
		resp.IDs = append(resp.IDs, id)
		resp.Metadatas = append(resp.Metadatas, doc.Metadata)
		resp.Documents = append(resp.Documents, doc.Document)
	}
	json.NewEncoder(w).Encode(resp)
}

func (f *fakeChroma) handleDelete(w http.ResponseWriter, r *http.Request) {
	var body struct {
		IDs []string `json:"ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	for _, id := range body.IDs {
		if _, ok := f.docs[id]; !ok {
			continue
		}
		delete(f.docs, id)
		for i, existing := range f.order {
			if existing == id {
				f.order = append(f.order[:i], f.order[i+1:]...)
				break
			}
		}
	}
	w.WriteHeader(http.StatusOK)
}

var _ = Describe("Chroma Driver", func() {
	var (
		ctx    context.Context
		fake   *fakeChroma
		server *httptest.Server
	)

	BeforeEach(func() {
		ctx = context.Background()
		fake = newFakeChroma()
		server = httptest.NewServer(fake.handler())
		DeferCleanup(server.Close)
	})

	newDriver := func(cfg chroma.Config) *chroma.Driver {
		cfg.URL = server.URL
		driver, err := chroma.NewDriver(cfg, logger.Nop())
		Expect(err).NotTo(HaveOccurred())
		return driver
	}

	Describe("NewDriver", func() {
		It("requires a URL", func() {
			_, err := chroma.NewDriver(chroma.Config{}, logger.Nop())
			Expect(err).To(MatchError(ContainSubstring("chroma URL is required")))
		})

		It("creates the collection when it does not exist", func() {
			newDriver(chroma.Config{})

			Expect(fake.created).To(BeTrue())
			Expect(fake.collectionName).To(Equal(chroma.DefaultCollectionName))
		})

		It("reuses an existing collection", func() {
			fake.created = true
			fake.collectionName = "existing"
			fake.collectionID = "col-existing"

			driver := newDriver(chroma.Config{CollectionName: "existing"})

			frag := fragment.New("owner", "hello", fragment.KindOther, 0.3)
			Expect(driver.Store(ctx, frag)).To(Succeed())
			Expect(fake.docs).To(HaveKey(frag.ID))
		})
	})

	Describe("Store and Get", func() {
		It("round-trips a fragment through the collection", func() {
			driver := newDriver(chroma.Config{})

			frag := fragment.New("owner", "semantic payload", fragment.KindSummary, 0.35)
			frag.Tier = fragment.TierSemantic
			frag.AccessCount = 4
			frag.Attributes = map[string]string{"topic": "routing"}
			Expect(driver.Store(ctx, frag)).To(Succeed())

			got, ok, err := driver.Get(ctx, frag.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
			Expect(got.ID).To(Equal(frag.ID))
			Expect(got.OwnerID).To(Equal("owner"))
			Expect(got.Content).To(Equal("semantic payload"))
			Expect(got.Kind).To(Equal(fragment.KindSummary))
			Expect(got.Priority).To(BeNumerically("~", 0.35))
			Expect(got.Tier).To(Equal(fragment.TierSemantic))
			Expect(got.AccessCount).To(Equal(int64(4)))
			Expect(got.Attributes).To(HaveKeyWithValue("topic", "routing"))
		})

		It("stores the content as the document, not the envelope", func() {
			driver := newDriver(chroma.Config{})

			frag := fragment.New("owner", "searchable text", fragment.KindContext, 0.3)
			Expect(driver.Store(ctx, frag)).To(Succeed())

			Expect(fake.docs[frag.ID].Document).To(Equal("searchable text"))
			envelope, _ := fake.docs[frag.ID].Metadata["fragment"].(string)
			Expect(envelope).NotTo(ContainSubstring("searchable text"))
		})

		It("rejects a nil fragment", func() {
			driver := newDriver(chroma.Config{})
			Expect(driver.Store(ctx, nil)).To(MatchError(ContainSubstring("nil fragment")))
		})

		It("rejects a fragment without an ID", func() {
			driver := newDriver(chroma.Config{})
			frag := fragment.New("owner", "payload", fragment.KindOther, 0.3)
			frag.ID = ""
			Expect(driver.Store(ctx, frag)).To(MatchError(ContainSubstring("without an ID")))
		})

		It("reports a miss without an error", func() {
			driver := newDriver(chroma.Config{})

			_, ok, err := driver.Get(ctx, "absent")
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeFalse())
		})
	})

	Describe("with an embedder", func() {
		It("sends client-side embeddings on upsert", func() {
			embedder := testutils.NewMockEmbedder()
			embedder.Embeddings["vectorized"] = []float32{0.9, 0.8, 0.7}
			driver := newDriver(chroma.Config{Embedder: embedder})

			frag := fragment.New("owner", "vectorized", fragment.KindOther, 0.3)
			Expect(driver.Store(ctx, frag)).To(Succeed())

			Expect(fake.docs[frag.ID].Embedding).To(Equal([]float32{0.9, 0.8, 0.7}))
		})

		It("fails the store when embedding fails", func() {
			embedder := testutils.NewMockEmbedder()
			embedder.FailOn = "poison"
			driver := newDriver(chroma.Config{Embedder: embedder})

			frag := fragment.New("owner", "poison", fragment.KindOther, 0.3)
			err := driver.Store(ctx, frag)
			Expect(err).To(MatchError(ContainSubstring("embedding fragment")))
			Expect(fake.docs).To(BeEmpty())
		})

		It("leaves embedding to the server when no embedder is configured", func() {
			driver := newDriver(chroma.Config{})

			frag := fragment.New("owner", "server side", fragment.KindOther, 0.3)
			Expect(driver.Store(ctx, frag)).To(Succeed())

			Expect(fake.docs[frag.ID].Embedding).To(BeNil())
		})
	})

	Describe("Delete", func() {
		It("removes a stored fragment", func() {
			driver := newDriver(chroma.Config{})

			frag := fragment.New("owner", "short lived", fragment.KindOther, 0.3)
			Expect(driver.Store(ctx, frag)).To(Succeed())
			Expect(driver.Delete(ctx, frag.ID)).To(Succeed())

			_, ok, err := driver.Get(ctx, frag.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeFalse())
		})

		It("treats an absent ID as a no-op", func() {
			driver := newDriver(chroma.Config{})
			Expect(driver.Delete(ctx, "absent")).To(Succeed())
		})
	})

	Describe("List", func() {
		It("pages through the collection", func() {
			driver := newDriver(chroma.Config{})

			for i := range 5 {
				frag := fragment.New("owner", fmt.Sprintf("doc %d", i), fragment.KindOther, 0.3)
				Expect(driver.Store(ctx, frag)).To(Succeed())
			}

			page, err := driver.List(ctx, 2, 3)
			Expect(err).NotTo(HaveOccurred())
			Expect(page).To(HaveLen(2))
			Expect(page[0].Content).To(Equal("doc 3"))
			Expect(page[1].Content).To(Equal("doc 4"))
		})

		It("returns an empty page past the end", func() {
			driver := newDriver(chroma.Config{})

			page, err := driver.List(ctx, 10, 100)
			Expect(err).NotTo(HaveOccurred())
			Expect(page).To(BeEmpty())
		})
	})

	Describe("Touch", func() {
		It("bumps the access bookkeeping", func() {
			driver := newDriver(chroma.Config{})

			frag := fragment.New("owner", "touched", fragment.KindOther, 0.3)
			Expect(driver.Store(ctx, frag)).To(Succeed())

			at := time.Now().UTC().Add(time.Hour)
			Expect(driver.Touch(ctx, frag.ID, at)).To(Succeed())

			got, ok, err := driver.Get(ctx, frag.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
			Expect(got.AccessCount).To(Equal(int64(1)))
			Expect(got.LastAccessedAt).To(BeTemporally("~", at, time.Second))
		})

		It("returns not found for an absent fragment", func() {
			driver := newDriver(chroma.Config{})
			err := driver.Touch(ctx, "absent", time.Now())
			Expect(err).To(MatchError(backend.NotFoundError{ID: "absent"}))
		})
	})

	Describe("Stats", func() {
		It("reports the collection count", func() {
			driver := newDriver(chroma.Config{})

			for i := range 3 {
				frag := fragment.New("owner", fmt.Sprintf("counted %d", i), fragment.KindOther, 0.3)
				Expect(driver.Store(ctx, frag)).To(Succeed())
			}

			stats, err := driver.Stats(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(stats.Fragments).To(Equal(int64(3)))
			Expect(stats.SizeBytes).To(BeZero())
		})
	})
})
