// Package chroma provides the Chroma-backed semantic-tier storage backend.
// Fragment content is stored as the Chroma document so the collection stays
// queryable by similarity; the rest of the fragment travels as metadata.
package chroma

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/papercomputeco/strata/pkg/backend"
	"github.com/papercomputeco/strata/pkg/embeddings"
	"github.com/papercomputeco/strata/pkg/fragment"
)

const (
	// DefaultCollectionName is the default collection name for storing fragments.
	DefaultCollectionName = "strata"
)

// Driver implements backend.Driver using Chroma's REST API.
type Driver struct {
	baseURL        string
	collectionName string
	collectionID   string
	httpClient     *http.Client
	embedder       embeddings.Embedder
	logger         *zap.Logger
}

// Config holds configuration for the Chroma driver.
type Config struct {
	// URL is the Chroma server URL (e.g., "http://localhost:8000").
	URL string

	// CollectionName is the name of the collection to use.
	// Defaults to DefaultCollectionName if empty.
	CollectionName string

	// Embedder computes embeddings for stored content. When nil the
	// server's configured embedding function is used instead.
	Embedder embeddings.Embedder
}

// NewDriver creates a new Chroma storage driver.
func NewDriver(c Config, logger *zap.Logger) (*Driver, error) {
	if c.URL == "" {
		return nil, fmt.Errorf("chroma URL is required")
	}

	collectionName := c.CollectionName
	if collectionName == "" {
		collectionName = DefaultCollectionName
	}

	d := &Driver{
		baseURL:        c.URL,
		collectionName: collectionName,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		embedder: c.Embedder,
		logger:   logger,
	}

	collectionID, err := d.getOrCreateCollection(context.Background())
	if err != nil {
		return nil, fmt.Errorf("getting or creating collection %q: %w", collectionName, err)
	}
	d.collectionID = collectionID

	logger.Info("connected to Chroma",
		zap.String("url", c.URL),
		zap.String("collection", collectionName),
		zap.String("collection_id", collectionID),
	)

	return d, nil
}

// getOrCreateCollection gets an existing collection or creates a new one.
func (d *Driver) getOrCreateCollection(ctx context.Context) (string, error) {
	url := fmt.Sprintf("%s/api/v2/tenants/default_tenant/databases/default_database/collections/%s", d.baseURL, d.collectionName)

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return "", fmt.Errorf("creating get request: %w", err)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("sending get request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		var collection chromaCollection
		if err := json.NewDecoder(resp.Body).Decode(&collection); err != nil {
			return "", fmt.Errorf("decoding collection response: %w", err)
		}
		return collection.ID, nil
	}

	// Collection doesn't exist, create it
	createURL := fmt.Sprintf("%s/api/v2/tenants/default_tenant/databases/default_database/collections", d.baseURL)
	createBody := map[string]string{"name": d.collectionName}
	jsonBody, err := json.Marshal(createBody)
	if err != nil {
		return "", fmt.Errorf("marshaling create request: %w", err)
	}

	req, err = http.NewRequestWithContext(ctx, "POST", createURL, bytes.NewReader(jsonBody))
	if err != nil {
		return "", fmt.Errorf("creating create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err = d.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("sending create request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("failed to create collection: status %d: %s", resp.StatusCode, string(body))
	}

	var collection chromaCollection
	if err := json.NewDecoder(resp.Body).Decode(&collection); err != nil {
		return "", fmt.Errorf("decoding create response: %w", err)
	}

	return collection.ID, nil
}

// Store upserts a fragment into the collection.
func (d *Driver) Store(ctx context.Context, frag *fragment.Fragment) error {
	if frag == nil {
		return fmt.Errorf("cannot store nil fragment")
	}
	if frag.ID == "" {
		return fmt.Errorf("cannot store fragment without an ID")
	}

	meta, err := fragmentMetadata(frag)
	if err != nil {
		return fmt.Errorf("encoding fragment %s: %w", frag.ID, err)
	}

	reqBody := chromaUpsertRequest{
		IDs:       []string{frag.ID},
		Documents: []string{frag.Content},
		Metadatas: []map[string]any{meta},
	}

	if d.embedder != nil {
		embedding, err := d.embedder.Embed(ctx, frag.Content)
		if err != nil {
			return fmt.Errorf("embedding fragment %s: %w", frag.ID, err)
		}
		reqBody.Embeddings = [][]float32{embedding}
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshaling upsert request: %w", err)
	}

	url := fmt.Sprintf("%s/api/v2/tenants/default_tenant/databases/default_database/collections/%s/upsert", d.baseURL, d.collectionID)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("creating upsert request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending upsert request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("failed to upsert fragment: status %d: %s", resp.StatusCode, string(body))
	}

	d.logger.Debug("stored fragment in chroma",
		zap.String("id", frag.ID),
	)

	return nil
}

// Get retrieves a fragment by ID.
func (d *Driver) Get(ctx context.Context, id string) (*fragment.Fragment, bool, error) {
	getResp, err := d.getDocuments(ctx, chromaGetRequest{
		IDs:     []string{id},
		Include: []string{"metadatas", "documents"},
	})
	if err != nil {
		return nil, false, err
	}
	if len(getResp.IDs) == 0 {
		return nil, false, nil
	}

	frag, err := fragmentFromDocument(getResp.IDs[0], getResp.Metadatas, getResp.Documents, 0)
	if err != nil {
		return nil, false, fmt.Errorf("decoding fragment %s: %w", id, err)
	}
	return frag, true, nil
}

// Delete removes a fragment by ID. Deleting an absent ID is a no-op.
func (d *Driver) Delete(ctx context.Context, id string) error {
	reqBody := chromaDeleteRequest{IDs: []string{id}}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshaling delete request: %w", err)
	}

	url := fmt.Sprintf("%s/api/v2/tenants/default_tenant/databases/default_database/collections/%s/delete", d.baseURL, d.collectionID)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("creating delete request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending delete request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("failed to delete fragment: status %d: %s", resp.StatusCode, string(body))
	}

	d.logger.Debug("deleted fragment from chroma",
		zap.String("id", id),
	)

	return nil
}

// List pages through the collection. Chroma does not guarantee an ordering
// for unfiltered gets, so pagination here is stable only between writes.
func (d *Driver) List(ctx context.Context, limit, offset int) ([]*fragment.Fragment, error) {
	if offset < 0 {
		offset = 0
	}

	getResp, err := d.getDocuments(ctx, chromaGetRequest{
		Limit:   limit,
		Offset:  offset,
		Include: []string{"metadatas", "documents"},
	})
	if err != nil {
		return nil, err
	}

	out := make([]*fragment.Fragment, 0, len(getResp.IDs))
	for i, id := range getResp.IDs {
		frag, err := fragmentFromDocument(id, getResp.Metadatas, getResp.Documents, i)
		if err != nil {
			return nil, fmt.Errorf("decoding fragment %s: %w", id, err)
		}
		out = append(out, frag)
	}
	return out, nil
}

// Touch bumps the access bookkeeping for a fragment. Chroma has no partial
// update, so this is a read-modify-upsert; the coordinator is the only
// writer for the semantic tier, which keeps it safe.
func (d *Driver) Touch(ctx context.Context, id string, at time.Time) error {
	frag, ok, err := d.Get(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return backend.NotFoundError{ID: id}
	}

	frag.AccessCount++
	if at.After(frag.LastAccessedAt) {
		frag.LastAccessedAt = at
	}

	return d.Store(ctx, frag)
}

// Stats reports the collection's fragment count. Chroma does not expose a
// storage-size figure, so SizeBytes is always zero for this tier.
func (d *Driver) Stats(ctx context.Context) (fragment.TierStats, error) {
	url := fmt.Sprintf("%s/api/v2/tenants/default_tenant/databases/default_database/collections/%s/count", d.baseURL, d.collectionID)

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return fragment.TierStats{}, fmt.Errorf("creating count request: %w", err)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fragment.TierStats{}, fmt.Errorf("sending count request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fragment.TierStats{}, fmt.Errorf("failed to count fragments: status %d: %s", resp.StatusCode, string(body))
	}

	var count int64
	if err := json.NewDecoder(resp.Body).Decode(&count); err != nil {
		return fragment.TierStats{}, fmt.Errorf("decoding count response: %w", err)
	}

	return fragment.TierStats{Fragments: count}, nil
}

// Close releases resources held by the driver.
func (d *Driver) Close() error {
	if d.embedder != nil {
		return d.embedder.Close()
	}
	return nil
}

func (d *Driver) getDocuments(ctx context.Context, reqBody chromaGetRequest) (*chromaGetResponse, error) {
	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshaling get request: %w", err)
	}

	url := fmt.Sprintf("%s/api/v2/tenants/default_tenant/databases/default_database/collections/%s/get", d.baseURL, d.collectionID)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("creating get request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending get request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("failed to get fragments: status %d: %s", resp.StatusCode, string(body))
	}

	var getResp chromaGetResponse
	if err := json.NewDecoder(resp.Body).Decode(&getResp); err != nil {
		return nil, fmt.Errorf("decoding get response: %w", err)
	}
	return &getResp, nil
}

// fragmentMetadata packs the non-content fields into Chroma metadata.
// Chroma only accepts scalar metadata values, so the envelope travels as a
// single JSON string.
func fragmentMetadata(frag *fragment.Fragment) (map[string]any, error) {
	envelope := frag.Clone()
	envelope.Content = ""

	raw, err := json.Marshal(envelope)
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"fragment":   string(raw),
		"priority":   frag.Priority,
		"created_at": frag.CreatedAt.Unix(),
	}, nil
}

func fragmentFromDocument(id string, metadatas []map[string]any, documents []string, i int) (*fragment.Fragment, error) {
	if i >= len(metadatas) || metadatas[i] == nil {
		return nil, fmt.Errorf("missing metadata")
	}

	raw, ok := metadatas[i]["fragment"].(string)
	if !ok {
		return nil, fmt.Errorf("missing fragment envelope in metadata")
	}

	var frag fragment.Fragment
	if err := json.Unmarshal([]byte(raw), &frag); err != nil {
		return nil, fmt.Errorf("unmarshaling fragment envelope: %w", err)
	}

	frag.ID = id
	if i < len(documents) {
		frag.Content = documents[i]
	}
	return &frag, nil
}
