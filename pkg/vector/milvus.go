// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package vector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kadirpekel/searchsocket/pkg/scope"
	"github.com/kadirpekel/searchsocket/pkg/sserr"
)

const milvusRegistryCollection = "searchsocket_registry"

// MilvusConfig configures the Milvus adapter (HTTP API).
type MilvusConfig struct {
	BaseURL   string `yaml:"baseUrl"`
	APIKey    string `yaml:"apiKey"`
	APIKeyEnv string `yaml:"apiKeyEnv"`
	Dimension int    `yaml:"dimension"`
}

// SetDefaults sets default values for MilvusConfig.
func (c *MilvusConfig) SetDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = "http://localhost:19530"
	}
	if c.Dimension == 0 {
		c.Dimension = 1024
	}
}

// MilvusStore talks to Milvus over its HTTP API, one collection per
// scope. Tag filters are re-checked client-side because record tags are
// stored as a comma-joined string.
type MilvusStore struct {
	baseURL   string
	apiKey    string
	dimension int
	client    *http.Client
}

// NewMilvusStore creates a Milvus adapter.
func NewMilvusStore(cfg MilvusConfig, apiKey string) *MilvusStore {
	cfg.SetDefaults()
	return &MilvusStore{
		baseURL:   strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:    apiKey,
		dimension: cfg.Dimension,
		client:    &http.Client{Timeout: 30 * time.Second},
	}
}

// doRequest issues one HTTP call and decodes the JSON response into out
// when out is non-nil.
func (s *MilvusStore) doRequest(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return sserr.Wrap(sserr.CodeInternal, err, "failed to encode milvus request")
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, body)
	if err != nil {
		return sserr.Wrap(sserr.CodeInternal, err, "failed to build milvus request")
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return sserr.Wrap(sserr.CodeVectorUnavailable, err, "milvus request failed: %s %s", method, path)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return sserr.New(sserr.CodeVectorUnavailable, "milvus returned %d for %s %s: %s", resp.StatusCode, method, path, strings.TrimSpace(string(raw)))
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return sserr.Wrap(sserr.CodeVectorUnavailable, err, "failed to decode milvus response for %s", path)
		}
	}
	return nil
}

// ensureCollection creates a cosine collection if missing. Milvus
// returns success for create calls on existing collections.
func (s *MilvusStore) ensureCollection(ctx context.Context, name string, dim int) error {
	return s.doRequest(ctx, http.MethodPost, "/api/v1/collections", map[string]any{
		"collection_name": name,
		"dimension":       dim,
		"metric_type":     "COSINE",
	}, nil)
}

type milvusEntity struct {
	ID       string         `json:"id"`
	Vector   []float32      `json:"vector"`
	Metadata map[string]any `json:"metadata"`
}

// Upsert writes records into the scope's collection.
func (s *MilvusStore) Upsert(ctx context.Context, sc scope.Scope, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	name := scopeCollection(sc)
	if err := s.ensureCollection(ctx, name, len(records[0].Vector)); err != nil {
		return err
	}
	for _, batch := range Batches(records, UpsertBatchSize) {
		entities := make([]milvusEntity, 0, len(batch))
		for _, r := range batch {
			entities = append(entities, milvusEntity{ID: r.ID, Vector: r.Vector, Metadata: r.Metadata})
		}
		if err := s.doRequest(ctx, http.MethodPost, "/api/v1/entities", map[string]any{
			"collection_name": name,
			"data":            entities,
		}, nil); err != nil {
			return err
		}
	}
	return nil
}

type milvusSearchResponse struct {
	Results []struct {
		ID       string         `json:"id"`
		Score    float32        `json:"score"`
		Metadata map[string]any `json:"metadata"`
	} `json:"results"`
}

// Query searches the scope's collection. The dir-bucket equality rides
// the expr filter; tags filter client-side.
func (s *MilvusStore) Query(ctx context.Context, sc scope.Scope, vec []float32, opts QueryOptions) ([]Hit, error) {
	payload := map[string]any{
		"collection_name": scopeCollection(sc),
		"vector":          vec,
		"top_k":           queryFetchLimit(opts),
		"metric_type":     "COSINE",
	}
	if key, value, ok := DirBucketFilter(opts.PathPrefix); ok {
		payload["expr"] = fmt.Sprintf("metadata[%q] == %q", key, value)
	}
	var resp milvusSearchResponse
	if err := s.doRequest(ctx, http.MethodPost, "/api/v1/search", payload, &resp); err != nil {
		if strings.Contains(err.Error(), "not found") || strings.Contains(err.Error(), "not exist") {
			return []Hit{}, nil
		}
		return nil, err
	}
	hits := make([]Hit, 0, len(resp.Results))
	for _, r := range resp.Results {
		hits = append(hits, Hit{ID: r.ID, Score: r.Score, Metadata: r.Metadata})
	}
	return FilterHits(hits, opts), nil
}

// queryFetchLimit over-fetches so client-side tag filtering still fills
// topK.
func queryFetchLimit(opts QueryOptions) int {
	limit := opts.TopK
	if limit <= 0 {
		limit = 10
	}
	if len(opts.Tags) > 0 || opts.PathPrefix != "" {
		limit *= 4
	}
	return limit
}

// DeleteByIDs removes entities by id.
func (s *MilvusStore) DeleteByIDs(ctx context.Context, sc scope.Scope, ids []string) error {
	for _, batch := range Batches(ids, DeleteBatchSize) {
		if err := s.doRequest(ctx, http.MethodDelete, "/api/v1/entities", map[string]any{
			"collection_name": scopeCollection(sc),
			"ids":             batch,
		}, nil); err != nil {
			return err
		}
	}
	return nil
}

// DeleteScope drops the collection and the registry entry.
func (s *MilvusStore) DeleteScope(ctx context.Context, sc scope.Scope) error {
	if err := s.doRequest(ctx, http.MethodDelete, "/api/v1/collections", map[string]any{
		"collection_name": scopeCollection(sc),
	}, nil); err != nil && !strings.Contains(err.Error(), "not exist") {
		return err
	}
	err := s.doRequest(ctx, http.MethodDelete, "/api/v1/entities", map[string]any{
		"collection_name": milvusRegistryCollection,
		"ids":             []string{sc.ID()},
	}, nil)
	if err != nil && !strings.Contains(err.Error(), "not exist") {
		return err
	}
	return nil
}

type milvusQueryResponse struct {
	Data []struct {
		ID       string         `json:"id"`
		Metadata map[string]any `json:"metadata"`
	} `json:"data"`
}

// queryPage reads one page of entities from a collection.
func (s *MilvusStore) queryPage(ctx context.Context, collection, expr string, offset int) ([]struct {
	ID       string         `json:"id"`
	Metadata map[string]any `json:"metadata"`
}, error) {
	var resp milvusQueryResponse
	err := s.doRequest(ctx, http.MethodPost, "/api/v1/query", map[string]any{
		"collection_name": collection,
		"expr":            expr,
		"output_fields":   []string{"id", "metadata"},
		"limit":           ListPageSize,
		"offset":          offset,
	}, &resp)
	if err != nil {
		if strings.Contains(err.Error(), "not found") || strings.Contains(err.Error(), "not exist") {
			return nil, nil
		}
		return nil, err
	}
	return resp.Data, nil
}

// ListScopes reads registry entries for a project.
func (s *MilvusStore) ListScopes(ctx context.Context, projectID string) ([]ScopeInfo, error) {
	infos := make([]ScopeInfo, 0)
	for offset := 0; ; offset += ListPageSize {
		page, err := s.queryPage(ctx, milvusRegistryCollection, fmt.Sprintf("metadata[%q] == %q", MetaProjectID, projectID), offset)
		if err != nil {
			return nil, err
		}
		for _, row := range page {
			infos = append(infos, scopeInfoFromMap(row.Metadata))
		}
		if len(page) < ListPageSize {
			return infos, nil
		}
	}
}

// RecordScope upserts the registry entry for a scope. The registry
// collection holds placeholder vectors.
func (s *MilvusStore) RecordScope(ctx context.Context, info ScopeInfo) error {
	if err := s.ensureCollection(ctx, milvusRegistryCollection, 1); err != nil {
		return err
	}
	scopeID := info.ProjectID + ":" + info.ScopeName
	return s.doRequest(ctx, http.MethodPost, "/api/v1/entities", map[string]any{
		"collection_name": milvusRegistryCollection,
		"data": []milvusEntity{{
			ID:       scopeID,
			Vector:   []float32{1},
			Metadata: scopeInfoToMap(info),
		}},
	}, nil)
}

// GetContentHashes pages through the scope collection.
func (s *MilvusStore) GetContentHashes(ctx context.Context, sc scope.Scope) (map[string]string, error) {
	out := map[string]string{}
	for offset := 0; ; offset += ListPageSize {
		page, err := s.queryPage(ctx, scopeCollection(sc), `id != ""`, offset)
		if err != nil {
			return nil, err
		}
		for _, row := range page {
			out[row.ID] = MetadataString(row.Metadata, MetaContentHash)
		}
		if len(page) < ListPageSize {
			return out, nil
		}
	}
}

// Health checks the collections endpoint responds.
func (s *MilvusStore) Health(ctx context.Context) error {
	return s.doRequest(ctx, http.MethodGet, "/api/v1/collections", nil, nil)
}

// Close is a no-op for the HTTP client.
func (s *MilvusStore) Close() error { return nil }

var _ Store = (*MilvusStore)(nil)
