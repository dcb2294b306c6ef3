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

const upstashRegistryNamespace = "__registry__"

// UpstashConfig configures the Upstash Vector adapter (REST API).
type UpstashConfig struct {
	URL       string `yaml:"url"`
	Token     string `yaml:"token"`
	TokenEnv  string `yaml:"tokenEnv"`
	Dimension int    `yaml:"dimension"`
}

// SetDefaults sets default values for UpstashConfig.
func (c *UpstashConfig) SetDefaults() {
	if c.Dimension == 0 {
		c.Dimension = 1024
	}
}

// UpstashStore maps each scope to an Upstash namespace. The registry
// lives in its own namespace with placeholder vectors, the same layout
// the Pinecone adapter uses.
type UpstashStore struct {
	baseURL   string
	token     string
	dimension int
	client    *http.Client
}

// NewUpstashStore creates an Upstash adapter.
func NewUpstashStore(cfg UpstashConfig, token string) (*UpstashStore, error) {
	cfg.SetDefaults()
	if cfg.URL == "" {
		return nil, sserr.New(sserr.CodeConfigMissing, "upstash url is required")
	}
	return &UpstashStore{
		baseURL:   strings.TrimSuffix(cfg.URL, "/"),
		token:     token,
		dimension: cfg.Dimension,
		client:    &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// namespace maps a scope to its Upstash namespace.
func upstashNamespace(sc scope.Scope) string {
	return strings.ReplaceAll(sc.ID(), ":", "_")
}

// doRequest posts one REST call; the namespace rides the path.
func (s *UpstashStore) doRequest(ctx context.Context, op, namespace string, payload, out any) error {
	path := s.baseURL + "/" + op
	if namespace != "" {
		path += "/" + namespace
	}
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return sserr.Wrap(sserr.CodeInternal, err, "failed to encode upstash request")
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, path, body)
	if err != nil {
		return sserr.Wrap(sserr.CodeInternal, err, "failed to build upstash request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.token)
	resp, err := s.client.Do(req)
	if err != nil {
		return sserr.Wrap(sserr.CodeVectorUnavailable, err, "upstash request failed: %s", op)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return sserr.New(sserr.CodeVectorUnavailable, "upstash returned %d for %s: %s", resp.StatusCode, op, strings.TrimSpace(string(raw)))
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return sserr.Wrap(sserr.CodeVectorUnavailable, err, "failed to decode upstash response for %s", op)
		}
	}
	return nil
}

type upstashVector struct {
	ID       string         `json:"id"`
	Vector   []float32      `json:"vector"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Upsert writes records into the scope's namespace.
func (s *UpstashStore) Upsert(ctx context.Context, sc scope.Scope, records []Record) error {
	ns := upstashNamespace(sc)
	for _, batch := range Batches(records, UpsertBatchSize) {
		vectors := make([]upstashVector, 0, len(batch))
		for _, r := range batch {
			vectors = append(vectors, upstashVector{ID: r.ID, Vector: r.Vector, Metadata: r.Metadata})
		}
		if err := s.doRequest(ctx, "upsert", ns, vectors, nil); err != nil {
			return err
		}
	}
	return nil
}

// upstashFilter renders the query filter in Upstash's SQL-like syntax.
// Both the dir-bucket equality and tag membership are expressible, so
// the client-side re-check is belt and braces only.
func upstashFilter(opts QueryOptions) string {
	var clauses []string
	if key, value, ok := DirBucketFilter(opts.PathPrefix); ok {
		clauses = append(clauses, fmt.Sprintf("%s = '%s'", key, value))
	}
	for _, tag := range opts.Tags {
		clauses = append(clauses, fmt.Sprintf("tags CONTAINS '%s'", strings.ReplaceAll(tag, "'", "")))
	}
	return strings.Join(clauses, " AND ")
}

type upstashQueryResponse struct {
	Result []struct {
		ID       string         `json:"id"`
		Score    float32        `json:"score"`
		Metadata map[string]any `json:"metadata"`
	} `json:"result"`
}

// Query searches the scope's namespace.
func (s *UpstashStore) Query(ctx context.Context, sc scope.Scope, vec []float32, opts QueryOptions) ([]Hit, error) {
	topK := opts.TopK
	if topK <= 0 {
		topK = 10
	}
	payload := map[string]any{
		"vector":          vec,
		"topK":            topK,
		"includeMetadata": true,
	}
	if filter := upstashFilter(opts); filter != "" {
		payload["filter"] = filter
	}
	var resp upstashQueryResponse
	if err := s.doRequest(ctx, "query", upstashNamespace(sc), payload, &resp); err != nil {
		return nil, err
	}
	hits := make([]Hit, 0, len(resp.Result))
	for _, r := range resp.Result {
		hits = append(hits, Hit{ID: r.ID, Score: r.Score, Metadata: r.Metadata})
	}
	return FilterHits(hits, opts), nil
}

// DeleteByIDs removes vectors by id.
func (s *UpstashStore) DeleteByIDs(ctx context.Context, sc scope.Scope, ids []string) error {
	for _, batch := range Batches(ids, DeleteBatchSize) {
		if err := s.doRequest(ctx, "delete", upstashNamespace(sc), map[string]any{"ids": batch}, nil); err != nil {
			return err
		}
	}
	return nil
}

// DeleteScope resets the namespace and removes the registry entry.
func (s *UpstashStore) DeleteScope(ctx context.Context, sc scope.Scope) error {
	if err := s.doRequest(ctx, "reset", upstashNamespace(sc), struct{}{}, nil); err != nil {
		return err
	}
	return s.doRequest(ctx, "delete", upstashRegistryNamespace, map[string]any{"ids": []string{sc.ID()}}, nil)
}

type upstashRangeResponse struct {
	Result struct {
		NextCursor string `json:"nextCursor"`
		Vectors    []struct {
			ID       string         `json:"id"`
			Metadata map[string]any `json:"metadata"`
		} `json:"vectors"`
	} `json:"result"`
}

// rangeAll pages through a namespace collecting ids and metadata.
func (s *UpstashStore) rangeAll(ctx context.Context, namespace string, visit func(id string, md map[string]any)) error {
	cursor := "0"
	for {
		var resp upstashRangeResponse
		err := s.doRequest(ctx, "range", namespace, map[string]any{
			"cursor":          cursor,
			"limit":           ListPageSize,
			"includeMetadata": true,
		}, &resp)
		if err != nil {
			return err
		}
		for _, v := range resp.Result.Vectors {
			visit(v.ID, v.Metadata)
		}
		if resp.Result.NextCursor == "" || resp.Result.NextCursor == "0" {
			return nil
		}
		cursor = resp.Result.NextCursor
	}
}

// ListScopes reads registry entries for a project.
func (s *UpstashStore) ListScopes(ctx context.Context, projectID string) ([]ScopeInfo, error) {
	infos := make([]ScopeInfo, 0)
	err := s.rangeAll(ctx, upstashRegistryNamespace, func(_ string, md map[string]any) {
		info := scopeInfoFromMap(md)
		if info.ProjectID == projectID {
			infos = append(infos, info)
		}
	})
	if err != nil {
		return nil, err
	}
	return infos, nil
}

// RecordScope upserts the registry entry with a placeholder vector.
func (s *UpstashStore) RecordScope(ctx context.Context, info ScopeInfo) error {
	placeholder := make([]float32, s.dimension)
	placeholder[0] = 1
	scopeID := info.ProjectID + ":" + info.ScopeName
	return s.doRequest(ctx, "upsert", upstashRegistryNamespace, []upstashVector{{
		ID:       scopeID,
		Vector:   placeholder,
		Metadata: scopeInfoToMap(info),
	}}, nil)
}

// GetContentHashes pages through the scope's namespace.
func (s *UpstashStore) GetContentHashes(ctx context.Context, sc scope.Scope) (map[string]string, error) {
	out := map[string]string{}
	err := s.rangeAll(ctx, upstashNamespace(sc), func(id string, md map[string]any) {
		out[id] = MetadataString(md, MetaContentHash)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Health checks the index info endpoint responds.
func (s *UpstashStore) Health(ctx context.Context) error {
	return s.doRequest(ctx, "info", "", struct{}{}, nil)
}

// Close is a no-op for the HTTP client.
func (s *UpstashStore) Close() error { return nil }

var _ Store = (*UpstashStore)(nil)
