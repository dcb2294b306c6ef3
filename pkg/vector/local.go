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
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/kadirpekel/searchsocket/pkg/scope"
	"github.com/kadirpekel/searchsocket/pkg/sserr"
)

// LocalConfig configures the embedded local store.
type LocalConfig struct {
	Dir string `yaml:"dir"`
}

// SetDefaults sets default values for LocalConfig.
func (c *LocalConfig) SetDefaults() {
	if c.Dir == "" {
		c.Dir = ".searchsocket/local"
	}
}

// localManifest is the sidecar index the embedded store needs because
// chromem has no list-all API: per-scope content hashes plus the scope
// registry.
type localManifest struct {
	Scopes map[string]ScopeInfo         `json:"scopes"`
	Hashes map[string]map[string]string `json:"hashes"`
}

// LocalStore is the zero-dependency embedded adapter: chromem-go for
// vectors, a JSON manifest for hashes and the registry. One chromem
// collection per scope.
type LocalStore struct {
	mu       sync.Mutex
	db       *chromem.DB
	dir      string
	manifest localManifest
}

// NewLocalStore opens (or creates) the embedded store under cfg.Dir.
func NewLocalStore(cfg LocalConfig) (*LocalStore, error) {
	cfg.SetDefaults()
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, sserr.Wrap(sserr.CodeVectorUnavailable, err, "failed to create local store dir %s", cfg.Dir)
	}
	db, err := chromem.NewPersistentDB(filepath.Join(cfg.Dir, "chromem"), false)
	if err != nil {
		return nil, sserr.Wrap(sserr.CodeVectorUnavailable, err, "failed to open local vector db")
	}
	s := &LocalStore{
		db:  db,
		dir: cfg.Dir,
		manifest: localManifest{
			Scopes: map[string]ScopeInfo{},
			Hashes: map[string]map[string]string{},
		},
	}
	if err := s.loadManifest(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *LocalStore) manifestPath() string {
	return filepath.Join(s.dir, "manifest.json")
}

func (s *LocalStore) loadManifest() error {
	raw, err := os.ReadFile(s.manifestPath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return sserr.Wrap(sserr.CodeVectorUnavailable, err, "failed to read local manifest")
	}
	if err := json.Unmarshal(raw, &s.manifest); err != nil {
		return sserr.Wrap(sserr.CodeVectorUnavailable, err, "failed to parse local manifest")
	}
	if s.manifest.Scopes == nil {
		s.manifest.Scopes = map[string]ScopeInfo{}
	}
	if s.manifest.Hashes == nil {
		s.manifest.Hashes = map[string]map[string]string{}
	}
	return nil
}

// saveManifest writes the manifest atomically. Callers hold the lock.
func (s *LocalStore) saveManifest() error {
	raw, err := json.MarshalIndent(s.manifest, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.manifestPath() + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.manifestPath())
}

// collectionName maps a scope to a chromem collection name.
func collectionName(sc scope.Scope) string {
	return strings.ReplaceAll(sc.ID(), ":", "_")
}

// noEmbed is passed to chromem because embeddings are always
// precomputed upstream.
func noEmbed(_ context.Context, _ string) ([]float32, error) {
	return nil, fmt.Errorf("embedding function should not be called")
}

// Upsert adds or replaces records in the scope's collection.
func (s *LocalStore) Upsert(ctx context.Context, sc scope.Scope, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	col, err := s.db.GetOrCreateCollection(collectionName(sc), nil, noEmbed)
	if err != nil {
		return sserr.Wrap(sserr.CodeVectorUnavailable, err, "failed to open collection for %s", sc.ID())
	}
	for _, batch := range Batches(records, UpsertBatchSize) {
		docs := make([]chromem.Document, 0, len(batch))
		for _, r := range batch {
			docs = append(docs, chromem.Document{
				ID:        r.ID,
				Embedding: r.Vector,
				Content:   MetadataString(r.Metadata, MetaChunkText),
				Metadata:  flattenMetadata(r.Metadata),
			})
		}
		if err := col.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
			return sserr.Wrap(sserr.CodeVectorUnavailable, err, "failed to upsert %d records", len(batch))
		}
	}

	hashes := s.manifest.Hashes[sc.ID()]
	if hashes == nil {
		hashes = map[string]string{}
		s.manifest.Hashes[sc.ID()] = hashes
	}
	for _, r := range records {
		hashes[r.ID] = MetadataString(r.Metadata, MetaContentHash)
	}
	if err := s.saveManifest(); err != nil {
		return sserr.Wrap(sserr.CodeVectorUnavailable, err, "failed to persist local manifest")
	}
	return nil
}

// Query runs a similarity search, filtering by path prefix and tags.
func (s *LocalStore) Query(ctx context.Context, sc scope.Scope, vec []float32, opts QueryOptions) ([]Hit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	col := s.db.GetCollection(collectionName(sc), noEmbed)
	if col == nil {
		return []Hit{}, nil
	}
	count := col.Count()
	if count == 0 {
		return []Hit{}, nil
	}

	// Fetch everything and filter client-side: chromem rejects nResults
	// larger than the post-filter document count, which a metadata
	// where-clause makes unknowable up front.
	results, err := col.QueryEmbedding(ctx, vec, count, nil, nil)
	if err != nil {
		return nil, sserr.Wrap(sserr.CodeVectorUnavailable, err, "local query failed")
	}

	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		hits = append(hits, Hit{
			ID:       r.ID,
			Score:    r.Similarity,
			Metadata: expandMetadata(r.Metadata),
		})
	}
	return FilterHits(hits, opts), nil
}

// DeleteByIDs removes records; missing ids are ignored.
func (s *LocalStore) DeleteByIDs(ctx context.Context, sc scope.Scope, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	col := s.db.GetCollection(collectionName(sc), noEmbed)
	if col != nil {
		for _, batch := range Batches(ids, DeleteBatchSize) {
			if err := col.Delete(ctx, nil, nil, batch...); err != nil {
				return sserr.Wrap(sserr.CodeVectorUnavailable, err, "failed to delete %d records", len(batch))
			}
		}
	}
	if hashes := s.manifest.Hashes[sc.ID()]; hashes != nil {
		for _, id := range ids {
			delete(hashes, id)
		}
	}
	if err := s.saveManifest(); err != nil {
		return sserr.Wrap(sserr.CodeVectorUnavailable, err, "failed to persist local manifest")
	}
	return nil
}

// DeleteScope removes the collection, its hashes and the registry row.
func (s *LocalStore) DeleteScope(ctx context.Context, sc scope.Scope) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.DeleteCollection(collectionName(sc)); err != nil {
		return sserr.Wrap(sserr.CodeVectorUnavailable, err, "failed to delete collection for %s", sc.ID())
	}
	delete(s.manifest.Hashes, sc.ID())
	delete(s.manifest.Scopes, sc.ID())
	if err := s.saveManifest(); err != nil {
		return sserr.Wrap(sserr.CodeVectorUnavailable, err, "failed to persist local manifest")
	}
	return nil
}

// ListScopes returns registry rows for a project.
func (s *LocalStore) ListScopes(ctx context.Context, projectID string) ([]ScopeInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	infos := make([]ScopeInfo, 0)
	for _, info := range s.manifest.Scopes {
		if info.ProjectID == projectID {
			infos = append(infos, info)
		}
	}
	return infos, nil
}

// RecordScope upserts a registry row.
func (s *LocalStore) RecordScope(ctx context.Context, info ScopeInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.manifest.Scopes[info.ProjectID+":"+info.ScopeName] = info
	if err := s.saveManifest(); err != nil {
		return sserr.Wrap(sserr.CodeVectorUnavailable, err, "failed to persist local manifest")
	}
	return nil
}

// GetContentHashes returns id -> contentHash for a scope.
func (s *LocalStore) GetContentHashes(ctx context.Context, sc scope.Scope) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]string, len(s.manifest.Hashes[sc.ID()]))
	for id, h := range s.manifest.Hashes[sc.ID()] {
		out[id] = h
	}
	return out, nil
}

// Health verifies the store directory is usable.
func (s *LocalStore) Health(ctx context.Context) error {
	if _, err := os.Stat(s.dir); err != nil {
		return sserr.Wrap(sserr.CodeVectorUnavailable, err, "local store dir unavailable")
	}
	return nil
}

// Close is a no-op; chromem persists on write.
func (s *LocalStore) Close() error { return nil }

// flattenMetadata converts record metadata to chromem's string map.
// Lists join on commas, numbers format in decimal.
func flattenMetadata(md map[string]any) map[string]string {
	out := make(map[string]string, len(md))
	for k, v := range md {
		switch val := v.(type) {
		case string:
			out[k] = val
		case []string:
			out[k] = strings.Join(val, ",")
		case int:
			out[k] = strconv.Itoa(val)
		case float64:
			out[k] = strconv.FormatFloat(val, 'f', -1, 64)
		case bool:
			out[k] = strconv.FormatBool(val)
		default:
			out[k] = fmt.Sprintf("%v", val)
		}
	}
	return out
}

// expandMetadata lifts the string map back to record metadata.
func expandMetadata(md map[string]string) map[string]any {
	out := make(map[string]any, len(md))
	for k, v := range md {
		out[k] = v
	}
	return out
}

var _ Store = (*LocalStore)(nil)
