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

package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/searchsocket/pkg/config"
	"github.com/kadirpekel/searchsocket/pkg/routes"
	"github.com/kadirpekel/searchsocket/pkg/scope"
	"github.com/kadirpekel/searchsocket/pkg/source"
	"github.com/kadirpekel/searchsocket/pkg/sserr"
	"github.com/kadirpekel/searchsocket/pkg/vector"
)

// fakeStore is an in-memory vector.Store.
type fakeStore struct {
	mu      sync.Mutex
	records map[string]map[string]vector.Record
	scopes  map[string]vector.ScopeInfo
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		records: map[string]map[string]vector.Record{},
		scopes:  map[string]vector.ScopeInfo{},
	}
}

func (s *fakeStore) Upsert(_ context.Context, sc scope.Scope, records []vector.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.records[sc.ID()]
	if m == nil {
		m = map[string]vector.Record{}
		s.records[sc.ID()] = m
	}
	for _, r := range records {
		m[r.ID] = r
	}
	return nil
}

func (s *fakeStore) Query(_ context.Context, sc scope.Scope, vec []float32, opts vector.QueryOptions) ([]vector.Hit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var hits []vector.Hit
	for _, r := range s.records[sc.ID()] {
		hits = append(hits, vector.Hit{ID: r.ID, Score: vector.Cosine(vec, r.Vector), Metadata: r.Metadata})
	}
	return vector.FilterHits(hits, opts), nil
}

func (s *fakeStore) DeleteByIDs(_ context.Context, sc scope.Scope, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.records[sc.ID()], id)
	}
	return nil
}

func (s *fakeStore) DeleteScope(_ context.Context, sc scope.Scope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, sc.ID())
	delete(s.scopes, sc.ID())
	return nil
}

func (s *fakeStore) ListScopes(_ context.Context, projectID string) ([]vector.ScopeInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var infos []vector.ScopeInfo
	for _, info := range s.scopes {
		if info.ProjectID == projectID {
			infos = append(infos, info)
		}
	}
	return infos, nil
}

func (s *fakeStore) RecordScope(_ context.Context, info vector.ScopeInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scopes[info.ProjectID+":"+info.ScopeName] = info
	return nil
}

func (s *fakeStore) GetContentHashes(_ context.Context, sc scope.Scope) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]string{}
	for id, r := range s.records[sc.ID()] {
		out[id] = vector.MetadataString(r.Metadata, vector.MetaContentHash)
	}
	return out, nil
}

func (s *fakeStore) Health(context.Context) error { return nil }
func (s *fakeStore) Close() error                 { return nil }

// fakeEmbedder counts calls and returns deterministic vectors.
type fakeEmbedder struct {
	mu    sync.Mutex
	calls int
	texts int
}

func (e *fakeEmbedder) EmbedTexts(_ context.Context, texts []string, _ string) ([][]float32, error) {
	e.mu.Lock()
	e.calls++
	e.texts += len(texts)
	e.mu.Unlock()
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 1, 0}
	}
	return out, nil
}

func (e *fakeEmbedder) Model() string  { return "fake-model" }
func (e *fakeEmbedder) Dimension() int { return 3 }
func (e *fakeEmbedder) Close() error   { return nil }

func (e *fakeEmbedder) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// testConfig builds a content-files config over dir with a small chunk
// size so multi-section pages produce multiple chunks.
func testConfig(dir string) *config.Config {
	cfg := &config.Config{}
	cfg.Project.ID = "proj"
	cfg.Scope.Fixed = "main"
	cfg.Source.Mode = source.ModeContentFiles
	cfg.Source.ContentFiles.BaseDir = dir
	cfg.Chunking.MaxChars = 80
	cfg.Chunking.OverlapChars = 10
	cfg.Chunking.MinChars = 10
	cfg.SetDefaults()
	return cfg
}

func writePage(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

const twoSectionPage = `# Alpha

This section talks about the first topic at some length for the chunker.

# Beta

This section talks about the second topic at some length for the chunker.
`

func TestRunIndexesAndConverges(t *testing.T) {
	dir := t.TempDir()
	writePage(t, dir, "a.md", twoSectionPage)

	store := newFakeStore()
	emb := &fakeEmbedder{}
	p := New(testConfig(dir), store, emb, nil, dir)

	stats, err := p.Run(context.Background(), Options{ChangedOnly: true})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Pages)
	require.GreaterOrEqual(t, stats.Chunks, 2)
	assert.Equal(t, stats.Chunks, stats.Upserts)
	assert.Equal(t, 1, emb.callCount())

	// Diff correctness: store hashes equal the fresh chunk hashes.
	sc := scope.Scope{ProjectID: "proj", Name: "main"}
	hashes, err := store.GetContentHashes(context.Background(), sc)
	require.NoError(t, err)
	assert.Len(t, hashes, stats.Chunks)

	// Registry was recorded with the embedding model.
	infos, err := store.ListScopes(context.Background(), "proj")
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "fake-model", infos[0].ModelID)
	assert.Equal(t, stats.Chunks, infos[0].VectorCount)
}

func TestRunIncrementalSkip(t *testing.T) {
	dir := t.TempDir()
	writePage(t, dir, "a.md", twoSectionPage)

	store := newFakeStore()
	emb := &fakeEmbedder{}
	p := New(testConfig(dir), store, emb, nil, dir)

	_, err := p.Run(context.Background(), Options{ChangedOnly: true})
	require.NoError(t, err)
	callsAfterFirst := emb.callCount()

	stats, err := p.Run(context.Background(), Options{ChangedOnly: true})
	require.NoError(t, err)
	assert.Equal(t, 0, stats.ChunksChanged)
	assert.Equal(t, 0, stats.Upserts)
	assert.Equal(t, 0, stats.Deletes)
	assert.Equal(t, callsAfterFirst, emb.callCount(), "unchanged content must not be re-embedded")
}

func TestRunDeletesRemovedPages(t *testing.T) {
	dir := t.TempDir()
	writePage(t, dir, "a.md", twoSectionPage)
	writePage(t, dir, "b.md", "# Gone\n\nThis page will be removed before the second run.\n")

	store := newFakeStore()
	emb := &fakeEmbedder{}
	p := New(testConfig(dir), store, emb, nil, dir)

	first, err := p.Run(context.Background(), Options{ChangedOnly: true})
	require.NoError(t, err)
	require.Equal(t, 2, first.Pages)

	sc := scope.Scope{ProjectID: "proj", Name: "main"}
	before, err := store.GetContentHashes(context.Background(), sc)
	require.NoError(t, err)
	bChunks := 0
	for id := range before {
		if vector.MetadataString(store.records[sc.ID()][id].Metadata, vector.MetaPath) == "/b" {
			bChunks++
		}
	}
	require.Greater(t, bChunks, 0)

	require.NoError(t, os.Remove(filepath.Join(dir, "b.md")))

	second, err := p.Run(context.Background(), Options{ChangedOnly: true})
	require.NoError(t, err)
	assert.Equal(t, bChunks, second.Deletes)

	after, err := store.GetContentHashes(context.Background(), sc)
	require.NoError(t, err)
	for id := range after {
		path := vector.MetadataString(store.records[sc.ID()][id].Metadata, vector.MetaPath)
		assert.NotEqual(t, "/b", path)
	}
}

func TestRunStrictRouteMappingFailsBeforeEmbedding(t *testing.T) {
	dir := t.TempDir()
	writePage(t, dir, "docs/orphan.md", "# Orphan\n\nNo route file covers this URL.\n")

	cfg := testConfig(dir)
	cfg.Source.StrictRouteMapping = true

	store := newFakeStore()
	emb := &fakeEmbedder{}
	p := New(cfg, store, emb, nil, dir)
	p.Mapper = routes.NewMapper([]string{"+page.svelte"})

	_, err := p.Run(context.Background(), Options{})
	require.Error(t, err)
	assert.True(t, sserr.IsCode(err, sserr.CodeRouteMappingFailed))
	assert.Equal(t, 400, sserr.StatusOf(err))
	assert.Equal(t, 0, emb.callCount(), "strict mapping failure must precede embedding")
	assert.Empty(t, store.records)
}

func TestRunDryRun(t *testing.T) {
	dir := t.TempDir()
	writePage(t, dir, "a.md", twoSectionPage)

	store := newFakeStore()
	emb := &fakeEmbedder{}
	p := New(testConfig(dir), store, emb, nil, dir)

	stats, err := p.Run(context.Background(), Options{DryRun: true})
	require.NoError(t, err)
	assert.True(t, stats.DryRun)
	assert.Greater(t, stats.Upserts, 0)
	assert.Greater(t, stats.EstimatedTokens, 0)
	assert.Equal(t, 0, emb.callCount())
	assert.Empty(t, store.records)
	assert.Empty(t, store.scopes)
}

func TestRunForceReembedsEverything(t *testing.T) {
	dir := t.TempDir()
	writePage(t, dir, "a.md", twoSectionPage)

	store := newFakeStore()
	emb := &fakeEmbedder{}
	p := New(testConfig(dir), store, emb, nil, dir)

	first, err := p.Run(context.Background(), Options{ChangedOnly: true})
	require.NoError(t, err)

	stats, err := p.Run(context.Background(), Options{Force: true})
	require.NoError(t, err)
	assert.Equal(t, first.Chunks, stats.Upserts)
	assert.Equal(t, 2, emb.callCount())
}

func TestRunMaxPages(t *testing.T) {
	dir := t.TempDir()
	writePage(t, dir, "a.md", "# A\n\nalpha page body\n")
	writePage(t, dir, "b.md", "# B\n\nbeta page body\n")
	writePage(t, dir, "c.md", "# C\n\ngamma page body\n")

	store := newFakeStore()
	p := New(testConfig(dir), store, &fakeEmbedder{}, nil, dir)

	stats, err := p.Run(context.Background(), Options{MaxPages: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Pages)

	stats, err = p.Run(context.Background(), Options{MaxPages: -5})
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Pages)
}

func TestRunMirrorWrite(t *testing.T) {
	dir := t.TempDir()
	writePage(t, dir, "a.md", twoSectionPage)

	cfg := testConfig(dir)
	cfg.State.Mirror = true
	cfg.State.Dir = filepath.Join(dir, ".searchsocket")

	store := newFakeStore()
	p := New(cfg, store, &fakeEmbedder{}, nil, dir)
	_, err := p.Run(context.Background(), Options{})
	require.NoError(t, err)

	path := MirrorPath(cfg.State.Dir, "main", "/a")
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(raw)
	assert.Contains(t, content, "url: /a")
	assert.Contains(t, content, "generatedAt:")
	assert.Contains(t, content, "# Alpha")

	// Second run only changes generatedAt, so the file is untouched.
	info1, err := os.Stat(path)
	require.NoError(t, err)
	_, err = p.Run(context.Background(), Options{ChangedOnly: true})
	require.NoError(t, err)
	info2, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, info1.ModTime(), info2.ModTime())
}

func TestRunUnknownSourceMode(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)
	p := New(cfg, newFakeStore(), &fakeEmbedder{}, nil, dir)

	_, err := p.Run(context.Background(), Options{SourceOverride: "ftp"})
	require.Error(t, err)
	assert.True(t, sserr.IsCode(err, sserr.CodeConfigMissing))
}

func TestStripGeneratedAt(t *testing.T) {
	a := "---\nurl: /a\ngeneratedAt: 2025-01-01T00:00:00Z\n---\nbody"
	b := "---\nurl: /a\ngeneratedAt: 2026-01-01T00:00:00Z\n---\nbody"
	assert.Equal(t, stripGeneratedAt(a), stripGeneratedAt(b))
	assert.False(t, strings.Contains(stripGeneratedAt(a), "generatedAt"))
}
