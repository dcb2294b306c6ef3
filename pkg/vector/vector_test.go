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
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/searchsocket/pkg/scope"
)

func TestDirBuckets(t *testing.T) {
	assert.Nil(t, DirBuckets("/"))
	assert.Equal(t, []string{"/a"}, DirBuckets("/a"))
	assert.Equal(t, []string{"/a", "/a/b", "/a/b/c"}, DirBuckets("/a/b/c"))

	deep := DirBuckets("/a/b/c/d/e/f/g/h")
	assert.Len(t, deep, MaxDirBuckets)
	assert.Equal(t, "/a/b/c/d/e/f", deep[MaxDirBuckets-1])
}

func TestDirBucketFilter(t *testing.T) {
	key, value, ok := DirBucketFilter("/docs/setup")
	require.True(t, ok)
	assert.Equal(t, "dir1", key)
	assert.Equal(t, "/docs/setup", value)

	key, value, ok = DirBucketFilter("/docs/")
	require.True(t, ok)
	assert.Equal(t, "dir0", key)
	assert.Equal(t, "/docs", value)

	_, _, ok = DirBucketFilter("")
	assert.False(t, ok)

	_, _, ok = DirBucketFilter("/a/b/c/d/e/f/g")
	assert.False(t, ok)
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine([]float32{1, 0}, []float32{2, 0}), 1e-6)
	assert.InDelta(t, 0.0, Cosine([]float32{1, 0}, []float32{0, 1}), 1e-6)
	assert.InDelta(t, -1.0, Cosine([]float32{1, 0}, []float32{-1, 0}), 1e-6)
	assert.Equal(t, float32(0), Cosine([]float32{0, 0}, []float32{1, 1}))
	assert.Equal(t, float32(0), Cosine([]float32{1}, []float32{1, 2}))
}

func TestMatchPathPrefix(t *testing.T) {
	assert.True(t, MatchPathPrefix("/docs", "/docs"))
	assert.True(t, MatchPathPrefix("/docs/setup", "/docs"))
	assert.True(t, MatchPathPrefix("/docs/setup", "/docs/"))
	assert.False(t, MatchPathPrefix("/docsx", "/docs"))
	assert.True(t, MatchPathPrefix("/anything", ""))
}

func TestMatchTags(t *testing.T) {
	assert.True(t, MatchTags([]string{"a", "b"}, nil))
	assert.True(t, MatchTags([]string{"a", "b"}, []string{"a"}))
	assert.True(t, MatchTags([]string{"a", "b"}, []string{"a", "b"}))
	assert.False(t, MatchTags([]string{"a"}, []string{"a", "b"}))
	assert.False(t, MatchTags(nil, []string{"a"}))
}

func TestMetadataTags(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, MetadataTags(map[string]any{MetaTags: []string{"a", "b"}}))
	assert.Equal(t, []string{"a", "b"}, MetadataTags(map[string]any{MetaTags: []any{"a", "b"}}))
	assert.Equal(t, []string{"a", "b"}, MetadataTags(map[string]any{MetaTags: "a,b"}))
	assert.Nil(t, MetadataTags(map[string]any{MetaTags: ""}))
	assert.Nil(t, MetadataTags(map[string]any{}))
}

func TestFilterHits(t *testing.T) {
	hits := []Hit{
		{ID: "1", Score: 0.5, Metadata: map[string]any{MetaPath: "/docs/a", MetaTags: "guide"}},
		{ID: "2", Score: 0.9, Metadata: map[string]any{MetaPath: "/docs/b", MetaTags: "guide,api"}},
		{ID: "3", Score: 0.7, Metadata: map[string]any{MetaPath: "/blog/c", MetaTags: "guide"}},
	}

	out := FilterHits(hits, QueryOptions{TopK: 10, PathPrefix: "/docs"})
	require.Len(t, out, 2)
	assert.Equal(t, "2", out[0].ID)
	assert.Equal(t, "1", out[1].ID)

	out = FilterHits(hits, QueryOptions{TopK: 10, Tags: []string{"guide", "api"}})
	require.Len(t, out, 1)
	assert.Equal(t, "2", out[0].ID)

	out = FilterHits(hits, QueryOptions{TopK: 1})
	require.Len(t, out, 1)
	assert.Equal(t, "2", out[0].ID)
}

func TestBatches(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}
	batches := Batches(items, 2)
	require.Len(t, batches, 3)
	assert.Equal(t, []int{1, 2}, batches[0])
	assert.Equal(t, []int{5}, batches[2])

	assert.Len(t, Batches(items, 0), 1)
	assert.Nil(t, Batches([]int{}, 2))
}

// storeUnderTest runs the shared adapter contract against the embedded
// backends.
func storeUnderTest(t *testing.T, name string) Store {
	t.Helper()
	switch name {
	case "local":
		s, err := NewLocalStore(LocalConfig{Dir: t.TempDir()})
		require.NoError(t, err)
		return s
	case "turso":
		s, err := NewTursoStore(TursoConfig{Path: filepath.Join(t.TempDir(), "test.db")})
		require.NoError(t, err)
		return s
	default:
		t.Fatalf("unknown store %s", name)
		return nil
	}
}

func testRecord(id, path string, vec []float32, tags string) Record {
	md := map[string]any{
		MetaURL:         "https://example.com" + path,
		MetaPath:        path,
		MetaTitle:       "Title " + id,
		MetaChunkText:   "text for " + id,
		MetaTags:        tags,
		MetaContentHash: "hash-" + id,
	}
	SetDirBuckets(md, path)
	return Record{ID: id, Vector: vec, Metadata: md}
}

func TestStoreRoundTrip(t *testing.T) {
	for _, backend := range []string{"local", "turso"} {
		t.Run(backend, func(t *testing.T) {
			ctx := context.Background()
			s := storeUnderTest(t, backend)
			defer s.Close()

			sc := scope.Scope{ProjectID: "proj", Name: "main"}
			records := []Record{
				testRecord("a", "/docs/intro", []float32{1, 0, 0}, "guide"),
				testRecord("b", "/docs/setup", []float32{0.9, 0.1, 0}, "guide,api"),
				testRecord("c", "/blog/post", []float32{0, 1, 0}, "blog"),
			}
			require.NoError(t, s.Upsert(ctx, sc, records))

			hits, err := s.Query(ctx, sc, []float32{1, 0, 0}, QueryOptions{TopK: 10})
			require.NoError(t, err)
			require.Len(t, hits, 3)
			assert.Equal(t, "a", hits[0].ID)
			assert.Equal(t, "https://example.com/docs/intro", MetadataString(hits[0].Metadata, MetaURL))

			hits, err = s.Query(ctx, sc, []float32{1, 0, 0}, QueryOptions{TopK: 10, PathPrefix: "/docs"})
			require.NoError(t, err)
			require.Len(t, hits, 2)

			hits, err = s.Query(ctx, sc, []float32{1, 0, 0}, QueryOptions{TopK: 10, Tags: []string{"guide", "api"}})
			require.NoError(t, err)
			require.Len(t, hits, 1)
			assert.Equal(t, "b", hits[0].ID)
		})
	}
}

func TestStoreScopeIsolation(t *testing.T) {
	for _, backend := range []string{"local", "turso"} {
		t.Run(backend, func(t *testing.T) {
			ctx := context.Background()
			s := storeUnderTest(t, backend)
			defer s.Close()

			scA := scope.Scope{ProjectID: "proj", Name: "a"}
			scB := scope.Scope{ProjectID: "proj", Name: "b"}
			require.NoError(t, s.Upsert(ctx, scA, []Record{testRecord("x", "/p", []float32{1, 0}, "")}))
			require.NoError(t, s.Upsert(ctx, scB, []Record{testRecord("x", "/q", []float32{0, 1}, "")}))

			hits, err := s.Query(ctx, scA, []float32{1, 0}, QueryOptions{TopK: 10})
			require.NoError(t, err)
			require.Len(t, hits, 1)
			assert.Equal(t, "/p", MetadataString(hits[0].Metadata, MetaPath))

			require.NoError(t, s.DeleteScope(ctx, scA))
			hits, err = s.Query(ctx, scB, []float32{0, 1}, QueryOptions{TopK: 10})
			require.NoError(t, err)
			assert.Len(t, hits, 1)
		})
	}
}

func TestStoreContentHashes(t *testing.T) {
	for _, backend := range []string{"local", "turso"} {
		t.Run(backend, func(t *testing.T) {
			ctx := context.Background()
			s := storeUnderTest(t, backend)
			defer s.Close()

			sc := scope.Scope{ProjectID: "proj", Name: "main"}
			require.NoError(t, s.Upsert(ctx, sc, []Record{
				testRecord("a", "/x", []float32{1, 0}, ""),
				testRecord("b", "/y", []float32{0, 1}, ""),
			}))

			hashes, err := s.GetContentHashes(ctx, sc)
			require.NoError(t, err)
			assert.Equal(t, map[string]string{"a": "hash-a", "b": "hash-b"}, hashes)

			require.NoError(t, s.DeleteByIDs(ctx, sc, []string{"a"}))
			hashes, err = s.GetContentHashes(ctx, sc)
			require.NoError(t, err)
			assert.Equal(t, map[string]string{"b": "hash-b"}, hashes)

			// Upsert with the same id replaces, not duplicates.
			require.NoError(t, s.Upsert(ctx, sc, []Record{testRecord("b", "/y", []float32{0, 1}, "")}))
			hits, err := s.Query(ctx, sc, []float32{0, 1}, QueryOptions{TopK: 10})
			require.NoError(t, err)
			assert.Len(t, hits, 1)
		})
	}
}

func TestStoreScopeRegistry(t *testing.T) {
	for _, backend := range []string{"local", "turso"} {
		t.Run(backend, func(t *testing.T) {
			ctx := context.Background()
			s := storeUnderTest(t, backend)
			defer s.Close()

			require.NoError(t, s.RecordScope(ctx, ScopeInfo{
				ProjectID:     "proj",
				ScopeName:     "main",
				ModelID:       "jina-embeddings-v3",
				LastIndexedAt: "2025-01-01T00:00:00Z",
				VectorCount:   10,
			}))
			require.NoError(t, s.RecordScope(ctx, ScopeInfo{
				ProjectID:     "other",
				ScopeName:     "main",
				ModelID:       "jina-embeddings-v3",
				LastIndexedAt: "2025-01-02T00:00:00Z",
			}))
			// Same (project, scope) upserts in place.
			require.NoError(t, s.RecordScope(ctx, ScopeInfo{
				ProjectID:     "proj",
				ScopeName:     "main",
				ModelID:       "jina-embeddings-v3",
				LastIndexedAt: "2025-01-03T00:00:00Z",
				VectorCount:   12,
			}))

			infos, err := s.ListScopes(ctx, "proj")
			require.NoError(t, err)
			require.Len(t, infos, 1)
			assert.Equal(t, "main", infos[0].ScopeName)
			assert.Equal(t, 12, infos[0].VectorCount)
			assert.Equal(t, "2025-01-03T00:00:00Z", infos[0].LastIndexedAt)

			infos, err = s.ListScopes(ctx, "missing")
			require.NoError(t, err)
			assert.Empty(t, infos)
		})
	}
}

func TestFactoryDefaultsToLocal(t *testing.T) {
	cfg := Config{Local: LocalConfig{Dir: t.TempDir()}}
	s, err := New(context.Background(), cfg)
	require.NoError(t, err)
	defer s.Close()
	_, ok := s.(*LocalStore)
	assert.True(t, ok)
}

func TestFactoryValidation(t *testing.T) {
	_, err := New(context.Background(), Config{Provider: "bogus"})
	require.Error(t, err)

	_, err = New(context.Background(), Config{Provider: ProviderPinecone})
	require.Error(t, err)

	_, err = New(context.Background(), Config{Provider: ProviderUpstash})
	require.Error(t, err)
}

func TestPineconeQueryFilter(t *testing.T) {
	assert.Nil(t, pineconeQueryFilter(QueryOptions{}))

	// A single condition stays a flat predicate.
	f := pineconeQueryFilter(QueryOptions{PathPrefix: "/docs/setup"})
	assert.Equal(t, map[string]any{"dir1": "/docs"}, f)

	f = pineconeQueryFilter(QueryOptions{Tags: []string{"docs"}})
	assert.Equal(t, map[string]any{MetaTags: map[string]any{"$in": []any{"docs"}}}, f)

	// Every tag must survive as its own predicate under $and.
	f = pineconeQueryFilter(QueryOptions{PathPrefix: "/docs/setup", Tags: []string{"docs", "guide"}})
	assert.Equal(t, map[string]any{"$and": []any{
		map[string]any{"dir1": "/docs"},
		map[string]any{MetaTags: map[string]any{"$in": []any{"docs"}}},
		map[string]any{MetaTags: map[string]any{"$in": []any{"guide"}}},
	}}, f)
}
