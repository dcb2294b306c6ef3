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

package search

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/searchsocket/pkg/config"
	"github.com/kadirpekel/searchsocket/pkg/scope"
	"github.com/kadirpekel/searchsocket/pkg/sserr"
	"github.com/kadirpekel/searchsocket/pkg/vector"
)

func results(urls ...string) []Result {
	out := make([]Result, len(urls))
	for i, u := range urls {
		out[i] = Result{URL: u, Path: u, ChunkKey: u, Score: float32(len(urls) - i)}
	}
	return out
}

func orderOf(rs []Result) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.URL
	}
	return out
}

func TestMergeKeepsInitialOrder(t *testing.T) {
	initial := results("/a", "/b", "/c", "/d")
	reranked := results("/a", "/c", "/b", "/d")
	reranked[0].Score = 0.9
	reranked[1].Score = 0.8
	reranked[2].Score = 0.7
	reranked[3].Score = 0.6

	merged := Merge(initial, reranked, 3)
	assert.Equal(t, []string{"/a", "/b", "/c", "/d"}, orderOf(merged))
	// Scores come from the reranked response.
	assert.InDelta(t, 0.9, merged[0].Score, 1e-6)
	assert.InDelta(t, 0.7, merged[1].Score, 1e-6)
	assert.InDelta(t, 0.8, merged[2].Score, 1e-6)
}

func TestMergeAdoptsRerankOrder(t *testing.T) {
	initial := results("/a", "/b", "/c", "/d", "/e")
	reranked := results("/e", "/b", "/c", "/d", "/a")

	merged := Merge(initial, reranked, 3)
	assert.Equal(t, []string{"/e", "/b", "/c", "/d", "/a"}, orderOf(merged))
}

func TestMergeMonotonicity(t *testing.T) {
	initial := results("/a", "/b", "/c")
	reranked := results("/a", "/c", "/b")

	// Zero displacement tolerance adopts any change.
	assert.Equal(t, []string{"/a", "/c", "/b"}, orderOf(Merge(initial, reranked, 0)))

	// Unbounded tolerance always keeps the initial order.
	assert.Equal(t, []string{"/a", "/b", "/c"}, orderOf(Merge(initial, reranked, math.MaxInt)))
}

func TestMergeEmptyInitial(t *testing.T) {
	reranked := results("/x", "/y")
	assert.Equal(t, reranked, Merge(nil, reranked, 3))
}

// staticStore returns canned hits.
type staticStore struct {
	vector.Store
	hits []vector.Hit
	opts vector.QueryOptions
	sc   scope.Scope
}

func (s *staticStore) Query(_ context.Context, sc scope.Scope, _ []float32, opts vector.QueryOptions) ([]vector.Hit, error) {
	s.opts = opts
	s.sc = sc
	return vector.FilterHits(s.hits, opts), nil
}

type queryEmbedder struct{ calls int }

func (e *queryEmbedder) EmbedTexts(_ context.Context, texts []string, _ string) ([][]float32, error) {
	e.calls++
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}
func (e *queryEmbedder) Model() string  { return "test-model" }
func (e *queryEmbedder) Dimension() int { return 2 }
func (e *queryEmbedder) Close() error   { return nil }

func hit(id, url string, ordinal int, score float32) vector.Hit {
	return vector.Hit{
		ID:    id,
		Score: score,
		Metadata: map[string]any{
			vector.MetaURL:       url,
			vector.MetaPath:      url,
			vector.MetaTitle:     "Title " + url,
			vector.MetaChunkText: "text of " + id,
			vector.MetaSnippet:   "snippet " + id,
			vector.MetaOrdinal:   ordinal,
			vector.MetaTags:      []string{"docs"},
		},
	}
}

func testEngine(store vector.Store, reranker Reranker) *Engine {
	cfg := &config.Config{}
	cfg.Project.ID = "proj"
	if reranker != nil {
		cfg.Rerank.Provider = config.RerankJina
	}
	cfg.SetDefaults()
	cfg.Rerank.TopN = 4
	return NewEngine(cfg, store, &queryEmbedder{}, reranker,
		scope.Scope{ProjectID: "proj", Name: "main"}, nil, "")
}

func TestSearchRejectsBlankQuery(t *testing.T) {
	e := testEngine(&staticStore{}, nil)
	_, err := e.Search(context.Background(), Request{Q: "   "})
	require.Error(t, err)
	assert.True(t, sserr.IsCode(err, sserr.CodeInvalidRequest))
}

func TestSearchReturnsShapedResults(t *testing.T) {
	store := &staticStore{hits: []vector.Hit{
		hit("c1", "/docs/a", 0, 0.9),
		hit("c2", "/docs/b", 0, 0.8),
	}}
	e := testEngine(store, nil)

	resp, err := e.Search(context.Background(), Request{Q: "how to", TopK: 5, PathPrefix: "/docs", Tags: []string{"docs"}})
	require.NoError(t, err)
	assert.Equal(t, "how to", resp.Q)
	assert.Equal(t, "main", resp.Scope)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "/docs/a", resp.Results[0].URL)
	assert.Equal(t, "Title /docs/a", resp.Results[0].Title)
	assert.Equal(t, "test-model", resp.Meta.ModelID)
	assert.False(t, resp.Meta.UsedRerank)
	assert.Equal(t, "/docs", store.opts.PathPrefix)
	assert.Equal(t, []string{"docs"}, store.opts.Tags)
}

func TestSearchScopeOverride(t *testing.T) {
	store := &staticStore{}
	e := testEngine(store, nil)
	_, err := e.Search(context.Background(), Request{Q: "x", Scope: "Feature/Branch"})
	require.NoError(t, err)
	assert.Equal(t, "feature-branch", store.sc.Name)
	assert.Equal(t, "proj", store.sc.ProjectID)
}

// fixedReranker returns a canned ordering.
type fixedReranker struct {
	order []string
	calls int
}

func (r *fixedReranker) Rerank(_ context.Context, _ string, candidates []Candidate, _ int) ([]RankedDoc, error) {
	r.calls++
	byID := map[string]bool{}
	for _, c := range candidates {
		byID[c.ID] = true
	}
	out := make([]RankedDoc, 0, len(r.order))
	for i, id := range r.order {
		if byID[id] {
			out = append(out, RankedDoc{ID: id, Score: float32(len(r.order) - i)})
		}
	}
	return out, nil
}
func (r *fixedReranker) Close() error { return nil }

func TestSearchRerankExpandsFetchAndTruncates(t *testing.T) {
	store := &staticStore{hits: []vector.Hit{
		hit("c1", "/a", 0, 0.9),
		hit("c2", "/b", 0, 0.8),
		hit("c3", "/c", 0, 0.7),
		hit("c4", "/d", 0, 0.6),
		hit("c5", "/e", 0, 0.5),
	}}
	rr := &fixedReranker{order: []string{"c5", "c4", "c3", "c2", "c1"}}
	e := testEngine(store, rr)
	e.cfg.Rerank.TopN = 5

	resp, err := e.Search(context.Background(), Request{Q: "x", TopK: 2, Rerank: true})
	require.NoError(t, err)
	// rerank.topN (5) governs recall even though topK is 2.
	assert.Equal(t, 5, store.opts.TopK)
	assert.Equal(t, 1, rr.calls)
	assert.True(t, resp.Meta.UsedRerank)
	// The edges moved by 4 positions, beyond maxDisplacement, so the
	// rerank order is adopted and then truncated to topK.
	require.Len(t, resp.Results, 2)
	assert.Equal(t, []string{"/e", "/d"}, orderOf(resp.Results))
}

func TestSearchStreamOrder(t *testing.T) {
	store := &staticStore{hits: []vector.Hit{
		hit("c1", "/a", 0, 0.9),
		hit("c2", "/b", 0, 0.8),
	}}
	rr := &fixedReranker{order: []string{"c2", "c1"}}
	e := testEngine(store, rr)

	events, errs := e.SearchStream(context.Background(), Request{Q: "x", Rerank: true})
	var phases []string
	for ev := range events {
		phases = append(phases, ev.Phase)
		assert.Equal(t, "x", ev.Data.Q)
		assert.Equal(t, "main", ev.Data.Scope)
	}
	require.NoError(t, <-errs)
	assert.Equal(t, []string{PhaseInitial, PhaseReranked}, phases)
}

func TestSearchGroupByPage(t *testing.T) {
	store := &staticStore{hits: []vector.Hit{
		hit("c1", "/a", 0, 0.9),
		hit("c2", "/a", 1, 0.8),
		hit("c3", "/a", 2, 0.7),
		hit("c4", "/a", 3, 0.6),
		hit("c5", "/a", 4, 0.5),
		hit("c6", "/b", 0, 0.4),
	}}
	e := testEngine(store, nil)

	resp, err := e.Search(context.Background(), Request{Q: "x", TopK: 10, GroupBy: "page"})
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "/a", resp.Results[0].URL)
	assert.Equal(t, "c1", resp.Results[0].ChunkKey)
	assert.Len(t, resp.Results[0].Chunks, 3, "at most three sibling chunks")
	assert.Empty(t, resp.Results[1].Chunks)
}

func TestSearchRankingBoosts(t *testing.T) {
	a := hit("c1", "/a", 0, 0.50)
	a.Metadata[vector.MetaIncoming] = 0
	b := hit("c2", "/b", 0, 0.49)
	b.Metadata[vector.MetaIncoming] = 10
	store := &staticStore{hits: []vector.Hit{a, b}}

	e := testEngine(store, nil)
	e.cfg.Ranking.EnableIncomingLinkBoost = true
	e.cfg.Ranking.Weights.IncomingLinks = 0.01

	resp, err := e.Search(context.Background(), Request{Q: "x"})
	require.NoError(t, err)
	assert.Equal(t, []string{"/b", "/a"}, orderOf(resp.Results))
}

func TestJinaRerankerDropsInvalidIndices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req jinaRerankRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "find me", req.Query)
		fmt.Fprint(w, `{"results":[{"index":1,"relevance_score":0.9},{"index":7,"relevance_score":0.5},{"index":0,"relevance_score":0.4}]}`)
	}))
	defer srv.Close()

	cfg := config.RerankConfig{Provider: config.RerankJina, APIKey: "k", BaseURL: srv.URL}
	cfg.SetDefaults()
	rr, err := NewJinaReranker(cfg, nil)
	require.NoError(t, err)

	ranked, err := rr.Rerank(context.Background(), "find me", []Candidate{{ID: "a", Text: "ta"}, {ID: "b", Text: "tb"}}, 2)
	require.NoError(t, err)
	require.Len(t, ranked, 2)
	assert.Equal(t, "b", ranked[0].ID)
	assert.Equal(t, "a", ranked[1].ID)
}

func TestJinaRerankerRetriesOn429(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{"results":[{"index":0,"relevance_score":1}]}`)
	}))
	defer srv.Close()

	cfg := config.RerankConfig{Provider: config.RerankJina, APIKey: "k", BaseURL: srv.URL}
	cfg.SetDefaults()
	rr, err := NewJinaReranker(cfg, nil)
	require.NoError(t, err)

	ranked, err := rr.Rerank(context.Background(), "q", []Candidate{{ID: "a", Text: "t"}}, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	require.Len(t, ranked, 1)
}

func TestJinaRerankerMalformedPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{not json`)
	}))
	defer srv.Close()

	cfg := config.RerankConfig{Provider: config.RerankJina, APIKey: "k", BaseURL: srv.URL, MaxRetries: 1}
	rr, err := NewJinaReranker(cfg, nil)
	require.NoError(t, err)

	_, err = rr.Rerank(context.Background(), "q", []Candidate{{ID: "a", Text: "t"}}, 1)
	require.Error(t, err)
	assert.True(t, sserr.IsCode(err, sserr.CodeRerankFailed))
}

func TestNewRerankerNoneIsNil(t *testing.T) {
	rr, err := NewReranker(config.RerankConfig{Provider: config.RerankNone}, nil)
	require.NoError(t, err)
	assert.Nil(t, rr)
}
