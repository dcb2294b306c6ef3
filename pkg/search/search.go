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

// Package search implements the two-stage retrieval path: embed the
// query, recall from the vector store, optionally rerank and merge, and
// shape the response for the CLI, HTTP and MCP surfaces.
package search

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/kadirpekel/searchsocket/pkg/config"
	"github.com/kadirpekel/searchsocket/pkg/embedder"
	"github.com/kadirpekel/searchsocket/pkg/scope"
	"github.com/kadirpekel/searchsocket/pkg/sserr"
	"github.com/kadirpekel/searchsocket/pkg/vector"
)

// Request is the search payload shared by HTTP and MCP.
type Request struct {
	Q          string   `json:"q"`
	TopK       int      `json:"topK,omitempty"`
	Scope      string   `json:"scope,omitempty"`
	PathPrefix string   `json:"pathPrefix,omitempty"`
	Tags       []string `json:"tags,omitempty"`
	Rerank     bool     `json:"rerank,omitempty"`
	GroupBy    string   `json:"groupBy,omitempty"`
}

// Result is one search hit. When grouping by page, Chunks carries up to
// three sibling chunks of the representative.
type Result struct {
	ChunkKey     string   `json:"chunkKey"`
	URL          string   `json:"url"`
	Path         string   `json:"path"`
	Title        string   `json:"title"`
	SectionTitle string   `json:"sectionTitle,omitempty"`
	Snippet      string   `json:"snippet"`
	Score        float32  `json:"score"`
	Ordinal      int      `json:"ordinal"`
	RouteFile    string   `json:"routeFile,omitempty"`
	Tags         []string `json:"tags"`
	Chunks       []Result `json:"chunks,omitempty"`
}

// Timings are per-phase latencies in milliseconds.
type Timings struct {
	Embed  int64 `json:"embed"`
	Vector int64 `json:"vector"`
	Rerank int64 `json:"rerank"`
	Total  int64 `json:"total"`
}

// Meta describes how a response was produced.
type Meta struct {
	TimingsMS  Timings `json:"timingsMs"`
	UsedRerank bool    `json:"usedRerank"`
	ModelID    string  `json:"modelId"`
}

// Response is the search result envelope.
type Response struct {
	Q       string   `json:"q"`
	Scope   string   `json:"scope"`
	Results []Result `json:"results"`
	Meta    Meta     `json:"meta"`
}

// Event is one streaming search phase.
type Event struct {
	Phase string    `json:"phase"`
	Data  *Response `json:"data"`
}

// Streaming phases: the initial recall strictly precedes the reranked
// final response.
const (
	PhaseInitial  = "initial"
	PhaseReranked = "reranked"
)

// Engine runs searches against one project.
type Engine struct {
	cfg      *config.Config
	store    vector.Store
	emb      embedder.Embedder
	reranker Reranker
	defScope scope.Scope
	logger   *slog.Logger
	dir      string
}

// NewEngine creates a search engine. reranker may be nil. dir is the
// project working directory a relative state.dir resolves against,
// matching how the pipeline writes mirrors.
func NewEngine(cfg *config.Config, store vector.Store, emb embedder.Embedder, reranker Reranker, defScope scope.Scope, logger *slog.Logger, dir string) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{cfg: cfg, store: store, emb: emb, reranker: reranker, defScope: defScope, logger: logger, dir: dir}
}

// scopeFor maps an optional scope-name override onto the project.
func (e *Engine) scopeFor(name string) scope.Scope {
	if name == "" {
		return e.defScope
	}
	return scope.Scope{ProjectID: e.defScope.ProjectID, Name: scope.Sanitize(name)}
}

// Search runs the full search path.
func (e *Engine) Search(ctx context.Context, req Request) (*Response, error) {
	initial, state, err := e.recall(ctx, req)
	if err != nil {
		return nil, err
	}
	if !state.useRerank {
		return initial, nil
	}
	return e.rerankPhase(ctx, req, initial, state)
}

// SearchStream yields the initial response and, when reranking, the
// final one. The channel closes when the search finishes; a terminal
// error is delivered through errOut.
func (e *Engine) SearchStream(ctx context.Context, req Request) (<-chan Event, <-chan error) {
	events := make(chan Event, 2)
	errOut := make(chan error, 1)
	go func() {
		defer close(events)
		defer close(errOut)

		initial, state, err := e.recall(ctx, req)
		if err != nil {
			errOut <- err
			return
		}
		events <- Event{Phase: PhaseInitial, Data: initial}
		if !state.useRerank {
			return
		}
		final, err := e.rerankPhase(ctx, req, initial, state)
		if err != nil {
			errOut <- err
			return
		}
		events <- Event{Phase: PhaseReranked, Data: final}
	}()
	return events, errOut
}

// searchState carries intermediates between the recall and rerank
// phases.
type searchState struct {
	started   time.Time
	topK      int
	useRerank bool
	hits      []vector.Hit
	timings   Timings
}

// recall embeds the query and collects the initial hits.
func (e *Engine) recall(ctx context.Context, req Request) (*Response, *searchState, error) {
	q := strings.TrimSpace(req.Q)
	if q == "" {
		return nil, nil, sserr.New(sserr.CodeInvalidRequest, "q is required")
	}

	state := &searchState{started: time.Now()}
	state.topK = req.TopK
	if state.topK <= 0 {
		state.topK = e.cfg.Search.TopK
	}
	state.useRerank = req.Rerank && e.cfg.Rerank.Enabled() && e.reranker != nil

	fetchK := state.topK
	if state.useRerank && e.cfg.Rerank.TopN > fetchK {
		fetchK = e.cfg.Rerank.TopN
	}

	embedStart := time.Now()
	vecs, err := e.emb.EmbedTexts(ctx, []string{q}, embedder.TaskQuery)
	if err != nil {
		return nil, nil, err
	}
	state.timings.Embed = time.Since(embedStart).Milliseconds()

	sc := e.scopeFor(req.Scope)
	vectorStart := time.Now()
	hits, err := e.store.Query(ctx, sc, vecs[0], vector.QueryOptions{
		TopK:       fetchK,
		PathPrefix: req.PathPrefix,
		Tags:       req.Tags,
	})
	if err != nil {
		return nil, nil, err
	}
	state.timings.Vector = time.Since(vectorStart).Milliseconds()

	e.applyBoosts(hits)
	state.hits = hits

	results := make([]Result, 0, len(hits))
	for _, h := range hits {
		results = append(results, resultFromHit(h))
	}
	state.timings.Total = time.Since(state.started).Milliseconds()
	return &Response{
		Q:       q,
		Scope:   sc.Name,
		Results: e.shape(results, req, state.topK),
		Meta: Meta{
			TimingsMS:  state.timings,
			UsedRerank: false,
			ModelID:    e.emb.Model(),
		},
	}, state, nil
}

// rerankPhase rescores the candidates and merges per the displacement
// policy.
func (e *Engine) rerankPhase(ctx context.Context, req Request, initial *Response, state *searchState) (*Response, error) {
	candidates := make([]Candidate, len(state.hits))
	for i, h := range state.hits {
		candidates[i] = Candidate{ID: h.ID, Text: vector.MetadataString(h.Metadata, vector.MetaChunkText)}
	}

	rerankStart := time.Now()
	ranked, err := e.reranker.Rerank(ctx, initial.Q, candidates, e.cfg.Rerank.TopN)
	if err != nil {
		return nil, err
	}
	state.timings.Rerank = time.Since(rerankStart).Milliseconds()

	rerankedResults := make([]Result, 0, len(ranked))
	byID := make(map[string]vector.Hit, len(state.hits))
	for _, h := range state.hits {
		byID[h.ID] = h
	}
	for _, r := range ranked {
		h, ok := byID[r.ID]
		if !ok {
			continue
		}
		res := resultFromHit(h)
		res.Score = r.Score * float32(e.cfg.Ranking.Weights.Rerank)
		rerankedResults = append(rerankedResults, res)
	}

	initialFlat := make([]Result, 0, len(state.hits))
	for _, h := range state.hits {
		initialFlat = append(initialFlat, resultFromHit(h))
	}
	merged := Merge(initialFlat, rerankedResults, e.cfg.Rerank.MaxDisplacement)

	state.timings.Total = time.Since(state.started).Milliseconds()
	return &Response{
		Q:       initial.Q,
		Scope:   initial.Scope,
		Results: e.shape(merged, req, state.topK),
		Meta: Meta{
			TimingsMS:  state.timings,
			UsedRerank: true,
			ModelID:    e.emb.Model(),
		},
	}, nil
}

// applyBoosts mixes the configured linear boosts into recall scores.
func (e *Engine) applyBoosts(hits []vector.Hit) {
	w := e.cfg.Ranking.Weights
	boostLinks := e.cfg.Ranking.EnableIncomingLinkBoost
	boostDepth := e.cfg.Ranking.EnableDepthBoost
	if !boostLinks && !boostDepth {
		return
	}
	for i := range hits {
		if boostLinks {
			hits[i].Score += float32(w.IncomingLinks) * float32(metaInt(hits[i].Metadata, vector.MetaIncoming))
		}
		if boostDepth {
			hits[i].Score -= float32(w.Depth) * float32(metaInt(hits[i].Metadata, vector.MetaDepth))
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
}

// shape truncates and optionally groups results by page.
func (e *Engine) shape(results []Result, req Request, topK int) []Result {
	groupBy := req.GroupBy
	if groupBy == "" {
		groupBy = e.cfg.Search.GroupBy
	}
	if groupBy == "page" {
		results = groupByPage(results)
	}
	if len(results) > topK {
		results = results[:topK]
	}
	return results
}

// groupByPage keeps the best chunk per URL as representative with up to
// three next-best siblings attached.
func groupByPage(results []Result) []Result {
	byURL := map[string]int{}
	var pages []Result
	for _, r := range results {
		idx, ok := byURL[r.URL]
		if !ok {
			byURL[r.URL] = len(pages)
			pages = append(pages, r)
			continue
		}
		if len(pages[idx].Chunks) < 3 {
			sibling := r
			sibling.Chunks = nil
			pages[idx].Chunks = append(pages[idx].Chunks, sibling)
		}
	}
	sort.SliceStable(pages, func(i, j int) bool { return pages[i].Score > pages[j].Score })
	return pages
}

func resultFromHit(h vector.Hit) Result {
	return Result{
		ChunkKey:     h.ID,
		URL:          vector.MetadataString(h.Metadata, vector.MetaURL),
		Path:         vector.MetadataString(h.Metadata, vector.MetaPath),
		Title:        vector.MetadataString(h.Metadata, vector.MetaTitle),
		SectionTitle: vector.MetadataString(h.Metadata, vector.MetaSection),
		Snippet:      vector.MetadataString(h.Metadata, vector.MetaSnippet),
		Score:        h.Score,
		Ordinal:      metaInt(h.Metadata, vector.MetaOrdinal),
		RouteFile:    vector.MetadataString(h.Metadata, vector.MetaRouteFile),
		Tags:         vector.MetadataTags(h.Metadata),
	}
}

// metaInt reads a numeric metadata field across the encodings adapters
// round-trip through.
func metaInt(md map[string]any, key string) int {
	switch v := md[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case float32:
		return int(v)
	case string:
		n := 0
		for _, r := range v {
			if r < '0' || r > '9' {
				return n
			}
			n = n*10 + int(r-'0')
		}
		return n
	default:
		return 0
	}
}
