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

// Package pipeline orchestrates an index run: load sources, extract,
// map routes, chunk, diff against the store's content hashes, embed
// what changed and reconcile upserts and deletions. The remote store is
// the single source of truth for change detection.
package pipeline

import (
	"context"
	"log/slog"
	"os"
	"sort"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kadirpekel/searchsocket/pkg/chunk"
	"github.com/kadirpekel/searchsocket/pkg/config"
	"github.com/kadirpekel/searchsocket/pkg/embedder"
	"github.com/kadirpekel/searchsocket/pkg/extract"
	"github.com/kadirpekel/searchsocket/pkg/routes"
	"github.com/kadirpekel/searchsocket/pkg/scope"
	"github.com/kadirpekel/searchsocket/pkg/source"
	"github.com/kadirpekel/searchsocket/pkg/sserr"
	"github.com/kadirpekel/searchsocket/pkg/urlutil"
	"github.com/kadirpekel/searchsocket/pkg/vector"
)

// Options are per-run knobs layered over the config.
type Options struct {
	ScopeOverride  string
	ChangedOnly    bool
	Force          bool
	DryRun         bool
	SourceOverride string
	MaxPages       int
	MaxChunks      int
}

// Stats summarizes one run.
type Stats struct {
	Scope            scope.Scope `json:"scope"`
	Pages            int         `json:"pages"`
	PagesSkipped     int         `json:"pagesSkipped"`
	Chunks           int         `json:"chunks"`
	ChunksChanged    int         `json:"chunksChanged"`
	Upserts          int         `json:"upserts"`
	Deletes          int         `json:"deletes"`
	EstimatedTokens  int         `json:"estimatedTokens"`
	EstimatedCostUSD float64     `json:"estimatedCostUsd"`
	DryRun           bool        `json:"dryRun,omitempty"`
	DurationMS       int64       `json:"durationMs"`
}

// Pipeline drives index runs. At most one run per process.
type Pipeline struct {
	cfg    *config.Config
	store  vector.Store
	emb    embedder.Embedder
	logger *slog.Logger
	dir    string

	// Mapper overrides route discovery from source.routesDir.
	Mapper *routes.Mapper
}

// New creates a pipeline. dir is the project working directory used for
// VCS scope resolution and mirror output.
func New(cfg *config.Config, store vector.Store, emb embedder.Embedder, logger *slog.Logger, dir string) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{cfg: cfg, store: store, emb: emb, logger: logger, dir: dir}
}

// runActive guards the one-run-per-process invariant.
var runActive atomic.Bool

// indexedPage is a page after extraction and route mapping.
type indexedPage struct {
	page       *extract.Page
	routeFile  string
	resolution routes.Resolution
	incoming   int
	depth      int
}

// costPerMTokensUSD by embedding model, for the run estimate.
var costPerMTokensUSD = map[string]float64{
	"jina-embeddings-v3":     0.02,
	"text-embedding-3-small": 0.02,
	"text-embedding-3-large": 0.13,
}

// Run executes phases 1-11 and returns the run stats.
func (p *Pipeline) Run(ctx context.Context, opts Options) (*Stats, error) {
	if !runActive.CompareAndSwap(false, true) {
		return nil, sserr.New(sserr.CodeInternal, "another index run is already active in this process")
	}
	defer runActive.Store(false)

	started := time.Now()
	stats := &Stats{DryRun: opts.DryRun}

	// Phase 1: scope.
	sc, err := scope.Resolve(p.cfg.ScopeResolveOptions(p.dir), opts.ScopeOverride)
	if err != nil {
		return nil, err
	}
	stats.Scope = sc
	p.logger.Info("index run starting", "scope", sc.ID(), "source", p.sourceMode(opts), "dryRun", opts.DryRun)

	// Phase 2: load sources.
	sources, err := p.loadSources(ctx, opts)
	if err != nil {
		return nil, err
	}

	// Phases 3-4: extract, dedup, link graph.
	pages, skipped := p.extractPages(sources)
	stats.Pages = len(pages)
	stats.PagesSkipped = skipped
	computeLinkGraph(pages)

	// Phase 5: route mapping.
	if err := p.mapRoutes(pages); err != nil {
		return nil, err
	}

	// Phase 6: chunk.
	chunks := p.chunkPages(sc, pages, opts.MaxChunks)
	stats.Chunks = len(chunks)

	if err := ctx.Err(); err != nil {
		return nil, sserr.Wrap(sserr.CodeCancelled, err, "index run cancelled")
	}

	// Phase 7: diff against the store.
	remote, err := p.store.GetContentHashes(ctx, sc)
	if err != nil {
		return nil, err
	}
	toUpsert, toDelete := diff(chunks, remote, opts)
	stats.ChunksChanged = countChanged(chunks, remote)
	stats.Upserts = len(toUpsert)
	stats.Deletes = len(toDelete)

	// Cost estimate covers the chunks that would be embedded.
	texts := make([]string, len(toUpsert))
	for i, c := range toUpsert {
		texts[i] = c.Text
	}
	stats.EstimatedTokens = embedder.EstimateTokens(texts)
	stats.EstimatedCostUSD = float64(stats.EstimatedTokens) / 1e6 * costPerMTokensUSD[p.emb.Model()]

	if opts.DryRun {
		stats.DurationMS = time.Since(started).Milliseconds()
		p.logger.Info("dry run complete", "upserts", stats.Upserts, "deletes", stats.Deletes,
			"estimatedTokens", stats.EstimatedTokens)
		return stats, nil
	}

	// Phase 8: embed.
	var vectors [][]float32
	if len(texts) > 0 {
		vectors, err = p.emb.EmbedTexts(ctx, texts, embedder.TaskPassage)
		if err != nil {
			return nil, err
		}
	}

	// Phase 9: upsert with a bounded write pool.
	if err := p.upsert(ctx, sc, toUpsert, vectors); err != nil {
		return nil, err
	}

	// Phase 10: delete stale.
	if len(toDelete) > 0 {
		if err := p.store.DeleteByIDs(ctx, sc, toDelete); err != nil {
			return nil, err
		}
	}

	// Optional mirror of the canonical markdown.
	if p.cfg.State.Mirror {
		if err := p.writeMirror(sc, pages); err != nil {
			p.logger.Warn("mirror write failed", "error", err)
		}
	}

	// Phase 11: registry last, so a crash above converges next run.
	info := vector.ScopeInfo{
		ProjectID:                 sc.ProjectID,
		ScopeName:                 sc.Name,
		ModelID:                   p.emb.Model(),
		LastIndexedAt:             time.Now().UTC().Format(time.RFC3339),
		VectorCount:               len(chunks),
		LastEstimateTokens:        stats.EstimatedTokens,
		LastEstimateCostUSD:       stats.EstimatedCostUSD,
		LastEstimateChangedChunks: stats.ChunksChanged,
	}
	if err := p.store.RecordScope(ctx, info); err != nil {
		return nil, err
	}

	stats.DurationMS = time.Since(started).Milliseconds()
	p.logger.Info("index run complete", "pages", stats.Pages, "chunks", stats.Chunks,
		"upserts", stats.Upserts, "deletes", stats.Deletes, "durationMs", stats.DurationMS)
	return stats, nil
}

func (p *Pipeline) sourceMode(opts Options) string {
	if opts.SourceOverride != "" {
		return opts.SourceOverride
	}
	return p.cfg.Source.Mode
}

// loadSources selects the loader, loads and applies the page cap.
func (p *Pipeline) loadSources(ctx context.Context, opts Options) ([]source.PageSource, error) {
	srcCfg := p.cfg.Source
	if opts.SourceOverride != "" {
		srcCfg.Mode = opts.SourceOverride
	}
	loader, err := source.New(srcCfg, p.logger)
	if err != nil {
		return nil, err
	}
	sources, err := loader.Load(ctx)
	if err != nil {
		return nil, err
	}
	if opts.MaxPages != 0 {
		limit := opts.MaxPages
		if limit < 0 {
			limit = 0
		}
		if len(sources) > limit {
			sources = sources[:limit]
		}
	}
	return sources, nil
}

// extractPages converts sources to pages, dropping noindex and empty
// ones and deduplicating by URL (first wins).
func (p *Pipeline) extractPages(sources []source.PageSource) ([]*indexedPage, int) {
	seen := map[string]bool{}
	var pages []*indexedPage
	skipped := 0
	for _, src := range sources {
		var (
			page *extract.Page
			err  error
		)
		if src.HTML != "" {
			page, err = extract.FromHTML(src.URL, src.HTML, p.cfg.Extract)
		} else {
			page, err = extract.FromMarkdown(src.URL, src.Markdown, "")
		}
		if err != nil {
			p.logger.Warn("extraction failed", "url", src.URL, "error", err)
			skipped++
			continue
		}
		if page.NoIndex {
			skipped++
			continue
		}
		if seen[page.URL] {
			skipped++
			continue
		}
		seen[page.URL] = true

		page.OutgoingLinks = mergeLinks(page.OutgoingLinks, src.OutgoingLinks)
		pages = append(pages, &indexedPage{
			page:  page,
			depth: urlutil.Depth(page.URL),
		})
	}
	return pages, skipped
}

func mergeLinks(a, b []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, links := range [][]string{a, b} {
		for _, l := range links {
			if l != "" && !seen[l] {
				seen[l] = true
				out = append(out, l)
			}
		}
	}
	sort.Strings(out)
	return out
}

// computeLinkGraph fills incomingLinks from the outgoing links of the
// other pages in the run.
func computeLinkGraph(pages []*indexedPage) {
	incoming := map[string]int{}
	for _, ip := range pages {
		counted := map[string]bool{}
		for _, link := range ip.page.OutgoingLinks {
			path := urlutil.NormalizePath(urlutil.PathOf(link))
			if path == ip.page.URL || counted[path] {
				continue
			}
			counted[path] = true
			incoming[path]++
		}
	}
	for _, ip := range pages {
		ip.incoming = incoming[ip.page.URL]
	}
}

// mapRoutes resolves each page URL to a route file. In strict mode any
// best-effort resolution aborts the run before anything is embedded.
func (p *Pipeline) mapRoutes(pages []*indexedPage) error {
	mapper := p.Mapper
	if mapper == nil {
		routesDir := p.cfg.Source.RoutesDir
		if routesDir == "" {
			routesDir = p.cfg.Source.ContentFiles.BaseDir
		}
		if routesDir != "" {
			if info, err := os.Stat(routesDir); err == nil && info.IsDir() {
				m, err := routes.DiscoverMapper(os.DirFS(routesDir))
				if err != nil {
					return sserr.Wrap(sserr.CodeInternal, err, "route discovery failed in %s", routesDir)
				}
				mapper = m
			}
		}
	}
	if mapper == nil {
		mapper = routes.NewMapper(nil)
	}

	var unmapped []string
	for _, ip := range pages {
		ip.routeFile, ip.resolution = mapper.Map(ip.page.URL)
		if ip.resolution != routes.ResolutionExact {
			unmapped = append(unmapped, ip.page.URL)
		}
	}
	if p.cfg.Source.StrictRouteMapping && len(unmapped) > 0 {
		return sserr.New(sserr.CodeRouteMappingFailed,
			"%d url(s) could not be mapped to a route file: %v", len(unmapped), unmapped)
	}
	return nil
}

// chunkPages runs the chunker over every page, applying the chunk cap.
func (p *Pipeline) chunkPages(sc scope.Scope, pages []*indexedPage, maxChunks int) []chunk.Chunk {
	var all []chunk.Chunk
	for _, ip := range pages {
		cp := chunk.Page{
			URL:           ip.page.URL,
			Title:         ip.page.Title,
			Markdown:      ip.page.Markdown,
			RouteFile:     ip.routeFile,
			Tags:          ip.page.Tags,
			Depth:         ip.depth,
			IncomingLinks: ip.incoming,
			Description:   ip.page.Description,
			Keywords:      ip.page.Keywords,
		}
		all = append(all, chunk.Split(sc.Name, cp, p.cfg.Chunking)...)
	}
	if maxChunks != 0 {
		limit := maxChunks
		if limit < 0 {
			limit = 0
		}
		if len(all) > limit {
			all = all[:limit]
		}
	}
	return all
}

// diff computes the upsert and delete sets against the remote hashes.
func diff(chunks []chunk.Chunk, remote map[string]string, opts Options) ([]chunk.Chunk, []string) {
	fresh := make(map[string]bool, len(chunks))
	for _, c := range chunks {
		fresh[c.ChunkKey] = true
	}

	var toUpsert []chunk.Chunk
	for _, c := range chunks {
		if opts.Force || !opts.ChangedOnly {
			toUpsert = append(toUpsert, c)
			continue
		}
		if remote[c.ChunkKey] != c.ContentHash {
			toUpsert = append(toUpsert, c)
		}
	}

	var toDelete []string
	for key := range remote {
		if !fresh[key] {
			toDelete = append(toDelete, key)
		}
	}
	sort.Strings(toDelete)
	return toUpsert, toDelete
}

// countChanged reports how many fresh chunks differ from the store.
func countChanged(chunks []chunk.Chunk, remote map[string]string) int {
	n := 0
	for _, c := range chunks {
		if remote[c.ChunkKey] != c.ContentHash {
			n++
		}
	}
	return n
}

// upsert writes records in batches through a bounded pool.
func (p *Pipeline) upsert(ctx context.Context, sc scope.Scope, chunks []chunk.Chunk, vectors [][]float32) error {
	if len(chunks) == 0 {
		return nil
	}
	if len(vectors) != len(chunks) {
		return sserr.New(sserr.CodeInternal, "embedding count %d does not match chunk count %d", len(vectors), len(chunks))
	}

	records := make([]vector.Record, len(chunks))
	for i, c := range chunks {
		records[i] = vector.Record{ID: c.ChunkKey, Vector: vectors[i], Metadata: p.recordMetadata(sc, c)}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(vector.WritePoolSize)
	for _, batch := range vector.Batches(records, vector.UpsertBatchSize) {
		g.Go(func() error {
			return p.store.Upsert(ctx, sc, batch)
		})
	}
	return g.Wait()
}

// recordMetadata builds the full metadata payload for one chunk.
func (p *Pipeline) recordMetadata(sc scope.Scope, c chunk.Chunk) map[string]any {
	md := map[string]any{
		vector.MetaURL:         c.URL,
		vector.MetaPath:        c.Path,
		vector.MetaTitle:       c.Title,
		vector.MetaHeadingPath: c.HeadingPath,
		vector.MetaChunkText:   c.Text,
		vector.MetaSnippet:     c.Snippet,
		vector.MetaOrdinal:     c.Ordinal,
		vector.MetaDepth:       c.Depth,
		vector.MetaIncoming:    c.IncomingLinks,
		vector.MetaRouteFile:   c.RouteFile,
		vector.MetaTags:        c.Tags,
		vector.MetaContentHash: c.ContentHash,
		vector.MetaModelID:     p.emb.Model(),
		vector.MetaProjectID:   sc.ProjectID,
		vector.MetaScopeName:   sc.Name,
	}
	if c.SectionTitle != "" {
		md[vector.MetaSection] = c.SectionTitle
	}
	if c.Description != "" {
		md[vector.MetaDescription] = c.Description
	}
	if c.Keywords != "" {
		md[vector.MetaKeywords] = c.Keywords
	}
	vector.SetDirBuckets(md, c.Path)
	return md
}
