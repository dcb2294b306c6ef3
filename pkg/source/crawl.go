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

package source

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kadirpekel/searchsocket/pkg/sserr"
	"github.com/kadirpekel/searchsocket/pkg/urlutil"
)

// CrawlLoader fetches pages from a deployed site, resolving routes from an
// explicit list or a sitemap.
type CrawlLoader struct {
	cfg    CrawlConfig
	logger *slog.Logger
	client *http.Client
}

// NewCrawlLoader creates a crawl loader.
func NewCrawlLoader(cfg CrawlConfig, logger *slog.Logger) *CrawlLoader {
	cfg.SetDefaults()
	return &CrawlLoader{
		cfg:    cfg,
		logger: logger,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

// Load resolves the route list, then fetches pages with bounded
// concurrency. Individual fetch failures are warnings, not errors.
func (l *CrawlLoader) Load(ctx context.Context) ([]PageSource, error) {
	routes := l.cfg.Routes
	if len(routes) == 0 {
		resolved, err := l.routesFromSitemap(ctx)
		if err != nil {
			return nil, err
		}
		routes = resolved
	}

	seen := make(map[string]bool, len(routes))
	var normalized []string
	for _, r := range routes {
		p := urlutil.PathOf(r)
		if !seen[p] {
			seen[p] = true
			normalized = append(normalized, p)
		}
	}

	var mu sync.Mutex
	var pages []PageSource
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.cfg.Concurrency)
	for _, route := range normalized {
		g.Go(func() error {
			body, err := l.fetchPage(gctx, route)
			if err != nil {
				l.logger.Warn("skipping page", "url", route, "error", err)
				return nil
			}
			mu.Lock()
			pages = append(pages, PageSource{URL: route, HTML: body})
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, sserr.Wrap(sserr.CodeCancelled, err, "crawl cancelled")
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].URL < pages[j].URL })
	l.logger.Info("crawled site", "base", l.cfg.BaseURL, "pages", len(pages))
	return pages, nil
}

func (l *CrawlLoader) fetchPage(ctx context.Context, route string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimSuffix(l.cfg.BaseURL, "/")+route, nil)
	if err != nil {
		return "", err
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// sitemapDoc covers both <urlset> and <sitemapindex> roots.
type sitemapDoc struct {
	URLs     []sitemapLoc `xml:"url"`
	Sitemaps []sitemapLoc `xml:"sitemap"`
}

type sitemapLoc struct {
	Loc string `xml:"loc"`
}

// routesFromSitemap fetches the configured sitemap, recursing into
// sitemap indexes. Each child sitemap is fetched at most once, so index
// cycles terminate.
func (l *CrawlLoader) routesFromSitemap(ctx context.Context) ([]string, error) {
	visited := make(map[string]bool)
	var routes []string
	if err := l.collectSitemap(ctx, l.cfg.SitemapURL, visited, &routes); err != nil {
		return nil, err
	}
	return routes, nil
}

func (l *CrawlLoader) collectSitemap(ctx context.Context, sitemapURL string, visited map[string]bool, routes *[]string) error {
	if visited[sitemapURL] {
		return nil
	}
	visited[sitemapURL] = true

	raw, err := l.fetchSitemapBody(ctx, sitemapURL)
	if err != nil {
		if len(visited) > 1 {
			// Child sitemap failures degrade to whatever was obtained.
			l.logger.Warn("skipping sitemap", "url", sitemapURL, "error", err)
			return nil
		}
		return sserr.Wrap(sserr.CodeInternal, err, "failed to fetch sitemap %s", sitemapURL)
	}

	var doc sitemapDoc
	if err := xml.Unmarshal(raw, &doc); err != nil {
		if len(visited) > 1 {
			l.logger.Warn("skipping unparsable sitemap", "url", sitemapURL, "error", err)
			return nil
		}
		return sserr.Wrap(sserr.CodeInternal, err, "failed to parse sitemap %s", sitemapURL)
	}

	for _, entry := range doc.URLs {
		loc := strings.TrimSpace(entry.Loc)
		u, err := url.Parse(loc)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			continue
		}
		*routes = append(*routes, urlutil.NormalizePath(u.Path))
	}
	for _, child := range doc.Sitemaps {
		loc := strings.TrimSpace(child.Loc)
		u, err := url.Parse(loc)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			continue
		}
		if err := l.collectSitemap(ctx, loc, visited, routes); err != nil {
			return err
		}
	}
	return nil
}

func (l *CrawlLoader) fetchSitemapBody(ctx context.Context, sitemapURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sitemapURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	// Gzipped sitemap files carry the gzip magic rather than a
	// Content-Encoding the client would decode transparently.
	if len(raw) >= 2 && raw[0] == 0x1f && raw[1] == 0x8b {
		gz, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("failed to gunzip sitemap: %w", err)
		}
		defer gz.Close()
		return io.ReadAll(gz)
	}
	return raw, nil
}
