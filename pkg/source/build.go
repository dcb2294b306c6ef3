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
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/exec"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/kadirpekel/searchsocket/pkg/sserr"
	"github.com/kadirpekel/searchsocket/pkg/urlutil"
)

// BuildLoader discovers pages by breadth-first crawling a preview server.
// When a command is configured the loader starts the server itself and
// waits for readiness.
type BuildLoader struct {
	cfg    BuildConfig
	logger *slog.Logger
	client *http.Client
}

// NewBuildLoader creates a build loader.
func NewBuildLoader(cfg BuildConfig, logger *slog.Logger) *BuildLoader {
	cfg.SetDefaults()
	return &BuildLoader{
		cfg:    cfg,
		logger: logger,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Load starts the preview server if configured, waits for readiness and
// runs the BFS. The server process is torn down on every exit path.
func (l *BuildLoader) Load(ctx context.Context) ([]PageSource, error) {
	if l.cfg.Command != "" {
		cmd := exec.CommandContext(ctx, "sh", "-c", l.cfg.Command)
		if err := cmd.Start(); err != nil {
			return nil, sserr.Wrap(sserr.CodeBuildServerFailed, err, "failed to start preview server")
		}
		defer func() {
			_ = cmd.Process.Kill()
			_ = cmd.Wait()
		}()
	}

	if err := l.waitReady(ctx); err != nil {
		return nil, err
	}
	return l.discover(ctx)
}

// waitReady probes the base URL until it responds or the preview timeout
// elapses.
func (l *BuildLoader) waitReady(ctx context.Context) error {
	deadline := time.Now().Add(time.Duration(l.cfg.PreviewTimeoutMS) * time.Millisecond)
	probe := &http.Client{Timeout: 2 * time.Second}
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.cfg.BaseURL, nil)
		if err != nil {
			return sserr.Wrap(sserr.CodeBuildServerFailed, err, "invalid preview base URL %s", l.cfg.BaseURL)
		}
		resp, err := probe.Do(req)
		if err == nil {
			resp.Body.Close()
			return nil
		}
		if ctx.Err() != nil {
			return sserr.Wrap(sserr.CodeCancelled, ctx.Err(), "readiness probe cancelled")
		}
		if time.Now().After(deadline) {
			return sserr.Wrap(sserr.CodeBuildServerFailed, err, "preview server not ready after %dms", l.cfg.PreviewTimeoutMS)
		}
		time.Sleep(250 * time.Millisecond)
	}
}

type bfsItem struct {
	path  string
	depth int
}

func (l *BuildLoader) discover(ctx context.Context) ([]PageSource, error) {
	base := strings.TrimSuffix(l.cfg.BaseURL, "/")

	var queue []bfsItem
	visited := make(map[string]bool)
	for _, seed := range l.cfg.Seeds {
		p := urlutil.PathOf(seed)
		if l.excluded(p) || visited[p] {
			continue
		}
		visited[p] = true
		queue = append(queue, bfsItem{path: p, depth: 0})
	}

	var pages []PageSource
	for len(queue) > 0 && len(pages) < l.cfg.MaxPages {
		if ctx.Err() != nil {
			return nil, sserr.Wrap(sserr.CodeCancelled, ctx.Err(), "discovery cancelled")
		}
		item := queue[0]
		queue = queue[1:]

		body, err := l.fetchHTML(ctx, base+item.path)
		if err != nil {
			l.logger.Warn("skipping page", "url", item.path, "error", err)
			continue
		}
		pages = append(pages, PageSource{URL: item.path, HTML: body})

		if item.depth >= l.cfg.MaxDepth {
			continue
		}
		for _, link := range pageLinks(body, item.path, base) {
			if visited[link] || l.excluded(link) {
				continue
			}
			visited[link] = true
			queue = append(queue, bfsItem{path: link, depth: item.depth + 1})
		}
	}
	l.logger.Info("discovered pages", "base", base, "pages", len(pages))
	return pages, nil
}

// fetchHTML fetches one page, skipping non-HTML content types and error
// statuses.
func (l *BuildLoader) fetchHTML(ctx context.Context, fullURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
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
	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.Contains(ct, "text/html") {
		return "", fmt.Errorf("non-HTML content type %q", ct)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// excluded reports whether a path matches an exclude pattern, either
// exactly or by "/prefix/*".
func (l *BuildLoader) excluded(p string) bool {
	for _, pattern := range l.cfg.Exclude {
		if pattern == p {
			return true
		}
		if strings.HasSuffix(pattern, "/*") {
			prefix := strings.TrimSuffix(pattern, "/*")
			if p == prefix || strings.HasPrefix(p, prefix+"/") {
				return true
			}
		}
	}
	return false
}

// pageLinks extracts same-origin link paths from a page body.
func pageLinks(body, pageURL, origin string) []string {
	doc, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return nil
	}
	seen := make(map[string]bool)
	var links []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, a := range n.Attr {
				if a.Key != "href" {
					continue
				}
				if resolved := urlutil.ResolveHref(pageURL, a.Val, origin); resolved != "" && !seen[resolved] {
					seen[resolved] = true
					links = append(links, resolved)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return links
}
