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
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kadirpekel/searchsocket/pkg/embedder"
	"github.com/kadirpekel/searchsocket/pkg/pipeline"
	"github.com/kadirpekel/searchsocket/pkg/sserr"
	"github.com/kadirpekel/searchsocket/pkg/urlutil"
	"github.com/kadirpekel/searchsocket/pkg/vector"
)

// PageRecord is the canonical page returned by GetPage.
type PageRecord struct {
	URL       string   `json:"url"`
	Title     string   `json:"title"`
	Markdown  string   `json:"markdown"`
	RouteFile string   `json:"routeFile,omitempty"`
	Tags      []string `json:"tags"`
	Source    string   `json:"source"` // "mirror" or "store"
}

// GetPage fetches a page by path or URL, preferring the local mirror
// and falling back to reassembling the page's chunks from the store.
func (e *Engine) GetPage(ctx context.Context, pathOrURL, scopeName string) (*PageRecord, error) {
	path := urlutil.NormalizePath(urlutil.PathOf(pathOrURL))
	if path == "" {
		return nil, sserr.New(sserr.CodeInvalidRequest, "page path is required")
	}
	sc := e.scopeFor(scopeName)

	if page := e.pageFromMirror(path, sc.Name); page != nil {
		return page, nil
	}

	// Store fallback: the path prefix filter pins the page; the path
	// text itself serves as the recall query.
	vecs, err := e.emb.EmbedTexts(ctx, []string{path}, embedder.TaskQuery)
	if err != nil {
		return nil, err
	}
	hits, err := e.store.Query(ctx, sc, vecs[0], vector.QueryOptions{TopK: 200, PathPrefix: path})
	if err != nil {
		return nil, err
	}

	var own []vector.Hit
	for _, h := range hits {
		if vector.MetadataString(h.Metadata, vector.MetaPath) == path {
			own = append(own, h)
		}
	}
	if len(own) == 0 {
		return nil, sserr.New(sserr.CodeInvalidRequest, "page not found: %s", path)
	}
	sort.Slice(own, func(i, j int) bool {
		return metaInt(own[i].Metadata, vector.MetaOrdinal) < metaInt(own[j].Metadata, vector.MetaOrdinal)
	})

	parts := make([]string, 0, len(own))
	for _, h := range own {
		parts = append(parts, vector.MetadataString(h.Metadata, vector.MetaChunkText))
	}
	first := own[0].Metadata
	return &PageRecord{
		URL:       vector.MetadataString(first, vector.MetaURL),
		Title:     vector.MetadataString(first, vector.MetaTitle),
		Markdown:  strings.Join(parts, "\n\n"),
		RouteFile: vector.MetadataString(first, vector.MetaRouteFile),
		Tags:      vector.MetadataTags(first),
		Source:    "store",
	}, nil
}

// pageFromMirror reads the mirrored markdown file if one exists. The
// state dir resolves against the engine's working directory so reads
// find the files the pipeline wrote.
func (e *Engine) pageFromMirror(path, scopeName string) *PageRecord {
	base := e.cfg.State.Dir
	if base != "" && !filepath.IsAbs(base) {
		base = filepath.Join(e.dir, base)
	}
	raw, err := os.ReadFile(pipeline.MirrorPath(base, scopeName, path))
	if err != nil {
		return nil
	}
	content := string(raw)

	page := &PageRecord{URL: path, Markdown: content, Source: "mirror"}
	if strings.HasPrefix(content, "---\n") {
		if end := strings.Index(content[4:], "\n---"); end >= 0 {
			head := content[4 : 4+end]
			page.Markdown = strings.TrimSpace(content[4+end+4:])
			for _, line := range strings.Split(head, "\n") {
				key, value, ok := strings.Cut(line, ":")
				if !ok {
					continue
				}
				value = strings.TrimSpace(value)
				switch strings.TrimSpace(key) {
				case "title":
					page.Title = value
				case "routeFile":
					page.RouteFile = value
				case "url":
					page.URL = value
				}
			}
		}
	}
	if seg := urlutil.FirstSegment(page.URL); seg != "" {
		page.Tags = []string{seg}
	} else {
		page.Tags = []string{}
	}
	return page
}
