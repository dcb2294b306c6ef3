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
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/kadirpekel/searchsocket/pkg/extract"
	"github.com/kadirpekel/searchsocket/pkg/sserr"
	"github.com/kadirpekel/searchsocket/pkg/urlutil"
)

// ContentFilesLoader reads markdown and +page.svelte files from a routes
// tree, mapping file paths to URLs with the route-segment rules.
type ContentFilesLoader struct {
	cfg    ContentFilesConfig
	logger *slog.Logger
}

// NewContentFilesLoader creates a content-files loader.
func NewContentFilesLoader(cfg ContentFilesConfig, logger *slog.Logger) *ContentFilesLoader {
	return &ContentFilesLoader{cfg: cfg, logger: logger}
}

// Load walks baseDir. Markdown files are taken raw; +page.svelte files are
// reduced to best-effort text.
func (l *ContentFilesLoader) Load(ctx context.Context) ([]PageSource, error) {
	root := l.cfg.BaseDir
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		return nil, sserr.New(sserr.CodeConfigMissing, "content files directory not found: %s", root)
	}

	var pages []PageSource
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			return nil
		}
		name := d.Name()
		isMarkdown := strings.HasSuffix(name, ".md")
		isSvelte := name == "+page.svelte"
		if !isMarkdown && !isSvelte {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			l.logger.Warn("skipping unreadable content file", "path", path, "error", err)
			return nil
		}

		md := string(raw)
		if isSvelte {
			md = extract.StripSvelteMarkup(md)
			if md == "" {
				return nil
			}
		}
		pages = append(pages, PageSource{
			URL:        urlutil.ContentFileToURL(filepath.ToSlash(rel)),
			Markdown:   md,
			SourcePath: path,
		})
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, sserr.Wrap(sserr.CodeCancelled, err, "content files walk cancelled")
		}
		return nil, sserr.Wrap(sserr.CodeInternal, err, "failed to walk content files %s", root)
	}
	l.logger.Info("loaded content files", "dir", root, "pages", len(pages))
	return pages, nil
}
