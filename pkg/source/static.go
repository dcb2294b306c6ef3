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

	"github.com/kadirpekel/searchsocket/pkg/sserr"
	"github.com/kadirpekel/searchsocket/pkg/urlutil"
)

// StaticOutputLoader walks a prerendered build output directory and maps
// every .html file to its served URL.
type StaticOutputLoader struct {
	cfg    StaticOutputConfig
	logger *slog.Logger
}

// NewStaticOutputLoader creates a static-output loader.
func NewStaticOutputLoader(cfg StaticOutputConfig, logger *slog.Logger) *StaticOutputLoader {
	return &StaticOutputLoader{cfg: cfg, logger: logger}
}

// Load walks the output directory. A missing directory means the site was
// never built.
func (l *StaticOutputLoader) Load(ctx context.Context) ([]PageSource, error) {
	root := l.cfg.Dir
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		return nil, sserr.New(sserr.CodeBuildManifestNotFound, "static output directory not found: %s", root)
	}

	var pages []PageSource
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() || !strings.HasSuffix(path, ".html") {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			l.logger.Warn("skipping unreadable page", "path", path, "error", err)
			return nil
		}
		pages = append(pages, PageSource{
			URL:        urlutil.StaticHTMLFileToURL(filepath.ToSlash(rel)),
			HTML:       string(raw),
			SourcePath: path,
		})
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, sserr.Wrap(sserr.CodeCancelled, err, "static output walk cancelled")
		}
		return nil, sserr.Wrap(sserr.CodeInternal, err, "failed to walk static output %s", root)
	}
	l.logger.Info("loaded static output", "dir", root, "pages", len(pages))
	return pages, nil
}
