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
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kadirpekel/searchsocket/pkg/scope"
)

// mirrorFrontmatter is the YAML header of a mirrored page file.
type mirrorFrontmatter struct {
	URL             string   `yaml:"url"`
	Title           string   `yaml:"title"`
	Scope           string   `yaml:"scope"`
	RouteFile       string   `yaml:"routeFile"`
	RouteResolution string   `yaml:"routeResolution"`
	GeneratedAt     string   `yaml:"generatedAt"`
	IncomingLinks   int      `yaml:"incomingLinks"`
	OutgoingLinks   int      `yaml:"outgoingLinks"`
	Depth           int      `yaml:"depth"`
	Tags            []string `yaml:"tags"`
}

// MirrorPath maps a page URL to its mirror file under base.
func MirrorPath(base, scopeName, url string) string {
	rel := strings.TrimPrefix(url, "/")
	if rel == "" {
		rel = "index"
	}
	return filepath.Join(base, "pages", scopeName, filepath.FromSlash(rel)+".md")
}

// writeMirror persists the canonical markdown per page. Writes are
// content-addressed: an existing file that differs only in generatedAt
// is left untouched.
func (p *Pipeline) writeMirror(sc scope.Scope, pages []*indexedPage) error {
	base := p.cfg.State.Dir
	if !filepath.IsAbs(base) && p.dir != "" {
		base = filepath.Join(p.dir, base)
	}
	now := time.Now().UTC().Format(time.RFC3339)
	for _, ip := range pages {
		fm := mirrorFrontmatter{
			URL:             ip.page.URL,
			Title:           ip.page.Title,
			Scope:           sc.ID(),
			RouteFile:       ip.routeFile,
			RouteResolution: string(ip.resolution),
			GeneratedAt:     now,
			IncomingLinks:   ip.incoming,
			OutgoingLinks:   len(ip.page.OutgoingLinks),
			Depth:           ip.depth,
			Tags:            ip.page.Tags,
		}
		head, err := yaml.Marshal(fm)
		if err != nil {
			return err
		}
		content := "---\n" + string(head) + "---\n\n" + ip.page.Markdown + "\n"

		path := MirrorPath(base, sc.Name, ip.page.URL)
		if prev, err := os.ReadFile(path); err == nil {
			if stripGeneratedAt(string(prev)) == stripGeneratedAt(content) {
				continue
			}
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return err
		}
	}
	return nil
}

// stripGeneratedAt removes the generatedAt line so equality ignores it.
func stripGeneratedAt(content string) string {
	lines := strings.Split(content, "\n")
	out := lines[:0]
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "generatedAt:") {
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}
