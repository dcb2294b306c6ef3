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

package extract

import (
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kadirpekel/searchsocket/pkg/textutil"
	"github.com/kadirpekel/searchsocket/pkg/urlutil"
)

// frontmatter is the recognized subset of markdown frontmatter keys.
type frontmatter struct {
	Title        string `yaml:"title"`
	Description  string `yaml:"description"`
	Keywords     string `yaml:"keywords"`
	NoIndex      bool   `yaml:"noindex"`
	Searchsocket struct {
		Weight *float64 `yaml:"weight"`
	} `yaml:"searchsocket"`
}

// FromMarkdown extracts a page from raw markdown. The title precedence is
// caller override, frontmatter title, URL.
func FromMarkdown(url, raw, titleOverride string) (*Page, error) {
	page := &Page{URL: urlutil.NormalizePath(url)}

	body, fm := splitFrontmatter(raw)
	if fm != nil {
		page.Description = fm.Description
		page.Keywords = fm.Keywords
		if fm.NoIndex {
			page.NoIndex = true
		}
		if fm.Searchsocket.Weight != nil {
			if w := *fm.Searchsocket.Weight; w >= 0 {
				page.Weight = &w
			}
		}
	}

	if hasTopLevelNoindexComment(body) {
		page.NoIndex = true
	}

	title := titleOverride
	if title == "" && fm != nil {
		title = fm.Title
	}
	if title == "" {
		title = titleFromURL(url)
	}
	page.Title = title
	page.Markdown = body
	page.OutgoingLinks = markdownLinks(body, page.URL)

	return finalize(page), nil
}

// splitFrontmatter strips a leading YAML frontmatter block. Malformed
// frontmatter is left in place rather than dropped.
func splitFrontmatter(raw string) (string, *frontmatter) {
	if !strings.HasPrefix(raw, "---\n") && raw != "---" {
		return raw, nil
	}
	rest := raw[4:]
	end := strings.Index(rest, "\n---")
	if end < 0 {
		return raw, nil
	}
	block := rest[:end]
	body := rest[end+4:]
	if i := strings.IndexByte(body, '\n'); i >= 0 {
		body = body[i+1:]
	} else {
		body = ""
	}

	var fm frontmatter
	if err := yaml.Unmarshal([]byte(block), &fm); err != nil {
		return raw, nil
	}
	return body, &fm
}

// hasTopLevelNoindexComment detects a `<!-- noindex -->` comment on its own
// line outside fenced code blocks.
func hasTopLevelNoindexComment(md string) bool {
	inFence := false
	for _, line := range strings.Split(md, "\n") {
		t := strings.TrimSpace(line)
		if strings.HasPrefix(t, "```") || strings.HasPrefix(t, "~~~") {
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}
		if noindexCommentRe(t) {
			return true
		}
	}
	return false
}

func noindexCommentRe(t string) bool {
	if !strings.HasPrefix(t, "<!--") || !strings.HasSuffix(t, "-->") {
		return false
	}
	inner := strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(t, "<!--"), "-->"))
	return inner == "noindex"
}

// markdownLinks collects outgoing links from inline markdown links.
func markdownLinks(md, pageURL string) []string {
	seen := make(map[string]bool)
	var links []string
	rest := md
	for {
		i := strings.Index(rest, "](")
		if i < 0 {
			break
		}
		tail := rest[i+2:]
		j := strings.IndexByte(tail, ')')
		if j < 0 {
			break
		}
		href := strings.TrimSpace(tail[:j])
		rest = tail[j+1:]
		if href == "" {
			continue
		}
		if resolved := urlutil.ResolveHref(pageURL, href, ""); resolved != "" && !seen[resolved] {
			seen[resolved] = true
			links = append(links, resolved)
		}
	}
	if links == nil {
		links = []string{}
	}
	return links
}

// StripSvelteMarkup reduces a +page.svelte source to best-effort text:
// script/style blocks, tags and template expressions are removed and
// whitespace collapsed.
func StripSvelteMarkup(src string) string {
	src = stripBetween(src, "<script", "</script>")
	src = stripBetween(src, "<style", "</style>")

	var b strings.Builder
	depth := 0
	inTag := false
	for _, r := range src {
		switch {
		case r == '<':
			inTag = true
		case r == '>' && inTag:
			inTag = false
			b.WriteByte(' ')
		case r == '{':
			depth++
		case r == '}' && depth > 0:
			depth--
			b.WriteByte(' ')
		case !inTag && depth == 0:
			b.WriteRune(r)
		}
	}
	return textutil.Normalize(b.String())
}

func stripBetween(s, open, close string) string {
	for {
		i := strings.Index(s, open)
		if i < 0 {
			return s
		}
		j := strings.Index(s[i:], close)
		if j < 0 {
			return s[:i]
		}
		s = s[:i] + " " + s[i+j+len(close):]
	}
}
