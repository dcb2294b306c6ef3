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

// Package extract converts raw page sources (HTML or markdown) into the
// canonical textual representation the chunker consumes.
package extract

import (
	"strings"

	"github.com/kadirpekel/searchsocket/pkg/textutil"
	"github.com/kadirpekel/searchsocket/pkg/urlutil"
)

// WeightMetaName is the meta tag that attaches a page weight.
// A finite value >= 0 is honored; weight 0 drops the page.
const WeightMetaName = "searchsocket-weight"

// Page is the canonical extracted form of a single page.
type Page struct {
	URL           string   `json:"url"`
	Title         string   `json:"title"`
	Markdown      string   `json:"markdown"`
	OutgoingLinks []string `json:"outgoingLinks"`
	NoIndex       bool     `json:"noindex"`
	Tags          []string `json:"tags"`
	Description   string   `json:"description,omitempty"`
	Keywords      string   `json:"keywords,omitempty"`
	Weight        *float64 `json:"weight,omitempty"`
}

// Options configures HTML extraction.
type Options struct {
	MainSelector         string   `yaml:"mainSelector"`
	DropTags             []string `yaml:"dropTags"`
	DropSelectors        []string `yaml:"dropSelectors"`
	IgnoreAttr           string   `yaml:"ignoreAttr"`
	NoIndexAttr          string   `yaml:"noindexAttr"`
	RespectRobotsNoindex bool     `yaml:"respectRobotsNoindex"`

	// Origin is the site origin used to keep same-host absolute links.
	Origin string `yaml:"-"`

	// PreserveCodeBlocks and PreserveTables control markdown conversion.
	PreserveCodeBlocks bool `yaml:"-"`
	PreserveTables     bool `yaml:"-"`

	// Converter overrides the built-in HTML to markdown converter.
	Converter Converter `yaml:"-"`
}

// SetDefaults applies default values.
func (o *Options) SetDefaults() {
	if o.MainSelector == "" {
		o.MainSelector = "main"
	}
	if o.DropTags == nil {
		o.DropTags = []string{"script", "style", "nav", "footer", "noscript", "iframe", "svg"}
	}
	if o.IgnoreAttr == "" {
		o.IgnoreAttr = "data-searchsocket-ignore"
	}
	if o.NoIndexAttr == "" {
		o.NoIndexAttr = "data-searchsocket-noindex"
	}
}

// tagsFor derives page tags: the first URL segment, empty for the root.
func tagsFor(url string) []string {
	if seg := urlutil.FirstSegment(url); seg != "" {
		return []string{seg}
	}
	return []string{}
}

// titleFromURL falls back to the last path segment, or the bare host path.
func titleFromURL(url string) string {
	p := urlutil.NormalizePath(url)
	if p == "/" {
		return "/"
	}
	segs := strings.Split(strings.Trim(p, "/"), "/")
	return segs[len(segs)-1]
}

// finalize normalizes the markdown and applies the common drop rules.
func finalize(p *Page) *Page {
	p.Markdown = strings.TrimSpace(p.Markdown)
	if textutil.Normalize(p.Markdown) == "" {
		p.NoIndex = true
	}
	if p.Weight != nil && *p.Weight == 0 {
		p.NoIndex = true
	}
	p.Tags = tagsFor(p.URL)
	if p.OutgoingLinks == nil {
		p.OutgoingLinks = []string{}
	}
	return p
}
