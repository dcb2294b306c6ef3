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

// Package chunk splits page markdown into bounded, stably identified
// chunks. Chunk identity (chunkKey) and the content hash are deterministic
// for identical inputs, which is what drives incremental reindexing.
package chunk

import (
	"fmt"
	"strings"

	"github.com/kadirpekel/searchsocket/pkg/hashutil"
	"github.com/kadirpekel/searchsocket/pkg/textutil"
)

// Protected block kinds for Config.DontSplitInside.
const (
	BlockCode       = "code"
	BlockTable      = "table"
	BlockBlockquote = "blockquote"
)

// Config controls chunk sizing and protected blocks.
type Config struct {
	MaxChars         int      `yaml:"maxChars"`
	OverlapChars     int      `yaml:"overlapChars"`
	MinChars         int      `yaml:"minChars"`
	HeadingPathDepth int      `yaml:"headingPathDepth"`
	DontSplitInside  []string `yaml:"dontSplitInside"`
}

// SetDefaults applies default values.
func (c *Config) SetDefaults() {
	if c.MaxChars <= 0 {
		c.MaxChars = 1600
	}
	if c.OverlapChars < 0 {
		c.OverlapChars = 0
	}
	if c.OverlapChars == 0 {
		c.OverlapChars = 160
	}
	if c.MinChars <= 0 {
		c.MinChars = 200
	}
	if c.HeadingPathDepth <= 0 {
		c.HeadingPathDepth = 3
	}
	if c.DontSplitInside == nil {
		c.DontSplitInside = []string{BlockCode, BlockTable, BlockBlockquote}
	}
}

func (c *Config) protects(kind string) bool {
	for _, k := range c.DontSplitInside {
		if k == kind {
			return true
		}
	}
	return false
}

// Page is the chunker's view of an indexed page.
type Page struct {
	URL           string
	Title         string
	Markdown      string
	RouteFile     string
	Tags          []string
	Depth         int
	IncomingLinks int
	Description   string
	Keywords      string
}

// Chunk is a bounded fragment of a page with stable identity.
type Chunk struct {
	ChunkKey      string   `json:"chunkKey"`
	Ordinal       int      `json:"ordinal"`
	URL           string   `json:"url"`
	Path          string   `json:"path"`
	Title         string   `json:"title"`
	SectionTitle  string   `json:"sectionTitle,omitempty"`
	HeadingPath   []string `json:"headingPath"`
	Text          string   `json:"chunkText"`
	Snippet       string   `json:"snippet"`
	Depth         int      `json:"depth"`
	IncomingLinks int      `json:"incomingLinks"`
	RouteFile     string   `json:"routeFile"`
	Tags          []string `json:"tags"`
	ContentHash   string   `json:"contentHash"`
	Description   string   `json:"description,omitempty"`
	Keywords      string   `json:"keywords,omitempty"`
}

// Key computes the stable chunk key for a (scope, url, ordinal, section).
func Key(scopeName, url string, ordinal int, sectionTitle string) string {
	return hashutil.SHA1Hex(fmt.Sprintf("%s|%s|%d|%s",
		scopeName, url, ordinal, strings.ToLower(textutil.Normalize(sectionTitle))))
}

// ContentHash computes the change-detection hash of chunk text.
func ContentHash(text string) string {
	return hashutil.SHA256Hex(textutil.Normalize(text))
}
