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

// Package textutil provides text normalization shared by the chunker, the
// extractor and the search formatter. Normalize is the function behind both
// chunk keys and content hashes, so its behavior must stay stable.
package textutil

import (
	"strings"
	"unicode"
)

// SnippetLength is the target snippet size in characters.
const SnippetLength = 180

// Normalize collapses all whitespace runs to single spaces, strips control
// characters and trims the result. Idempotent.
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			space = true
			continue
		}
		if unicode.IsControl(r) {
			continue
		}
		if space && b.Len() > 0 {
			b.WriteByte(' ')
		}
		space = false
		b.WriteRune(r)
	}
	return b.String()
}

// Snippet returns the first ~SnippetLength characters of the normalized
// text, trimmed at a word boundary, with a trailing ellipsis when truncated.
func Snippet(s string) string {
	n := Normalize(s)
	runes := []rune(n)
	if len(runes) <= SnippetLength {
		return n
	}
	cut := string(runes[:SnippetLength])
	if i := strings.LastIndexByte(cut, ' '); i > 0 {
		cut = cut[:i]
	}
	return strings.TrimRight(cut, " ") + "…"
}

// FirstNonEmpty returns the first non-empty string after trimming.
func FirstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
