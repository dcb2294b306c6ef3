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

// Package routes maps indexed URLs back to the filesystem route files that
// render them. Patterns follow the SvelteKit routes convention: literal
// segments, "[param]", "[[optional]]", "[...rest]" and "(group)" segments
// that never appear in the URL.
package routes

import (
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
)

// Resolution tells how confident the mapping is.
type Resolution string

const (
	ResolutionExact      Resolution = "exact"
	ResolutionBestEffort Resolution = "best-effort"
)

type segKind int

const (
	segLiteral segKind = iota
	segParam
	segOptional
	segRest
)

type patternSeg struct {
	kind    segKind
	literal string
}

type entry struct {
	file string
	segs []patternSeg
}

// Mapper resolves URL paths against a set of route file patterns.
type Mapper struct {
	entries []entry
}

// NewMapper builds a mapper from route file paths relative to the routes
// root (e.g. "docs/[slug]/+page.svelte").
func NewMapper(routeFiles []string) *Mapper {
	m := &Mapper{}
	for _, f := range routeFiles {
		m.entries = append(m.entries, entry{file: f, segs: parsePattern(f)})
	}
	// Deterministic resolution regardless of discovery order.
	sort.Slice(m.entries, func(i, j int) bool { return m.entries[i].file < m.entries[j].file })
	return m
}

// DiscoverMapper walks a routes directory and collects +page.* route files.
func DiscoverMapper(fsys fs.FS) (*Mapper, error) {
	var files []string
	err := fs.WalkDir(fsys, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		base := filepath.Base(path)
		if strings.HasPrefix(base, "+page.") {
			files = append(files, filepath.ToSlash(path))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return NewMapper(files), nil
}

func parsePattern(file string) []patternSeg {
	dir := filepath.ToSlash(filepath.Dir(file))
	if dir == "." {
		dir = ""
	}
	var segs []patternSeg
	for _, raw := range strings.Split(dir, "/") {
		if raw == "" {
			continue
		}
		switch {
		case strings.HasPrefix(raw, "(") && strings.HasSuffix(raw, ")"):
			continue // layout group, not part of the URL
		case strings.HasPrefix(raw, "[...") && strings.HasSuffix(raw, "]"):
			segs = append(segs, patternSeg{kind: segRest})
		case strings.HasPrefix(raw, "[[") && strings.HasSuffix(raw, "]]"):
			segs = append(segs, patternSeg{kind: segOptional})
		case strings.HasPrefix(raw, "[") && strings.HasSuffix(raw, "]"):
			segs = append(segs, patternSeg{kind: segParam})
		default:
			segs = append(segs, patternSeg{kind: segLiteral, literal: raw})
		}
	}
	return segs
}

// Map resolves a URL path. When a pattern matches, the mapping is exact;
// otherwise the deepest route sharing a literal prefix (falling back to the
// root route, then the first known route) is returned as best-effort. An
// empty mapper yields ("", best-effort).
func (m *Mapper) Map(urlPath string) (string, Resolution) {
	urlSegs := splitURL(urlPath)

	best := ""
	bestScore := -1
	for _, e := range m.entries {
		if ok, score := match(e.segs, urlSegs); ok && score > bestScore {
			best = e.file
			bestScore = score
		}
	}
	if best != "" {
		return best, ResolutionExact
	}

	// Best effort: deepest shared literal prefix.
	fallback := ""
	fallbackDepth := -1
	for _, e := range m.entries {
		d := literalPrefixLen(e.segs, urlSegs)
		if d > fallbackDepth {
			fallback = e.file
			fallbackDepth = d
		}
	}
	return fallback, ResolutionBestEffort
}

func splitURL(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

// match reports whether the pattern covers the URL and a specificity score
// (literal segments worth more than params, rest matches worth least).
func match(pat []patternSeg, urlSegs []string) (bool, int) {
	return matchFrom(pat, urlSegs, 0, 0, 0)
}

func matchFrom(pat []patternSeg, urlSegs []string, pi, ui, score int) (bool, int) {
	if pi == len(pat) {
		if ui == len(urlSegs) {
			return true, score
		}
		return false, 0
	}
	seg := pat[pi]
	switch seg.kind {
	case segLiteral:
		if ui < len(urlSegs) && urlSegs[ui] == seg.literal {
			return matchFrom(pat, urlSegs, pi+1, ui+1, score+100)
		}
		return false, 0
	case segParam:
		if ui < len(urlSegs) {
			return matchFrom(pat, urlSegs, pi+1, ui+1, score+10)
		}
		return false, 0
	case segOptional:
		// Try consuming one segment first, then none.
		if ui < len(urlSegs) {
			if ok, s := matchFrom(pat, urlSegs, pi+1, ui+1, score+10); ok {
				return true, s
			}
		}
		return matchFrom(pat, urlSegs, pi+1, ui, score+1)
	case segRest:
		// Rest consumes zero or more segments; prefer consuming fewest.
		for take := 0; take <= len(urlSegs)-ui; take++ {
			if ok, s := matchFrom(pat, urlSegs, pi+1, ui+take, score+1); ok {
				return true, s
			}
		}
		return false, 0
	}
	return false, 0
}

func literalPrefixLen(pat []patternSeg, urlSegs []string) int {
	n := 0
	for i, seg := range pat {
		if seg.kind != segLiteral || i >= len(urlSegs) || urlSegs[i] != seg.literal {
			break
		}
		n++
	}
	return n
}
