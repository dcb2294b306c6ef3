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

package chunk

import (
	"regexp"
	"strings"

	"github.com/kadirpekel/searchsocket/pkg/textutil"
)

var headingRe = regexp.MustCompile(`^(#{1,6}) (.+)$`)

// tableRe matches a table row or a delimiter row.
var (
	tableRowRe   = regexp.MustCompile(`^\|.*\|$`)
	tableDelimRe = regexp.MustCompile(`^\|?\s*:?-+:?\s*\|`)
)

// Split chunks a page's markdown. It never fails on content: empty input
// yields an empty list.
func Split(scopeName string, page Page, cfg Config) []Chunk {
	cfg.SetDefaults()

	sections := sectionize(page.Markdown, cfg.HeadingPathDepth)

	type packed struct {
		text         string
		sectionTitle string
		headingPath  []string
	}
	var out []packed
	for _, sec := range sections {
		var pieces []string
		for _, b := range blockify(sec.lines, cfg) {
			if b.protected || len(b.text) <= cfg.MaxChars {
				pieces = append(pieces, b.text)
				continue
			}
			pieces = append(pieces, splitOversized(b.text, cfg.MaxChars, cfg.OverlapChars)...)
		}
		for _, text := range pack(pieces, cfg.MaxChars, cfg.OverlapChars) {
			out = append(out, packed{text: text, sectionTitle: sec.title, headingPath: sec.headingPath})
		}
	}

	// Tail merge: absorb short trailing chunks into their predecessor.
	merged := out[:0]
	for _, p := range out {
		if len(merged) > 0 && len(p.text) < cfg.MinChars {
			prev := &merged[len(merged)-1]
			if len(prev.text)+2+len(p.text) <= cfg.MaxChars {
				prev.text = prev.text + "\n\n" + p.text
				continue
			}
		}
		merged = append(merged, p)
	}

	chunks := make([]Chunk, 0, len(merged))
	for i, p := range merged {
		hp := p.headingPath
		if hp == nil {
			hp = []string{}
		}
		chunks = append(chunks, Chunk{
			ChunkKey:      Key(scopeName, page.URL, i, p.sectionTitle),
			Ordinal:       i,
			URL:           page.URL,
			Path:          page.URL,
			Title:         page.Title,
			SectionTitle:  p.sectionTitle,
			HeadingPath:   hp,
			Text:          p.text,
			Snippet:       textutil.Snippet(p.text),
			Depth:         page.Depth,
			IncomingLinks: page.IncomingLinks,
			RouteFile:     page.RouteFile,
			Tags:          page.Tags,
			ContentHash:   ContentHash(p.text),
			Description:   page.Description,
			Keywords:      page.Keywords,
		})
	}
	return chunks
}

type section struct {
	title       string
	headingPath []string
	lines       []string
}

func isFenceLine(line string) bool {
	t := strings.TrimSpace(line)
	return strings.HasPrefix(t, "```") || strings.HasPrefix(t, "~~~")
}

// sectionize streams lines and cuts a new section at every heading outside
// fenced blocks. Sections whose normalized text is empty are dropped.
func sectionize(markdown string, headingPathDepth int) []section {
	lines := strings.Split(markdown, "\n")

	var sections []section
	var headingStack []string
	cur := section{headingPath: []string{}}
	inFence := false

	flush := func() {
		if textutil.Normalize(strings.Join(cur.lines, "\n")) != "" {
			sections = append(sections, cur)
		}
	}

	for _, line := range lines {
		if isFenceLine(line) {
			inFence = !inFence
			cur.lines = append(cur.lines, line)
			continue
		}
		if !inFence {
			if m := headingRe.FindStringSubmatch(line); m != nil {
				flush()
				level := len(m[1])
				title := strings.TrimSpace(m[2])
				for len(headingStack) < level {
					headingStack = append(headingStack, "")
				}
				headingStack[level-1] = title
				headingStack = headingStack[:level]
				cur = section{title: title, headingPath: headingPath(headingStack, headingPathDepth)}
				continue
			}
		}
		cur.lines = append(cur.lines, line)
	}
	flush()
	return sections
}

func headingPath(stack []string, depth int) []string {
	path := make([]string, 0, depth)
	for _, h := range stack {
		if h == "" {
			continue
		}
		path = append(path, h)
		if len(path) == depth {
			break
		}
	}
	return path
}

type block struct {
	text      string
	protected bool
}

func isTableLine(line string) bool {
	t := strings.TrimSpace(line)
	return tableRowRe.MatchString(t) || tableDelimRe.MatchString(t)
}

// blockify splits section lines into blocks separated by blank lines, with
// fenced code, contiguous tables and blockquotes kept as dedicated blocks
// when the matching dontSplitInside option is enabled.
func blockify(lines []string, cfg Config) []block {
	var blocks []block
	var cur []string
	inFence := false

	flush := func() {
		if len(cur) == 0 {
			return
		}
		text := strings.TrimRight(strings.Join(cur, "\n"), "\n")
		if strings.TrimSpace(text) != "" {
			blocks = append(blocks, block{text: text, protected: isProtectedCode(cur, cfg)})
		}
		cur = nil
	}

	i := 0
	for i < len(lines) {
		line := lines[i]
		if isFenceLine(line) {
			inFence = !inFence
			cur = append(cur, line)
			i++
			continue
		}
		if inFence {
			cur = append(cur, line)
			i++
			continue
		}
		if strings.TrimSpace(line) == "" {
			flush()
			i++
			continue
		}
		if cfg.protects(BlockTable) && isTableLine(line) {
			flush()
			group := []string{line}
			i++
			for i < len(lines) && strings.HasPrefix(strings.TrimSpace(lines[i]), "|") {
				group = append(group, lines[i])
				i++
			}
			blocks = append(blocks, block{text: strings.Join(group, "\n"), protected: true})
			continue
		}
		if cfg.protects(BlockBlockquote) && strings.HasPrefix(line, ">") {
			flush()
			group := []string{line}
			i++
			for i < len(lines) && strings.HasPrefix(lines[i], ">") {
				group = append(group, lines[i])
				i++
			}
			blocks = append(blocks, block{text: strings.Join(group, "\n"), protected: true})
			continue
		}
		cur = append(cur, line)
		i++
	}
	flush()
	return blocks
}

// isProtectedCode reports whether the accumulated lines form a block fenced
// on both ends and code protection is enabled.
func isProtectedCode(lines []string, cfg Config) bool {
	if !cfg.protects(BlockCode) || len(lines) < 2 {
		return false
	}
	return isFenceLine(lines[0]) && isFenceLine(lines[len(lines)-1])
}

// splitOversized cuts an unprotected block into greedy windows of at most
// maxChars, preferring a space boundary past 60% of the window, with
// guaranteed forward progress even when overlapChars >= maxChars.
func splitOversized(text string, maxChars, overlapChars int) []string {
	var pieces []string
	n := len(text)
	start := 0
	for start < n {
		end := start + maxChars
		if end >= n {
			end = n
		} else {
			limit := start + (maxChars*6)/10
			if i := strings.LastIndexByte(text[start:end], ' '); i >= 0 && start+i > limit {
				end = start + i
			}
		}
		piece := strings.TrimSpace(text[start:end])
		if piece != "" {
			pieces = append(pieces, piece)
		}
		if end >= n {
			break
		}
		next := end - overlapChars
		if floor := end - (maxChars - 1); next < floor {
			next = floor
		}
		if next <= start {
			next = start + 1
		}
		start = next
	}
	return pieces
}

// pack concatenates pieces into running chunks up to maxChars, seeding each
// follow-up chunk with the trailing overlap of the one just emitted.
func pack(pieces []string, maxChars, overlapChars int) []string {
	var chunks []string
	cur := ""
	for _, piece := range pieces {
		if cur == "" {
			cur = piece
			continue
		}
		if len(cur)+2+len(piece) <= maxChars {
			cur = cur + "\n\n" + piece
			continue
		}
		chunks = append(chunks, cur)
		tail := overlapTail(cur, overlapChars)
		if tail != "" && len(tail)+2+len(piece) <= maxChars {
			cur = tail + "\n\n" + piece
		} else {
			cur = piece
		}
	}
	if strings.TrimSpace(cur) != "" {
		chunks = append(chunks, cur)
	}
	return chunks
}

func overlapTail(s string, overlapChars int) string {
	if overlapChars <= 0 || s == "" {
		return ""
	}
	if len(s) > overlapChars {
		s = s[len(s)-overlapChars:]
	}
	return strings.TrimSpace(s)
}
