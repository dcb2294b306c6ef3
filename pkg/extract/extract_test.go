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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func htmlOpts() Options {
	return Options{
		RespectRobotsNoindex: true,
		PreserveCodeBlocks:   true,
		PreserveTables:       true,
	}
}

func TestFromHTMLBasic(t *testing.T) {
	raw := `<html><head><title>Doc Title</title></head>
	<body><main><h1>Main Heading</h1><p>Some body text.</p>
	<a href="/docs/other">other</a></main></body></html>`

	p, err := FromHTML("/docs/page", raw, htmlOpts())
	require.NoError(t, err)
	assert.Equal(t, "Main Heading", p.Title)
	assert.False(t, p.NoIndex)
	assert.Contains(t, p.Markdown, "# Main Heading")
	assert.Contains(t, p.Markdown, "Some body text.")
	assert.Equal(t, []string{"/docs/other"}, p.OutgoingLinks)
	assert.Equal(t, []string{"docs"}, p.Tags)
}

func TestTitlePrecedenceOgFirst(t *testing.T) {
	raw := `<html><head><title>Doc Title</title>
	<meta property="og:title" content="OG Title">
	</head><body><main><h1>H1 Title</h1><p>x</p></main></body></html>`

	p, err := FromHTML("/p", raw, htmlOpts())
	require.NoError(t, err)
	assert.Equal(t, "OG Title", p.Title)
}

func TestTitleFallsBackToDocumentTitle(t *testing.T) {
	raw := `<html><head><title>Doc Title</title></head><body><main><p>x</p></main></body></html>`
	p, err := FromHTML("/p", raw, htmlOpts())
	require.NoError(t, err)
	assert.Equal(t, "Doc Title", p.Title)
}

func TestRobotsNoindex(t *testing.T) {
	raw := `<html><head><meta name="robots" content="noindex, nofollow"></head>
	<body><main><p>hidden</p></main></body></html>`
	p, err := FromHTML("/p", raw, htmlOpts())
	require.NoError(t, err)
	assert.True(t, p.NoIndex)
}

func TestNoindexAttrAnywhereDropsPage(t *testing.T) {
	raw := `<html><body><div data-searchsocket-noindex="true"></div>
	<main><p>visible</p></main></body></html>`
	p, err := FromHTML("/p", raw, htmlOpts())
	require.NoError(t, err)
	assert.True(t, p.NoIndex)
}

func TestIgnoreAttrRemovesElement(t *testing.T) {
	raw := `<html><body><main><p>keep</p><p data-searchsocket-ignore>drop me</p></main></body></html>`
	p, err := FromHTML("/p", raw, htmlOpts())
	require.NoError(t, err)
	assert.Contains(t, p.Markdown, "keep")
	assert.NotContains(t, p.Markdown, "drop me")
}

func TestDropSelectors(t *testing.T) {
	opts := htmlOpts()
	opts.DropSelectors = []string{".sidebar", "#toc"}
	raw := `<html><body><main><div class="sidebar">side</div><div id="toc">toc</div><p>real</p></main></body></html>`
	p, err := FromHTML("/p", raw, opts)
	require.NoError(t, err)
	assert.Contains(t, p.Markdown, "real")
	assert.NotContains(t, p.Markdown, "side")
	assert.NotContains(t, p.Markdown, "toc")
}

func TestWeightZeroDropsPage(t *testing.T) {
	raw := `<html><head><meta name="searchsocket-weight" value="0"></head>
	<body><main><p>x</p></main></body></html>`
	p, err := FromHTML("/p", raw, htmlOpts())
	require.NoError(t, err)
	assert.True(t, p.NoIndex)
	require.NotNil(t, p.Weight)
	assert.Equal(t, 0.0, *p.Weight)
}

func TestNegativeWeightIgnored(t *testing.T) {
	raw := `<html><head><meta name="searchsocket-weight" value="-2"></head>
	<body><main><p>x</p></main></body></html>`
	p, err := FromHTML("/p", raw, htmlOpts())
	require.NoError(t, err)
	assert.Nil(t, p.Weight)
	assert.False(t, p.NoIndex)
}

func TestCodeBlockPreserved(t *testing.T) {
	raw := `<html><body><main><pre><code class="language-go">fmt.Println("hi")</code></pre></main></body></html>`
	p, err := FromHTML("/p", raw, htmlOpts())
	require.NoError(t, err)
	assert.Contains(t, p.Markdown, "```go")
	assert.Contains(t, p.Markdown, `fmt.Println("hi")`)
}

func TestTableConverted(t *testing.T) {
	raw := `<html><body><main><table><tr><th>A</th><th>B</th></tr><tr><td>1</td><td>2</td></tr></table></main></body></html>`
	p, err := FromHTML("/p", raw, htmlOpts())
	require.NoError(t, err)
	assert.Contains(t, p.Markdown, "| A | B |")
	assert.Contains(t, p.Markdown, "| 1 | 2 |")
}

func TestEmptyMainDropsPage(t *testing.T) {
	raw := `<html><body><main></main></body></html>`
	p, err := FromHTML("/p", raw, htmlOpts())
	require.NoError(t, err)
	assert.True(t, p.NoIndex)
}

func TestFromMarkdownFrontmatter(t *testing.T) {
	raw := "---\ntitle: FM Title\ndescription: a page\n---\n# Heading\nbody text\n"
	p, err := FromMarkdown("/docs/x", raw, "")
	require.NoError(t, err)
	assert.Equal(t, "FM Title", p.Title)
	assert.Equal(t, "a page", p.Description)
	assert.False(t, p.NoIndex)
	assert.NotContains(t, p.Markdown, "FM Title")
	assert.Contains(t, p.Markdown, "# Heading")
}

func TestFromMarkdownNoindexFrontmatter(t *testing.T) {
	p, err := FromMarkdown("/x", "---\nnoindex: true\n---\nbody\n", "")
	require.NoError(t, err)
	assert.True(t, p.NoIndex)
}

func TestFromMarkdownWeightZero(t *testing.T) {
	p, err := FromMarkdown("/x", "---\nsearchsocket:\n  weight: 0\n---\nbody\n", "")
	require.NoError(t, err)
	assert.True(t, p.NoIndex)
}

func TestFromMarkdownNoindexComment(t *testing.T) {
	p, err := FromMarkdown("/x", "intro\n<!-- noindex -->\nmore\n", "")
	require.NoError(t, err)
	assert.True(t, p.NoIndex)
}

func TestNoindexCommentInsideFenceIgnored(t *testing.T) {
	p, err := FromMarkdown("/x", "intro\n```\n<!-- noindex -->\n```\nmore\n", "")
	require.NoError(t, err)
	assert.False(t, p.NoIndex)
}

func TestFromMarkdownTitleOverride(t *testing.T) {
	p, err := FromMarkdown("/x", "---\ntitle: FM\n---\nbody", "Override")
	require.NoError(t, err)
	assert.Equal(t, "Override", p.Title)
}

func TestFromMarkdownTitleFromURL(t *testing.T) {
	p, err := FromMarkdown("/docs/getting-started", "body", "")
	require.NoError(t, err)
	assert.Equal(t, "getting-started", p.Title)
}

func TestFromMarkdownEmptyDropped(t *testing.T) {
	p, err := FromMarkdown("/x", "   \n", "")
	require.NoError(t, err)
	assert.True(t, p.NoIndex)
}

func TestStripSvelteMarkup(t *testing.T) {
	src := `<script>let x = 1;</script>
<h1>Hello {name}</h1>
<p>Static text</p>
<style>.a { color: red }</style>`
	out := StripSvelteMarkup(src)
	assert.Contains(t, out, "Hello")
	assert.Contains(t, out, "Static text")
	assert.NotContains(t, out, "let x")
	assert.NotContains(t, out, "color")
	assert.NotContains(t, out, "{name}")
}
