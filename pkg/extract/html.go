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
	"fmt"
	"math"
	"strconv"
	"strings"

	"golang.org/x/net/html"

	"github.com/kadirpekel/searchsocket/pkg/textutil"
	"github.com/kadirpekel/searchsocket/pkg/urlutil"
)

// FromHTML extracts a page from raw HTML.
func FromHTML(url, rawHTML string, opts Options) (*Page, error) {
	opts.SetDefaults()

	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML for %s: %w", url, err)
	}

	page := &Page{URL: urlutil.NormalizePath(url)}

	// Page-level drop signals first: robots noindex and the noindex attr
	// anywhere in the document fail closed.
	if opts.RespectRobotsNoindex {
		if robots := metaContent(doc, "robots"); strings.Contains(strings.ToLower(robots), "noindex") {
			page.NoIndex = true
		}
	}
	if opts.NoIndexAttr != "" && findFirst(doc, func(n *html.Node) bool {
		return n.Type == html.ElementNode && hasAttr(n, opts.NoIndexAttr)
	}) != nil {
		page.NoIndex = true
	}

	page.Description = metaContent(doc, "description")
	page.Keywords = metaContent(doc, "keywords")
	if w, ok := pageWeight(doc); ok {
		page.Weight = &w
	}

	main := selectMain(doc, opts.MainSelector)

	// Title precedence: og:title, first h1 in main, twitter:title,
	// document title, URL.
	page.Title = textutil.FirstNonEmpty(
		metaProperty(doc, "og:title"),
		firstHeadingText(main),
		metaContent(doc, "twitter:title"),
		elementText(findFirst(doc, isElement("title"))),
		titleFromURL(url),
	)

	prune(main, opts)
	page.OutgoingLinks = collectLinks(main, page.URL, opts.Origin)

	conv := opts.Converter
	if conv == nil {
		conv = NewMarkdownConverter(ConvertOptions{
			PreserveCodeBlocks: opts.PreserveCodeBlocks,
			PreserveTables:     opts.PreserveTables,
		})
	}
	md, err := conv.Convert(main)
	if err != nil {
		return nil, fmt.Errorf("failed to convert %s to markdown: %w", url, err)
	}
	page.Markdown = md

	return finalize(page), nil
}

func isElement(tag string) func(*html.Node) bool {
	return func(n *html.Node) bool {
		return n.Type == html.ElementNode && n.Data == tag
	}
}

func findFirst(n *html.Node, match func(*html.Node) bool) *html.Node {
	if match(n) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findFirst(c, match); found != nil {
			return found
		}
	}
	return nil
}

func attrVal(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if a.Key == key {
			return true
		}
	}
	return false
}

func metaContent(doc *html.Node, name string) string {
	meta := findFirst(doc, func(n *html.Node) bool {
		return n.Type == html.ElementNode && n.Data == "meta" &&
			strings.EqualFold(attrVal(n, "name"), name)
	})
	if meta == nil {
		return ""
	}
	return strings.TrimSpace(attrVal(meta, "content"))
}

func metaProperty(doc *html.Node, property string) string {
	meta := findFirst(doc, func(n *html.Node) bool {
		return n.Type == html.ElementNode && n.Data == "meta" &&
			strings.EqualFold(attrVal(n, "property"), property)
	})
	if meta == nil {
		return ""
	}
	return strings.TrimSpace(attrVal(meta, "content"))
}

// pageWeight reads the searchsocket-weight meta. Negative or non-finite
// values are ignored.
func pageWeight(doc *html.Node) (float64, bool) {
	meta := findFirst(doc, func(n *html.Node) bool {
		return n.Type == html.ElementNode && n.Data == "meta" &&
			strings.EqualFold(attrVal(n, "name"), WeightMetaName)
	})
	if meta == nil {
		return 0, false
	}
	raw := textutil.FirstNonEmpty(attrVal(meta, "value"), attrVal(meta, "content"))
	w, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(w) || math.IsInf(w, 0) || w < 0 {
		return 0, false
	}
	return w, true
}

func selectMain(doc *html.Node, selector string) *html.Node {
	if sel, err := parseSelectorList(selector); err == nil {
		if n := findFirst(doc, sel.matches); n != nil {
			return n
		}
	}
	if body := findFirst(doc, isElement("body")); body != nil {
		return body
	}
	return doc
}

func firstHeadingText(root *html.Node) string {
	h1 := findFirst(root, isElement("h1"))
	if h1 == nil {
		return ""
	}
	return textutil.Normalize(elementText(h1))
}

func elementText(n *html.Node) string {
	if n == nil {
		return ""
	}
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

// prune removes dropTags, dropSelectors and ignoreAttr elements in place.
func prune(root *html.Node, opts Options) {
	dropTag := make(map[string]bool, len(opts.DropTags))
	for _, t := range opts.DropTags {
		dropTag[strings.ToLower(t)] = true
	}
	var selectors []selectorList
	for _, s := range opts.DropSelectors {
		if sel, err := parseSelectorList(s); err == nil {
			selectors = append(selectors, sel)
		}
	}

	shouldDrop := func(n *html.Node) bool {
		if n.Type != html.ElementNode {
			return false
		}
		if dropTag[n.Data] {
			return true
		}
		if opts.IgnoreAttr != "" && hasAttr(n, opts.IgnoreAttr) {
			return true
		}
		for _, sel := range selectors {
			if sel.matches(n) {
				return true
			}
		}
		return false
	}

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		c := n.FirstChild
		for c != nil {
			next := c.NextSibling
			if shouldDrop(c) {
				n.RemoveChild(c)
			} else {
				walk(c)
			}
			c = next
		}
	}
	walk(root)
}

func collectLinks(root *html.Node, pageURL, origin string) []string {
	seen := make(map[string]bool)
	var links []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			if href := attrVal(n, "href"); href != "" {
				if resolved := urlutil.ResolveHref(pageURL, href, origin); resolved != "" && !seen[resolved] {
					seen[resolved] = true
					links = append(links, resolved)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	if links == nil {
		links = []string{}
	}
	return links
}
