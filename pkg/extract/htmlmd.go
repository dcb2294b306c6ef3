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
	"regexp"
	"strings"

	"golang.org/x/net/html"

	"github.com/kadirpekel/searchsocket/pkg/textutil"
)

// Converter turns an HTML subtree into markdown. The built-in converter
// covers the common documentation element set; callers can plug their own.
type Converter interface {
	Convert(n *html.Node) (string, error)
}

// ConvertOptions configures the built-in converter.
type ConvertOptions struct {
	PreserveCodeBlocks bool
	PreserveTables     bool
}

// markdownConverter is the built-in GFM-flavored converter.
type markdownConverter struct {
	opts ConvertOptions
}

// NewMarkdownConverter creates the built-in HTML to markdown converter.
func NewMarkdownConverter(opts ConvertOptions) Converter {
	return &markdownConverter{opts: opts}
}

var blankLinesRe = regexp.MustCompile(`\n{3,}`)

func (c *markdownConverter) Convert(n *html.Node) (string, error) {
	var b strings.Builder
	c.walkChildren(&b, n, "")
	out := blankLinesRe.ReplaceAllString(b.String(), "\n\n")
	return strings.TrimSpace(out), nil
}

func (c *markdownConverter) walkChildren(b *strings.Builder, n *html.Node, listPrefix string) {
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		c.walk(b, child, listPrefix)
	}
}

func (c *markdownConverter) walk(b *strings.Builder, n *html.Node, listPrefix string) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(collapseInline(n.Data))
		return
	case html.ElementNode:
	default:
		return
	}

	switch n.Data {
	case "h1", "h2", "h3", "h4", "h5", "h6":
		level := int(n.Data[1] - '0')
		b.WriteString("\n\n" + strings.Repeat("#", level) + " " + inlineText(n) + "\n\n")
	case "p", "div", "section", "article", "main", "body":
		b.WriteString("\n\n")
		c.walkChildren(b, n, listPrefix)
		b.WriteString("\n\n")
	case "br":
		b.WriteString("\n")
	case "hr":
		b.WriteString("\n\n---\n\n")
	case "pre":
		c.writePre(b, n)
	case "code":
		b.WriteString("`" + inlineText(n) + "`")
	case "blockquote":
		c.writeBlockquote(b, n)
	case "ul":
		b.WriteString("\n\n")
		c.writeList(b, n, "- ")
		b.WriteString("\n")
	case "ol":
		b.WriteString("\n\n")
		c.writeList(b, n, "1. ")
		b.WriteString("\n")
	case "table":
		c.writeTable(b, n)
	case "a":
		text := inlineText(n)
		href := attrVal(n, "href")
		if text == "" {
			return
		}
		if href == "" {
			b.WriteString(text)
			return
		}
		fmt.Fprintf(b, "[%s](%s)", text, href)
	case "img":
		if alt := attrVal(n, "alt"); alt != "" {
			fmt.Fprintf(b, "![%s](%s)", alt, attrVal(n, "src"))
		}
	case "strong", "b":
		if t := inlineText(n); t != "" {
			b.WriteString("**" + t + "**")
		}
	case "em", "i":
		if t := inlineText(n); t != "" {
			b.WriteString("*" + t + "*")
		}
	case "head", "script", "style", "template":
		// Skipped entirely.
	default:
		c.walkChildren(b, n, listPrefix)
	}
}

func (c *markdownConverter) writePre(b *strings.Builder, n *html.Node) {
	code := findFirst(n, isElement("code"))
	text := elementText(n)
	if code != nil {
		text = elementText(code)
	}
	text = strings.Trim(text, "\n")
	if !c.opts.PreserveCodeBlocks {
		b.WriteString("\n\n" + text + "\n\n")
		return
	}
	lang := ""
	if code != nil {
		for _, cls := range strings.Fields(attrVal(code, "class")) {
			if strings.HasPrefix(cls, "language-") {
				lang = strings.TrimPrefix(cls, "language-")
				break
			}
		}
	}
	b.WriteString("\n\n```" + lang + "\n" + text + "\n```\n\n")
}

func (c *markdownConverter) writeBlockquote(b *strings.Builder, n *html.Node) {
	var inner strings.Builder
	c.walkChildren(&inner, n, "")
	b.WriteString("\n\n")
	for _, line := range strings.Split(strings.TrimSpace(inner.String()), "\n") {
		b.WriteString("> " + strings.TrimSpace(line) + "\n")
	}
	b.WriteString("\n")
}

func (c *markdownConverter) writeList(b *strings.Builder, n *html.Node, marker string) {
	for li := n.FirstChild; li != nil; li = li.NextSibling {
		if li.Type != html.ElementNode || li.Data != "li" {
			continue
		}
		var inner strings.Builder
		c.walkChildren(&inner, li, marker)
		b.WriteString(marker + textutil.Normalize(inner.String()) + "\n")
	}
}

func (c *markdownConverter) writeTable(b *strings.Builder, n *html.Node) {
	var rows [][]string
	var collect func(*html.Node)
	collect = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "tr" {
			var cells []string
			for td := n.FirstChild; td != nil; td = td.NextSibling {
				if td.Type == html.ElementNode && (td.Data == "td" || td.Data == "th") {
					cells = append(cells, textutil.Normalize(elementText(td)))
				}
			}
			if len(cells) > 0 {
				rows = append(rows, cells)
			}
			return
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			collect(child)
		}
	}
	collect(n)
	if len(rows) == 0 {
		return
	}

	b.WriteString("\n\n")
	if !c.opts.PreserveTables {
		for _, row := range rows {
			b.WriteString(strings.Join(row, " ") + "\n")
		}
		b.WriteString("\n")
		return
	}
	for i, row := range rows {
		b.WriteString("| " + strings.Join(row, " | ") + " |\n")
		if i == 0 {
			sep := make([]string, len(row))
			for j := range sep {
				sep[j] = "---"
			}
			b.WriteString("| " + strings.Join(sep, " | ") + " |\n")
		}
	}
	b.WriteString("\n")
}

func inlineText(n *html.Node) string {
	return textutil.Normalize(elementText(n))
}

// collapseInline collapses runs of whitespace in a text node to one space
// without trimming, so adjacent inline elements keep their separation.
func collapseInline(s string) string {
	if strings.TrimSpace(s) == "" {
		return " "
	}
	leading := s[0] == ' ' || s[0] == '\n' || s[0] == '\t'
	trailing := s[len(s)-1] == ' ' || s[len(s)-1] == '\n' || s[len(s)-1] == '\t'
	out := textutil.Normalize(s)
	if leading {
		out = " " + out
	}
	if trailing {
		out += " "
	}
	return out
}
