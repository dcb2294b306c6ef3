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
	"strings"

	"golang.org/x/net/html"
)

// A deliberately small CSS selector subset: compound simple selectors
// ("tag.class#id[attr=value]") joined by commas. Combinators are not
// supported; extraction config in practice names a single element.

type simpleSelector struct {
	tag     string
	id      string
	classes []string
	attrs   map[string]string // value "" means presence check
}

type selectorList struct {
	selectors []simpleSelector
}

func parseSelectorList(raw string) (selectorList, error) {
	var list selectorList
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		sel, err := parseSimpleSelector(part)
		if err != nil {
			return selectorList{}, err
		}
		list.selectors = append(list.selectors, sel)
	}
	if len(list.selectors) == 0 {
		return selectorList{}, fmt.Errorf("empty selector %q", raw)
	}
	return list, nil
}

func parseSimpleSelector(raw string) (simpleSelector, error) {
	sel := simpleSelector{attrs: map[string]string{}}
	rest := raw
	// Leading tag name.
	i := strings.IndexAny(rest, ".#[")
	if i != 0 {
		if i < 0 {
			sel.tag = rest
			return sel, nil
		}
		sel.tag = rest[:i]
		rest = rest[i:]
	}
	for rest != "" {
		switch rest[0] {
		case '.':
			end := nextBoundary(rest[1:])
			sel.classes = append(sel.classes, rest[1:1+end])
			rest = rest[1+end:]
		case '#':
			end := nextBoundary(rest[1:])
			sel.id = rest[1 : 1+end]
			rest = rest[1+end:]
		case '[':
			close := strings.IndexByte(rest, ']')
			if close < 0 {
				return sel, fmt.Errorf("unterminated attribute selector in %q", raw)
			}
			body := rest[1:close]
			if eq := strings.IndexByte(body, '='); eq >= 0 {
				sel.attrs[body[:eq]] = strings.Trim(body[eq+1:], `"'`)
			} else {
				sel.attrs[body] = ""
			}
			rest = rest[close+1:]
		default:
			return sel, fmt.Errorf("unsupported selector syntax in %q", raw)
		}
	}
	return sel, nil
}

func nextBoundary(s string) int {
	if i := strings.IndexAny(s, ".#["); i >= 0 {
		return i
	}
	return len(s)
}

func (l selectorList) matches(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	for _, sel := range l.selectors {
		if sel.matches(n) {
			return true
		}
	}
	return false
}

func (s simpleSelector) matches(n *html.Node) bool {
	if s.tag != "" && !strings.EqualFold(n.Data, s.tag) {
		return false
	}
	if s.id != "" && attrVal(n, "id") != s.id {
		return false
	}
	if len(s.classes) > 0 {
		classes := strings.Fields(attrVal(n, "class"))
		have := make(map[string]bool, len(classes))
		for _, c := range classes {
			have[c] = true
		}
		for _, want := range s.classes {
			if !have[want] {
				return false
			}
		}
	}
	for k, v := range s.attrs {
		if !hasAttr(n, k) {
			return false
		}
		if v != "" && attrVal(n, k) != v {
			return false
		}
	}
	return true
}
