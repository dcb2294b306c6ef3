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

// Package urlutil canonicalizes URL paths and maps filesystem layouts to
// URL space. Every URL that enters the index goes through NormalizePath,
// which is idempotent: normalize(normalize(p)) == normalize(p).
package urlutil

import (
	"net/url"
	"path"
	"strings"
)

// NormalizePath canonicalizes a URL path: leading slash, collapsed slashes,
// no trailing slash except for the root, query and fragment dropped.
func NormalizePath(p string) string {
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	p = path.Clean(p)
	if p == "." || p == "" {
		return "/"
	}
	if p != "/" {
		p = strings.TrimSuffix(p, "/")
	}
	return p
}

// PathOf extracts the canonical path from a full URL or a bare path.
func PathOf(raw string) string {
	if strings.Contains(raw, "://") {
		if u, err := url.Parse(raw); err == nil {
			return NormalizePath(u.Path)
		}
	}
	return NormalizePath(raw)
}

// Depth returns the number of non-empty slash-separated segments.
func Depth(p string) int {
	p = NormalizePath(p)
	if p == "/" {
		return 0
	}
	return len(strings.Split(strings.Trim(p, "/"), "/"))
}

// FirstSegment returns the first path segment, or "" for the root.
func FirstSegment(p string) string {
	p = NormalizePath(p)
	if p == "/" {
		return ""
	}
	seg := strings.Trim(p, "/")
	if i := strings.IndexByte(seg, '/'); i >= 0 {
		seg = seg[:i]
	}
	return seg
}

// StaticHTMLFileToURL maps a file under a static output directory to its
// URL path: "docs/index.html" -> "/docs", "about.html" -> "/about",
// "index.html" -> "/".
func StaticHTMLFileToURL(rel string) string {
	rel = strings.TrimPrefix(strings.ReplaceAll(rel, "\\", "/"), "/")
	rel = strings.TrimSuffix(rel, ".html")
	if rel == "index" {
		return "/"
	}
	rel = strings.TrimSuffix(rel, "/index")
	return NormalizePath("/" + rel)
}

// ContentFileSegment maps a single routes-tree segment to its URL form:
// layout groups "(...)" are dropped (empty return), rest params "[...x]"
// become "splat", optional params "[[x]]" become "optional" and plain
// params "[x]" become "param".
func ContentFileSegment(seg string) string {
	switch {
	case strings.HasPrefix(seg, "(") && strings.HasSuffix(seg, ")"):
		return ""
	case strings.HasPrefix(seg, "[...") && strings.HasSuffix(seg, "]"):
		return "splat"
	case strings.HasPrefix(seg, "[[") && strings.HasSuffix(seg, "]]"):
		return "optional"
	case strings.HasPrefix(seg, "[") && strings.HasSuffix(seg, "]"):
		return "param"
	default:
		return seg
	}
}

// ContentFileToURL maps a content file path relative to the content base
// directory to a URL path. The file extension is dropped, route segments
// are mapped via ContentFileSegment and a trailing "/index" (or
// "/+page") collapses to the parent path.
func ContentFileToURL(rel string) string {
	rel = strings.ReplaceAll(rel, "\\", "/")
	if i := strings.LastIndexByte(rel, '.'); i > strings.LastIndexByte(rel, '/') {
		rel = rel[:i]
	}
	parts := strings.Split(strings.Trim(rel, "/"), "/")
	mapped := make([]string, 0, len(parts))
	for _, seg := range parts {
		if seg == "" {
			continue
		}
		m := ContentFileSegment(seg)
		if m == "" {
			continue
		}
		mapped = append(mapped, m)
	}
	if n := len(mapped); n > 0 && (mapped[n-1] == "index" || mapped[n-1] == "+page") {
		mapped = mapped[:n-1]
	}
	return NormalizePath("/" + strings.Join(mapped, "/"))
}

// ResolveHref resolves an href against the page it appears on and returns
// the canonical path, or "" when the link should be ignored (fragments,
// mailto/tel, non-http(s) schemes, cross-origin absolute links).
func ResolveHref(pageURL, href, origin string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return ""
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if u.Scheme != "" && u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	if u.Host != "" {
		if origin == "" {
			return ""
		}
		o, err := url.Parse(origin)
		if err != nil || u.Host != o.Host {
			return ""
		}
		return NormalizePath(u.Path)
	}
	if strings.HasPrefix(u.Path, "/") {
		return NormalizePath(u.Path)
	}
	base := NormalizePath(pageURL)
	return NormalizePath(path.Join(path.Dir(base), u.Path))
}
