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

// Package vector stores and queries chunk embeddings behind a pluggable
// Store interface. All operations are scoped by (projectId, scopeName);
// records with the same id in different scopes are independent.
package vector

import (
	"context"
	"math"
	"sort"
	"strings"

	"github.com/kadirpekel/searchsocket/pkg/scope"
	"github.com/kadirpekel/searchsocket/pkg/urlutil"
)

// Batching limits shared by all adapters.
const (
	UpsertBatchSize = 100
	DeleteBatchSize = 100
	WritePoolSize   = 4
	ListPageSize    = 1000
)

// MaxDirBuckets is the number of directory-bucket metadata fields
// (dir0..dir5) populated on upsert for adapters without native prefix
// filters.
const MaxDirBuckets = 6

// Well-known metadata keys every record carries.
const (
	MetaURL         = "url"
	MetaPath        = "path"
	MetaTitle       = "title"
	MetaSection     = "sectionTitle"
	MetaHeadingPath = "headingPath"
	MetaChunkText   = "chunkText"
	MetaSnippet     = "snippet"
	MetaOrdinal     = "ordinal"
	MetaDepth       = "depth"
	MetaIncoming    = "incomingLinks"
	MetaRouteFile   = "routeFile"
	MetaTags        = "tags"
	MetaContentHash = "contentHash"
	MetaDescription = "description"
	MetaKeywords    = "keywords"
	MetaModelID     = "modelId"
	MetaProjectID   = "projectId"
	MetaScopeName   = "scopeName"
)

// Record is one stored chunk embedding.
type Record struct {
	ID       string
	Vector   []float32
	Metadata map[string]any
}

// Hit is one query result. Score is cosine similarity in [-1, 1].
type Hit struct {
	ID       string
	Score    float32
	Metadata map[string]any
}

// QueryOptions filters a query. PathPrefix matches when the record path
// equals the prefix or starts with prefix + "/". Tags is an AND filter.
type QueryOptions struct {
	TopK       int
	PathPrefix string
	Tags       []string
}

// ScopeInfo is one registry row, upserted by (projectId, scopeName).
type ScopeInfo struct {
	ProjectID                 string  `json:"projectId"`
	ScopeName                 string  `json:"scopeName"`
	ModelID                   string  `json:"modelId"`
	LastIndexedAt             string  `json:"lastIndexedAt"`
	VectorCount               int     `json:"vectorCount,omitempty"`
	LastEstimateTokens        int     `json:"lastEstimateTokens,omitempty"`
	LastEstimateCostUSD       float64 `json:"lastEstimateCostUsd,omitempty"`
	LastEstimateChangedChunks int     `json:"lastEstimateChangedChunks,omitempty"`
}

// Store is the vector backend contract. Upserts are idempotent on id;
// DeleteScope removes records and the registry entry; GetContentHashes
// is the sole input to change detection.
type Store interface {
	Upsert(ctx context.Context, sc scope.Scope, records []Record) error
	Query(ctx context.Context, sc scope.Scope, vec []float32, opts QueryOptions) ([]Hit, error)
	DeleteByIDs(ctx context.Context, sc scope.Scope, ids []string) error
	DeleteScope(ctx context.Context, sc scope.Scope) error
	ListScopes(ctx context.Context, projectID string) ([]ScopeInfo, error)
	RecordScope(ctx context.Context, info ScopeInfo) error
	GetContentHashes(ctx context.Context, sc scope.Scope) (map[string]string, error)
	Health(ctx context.Context) error
	Close() error
}

// DirBuckets returns the ancestor-path buckets for a record path:
// "/a/b/c" -> ["/a", "/a/b", "/a/b/c"], capped at MaxDirBuckets.
func DirBuckets(path string) []string {
	path = urlutil.NormalizePath(path)
	if path == "/" {
		return nil
	}
	segs := strings.Split(strings.Trim(path, "/"), "/")
	if len(segs) > MaxDirBuckets {
		segs = segs[:MaxDirBuckets]
	}
	buckets := make([]string, len(segs))
	cur := ""
	for i, seg := range segs {
		cur += "/" + seg
		buckets[i] = cur
	}
	return buckets
}

// DirBucketKey is the metadata key for bucket i.
func DirBucketKey(i int) string {
	return "dir" + string(rune('0'+i))
}

// SetDirBuckets populates dir0..dirN metadata from the record path.
func SetDirBuckets(md map[string]any, path string) {
	for i, b := range DirBuckets(path) {
		md[DirBucketKey(i)] = b
	}
}

// DirBucketFilter returns the single equality predicate (key, value)
// that implements a pathPrefix filter over bucket fields, or ok=false
// when the prefix does not fit in the bucketed depth.
func DirBucketFilter(prefix string) (key, value string, ok bool) {
	prefix = urlutil.NormalizePath(strings.TrimSuffix(prefix, "/"))
	if prefix == "/" {
		return "", "", false
	}
	depth := urlutil.Depth(prefix)
	if depth > MaxDirBuckets {
		return "", "", false
	}
	return DirBucketKey(depth - 1), prefix, true
}

// Cosine computes cosine similarity between two vectors. Mismatched or
// zero-norm inputs score 0.
func Cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

// MatchPathPrefix reports whether path equals prefix (trailing slash
// trimmed) or starts with prefix + "/".
func MatchPathPrefix(path, prefix string) bool {
	if prefix == "" {
		return true
	}
	prefix = strings.TrimSuffix(prefix, "/")
	if prefix == "" {
		return true
	}
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

// MatchTags reports whether the record tags contain every wanted tag.
func MatchTags(recordTags []string, wanted []string) bool {
	if len(wanted) == 0 {
		return true
	}
	have := make(map[string]bool, len(recordTags))
	for _, t := range recordTags {
		have[t] = true
	}
	for _, t := range wanted {
		if !have[t] {
			return false
		}
	}
	return true
}

// MetadataTags extracts the tags list from record metadata, accepting
// []string or []any as adapters round-trip through JSON.
func MetadataTags(md map[string]any) []string {
	switch v := md[MetaTags].(type) {
	case []string:
		return v
	case []any:
		tags := make([]string, 0, len(v))
		for _, t := range v {
			if s, ok := t.(string); ok {
				tags = append(tags, s)
			}
		}
		return tags
	case string:
		if v == "" {
			return nil
		}
		return strings.Split(v, ",")
	default:
		return nil
	}
}

// MetadataString extracts a string metadata field.
func MetadataString(md map[string]any, key string) string {
	if s, ok := md[key].(string); ok {
		return s
	}
	return ""
}

// FilterHits applies query filters to candidate hits, sorts by
// descending score and truncates to topK. Used by adapters that filter
// client-side.
func FilterHits(hits []Hit, opts QueryOptions) []Hit {
	out := hits[:0:0]
	for _, h := range hits {
		if !MatchPathPrefix(MetadataString(h.Metadata, MetaPath), opts.PathPrefix) {
			continue
		}
		if !MatchTags(MetadataTags(h.Metadata), opts.Tags) {
			continue
		}
		out = append(out, h)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if opts.TopK > 0 && len(out) > opts.TopK {
		out = out[:opts.TopK]
	}
	return out
}

// Batches splits items into contiguous slices of at most size.
func Batches[T any](items []T, size int) [][]T {
	if size <= 0 {
		size = len(items)
	}
	var out [][]T
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		out = append(out, items[start:end])
	}
	return out
}
