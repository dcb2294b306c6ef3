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

package vector

import (
	"context"
	"encoding/json"

	"github.com/pinecone-io/go-pinecone/pinecone"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/kadirpekel/searchsocket/pkg/scope"
	"github.com/kadirpekel/searchsocket/pkg/sserr"
)

// pineconeRegistryNamespace holds one placeholder vector per scope,
// carrying the ScopeInfo row as metadata.
const pineconeRegistryNamespace = "__registry__"

// PineconeConfig configures the Pinecone adapter.
type PineconeConfig struct {
	APIKey    string `yaml:"apiKey"`
	APIKeyEnv string `yaml:"apiKeyEnv"`
	IndexName string `yaml:"indexName"`
}

// PineconeStore maps scopes to Pinecone namespaces within one index.
type PineconeStore struct {
	client    *pinecone.Client
	indexName string
	host      string
	dimension int
}

// NewPineconeStore creates a Pinecone adapter. The index must already
// exist; its host and dimension are resolved once up front.
func NewPineconeStore(ctx context.Context, cfg PineconeConfig, apiKey string) (*PineconeStore, error) {
	if apiKey == "" {
		return nil, sserr.New(sserr.CodeConfigMissing, "pinecone API key is required")
	}
	if cfg.IndexName == "" {
		return nil, sserr.New(sserr.CodeConfigMissing, "vector.pinecone.indexName is required")
	}
	client, err := pinecone.NewClient(pinecone.NewClientParams{ApiKey: apiKey})
	if err != nil {
		return nil, sserr.Wrap(sserr.CodeVectorUnavailable, err, "failed to create pinecone client")
	}
	index, err := client.DescribeIndex(ctx, cfg.IndexName)
	if err != nil {
		return nil, sserr.Wrap(sserr.CodeVectorUnavailable, err, "failed to describe pinecone index %s", cfg.IndexName)
	}
	return &PineconeStore{
		client:    client,
		indexName: cfg.IndexName,
		host:      index.Host,
		dimension: int(index.Dimension),
	}, nil
}

// conn opens an index connection bound to a namespace.
func (s *PineconeStore) conn(namespace string) (*pinecone.IndexConnection, error) {
	indexConn, err := s.client.Index(pinecone.NewIndexConnParams{Host: s.host, Namespace: namespace})
	if err != nil {
		return nil, sserr.Wrap(sserr.CodeVectorUnavailable, err, "failed to connect to pinecone index")
	}
	return indexConn, nil
}

// Upsert writes records into the scope's namespace.
func (s *PineconeStore) Upsert(ctx context.Context, sc scope.Scope, records []Record) error {
	indexConn, err := s.conn(sc.ID())
	if err != nil {
		return err
	}
	defer indexConn.Close()

	for _, batch := range Batches(records, UpsertBatchSize) {
		vectors := make([]*pinecone.Vector, 0, len(batch))
		for _, r := range batch {
			md, err := structpbMetadata(r.Metadata)
			if err != nil {
				return sserr.Wrap(sserr.CodeInternal, err, "failed to convert metadata for %s", r.ID)
			}
			vectors = append(vectors, &pinecone.Vector{Id: r.ID, Values: r.Vector, Metadata: md})
		}
		if _, err := indexConn.UpsertVectors(ctx, vectors); err != nil {
			return sserr.Wrap(sserr.CodeVectorUnavailable, err, "failed to upsert %d vectors", len(batch))
		}
	}
	return nil
}

// Query searches the scope's namespace. Path prefixes map to a
// directory-bucket equality predicate; tag filters AND one $in
// condition per tag under $and.
func (s *PineconeStore) Query(ctx context.Context, sc scope.Scope, vec []float32, opts QueryOptions) ([]Hit, error) {
	indexConn, err := s.conn(sc.ID())
	if err != nil {
		return nil, err
	}
	defer indexConn.Close()

	filter := pineconeQueryFilter(opts)
	var metadataFilter *pinecone.MetadataFilter
	if filter != nil {
		metadataFilter, err = structpb.NewStruct(filter)
		if err != nil {
			return nil, sserr.Wrap(sserr.CodeInternal, err, "failed to convert query filter")
		}
	}

	resp, err := indexConn.QueryByVectorValues(ctx, &pinecone.QueryByVectorValuesRequest{
		Vector:          vec,
		TopK:            uint32(opts.TopK),
		MetadataFilter:  metadataFilter,
		IncludeMetadata: true,
	})
	if err != nil {
		return nil, sserr.Wrap(sserr.CodeVectorUnavailable, err, "pinecone query failed")
	}

	hits := make([]Hit, 0, len(resp.Matches))
	for _, m := range resp.Matches {
		if m.Vector == nil {
			continue
		}
		md := map[string]any{}
		if m.Vector.Metadata != nil {
			md = m.Vector.Metadata.AsMap()
		}
		hits = append(hits, Hit{ID: m.Vector.Id, Score: m.Score, Metadata: md})
	}
	// The server-side filter is the full predicate; the re-check also
	// enforces the exact path-prefix match the dir bucket approximates.
	return FilterHits(hits, opts), nil
}

// pineconeQueryFilter builds the metadata predicate: the dir-bucket
// equality and one $in per tag, joined with $and when there is more
// than one condition. Returns nil for an unfiltered query.
func pineconeQueryFilter(opts QueryOptions) map[string]any {
	var conditions []any
	if key, value, ok := DirBucketFilter(opts.PathPrefix); ok {
		conditions = append(conditions, map[string]any{key: value})
	}
	for _, tag := range opts.Tags {
		conditions = append(conditions, map[string]any{MetaTags: map[string]any{"$in": []any{tag}}})
	}
	switch len(conditions) {
	case 0:
		return nil
	case 1:
		return conditions[0].(map[string]any)
	default:
		return map[string]any{"$and": conditions}
	}
}

// DeleteByIDs removes vectors from the scope's namespace.
func (s *PineconeStore) DeleteByIDs(ctx context.Context, sc scope.Scope, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	indexConn, err := s.conn(sc.ID())
	if err != nil {
		return err
	}
	defer indexConn.Close()

	for _, batch := range Batches(ids, DeleteBatchSize) {
		if err := indexConn.DeleteVectorsById(ctx, batch); err != nil {
			return sserr.Wrap(sserr.CodeVectorUnavailable, err, "failed to delete %d vectors", len(batch))
		}
	}
	return nil
}

// DeleteScope wipes the namespace and removes the registry entry.
func (s *PineconeStore) DeleteScope(ctx context.Context, sc scope.Scope) error {
	indexConn, err := s.conn(sc.ID())
	if err != nil {
		return err
	}
	if err := indexConn.DeleteAllVectorsInNamespace(ctx); err != nil {
		indexConn.Close()
		return sserr.Wrap(sserr.CodeVectorUnavailable, err, "failed to clear namespace %s", sc.ID())
	}
	indexConn.Close()

	regConn, err := s.conn(pineconeRegistryNamespace)
	if err != nil {
		return err
	}
	defer regConn.Close()
	if err := regConn.DeleteVectorsById(ctx, []string{sc.ID()}); err != nil {
		return sserr.Wrap(sserr.CodeVectorUnavailable, err, "failed to delete registry entry for %s", sc.ID())
	}
	return nil
}

// ListScopes reads registry rows for a project.
func (s *PineconeStore) ListScopes(ctx context.Context, projectID string) ([]ScopeInfo, error) {
	regConn, err := s.conn(pineconeRegistryNamespace)
	if err != nil {
		return nil, err
	}
	defer regConn.Close()

	infos := make([]ScopeInfo, 0)
	var token *string
	for {
		limit := uint32(100)
		resp, err := regConn.ListVectors(ctx, &pinecone.ListVectorsRequest{Limit: &limit, PaginationToken: token})
		if err != nil {
			return nil, sserr.Wrap(sserr.CodeVectorUnavailable, err, "failed to list registry entries")
		}
		ids := make([]string, 0, len(resp.VectorIds))
		for _, id := range resp.VectorIds {
			if id != nil {
				ids = append(ids, *id)
			}
		}
		if len(ids) > 0 {
			fetched, err := regConn.FetchVectors(ctx, ids)
			if err != nil {
				return nil, sserr.Wrap(sserr.CodeVectorUnavailable, err, "failed to fetch registry entries")
			}
			for _, v := range fetched.Vectors {
				if v == nil || v.Metadata == nil {
					continue
				}
				info := scopeInfoFromMap(v.Metadata.AsMap())
				if info.ProjectID == projectID {
					infos = append(infos, info)
				}
			}
		}
		if resp.NextPaginationToken == nil || *resp.NextPaginationToken == "" {
			return infos, nil
		}
		token = resp.NextPaginationToken
	}
}

// RecordScope upserts the registry placeholder vector for the scope.
func (s *PineconeStore) RecordScope(ctx context.Context, info ScopeInfo) error {
	regConn, err := s.conn(pineconeRegistryNamespace)
	if err != nil {
		return err
	}
	defer regConn.Close()

	md, err := structpbMetadata(scopeInfoToMap(info))
	if err != nil {
		return sserr.Wrap(sserr.CodeInternal, err, "failed to convert scope info")
	}
	// The registry vector is a placeholder; only its metadata matters.
	placeholder := make([]float32, s.dimension)
	placeholder[0] = 1
	_, err = regConn.UpsertVectors(ctx, []*pinecone.Vector{{
		Id:       info.ProjectID + ":" + info.ScopeName,
		Values:   placeholder,
		Metadata: md,
	}})
	if err != nil {
		return sserr.Wrap(sserr.CodeVectorUnavailable, err, "failed to record scope %s:%s", info.ProjectID, info.ScopeName)
	}
	return nil
}

// GetContentHashes pages through the namespace and reads contentHash
// metadata per vector.
func (s *PineconeStore) GetContentHashes(ctx context.Context, sc scope.Scope) (map[string]string, error) {
	indexConn, err := s.conn(sc.ID())
	if err != nil {
		return nil, err
	}
	defer indexConn.Close()

	out := map[string]string{}
	var token *string
	for {
		limit := uint32(100)
		resp, err := indexConn.ListVectors(ctx, &pinecone.ListVectorsRequest{Limit: &limit, PaginationToken: token})
		if err != nil {
			return nil, sserr.Wrap(sserr.CodeVectorUnavailable, err, "failed to list vectors for %s", sc.ID())
		}
		ids := make([]string, 0, len(resp.VectorIds))
		for _, id := range resp.VectorIds {
			if id != nil {
				ids = append(ids, *id)
			}
		}
		if len(ids) > 0 {
			fetched, err := indexConn.FetchVectors(ctx, ids)
			if err != nil {
				return nil, sserr.Wrap(sserr.CodeVectorUnavailable, err, "failed to fetch vectors for %s", sc.ID())
			}
			for id, v := range fetched.Vectors {
				if v == nil || v.Metadata == nil {
					continue
				}
				out[id] = MetadataString(v.Metadata.AsMap(), MetaContentHash)
			}
		}
		if resp.NextPaginationToken == nil || *resp.NextPaginationToken == "" {
			return out, nil
		}
		token = resp.NextPaginationToken
	}
}

// Health verifies the index is describable.
func (s *PineconeStore) Health(ctx context.Context) error {
	if _, err := s.client.DescribeIndex(ctx, s.indexName); err != nil {
		return sserr.Wrap(sserr.CodeVectorUnavailable, err, "pinecone index %s unavailable", s.indexName)
	}
	return nil
}

// Close is a no-op; the client holds no persistent connection.
func (s *PineconeStore) Close() error { return nil }

// structpbMetadata converts record metadata to a protobuf struct,
// normalizing types structpb cannot represent directly.
func structpbMetadata(md map[string]any) (*structpb.Struct, error) {
	norm := make(map[string]any, len(md))
	for k, v := range md {
		switch val := v.(type) {
		case []string:
			items := make([]any, len(val))
			for i, s := range val {
				items[i] = s
			}
			norm[k] = items
		case int:
			norm[k] = float64(val)
		default:
			norm[k] = v
		}
	}
	return structpb.NewStruct(norm)
}

// scopeInfoToMap flattens a ScopeInfo for metadata storage.
func scopeInfoToMap(info ScopeInfo) map[string]any {
	raw, _ := json.Marshal(info)
	var out map[string]any
	_ = json.Unmarshal(raw, &out)
	return out
}

// scopeInfoFromMap reads a ScopeInfo back from metadata.
func scopeInfoFromMap(md map[string]any) ScopeInfo {
	raw, _ := json.Marshal(md)
	var info ScopeInfo
	_ = json.Unmarshal(raw, &info)
	return info
}

var _ Store = (*PineconeStore)(nil)
