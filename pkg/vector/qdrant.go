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
	"fmt"
	"strings"

	"github.com/qdrant/go-client/qdrant"

	"github.com/kadirpekel/searchsocket/pkg/hashutil"
	"github.com/kadirpekel/searchsocket/pkg/scope"
	"github.com/kadirpekel/searchsocket/pkg/sserr"
)

// qdrantRegistryCollection holds one point per scope carrying its
// ScopeInfo row as payload.
const qdrantRegistryCollection = "searchsocket_registry"

// QdrantConfig configures the Qdrant adapter.
type QdrantConfig struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	APIKey    string `yaml:"apiKey"`
	APIKeyEnv string `yaml:"apiKeyEnv"`
	UseTLS    bool   `yaml:"useTls"`
}

// QdrantStore maps each scope to its own Qdrant collection. Point ids
// must be UUIDs, so chunk keys are hashed into UUID form and the real
// id travels in the payload.
type QdrantStore struct {
	client    *qdrant.Client
	dimension int
}

// NewQdrantStore creates a Qdrant adapter.
func NewQdrantStore(cfg QdrantConfig, apiKey string, dimension int) (*QdrantStore, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: apiKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, sserr.Wrap(sserr.CodeVectorUnavailable, err, "failed to create qdrant client for %s:%d", cfg.Host, cfg.Port)
	}
	if dimension <= 0 {
		dimension = 1024
	}
	return &QdrantStore{client: client, dimension: dimension}, nil
}

// pointUUID derives a stable UUID from an arbitrary record id.
func pointUUID(id string) string {
	h := hashutil.SHA1Hex(id)
	return fmt.Sprintf("%s-%s-%s-%s-%s", h[0:8], h[8:12], h[12:16], h[16:20], h[20:32])
}

// scopeCollection maps a scope to its collection name.
func scopeCollection(sc scope.Scope) string {
	return "ss_" + strings.ReplaceAll(sc.ID(), ":", "_")
}

// ensureCollection creates a cosine collection if it does not exist.
func (s *QdrantStore) ensureCollection(ctx context.Context, name string, dim int) error {
	exists, err := s.client.CollectionExists(ctx, name)
	if err != nil {
		return sserr.Wrap(sserr.CodeVectorUnavailable, err, "failed to check collection %s", name)
	}
	if exists {
		return nil
	}
	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dim),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		return sserr.Wrap(sserr.CodeVectorUnavailable, err, "failed to create collection %s", name)
	}
	return nil
}

// qdrantPayload converts record metadata to a Qdrant payload.
func qdrantPayload(md map[string]any) (map[string]*qdrant.Value, error) {
	payload := make(map[string]*qdrant.Value, len(md))
	for key, value := range md {
		val, err := qdrant.NewValue(value)
		if err != nil {
			return nil, fmt.Errorf("failed to convert metadata value for key %s: %w", key, err)
		}
		payload[key] = val
	}
	return payload, nil
}

// Upsert writes records into the scope's collection.
func (s *QdrantStore) Upsert(ctx context.Context, sc scope.Scope, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	if err := s.ensureCollection(ctx, scopeCollection(sc), len(records[0].Vector)); err != nil {
		return err
	}
	for _, batch := range Batches(records, UpsertBatchSize) {
		points := make([]*qdrant.PointStruct, 0, len(batch))
		for _, r := range batch {
			md := make(map[string]any, len(r.Metadata)+1)
			for k, v := range r.Metadata {
				md[k] = v
			}
			md["id"] = r.ID
			payload, err := qdrantPayload(md)
			if err != nil {
				return sserr.Wrap(sserr.CodeInternal, err, "failed to convert metadata for %s", r.ID)
			}
			points = append(points, &qdrant.PointStruct{
				Id:      qdrant.NewID(pointUUID(r.ID)),
				Vectors: qdrant.NewVectors(r.Vector...),
				Payload: payload,
			})
		}
		if _, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: scopeCollection(sc),
			Points:         points,
		}); err != nil {
			return sserr.Wrap(sserr.CodeVectorUnavailable, err, "failed to upsert %d points", len(batch))
		}
	}
	return nil
}

// queryFilter builds the Must conditions for a query. Tag conditions
// match against the tags array, one condition per tag for AND
// semantics.
func queryFilter(opts QueryOptions) *qdrant.Filter {
	var conditions []*qdrant.Condition
	if key, value, ok := DirBucketFilter(opts.PathPrefix); ok {
		conditions = append(conditions, keywordCondition(key, value))
	}
	for _, tag := range opts.Tags {
		conditions = append(conditions, keywordCondition(MetaTags, tag))
	}
	if len(conditions) == 0 {
		return nil
	}
	return &qdrant.Filter{Must: conditions}
}

func keywordCondition(key, keyword string) *qdrant.Condition {
	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{
				Key: key,
				Match: &qdrant.Match{
					MatchValue: &qdrant.Match_Keyword{Keyword: keyword},
				},
			},
		},
	}
}

// Query searches the scope's collection.
func (s *QdrantStore) Query(ctx context.Context, sc scope.Scope, vec []float32, opts QueryOptions) ([]Hit, error) {
	exists, err := s.client.CollectionExists(ctx, scopeCollection(sc))
	if err != nil {
		return nil, sserr.Wrap(sserr.CodeVectorUnavailable, err, "failed to check collection for %s", sc.ID())
	}
	if !exists {
		return []Hit{}, nil
	}

	searchRequest := &qdrant.SearchPoints{
		CollectionName: scopeCollection(sc),
		Vector:         vec,
		Limit:          uint64(opts.TopK),
		WithPayload:    qdrant.NewWithPayload(true),
		Filter:         queryFilter(opts),
	}
	searchResult, err := s.client.GetPointsClient().Search(ctx, searchRequest)
	if err != nil {
		return nil, sserr.Wrap(sserr.CodeVectorUnavailable, err, "qdrant query failed")
	}

	hits := make([]Hit, 0, len(searchResult.Result))
	for _, point := range searchResult.Result {
		md := payloadToMap(point.Payload)
		id := MetadataString(md, "id")
		delete(md, "id")
		hits = append(hits, Hit{ID: id, Score: point.Score, Metadata: md})
	}
	return FilterHits(hits, opts), nil
}

// DeleteByIDs removes points by their derived UUIDs.
func (s *QdrantStore) DeleteByIDs(ctx context.Context, sc scope.Scope, ids []string) error {
	for _, batch := range Batches(ids, DeleteBatchSize) {
		pointIDs := make([]*qdrant.PointId, 0, len(batch))
		for _, id := range batch {
			pointIDs = append(pointIDs, qdrant.NewID(pointUUID(id)))
		}
		_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: scopeCollection(sc),
			Points: &qdrant.PointsSelector{
				PointsSelectorOneOf: &qdrant.PointsSelector_Points{
					Points: &qdrant.PointsIdsList{Ids: pointIDs},
				},
			},
		})
		if err != nil {
			return sserr.Wrap(sserr.CodeVectorUnavailable, err, "failed to delete %d points", len(batch))
		}
	}
	return nil
}

// DeleteScope drops the collection and the registry point.
func (s *QdrantStore) DeleteScope(ctx context.Context, sc scope.Scope) error {
	if err := s.client.DeleteCollection(ctx, scopeCollection(sc)); err != nil {
		return sserr.Wrap(sserr.CodeVectorUnavailable, err, "failed to delete collection for %s", sc.ID())
	}
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: qdrantRegistryCollection,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Points{
				Points: &qdrant.PointsIdsList{Ids: []*qdrant.PointId{qdrant.NewID(pointUUID(sc.ID()))}},
			},
		},
	})
	if err != nil && !strings.Contains(err.Error(), "doesn't exist") {
		return sserr.Wrap(sserr.CodeVectorUnavailable, err, "failed to delete registry entry for %s", sc.ID())
	}
	return nil
}

// ListScopes scrolls the registry collection.
func (s *QdrantStore) ListScopes(ctx context.Context, projectID string) ([]ScopeInfo, error) {
	exists, err := s.client.CollectionExists(ctx, qdrantRegistryCollection)
	if err != nil {
		return nil, sserr.Wrap(sserr.CodeVectorUnavailable, err, "failed to check registry collection")
	}
	if !exists {
		return []ScopeInfo{}, nil
	}

	infos := make([]ScopeInfo, 0)
	limit := uint32(ListPageSize)
	var offset *qdrant.PointId
	pc := s.client.GetPointsClient()
	for {
		resp, err := pc.Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: qdrantRegistryCollection,
			Limit:          &limit,
			Offset:         offset,
			WithPayload:    qdrant.NewWithPayload(true),
		})
		if err != nil {
			return nil, sserr.Wrap(sserr.CodeVectorUnavailable, err, "failed to scroll registry")
		}
		for _, point := range resp.Result {
			info := scopeInfoFromMap(payloadToMap(point.Payload))
			if info.ProjectID == projectID {
				infos = append(infos, info)
			}
		}
		if resp.NextPageOffset == nil {
			return infos, nil
		}
		offset = resp.NextPageOffset
	}
}

// RecordScope upserts the registry point for a scope.
func (s *QdrantStore) RecordScope(ctx context.Context, info ScopeInfo) error {
	if err := s.ensureCollection(ctx, qdrantRegistryCollection, 1); err != nil {
		return err
	}
	payload, err := qdrantPayload(scopeInfoToMap(info))
	if err != nil {
		return sserr.Wrap(sserr.CodeInternal, err, "failed to convert scope info")
	}
	scopeID := info.ProjectID + ":" + info.ScopeName
	_, err = s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: qdrantRegistryCollection,
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewID(pointUUID(scopeID)),
			Vectors: qdrant.NewVectors(1),
			Payload: payload,
		}},
	})
	if err != nil {
		return sserr.Wrap(sserr.CodeVectorUnavailable, err, "failed to record scope %s", scopeID)
	}
	return nil
}

// GetContentHashes scrolls the scope collection reading id and
// contentHash payload fields.
func (s *QdrantStore) GetContentHashes(ctx context.Context, sc scope.Scope) (map[string]string, error) {
	exists, err := s.client.CollectionExists(ctx, scopeCollection(sc))
	if err != nil {
		return nil, sserr.Wrap(sserr.CodeVectorUnavailable, err, "failed to check collection for %s", sc.ID())
	}
	out := map[string]string{}
	if !exists {
		return out, nil
	}

	limit := uint32(ListPageSize)
	var offset *qdrant.PointId
	pc := s.client.GetPointsClient()
	for {
		resp, err := pc.Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: scopeCollection(sc),
			Limit:          &limit,
			Offset:         offset,
			WithPayload:    qdrant.NewWithPayload(true),
		})
		if err != nil {
			return nil, sserr.Wrap(sserr.CodeVectorUnavailable, err, "failed to scroll %s", sc.ID())
		}
		for _, point := range resp.Result {
			md := payloadToMap(point.Payload)
			if id := MetadataString(md, "id"); id != "" {
				out[id] = MetadataString(md, MetaContentHash)
			}
		}
		if resp.NextPageOffset == nil {
			return out, nil
		}
		offset = resp.NextPageOffset
	}
}

// Health checks connectivity.
func (s *QdrantStore) Health(ctx context.Context) error {
	if _, err := s.client.HealthCheck(ctx); err != nil {
		return sserr.Wrap(sserr.CodeVectorUnavailable, err, "qdrant unavailable")
	}
	return nil
}

// Close closes the gRPC connection.
func (s *QdrantStore) Close() error { return s.client.Close() }

// payloadToMap lowers a Qdrant payload to plain metadata.
func payloadToMap(payload map[string]*qdrant.Value) map[string]any {
	md := make(map[string]any, len(payload))
	for key, value := range payload {
		md[key] = qdrantValueToAny(value)
	}
	return md
}

func qdrantValueToAny(value *qdrant.Value) any {
	if value == nil {
		return nil
	}
	switch v := value.Kind.(type) {
	case *qdrant.Value_StringValue:
		return v.StringValue
	case *qdrant.Value_IntegerValue:
		return v.IntegerValue
	case *qdrant.Value_DoubleValue:
		return v.DoubleValue
	case *qdrant.Value_BoolValue:
		return v.BoolValue
	case *qdrant.Value_ListValue:
		if v.ListValue == nil {
			return nil
		}
		list := make([]any, len(v.ListValue.Values))
		for i, item := range v.ListValue.Values {
			list[i] = qdrantValueToAny(item)
		}
		return list
	default:
		return nil
	}
}

var _ Store = (*QdrantStore)(nil)
