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
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/kadirpekel/searchsocket/pkg/scope"
	"github.com/kadirpekel/searchsocket/pkg/sserr"
)

// TursoConfig configures the SQLite-backed adapter (a Turso embedded
// replica or any local SQLite file).
type TursoConfig struct {
	Path string `yaml:"path"`
}

// SetDefaults sets default values for TursoConfig.
func (c *TursoConfig) SetDefaults() {
	if c.Path == "" {
		c.Path = ".searchsocket/turso.db"
	}
}

// TursoStore stores vectors as little-endian float32 BLOBs and computes
// cosine similarity at query time over the scope-filtered subset.
type TursoStore struct {
	db *sql.DB
}

const tursoSchema = `
CREATE TABLE IF NOT EXISTS chunks (
	scope_id     TEXT NOT NULL,
	id           TEXT NOT NULL,
	vector       BLOB NOT NULL,
	metadata     TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	path         TEXT NOT NULL,
	PRIMARY KEY (scope_id, id)
);
CREATE INDEX IF NOT EXISTS idx_chunks_scope_path ON chunks (scope_id, path);
CREATE TABLE IF NOT EXISTS scopes (
	project_id                   TEXT NOT NULL,
	scope_name                   TEXT NOT NULL,
	model_id                     TEXT NOT NULL DEFAULT '',
	last_indexed_at              TEXT NOT NULL DEFAULT '',
	vector_count                 INTEGER NOT NULL DEFAULT 0,
	last_estimate_tokens         INTEGER NOT NULL DEFAULT 0,
	last_estimate_cost_usd       REAL NOT NULL DEFAULT 0,
	last_estimate_changed_chunks INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (project_id, scope_name)
);
`

// NewTursoStore opens the database and ensures the schema.
func NewTursoStore(cfg TursoConfig) (*TursoStore, error) {
	cfg.SetDefaults()
	db, err := sql.Open("sqlite3", cfg.Path)
	if err != nil {
		return nil, sserr.Wrap(sserr.CodeVectorUnavailable, err, "failed to open turso db %s", cfg.Path)
	}
	if _, err := db.Exec(tursoSchema); err != nil {
		db.Close()
		return nil, sserr.Wrap(sserr.CodeVectorUnavailable, err, "failed to init turso schema")
	}
	return &TursoStore{db: db}, nil
}

// encodeVector packs a float32 slice into a little-endian BLOB.
func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// decodeVector unpacks a little-endian BLOB into floats.
func decodeVector(blob []byte) []float32 {
	vec := make([]float32, len(blob)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vec
}

// Upsert writes records in batched transactions.
func (s *TursoStore) Upsert(ctx context.Context, sc scope.Scope, records []Record) error {
	for _, batch := range Batches(records, UpsertBatchSize) {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return sserr.Wrap(sserr.CodeVectorUnavailable, err, "failed to begin upsert")
		}
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO chunks (scope_id, id, vector, metadata, content_hash, path)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (scope_id, id) DO UPDATE SET
				vector = excluded.vector,
				metadata = excluded.metadata,
				content_hash = excluded.content_hash,
				path = excluded.path`)
		if err != nil {
			tx.Rollback()
			return sserr.Wrap(sserr.CodeVectorUnavailable, err, "failed to prepare upsert")
		}
		for _, r := range batch {
			md, err := json.Marshal(r.Metadata)
			if err != nil {
				stmt.Close()
				tx.Rollback()
				return sserr.Wrap(sserr.CodeInternal, err, "failed to marshal metadata for %s", r.ID)
			}
			if _, err := stmt.ExecContext(ctx, sc.ID(), r.ID, encodeVector(r.Vector), string(md),
				MetadataString(r.Metadata, MetaContentHash), MetadataString(r.Metadata, MetaPath)); err != nil {
				stmt.Close()
				tx.Rollback()
				return sserr.Wrap(sserr.CodeVectorUnavailable, err, "failed to upsert %s", r.ID)
			}
		}
		stmt.Close()
		if err := tx.Commit(); err != nil {
			return sserr.Wrap(sserr.CodeVectorUnavailable, err, "failed to commit upsert")
		}
	}
	return nil
}

// Query scans the scope subset (path-prefiltered in SQL) and ranks by
// cosine similarity.
func (s *TursoStore) Query(ctx context.Context, sc scope.Scope, vec []float32, opts QueryOptions) ([]Hit, error) {
	query := `SELECT id, vector, metadata FROM chunks WHERE scope_id = ?`
	args := []any{sc.ID()}
	if prefix := strings.TrimSuffix(opts.PathPrefix, "/"); prefix != "" {
		query += ` AND (path = ? OR path LIKE ? ESCAPE '\')`
		args = append(args, prefix, likeEscape(prefix)+"/%")
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, sserr.Wrap(sserr.CodeVectorUnavailable, err, "turso query failed")
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var id string
		var blob []byte
		var mdJSON string
		if err := rows.Scan(&id, &blob, &mdJSON); err != nil {
			return nil, sserr.Wrap(sserr.CodeVectorUnavailable, err, "turso scan failed")
		}
		var md map[string]any
		if err := json.Unmarshal([]byte(mdJSON), &md); err != nil {
			continue
		}
		hits = append(hits, Hit{ID: id, Score: Cosine(vec, decodeVector(blob)), Metadata: md})
	}
	if err := rows.Err(); err != nil {
		return nil, sserr.Wrap(sserr.CodeVectorUnavailable, err, "turso rows failed")
	}
	return FilterHits(hits, opts), nil
}

// DeleteByIDs removes records in batches.
func (s *TursoStore) DeleteByIDs(ctx context.Context, sc scope.Scope, ids []string) error {
	for _, batch := range Batches(ids, DeleteBatchSize) {
		placeholders := strings.Repeat(",?", len(batch))[1:]
		args := make([]any, 0, len(batch)+1)
		args = append(args, sc.ID())
		for _, id := range batch {
			args = append(args, id)
		}
		if _, err := s.db.ExecContext(ctx,
			fmt.Sprintf(`DELETE FROM chunks WHERE scope_id = ? AND id IN (%s)`, placeholders), args...); err != nil {
			return sserr.Wrap(sserr.CodeVectorUnavailable, err, "failed to delete %d records", len(batch))
		}
	}
	return nil
}

// DeleteScope removes records and the registry row in one transaction.
func (s *TursoStore) DeleteScope(ctx context.Context, sc scope.Scope) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return sserr.Wrap(sserr.CodeVectorUnavailable, err, "failed to begin delete scope")
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE scope_id = ?`, sc.ID()); err != nil {
		tx.Rollback()
		return sserr.Wrap(sserr.CodeVectorUnavailable, err, "failed to delete chunks for %s", sc.ID())
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM scopes WHERE project_id = ? AND scope_name = ?`, sc.ProjectID, sc.Name); err != nil {
		tx.Rollback()
		return sserr.Wrap(sserr.CodeVectorUnavailable, err, "failed to delete registry row for %s", sc.ID())
	}
	if err := tx.Commit(); err != nil {
		return sserr.Wrap(sserr.CodeVectorUnavailable, err, "failed to commit delete scope")
	}
	return nil
}

// ListScopes returns registry rows for a project, paginated internally.
func (s *TursoStore) ListScopes(ctx context.Context, projectID string) ([]ScopeInfo, error) {
	infos := make([]ScopeInfo, 0)
	for offset := 0; ; offset += ListPageSize {
		rows, err := s.db.QueryContext(ctx, `
			SELECT project_id, scope_name, model_id, last_indexed_at, vector_count,
			       last_estimate_tokens, last_estimate_cost_usd, last_estimate_changed_chunks
			FROM scopes WHERE project_id = ?
			ORDER BY scope_name LIMIT ? OFFSET ?`, projectID, ListPageSize, offset)
		if err != nil {
			return nil, sserr.Wrap(sserr.CodeVectorUnavailable, err, "failed to list scopes")
		}
		n := 0
		for rows.Next() {
			var info ScopeInfo
			if err := rows.Scan(&info.ProjectID, &info.ScopeName, &info.ModelID, &info.LastIndexedAt,
				&info.VectorCount, &info.LastEstimateTokens, &info.LastEstimateCostUSD, &info.LastEstimateChangedChunks); err != nil {
				rows.Close()
				return nil, sserr.Wrap(sserr.CodeVectorUnavailable, err, "failed to scan scope row")
			}
			infos = append(infos, info)
			n++
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, sserr.Wrap(sserr.CodeVectorUnavailable, err, "failed to read scope rows")
		}
		rows.Close()
		if n < ListPageSize {
			return infos, nil
		}
	}
}

// RecordScope upserts a registry row.
func (s *TursoStore) RecordScope(ctx context.Context, info ScopeInfo) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scopes (project_id, scope_name, model_id, last_indexed_at, vector_count,
			last_estimate_tokens, last_estimate_cost_usd, last_estimate_changed_chunks)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (project_id, scope_name) DO UPDATE SET
			model_id = excluded.model_id,
			last_indexed_at = excluded.last_indexed_at,
			vector_count = excluded.vector_count,
			last_estimate_tokens = excluded.last_estimate_tokens,
			last_estimate_cost_usd = excluded.last_estimate_cost_usd,
			last_estimate_changed_chunks = excluded.last_estimate_changed_chunks`,
		info.ProjectID, info.ScopeName, info.ModelID, info.LastIndexedAt, info.VectorCount,
		info.LastEstimateTokens, info.LastEstimateCostUSD, info.LastEstimateChangedChunks)
	if err != nil {
		return sserr.Wrap(sserr.CodeVectorUnavailable, err, "failed to record scope %s:%s", info.ProjectID, info.ScopeName)
	}
	return nil
}

// GetContentHashes returns id -> contentHash for a scope.
func (s *TursoStore) GetContentHashes(ctx context.Context, sc scope.Scope) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, content_hash FROM chunks WHERE scope_id = ?`, sc.ID())
	if err != nil {
		return nil, sserr.Wrap(sserr.CodeVectorUnavailable, err, "failed to read content hashes")
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var id, hash string
		if err := rows.Scan(&id, &hash); err != nil {
			return nil, sserr.Wrap(sserr.CodeVectorUnavailable, err, "failed to scan content hash")
		}
		out[id] = hash
	}
	if err := rows.Err(); err != nil {
		return nil, sserr.Wrap(sserr.CodeVectorUnavailable, err, "failed to read content hash rows")
	}
	return out, nil
}

// Health pings the database.
func (s *TursoStore) Health(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return sserr.Wrap(sserr.CodeVectorUnavailable, err, "turso unavailable")
	}
	return nil
}

// Close closes the database handle.
func (s *TursoStore) Close() error { return s.db.Close() }

// likeEscape escapes LIKE wildcards in a literal prefix.
func likeEscape(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	return strings.ReplaceAll(s, `_`, `\_`)
}

var _ Store = (*TursoStore)(nil)
