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

package mcpserver

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/searchsocket/pkg/config"
	"github.com/kadirpekel/searchsocket/pkg/scope"
	"github.com/kadirpekel/searchsocket/pkg/search"
	"github.com/kadirpekel/searchsocket/pkg/vector"
)

type stubStore struct {
	vector.Store

	hits   []vector.Hit
	scopes []vector.ScopeInfo
}

func (s *stubStore) Query(ctx context.Context, sc scope.Scope, vec []float32, opts vector.QueryOptions) ([]vector.Hit, error) {
	return s.hits, nil
}

func (s *stubStore) ListScopes(ctx context.Context, projectID string) ([]vector.ScopeInfo, error) {
	return s.scopes, nil
}

type stubEmbedder struct{}

func (stubEmbedder) EmbedTexts(ctx context.Context, texts []string, task string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

func (stubEmbedder) Model() string  { return "test-model" }
func (stubEmbedder) Dimension() int { return 2 }
func (stubEmbedder) Close() error   { return nil }

func testTools(t *testing.T, store *stubStore) *Tools {
	t.Helper()
	cfg := &config.Config{}
	cfg.SetDefaults()
	cfg.State.Dir = t.TempDir()
	engine := search.NewEngine(cfg, store, stubEmbedder{}, nil, scope.Scope{ProjectID: "proj", Name: "main"}, nil, "")
	return NewTools(engine, store, "proj")
}

func callRequest(args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{Arguments: args},
	}
}

func textContent(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	text, ok := mcp.AsTextContent(result.Content[0])
	require.True(t, ok, "expected text content")
	return text.Text
}

func TestSearchTool(t *testing.T) {
	store := &stubStore{hits: []vector.Hit{{
		ID:    "/docs/a#0",
		Score: 0.9,
		Metadata: map[string]any{
			vector.MetaURL:       "/docs/a",
			vector.MetaPath:      "/docs/a",
			vector.MetaTitle:     "A",
			vector.MetaSnippet:   "snippet",
			vector.MetaChunkText: "chunk",
			vector.MetaOrdinal:   0,
		},
	}}}
	tools := testTools(t, store)

	result, err := tools.handleSearch(context.Background(), callRequest(map[string]any{
		"q":    "setup",
		"topK": float64(3),
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	var resp search.Response
	require.NoError(t, json.Unmarshal([]byte(textContent(t, result)), &resp))
	assert.Equal(t, "setup", resp.Q)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "/docs/a", resp.Results[0].URL)
}

func TestSearchToolMissingQuery(t *testing.T) {
	tools := testTools(t, &stubStore{})

	result, err := tools.handleSearch(context.Background(), callRequest(map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestSearchToolInvalidArguments(t *testing.T) {
	tools := testTools(t, &stubStore{})

	result, err := tools.handleSearch(context.Background(), mcp.CallToolRequest{
		Params: mcp.CallToolParams{Arguments: "not a map"},
	})
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestGetPageToolNotFound(t *testing.T) {
	tools := testTools(t, &stubStore{})

	result, err := tools.handleGetPage(context.Background(), callRequest(map[string]any{
		"path": "/docs/missing",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestGetPageToolAssemblesChunks(t *testing.T) {
	store := &stubStore{hits: []vector.Hit{
		{
			ID:    "/docs/a#1",
			Score: 0.4,
			Metadata: map[string]any{
				vector.MetaURL:       "/docs/a",
				vector.MetaPath:      "/docs/a",
				vector.MetaTitle:     "A",
				vector.MetaChunkText: "second part",
				vector.MetaOrdinal:   1,
			},
		},
		{
			ID:    "/docs/a#0",
			Score: 0.9,
			Metadata: map[string]any{
				vector.MetaURL:       "/docs/a",
				vector.MetaPath:      "/docs/a",
				vector.MetaTitle:     "A",
				vector.MetaChunkText: "first part",
				vector.MetaOrdinal:   0,
			},
		},
	}}
	tools := testTools(t, store)

	result, err := tools.handleGetPage(context.Background(), callRequest(map[string]any{
		"path": "/docs/a",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var page search.PageRecord
	require.NoError(t, json.Unmarshal([]byte(textContent(t, result)), &page))
	assert.Equal(t, "/docs/a", page.URL)
	assert.Equal(t, "first part\n\nsecond part", page.Markdown)
	assert.Equal(t, "store", page.Source)
}

func TestListScopesTool(t *testing.T) {
	store := &stubStore{scopes: []vector.ScopeInfo{
		{ProjectID: "proj", ScopeName: "main", ModelID: "test-model"},
		{ProjectID: "proj", ScopeName: "pr-42", ModelID: "test-model"},
	}}
	tools := testTools(t, store)

	result, err := tools.handleListScopes(context.Background(), callRequest(nil))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var out struct {
		ProjectID string             `json:"projectId"`
		Scopes    []vector.ScopeInfo `json:"scopes"`
	}
	require.NoError(t, json.Unmarshal([]byte(textContent(t, result)), &out))
	assert.Equal(t, "proj", out.ProjectID)
	require.Len(t, out.Scopes, 2)
	assert.Equal(t, "pr-42", out.Scopes[1].ScopeName)
}
