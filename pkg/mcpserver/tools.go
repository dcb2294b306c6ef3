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
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kadirpekel/searchsocket/pkg/search"
	"github.com/kadirpekel/searchsocket/pkg/sserr"
	"github.com/kadirpekel/searchsocket/pkg/vector"
)

// Tools bundles the search engine behind the MCP tool set.
type Tools struct {
	engine    *search.Engine
	store     vector.Store
	projectID string
}

// NewTools creates the tool set for one project.
func NewTools(engine *search.Engine, store vector.Store, projectID string) *Tools {
	return &Tools{engine: engine, store: store, projectID: projectID}
}

// Register adds all tools to an MCP server. Registration is composable
// so tests can register against their own server instances.
func (t *Tools) Register(s *server.MCPServer) {
	s.AddTool(searchToolSpec(), t.handleSearch)
	s.AddTool(getPageToolSpec(), t.handleGetPage)
	s.AddTool(listScopesToolSpec(), t.handleListScopes)
}

func searchToolSpec() mcp.Tool {
	return mcp.NewTool(
		"search",
		mcp.WithDescription("Semantic search over the indexed documentation site. Returns chunks ranked by relevance, optionally grouped by page."),
		mcp.WithString("q",
			mcp.Required(),
			mcp.Description("Natural language search query")),
		mcp.WithNumber("topK",
			mcp.Description("Maximum number of results to return")),
		mcp.WithString("scope",
			mcp.Description("Scope name to search; defaults to the resolved scope")),
		mcp.WithString("pathPrefix",
			mcp.Description("Restrict results to pages under this path prefix (e.g. '/docs')")),
		mcp.WithArray("tags",
			mcp.Description("Filter results to pages carrying ALL of these tags")),
		mcp.WithBoolean("rerank",
			mcp.Description("Rescore candidates with the configured reranker")),
		mcp.WithReadOnlyHintAnnotation(true),
	)
}

func getPageToolSpec() mcp.Tool {
	return mcp.NewTool(
		"get_page",
		mcp.WithDescription("Fetch the full markdown of one indexed page by path or URL."),
		mcp.WithString("path",
			mcp.Required(),
			mcp.Description("Page path or URL (e.g. '/docs/setup')")),
		mcp.WithString("scope",
			mcp.Description("Scope name; defaults to the resolved scope")),
		mcp.WithReadOnlyHintAnnotation(true),
	)
}

func listScopesToolSpec() mcp.Tool {
	return mcp.NewTool(
		"list_scopes",
		mcp.WithDescription("List the indexed scopes of this project with page and chunk counts."),
		mcp.WithReadOnlyHintAnnotation(true),
	)
}

func (t *Tools) handleSearch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, errResult := toolArguments(request)
	if errResult != nil {
		return errResult, nil
	}

	req := search.Request{}
	q, _ := args["q"].(string)
	if q == "" {
		return mcp.NewToolResultError("q parameter is required"), nil
	}
	req.Q = q
	if topK, ok := args["topK"].(float64); ok {
		req.TopK = int(topK)
	}
	req.Scope, _ = args["scope"].(string)
	req.PathPrefix, _ = args["pathPrefix"].(string)
	req.Rerank, _ = args["rerank"].(bool)
	if tags, ok := args["tags"].([]any); ok {
		for _, tag := range tags {
			if s, ok := tag.(string); ok {
				req.Tags = append(req.Tags, s)
			}
		}
	}

	resp, err := t.engine.Search(ctx, req)
	if err != nil {
		return toolError(err)
	}
	return marshalToolResponse(resp)
}

func (t *Tools) handleGetPage(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, errResult := toolArguments(request)
	if errResult != nil {
		return errResult, nil
	}

	path, _ := args["path"].(string)
	if path == "" {
		return mcp.NewToolResultError("path parameter is required"), nil
	}
	scopeName, _ := args["scope"].(string)

	page, err := t.engine.GetPage(ctx, path, scopeName)
	if err != nil {
		return toolError(err)
	}
	return marshalToolResponse(page)
}

func (t *Tools) handleListScopes(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	scopes, err := t.store.ListScopes(ctx, t.projectID)
	if err != nil {
		return toolError(err)
	}
	return marshalToolResponse(map[string]any{
		"projectId": t.projectID,
		"scopes":    scopes,
	})
}

// toolArguments validates and extracts the arguments map from a tool
// request.
func toolArguments(request mcp.CallToolRequest) (map[string]any, *mcp.CallToolResult) {
	args, ok := request.Params.Arguments.(map[string]any)
	if !ok {
		return nil, mcp.NewToolResultError("invalid arguments format")
	}
	return args, nil
}

// toolError maps request-level failures onto error results the client
// model can read; everything else surfaces as a system error.
func toolError(err error) (*mcp.CallToolResult, error) {
	if sserr.IsCode(err, sserr.CodeInvalidRequest) {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return nil, err
}

// marshalToolResponse returns a response object as a JSON text result,
// the mcp-go convention.
func marshalToolResponse(response any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(response)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal response: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}
