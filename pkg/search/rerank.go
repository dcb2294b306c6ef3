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

package search

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/kadirpekel/searchsocket/pkg/config"
	"github.com/kadirpekel/searchsocket/pkg/embedder"
	"github.com/kadirpekel/searchsocket/pkg/sserr"
)

// Candidate is one document sent to the reranker.
type Candidate struct {
	ID   string
	Text string
}

// RankedDoc is one rescored document, sorted by descending score.
type RankedDoc struct {
	ID    string
	Score float32
}

// Reranker rescores a candidate set against a query.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []Candidate, topN int) ([]RankedDoc, error)
	Close() error
}

const jinaRerankURL = "https://api.jina.ai/v1/rerank"

// JinaReranker talks to the Jina rerank API with the same retry policy
// as the embedders.
type JinaReranker struct {
	model      string
	apiKey     string
	baseURL    string
	maxRetries int
	client     *http.Client
	logger     *slog.Logger
}

// NewJinaReranker creates a reranker from the rerank config section.
func NewJinaReranker(cfg config.RerankConfig, logger *slog.Logger) (*JinaReranker, error) {
	apiKey := cfg.APIKey
	if apiKey == "" && cfg.APIKeyEnv != "" {
		apiKey = os.Getenv(cfg.APIKeyEnv)
	}
	if apiKey == "" {
		return nil, sserr.New(sserr.CodeConfigMissing, "rerank provider jina requires an API key")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = jinaRerankURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &JinaReranker{
		model:      cfg.Model,
		apiKey:     apiKey,
		baseURL:    baseURL,
		maxRetries: cfg.MaxRetries,
		client:     &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}, nil
}

type jinaRerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n,omitempty"`
}

type jinaRerankResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float32 `json:"relevance_score"`
	} `json:"results"`
}

// Rerank rescores candidates. Results referencing indices outside the
// candidate set are dropped; a malformed payload is an error.
func (r *JinaReranker) Rerank(ctx context.Context, query string, candidates []Candidate, topN int) ([]RankedDoc, error) {
	if len(candidates) == 0 {
		return []RankedDoc{}, nil
	}

	docs := make([]string, len(candidates))
	for i, c := range candidates {
		docs[i] = c.Text
	}
	payload, err := json.Marshal(jinaRerankRequest{Model: r.model, Query: query, Documents: docs, TopN: topN})
	if err != nil {
		return nil, sserr.Wrap(sserr.CodeInternal, err, "failed to encode rerank request")
	}

	var parsed jinaRerankResponse
	err = embedder.WithRetry(ctx, r.maxRetries, r.logger, "rerank", func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+r.apiKey)

		resp, err := r.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if resp.StatusCode != http.StatusOK {
			return &embedder.StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
		}
		parsed = jinaRerankResponse{}
		return json.Unmarshal(body, &parsed)
	})
	if err != nil {
		return nil, sserr.Wrap(sserr.CodeRerankFailed, err, "rerank request failed")
	}

	ranked := make([]RankedDoc, 0, len(parsed.Results))
	for _, res := range parsed.Results {
		if res.Index < 0 || res.Index >= len(candidates) {
			continue
		}
		ranked = append(ranked, RankedDoc{ID: candidates[res.Index].ID, Score: res.RelevanceScore})
	}
	return ranked, nil
}

// Close is a no-op for the HTTP client.
func (r *JinaReranker) Close() error { return nil }

// NewReranker constructs the configured reranker, or nil for none.
func NewReranker(cfg config.RerankConfig, logger *slog.Logger) (Reranker, error) {
	switch cfg.Provider {
	case config.RerankNone, "":
		return nil, nil
	case config.RerankJina:
		return NewJinaReranker(cfg, logger)
	default:
		return nil, sserr.New(sserr.CodeConfigMissing, "unknown rerank.provider: %s", cfg.Provider)
	}
}
