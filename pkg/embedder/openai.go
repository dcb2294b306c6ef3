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

package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/kadirpekel/searchsocket/pkg/sserr"
)

const (
	openaiDefaultBaseURL = "https://api.openai.com/v1"
	openaiDefaultModel   = "text-embedding-3-small"
)

// OpenAIEmbedder implements Embedder using OpenAI's embeddings API. The
// API has no task parameter, so the task hint is ignored.
type OpenAIEmbedder struct {
	client      *http.Client
	logger      *slog.Logger
	apiKey      string
	baseURL     string
	model       string
	dimension   int
	batchSize   int
	concurrency int
	maxRetries  int
}

type openaiRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions *int     `json:"dimensions,omitempty"`
}

type openaiResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// NewOpenAIEmbedder creates an OpenAI embedder. The batch size must be
// positive.
func NewOpenAIEmbedder(cfg Config, apiKey string, logger *slog.Logger) (*OpenAIEmbedder, error) {
	if cfg.BatchSize <= 0 {
		return nil, sserr.New(sserr.CodeConfigMissing, "embeddings.batchSize must be positive, got %d", cfg.BatchSize)
	}
	model := cfg.Model
	if model == "" {
		model = openaiDefaultModel
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = openaiDefaultBaseURL
	}
	dimension := cfg.Dimension
	if dimension == 0 {
		switch model {
		case "text-embedding-3-large":
			dimension = 3072
		default:
			dimension = 1536
		}
	}
	return &OpenAIEmbedder{
		client:      &http.Client{Timeout: time.Duration(cfg.Timeout) * time.Second},
		logger:      logger,
		apiKey:      apiKey,
		baseURL:     baseURL,
		model:       model,
		dimension:   dimension,
		batchSize:   cfg.BatchSize,
		concurrency: cfg.Concurrency,
		maxRetries:  cfg.MaxRetries,
	}, nil
}

// EmbedTexts embeds texts in order-preserving batches.
func (e *OpenAIEmbedder) EmbedTexts(ctx context.Context, texts []string, _ string) ([][]float32, error) {
	vecs, err := embedBatches(ctx, texts, e.batchSize, e.concurrency, func(ctx context.Context, batch []string) ([][]float32, error) {
		var out [][]float32
		err := WithRetry(ctx, e.maxRetries, e.logger, "openai embed", func() error {
			var err error
			out, err = e.embedBatch(ctx, batch)
			return err
		})
		return out, err
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, sserr.Wrap(sserr.CodeCancelled, err, "embedding cancelled")
		}
		return nil, sserr.Wrap(sserr.CodeEmbeddingFailed, err, "openai embeddings failed")
	}
	return vecs, nil
}

func (e *OpenAIEmbedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	req := openaiRequest{Model: e.model, Input: texts}
	// The dimensions parameter only applies to text-embedding-3 models.
	if e.dimension > 0 && (e.model == "text-embedding-3-small" || e.model == "text-embedding-3-large") {
		req.Dimensions = &e.dimension
	}
	reqBody, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embeddings", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request to OpenAI: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Status: resp.StatusCode, Body: string(body)}
	}

	var response openaiResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	embeddings := make([][]float32, len(texts))
	for _, item := range response.Data {
		if item.Index >= 0 && item.Index < len(embeddings) {
			embeddings[item.Index] = item.Embedding
		}
	}
	for i, v := range embeddings {
		if v == nil {
			return nil, fmt.Errorf("missing embedding for input %d", i)
		}
	}
	return embeddings, nil
}

// Model returns the model name being used.
func (e *OpenAIEmbedder) Model() string { return e.model }

// Dimension returns the embedding vector dimension.
func (e *OpenAIEmbedder) Dimension() int { return e.dimension }

// Close releases any resources.
func (e *OpenAIEmbedder) Close() error { return nil }

var _ Embedder = (*OpenAIEmbedder)(nil)
