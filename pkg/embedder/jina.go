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
	jinaDefaultBaseURL = "https://api.jina.ai/v1"
	jinaDefaultModel   = "jina-embeddings-v3"
)

// JinaEmbedder implements Embedder using the Jina embeddings API.
type JinaEmbedder struct {
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

type jinaRequest struct {
	Model string   `json:"model"`
	Task  string   `json:"task,omitempty"`
	Input []string `json:"input"`
}

type jinaResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// NewJinaEmbedder creates a Jina embedder. The batch size must be
// positive.
func NewJinaEmbedder(cfg Config, apiKey string, logger *slog.Logger) (*JinaEmbedder, error) {
	if cfg.BatchSize <= 0 {
		return nil, sserr.New(sserr.CodeConfigMissing, "embeddings.batchSize must be positive, got %d", cfg.BatchSize)
	}
	model := cfg.Model
	if model == "" {
		model = jinaDefaultModel
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = jinaDefaultBaseURL
	}
	dimension := cfg.Dimension
	if dimension == 0 {
		dimension = 1024
	}
	return &JinaEmbedder{
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
func (e *JinaEmbedder) EmbedTexts(ctx context.Context, texts []string, task string) ([][]float32, error) {
	if task == "" {
		task = TaskPassage
	}
	vecs, err := embedBatches(ctx, texts, e.batchSize, e.concurrency, func(ctx context.Context, batch []string) ([][]float32, error) {
		var out [][]float32
		err := WithRetry(ctx, e.maxRetries, e.logger, "jina embed", func() error {
			var err error
			out, err = e.embedBatch(ctx, batch, task)
			return err
		})
		return out, err
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, sserr.Wrap(sserr.CodeCancelled, err, "embedding cancelled")
		}
		return nil, sserr.Wrap(sserr.CodeEmbeddingFailed, err, "jina embeddings failed")
	}
	return vecs, nil
}

func (e *JinaEmbedder) embedBatch(ctx context.Context, texts []string, task string) ([][]float32, error) {
	reqBody, err := json.Marshal(jinaRequest{Model: e.model, Task: task, Input: texts})
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
		return nil, fmt.Errorf("failed to send request to Jina: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Status: resp.StatusCode, Body: string(body)}
	}

	var response jinaResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	// Entries carry an index; reassemble in input order.
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
func (e *JinaEmbedder) Model() string { return e.model }

// Dimension returns the embedding vector dimension.
func (e *JinaEmbedder) Dimension() int { return e.dimension }

// Close releases any resources.
func (e *JinaEmbedder) Close() error { return nil }

var _ Embedder = (*JinaEmbedder)(nil)
