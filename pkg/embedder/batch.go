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
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// embedBatches splits texts into batches of batchSize, runs at most
// concurrency batches in flight and reassembles results in input order.
func embedBatches(ctx context.Context, texts []string, batchSize, concurrency int, fn func(ctx context.Context, batch []string) ([][]float32, error)) ([][]float32, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	type span struct{ start, end int }
	var spans []span
	for start := 0; start < len(texts); start += batchSize {
		end := start + batchSize
		if end > len(texts) {
			end = len(texts)
		}
		spans = append(spans, span{start, end})
	}

	results := make([][][]float32, len(spans))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, s := range spans {
		g.Go(func() error {
			vecs, err := fn(gctx, texts[s.start:s.end])
			if err != nil {
				return err
			}
			if len(vecs) != s.end-s.start {
				return fmt.Errorf("provider returned %d embeddings for %d texts", len(vecs), s.end-s.start)
			}
			results[i] = vecs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([][]float32, 0, len(texts))
	for _, batch := range results {
		out = append(out, batch...)
	}
	return out, nil
}
