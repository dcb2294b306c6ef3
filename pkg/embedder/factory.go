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
	"log/slog"

	"github.com/kadirpekel/searchsocket/pkg/sserr"
)

// New creates an Embedder from configuration.
func New(cfg Config, logger *slog.Logger) (Embedder, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	apiKey, err := cfg.resolveAPIKey()
	if err != nil {
		return nil, err
	}
	switch cfg.Provider {
	case ProviderJina:
		return NewJinaEmbedder(cfg, apiKey, logger)
	case ProviderOpenAI:
		return NewOpenAIEmbedder(cfg, apiKey, logger)
	default:
		return nil, sserr.New(sserr.CodeConfigMissing, "unsupported embeddings provider: %s (supported: jina, openai)", cfg.Provider)
	}
}
