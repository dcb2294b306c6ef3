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

// Package embedder turns text into vectors. Providers batch requests,
// bound concurrency and preserve input order across both.
package embedder

import (
	"context"
	"os"

	"github.com/kadirpekel/searchsocket/pkg/sserr"
)

// Embedding task identifiers. Passages are indexed with TaskPassage;
// the single query embedding uses TaskQuery.
const (
	TaskPassage = "retrieval.passage"
	TaskQuery   = "retrieval.query"
)

// Supported providers.
const (
	ProviderJina   = "jina"
	ProviderOpenAI = "openai"
)

// Embedder converts texts to vector embeddings. Output order matches
// input order.
type Embedder interface {
	EmbedTexts(ctx context.Context, texts []string, task string) ([][]float32, error)
	Model() string
	Dimension() int
	Close() error
}

// Config configures an embeddings provider.
type Config struct {
	Provider    string `yaml:"provider"`
	Model       string `yaml:"model"`
	APIKey      string `yaml:"apiKey"`
	APIKeyEnv   string `yaml:"apiKeyEnv"`
	BaseURL     string `yaml:"baseUrl"`
	Dimension   int    `yaml:"dimension"`
	BatchSize   int    `yaml:"batchSize"`
	Concurrency int    `yaml:"concurrency"`
	MaxRetries  int    `yaml:"maxRetries"`
	Timeout     int    `yaml:"timeout"`
}

// SetDefaults sets default values for Config.
func (c *Config) SetDefaults() {
	if c.Provider == "" {
		c.Provider = ProviderJina
	}
	if c.BatchSize == 0 {
		c.BatchSize = 64
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 4
	}
	if c.Timeout <= 0 {
		c.Timeout = 30
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.BatchSize <= 0 {
		return sserr.New(sserr.CodeConfigMissing, "embeddings.batchSize must be positive, got %d", c.BatchSize)
	}
	return nil
}

// resolveAPIKey returns the literal key or reads the configured env var.
func (c *Config) resolveAPIKey() (string, error) {
	if c.APIKey != "" {
		return c.APIKey, nil
	}
	if c.APIKeyEnv != "" {
		if key := os.Getenv(c.APIKeyEnv); key != "" {
			return key, nil
		}
		return "", sserr.New(sserr.CodeConfigMissing, "embeddings API key env %s is empty", c.APIKeyEnv)
	}
	return "", sserr.New(sserr.CodeConfigMissing, "embeddings provider %s requires an API key", c.Provider)
}
