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
	"os"

	"github.com/kadirpekel/searchsocket/pkg/sserr"
)

// Provider identifies a vector backend.
type Provider string

const (
	ProviderLocal    Provider = "local"
	ProviderTurso    Provider = "turso"
	ProviderPinecone Provider = "pinecone"
	ProviderQdrant   Provider = "qdrant"
	ProviderMilvus   Provider = "milvus"
	ProviderUpstash  Provider = "upstash"
)

// Config selects and configures a vector backend.
type Config struct {
	Provider Provider `yaml:"provider"`

	// Dimension is a hint for adapters that must size placeholder
	// vectors before seeing any data.
	Dimension int `yaml:"dimension"`

	Local    LocalConfig    `yaml:"local"`
	Turso    TursoConfig    `yaml:"turso"`
	Pinecone PineconeConfig `yaml:"pinecone"`
	Qdrant   QdrantConfig   `yaml:"qdrant"`
	Milvus   MilvusConfig   `yaml:"milvus"`
	Upstash  UpstashConfig  `yaml:"upstash"`
}

// SetDefaults sets default values for Config.
func (c *Config) SetDefaults() {
	if c.Provider == "" {
		c.Provider = ProviderLocal
	}
	if c.Dimension == 0 {
		c.Dimension = 1024
	}
	c.Local.SetDefaults()
	c.Turso.SetDefaults()
	c.Milvus.SetDefaults()
	c.Upstash.SetDefaults()
}

// Validate checks provider-specific required fields.
func (c *Config) Validate() error {
	switch c.Provider {
	case ProviderLocal, ProviderTurso, ProviderQdrant, ProviderMilvus:
		return nil
	case ProviderPinecone:
		if c.Pinecone.IndexName == "" {
			return sserr.New(sserr.CodeConfigMissing, "vector.pinecone.indexName is required")
		}
		return nil
	case ProviderUpstash:
		if c.Upstash.URL == "" {
			return sserr.New(sserr.CodeConfigMissing, "vector.upstash.url is required")
		}
		return nil
	default:
		return sserr.New(sserr.CodeConfigMissing, "unknown vector provider: %s", c.Provider)
	}
}

// resolveSecret resolves a credential from a literal value or an
// environment variable name, literal winning.
func resolveSecret(literal, envName string) string {
	if literal != "" {
		return literal
	}
	if envName != "" {
		return os.Getenv(envName)
	}
	return ""
}

// New constructs the configured Store.
func New(ctx context.Context, cfg Config) (Store, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Provider {
	case ProviderLocal:
		return NewLocalStore(cfg.Local)
	case ProviderTurso:
		return NewTursoStore(cfg.Turso)
	case ProviderPinecone:
		return NewPineconeStore(ctx, cfg.Pinecone, resolveSecret(cfg.Pinecone.APIKey, cfg.Pinecone.APIKeyEnv))
	case ProviderQdrant:
		return NewQdrantStore(cfg.Qdrant, resolveSecret(cfg.Qdrant.APIKey, cfg.Qdrant.APIKeyEnv), cfg.Dimension)
	case ProviderMilvus:
		return NewMilvusStore(cfg.Milvus, resolveSecret(cfg.Milvus.APIKey, cfg.Milvus.APIKeyEnv)), nil
	case ProviderUpstash:
		return NewUpstashStore(cfg.Upstash, resolveSecret(cfg.Upstash.Token, cfg.Upstash.TokenEnv))
	default:
		return nil, sserr.New(sserr.CodeConfigMissing, "unknown vector provider: %s", cfg.Provider)
	}
}
