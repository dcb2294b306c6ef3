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

// Package config loads searchsocket.yaml. Every section follows the
// SetDefaults/Validate convention; string values support ${ENV_VAR}
// expansion with ${ENV_VAR:-default} fallbacks, and a .env file next to
// the config is loaded first.
package config

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/kadirpekel/searchsocket/pkg/chunk"
	"github.com/kadirpekel/searchsocket/pkg/embedder"
	"github.com/kadirpekel/searchsocket/pkg/extract"
	"github.com/kadirpekel/searchsocket/pkg/scope"
	"github.com/kadirpekel/searchsocket/pkg/source"
	"github.com/kadirpekel/searchsocket/pkg/sserr"
	"github.com/kadirpekel/searchsocket/pkg/vector"
)

// DefaultFile is the config file name looked up in the working
// directory when no --config flag is given.
const DefaultFile = "searchsocket.yaml"

// ProjectConfig identifies the project namespace.
type ProjectConfig struct {
	ID string `yaml:"id"`
}

// ScopeConfig controls how the scope name is resolved per run.
type ScopeConfig struct {
	Mode     scope.Mode `yaml:"mode"`
	Fixed    string     `yaml:"fixed"`
	EnvVar   string     `yaml:"envVar"`
	Sanitize *bool      `yaml:"sanitize"`
}

// SetDefaults sets default values for ScopeConfig.
func (c *ScopeConfig) SetDefaults() {
	if c.Mode == "" {
		c.Mode = scope.ModeFixed
	}
	if c.Sanitize == nil {
		t := true
		c.Sanitize = &t
	}
}

// TransformConfig controls HTML to markdown conversion.
type TransformConfig struct {
	PreserveCodeBlocks *bool `yaml:"preserveCodeBlocks"`
	PreserveTables     *bool `yaml:"preserveTables"`
}

// SetDefaults sets default values for TransformConfig.
func (c *TransformConfig) SetDefaults() {
	if c.PreserveCodeBlocks == nil {
		t := true
		c.PreserveCodeBlocks = &t
	}
	if c.PreserveTables == nil {
		t := true
		c.PreserveTables = &t
	}
}

// Rerank providers.
const (
	RerankNone = "none"
	RerankJina = "jina"
)

// RerankConfig configures the second-stage reranker.
type RerankConfig struct {
	Provider        string `yaml:"provider"`
	Model           string `yaml:"model"`
	APIKey          string `yaml:"apiKey"`
	APIKeyEnv       string `yaml:"apiKeyEnv"`
	BaseURL         string `yaml:"baseUrl"`
	TopN            int    `yaml:"topN"`
	MaxDisplacement int    `yaml:"maxDisplacement"`
	MaxRetries      int    `yaml:"maxRetries"`
}

// SetDefaults sets default values for RerankConfig.
func (c *RerankConfig) SetDefaults() {
	if c.Provider == "" {
		c.Provider = RerankNone
	}
	if c.Model == "" {
		c.Model = "jina-reranker-v2-base-multilingual"
	}
	if c.APIKeyEnv == "" {
		c.APIKeyEnv = "JINA_API_KEY"
	}
	if c.TopN <= 0 {
		c.TopN = 20
	}
	if c.MaxDisplacement <= 0 {
		c.MaxDisplacement = 3
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 4
	}
}

// Enabled reports whether a reranker is configured.
func (c *RerankConfig) Enabled() bool {
	return c.Provider != "" && c.Provider != RerankNone
}

// RankingWeights are the linear factors mixed into the final score.
type RankingWeights struct {
	IncomingLinks float64 `yaml:"incomingLinks"`
	Depth         float64 `yaml:"depth"`
	Rerank        float64 `yaml:"rerank"`
}

// RankingConfig controls score boosts applied after recall.
type RankingConfig struct {
	EnableIncomingLinkBoost bool           `yaml:"enableIncomingLinkBoost"`
	EnableDepthBoost        bool           `yaml:"enableDepthBoost"`
	Weights                 RankingWeights `yaml:"weights"`
}

// SetDefaults sets default values for RankingConfig.
func (c *RankingConfig) SetDefaults() {
	if c.Weights.IncomingLinks == 0 {
		c.Weights.IncomingLinks = 0.01
	}
	if c.Weights.Depth == 0 {
		c.Weights.Depth = 0.01
	}
	if c.Weights.Rerank == 0 {
		c.Weights.Rerank = 1
	}
}

// SearchConfig sets search defaults.
type SearchConfig struct {
	TopK    int    `yaml:"topK"`
	GroupBy string `yaml:"groupBy"`
}

// SetDefaults sets default values for SearchConfig.
func (c *SearchConfig) SetDefaults() {
	if c.TopK <= 0 {
		c.TopK = 10
	}
	if c.GroupBy == "" {
		c.GroupBy = "chunk"
	}
}

// MCPHTTPConfig configures the MCP streamable HTTP transport.
type MCPHTTPConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}

// MCP transports.
const (
	TransportStdio = "stdio"
	TransportHTTP  = "http"
)

// MCPConfig configures the MCP server surface.
type MCPConfig struct {
	Enable    *bool         `yaml:"enable"`
	Transport string        `yaml:"transport"`
	HTTP      MCPHTTPConfig `yaml:"http"`
}

// SetDefaults sets default values for MCPConfig.
func (c *MCPConfig) SetDefaults() {
	if c.Enable == nil {
		t := true
		c.Enable = &t
	}
	if c.Transport == "" {
		c.Transport = TransportStdio
	}
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 8700
	}
	if c.HTTP.Path == "" {
		c.HTTP.Path = "/mcp"
	}
}

// StateConfig controls optional local artifacts.
type StateConfig struct {
	Dir    string `yaml:"dir"`
	Mirror bool   `yaml:"mirror"`
}

// SetDefaults sets default values for StateConfig.
func (c *StateConfig) SetDefaults() {
	if c.Dir == "" {
		c.Dir = ".searchsocket"
	}
}

// Config is the full searchsocket configuration.
type Config struct {
	Project    ProjectConfig   `yaml:"project"`
	Scope      ScopeConfig     `yaml:"scope"`
	Source     source.Config   `yaml:"source"`
	Extract    extract.Options `yaml:"extract"`
	Transform  TransformConfig `yaml:"transform"`
	Chunking   chunk.Config    `yaml:"chunking"`
	Embeddings embedder.Config `yaml:"embeddings"`
	Vector     vector.Config   `yaml:"vector"`
	Rerank     RerankConfig    `yaml:"rerank"`
	Ranking    RankingConfig   `yaml:"ranking"`
	Search     SearchConfig    `yaml:"search"`
	MCP        MCPConfig       `yaml:"mcp"`
	State      StateConfig     `yaml:"state"`
}

// SetDefaults sets default values for all sections and derives the
// extractor origin from the configured base URL.
func (c *Config) SetDefaults() {
	c.Scope.SetDefaults()
	c.Source.SetDefaults()
	c.Extract.SetDefaults()
	c.Transform.SetDefaults()
	c.Chunking.SetDefaults()
	c.Embeddings.SetDefaults()
	c.Vector.SetDefaults()
	c.Rerank.SetDefaults()
	c.Ranking.SetDefaults()
	c.Search.SetDefaults()
	c.MCP.SetDefaults()
	c.State.SetDefaults()

	if c.Extract.Origin == "" {
		switch c.Source.Mode {
		case source.ModeCrawl:
			c.Extract.Origin = c.Source.Crawl.BaseURL
		case source.ModeBuild:
			c.Extract.Origin = c.Source.Build.BaseURL
		}
	}
	c.Extract.PreserveCodeBlocks = *c.Transform.PreserveCodeBlocks
	c.Extract.PreserveTables = *c.Transform.PreserveTables
}

// Validate checks cross-section requirements. Sections needed only by
// specific commands are validated at use (the pipeline checks
// project.id and source, search checks the embedder).
func (c *Config) Validate() error {
	if err := c.Embeddings.Validate(); err != nil {
		return err
	}
	if err := c.Vector.Validate(); err != nil {
		return err
	}
	switch c.Rerank.Provider {
	case RerankNone, RerankJina:
	default:
		return sserr.New(sserr.CodeConfigMissing, "unknown rerank.provider: %s", c.Rerank.Provider)
	}
	switch c.MCP.Transport {
	case TransportStdio, TransportHTTP:
	default:
		return sserr.New(sserr.CodeConfigMissing, "mcp.transport must be stdio or http, got %s", c.MCP.Transport)
	}
	switch c.Search.GroupBy {
	case "chunk", "page":
	default:
		return sserr.New(sserr.CodeConfigMissing, "search.groupBy must be chunk or page, got %s", c.Search.GroupBy)
	}
	return nil
}

// ScopeResolveOptions builds the resolver options for this config.
func (c *Config) ScopeResolveOptions(dir string) scope.ResolveOptions {
	return scope.ResolveOptions{
		ProjectID: c.Project.ID,
		Mode:      c.Scope.Mode,
		Fixed:     c.Scope.Fixed,
		EnvVar:    c.Scope.EnvVar,
		Sanitize:  c.Scope.Sanitize == nil || *c.Scope.Sanitize,
		Dir:       dir,
	}
}

var (
	envWithDefault = regexp.MustCompile(`\$\{([A-Z_][A-Z0-9_]*):-(.*?)\}`)
	envBraced      = regexp.MustCompile(`\$\{([A-Z_][A-Z0-9_]*)\}`)
)

// ExpandEnv expands ${VAR} and ${VAR:-default} references. Bare $VAR is
// left alone so shell-ish values survive.
func ExpandEnv(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	s = envWithDefault.ReplaceAllStringFunc(s, func(match string) string {
		parts := envWithDefault.FindStringSubmatch(match)
		if val := os.Getenv(parts[1]); val != "" {
			return val
		}
		return parts[2]
	})
	s = envBraced.ReplaceAllStringFunc(s, func(match string) string {
		parts := envBraced.FindStringSubmatch(match)
		return os.Getenv(parts[1])
	})
	return s
}

// Load reads, expands and validates a config file. An empty path means
// DefaultFile in the current directory.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultFile
	}

	// .env next to the config participates in ${ENV} expansion.
	_ = godotenv.Load(filepath.Join(filepath.Dir(path), ".env"))

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, sserr.New(sserr.CodeConfigMissing, "config file not found: %s", path)
		}
		return nil, sserr.Wrap(sserr.CodeConfigMissing, err, "failed to read config %s", path)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(ExpandEnv(string(raw))), cfg); err != nil {
		return nil, sserr.Wrap(sserr.CodeConfigMissing, err, "failed to parse config %s", path)
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
