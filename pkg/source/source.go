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

// Package source loads pages to index from one of four modes: a static
// build output directory, a content-files tree, a crawl of a deployed
// site, or breadth-first discovery against a preview server.
package source

import (
	"context"
	"log/slog"

	"github.com/kadirpekel/searchsocket/pkg/sserr"
)

// Loader mode identifiers.
const (
	ModeStaticOutput = "static-output"
	ModeContentFiles = "content-files"
	ModeCrawl        = "crawl"
	ModeBuild        = "build"
)

// PageSource is one page to index. Exactly one of HTML or Markdown is
// populated.
type PageSource struct {
	URL           string
	HTML          string
	Markdown      string
	SourcePath    string
	OutgoingLinks []string
}

// Loader produces the pages for a run. Order is unspecified; the
// pipeline dedups by URL.
type Loader interface {
	Load(ctx context.Context) ([]PageSource, error)
}

// StaticOutputConfig configures the static-output loader.
type StaticOutputConfig struct {
	Dir string `yaml:"dir"`
}

// ContentFilesConfig configures the content-files loader.
type ContentFilesConfig struct {
	BaseDir string `yaml:"baseDir"`
}

// CrawlConfig configures the crawl loader. Routes, when set, take
// precedence over the sitemap.
type CrawlConfig struct {
	BaseURL     string   `yaml:"baseUrl"`
	Routes      []string `yaml:"routes"`
	SitemapURL  string   `yaml:"sitemapUrl"`
	Concurrency int      `yaml:"concurrency"`
}

// SetDefaults sets default values for CrawlConfig.
func (c *CrawlConfig) SetDefaults() {
	if c.Concurrency <= 0 || c.Concurrency > 8 {
		c.Concurrency = 8
	}
}

// BuildConfig configures the build (discover) loader. When Command is
// set the loader starts the preview server itself and waits for
// readiness; otherwise BaseURL must already be serving.
type BuildConfig struct {
	BaseURL          string   `yaml:"baseUrl"`
	Command          string   `yaml:"command"`
	Seeds            []string `yaml:"seeds"`
	MaxDepth         int      `yaml:"maxDepth"`
	MaxPages         int      `yaml:"maxPages"`
	Exclude          []string `yaml:"exclude"`
	PreviewTimeoutMS int      `yaml:"previewTimeoutMs"`
}

// SetDefaults sets default values for BuildConfig.
func (c *BuildConfig) SetDefaults() {
	if len(c.Seeds) == 0 {
		c.Seeds = []string{"/"}
	}
	if c.MaxDepth <= 0 {
		c.MaxDepth = 5
	}
	if c.MaxPages <= 0 {
		c.MaxPages = 500
	}
	if c.PreviewTimeoutMS <= 0 {
		c.PreviewTimeoutMS = 30000
	}
}

// Config selects and configures a loader.
type Config struct {
	Mode               string             `yaml:"mode"`
	StrictRouteMapping bool               `yaml:"strictRouteMapping"`

	// RoutesDir points at the SvelteKit-style routes tree used for URL
	// to route-file mapping. Defaults to the content-files base dir.
	RoutesDir          string             `yaml:"routesDir"`
	StaticOutput       StaticOutputConfig `yaml:"staticOutput"`
	ContentFiles       ContentFilesConfig `yaml:"contentFiles"`
	Crawl              CrawlConfig        `yaml:"crawl"`
	Build              BuildConfig        `yaml:"build"`
}

// SetDefaults sets default values for Config.
func (c *Config) SetDefaults() {
	if c.Mode == "" {
		c.Mode = ModeStaticOutput
	}
	c.Crawl.SetDefaults()
	c.Build.SetDefaults()
}

// Validate checks mode-specific requirements.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeStaticOutput:
		if c.StaticOutput.Dir == "" {
			return sserr.New(sserr.CodeConfigMissing, "source.staticOutput.dir is required for static-output mode")
		}
	case ModeContentFiles:
		if c.ContentFiles.BaseDir == "" {
			return sserr.New(sserr.CodeConfigMissing, "source.contentFiles.baseDir is required for content-files mode")
		}
	case ModeCrawl:
		if c.Crawl.BaseURL == "" {
			return sserr.New(sserr.CodeConfigMissing, "source.crawl.baseUrl is required for crawl mode")
		}
		if len(c.Crawl.Routes) == 0 && c.Crawl.SitemapURL == "" {
			return sserr.New(sserr.CodeConfigMissing, "source.crawl requires routes or sitemapUrl")
		}
	case ModeBuild:
		if c.Build.BaseURL == "" {
			return sserr.New(sserr.CodeConfigMissing, "source.build.baseUrl is required for build mode")
		}
	default:
		return sserr.New(sserr.CodeConfigMissing, "unrecognized source.mode: %s", c.Mode)
	}
	return nil
}

// New creates the loader selected by cfg.Mode.
func New(cfg Config, logger *slog.Logger) (Loader, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.Mode {
	case ModeStaticOutput:
		return NewStaticOutputLoader(cfg.StaticOutput, logger), nil
	case ModeContentFiles:
		return NewContentFilesLoader(cfg.ContentFiles, logger), nil
	case ModeCrawl:
		return NewCrawlLoader(cfg.Crawl, logger), nil
	case ModeBuild:
		return NewBuildLoader(cfg.Build, logger), nil
	}
	return nil, sserr.New(sserr.CodeConfigMissing, "unrecognized source.mode: %s", cfg.Mode)
}
