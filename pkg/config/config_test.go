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

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/searchsocket/pkg/source"
	"github.com/kadirpekel/searchsocket/pkg/sserr"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "searchsocket.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `
project:
  id: docs-site
source:
  mode: static-output
  staticOutput:
    dir: build
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "docs-site", cfg.Project.ID)
	assert.Equal(t, source.ModeStaticOutput, cfg.Source.Mode)
	assert.Equal(t, "jina", cfg.Embeddings.Provider)
	assert.Equal(t, 64, cfg.Embeddings.BatchSize)
	assert.Equal(t, 1600, cfg.Chunking.MaxChars)
	assert.Equal(t, "local", string(cfg.Vector.Provider))
	assert.Equal(t, RerankNone, cfg.Rerank.Provider)
	assert.False(t, cfg.Rerank.Enabled())
	assert.Equal(t, 3, cfg.Rerank.MaxDisplacement)
	assert.Equal(t, 10, cfg.Search.TopK)
	assert.Equal(t, "chunk", cfg.Search.GroupBy)
	assert.Equal(t, "stdio", cfg.MCP.Transport)
	assert.Equal(t, ".searchsocket", cfg.State.Dir)
	assert.True(t, *cfg.Transform.PreserveCodeBlocks)
	assert.True(t, cfg.Extract.PreserveTables)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.True(t, sserr.IsCode(err, sserr.CodeConfigMissing))
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("SS_TEST_PROJECT", "from-env")
	path := writeConfig(t, `
project:
  id: ${SS_TEST_PROJECT}
source:
  mode: crawl
  crawl:
    baseUrl: ${SS_TEST_BASE:-https://example.com}
    routes: ["/"]
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Project.ID)
	assert.Equal(t, "https://example.com", cfg.Source.Crawl.BaseURL)
	assert.Equal(t, "https://example.com", cfg.Extract.Origin)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("SS_DOTENV_ID=dotted\n"), 0o644))
	path := filepath.Join(dir, "searchsocket.yaml")
	require.NoError(t, os.WriteFile(path, []byte("project:\n  id: ${SS_DOTENV_ID}\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("SS_DOTENV_ID") })

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "dotted", cfg.Project.ID)
}

func TestValidateRejectsUnknownSections(t *testing.T) {
	_, err := Load(writeConfig(t, "rerank:\n  provider: bogus\n"))
	require.Error(t, err)
	assert.True(t, sserr.IsCode(err, sserr.CodeConfigMissing))

	_, err = Load(writeConfig(t, "mcp:\n  transport: grpc\n"))
	require.Error(t, err)

	_, err = Load(writeConfig(t, "search:\n  groupBy: site\n"))
	require.Error(t, err)

	_, err = Load(writeConfig(t, "embeddings:\n  batchSize: -1\n"))
	require.Error(t, err)
}

func TestExpandEnvLeavesBareDollar(t *testing.T) {
	t.Setenv("SS_X", "v")
	assert.Equal(t, "v and $SS_X", ExpandEnv("${SS_X} and $SS_X"))
}
