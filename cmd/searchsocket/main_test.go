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

package main

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/searchsocket/pkg/config"
	"github.com/kadirpekel/searchsocket/pkg/scope"
	"github.com/kadirpekel/searchsocket/pkg/source"
)

func TestParseLevel(t *testing.T) {
	level, err := parseLevel("warn")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, level)

	_, err = parseLevel("loud")
	assert.Error(t, err)
}

func TestCLIHandlerTextPrefixes(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(newCLIHandler(&buf, false, slog.LevelInfo))

	logger.Info("indexing", "pages", 3)
	logger.Warn("slow source")
	logger.Error("upsert failed", "scope", "main")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "indexing pages=3", lines[0])
	assert.Equal(t, "WARN: slow source", lines[1])
	assert.Equal(t, "ERROR: upsert failed scope=main", lines[2])
}

func TestCLIHandlerJSONLines(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(newCLIHandler(&buf, true, slog.LevelInfo))

	logger.Info("indexed", "upserts", 12)

	var line struct {
		Event string         `json:"event"`
		TS    string         `json:"ts"`
		Data  map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "indexed", line.Event)
	assert.NotEmpty(t, line.TS)
	assert.EqualValues(t, 12, line.Data["upserts"])
}

func TestCLIHandlerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(newCLIHandler(&buf, false, slog.LevelWarn))

	logger.Info("chatty")
	logger.Warn("kept")

	assert.Equal(t, "WARN: kept\n", buf.String())
}

func TestReadScopesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scopes.txt")
	require.NoError(t, os.WriteFile(path, []byte("main\n# comment\n\npr-42\n"), 0o644))

	live, err := readScopesFile(path)
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"main": true, "pr-42": true}, live)
}

func TestWatchDirs(t *testing.T) {
	cfg := &config.Config{}
	cfg.Source.Mode = source.ModeContentFiles
	cfg.Source.ContentFiles.BaseDir = "src/content"
	cfg.Source.RoutesDir = "src/routes"

	dirs, err := watchDirs(cfg, "/proj")
	require.NoError(t, err)
	assert.Equal(t, []string{"/proj/src/content", "/proj/src/routes"}, dirs)

	cfg.Source.Mode = source.ModeCrawl
	_, err = watchDirs(cfg, "/proj")
	assert.Error(t, err)
}

func TestInitWritesStarterConfig(t *testing.T) {
	dir := t.TempDir()
	cli := &CLI{Cwd: dir}

	require.NoError(t, (&InitCmd{}).Run(cli))

	cfg, err := config.Load(filepath.Join(dir, config.DefaultFile))
	require.NoError(t, err)
	assert.Equal(t, "my-docs", cfg.Project.ID)
	assert.Equal(t, source.ModeStaticOutput, cfg.Source.Mode)

	// The starter config must resolve a scope as-is; config.Load alone
	// never exercises scope.mode.
	sc, err := scope.Resolve(cfg.ScopeResolveOptions(dir), "")
	require.NoError(t, err)
	assert.NotEmpty(t, sc.Name)

	// A second init without --force must refuse to overwrite.
	assert.Error(t, (&InitCmd{}).Run(cli))
	require.NoError(t, (&InitCmd{Force: true}).Run(cli))
}
