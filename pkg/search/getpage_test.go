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

package search

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/searchsocket/pkg/config"
	"github.com/kadirpekel/searchsocket/pkg/pipeline"
	"github.com/kadirpekel/searchsocket/pkg/scope"
	"github.com/kadirpekel/searchsocket/pkg/sserr"
	"github.com/kadirpekel/searchsocket/pkg/vector"
)

func getPageEngine(t *testing.T, store vector.Store) (*Engine, string) {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{}
	cfg.Project.ID = "proj"
	cfg.SetDefaults()
	e := NewEngine(cfg, store, &queryEmbedder{}, nil,
		scope.Scope{ProjectID: "proj", Name: "main"}, nil, dir)
	return e, dir
}

func writeMirrorFile(t *testing.T, dir, scopeName, url, body string) {
	t.Helper()
	path := pipeline.MirrorPath(filepath.Join(dir, ".searchsocket"), scopeName, url)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	content := "---\n" +
		"url: " + url + "\n" +
		"title: Setup Guide\n" +
		"routeFile: src/routes/docs/a/+page.svelte\n" +
		"---\n\n" + body + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// The state dir is relative by default, so mirror reads must resolve it
// against the same working directory indexing wrote under. A page that
// has a mirror never falls back to store reassembly.
func TestGetPagePrefersMirrorWithRelativeStateDir(t *testing.T) {
	store := &staticStore{hits: []vector.Hit{hit("c1", "/docs/a", 0, 0.9)}}
	e, dir := getPageEngine(t, store)
	writeMirrorFile(t, dir, "main", "/docs/a", "Install the package first.")

	page, err := e.GetPage(context.Background(), "/docs/a", "")
	require.NoError(t, err)
	assert.Equal(t, "mirror", page.Source)
	assert.Equal(t, "Install the package first.", page.Markdown)
	assert.Equal(t, "Setup Guide", page.Title)
	assert.Equal(t, "src/routes/docs/a/+page.svelte", page.RouteFile)
	assert.Equal(t, []string{"docs"}, page.Tags)
}

func TestGetPageFallsBackToStore(t *testing.T) {
	store := &staticStore{hits: []vector.Hit{
		hit("c2", "/docs/b", 1, 0.8),
		hit("c1", "/docs/b", 0, 0.9),
	}}
	e, _ := getPageEngine(t, store)

	page, err := e.GetPage(context.Background(), "https://example.com/docs/b", "")
	require.NoError(t, err)
	assert.Equal(t, "store", page.Source)
	assert.Equal(t, "text of c1\n\ntext of c2", page.Markdown)
	assert.Equal(t, "/docs/b", page.URL)
}

func TestGetPageNotFound(t *testing.T) {
	e, _ := getPageEngine(t, &staticStore{})

	_, err := e.GetPage(context.Background(), "/missing", "")
	require.Error(t, err)
	assert.True(t, sserr.IsCode(err, sserr.CodeInvalidRequest))
}
