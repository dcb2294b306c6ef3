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

package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, changes <-chan []string, timeout time.Duration) []string {
	t.Helper()
	select {
	case batch := <-changes:
		return batch
	case <-time.After(timeout):
		return nil
	}
}

func TestWatcherCoalescesWrites(t *testing.T) {
	dir := t.TempDir()
	w, err := New(Config{Dirs: []string{dir}, Debounce: 50 * time.Millisecond}, nil)
	require.NoError(t, err)

	changes, err := w.Start(context.Background())
	require.NoError(t, err)
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.md"), []byte("one"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.md"), []byte("two"), 0o644))

	batch := collect(t, changes, 5*time.Second)
	require.NotNil(t, batch, "expected a change batch")
	assert.GreaterOrEqual(t, len(batch), 1)
}

func TestWatcherIgnoresStateDir(t *testing.T) {
	dir := t.TempDir()
	stateDir := filepath.Join(dir, ".searchsocket")
	require.NoError(t, os.MkdirAll(stateDir, 0o755))

	w, err := New(Config{
		Dirs:     []string{dir},
		Ignore:   []string{stateDir},
		Debounce: 50 * time.Millisecond,
	}, nil)
	require.NoError(t, err)

	changes, err := w.Start(context.Background())
	require.NoError(t, err)
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(stateDir, "mirror.md"), []byte("x"), 0o644))

	batch := collect(t, changes, 500*time.Millisecond)
	assert.Nil(t, batch, "state dir writes must not trigger a batch")
}

func TestWatcherStopClosesChannel(t *testing.T) {
	dir := t.TempDir()
	w, err := New(Config{Dirs: []string{dir}}, nil)
	require.NoError(t, err)

	changes, err := w.Start(context.Background())
	require.NoError(t, err)
	require.NoError(t, w.Stop())

	_, open := <-changes
	assert.False(t, open)
}
