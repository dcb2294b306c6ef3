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

package textutil

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	assert.Equal(t, "a b c", Normalize("  a\n\tb   c  "))
	assert.Equal(t, "", Normalize("   \n\t "))
	assert.Equal(t, "ab", Normalize("a\x00b"))
	// Idempotent.
	s := Normalize("x  y\nz")
	assert.Equal(t, s, Normalize(s))
}

func TestSnippetShort(t *testing.T) {
	assert.Equal(t, "hello world", Snippet("hello   world"))
}

func TestSnippetTruncates(t *testing.T) {
	long := strings.Repeat("word ", 100)
	s := Snippet(long)
	assert.True(t, strings.HasSuffix(s, "…"))
	assert.LessOrEqual(t, len([]rune(s)), SnippetLength+1)
	// Word boundary: no partial "wor" at the end.
	assert.True(t, strings.HasSuffix(strings.TrimSuffix(s, "…"), "word"))
}
