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

package scope

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/searchsocket/pkg/sserr"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"main", "main"},
		{"Feature/My_Branch", "feature-my-branch"},
		{"  weird///name  ", "weird-name"},
		{"UPPER", "upper"},
		{"--x--", "x"},
		{"###", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Sanitize(tt.in), "input %q", tt.in)
	}
}

func TestResolveFixed(t *testing.T) {
	s, err := Resolve(ResolveOptions{ProjectID: "docs", Mode: ModeFixed, Fixed: "Release/V2", Sanitize: true}, "")
	require.NoError(t, err)
	assert.Equal(t, "docs", s.ProjectID)
	assert.Equal(t, "release-v2", s.Name)
	assert.Equal(t, "docs:release-v2", s.ID())
}

func TestResolveOverrideWins(t *testing.T) {
	s, err := Resolve(ResolveOptions{ProjectID: "docs", Mode: ModeFixed, Fixed: "main", Sanitize: true}, "PR-42")
	require.NoError(t, err)
	assert.Equal(t, "pr-42", s.Name)
}

func TestResolveEnvMissing(t *testing.T) {
	t.Setenv("SS_TEST_SCOPE", "")
	_, err := Resolve(ResolveOptions{ProjectID: "docs", Mode: ModeEnv, EnvVar: "SS_TEST_SCOPE", Sanitize: true}, "")
	require.Error(t, err)
	assert.True(t, sserr.IsCode(err, sserr.CodeConfigMissing))
}

func TestResolveEnv(t *testing.T) {
	t.Setenv("SS_TEST_SCOPE", "feature/x")
	s, err := Resolve(ResolveOptions{ProjectID: "docs", Mode: ModeEnv, EnvVar: "SS_TEST_SCOPE", Sanitize: true}, "")
	require.NoError(t, err)
	assert.Equal(t, "feature-x", s.Name)
}

func TestResolveMissingProject(t *testing.T) {
	_, err := Resolve(ResolveOptions{Mode: ModeFixed, Fixed: "main"}, "")
	require.Error(t, err)
	assert.True(t, sserr.IsCode(err, sserr.CodeConfigMissing))
}
