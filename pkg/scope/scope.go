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

// Package scope derives the (projectId, scopeName) namespace that isolates
// indexed content, typically one scope per VCS branch. A scope is resolved
// once per pipeline run and immutable afterwards.
package scope

import (
	"os"
	"os/exec"
	"strings"

	"github.com/kadirpekel/searchsocket/pkg/sserr"
)

// Mode selects how the scope name is chosen.
type Mode string

const (
	ModeFixed Mode = "fixed"
	ModeEnv   Mode = "env"
	ModeGit   Mode = "git"
)

// Scope identifies a (projectId, scopeName) namespace.
type Scope struct {
	ProjectID string `json:"projectId"`
	Name      string `json:"scopeName"`
}

// ID returns the stable "projectId:scopeName" key.
func (s Scope) ID() string {
	return s.ProjectID + ":" + s.Name
}

// ResolveOptions configures scope resolution.
type ResolveOptions struct {
	ProjectID string
	Mode      Mode
	Fixed     string
	EnvVar    string
	Sanitize  bool
	Dir       string // working directory for VCS lookup
}

// Resolve determines the scope for a run. An explicit override wins over
// the configured mode; the result is sanitized unless disabled.
func Resolve(opts ResolveOptions, override string) (Scope, error) {
	if opts.ProjectID == "" {
		return Scope{}, sserr.New(sserr.CodeConfigMissing, "project.id is required")
	}

	name := override
	if name == "" {
		var err error
		name, err = resolveName(opts)
		if err != nil {
			return Scope{}, err
		}
	}

	if opts.Sanitize {
		name = Sanitize(name)
	}
	if name == "" {
		return Scope{}, sserr.New(sserr.CodeConfigMissing, "resolved scope name is empty")
	}
	return Scope{ProjectID: opts.ProjectID, Name: name}, nil
}

func resolveName(opts ResolveOptions) (string, error) {
	switch opts.Mode {
	case ModeFixed, "":
		if opts.Fixed == "" {
			return "main", nil
		}
		return opts.Fixed, nil

	case ModeEnv:
		if opts.EnvVar == "" {
			return "", sserr.New(sserr.CodeConfigMissing, "scope.envVar is required for scope.mode=env")
		}
		v := strings.TrimSpace(os.Getenv(opts.EnvVar))
		if v == "" {
			return "", sserr.New(sserr.CodeConfigMissing, "environment variable %s is empty", opts.EnvVar)
		}
		return v, nil

	case ModeGit:
		branch, err := currentBranch(opts.Dir)
		if err != nil || branch == "" || branch == "HEAD" {
			if opts.Fixed != "" {
				return opts.Fixed, nil
			}
			return "main", nil
		}
		return branch, nil

	default:
		return "", sserr.New(sserr.CodeConfigMissing, "unknown scope.mode %q", opts.Mode)
	}
}

func currentBranch(dir string) (string, error) {
	cmd := exec.Command("git", "rev-parse", "--abbrev-ref", "HEAD")
	if dir != "" {
		cmd.Dir = dir
	}
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// Sanitize normalizes a scope name to lowercase ASCII letters, digits and
// dashes. Runs of any other characters collapse to a single dash and
// leading/trailing dashes are trimmed.
func Sanitize(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	dash := false
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if dash && b.Len() > 0 {
				b.WriteByte('-')
			}
			dash = false
			b.WriteRune(r)
			continue
		}
		dash = true
	}
	return b.String()
}
