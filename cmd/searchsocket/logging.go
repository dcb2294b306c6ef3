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
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// parseLevel maps the --log-level flag onto a slog level.
func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid log level: %s", s)
	}
}

// cliHandler renders logs for a terminal. Text mode writes plain lines
// with WARN:/ERROR: prefixes; JSON mode writes {event, ts, data} lines
// so the output stays machine-parsable.
type cliHandler struct {
	mu    *sync.Mutex
	w     io.Writer
	json  bool
	level slog.Level
	attrs []slog.Attr
}

func newCLIHandler(w io.Writer, jsonMode bool, level slog.Level) *cliHandler {
	return &cliHandler{mu: &sync.Mutex{}, w: w, json: jsonMode, level: level}
}

func (h *cliHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *cliHandler) Handle(_ context.Context, r slog.Record) error {
	attrs := make([]slog.Attr, 0, len(h.attrs)+r.NumAttrs())
	attrs = append(attrs, h.attrs...)
	r.Attrs(func(a slog.Attr) bool {
		attrs = append(attrs, a)
		return true
	})

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.json {
		data := make(map[string]any, len(attrs))
		for _, a := range attrs {
			data[a.Key] = a.Value.Any()
		}
		line := map[string]any{
			"event": r.Message,
			"ts":    r.Time.UTC().Format(time.RFC3339),
		}
		if r.Level >= slog.LevelError {
			line["level"] = "error"
		}
		if len(data) > 0 {
			line["data"] = data
		}
		return json.NewEncoder(h.w).Encode(line)
	}

	var b strings.Builder
	switch {
	case r.Level >= slog.LevelError:
		b.WriteString("ERROR: ")
	case r.Level >= slog.LevelWarn:
		b.WriteString("WARN: ")
	}
	b.WriteString(r.Message)
	for _, a := range attrs {
		fmt.Fprintf(&b, " %s=%v", a.Key, a.Value.Any())
	}
	b.WriteByte('\n')
	_, err := io.WriteString(h.w, b.String())
	return err
}

func (h *cliHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &clone
}

func (h *cliHandler) WithGroup(name string) slog.Handler {
	// Groups are flattened; the CLI output has no nesting to show.
	return h
}
