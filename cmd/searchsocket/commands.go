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
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kadirpekel/searchsocket/pkg/config"
	"github.com/kadirpekel/searchsocket/pkg/embedder"
	"github.com/kadirpekel/searchsocket/pkg/mcpserver"
	"github.com/kadirpekel/searchsocket/pkg/pipeline"
	"github.com/kadirpekel/searchsocket/pkg/search"
	"github.com/kadirpekel/searchsocket/pkg/source"
	"github.com/kadirpekel/searchsocket/pkg/sserr"
	"github.com/kadirpekel/searchsocket/pkg/watcher"
)

// InitCmd writes a starter config.
type InitCmd struct {
	Force bool `help:"Overwrite an existing config file."`
}

const starterConfig = `# searchsocket configuration
project:
  id: my-docs

scope:
  mode: git # git | fixed | env

source:
  mode: static-output # static-output | content-files | crawl | build
  staticOutput:
    dir: build
  # contentFiles:
  #   baseDir: src/routes
  # crawl:
  #   baseUrl: https://docs.example.com
  #   sitemapUrl: https://docs.example.com/sitemap.xml

embeddings:
  provider: jina
  model: jina-embeddings-v3
  apiKeyEnv: JINA_API_KEY

vector:
  provider: local # local | turso | pinecone | qdrant | milvus | upstash

rerank:
  provider: none # none | jina

search:
  topK: 8
  groupBy: chunk # chunk | page

state:
  dir: .searchsocket
  mirror: false
`

func (c *InitCmd) Run(cli *CLI) error {
	path := cli.configPath()
	if _, err := os.Stat(path); err == nil && !c.Force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	if err := os.WriteFile(path, []byte(starterConfig), 0o644); err != nil {
		return err
	}
	fmt.Printf("wrote %s\n", path)
	return nil
}

// IndexCmd runs the pipeline once.
type IndexCmd struct {
	Scope       string `help:"Scope name override."`
	ChangedOnly bool   `name:"changed-only" help:"Embed and upsert only changed chunks."`
	Force       bool   `help:"Reindex everything, ignoring stored content hashes."`
	DryRun      bool   `name:"dry-run" help:"Stop after the diff and cost estimate."`
	Source      string `help:"Source mode override (static-output, content-files, crawl, build)."`
	MaxPages    int    `name:"max-pages" help:"Cap the number of pages loaded."`
	MaxChunks   int    `name:"max-chunks" help:"Cap the number of chunks indexed."`
	Verbose     bool   `help:"Debug-level logging for this run."`
}

func (c *IndexCmd) Run(cli *CLI) error {
	ctx, cancel := signalContext()
	defer cancel()

	if c.Verbose {
		out := os.Stderr
		if cli.JSON {
			out = os.Stdout
		}
		slog.SetDefault(slog.New(newCLIHandler(out, cli.JSON, slog.LevelDebug)))
	}

	a, err := cli.setup(ctx, c.Scope)
	if err != nil {
		return err
	}
	defer a.Close()

	stats, err := pipeline.New(a.cfg, a.store, a.emb, a.logger, a.dir).Run(ctx, pipeline.Options{
		ScopeOverride:  c.Scope,
		ChangedOnly:    c.ChangedOnly,
		Force:          c.Force,
		DryRun:         c.DryRun,
		SourceOverride: c.Source,
		MaxPages:       c.MaxPages,
		MaxChunks:      c.MaxChunks,
	})
	if err != nil {
		return err
	}
	return printResult(cli, stats, func() {
		fmt.Printf("scope %s: %d pages (%d skipped), %d chunks, %d upserts, %d deletes\n",
			stats.Scope.Name, stats.Pages, stats.PagesSkipped, stats.Chunks, stats.Upserts, stats.Deletes)
		fmt.Printf("estimate: %d tokens ($%.4f), took %dms\n",
			stats.EstimatedTokens, stats.EstimatedCostUSD, stats.DurationMS)
		if stats.DryRun {
			fmt.Println("dry run: nothing was written")
		}
	})
}

// StatusCmd lists the indexed scopes.
type StatusCmd struct{}

func (c *StatusCmd) Run(cli *CLI) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := cli.setup(ctx, "")
	if err != nil {
		return err
	}
	defer a.Close()

	scopes, err := a.store.ListScopes(ctx, a.cfg.Project.ID)
	if err != nil {
		return err
	}
	return printResult(cli, scopes, func() {
		if len(scopes) == 0 {
			fmt.Println("no scopes indexed")
			return
		}
		for _, info := range scopes {
			marker := " "
			if info.ScopeName == a.sc.Name {
				marker = "*"
			}
			fmt.Printf("%s %-24s model=%s indexed=%s vectors=%d\n",
				marker, info.ScopeName, info.ModelID, info.LastIndexedAt, info.VectorCount)
		}
	})
}

// DevCmd watches the source tree and reindexes on change.
type DevCmd struct {
	Scope    string        `help:"Scope name override."`
	Debounce time.Duration `default:"400ms" help:"Quiet period before a reindex."`
}

func (c *DevCmd) Run(cli *CLI) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := cli.setup(ctx, c.Scope)
	if err != nil {
		return err
	}
	defer a.Close()

	dirs, err := watchDirs(a.cfg, a.dir)
	if err != nil {
		return err
	}

	p := pipeline.New(a.cfg, a.store, a.emb, a.logger, a.dir)
	runOnce := func(opts pipeline.Options) {
		stats, err := p.Run(ctx, opts)
		if err != nil {
			if ctx.Err() == nil {
				a.logger.Error("index run failed", "error", err)
			}
			return
		}
		a.logger.Info("indexed",
			"scope", stats.Scope.Name,
			"pages", stats.Pages,
			"upserts", stats.Upserts,
			"deletes", stats.Deletes,
		)
	}
	runOnce(pipeline.Options{ScopeOverride: c.Scope})

	stateDir := a.cfg.State.Dir
	if !filepath.IsAbs(stateDir) {
		stateDir = filepath.Join(a.dir, stateDir)
	}
	w, err := watcher.New(watcher.Config{
		Dirs:     dirs,
		Ignore:   []string{stateDir},
		Debounce: c.Debounce,
	}, a.logger)
	if err != nil {
		return err
	}
	changes, err := w.Start(ctx)
	if err != nil {
		return err
	}
	defer w.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case batch, ok := <-changes:
			if !ok {
				return nil
			}
			a.logger.Info("change detected", "paths", len(batch))
			runOnce(pipeline.Options{ScopeOverride: c.Scope, ChangedOnly: true})
		}
	}
}

// watchDirs returns the filesystem roots the dev loop watches.
func watchDirs(cfg *config.Config, dir string) ([]string, error) {
	abs := func(p string) string {
		if filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(dir, p)
	}
	switch cfg.Source.Mode {
	case source.ModeStaticOutput:
		return []string{abs(cfg.Source.StaticOutput.Dir)}, nil
	case source.ModeContentFiles:
		dirs := []string{abs(cfg.Source.ContentFiles.BaseDir)}
		if rd := cfg.Source.RoutesDir; rd != "" && abs(rd) != dirs[0] {
			dirs = append(dirs, abs(rd))
		}
		return dirs, nil
	default:
		return nil, sserr.New(sserr.CodeConfigMissing,
			"dev requires a filesystem source (static-output or content-files), got %s", cfg.Source.Mode)
	}
}

// CleanCmd removes local artifacts for the resolved scope.
type CleanCmd struct {
	Scope  string `help:"Scope name override."`
	Remote bool   `help:"Also delete the scope from the vector store."`
}

func (c *CleanCmd) Run(cli *CLI) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := cli.setup(ctx, c.Scope)
	if err != nil {
		return err
	}
	defer a.Close()

	stateDir := a.cfg.State.Dir
	if !filepath.IsAbs(stateDir) {
		stateDir = filepath.Join(a.dir, stateDir)
	}
	mirrorDir := filepath.Join(stateDir, "pages", a.sc.Name)
	if err := os.RemoveAll(mirrorDir); err != nil {
		return err
	}
	fmt.Printf("removed %s\n", mirrorDir)

	if c.Remote {
		if err := a.store.DeleteScope(ctx, a.sc); err != nil {
			return err
		}
		fmt.Printf("deleted scope %s from store\n", a.sc.ID())
	}
	return nil
}

// PruneCmd deletes stale scopes from the store.
type PruneCmd struct {
	Apply      bool          `help:"Actually delete; default is a dry run."`
	ScopesFile string        `name:"scopes-file" help:"File of live scope names, one per line; scopes not listed are pruned." type:"path"`
	OlderThan  time.Duration `name:"older-than" help:"Prune scopes whose last index run is older than this (e.g. 720h)."`
}

func (c *PruneCmd) Run(cli *CLI) error {
	if c.ScopesFile == "" && c.OlderThan == 0 {
		return sserr.New(sserr.CodeInvalidRequest, "prune requires --scopes-file or --older-than")
	}

	ctx, cancel := signalContext()
	defer cancel()

	a, err := cli.setup(ctx, "")
	if err != nil {
		return err
	}
	defer a.Close()

	var live map[string]bool
	if c.ScopesFile != "" {
		live, err = readScopesFile(c.ScopesFile)
		if err != nil {
			return err
		}
	}

	scopes, err := a.store.ListScopes(ctx, a.cfg.Project.ID)
	if err != nil {
		return err
	}

	now := time.Now()
	for _, info := range scopes {
		stale := false
		if live != nil && !live[info.ScopeName] {
			stale = true
		}
		if !stale && c.OlderThan > 0 {
			indexed, err := time.Parse(time.RFC3339, info.LastIndexedAt)
			if err != nil {
				a.logger.Warn("unparseable lastIndexedAt, skipping", "scope", info.ScopeName, "value", info.LastIndexedAt)
				continue
			}
			stale = now.Sub(indexed) > c.OlderThan
		}
		if !stale {
			continue
		}

		if !c.Apply {
			fmt.Printf("would prune %s (last indexed %s)\n", info.ScopeName, info.LastIndexedAt)
			continue
		}
		sc := a.sc
		sc.Name = info.ScopeName
		if err := a.store.DeleteScope(ctx, sc); err != nil {
			return err
		}
		fmt.Printf("pruned %s\n", info.ScopeName)
	}
	if !c.Apply {
		fmt.Println("dry run: pass --apply to delete")
	}
	return nil
}

func readScopesFile(path string) (map[string]bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	live := make(map[string]bool)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		name := strings.TrimSpace(scanner.Text())
		if name == "" || strings.HasPrefix(name, "#") {
			continue
		}
		live[name] = true
	}
	return live, scanner.Err()
}

// DoctorCmd checks the deployment end to end.
type DoctorCmd struct{}

func (c *DoctorCmd) Run(cli *CLI) error {
	ctx, cancel := signalContext()
	defer cancel()

	failed := false
	check := func(name string, err error) {
		if err != nil {
			failed = true
			fmt.Printf("FAIL %-16s %v\n", name, err)
			return
		}
		fmt.Printf("ok   %s\n", name)
	}

	cfg, err := config.Load(cli.configPath())
	check("config", err)
	if err != nil {
		return fmt.Errorf("doctor found problems")
	}

	a, err := cli.setup(ctx, "")
	check("wiring", err)
	if err != nil {
		return fmt.Errorf("doctor found problems")
	}
	defer a.Close()

	check("store", a.store.Health(ctx))

	_, err = a.emb.EmbedTexts(ctx, []string{"searchsocket doctor probe"}, embedder.TaskQuery)
	check("embedder", err)

	check("state dir", checkStateDir(cfg, a.dir))

	if failed {
		return fmt.Errorf("doctor found problems")
	}
	fmt.Println("all checks passed")
	return nil
}

func checkStateDir(cfg *config.Config, dir string) error {
	stateDir := cfg.State.Dir
	if !filepath.IsAbs(stateDir) {
		stateDir = filepath.Join(dir, stateDir)
	}
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return err
	}
	probe := filepath.Join(stateDir, ".doctor")
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		return err
	}
	return os.Remove(probe)
}

// MCPCmd serves the MCP tool set.
type MCPCmd struct {
	Transport string `help:"Transport override (stdio or http)." enum:"stdio,http,"`
	Port      int    `help:"HTTP port override."`
	Path      string `help:"HTTP endpoint path override."`
}

func (c *MCPCmd) Run(cli *CLI) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := cli.setup(ctx, "")
	if err != nil {
		return err
	}
	defer a.Close()

	if c.Transport != "" {
		a.cfg.MCP.Transport = c.Transport
	}
	if c.Port != 0 {
		a.cfg.MCP.HTTP.Port = c.Port
	}
	if c.Path != "" {
		a.cfg.MCP.HTTP.Path = c.Path
	}
	if a.cfg.MCP.Enable != nil && !*a.cfg.MCP.Enable {
		return sserr.New(sserr.CodeConfigMissing, "mcp is disabled in config")
	}

	engine, err := buildEngine(a)
	if err != nil {
		return err
	}
	tools := mcpserver.NewTools(engine, a.store, a.cfg.Project.ID)
	return mcpserver.New(a.cfg, tools, a.store, a.logger).Serve(ctx)
}

// SearchCmd runs one search from the command line.
type SearchCmd struct {
	Q          string   `required:"" help:"Search query."`
	Scope      string   `help:"Scope name override."`
	TopK       int      `name:"top-k" help:"Number of results."`
	PathPrefix string   `name:"path-prefix" help:"Restrict to pages under this path."`
	Tags       []string `help:"Require all of these tags."`
	Rerank     bool     `help:"Rescore with the configured reranker."`
}

func (c *SearchCmd) Run(cli *CLI) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := cli.setup(ctx, c.Scope)
	if err != nil {
		return err
	}
	defer a.Close()

	engine, err := buildEngine(a)
	if err != nil {
		return err
	}

	resp, err := engine.Search(ctx, search.Request{
		Q:          c.Q,
		TopK:       c.TopK,
		Scope:      c.Scope,
		PathPrefix: c.PathPrefix,
		Tags:       c.Tags,
		Rerank:     c.Rerank,
	})
	if err != nil {
		return err
	}
	return printResult(cli, resp, func() {
		if len(resp.Results) == 0 {
			fmt.Println("no results")
			return
		}
		for i, r := range resp.Results {
			fmt.Printf("%2d. %.3f  %s\n", i+1, r.Score, r.URL)
			title := r.Title
			if r.SectionTitle != "" {
				title += " › " + r.SectionTitle
			}
			fmt.Printf("    %s\n", title)
			if r.Snippet != "" {
				fmt.Printf("    %s\n", r.Snippet)
			}
		}
		fmt.Printf("(%dms, rerank=%v)\n", resp.Meta.TimingsMS.Total, resp.Meta.UsedRerank)
	})
}

// buildEngine wires the search engine, including the reranker when one
// is configured.
func buildEngine(a *app) (*search.Engine, error) {
	reranker, err := search.NewReranker(a.cfg.Rerank, a.logger)
	if err != nil {
		return nil, err
	}
	return search.NewEngine(a.cfg, a.store, a.emb, reranker, a.sc, a.logger, a.dir), nil
}

// printResult renders v as JSON in --json mode, otherwise runs the
// text printer.
func printResult(cli *CLI, v any, text func()) error {
	if cli.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text()
	return nil
}
