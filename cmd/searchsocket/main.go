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

// Command searchsocket indexes a static documentation site into a
// vector store and serves semantic search over CLI, HTTP and MCP.
//
// Usage:
//
//	searchsocket init
//	searchsocket index --scope pr-42 --dry-run
//	searchsocket search --q "how do i deploy"
//	searchsocket mcp --transport http --port 8700
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/kadirpekel/searchsocket"
	"github.com/kadirpekel/searchsocket/pkg/config"
	"github.com/kadirpekel/searchsocket/pkg/embedder"
	"github.com/kadirpekel/searchsocket/pkg/scope"
	"github.com/kadirpekel/searchsocket/pkg/vector"
)

// CLI defines the command-line interface.
type CLI struct {
	Cwd      string `short:"C" name:"cwd" help:"Run as if started in this directory." type:"path"`
	Config   string `help:"Path to config file (default: searchsocket.yaml in the working directory)." type:"path"`
	JSON     bool   `name:"json" help:"Emit JSON-line logs and JSON command output."`
	LogLevel string `name:"log-level" help:"Log level (debug, info, warn, error)." default:"info"`

	Init    InitCmd    `cmd:"" help:"Write a starter searchsocket.yaml."`
	Index   IndexCmd   `cmd:"" help:"Run the indexing pipeline for the resolved scope."`
	Status  StatusCmd  `cmd:"" help:"Show the indexed scopes of this project."`
	Dev     DevCmd     `cmd:"" help:"Watch sources and reindex on change."`
	Clean   CleanCmd   `cmd:"" help:"Remove local state for the resolved scope."`
	Prune   PruneCmd   `cmd:"" help:"Delete stale scopes from the store."`
	Doctor  DoctorCmd  `cmd:"" help:"Check config, store, embedder and state dir."`
	MCP     MCPCmd     `cmd:"" name:"mcp" help:"Serve MCP tools over stdio or HTTP."`
	Search  SearchCmd  `cmd:"" help:"Run a search from the command line."`
	Version VersionCmd `cmd:"" help:"Show version information."`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run(cli *CLI) error {
	fmt.Println(searchsocket.GetVersion().String())
	return nil
}

// workDir resolves the effective working directory.
func (cli *CLI) workDir() string {
	if cli.Cwd != "" {
		return cli.Cwd
	}
	return "."
}

// configPath resolves the effective config file path.
func (cli *CLI) configPath() string {
	if cli.Config != "" {
		return cli.Config
	}
	return filepath.Join(cli.workDir(), config.DefaultFile)
}

// app bundles the wiring shared by most commands.
type app struct {
	cfg    *config.Config
	store  vector.Store
	emb    embedder.Embedder
	sc     scope.Scope
	logger *slog.Logger
	dir    string
}

// setup loads config, resolves the scope and connects the store and
// embedder.
func (cli *CLI) setup(ctx context.Context, scopeOverride string) (*app, error) {
	cfg, err := config.Load(cli.configPath())
	if err != nil {
		return nil, err
	}

	dir := cli.workDir()
	sc, err := scope.Resolve(cfg.ScopeResolveOptions(dir), scopeOverride)
	if err != nil {
		return nil, err
	}

	emb, err := embedder.New(cfg.Embeddings, slog.Default())
	if err != nil {
		return nil, err
	}

	// The store dimension follows the embedding model.
	cfg.Vector.Dimension = emb.Dimension()
	store, err := vector.New(ctx, cfg.Vector)
	if err != nil {
		_ = emb.Close()
		return nil, err
	}

	return &app{
		cfg:    cfg,
		store:  store,
		emb:    emb,
		sc:     sc,
		logger: slog.Default(),
		dir:    dir,
	}, nil
}

func (a *app) Close() {
	_ = a.store.Close()
	_ = a.emb.Close()
}

// signalContext cancels on SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func main() {
	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("searchsocket"),
		kong.Description("Semantic search for static documentation sites."),
		kong.UsageOnError(),
	)

	level, err := parseLevel(cli.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
	out := os.Stderr
	if cli.JSON {
		out = os.Stdout
	}
	slog.SetDefault(slog.New(newCLIHandler(out, cli.JSON, level)))

	err = ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
