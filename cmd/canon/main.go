// Command canon imports narrative documents, extracts canon facts from them
// with an LLM, and serves the results over HTTP and MCP.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/hurttlocker/canon/internal/extract"
)

var version = "0.1.0-dev"

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath  string
	dbPath      string
	llm         string
	cache       string
	parallelism string
	jsonOut     bool
}

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "canon",
		Short:         "Chunked canon-fact extraction with evidence remapping",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&g.configPath, "config", "", "config file (default ~/.canon/config.yaml)")
	pf.StringVar(&g.dbPath, "db", "", "database path (default ~/.canon/canon.db)")
	pf.StringVar(&g.llm, "llm", "", "LLM as provider/model, e.g. google/gemini-2.5-flash")
	pf.StringVar(&g.cache, "cache", "", "extraction cache: sqlite, memory, tiered, redis, none")
	pf.StringVar(&g.parallelism, "parallelism", "", "concurrent chunk LLM calls")
	pf.BoolVar(&g.jsonOut, "json", false, "print JSON output")

	root.AddCommand(
		newImportCmd(g),
		newExtractCmd(g),
		newCheckCmd(g),
		newChunkCmd(g),
		newDocumentsCmd(g),
		newFactsCmd(g),
		newCacheCmd(g),
		newServeCmd(g),
		newMCPCmd(g),
		newConfigCmd(g),
		newVersionCmd(),
	)
	return root
}

// exitCode maps error kinds to process exit codes.
func exitCode(err error) int {
	switch {
	case errors.Is(err, extract.ErrNotFound):
		return 3
	case errors.Is(err, extract.ErrConfiguration):
		return 4
	case errors.Is(err, extract.ErrAPI), errors.Is(err, extract.ErrValidation):
		return 5
	}
	return 1
}
