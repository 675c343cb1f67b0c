package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/hurttlocker/canon/internal/api"
	"github.com/hurttlocker/canon/internal/extract"
	"github.com/hurttlocker/canon/internal/ingest"
	canonmcp "github.com/hurttlocker/canon/internal/mcp"
	"github.com/hurttlocker/canon/internal/store"
)

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newImportCmd(g *globalFlags) *cobra.Command {
	var opts ingest.ImportOptions
	cmd := &cobra.Command{
		Use:   "import <path>",
		Short: "Import a text or markdown file, or a directory of them",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), g, chunkFlags{})
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			if !g.jsonOut {
				opts.ProgressFn = func(current, total int, file string) {
					fmt.Fprintf(cmd.ErrOrStderr(), "  [%d/%d] %s\n", current, total, file)
				}
			}
			res, err := ingest.NewEngine(a.store, a.log).ImportPath(cmd.Context(), args[0], opts)
			if err != nil {
				return err
			}
			if g.jsonOut {
				return printJSON(out, res)
			}
			prefix := ""
			if opts.DryRun {
				prefix = "[dry run] "
			}
			fmt.Fprintf(out, "%sScanned %d files, imported %d, skipped %d\n", prefix, res.FilesScanned, res.FilesImported, res.FilesSkipped)
			fmt.Fprintf(out, "%sDocuments: %d new, %d unchanged\n", prefix, res.DocumentsNew, res.DocumentsUnchanged)
			for _, id := range res.DocumentIDs {
				fmt.Fprintf(out, "  %s\n", id)
			}
			for _, e := range res.Errors {
				fmt.Fprintf(out, "  error: %s: %s\n", e.File, e.Message)
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.Project, "project", "", "project to assign documents to")
	f.BoolVarP(&opts.Recursive, "recursive", "r", false, "descend into subdirectories")
	f.BoolVar(&opts.DryRun, "dry-run", false, "report what would be imported without writing")
	f.BoolVar(&opts.SplitChapters, "split-chapters", false, "markdown: one document per # or ## heading")
	f.Int64Var(&opts.MaxFileSize, "max-file-size", ingest.DefaultMaxFileSize, "skip files larger than this many bytes")
	return cmd
}

func newExtractCmd(g *globalFlags) *cobra.Command {
	var cf chunkFlags
	var persist bool
	cmd := &cobra.Command{
		Use:   "extract <document-id>",
		Short: "Extract entities, facts and relationships from a stored document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), g, cf)
			if err != nil {
				return err
			}
			defer a.Close()
			proc, err := a.processor()
			if err != nil {
				return err
			}
			res, err := proc.Process(cmd.Context(), args[0], ingest.ProcessOptions{Persist: persist})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if g.jsonOut {
				return printJSON(out, res)
			}
			st := res.Stats
			fmt.Fprintf(out, "Document %s: %d chunks, %d LLM calls, %d cache hits\n", res.DocumentID, st.Chunks, st.LLMCalls, st.CacheHits)
			fmt.Fprintf(out, "  %d entities, %d facts, %d relationships\n",
				len(res.Result.Entities), len(res.Result.Facts), len(res.Result.Relationships))
			fmt.Fprintf(out, "  evidence: %d located, %d unverified\n", st.EvidenceLocated, st.EvidenceUnverified)
			if res.Saved != nil {
				fmt.Fprintf(out, "  saved: %d entities created, %d updated, %d facts, %d relationships\n",
					res.Saved.EntitiesCreated, res.Saved.EntitiesUpdated, res.Saved.FactsCreated, res.Saved.RelationshipsCreated)
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&cf.maxChars, "max-chars", "", "maximum chunk size in bytes")
	f.StringVar(&cf.overlapChars, "overlap-chars", "", "overlap between chunks in bytes")
	f.BoolVar(&persist, "persist", true, "save the result as pending canon")
	return cmd
}

func newCheckCmd(g *globalFlags) *cobra.Command {
	var canonPath string
	cmd := &cobra.Command{
		Use:   "check <document-id>",
		Short: "Check a document for contradictions against established canon",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if canonPath == "" {
				return extract.ConfigurationError("check", errors.New("--canon is required"))
			}
			canonText, err := os.ReadFile(canonPath)
			if err != nil {
				return fmt.Errorf("reading canon: %w", err)
			}
			a, err := openApp(cmd.Context(), g, chunkFlags{})
			if err != nil {
				return err
			}
			defer a.Close()
			orch, err := a.orchestrator()
			if err != nil {
				return err
			}
			found, err := orch.CheckContradictions(cmd.Context(), args[0], string(canonText))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if g.jsonOut {
				return printJSON(out, found)
			}
			if len(found) == 0 {
				fmt.Fprintln(out, "No contradictions found.")
				return nil
			}
			for i, c := range found {
				fmt.Fprintf(out, "%d. [%s] %s\n", i+1, c.Severity, c.NewClaim)
				fmt.Fprintf(out, "   canon: %s\n", c.ExistingFact)
				if c.Explanation != "" {
					fmt.Fprintf(out, "   %s\n", c.Explanation)
				}
				if p := c.EvidencePosition; p != nil {
					fmt.Fprintf(out, "   at %d-%d\n", p.Start, p.End)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&canonPath, "canon", "", "file holding the established canon")
	return cmd
}

func newChunkCmd(g *globalFlags) *cobra.Command {
	var cf chunkFlags
	cmd := &cobra.Command{
		Use:   "chunk <file>",
		Short: "Show how a file would be split for extraction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(g, cf)
			if err != nil {
				return err
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			opts := extract.ChunkOptions{
				MaxChars:     cfg.MaxChars.Int(0),
				OverlapChars: cfg.OverlapChars.Int(0),
			}
			if err := opts.Validate(); err != nil {
				return err
			}
			chunks := extract.ChunkDocument(string(data), opts)
			out := cmd.OutOrStdout()
			if g.jsonOut {
				return printJSON(out, chunks)
			}
			fmt.Fprintf(out, "%d bytes, %d chunks\n", len(data), len(chunks))
			for _, c := range chunks {
				fmt.Fprintf(out, "  #%d  %d-%d  (%d bytes)\n", c.Index, c.StartOffset, c.EndOffset, c.EndOffset-c.StartOffset)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&cf.maxChars, "max-chars", "", "maximum chunk size in bytes")
	cmd.Flags().StringVar(&cf.overlapChars, "overlap-chars", "", "overlap between chunks in bytes")
	return cmd
}

func newDocumentsCmd(g *globalFlags) *cobra.Command {
	var opts store.ListOpts
	cmd := &cobra.Command{
		Use:   "documents",
		Short: "List imported documents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), g, chunkFlags{})
			if err != nil {
				return err
			}
			defer a.Close()
			docs, err := a.store.ListDocuments(cmd.Context(), opts)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if g.jsonOut {
				return printJSON(out, docs)
			}
			for _, d := range docs {
				fmt.Fprintf(out, "%s  %-10s  %s", d.ID, d.Status, d.Title)
				if d.Error != "" {
					fmt.Fprintf(out, "  (%s)", d.Error)
				}
				fmt.Fprintln(out)
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.ProjectID, "project", "", "filter by project")
	f.StringVar(&opts.Status, "status", "", "filter by status")
	f.IntVar(&opts.Limit, "limit", 0, "maximum rows (default 100)")
	return cmd
}

func newFactsCmd(g *globalFlags) *cobra.Command {
	var opts store.ListOpts
	cmd := &cobra.Command{
		Use:   "facts [document-id]",
		Short: "List stored facts",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				opts.DocumentID = args[0]
			}
			a, err := openApp(cmd.Context(), g, chunkFlags{})
			if err != nil {
				return err
			}
			defer a.Close()
			facts, err := a.store.ListFacts(cmd.Context(), opts)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if g.jsonOut {
				return printJSON(out, facts)
			}
			for _, f := range facts {
				pos := "unverified"
				if f.EvidenceStart != nil && f.EvidenceEnd != nil {
					pos = fmt.Sprintf("%d-%d", *f.EvidenceStart, *f.EvidenceEnd)
				}
				fmt.Fprintf(out, "%s %s %s  [%.2f, %s]\n", f.Subject, f.Predicate, f.Object, f.Confidence, pos)
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.ProjectID, "project", "", "filter by project")
	f.StringVar(&opts.Status, "status", "", "filter by review status")
	f.IntVar(&opts.Limit, "limit", 0, "maximum rows (default 100)")
	return cmd
}

func newCacheCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the extraction cache",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "sweep",
		Short: "Delete expired cache entries and reset abandoned extractions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), g, chunkFlags{})
			if err != nil {
				return err
			}
			defer a.Close()
			sw, err := a.sweeper()
			if err != nil {
				return err
			}
			rep, err := sw.RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			if g.jsonOut {
				return printJSON(cmd.OutOrStdout(), rep)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Expired %d cache entries, reset %d documents\n", rep.CacheExpired, rep.DocumentsReset)
			return nil
		},
	})
	return cmd
}

func newServeCmd(g *globalFlags) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API with periodic cache sweeping",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, g, chunkFlags{})
			if err != nil {
				return err
			}
			defer a.Close()

			proc, err := a.processor()
			if err != nil {
				a.log.Warn("extraction disabled", "error", err)
			}
			sw, err := a.sweeper()
			if err != nil {
				return err
			}
			srv := api.NewServer(api.Config{
				Store:     a.store,
				Processor: proc,
				Locator:   a.locator(),
				Chunking:  a.chunking(),
				Metrics:   a.metrics,
				Log:       a.log,
			})

			eg, ctx := errgroup.WithContext(ctx)
			eg.Go(func() error { return srv.Run(ctx, addr) })
			eg.Go(func() error {
				if err := sw.Run(ctx); err != nil && ctx.Err() == nil {
					return err
				}
				return nil
			})
			return eg.Wait()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	return cmd
}

func newMCPCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Run the MCP server on stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), g, chunkFlags{})
			if err != nil {
				return err
			}
			defer a.Close()

			proc, err := a.processor()
			if err != nil {
				a.log.Warn("canon_extract disabled", "error", err)
			}
			sw, err := a.sweeper()
			if err != nil {
				return err
			}
			s, err := canonmcp.NewServer(canonmcp.ServerConfig{
				Store:     a.store,
				Processor: proc,
				Sweeper:   sw,
				Locator:   a.locator(),
				Chunking:  a.chunking(),
				Version:   version,
			})
			if err != nil {
				return err
			}
			return server.ServeStdio(s)
		},
	}
}

func newConfigCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the resolved configuration and where each value came from",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(g, chunkFlags{})
			if err != nil {
				return err
			}
			cfg = redactConfig(cfg)
			out := cmd.OutOrStdout()
			if g.jsonOut {
				return printJSON(out, cfg)
			}
			fmt.Fprintf(out, "config file: %s\n", cfg.ConfigPath)
			printValue(out, "db_path", cfg.DBPath.Value, string(cfg.DBPath.Source))
			printValue(out, "llm", cfg.LLM.Value, string(cfg.LLM.Source))
			printValue(out, "cache", cfg.Cache.Value, string(cfg.Cache.Source))
			printValue(out, "cache_ttl", cfg.CacheTTL.Value, string(cfg.CacheTTL.Source))
			printValue(out, "cache_size", cfg.CacheSize.Value, string(cfg.CacheSize.Source))
			printValue(out, "redis_addr", cfg.RedisAddr.Value, string(cfg.RedisAddr.Source))
			printValue(out, "max_chars", cfg.MaxChars.Value, string(cfg.MaxChars.Source))
			printValue(out, "overlap_chars", cfg.OverlapChars.Value, string(cfg.OverlapChars.Source))
			printValue(out, "parallelism", cfg.Parallelism.Value, string(cfg.Parallelism.Source))
			printValue(out, "locator", cfg.Locator.Value, string(cfg.Locator.Source))
			printValue(out, "log_mode", cfg.LogMode.Value, string(cfg.LogMode.Source))
			printValue(out, "log_level", cfg.LogLevel.Value, string(cfg.LogLevel.Source))
			for name, key := range cfg.LLMKeys {
				printValue(out, name+"_api_key", key.Value, string(key.Source))
			}
			return nil
		},
	}
}

func printValue(w io.Writer, name, value, source string) {
	if value == "" {
		value = "-"
	}
	fmt.Fprintf(w, "  %-16s %-40s (%s)\n", name, value, source)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "canon %s\n", version)
		},
	}
}

