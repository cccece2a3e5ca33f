// Command ingest builds or extends the local index from documents on disk,
// object storage or the web.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"ragdesk/backend/go/internal/config"
	"ragdesk/backend/go/internal/rag_service/rag/pipeline"
	"ragdesk/backend/go/internal/rag_service/service"
	"ragdesk/backend/go/pkg/logger"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

type options struct {
	configPath string
	reset      bool
	all        bool
	pattern    string
	dataDir    string
	onError    string
	jsonOutput bool
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "ingest [source...]",
		Short: "Ingest documents into the RAG index",
		Long: `Loads, chunks and embeds documents and appends them to the configured index.

Without arguments the single document matching the configured pattern under the
data directory is ingested. Sources may be file paths, http(s) URLs or
minio://bucket/key objects.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts, args)
		},
	}

	defaultConfig := os.Getenv("CONFIG_PATH")
	if defaultConfig == "" {
		defaultConfig = "config/config.yaml"
	}
	f := cmd.Flags()
	f.StringVarP(&opts.configPath, "config", "c", defaultConfig, "path to the YAML configuration")
	f.BoolVar(&opts.reset, "reset", false, "clear the index before writing")
	f.BoolVar(&opts.all, "all", false, "ingest every document matching the pattern instead of exactly one")
	f.StringVar(&opts.pattern, "pattern", "", "document pattern under the data directory (default from config)")
	f.StringVar(&opts.dataDir, "data-dir", "", "directory searched when no source is given (default from config)")
	f.StringVar(&opts.onError, "on-error", "", "what a failing source does: abort or skip (default from config)")
	f.BoolVar(&opts.jsonOutput, "json", false, "print the report as JSON")
	return cmd
}

func run(cmd *cobra.Command, opts *options, args []string) error {
	cfg, err := config.LoadConfig(opts.configPath)
	if err != nil {
		return err
	}
	if opts.pattern != "" {
		cfg.Ingest.Pattern = opts.pattern
	}
	if opts.dataDir != "" {
		cfg.Ingest.DataDir = opts.dataDir
	}
	if opts.onError != "" && opts.onError != string(pipeline.OnErrorAbort) && opts.onError != string(pipeline.OnErrorSkip) {
		return fmt.Errorf("--on-error must be abort or skip, got %q", opts.onError)
	}
	if err := logger.Init(cfg.Logger.Level, os.Stderr); err != nil {
		return err
	}
	log := logger.New("ingest")

	sources := args
	if len(sources) == 0 {
		sources, err = service.DiscoverSources(cfg.Ingest, opts.all)
		if err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// a reset rebuilds the index, so it may also change the embedding model
	var svcOpts []service.Option
	if opts.reset {
		svcOpts = append(svcOpts, service.WithModelChange())
	}
	svc, err := service.New(ctx, cfg, log, svcOpts...)
	if err != nil {
		return err
	}
	defer svc.Close()

	report, err := svc.Ingest(ctx, service.IngestRequest{
		Sources: sources,
		Reset:   opts.reset,
		OnError: pipeline.OnError(opts.onError),
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if opts.jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	fmt.Fprintf(out, "Ingested %d document(s): %d page(s), %d chunk(s), %d record(s) written.\n",
		len(report.Sources), report.Pages, report.Chunks, report.Records)
	for _, s := range report.Skipped {
		fmt.Fprintf(out, "Skipped %s (%s): %s\n", s.Source, s.Kind, s.Error)
	}
	return nil
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to read .env: %v\n", err)
	}
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "ingest failed: %v\n", err)
		os.Exit(1)
	}
}
