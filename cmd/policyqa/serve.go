package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"policyqa/internal/api"
	"policyqa/internal/bus"
	"policyqa/internal/config"
	"policyqa/internal/domain"
	"policyqa/internal/ingest"
	"policyqa/internal/knowledge"
	"policyqa/internal/logging"
	"policyqa/internal/metrics"
	"policyqa/internal/pipeline"
	"policyqa/internal/provider"
	"policyqa/internal/rag"
	"policyqa/internal/store"
)

func serveCmd() *cobra.Command {
	var (
		host string
		port int
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the ingestion pipeline and HTTP API",
		Long:  "Starts the document pipeline workers and the HTTP API. Press Ctrl+C to stop.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if host != "" {
				cfg.Server.Host = host
			}
			if port != 0 {
				cfg.Server.Port = port
			}
			return runServe(cfg)
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "listen host (default: server.host)")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (default: server.port)")
	return cmd
}

func runServe(cfg *config.Config) error {
	log, closer, err := logging.New(cfg.General)
	if err != nil {
		return err
	}
	defer closer.Close()

	if err := os.MkdirAll(cfg.General.DataDir, 0o755); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	handle, err := store.Open(cfg.Storage, log)
	if err != nil {
		return fmt.Errorf("document store: %w", err)
	}
	defer handle.Close()

	var index domain.KnowledgeIndex
	if handle.SQLite != nil {
		index = knowledge.NewSQLiteIndex(handle.SQLite.DB())
	} else {
		index = knowledge.NewMemoryIndex()
	}

	files, err := ingest.NewFileStore(cfg.Upload.Dir, log)
	if err != nil {
		return fmt.Errorf("upload dir: %w", err)
	}

	machine := ingest.NewMachine(ingest.MachineConfig{
		Store:       handle.Documents,
		Files:       files,
		Index:       index,
		MaxFileSize: cfg.Upload.MaxFileSize,
		Metrics:     m,
		Logger:      log,
	})

	queue := bus.New(cfg.Pipeline.QueueSize, log)
	runner := pipeline.NewRunner(pipeline.RunnerConfig{
		Machine:      machine,
		Queue:        queue,
		Extractor:    &pipeline.FileExtractor{},
		Chunker:      knowledge.NewChunker(cfg.Knowledge.ChunkSize, cfg.Knowledge.ChunkOverlap),
		Index:        index,
		Workers:      cfg.Pipeline.Workers,
		StageTimeout: time.Duration(cfg.Pipeline.StageTimeoutSeconds) * time.Second,
		Metrics:      m,
		Logger:       log,
	})

	prov := provider.NewFactory(cfg.LLM, log).Build()
	if prov == nil {
		log.Warn("no language model configured, chat is disabled until an API key is set")
	} else if err := prov.Healthy(ctx); err != nil {
		log.Warn("provider unhealthy at startup", "provider", prov.Name(), "err", err)
	} else {
		log.Info("provider healthy", "provider", prov.Name())
	}

	ragSvc := rag.NewService(rag.Config{
		Provider:    prov,
		Index:       index,
		Documents:   machine,
		Sessions:    rag.NewSessions(cfg.LLM.MaxHistory, cfg.LLM.MaxSessions),
		TopK:        cfg.Knowledge.SearchTopK,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
		Metrics:     m,
		Logger:      log,
	})

	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Endpoint
	}
	srv := api.New(api.Config{
		Host:           cfg.Server.Host,
		Port:           cfg.Server.Port,
		CORSOrigins:    cfg.Server.CORSOrigins,
		RequestTimeout: time.Duration(cfg.Server.RequestTimeoutSeconds) * time.Second,
		MaxFiles:       cfg.Upload.MaxFiles,
		MetricsPath:    metricsPath,
		Machine:        machine,
		Pipeline:       runner,
		RAG:            ragSvc,
		Metrics:        m,
		Logger:         log,
		Version:        version,
	})

	g, gctx := errgroup.WithContext(ctx)
	// Workers drain the recovered jobs; the API opens only once recovery has
	// settled every document left over from the previous run.
	g.Go(func() error { return runner.Run(gctx) })
	if _, err := runner.Recover(gctx); err != nil {
		log.Warn("recovery failed", "err", err)
	}
	g.Go(func() error { return srv.Start(gctx) })

	err = g.Wait()
	queue.Close()
	log.Info("shutdown complete")
	return err
}
