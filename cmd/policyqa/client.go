package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"policyqa/internal/client"
	"policyqa/internal/config"
	"policyqa/internal/logging"
	"policyqa/internal/metrics"
	"policyqa/internal/rag"
	"policyqa/internal/tui"
)

func newAPI(cfg *config.Config) *client.API {
	base := serverURL
	if base == "" {
		base = cfg.Client.ServerURL
	}
	return client.NewAPI(base, nil)
}

func newPoller(cfg *config.Config, api *client.API, st *client.Store, stats *metrics.Client, onEvent func(client.Event), quiet bool) *client.Poller {
	log := logger
	if quiet {
		log = logging.Discard()
	}
	return client.NewPoller(client.PollerConfig{
		Fetcher:     api,
		Store:       st,
		Interval:    time.Duration(cfg.Client.PollIntervalSecs) * time.Second,
		MaxAttempts: cfg.Client.PollMaxAttempts,
		MarkStalled: cfg.Client.MarkStalled,
		OnEvent:     onEvent,
		Metrics:     stats,
		Logger:      log,
	})
}

func logPollSummary(stats *metrics.Client) {
	totals := stats.Totals()
	logger.Info("polling finished",
		"attempts", totals["policyqa_client_poll_attempts_total"],
		"exhausted", totals["policyqa_client_poll_exhausted_total"])
}

func uploadCmd() *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "upload <files...>",
		Short: "Upload PDF or text documents for processing",
		Long:  "Uploads the files in one batch. The batch is rejected as a whole if any file is invalid.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			api := newAPI(cfg)
			st := client.NewStore(client.State{})

			tempIDs := make([]string, len(args))
			for i, path := range args {
				tempIDs[i] = fmt.Sprintf("local-%d", i+1)
				var size int64
				if info, err := os.Stat(path); err == nil {
					size = info.Size()
				}
				st.Dispatch(client.AddOptimistic{TempID: tempIDs[i], Filename: filepath.Base(path), Size: size, At: time.Now()})
			}

			docs, err := api.Upload(ctx, args)
			if err != nil {
				for _, id := range tempIDs {
					st.Dispatch(client.UploadFailed{TempID: id, Error: err.Error()})
				}
				return fmt.Errorf("upload failed: %w", err)
			}
			for i, doc := range docs {
				if i < len(tempIDs) {
					st.Dispatch(client.ResolveUpload{TempID: tempIDs[i], Document: doc})
				}
				fmt.Printf("%-36s  %-10s  %s\n", doc.ID, doc.Status, doc.Filename)
			}
			if !watch {
				return nil
			}

			stats := metrics.NewClient()
			poller := newPoller(cfg, api, st, stats, func(ev client.Event) {
				printEvent(st, ev)
			}, false)
			for _, doc := range docs {
				poller.Start(ctx, doc.ID)
			}
			poller.Wait()
			logPollSummary(stats)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "poll until every document is ready or failed")
	return cmd
}

func printEvent(st *client.Store, ev client.Event) {
	name := ev.DocumentID
	if d, ok := st.Document(ev.DocumentID); ok {
		name = d.Filename
	}
	switch ev.Kind {
	case client.EventSkipped:
		fmt.Printf("%-24s  attempt %d: status unavailable (%v)\n", name, ev.Attempt, ev.Err)
	case client.EventProgress, client.EventTerminal:
		d, _ := st.Document(ev.DocumentID)
		line := fmt.Sprintf("%-24s  %-14s %3d%%", name, ev.Status.Label(), d.Progress)
		if d.Error != "" {
			line += "  " + d.Error
		}
		fmt.Println(line)
	case client.EventRemoved:
		fmt.Printf("%-24s  removed on the server\n", name)
	case client.EventExhausted:
		fmt.Printf("%-24s  still %s, stopped polling after %d attempts\n", name, strings.ToLower(ev.Status.Label()), ev.Attempt)
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <id>",
		Short: "Show the processing status of one document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			rep, err := newAPI(cfg).Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("id:       %s\nfile:     %s\nstatus:   %s\nchunks:   %d\nsize:     %d\n",
				rep.DocumentID, rep.Filename, rep.Status.Label(), rep.ChunksCount, rep.Size)
			if rep.Error != "" {
				fmt.Printf("error:    %s\n", rep.Error)
			}
			return nil
		},
	}
}

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List uploaded documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			docs, err := newAPI(cfg).List(cmd.Context())
			if err != nil {
				return err
			}
			if len(docs) == 0 {
				fmt.Println("No documents uploaded.")
				return nil
			}
			for _, d := range docs {
				fmt.Printf("%-36s  %-14s %3d%%  %s\n", d.ID, d.Status.Label(), d.Progress, d.Filename)
			}
			return nil
		},
	}
}

func deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a document and its indexed chunks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := newAPI(cfg).Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			logger.Info("document deleted", "id", args[0])
			return nil
		},
	}
}

func askCmd() *cobra.Command {
	var session string
	cmd := &cobra.Command{
		Use:   "ask <question...>",
		Short: "Ask a question about the ready documents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ans, err := newAPI(cfg).Ask(cmd.Context(), strings.Join(args, " "), session)
			if err != nil {
				return err
			}
			fmt.Println(ans.Text)
			if len(ans.Sources) > 0 {
				fmt.Println("\nSources:")
			}
			for _, src := range ans.Sources {
				ref := src.DocumentName
				if src.Page != nil {
					ref += fmt.Sprintf(" (page %d)", *src.Page)
				}
				fmt.Printf("  [%s] %s  score %.2f\n", src.ID, ref, src.RelevanceScore)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&session, "session", "s", "cli", "conversation session id")
	return cmd
}

func watchCmd() *cobra.Command {
	var session string
	cmd := &cobra.Command{
		Use:   "watch [ids...]",
		Short: "Open the interactive dashboard",
		Long:  "Shows every document with live status, polling the ones still in progress, and a chat tab. Pass ids to poll only those.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			api := newAPI(cfg)
			docs, err := api.List(ctx)
			if err != nil {
				return err
			}
			st := client.NewStore(client.State{})
			st.Dispatch(client.SetDocuments{Documents: docs})

			stats := metrics.NewClient()
			poller := newPoller(cfg, api, st, stats, nil, true)
			targets := args
			if len(targets) == 0 {
				for _, d := range docs {
					if !d.Status.Terminal() {
						targets = append(targets, d.ID)
					}
				}
			}
			for _, id := range targets {
				poller.Start(ctx, id)
			}

			_, err = tea.NewProgram(tui.New(st, api, session), tea.WithAltScreen()).Run()
			cancel()
			poller.StopAll()
			poller.Wait()
			logPollSummary(stats)
			return err
		},
	}
	cmd.Flags().StringVarP(&session, "session", "s", rag.DefaultSession, "conversation session id")
	return cmd
}
