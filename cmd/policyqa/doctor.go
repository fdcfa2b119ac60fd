package main

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"policyqa/internal/config"
	"policyqa/internal/provider"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your installation",
		Long: `Verifies that the configuration, storage, upload directory and
language model providers are set up. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("policyqa doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			passed, warned, failed := 0, 0, 0

			if _, err := os.Stat(config.ExpandPath(cfgPath)); err != nil {
				printWarn("Config file", fmt.Sprintf("not found at %s, using defaults", cfgPath))
				warned++
			} else {
				printPass("Config file", cfgPath)
				passed++
			}

			cfg, err := loadConfig()
			if err != nil {
				printFail("Config validation", err.Error())
				fmt.Printf("\n%d passed, %d failed\n", passed, failed+1)
				return err
			}
			printPass("Config validation", "valid")
			passed++

			if err := checkDir(cfg.Upload.Dir); err != nil {
				printFail("Upload dir", err.Error())
				failed++
			} else {
				printPass("Upload dir", cfg.Upload.Dir)
				passed++
			}

			switch cfg.Storage.Driver {
			case "sqlite":
				if err := checkDatabase(cfg.Storage.DBPath); err != nil {
					printFail("Database", err.Error())
					failed++
				} else {
					printPass("Database", cfg.Storage.DBPath)
					passed++
				}
			default:
				printWarn("Database", "memory driver, documents are lost on restart")
				warned++
			}

			factory := provider.NewFactory(cfg.LLM, logger)
			usable := factory.Usable()
			for name, p := range cfg.LLM.Providers {
				if p.Enabled && p.APIKey == "" {
					printWarn("Provider: "+name, "enabled but no API key configured")
					warned++
				}
			}
			if len(usable) == 0 {
				printWarn("Providers", "none usable, chat will answer 424 until a key is set")
				warned++
			} else {
				ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
				if err := factory.Build().Healthy(ctx); err != nil {
					printWarn("Providers", fmt.Sprintf("%v unreachable: %v", usable, err))
					warned++
				} else {
					printPass("Providers", fmt.Sprintf("%v", usable))
					passed++
				}
				cancel()
			}

			if err := checkPort(cfg.Server.Host, cfg.Server.Port); err != nil {
				// A running server is the other common reason the port is taken.
				if _, herr := newAPI(cfg).Health(cmd.Context()); herr == nil {
					printPass("Server", fmt.Sprintf("already running on :%d", cfg.Server.Port))
					passed++
				} else {
					printWarn("Server port", fmt.Sprintf("port %d may be in use: %v", cfg.Server.Port, err))
					warned++
				}
			} else {
				printPass("Server port", fmt.Sprintf(":%d available", cfg.Server.Port))
				passed++
			}

			if cfg.General.LogFile != "" {
				if err := checkDir(filepath.Dir(cfg.General.LogFile)); err != nil {
					printWarn("Log file", fmt.Sprintf("cannot create log directory: %v", err))
					warned++
				} else {
					printPass("Log file", cfg.General.LogFile)
					passed++
				}
			}

			fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				fmt.Printf("\nPlease fix the failed checks before running 'policyqa serve'.\n")
				return fmt.Errorf("%d check(s) failed", failed)
			}
			if warned > 0 {
				fmt.Printf("\npolicyqa should work but consider fixing the warnings.\n")
			} else {
				fmt.Printf("\nAll checks passed.\n")
			}
			return nil
		},
	}
}

// checkDir creates dir if needed and verifies it is writable.
func checkDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create %s: %w", dir, err)
	}
	f, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	f.Close()
	return os.Remove(f.Name())
}

func checkDatabase(dbPath string) error {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("cannot create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return fmt.Errorf("cannot open: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("cannot ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS _doctor_test (id INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	db.ExecContext(ctx, "DROP TABLE IF EXISTS _doctor_test")

	return nil
}

func checkPort(host string, port int) error {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, fmt.Sprint(port)))
	if err != nil {
		return err
	}
	return ln.Close()
}

func printPass(check, detail string) {
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func printFail(check, detail string) {
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func printWarn(check, detail string) {
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}
