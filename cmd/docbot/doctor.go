package main

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"docbot/internal/domain"
	"docbot/internal/provider"
)

type doctorReport struct {
	passed, warned, failed int
}

func (r *doctorReport) pass(check, detail string) {
	r.passed++
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func (r *doctorReport) warn(check, detail string) {
	r.warned++
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}

func (r *doctorReport) fail(check, detail string) {
	r.failed++
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your docbot installation",
		Long: `Verifies that docbot's configuration, data directory, database, embedder
and generator are correctly set up. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("docbot doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			r := &doctorReport{}

			if _, err := os.Stat(cfgPath); err != nil {
				r.warn("Config file", fmt.Sprintf("not found at %s, using defaults", cfgPath))
			} else {
				r.pass("Config file", cfgPath)
			}

			cfg, err := loadConfig()
			if err != nil {
				r.fail("Config validation", err.Error())
				fmt.Printf("\n%d passed, %d failed\n", r.passed, r.failed)
				return err
			}
			r.pass("Config validation", "valid")

			checkDataDir(r, cfg.General.DataDir)

			if cfg.Memory.Enabled {
				if err := checkDatabase(cfg.Memory.DBPath); err != nil {
					r.fail("Database", err.Error())
				} else {
					r.pass("Database", cfg.Memory.DBPath)
				}
			} else {
				r.warn("Database", "memory disabled, history and feedback are not persisted")
			}

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			factory := provider.NewFactory(cfg, logger)

			if emb, err := factory.Embedder(); err != nil {
				r.fail("Embedder", err.Error())
			} else if vecs, err := emb.Embed(ctx, []string{"docbot doctor"}); err != nil {
				r.fail("Embedder", fmt.Sprintf("%s: %v", emb.Name(), err))
			} else {
				r.pass("Embedder", fmt.Sprintf("%s (%d dimensions)", emb.Name(), len(vecs[0])))
			}

			if gen, err := factory.Generator(); err != nil {
				r.fail("Generator", err.Error())
			} else if hc, ok := gen.(domain.HealthChecker); ok {
				if err := hc.Healthy(ctx); err != nil {
					r.warn("Generator", fmt.Sprintf("%s unhealthy: %v", gen.Name(), err))
				} else {
					r.pass("Generator", gen.Name())
				}
			} else {
				r.pass("Generator", gen.Name())
			}

			if cfg.Channels.Web.Enabled {
				addr := fmt.Sprintf("%s:%d", cfg.Channels.Web.Host, cfg.Channels.Web.Port)
				if err := checkPort(addr); err != nil {
					r.warn("Web port", fmt.Sprintf("%s may be in use: %v", addr, err))
				} else {
					r.pass("Web port", addr+" available")
				}
			}
			if cfg.MCP.Transport == "http" {
				if err := checkPort(cfg.MCP.Addr); err != nil {
					r.warn("MCP port", fmt.Sprintf("%s may be in use: %v", cfg.MCP.Addr, err))
				} else {
					r.pass("MCP port", cfg.MCP.Addr+" available")
				}
			}

			for name, ok := range map[string]bool{
				"Telegram": !cfg.Channels.Telegram.Enabled || cfg.Channels.Telegram.Token != "",
				"Slack":    !cfg.Channels.Slack.Enabled || (cfg.Channels.Slack.BotToken != "" && cfg.Channels.Slack.AppToken != ""),
				"Discord":  !cfg.Channels.Discord.Enabled || cfg.Channels.Discord.Token != "",
			} {
				if !ok {
					r.fail(name, "enabled but credentials are missing")
				}
			}

			// Summary
			fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", r.passed, r.warned, r.failed)
			if r.failed > 0 {
				fmt.Printf("\nPlease fix the failed checks before running docbot.\n")
				return fmt.Errorf("%d check(s) failed", r.failed)
			}
			if r.warned > 0 {
				fmt.Printf("\ndocbot should work but consider fixing the warnings.\n")
			} else {
				fmt.Printf("\nAll checks passed! docbot is ready to run.\n")
			}
			return nil
		},
	}
}

// checkDataDir reports whether the data dir exists and holds anything a
// loader could read.
func checkDataDir(r *doctorReport, dir string) {
	info, err := os.Stat(dir)
	switch {
	case err != nil:
		r.fail("Data directory", fmt.Sprintf("not found: %s (run 'docbot init')", dir))
		return
	case !info.IsDir():
		r.fail("Data directory", fmt.Sprintf("not a directory: %s", dir))
		return
	}
	files := 0
	filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err == nil && !d.IsDir() && !strings.HasPrefix(d.Name(), ".") {
			files++
		}
		return nil
	})
	if files == 0 {
		r.warn("Data directory", fmt.Sprintf("%s is empty", dir))
		return
	}
	r.pass("Data directory", fmt.Sprintf("%s (%d files)", dir, files))
}

func checkDatabase(dbPath string) error {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("cannot create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return fmt.Errorf("cannot open: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("cannot ping: %w", err)
	}

	// Try a write.
	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS _doctor_test (id INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	db.ExecContext(ctx, "DROP TABLE IF EXISTS _doctor_test")

	return nil
}

func checkPort(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}
