package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"docbot/internal/answer"
	"docbot/internal/domain"
	"docbot/internal/memory"
	"docbot/internal/provider"
)

func ingestCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Load, chunk and embed the data directory and report the result",
		Long: `Runs one full rebuild of the corpus from general.dataDir and prints the
ingest report: documents, chunks, sources and every skipped file with its
reason. The corpus lives in memory, so long-running surfaces (serve, chat,
tui, mcp) run the same rebuild at startup; use this command to check a data
directory before serving it.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			p, err := buildPipeline(ctx, cfg, pipelineOptions{})
			if err != nil {
				return err
			}
			defer p.Close()

			report, err := p.ingest(ctx)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(report)
			}
			fmt.Printf("Indexed %s\n", report.DataDir)
			fmt.Printf("  generation: %d\n", report.Generation)
			fmt.Printf("  documents:  %d\n", report.Documents)
			fmt.Printf("  chunks:     %d\n", report.Chunks)
			fmt.Printf("  sources:    %d\n", report.Sources)
			fmt.Printf("  duration:   %s\n", report.Duration.Round(time.Millisecond))
			if len(report.Skipped) > 0 {
				fmt.Printf("  skipped:    %d\n", len(report.Skipped))
				for _, s := range report.Skipped {
					fmt.Printf("    - %s: %s\n", s.Source, s.Reason)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	return cmd
}

func askCmd() *cobra.Command {
	var (
		k         int
		sessionID string
		snippets  bool
	)
	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Answer one question and stream the reply to stdout",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			p, err := buildPipeline(ctx, cfg, pipelineOptions{ingest: true, requireCorpus: true})
			if err != nil {
				return err
			}
			defer p.Close()

			if sessionID == "" {
				sessionID = "ask"
			}
			req := answer.Request{Query: strings.Join(args, " "), K: k, SessionID: sessionID}
			res, err := streamAnswer(ctx, p.assembler, req, snippets)
			if err != nil {
				return err
			}
			if res.Err != nil {
				return fmt.Errorf("generation failed: %w", res.Err)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&k, "k", "k", 0, "number of chunks to retrieve (default: knowledge.searchTopK)")
	cmd.Flags().StringVar(&sessionID, "session", "", "session id the turn is recorded under")
	cmd.Flags().BoolVar(&snippets, "snippets", false, "print the retrieved snippets before the answer")
	return cmd
}

// streamAnswer prints tokens as they arrive. Snippets go to stderr so the
// answer on stdout stays pipeable.
func streamAnswer(ctx context.Context, a *answer.Assembler, req answer.Request, showSnippets bool) (*answer.Result, error) {
	out := make(chan domain.StreamEvent, 16)
	var (
		res *answer.Result
		err error
	)
	go func() {
		defer close(out)
		res, err = a.Answer(ctx, req, out)
	}()

	for ev := range out {
		switch ev.Type {
		case domain.StreamSnippets:
			if showSnippets {
				printResults(os.Stderr, ev.Results)
			}
		case domain.StreamToken:
			fmt.Print(ev.Content)
		case domain.StreamError:
			fmt.Println(ev.Content)
		case domain.StreamDone:
			fmt.Println()
		}
	}
	return res, err
}

func searchCmd() *cobra.Command {
	var (
		k     int
		fuzzy bool
		jsonO bool
	)
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Show the chunks a question retrieves, without generating an answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			p, err := buildPipeline(ctx, cfg, pipelineOptions{ingest: true, requireCorpus: true})
			if err != nil {
				return err
			}
			defer p.Close()

			query := strings.Join(args, " ")
			if k <= 0 {
				k = cfg.Knowledge.SearchTopK
			}
			var results []domain.RetrievalResult
			if fuzzy {
				results, err = p.engine.FuzzySearch(query, k)
			} else {
				results, err = p.engine.Retrieve(ctx, query, k)
			}
			if err != nil {
				return err
			}
			if jsonO {
				return printJSON(results)
			}
			if len(results) == 0 {
				fmt.Println("No matches.")
				return nil
			}
			printResults(os.Stdout, results)
			return nil
		},
	}
	cmd.Flags().IntVarP(&k, "k", "k", 0, "number of results (default: knowledge.searchTopK)")
	cmd.Flags().BoolVar(&fuzzy, "fuzzy", false, "use fuzzy string matching instead of embeddings")
	cmd.Flags().BoolVar(&jsonO, "json", false, "print results as JSON")
	return cmd
}

func printResults(f *os.File, results []domain.RetrievalResult) {
	for i, r := range results {
		fmt.Fprintf(f, "[%d] %s (chunk %d, score %.3f)\n", i+1, r.Source, r.ChunkID, r.Score)
		fmt.Fprintf(f, "    %s\n\n", strings.ReplaceAll(strings.TrimSpace(r.Text), "\n", "\n    "))
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show corpus and generator status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			p, err := buildPipeline(ctx, cfg, pipelineOptions{ingest: true})
			if err != nil {
				return err
			}
			defer p.Close()

			st := p.engine.Status()
			logger.Info("config", "path", resolveConfigPath(), "data_dir", cfg.General.DataDir)
			logger.Info("corpus", "ready", st.Ready, "chunks", st.Chunks, "sources", st.Sources, "metric", st.Metric, "dimensions", st.Dimensions)

			gen, err := provider.NewFactory(cfg, logger).Generator()
			if err != nil {
				logger.Info("generator", "healthy", false, "err", err)
				return nil
			}
			hc, ok := gen.(domain.HealthChecker)
			if !ok {
				logger.Info("generator", "name", gen.Name())
				return nil
			}
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			if err := hc.Healthy(pingCtx); err != nil {
				logger.Info("generator", "name", gen.Name(), "healthy", false, "err", err)
			} else {
				logger.Info("generator", "name", gen.Name(), "healthy", true)
			}
			return nil
		},
	}
}

// openStore opens the history database directly; history and feedback
// commands do not need the corpus.
func openStore() (*memory.SQLiteStore, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if !cfg.Memory.Enabled {
		return nil, fmt.Errorf("memory is disabled (set memory.enabled to true)")
	}
	return memory.NewSQLiteStore(cfg.Memory.DBPath, memory.Options{MaxHistory: cfg.Memory.MaxHistory, Logger: logger})
}

func historyCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history [session]",
		Short: "List recent sessions, or print the messages of one session",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()
			ctx := context.Background()

			if len(args) == 0 {
				sessions, err := store.Sessions(ctx, limit)
				if err != nil {
					return err
				}
				if len(sessions) == 0 {
					fmt.Println("No sessions yet.")
					return nil
				}
				for _, s := range sessions {
					fmt.Printf("%-40s %4d messages  %s\n", s.SessionID, s.Messages, s.LastActivity.Local().Format(time.DateTime))
				}
				return nil
			}

			msgs, err := store.Read(ctx, args[0], limit)
			if err != nil {
				return err
			}
			for _, m := range msgs {
				fmt.Printf("#%d [%s] %s\n%s\n\n", m.ID, m.Role, m.CreatedAt.Local().Format(time.DateTime), m.Content)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "maximum sessions or messages to show")
	return cmd
}

func feedbackCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "feedback",
		Short: "Record or inspect feedback on answers",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "message [message-id] [up|down]",
		Short: "Vote on one assistant message",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid message id %q", args[0])
			}
			vote := domain.Vote(args[1])
			if !vote.Valid() {
				return fmt.Errorf("vote must be %q or %q", domain.VoteUp, domain.VoteDown)
			}
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()
			if err := store.RecordMessageFeedback(context.Background(), id, vote); err != nil {
				return err
			}
			logger.Info("feedback recorded", "message_id", id, "feedback", vote)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "session [session-id] [rating 1-5]",
		Short: "Rate a whole session",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rating, err := strconv.Atoi(args[1])
			if err != nil || rating < 1 || rating > 5 {
				return fmt.Errorf("rating must be an integer from 1 to 5")
			}
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()
			if err := store.RecordSessionFeedback(context.Background(), args[0], rating); err != nil {
				return err
			}
			logger.Info("rating recorded", "session_id", args[0], "rating", rating)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show [message-id]",
		Short: "List the votes recorded for one message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid message id %q", args[0])
			}
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()
			votes, err := store.MessageFeedback(context.Background(), id)
			if err != nil {
				return err
			}
			return printJSON(votes)
		},
	})

	return cmd
}
