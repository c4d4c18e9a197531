package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/fractal-lba/banditd/internal/journal"
	"github.com/fractal-lba/banditd/internal/orchestrator"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func replayCmd() *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay a feedback journal into a fresh orchestrator",
		Long: `Feeds every journaled feedback event, oldest file first, into a newly
built orchestrator and prints the resulting performance summary as JSON.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer logger.Sync()

			if dir == "" {
				dir = cfg.Journal.Dir
			}
			if dir == "" {
				return fmt.Errorf("no journal directory: pass --dir or set journal.dir")
			}

			orch, err := orchestrator.New(cfg.Orchestrator(), logger)
			if err != nil {
				return err
			}
			if _, err := replayJournal(cmd.Context(), dir, orch, logger); err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(orch.PerformanceSummary())
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "", "Journal directory (defaults to journal.dir)")
	return cmd
}

// replayJournal applies every journaled feedback event to orch.
func replayJournal(ctx context.Context, dir string, orch *orchestrator.Orchestrator, logger *zap.Logger) (journal.ReplayStats, error) {
	applied := 0
	stats, err := journal.Replay(dir, func(e journal.Entry) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if orch.ProvideFeedback(ctx, e.Feedback) {
			applied++
		}
		return nil
	})
	if err != nil {
		return stats, fmt.Errorf("failed to replay journal: %w", err)
	}

	logger.Info("journal replayed",
		zap.String("dir", dir),
		zap.Int("files", stats.Files),
		zap.Int("entries", stats.Entries),
		zap.Int("malformed", stats.Malformed),
		zap.Int("applied", applied))
	return stats, nil
}
