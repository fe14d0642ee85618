package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/buildmaster/buildmaster/internal/app"
	"github.com/buildmaster/buildmaster/internal/knowledge"
)

var vectorizeCmd = &cobra.Command{
	Use:   "vectorize",
	Short: "Embed and index all unvectorized knowledge items, then exit",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runVectorize(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(vectorizeCmd)
}

func runVectorize(parent context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := newLogger()

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	report, err := a.Vectorizer.VectorizeBacklog(ctx)
	if errors.Is(err, knowledge.ErrBatchRunning) {
		return errors.New("another vectorize run holds the lock")
	}
	if err != nil {
		return fmt.Errorf("vectorizing backlog: %w", err)
	}

	fmt.Printf("processed: %d\nfailed: %d\n", report.Processed, report.Failed)
	return nil
}
