package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"auction-bulkops/internal/bootstrap"
	"auction-bulkops/internal/config"
	"auction-bulkops/internal/logging"
	"auction-bulkops/internal/models"
)

const pollInterval = 500 * time.Millisecond

type runOptions struct {
	file      string
	db        string
	submitter string
}

func newRunCommand() *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Import one file and print progress until it finishes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				return err
			}
			if opts.db != "" {
				cfg.DB.Driver = "sqlite"
				cfg.DB.Path = opts.db
			}
			if err := logging.Setup(cfg.Log.Level, cfg.Log.Format); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			job, err := runImport(ctx, cfg, opts, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			if job.Status == models.StatusFailed || job.Status == models.StatusCancelled {
				return fmt.Errorf("import %s: %s", job.Status, job.ErrorMessage)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&opts.file, "file", "f", "", "CSV, TSV or XLSX file to import")
	cmd.Flags().StringVar(&opts.db, "db", "", "SQLite database file (overrides db.path)")
	cmd.Flags().StringVar(&opts.submitter, "submitter", "cli", "submitter id recorded on the job")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

// runImport submits the file to an in-process engine, drives the worker
// and prints a progress line on every change until the job is terminal.
func runImport(ctx context.Context, cfg config.Config, opts *runOptions, out io.Writer) (models.ProgressSnapshot, error) {
	f, err := os.Open(opts.file)
	if err != nil {
		return models.ProgressSnapshot{}, fmt.Errorf("cannot open %s: %w", opts.file, err)
	}
	defer f.Close()

	// A single-file run never needs the submission throttle.
	cfg.RateLimit.PerMinute = 0

	engine, err := bootstrap.NewEngine(ctx, cfg)
	if err != nil {
		return models.ProgressSnapshot{}, err
	}
	defer func() {
		if err := engine.Close(); err != nil {
			log.Warn().Err(err).Msg("error closing engine")
		}
	}()

	jobID, err := engine.Service.Submit(ctx, opts.submitter, opts.submitter, filepath.Base(opts.file), f)
	if err != nil {
		return models.ProgressSnapshot{}, err
	}
	engine.Queue.Close()

	var final models.ProgressSnapshot
	g, gctx := errgroup.WithContext(ctx)
	done := make(chan struct{})

	g.Go(func() error {
		defer close(done)
		return engine.Worker.Run(gctx)
	})

	g.Go(func() error {
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()

		var last models.ProgressSnapshot
		for {
			select {
			case <-done:
			case <-ticker.C:
			}

			snap, err := engine.Service.GetProgress(context.WithoutCancel(gctx), jobID)
			if err != nil {
				return err
			}
			if snap.Status != last.Status || snap.ProcessedItems != last.ProcessedItems {
				printProgress(out, snap)
				last = snap
			}
			if snap.Status.IsTerminal() {
				final = snap
				return nil
			}
			select {
			case <-done:
				return errors.New("worker stopped before the import finished")
			default:
			}
		}
	})

	if err := g.Wait(); err != nil {
		return final, err
	}
	printSummary(out, final)
	return final, nil
}

func printProgress(out io.Writer, snap models.ProgressSnapshot) {
	line := fmt.Sprintf("%-22s %6.2f%%  %d/%d  ok=%d failed=%d",
		snap.Status, snap.Percentage, snap.ProcessedItems, snap.TotalItems, snap.SuccessCount, snap.FailureCount)
	if snap.EstimatedSecondsRemaining != nil && !snap.Status.IsTerminal() {
		line += fmt.Sprintf("  eta=%s", time.Duration(*snap.EstimatedSecondsRemaining*float64(time.Second)).Round(time.Second))
	}
	fmt.Fprintln(out, line)
}

func printSummary(out io.Writer, snap models.ProgressSnapshot) {
	fmt.Fprintf(out, "job %s finished: %s\n", snap.JobID, snap.Status)
	if snap.ErrorMessage != "" {
		fmt.Fprintf(out, "  error: %s\n", snap.ErrorMessage)
	}
	for _, e := range snap.RecentErrors {
		fmt.Fprintf(out, "  row %d: %s\n", e.RowNumber, e.Message)
	}
	if snap.FailureCount > len(snap.RecentErrors) {
		fmt.Fprintf(out, "  ... %d more failed rows\n", snap.FailureCount-len(snap.RecentErrors))
	}
}
