package main

import (
	"errors"
	"os"
	"time"

	"github.com/gustash/proctor/config"
	"github.com/gustash/proctor/launch"
	"github.com/gustash/proctor/logger"
	"github.com/gustash/proctor/process"
	"github.com/gustash/proctor/progress"
	"github.com/spf13/cobra"
)

func newUpCmd(opts *globalOptions) *cobra.Command {
	var (
		only        []string
		maxParallel int
		noProgress  bool
	)

	cmd := &cobra.Command{
		Use:   "up",
		Short: "Run every job of a job file",
		Long: `Run the jobs declared in the job file concurrently and wait for all of
them to finish. Use --only to pick jobs by name.

Ctrl+C terminates every running job and exits with 130.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			if errs := cfg.Validate(); len(errs) > 0 {
				for _, e := range errs {
					logger.Error("Invalid job file", logger.KeyError, e)
				}
				return errors.New("job file has errors, see `proctor check`")
			}

			jobs, err := cfg.Select(only)
			if err != nil {
				return err
			}
			if len(jobs) == 0 {
				logger.Warn("No jobs to run")
				return nil
			}

			reg := process.NewRegistry()
			handler, err := process.InstallInterruptHandler(reg, process.WithChain(func(os.Signal) {
				logger.Warn("Interrupted, jobs terminated", "count", len(jobs))
			}))
			if err != nil {
				return err
			}
			defer handler.Stop()

			runOpts := &launch.Options{Registry: reg, MaxParallel: maxParallel}

			var board *progress.Board
			if format, _ := logger.ParseFormat(cfg.LogFormat); !noProgress && format != logger.FormatJSON {
				board = progress.New(cmd.OutOrStdout(), jobNames(jobs))
				runOpts.Observer = board
			}

			logger.Info("Starting jobs", "count", len(jobs))
			results := launch.RunAll(cmd.Context(), jobs, runOpts)
			if board != nil {
				board.Wait()
			}

			reportResults(results)

			if failed := launch.Summary(results); failed > 0 {
				logger.Error("Some jobs failed", "failed", failed, "total", len(results))
				return &exitError{code: 1}
			}
			logger.Info("All jobs succeeded", "total", len(results))
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&only, "only", nil, "Run only the named job (repeatable)")
	cmd.Flags().IntVarP(&maxParallel, "max-parallel", "j", 0, "Maximum number of jobs running at once (0 = all)")
	cmd.Flags().BoolVar(&noProgress, "no-progress", false, "Disable the progress board")

	return cmd
}

func reportResults(results []launch.Result) {
	for _, r := range results {
		args := []any{
			logger.KeyJob, r.Job,
			logger.KeyRunID, r.RunID,
			"outcome", progress.Describe(r),
			"duration", r.Duration.Round(time.Millisecond),
		}
		if r.Err != nil {
			args = append(args, logger.KeyError, r.Err)
		}
		if r.Success() {
			logger.Info("Job result", args...)
		} else {
			logger.Warn("Job result", args...)
		}
	}
}

// jobNames lists the names of jobs, in order.
func jobNames(jobs []config.Job) []string {
	names := make([]string, len(jobs))
	for i, j := range jobs {
		names[i] = j.Name
	}
	return names
}
