package main

import (
	"fmt"
	"os"
	"time"

	"github.com/gustash/proctor/config"
	"github.com/gustash/proctor/launch"
	"github.com/gustash/proctor/logger"
	"github.com/gustash/proctor/process"
	"github.com/spf13/cobra"
)

func newRunCmd(opts *globalOptions) *cobra.Command {
	var (
		name       string
		dir        string
		env        []string
		stdout     string
		stderr     string
		newGroup   bool
		timeout    time.Duration
		grace      time.Duration
		stopSignal string
	)

	cmd := &cobra.Command{
		Use:   "run [flags] -- <program> [args...]",
		Short: "Run a single command under supervision",
		Long: `Run a single command as a supervised child process.

Everything after -- is passed verbatim as the command and its arguments;
no shell is involved. The exit status of proctor is the exit status of the
command, or 128+signal if it was killed. A command that could not be
started exits with 127 when the program was not found and 126 otherwise.

Ctrl+C terminates the command and exits with 130.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}

			if name == "" {
				name = args[0]
			}
			if !cmd.Flags().Changed("grace") {
				grace = cfg.Grace
			}

			job := config.Job{
				Name:         name,
				Command:      args,
				Dir:          dir,
				Env:          env,
				Stdout:       stdout,
				Stderr:       stderr,
				ProcessGroup: newGroup,
				Timeout:      timeout,
				Grace:        grace,
				StopSignal:   stopSignal,
			}
			if errs := job.Validate(); len(errs) > 0 {
				return fmt.Errorf("invalid command: %w", errs[0])
			}

			reg := process.NewRegistry()
			handler, err := process.InstallInterruptHandler(reg, process.WithChain(func(os.Signal) {
				logger.Warn("Interrupted, command terminated", logger.KeyJob, name)
			}))
			if err != nil {
				return err
			}
			defer handler.Stop()

			res := launch.Run(cmd.Context(), job, &launch.Options{Registry: reg})
			if res.Err != nil && res.Pid == 0 {
				logger.Error("Command could not be started", logger.KeyJob, name, logger.KeyError, res.Err)
			}

			if code := res.ExitCode(); code != 0 {
				return &exitError{code: code}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Name used in logs (default: the program)")
	cmd.Flags().StringVarP(&dir, "dir", "C", "", "Working directory of the command")
	cmd.Flags().StringArrayVarP(&env, "env", "e", nil, "Set an environment variable (KEY=VALUE, repeatable)")
	cmd.Flags().StringVar(&stdout, "stdout", "", "Write the command's stdout to this file")
	cmd.Flags().StringVar(&stderr, "stderr", "", "Write the command's stderr to this file")
	cmd.Flags().BoolVar(&newGroup, "new-group", false, "Run the command in its own process group")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Stop the command after this long (0 = no limit)")
	cmd.Flags().DurationVar(&grace, "grace", 5*time.Second, "Time between the stop signal and SIGKILL")
	cmd.Flags().StringVar(&stopSignal, "signal", "SIGTERM", "Signal sent on timeout")

	return cmd
}
