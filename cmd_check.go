package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/gustash/proctor/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// jobView is the normalized form of a job printed by check --print.
type jobView struct {
	Name         string   `yaml:"name"`
	Command      []string `yaml:"command,flow"`
	Dir          string   `yaml:"dir,omitempty"`
	Env          []string `yaml:"env,omitempty"`
	Stdout       string   `yaml:"stdout,omitempty"`
	Stderr       string   `yaml:"stderr,omitempty"`
	ProcessGroup bool     `yaml:"process_group,omitempty"`
	Timeout      string   `yaml:"timeout,omitempty"`
	Grace        string   `yaml:"grace"`
	StopSignal   string   `yaml:"stop_signal"`
}

func newJobView(j config.Job) jobView {
	v := jobView{
		Name:         j.Name,
		Command:      j.Command,
		Dir:          j.Dir,
		Env:          j.Env,
		Stdout:       j.Stdout,
		Stderr:       j.Stderr,
		ProcessGroup: j.ProcessGroup,
		Grace:        j.Grace.String(),
		StopSignal:   j.StopSignal,
	}
	if j.Timeout > 0 {
		v.Timeout = j.Timeout.String()
	}
	return v
}

func newCheckCmd(opts *globalOptions) *cobra.Command {
	var show bool

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate a job file",
		Long: `Load the job file, apply defaults and environment overrides, and report
every problem found. With --print the resulting jobs are written as YAML.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			errs := cfg.Validate()
			for _, e := range errs {
				fmt.Fprintf(out, "✗ %v\n", e)
			}
			if len(errs) > 0 {
				return fmt.Errorf("%d problem(s) found", len(errs))
			}

			if show {
				return printJobs(out, cfg.Jobs)
			}

			src := config.Used()
			if src == "" {
				return errors.New("no job file found")
			}
			fmt.Fprintf(out, "✓ %s: %d job(s)\n", src, len(cfg.Jobs))
			return nil
		},
	}

	cmd.Flags().BoolVarP(&show, "print", "p", false, "Print the normalized jobs as YAML")

	return cmd
}

func printJobs(w io.Writer, jobs []config.Job) error {
	views := make([]jobView, len(jobs))
	for i, j := range jobs {
		views[i] = newJobView(j)
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(map[string][]jobView{"jobs": views}); err != nil {
		return fmt.Errorf("failed to encode jobs: %w", err)
	}
	return enc.Close()
}
