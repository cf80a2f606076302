package config

import (
	"fmt"
	"strings"

	"github.com/gustash/proctor/logger"
	"golang.org/x/sys/unix"
)

// Validate checks the config for invalid values and returns all errors found.
func (c *Config) Validate() []error {
	var errs []error

	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	if _, err := logger.ParseFormat(c.LogFormat); err != nil {
		errs = append(errs, fmt.Errorf("log_format: %w", err))
	}
	if c.Grace < 0 {
		errs = append(errs, fmt.Errorf("grace %s is negative", c.Grace))
	}

	seen := make(map[string]bool, len(c.Jobs))
	for i, j := range c.Jobs {
		label := j.Name
		if label == "" {
			label = fmt.Sprintf("jobs[%d]", i)
			errs = append(errs, fmt.Errorf("%s: name is required", label))
		} else if seen[j.Name] {
			errs = append(errs, fmt.Errorf("%s: duplicate job name", label))
		}
		seen[j.Name] = true

		for _, err := range j.Validate() {
			errs = append(errs, fmt.Errorf("%s: %w", label, err))
		}
	}

	return errs
}

// Validate checks a single job.
func (j *Job) Validate() []error {
	var errs []error

	if len(j.Command) == 0 || j.Command[0] == "" {
		errs = append(errs, fmt.Errorf("command is required"))
	}
	if _, err := ParseEnv(j.Env); err != nil {
		errs = append(errs, err)
	}
	if j.Timeout < 0 {
		errs = append(errs, fmt.Errorf("timeout %s is negative", j.Timeout))
	}
	if j.Grace < 0 {
		errs = append(errs, fmt.Errorf("grace %s is negative", j.Grace))
	}
	if _, err := j.Signal(); err != nil {
		errs = append(errs, err)
	}

	return errs
}

// Signal resolves StopSignal. Names are accepted with or without the SIG
// prefix; an empty name means SIGTERM.
func (j *Job) Signal() (unix.Signal, error) {
	return ParseSignal(j.StopSignal)
}

// ParseSignal converts a signal name such as "TERM" or "SIGINT".
func ParseSignal(name string) (unix.Signal, error) {
	name = strings.ToUpper(strings.TrimSpace(name))
	if name == "" {
		return unix.SIGTERM, nil
	}
	if !strings.HasPrefix(name, "SIG") {
		name = "SIG" + name
	}
	sig := unix.SignalNum(name)
	if sig == 0 {
		return 0, fmt.Errorf("unknown signal %q", name)
	}
	return sig, nil
}

// ParseEnv splits KEY=VALUE entries. The value may contain '='.
func ParseEnv(entries []string) ([][2]string, error) {
	pairs := make([][2]string, 0, len(entries))
	for _, e := range entries {
		k, v, ok := strings.Cut(e, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("env entry %q is not KEY=VALUE", e)
		}
		pairs = append(pairs, [2]string{k, v})
	}
	return pairs, nil
}
