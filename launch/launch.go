// Package launch runs configured jobs as supervised child processes.
package launch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gustash/proctor/config"
	"github.com/gustash/proctor/logger"
	"github.com/gustash/proctor/process"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
)

const defaultPollInterval = 50 * time.Millisecond

// ErrTimeout is recorded in Result.Err when a job outlived its timeout.
var ErrTimeout = errors.New("job timed out")

// Result describes one run of a job.
type Result struct {
	RunID    string
	Job      string
	Pid      int
	Normal   bool // exited on its own rather than by a signal
	Status   int  // exit status, -1 when killed by a signal
	Signal   unix.Signal
	Started  time.Time
	Duration time.Duration
	PeakRSS  uint64
	Err      error
}

// ExitCode maps the result to a shell-style exit code: the child's status,
// 128+signal when it was killed, 127 when the program was not found and
// 126 when it could not be executed.
func (r Result) ExitCode() int {
	switch {
	case r.Pid == 0 && errors.Is(r.Err, process.ErrProgramNotFound):
		return 127
	case r.Pid == 0 && r.Err != nil:
		return 126
	case r.Normal:
		return r.Status
	case r.Signal != 0:
		return 128 + int(r.Signal)
	default:
		return 1
	}
}

// Success reports whether the job ran and exited with status 0.
func (r Result) Success() bool {
	return r.Err == nil && r.Normal && r.Status == 0
}

// Observer is notified about job progress. Calls may come from several
// goroutines at once.
type Observer interface {
	JobStarted(job string, pid int)
	JobFinished(res Result)
}

// Options configures how jobs are run.
type Options struct {
	Registry     *process.Registry // registry every child joins (optional)
	Observer     Observer          // progress callbacks (optional)
	PollInterval time.Duration     // how often children are polled (default: 50ms)
	MaxParallel  int               // RunAll concurrency limit (default: unlimited)
}

func (o *Options) pollInterval() time.Duration {
	if o == nil || o.PollInterval <= 0 {
		return defaultPollInterval
	}
	return o.PollInterval
}

// Build turns a job into a configured, not yet started Process.
func Build(job config.Job, reg *process.Registry) (*process.Process, error) {
	if len(job.Command) == 0 {
		return nil, fmt.Errorf("job %q: %w", job.Name, process.ErrNoArguments)
	}
	env, err := config.ParseEnv(job.Env)
	if err != nil {
		return nil, fmt.Errorf("job %q: %w", job.Name, err)
	}

	var opts []process.Option
	if reg != nil {
		opts = append(opts, process.WithRegistry(reg))
	}
	p := process.New(opts...)
	p.Push(job.Command...)

	if job.Dir != "" {
		p.SetWorkDir(job.Dir)
	}
	for _, kv := range env {
		p.SetEnv(kv[0], kv[1])
	}
	if job.Stdout != "" {
		p.RedirectToPath(process.Stdout, job.Stdout)
	}
	if job.Stderr != "" {
		p.RedirectToPath(process.Stderr, job.Stderr)
	}
	if job.ProcessGroup {
		p.SetProcessGroup(0)
	}
	return p, nil
}

// Run starts the job and supervises it until it exits, its timeout
// expires or ctx is cancelled. On timeout or cancellation the child gets
// the job's stop signal, then SIGKILL once the grace period is over.
func Run(ctx context.Context, job config.Job, opts *Options) Result {
	if opts == nil {
		opts = &Options{}
	}

	res := Result{RunID: uuid.NewString(), Job: job.Name}
	log := logger.L("launch").With(logger.KeyJob, job.Name, logger.KeyRunID, res.RunID)

	finish := func() Result {
		if opts.Observer != nil {
			opts.Observer.JobFinished(res)
		}
		return res
	}

	stopSig, err := job.Signal()
	if err != nil {
		res.Err = err
		return finish()
	}

	p, err := Build(job, opts.Registry)
	if err != nil {
		res.Err = err
		return finish()
	}
	defer func() {
		if err := p.Close(); err != nil {
			log.Warn("Failed to release job resources", logger.KeyError, err)
		}
	}()

	if err := p.Start(); err != nil {
		log.Error("Failed to start job", logger.KeyError, err)
		res.Err = err
		return finish()
	}

	res.Pid, _ = p.Pid()
	res.Started = p.StartedAt()
	log = log.With(logger.KeyPID, res.Pid)
	log.Info("Job started", "command", job.Command)
	if opts.Observer != nil {
		opts.Observer.JobStarted(job.Name, res.Pid)
	}

	sampler := newRSSSampler(res.Pid)
	res.Err = supervise(ctx, p, job, stopSig, opts.pollInterval(), sampler, log)

	res.Duration = time.Since(res.Started)
	res.PeakRSS = sampler.peak()
	res.Normal = p.ExitNormal()
	res.Status = p.ExitStatus()
	res.Signal = p.TermSignal()

	log.Info("Job finished",
		"normal", res.Normal,
		"status", res.Status,
		"signal", res.Signal,
		"duration", res.Duration.Round(time.Millisecond),
		"peak_rss", res.PeakRSS,
	)
	return finish()
}

// supervise polls p until it leaves the Running state.
func supervise(ctx context.Context, p *process.Process, job config.Job, stopSig unix.Signal,
	interval time.Duration, sampler *rssSampler, log *slog.Logger) error {

	var deadline <-chan time.Time
	if job.Timeout > 0 {
		timer := time.NewTimer(job.Timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	sampler.sample()
	for {
		select {
		case <-ctx.Done():
			log.Info("Stopping job", "reason", ctx.Err())
			stopJob(p, stopSig, job.Grace, job.ProcessGroup, interval, log)
			return ctx.Err()
		case <-deadline:
			log.Warn("Job timed out", "timeout", job.Timeout)
			stopJob(p, stopSig, job.Grace, job.ProcessGroup, interval, log)
			return ErrTimeout
		case <-ticker.C:
			exited, err := p.Poll()
			if err != nil {
				return err
			}
			if exited || p.State() != process.StateRunning {
				return nil
			}
			sampler.sample()
		}
	}
}

// stopJob sends sig, waits up to grace for the child to exit and then
// kills it. The child is always reaped when stopJob returns.
func stopJob(p *process.Process, sig unix.Signal, grace time.Duration, group bool,
	interval time.Duration, log *slog.Logger) {

	if err := signalJob(p, sig, group); err != nil {
		log.Warn("Failed to signal job", logger.KeyError, err)
	}

	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		exited, err := p.Poll()
		if exited || err != nil || p.State() != process.StateRunning {
			return
		}
		time.Sleep(interval)
	}

	log.Warn("Grace period over, killing job", "grace", grace)
	if err := signalJob(p, unix.SIGKILL, group); err != nil {
		log.Warn("Failed to kill job", logger.KeyError, err)
	}
	if err := p.Wait(); err != nil {
		log.Warn("Failed to reap job", logger.KeyError, err)
	}
}

// RunAll runs jobs concurrently and returns their results in job order.
// Cancelling ctx stops every job that is still running.
func RunAll(ctx context.Context, jobs []config.Job, opts *Options) []Result {
	results := make([]Result, len(jobs))

	var g errgroup.Group
	if opts != nil && opts.MaxParallel > 0 {
		g.SetLimit(opts.MaxParallel)
	}
	for i, job := range jobs {
		g.Go(func() error {
			results[i] = Run(ctx, job, opts)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// Summary counts the results that failed.
func Summary(results []Result) (failed int) {
	for _, r := range results {
		if !r.Success() {
			failed++
		}
	}
	return failed
}

