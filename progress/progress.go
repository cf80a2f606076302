// Package progress renders a live status board for running jobs.
package progress

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gustash/proctor/launch"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"golang.org/x/sys/unix"
)

// Board shows one spinner row per job. It implements launch.Observer.
type Board struct {
	p    *mpb.Progress
	mu   sync.Mutex
	rows map[string]*row
}

type row struct {
	bar    *mpb.Bar
	status atomic.Value // string
	done   atomic.Bool
}

// Option configures a Board.
type Option func(*config)

type config struct {
	refresh     time.Duration
	autoRefresh bool
}

// WithRefreshRate sets how often the board is redrawn.
func WithRefreshRate(d time.Duration) Option {
	return func(c *config) { c.refresh = d }
}

// WithAutoRefresh keeps redrawing even when w is not a terminal.
func WithAutoRefresh() Option {
	return func(c *config) { c.autoRefresh = true }
}

// New creates a board writing to w with a row for each job, in order.
func New(w io.Writer, jobs []string, opts ...Option) *Board {
	cfg := config{refresh: 150 * time.Millisecond}
	for _, opt := range opts {
		opt(&cfg)
	}

	popts := []mpb.ContainerOption{
		mpb.WithOutput(w),
		mpb.WithRefreshRate(cfg.refresh),
	}
	if cfg.autoRefresh {
		popts = append(popts, mpb.WithAutoRefresh())
	}

	b := &Board{
		p:    mpb.New(popts...),
		rows: make(map[string]*row, len(jobs)),
	}

	width := 0
	for _, name := range jobs {
		width = max(width, len(name))
	}
	for _, name := range jobs {
		b.addRow(name, width)
	}
	return b
}

func (b *Board) addRow(name string, width int) {
	r := &row{}
	r.status.Store("pending")

	r.bar = b.p.AddSpinner(0,
		mpb.PrependDecorators(
			decor.Name(name, decor.WC{W: width + 1, C: decor.DindentRight}),
		),
		mpb.AppendDecorators(
			decor.Any(func(decor.Statistics) string {
				return r.status.Load().(string)
			}, decor.WC{C: decor.DextraSpace}),
			decor.Elapsed(decor.ET_STYLE_GO, decor.WC{W: 6}),
		),
	)

	b.mu.Lock()
	b.rows[name] = r
	b.mu.Unlock()
}

func (b *Board) row(name string) *row {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rows[name]
}

// JobStarted marks the job as running.
func (b *Board) JobStarted(job string, pid int) {
	if r := b.row(job); r != nil {
		r.status.Store(fmt.Sprintf("running (pid %d)", pid))
	}
}

// JobFinished records the outcome and completes the job's row.
func (b *Board) JobFinished(res launch.Result) {
	r := b.row(res.Job)
	if r == nil || r.done.Swap(true) {
		return
	}
	r.status.Store(Describe(res))
	r.bar.SetTotal(-1, true)
}

// Status returns the text currently shown for job.
func (b *Board) Status(job string) string {
	if r := b.row(job); r != nil {
		return r.status.Load().(string)
	}
	return ""
}

// Wait aborts rows of jobs that never finished and waits for the final
// redraw.
func (b *Board) Wait() {
	b.mu.Lock()
	for _, r := range b.rows {
		if !r.done.Swap(true) {
			r.bar.Abort(false)
		}
	}
	b.mu.Unlock()

	b.p.Wait()
}

// Describe summarizes a job result in a few words.
func Describe(res launch.Result) string {
	var s string
	switch {
	case res.Pid == 0 && res.Err != nil:
		return "failed: " + res.Err.Error()
	case errors.Is(res.Err, launch.ErrTimeout):
		s = "timed out"
	case res.Normal && res.Status == 0:
		s = "ok"
	case res.Normal:
		s = fmt.Sprintf("exit %d", res.Status)
	case res.Signal != 0:
		s = "killed by " + unix.SignalName(res.Signal)
	default:
		s = "abnormal exit"
	}
	if res.PeakRSS > 0 {
		s += ", peak " + FormatBytes(int64(res.PeakRSS))
	}
	return s
}

// FormatBytes formats bytes in human-readable form.
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
