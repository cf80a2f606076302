package launch

import (
	"sync"

	"github.com/shirou/gopsutil/v3/process"
)

// rssSampler tracks the peak resident set size of a child. Sampling is
// best effort: a child that vanished between polls is simply not sampled.
type rssSampler struct {
	mu   sync.Mutex
	proc *process.Process
	max  uint64
}

func newRSSSampler(pid int) *rssSampler {
	s := &rssSampler{}
	if p, err := process.NewProcess(int32(pid)); err == nil {
		s.proc = p
	}
	return s
}

func (s *rssSampler) sample() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.proc == nil {
		return
	}
	if memInfo, err := s.proc.MemoryInfo(); err == nil && memInfo != nil && memInfo.RSS > s.max {
		s.max = memInfo.RSS
	}
}

func (s *rssSampler) peak() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.max
}
