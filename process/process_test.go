package process

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
)

func TestPushAndClear(t *testing.T) {
	p := New(WithArgs("echo"))
	p.Push("a", "b")

	if got := p.Arguments(); !slices.Equal(got, []string{"echo", "a", "b"}) {
		t.Fatalf("Arguments() = %v", got)
	}

	p.SetWorkDir("/tmp")
	p.SetEnv("K", "V")
	p.RedirectToPath(Stdout, "/tmp/out.log")
	p.SetProcessGroup(0)

	p.Clear()

	if got := p.Arguments(); len(got) != 0 {
		t.Errorf("Arguments() after Clear = %v, want empty", got)
	}
	if p.WorkDir() != "/tmp" {
		t.Errorf("WorkDir() = %q, want /tmp", p.WorkDir())
	}
	if v, ok := p.Env("K"); !ok || v != "V" {
		t.Errorf("Env(K) = %q, %v; want V, true", v, ok)
	}
	if r := p.Redirection(Stdout); r.Kind != TargetPath || r.Path != "/tmp/out.log" {
		t.Errorf("Redirection(Stdout) = %+v", r)
	}
	if pgid, ok := p.ProcessGroup(); !ok || pgid != 0 {
		t.Errorf("ProcessGroup() = %d, %v; want 0, true", pgid, ok)
	}
}

func TestArgumentsIsACopy(t *testing.T) {
	p := New(WithArgs("echo", "x"))
	args := p.Arguments()
	args[0] = "changed"

	if got := p.Arguments()[0]; got != "echo" {
		t.Errorf("mutating the returned slice changed the process: %q", got)
	}
}

func TestEnvOverrides(t *testing.T) {
	p := New()
	p.SetEnv("K", "first")
	p.SetEnv("K", "second")

	if v, _ := p.Env("K"); v != "second" {
		t.Errorf("last write should win, got %q", v)
	}

	p.UnsetEnv("K")
	if _, ok := p.Env("K"); ok {
		t.Error("UnsetEnv did not remove the override")
	}

	p.SetEnv("A", "1")
	p.SetEnv("B", "2")
	p.ClearEnv()
	if _, ok := p.Env("A"); ok {
		t.Error("ClearEnv did not remove overrides")
	}
}

func TestRequestSnapshot(t *testing.T) {
	p := New(WithArgs("prog", "arg"))
	p.SetEnv("ZED", "z")
	p.SetEnv("ALPHA", "a=b")
	p.SetWorkDir("/work")
	p.SetProcessGroup(42)

	req := p.request()

	if !slices.Equal(req.Env, []string{"ALPHA=a=b", "ZED=z"}) {
		t.Errorf("Env = %v, want sorted KEY=VALUE pairs", req.Env)
	}
	if req.Dir != "/work" || !req.SetPgid || req.Pgid != 42 {
		t.Errorf("request = %+v", req)
	}

	p.Push("more")
	if len(req.Args) != 2 {
		t.Errorf("request shares the argument slice: %v", req.Args)
	}
}

func TestRedirectionReplaceClosesOwned(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "owned-*")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}

	p := New()
	p.RedirectToFile(Stderr, f, true)
	if r := p.Redirection(Stderr); r.Kind != TargetFile || !r.Owned {
		t.Fatalf("Redirection(Stderr) = %+v", r)
	}

	p.RedirectToPath(Stderr, filepath.Join(t.TempDir(), "err.log"))

	if err := f.Close(); !errors.Is(err, os.ErrClosed) {
		t.Errorf("owned file should already be closed, Close() = %v", err)
	}
}

func TestEraseRedirectionKeepsUnowned(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "unowned-*")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}
	defer f.Close()

	p := New()
	p.RedirectToFile(Stdout, f, false)
	p.EraseRedirection(Stdout)

	if r := p.Redirection(Stdout); r.Kind != TargetInherit {
		t.Errorf("Redirection(Stdout) = %+v, want inherited", r)
	}
	if _, err := f.Stat(); err != nil {
		t.Errorf("unowned file was closed: %v", err)
	}
}

func TestCloseReleasesOwnedRedirection(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "owned-*")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}

	p := New()
	p.RedirectToFile(Stdout, f, true)
	if err := p.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}
	if err := f.Close(); !errors.Is(err, os.ErrClosed) {
		t.Errorf("owned file should be closed by Close, got %v", err)
	}
}

func TestStartWithoutArguments(t *testing.T) {
	p := New()
	if err := p.Start(); !errors.Is(err, ErrNoArguments) {
		t.Errorf("Start() = %v, want ErrNoArguments", err)
	}
	if p.State() != StateNotStarted {
		t.Errorf("State() = %v", p.State())
	}
}

func TestNotStartedOperations(t *testing.T) {
	p := New(WithArgs("true"))

	if err := p.Signal(9); err != nil {
		t.Errorf("Signal on a process that is not running = %v", err)
	}
	if err := p.Wait(); err != nil {
		t.Errorf("Wait on a process that is not running = %v", err)
	}
	if changed, err := p.Poll(); changed || err != nil {
		t.Errorf("Poll() = %v, %v", changed, err)
	}
	if p.Running() {
		t.Error("Running() = true")
	}
	if _, ok := p.Pid(); ok {
		t.Error("Pid() reported a pid")
	}
	p.Detach()
	if p.State() != StateNotStarted {
		t.Errorf("Detach changed state to %v", p.State())
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateNotStarted, "not-started"},
		{StateRunning, "running"},
		{StateExited, "exited"},
		{StateDetached, "detached"},
		{State(99), "unknown(99)"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", int(tt.state), got, tt.want)
		}
	}
}
