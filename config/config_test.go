package config

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"golang.org/x/sys/unix"
)

const sampleJobs = `
log_level: debug
grace: 2s
jobs:
  - name: web
    command: [python3, -m, http.server]
    dir: /srv
    env: [PORT=8080, MixedCase=yes]
    stdout: /tmp/web.log
    process_group: true
    timeout: 1m
  - name: worker
    command: [sh, -c, "sleep 5"]
    grace: 10s
    stop_signal: INT
`

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func loadFresh(t *testing.T, cfgFile string) *Config {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)

	cfg, err := Load(cfgFile)
	if err != nil {
		t.Fatalf("Load(%q) = %v", cfgFile, err)
	}
	return cfg
}

func TestLoad(t *testing.T) {
	cfg := loadFresh(t, writeConfig(t, "jobs.yaml", sampleJobs))

	if cfg.LogLevel != "debug" || cfg.LogFormat != "text" || cfg.Grace != 2*time.Second {
		t.Errorf("top level = %+v", cfg)
	}
	if len(cfg.Jobs) != 2 {
		t.Fatalf("got %d jobs, want 2", len(cfg.Jobs))
	}

	web := cfg.Jobs[0]
	if !slices.Equal(web.Command, []string{"python3", "-m", "http.server"}) {
		t.Errorf("Command = %v", web.Command)
	}
	if !slices.Equal(web.Env, []string{"PORT=8080", "MixedCase=yes"}) {
		t.Errorf("Env = %v", web.Env)
	}
	if web.Dir != "/srv" || web.Stdout != "/tmp/web.log" || !web.ProcessGroup || web.Timeout != time.Minute {
		t.Errorf("web = %+v", web)
	}
	if web.Grace != 2*time.Second || web.StopSignal != "SIGTERM" {
		t.Errorf("web defaults: grace=%s signal=%q", web.Grace, web.StopSignal)
	}

	worker := cfg.Jobs[1]
	if worker.Grace != 10*time.Second {
		t.Errorf("explicit grace overwritten: %s", worker.Grace)
	}
	if sig, err := worker.Signal(); err != nil || sig != unix.SIGINT {
		t.Errorf("worker.Signal() = %v, %v", sig, err)
	}

	if errs := cfg.Validate(); len(errs) != 0 {
		t.Errorf("Validate() = %v", errs)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("PROCTOR_LOG_FORMAT", "json")
	t.Setenv("PROCTOR_LOG_LEVEL", "warn")

	cfg := loadFresh(t, writeConfig(t, "jobs.yaml", sampleJobs))

	if cfg.LogFormat != "json" || cfg.LogLevel != "warn" {
		t.Errorf("env overrides ignored: level=%q format=%q", cfg.LogLevel, cfg.LogFormat)
	}
}

func TestLoadDefaultLocation(t *testing.T) {
	dir := t.TempDir()
	SetTestConfigDir(dir)
	defer SetTestConfigDir("")

	cfg := loadFresh(t, "")
	if len(cfg.Jobs) != 0 || cfg.LogLevel != "info" {
		t.Errorf("missing default file should yield defaults, got %+v", cfg)
	}

	if err := os.WriteFile(filepath.Join(dir, "proctor.yaml"), []byte(sampleJobs), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg = loadFresh(t, "")
	if len(cfg.Jobs) != 2 {
		t.Errorf("got %d jobs from the config directory", len(cfg.Jobs))
	}
	if Used() != filepath.Join(dir, "proctor.yaml") {
		t.Errorf("Used() = %q", Used())
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("Load of a missing explicit file succeeded")
	}
}

func TestLoadJSON(t *testing.T) {
	cfg := loadFresh(t, writeConfig(t, "jobs.json",
		`{"jobs":[{"name":"one","command":["true"],"timeout":"3s"}]}`))

	if len(cfg.Jobs) != 1 || cfg.Jobs[0].Timeout != 3*time.Second {
		t.Errorf("jobs = %+v", cfg.Jobs)
	}
}

func TestSelect(t *testing.T) {
	cfg := &Config{Jobs: []Job{{Name: "a"}, {Name: "b"}, {Name: "c"}}}

	all, err := cfg.Select(nil)
	if err != nil || len(all) != 3 {
		t.Fatalf("Select(nil) = %v, %v", all, err)
	}

	some, err := cfg.Select([]string{"c", "a"})
	if err != nil {
		t.Fatal(err)
	}
	if len(some) != 2 || some[0].Name != "a" || some[1].Name != "c" {
		t.Errorf("Select keeps config order, got %+v", some)
	}

	if _, err := cfg.Select([]string{"zzz"}); err == nil || !strings.Contains(err.Error(), "zzz") {
		t.Errorf("Select(unknown) = %v", err)
	}
}
