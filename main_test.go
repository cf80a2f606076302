package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gustash/proctor/config"
	"github.com/gustash/proctor/logger"
	"github.com/gustash/proctor/process"
	"github.com/spf13/viper"
)

func TestMain(m *testing.M) {
	process.Init()
	os.Exit(m.Run())
}

// execute runs the CLI with args against a clean config state.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	viper.Reset()
	config.SetTestConfigDir(t.TempDir())
	t.Cleanup(func() {
		viper.Reset()
		config.SetTestConfigDir("")
	})

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func writeJobFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "proctor.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write job file: %v", err)
	}
	return path
}

func TestExitCode(t *testing.T) {
	if got := exitCode(nil); got != 0 {
		t.Errorf("exitCode(nil) = %d", got)
	}
	if got := exitCode(&exitError{code: 42}); got != 42 {
		t.Errorf("exitCode(exitError 42) = %d", got)
	}
	if got := exitCode(errors.New("boom")); got != 1 {
		t.Errorf("exitCode(error) = %d", got)
	}
}

func TestRunCommand_ExitStatus(t *testing.T) {
	_, err := execute(t, "run", "--", "sh", "-c", "exit 3")

	var ee *exitError
	if !errors.As(err, &ee) || ee.code != 3 {
		t.Fatalf("run = %v, want exit status 3", err)
	}
}

func TestRunCommand_JSONLogs(t *testing.T) {
	var logs bytes.Buffer
	logger.SetOutput(&logs)
	t.Cleanup(func() {
		logger.SetFormat(logger.FormatText)
		logger.SetLevel(logger.LevelInfo)
		logger.SetOutput(os.Stderr)
	})

	if _, err := execute(t, "--log-format", "json", "run", "--name", "json", "--", "true"); err != nil {
		t.Fatalf("run with JSON logs failed: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(logs.String()), "\n")
	if len(lines) == 0 || lines[0] == "" {
		t.Fatal("no log records written")
	}
	for _, line := range lines {
		var rec map[string]any
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			t.Fatalf("log line is not JSON: %q", line)
		}
	}
	if !strings.Contains(logs.String(), `"job":"json"`) {
		t.Errorf("job attribute missing from %q", logs.String())
	}
}

func TestRunCommand_Redirect(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out.log")
	_, err := execute(t, "run", "--stdout", out, "-e", "WHO=world", "--", "sh", "-c", "echo hello $WHO")
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("failed to read output: %v", err)
	}
	if strings.TrimSpace(string(data)) != "hello world" {
		t.Errorf("output = %q", data)
	}
}

func TestRunCommand_NotFound(t *testing.T) {
	_, err := execute(t, "run", "--", "proctor-test-no-such-program")

	var ee *exitError
	if !errors.As(err, &ee) || ee.code != 127 {
		t.Fatalf("run = %v, want exit status 127", err)
	}
}

func TestRunCommand_Timeout(t *testing.T) {
	_, err := execute(t, "run", "--timeout", "200ms", "--grace", "1s", "--", "sleep", "30")

	var ee *exitError
	if !errors.As(err, &ee) || ee.code != 143 {
		t.Fatalf("run = %v, want exit status 143", err)
	}
}

func TestRunCommand_InvalidFlags(t *testing.T) {
	_, err := execute(t, "run", "--env", "NOEQUALS", "--", "true")
	if err == nil || !strings.Contains(err.Error(), "NOEQUALS") {
		t.Errorf("run with a bad --env = %v", err)
	}

	_, err = execute(t, "run", "--log-level", "chatty", "--", "true")
	if err == nil {
		t.Error("run accepted an unknown log level")
	}
}

const jobFile = `
jobs:
  - name: hello
    command: [sh, -c, "echo hello"]
  - name: quick
    command: ["true"]
    timeout: 10s
`

func TestCheckCommand(t *testing.T) {
	path := writeJobFile(t, jobFile)

	out, err := execute(t, "check", "--config", path)
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if !strings.Contains(out, "2 job(s)") {
		t.Errorf("output = %q", out)
	}
}

func TestCheckCommand_Print(t *testing.T) {
	path := writeJobFile(t, jobFile)

	out, err := execute(t, "check", "--print", "--config", path)
	if err != nil {
		t.Fatalf("check --print failed: %v", err)
	}
	for _, want := range []string{"name: hello", "timeout: 10s", "grace: 5s", "stop_signal: SIGTERM"} {
		if !strings.Contains(out, want) {
			t.Errorf("output is missing %q:\n%s", want, out)
		}
	}
}

func TestCheckCommand_Invalid(t *testing.T) {
	path := writeJobFile(t, `
jobs:
  - name: broken
    stop_signal: NOPE
`)

	out, err := execute(t, "check", "--config", path)
	if err == nil {
		t.Fatal("check accepted an invalid job file")
	}
	if !strings.Contains(out, "command is required") || !strings.Contains(out, "unknown signal") {
		t.Errorf("output = %q", out)
	}
}

func TestUpCommand(t *testing.T) {
	path := writeJobFile(t, jobFile)

	if _, err := execute(t, "up", "--no-progress", "--config", path); err != nil {
		t.Fatalf("up failed: %v", err)
	}
}

func TestUpCommand_WithBoard(t *testing.T) {
	path := writeJobFile(t, jobFile)

	out, err := execute(t, "up", "--only", "quick", "--config", path)
	if err != nil {
		t.Fatalf("up failed: %v", err)
	}
	if strings.Contains(out, "hello") {
		t.Errorf("--only quick also ran hello: %q", out)
	}
}

func TestUpCommand_Failure(t *testing.T) {
	path := writeJobFile(t, `
jobs:
  - name: ok
    command: ["true"]
  - name: bad
    command: [sh, -c, "exit 5"]
`)

	_, err := execute(t, "up", "--no-progress", "--config", path)
	var ee *exitError
	if !errors.As(err, &ee) || ee.code != 1 {
		t.Fatalf("up = %v, want exit status 1", err)
	}

	if _, err := execute(t, "up", "--only", "missing", "--config", path); err == nil {
		t.Error("up --only with an unknown job succeeded")
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "proctor dev") {
		t.Errorf("version output = %q", out)
	}
}
