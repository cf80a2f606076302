package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// PROCTOR_LOG_LEVEL.
const EnvPrefix = "PROCTOR"

// Config is the job file: logging settings, the default grace period and
// the jobs to supervise.
type Config struct {
	LogLevel  string        `mapstructure:"log_level"`
	LogFormat string        `mapstructure:"log_format"`
	Grace     time.Duration `mapstructure:"grace"`
	Jobs      []Job         `mapstructure:"jobs"`
}

// Job is one command to supervise. Env entries are KEY=VALUE strings so
// that key case survives the config loader.
type Job struct {
	Name         string        `mapstructure:"name"`
	Command      []string      `mapstructure:"command"`
	Dir          string        `mapstructure:"dir"`
	Env          []string      `mapstructure:"env"`
	Stdout       string        `mapstructure:"stdout"`
	Stderr       string        `mapstructure:"stderr"`
	ProcessGroup bool          `mapstructure:"process_group"`
	Timeout      time.Duration `mapstructure:"timeout"`
	Grace        time.Duration `mapstructure:"grace"`
	StopSignal   string        `mapstructure:"stop_signal"`
}

const (
	defaultLogLevel   = "info"
	defaultLogFormat  = "text"
	defaultGrace      = 5 * time.Second
	defaultStopSignal = "SIGTERM"
)

// Default returns the configuration used when no job file sets a value.
func Default() *Config {
	return &Config{
		LogLevel:  defaultLogLevel,
		LogFormat: defaultLogFormat,
		Grace:     defaultGrace,
	}
}

// Load reads cfgFile, or proctor.yaml from the config directory or the
// working directory when cfgFile is empty. A missing default file is not
// an error; a missing explicit one is.
func Load(cfgFile string) (*Config, error) {
	cfg := Default()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("proctor")
		viper.SetConfigType("yaml")
		if dir, err := configDir(); err == nil {
			viper.AddConfigPath(dir)
		}
		viper.AddConfigPath(".")
	}

	// Defaults make the keys known to viper, so AutomaticEnv can fill them
	// in during Unmarshal.
	viper.SetDefault("log_level", cfg.LogLevel)
	viper.SetDefault("log_format", cfg.LogFormat)
	viper.SetDefault("grace", cfg.Grace)

	viper.SetEnvPrefix(EnvPrefix)
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.applyJobDefaults()

	return cfg, nil
}

// Used reports the config file Load read, or "" if none was found.
func Used() string {
	return viper.ConfigFileUsed()
}

func (c *Config) applyJobDefaults() {
	for i := range c.Jobs {
		j := &c.Jobs[i]
		if j.Grace == 0 {
			j.Grace = c.Grace
		}
		if j.StopSignal == "" {
			j.StopSignal = defaultStopSignal
		}
	}
}

// Select returns the jobs with the given names in config order, or every
// job when names is empty.
func (c *Config) Select(names []string) ([]Job, error) {
	if len(names) == 0 {
		return c.Jobs, nil
	}

	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}

	var jobs []Job
	for _, j := range c.Jobs {
		if want[j.Name] {
			jobs = append(jobs, j)
			delete(want, j.Name)
		}
	}
	for n := range want {
		return nil, fmt.Errorf("no job named %q", n)
	}
	return jobs, nil
}

// testConfigDir can be set during tests to override the config directory
var testConfigDir string

// SetTestConfigDir sets the config directory for testing purposes.
// Pass empty string to reset to default behavior.
func SetTestConfigDir(dir string) {
	testConfigDir = dir
}

// configDir returns the configuration directory path (e.g., ~/.config/proctor)
func configDir() (string, error) {
	if testConfigDir != "" {
		return testConfigDir, nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "proctor"), nil
}
