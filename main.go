// main.go
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/gustash/proctor/config"
	"github.com/gustash/proctor/logger"
	"github.com/gustash/proctor/process"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

// exitError makes the command exit with code without printing anything
// more; the outcome has already been logged.
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

func main() {
	// Must run before anything else: in a launcher child it never returns.
	process.Init()

	os.Exit(exitCode(newRootCmd().Execute()))
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	fmt.Fprintln(os.Stderr, err)
	return 1
}

type globalOptions struct {
	cfgFile string
	verbose bool
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:   "proctor",
		Short: "Run and supervise external processes",
		Long: `proctor starts commands as supervised child processes, reports why a
launch failed, enforces timeouts and stops every child when interrupted.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.cfgFile, "config", "", "Job file (default is $XDG_CONFIG_HOME/proctor/proctor.yaml or ./proctor.yaml)")
	flags.String("log-level", "", "Log level: debug, info, warn, error")
	flags.String("log-format", "", "Log format: text or json")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "Enable debug logging")

	_ = viper.BindPFlag("log_level", flags.Lookup("log-level"))
	_ = viper.BindPFlag("log_format", flags.Lookup("log-format"))

	rootCmd.AddCommand(newRunCmd(opts))
	rootCmd.AddCommand(newUpCmd(opts))
	rootCmd.AddCommand(newCheckCmd(opts))
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

// loadConfig reads the job file and applies its logging settings.
func loadConfig(opts *globalOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.cfgFile)
	if err != nil {
		return nil, err
	}
	if err := setupLogging(cfg, opts.verbose); err != nil {
		return nil, err
	}
	if used := config.Used(); used != "" {
		logger.Debug("Loaded config", "path", used)
	}
	return cfg, nil
}

func setupLogging(cfg *config.Config, verbose bool) error {
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	if verbose {
		level = logger.LevelDebug
	}
	format, err := logger.ParseFormat(cfg.LogFormat)
	if err != nil {
		return err
	}
	logger.SetLevel(level)
	logger.SetFormat(format)
	return nil
}
