package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/torosent/loadforge/internal/config"
)

// Exit codes.
const (
	exitOK        = 0
	exitError     = 1
	exitAborted   = 2
	exitThreshold = 3
)

// exitCodeError carries a non-zero exit status out of a command.
type exitCodeError struct {
	code int
	err  error
}

func (e *exitCodeError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitCodeError) Unwrap() error { return e.err }

func withCode(code int, err error) error {
	if code == exitOK {
		return nil
	}
	return &exitCodeError{code: code, err: err}
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	cancel()
	os.Exit(code)
}

// run executes the CLI and maps the outcome to a process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(args, stdout, stderr)
	root.SetArgs(normalizeSortArgs(args))
	err := root.ExecuteContext(ctx)
	if err == nil {
		return exitOK
	}
	var coded *exitCodeError
	if errors.As(err, &coded) {
		if coded.err != nil && coded.code == exitError {
			fmt.Fprintf(stderr, "Error: %v\n", coded.err)
		}
		return coded.code
	}
	fmt.Fprintf(stderr, "Error: %v\n", err)
	return exitError
}

func newRootCmd(args []string, stdout, stderr io.Writer) *cobra.Command {
	// Placeholders in the config and templates files become flags, so they
	// have to be discovered before cobra parses anything.
	placeholderNames := config.DiscoverPlaceholders(
		config.ScanFlag(args, "config", config.DefaultConfigFile),
		config.ScanFlag(args, "templates-file", config.DefaultTemplatesFile),
	)

	root := &cobra.Command{
		Use:           "loadforge",
		Short:         "HTTP load generator with templated random request bodies",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	root.AddCommand(
		newSingleCmd(placeholderNames, stdout, stderr),
		newMultiCmd(placeholderNames, stdout, stderr),
		newExtractCmd(stdout, stderr),
	)
	return root
}

func newSingleCmd(placeholderNames []string, stdout, stderr io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "single [concurrent] [duration]",
		Short: "Run one load test instance in this process",
		Args:  cobra.MaximumNArgs(2),
	}
	config.RegisterFlags(cmd.Flags(), config.ModeSingle)
	config.RegisterPlaceholderFlags(cmd.Flags(), placeholderNames)
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd, args, config.ModeSingle, placeholderNames)
		if err != nil {
			return withCode(exitError, err)
		}
		return runSingle(cmd.Context(), cfg, stdout, stderr)
	}
	return cmd
}

func newMultiCmd(placeholderNames []string, stdout, stderr io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "multi [instances] [concurrent] [duration]",
		Short: "Run several load test instances as separate processes",
		Args:  cobra.MaximumNArgs(3),
	}
	config.RegisterFlags(cmd.Flags(), config.ModeMulti)
	config.RegisterPlaceholderFlags(cmd.Flags(), placeholderNames)
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd, args, config.ModeMulti, placeholderNames)
		if err != nil {
			return withCode(exitError, err)
		}
		return runMulti(cmd.Context(), cfg, cmd.Flags(), stdout, stderr)
	}
	return cmd
}

func loadConfig(cmd *cobra.Command, args []string, mode config.Mode, placeholderNames []string) (*config.Config, error) {
	cfg, err := config.NewLoader().Load(cmd.Flags(), args, mode, placeholderNames)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
