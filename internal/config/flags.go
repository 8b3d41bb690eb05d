package config

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/torosent/loadforge/internal/placeholders"
)

// Mode distinguishes the run commands, which differ in positional arguments.
type Mode string

const (
	ModeSingle Mode = "single"
	ModeMulti  Mode = "multi"
)

// RegisterFlags registers the run flags shared by single and multi.
func RegisterFlags(flags *pflag.FlagSet, mode Mode) {
	// Target flags
	flags.String("config", DefaultConfigFile, "Path to configuration file (JSON or YAML)")
	flags.String("url", "", "Target URL (overrides target.host + target.endpoint)")
	flags.String("method", "", "HTTP method (overrides target.method, default POST)")
	flags.StringSlice("header", nil, "Additional request header in key=value form")
	flags.String("templates-file", DefaultTemplatesFile, "Path to the request templates file")
	flags.String("templates", "", "Template filter, e.g. 'create,update' or '^slow'")
	flags.String("selection", "round-robin", "Template selection: round-robin or random")

	// Load control flags
	flags.IntP("concurrency", "c", DefaultConcurrency, "Concurrent requests (per instance in multi mode)")
	flags.StringP("duration", "d", DefaultDuration.String(), "Test duration (seconds or Go duration, e.g. 30 or 1m)")
	flags.String("delay", "0", "Delay after each request per slot (seconds or Go duration)")
	flags.Int("max-errors", DefaultMaxErrors, "Abort after this many failed requests (0 disables)")
	flags.Duration("drain-timeout", 0, "Grace period for in-flight requests when the run stops (default 5s)")
	flags.IntP("rate", "r", 0, "Requests per second limit (0 means unlimited)")
	flags.Duration("timeout", DefaultTimeout, "Per-request timeout")
	flags.Int("max-retries", 0, "Recorded in the summary; requests are never retried")

	// Output flags
	flags.BoolP("verbose", "v", false, "Log response details")
	flags.Bool("debug", false, "Print configuration details and debug logs")
	flags.Bool("request", false, "Log the request body being sent")
	flags.Bool("log-errors", false, "Log each failed request to stderr")
	flags.Bool("json-output", false, "Emit JSON formatted report")
	flags.String("html-output", "", "Write a standalone HTML report to this file")
	flags.Bool("json-logs", false, "Emit logs as JSON lines")
	flags.Bool("dashboard", false, "Show live terminal dashboard with metrics")
	flags.Bool("no-progress", false, "Disable the per-second progress line")
	flags.String("results-dir", DefaultResultsDir, "Directory for run results")
	flags.StringSlice("threshold", nil, "Performance thresholds (repeatable, e.g. 'http_req_duration:p95 < 500')")

	// Auth and variables
	flags.String("auth-token", "", "Static bearer token sent as the Authorization header")
	flags.String("env-file", ".env", "Env file consulted for [[NAME]] placeholders")
	flags.StringArray("var", nil, "Placeholder value in NAME=VALUE form (repeatable)")

	// Tracing flags
	flags.String("trace-endpoint", "", "OTLP endpoint; enables tracing")
	flags.String("trace-protocol", "grpc", "OTLP protocol: grpc or http")
	flags.String("trace-service-name", "", "Service name reported in spans")
	flags.Float64("trace-sample-rate", 1.0, "Fraction of requests traced (0..1)")
	flags.Bool("trace-insecure", false, "Disable TLS for the OTLP exporter")
	flags.Bool("trace-propagate", true, "Inject W3C trace context into requests")

	if mode == ModeMulti {
		flags.IntP("instances", "i", DefaultInstances, "Number of instances")
	}

	// Set by multi for its child processes.
	flags.String("run-dir", "", "Write results into this directory instead of a new one")
	flags.Int("instance-id", 0, "Instance number within a multi-instance run")
	_ = flags.MarkHidden("run-dir")
	_ = flags.MarkHidden("instance-id")
}

// RegisterPlaceholderFlags adds one --kebab-name flag per discovered
// placeholder. Names that collide with existing flags are skipped.
func RegisterPlaceholderFlags(flags *pflag.FlagSet, names []string) {
	for _, name := range names {
		flagName := placeholders.FlagName(name)
		if flags.Lookup(flagName) != nil {
			continue
		}
		flags.String(flagName, "", fmt.Sprintf("Value for [[%s]] placeholder", name))
	}
}

// placeholderValues collects explicitly set placeholder flags and --var
// entries.
func placeholderValues(fs *pflag.FlagSet, names []string) (placeholders.Vars, error) {
	vars := placeholders.Vars{}
	for _, name := range names {
		flagName := placeholders.FlagName(name)
		if fs.Lookup(flagName) == nil || !fs.Changed(flagName) {
			continue
		}
		val, err := fs.GetString(flagName)
		if err != nil {
			return nil, err
		}
		vars[name] = val
	}

	if fs.Lookup("var") != nil {
		entries, err := fs.GetStringArray("var")
		if err != nil {
			return nil, err
		}
		for _, entry := range entries {
			key, value, ok := strings.Cut(entry, "=")
			key = strings.TrimSpace(key)
			if !ok || key == "" {
				return nil, fmt.Errorf("var must be in NAME=VALUE format: %s", entry)
			}
			vars[key] = value
		}
	}
	return vars, nil
}

// applyFlagOverrides applies command-line flag values to the config, overriding
// values from the config file.
func applyFlagOverrides(cfg *Config, fs *pflag.FlagSet) error {
	var err error
	str := func(name string, dst *string) {
		if err != nil || !fs.Changed(name) {
			return
		}
		var val string
		if val, err = fs.GetString(name); err == nil {
			*dst = strings.TrimSpace(val)
		}
	}
	integer := func(name string, dst *int) {
		if err != nil || fs.Lookup(name) == nil || !fs.Changed(name) {
			return
		}
		*dst, err = fs.GetInt(name)
	}
	boolean := func(name string, dst *bool) {
		if err != nil || !fs.Changed(name) {
			return
		}
		*dst, err = fs.GetBool(name)
	}
	seconds := func(name string, dst *time.Duration) {
		if err != nil || !fs.Changed(name) {
			return
		}
		var val string
		if val, err = fs.GetString(name); err == nil {
			if *dst, err = asDuration(val); err != nil {
				err = fmt.Errorf("%s: %w", name, err)
			}
		}
	}

	str("url", &cfg.URL)
	str("method", &cfg.Method)
	str("templates-file", &cfg.TemplatesFile)
	str("templates", &cfg.TemplateFilter)
	str("selection", &cfg.Selection)
	integer("concurrency", &cfg.Concurrency)

	seconds("duration", &cfg.Duration)
	seconds("delay", &cfg.Delay)

	integer("max-errors", &cfg.MaxErrors)
	integer("rate", &cfg.Rate)
	integer("max-retries", &cfg.MaxRetries)
	integer("instances", &cfg.Instances)
	integer("instance-id", &cfg.InstanceID)
	boolean("verbose", &cfg.Verbose)
	boolean("debug", &cfg.Debug)
	boolean("request", &cfg.Request)
	boolean("log-errors", &cfg.LogErrors)
	boolean("json-output", &cfg.JSONOutput)
	str("html-output", &cfg.HTMLOutput)
	boolean("json-logs", &cfg.JSONLogs)
	boolean("dashboard", &cfg.Dashboard)
	boolean("no-progress", &cfg.NoProgress)
	str("results-dir", &cfg.ResultsDir)
	str("run-dir", &cfg.RunDir)
	str("auth-token", &cfg.AuthToken)
	str("env-file", &cfg.EnvFile)
	str("trace-endpoint", &cfg.Tracing.Endpoint)
	str("trace-protocol", &cfg.Tracing.Protocol)
	str("trace-service-name", &cfg.Tracing.ServiceName)
	boolean("trace-insecure", &cfg.Tracing.Insecure)
	if err != nil {
		return err
	}

	if fs.Changed("timeout") {
		if cfg.Timeout, err = fs.GetDuration("timeout"); err != nil {
			return err
		}
	}
	if fs.Changed("drain-timeout") {
		if cfg.DrainTimeout, err = fs.GetDuration("drain-timeout"); err != nil {
			return err
		}
	}
	if fs.Changed("trace-sample-rate") {
		if cfg.Tracing.SampleRate, err = fs.GetFloat64("trace-sample-rate"); err != nil {
			return err
		}
	}
	if fs.Changed("trace-propagate") {
		val, err := fs.GetBool("trace-propagate")
		if err != nil {
			return err
		}
		cfg.Tracing.Propagate = &val
	}

	if fs.Changed("threshold") {
		vals, err := fs.GetStringSlice("threshold")
		if err != nil {
			return err
		}
		cfg.Thresholds = append(cfg.Thresholds, vals...)
	}

	vals, err := fs.GetStringSlice("header")
	if err != nil {
		return err
	}
	if len(vals) > 0 {
		if cfg.Headers == nil {
			cfg.Headers = map[string]string{}
		}
		for _, entry := range vals {
			parts := strings.SplitN(entry, "=", 2)
			if len(parts) != 2 {
				return fmt.Errorf("header must be in key=value format: %s", entry)
			}
			key := http.CanonicalHeaderKey(strings.TrimSpace(parts[0]))
			if key == "" {
				return fmt.Errorf("header key cannot be empty")
			}
			cfg.Headers[key] = strings.TrimSpace(parts[1])
		}
	}

	return nil
}
