package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/torosent/loadforge/internal/placeholders"
	"github.com/torosent/loadforge/internal/templates"
)

const (
	DefaultMethod        = "POST"
	DefaultConcurrency   = 5
	DefaultDuration      = 30 * time.Second
	DefaultMaxErrors     = 10
	DefaultTimeout       = 30 * time.Second
	DefaultInstances     = 3
	DefaultConfigFile    = "config.json"
	DefaultTemplatesFile = "request-templates.json"
	DefaultResultsDir    = "results"
)

type Config struct {
	Host           string            `mapstructure:"host"`
	Endpoint       string            `mapstructure:"endpoint"`
	URL            string            `mapstructure:"url"`
	Method         string            `mapstructure:"method"`
	Headers        map[string]string `mapstructure:"headers"` // raw, resolved per request
	TemplatesFile  string            `mapstructure:"templates_file"`
	TemplateFilter string            `mapstructure:"templates"`
	Selection      string            `mapstructure:"selection"`
	Concurrency    int               `mapstructure:"concurrency"`
	Duration       time.Duration     `mapstructure:"duration"`
	Delay          time.Duration     `mapstructure:"delay"`
	MaxErrors      int               `mapstructure:"max_errors"`
	DrainTimeout   time.Duration     `mapstructure:"drain_timeout"`
	Rate           int               `mapstructure:"rate"`
	Timeout        time.Duration     `mapstructure:"timeout"`
	MaxRetries     int               `mapstructure:"max_retries"` // advisory only
	Verbose        bool              `mapstructure:"verbose"`
	Debug          bool              `mapstructure:"debug"`
	Request        bool              `mapstructure:"request"`
	LogErrors      bool              `mapstructure:"log_errors"`
	JSONOutput     bool              `mapstructure:"json_output"`
	HTMLOutput     string            `mapstructure:"html_output"`
	JSONLogs       bool              `mapstructure:"json_logs"`
	Dashboard      bool              `mapstructure:"dashboard"`
	NoProgress     bool              `mapstructure:"no_progress"`
	ResultsDir     string            `mapstructure:"results_dir"`
	RunDir         string            `mapstructure:"run_dir"`
	InstanceID     int               `mapstructure:"instance_id"`
	Instances      int               `mapstructure:"instances"`
	Thresholds     []string          `mapstructure:"thresholds"`
	Tracing        TracingConfig     `mapstructure:"tracing"`
	AuthToken      string            `mapstructure:"auth_token"`
	EnvFile        string            `mapstructure:"env_file"`
	Vars           map[string]string `mapstructure:"vars"`
	ConfigFile     string            `mapstructure:"-"`

	// Lookup resolves [[NAME]] placeholders: flags, then process
	// environment, then the env file.
	Lookup placeholders.Lookup `mapstructure:"-"`
}

// TracingConfig configures OpenTelemetry export. An empty endpoint disables
// tracing.
type TracingConfig struct {
	Endpoint    string  `mapstructure:"endpoint"`
	Protocol    string  `mapstructure:"protocol"` // "grpc" (default) or "http"
	ServiceName string  `mapstructure:"service_name"`
	SampleRate  float64 `mapstructure:"sample_rate"`
	Insecure    bool    `mapstructure:"insecure"`
	Propagate   *bool   `mapstructure:"propagate"`
}

// Enabled reports whether spans should be exported.
func (t TracingConfig) Enabled() bool { return strings.TrimSpace(t.Endpoint) != "" }

// ShouldPropagate reports whether trace context is injected into outgoing
// requests. It defaults to true when tracing is enabled.
func (t TracingConfig) ShouldPropagate() bool {
	if !t.Enabled() {
		return false
	}
	if t.Propagate == nil {
		return true
	}
	return *t.Propagate
}

// TargetURL returns the explicit URL, or host joined with endpoint.
func (c Config) TargetURL() string {
	if u := strings.TrimSpace(c.URL); u != "" {
		return u
	}
	return strings.TrimSpace(c.Host) + strings.TrimSpace(c.Endpoint)
}

// SelectionMode returns the template selection mode.
func (c Config) SelectionMode() templates.Mode {
	mode, err := templates.ParseMode(c.Selection)
	if err != nil {
		return templates.SelectRoundRobin
	}
	return mode
}

type ValidationError struct {
	issues []string
}

func (e ValidationError) Error() string {
	if len(e.issues) == 0 {
		return "validation failed"
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(e.issues, "; "))
}

func (e ValidationError) Issues() []string {
	return append([]string(nil), e.issues...)
}

func (c Config) Validate() error {
	var issues []string

	if c.TargetURL() == "" {
		issues = append(issues, "target is required: set target.host and target.endpoint in the config file or pass --url")
	}
	if c.Concurrency < 1 {
		issues = append(issues, "concurrency must be >= 1")
	}
	if c.Duration < 0 {
		issues = append(issues, "duration must be >= 0")
	}
	if c.Delay < 0 {
		issues = append(issues, "delay must be >= 0")
	}
	if c.MaxErrors < 0 {
		issues = append(issues, "max-errors must be >= 0")
	}
	if c.DrainTimeout < 0 {
		issues = append(issues, "drain-timeout must be >= 0")
	}
	if c.Rate < 0 {
		issues = append(issues, "rate must be >= 0")
	}
	if c.Timeout < 0 {
		issues = append(issues, "timeout must be >= 0")
	}
	if c.MaxRetries < 0 {
		issues = append(issues, "maxRetries must be >= 0")
	}
	if c.Instances < 0 {
		issues = append(issues, "instances must be >= 1")
	}
	if c.InstanceID < 0 {
		issues = append(issues, "instance-id must be >= 0")
	}
	if _, err := templates.ParseMode(c.Selection); err != nil {
		issues = append(issues, err.Error())
	}
	if c.Dashboard && c.JSONOutput {
		issues = append(issues, "dashboard and json-output are mutually exclusive")
	}
	issues = append(issues, validateTracing(c.Tracing)...)

	if len(issues) > 0 {
		return ValidationError{issues: issues}
	}
	return nil
}

// Warnings lists settings that are valid but worth flagging to the operator.
func (c Config) Warnings() []string {
	var warnings []string
	if c.Rate > 1000 {
		warnings = append(warnings, fmt.Sprintf("high rate limit configured (%d RPS); ensure you have authorization to test the target system", c.Rate))
	}
	if c.Concurrency > 500 {
		warnings = append(warnings, fmt.Sprintf("high concurrency configured (%d workers); ensure you have authorization to test the target system", c.Concurrency))
	}
	if c.MaxRetries > 0 {
		warnings = append(warnings, "maxRetries is recorded but requests are never retried")
	}
	return warnings
}

func validateTracing(t TracingConfig) []string {
	var issues []string
	switch strings.ToLower(strings.TrimSpace(t.Protocol)) {
	case "", "grpc", "http":
	default:
		issues = append(issues, fmt.Sprintf("tracing: protocol must be 'grpc' or 'http', got %q", t.Protocol))
	}
	if t.SampleRate < 0 || t.SampleRate > 1 {
		issues = append(issues, "tracing: sample_rate must be between 0 and 1")
	}
	return issues
}
