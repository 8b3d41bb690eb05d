package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"

	"github.com/torosent/loadforge/internal/config"
	"github.com/torosent/loadforge/internal/templates"
)

func load(t *testing.T, mode config.Mode, args []string, placeholderNames []string, environ ...string) (*config.Config, error) {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	config.RegisterFlags(fs, mode)
	config.RegisterPlaceholderFlags(fs, placeholderNames)
	if err := fs.Parse(args); err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	loader := config.Loader{Environ: func() []string { return environ }}
	return loader.Load(fs, fs.Args(), mode, placeholderNames)
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := load(t, config.ModeSingle, []string{"--config", "", "--env-file", "", "--url", "http://example.com"}, nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Method != "POST" {
		t.Errorf("Method = %q, want POST", cfg.Method)
	}
	if cfg.Concurrency != 5 {
		t.Errorf("Concurrency = %d, want 5", cfg.Concurrency)
	}
	if cfg.Duration != 30*time.Second {
		t.Errorf("Duration = %s, want 30s", cfg.Duration)
	}
	if cfg.MaxErrors != 10 {
		t.Errorf("MaxErrors = %d, want 10", cfg.MaxErrors)
	}
	if cfg.Timeout != 30*time.Second {
		t.Errorf("Timeout = %s, want 30s", cfg.Timeout)
	}
	if cfg.TemplatesFile != config.DefaultTemplatesFile {
		t.Errorf("TemplatesFile = %q", cfg.TemplatesFile)
	}
	if cfg.SelectionMode() != templates.SelectRoundRobin {
		t.Errorf("SelectionMode() = %q", cfg.SelectionMode())
	}
	if cfg.Instances != 0 {
		t.Errorf("Instances = %d, want 0 for single", cfg.Instances)
	}
	if cfg.Tracing.Enabled() {
		t.Error("expected tracing disabled by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestLoadConfigFileJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(`{
		"target": {"host": "https://api.example.com", "endpoint": "/orders", "method": "PUT"},
		"headers": {"Authorization": "Bearer [[API_KEY]]"},
		"test": {"timeout": 15, "maxRetries": 3}
	}`), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := load(t, config.ModeSingle, []string{"--config", path, "--env-file", "", "--api-key", "secret", "8", "60"}, []string{"API_KEY"})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.TargetURL() != "https://api.example.com/orders" {
		t.Errorf("TargetURL() = %q", cfg.TargetURL())
	}
	if cfg.Method != "PUT" {
		t.Errorf("Method = %q, want PUT", cfg.Method)
	}
	if cfg.Timeout != 15*time.Second || cfg.MaxRetries != 3 {
		t.Errorf("unexpected test section: timeout=%s maxRetries=%d", cfg.Timeout, cfg.MaxRetries)
	}
	if cfg.Concurrency != 8 || cfg.Duration != time.Minute {
		t.Errorf("positional args not applied: %d %s", cfg.Concurrency, cfg.Duration)
	}
	if cfg.Headers["Authorization"] != "Bearer [[API_KEY]]" {
		t.Errorf("expected raw header, got %q", cfg.Headers["Authorization"])
	}
	if v, ok := cfg.Lookup.Lookup("API_KEY"); !ok || v != "secret" {
		t.Errorf("Lookup(API_KEY) = %q, %v", v, ok)
	}
	if cfg.ConfigFile != path {
		t.Errorf("ConfigFile = %q", cfg.ConfigFile)
	}
}

func TestLoadConfigFileYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(`
url: http://localhost:8080/submit
concurrency: 3
duration: 5s
templates:
  selection: random
`), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := load(t, config.ModeMulti, []string{"--config", path, "--env-file", ""}, nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.TargetURL() != "http://localhost:8080/submit" {
		t.Errorf("TargetURL() = %q", cfg.TargetURL())
	}
	if cfg.Concurrency != 3 || cfg.Duration != 5*time.Second {
		t.Errorf("unexpected load settings %d %s", cfg.Concurrency, cfg.Duration)
	}
	if cfg.SelectionMode() != templates.SelectRandom {
		t.Errorf("SelectionMode() = %q", cfg.SelectionMode())
	}
	if cfg.Instances != config.DefaultInstances {
		t.Errorf("Instances = %d, want %d", cfg.Instances, config.DefaultInstances)
	}
}

func TestLoadMissingExplicitConfig(t *testing.T) {
	_, err := load(t, config.ModeSingle, []string{"--config", filepath.Join(t.TempDir(), "nope.json")}, nil)
	if err == nil {
		t.Fatal("expected error for missing explicit config file")
	}
}

func TestLoadLookupPriority(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, "test.env")
	if err := os.WriteFile(envFile, []byte("TOKEN=from-file\nREGION=eu\nHOST=file-host\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := load(t, config.ModeSingle,
		[]string{"--config", "", "--env-file", envFile, "--url", "http://x", "--token", "from-flag"},
		[]string{"TOKEN"},
		"TOKEN=from-env", "HOST=env-host",
	)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	tests := map[string]string{
		"TOKEN":  "from-flag",
		"HOST":   "env-host",
		"REGION": "eu",
	}
	for name, want := range tests {
		if got, ok := cfg.Lookup.Lookup(name); !ok || got != want {
			t.Errorf("Lookup(%s) = %q, %v; want %q", name, got, ok, want)
		}
	}
	if _, ok := cfg.Lookup.Lookup("MISSING"); ok {
		t.Error("expected MISSING to be undefined")
	}
}

func TestLoadVarFlag(t *testing.T) {
	cfg, err := load(t, config.ModeSingle, []string{"--config", "", "--env-file", "", "--url", "http://x", "--var", "A=1", "--var", "B=x=y"}, nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if v, _ := cfg.Lookup.Lookup("B"); v != "x=y" {
		t.Errorf("Lookup(B) = %q", v)
	}

	if _, err := load(t, config.ModeSingle, []string{"--var", "broken"}, nil); err == nil {
		t.Error("expected error for malformed --var")
	}
}

func TestValidateAggregatesIssues(t *testing.T) {
	cfg := config.Config{
		Concurrency: 0,
		Duration:    -time.Second,
		MaxErrors:   -1,
		Selection:   "weighted",
		Dashboard:   true,
		JSONOutput:  true,
		Tracing:     config.TracingConfig{Protocol: "udp", SampleRate: 2},
	}
	err := cfg.Validate()
	var verr config.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	issues := strings.Join(verr.Issues(), "\n")
	for _, want := range []string{"target is required", "concurrency", "duration", "max-errors", "weighted", "mutually exclusive", "protocol", "sample_rate"} {
		if !strings.Contains(issues, want) {
			t.Errorf("expected issue mentioning %q in:\n%s", want, issues)
		}
	}
}

func TestWarnings(t *testing.T) {
	cfg := config.Config{Rate: 5000, Concurrency: 1000, MaxRetries: 2}
	if got := len(cfg.Warnings()); got != 3 {
		t.Fatalf("expected 3 warnings, got %d: %v", got, cfg.Warnings())
	}
}

func TestTracingPropagateDefault(t *testing.T) {
	off := false
	tests := []struct {
		cfg  config.TracingConfig
		want bool
	}{
		{config.TracingConfig{}, false},
		{config.TracingConfig{Endpoint: "localhost:4317"}, true},
		{config.TracingConfig{Endpoint: "localhost:4317", Propagate: &off}, false},
	}
	for _, tt := range tests {
		if got := tt.cfg.ShouldPropagate(); got != tt.want {
			t.Errorf("ShouldPropagate(%+v) = %v, want %v", tt.cfg, got, tt.want)
		}
	}
}

func TestDiscoverPlaceholders(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.json")
	tplPath := filepath.Join(dir, "templates.json")
	if err := os.WriteFile(cfgPath, []byte(`{"headers":{"X-Key":"[[API_KEY]]"},"target":{"host":"[[HOST|http://localhost]]"}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(tplPath, []byte(`{"templates":[{"name":"a","request":{"t":"[[API_KEY]] [[TENANT]]"}}]}`), 0o644); err != nil {
		t.Fatal(err)
	}

	got := config.DiscoverPlaceholders(cfgPath, tplPath, filepath.Join(dir, "missing.json"))
	want := map[string]bool{"API_KEY": true, "HOST": true, "TENANT": true}
	if len(got) != len(want) {
		t.Fatalf("DiscoverPlaceholders() = %v", got)
	}
	for _, name := range got {
		if !want[name] {
			t.Errorf("unexpected placeholder %q", name)
		}
	}
}
