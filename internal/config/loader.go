package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/torosent/loadforge/internal/placeholders"
)

// Loader handles loading configuration from files and command-line arguments.
type Loader struct {
	// Environ supplies the process environment; os.Environ when nil.
	Environ func() []string
}

// NewLoader creates a new configuration Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load builds a Config from the config file, positional arguments and flags,
// in increasing priority. placeholderNames are the [[NAME]] placeholders whose
// flags were registered with RegisterPlaceholderFlags.
func (l Loader) Load(flagSet *pflag.FlagSet, args []string, mode Mode, placeholderNames []string) (*Config, error) {
	configPath, err := flagSet.GetString("config")
	if err != nil {
		return nil, err
	}
	settings, err := readSettings(configPath, flagSet.Changed("config"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Method:        DefaultMethod,
		Headers:       map[string]string{},
		TemplatesFile: DefaultTemplatesFile,
		Concurrency:   DefaultConcurrency,
		Duration:      DefaultDuration,
		MaxErrors:     DefaultMaxErrors,
		Timeout:       DefaultTimeout,
		ResultsDir:    DefaultResultsDir,
		EnvFile:       ".env",
		Tracing:       TracingConfig{Protocol: "grpc", SampleRate: 1.0},
	}
	if settings != nil {
		cfg.ConfigFile = configPath
	}
	if mode == ModeMulti {
		cfg.Instances = DefaultInstances
	}

	if err := applyConfigSettings(cfg, settings); err != nil {
		return nil, err
	}
	if err := applyPositional(cfg, args, mode); err != nil {
		return nil, err
	}
	if err := applyFlagOverrides(cfg, flagSet); err != nil {
		return nil, err
	}

	cfg.Method = strings.ToUpper(strings.TrimSpace(cfg.Method))
	if cfg.Method == "" {
		cfg.Method = DefaultMethod
	}
	cfg.Selection = strings.ToLower(strings.TrimSpace(cfg.Selection))

	explicit, err := placeholderValues(flagSet, placeholderNames)
	if err != nil {
		return nil, err
	}
	vars := placeholders.Vars{}
	for k, v := range cfg.Vars {
		vars[k] = v
	}
	for k, v := range explicit {
		vars[k] = v
	}
	cfg.Vars = vars

	dotenv, err := readEnvFile(cfg.EnvFile, flagSet.Changed("env-file"))
	if err != nil {
		return nil, err
	}
	environ := l.Environ
	if environ == nil {
		environ = os.Environ
	}
	cfg.Lookup = placeholders.Chain(vars, placeholders.FromEnviron(environ()), dotenv)

	return cfg, nil
}

// readSettings loads the config file through viper. A missing file is only
// an error when the path was given explicitly.
func readSettings(path string, explicit bool) (map[string]interface{}, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, nil
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) && !explicit {
			return nil, nil
		}
		return nil, fmt.Errorf("config file: %w", err)
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return v.AllSettings(), nil
}

func readEnvFile(path string, explicit bool) (placeholders.Vars, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, nil
	}
	values, err := godotenv.Read(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && !explicit {
			return nil, nil
		}
		return nil, fmt.Errorf("env file: %w", err)
	}
	return placeholders.Vars(values), nil
}

// applyPositional maps "single [concurrent] [duration]" and
// "multi [instances] [concurrent] [duration]".
func applyPositional(cfg *Config, args []string, mode Mode) error {
	names := []string{"concurrent", "duration"}
	if mode == ModeMulti {
		names = append([]string{"instances"}, names...)
	}
	if len(args) > len(names) {
		return fmt.Errorf("too many arguments: expected at most %d (%s)", len(names), strings.Join(names, ", "))
	}
	for i, raw := range args {
		switch names[i] {
		case "instances", "concurrent":
			n, err := strconv.Atoi(strings.TrimSpace(raw))
			if err != nil {
				return fmt.Errorf("%s: expected an integer, got %q", names[i], raw)
			}
			if names[i] == "instances" {
				cfg.Instances = n
			} else {
				cfg.Concurrency = n
			}
		case "duration":
			d, err := asDuration(raw)
			if err != nil {
				return fmt.Errorf("duration: %w", err)
			}
			cfg.Duration = d
		}
	}
	return nil
}

// flattenSections folds the target, test and templates sections into one
// map so nested and flat files share a code path. Section keys win.
func flattenSections(settings map[string]interface{}) (map[string]interface{}, error) {
	flat := make(map[string]interface{}, len(settings))
	for k, v := range settings {
		flat[strings.ToLower(k)] = v
	}
	for _, section := range []string{"target", "test", "templates"} {
		raw, ok := flat[section]
		if !ok {
			continue
		}
		if section == "templates" {
			if _, isMap := raw.(map[string]interface{}); !isMap {
				continue
			}
		}
		if section == "target" {
			if _, isString := raw.(string); isString {
				flat["url"] = raw
				delete(flat, section)
				continue
			}
		}
		values, err := toStringKeyMap(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", section, err)
		}
		delete(flat, section)
		for k, v := range values {
			if section == "templates" {
				switch k {
				case "file":
					k = "templates_file"
				case "filter":
					k = "templates"
				}
			}
			flat[k] = v
		}
	}
	return flat, nil
}

// applyConfigSettings applies settings from a config file to the Config struct.
func applyConfigSettings(cfg *Config, settings map[string]interface{}) error {
	if len(settings) == 0 {
		return nil
	}
	flat, err := flattenSections(settings)
	if err != nil {
		return err
	}

	strs := []struct {
		dst  *string
		keys []string
	}{
		{&cfg.Host, []string{"host"}},
		{&cfg.Endpoint, []string{"endpoint", "path"}},
		{&cfg.URL, []string{"url"}},
		{&cfg.Method, []string{"method"}},
		{&cfg.TemplatesFile, []string{"templates_file", "templatesfile"}},
		{&cfg.TemplateFilter, []string{"templates"}},
		{&cfg.Selection, []string{"selection"}},
		{&cfg.ResultsDir, []string{"results_dir", "resultsdir"}},
		{&cfg.HTMLOutput, []string{"html_output", "htmloutput"}},
		{&cfg.AuthToken, []string{"auth_token", "authtoken"}},
		{&cfg.EnvFile, []string{"env_file", "envfile"}},
	}
	for _, s := range strs {
		raw, ok := lookupSetting(flat, s.keys...)
		if !ok {
			continue
		}
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", s.keys[0], err)
		}
		if val = strings.TrimSpace(val); val != "" {
			*s.dst = val
		}
	}

	ints := []struct {
		dst  *int
		keys []string
	}{
		{&cfg.Concurrency, []string{"concurrency", "concurrent"}},
		{&cfg.MaxErrors, []string{"maxerrors", "max_errors"}},
		{&cfg.Rate, []string{"rate"}},
		{&cfg.MaxRetries, []string{"maxretries", "max_retries"}},
	}
	for _, s := range ints {
		raw, ok := lookupSetting(flat, s.keys...)
		if !ok {
			continue
		}
		val, err := asInt(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", s.keys[0], err)
		}
		*s.dst = val
	}

	durations := []struct {
		dst  *time.Duration
		keys []string
	}{
		{&cfg.Timeout, []string{"timeout"}},
		{&cfg.Duration, []string{"duration"}},
		{&cfg.Delay, []string{"delay"}},
		{&cfg.DrainTimeout, []string{"draintimeout", "drain_timeout"}},
	}
	for _, s := range durations {
		raw, ok := lookupSetting(flat, s.keys...)
		if !ok {
			continue
		}
		val, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", s.keys[0], err)
		}
		*s.dst = val
	}

	if raw, ok := lookupSetting(flat, "headers"); ok {
		hdrs, err := asStringMap(raw)
		if err != nil {
			return fmt.Errorf("headers: %w", err)
		}
		for k, v := range hdrs {
			cfg.Headers[http.CanonicalHeaderKey(k)] = v
		}
	}

	if raw, ok := lookupSetting(flat, "vars", "variables"); ok {
		vars, err := asStringMap(raw)
		if err != nil {
			return fmt.Errorf("vars: %w", err)
		}
		// viper lowercases keys; placeholders are conventionally upper case.
		cfg.Vars = make(map[string]string, len(vars))
		for k, v := range vars {
			cfg.Vars[strings.ToUpper(k)] = v
		}
	}

	if raw, ok := lookupSetting(flat, "thresholds"); ok {
		vals, err := asStringSlice(raw)
		if err != nil {
			return fmt.Errorf("thresholds: %w", err)
		}
		cfg.Thresholds = vals
	}

	if raw, ok := lookupSetting(flat, "tracing"); ok {
		tracing, err := parseTracing(raw, cfg.Tracing)
		if err != nil {
			return fmt.Errorf("tracing: %w", err)
		}
		cfg.Tracing = tracing
	}

	return nil
}

func parseTracing(value interface{}, base TracingConfig) (TracingConfig, error) {
	settings, err := toStringKeyMap(value)
	if err != nil {
		return base, err
	}
	out := base
	if raw, ok := lookupSetting(settings, "endpoint"); ok {
		if out.Endpoint, err = asString(raw); err != nil {
			return base, err
		}
	}
	if raw, ok := lookupSetting(settings, "protocol"); ok {
		if out.Protocol, err = asString(raw); err != nil {
			return base, err
		}
	}
	if raw, ok := lookupSetting(settings, "service_name", "servicename"); ok {
		if out.ServiceName, err = asString(raw); err != nil {
			return base, err
		}
	}
	if raw, ok := lookupSetting(settings, "sample_rate", "samplerate"); ok {
		if out.SampleRate, err = asFloat64(raw); err != nil {
			return base, err
		}
	}
	if raw, ok := lookupSetting(settings, "insecure"); ok {
		if out.Insecure, err = asBool(raw); err != nil {
			return base, err
		}
	}
	if raw, ok := lookupSetting(settings, "propagate"); ok {
		val, err := asBool(raw)
		if err != nil {
			return base, err
		}
		out.Propagate = &val
	}
	return out, nil
}

// DiscoverPlaceholders scans the config and templates files for [[NAME]]
// placeholders. Unreadable files contribute nothing.
func DiscoverPlaceholders(paths ...string) []string {
	seen := map[string]bool{}
	var names []string
	for _, path := range paths {
		if strings.TrimSpace(path) == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		for _, name := range placeholders.Discover(string(data)) {
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}
	return names
}

// ScanFlag returns the value of a --name flag from raw arguments before
// cobra parses them, or def when absent.
func ScanFlag(args []string, name, def string) string {
	long := "--" + name
	for i, arg := range args {
		if arg == "--" {
			break
		}
		if arg == long && i+1 < len(args) {
			return args[i+1]
		}
		if v, ok := strings.CutPrefix(arg, long+"="); ok {
			return v
		}
	}
	return def
}
