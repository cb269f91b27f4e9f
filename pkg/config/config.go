// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the soundscape configuration: defaults, a YAML file,
// an optional profile overlay, SOUNDSCAPE_ environment variables and --set
// overrides, in that order.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"

	"github.com/jllopis/soundscape/pkg/errors"
)

// EnvPrefix marks environment overrides: SOUNDSCAPE_ORCHESTRATOR_INTERVAL
// sets orchestrator.interval.
const EnvPrefix = "SOUNDSCAPE_"

type Config struct {
	Log          LogConfig          `koanf:"log"`
	Telemetry    TelemetryConfig    `koanf:"telemetry"`
	Runtime      RuntimeConfig      `koanf:"runtime"`
	Bus          BusConfig          `koanf:"bus"`
	Orchestrator OrchestratorConfig `koanf:"orchestrator"`
	Capability   CapabilityConfig   `koanf:"capability"`
	Credentials  CredentialsConfig  `koanf:"credentials"`
	Generator    GeneratorConfig    `koanf:"generator"`
	Export       ExportConfig       `koanf:"export"`
	Storage      StorageConfig      `koanf:"storage"`
	HTTP         HTTPConfig         `koanf:"http"`

	raw map[string]any
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text
}

type TelemetryConfig struct {
	Exporter           string        `koanf:"exporter"` // stdout, otlp, none
	ServiceName        string        `koanf:"service_name"`
	OTLPEndpoint       string        `koanf:"otlp_endpoint"`
	OTLPInsecure       bool          `koanf:"otlp_insecure"`
	OTLPTimeoutSeconds int           `koanf:"otlp_timeout_seconds"`
	SampleRatio        float64       `koanf:"sample_ratio"`
	MetricInterval     time.Duration `koanf:"metric_interval"`
}

type RuntimeConfig struct {
	StartupPolicy string `koanf:"startup_policy"` // abort, continue
}

// BusConfig configures the message bus and its optional gRPC bridge.
type BusConfig struct {
	Capacity     int           `koanf:"capacity"`
	QueryTimeout time.Duration `koanf:"query_timeout"`

	// GRPCListen serves remote deliveries when set.
	GRPCListen string `koanf:"grpc_listen"`
	DedupSize  int    `koanf:"dedup_size"`

	// Routes sends envelopes for an agent name to a remote bus.
	Routes map[string]string `koanf:"routes"`
}

type OrchestratorConfig struct {
	Interval          time.Duration `koanf:"interval"`
	Deadline          time.Duration `koanf:"deadline"`
	GenerateTimeout   time.Duration `koanf:"generate_timeout"`
	MaxQueued         int           `koanf:"max_queued"`
	Latitude          float64       `koanf:"latitude"`
	Longitude         float64       `koanf:"longitude"`
	Radius            float64       `koanf:"radius"`
	RequireProjectKey bool          `koanf:"require_project_key"`
}

// CapabilityConfig tunes the capability agents and their collaborators.
type CapabilityConfig struct {
	Timeout         time.Duration `koanf:"timeout"`
	RetryAttempts   int           `koanf:"retry_attempts"`
	BreakerFailures uint32        `koanf:"breaker_failures"`
	BreakerTimeout  time.Duration `koanf:"breaker_timeout"`
	MapsBaseURL     string        `koanf:"maps_base_url"`
	WeatherBaseURL  string        `koanf:"weather_base_url"`
	SolarFallback   bool          `koanf:"solar_fallback"`
}

type CredentialsConfig struct {
	Path string `koanf:"path"`
}

// GeneratorConfig selects the content generator.
type GeneratorConfig struct {
	Provider    string  `koanf:"provider"` // gemini, openai, anthropic
	Model       string  `koanf:"model"`
	Backend     string  `koanf:"backend"` // vertex, gemini (gemini provider only)
	Location    string  `koanf:"location"`
	Temperature float64 `koanf:"temperature"`
	MaxTokens   int64   `koanf:"max_tokens"`
	BaseURL     string  `koanf:"base_url"`
	APIKey      string  `koanf:"api_key"`

	ReferenceImage string `koanf:"reference_image"`
}

type ExportConfig struct {
	Dir string `koanf:"dir"`
}

type StorageConfig struct {
	Driver string `koanf:"driver"` // memory, sqlite
	Path   string `koanf:"path"`
}

type HTTPConfig struct {
	Addr           string        `koanf:"addr"`
	RequestTimeout time.Duration `koanf:"request_timeout"`
	RateLimit      float64       `koanf:"rate_limit"`
	RateBurst      int           `koanf:"rate_burst"`
	RateClients    int           `koanf:"rate_clients"`
	CORSOrigins    []string      `koanf:"cors_origins"`
}

func defaults() map[string]any {
	return map[string]any{
		"log.level":  "info",
		"log.format": "text",

		"telemetry.exporter":             "none",
		"telemetry.service_name":         "soundscape",
		"telemetry.otlp_endpoint":        "localhost:4317",
		"telemetry.otlp_insecure":        true,
		"telemetry.otlp_timeout_seconds": 10,
		"telemetry.sample_ratio":         1.0,
		"telemetry.metric_interval":      "1m",

		"runtime.startup_policy": "continue",

		"bus.capacity":      1024,
		"bus.query_timeout": "15s",
		"bus.grpc_listen":   "",
		"bus.dedup_size":    4096,

		"orchestrator.interval":            "20s",
		"orchestrator.deadline":            "10s",
		"orchestrator.generate_timeout":    "30s",
		"orchestrator.max_queued":          16,
		"orchestrator.latitude":            34.0156229728407,
		"orchestrator.longitude":           -118.49441383847054,
		"orchestrator.radius":              20,
		"orchestrator.require_project_key": false,

		"capability.timeout":          "8s",
		"capability.retry_attempts":   3,
		"capability.breaker_failures": 5,
		"capability.breaker_timeout":  "30s",
		"capability.maps_base_url":    "",
		"capability.weather_base_url": "",
		"capability.solar_fallback":   true,

		"credentials.path": "keys.txt",

		"generator.provider":        "gemini",
		"generator.model":           "",
		"generator.backend":         "vertex",
		"generator.location":        "us-central1",
		"generator.temperature":     0,
		"generator.max_tokens":      1024,
		"generator.base_url":        "",
		"generator.api_key":         "",
		"generator.reference_image": "",

		"export.dir": "output",

		"storage.driver": "memory",
		"storage.path":   "soundscape.db",

		"http.addr":            ":8080",
		"http.request_timeout": "15s",
		"http.rate_limit":      10,
		"http.rate_burst":      20,
		"http.rate_clients":    1024,
		"http.cors_origins":    []string{"*"},
	}
}

// Load reads path (if any) over the defaults and applies the environment.
func Load(path string) (*Config, error) {
	return load(path, "", nil)
}

// LoadWithProfile loads path and then overlays config.<profile>.yaml from
// the same directory when it exists.
func LoadWithProfile(path, profile string) (*Config, error) {
	return load(path, profile, nil)
}

// LoadWithCLI loads the configuration named by args. It understands
// --config PATH, --profile NAME (alias --env) and repeated --set key=value,
// where value is decoded as JSON when it parses.
func LoadWithCLI(args []string) (*Config, error) {
	opts, overrides, err := parseCLIOverrides(args)
	if err != nil {
		return nil, err
	}
	return load(opts.configPath, opts.profile, overrides)
}

func load(path, profile string, overrides map[string]any) (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, err
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	}
	if p := profileConfigPath(path, profile); p != "" {
		if err := k.Load(file.Provider(p), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load profile %s: %w", p, err)
		}
	}

	known := k.Keys()
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return envKey(known, s)
	}), nil); err != nil {
		return nil, err
	}

	if len(overrides) > 0 {
		if err := k.Load(confmap.Provider(overrides, "."), nil); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}
	cfg.raw = k.Raw()
	return &cfg, nil
}

// envKey maps SOUNDSCAPE_HTTP_REQUEST_TIMEOUT to http.request_timeout by
// matching known keys, so underscores inside key names survive. Unknown
// variables map section_rest to section.rest. Credential overrides
// (SOUNDSCAPE_KEY_*) are skipped.
func envKey(known []string, s string) string {
	if strings.HasPrefix(s, "SOUNDSCAPE_KEY_") {
		return ""
	}
	name := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	for _, key := range known {
		if strings.ReplaceAll(key, ".", "_") == name {
			return key
		}
	}
	return strings.Replace(name, "_", ".", 1)
}

type cliOptions struct {
	configPath string
	profile    string
}

func parseCLIOverrides(args []string) (cliOptions, map[string]any, error) {
	var opts cliOptions
	overrides := map[string]any{}

	value := func(i *int, flag string) (string, error) {
		if *i+1 >= len(args) {
			return "", fmt.Errorf("%s requires a value", flag)
		}
		*i++
		return args[*i], nil
	}

	for i := 0; i < len(args); i++ {
		arg := args[i]
		name, inline, hasInline := strings.Cut(arg, "=")
		var v string
		var err error
		switch name {
		case "--config", "--profile", "--env", "--set":
			if hasInline {
				v = inline
			} else if v, err = value(&i, name); err != nil {
				return opts, nil, err
			}
		default:
			continue
		}

		switch name {
		case "--config":
			opts.configPath = v
		case "--profile", "--env":
			opts.profile = v
		case "--set":
			key, raw, ok := strings.Cut(v, "=")
			if !ok || strings.TrimSpace(key) == "" {
				return opts, nil, fmt.Errorf("invalid --set %q, want key=value", v)
			}
			overrides[strings.TrimSpace(key)] = decodeValue(raw)
		}
	}
	return opts, overrides, nil
}

func decodeValue(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		return v
	}
	return raw
}

// profileConfigPath returns config.<profile>.yaml next to base when it exists.
func profileConfigPath(base, profile string) string {
	if base == "" || profile == "" {
		return ""
	}
	ext := filepath.Ext(base)
	p := strings.TrimSuffix(base, ext) + "." + profile + ext
	if _, err := os.Stat(p); err != nil {
		return ""
	}
	return p
}

// Validate rejects configurations the runtime cannot honor.
func (c *Config) Validate() error {
	var problems []string
	check := func(ok bool, format string, args ...any) {
		if !ok {
			problems = append(problems, fmt.Sprintf(format, args...))
		}
	}

	check(oneOf(c.Log.Format, "text", "json"), "log.format %q", c.Log.Format)
	check(oneOf(c.Telemetry.Exporter, "stdout", "otlp", "none"), "telemetry.exporter %q", c.Telemetry.Exporter)
	check(c.Telemetry.SampleRatio >= 0 && c.Telemetry.SampleRatio <= 1, "telemetry.sample_ratio %v not in [0, 1]", c.Telemetry.SampleRatio)
	check(c.Telemetry.MetricInterval > 0, "telemetry.metric_interval must be positive")
	check(oneOf(c.Runtime.StartupPolicy, "abort", "continue"), "runtime.startup_policy %q", c.Runtime.StartupPolicy)
	check(c.Bus.Capacity >= 0, "bus.capacity must not be negative")
	check(c.Bus.QueryTimeout > 0, "bus.query_timeout must be positive")

	o := c.Orchestrator
	check(o.Interval > 0, "orchestrator.interval must be positive")
	check(o.Deadline > 0, "orchestrator.deadline must be positive")
	check(o.GenerateTimeout > 0, "orchestrator.generate_timeout must be positive")
	check(o.MaxQueued >= 0, "orchestrator.max_queued must not be negative")
	check(o.Latitude >= -90 && o.Latitude <= 90, "orchestrator.latitude %v out of range", o.Latitude)
	check(o.Longitude >= -180 && o.Longitude <= 180, "orchestrator.longitude %v out of range", o.Longitude)
	check(o.Radius > 0, "orchestrator.radius must be positive")

	check(c.Capability.Timeout > 0, "capability.timeout must be positive")
	check(c.Capability.RetryAttempts > 0, "capability.retry_attempts must be positive")
	check(oneOf(c.Generator.Provider, "gemini", "openai", "anthropic"), "generator.provider %q", c.Generator.Provider)
	if c.Generator.Provider == "gemini" {
		check(oneOf(c.Generator.Backend, "vertex", "gemini"), "generator.backend %q", c.Generator.Backend)
	}
	check(c.Export.Dir != "", "export.dir is required")
	check(oneOf(c.Storage.Driver, "memory", "sqlite"), "storage.driver %q", c.Storage.Driver)
	if c.Storage.Driver == "sqlite" {
		check(c.Storage.Path != "", "storage.path is required for sqlite")
	}
	check(c.HTTP.RequestTimeout > 0, "http.request_timeout must be positive")
	check(c.HTTP.RateLimit >= 0, "http.rate_limit must not be negative")

	if len(problems) > 0 {
		return errors.New(errors.CodeInvalidInput, "invalid configuration: "+strings.Join(problems, "; "), nil)
	}
	return nil
}

func oneOf(v string, allowed ...string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

var secretKeys = map[string]bool{"api_key": true, "token": true}

// YAML renders the effective configuration with secrets masked.
func (c *Config) YAML() ([]byte, error) {
	return yamlv3.Marshal(mask(c.raw))
}

func mask(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch v := v.(type) {
		case map[string]any:
			out[k] = mask(v)
		case string:
			if secretKeys[k] && v != "" {
				out[k] = "****"
			} else {
				out[k] = v
			}
		default:
			out[k] = v
		}
	}
	return out
}
