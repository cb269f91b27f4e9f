package config

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	yamlv3 "gopkg.in/yaml.v3"

	"github.com/jllopis/soundscape/pkg/errors"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults do not validate: %v", err)
	}

	o := cfg.Orchestrator
	if o.Interval != 20*time.Second || o.Deadline != 10*time.Second {
		t.Errorf("unexpected cycle timing %s/%s", o.Interval, o.Deadline)
	}
	if o.Latitude != 34.0156229728407 || o.Longitude != -118.49441383847054 || o.Radius != 20 {
		t.Errorf("unexpected default location %+v", o)
	}
	if cfg.Generator.Provider != "gemini" || cfg.Generator.Location != "us-central1" {
		t.Errorf("unexpected generator %+v", cfg.Generator)
	}
	if cfg.Bus.QueryTimeout != 15*time.Second {
		t.Errorf("unexpected query timeout %s", cfg.Bus.QueryTimeout)
	}
	if len(cfg.HTTP.CORSOrigins) != 1 || cfg.HTTP.CORSOrigins[0] != "*" {
		t.Errorf("unexpected cors origins %v", cfg.HTTP.CORSOrigins)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "soundscape.yaml")
	writeConfig(t, path, `
orchestrator:
  interval: 1m
  latitude: 40.4168
  longitude: -3.7038
bus:
  routes:
    weather: weather-host:7070
storage:
  driver: sqlite
  path: /var/lib/soundscape.db
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Orchestrator.Interval != time.Minute || cfg.Orchestrator.Latitude != 40.4168 {
		t.Errorf("file values not applied: %+v", cfg.Orchestrator)
	}
	if cfg.Orchestrator.Deadline != 10*time.Second {
		t.Errorf("defaults lost for unset keys: %s", cfg.Orchestrator.Deadline)
	}
	if cfg.Bus.Routes["weather"] != "weather-host:7070" {
		t.Errorf("unexpected routes %v", cfg.Bus.Routes)
	}
	if cfg.Storage.Driver != "sqlite" {
		t.Errorf("unexpected storage %+v", cfg.Storage)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}

func TestLoadEnv(t *testing.T) {
	t.Setenv("SOUNDSCAPE_ORCHESTRATOR_INTERVAL", "5s")
	t.Setenv("SOUNDSCAPE_HTTP_REQUEST_TIMEOUT", "3s")
	t.Setenv("SOUNDSCAPE_GENERATOR_PROVIDER", "openai")
	t.Setenv("SOUNDSCAPE_KEY_MAPSKEY", "ignored-here")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Orchestrator.Interval != 5*time.Second {
		t.Errorf("expected interval from env, got %s", cfg.Orchestrator.Interval)
	}
	if cfg.HTTP.RequestTimeout != 3*time.Second {
		t.Errorf("expected request timeout from env, got %s", cfg.HTTP.RequestTimeout)
	}
	if cfg.Generator.Provider != "openai" {
		t.Errorf("expected provider from env, got %s", cfg.Generator.Provider)
	}
}

func TestEnvKey(t *testing.T) {
	known := []string{"orchestrator.generate_timeout", "http.addr"}
	tests := map[string]string{
		"SOUNDSCAPE_ORCHESTRATOR_GENERATE_TIMEOUT": "orchestrator.generate_timeout",
		"SOUNDSCAPE_HTTP_ADDR":                     "http.addr",
		"SOUNDSCAPE_BUS_ROUTES":                    "bus.routes",
		"SOUNDSCAPE_KEY_WEATHERKEY":                "",
	}
	for in, want := range tests {
		if got := envKey(known, in); got != want {
			t.Errorf("envKey(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestLoadWithProfile(t *testing.T) {
	dir := t.TempDir()
	basePath := filepath.Join(dir, "config.yaml")
	writeConfig(t, basePath, "generator:\n  provider: gemini\n  model: base-model\nlog:\n  level: info\n")
	writeConfig(t, filepath.Join(dir, "config.dev.yaml"), "generator:\n  provider: openai\nlog:\n  level: debug\n")

	tests := []struct {
		profile      string
		wantProvider string
		wantLevel    string
	}{
		{"", "gemini", "info"},
		{"dev", "openai", "debug"},
		{"prod", "gemini", "info"},
	}
	for _, tc := range tests {
		t.Run("profile="+tc.profile, func(t *testing.T) {
			cfg, err := LoadWithProfile(basePath, tc.profile)
			if err != nil {
				t.Fatalf("LoadWithProfile failed: %v", err)
			}
			if cfg.Generator.Provider != tc.wantProvider || cfg.Log.Level != tc.wantLevel {
				t.Errorf("got provider=%s level=%s", cfg.Generator.Provider, cfg.Log.Level)
			}
			if cfg.Generator.Model != "base-model" {
				t.Errorf("base value lost: %q", cfg.Generator.Model)
			}
		})
	}
}

func TestLoadWithCLI(t *testing.T) {
	dir := t.TempDir()
	basePath := filepath.Join(dir, "config.yaml")
	writeConfig(t, basePath, "generator:\n  provider: gemini\n")
	writeConfig(t, filepath.Join(dir, "config.dev.yaml"), "generator:\n  provider: anthropic\n")
	t.Setenv("SOUNDSCAPE_GENERATOR_PROVIDER", "openai")

	tests := []struct {
		name         string
		args         []string
		wantProvider string
	}{
		{"env over file", []string{"--config", basePath}, "openai"},
		{"set over env", []string{"--config", basePath, "--set", "generator.provider=gemini"}, "gemini"},
		{"profile flag", []string{"serve", "--config", basePath, "--profile", "dev", "--set", "generator.provider=anthropic"}, "anthropic"},
		{"equals form", []string{"--config=" + basePath, "--env=dev", "--set=generator.provider=gemini"}, "gemini"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := LoadWithCLI(tc.args)
			if err != nil {
				t.Fatalf("LoadWithCLI failed: %v", err)
			}
			if cfg.Generator.Provider != tc.wantProvider {
				t.Errorf("provider: got %s, want %s", cfg.Generator.Provider, tc.wantProvider)
			}
		})
	}
}

func TestLoadWithCLITypedOverrides(t *testing.T) {
	cfg, err := LoadWithCLI([]string{
		"--set", "telemetry.otlp_timeout_seconds=12",
		"--set", "orchestrator.require_project_key=true",
		"--set", "orchestrator.deadline=2s",
		"--set", `bus.routes={"buildings":"remote:7070"}`,
		"--set", `http.cors_origins=["https://example.com"]`,
	})
	if err != nil {
		t.Fatalf("LoadWithCLI failed: %v", err)
	}
	if cfg.Telemetry.OTLPTimeoutSeconds != 12 {
		t.Errorf("expected telemetry timeout override, got %d", cfg.Telemetry.OTLPTimeoutSeconds)
	}
	if !cfg.Orchestrator.RequireProjectKey {
		t.Error("expected require_project_key=true")
	}
	if cfg.Orchestrator.Deadline != 2*time.Second {
		t.Errorf("expected deadline 2s, got %s", cfg.Orchestrator.Deadline)
	}
	if cfg.Bus.Routes["buildings"] != "remote:7070" {
		t.Errorf("unexpected routes %v", cfg.Bus.Routes)
	}
	if len(cfg.HTTP.CORSOrigins) != 1 || cfg.HTTP.CORSOrigins[0] != "https://example.com" {
		t.Errorf("unexpected cors origins %v", cfg.HTTP.CORSOrigins)
	}
}

func TestParseCLIOverridesErrors(t *testing.T) {
	for _, args := range [][]string{
		{"--config"},
		{"--set"},
		{"--set", "invalid"},
		{"--set", "=value"},
	} {
		if _, _, err := parseCLIOverrides(args); err == nil {
			t.Errorf("expected error for %v", args)
		}
	}
}

func TestProfileConfigPath(t *testing.T) {
	dir := t.TempDir()
	devPath := filepath.Join(dir, "config.dev.yaml")
	writeConfig(t, devPath, "log: {}\n")
	basePath := filepath.Join(dir, "config.yaml")

	tests := []struct {
		name     string
		base     string
		profile  string
		wantPath string
	}{
		{"existing profile", basePath, "dev", devPath},
		{"nonexistent profile", basePath, "prod", ""},
		{"empty profile", basePath, "", ""},
		{"empty base", "", "dev", ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := profileConfigPath(tc.base, tc.profile); got != tc.wantPath {
				t.Errorf("profileConfigPath(%q, %q) = %q, want %q", tc.base, tc.profile, got, tc.wantPath)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		set  string
		want string
	}{
		{"zero interval", "orchestrator.interval=0s", "orchestrator.interval"},
		{"negative deadline", "orchestrator.deadline=-1s", "orchestrator.deadline"},
		{"latitude out of range", "orchestrator.latitude=91", "orchestrator.latitude"},
		{"longitude out of range", "orchestrator.longitude=-181", "orchestrator.longitude"},
		{"zero radius", "orchestrator.radius=0", "orchestrator.radius"},
		{"unknown provider", "generator.provider=qwen", "generator.provider"},
		{"unknown exporter", "telemetry.exporter=jaeger", "telemetry.exporter"},
		{"unknown storage", "storage.driver=postgres", "storage.driver"},
		{"unknown policy", "runtime.startup_policy=retry", "runtime.startup_policy"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := LoadWithCLI([]string{"--set", tc.set})
			if err != nil {
				t.Fatalf("LoadWithCLI failed: %v", err)
			}
			err = cfg.Validate()
			if !errors.HasCode(err, errors.CodeInvalidInput) {
				t.Fatalf("expected INVALID_INPUT, got %v", err)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error %q does not name %s", err, tc.want)
			}
		})
	}
}

func TestYAMLMasksSecrets(t *testing.T) {
	cfg, err := LoadWithCLI([]string{"--set", "generator.api_key=sk-live-123", "--set", "http.addr=:9090"})
	if err != nil {
		t.Fatalf("LoadWithCLI failed: %v", err)
	}
	out, err := cfg.YAML()
	if err != nil {
		t.Fatalf("YAML: %v", err)
	}
	if strings.Contains(string(out), "sk-live-123") {
		t.Fatalf("secret leaked:\n%s", out)
	}

	var doc map[string]map[string]any
	if err := yamlv3.Unmarshal(out, &doc); err != nil {
		t.Fatalf("output is not YAML: %v", err)
	}
	if doc["http"]["addr"] != ":9090" || doc["generator"]["api_key"] != "****" {
		t.Errorf("unexpected document %v", doc)
	}
}
