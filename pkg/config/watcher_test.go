// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
}

func TestWatcherDetectsChanges(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, configPath, "orchestrator:\n  interval: 30s\n")

	watcher, err := NewWatcher([]string{"--config", configPath}, WithWatchInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}

	changes := make(chan *Config, 1)
	watcher.OnChange(func(cfg *Config) {
		select {
		case changes <- cfg:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	watcher.Start(ctx)
	defer watcher.Stop()

	if got := watcher.Config().Orchestrator.Interval; got != 30*time.Second {
		t.Errorf("expected interval 30s, got %s", got)
	}

	// Push the mod time forward so coarse filesystem clocks still see a change.
	writeConfig(t, configPath, "orchestrator:\n  interval: 45s\n")
	future := time.Now().Add(time.Second)
	if err := os.Chtimes(configPath, future, future); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	select {
	case cfg := <-changes:
		if cfg.Orchestrator.Interval != 45*time.Second {
			t.Errorf("expected interval 45s, got %s", cfg.Orchestrator.Interval)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for config change notification")
	}
	if got := watcher.Config().Orchestrator.Interval; got != 45*time.Second {
		t.Errorf("Config() not updated, got %s", got)
	}
}

func TestWatcherKeepsConfigOnInvalidReload(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, configPath, "log:\n  level: debug\n")

	watcher, err := NewWatcher([]string{"--config", configPath}, WithWatchInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}
	called := make(chan struct{}, 1)
	watcher.OnChange(func(*Config) { called <- struct{}{} })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	watcher.Start(ctx)
	defer watcher.Stop()

	writeConfig(t, configPath, "orchestrator:\n  deadline: -1s\n")
	future := time.Now().Add(time.Second)
	if err := os.Chtimes(configPath, future, future); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	select {
	case <-called:
		t.Fatal("listener called for an invalid configuration")
	case <-time.After(200 * time.Millisecond):
	}
	if watcher.Config().Log.Level != "debug" {
		t.Errorf("previous configuration not kept: %+v", watcher.Config().Log)
	}
}

func TestWatcherWatchesProfile(t *testing.T) {
	dir := t.TempDir()
	basePath := filepath.Join(dir, "config.yaml")
	devPath := filepath.Join(dir, "config.dev.yaml")
	writeConfig(t, basePath, "generator:\n  model: base\n")
	writeConfig(t, devPath, "generator:\n  model: dev\n")

	watcher, err := NewWatcher([]string{"--config", basePath, "--profile", "dev"})
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}
	if len(watcher.paths) != 2 || watcher.paths[1] != devPath {
		t.Errorf("expected base and profile paths, got %v", watcher.paths)
	}
	if watcher.Config().Generator.Model != "dev" {
		t.Errorf("expected profile model, got %q", watcher.Config().Generator.Model)
	}
}

func TestWatcherStops(t *testing.T) {
	watcher, err := NewWatcher(nil, WithWatchInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}
	watcher.Start(context.Background())

	done := make(chan struct{})
	go func() {
		watcher.Stop()
		watcher.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Error("watcher.Stop() did not complete in time")
	}
}

func TestWatcherNotifiesEveryListener(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, configPath, "log:\n  level: debug\n")

	watcher, err := NewWatcher([]string{"--config", configPath})
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}

	var levels []string
	for range 3 {
		watcher.OnChange(func(cfg *Config) { levels = append(levels, cfg.Log.Level) })
	}
	watcher.reload()

	if len(levels) != 3 {
		t.Fatalf("expected 3 notifications, got %d", len(levels))
	}
	for _, l := range levels {
		if l != "debug" {
			t.Errorf("expected level debug, got %q", l)
		}
	}
}
