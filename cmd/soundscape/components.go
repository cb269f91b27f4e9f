// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"log/slog"

	"github.com/jllopis/soundscape/pkg/agent"
	"github.com/jllopis/soundscape/pkg/capability"
	"github.com/jllopis/soundscape/pkg/config"
	"github.com/jllopis/soundscape/pkg/core"
	"github.com/jllopis/soundscape/pkg/credentials"
	"github.com/jllopis/soundscape/pkg/errors"
	"github.com/jllopis/soundscape/pkg/resilience"
	"github.com/jllopis/soundscape/pkg/soundscape"
	"github.com/jllopis/soundscape/providers/anthropic"
	"github.com/jllopis/soundscape/providers/gemini"
	"github.com/jllopis/soundscape/providers/openai"
	"github.com/jllopis/soundscape/providers/openweather"
	"github.com/jllopis/soundscape/providers/places"
	"github.com/jllopis/soundscape/providers/timezone"
)

// newCapabilityAgent builds the agent for c on top of its collaborator.
// Collaborator keys come from the agent's startup, not from here.
func newCapabilityAgent(c core.Capability, cfg *config.Config, secrets credentials.Source, logger *slog.Logger) (*agent.Agent, error) {
	cc := cfg.Capability
	opts := []capability.Option{
		capability.WithTimeout(cc.Timeout),
		capability.WithRetry(resilience.DefaultRetryConfig().WithMaxAttempts(cc.RetryAttempts)),
		capability.WithBreaker(resilience.BreakerConfig{
			Name:        string(c),
			MaxFailures: cc.BreakerFailures,
			Timeout:     cc.BreakerTimeout,
		}),
		capability.WithSecrets(secrets),
		capability.WithLogger(logger),
	}

	switch c {
	case core.CapabilityBuildings:
		var po []places.Option
		if cc.MapsBaseURL != "" {
			po = append(po, places.WithBaseURL(cc.MapsBaseURL))
		}
		return capability.NewBuildings(places.New(po...), opts...)
	case core.CapabilityWeather:
		var wo []openweather.Option
		if cc.WeatherBaseURL != "" {
			wo = append(wo, openweather.WithBaseURL(cc.WeatherBaseURL))
		}
		return capability.NewWeather(openweather.New(wo...), opts...)
	case core.CapabilityTime:
		to := []timezone.Option{
			timezone.WithSolarFallback(cc.SolarFallback),
			timezone.WithLogger(logger),
		}
		if cc.MapsBaseURL != "" {
			to = append(to, timezone.WithBaseURL(cc.MapsBaseURL))
		}
		// Without the solar fallback the maps key is the only way to answer.
		opts = append(opts, capability.WithCredentialRequired(!cc.SolarFallback))
		return capability.NewTime(timezone.New(to...), opts...)
	}
	return nil, errors.Newf(errors.CodeInvalidInput, "unknown capability %q", c)
}

// newGenerator selects the content generator named by cfg.Provider.
func newGenerator(cfg config.GeneratorConfig) (soundscape.ContentGenerator, error) {
	switch cfg.Provider {
	case "", "gemini":
		return gemini.New(gemini.Config{
			Backend:        gemini.Backend(cfg.Backend),
			Location:       cfg.Location,
			APIKey:         cfg.APIKey,
			Model:          cfg.Model,
			Temperature:    float32(cfg.Temperature),
			ReferenceImage: cfg.ReferenceImage,
			BaseURL:        cfg.BaseURL,
		}), nil
	case "openai":
		opts := []openai.Option{openai.WithTemperature(cfg.Temperature)}
		if cfg.Model != "" {
			opts = append(opts, openai.WithModel(cfg.Model))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		if cfg.APIKey != "" {
			opts = append(opts, openai.WithAPIKey(cfg.APIKey))
		}
		return openai.New(opts...), nil
	case "anthropic":
		opts := []anthropic.Option{anthropic.WithTemperature(cfg.Temperature)}
		if cfg.MaxTokens > 0 {
			opts = append(opts, anthropic.WithMaxTokens(cfg.MaxTokens))
		}
		if cfg.Model != "" {
			opts = append(opts, anthropic.WithModel(cfg.Model))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(cfg.BaseURL))
		}
		if cfg.APIKey != "" {
			opts = append(opts, anthropic.WithAPIKey(cfg.APIKey))
		}
		return anthropic.New(opts...), nil
	}
	return nil, errors.Newf(errors.CodeInvalidInput, "unknown generator provider %q", cfg.Provider)
}
