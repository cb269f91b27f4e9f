// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package credentials loads the API keys used by the collaborators from a
// KEY=VALUE file, with environment overrides.
package credentials

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/dotenv"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/jllopis/soundscape/pkg/errors"
)

// Well-known credential names.
const (
	MapsKey    = "MAPSKEY"
	WeatherKey = "WEATHERKEY"
	ProjectKey = "PROJECTKEY"
)

// EnvPrefix marks environment variables overriding file entries:
// SOUNDSCAPE_KEY_MAPSKEY overrides MAPSKEY.
const EnvPrefix = "SOUNDSCAPE_KEY_"

// Secret is a credential value. It never prints in full.
type Secret string

// String implements fmt.Stringer with a masked value.
func (s Secret) String() string {
	if len(s) <= 4 {
		return "****"
	}
	return "****" + string(s[len(s)-4:])
}

// LogValue implements slog.LogValuer.
func (s Secret) LogValue() slog.Value { return slog.StringValue(s.String()) }

// Reveal returns the clear value.
func (s Secret) Reveal() string { return string(s) }

// Source looks credentials up by name.
type Source interface {
	Lookup(name string) (Secret, error)
}

// Set is a loaded, read-only set of credentials.
type Set struct {
	k *koanf.Koanf
}

// Load reads path (may be empty to use only the environment) and applies
// SOUNDSCAPE_KEY_* overrides.
func Load(path string) (*Set, error) {
	k := koanf.New(".")
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, errors.New(errors.CodeNotFound, "credentials file not readable", err).
				WithContext("path", path)
		}
		if err := k.Load(file.Provider(path), dotenv.Parser()); err != nil {
			return nil, errors.New(errors.CodeInvalidInput, "parse credentials file", err).
				WithContext("path", path)
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.TrimPrefix(s, EnvPrefix)
	}), nil); err != nil {
		return nil, err
	}
	return &Set{k: k}, nil
}

// FromMap builds a set from fixed values.
func FromMap(values map[string]string) *Set {
	k := koanf.New(".")
	m := make(map[string]any, len(values))
	for key, v := range values {
		m[key] = v
	}
	_ = k.Load(confmap.Provider(m, "."), nil)
	return &Set{k: k}
}

// Lookup returns the named credential. Missing and blank values are errors.
func (s *Set) Lookup(name string) (Secret, error) {
	if !s.k.Exists(name) {
		return "", errors.Newf(errors.CodeNotFound, "credential %s is not set", name).
			WithContext("credential", name)
	}
	v := strings.TrimSpace(s.k.String(name))
	if v == "" {
		return "", errors.Newf(errors.CodeInvalidInput, "credential %s is empty", name).
			WithContext("credential", name)
	}
	return Secret(v), nil
}

// Unavailable is a Source whose every lookup fails with the error that kept
// the credentials from loading. Agents needing a key fail their own startup;
// the others run without one.
type Unavailable struct {
	Err error
}

// Lookup implements Source.
func (u Unavailable) Lookup(name string) (Secret, error) {
	return "", errors.New(errors.CodeStartupFailure, "credential "+name+" unavailable", u.Err).
		WithContext("credential", name)
}

// Names lists the loaded credential names.
func (s *Set) Names() []string { return s.k.Keys() }

type secretKey struct{ name string }

// WithSecret attaches the named credential to ctx for a single collaborator
// call.
func WithSecret(ctx context.Context, name string, s Secret) context.Context {
	return context.WithValue(ctx, secretKey{name}, s)
}

// FromContext returns the named credential attached by WithSecret.
func FromContext(ctx context.Context, name string) (Secret, bool) {
	s, ok := ctx.Value(secretKey{name}).(Secret)
	return s, ok && s != ""
}
