// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package anthropic generates soundscape descriptions with the Anthropic
// Messages API.
package anthropic

import (
	"context"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/jllopis/soundscape/pkg/credentials"
	"github.com/jllopis/soundscape/pkg/errors"
)

// Defaults for the generator.
const (
	DefaultModel     = "claude-sonnet-4-20250514"
	DefaultMaxTokens = 1024
)

// Generator implements soundscape.ContentGenerator.
type Generator struct {
	client      anthropic.Client
	model       string
	maxTokens   int64
	temperature float64
	system      string
	opts        []option.RequestOption
}

// Option configures the Generator.
type Option func(*Generator)

// WithModel sets the model.
func WithModel(model string) Option {
	return func(g *Generator) {
		g.model = model
	}
}

// WithMaxTokens sets the maximum tokens for responses.
func WithMaxTokens(tokens int64) Option {
	return func(g *Generator) {
		g.maxTokens = tokens
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(g *Generator) {
		g.temperature = t
	}
}

// WithSystemPrompt sets the system prompt.
func WithSystemPrompt(s string) Option {
	return func(g *Generator) {
		g.system = s
	}
}

// WithBaseURL sets a custom base URL.
func WithBaseURL(url string) Option {
	return func(g *Generator) {
		g.opts = append(g.opts, option.WithBaseURL(url))
	}
}

// WithAPIKey sets the key used when the call context carries none.
func WithAPIKey(apiKey string) Option {
	return func(g *Generator) {
		g.opts = append(g.opts, option.WithAPIKey(apiKey))
	}
}

// WithMaxRetries sets how many times the client retries a failed request.
func WithMaxRetries(n int) Option {
	return func(g *Generator) {
		g.opts = append(g.opts, option.WithMaxRetries(n))
	}
}

// New creates a generator. The API key is read from ANTHROPIC_API_KEY unless
// set by an option or the call context.
func New(opts ...Option) *Generator {
	g := &Generator{
		model:     DefaultModel,
		maxTokens: DefaultMaxTokens,
	}
	for _, opt := range opts {
		opt(g)
	}
	g.client = anthropic.NewClient(g.opts...)
	return g
}

// Generate sends prompt as a user message and joins the text blocks of the
// response.
func (g *Generator) Generate(ctx context.Context, prompt string) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     g.model,
		MaxTokens: g.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if g.system != "" {
		params.System = []anthropic.TextBlockParam{
			{Type: "text", Text: g.system},
		}
	}
	if g.temperature > 0 {
		params.Temperature = anthropic.Float(g.temperature)
	}

	var reqOpts []option.RequestOption
	if s, ok := credentials.FromContext(ctx, credentials.ProjectKey); ok {
		reqOpts = append(reqOpts, option.WithAPIKey(s.Reveal()))
	}

	message, err := g.client.Messages.New(ctx, params, reqOpts...)
	if err != nil {
		return "", errors.New(errors.CodeCollaboratorFailure, "anthropic messages", err).
			WithRecoverable(true)
	}

	var b strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	if strings.TrimSpace(b.String()) == "" {
		return "", errors.New(errors.CodeCollaboratorFailure, "anthropic returned no text", nil)
	}
	return b.String(), nil
}
