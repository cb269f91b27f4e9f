// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package openai generates soundscape descriptions with the OpenAI chat
// completions API or any compatible endpoint.
package openai

import (
	"context"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/jllopis/soundscape/pkg/credentials"
	"github.com/jllopis/soundscape/pkg/errors"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gpt-5-mini"

// Generator implements soundscape.ContentGenerator.
type Generator struct {
	client      openai.Client
	model       string
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

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(g *Generator) {
		g.temperature = t
	}
}

// WithSystemPrompt sends s as a system message before every prompt.
func WithSystemPrompt(s string) Option {
	return func(g *Generator) {
		g.system = s
	}
}

// WithBaseURL sets a custom base URL (Azure OpenAI, proxies, local
// OpenAI-compatible servers).
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

// New creates a generator. The API key is read from OPENAI_API_KEY unless
// set by an option or the call context.
func New(opts ...Option) *Generator {
	g := &Generator{model: DefaultModel}
	for _, opt := range opts {
		opt(g)
	}
	g.client = openai.NewClient(g.opts...)
	return g
}

// Generate sends prompt as a user message and returns the first choice.
func (g *Generator) Generate(ctx context.Context, prompt string) (string, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if g.system != "" {
		messages = append(messages, openai.SystemMessage(g.system))
	}
	messages = append(messages, openai.UserMessage(prompt))

	params := openai.ChatCompletionNewParams{
		Model:    g.model,
		Messages: messages,
	}
	if g.temperature > 0 {
		params.Temperature = openai.Float(g.temperature)
	}

	var reqOpts []option.RequestOption
	if s, ok := credentials.FromContext(ctx, credentials.ProjectKey); ok {
		reqOpts = append(reqOpts, option.WithAPIKey(s.Reveal()))
	}

	completion, err := g.client.Chat.Completions.New(ctx, params, reqOpts...)
	if err != nil {
		return "", errors.New(errors.CodeCollaboratorFailure, "openai chat completion", err).
			WithRecoverable(true)
	}
	if len(completion.Choices) == 0 || strings.TrimSpace(completion.Choices[0].Message.Content) == "" {
		return "", errors.New(errors.CodeCollaboratorFailure, "openai returned no content", nil)
	}
	return completion.Choices[0].Message.Content, nil
}
