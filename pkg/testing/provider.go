// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package testing

import (
	"context"
	"fmt"
	"sync"
)

// ScriptedGenerator is a content generator with queued responses. It
// records every prompt it receives.
type ScriptedGenerator struct {
	mu              sync.Mutex
	responses       []ScriptedResponse
	currentIndex    int
	prompts         []string
	defaultResponse string
	defaultError    error
	onGenerate      func(prompt string) (string, error)
}

// ScriptedResponse defines one response of the generator.
type ScriptedResponse struct {
	Content string
	Error   error
	// Condition allows conditional responses based on the prompt.
	Condition func(prompt string) bool
}

// NewScriptedGenerator creates a generator with no queued responses.
func NewScriptedGenerator() *ScriptedGenerator {
	return &ScriptedGenerator{}
}

// AddResponse queues a response to be returned.
func (g *ScriptedGenerator) AddResponse(content string) *ScriptedGenerator {
	return g.AddScriptedResponse(ScriptedResponse{Content: content})
}

// AddErrorResponse queues an error response.
func (g *ScriptedGenerator) AddErrorResponse(err error) *ScriptedGenerator {
	return g.AddScriptedResponse(ScriptedResponse{Error: err})
}

// AddScriptedResponse adds a fully configured response.
func (g *ScriptedGenerator) AddScriptedResponse(resp ScriptedResponse) *ScriptedGenerator {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.responses = append(g.responses, resp)
	return g
}

// WithDefaultResponse sets the text returned when no responses are queued.
func (g *ScriptedGenerator) WithDefaultResponse(content string) *ScriptedGenerator {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.defaultResponse = content
	return g
}

// WithDefaultError sets the error returned when no responses are queued.
func (g *ScriptedGenerator) WithDefaultError(err error) *ScriptedGenerator {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.defaultError = err
	return g
}

// WithGenerateFunc answers every call with fn, bypassing the queue.
func (g *ScriptedGenerator) WithGenerateFunc(fn func(prompt string) (string, error)) *ScriptedGenerator {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onGenerate = fn
	return g
}

// Generate implements soundscape.ContentGenerator.
func (g *ScriptedGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.prompts = append(g.prompts, prompt)

	if g.onGenerate != nil {
		return g.onGenerate(prompt)
	}

	for g.currentIndex < len(g.responses) {
		resp := g.responses[g.currentIndex]
		g.currentIndex++
		if resp.Condition != nil && !resp.Condition(prompt) {
			continue
		}
		return resp.Content, resp.Error
	}

	if g.defaultError != nil {
		return "", g.defaultError
	}
	if g.defaultResponse != "" {
		return g.defaultResponse, nil
	}
	return "", fmt.Errorf("scripted generator: no response for call %d", len(g.prompts))
}

// Prompts returns every prompt received, oldest first.
func (g *ScriptedGenerator) Prompts() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.prompts...)
}

// LastPrompt returns the most recent prompt, or "".
func (g *ScriptedGenerator) LastPrompt() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.prompts) == 0 {
		return ""
	}
	return g.prompts[len(g.prompts)-1]
}

// CallCount returns the number of Generate calls.
func (g *ScriptedGenerator) CallCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.prompts)
}

// Reset clears the queue and the recorded prompts.
func (g *ScriptedGenerator) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.responses = nil
	g.currentIndex = 0
	g.prompts = nil
}
