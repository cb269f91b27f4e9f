// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package gemini generates soundscape descriptions with Google Gemini, either
// through Vertex AI (project and region) or the Gemini API (API key).
package gemini

import (
	"context"
	"strings"
	"sync"

	"google.golang.org/genai"

	"github.com/jllopis/soundscape/pkg/credentials"
	"github.com/jllopis/soundscape/pkg/errors"
)

// Defaults for the generator.
const (
	DefaultModel    = "gemini-1.0-pro-vision"
	DefaultLocation = "us-central1"
)

// Backend selects the API serving the model.
type Backend string

const (
	BackendVertex    Backend = "vertex"
	BackendGeminiAPI Backend = "gemini"
)

// Config configures a Generator.
type Config struct {
	Backend Backend

	// Project is the Vertex AI project. The project key carried by the call
	// context takes precedence.
	Project  string
	Location string

	// APIKey authenticates the Gemini API backend when the call context
	// carries no project key.
	APIKey string

	Model       string
	Temperature float32

	// ReferenceImage is an optional file URI sent with every prompt.
	ReferenceImage     string
	ReferenceImageMIME string

	BaseURL string
}

// Generator implements soundscape.ContentGenerator.
type Generator struct {
	cfg Config

	mu      sync.Mutex
	clients map[string]*genai.Client
}

// New creates a generator. Clients are created lazily, one per credential.
func New(cfg Config) *Generator {
	if cfg.Backend == "" {
		cfg.Backend = BackendVertex
	}
	if cfg.Location == "" {
		cfg.Location = DefaultLocation
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.ReferenceImage != "" && cfg.ReferenceImageMIME == "" {
		cfg.ReferenceImageMIME = "image/jpeg"
	}
	return &Generator{cfg: cfg, clients: make(map[string]*genai.Client)}
}

func (g *Generator) client(ctx context.Context) (*genai.Client, error) {
	key := g.cfg.Project
	if g.cfg.Backend == BackendGeminiAPI {
		key = g.cfg.APIKey
	}
	if s, ok := credentials.FromContext(ctx, credentials.ProjectKey); ok {
		key = s.Reveal()
	}
	if key == "" {
		return nil, errors.New(errors.CodeInvalidInput, "no project key", nil)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if c, ok := g.clients[key]; ok {
		return c, nil
	}

	cc := &genai.ClientConfig{
		HTTPOptions: genai.HTTPOptions{BaseURL: g.cfg.BaseURL},
	}
	switch g.cfg.Backend {
	case BackendGeminiAPI:
		cc.Backend = genai.BackendGeminiAPI
		cc.APIKey = key
	case BackendVertex:
		cc.Backend = genai.BackendVertexAI
		cc.Project = key
		cc.Location = g.cfg.Location
	default:
		return nil, errors.Newf(errors.CodeInvalidInput, "unknown gemini backend %q", g.cfg.Backend)
	}
	c, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, errors.New(errors.CodeCollaboratorFailure, "create gemini client", err)
	}
	g.clients[key] = c
	return c, nil
}

// Generate sends prompt to the model and returns the text of the first
// candidate.
func (g *Generator) Generate(ctx context.Context, prompt string) (string, error) {
	c, err := g.client(ctx)
	if err != nil {
		return "", err
	}

	parts := make([]*genai.Part, 0, 2)
	if g.cfg.ReferenceImage != "" {
		parts = append(parts, &genai.Part{FileData: &genai.FileData{
			FileURI:  g.cfg.ReferenceImage,
			MIMEType: g.cfg.ReferenceImageMIME,
		}})
	}
	parts = append(parts, &genai.Part{Text: prompt})
	contents := []*genai.Content{{Role: "user", Parts: parts}}

	config := &genai.GenerateContentConfig{}
	if g.cfg.Temperature > 0 {
		temp := g.cfg.Temperature
		config.Temperature = &temp
	}

	resp, err := c.Models.GenerateContent(ctx, g.cfg.Model, contents, config)
	if err != nil {
		return "", errors.New(errors.CodeCollaboratorFailure, "gemini generate content", err).
			WithRecoverable(true)
	}
	text := responseText(resp)
	if text == "" {
		return "", errors.New(errors.CodeCollaboratorFailure, "gemini returned no text", nil)
	}
	return text, nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		b.WriteString(part.Text)
	}
	return b.String()
}
