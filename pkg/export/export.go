// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package export persists cycle artifacts: the raw buildings payload, the
// extracted content with its last-known-good copy, and the cycle journal.
package export

import (
	"time"

	"github.com/jllopis/soundscape/pkg/core"
)

// Content is one piece of extracted content.
type Content struct {
	CycleID    string    `json:"cycle_id"`
	Ref        string    `json:"content_ref"`
	Text       string    `json:"content"`
	ProducedAt time.Time `json:"produced_at"`
}

// CycleRecord is one row of the cycle journal.
type CycleRecord struct {
	CycleID    string            `json:"cycle_id"`
	Outcome    core.Outcome      `json:"outcome"`
	Missing    []core.Capability `json:"missing,omitempty"`
	Prompt     string            `json:"prompt"`
	ContentRef string            `json:"content_ref,omitempty"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
}

// Duration returns how long the cycle ran.
func (r CycleRecord) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
