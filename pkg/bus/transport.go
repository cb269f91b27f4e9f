// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package bus

import (
	"context"

	"github.com/jllopis/soundscape/pkg/core"
)

// Transport delivers envelopes to addresses hosted by another bus.
// Deliver returns once the remote side accepted the envelope.
// *Bus implements Transport, so remote servers hand inbound traffic to it.
type Transport interface {
	Deliver(ctx context.Context, env core.Envelope) error
}
