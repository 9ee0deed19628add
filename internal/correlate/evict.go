// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package correlate

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"spanbridge/pkg/metrics"
)

// StartEviction launches the idle-call janitor and blocks until ctx is done.
// Run it on its own goroutine. No-op when EvictAfter is zero.
//
// A transport may abandon a request after start without ever firing a
// terminal event; without the janitor such records leak. Evicted calls end
// with an error status and error.type=abandoned.
func (c *Correlator) StartEviction(ctx context.Context) {
	if c.cfg.EvictAfter <= 0 {
		return
	}
	interval := c.cfg.EvictAfter / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := c.EvictIdle(c.now()); n > 0 {
				c.warn("evicted abandoned calls", "count", n)
			}
		}
	}
}

// EvictIdle removes and finalizes every call idle since before
// now - EvictAfter. Returns the number of evicted records.
func (c *Correlator) EvictIdle(now time.Time) int {
	if c.cfg.EvictAfter <= 0 {
		return 0
	}
	cutoff := now.Add(-c.cfg.EvictAfter)
	evicted := 0
	for i := range c.shards {
		sh := &c.shards[i]
		sh.mu.Lock()
		for id, rec := range sh.calls {
			if rec.lastSeen.After(cutoff) {
				continue
			}
			delete(sh.calls, id)
			metrics.LiveCalls.Dec()
			if rec.sampled {
				rec.span.SetAttributes(attribute.String(attrErrorType, "abandoned"))
				rec.span.SetStatus(codes.Error, "")
			}
			rec.span.End()
			metrics.CallEnded.WithLabelValues("abandoned").Inc()
			evicted++
		}
		sh.mu.Unlock()
	}
	return evicted
}
