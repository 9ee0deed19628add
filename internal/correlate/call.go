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
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"spanbridge/internal/bridge"
)

// logicalCall is the live record for one in-flight logical call. At most one
// span is ever created per CallID; once the record leaves the table no event
// may touch it again.
type logicalCall struct {
	span     trace.Span
	sampled  bool
	lastSeen time.Time
}

const shardCount = 16

// shard holds a slice of the live-call table. Striping keeps unrelated
// requests from serializing on one lock; every operation under the lock is
// in-memory and bounded.
type shard struct {
	mu    sync.Mutex
	calls map[bridge.CallID]*logicalCall
}

func (c *Correlator) shardFor(id bridge.CallID) *shard {
	// FNV-1a over the id bytes
	h := uint32(2166136261)
	for i := 0; i < len(id); i++ {
		h = (h ^ uint32(id[i])) * 16777619
	}
	return &c.shards[h%shardCount]
}

// Live returns the number of in-flight logical calls.
func (c *Correlator) Live() int {
	n := 0
	for i := range c.shards {
		sh := &c.shards[i]
		sh.mu.Lock()
		n += len(sh.calls)
		sh.mu.Unlock()
	}
	return n
}
