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

package bridge

import (
	"sync"

	xerrors "spanbridge/pkg/errors"
	"spanbridge/pkg/metrics"
)

// Feed fans transport notifications into at most one attached Handler.
// Attachment is explicit and process-scoped: attach once at setup, detach at
// teardown. A detached feed swallows events instead of erroring into the
// request path.
type Feed struct {
	mu      sync.RWMutex
	handler Handler
}

// NewFeed creates an unattached feed.
func NewFeed() *Feed {
	return &Feed{}
}

// DefaultFeed is the process-wide feed used when adapters are not given an
// explicit one.
var DefaultFeed = NewFeed()

// Attach registers h. Attaching the same handler again is a no-op; attaching
// a different handler while one is registered returns ErrAttached.
func (f *Feed) Attach(h Handler) error {
	if h == nil {
		return xerrors.ErrInvalidArg
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.handler != nil {
		if f.handler == h {
			return nil
		}
		return xerrors.ErrAttached
	}
	f.handler = h
	return nil
}

// Detach removes the current handler. Safe to call when nothing is attached.
func (f *Feed) Detach() {
	f.mu.Lock()
	f.handler = nil
	f.mu.Unlock()
}

// Attached reports whether a handler is registered.
func (f *Feed) Attached() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.handler != nil
}

// EmitStart delivers a start signal to the handler, if any.
func (f *Feed) EmitStart(ev StartEvent) {
	f.mu.RLock()
	h := f.handler
	f.mu.RUnlock()
	if h == nil {
		metrics.EventDropped.WithLabelValues("detached").Inc()
		return
	}
	h.HandleStart(ev)
}

// EmitStop delivers a stop signal to the handler, if any.
func (f *Feed) EmitStop(ev StopEvent) {
	f.mu.RLock()
	h := f.handler
	f.mu.RUnlock()
	if h == nil {
		metrics.EventDropped.WithLabelValues("detached").Inc()
		return
	}
	h.HandleStop(ev)
}

// EmitException delivers an exception signal to the handler, if any.
func (f *Feed) EmitException(ev ExceptionEvent) {
	f.mu.RLock()
	h := f.handler
	f.mu.RUnlock()
	if h == nil {
		metrics.EventDropped.WithLabelValues("detached").Inc()
		return
	}
	h.HandleException(ev)
}
