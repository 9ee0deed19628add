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
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// A chain idle this long with no terminal event was abandoned by the
	// client: redirect cap, CheckRedirect veto, or cancellation between
	// hops. No terminal signal ever arrives for it.
	staleCallAfter = 5 * time.Minute
	sweepInterval  = time.Minute
)

// Transport adapts the blocking net/http surface. Each RoundTrip fires one
// start signal; redirect hops of the same logical call are chained back to
// the originating request through Request.Response, so every hop carries the
// same CallID. Abandoned chains are swept out of the identity table after
// staleCallAfter; their span side is reclaimed by the correlator's own
// eviction.
type Transport struct {
	base      http.RoundTripper
	feed      *Feed
	calls     sync.Map     // root *http.Request -> callEntry
	lastSweep atomic.Int64 // unix nanos of the last sweep

	now func() time.Time // test hook, nil means time.Now
}

type callEntry struct {
	id   CallID
	seen time.Time
}

// NewTransport wraps base. A nil base means http.DefaultTransport, a nil
// feed means DefaultFeed.
func NewTransport(base http.RoundTripper, feed *Feed) *Transport {
	return &Transport{base: base, feed: feed}
}

func (t *Transport) roundTripper() http.RoundTripper {
	if t.base != nil {
		return t.base
	}
	return http.DefaultTransport
}

func (t *Transport) eventFeed() *Feed {
	if t.feed != nil {
		return t.feed
	}
	return DefaultFeed
}

func (t *Transport) clock() time.Time {
	if t.now != nil {
		return t.now()
	}
	return time.Now()
}

// RoundTrip implements http.RoundTripper. Instrumentation failures never
// change the outcome of the underlying call.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	feed := t.eventFeed()
	now := t.clock()
	t.sweep(now)

	root := rootRequest(req)
	v, loaded := t.calls.LoadOrStore(root, callEntry{id: NewCallID(), seen: now})
	id := v.(callEntry).id
	if loaded {
		// Redirect hop: keep the chain fresh so the sweep only catches
		// chains that went quiet.
		t.calls.Store(root, callEntry{id: id, seen: now})
	}

	feed.EmitStart(StartEvent{
		ID:     id,
		Method: req.Method,
		URL:    req.URL.String(),
		Header: req.Header,
		Raw:    req,
	})

	resp, err := t.roundTripper().RoundTrip(req)
	if err != nil {
		t.calls.Delete(root)
		feed.EmitException(ExceptionEvent{ID: id, Kind: KindOf(err), Raw: req})
		return nil, err
	}
	if !IsRedirectStatus(resp.StatusCode) {
		t.calls.Delete(root)
	}
	feed.EmitStop(StopEvent{ID: id, Status: resp.StatusCode, Raw: resp})
	return resp, nil
}

// sweep drops identity entries whose chain went quiet without a terminal
// event. Runs on the caller's goroutine, at most once per sweepInterval.
func (t *Transport) sweep(now time.Time) {
	last := t.lastSweep.Load()
	if now.UnixNano()-last < int64(sweepInterval) {
		return
	}
	if !t.lastSweep.CompareAndSwap(last, now.UnixNano()) {
		return
	}
	cutoff := now.Add(-staleCallAfter)
	t.calls.Range(func(k, v any) bool {
		if v.(callEntry).seen.Before(cutoff) {
			t.calls.Delete(k)
		}
		return true
	})
}

// rootRequest walks the redirect chain back to the request that initiated
// the logical call.
func rootRequest(req *http.Request) *http.Request {
	for req.Response != nil && req.Response.Request != nil {
		req = req.Response.Request
	}
	return req
}
