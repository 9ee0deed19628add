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
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"spanbridge/internal/bridge"
	"spanbridge/pkg/metrics"
	"spanbridge/pkg/redaction"
)

func newTestCorrelator(t *testing.T, sampler sdktrace.Sampler, cfg Config) (*Correlator, *tracetest.SpanRecorder) {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sampler),
		sdktrace.WithSpanProcessor(rec),
	)
	t.Cleanup(func() { _ = tp.Shutdown(t.Context()) })
	cfg.Tracer = tp.Tracer("test")
	return New(cfg), rec
}

func attrMap(s sdktrace.ReadOnlySpan) map[attribute.Key]attribute.Value {
	out := make(map[attribute.Key]attribute.Value, len(s.Attributes()))
	for _, kv := range s.Attributes() {
		out[kv.Key] = kv.Value
	}
	return out
}

func TestExactlyOnePair(t *testing.T) {
	c, rec := newTestCorrelator(t, sdktrace.AlwaysSample(), Config{})
	h := make(http.Header)
	id := bridge.CallID("call-1")
	for i := 0; i < 3; i++ {
		c.HandleStart(bridge.StartEvent{ID: id, Method: "GET", URL: "http://svc.local/a", Header: h})
	}
	c.HandleStop(bridge.StopEvent{ID: id, Status: 200})

	if got := len(rec.Started()); got != 1 {
		t.Errorf("spans started: got %d, want 1", got)
	}
	if got := len(rec.Ended()); got != 1 {
		t.Fatalf("spans ended: got %d, want 1", got)
	}
	if c.Live() != 0 {
		t.Errorf("live calls after terminal: got %d", c.Live())
	}
	attrs := attrMap(rec.Ended()[0])
	if got := attrs[attrStatusCode].AsInt64(); got != 200 {
		t.Errorf("status attr: got %d", got)
	}
}

func TestRedirectChain_SingleInjection(t *testing.T) {
	c, rec := newTestCorrelator(t, sdktrace.AlwaysSample(), Config{})
	h := make(http.Header)
	id := bridge.CallID("redirected")
	before := testutil.ToFloat64(metrics.HeaderInjections)

	c.HandleStart(bridge.StartEvent{ID: id, Method: "GET", URL: "http://svc.local/hop/0", Header: h})
	first := h.Get("traceparent")
	if first == "" {
		t.Fatal("traceparent not injected on first start")
	}
	for hop := 1; hop <= 10; hop++ {
		c.HandleStop(bridge.StopEvent{ID: id, Status: http.StatusFound})
		c.HandleStart(bridge.StartEvent{ID: id, Method: "GET", URL: fmt.Sprintf("http://svc.local/hop/%d", hop), Header: h})
	}
	c.HandleStop(bridge.StopEvent{ID: id, Status: http.StatusOK})

	if got := testutil.ToFloat64(metrics.HeaderInjections) - before; got != 1 {
		t.Errorf("injections: got %v, want 1", got)
	}
	if got := h.Values("traceparent"); len(got) != 1 || got[0] != first {
		t.Errorf("traceparent after 10 hops: %v, want exactly [%q]", got, first)
	}
	if len(rec.Started()) != 1 || len(rec.Ended()) != 1 {
		t.Errorf("span pair: %d started, %d ended, want 1/1", len(rec.Started()), len(rec.Ended()))
	}
}

func TestExistingContextPassthrough(t *testing.T) {
	c, rec := newTestCorrelator(t, sdktrace.AlwaysSample(), Config{})
	h := make(http.Header)
	h.Set("traceparent", "00-0af7651916cd43dd8448eb211c80319c-b7ad6b7169203331-01")
	id := bridge.CallID("external")

	c.HandleStart(bridge.StartEvent{ID: id, Method: "GET", URL: "http://svc.local/x", Header: h})
	c.HandleStop(bridge.StopEvent{ID: id, Status: 200})

	if len(rec.Started()) != 0 {
		t.Errorf("externally traced call must not create a span, got %d", len(rec.Started()))
	}
	if got := h.Get("traceparent"); got != "00-0af7651916cd43dd8448eb211c80319c-b7ad6b7169203331-01" {
		t.Errorf("caller-supplied traceparent must stay untouched, got %q", got)
	}
	if c.Live() != 0 {
		t.Errorf("live calls: got %d", c.Live())
	}
}

func TestSamplingGate_NoSpansButBookkeeping(t *testing.T) {
	c, rec := newTestCorrelator(t, sdktrace.NeverSample(), Config{})
	h := make(http.Header)
	id := bridge.CallID("dropped")

	c.HandleStart(bridge.StartEvent{ID: id, Method: "GET", URL: "http://svc.local/y", Header: h})
	if c.Live() != 1 {
		t.Fatalf("bookkeeping must still transition, live=%d", c.Live())
	}
	c.HandleStop(bridge.StopEvent{ID: id, Status: 200})

	if len(rec.Ended()) != 0 {
		t.Errorf("dropped call must not record spans, got %d", len(rec.Ended()))
	}
	if c.Live() != 0 {
		t.Errorf("record must still be removed on terminal, live=%d", c.Live())
	}
}

func TestConcurrentIsolation(t *testing.T) {
	c, rec := newTestCorrelator(t, sdktrace.AlwaysSample(), Config{})
	const calls = 10
	var wg sync.WaitGroup
	for i := 0; i < calls; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := bridge.CallID(fmt.Sprintf("conc-%d", i))
			method := "GET"
			if i%2 == 1 {
				method = "POST"
			}
			c.HandleStart(bridge.StartEvent{
				ID:     id,
				Method: method,
				URL:    fmt.Sprintf("http://svc.local/call/%d", i),
				Header: make(http.Header),
			})
			c.HandleStop(bridge.StopEvent{ID: id, Status: 200 + i})
		}(i)
	}
	wg.Wait()

	ended := rec.Ended()
	if len(ended) != calls {
		t.Fatalf("spans: got %d, want %d", len(ended), calls)
	}
	seen := make(map[int]bool)
	for _, s := range ended {
		attrs := attrMap(s)
		full := attrs[attrURLFull].AsString()
		idx, err := strconv.Atoi(full[strings.LastIndexByte(full, '/')+1:])
		if err != nil {
			t.Fatalf("unexpected url.full %q", full)
		}
		if seen[idx] {
			t.Fatalf("call %d observed twice", idx)
		}
		seen[idx] = true
		if got := attrs[attrStatusCode].AsInt64(); got != int64(200+idx) {
			t.Errorf("call %d: status attr %d, want %d (tag cross-contamination)", idx, got, 200+idx)
		}
		wantMethod := "GET"
		if idx%2 == 1 {
			wantMethod = "POST"
		}
		if s.Name() != wantMethod || attrs[attrMethod].AsString() != wantMethod {
			t.Errorf("call %d: method %q/%q, want %q", idx, s.Name(), attrs[attrMethod].AsString(), wantMethod)
		}
	}
}

func TestExceptionMapping(t *testing.T) {
	c, rec := newTestCorrelator(t, sdktrace.AlwaysSample(), Config{})
	id := bridge.CallID("boom")
	c.HandleStart(bridge.StartEvent{ID: id, Method: "GET", URL: "http://svc.local/z", Header: make(http.Header)})
	c.HandleException(bridge.ExceptionEvent{ID: id, Kind: bridge.KindTimeout})

	ended := rec.Ended()
	if len(ended) != 1 {
		t.Fatalf("spans ended: got %d", len(ended))
	}
	s := ended[0]
	if s.Status().Code != codes.Error {
		t.Errorf("status code: got %v, want Error", s.Status().Code)
	}
	if s.Status().Description != "" {
		t.Errorf("status description must stay empty, got %q", s.Status().Description)
	}
	attrs := attrMap(s)
	if got := attrs[attrErrorType].AsString(); got != bridge.KindTimeout {
		t.Errorf("error.type: got %q", got)
	}
	if _, ok := attrs[attrStatusCode]; ok {
		t.Error("failed call must not carry a response status attr")
	}

	// The record is gone: replaying the terminal event must be a no-op.
	c.HandleException(bridge.ExceptionEvent{ID: id, Kind: bridge.KindTimeout})
	c.HandleStop(bridge.StopEvent{ID: id, Status: 200})
	if got := len(rec.Ended()); got != 1 {
		t.Errorf("replayed terminal events must be ignored, spans=%d", got)
	}
}

func TestUnknownEventsIgnored(t *testing.T) {
	c, rec := newTestCorrelator(t, sdktrace.AlwaysSample(), Config{})
	c.HandleStop(bridge.StopEvent{ID: "never-started", Status: 200})
	c.HandleException(bridge.ExceptionEvent{ID: "never-started", Kind: bridge.KindTransport})
	if len(rec.Started()) != 0 {
		t.Error("no span may be fabricated retroactively")
	}
	if c.Live() != 0 {
		t.Errorf("live: %d", c.Live())
	}
}

func TestEvictIdle(t *testing.T) {
	c, rec := newTestCorrelator(t, sdktrace.AlwaysSample(), Config{EvictAfter: time.Minute})
	id := bridge.CallID("abandoned")
	c.HandleStart(bridge.StartEvent{ID: id, Method: "GET", URL: "http://svc.local/gone", Header: make(http.Header)})

	if n := c.EvictIdle(time.Now()); n != 0 {
		t.Fatalf("fresh call evicted: %d", n)
	}
	if n := c.EvictIdle(time.Now().Add(2 * time.Minute)); n != 1 {
		t.Fatalf("evicted: got %d, want 1", n)
	}
	if c.Live() != 0 {
		t.Errorf("live after eviction: %d", c.Live())
	}
	ended := rec.Ended()
	if len(ended) != 1 {
		t.Fatalf("spans ended: got %d", len(ended))
	}
	attrs := attrMap(ended[0])
	if got := attrs[attrErrorType].AsString(); got != "abandoned" {
		t.Errorf("error.type: got %q", got)
	}
	if ended[0].Status().Code != codes.Error {
		t.Errorf("status: got %v", ended[0].Status().Code)
	}
}

func TestRedaction(t *testing.T) {
	c, rec := newTestCorrelator(t, sdktrace.AlwaysSample(), Config{})
	id := bridge.CallID("secretive")
	c.HandleStart(bridge.StartEvent{ID: id, Method: "GET", URL: "http://svc.local:8443/q?token=hunter2&page=3", Header: make(http.Header)})
	c.HandleStop(bridge.StopEvent{ID: id, Status: 200})

	attrs := attrMap(rec.Ended()[0])
	if got := attrs[attrURLFull].AsString(); got != "http://svc.local:8443/q?token=&page=" {
		t.Errorf("url.full: got %q", got)
	}
	if got := attrs[attrServerAddr].AsString(); got != "svc.local" {
		t.Errorf("server.address: got %q", got)
	}
	if got := attrs[attrServerPort].AsInt64(); got != 8443 {
		t.Errorf("server.port: got %d", got)
	}
}

func TestRedactionDisabled(t *testing.T) {
	c, rec := newTestCorrelator(t, sdktrace.AlwaysSample(), Config{
		Redact: &redaction.Policy{Mode: redaction.ModeNone},
	})
	id := bridge.CallID("open")
	url := "http://svc.local/q?token=hunter2"
	c.HandleStart(bridge.StartEvent{ID: id, Method: "GET", URL: url, Header: make(http.Header)})
	c.HandleStop(bridge.StopEvent{ID: id, Status: 200})

	if got := attrMap(rec.Ended()[0])[attrURLFull].AsString(); got != url {
		t.Errorf("url.full: got %q, want %q", got, url)
	}
}

func TestEnrichmentPanicSwallowed(t *testing.T) {
	c, rec := newTestCorrelator(t, sdktrace.AlwaysSample(), Config{
		EnrichStart: func(trace.Span, any) { panic("bad hook") },
		EnrichStop:  func(trace.Span, any) { panic("worse hook") },
	})
	id := bridge.CallID("hooked")
	c.HandleStart(bridge.StartEvent{ID: id, Method: "GET", URL: "http://svc.local/h", Header: make(http.Header)})
	c.HandleStop(bridge.StopEvent{ID: id, Status: 200})

	if len(rec.Ended()) != 1 {
		t.Fatalf("panicking hooks must not break the pair, spans=%d", len(rec.Ended()))
	}
	if got := attrMap(rec.Ended()[0])[attrStatusCode].AsInt64(); got != 200 {
		t.Errorf("stop tags must still be attached, status=%d", got)
	}
}

func TestEnrichmentAddsTags(t *testing.T) {
	c, rec := newTestCorrelator(t, sdktrace.AlwaysSample(), Config{
		EnrichStart: func(span trace.Span, _ any) {
			span.SetAttributes(attribute.String("peer.service", "billing"))
		},
	})
	id := bridge.CallID("enriched")
	c.HandleStart(bridge.StartEvent{ID: id, Method: "GET", URL: "http://svc.local/e", Header: make(http.Header)})
	c.HandleStop(bridge.StopEvent{ID: id, Status: 200})

	if got := attrMap(rec.Ended()[0])["peer.service"].AsString(); got != "billing" {
		t.Errorf("enrichment attr: got %q", got)
	}
}

func TestErrorStatusCode(t *testing.T) {
	c, rec := newTestCorrelator(t, sdktrace.AlwaysSample(), Config{})
	id := bridge.CallID("notfound")
	c.HandleStart(bridge.StartEvent{ID: id, Method: "GET", URL: "http://svc.local/missing", Header: make(http.Header)})
	c.HandleStop(bridge.StopEvent{ID: id, Status: 404})

	s := rec.Ended()[0]
	if s.Status().Code != codes.Error {
		t.Errorf("4xx should set error status, got %v", s.Status().Code)
	}
	if s.Status().Description != "" {
		t.Errorf("no free text allowed, got %q", s.Status().Description)
	}
}
