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

// Package correlate collapses low-level HTTP lifecycle events into exactly
// one span per logical call. It owns the live-call table, decides span
// creation and finalization timing, injects propagation headers once per
// call, and applies enrichment and redaction before anything reaches the
// tracing API. Nothing here blocks on I/O and nothing here is allowed to
// alter the instrumented call.
package correlate

import (
	"context"
	"net/url"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"spanbridge/internal/bridge"
	"spanbridge/internal/propagate"
	"spanbridge/pkg/log"
	"spanbridge/pkg/metrics"
	"spanbridge/pkg/redaction"
)

// Span attribute keys, start side and stop side.
const (
	attrMethod     = "http.request.method"
	attrURLFull    = "url.full"
	attrServerAddr = "server.address"
	attrServerPort = "server.port"
	attrStatusCode = "http.response.status_code"
	attrErrorType  = "error.type"
)

// EnrichFunc is a caller-supplied hook, invoked synchronously on the
// transport goroutine with the raw request or response object. Panics are
// recovered and swallowed.
type EnrichFunc func(span trace.Span, raw any)

// Config is an immutable snapshot taken at setup time.
type Config struct {
	// Tracer creates spans; defaults to the global provider's tracer.
	Tracer trace.Tracer
	// Context supplies the parent context read at span creation; defaults
	// to context.Background.
	Context func() context.Context
	// Baggage supplies the members injected alongside traceparent.
	Baggage func() []propagate.Member
	// Redact is the URL query policy; nil means strip values, keep keys.
	Redact *redaction.Policy
	// EnrichStart and EnrichStop run before start/stop tags are attached.
	EnrichStart EnrichFunc
	EnrichStop  EnrichFunc
	// Logger receives best-effort diagnostics; never the caller's errors.
	Logger *log.Logger
	// EvictAfter bounds how long an abandoned call may stay live; 0 keeps
	// records until a terminal event arrives.
	EvictAfter time.Duration
}

// Correlator maps low-level events to logical calls. It implements
// bridge.Handler and is safe for use from arbitrary goroutines.
type Correlator struct {
	cfg    Config
	shards [shardCount]shard
	diag   *rate.Limiter
	now    func() time.Time
}

// New creates a Correlator from cfg, filling defaults.
func New(cfg Config) *Correlator {
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer("spanbridge")
	}
	if cfg.Context == nil {
		cfg.Context = context.Background
	}
	if cfg.Logger == nil {
		cfg.Logger, _ = log.NewLogger(nil)
	}
	c := &Correlator{
		cfg:  cfg,
		diag: rate.NewLimiter(rate.Every(time.Second), 10),
		now:  time.Now,
	}
	for i := range c.shards {
		c.shards[i].calls = make(map[bridge.CallID]*logicalCall)
	}
	return c
}

// HandleStart transitions NotStarted -> Started, or records a redirect hop
// for a known id. Requests already carrying a traceparent are externally
// traced and left untouched: no span, no injection, no telemetry.
func (c *Correlator) HandleStart(ev bridge.StartEvent) {
	sh := c.shardFor(ev.ID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if rec, ok := sh.calls[ev.ID]; ok {
		// Redirect or retry hop: same logical call, no new span, no
		// re-injection (the previous hop already consumed the headers).
		rec.lastSeen = c.now()
		metrics.RedirectHops.Inc()
		return
	}
	if ev.Header != nil && propagate.Has(ev.Header) {
		metrics.EventDropped.WithLabelValues("passthrough").Inc()
		return
	}

	// Span name is the bare request method, following the OTel HTTP
	// semantic conventions for client spans: the name must stay low
	// cardinality, host and full URL belong in attributes.
	_, span := c.cfg.Tracer.Start(c.cfg.Context(), ev.Method,
		trace.WithSpanKind(trace.SpanKindClient))
	sampled := span.IsRecording()
	if sampled {
		c.enrich(c.cfg.EnrichStart, span, ev.Raw)
		span.SetAttributes(c.startAttributes(ev.Method, ev.URL)...)
	}
	if sc := span.SpanContext(); sc.IsValid() && ev.Header != nil {
		var members []propagate.Member
		if c.cfg.Baggage != nil {
			members = c.cfg.Baggage()
		}
		propagate.Inject(ev.Header, sc, members)
		metrics.HeaderInjections.Inc()
	}

	sh.calls[ev.ID] = &logicalCall{span: span, sampled: sampled, lastSeen: c.now()}
	metrics.CallStarted.Inc()
	metrics.LiveCalls.Inc()
}

// HandleStop finalizes the call unless the status is a redirect. Stops for
// unknown ids (feed attached mid-flight, or already terminal) are ignored;
// no span is fabricated retroactively.
func (c *Correlator) HandleStop(ev bridge.StopEvent) {
	sh := c.shardFor(ev.ID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	rec, ok := sh.calls[ev.ID]
	if !ok {
		metrics.EventDropped.WithLabelValues("unknown_id").Inc()
		return
	}
	if bridge.IsRedirectStatus(ev.Status) {
		rec.lastSeen = c.now()
		return
	}
	delete(sh.calls, ev.ID)
	metrics.LiveCalls.Dec()

	outcome := "ok"
	if rec.sampled {
		c.enrich(c.cfg.EnrichStop, rec.span, ev.Raw)
		rec.span.SetAttributes(attribute.Int(attrStatusCode, ev.Status))
		if ev.Status >= 400 {
			rec.span.SetStatus(codes.Error, "")
		}
	}
	if ev.Status >= 400 {
		outcome = "error"
	}
	rec.span.End()
	metrics.CallEnded.WithLabelValues(outcome).Inc()
}

// HandleException finalizes the call with an error status. Only the coarse
// exception kind is attached; message text is intentionally dropped so
// request content cannot leak through telemetry.
func (c *Correlator) HandleException(ev bridge.ExceptionEvent) {
	sh := c.shardFor(ev.ID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	rec, ok := sh.calls[ev.ID]
	if !ok {
		metrics.EventDropped.WithLabelValues("unknown_id").Inc()
		return
	}
	delete(sh.calls, ev.ID)
	metrics.LiveCalls.Dec()

	if rec.sampled {
		c.enrich(c.cfg.EnrichStop, rec.span, ev.Raw)
		rec.span.SetAttributes(attribute.String(attrErrorType, ev.Kind))
		rec.span.SetStatus(codes.Error, "")
	}
	rec.span.End()
	metrics.CallEnded.WithLabelValues("exception").Inc()
}

func (c *Correlator) startAttributes(method, rawURL string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 4)
	attrs = append(attrs, attribute.String(attrMethod, method))
	attrs = append(attrs, attribute.String(attrURLFull, c.cfg.Redact.RedactURL(rawURL)))
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		attrs = append(attrs, attribute.String(attrServerAddr, u.Hostname()))
		if p := u.Port(); p != "" {
			if n, err := strconv.Atoi(p); err == nil {
				attrs = append(attrs, attribute.Int(attrServerPort, n))
			}
		}
	}
	return attrs
}

// enrich runs a caller hook, absorbing panics.
func (c *Correlator) enrich(fn EnrichFunc, span trace.Span, raw any) {
	if fn == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			metrics.EnrichPanics.Inc()
			c.warn("enrichment callback panicked", "panic", r)
		}
	}()
	fn(span, raw)
}

// warn logs a diagnostic, rate-limited so instrumentation trouble cannot
// flood the caller's logs.
func (c *Correlator) warn(msg string, args ...any) {
	if c.diag.Allow() {
		c.cfg.Logger.Warn(msg, args...)
	}
}
