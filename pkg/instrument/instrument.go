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

// Package instrument 是对外门面：一次 Setup 完成事件桥接与调用关联器的装配，
// 返回可包装 net/http 与 resty 客户端的句柄；Close 负责显式拆除。
// 同一个 Feed 上重复 Setup 返回 errors.ErrAttached。
package instrument

import (
	"context"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel/baggage"
	"go.opentelemetry.io/otel/trace"

	"spanbridge/internal/bridge"
	"spanbridge/internal/correlate"
	"spanbridge/internal/propagate"
	"spanbridge/pkg/config"
	"spanbridge/pkg/log"
	"spanbridge/pkg/redaction"
)

// Options Setup 的配置快照；零值可用
type Options struct {
	// Tracer 为空时使用全局 provider 的 tracer
	Tracer trace.Tracer
	// Feed 为空时使用进程级默认 feed
	Feed *bridge.Feed
	// Context 提供建 span 时读取的父上下文（含 baggage）
	Context func() context.Context
	// Redact 为空时使用默认策略（保留 key、去掉 value）
	Redact *redaction.Policy
	// EnrichRequest / EnrichResponse 富化回调，panic 会被吸收
	EnrichRequest  func(span trace.Span, raw any)
	EnrichResponse func(span trace.Span, raw any)
	// Logger 诊断日志；为空时使用默认 slog
	Logger *log.Logger
	// EvictAfter 空闲调用回收时长；0 表示不回收
	EvictAfter time.Duration
}

// Instrumentation 一次装配得到的句柄
type Instrumentation struct {
	feed       *bridge.Feed
	correlator *correlate.Correlator
	cancel     context.CancelFunc
}

// Setup 装配关联器并挂到 feed 上。进程内通常只调用一次；
// Close 之后可重新 Setup。
func Setup(opts Options) (*Instrumentation, error) {
	feed := opts.Feed
	if feed == nil {
		feed = bridge.DefaultFeed
	}
	ctxSource := opts.Context
	if ctxSource == nil {
		ctxSource = context.Background
	}

	cor := correlate.New(correlate.Config{
		Tracer:      opts.Tracer,
		Context:     ctxSource,
		Baggage:     baggageSource(ctxSource),
		Redact:      opts.Redact,
		EnrichStart: opts.EnrichRequest,
		EnrichStop:  opts.EnrichResponse,
		Logger:      opts.Logger,
		EvictAfter:  opts.EvictAfter,
	})
	if err := feed.Attach(cor); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	go cor.StartEviction(ctx)

	return &Instrumentation{feed: feed, correlator: cor, cancel: cancel}, nil
}

// FromConfig 按配置快照构造 Options
func FromConfig(cfg *config.Config, logger *log.Logger) Options {
	if cfg == nil {
		cfg = config.Default()
	}
	redact := redaction.DefaultPolicy()
	if !cfg.Instrument.RedactEnabled() {
		redact = &redaction.Policy{Mode: redaction.ModeNone}
	}
	return Options{
		Redact:     redact,
		Logger:     logger,
		EvictAfter: cfg.Instrument.EvictAfterDuration(),
	}
}

// Close 拆除：停止回收循环并从 feed 摘除 handler
func (in *Instrumentation) Close() {
	in.cancel()
	in.feed.Detach()
}

// Live 当前在途逻辑调用数（诊断用）
func (in *Instrumentation) Live() int {
	return in.correlator.Live()
}

// Transport 包装一个 http.RoundTripper（阻塞式调用面）
func (in *Instrumentation) Transport(base http.RoundTripper) http.RoundTripper {
	return bridge.NewTransport(base, in.feed)
}

// Client 返回替换了 Transport 的 http.Client 副本，原 client 不变
func (in *Instrumentation) Client(c *http.Client) *http.Client {
	if c == nil {
		c = &http.Client{}
	}
	return &http.Client{
		Transport:     in.Transport(c.Transport),
		CheckRedirect: c.CheckRedirect,
		Jar:           c.Jar,
		Timeout:       c.Timeout,
	}
}

// Resty 给 resty 客户端挂插桩钩子（回调式调用面）
func (in *Instrumentation) Resty(c *resty.Client) *resty.Client {
	return bridge.InstrumentResty(c, in.feed)
}

// Go 以 future 风格发起请求；client 应为 Client 包装过的实例
func (in *Instrumentation) Go(client *http.Client, req *http.Request) <-chan bridge.Result {
	return bridge.Go(client, req)
}

// baggageSource 从上下文读取 OTel baggage 并转为注入成员
func baggageSource(ctxSource func() context.Context) func() []propagate.Member {
	return func() []propagate.Member {
		bag := baggage.FromContext(ctxSource())
		ms := bag.Members()
		if len(ms) == 0 {
			return nil
		}
		out := make([]propagate.Member, 0, len(ms))
		for _, m := range ms {
			out = append(out, propagate.Member{Key: m.Key(), Value: m.Value()})
		}
		return out
	}
}
