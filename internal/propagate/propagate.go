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

// Package propagate 实现出站 HTTP 头的链路上下文编解码：
// traceparent（W3C 定宽 hex 格式）、tracestate（透传）与 baggage。
package propagate

import (
	"encoding/hex"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/trace"

	xerrors "spanbridge/pkg/errors"
)

// 出站头名称（HTTP 头不区分大小写，发送时用小写形式）
const (
	HeaderTraceparent = "traceparent"
	HeaderTracestate  = "tracestate"
	HeaderBaggage     = "baggage"
)

// Has 判断请求头中是否已携带 traceparent（调用方自带上下文时注入让位）
func Has(h http.Header) bool {
	return h.Get(HeaderTraceparent) != ""
}

// FormatTraceparent 序列化为 {version}-{traceId}-{spanId}-{flags}，
// 宽度固定：2-32-16-2，全小写 hex。
func FormatTraceparent(sc trace.SpanContext) string {
	var b strings.Builder
	b.Grow(55)
	b.WriteString("00-")
	b.WriteString(sc.TraceID().String())
	b.WriteByte('-')
	b.WriteString(sc.SpanID().String())
	b.WriteByte('-')
	flags := [1]byte{byte(sc.TraceFlags())}
	b.WriteString(hex.EncodeToString(flags[:]))
	return b.String()
}

// ParseTraceparent 解析 traceparent；格式不合法返回 ErrMalformedHeader。
// 返回的 SpanContext 标记为 remote。
func ParseTraceparent(s string) (trace.SpanContext, error) {
	parts := strings.Split(s, "-")
	if len(parts) != 4 {
		return trace.SpanContext{}, xerrors.Wrapf(xerrors.ErrMalformedHeader, "traceparent %q", s)
	}
	if len(parts[0]) != 2 || parts[0] == "ff" {
		return trace.SpanContext{}, xerrors.Wrapf(xerrors.ErrMalformedHeader, "traceparent version %q", parts[0])
	}
	if _, err := hex.DecodeString(parts[0]); err != nil {
		return trace.SpanContext{}, xerrors.Wrapf(xerrors.ErrMalformedHeader, "traceparent version %q", parts[0])
	}
	tid, err := trace.TraceIDFromHex(parts[1])
	if err != nil {
		return trace.SpanContext{}, xerrors.Wrap(xerrors.ErrMalformedHeader, "traceparent trace-id")
	}
	sid, err := trace.SpanIDFromHex(parts[2])
	if err != nil {
		return trace.SpanContext{}, xerrors.Wrap(xerrors.ErrMalformedHeader, "traceparent span-id")
	}
	fb, err := hex.DecodeString(parts[3])
	if err != nil || len(fb) != 1 {
		return trace.SpanContext{}, xerrors.Wrap(xerrors.ErrMalformedHeader, "traceparent flags")
	}
	return trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    tid,
		SpanID:     sid,
		TraceFlags: trace.TraceFlags(fb[0]),
		Remote:     true,
	}), nil
}

// Inject 将链路上下文与 baggage 写入出站请求头。
// 每个逻辑调用只应调用一次；tracestate 为空时不写该头。
func Inject(h http.Header, sc trace.SpanContext, members []Member) {
	h.Set(HeaderTraceparent, FormatTraceparent(sc))
	if ts := sc.TraceState().String(); ts != "" {
		h.Set(HeaderTracestate, ts)
	}
	if len(members) > 0 {
		h.Set(HeaderBaggage, EncodeBaggage(members))
	}
}
