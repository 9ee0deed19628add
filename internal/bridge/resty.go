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
	"context"
	"strings"

	"github.com/go-resty/resty/v2"
)

type restyCallKey struct{}

// InstrumentResty adapts the callback-style resty surface onto the feed.
// Retries re-run the before hook with the same *resty.Request, so the
// CallID stashed in its context survives and duplicate starts collapse
// downstream. Do not combine with an instrumented http.Transport on the
// same client, or every call is observed twice.
func InstrumentResty(c *resty.Client, feed *Feed) *resty.Client {
	if feed == nil {
		feed = DefaultFeed
	}
	c.OnBeforeRequest(func(cl *resty.Client, r *resty.Request) error {
		ctx := r.Context()
		id, ok := ctx.Value(restyCallKey{}).(CallID)
		if !ok {
			id = NewCallID()
			r.SetContext(context.WithValue(ctx, restyCallKey{}, id))
		}
		feed.EmitStart(StartEvent{
			ID:     id,
			Method: r.Method,
			URL:    restyURL(cl, r),
			Header: r.Header,
			Raw:    r,
		})
		return nil
	})
	c.OnAfterResponse(func(cl *resty.Client, resp *resty.Response) error {
		id, ok := resp.Request.Context().Value(restyCallKey{}).(CallID)
		if !ok {
			return nil
		}
		if willRetry(cl, resp) {
			// Not terminal: resty re-enters the before hook with the
			// same request, so the stop belongs to the last attempt.
			return nil
		}
		feed.EmitStop(StopEvent{ID: id, Status: resp.StatusCode(), Raw: resp})
		return nil
	})
	c.OnError(func(r *resty.Request, err error) {
		id, ok := r.Context().Value(restyCallKey{}).(CallID)
		if !ok {
			return
		}
		feed.EmitException(ExceptionEvent{ID: id, Kind: KindOf(err), Raw: r})
	})
	return c
}

// willRetry reports whether resty will re-run the request after this
// response: the attempt budget is not exhausted and a client-level retry
// condition matches. Mirrors the check resty itself performs between
// attempts for status-based retries (error-based retries never reach the
// after hook).
func willRetry(c *resty.Client, resp *resty.Response) bool {
	if resp.Request.Attempt > c.RetryCount {
		return false
	}
	for _, cond := range c.RetryConditions {
		if cond(resp, nil) {
			return true
		}
	}
	return false
}

// restyURL resolves the request URL against the client base URL. The before
// hook runs ahead of resty's own URL parsing, so r.URL may still be relative.
func restyURL(c *resty.Client, r *resty.Request) string {
	u := r.URL
	if strings.Contains(u, "://") || c == nil || c.BaseURL == "" {
		return u
	}
	return strings.TrimSuffix(c.BaseURL, "/") + "/" + strings.TrimPrefix(u, "/")
}
