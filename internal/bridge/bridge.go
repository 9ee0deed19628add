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

// Package bridge normalizes transport-level HTTP lifecycle notifications into
// three abstract signals (start, stop, exception), regardless of whether the
// call went through a blocking, callback or future style surface. The bridge
// performs no deduplication; collapsing redirect and retry duplicates is the
// correlator's job.
package bridge

import (
	"net/http"

	"github.com/google/uuid"
)

// CallID identifies one physical request object. Redirect hops and transport
// retries of the same logical call reuse the same CallID.
type CallID string

// NewCallID returns a fresh opaque call identity.
func NewCallID() CallID {
	return CallID(uuid.NewString())
}

// StartEvent is fired when the transport begins (or re-begins, on a redirect
// hop) writing a request. Header is the outbound header set, still mutable.
type StartEvent struct {
	ID     CallID
	Method string
	URL    string
	Header http.Header
	Raw    any
}

// StopEvent is fired when the transport has a response. A redirect status is
// not terminal; the same CallID will start again.
type StopEvent struct {
	ID     CallID
	Status int
	Raw    any
}

// ExceptionEvent is fired when the transport fails without a response.
// Kind is a coarse classification, never free text from the error.
type ExceptionEvent struct {
	ID   CallID
	Kind string
	Raw  any
}

// Handler consumes normalized lifecycle signals. For a single CallID the
// delivery order is one or more starts followed by exactly one terminal
// stop or exception; handlers must tolerate events for unknown ids.
type Handler interface {
	HandleStart(ev StartEvent)
	HandleStop(ev StopEvent)
	HandleException(ev ExceptionEvent)
}

// IsRedirectStatus reports whether status is a redirect that keeps the
// logical call alive. 304 is deliberately excluded: it is a final answer.
func IsRedirectStatus(status int) bool {
	switch status {
	case http.StatusMovedPermanently,
		http.StatusFound,
		http.StatusSeeOther,
		http.StatusTemporaryRedirect,
		http.StatusPermanentRedirect:
		return true
	}
	return false
}
