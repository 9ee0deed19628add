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
	"crypto/tls"
	"errors"
	"net"
)

// Exception kinds attached to spans. Coarse classes only; error message text
// never leaves the process through telemetry.
const (
	KindCanceled       = "canceled"
	KindTimeout        = "timeout"
	KindNameResolution = "name_resolution"
	KindTLS            = "tls"
	KindConnection     = "connection"
	KindTransport      = "transport"
)

// KindOf classifies a transport error into an exception kind.
func KindOf(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.Canceled) {
		return KindCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return KindTimeout
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return KindNameResolution
	}
	var certErr *tls.CertificateVerificationError
	if errors.As(err, &certErr) {
		return KindTLS
	}
	var recErr *tls.RecordHeaderError
	if errors.As(err, &recErr) {
		return KindTLS
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return KindConnection
	}
	return KindTransport
}
