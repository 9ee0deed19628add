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

import "net/http"

// Result is the outcome of a future-style call.
type Result struct {
	Response *http.Response
	Err      error
}

// Go issues req on its own goroutine and returns a single-buffered result
// channel. Lifecycle events still come from the client's transport, so the
// correlator sees the same three signals as for a blocking call.
func Go(client *http.Client, req *http.Request) <-chan Result {
	if client == nil {
		client = http.DefaultClient
	}
	out := make(chan Result, 1)
	go func() {
		resp, err := client.Do(req)
		out <- Result{Response: resp, Err: err}
	}()
	return out
}
