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

package redaction

import (
	"net/url"
	"strings"
)

// RedactURL 按策略处理 URL 的 query string。
// 解析失败或无 query 时原样返回；nil Policy 等价于默认策略。
func (p *Policy) RedactURL(raw string) string {
	mode := ModeStripValues
	if p != nil {
		mode = p.Mode
	}
	if mode == ModeNone {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.RawQuery == "" {
		return raw
	}
	switch mode {
	case ModeDropQuery:
		u.RawQuery = ""
	default:
		u.RawQuery = stripValues(u.RawQuery)
	}
	return u.String()
}

// stripValues 保留 key 与参数顺序，清空 value："a=1&b=2" -> "a=&b="
func stripValues(rawQuery string) string {
	parts := strings.Split(rawQuery, "&")
	var b strings.Builder
	for i, part := range parts {
		if i > 0 {
			b.WriteByte('&')
		}
		if eq := strings.IndexByte(part, '='); eq >= 0 {
			b.WriteString(part[:eq])
		} else {
			b.WriteString(part)
		}
		b.WriteByte('=')
	}
	return b.String()
}
