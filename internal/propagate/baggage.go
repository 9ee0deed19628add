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

package propagate

import (
	"strings"

	xerrors "spanbridge/pkg/errors"
)

// Member baggage 中的一个 key/value 对（保持调用方给定的顺序）
type Member struct {
	Key   string
	Value string
}

// EncodeBaggage 序列化为逗号分隔的 key=value 列表。
// 保留分隔符（/ , = %）与不可见字符做百分号编码，保证可无损往返。
func EncodeBaggage(members []Member) string {
	var b strings.Builder
	for i, m := range members {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(escape(m.Key))
		b.WriteByte('=')
		b.WriteString(escape(m.Value))
	}
	return b.String()
}

// DecodeBaggage 解析 baggage 头；成员格式不合法返回 ErrMalformedHeader。
func DecodeBaggage(s string) ([]Member, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]Member, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		eq := strings.IndexByte(p, '=')
		if eq < 0 {
			return nil, xerrors.Wrapf(xerrors.ErrMalformedHeader, "baggage member %q", p)
		}
		k, err := unescape(p[:eq])
		if err != nil {
			return nil, err
		}
		v, err := unescape(p[eq+1:])
		if err != nil {
			return nil, err
		}
		out = append(out, Member{Key: k, Value: v})
	}
	return out, nil
}

const upperhex = "0123456789ABCDEF"

func needsEscape(c byte) bool {
	if c == '%' || c == '/' || c == ',' || c == '=' {
		return true
	}
	return c <= ' ' || c > '~'
}

func escape(s string) string {
	n := 0
	for i := 0; i < len(s); i++ {
		if needsEscape(s[i]) {
			n++
		}
	}
	if n == 0 {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 2*n)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if needsEscape(c) {
			b.WriteByte('%')
			b.WriteByte(upperhex[c>>4])
			b.WriteByte(upperhex[c&0x0f])
		} else {
			b.WriteByte(c)
		}
	}
	return b.String()
}

func unescape(s string) (string, error) {
	if !strings.ContainsRune(s, '%') {
		return s, nil
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '%' {
			b.WriteByte(c)
			continue
		}
		if i+2 >= len(s) {
			return "", xerrors.Wrapf(xerrors.ErrMalformedHeader, "baggage escape %q", s[i:])
		}
		hi, ok1 := unhex(s[i+1])
		lo, ok2 := unhex(s[i+2])
		if !ok1 || !ok2 {
			return "", xerrors.Wrapf(xerrors.ErrMalformedHeader, "baggage escape %q", s[i:i+3])
		}
		b.WriteByte(hi<<4 | lo)
		i += 2
	}
	return b.String(), nil
}

func unhex(c byte) (byte, bool) {
	switch {
	case '0' <= c && c <= '9':
		return c - '0', true
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10, true
	case 'A' <= c && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}
