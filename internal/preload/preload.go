// 包 preload 从文章页内联脚本中提取服务端预加载数据：
// 脚本形如 window._preloads = JSON.parse("...")，数据经过两次 JSON 编码。
package preload

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Marker 为预加载脚本的前缀。
const Marker = "window._preloads"

// ErrNoPreload 表示页面中没有预加载脚本，对该篇文章是致命错误。
var ErrNoPreload = errors.New("preload script not found")

// Payload 为解码后的顶层映射，成员按需再解码。
type Payload map[string]json.RawMessage

// Decode 将 key 对应的成员解码到 v；key 不存在或为 null 时返回 false。
func (p Payload) Decode(key string, v any) (bool, error) {
	raw, ok := p[key]
	if !ok || string(raw) == "null" {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return true, fmt.Errorf("decode preload %q: %w", key, err)
	}
	return true, nil
}

// Extract 在文档中查找预加载脚本并解码。
func Extract(doc *goquery.Document, pageURL string) (Payload, error) {
	var script string
	doc.Find("script").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := strings.TrimSpace(s.Text())
		if strings.HasPrefix(text, Marker) {
			script = text
			return false
		}
		return true
	})
	if script == "" {
		return nil, fmt.Errorf("%s: %w", pageURL, ErrNoPreload)
	}
	p, err := Decode(script)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", pageURL, err)
	}
	return p, nil
}

// Decode 解析单段脚本文本：取标记后第一个 "(" 到全文最后一个 ")" 之间的内容，
// 先解为 JSON 字符串，再把该字符串解为对象。
func Decode(script string) (Payload, error) {
	i := strings.Index(script, Marker)
	if i < 0 {
		return nil, ErrNoPreload
	}
	open := strings.Index(script[i+len(Marker):], "(")
	end := strings.LastIndex(script, ")")
	if open < 0 || end < 0 {
		return nil, errors.New("preload call parentheses not found")
	}
	start := i + len(Marker) + open + 1
	if end < start {
		return nil, errors.New("preload call parentheses out of order")
	}
	arg := strings.TrimSpace(script[start:end])

	var encoded string
	if err := json.Unmarshal([]byte(arg), &encoded); err != nil {
		return nil, fmt.Errorf("decode preload string literal: %w", err)
	}
	var p Payload
	if err := json.Unmarshal([]byte(encoded), &p); err != nil {
		return nil, fmt.Errorf("decode preload object: %w", err)
	}
	if p == nil {
		return nil, errors.New("decode preload object: not an object")
	}
	return p, nil
}
