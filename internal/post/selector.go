package post

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// 选择器表达式语法：
// - 文本：".title" 或 "."（取当前节点文本）
// - 属性："meta@content" / "@href"（当前节点属性）
// - 回退：使用 "||" 连接多个候选，按先后尝试，取第一个非空值

// textOf 按表达式取值，所有候选为空时返回 ""。
func textOf(scope *goquery.Selection, expr string) string {
	for _, part := range alternatives(expr) {
		if v := single(scope, part); v != "" {
			return v
		}
	}
	return ""
}

// selectionOf 返回第一个命中的节点集合（用于取外层 HTML）。
func selectionOf(scope *goquery.Selection, expr string) *goquery.Selection {
	for _, part := range alternatives(expr) {
		if at := strings.Index(part, "@"); at != -1 {
			part = strings.TrimSpace(part[:at])
		}
		if part == "" || part == "." {
			return scope
		}
		if s := scope.Find(part).First(); s.Length() > 0 {
			return s
		}
	}
	return nil
}

func alternatives(expr string) []string {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil
	}
	parts := strings.Split(expr, "||")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func single(scope *goquery.Selection, expr string) string {
	if expr == "." {
		return strings.TrimSpace(scope.Text())
	}
	if at := strings.Index(expr, "@"); at != -1 {
		sel := strings.TrimSpace(expr[:at])
		attr := strings.TrimSpace(expr[at+1:])
		el := scope
		if sel != "" {
			el = scope.Find(sel).First()
		}
		val, _ := el.Attr(attr)
		return strings.TrimSpace(val)
	}
	return strings.TrimSpace(scope.Find(expr).First().Text())
}
