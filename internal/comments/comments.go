// 包 comments 表示文章评论树并将其渲染为 HTML 片段。
// 评论由来源按热度排好序，渲染时保持原顺序，不做重排。
package comments

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"
)

const (
	// UnknownAuthor 为作者账号已不存在时的占位。
	UnknownAuthor = "[unknown author]"
	// ProfileURL 为按 user_id 生成的作者主页链接前缀。
	ProfileURL = "https://substack.com/profile/"
)

// Node 为单条评论；正常/已删除/跨刊署名三种形态共用一个结构，以可空字段区分。
// UserBanned/Suppressed 仅解码保留，暂不参与渲染。
type Node struct {
	ID          int64        `json:"id"`
	Name        *string      `json:"name"`
	UserID      *int64       `json:"user_id"`
	Body        *string      `json:"body"`
	Status      *string      `json:"status"`
	Date        string       `json:"date"`
	Reactions   Reactions    `json:"reactions"`
	Children    []*Node      `json:"children"`
	Publication *Publication `json:"user_primary_publication"`
	UserBanned  bool         `json:"user_banned"`
	Suppressed  bool         `json:"suppressed"`
}

// Publication 为评论者所属的其他刊物。
type Publication struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	Subdomain    string `json:"subdomain"`
	CustomDomain string `json:"custom_domain"`
}

// BaseURL 返回刊物当前地址：自定义域名优先。
func (p *Publication) BaseURL() string {
	if p == nil {
		return ""
	}
	if d := strings.TrimSpace(p.CustomDomain); d != "" {
		return "https://" + d
	}
	if s := strings.TrimSpace(p.Subdomain); s != "" {
		return "https://" + s + ".substack.com"
	}
	return ""
}

// Reaction 为一种反应符号及其计数。
type Reaction struct {
	Symbol string
	Count  int
}

// Reactions 保留 JSON 对象中的键顺序。
type Reactions []Reaction

func (r *Reactions) UnmarshalJSON(b []byte) error {
	*r = nil
	if string(bytes.TrimSpace(b)) == "null" {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return errors.New("reactions: expected object")
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := tok.(string)
		var n int
		if err := dec.Decode(&n); err != nil {
			return fmt.Errorf("reactions %q: %w", key, err)
		}
		*r = append(*r, Reaction{Symbol: key, Count: n})
	}
	_, err = dec.Token()
	return err
}

func (r Reactions) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, x := range r {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(x.Symbol)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.WriteString(strconv.Itoa(x.Count))
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Parse 解码预加载数据中的评论数组；null 或空输入视为没有评论。
func Parse(raw []byte) ([]*Node, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var nodes []*Node
	if err := json.Unmarshal(raw, &nodes); err != nil {
		return nil, fmt.Errorf("decode comments: %w", err)
	}
	return nodes, nil
}

// Count 返回所有节点及其后代的总数；使用显式栈，不受回复链深度限制。
func Count(nodes ...*Node) int {
	stack := make([]*Node, 0, len(nodes))
	for _, n := range nodes {
		if n != nil {
			stack = append(stack, n)
		}
	}
	total := 0
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		total++
		for _, c := range n.Children {
			if c != nil {
				stack = append(stack, c)
			}
		}
	}
	return total
}

// Render 深度优先渲染评论，子评论嵌套在 blockquote 中。
// 输出不含空行，嵌入 Markdown 时保持为同一个 HTML 块。
func Render(nodes []*Node) string {
	var b strings.Builder
	for _, n := range nodes {
		renderNode(&b, n)
	}
	return b.String()
}

// RenderSection 生成附加到 Markdown 末尾的评论小节；没有评论时返回空串。
func RenderSection(nodes []*Node) string {
	if len(nodes) == 0 {
		return ""
	}
	return "\n\n## Comments\n\n<div class=\"comments\">\n" + Render(nodes) + "</div>\n"
}

func renderNode(b *strings.Builder, n *Node) {
	if n == nil {
		return
	}
	fmt.Fprintf(b, "<div class=\"comment\" id=\"comment-%d\">\n", n.ID)

	b.WriteString("<p class=\"comment-meta\">")
	b.WriteString(author(n))
	if base := n.Publication.BaseURL(); base != "" {
		name := n.Publication.Name
		if name == "" {
			name = base
		}
		fmt.Fprintf(b, " (<a href=\"%s\" data-publication-id=\"%d\">%s</a>)",
			html.EscapeString(base), n.Publication.ID, html.EscapeString(name))
	}
	fmt.Fprintf(b, " <span class=\"comment-date\">%s</span>", html.EscapeString(n.Date))
	if tokens := reactionTokens(n.Reactions); tokens != "" {
		fmt.Fprintf(b, " <span class=\"comment-reactions\">%s</span>", html.EscapeString(tokens))
	}
	b.WriteString("</p>\n")

	if n.Body == nil {
		label := "[comment removed]"
		if n.Status != nil && *n.Status != "" {
			label = "[comment removed: " + *n.Status + "]"
		}
		fmt.Fprintf(b, "<p class=\"comment-removed\"><em>%s</em></p>\n", html.EscapeString(label))
	} else {
		b.WriteString("<div class=\"comment-body\">\n")
		for _, line := range strings.Split(*n.Body, "\n") {
			if line = strings.TrimSpace(line); line != "" {
				b.WriteString("<p>" + html.EscapeString(line) + "</p>\n")
			}
		}
		b.WriteString("</div>\n")
	}

	if len(n.Children) > 0 {
		b.WriteString("<blockquote class=\"comment-replies\">\n")
		for _, c := range n.Children {
			renderNode(b, c)
		}
		b.WriteString("</blockquote>\n")
	}
	b.WriteString("</div>\n")
}

// author 以 user_id 作为稳定标识生成主页链接；显示名仅作展示。
func author(n *Node) string {
	if n.UserID == nil {
		return "<span class=\"comment-author\">" + html.EscapeString(UnknownAuthor) + "</span>"
	}
	name := UnknownAuthor
	if n.Name != nil && strings.TrimSpace(*n.Name) != "" {
		name = *n.Name
	}
	return fmt.Sprintf("<a class=\"comment-author\" href=\"%s%d\">%s</a>",
		ProfileURL, *n.UserID, html.EscapeString(name))
}

func reactionTokens(rs Reactions) string {
	parts := make([]string, 0, len(rs))
	for _, r := range rs {
		if r.Count == 0 {
			continue
		}
		parts = append(parts, r.Symbol+strconv.Itoa(r.Count))
	}
	return strings.Join(parts, " ")
}
