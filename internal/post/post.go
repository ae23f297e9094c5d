// 包 post 将文章页归一化为标题/副标题/日期/点赞数/正文：
// - FromHTML：按 rules 选择器逐字段回退解析原始页面
// - FromPreload：直接读取预加载数据中的 post 对象（离线重放同样走这里）
// 两条路径最终都经过 ToMarkdown 与 Combine。
package post

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/araddon/dateparse"

	"substack-archive/internal/rules"
)

const (
	// DisplayLayout 为统一的日期展示格式（如 Jan 02, 2006）。
	DisplayLayout = "Jan 02, 2006"
	// DateNotFound 为所有日期来源均失败时的占位文本。
	DateNotFound = "Date not found"
	// Untitled 为缺失标题时的默认值。
	Untitled = "Untitled"
	// HeartReaction 为点赞对应的反应符号。
	HeartReaction = "❤"
)

var converter = md.NewConverter("", true, nil)

// Post 为归一化结果；ID/Slug/RepostCount 仅预加载路径可得。
type Post struct {
	ID          int64
	Slug        string
	Title       string
	Subtitle    string
	Date        string
	LikeCount   int
	RepostCount int
	BodyHTML    string
}

// Markdown 返回合并元数据后的完整 Markdown。
func (p Post) Markdown() (string, error) {
	body, err := ToMarkdown(p.BodyHTML)
	if err != nil {
		return "", err
	}
	return Combine(p.Title, p.Subtitle, p.Date, p.LikeCount, body), nil
}

// IsPaywalled 判断页面是否为付费墙页面。
func IsPaywalled(doc *goquery.Document, preset rules.Preset) bool {
	pp := page(preset)
	return selectionOf(doc.Selection, pp.Paywall) != nil
}

// FromHTML 按选择器逐字段解析，任何字段缺失都回退到默认值而不报错。
func FromHTML(doc *goquery.Document, preset rules.Preset) Post {
	pp := page(preset)
	root := doc.Selection
	p := Post{
		Title:    textOf(root, pp.Title),
		Subtitle: textOf(root, pp.Subtitle),
	}
	if p.Title == "" {
		p.Title = Untitled
	}

	// 日期：页面文本 → JSON-LD datePublished → 占位
	if d := textOf(root, pp.Date); d != "" {
		p.Date = normalizeText(d)
	} else if d, ok := ldDatePublished(root, pp.LDJSON); ok {
		p.Date = d
	} else {
		p.Date = DateNotFound
	}

	p.LikeCount = parseCount(textOf(root, pp.LikeCount))

	if s := selectionOf(root, pp.Content); s != nil {
		if h, err := goquery.OuterHtml(s); err == nil {
			p.BodyHTML = h
		}
	}
	return p
}

// preloadPost 为预加载数据中 post 对象用到的字段。
type preloadPost struct {
	ID            int64          `json:"id"`
	Slug          string         `json:"slug"`
	Title         string         `json:"title"`
	Subtitle      string         `json:"subtitle"`
	PostDate      string         `json:"post_date"`
	BodyHTML      *string        `json:"body_html"`
	Reactions     map[string]int `json:"reactions"`
	ReactionCount *int           `json:"reaction_count"`
	Restacks      int            `json:"restacks"`
}

// FromPreload 从预加载的 post 对象取字段；数据已结构化，不做选择器回退。
func FromPreload(raw json.RawMessage) (Post, error) {
	var pp preloadPost
	if err := json.Unmarshal(raw, &pp); err != nil {
		return Post{}, fmt.Errorf("decode preload post: %w", err)
	}
	likes, ok := pp.Reactions[HeartReaction]
	if !ok && pp.ReactionCount != nil {
		likes = *pp.ReactionCount
	}
	date, ok := FormatISO(pp.PostDate)
	if !ok {
		date = DateNotFound
	}
	p := Post{
		ID:          pp.ID,
		Slug:        pp.Slug,
		Title:       pp.Title,
		Subtitle:    pp.Subtitle,
		Date:        date,
		LikeCount:   likes,
		RepostCount: pp.Restacks,
	}
	if pp.BodyHTML != nil {
		p.BodyHTML = *pp.BodyHTML
	}
	return p, nil
}

// HasBody 报告预加载 post 对象是否携带正文（截断的付费文章没有）。
func HasBody(raw json.RawMessage) bool {
	var pp preloadPost
	if err := json.Unmarshal(raw, &pp); err != nil {
		return false
	}
	return pp.BodyHTML != nil && strings.TrimSpace(*pp.BodyHTML) != ""
}

// ToMarkdown 将正文 HTML 转为 Markdown；空输入返回空串。
func ToMarkdown(html string) (string, error) {
	if strings.TrimSpace(html) == "" {
		return "", nil
	}
	out, err := converter.ConvertString(html)
	if err != nil {
		return "", fmt.Errorf("convert html to markdown: %w", err)
	}
	return out, nil
}

// Combine 在正文前拼接标题、可选副标题、日期与点赞数。
func Combine(title, subtitle, date string, likes int, body string) string {
	var b strings.Builder
	b.WriteString("# " + title + "\n\n")
	if subtitle != "" {
		b.WriteString("## " + subtitle + "\n\n")
	}
	b.WriteString("**" + date + "**\n\n")
	b.WriteString("**Likes:** " + strconv.Itoa(likes) + "\n\n")
	b.WriteString(body)
	return b.String()
}

// FormatISO 将 ISO-8601 时间（Z 统一为 +00:00）格式化为展示格式。
func FormatISO(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	if strings.HasSuffix(s, "Z") {
		s = strings.TrimSuffix(s, "Z") + "+00:00"
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format(DisplayLayout), true
		}
	}
	return "", false
}

// normalizeText 将页面上的日期文本统一为展示格式；无法识别时原样保留。
func normalizeText(s string) string {
	if d, ok := FormatISO(s); ok {
		return d
	}
	if t, err := dateparse.ParseAny(s); err == nil {
		return t.Format(DisplayLayout)
	}
	return s
}

func ldDatePublished(root *goquery.Selection, sel string) (string, bool) {
	if strings.TrimSpace(sel) == "" {
		return "", false
	}
	var out string
	root.Find(sel).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		var meta struct {
			DatePublished string `json:"datePublished"`
		}
		if err := json.Unmarshal([]byte(s.Text()), &meta); err != nil {
			return true
		}
		if d, ok := FormatISO(meta.DatePublished); ok {
			out = d
			return false
		}
		return true
	})
	return out, out != ""
}

// parseCount 只接受纯数字文本，其余（如占位文字）一律为 0。
func parseCount(s string) int {
	if s == "" {
		return 0
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

func page(preset rules.Preset) *rules.PostPage {
	if preset.PostPage == nil {
		return rules.Default().PostPage
	}
	return preset.PostPage
}
