// 包 rules 负责加载并提供文章页解析规则（rules.yaml），
// 以预设名（如 default）组织 CSS 选择器，用于 html 来源的字段回退解析。
package rules

import (
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Rules 表示全部规则集合：键为预设名，值为具体规则。
type Rules struct {
	Presets map[string]Preset `yaml:",inline"`
}

// Preset 为单个主题预设的解析规则集合。
type Preset struct {
	PostPage *PostPage `yaml:"post_page"`
}

// PostPage 描述文章页的选择器，均支持 "||" 回退与 "选择器@属性"：
// - title/subtitle/date/like_count：取文本
// - content：正文容器（取外层 HTML）
// - paywall：付费墙标记，命中即跳过
// - ld_json：结构化元数据脚本
type PostPage struct {
	Title     string `yaml:"title"`
	Subtitle  string `yaml:"subtitle"`
	Date      string `yaml:"date"`
	LikeCount string `yaml:"like_count"`
	Content   string `yaml:"content"`
	Paywall   string `yaml:"paywall"`
	LDJSON    string `yaml:"ld_json"`
}

// Default 为内置的 Substack 选择器。
func Default() Preset {
	return Preset{PostPage: &PostPage{
		Title:     "h1.post-title||h2",
		Subtitle:  "h3.subtitle",
		Date:      "div.pencraft.pc-reset.color-pub-secondary-text-hGQ02T",
		LikeCount: "a.post-ufi-button .label",
		Content:   "div.available-content",
		Paywall:   "h2.paywall-title",
		LDJSON:    `script[type="application/ld+json"]`,
	}}
}

func Load(path string) (*Rules, error) {
	// 从文件加载 YAML 到 Rules.Presets
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open rules %s: %w", path, err)
	}
	defer f.Close()
	b, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read rules %s: %w", path, err)
	}
	var r Rules
	if err := yaml.Unmarshal(b, &r.Presets); err != nil {
		return nil, fmt.Errorf("unmarshal rules %s: %w", path, err)
	}
	return &r, nil
}

// GetPreset 按名称获取预设（不区分大小写），若为空或不存在则回退到 "default"；
// 都没有时返回内置默认值。预设中未填写的字段以内置默认值补齐。
func (r *Rules) GetPreset(name string) Preset {
	def := Default()
	if r == nil || len(r.Presets) == 0 {
		return def
	}
	if name == "" {
		name = "default"
	}
	p, ok := r.Presets[name]
	if !ok {
		lower := strings.ToLower(name)
		for k, v := range r.Presets {
			if strings.ToLower(k) == lower {
				p, ok = v, true
				break
			}
		}
	}
	if !ok {
		p, ok = r.Presets["default"]
	}
	if !ok || p.PostPage == nil {
		return def
	}
	merged := *p.PostPage
	d := def.PostPage
	fill := func(dst *string, v string) {
		if strings.TrimSpace(*dst) == "" {
			*dst = v
		}
	}
	fill(&merged.Title, d.Title)
	fill(&merged.Subtitle, d.Subtitle)
	fill(&merged.Date, d.Date)
	fill(&merged.LikeCount, d.LikeCount)
	fill(&merged.Content, d.Content)
	fill(&merged.Paywall, d.Paywall)
	fill(&merged.LDJSON, d.LDJSON)
	return Preset{PostPage: &merged}
}
