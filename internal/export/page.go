package export

import (
	"bytes"
	"fmt"
	"html/template"
	"path/filepath"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"

	"substack-archive/internal/paths"
)

var (
	// 评论区是内嵌的原始 HTML，需要 WithUnsafe 保留，再交给 bluemonday 清洗
	mdRenderer = goldmark.New(
		goldmark.WithExtensions(extension.GFM),
		goldmark.WithRendererOptions(html.WithUnsafe()),
	)
	policy = bluemonday.UGCPolicy()
)

func init() {
	policy.AllowImages()
	policy.AllowAttrs("class", "id").Globally()
	policy.AllowDataAttributes()
}

var pageTmpl = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>{{.Title}}</title>
<link rel="stylesheet" href="{{.CSS}}">
</head>
<body>
<main class="markdown-content">
{{.Body}}
</main>
</body>
</html>
`))

// RenderMarkdown 将 Markdown 转为清洗过的 HTML 片段。
func RenderMarkdown(markdown string) ([]byte, error) {
	var buf bytes.Buffer
	if err := mdRenderer.Convert([]byte(markdown), &buf); err != nil {
		return nil, fmt.Errorf("render markdown: %w", err)
	}
	return policy.SanitizeBytes(buf.Bytes()), nil
}

// PostHTML 渲染单篇文章页面并写入 path；样式表链接相对于页面所在目录。
func PostHTML(path, cssPath, title, markdown string) error {
	body, err := RenderMarkdown(markdown)
	if err != nil {
		return err
	}
	if title == "" {
		title = "Markdown Content"
	}
	var out bytes.Buffer
	err = pageTmpl.Execute(&out, struct {
		Title string
		CSS   string
		Body  template.HTML
	}{title, paths.RelLink(filepath.Dir(path), cssPath), template.HTML(body)})
	if err != nil {
		return fmt.Errorf("execute page template: %w", err)
	}
	return WriteFile(path, out.Bytes())
}
