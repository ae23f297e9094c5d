package export

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"substack-archive/internal/logx"
	"substack-archive/internal/model"
)

const (
	dataSlot   = `<script type="application/json" id="essaysData"></script>`
	authorSlot = `<!-- AUTHOR_NAME -->`
	authorWord = "author_name"
)

// IndexHTML 用模板生成作者索引页：嵌入索引数据并替换作者名占位。
// 数据使用 encoding/json 默认转义，"<" 等字符无法提前结束 script 块。
func IndexHTML(templatePath, outPath, handle string, records []model.PostRecord) error {
	tmpl, err := os.ReadFile(templatePath)
	if err != nil {
		return fmt.Errorf("read template %s: %w", templatePath, err)
	}
	if records == nil {
		records = []model.PostRecord{}
	}
	data, err := json.MarshalIndent(records, "", "    ")
	if err != nil {
		return fmt.Errorf("encode index data: %w", err)
	}
	page := string(tmpl)
	if !strings.Contains(page, dataSlot) {
		logx.Warnf("索引模板缺少 essaysData 占位，页面将不含数据：%s", templatePath)
	}
	// 作者名先于数据替换，文章标题里的 author_name 字样保持原样
	page = strings.ReplaceAll(page, authorSlot, handle)
	page = strings.ReplaceAll(page, authorWord, handle)
	page = strings.Replace(page, dataSlot,
		`<script type="application/json" id="essaysData">`+string(data)+`</script>`, 1)
	return WriteFile(outPath, []byte(page))
}
