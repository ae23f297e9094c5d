// 包 export 负责把归档结果写成文件：JSON 数据、单篇 HTML 页面与作者索引页。
package export

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// WriteJSON 以紧凑格式写出 v（不转义 HTML 字符），必要时创建父目录。
func WriteJSON(path string, v any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode json to %s: %w", path, err)
	}
	return WriteFile(path, bytes.TrimRight(buf.Bytes(), "\n"))
}

// WriteFile 写出文件，必要时创建父目录。
func WriteFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
