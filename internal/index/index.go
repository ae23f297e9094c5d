// 包 index 维护文章索引文件：读取、按 id 合并、写回。
package index

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"

	"substack-archive/internal/export"
	"substack-archive/internal/model"
)

// Load 读取索引；文件不存在时返回空索引。
func Load(path string) ([]model.PostRecord, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read index %s: %w", path, err)
	}
	var recs []model.PostRecord
	if err := json.Unmarshal(b, &recs); err != nil {
		return nil, fmt.Errorf("decode index %s: %w", path, err)
	}
	return recs, nil
}

// Merge 以 batch 为准合并：同 id 的旧条目被替换，结果按 id 倒序。
// batch 内重复 id 以最后一次为准；排序稳定，对同样的输入结果不变。
func Merge(existing, batch []model.PostRecord) []model.PostRecord {
	pos := make(map[int64]int, len(batch))
	fresh := make([]model.PostRecord, 0, len(batch))
	for _, r := range batch {
		if i, ok := pos[r.ID]; ok {
			fresh[i] = r
			continue
		}
		pos[r.ID] = len(fresh)
		fresh = append(fresh, r)
	}
	out := make([]model.PostRecord, 0, len(fresh)+len(existing))
	out = append(out, fresh...)
	for _, r := range existing {
		if _, ok := pos[r.ID]; !ok {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}

// Save 写出紧凑 JSON。
func Save(path string, recs []model.PostRecord) error {
	if recs == nil {
		recs = []model.PostRecord{}
	}
	return export.WriteJSON(path, recs)
}

// Update 读取、合并并写回索引，返回合并后的结果。
func Update(path string, batch []model.PostRecord) ([]model.PostRecord, error) {
	existing, err := Load(path)
	if err != nil {
		return nil, err
	}
	merged := Merge(existing, batch)
	if err := Save(path, merged); err != nil {
		return nil, err
	}
	return merged, nil
}
