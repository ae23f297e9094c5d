package scrape

import (
	"sync"

	"substack-archive/internal/model"
)

// Batch 收集本次运行成功归档的文章；同 id 以后写入的为准，保持首次出现的顺序。
type Batch struct {
	mu    sync.Mutex
	pos   map[int64]int
	posts []model.PostRecord
}

func NewBatch() *Batch {
	return &Batch{pos: make(map[int64]int)}
}

func (b *Batch) Add(r model.PostRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if i, ok := b.pos[r.ID]; ok {
		b.posts[i] = r
		return
	}
	b.pos[r.ID] = len(b.posts)
	b.posts = append(b.posts, r)
}

func (b *Batch) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.posts)
}

// Snapshot 返回副本。
func (b *Batch) Snapshot() []model.PostRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]model.PostRecord, len(b.posts))
	copy(out, b.posts)
	return out
}
