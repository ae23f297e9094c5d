// 包 model 定义归档的数据模型（索引条目）。
package model

// PostRecord 为索引中的一篇文章；ID 为稳定标识，Slug 可能变化。
// CommentCount 为 nil 表示本次跳过了评论。
type PostRecord struct {
	ID           int64  `json:"id"`
	Slug         string `json:"slug"`
	Title        string `json:"title"`
	Subtitle     string `json:"subtitle"`
	Date         string `json:"date"`
	LikeCount    int    `json:"like_count"`
	CommentCount *int   `json:"comment_count"`
	RepostCount  int    `json:"repost_count"`
	FileLink     string `json:"file_link"`
	HTMLLink     string `json:"html_link"`
}

// IntPtr 便于构造 CommentCount。
func IntPtr(n int) *int { return &n }
