// 包 metrics 统计一次归档运行的计数，并以 Prometheus 文本格式写出，
// 供 node_exporter 的 textfile collector 采集。
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 文章处理结果
const (
	PostArchived = "archived"
	PostSkipped  = "skipped"
	PostPaywall  = "paywalled"
	PostFailed   = "failed"
)

// Run 持有一次运行的计数器，使用私有 registry，多次运行互不干扰。
type Run struct {
	reg      *prometheus.Registry
	posts    *prometheus.CounterVec
	images   *prometheus.CounterVec
	comments prometheus.Counter
	duration prometheus.Gauge
	started  time.Time
}

func New() *Run {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Run{
		reg: reg,
		posts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "archive_posts_total",
			Help: "Posts processed by result",
		}, []string{"result"}),
		images: f.NewCounterVec(prometheus.CounterOpts{
			Name: "archive_images_total",
			Help: "Image references processed by result",
		}, []string{"result"}),
		comments: f.NewCounter(prometheus.CounterOpts{
			Name: "archive_comments_total",
			Help: "Comments rendered across all archived posts",
		}),
		duration: f.NewGauge(prometheus.GaugeOpts{
			Name: "archive_run_duration_seconds",
			Help: "Wall time of the last archive run",
		}),
		started: time.Now(),
	}
}

// Post 记一篇文章的结果；nil 接收者安全。
func (r *Run) Post(result string) {
	if r == nil {
		return
	}
	r.posts.WithLabelValues(result).Inc()
}

// Image 记一个图片引用的结果，签名与 images.Options.Observe 一致。
func (r *Run) Image(result string) {
	if r == nil {
		return
	}
	r.images.WithLabelValues(result).Inc()
}

func (r *Run) Comments(n int) {
	if r == nil || n <= 0 {
		return
	}
	r.comments.Add(float64(n))
}

// WriteFile 写出文本格式指标；path 为空时不做任何事。
func (r *Run) WriteFile(path string) error {
	if r == nil || path == "" {
		return nil
	}
	r.duration.Set(time.Since(r.started).Seconds())
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", filepath.Dir(path), err)
	}
	if err := prometheus.WriteToTextfile(path, r.reg); err != nil {
		return fmt.Errorf("write metrics %s: %w", path, err)
	}
	return nil
}
