// 包 images 将 Markdown 正文中的 CDN 图片下载到本地并改写为相对路径。
// 本地文件已存在时不再下载，重复运行与离线重放因此无需网络。
package images

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"mime"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"substack-archive/internal/logx"
	"substack-archive/internal/paths"
)

// cdnImage 匹配 Markdown 图片/链接语法中紧跟在 "](" 之后的 CDN 抓取地址，可带标题。
var cdnImage = regexp.MustCompile(`\]\((https://substackcdn\.com/image/fetch/[^)\s]+)(\s+"[^"]*")?\)`)

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

const (
	maxFilenameLen = 150
	defaultExt     = ".jpg"
)

// 处理结果，用于计数。
const (
	ResultDownloaded = "downloaded"
	ResultExisting   = "existing"
	ResultFailed     = "failed"
	ResultOffline    = "offline"
)

// Downloader 为图片下载方，fetch.Client 满足该接口。
type Downloader interface {
	Bytes(ctx context.Context, rawURL string) ([]byte, string, error)
}

// Ledger 记录已下载图片（可选，SQLite 目录实现）。
type Ledger interface {
	RecordImage(ctx context.Context, rawURL, localPath string) error
	LookupImage(ctx context.Context, rawURL string) (localPath string, ok bool, err error)
}

// Reference 为一处图片引用及其本地路径。
type Reference struct {
	URL   string
	Local string
}

type Options struct {
	// Offline 为 true 时从不下载
	Offline   bool
	CacheSize int
	Ledger    Ledger
	// Observe 在每个 URL 处理完后回调结果
	Observe func(result string)
}

// Pipeline 不是并发安全的；主循环顺序调用。
type Pipeline struct {
	dl       Downloader
	resolver *paths.Resolver
	opts     Options
	cache    *lru.Cache[string, string]
	// owners 为本次运行中本地路径 → 占用它的 URL
	owners map[string]string
}

func New(dl Downloader, r *paths.Resolver, opts Options) (*Pipeline, error) {
	if dl == nil && !opts.Offline {
		return nil, fmt.Errorf("images: downloader required when online")
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = 1024
	}
	c, err := lru.New[string, string](opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("images: new cache: %w", err)
	}
	return &Pipeline{dl: dl, resolver: r, opts: opts, cache: c, owners: map[string]string{}}, nil
}

// Process 替换 body 中所有 CDN 图片引用；mdPath 为 Markdown 文件路径，
// 写入的链接相对于其所在目录。单张图片失败不会中止整篇文章。
func (p *Pipeline) Process(ctx context.Context, body string, vars paths.Vars, mdPath string) (string, []Reference, error) {
	matches := cdnImage.FindAllStringSubmatchIndex(body, -1)
	if len(matches) == 0 {
		return body, nil, nil
	}
	mdDir := filepath.Dir(mdPath)
	var (
		b    strings.Builder
		refs []Reference
		last int
	)
	for _, m := range matches {
		start, end := m[2], m[3]
		raw := body[start:end]
		local, err := p.localize(ctx, raw, vars)
		if err != nil {
			return "", nil, err
		}
		refs = append(refs, Reference{URL: raw, Local: local})
		b.WriteString(body[last:start])
		b.WriteString(paths.RelLink(mdDir, local))
		last = end
	}
	b.WriteString(body[last:])
	return b.String(), refs, nil
}

// localize 返回图片的本地路径，必要时下载；只有路径模板错误会返回 error。
func (p *Pipeline) localize(ctx context.Context, rawURL string, vars paths.Vars) (string, error) {
	key := vars.Slug + "\x00" + rawURL
	if local, ok := p.cache.Get(key); ok {
		return local, nil
	}
	if local, ok := p.fromLedger(ctx, rawURL); ok {
		p.finish(key, rawURL, local, ResultExisting)
		return local, nil
	}
	stem := hashStem(rawURL)

	// 已知文件名：直接按路径判断是否存在；同名但来自不同 URL 时追加哈希后缀
	if name := FilenameFromURL(rawURL); name != "" {
		local, err := p.resolver.Resolve(paths.Image, vars.WithImage(name))
		if err != nil {
			return "", err
		}
		if owner, ok := p.owners[local]; ok && owner != rawURL {
			ext := path.Ext(name)
			alt := strings.TrimSuffix(name, ext) + "-" + stem[:8] + ext
			if local, err = p.resolver.Resolve(paths.Image, vars.WithImage(alt)); err != nil {
				return "", err
			}
		}
		p.finish(key, rawURL, local, p.fetchTo(ctx, rawURL, func(string) string { return local }))
		return local, nil
	}

	// 哈希文件名：扩展名取决于响应类型，先查找任意扩展名的已有文件
	guess, err := p.resolver.Resolve(paths.Image, vars.WithImage(stem+defaultExt))
	if err != nil {
		return "", err
	}
	if found := findByStem(filepath.Dir(guess), stem); found != "" {
		p.finish(key, rawURL, found, ResultExisting)
		return found, nil
	}
	local := guess
	res := p.fetchTo(ctx, rawURL, func(contentType string) string {
		l, err := p.resolver.Resolve(paths.Image, vars.WithImage(stem+ExtForContentType(contentType)))
		if err != nil {
			return guess
		}
		local = l
		return l
	})
	p.finish(key, rawURL, local, res)
	return local, nil
}

// fromLedger 返回目录中记录且仍在磁盘上的路径。
func (p *Pipeline) fromLedger(ctx context.Context, rawURL string) (string, bool) {
	if p.opts.Ledger == nil {
		return "", false
	}
	local, ok, err := p.opts.Ledger.LookupImage(ctx, rawURL)
	if err != nil {
		logx.Warnf("查询图片记录失败：%v", err)
		return "", false
	}
	if !ok || !fileExists(local) {
		return "", false
	}
	return local, true
}

// fetchTo 在目标文件不存在时下载；target 根据响应的 Content-Type 决定最终路径。
func (p *Pipeline) fetchTo(ctx context.Context, rawURL string, target func(contentType string) string) string {
	if dst := target(""); fileExists(dst) {
		return ResultExisting
	}
	if p.opts.Offline {
		logx.Debugf("离线模式，跳过图片下载：%s", rawURL)
		return ResultOffline
	}
	data, ct, err := p.dl.Bytes(ctx, rawURL)
	if err != nil {
		logx.Warnf("下载图片失败：%s 错误=%v", rawURL, err)
		return ResultFailed
	}
	dst := target(ct)
	if err := writeFileAtomic(dst, data); err != nil {
		logx.Warnf("保存图片失败：%s 错误=%v", dst, err)
		return ResultFailed
	}
	if p.opts.Ledger != nil {
		if err := p.opts.Ledger.RecordImage(ctx, rawURL, dst); err != nil {
			logx.Warnf("记录图片失败：%v", err)
		}
	}
	logx.Debugf("已下载图片：%s → %s", rawURL, dst)
	return ResultDownloaded
}

func (p *Pipeline) finish(key, rawURL, local, result string) {
	if _, ok := p.owners[local]; !ok {
		p.owners[local] = rawURL
	}
	// 失败的引用不缓存，同一次运行中后续出现时还会再试
	if result != ResultFailed {
		p.cache.Add(key, local)
	}
	if p.opts.Observe != nil {
		p.opts.Observe(result)
	}
}

// FilenameFromURL 从抓取代理地址中解出上游原始文件名并去除不安全字符；
// 无法得到合理文件名时返回 ""。
func FilenameFromURL(rawURL string) string {
	seg := rawURL
	if i := strings.LastIndex(seg, "/"); i >= 0 {
		seg = seg[i+1:]
	}
	if dec, err := url.PathUnescape(seg); err == nil {
		seg = dec
	}
	if u, err := url.Parse(seg); err == nil && u.Path != "" {
		seg = path.Base(u.Path)
	}
	name := unsafeChars.ReplaceAllString(seg, "")
	name = strings.TrimLeft(name, ".")
	if name == "" || len(name) > maxFilenameLen {
		return ""
	}
	return name
}

// ExtForContentType 根据 MIME 类型推断扩展名，未知时为 .jpg。
func ExtForContentType(ct string) string {
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return defaultExt
	}
	switch mt {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "image/svg+xml":
		return ".svg"
	case "image/avif":
		return ".avif"
	default:
		return defaultExt
	}
}

func hashStem(rawURL string) string {
	sum := sha256.Sum256([]byte(rawURL))
	return hex.EncodeToString(sum[:])[:16]
}

// findByStem 在 dir 中查找 "stem.*" 形式的文件，不存在时返回 ""。
// 目录名可能含有通配符，因此逐项比较而不使用 Glob。
func findByStem(dir, stem string) string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), stem+".") {
			return filepath.Join(dir, e.Name())
		}
	}
	return ""
}

func fileExists(p string) bool {
	fi, err := os.Stat(p)
	return err == nil && !fi.IsDir()
}

// writeFileAtomic 先写临时文件再重命名，中断时不会留下半个文件。
func writeFileAtomic(dst string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", filepath.Dir(dst), err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".img-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return fmt.Errorf("rename %s: %w", dst, err)
	}
	return nil
}
