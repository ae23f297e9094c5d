// 包 scrape 负责主流程编排：
// - Run：发现文章地址，逐篇抓取、归一化、下载图片、渲染评论并写出产物
// - Replay：不访问网络，用已保存的 JSON 重新生成全部产物
// 两条路径共用同一套归一化与写出逻辑，结果一致。
package scrape

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/PuerkitoBio/goquery"

	"substack-archive/internal/comments"
	"substack-archive/internal/config"
	"substack-archive/internal/export"
	"substack-archive/internal/feeds"
	"substack-archive/internal/fetch"
	"substack-archive/internal/images"
	"substack-archive/internal/index"
	"substack-archive/internal/logx"
	"substack-archive/internal/metrics"
	"substack-archive/internal/model"
	"substack-archive/internal/paths"
	"substack-archive/internal/post"
	"substack-archive/internal/preload"
	"substack-archive/internal/rules"
	"substack-archive/internal/store"
)

// ErrPaywalled 表示文章被付费墙拦截，跳过而不计为失败。
var ErrPaywalled = errors.New("post is paywalled")

var errSkipped = errors.New("post skipped")

// Runner 持有配置/HTTP 客户端/规则/可选目录与计数。
type Runner struct {
	cfg      *config.Config
	preset   rules.Preset
	fetch    *fetch.Client
	store    *store.SQLite
	metrics  *metrics.Run
	resolver *paths.Resolver
	vars     paths.Vars

	// images 覆盖图片下载方，为空时使用 fetch
	images images.Downloader
}

// New 创建 Runner；cl 在离线重放时可为 nil，s 与 m 均可为 nil。
func New(cfg *config.Config, rl *rules.Rules, cl *fetch.Client, s *store.SQLite, m *metrics.Run) (*Runner, error) {
	handle, err := feeds.PublicationHandle(cfg.URL)
	if err != nil {
		return nil, err
	}
	domain, err := feeds.PublicationDomain(cfg.URL)
	if err != nil {
		return nil, err
	}
	r := &Runner{
		cfg:      cfg,
		preset:   rl.GetPreset(cfg.RulesPreset),
		fetch:    cl,
		store:    s,
		metrics:  m,
		resolver: paths.NewResolver(cfg.Paths.Templates()),
		vars:     paths.Vars{Handle: handle, Domain: domain},
	}
	if cl != nil {
		r.images = cl
	}
	// 启动时检查模板，避免跑到一半才发现占位符写错
	probe := r.vars.WithSlug("probe").WithImage("probe.jpg")
	if err := r.resolver.Check(probe,
		paths.OutputRoot, paths.Markdown, paths.HTML, paths.Image,
		paths.PostJSON, paths.CommentsJSON, paths.IndexJSON, paths.IndexHTML); err != nil {
		return nil, fmt.Errorf("check path templates: %w", err)
	}
	return r, nil
}

// Run 在线抓取：发现地址 → 逐篇归档 → 更新索引/目录/索引页/指标。
// 单篇失败只记录日志；上下文取消时仍会写出已完成的部分。
func (r *Runner) Run(ctx context.Context) ([]model.PostRecord, error) {
	if r.fetch == nil {
		return nil, errors.New("online run requires a fetch client")
	}
	pl, err := r.pipeline(false)
	if err != nil {
		return nil, err
	}
	urls := feeds.DiscoverPostURLs(ctx, r.fetch, r.cfg.URL, r.cfg.Keywords)
	logx.Infof("发现文章 %d 篇：%s", len(urls), r.cfg.URL)

	batch := NewBatch()
	loopErr := r.each(ctx, urls, batch, func(u string) (model.PostRecord, error) {
		return r.archiveURL(ctx, u, pl)
	})
	return r.finish(ctx, batch, loopErr)
}

// Replay 离线重放：由索引重建地址，读取已保存的 post.json/comments.json 重新生成产物。
func (r *Runner) Replay(ctx context.Context) ([]model.PostRecord, error) {
	idxPath, err := r.resolver.Resolve(paths.IndexJSON, r.vars)
	if err != nil {
		return nil, err
	}
	recs, err := index.Load(idxPath)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 && r.store != nil {
		// 索引文件缺失时以 SQLite 目录为准
		if recs, err = r.store.ListPosts(ctx); err != nil {
			return nil, err
		}
		logx.Infof("索引为空，使用目录中的 %d 篇文章", len(recs))
	}
	pl, err := r.pipeline(true)
	if err != nil {
		return nil, err
	}
	urls := feeds.PostURLsFromIndex(r.cfg.URL, recs)
	logx.Infof("离线重放 %d 篇：%s", len(urls), idxPath)

	batch := NewBatch()
	loopErr := r.each(ctx, urls, batch, func(u string) (model.PostRecord, error) {
		return r.replayURL(ctx, u, pl)
	})
	return r.finish(ctx, batch, loopErr)
}

// each 顺序处理地址；MAX_POSTS 限制成功归档的篇数。
func (r *Runner) each(ctx context.Context, urls []string, batch *Batch, fn func(string) (model.PostRecord, error)) error {
	for i, u := range urls {
		if err := ctx.Err(); err != nil {
			logx.Warnf("已取消，剩余 %d 篇未处理", len(urls)-i)
			return err
		}
		if r.cfg.MaxPosts > 0 && batch.Len() >= r.cfg.MaxPosts {
			logx.Infof("已达到 MAX_POSTS=%d", r.cfg.MaxPosts)
			break
		}
		rec, err := fn(u)
		switch {
		case err == nil:
			batch.Add(rec)
			r.metrics.Post(metrics.PostArchived)
			logx.Infof("[%d/%d] 已归档：%s", i+1, len(urls), rec.Title)
		case errors.Is(err, errSkipped):
			r.metrics.Post(metrics.PostSkipped)
			logx.Debugf("[%d/%d] 跳过：%v", i+1, len(urls), err)
		case errors.Is(err, ErrPaywalled):
			r.metrics.Post(metrics.PostPaywall)
			logx.Warnf("[%d/%d] 付费文章，跳过：%s", i+1, len(urls), u)
		default:
			r.metrics.Post(metrics.PostFailed)
			logx.Errorf("[%d/%d] 归档失败：%s 错误=%v", i+1, len(urls), u, err)
		}
	}
	return nil
}

// finish 合并索引并写出索引页、目录与指标。
func (r *Runner) finish(ctx context.Context, batch *Batch, loopErr error) ([]model.PostRecord, error) {
	recs := batch.Snapshot()
	idxPath, err := r.resolver.Resolve(paths.IndexJSON, r.vars)
	if err != nil {
		return recs, err
	}
	merged, err := index.Update(idxPath, recs)
	if err != nil {
		return recs, err
	}
	logx.Infof("索引已更新：本次 %d 篇，共 %d 篇 → %s", len(recs), len(merged), idxPath)

	if r.store != nil {
		// 取消后仍然写完目录，使用独立的超时上下文
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		if err := r.store.UpsertPosts(sctx, merged); err != nil {
			logx.Warnf("写入目录失败：%v", err)
		} else if st, err := r.store.Stats(sctx); err != nil {
			logx.Warnf("统计目录失败：%v", err)
		} else {
			logx.Infof("目录：文章 %d 篇，图片 %d 张", st.PostsTotal, st.ImagesTotal)
		}
		cancel()
	}

	htmlPath, err := r.resolver.Resolve(paths.IndexHTML, r.vars)
	if err != nil {
		return recs, err
	}
	if _, err := os.Stat(r.cfg.Assets.IndexTemplate); err != nil {
		logx.Warnf("索引页模板不可用，跳过生成：%s", r.cfg.Assets.IndexTemplate)
	} else if err := export.IndexHTML(r.cfg.Assets.IndexTemplate, htmlPath, r.vars.Handle, merged); err != nil {
		logx.Warnf("生成索引页失败：%v", err)
	}

	if err := r.metrics.WriteFile(r.cfg.MetricsFile); err != nil {
		logx.Warnf("写出指标失败：%v", err)
	}
	return recs, loopErr
}

func (r *Runner) pipeline(offline bool) (*images.Pipeline, error) {
	if r.cfg.SkipImages {
		return nil, nil
	}
	opts := images.Options{Offline: offline || r.cfg.Offline, Observe: r.metrics.Image}
	if r.store != nil {
		opts.Ledger = r.store
	}
	var dl images.Downloader
	if !opts.Offline {
		dl = r.images
	}
	return images.New(dl, r.resolver, opts)
}

// archiveURL 抓取并归档一篇文章。
func (r *Runner) archiveURL(ctx context.Context, pageURL string, pl *images.Pipeline) (model.PostRecord, error) {
	if r.cfg.SkipExisting {
		if md, err := r.resolver.Resolve(paths.Markdown, r.vars.WithSlug(feeds.SlugFromURL(pageURL))); err == nil && exists(md) {
			return model.PostRecord{}, fmt.Errorf("%s already archived: %w", md, errSkipped)
		}
	}
	body, _, err := r.fetch.Bytes(ctx, pageURL)
	if err != nil {
		return model.PostRecord{}, fmt.Errorf("fetch post: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return model.PostRecord{}, fmt.Errorf("parse html %s: %w", pageURL, err)
	}
	if post.IsPaywalled(doc, r.preset) {
		return model.PostRecord{}, fmt.Errorf("%s: %w", pageURL, ErrPaywalled)
	}
	payload, err := preload.Extract(doc, pageURL)
	if err != nil {
		return model.PostRecord{}, err
	}
	rawPost, ok := payload["post"]
	if !ok {
		return model.PostRecord{}, fmt.Errorf("%s: preload has no post", pageURL)
	}

	var p post.Post
	if r.cfg.Source == config.SourcePreload && post.HasBody(rawPost) {
		if p, err = post.FromPreload(rawPost); err != nil {
			return model.PostRecord{}, err
		}
	} else {
		// 选择器回退只负责展示字段，id/slug/转发数仍取自预加载数据
		meta, err := post.FromPreload(rawPost)
		if err != nil {
			return model.PostRecord{}, err
		}
		p = post.FromHTML(doc, r.preset)
		p.ID, p.Slug, p.RepostCount = meta.ID, meta.Slug, meta.RepostCount
	}
	if p.Slug == "" {
		p.Slug = feeds.SlugFromURL(pageURL)
	}
	return r.archive(ctx, p, rawPost, payload["comments"], pl, true)
}

// replayURL 从磁盘上的 JSON 重建一篇文章。
func (r *Runner) replayURL(ctx context.Context, pageURL string, pl *images.Pipeline) (model.PostRecord, error) {
	vars := r.vars.WithSlug(feeds.SlugFromURL(pageURL))
	postPath, err := r.resolver.Resolve(paths.PostJSON, vars)
	if err != nil {
		return model.PostRecord{}, err
	}
	rawPost, err := os.ReadFile(postPath)
	if err != nil {
		return model.PostRecord{}, fmt.Errorf("read post json %s: %w", postPath, err)
	}
	// 正文来自页面选择器的文章无法由 JSON 重建，保留已有产物
	if r.cfg.Source == config.SourceHTML || !post.HasBody(rawPost) {
		return model.PostRecord{}, fmt.Errorf("%s not replayable from json: %w", postPath, errSkipped)
	}
	var rawComments []byte
	if !r.cfg.SkipComments {
		commentsPath, err := r.resolver.Resolve(paths.CommentsJSON, vars)
		if err != nil {
			return model.PostRecord{}, err
		}
		rawComments, err = os.ReadFile(commentsPath)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return model.PostRecord{}, fmt.Errorf("read comments json %s: %w", commentsPath, err)
		}
	}
	p, err := post.FromPreload(rawPost)
	if err != nil {
		return model.PostRecord{}, err
	}
	if p.Slug == "" {
		p.Slug = vars.Slug
	}
	return r.archive(ctx, p, rawPost, rawComments, pl, false)
}

// archive 生成并写出单篇文章的全部产物，返回索引条目。
func (r *Runner) archive(ctx context.Context, p post.Post, rawPost, rawComments json.RawMessage, pl *images.Pipeline, saveJSON bool) (model.PostRecord, error) {
	if p.ID == 0 {
		return model.PostRecord{}, fmt.Errorf("post %q has no id", p.Slug)
	}
	vars := r.vars.WithSlug(p.Slug)
	mdPath, err := r.resolver.Resolve(paths.Markdown, vars)
	if err != nil {
		return model.PostRecord{}, err
	}
	htmlPath, err := r.resolver.Resolve(paths.HTML, vars)
	if err != nil {
		return model.PostRecord{}, err
	}

	markdown, err := p.Markdown()
	if err != nil {
		return model.PostRecord{}, err
	}
	if pl != nil {
		if markdown, _, err = pl.Process(ctx, markdown, vars, mdPath); err != nil {
			return model.PostRecord{}, err
		}
	}

	var commentCount *int
	if !r.cfg.SkipComments {
		nodes, err := comments.Parse(rawComments)
		if err != nil {
			logx.Warnf("评论解析失败，按无评论处理：%s 错误=%v", p.Slug, err)
			nodes = nil
		}
		n := comments.Count(nodes...)
		commentCount = model.IntPtr(n)
		r.metrics.Comments(n)
		markdown += comments.RenderSection(nodes)
	}

	if saveJSON {
		if err := r.saveJSON(vars, rawPost, rawComments); err != nil {
			return model.PostRecord{}, err
		}
	}
	if err := export.WriteFile(mdPath, []byte(markdown)); err != nil {
		return model.PostRecord{}, err
	}
	if err := export.PostHTML(htmlPath, r.cfg.Assets.CSS, p.Title, markdown); err != nil {
		return model.PostRecord{}, err
	}

	indexHTML, err := r.resolver.Resolve(paths.IndexHTML, r.vars)
	if err != nil {
		return model.PostRecord{}, err
	}
	base := filepath.Dir(indexHTML)
	return model.PostRecord{
		ID:           p.ID,
		Slug:         p.Slug,
		Title:        p.Title,
		Subtitle:     p.Subtitle,
		Date:         p.Date,
		LikeCount:    p.LikeCount,
		CommentCount: commentCount,
		RepostCount:  p.RepostCount,
		FileLink:     paths.RelLink(base, mdPath),
		HTMLLink:     paths.RelLink(base, htmlPath),
	}, nil
}

func (r *Runner) saveJSON(vars paths.Vars, rawPost, rawComments json.RawMessage) error {
	postPath, err := r.resolver.Resolve(paths.PostJSON, vars)
	if err != nil {
		return err
	}
	if err := export.WriteJSON(postPath, rawPost); err != nil {
		return err
	}
	if r.cfg.SkipComments {
		return nil
	}
	commentsPath, err := r.resolver.Resolve(paths.CommentsJSON, vars)
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(rawComments)) == 0 {
		rawComments = json.RawMessage("[]")
	}
	return export.WriteJSON(commentsPath, rawComments)
}

func exists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
