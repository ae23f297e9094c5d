// 包 feeds 负责发现刊物的全部文章地址：
// - DiscoverPostURLs：优先读取 sitemap.xml，失败时回退到 feed.xml（gofeed 解析）
// - PostURLsFromIndex：离线重放时由索引重建地址
package feeds

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"net/url"
	"strings"

	"github.com/mmcdole/gofeed"

	"substack-archive/internal/fetch"
	"substack-archive/internal/logx"
	"substack-archive/internal/model"
)

// DiscoverPostURLs 返回去重、过滤后的文章地址，保持首次出现的顺序。
// 网络或解析失败只记录日志，返回空列表。
func DiscoverPostURLs(ctx context.Context, cl *fetch.Client, base string, keywords []string) []string {
	urls := sitemapURLs(ctx, cl, joinURL(base, "sitemap.xml"), 1)
	if len(urls) == 0 {
		logx.Warnf("sitemap 未得到任何地址，回退到 feed.xml，仅包含最近的文章")
		urls = feedURLs(ctx, cl, joinURL(base, "feed.xml"))
	}
	return Filter(urls, keywords)
}

// Filter 移除包含任一关键字的地址并去重。
func Filter(urls, keywords []string) []string {
	seen := make(map[string]struct{}, len(urls))
	out := make([]string, 0, len(urls))
next:
	for _, u := range urls {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		for _, k := range keywords {
			if k != "" && strings.Contains(u, k) {
				continue next
			}
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}

type locEntry struct {
	Loc string `xml:"loc"`
}

// sitemapDoc 同时覆盖 <urlset> 与 <sitemapindex>。
type sitemapDoc struct {
	XMLName  xml.Name
	URLs     []locEntry `xml:"url"`
	Sitemaps []locEntry `xml:"sitemap"`
}

// sitemapURLs 读取 sitemap；遇到 sitemapindex 时最多向下跟随 depth 层。
func sitemapURLs(ctx context.Context, cl *fetch.Client, sitemapURL string, depth int) []string {
	logx.Debugf("读取 sitemap：%s", sitemapURL)
	body, _, err := cl.Bytes(ctx, sitemapURL)
	if err != nil {
		logx.Warnf("获取 sitemap 失败：%s 错误=%v", sitemapURL, err)
		return nil
	}
	var doc sitemapDoc
	if err := xml.NewDecoder(bytes.NewReader(body)).Decode(&doc); err != nil {
		logx.Warnf("解析 sitemap 失败：%s 错误=%v", sitemapURL, err)
		return nil
	}
	var out []string
	for _, u := range doc.URLs {
		out = append(out, strings.TrimSpace(u.Loc))
	}
	if doc.XMLName.Local == "sitemapindex" {
		for _, sm := range doc.Sitemaps {
			if depth <= 0 {
				logx.Debugf("忽略更深层的 sitemap：%s", sm.Loc)
				continue
			}
			out = append(out, sitemapURLs(ctx, cl, strings.TrimSpace(sm.Loc), depth-1)...)
		}
	}
	return out
}

// feedURLs 用 gofeed 解析订阅，返回条目链接。
func feedURLs(ctx context.Context, cl *fetch.Client, feedURL string) []string {
	body, _, err := cl.Bytes(ctx, feedURL)
	if err != nil {
		logx.Warnf("获取 feed 失败：%s 错误=%v", feedURL, err)
		return nil
	}
	feed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		logx.Warnf("解析 feed 失败：%s 错误=%v", feedURL, err)
		return nil
	}
	out := make([]string, 0, len(feed.Items))
	for _, it := range feed.Items {
		if link := strings.TrimSpace(it.Link); link != "" {
			out = append(out, link)
		}
	}
	return out
}

// PostURLsFromIndex 由索引条目重建文章地址 <base>p/<slug>。
func PostURLsFromIndex(base string, recs []model.PostRecord) []string {
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		if r.Slug == "" {
			continue
		}
		out = append(out, joinURL(base, "p/"+r.Slug))
	}
	return out
}

// SlugFromURL 返回文章地址的最后一个非空路径段。
func SlugFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	return parts[len(parts)-1]
}

// PublicationHandle 返回主机名第一段（忽略 www），如 https://www.name.substack.com/ → name。
func PublicationHandle(base string) (string, error) {
	host, err := hostOf(base)
	if err != nil {
		return "", err
	}
	return strings.SplitN(host, ".", 2)[0], nil
}

// PublicationDomain 返回去掉 www. 的主机名。
func PublicationDomain(base string) (string, error) {
	return hostOf(base)
}

func hostOf(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse url %s: %w", base, err)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", fmt.Errorf("url %s has no host", base)
	}
	return strings.TrimPrefix(host, "www."), nil
}

// joinURL 将相对路径解析为绝对 URL。
func joinURL(base, ref string) string {
	if strings.HasPrefix(ref, "http") {
		return ref
	}
	u, err := url.Parse(base)
	if err != nil {
		return base + ref
	}
	ru, err := url.Parse(ref)
	if err != nil {
		return base + ref
	}
	return u.ResolveReference(ru).String()
}
