// 命令行入口：
// - 解析 flags、.env 与 settings.yaml/rules.yaml
// - 初始化日志、HTTP 客户端、可选 SQLite 目录与指标
// - 在线抓取（默认）或离线重放（-offline / OFFLINE: true）
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"substack-archive/internal/config"
	"substack-archive/internal/fetch"
	"substack-archive/internal/logx"
	"substack-archive/internal/metrics"
	"substack-archive/internal/rules"
	"substack-archive/internal/scrape"
	"substack-archive/internal/store"
)

func main() {
	var (
		configPath = flag.String("config", "settings.yaml", "path to settings.yaml (optional when -url is given)")
		rulesPath  = flag.String("rules", "rules.yaml", "path to rules.yaml (optional)")
		envPath    = flag.String("env", ".env", "path to .env with SUBSTACK_URL/SUBSTACK_COOKIE (optional)")
		baseURL    = flag.String("url", "", "publication base url, overrides URL")
		maxPosts   = flag.Int("n", -1, "max posts to archive, 0 = all, overrides MAX_POSTS")
		offline    = flag.Bool("offline", false, "replay from saved JSON without network access")
	)
	flag.Parse()

	// 1) 环境变量与配置：.env → settings.yaml → 命令行
	if err := config.LoadEnv(*envPath); err != nil {
		log.Fatalf("load env: %v", err)
	}
	cfg, err := config.LoadWith(*configPath, func(c *config.Config) {
		if *baseURL != "" {
			c.URL = *baseURL
		}
		if *maxPosts >= 0 {
			c.MaxPosts = *maxPosts
		}
		if *offline {
			c.Offline = true
		}
	})
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	var rl *rules.Rules
	if *rulesPath != "" {
		if r, err := rules.Load(*rulesPath); err == nil {
			rl = r
		} else if !errors.Is(err, os.ErrNotExist) {
			log.Printf("load rules failed: %v", err)
		}
	}
	// 2) 初始化日志：级别/格式/语言/颜色
	logx.Init(cfg.LogLevel, cfg.LogFormat, cfg.LogLocale, cfg.LogColor)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3) HTTP 客户端（含代理、重试、限速与会话 Cookie），离线时不创建
	var cl *fetch.Client
	if !cfg.Offline {
		cl, err = fetch.New(fetch.Options{
			ProxyHTTP:     cfg.Proxy.HTTP,
			ProxyHTTPS:    cfg.Proxy.HTTPS,
			Timeout:       time.Duration(cfg.Fetch.TimeoutSeconds) * time.Second,
			Retry:         cfg.Fetch.Retry,
			Cookie:        cfg.Cookie,
			RatePerSecond: cfg.Fetch.RatePerSecond,
			Burst:         cfg.Fetch.Burst,
		})
		if err != nil {
			log.Fatalf("http client: %v", err)
		}
	}

	// 4) 可选的 SQLite 目录
	var st *store.SQLite
	if cfg.Database.DSN != "" {
		st, err = store.OpenSQLite(cfg.Database.DSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		defer st.Close()
		if cfg.ResetOnStart {
			if err := st.Reset(ctx); err != nil {
				logx.Warnf("启动清理数据库失败：%v", err)
			} else {
				logx.Infof("已清理数据库表（posts/images）")
			}
		}
	}

	run, err := scrape.New(cfg, rl, cl, st, metrics.New())
	if err != nil {
		logx.Errorf("初始化失败：%v", err)
		os.Exit(1)
	}

	// 5) 在线抓取或离线重放
	logx.Infof("开始归档：%s 离线=%v 来源=%s", cfg.URL, cfg.Offline, cfg.Source)
	do := run.Run
	if cfg.Offline {
		do = run.Replay
	}
	recs, err := do(ctx)
	if err != nil {
		logx.Errorf("运行失败：%v", err)
		os.Exit(1)
	}
	logx.Infof("归档完成：本次 %d 篇", len(recs))
}
