// 包 config 负责加载与校验应用配置（settings.yaml + .env），
// 对外提供结构体 Config 及默认值/合法性校验。
package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"substack-archive/internal/paths"
)

// 抓取来源：preload 使用页面内嵌 JSON；html 使用 CSS 选择器逐字段回退。
const (
	SourcePreload = "preload"
	SourceHTML    = "html"
)

// Config 对应 settings.yaml。
type Config struct {
	URL          string   `yaml:"URL"`
	MaxPosts     int      `yaml:"MAX_POSTS"`
	Offline      bool     `yaml:"OFFLINE"`
	Source       string   `yaml:"SOURCE"` // preload|html
	RulesPreset  string   `yaml:"RULES_PRESET"`
	SkipComments bool     `yaml:"SKIP_COMMENTS"`
	SkipImages   bool     `yaml:"SKIP_IMAGES"`
	SkipExisting bool     `yaml:"SKIP_EXISTING"`
	Keywords     []string `yaml:"KEYWORDS"`
	Paths        Paths    `yaml:"PATHS"`
	Assets       Assets   `yaml:"ASSETS"`
	Database     Database `yaml:"DATABASE"`
	Fetch        Fetch    `yaml:"FETCH"`
	Proxy        Proxy    `yaml:"PROXY"`
	Cookie       string   `yaml:"COOKIE"`
	MetricsFile  string   `yaml:"METRICS_FILE"`
	ResetOnStart bool     `yaml:"RESET_ON_START"`
	LogLevel     string   `yaml:"LOG_LEVEL"`
	LogFormat    string   `yaml:"LOG_FORMAT"` // text|json|pretty
	LogLocale    string   `yaml:"LOG_LOCALE"` // zh-CN|en
	LogColor     string   `yaml:"LOG_COLOR"`  // auto|always|never
}

// Paths 为各类产物的路径模板，占位符见 internal/paths。
type Paths struct {
	OutputRoot   string `yaml:"output_root"`
	Markdown     string `yaml:"markdown"`
	HTML         string `yaml:"html"`
	Image        string `yaml:"image"`
	PostJSON     string `yaml:"post_json"`
	CommentsJSON string `yaml:"comments_json"`
	IndexJSON    string `yaml:"index_json"`
	IndexHTML    string `yaml:"index_html"`
}

type Assets struct {
	CSS           string `yaml:"css"`
	IndexTemplate string `yaml:"index_template"`
}

type Database struct {
	// DSN 为空时不启用 SQLite 目录
	DSN string `yaml:"dsn"`
}

type Fetch struct {
	Retry          int     `yaml:"retry"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
	RatePerSecond  float64 `yaml:"rate_per_second"`
	Burst          int     `yaml:"burst"`
}

type Proxy struct {
	HTTP  string `yaml:"http"`
	HTTPS string `yaml:"https"`
}

// DefaultKeywords 为非文章页面的路径关键词。
var DefaultKeywords = []string{"about", "archive", "podcast"}

// DefaultPaths 为默认输出布局。
var DefaultPaths = Paths{
	OutputRoot:   "{publication-domain}",
	Markdown:     "p/{slug}/readme.md",
	HTML:         "p/{slug}/index.html",
	Image:        "p/{slug}/images/{image-filename}",
	PostJSON:     "p/{slug}/post.json",
	CommentsJSON: "p/{slug}/comments.json",
	IndexJSON:    "posts.json",
	IndexHTML:    "index.html",
}

// Load 从文件读取 YAML 并反序列化为 Config，同时进行基础校验与默认值填充。
func Load(path string) (*Config, error) {
	return load(path, false, nil)
}

// LoadWith 与 Load 相同，但允许配置文件不存在；apply 在校验前执行，用于命令行覆盖。
func LoadWith(path string, apply func(*Config)) (*Config, error) {
	return load(path, true, apply)
}

func load(path string, optional bool, apply func(*Config)) (*Config, error) {
	var c Config
	f, err := os.Open(path)
	switch {
	case err == nil:
		defer f.Close()
		b, err := io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("unmarshal config %s: %w", path, err)
		}
	case optional && errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("open config %s: %w", path, err)
	}
	c.ApplyEnv()
	if apply != nil {
		apply(&c)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

// LoadEnv 读取 .env 文件到进程环境变量；文件不存在时静默忽略。
func LoadEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env %s: %w", path, err)
	}
	return nil
}

// ApplyEnv 使用环境变量覆盖 URL 与会话 Cookie（凭据不写入 settings.yaml）。
func (c *Config) ApplyEnv() {
	if v := strings.TrimSpace(os.Getenv("SUBSTACK_URL")); v != "" {
		c.URL = v
	}
	if v := strings.TrimSpace(os.Getenv("SUBSTACK_COOKIE")); v != "" {
		c.Cookie = v
	}
}

// Validate 负责合法性检查与默认值设置。
func (c *Config) Validate() error {
	if strings.TrimSpace(c.URL) == "" {
		return errors.New("URL is required")
	}
	u, err := url.Parse(c.URL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("URL must be an absolute http(s) url: %q", c.URL)
	}
	if !strings.HasSuffix(c.URL, "/") {
		c.URL += "/"
	}
	if c.MaxPosts < 0 {
		return errors.New("MAX_POSTS must be >= 0")
	}
	switch c.Source {
	case "":
		c.Source = SourcePreload
	case SourcePreload, SourceHTML:
	default:
		return fmt.Errorf("unsupported SOURCE: %s", c.Source)
	}
	if c.Keywords == nil {
		c.Keywords = append([]string(nil), DefaultKeywords...)
	}
	c.Paths.fill()
	if c.Fetch.Retry < 0 {
		c.Fetch.Retry = 2
	}
	if c.Fetch.TimeoutSeconds <= 0 {
		c.Fetch.TimeoutSeconds = 25
	}
	if c.Fetch.RatePerSecond < 0 {
		return errors.New("FETCH.rate_per_second must be >= 0")
	}
	if c.Fetch.Burst <= 0 {
		c.Fetch.Burst = 1
	}
	if c.Assets.CSS == "" {
		c.Assets.CSS = "assets/css/essay-styles.css"
	}
	if c.Assets.IndexTemplate == "" {
		c.Assets.IndexTemplate = "assets/author_template.html"
	}
	if c.LogFormat == "" {
		c.LogFormat = "pretty"
	}
	if c.LogLocale == "" {
		c.LogLocale = "en"
	}
	if c.LogColor == "" {
		c.LogColor = "auto"
	}
	return nil
}

// fill 为未配置的模板补上默认值。
func (p *Paths) fill() {
	def := DefaultPaths
	set := func(dst *string, v string) {
		if strings.TrimSpace(*dst) == "" {
			*dst = v
		}
	}
	set(&p.OutputRoot, def.OutputRoot)
	set(&p.Markdown, def.Markdown)
	set(&p.HTML, def.HTML)
	set(&p.Image, def.Image)
	set(&p.PostJSON, def.PostJSON)
	set(&p.CommentsJSON, def.CommentsJSON)
	set(&p.IndexJSON, def.IndexJSON)
	set(&p.IndexHTML, def.IndexHTML)
}

// Templates 转为路径解析器使用的模板集合。
func (p Paths) Templates() paths.Templates {
	return paths.Templates{
		paths.OutputRoot:   p.OutputRoot,
		paths.Markdown:     p.Markdown,
		paths.HTML:         p.HTML,
		paths.Image:        p.Image,
		paths.PostJSON:     p.PostJSON,
		paths.CommentsJSON: p.CommentsJSON,
		paths.IndexJSON:    p.IndexJSON,
		paths.IndexHTML:    p.IndexHTML,
	}
}
