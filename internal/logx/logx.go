// 包 logx 是对标准库 slog 的薄封装：
// - 支持级别/格式/语言/颜色配置
// - 提供 pretty 人读输出（[INFO]/[WARN] 或 [信息]/[警告]）
// - 通过 Debugf/Infof/Warnf/Errorf 暴露，便于将来替换底层实现
package logx

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

// levelSilent 高于所有内置等级，用于完全静默。
const levelSilent slog.Level = 100

// Init 根据 level/format/locale/colorMode 初始化全局日志器（输出到 stdout）。
func Init(level, format, locale, colorMode string) {
	InitWriter(os.Stdout, level, format, locale, colorMode)
}

// InitWriter 与 Init 相同，但允许指定输出目标（测试或重定向到文件）。
func InitWriter(w io.Writer, level, format, locale, colorMode string) {
	lv := parseLevel(level)
	opts := &slog.HandlerOptions{Level: lv}
	var handler slog.Handler
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	case "pretty", "":
		handler = NewPrettyHandler(w, lv, locale, colorMode)
	default:
		handler = slog.NewTextHandler(w, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	case "none", "silent", "off":
		return levelSilent
	default:
		return slog.LevelInfo
	}
}

// 便捷函数：格式化并按级别输出
func Debugf(format string, v ...any) { slog.Debug(fmt.Sprintf(format, v...)) }
func Infof(format string, v ...any)  { slog.Info(fmt.Sprintf(format, v...)) }
func Warnf(format string, v ...any)  { slog.Warn(fmt.Sprintf(format, v...)) }
func Errorf(format string, v ...any) { slog.Error(fmt.Sprintf(format, v...)) }

var labels = map[bool]map[slog.Level]string{
	true: {
		slog.LevelDebug: "[调试]",
		slog.LevelInfo:  "[信息]",
		slog.LevelWarn:  "[警告]",
		slog.LevelError: "[错误]",
	},
	false: {
		slog.LevelDebug: "[DEBUG]",
		slog.LevelInfo:  "[INFO]",
		slog.LevelWarn:  "[WARN]",
		slog.LevelError: "[ERROR]",
	},
}

var colors = map[slog.Level]string{
	slog.LevelDebug: "90",
	slog.LevelInfo:  "36",
	slog.LevelWarn:  "33",
	slog.LevelError: "31",
}

// PrettyHandler 为人读输出：时间 + 等级 + 消息 + k=v 属性。
type PrettyHandler struct {
	w     io.Writer
	level slog.Level
	zh    bool
	color bool
	mu    *sync.Mutex
	attrs []slog.Attr
	group string
}

// NewPrettyHandler 创建 Handler；locale 以 zh 开头时使用中文标签。
func NewPrettyHandler(w io.Writer, lv slog.Level, locale string, colorMode string) slog.Handler {
	if w == nil {
		w = os.Stdout
	}
	return &PrettyHandler{
		w:     w,
		level: lv,
		zh:    strings.HasPrefix(strings.ToLower(locale), "zh"),
		color: shouldColor(w, colorMode),
		mu:    &sync.Mutex{},
	}
}

func (h *PrettyHandler) Enabled(_ context.Context, l slog.Level) bool {
	return h.level < levelSilent && l >= h.level
}

func (h *PrettyHandler) Handle(_ context.Context, r slog.Record) error {
	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	lvl, ok := labels[h.zh][r.Level]
	if !ok {
		lvl = fmt.Sprintf("[L%d]", r.Level)
	}
	if h.color {
		code, ok := colors[r.Level]
		if !ok {
			code = "0"
		}
		lvl = "\x1b[" + code + "m" + lvl + "\x1b[0m"
	}
	var buf bytes.Buffer
	buf.WriteString(ts.Format("2006-01-02 15:04:05"))
	buf.WriteByte(' ')
	buf.WriteString(lvl)
	buf.WriteByte(' ')
	buf.WriteString(r.Message)
	write := func(a slog.Attr) {
		buf.WriteByte(' ')
		if h.group != "" {
			buf.WriteString(h.group)
			buf.WriteByte('.')
		}
		buf.WriteString(a.Key)
		buf.WriteByte('=')
		buf.WriteString(a.Value.String())
	}
	for _, a := range h.attrs {
		write(a)
	}
	r.Attrs(func(a slog.Attr) bool {
		write(a)
		return true
	})
	buf.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.w.Write(buf.Bytes())
	return err
}

func (h *PrettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	cp := *h
	cp.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &cp
}

func (h *PrettyHandler) WithGroup(name string) slog.Handler {
	cp := *h
	if cp.group == "" {
		cp.group = name
	} else {
		cp.group += "." + name
	}
	return &cp
}

// shouldColor 判断是否启用颜色：遵循 LOG_COLOR 与 NO_COLOR。
func shouldColor(w io.Writer, mode string) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "always":
		return true
	case "auto", "":
		// 仅在字符设备（终端）上启用
		if f, ok := w.(*os.File); ok {
			if fi, err := f.Stat(); err == nil {
				return fi.Mode()&os.ModeCharDevice != 0
			}
		}
	}
	return false
}
