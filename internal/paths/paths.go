// 包 paths 将路径模板展开为具体路径。
//
// 模板使用 {name} 占位符，可用变量：
//
//	{publication-handle} {publication-domain} {slug} {image-filename} {output-root}
//
// 以及任意产物类型名（如 {markdown}），引用时先解析该类型的路径。
// 解析结果为绝对路径，或模板引用了 {output-root}/其他产物路径时原样使用，
// 否则拼接在输出根目录下。
package paths

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// Kind 为产物类型。
type Kind string

const (
	OutputRoot   Kind = "output_root"
	Markdown     Kind = "markdown"
	HTML         Kind = "html"
	Image        Kind = "image"
	PostJSON     Kind = "post_json"
	CommentsJSON Kind = "comments_json"
	IndexJSON    Kind = "index_json"
	IndexHTML    Kind = "index_html"
)

var (
	ErrUnknownPlaceholder = errors.New("unknown placeholder")
	ErrCycle              = errors.New("template reference cycle")
	ErrNoTemplate         = errors.New("no template for kind")
	ErrUnclosed           = errors.New("unclosed placeholder")
)

// Templates 为各产物类型的模板。
type Templates map[Kind]string

// Vars 为单次解析的变量上下文，按值传递，调用方之间互不影响。
type Vars struct {
	Handle        string
	Domain        string
	Slug          string
	ImageFilename string
}

// WithSlug 返回设置了 slug 的副本。
func (v Vars) WithSlug(slug string) Vars { v.Slug = slug; return v }

// WithImage 返回设置了图片文件名的副本。
func (v Vars) WithImage(name string) Vars { v.ImageFilename = name; return v }

func (v Vars) lookup(name string) (string, bool) {
	switch name {
	case "publication-handle":
		return v.Handle, true
	case "publication-domain":
		return v.Domain, true
	case "slug":
		return v.Slug, true
	case "image-filename":
		return v.ImageFilename, true
	}
	return "", false
}

// Resolver 持有模板集合，本身无状态。
type Resolver struct {
	tmpl Templates
}

func NewResolver(t Templates) *Resolver {
	cp := make(Templates, len(t))
	for k, v := range t {
		cp[k] = v
	}
	return &Resolver{tmpl: cp}
}

// Resolve 返回 kind 的具体路径（已清理，使用系统分隔符）。
func (r *Resolver) Resolve(kind Kind, vars Vars) (string, error) {
	s := &session{r: r, vars: vars, done: map[Kind]string{}, visiting: map[Kind]bool{}}
	return s.resolve(kind)
}

// Check 检查所有模板都能在 vars 下展开，用于启动时尽早发现配置错误。
func (r *Resolver) Check(vars Vars, kinds ...Kind) error {
	for _, k := range kinds {
		if _, err := r.Resolve(k, vars); err != nil {
			return err
		}
	}
	return nil
}

// session 缓存同一次解析中已得到的路径，并检测循环引用。
type session struct {
	r        *Resolver
	vars     Vars
	done     map[Kind]string
	visiting map[Kind]bool
}

func (s *session) resolve(kind Kind) (string, error) {
	if p, ok := s.done[kind]; ok {
		return p, nil
	}
	if s.visiting[kind] {
		return "", fmt.Errorf("%w: %s", ErrCycle, kind)
	}
	tmpl, ok := s.r.tmpl[kind]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNoTemplate, kind)
	}
	s.visiting[kind] = true
	defer delete(s.visiting, kind)

	rooted := false
	expanded, err := Expand(tmpl, func(name string) (string, error) {
		v, isPath, err := s.lookup(name)
		if isPath {
			rooted = true
		}
		return v, err
	})
	if err != nil {
		return "", fmt.Errorf("expand %s template %q: %w", kind, tmpl, err)
	}
	p := filepath.FromSlash(expanded)
	if kind != OutputRoot && !rooted && !filepath.IsAbs(p) {
		root, err := s.resolve(OutputRoot)
		if err != nil {
			return "", err
		}
		p = filepath.Join(root, p)
	}
	p = filepath.Clean(p)
	s.done[kind] = p
	return p, nil
}

// lookup 返回变量值；isPath 表示结果是已解析的产物路径（已包含根目录）。
func (s *session) lookup(name string) (v string, isPath bool, err error) {
	if v, ok := s.vars.lookup(name); ok {
		return v, false, nil
	}
	if name == "output-root" {
		v, err := s.resolve(OutputRoot)
		return filepath.ToSlash(v), true, err
	}
	k := Kind(strings.ReplaceAll(name, "-", "_"))
	if _, ok := s.r.tmpl[k]; ok {
		v, err := s.resolve(k)
		return filepath.ToSlash(v), true, err
	}
	return "", false, fmt.Errorf("%w: {%s}", ErrUnknownPlaceholder, name)
}

// Expand 将模板中的 {name} 替换为 lookup 的结果。
func Expand(tmpl string, lookup func(name string) (string, error)) (string, error) {
	var b strings.Builder
	rest := tmpl
	for {
		i := strings.IndexByte(rest, '{')
		if i < 0 {
			b.WriteString(rest)
			return b.String(), nil
		}
		j := strings.IndexByte(rest[i:], '}')
		if j < 0 {
			return "", fmt.Errorf("%w in %q", ErrUnclosed, tmpl)
		}
		b.WriteString(rest[:i])
		v, err := lookup(strings.TrimSpace(rest[i+1 : i+j]))
		if err != nil {
			return "", err
		}
		b.WriteString(v)
		rest = rest[i+j+1:]
	}
}

// RelLink 返回 target 相对 fromDir 的路径（正斜杠），用于写入 Markdown/HTML。
func RelLink(fromDir, target string) string {
	rel, err := filepath.Rel(fromDir, target)
	if err != nil {
		return filepath.ToSlash(target)
	}
	return filepath.ToSlash(rel)
}
