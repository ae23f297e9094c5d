package paths

import (
	"errors"
	"path/filepath"
	"testing"
)

func defaults() Templates {
	return Templates{
		OutputRoot:   "{publication-domain}",
		Markdown:     "p/{slug}/readme.md",
		HTML:         "p/{slug}/index.html",
		Image:        "p/{slug}/images/{image-filename}",
		PostJSON:     "p/{slug}/post.json",
		CommentsJSON: "p/{slug}/comments.json",
		IndexJSON:    "posts.json",
		IndexHTML:    "index.html",
	}
}

func TestResolve_Defaults(t *testing.T) {
	r := NewResolver(defaults())
	v := Vars{Handle: "example", Domain: "example.substack.com"}.WithSlug("hello").WithImage("a.png")
	cases := map[Kind]string{
		OutputRoot:   "example.substack.com",
		Markdown:     "example.substack.com/p/hello/readme.md",
		HTML:         "example.substack.com/p/hello/index.html",
		Image:        "example.substack.com/p/hello/images/a.png",
		PostJSON:     "example.substack.com/p/hello/post.json",
		CommentsJSON: "example.substack.com/p/hello/comments.json",
		IndexJSON:    "example.substack.com/posts.json",
		IndexHTML:    "example.substack.com/index.html",
	}
	for k, want := range cases {
		got, err := r.Resolve(k, v)
		if err != nil {
			t.Fatalf("resolve %s: %v", k, err)
		}
		if got != filepath.FromSlash(want) {
			t.Fatalf("resolve %s = %q want %q", k, got, want)
		}
	}
}

func TestResolve_AbsoluteAndRootOverride(t *testing.T) {
	abs := t.TempDir()
	tm := defaults()
	tm[OutputRoot] = "out/{publication-handle}"
	tm[IndexJSON] = filepath.ToSlash(filepath.Join(abs, "{publication-handle}.json"))
	r := NewResolver(tm)
	v := Vars{Handle: "h", Domain: "h.example.com"}
	got, err := r.Resolve(IndexJSON, v)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got != filepath.Join(abs, "h.json") {
		t.Fatalf("absolute template should be used as-is, got %q", got)
	}
	got, _ = r.Resolve(IndexHTML, v)
	if got != filepath.FromSlash("out/h/index.html") {
		t.Fatalf("index html=%q", got)
	}
}

func TestResolve_ReferencesOtherKinds(t *testing.T) {
	tm := defaults()
	tm[Image] = "{output-root}/media/{slug}-{image-filename}"
	tm[PostJSON] = "data/{slug}.json"
	tm[CommentsJSON] = "{post-json}.comments"
	r := NewResolver(tm)
	v := Vars{Domain: "d"}.WithSlug("s").WithImage("x.jpg")
	got, err := r.Resolve(Image, v)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got != filepath.FromSlash("d/media/s-x.jpg") {
		t.Fatalf("image=%q", got)
	}
	got, err = r.Resolve(CommentsJSON, v)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got != filepath.FromSlash("d/data/s.json.comments") {
		t.Fatalf("comments=%q", got)
	}
}

func TestResolve_Errors(t *testing.T) {
	tm := defaults()
	tm[Markdown] = "{nope}/readme.md"
	tm[HTML] = "{comments-json}"
	tm[CommentsJSON] = "{html}"
	r := NewResolver(tm)
	if _, err := r.Resolve(Markdown, Vars{}); !errors.Is(err, ErrUnknownPlaceholder) {
		t.Fatalf("expect unknown placeholder, got %v", err)
	}
	if _, err := r.Resolve(HTML, Vars{}); !errors.Is(err, ErrCycle) {
		t.Fatalf("expect cycle, got %v", err)
	}
	if _, err := NewResolver(Templates{OutputRoot: "x"}).Resolve(Image, Vars{}); !errors.Is(err, ErrNoTemplate) {
		t.Fatalf("expect no template, got %v", err)
	}
	if _, err := Expand("a/{slug", func(string) (string, error) { return "", nil }); !errors.Is(err, ErrUnclosed) {
		t.Fatalf("expect unclosed, got %v", err)
	}
}

func TestVars_ValueSemantics(t *testing.T) {
	base := Vars{Domain: "d"}
	a := base.WithSlug("a")
	if base.Slug != "" || a.Slug != "a" {
		t.Fatalf("WithSlug must not mutate receiver")
	}
}

func TestRelLink(t *testing.T) {
	got := RelLink(filepath.FromSlash("d/p/s"), filepath.FromSlash("d/p/s/images/a.png"))
	if got != "images/a.png" {
		t.Fatalf("rel=%q", got)
	}
	got = RelLink(filepath.FromSlash("d/p/s"), filepath.FromSlash("d/assets/c.css"))
	if got != "../../assets/c.css" {
		t.Fatalf("rel=%q", got)
	}
}
