package post

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"

	"substack-archive/internal/rules"
)

func parse(t *testing.T, html string) *goquery.Document {
	t.Helper()
	d, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		t.Fatalf("parse html: %v", err)
	}
	return d
}

func TestFromHTML_AllFieldsPresent(t *testing.T) {
	d := parse(t, `<html><body>
<h1 class="post-title"> Hello </h1>
<h3 class="subtitle">Sub</h3>
<div class="pencraft pc-reset color-pub-secondary-text-hGQ02T">Mar 3, 2024</div>
<a class="post-ufi-button"><span class="label">17</span></a>
<div class="available-content"><p>Hello <strong>world</strong></p></div>
</body></html>`)
	p := FromHTML(d, rules.Default())
	if p.Title != "Hello" || p.Subtitle != "Sub" {
		t.Fatalf("title/subtitle: %+v", p)
	}
	if p.Date != "Mar 03, 2024" {
		t.Fatalf("date=%q", p.Date)
	}
	if p.LikeCount != 17 {
		t.Fatalf("likes=%d", p.LikeCount)
	}
	out, err := p.Markdown()
	if err != nil {
		t.Fatalf("markdown: %v", err)
	}
	if !strings.HasPrefix(out, "# Hello\n\n## Sub\n\n**Mar 03, 2024**\n\n**Likes:** 17\n\n") {
		t.Fatalf("header mismatch: %q", out)
	}
	if !strings.Contains(out, "**world**") {
		t.Fatalf("body not converted: %q", out)
	}
}

func TestFromHTML_FallbackDateNotFound(t *testing.T) {
	d := parse(t, `<html><body><p>nothing here</p></body></html>`)
	p := FromHTML(d, rules.Default())
	if p.Date != DateNotFound {
		t.Fatalf("date=%q want %q", p.Date, DateNotFound)
	}
	if p.Title != Untitled || p.Subtitle != "" || p.LikeCount != 0 || p.BodyHTML != "" {
		t.Fatalf("defaults: %+v", p)
	}
}

func TestFromHTML_JSONLDDate(t *testing.T) {
	d := parse(t, `<html><head>
<script type="application/ld+json">{"@type":"NewsArticle","datePublished":"2023-11-05T14:00:00.000Z"}</script>
</head><body><h2>Video post</h2></body></html>`)
	p := FromHTML(d, rules.Default())
	if p.Date != "Nov 05, 2023" {
		t.Fatalf("date=%q", p.Date)
	}
	if p.Title != "Video post" {
		t.Fatalf("title fallback to h2 failed: %q", p.Title)
	}
}

func TestFromHTML_NonNumericLikes(t *testing.T) {
	d := parse(t, `<a class="post-ufi-button"><span class="label">Like</span></a>`)
	if got := FromHTML(d, rules.Default()).LikeCount; got != 0 {
		t.Fatalf("likes=%d want 0", got)
	}
}

func TestFromHTML_CustomPresetAttr(t *testing.T) {
	d := parse(t, `<html><head><meta property="og:title" content="From Meta"></head><body></body></html>`)
	preset := rules.Preset{PostPage: &rules.PostPage{Title: "h1.none||meta[property='og:title']@content"}}
	if got := FromHTML(d, preset).Title; got != "From Meta" {
		t.Fatalf("title=%q", got)
	}
}

func TestIsPaywalled(t *testing.T) {
	if !IsPaywalled(parse(t, `<h2 class="paywall-title">Subscribe</h2>`), rules.Default()) {
		t.Fatalf("paywall not detected")
	}
	if IsPaywalled(parse(t, `<h2>Free</h2>`), rules.Default()) {
		t.Fatalf("false paywall")
	}
}

func TestFromPreload(t *testing.T) {
	raw := json.RawMessage(`{"id":42,"slug":"hello","title":"T","subtitle":"S","post_date":"2024-02-01T08:00:00.000Z",
		"body_html":"<p>x</p>","reactions":{"❤":9},"reaction_count":11,"restacks":2}`)
	p, err := FromPreload(raw)
	if err != nil {
		t.Fatalf("from preload: %v", err)
	}
	want := Post{ID: 42, Slug: "hello", Title: "T", Subtitle: "S", Date: "Feb 01, 2024", LikeCount: 9, RepostCount: 2, BodyHTML: "<p>x</p>"}
	if p != want {
		t.Fatalf("got %+v want %+v", p, want)
	}
	if !HasBody(raw) {
		t.Fatalf("HasBody should be true")
	}

	p, err = FromPreload(json.RawMessage(`{"id":1,"reaction_count":5,"post_date":"garbage"}`))
	if err != nil {
		t.Fatalf("from preload: %v", err)
	}
	if p.LikeCount != 5 || p.Date != DateNotFound {
		t.Fatalf("fallbacks: %+v", p)
	}
	if HasBody(json.RawMessage(`{"id":1,"body_html":null}`)) {
		t.Fatalf("HasBody should be false for null body")
	}
	if _, err := FromPreload(json.RawMessage(`[]`)); err == nil {
		t.Fatalf("expect decode error")
	}
}

func TestCombine_NoSubtitle(t *testing.T) {
	got := Combine("T", "", "Jan 01, 2020", 0, "body")
	want := "# T\n\n**Jan 01, 2020**\n\n**Likes:** 0\n\nbody"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestFormatISO(t *testing.T) {
	cases := map[string]string{
		"2021-06-09T17:00:00Z":      "Jun 09, 2021",
		"2021-06-09T17:00:00+02:00": "Jun 09, 2021",
		"2021-06-09":                "Jun 09, 2021",
	}
	for in, want := range cases {
		if got, ok := FormatISO(in); !ok || got != want {
			t.Fatalf("FormatISO(%q)=%q,%v want %q", in, got, ok, want)
		}
	}
	if _, ok := FormatISO("yesterday"); ok {
		t.Fatalf("expect failure")
	}
}
