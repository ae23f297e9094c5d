package feeds

import (
	"context"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	"substack-archive/internal/fetch"
	"substack-archive/internal/model"
)

const rssSample = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
  <channel>
    <title>t</title>
    <item><title>a</title><link>https://ex.substack.com/p/a</link></item>
    <item><title>p</title><link>https://ex.substack.com/podcast/p</link></item>
  </channel>
</rss>`

func client(t *testing.T) *fetch.Client {
	t.Helper()
	cl, err := fetch.New(fetch.Options{Timeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return cl
}

var keywords = []string{"about", "archive", "podcast"}

func TestDiscover_SitemapFilteredAndDeduped(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/sitemap.xml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		_, _ = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <url><loc>https://ex.substack.com/p/one</loc></url>
  <url><loc>https://ex.substack.com/about</loc></url>
  <url><loc>https://ex.substack.com/p/two</loc></url>
  <url><loc>https://ex.substack.com/p/one</loc></url>
  <url><loc>https://ex.substack.com/archive?sort=new</loc></url>
</urlset>`))
	})
	mux.HandleFunc("/feed.xml", func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("feed must not be consulted when sitemap has urls")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	got := DiscoverPostURLs(context.Background(), client(t), srv.URL+"/", keywords)
	want := []string{"https://ex.substack.com/p/one", "https://ex.substack.com/p/two"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got=%v want=%v", got, want)
	}
}

func TestDiscover_SitemapIndexFollowedOneLevel(t *testing.T) {
	var srv *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("/sitemap.xml", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<sitemapindex xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <sitemap><loc>` + srv.URL + `/sm-1.xml</loc></sitemap>
</sitemapindex>`))
	})
	mux.HandleFunc("/sm-1.xml", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<urlset><url><loc>https://ex.substack.com/p/nested</loc></url></urlset>`))
	})
	srv = httptest.NewServer(mux)
	defer srv.Close()

	got := DiscoverPostURLs(context.Background(), client(t), srv.URL+"/", keywords)
	if len(got) != 1 || got[0] != "https://ex.substack.com/p/nested" {
		t.Fatalf("got=%v", got)
	}
}

func TestDiscover_FallbackToFeed(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/sitemap.xml", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("/feed.xml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(rssSample))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	got := DiscoverPostURLs(context.Background(), client(t), srv.URL+"/", keywords)
	if len(got) != 1 || got[0] != "https://ex.substack.com/p/a" {
		t.Fatalf("got=%v", got)
	}
}

func TestDiscover_BothMissingYieldsEmpty(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	if got := DiscoverPostURLs(context.Background(), client(t), srv.URL+"/", keywords); len(got) != 0 {
		t.Fatalf("got=%v", got)
	}
}

func TestPostURLsFromIndex(t *testing.T) {
	recs := []model.PostRecord{{ID: 2, Slug: "b"}, {ID: 1}, {ID: 0, Slug: "a"}}
	got := PostURLsFromIndex("https://ex.substack.com/", recs)
	want := []string{"https://ex.substack.com/p/b", "https://ex.substack.com/p/a"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got=%v", got)
	}
}

func TestPublicationHandleAndDomain(t *testing.T) {
	cases := []struct{ in, handle, domain string }{
		{"https://example.substack.com/", "example", "example.substack.com"},
		{"https://www.Example.com/", "example", "example.com"},
		{"https://news.example.org", "news", "news.example.org"},
	}
	for _, c := range cases {
		h, err := PublicationHandle(c.in)
		if err != nil || h != c.handle {
			t.Fatalf("handle(%s)=%q err=%v", c.in, h, err)
		}
		d, _ := PublicationDomain(c.in)
		if d != c.domain {
			t.Fatalf("domain(%s)=%q", c.in, d)
		}
	}
	if _, err := PublicationHandle("/relative"); err == nil {
		t.Fatalf("expect error without host")
	}
}

func TestSlugFromURL(t *testing.T) {
	if got := SlugFromURL("https://ex.substack.com/p/hello-world?utm=1"); got != "hello-world" {
		t.Fatalf("slug=%q", got)
	}
}
