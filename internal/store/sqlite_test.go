package store

import (
	"context"
	"path/filepath"
	"testing"

	"substack-archive/internal/model"
)

func open(t *testing.T) *SQLite {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLite_PostsUpsertAndList(t *testing.T) {
	s := open(t)
	ctx := context.Background()
	if err := s.UpsertPosts(ctx, []model.PostRecord{
		{ID: 1, Slug: "a", Title: "A"},
		{ID: 3, Slug: "c", Title: "C", CommentCount: model.IntPtr(4)},
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	// slug 改名，id 不变
	if err := s.UpsertPost(ctx, model.PostRecord{ID: 1, Slug: "a-renamed", Title: "A2"}); err != nil {
		t.Fatalf("upsert rename: %v", err)
	}
	posts, err := s.ListPosts(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(posts) != 2 || posts[0].ID != 3 || posts[1].Slug != "a-renamed" {
		t.Fatalf("posts=%+v", posts)
	}
	if posts[0].CommentCount == nil || *posts[0].CommentCount != 4 {
		t.Fatalf("comment count lost: %+v", posts[0])
	}
	if posts[1].CommentCount != nil {
		t.Fatalf("skipped comments should stay null")
	}
	if err := s.UpsertPost(ctx, model.PostRecord{Slug: "x"}); err == nil {
		t.Fatalf("expect error for missing id")
	}
}

func TestSQLite_ImagesAndReset(t *testing.T) {
	s := open(t)
	ctx := context.Background()
	if _, ok, err := s.LookupImage(ctx, "u"); err != nil || ok {
		t.Fatalf("lookup empty: ok=%v err=%v", ok, err)
	}
	if err := s.RecordImage(ctx, "u", "p1"); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := s.RecordImage(ctx, "u", "p2"); err != nil {
		t.Fatalf("record again: %v", err)
	}
	if p, ok, _ := s.LookupImage(ctx, "u"); !ok || p != "p2" {
		t.Fatalf("lookup=%q %v", p, ok)
	}
	s.UpsertPost(ctx, model.PostRecord{ID: 7})
	st, err := s.Stats(ctx)
	if err != nil || st.PostsTotal != 1 || st.ImagesTotal != 1 {
		t.Fatalf("stats=%+v err=%v", st, err)
	}
	if err := s.Reset(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if st, _ := s.Stats(ctx); st.PostsTotal != 0 || st.ImagesTotal != 0 {
		t.Fatalf("not empty after reset: %+v", st)
	}
}
