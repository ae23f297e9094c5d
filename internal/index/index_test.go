package index

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"substack-archive/internal/model"
)

func ids(recs []model.PostRecord) []int64 {
	out := make([]int64, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.ID)
	}
	return out
}

func TestMerge_BatchWinsAndSortsDesc(t *testing.T) {
	existing := []model.PostRecord{{ID: 5, Title: "old5"}, {ID: 3, Title: "old3"}, {ID: 1, Title: "old1"}}
	batch := []model.PostRecord{{ID: 3, Title: "new3", Slug: "renamed"}, {ID: 9, Title: "new9"}}
	got := Merge(existing, batch)
	if want := []int64{9, 5, 3, 1}; !reflect.DeepEqual(ids(got), want) {
		t.Fatalf("ids=%v want=%v", ids(got), want)
	}
	if got[2].Title != "new3" || got[2].Slug != "renamed" {
		t.Fatalf("batch record should replace existing: %+v", got[2])
	}
}

func TestMerge_DuplicateInBatchLastWins(t *testing.T) {
	got := Merge(nil, []model.PostRecord{{ID: 2, Title: "a"}, {ID: 2, Title: "b"}})
	if len(got) != 1 || got[0].Title != "b" {
		t.Fatalf("got=%+v", got)
	}
}

func TestMerge_Idempotent(t *testing.T) {
	existing := []model.PostRecord{{ID: 4}, {ID: 2}}
	batch := []model.PostRecord{{ID: 3, CommentCount: model.IntPtr(2)}, {ID: 4, Title: "x"}}
	once := Merge(existing, batch)
	twice := Merge(once, batch)
	if !reflect.DeepEqual(once, twice) {
		t.Fatalf("merge not idempotent:\n%+v\n%+v", once, twice)
	}
}

func TestLoadMissingAndUpdate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "posts.json")
	recs, err := Load(path)
	if err != nil || len(recs) != 0 {
		t.Fatalf("missing file should be empty: %v %v", recs, err)
	}
	if _, err := Update(path, []model.PostRecord{{ID: 1, Slug: "a"}}); err != nil {
		t.Fatalf("update: %v", err)
	}
	merged, err := Update(path, []model.PostRecord{{ID: 2, Slug: "b"}})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if want := []int64{2, 1}; !reflect.DeepEqual(ids(merged), want) {
		t.Fatalf("ids=%v", ids(merged))
	}
	b, _ := os.ReadFile(path)
	if b[0] != '[' || b[1] != '{' {
		t.Fatalf("expect compact json array, got %s", b)
	}
	reloaded, err := Load(path)
	if err != nil || !reflect.DeepEqual(reloaded, merged) {
		t.Fatalf("reload mismatch: %v", err)
	}
}

func TestLoad_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "posts.json")
	os.WriteFile(path, []byte("{"), 0o644)
	if _, err := Load(path); err == nil {
		t.Fatalf("expect decode error")
	}
}
