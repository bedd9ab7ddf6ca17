//go:build cgo

package vecindex

import (
	"context"
	"path/filepath"
	"testing"
)

func newTestIndex(t *testing.T) *Local {
	t.Helper()
	idx, err := NewLocal(Config{
		Backend:   "local",
		Dimension: 4,
		LocalPath: filepath.Join(t.TempDir(), "index.db"),
	})
	if err != nil {
		t.Fatalf("creating index: %v", err)
	}
	t.Cleanup(func() { idx.Close() })
	return idx
}

func rec(id, docID string, chunkIdx int, docType string, abolished bool, emb []float32) Record {
	return Record{
		ID:        id,
		Embedding: emb,
		Meta: Metadata{
			DocumentID:   docID,
			ChunkIndex:   chunkIdx,
			DocumentType: docType,
			IsAbolished:  abolished,
		},
	}
}

func TestLocalUpsertAndSearch(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	err := idx.Upsert(ctx, []Record{
		rec("doc-a_chunk_0", "doc-a", 0, "law", false, []float32{1, 0, 0, 0}),
		rec("doc-a_chunk_1", "doc-a", 1, "law", false, []float32{0, 1, 0, 0}),
		rec("doc-b_chunk_0", "doc-b", 0, "contract", false, []float32{0.9, 0.1, 0, 0}),
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	matches, err := idx.Search(ctx, []float32{1, 0, 0, 0}, 2, Filter{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("got %d matches, want 2", len(matches))
	}
	if matches[0].ID != "doc-a_chunk_0" {
		t.Errorf("top match = %s", matches[0].ID)
	}
	if matches[0].Score < matches[1].Score {
		t.Error("matches not sorted by descending score")
	}
	if matches[0].Meta.DocumentID != "doc-a" || matches[0].Meta.DocumentType != "law" {
		t.Errorf("metadata = %+v", matches[0].Meta)
	}
}

func TestLocalSearchFilters(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	err := idx.Upsert(ctx, []Record{
		rec("law_chunk_0", "law-1", 0, "law", false, []float32{1, 0, 0, 0}),
		rec("old_chunk_0", "law-0", 0, "law", true, []float32{1, 0, 0, 0}),
		rec("con_chunk_0", "con-1", 0, "contract", false, []float32{1, 0, 0, 0}),
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	matches, err := idx.Search(ctx, []float32{1, 0, 0, 0}, 10, Filter{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	for _, m := range matches {
		if m.Meta.IsAbolished {
			t.Errorf("abolished vector %s returned with default filter", m.ID)
		}
	}
	if len(matches) != 2 {
		t.Errorf("got %d matches, want 2", len(matches))
	}

	matches, err = idx.Search(ctx, []float32{1, 0, 0, 0}, 10, Filter{DocumentType: "contract"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) != 1 || matches[0].ID != "con_chunk_0" {
		t.Errorf("type filter matches = %+v", matches)
	}

	matches, err = idx.Search(ctx, []float32{1, 0, 0, 0}, 10, Filter{IncludeAbolished: true})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) != 3 {
		t.Errorf("IncludeAbolished matches = %d, want 3", len(matches))
	}
}

func TestLocalUpsertReplaces(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	if err := idx.Upsert(ctx, []Record{rec("v1", "d1", 0, "law", false, []float32{1, 0, 0, 0})}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	// Re-ingest with a new embedding and flipped flag.
	if err := idx.Upsert(ctx, []Record{rec("v1", "d1", 0, "law", true, []float32{0, 0, 0, 1})}); err != nil {
		t.Fatalf("re-Upsert: %v", err)
	}

	matches, err := idx.Search(ctx, []float32{0, 0, 0, 1}, 5, Filter{IncludeAbolished: true})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("got %d matches, want 1 after replace", len(matches))
	}
	if !matches[0].Meta.IsAbolished {
		t.Error("metadata not replaced on upsert")
	}
}

func TestLocalDelete(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	err := idx.Upsert(ctx, []Record{
		rec("keep", "d1", 0, "law", false, []float32{1, 0, 0, 0}),
		rec("drop", "d1", 1, "law", false, []float32{0, 1, 0, 0}),
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	// Absent ids are skipped, not errors.
	if err := idx.Delete(ctx, []string{"drop", "never-existed"}); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	matches, err := idx.Search(ctx, []float32{0, 1, 0, 0}, 5, Filter{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	for _, m := range matches {
		if m.ID == "drop" {
			t.Error("deleted vector still returned")
		}
	}
	if len(matches) != 1 {
		t.Errorf("got %d matches, want 1", len(matches))
	}
}

func TestLocalSetAbolished(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	err := idx.Upsert(ctx, []Record{
		rec("a_chunk_0", "doc-a", 0, "law", false, []float32{1, 0, 0, 0}),
		rec("a_chunk_1", "doc-a", 1, "law", false, []float32{0, 1, 0, 0}),
		rec("b_chunk_0", "doc-b", 0, "law", false, []float32{0, 0, 1, 0}),
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	if err := idx.SetAbolished(ctx, "doc-a", true); err != nil {
		t.Fatalf("SetAbolished: %v", err)
	}

	matches, err := idx.Search(ctx, []float32{1, 0, 0, 0}, 10, Filter{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) != 1 || matches[0].ID != "b_chunk_0" {
		t.Errorf("matches after abolition = %+v", matches)
	}
}

func TestLocalDimensionMismatch(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	if err := idx.Upsert(ctx, []Record{rec("bad", "d", 0, "law", false, []float32{1, 0})}); err == nil {
		t.Error("Upsert with wrong dimension should fail")
	}
	if _, err := idx.Search(ctx, []float32{1, 0}, 5, Filter{}); err == nil {
		t.Error("Search with wrong dimension should fail")
	}
}

func TestNewUnknownBackend(t *testing.T) {
	if _, err := New(Config{Backend: "weaviate"}); err == nil {
		t.Error("unknown backend should fail")
	}
}

func TestSortMatchesTieBreak(t *testing.T) {
	matches := []Match{
		{ID: "b", Score: 0.5},
		{ID: "a", Score: 0.5},
		{ID: "c", Score: 0.9},
	}
	sortMatches(matches)
	if matches[0].ID != "c" || matches[1].ID != "a" || matches[2].ID != "b" {
		t.Errorf("order = %s %s %s", matches[0].ID, matches[1].ID, matches[2].ID)
	}
}
