//go:build cgo

package legalrag

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/tmazur/legalrag/llm"
	"github.com/tmazur/legalrag/scrape"
	"github.com/tmazur/legalrag/vecindex"
)

// fakeLLM is a deterministic stand-in for both model services.
type fakeLLM struct {
	mu         sync.Mutex
	embedCalls int
	embedTexts []string
	chatCalls  int
	lastPrompt string
}

func (f *fakeLLM) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.embedCalls++
	f.embedTexts = append(f.embedTexts, texts...)
	f.mu.Unlock()
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := float32(len(t)%7) + 1
		out[i] = []float32{v, v + 1, v + 2, v + 3}
	}
	return out, nil
}

func (f *fakeLLM) Chat(_ context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	f.mu.Lock()
	f.chatCalls++
	if len(req.Messages) > 0 {
		f.lastPrompt = req.Messages[len(req.Messages)-1].Content
	}
	f.mu.Unlock()
	return &llm.ChatResponse{Content: "According to Article 1, yes.", Model: "fake"}, nil
}

// memIndex is an in-memory vector index honoring the metadata filters.
type memIndex struct {
	mu      sync.Mutex
	records map[string]vecindex.Record
}

func newMemIndex() *memIndex {
	return &memIndex{records: make(map[string]vecindex.Record)}
}

func (m *memIndex) Upsert(_ context.Context, recs []vecindex.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range recs {
		m.records[r.ID] = r
	}
	return nil
}

func (m *memIndex) Delete(_ context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.records, id)
	}
	return nil
}

func (m *memIndex) Search(_ context.Context, _ []float32, k int, f vecindex.Filter) ([]vecindex.Match, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matches []vecindex.Match
	for _, r := range m.records {
		if r.Meta.IsAbolished && !f.IncludeAbolished {
			continue
		}
		if f.DocumentType != "" && r.Meta.DocumentType != "" && r.Meta.DocumentType != f.DocumentType {
			continue
		}
		matches = append(matches, vecindex.Match{ID: r.ID, Score: 0.9, Meta: r.Meta})
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].ID < matches[j].ID })
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

func (m *memIndex) SetAbolished(_ context.Context, documentID string, abolished bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, r := range m.records {
		if r.Meta.DocumentID == documentID {
			r.Meta.IsAbolished = abolished
			m.records[id] = r
		}
	}
	return nil
}

func (m *memIndex) Close() error { return nil }

func (m *memIndex) liveIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for id, r := range m.records {
		if !r.Meta.IsAbolished {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func newTestPipeline(t *testing.T) (Pipeline, *fakeLLM, *memIndex) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.DBPath = filepath.Join(t.TempDir(), "test.db")
	cfg.EmbeddingDim = 4
	cfg.EmbedBatchSize = 2

	model := &fakeLLM{}
	idx := newMemIndex()
	p, err := New(cfg, WithIndex(idx), WithEmbedder(model), WithGenerator(model))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return p, model, idx
}

const fiveArticleLaw = `Official Act on Testing

Article 1
The scope of this act covers automated verification.

Article 2
Every pipeline shall be exercised before release.

Article 3
Fines of up to 500 euro apply for untested code.

Article 4
Supervision is carried out by the review board.

Article 5
This act enters into force immediately.`

func TestIngestLawDocument(t *testing.T) {
	p, _, idx := newTestPipeline(t)
	ctx := context.Background()

	id, err := p.IngestBytes(ctx, "act.txt", []byte(fiveArticleLaw), "law")
	if err != nil {
		t.Fatalf("IngestBytes: %v", err)
	}

	doc, err := p.GetDocument(ctx, id)
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if doc.Status != StatusProcessed {
		t.Fatalf("status = %q, want %q (error: %s)", doc.Status, StatusProcessed, doc.Error)
	}

	chunks, err := p.Store().GetChunks(ctx, id)
	if err != nil {
		t.Fatalf("GetChunks: %v", err)
	}
	if len(chunks) != 6 {
		t.Fatalf("got %d chunks, want 6 (preamble + 5 articles)", len(chunks))
	}
	if chunks[0].Label != "Preamble" {
		t.Errorf("chunk 0 label = %q, want Preamble", chunks[0].Label)
	}
	for i := 1; i < len(chunks); i++ {
		want := fmt.Sprintf("Article %d", i)
		if chunks[i].Label != want {
			t.Errorf("chunk %d label = %q, want %q", i, chunks[i].Label, want)
		}
	}
	if got := len(idx.liveIDs()); got != 6 {
		t.Errorf("index holds %d vectors, want 6", got)
	}
}

func TestReingestUnchangedSkipsProcessing(t *testing.T) {
	p, model, _ := newTestPipeline(t)
	ctx := context.Background()

	id1, err := p.IngestBytes(ctx, "act.txt", []byte(fiveArticleLaw), "law")
	if err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	calls := model.embedCalls

	id2, err := p.IngestBytes(ctx, "act.txt", []byte(fiveArticleLaw), "law")
	if err != nil {
		t.Fatalf("second ingest: %v", err)
	}
	if id1 != id2 {
		t.Errorf("document id changed on re-ingest: %s vs %s", id1, id2)
	}
	if model.embedCalls != calls {
		t.Errorf("unchanged content was re-embedded (%d extra calls)", model.embedCalls-calls)
	}
}

func TestReingestChangedContentReplacesVectors(t *testing.T) {
	p, _, idx := newTestPipeline(t)
	ctx := context.Background()

	id1, err := p.IngestBytes(ctx, "act.txt", []byte(fiveArticleLaw), "law")
	if err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	if got := len(idx.liveIDs()); got != 6 {
		t.Fatalf("after first ingest index holds %d vectors, want 6", got)
	}

	shorter := `Article 1
Only one provision survives the amendment.

Article 2
Everything else is repealed.`
	id2, err := p.IngestBytes(ctx, "act.txt", []byte(shorter), "law")
	if err != nil {
		t.Fatalf("second ingest: %v", err)
	}
	if id1 != id2 {
		t.Fatalf("re-ingest by source key changed the id")
	}

	live := idx.liveIDs()
	if len(live) != 2 {
		t.Fatalf("index holds %d vectors after shrink, want 2: %v", len(live), live)
	}
	chunks, err := p.Store().GetChunks(ctx, id2)
	if err != nil {
		t.Fatalf("GetChunks: %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("store holds %d chunks after shrink, want 2", len(chunks))
	}
}

func TestIngestRejectsUnknownType(t *testing.T) {
	p, _, _ := newTestPipeline(t)
	_, err := p.IngestBytes(context.Background(), "x.txt", []byte("text"), "poem")
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
}

func TestIngestDirectory(t *testing.T) {
	p, _, _ := newTestPipeline(t)
	dir := t.TempDir()
	for name, content := range map[string]string{
		"a.txt":  "Article 1\nFirst.\n\nArticle 2\nSecond.",
		"b.md":   "Section 1. Alpha.\n\nSection 2. Beta.",
		"c.exe":  "binary junk",
		"d.yaml": "not: supported",
	} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	outcomes, err := p.IngestDirectory(context.Background(), dir, "article")
	if err != nil {
		t.Fatalf("IngestDirectory: %v", err)
	}
	if len(outcomes) != 2 {
		t.Fatalf("got %d outcomes, want 2 (unsupported extensions skipped)", len(outcomes))
	}
	for _, o := range outcomes {
		if o.Status != StatusProcessed {
			t.Errorf("%s: status %s (%s)", o.Source, o.Status, o.Error)
		}
	}
}

func TestSupersessionExcludesOldVersionFromSearch(t *testing.T) {
	p, _, idx := newTestPipeline(t)
	ctx := context.Background()

	oldID, err := p.IngestBytes(ctx, "v1.txt", []byte("Article 1\nOld rule."), "law")
	if err != nil {
		t.Fatalf("ingest v1: %v", err)
	}
	newID, err := p.IngestBytes(ctx, "v2.txt", []byte("Article 1\nNew rule."), "law")
	if err != nil {
		t.Fatalf("ingest v2: %v", err)
	}

	if err := p.RecordSupersession(ctx, oldID, newID); err != nil {
		t.Fatalf("RecordSupersession: %v", err)
	}

	oldDoc, err := p.GetDocument(ctx, oldID)
	if err != nil {
		t.Fatal(err)
	}
	if !oldDoc.IsAbolished || !oldDoc.IsUpdated {
		t.Errorf("old doc flags: abolished=%v updated=%v, want both true", oldDoc.IsAbolished, oldDoc.IsUpdated)
	}
	newDoc, err := p.GetDocument(ctx, newID)
	if err != nil {
		t.Fatal(err)
	}
	if newDoc.ParentDocumentID != oldID {
		t.Errorf("new doc parent = %q, want %q", newDoc.ParentDocumentID, oldID)
	}

	current, err := p.ResolveCurrent(ctx, oldID)
	if err != nil {
		t.Fatalf("ResolveCurrent: %v", err)
	}
	if current.ID != newID {
		t.Errorf("ResolveCurrent = %s, want %s", current.ID, newID)
	}

	// Only the replacement's vector remains visible to default search.
	for _, id := range idx.liveIDs() {
		if strings.HasPrefix(id, oldID) {
			t.Errorf("abolished vector %s still live in index", id)
		}
	}

	results, err := p.Search(ctx, "rule", "", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	for _, r := range results {
		if r.DocumentID == oldID {
			t.Errorf("search surfaced abolished document %s", oldID)
		}
	}
}

func TestSupersessionCycleRejected(t *testing.T) {
	p, _, _ := newTestPipeline(t)
	ctx := context.Background()

	a, _ := p.IngestBytes(ctx, "a.txt", []byte("Article 1\nAlpha."), "law")
	b, _ := p.IngestBytes(ctx, "b.txt", []byte("Article 1\nBeta."), "law")

	if err := p.RecordSupersession(ctx, a, b); err != nil {
		t.Fatalf("a->b: %v", err)
	}
	err := p.RecordSupersession(ctx, b, a)
	if !errors.Is(err, ErrRelationshipCycle) {
		t.Fatalf("b->a err = %v, want ErrRelationshipCycle", err)
	}
}

func TestAskGroundedAnswer(t *testing.T) {
	p, model, _ := newTestPipeline(t)
	ctx := context.Background()

	if _, err := p.IngestBytes(ctx, "act.txt", []byte(fiveArticleLaw), "law"); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	answer, err := p.Ask(ctx, "What fines apply?", "")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if answer.NoSources {
		t.Fatal("answer reports no sources despite indexed content")
	}
	// All chunks belong to one document, so sources collapse to it.
	if len(answer.Sources) != 1 {
		t.Fatalf("got %d sources, want 1", len(answer.Sources))
	}
	if !strings.Contains(model.lastPrompt, "What fines apply?") {
		t.Error("question missing from generation prompt")
	}
	if !strings.Contains(model.lastPrompt, "Official Act on Testing") {
		t.Error("retrieved document text missing from generation prompt")
	}
}

func TestAskWithEmptyIndex(t *testing.T) {
	p, model, _ := newTestPipeline(t)

	answer, err := p.Ask(context.Background(), "Anything?", "")
	if !errors.Is(err, ErrNoSources) {
		t.Fatalf("err = %v, want ErrNoSources", err)
	}
	if answer == nil || !answer.NoSources {
		t.Fatal("expected the no-sources answer alongside the sentinel")
	}
	if model.chatCalls != 0 {
		t.Errorf("generation called %d times with empty index, want 0", model.chatCalls)
	}
}

func TestAbolishWithoutReplacement(t *testing.T) {
	p, _, idx := newTestPipeline(t)
	ctx := context.Background()

	id, err := p.IngestBytes(ctx, "act.txt", []byte("Article 1\nRepealed soon."), "law")
	if err != nil {
		t.Fatal(err)
	}
	if err := p.AbolishDocument(ctx, id); err != nil {
		t.Fatalf("AbolishDocument: %v", err)
	}

	doc, err := p.GetDocument(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if !doc.IsAbolished {
		t.Error("document not flagged abolished")
	}
	if doc.IsUpdated {
		t.Error("abolition without replacement must not set the updated flag")
	}
	if got := len(idx.liveIDs()); got != 0 {
		t.Errorf("%d vectors still live after abolition", got)
	}

	if err := p.AbolishDocument(ctx, "no-such-id"); !errors.Is(err, ErrDocumentNotFound) {
		t.Errorf("missing doc err = %v, want ErrDocumentNotFound", err)
	}
}

func TestIngestAPIRecordsSupersession(t *testing.T) {
	apiDocs := []scrape.Document{
		{ID: "law-1", Title: "Old Act", Type: "law", Content: "Article 1\nOld text."},
		{ID: "law-2", Title: "New Act", Type: "law", Content: "Article 1\nNew text.", Replaces: []string{"law-1"}},
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(apiDocs)
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.DBPath = filepath.Join(t.TempDir(), "test.db")
	cfg.EmbeddingDim = 4
	cfg.SourceAPI.BaseURL = srv.URL

	model := &fakeLLM{}
	idx := newMemIndex()
	p, err := New(cfg, WithIndex(idx), WithEmbedder(model), WithGenerator(model))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()
	ctx := context.Background()

	outcomes, err := p.IngestAPI(ctx, "law", "", 10)
	if err != nil {
		t.Fatalf("IngestAPI: %v", err)
	}
	if len(outcomes) != 2 {
		t.Fatalf("got %d outcomes, want 2", len(outcomes))
	}
	for _, o := range outcomes {
		if o.Status != StatusProcessed {
			t.Fatalf("%s: %s (%s)", o.Source, o.Status, o.Error)
		}
	}

	old, err := p.Store().GetDocumentBySourceKey(ctx, "api:law-1")
	if err != nil {
		t.Fatalf("lookup old: %v", err)
	}
	if !old.IsAbolished {
		t.Error("replaced document not abolished")
	}
	current, err := p.ResolveCurrent(ctx, old.ID)
	if err != nil {
		t.Fatalf("ResolveCurrent: %v", err)
	}
	if current.SourceKey != "api:law-2" {
		t.Errorf("current = %s, want api:law-2", current.SourceKey)
	}
}

func TestIngestAPIDocument(t *testing.T) {
	apiDocs := map[string]scrape.Document{
		"law-1": {ID: "law-1", Title: "Old Act", Type: "law", Content: "Article 1\nOld text."},
		"law-2": {ID: "law-2", Title: "New Act", Type: "law", Content: "Article 1\nNew text.", Replaces: []string{"law-1"}},
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/documents/")
		doc, ok := apiDocs[id]
		if !ok {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(doc)
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.DBPath = filepath.Join(t.TempDir(), "test.db")
	cfg.EmbeddingDim = 4
	cfg.SourceAPI.BaseURL = srv.URL

	model := &fakeLLM{}
	idx := newMemIndex()
	p, err := New(cfg, WithIndex(idx), WithEmbedder(model), WithGenerator(model))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()
	ctx := context.Background()

	oldID, err := p.IngestAPIDocument(ctx, "law-1")
	if err != nil {
		t.Fatalf("IngestAPIDocument(law-1): %v", err)
	}
	newID, err := p.IngestAPIDocument(ctx, "law-2")
	if err != nil {
		t.Fatalf("IngestAPIDocument(law-2): %v", err)
	}

	old, err := p.Store().GetDocument(ctx, oldID)
	if err != nil {
		t.Fatalf("lookup old: %v", err)
	}
	if old.SourceKey != "api:law-1" {
		t.Errorf("old source key = %s, want api:law-1", old.SourceKey)
	}
	if !old.IsAbolished {
		t.Error("replaced document not abolished")
	}
	current, err := p.ResolveCurrent(ctx, oldID)
	if err != nil {
		t.Fatalf("ResolveCurrent: %v", err)
	}
	if current.ID != newID {
		t.Errorf("current = %s, want %s", current.ID, newID)
	}

	if _, err := p.IngestAPIDocument(ctx, "missing"); err == nil {
		t.Error("expected error for unknown api id")
	}
}

func TestEmbedTruncationKeepsRuneBoundaries(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DBPath = filepath.Join(t.TempDir(), "test.db")
	cfg.EmbeddingDim = 4
	// The single fallback chunk embeds as "Document: " (10 bytes)
	// followed by two-byte runes, so the limit lands mid-rune.
	cfg.MaxEmbedChars = 21

	model := &fakeLLM{}
	p, err := New(cfg, WithIndex(newMemIndex()), WithEmbedder(model), WithGenerator(model))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	content := strings.Repeat("ż", 60)
	if _, err := p.IngestBytes(context.Background(), "ordinance.txt", []byte(content), "other"); err != nil {
		t.Fatalf("IngestBytes: %v", err)
	}

	model.mu.Lock()
	texts := append([]string(nil), model.embedTexts...)
	model.mu.Unlock()
	if len(texts) == 0 {
		t.Fatal("no texts embedded")
	}
	for _, text := range texts {
		if !utf8.ValidString(text) {
			t.Fatalf("embedded text is not valid UTF-8: %q", text)
		}
		if len(text) > cfg.MaxEmbedChars {
			t.Fatalf("embedded text is %d bytes, limit %d", len(text), cfg.MaxEmbedChars)
		}
	}
	if want := "Document: " + strings.Repeat("ż", 5); texts[0] != want {
		t.Errorf("embedded text = %q, want %q", texts[0], want)
	}
}
