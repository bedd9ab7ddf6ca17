package rag

import (
	"context"
	"strings"
	"testing"

	"github.com/tmazur/legalrag/llm"
	"github.com/tmazur/legalrag/store"
	"github.com/tmazur/legalrag/vecindex"
)

// fakeProvider serves canned embeddings and chat responses.
type fakeProvider struct {
	embedCalls int
	chatCalls  int
	chatText   string
	lastPrompt string
}

func (f *fakeProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	f.embedCalls++
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0, 0}
	}
	return out, nil
}

func (f *fakeProvider) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	f.chatCalls++
	f.lastPrompt = req.Messages[len(req.Messages)-1].Content
	return &llm.ChatResponse{Content: f.chatText, Model: "fake", TotalTokens: 42}, nil
}

// fakeIndex returns preset matches for any query.
type fakeIndex struct {
	matches []vecindex.Match
}

func (f *fakeIndex) Upsert(ctx context.Context, records []vecindex.Record) error { return nil }
func (f *fakeIndex) Delete(ctx context.Context, ids []string) error              { return nil }
func (f *fakeIndex) Search(ctx context.Context, embedding []float32, k int, flt vecindex.Filter) ([]vecindex.Match, error) {
	if len(f.matches) > k {
		return f.matches[:k], nil
	}
	return f.matches, nil
}
func (f *fakeIndex) SetAbolished(ctx context.Context, documentID string, abolished bool) error {
	return nil
}
func (f *fakeIndex) Close() error { return nil }

// fakeResolver maps vector ids to chunks and documents to their current
// versions.
type fakeResolver struct {
	chunks  map[string]*store.Chunk
	docs    map[string]*store.Document
	current map[string]string // document id -> current version id
}

func (f *fakeResolver) GetChunkByVectorID(ctx context.Context, vectorID string) (*store.Chunk, error) {
	c, ok := f.chunks[vectorID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return c, nil
}

func (f *fakeResolver) ResolveCurrent(ctx context.Context, id string) (*store.Document, error) {
	if cur, ok := f.current[id]; ok {
		id = cur
	}
	d, ok := f.docs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return d, nil
}

func testFixture(chatText string) (*fakeProvider, *fakeIndex, *fakeResolver) {
	provider := &fakeProvider{chatText: chatText}
	index := &fakeIndex{
		matches: []vecindex.Match{
			{ID: "d1_chunk_0", Score: 0.9, Meta: vecindex.Metadata{DocumentID: "d1"}},
			{ID: "d1_chunk_1", Score: 0.8, Meta: vecindex.Metadata{DocumentID: "d1"}},
			{ID: "d2_chunk_0", Score: 0.7, Meta: vecindex.Metadata{DocumentID: "d2"}},
		},
	}
	resolver := &fakeResolver{
		chunks: map[string]*store.Chunk{
			"d1_chunk_0": {DocumentID: "d1", SeqIndex: 0, Label: "Article 1", Content: "Scope of the act.", VectorID: "d1_chunk_0"},
			"d1_chunk_1": {DocumentID: "d1", SeqIndex: 1, Label: "Article 2", Content: "Definitions.", VectorID: "d1_chunk_1"},
			"d2_chunk_0": {DocumentID: "d2", SeqIndex: 0, Label: "Article 1", Content: "Contract obligations.", VectorID: "d2_chunk_0"},
		},
		docs: map[string]*store.Document{
			"d1": {ID: "d1", Title: "Data Protection Act", DocumentType: "law"},
			"d2": {ID: "d2", Title: "Service Contract", DocumentType: "contract"},
		},
		current: map[string]string{},
	}
	return provider, index, resolver
}

func TestAsk(t *testing.T) {
	provider, index, resolver := testFixture("Article 1 of the Data Protection Act applies.")
	o := New(provider, provider, index, resolver, Config{TopK: 5})

	ans, err := o.Ask(context.Background(), "What is the scope?", "")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if ans.NoSources {
		t.Fatal("unexpected NoSources")
	}
	if ans.Text != "Article 1 of the Data Protection Act applies." {
		t.Errorf("Text = %q", ans.Text)
	}
	// Two chunks of d1 deduplicate to one source document.
	if len(ans.SourceDocumentIDs) != 2 {
		t.Fatalf("SourceDocumentIDs = %v", ans.SourceDocumentIDs)
	}
	if ans.SourceDocumentIDs[0] != "d1" || ans.SourceDocumentIDs[1] != "d2" {
		t.Errorf("SourceDocumentIDs = %v", ans.SourceDocumentIDs)
	}
	if !strings.Contains(provider.lastPrompt, "Scope of the act.") {
		t.Error("retrieved chunk content missing from prompt")
	}
	if !strings.Contains(provider.lastPrompt, "What is the scope?") {
		t.Error("question missing from prompt")
	}
}

func TestAskNoSources(t *testing.T) {
	provider := &fakeProvider{chatText: "should never be used"}
	o := New(provider, provider, &fakeIndex{}, &fakeResolver{}, Config{})

	ans, err := o.Ask(context.Background(), "Anything?", "")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if !ans.NoSources || ans.Text != NoSourcesAnswer {
		t.Errorf("ans = %+v", ans)
	}
	if len(ans.SourceDocumentIDs) != 0 {
		t.Errorf("SourceDocumentIDs = %v, want none", ans.SourceDocumentIDs)
	}
	if provider.chatCalls != 0 {
		t.Errorf("generation called %d times with no candidates", provider.chatCalls)
	}
}

func TestAskResolvesSupersededSources(t *testing.T) {
	provider, index, resolver := testFixture("answer")
	// d1 has been replaced by d3; hits on d1 chunks must surface d3.
	resolver.current["d1"] = "d3"
	resolver.docs["d3"] = &store.Document{ID: "d3", Title: "Data Protection Act 2025", DocumentType: "law"}
	o := New(provider, provider, index, resolver, Config{})

	ans, err := o.Ask(context.Background(), "scope?", "")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if ans.SourceDocumentIDs[0] != "d3" {
		t.Errorf("SourceDocumentIDs = %v, want d3 first", ans.SourceDocumentIDs)
	}
	for _, id := range ans.SourceDocumentIDs {
		if id == "d1" {
			t.Error("superseded document listed as source")
		}
	}
}

func TestAskStaleVectorIgnored(t *testing.T) {
	provider, index, resolver := testFixture("answer")
	index.matches = append([]vecindex.Match{{ID: "ghost_chunk_9", Score: 0.95}}, index.matches...)
	o := New(provider, provider, index, resolver, Config{TopK: 10})

	ans, err := o.Ask(context.Background(), "scope?", "")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if len(ans.SourceDocumentIDs) != 2 {
		t.Errorf("SourceDocumentIDs = %v", ans.SourceDocumentIDs)
	}
}

func TestSearch(t *testing.T) {
	provider, index, resolver := testFixture("")
	o := New(provider, provider, index, resolver, Config{})

	results, err := o.Search(context.Background(), "scope", "", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %+v", results)
	}
	if results[0].DocumentID != "d1" || results[0].ChunkLabel != "Article 1" {
		t.Errorf("top result = %+v", results[0])
	}
	if results[0].Score < results[1].Score {
		t.Error("results not sorted by score")
	}
	if results[0].Snippet == "" {
		t.Error("missing snippet")
	}
}

func TestBuildContextRespectsBudget(t *testing.T) {
	long := strings.Repeat("lorem ipsum ", 200)
	cands := []candidate{
		{doc: &store.Document{ID: "d1", Title: "A"}, chunk: &store.Chunk{Label: "Article 1", Content: long}, score: 0.9},
		{doc: &store.Document{ID: "d2", Title: "B"}, chunk: &store.Chunk{Label: "Article 2", Content: long}, score: 0.8},
		{doc: &store.Document{ID: "d3", Title: "C"}, chunk: &store.Chunk{Label: "Article 3", Content: long}, score: 0.7},
	}

	got := buildContext(cands, 3000)
	if !strings.Contains(got, "Article 1") {
		t.Error("best chunk always included")
	}
	if strings.Contains(got, "Article 3") {
		t.Error("context exceeded budget")
	}
}

func TestSnippet(t *testing.T) {
	text := strings.Repeat("padding words here. ", 30) +
		"The supervisory authority may impose fines for violations. " +
		strings.Repeat("more padding text. ", 30)

	got := snippet(text, "what fines can the supervisory authority impose", 240)
	if !strings.Contains(got, "fines") {
		t.Errorf("snippet not centred on query term: %q", got)
	}
	if len(got) > 260 {
		t.Errorf("snippet too long: %d chars", len(got))
	}

	short := "Article 1. Scope."
	if got := snippet(short, "scope", 240); got != short {
		t.Errorf("short content should pass through, got %q", got)
	}
}
