package chunker

import (
	"fmt"
	"strings"
	"testing"
)

// checkInvariants verifies the ordering and coverage guarantees that every
// chunking result must satisfy.
func checkInvariants(t *testing.T, text string, chunks []Chunk) {
	t.Helper()
	if len(chunks) == 0 {
		t.Fatal("expected at least one chunk")
	}
	for i, c := range chunks {
		if c.Index != i {
			t.Errorf("chunk %d: Index = %d, want %d", i, c.Index, i)
		}
		if c.End < c.Start {
			t.Errorf("chunk %d: End %d < Start %d", i, c.End, c.Start)
		}
	}
	if chunks[0].Start != 0 {
		t.Errorf("first chunk starts at %d, want 0", chunks[0].Start)
	}
	if chunks[len(chunks)-1].End != len(text) {
		t.Errorf("last chunk ends at %d, want %d", chunks[len(chunks)-1].End, len(text))
	}
	for i := 1; i < len(chunks); i++ {
		if chunks[i].Start != chunks[i-1].End {
			t.Errorf("gap or overlap between chunk %d (end %d) and %d (start %d)",
				i-1, chunks[i-1].End, i, chunks[i].Start)
		}
	}
}

func TestSplitArticles(t *testing.T) {
	var b strings.Builder
	for i := 1; i <= 5; i++ {
		fmt.Fprintf(&b, "Article %d. Provision number %d applies to all parties.\n", i, i)
	}
	text := b.String()

	c := New(Config{})
	chunks := c.Split(text, "law")
	checkInvariants(t, text, chunks)

	if len(chunks) != 5 {
		t.Fatalf("got %d chunks, want 5", len(chunks))
	}
	for i, ch := range chunks {
		want := fmt.Sprintf("Article %d", i+1)
		if ch.Label != want {
			t.Errorf("chunk %d label = %q, want %q", i, ch.Label, want)
		}
	}
}

func TestSplitPreamble(t *testing.T) {
	text := "The Data Protection Act\n\nArticle 1. Scope.\nArticle 2. Definitions.\n"
	c := New(Config{})
	chunks := c.Split(text, "law")
	checkInvariants(t, text, chunks)

	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3 (preamble + 2 articles)", len(chunks))
	}
	if chunks[0].Label != "Preamble" {
		t.Errorf("chunk 0 label = %q, want Preamble", chunks[0].Label)
	}
	if chunks[1].Label != "Article 1" || chunks[2].Label != "Article 2" {
		t.Errorf("article labels = %q, %q", chunks[1].Label, chunks[2].Label)
	}
}

func TestSplitClauses(t *testing.T) {
	text := "1.1 The supplier shall deliver.\n1.2 The buyer shall pay.\n2.1 Late payment accrues interest.\n"
	c := New(Config{})
	chunks := c.Split(text, "contract")
	checkInvariants(t, text, chunks)

	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(chunks))
	}
	if chunks[0].Label != "Clause 1.1" {
		t.Errorf("chunk 0 label = %q, want Clause 1.1", chunks[0].Label)
	}
}

func TestSplitFinerGranularityWins(t *testing.T) {
	// Two section markers but four clause markers: the clause strategy
	// produces more, shorter chunks and should be preferred.
	text := "Section 1\n1.1 First rule applies.\n1.2 Second rule applies.\nSection 2\n2.1 Third rule applies.\n2.2 Fourth rule applies.\n"
	c := New(Config{})
	chunks := c.Split(text, "law")
	checkInvariants(t, text, chunks)

	if len(chunks) < 4 {
		t.Fatalf("got %d chunks, want at least 4 (clause granularity)", len(chunks))
	}
	if !strings.HasPrefix(chunks[len(chunks)-1].Label, "Clause") {
		t.Errorf("final label = %q, want a clause label", chunks[len(chunks)-1].Label)
	}
}

func TestSplitSingleMarkerNotAdopted(t *testing.T) {
	// One marker is not structure; the short text becomes one chunk.
	text := "Article 1. The only provision in this short text."
	c := New(Config{})
	chunks := c.Split(text, "law")
	checkInvariants(t, text, chunks)

	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
	if chunks[0].Label != "Document" {
		t.Errorf("label = %q, want Document", chunks[0].Label)
	}
}

func TestSplitFallbackWindows(t *testing.T) {
	// No structural markers, length exceeding the window: expect at
	// least two window chunks whose spans cover the whole text.
	word := "jurisprudence "
	text := strings.Repeat(word, 400) // ~5600 chars
	c := New(Config{WindowChars: 2000, OverlapChars: 200})
	chunks := c.Split(text, "other")
	checkInvariants(t, text, chunks)

	if len(chunks) < 2 {
		t.Fatalf("got %d chunks, want >= 2", len(chunks))
	}
	for i, ch := range chunks {
		if ch.Label != fmt.Sprintf("Part %d", i+1) {
			t.Errorf("chunk %d label = %q", i, ch.Label)
		}
		if len(ch.Content) > 2000 {
			t.Errorf("chunk %d content length %d exceeds window", i, len(ch.Content))
		}
	}
	// Window content carries overlap from the previous span.
	second := chunks[1]
	wantStart := second.Start - 200
	if wantStart < 0 {
		wantStart = 0
	}
	if second.Content != text[wantStart:second.End] {
		t.Error("chunk 1 content does not include overlap from previous window")
	}
}

func TestSplitEmptyText(t *testing.T) {
	c := New(Config{})
	chunks := c.Split("", "law")
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
	if chunks[0].Start != 0 || chunks[0].End != 0 {
		t.Errorf("span = [%d,%d), want [0,0)", chunks[0].Start, chunks[0].End)
	}
}

func TestSplitCaseLawSections(t *testing.T) {
	text := "Section 1 Background of the dispute.\nSection 2 Findings of the court.\nSection 3 Ruling.\n"
	c := New(Config{})
	chunks := c.Split(text, "case_law")
	checkInvariants(t, text, chunks)

	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(chunks))
	}
	if chunks[2].Label != "Section 3" {
		t.Errorf("chunk 2 label = %q, want Section 3", chunks[2].Label)
	}
}
