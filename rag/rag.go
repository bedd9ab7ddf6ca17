// Package rag answers legal questions from indexed documents: embed the
// question, retrieve the nearest chunks, resolve each hit to the
// document version currently in force, and synthesize an answer with a
// generation model. Every answer is grounded in retrieved context; with
// no candidates the orchestrator returns a fixed no-sources result
// instead of calling the model.
package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tmazur/legalrag/llm"
	"github.com/tmazur/legalrag/store"
	"github.com/tmazur/legalrag/vecindex"
)

// NoSourcesAnswer is returned verbatim when retrieval finds nothing.
const NoSourcesAnswer = "I couldn't find any relevant legal information to answer your question."

// Sentinels identifying which external collaborator failed.
var (
	ErrEmbedding  = errors.New("embedding service failed")
	ErrIndex      = errors.New("vector index failed")
	ErrGeneration = errors.New("generation service failed")
)

// Resolver is the slice of the document store the orchestrator needs.
type Resolver interface {
	GetChunkByVectorID(ctx context.Context, vectorID string) (*store.Chunk, error)
	ResolveCurrent(ctx context.Context, id string) (*store.Document, error)
}

// Config holds orchestrator settings.
type Config struct {
	TopK            int
	MaxContextChars int
}

// Orchestrator wires retrieval and generation together.
type Orchestrator struct {
	embed llm.Provider
	chat  llm.Provider
	index vecindex.Index
	docs  Resolver
	cfg   Config
}

// New creates an orchestrator.
func New(embed, chat llm.Provider, index vecindex.Index, docs Resolver, cfg Config) *Orchestrator {
	if cfg.TopK == 0 {
		cfg.TopK = 5
	}
	if cfg.MaxContextChars == 0 {
		cfg.MaxContextChars = 12000
	}
	return &Orchestrator{embed: embed, chat: chat, index: index, docs: docs, cfg: cfg}
}

// Source is one retrieved chunk that backed an answer.
type Source struct {
	DocumentID string  `json:"document_id"`
	Title      string  `json:"title"`
	ChunkLabel string  `json:"chunk_label"`
	Content    string  `json:"content"`
	Score      float64 `json:"score"`
}

// Answer is the result of Ask.
type Answer struct {
	Text              string   `json:"text"`
	SourceDocumentIDs []string `json:"source_document_ids"`
	Sources           []Source `json:"sources"`
	NoSources         bool     `json:"no_sources"`
	ModelUsed         string   `json:"model_used,omitempty"`
	TotalTokens       int      `json:"total_tokens,omitempty"`
}

// SearchResult is one ranked hit from Search.
type SearchResult struct {
	DocumentID string  `json:"document_id"`
	Title      string  `json:"title"`
	ChunkLabel string  `json:"chunk_label"`
	Score      float64 `json:"score"`
	Snippet    string  `json:"snippet"`
}

// candidate pairs a search hit with its resolved document and chunk.
type candidate struct {
	chunk *store.Chunk
	doc   *store.Document
	score float64
}

// retrieve embeds the query, searches the index, and resolves each hit
// to its current document, deduplicating by resolved document id. Hits
// whose chunk or document vanished between indexing and now are dropped
// rather than failing the query.
func (o *Orchestrator) retrieve(ctx context.Context, query, docType string, k int) ([]candidate, error) {
	embs, err := o.embed.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbedding, err)
	}

	matches, err := o.index.Search(ctx, embs[0], k, vecindex.Filter{DocumentType: docType})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIndex, err)
	}

	seen := map[string]bool{}
	var cands []candidate
	for _, m := range matches {
		chunk, err := o.docs.GetChunkByVectorID(ctx, m.ID)
		if errors.Is(err, store.ErrNotFound) {
			slog.Debug("rag: stale vector id in index", "vector_id", m.ID)
			continue
		}
		if err != nil {
			return nil, err
		}

		doc, err := o.docs.ResolveCurrent(ctx, chunk.DocumentID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return nil, err
		}
		// Matches arrive sorted by score, so the first hit per resolved
		// document is also its best one.
		if seen[doc.ID] {
			continue
		}
		seen[doc.ID] = true
		cands = append(cands, candidate{chunk: chunk, doc: doc, score: m.Score})
	}
	return cands, nil
}

// Search returns ranked chunks with query-focused snippets.
func (o *Orchestrator) Search(ctx context.Context, query, docType string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = o.cfg.TopK
	}
	cands, err := o.retrieve(ctx, query, docType, limit)
	if err != nil {
		return nil, err
	}

	results := make([]SearchResult, len(cands))
	for i, c := range cands {
		results[i] = SearchResult{
			DocumentID: c.doc.ID,
			Title:      c.doc.Title,
			ChunkLabel: c.chunk.Label,
			Score:      c.score,
			Snippet:    snippet(c.chunk.Content, query, snippetLength),
		}
	}
	return results, nil
}

// Ask answers a question from indexed documents.
func (o *Orchestrator) Ask(ctx context.Context, question, docType string) (*Answer, error) {
	start := time.Now()
	cands, err := o.retrieve(ctx, question, docType, o.cfg.TopK)
	if err != nil {
		return nil, err
	}

	if len(cands) == 0 {
		slog.Info("rag: no candidates retrieved", "question_len", len(question))
		return &Answer{Text: NoSourcesAnswer, NoSources: true}, nil
	}

	contextStr := buildContext(cands, o.cfg.MaxContextChars)

	resp, err := o.chat.Chat(ctx, llm.ChatRequest{
		Messages: []llm.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: buildAnswerPrompt(question, contextStr)},
		},
		Temperature: 0,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGeneration, err)
	}

	slog.Info("rag: answer generated",
		"sources", len(cands),
		"tokens", resp.TotalTokens,
		"elapsed", time.Since(start).Round(time.Millisecond))

	answer := &Answer{
		Text:        resp.Content,
		ModelUsed:   resp.Model,
		TotalTokens: resp.TotalTokens,
	}
	for _, c := range cands {
		answer.SourceDocumentIDs = append(answer.SourceDocumentIDs, c.doc.ID)
		answer.Sources = append(answer.Sources, Source{
			DocumentID: c.doc.ID,
			Title:      c.doc.Title,
			ChunkLabel: c.chunk.Label,
			Content:    c.chunk.Content,
			Score:      c.score,
		})
	}
	return answer, nil
}

const systemPrompt = `You are an expert legal assistant. Use only the provided legal context to answer questions.
1. If the context doesn't contain enough information to answer, say that you don't know; never invent an answer.
2. Cite sources by document title and article or section label.
3. Preserve exact legal terminology and clause references.
4. Keep answers concise and focused on the legal aspects.`

// buildContext assembles retrieved chunks into the prompt context, best
// scores first, stopping before the character budget is exceeded. The
// highest-scoring chunk is always included even if oversized.
func buildContext(cands []candidate, maxChars int) string {
	var b strings.Builder
	for i, c := range cands {
		var section strings.Builder
		fmt.Fprintf(&section, "--- Source %d: %s", i+1, c.doc.Title)
		if c.chunk.Label != "" {
			fmt.Fprintf(&section, " | %s", c.chunk.Label)
		}
		section.WriteString(" ---\n")
		section.WriteString(c.chunk.Content)
		section.WriteString("\n\n")

		if i > 0 && b.Len()+section.Len() > maxChars {
			break
		}
		b.WriteString(section.String())
	}
	return b.String()
}

func buildAnswerPrompt(question, context string) string {
	return fmt.Sprintf(`Context:
%s

Question: %s

Answer based only on the context above, citing the sources you rely on.`, context, question)
}
