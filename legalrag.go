// Package legalrag ingests legal documents into searchable chunks and
// answers questions over them. The pipeline extracts text from
// heterogeneous formats, normalizes it, splits it along legal structure
// (articles, sections, clauses), embeds the chunks, and keeps vectors,
// chunks, and document relationships consistent across re-ingestion and
// supersession.
package legalrag

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/tmazur/legalrag/chunker"
	"github.com/tmazur/legalrag/extract"
	"github.com/tmazur/legalrag/llm"
	"github.com/tmazur/legalrag/objstore"
	"github.com/tmazur/legalrag/rag"
	"github.com/tmazur/legalrag/scrape"
	"github.com/tmazur/legalrag/store"
	"github.com/tmazur/legalrag/textproc"
	"github.com/tmazur/legalrag/vecindex"
)

// Document type values accepted by the pipeline.
var documentTypes = map[string]bool{
	"law": true, "regulation": true, "case_law": true,
	"contract": true, "article": true, "other": true,
}

// Statuses of the per-document ingestion state machine.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusProcessed  = "processed"
	StatusFailed     = "failed"
)

// Answer and SearchResult are re-exported so callers don't need the rag
// package for common use.
type (
	Answer       = rag.Answer
	SearchResult = rag.SearchResult
)

// Document is the externally visible view of a stored document.
type Document struct {
	ID               string `json:"id"`
	SourceKey        string `json:"source_key"`
	Title            string `json:"title"`
	DocumentType     string `json:"document_type"`
	Language         string `json:"language"`
	Status           string `json:"status"`
	Error            string `json:"error,omitempty"`
	IsAbolished      bool   `json:"is_abolished"`
	IsUpdated        bool   `json:"is_updated"`
	ParentDocumentID string `json:"parent_document_id,omitempty"`
	FileKey          string `json:"file_key,omitempty"`
	CreatedAt        string `json:"created_at"`
	UpdatedAt        string `json:"updated_at"`
}

// Outcome reports the result of ingesting one document in a batch.
type Outcome struct {
	ID     string `json:"id,omitempty"`
	Source string `json:"source"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Pipeline is the public interface of the ingestion and retrieval
// pipeline.
type Pipeline interface {
	// IngestBytes ingests a single document from raw bytes. filename
	// guides format detection and doubles as the default source key.
	IngestBytes(ctx context.Context, filename string, data []byte, docType string, opts ...IngestOption) (string, error)

	// IngestFile ingests a single document from the local filesystem.
	IngestFile(ctx context.Context, path string, docType string, opts ...IngestOption) (string, error)

	// IngestDirectory ingests every supported file under dir, processing
	// documents concurrently. One bad document never fails the batch.
	IngestDirectory(ctx context.Context, dir string, docType string) ([]Outcome, error)

	// IngestAPI pulls documents from the configured external API and
	// ingests them, then records the version relationships they declare.
	IngestAPI(ctx context.Context, docType, fromDate string, limit int) ([]Outcome, error)

	// IngestAPIDocument fetches a single document from the external API
	// by its API id and ingests it, including its version links.
	IngestAPIDocument(ctx context.Context, apiID string) (string, error)

	// Search returns ranked chunks matching the query.
	Search(ctx context.Context, query, docType string, limit int) ([]SearchResult, error)

	// Ask answers a question grounded in indexed documents.
	Ask(ctx context.Context, question, docType string) (*Answer, error)

	// RecordSupersession marks oldID as replaced by newID, atomically in
	// the store and mirrored to the index.
	RecordSupersession(ctx context.Context, oldID, newID string) error

	// AbolishDocument flags a document as no longer in force without a
	// replacement.
	AbolishDocument(ctx context.Context, id string) error

	// ResolveCurrent follows supersession edges to the version of the
	// document currently in force.
	ResolveCurrent(ctx context.Context, id string) (*Document, error)

	// GetDocument returns one document by id.
	GetDocument(ctx context.Context, id string) (*Document, error)

	// ListDocuments returns all documents.
	ListDocuments(ctx context.Context) ([]Document, error)

	// Store exposes the underlying document store.
	Store() *store.Store

	// Close releases the store, the index, and every open resource.
	Close() error
}

// IngestOption customises a single ingestion.
type IngestOption func(*ingestOptions)

type ingestOptions struct {
	sourceKey string
	title     string
	metadata  map[string]string
	force     bool
}

// WithSourceKey overrides the source key derived from the filename.
// Re-ingesting the same source key updates the document in place.
func WithSourceKey(key string) IngestOption {
	return func(o *ingestOptions) { o.sourceKey = key }
}

// WithTitle sets the document title; defaults to the filename.
func WithTitle(title string) IngestOption {
	return func(o *ingestOptions) { o.title = title }
}

// WithMetadata attaches free-form metadata to the document.
func WithMetadata(md map[string]string) IngestOption {
	return func(o *ingestOptions) { o.metadata = md }
}

// WithForce re-processes the document even when its content hash is
// unchanged.
func WithForce() IngestOption {
	return func(o *ingestOptions) { o.force = true }
}

// Option customises pipeline construction, mainly for tests and custom
// wiring.
type Option func(*pipeline)

// WithIndex substitutes the vector index backend.
func WithIndex(idx vecindex.Index) Option {
	return func(p *pipeline) { p.index = idx }
}

// WithEmbedder substitutes the embedding client.
func WithEmbedder(e llm.Provider) Option {
	return func(p *pipeline) { p.embedLLM = e }
}

// WithGenerator substitutes the generation client.
func WithGenerator(g llm.Provider) Option {
	return func(p *pipeline) { p.chatLLM = g }
}

// WithFileStorage substitutes object storage for original files.
func WithFileStorage(s objstore.Storage) Option {
	return func(p *pipeline) { p.files = s }
}

// WithSourceClient substitutes the external document API client.
func WithSourceClient(c *scrape.Client) Option {
	return func(p *pipeline) { p.source = c }
}

type pipeline struct {
	cfg        Config
	store      *store.Store
	index      vecindex.Index
	embedLLM   llm.Provider
	chatLLM    llm.Provider
	extractors *extract.Registry
	chunkr     *chunker.Chunker
	orch       *rag.Orchestrator
	files      objstore.Storage // nil when original files are not retained
	source     *scrape.Client   // nil when no external API is configured

	mu    sync.Mutex
	locks map[string]*sync.Mutex // per-source-key ingestion exclusivity
}

// New builds a pipeline from configuration. Options applied after the
// config take precedence, so tests can inject fakes for any
// collaborator.
func New(cfg Config, opts ...Option) (Pipeline, error) {
	if cfg.EmbeddingDim <= 0 {
		return nil, fmt.Errorf("%w: embedding dimension %d", ErrInvalidConfig, cfg.EmbeddingDim)
	}
	if cfg.EmbedBatchSize <= 0 {
		cfg.EmbedBatchSize = 32
	}
	if cfg.MaxEmbedChars <= 0 {
		cfg.MaxEmbedChars = 24000
	}
	if cfg.IngestWorkers <= 0 {
		cfg.IngestWorkers = 4
	}

	s, err := store.New(cfg.resolveDBPath())
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	p := &pipeline{
		cfg:        cfg,
		store:      s,
		extractors: extract.NewRegistry(),
		chunkr: chunker.New(chunker.Config{
			WindowChars:  cfg.WindowChars,
			OverlapChars: cfg.OverlapChars,
		}),
		locks: make(map[string]*sync.Mutex),
	}

	for _, opt := range opts {
		opt(p)
	}

	if p.embedLLM == nil {
		p.embedLLM, err = llm.NewProvider(llm.Config(cfg.Embedding))
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("creating embedding provider: %w", err)
		}
	}
	if p.chatLLM == nil {
		p.chatLLM, err = llm.NewProvider(llm.Config(cfg.Generation))
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("creating generation provider: %w", err)
		}
	}
	if p.index == nil {
		p.index, err = vecindex.New(vecindex.Config{
			Backend:    cfg.Index.Backend,
			Dimension:  cfg.EmbeddingDim,
			QdrantURL:  cfg.Index.QdrantURL,
			APIKey:     cfg.Index.QdrantAPIKey,
			Collection: cfg.Index.QdrantCollection,
			Timeout:    time.Duration(cfg.Index.QdrantTimeoutSecs) * time.Second,
			LocalPath:  cfg.resolveIndexPath(),
		})
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("%w: %v", ErrIndexUnavailable, err)
		}
	}
	if p.files == nil && cfg.Files.Type != "" {
		p.files, err = objstore.New(objstore.Config(cfg.Files))
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("creating file storage: %w", err)
		}
	}
	if p.source == nil && cfg.SourceAPI.BaseURL != "" {
		p.source, err = scrape.New(scrape.Config{
			BaseURL: cfg.SourceAPI.BaseURL,
			APIKey:  cfg.SourceAPI.APIKey,
			Timeout: time.Duration(cfg.SourceAPI.TimeoutSecs) * time.Second,
		})
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("creating document api client: %w", err)
		}
	}

	p.orch = rag.New(p.embedLLM, p.chatLLM, p.index, p.store, rag.Config{
		TopK:            cfg.TopK,
		MaxContextChars: cfg.MaxContextChars,
	})
	return p, nil
}

func (p *pipeline) Store() *store.Store { return p.store }

func (p *pipeline) Close() error {
	var errs []error
	if p.index != nil {
		errs = append(errs, p.index.Close())
	}
	errs = append(errs, p.store.Close())
	return errors.Join(errs...)
}

// lockSource serializes ingestion per source key: at most one concurrent
// processing run per document.
func (p *pipeline) lockSource(key string) func() {
	p.mu.Lock()
	l, ok := p.locks[key]
	if !ok {
		l = &sync.Mutex{}
		p.locks[key] = l
	}
	p.mu.Unlock()
	l.Lock()
	return l.Unlock
}

func (p *pipeline) IngestFile(ctx context.Context, path string, docType string, opts ...IngestOption) (string, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolving path: %w", err)
	}
	data, err := os.ReadFile(absPath)
	if err != nil {
		return "", fmt.Errorf("%w: reading %s: %v", ErrExtraction, path, err)
	}
	return p.IngestBytes(ctx, filepath.Base(absPath), data, docType, append([]IngestOption{WithSourceKey(absPath)}, opts...)...)
}

func (p *pipeline) IngestBytes(ctx context.Context, filename string, data []byte, docType string, opts ...IngestOption) (string, error) {
	options := &ingestOptions{}
	for _, o := range opts {
		o(options)
	}
	if options.sourceKey == "" {
		options.sourceKey = filename
	}
	if options.title == "" {
		options.title = strings.TrimSuffix(filename, filepath.Ext(filename))
	}
	if docType == "" {
		docType = "other"
	}
	if !documentTypes[docType] {
		return "", fmt.Errorf("%w: unknown document type %q", ErrValidation, docType)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("%w: empty document %s", ErrValidation, filename)
	}

	unlock := p.lockSource(options.sourceKey)
	defer unlock()

	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	// Unchanged content short-circuits re-ingestion.
	existing, err := p.store.GetDocumentBySourceKey(ctx, options.sourceKey)
	if err == nil && !options.force && existing.ContentHash == hash && existing.Status == StatusProcessed {
		return existing.ID, nil
	}

	docID := uuid.New().String()
	if existing != nil {
		docID = existing.ID
	}

	var metadataJSON string
	if options.metadata != nil {
		b, _ := json.Marshal(options.metadata)
		metadataJSON = string(b)
	}

	docID, err = p.store.UpsertDocument(ctx, store.Document{
		ID:           docID,
		SourceKey:    options.sourceKey,
		Title:        options.title,
		DocumentType: docType,
		Status:       StatusProcessing,
		ContentHash:  hash,
		Metadata:     metadataJSON,
	})
	if err != nil {
		return "", fmt.Errorf("registering document: %w", err)
	}

	if err := p.process(ctx, docID, filename, data, docType); err != nil {
		if uerr := p.store.UpdateStatus(context.WithoutCancel(ctx), docID, StatusFailed, err.Error()); uerr != nil {
			slog.Warn("marking document failed", "doc_id", docID, "error", uerr)
		}
		return docID, err
	}
	return docID, nil
}

// process runs extraction through indexing for one document already
// registered as processing.
func (p *pipeline) process(ctx context.Context, docID, filename string, data []byte, docType string) error {
	start := time.Now()

	format := extract.Sniff(data, filename)
	ex, err := p.extractors.Get(format)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
	raw, err := ex.Extract(ctx, data)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrExtraction, err)
	}

	pre := textproc.Process(raw)
	if pre.Text == "" {
		return fmt.Errorf("%w: no text content in %s", ErrValidation, filename)
	}
	slog.Info("ingest: text extracted",
		"doc_id", docID, "format", format,
		"chars", pre.CharCount, "words", pre.WordCount, "language", pre.Language)

	// Original bytes are retained when object storage is configured.
	// Losing the copy degrades re-processing, not this ingestion.
	var fileKey string
	if p.files != nil {
		fileKey, err = p.files.Upload(ctx, docID, filename, bytes.NewReader(data))
		if err != nil {
			slog.Warn("storing original file failed", "doc_id", docID, "error", err)
			fileKey = ""
		}
	}

	chunkStart := time.Now()
	chunks := p.chunkr.Split(pre.Text, docType)
	slog.Info("ingest: chunking complete",
		"doc_id", docID, "chunks", len(chunks),
		"elapsed", time.Since(chunkStart).Round(time.Millisecond))

	records, stored, err := p.embedChunks(ctx, docID, docType, chunks)
	if err != nil {
		return err
	}

	// Vector ids from the previous ingestion that this run no longer
	// produces must leave the index.
	oldIDs, err := p.store.GetChunkVectorIDs(ctx, docID)
	if err != nil {
		return fmt.Errorf("reading previous vector ids: %w", err)
	}

	indexStart := time.Now()
	if err := p.index.Upsert(ctx, records); err != nil {
		return fmt.Errorf("%w: %v", ErrIndexUnavailable, err)
	}
	slog.Info("ingest: vectors indexed",
		"doc_id", docID, "vectors", len(records),
		"elapsed", time.Since(indexStart).Round(time.Millisecond))

	if err := p.store.ReplaceChunks(ctx, docID, stored); err != nil {
		return fmt.Errorf("replacing chunks: %w", err)
	}

	if stale := staleIDs(oldIDs, records); len(stale) > 0 {
		if err := p.index.Delete(context.WithoutCancel(ctx), stale); err != nil {
			slog.Warn("deleting stale vectors failed", "doc_id", docID, "stale", len(stale), "error", err)
		}
	}

	if err := p.store.MarkProcessed(ctx, docID, pre.Text, pre.Language, fileKey, pre.WordCount, pre.CharCount); err != nil {
		return fmt.Errorf("finalizing document: %w", err)
	}

	slog.Info("ingest: document processed",
		"doc_id", docID, "chunks", len(chunks),
		"total_elapsed", time.Since(start).Round(time.Millisecond))
	return nil
}

// embedChunks turns chunker output into index records and store rows,
// batching embedding calls and truncating oversized texts.
func (p *pipeline) embedChunks(ctx context.Context, docID, docType string, chunks []chunker.Chunk) ([]vecindex.Record, []store.Chunk, error) {
	records := make([]vecindex.Record, 0, len(chunks))
	stored := make([]store.Chunk, 0, len(chunks))

	for i := 0; i < len(chunks); i += p.cfg.EmbedBatchSize {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		end := i + p.cfg.EmbedBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}

		texts := make([]string, end-i)
		truncated := make([]bool, end-i)
		for j := i; j < end; j++ {
			text := chunks[j].Content
			if chunks[j].Label != "" {
				text = chunks[j].Label + ": " + text
			}
			if len(text) > p.cfg.MaxEmbedChars {
				cut := p.cfg.MaxEmbedChars
				for cut > 0 && !utf8.RuneStart(text[cut]) {
					cut--
				}
				text = text[:cut]
				truncated[j-i] = true
			}
			texts[j-i] = text
		}

		embeddings, err := p.embedLLM.Embed(ctx, texts)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrEmbeddingService, err)
		}
		if len(embeddings) != len(texts) {
			return nil, nil, fmt.Errorf("%w: got %d embeddings for %d texts", ErrEmbeddingService, len(embeddings), len(texts))
		}

		for j := i; j < end; j++ {
			vectorID := fmt.Sprintf("%s_chunk_%d", docID, chunks[j].Index)
			records = append(records, vecindex.Record{
				ID:        vectorID,
				Embedding: embeddings[j-i],
				Meta: vecindex.Metadata{
					DocumentID:   docID,
					ChunkIndex:   chunks[j].Index,
					DocumentType: docType,
				},
			})
			stored = append(stored, store.Chunk{
				DocumentID:  docID,
				SeqIndex:    chunks[j].Index,
				Label:       chunks[j].Label,
				Content:     chunks[j].Content,
				StartOffset: chunks[j].Start,
				EndOffset:   chunks[j].End,
				VectorID:    vectorID,
				Truncated:   truncated[j-i],
			})
		}
	}
	return records, stored, nil
}

// staleIDs returns previous vector ids absent from the new record set.
func staleIDs(old []string, records []vecindex.Record) []string {
	live := make(map[string]bool, len(records))
	for _, r := range records {
		live[r.ID] = true
	}
	var stale []string
	for _, id := range old {
		if !live[id] {
			stale = append(stale, id)
		}
	}
	return stale
}

// supportedExtensions lists file extensions picked up by directory
// ingestion.
var supportedExtensions = map[string]bool{
	".pdf": true, ".txt": true, ".md": true, ".docx": true,
	".html": true, ".htm": true, ".rtf": true, ".json": true, ".xlsx": true,
}

func (p *pipeline) IngestDirectory(ctx context.Context, dir string, docType string) ([]Outcome, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && supportedExtensions[strings.ToLower(filepath.Ext(path))] {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", dir, err)
	}

	outcomes := make([]Outcome, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.IngestWorkers)
	for i, path := range paths {
		g.Go(func() error {
			outcomes[i] = p.ingestOne(gctx, path, docType)
			return nil
		})
	}
	g.Wait()
	return outcomes, nil
}

// ingestOne runs a single batch item under the per-document timeout and
// converts the result into an Outcome. Failures stay in the outcome;
// they never abort the batch.
func (p *pipeline) ingestOne(ctx context.Context, path, docType string) Outcome {
	docCtx := ctx
	if p.cfg.DocTimeoutSecs > 0 {
		var cancel context.CancelFunc
		docCtx, cancel = context.WithTimeout(ctx, time.Duration(p.cfg.DocTimeoutSecs)*time.Second)
		defer cancel()
	}

	id, err := p.IngestFile(docCtx, path, docType)
	if err != nil {
		slog.Warn("ingest: document failed", "source", path, "error", err)
		return Outcome{ID: id, Source: path, Status: StatusFailed, Error: err.Error()}
	}
	return Outcome{ID: id, Source: path, Status: StatusProcessed}
}

func (p *pipeline) IngestAPI(ctx context.Context, docType, fromDate string, limit int) ([]Outcome, error) {
	if p.source == nil {
		return nil, fmt.Errorf("%w: document api not configured", ErrInvalidConfig)
	}

	docs, err := p.source.FetchDocuments(ctx, docType, fromDate, limit)
	if err != nil {
		return nil, fmt.Errorf("fetching documents: %w", err)
	}

	outcomes := make([]Outcome, len(docs))
	ids := make([]string, len(docs)) // api id -> ingested id, by position
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.IngestWorkers)
	for i, doc := range docs {
		g.Go(func() error {
			docCtx := gctx
			if p.cfg.DocTimeoutSecs > 0 {
				var cancel context.CancelFunc
				docCtx, cancel = context.WithTimeout(gctx, time.Duration(p.cfg.DocTimeoutSecs)*time.Second)
				defer cancel()
			}
			typ := doc.Type
			if typ == "" {
				typ = docType
			}
			sourceKey := "api:" + doc.ID
			id, err := p.IngestBytes(docCtx, doc.ID+".txt", []byte(doc.Content), typ,
				WithSourceKey(sourceKey), WithTitle(doc.Title))
			if err != nil {
				slog.Warn("ingest: api document failed", "api_id", doc.ID, "error", err)
				outcomes[i] = Outcome{ID: id, Source: sourceKey, Status: StatusFailed, Error: err.Error()}
				return nil
			}
			ids[i] = id
			outcomes[i] = Outcome{ID: id, Source: sourceKey, Status: StatusProcessed}
			return nil
		})
	}
	g.Wait()

	p.applyAPIRelationships(ctx, docs, ids)
	return outcomes, nil
}

func (p *pipeline) IngestAPIDocument(ctx context.Context, apiID string) (string, error) {
	if p.source == nil {
		return "", fmt.Errorf("%w: document api not configured", ErrInvalidConfig)
	}

	doc, err := p.source.FetchDocument(ctx, apiID)
	if err != nil {
		return "", fmt.Errorf("fetching document %s: %w", apiID, err)
	}
	typ := doc.Type
	if typ == "" {
		typ = "other"
	}
	id, err := p.IngestBytes(ctx, doc.ID+".txt", []byte(doc.Content), typ,
		WithSourceKey("api:"+doc.ID), WithTitle(doc.Title))
	if err != nil {
		return id, err
	}
	p.applyAPIRelationships(ctx, []scrape.Document{*doc}, []string{id})
	return id, nil
}

// applyAPIRelationships records the version links a fetched batch
// declares, as summarized by scrape.AnalyzeRelationships. Links from
// documents that failed ingestion, or to documents never ingested, are
// skipped with a log line rather than failing the batch.
func (p *pipeline) applyAPIRelationships(ctx context.Context, docs []scrape.Document, ids []string) {
	// API id -> pipeline id, for the batch entries that made it in.
	ingested := make(map[string]string, len(docs))
	for i, doc := range docs {
		if ids[i] != "" {
			ingested[doc.ID] = ids[i]
		}
	}
	byAPIID := func(apiID string) string {
		doc, err := p.store.GetDocumentBySourceKey(ctx, "api:"+apiID)
		if err != nil {
			return ""
		}
		return doc.ID
	}

	rel := scrape.AnalyzeRelationships(docs)

	// Replacement and abolition both supersede the affected document.
	for _, link := range append(rel.Replaced, rel.Abolished...) {
		newID, ok := ingested[link.By]
		if !ok {
			continue
		}
		oldID := byAPIID(link.ID)
		if oldID == "" {
			slog.Info("ingest: version link target unknown", "api_id", link.ID, "by", link.By)
			continue
		}
		if err := p.RecordSupersession(ctx, oldID, newID); err != nil {
			slog.Warn("ingest: recording supersession failed",
				"old", oldID, "new", newID, "error", err)
		}
	}
	for _, link := range rel.Updated {
		newID, ok := ingested[link.By]
		if !ok {
			continue
		}
		updID := byAPIID(link.ID)
		if updID == "" {
			continue
		}
		if err := p.store.AddRelationship(ctx, newID, "updates", updID); err != nil {
			slog.Warn("ingest: recording update edge failed",
				"source", newID, "target", updID, "error", err)
		}
	}
	if len(rel.New) > 0 {
		slog.Info("ingest: batch contains new documents", "count", len(rel.New))
	}
}

func (p *pipeline) Search(ctx context.Context, query, docType string, limit int) ([]SearchResult, error) {
	results, err := p.orch.Search(ctx, query, docType, limit)
	return results, p.mapRAGError(err)
}

func (p *pipeline) Ask(ctx context.Context, question, docType string) (*Answer, error) {
	answer, err := p.orch.Ask(ctx, question, docType)
	if err != nil {
		return nil, p.mapRAGError(err)
	}
	// The grounded no-match answer is still returned alongside the
	// sentinel, so callers can surface it verbatim.
	if answer.NoSources {
		return answer, ErrNoSources
	}
	return answer, nil
}

func (p *pipeline) mapRAGError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, rag.ErrEmbedding):
		return fmt.Errorf("%w: %v", ErrEmbeddingService, err)
	case errors.Is(err, rag.ErrIndex):
		return fmt.Errorf("%w: %v", ErrIndexUnavailable, err)
	case errors.Is(err, rag.ErrGeneration):
		return fmt.Errorf("%w: %v", ErrGenerationService, err)
	default:
		return err
	}
}

func (p *pipeline) RecordSupersession(ctx context.Context, oldID, newID string) error {
	if err := p.store.RecordSupersession(ctx, oldID, newID); err != nil {
		switch {
		case errors.Is(err, store.ErrCycle):
			return fmt.Errorf("%w: %v", ErrRelationshipCycle, err)
		case errors.Is(err, store.ErrNotFound):
			return fmt.Errorf("%w: %v", ErrDocumentNotFound, err)
		default:
			return err
		}
	}
	// The index mirrors the abolition flag so default-filtered searches
	// exclude the superseded document without a store round-trip.
	if err := p.index.SetAbolished(ctx, oldID, true); err != nil {
		return fmt.Errorf("%w: updating abolition flag: %v", ErrIndexUnavailable, err)
	}
	return nil
}

func (p *pipeline) AbolishDocument(ctx context.Context, id string) error {
	if err := p.store.SetAbolished(ctx, id, true); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrDocumentNotFound, id)
		}
		return err
	}
	if err := p.index.SetAbolished(ctx, id, true); err != nil {
		return fmt.Errorf("%w: updating abolition flag: %v", ErrIndexUnavailable, err)
	}
	return nil
}

func (p *pipeline) ResolveCurrent(ctx context.Context, id string) (*Document, error) {
	doc, err := p.store.ResolveCurrent(ctx, id)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrCycle):
			return nil, fmt.Errorf("%w: %v", ErrRelationshipCycle, err)
		case errors.Is(err, store.ErrNotFound):
			return nil, fmt.Errorf("%w: %s", ErrDocumentNotFound, id)
		default:
			return nil, err
		}
	}
	return toDocument(doc), nil
}

func (p *pipeline) GetDocument(ctx context.Context, id string) (*Document, error) {
	doc, err := p.store.GetDocument(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrDocumentNotFound, id)
		}
		return nil, err
	}
	return toDocument(doc), nil
}

func (p *pipeline) ListDocuments(ctx context.Context) ([]Document, error) {
	docs, err := p.store.ListDocuments(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Document, len(docs))
	for i := range docs {
		out[i] = *toDocument(&docs[i])
	}
	return out, nil
}

func toDocument(d *store.Document) *Document {
	return &Document{
		ID:               d.ID,
		SourceKey:        d.SourceKey,
		Title:            d.Title,
		DocumentType:     d.DocumentType,
		Language:         d.Language,
		Status:           d.Status,
		Error:            d.Error,
		IsAbolished:      d.IsAbolished,
		IsUpdated:        d.IsUpdated,
		ParentDocumentID: d.ParentDocumentID,
		FileKey:          d.FileKey,
		CreatedAt:        d.CreatedAt,
		UpdatedAt:        d.UpdatedAt,
	}
}
