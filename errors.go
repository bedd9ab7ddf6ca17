package legalrag

import "errors"

var (
	// ErrExtraction is returned when text cannot be extracted from a source.
	// Bad or unsupported input: reported, never retried.
	ErrExtraction = errors.New("legalrag: text extraction failed")

	// ErrUnsupportedFormat is returned for file formats with no extractor.
	ErrUnsupportedFormat = errors.New("legalrag: unsupported document format")

	// ErrEmbeddingService is returned when the embedding service fails after
	// exhausting retries. Aborts ingestion of the affected document only.
	ErrEmbeddingService = errors.New("legalrag: embedding service failed")

	// ErrGenerationService is returned when the text-generation service fails
	// after exhausting retries.
	ErrGenerationService = errors.New("legalrag: generation service failed")

	// ErrIndexUnavailable is returned when the vector index backend cannot be
	// reached. The backend choice is fixed per process lifetime; callers must
	// not assume a fallback index is substituted mid-session.
	ErrIndexUnavailable = errors.New("legalrag: vector index unavailable")

	// ErrRelationshipCycle is returned when the supersession graph contains a
	// cycle. Data-integrity error: fatal for the affected lineage.
	ErrRelationshipCycle = errors.New("legalrag: relationship cycle detected")

	// ErrValidation is returned for malformed document or chunk data.
	ErrValidation = errors.New("legalrag: document validation failed")

	// ErrDocumentNotFound is returned when a document id does not exist.
	ErrDocumentNotFound = errors.New("legalrag: document not found")

	// ErrNoSources is returned when a question retrieves zero candidate
	// chunks. Generation is not invoked in that case.
	ErrNoSources = errors.New("legalrag: no relevant sources found")

	// ErrInvalidConfig is returned for invalid configuration values.
	ErrInvalidConfig = errors.New("legalrag: invalid configuration")
)
