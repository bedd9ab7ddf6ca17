package vecindex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Qdrant is a minimal REST client to a hosted Qdrant collection. It
// assumes cosine distance and creates the collection if missing.
//
// Qdrant point ids must be UUIDs or unsigned integers, so each record id
// is mapped to a deterministic name-based UUID; the original id travels
// in the payload and comes back on search hits.
type Qdrant struct {
	url        string
	apiKey     string
	collection string
	dimension  int
	client     *http.Client
}

// NewQdrant connects to the collection and ensures it exists with the
// configured dimension.
func NewQdrant(cfg Config) (*Qdrant, error) {
	if cfg.QdrantURL == "" {
		return nil, fmt.Errorf("qdrant url not configured")
	}
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("invalid embedding dimension %d", cfg.Dimension)
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	q := &Qdrant{
		url:        cfg.QdrantURL,
		apiKey:     cfg.APIKey,
		collection: cfg.Collection,
		dimension:  cfg.Dimension,
		client:     &http.Client{Timeout: timeout},
	}
	if q.collection == "" {
		q.collection = "legal_documents"
	}

	// Qdrant returns 200 if the collection already exists with the same
	// schema, so this is safe to run on every startup.
	body := map[string]any{
		"vectors": map[string]any{
			"size":     cfg.Dimension,
			"distance": "Cosine",
		},
	}
	if err := q.putJSON(context.Background(), fmt.Sprintf("%s/collections/%s", q.url, q.collection), body); err != nil {
		return nil, err
	}
	return q, nil
}

// pointID maps a record id to the deterministic UUID Qdrant requires.
func pointID(id string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(id)).String()
}

func (q *Qdrant) Upsert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	points := make([]map[string]any, len(records))
	for i, r := range records {
		points[i] = map[string]any{
			"id":     pointID(r.ID),
			"vector": r.Embedding,
			"payload": map[string]any{
				"vector_id":     r.ID,
				"document_id":   r.Meta.DocumentID,
				"chunk_index":   r.Meta.ChunkIndex,
				"document_type": r.Meta.DocumentType,
				"is_abolished":  r.Meta.IsAbolished,
			},
		}
	}
	body := map[string]any{"points": points}
	return q.putJSON(ctx, fmt.Sprintf("%s/collections/%s/points?wait=true", q.url, q.collection), body)
}

func (q *Qdrant) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	points := make([]string, len(ids))
	for i, id := range ids {
		points[i] = pointID(id)
	}
	body := map[string]any{"points": points}
	return q.postJSON(ctx, fmt.Sprintf("%s/collections/%s/points/delete?wait=true", q.url, q.collection), body, nil)
}

func (q *Qdrant) Search(ctx context.Context, embedding []float32, k int, f Filter) ([]Match, error) {
	if k <= 0 {
		k = 5
	}
	req := map[string]any{
		"vector":       embedding,
		"limit":        k,
		"with_payload": true,
	}
	if flt := qdrantFilter(f); flt != nil {
		req["filter"] = flt
	}

	var resp struct {
		Result []struct {
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	if err := q.postJSON(ctx, fmt.Sprintf("%s/collections/%s/points/search", q.url, q.collection), req, &resp); err != nil {
		return nil, err
	}

	matches := make([]Match, 0, len(resp.Result))
	for _, r := range resp.Result {
		m := Match{Score: r.Score}
		if v, ok := r.Payload["vector_id"].(string); ok {
			m.ID = v
		}
		if v, ok := r.Payload["document_id"].(string); ok {
			m.Meta.DocumentID = v
		}
		if v, ok := r.Payload["chunk_index"].(float64); ok {
			m.Meta.ChunkIndex = int(v)
		}
		if v, ok := r.Payload["document_type"].(string); ok {
			m.Meta.DocumentType = v
		}
		if v, ok := r.Payload["is_abolished"].(bool); ok {
			m.Meta.IsAbolished = v
		}
		// The server filter already admits points with missing metadata;
		// this re-check keeps both backends on identical semantics.
		if !f.allowed(m.Meta) {
			continue
		}
		matches = append(matches, m)
	}
	sortMatches(matches)
	return matches, nil
}

// qdrantFilter builds the server-side filter clause, nil when the filter
// matches everything. Points written before the payload carried the
// metadata fields must not be dropped by the server: a must+match clause
// requires the key to exist, so abolition is expressed as
// must_not is_abolished=true (an absent field passes) and the type match
// accepts points with no document_type via an is_empty disjunction.
func qdrantFilter(f Filter) map[string]any {
	flt := map[string]any{}
	if f.DocumentType != "" {
		flt["must"] = []map[string]any{
			{"should": []map[string]any{
				{"key": "document_type", "match": map[string]any{"value": f.DocumentType}},
				{"is_empty": map[string]any{"key": "document_type"}},
			}},
		}
	}
	if !f.IncludeAbolished {
		flt["must_not"] = []map[string]any{
			{"key": "is_abolished", "match": map[string]any{"value": true}},
		}
	}
	if len(flt) == 0 {
		return nil
	}
	return flt
}

func (q *Qdrant) SetAbolished(ctx context.Context, documentID string, abolished bool) error {
	body := map[string]any{
		"payload": map[string]any{"is_abolished": abolished},
		"filter": map[string]any{
			"must": []map[string]any{
				{"key": "document_id", "match": map[string]any{"value": documentID}},
			},
		},
	}
	return q.postJSON(ctx, fmt.Sprintf("%s/collections/%s/points/payload?wait=true", q.url, q.collection), body, nil)
}

func (q *Qdrant) Close() error { return nil }

func (q *Qdrant) putJSON(ctx context.Context, url string, body any) error {
	return q.do(ctx, http.MethodPut, url, body, nil)
}

func (q *Qdrant) postJSON(ctx context.Context, url string, body any, out any) error {
	return q.do(ctx, http.MethodPost, url, body, out)
}

func (q *Qdrant) do(ctx context.Context, method, url string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if q.apiKey != "" {
		req.Header.Set("api-key", q.apiKey)
	}
	resp, err := q.client.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant %s %s: %w", method, url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("qdrant %s %s failed: %s", method, url, resp.Status)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
