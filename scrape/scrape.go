// Package scrape fetches legal documents from an external document API
// for batch ingestion. The API serves JSON documents with optional
// version links (abolishes, updates, replaces) which the caller turns
// into relationship records after ingesting.
package scrape

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Document is one entry from the external API.
type Document struct {
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	Type      string   `json:"type"`
	Content   string   `json:"content"`
	Date      string   `json:"date,omitempty"`
	Abolishes []string `json:"abolishes,omitempty"`
	Updates   []string `json:"updates,omitempty"`
	Replaces  []string `json:"replaces,omitempty"`
}

// Client talks to the external legal document API.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// Config configures the API client.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// New creates an API client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("document api url not configured")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

// FetchDocument retrieves a single document by its API id.
func (c *Client) FetchDocument(ctx context.Context, id string) (*Document, error) {
	var doc Document
	if err := c.getJSON(ctx, c.baseURL+"/documents/"+url.PathEscape(id), &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// FetchDocuments retrieves a batch of documents, optionally filtered by
// type and publication date (ISO format). limit caps the batch size;
// zero means the API default of 100.
func (c *Client) FetchDocuments(ctx context.Context, docType, fromDate string, limit int) ([]Document, error) {
	if limit <= 0 {
		limit = 100
	}
	params := url.Values{}
	params.Set("limit", strconv.Itoa(limit))
	if docType != "" {
		params.Set("type", docType)
	}
	if fromDate != "" {
		params.Set("from_date", fromDate)
	}

	var docs []Document
	if err := c.getJSON(ctx, c.baseURL+"/documents?"+params.Encode(), &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

func (c *Client) getJSON(ctx context.Context, u string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("document api request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("document api returned %d for %s", resp.StatusCode, u)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding document api response: %w", err)
	}
	return nil
}

// Relationships summarizes the version links in a batch of documents:
// which existing documents the batch replaces, abolishes, or updates,
// and which entries are brand new (replace nothing).
type Relationships struct {
	Replaced  []Link   `json:"replaced"`
	Abolished []Link   `json:"abolished"`
	Updated   []Link   `json:"updated"`
	New       []string `json:"new"`
}

// Link points from an affected document to the one affecting it.
type Link struct {
	ID string `json:"id"`
	By string `json:"by"`
}

// AnalyzeRelationships extracts the version links declared in a batch.
func AnalyzeRelationships(docs []Document) Relationships {
	var rel Relationships
	for _, doc := range docs {
		for _, id := range doc.Replaces {
			rel.Replaced = append(rel.Replaced, Link{ID: id, By: doc.ID})
		}
		for _, id := range doc.Abolishes {
			rel.Abolished = append(rel.Abolished, Link{ID: id, By: doc.ID})
		}
		for _, id := range doc.Updates {
			rel.Updated = append(rel.Updated, Link{ID: id, By: doc.ID})
		}
		if len(doc.Replaces) == 0 {
			rel.New = append(rel.New, doc.ID)
		}
	}
	return rel
}
