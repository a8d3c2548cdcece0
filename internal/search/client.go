package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"go.uber.org/zap"

	"github.com/ppiankov/evalagent/internal/model"
)

// Client projects content documents into an Elasticsearch index so the
// dashboard search reflects applied fixes.
type Client struct {
	es    *elasticsearch.Client
	index string
	log   *zap.Logger
}

// indexedDocument is the shape stored in the index
type indexedDocument struct {
	ID              string    `json:"id"`
	Kind            string    `json:"kind"`
	Title           string    `json:"title"`
	Text            string    `json:"text"`
	Summary         string    `json:"summary,omitempty"`
	SourceInsightID string    `json:"source_insight_id,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// New instantiates the Elasticsearch client.
func New(addr, index string, log *zap.Logger) (*Client, error) {
	if strings.TrimSpace(addr) == "" {
		return nil, fmt.Errorf("elasticsearch address is required")
	}
	if index == "" {
		index = "evalagent-documents"
	}

	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{addr},
	})
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}

	if log == nil {
		log = zap.NewNop()
	}

	return &Client{es: es, index: index, log: log}, nil
}

// Index returns the index name documents are written to
func (c *Client) Index() string {
	return c.index
}

// Ping checks if Elasticsearch is available.
func (c *Client) Ping(ctx context.Context) error {
	res, err := c.es.Ping(c.es.Ping.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("ping elasticsearch: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.IsError() {
		return fmt.Errorf("elasticsearch ping failed: %s", res.Status())
	}
	return nil
}

// IndexDocument writes or replaces doc in the index.
func (c *Client) IndexDocument(ctx context.Context, doc model.Document) error {
	payload, err := json.Marshal(indexedDocument{
		ID:              doc.ID,
		Kind:            string(doc.Kind),
		Title:           doc.Title,
		Text:            doc.Content,
		Summary:         doc.Summary,
		SourceInsightID: doc.SourceInsightID,
		Timestamp:       doc.UpdatedAt.UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal doc: %w", err)
	}

	req := esapi.IndexRequest{
		Index:      c.index,
		DocumentID: doc.ID,
		Body:       bytes.NewReader(payload),
		Refresh:    "false",
	}

	res, err := req.Do(ctx, c.es)
	if err != nil {
		return fmt.Errorf("index doc: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		return fmt.Errorf("index doc failed: %s", strings.TrimSpace(string(body)))
	}

	c.log.Debug("indexed document", zap.String("index", c.index), zap.String("id", doc.ID))
	return nil
}
