package elastic

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	es8 "github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esutil"
)

type Config struct {
	URL      string
	Username string
	Password string
	Index    string
}

type Client struct {
	es    *es8.Client
	index string
}

func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("elasticsearch URL is required")
	}
	index := cfg.Index
	if strings.TrimSpace(index) == "" {
		index = "ggufprep_runs"
	}

	es, err := es8.NewClient(es8.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create elasticsearch client: %w", err)
	}

	// Lightweight ping
	res, err := es.Info()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to elasticsearch: %w", err)
	}
	res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("elasticsearch responded with %s", res.Status())
	}

	return &Client{es: es, index: index}, nil
}

// DocumentID extracts the run_id of a ledger line so re-indexing the same
// ledger replaces documents instead of duplicating them.
func DocumentID(line string) string {
	var doc struct {
		RunID string `json:"run_id"`
	}
	if err := json.Unmarshal([]byte(line), &doc); err != nil {
		return ""
	}
	return doc.RunID
}

// IndexJSONLinesFile bulk-indexes every line of filename and returns the
// number of documents that failed.
func (c *Client) IndexJSONLinesFile(ctx context.Context, filename string) (int64, error) {
	f, err := os.Open(filename)
	if err != nil {
		return 0, fmt.Errorf("failed to open jsonl file: %w", err)
	}
	defer f.Close()

	bi, err := esutil.NewBulkIndexer(esutil.BulkIndexerConfig{
		Client:     c.es,
		Index:      c.index,
		NumWorkers: 4,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to create bulk indexer: %w", err)
	}

	var failed int64

	scanner := bufio.NewScanner(f)
	buf := make([]byte, 0, 1024*1024)
	scanner.Buffer(buf, 8*1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		item := esutil.BulkIndexerItem{
			Action:     "index",
			DocumentID: DocumentID(line),
			Body:       strings.NewReader(line),
			OnFailure: func(ctx context.Context, item esutil.BulkIndexerItem, resp esutil.BulkIndexerResponseItem, err error) {
				atomic.AddInt64(&failed, 1)
			},
		}
		if err := bi.Add(ctx, item); err != nil {
			return failed, fmt.Errorf("bulk add failed: %w", err)
		}
	}
	if err := scanner.Err(); err != nil {
		return failed, fmt.Errorf("scanner error: %w", err)
	}

	if err := bi.Close(ctx); err != nil {
		return failed, fmt.Errorf("bulk indexer close failed: %w", err)
	}

	return atomic.LoadInt64(&failed), nil
}
