package opensearch

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/opensearch-project/opensearch-go/v4"
	"github.com/opensearch-project/opensearch-go/v4/opensearchapi"

	"github.com/kailas-cloud/docarray/internal/storage"
)

// Client is the slice of the OpenSearch API the backend drives.
type Client interface {
	IndexExists(ctx context.Context, index string) (bool, error)
	CreateIndex(ctx context.Context, index string, body []byte) error
	DeleteIndex(ctx context.Context, index string) error
	// Bulk sends an NDJSON body to index and refreshes it. One item per action.
	Bulk(ctx context.Context, index string, body []byte) ([]BulkItem, error)
	Search(ctx context.Context, index string, body []byte) ([]Hit, error)
	// MGet fetches documents by id. Missing ids are left out of the result.
	MGet(ctx context.Context, index string, ids []string) ([]Hit, error)
	DocExists(ctx context.Context, index, id string) (bool, error)
	DeleteAll(ctx context.Context, index string) error
	Refresh(ctx context.Context, indices ...string) error
}

// BulkItem is the outcome of one bulk action.
type BulkItem struct {
	ID     string
	Status int
	Error  string
}

// Hit is one search hit.
type Hit struct {
	ID     string
	Source json.RawMessage
}

type apiClient struct {
	client *opensearchapi.Client
}

var _ Client = (*apiClient)(nil)

// NewClient builds an opensearchapi client from cfg.
func NewClient(cfg *storage.Config) (Client, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if cfg.InsecureTLS {
		tlsCfg.InsecureSkipVerify = true //nolint:gosec // opt-in for self-signed dev clusters
	}
	if cfg.CACerts != "" {
		pem, err := os.ReadFile(cfg.CACerts)
		if err != nil {
			return nil, fmt.Errorf("read ca_certs: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("ca_certs %s: no certificates found", cfg.CACerts)
		}
		tlsCfg.RootCAs = pool
	}
	transport.TLSClientConfig = tlsCfg

	osCfg := opensearch.Config{
		Addresses: []string{cfg.URL()},
		Transport: transport,
	}
	if cfg.Credentials != nil {
		osCfg.Username = cfg.Credentials.Username
		osCfg.Password = cfg.Credentials.Password
	}
	client, err := opensearchapi.NewClient(opensearchapi.Config{Client: osCfg})
	if err != nil {
		return nil, fmt.Errorf("create opensearch client: %w", err)
	}
	return &apiClient{client: client}, nil
}

func (c *apiClient) IndexExists(ctx context.Context, index string) (bool, error) {
	resp, err := c.client.Indices.Exists(ctx, opensearchapi.IndicesExistsReq{Indices: []string{index}})
	if resp != nil && resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("index exists %s: %w", index, err)
	}
	return true, nil
}

func (c *apiClient) CreateIndex(ctx context.Context, index string, body []byte) error {
	_, err := c.client.Indices.Create(ctx, opensearchapi.IndicesCreateReq{
		Index: index,
		Body:  bytes.NewReader(body),
	})
	if err != nil {
		return fmt.Errorf("create index %s: %w", index, err)
	}
	return nil
}

func (c *apiClient) DeleteIndex(ctx context.Context, index string) error {
	_, err := c.client.Indices.Delete(ctx, opensearchapi.IndicesDeleteReq{Indices: []string{index}})
	if err != nil {
		return fmt.Errorf("delete index %s: %w", index, err)
	}
	return nil
}

func (c *apiClient) Bulk(ctx context.Context, index string, body []byte) ([]BulkItem, error) {
	resp, err := c.client.Bulk(ctx, opensearchapi.BulkReq{
		Index:  index,
		Body:   bytes.NewReader(body),
		Params: opensearchapi.BulkParams{Refresh: "true"},
	})
	if err != nil {
		return nil, fmt.Errorf("bulk %s: %w", index, err)
	}
	items := make([]BulkItem, 0, len(resp.Items))
	for _, entry := range resp.Items {
		for _, it := range entry {
			item := BulkItem{ID: it.ID, Status: it.Status}
			if it.Error != nil {
				item.Error = it.Error.Type + ": " + it.Error.Reason
			}
			items = append(items, item)
		}
	}
	return items, nil
}

func (c *apiClient) Search(ctx context.Context, index string, body []byte) ([]Hit, error) {
	resp, err := c.client.Search(ctx, &opensearchapi.SearchReq{
		Indices: []string{index},
		Body:    bytes.NewReader(body),
	})
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", index, err)
	}
	hits := make([]Hit, len(resp.Hits.Hits))
	for i, h := range resp.Hits.Hits {
		hits[i] = Hit{ID: h.ID, Source: h.Source}
	}
	return hits, nil
}

func (c *apiClient) MGet(ctx context.Context, index string, ids []string) ([]Hit, error) {
	body, err := json.Marshal(map[string]any{"ids": ids})
	if err != nil {
		return nil, fmt.Errorf("mget %s: %w", index, err)
	}
	resp, err := c.client.MGet(ctx, opensearchapi.MGetReq{Index: index, Body: bytes.NewReader(body)})
	if err != nil {
		return nil, fmt.Errorf("mget %s: %w", index, err)
	}
	hits := make([]Hit, 0, len(resp.Docs))
	for _, d := range resp.Docs {
		if d.Found {
			hits = append(hits, Hit{ID: d.ID, Source: d.Source})
		}
	}
	return hits, nil
}

func (c *apiClient) DocExists(ctx context.Context, index, id string) (bool, error) {
	resp, err := c.client.Document.Exists(ctx, opensearchapi.DocumentExistsReq{Index: index, DocumentID: id})
	if resp != nil && resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("doc exists %s/%s: %w", index, id, err)
	}
	return true, nil
}

func (c *apiClient) DeleteAll(ctx context.Context, index string) error {
	_, err := c.client.Document.DeleteByQuery(ctx, opensearchapi.DocumentDeleteByQueryReq{
		Indices: []string{index},
		Body:    bytes.NewReader([]byte(`{"query":{"match_all":{}}}`)),
		Params:  opensearchapi.DocumentDeleteByQueryParams{Refresh: opensearchapi.ToPointer(true)},
	})
	if err != nil {
		return fmt.Errorf("delete by query %s: %w", index, err)
	}
	return nil
}

func (c *apiClient) Refresh(ctx context.Context, indices ...string) error {
	if _, err := c.client.Indices.Refresh(ctx, &opensearchapi.IndicesRefreshReq{Indices: indices}); err != nil {
		return fmt.Errorf("refresh: %w", err)
	}
	return nil
}
