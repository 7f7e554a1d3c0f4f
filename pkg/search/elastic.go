package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
)

type ElasticConfig struct {
	Host     string
	Username string
	Password string
}

// ElasticClient implements Client on the official Elasticsearch client.
type ElasticClient struct {
	es   *elasticsearch.Client
	host string
}

func NewElasticClient(cfg ElasticConfig) (*ElasticClient, error) {
	host := cfg.Host
	if !strings.HasPrefix(host, "http://") && !strings.HasPrefix(host, "https://") {
		host = "http://" + host
	}

	esCfg := elasticsearch.Config{Addresses: []string{host}}
	if cfg.Username != "" && cfg.Password != "" {
		esCfg.Username = cfg.Username
		esCfg.Password = cfg.Password
	}

	es, err := elasticsearch.NewClient(esCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create elasticsearch client: %w", err)
	}
	return &ElasticClient{es: es, host: host}, nil
}

func (c *ElasticClient) Host() string { return c.host }

func (c *ElasticClient) Search(ctx context.Context, index string, req *Request) (*Response, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(req); err != nil {
		return nil, fmt.Errorf("encode search body: %w", err)
	}

	res, err := c.es.Search(
		c.es.Search.WithContext(ctx),
		c.es.Search.WithIndex(index),
		c.es.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, &TransportError{Index: index, Err: err}
	}
	defer res.Body.Close()

	if res.IsError() {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, &TransportError{Index: index, Status: res.StatusCode, Reason: string(body)}
	}

	resp, err := DecodeResponse(res.Body)
	if err != nil {
		return nil, &TransportError{Index: index, Status: res.StatusCode, Err: err}
	}
	return resp, nil
}

// Ping checks the cluster is reachable.
func (c *ElasticClient) Ping(ctx context.Context) error {
	res, err := c.es.Ping(c.es.Ping.WithContext(ctx))
	if err != nil {
		return &TransportError{Err: err}
	}
	defer res.Body.Close()
	if res.IsError() {
		return &TransportError{Status: res.StatusCode, Reason: res.Status()}
	}
	return nil
}
