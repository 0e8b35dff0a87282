// Package bitmagnet implements the GraphQL keyword-search client for a
// bitmagnet instance. Deployed schema versions differ, so the client probes
// a list of query variants until one succeeds.
package bitmagnet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hermesindex/hermes/internal/httpx"
)

// DefaultLimitCap bounds the per-request result window.
const DefaultLimitCap = 100

const torrentContentSearchQuery = `
query SearchTorrentContent($input: TorrentContentSearchQueryInput!) {
  torrentContent {
    search(input: $input) {
      totalCount
      hasNextPage
      items {
        infoHash
        title
        seeders
        leechers
        publishedAt
        contentType
        contentSource
        contentId
        torrent {
          infoHash
          name
          size
          filesCount
          seeders
          leechers
        }
        content {
          type
          title
          releaseYear
          collections { name type }
          attributes { key value }
        }
      }
    }
  }
}`

const torrentsEdgeQuery = `
query SearchTorrents($query: String!, $limit: Int!) {
  torrents(query: { %s: $query }, limit: $limit) {
    totalCount
    edges {
      node {
        infoHash
        name
        size
        filesCount
        seeders
        leechers
        publishedAt
        content {
          type
          title
          releaseYear
          collections { name type }
          attributes { key value }
        }
      }
    }
  }
}`

// SearchResult carries the extracted nodes plus pagination metadata. Node
// shape varies by schema variant, so rows stay generic maps.
type SearchResult struct {
	Nodes       []map[string]any
	TotalCount  *int
	HasNextPage *bool
}

// Client is the GraphQL client.
type Client struct {
	endpoint string
	limitCap int
	http     *httpx.Client
	logger   *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithLimitCap caps the per-request limit.
func WithLimitCap(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.limitCap = n
		}
	}
}

// WithLogger sets the variant-probe logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithHTTPClient overrides the underlying retrying client.
func WithHTTPClient(h *httpx.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

// NewClient creates a client for the GraphQL endpoint.
func NewClient(endpoint string, timeout time.Duration, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	c := &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		limitCap: DefaultLimitCap,
		http:     httpx.NewClient(&http.Client{Timeout: timeout}),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type variant struct {
	label     string
	query     string
	variables map[string]any
}

// SearchTorrents runs the keyword search, probing schema variants in order.
// A variant failing with a GraphQL or validation error moves on to the next
// one; transient HTTP statuses are retried within the variant.
func (c *Client) SearchTorrents(ctx context.Context, queryString string, limit, offset int) (SearchResult, error) {
	if limit <= 0 || limit > c.limitCap {
		limit = c.limitCap
	}

	variants := []variant{
		{
			label: "torrentContent.search",
			query: torrentContentSearchQuery,
			variables: map[string]any{
				"input": map[string]any{
					"queryString": queryString,
					"limit":       limit,
					"offset":      offset,
					"totalCount":  true,
					"hasNextPage": true,
					"orderBy":     []map[string]any{{"field": "relevance", "descending": true}},
				},
			},
		},
		{
			label:     "torrents.queryString",
			query:     fmt.Sprintf(torrentsEdgeQuery, "queryString"),
			variables: map[string]any{"query": queryString, "limit": limit},
		},
		{
			label:     "torrents.query",
			query:     fmt.Sprintf(torrentsEdgeQuery, "query"),
			variables: map[string]any{"query": queryString, "limit": limit},
		},
		{
			label:     "torrents.text",
			query:     fmt.Sprintf(torrentsEdgeQuery, "text"),
			variables: map[string]any{"query": queryString, "limit": limit},
		},
	}

	var lastErr error
	for _, v := range variants {
		payload, err := c.post(ctx, v.query, v.variables)
		if err != nil {
			if ctx.Err() != nil {
				return SearchResult{}, err
			}
			lastErr = err
			c.logger.Warn("bitmagnet search variant failed", "variant", v.label, "error", err)
			continue
		}
		return extractResult(payload), nil
	}
	return SearchResult{}, fmt.Errorf("bitmagnet search failed for all variants: %w", lastErr)
}

type graphQLPayload struct {
	Data   map[string]json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// post sends one GraphQL request. Schema validation statuses (422) and
// payload-level errors fail immediately so the caller can try the next
// variant; transient statuses are retried by the HTTP client.
func (c *Client) post(ctx context.Context, query string, variables map[string]any) (graphQLPayload, error) {
	var payload graphQLPayload
	body, err := json.Marshal(map[string]any{"query": query, "variables": variables})
	if err != nil {
		return payload, err
	}
	data, err := c.http.PostJSON(ctx, c.endpoint, body, nil)
	if err != nil {
		var se *httpx.StatusError
		if errors.As(err, &se) && se.Status == http.StatusUnprocessableEntity {
			return payload, fmt.Errorf("bitmagnet schema rejected query: %s", se.Body)
		}
		return payload, err
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return payload, fmt.Errorf("decode bitmagnet response: %w", err)
	}
	if len(payload.Errors) > 0 {
		return payload, fmt.Errorf("bitmagnet graphql errors: %s", payload.Errors[0].Message)
	}
	return payload, nil
}

// extractResult pulls nodes out of either response shape.
func extractResult(payload graphQLPayload) SearchResult {
	if raw, ok := payload.Data["torrentContent"]; ok {
		var tc struct {
			Search struct {
				TotalCount  *int             `json:"totalCount"`
				HasNextPage *bool            `json:"hasNextPage"`
				Items       []map[string]any `json:"items"`
			} `json:"search"`
		}
		if err := json.Unmarshal(raw, &tc); err == nil {
			return SearchResult{
				Nodes:       tc.Search.Items,
				TotalCount:  tc.Search.TotalCount,
				HasNextPage: tc.Search.HasNextPage,
			}
		}
	}

	if raw, ok := payload.Data["torrents"]; ok {
		var torrents struct {
			TotalCount *int `json:"totalCount"`
			Edges      []struct {
				Node map[string]any `json:"node"`
			} `json:"edges"`
		}
		if err := json.Unmarshal(raw, &torrents); err == nil {
			nodes := make([]map[string]any, 0, len(torrents.Edges))
			for _, edge := range torrents.Edges {
				if edge.Node != nil {
					nodes = append(nodes, edge.Node)
				}
			}
			return SearchResult{Nodes: nodes, TotalCount: torrents.TotalCount}
		}
	}
	return SearchResult{}
}
