package assist

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/qdrant/go-client/qdrant"
)

const defaultTopK = 3

// QdrantConfig holds connection settings for the Qdrant document store.
type QdrantConfig struct {
	URL            string
	CollectionName string
	APIKey         string
	TopK           int
}

// QdrantRetriever answers retrieval queries against a Qdrant collection,
// embedding the query first.
type QdrantRetriever struct {
	client     *qdrant.Client
	embedder   Embedder
	collection string
	topK       int
}

// NewQdrantRetriever creates a retriever backed by Qdrant.
func NewQdrantRetriever(cfg QdrantConfig, embedder Embedder) (*QdrantRetriever, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("qdrant url is required")
	}

	parsedURL := cfg.URL
	if !strings.HasPrefix(parsedURL, "http://") && !strings.HasPrefix(parsedURL, "https://") {
		parsedURL = "https://" + parsedURL
	}
	u, err := url.Parse(parsedURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse qdrant url: %w", err)
	}

	host := u.Hostname()
	port := 6334
	if u.Port() != "" {
		p, err := strconv.Atoi(u.Port())
		if err != nil {
			return nil, fmt.Errorf("invalid port: %w", err)
		}
		port = p
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: u.Scheme == "https",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	topK := cfg.TopK
	if topK <= 0 {
		topK = defaultTopK
	}

	return &QdrantRetriever{
		client:     client,
		embedder:   embedder,
		collection: cfg.CollectionName,
		topK:       topK,
	}, nil
}

// Retrieve embeds the query and returns the content of the closest passages.
func (r *QdrantRetriever) Retrieve(ctx context.Context, query string) ([]string, error) {
	vector, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	limit := uint64(r.topK)
	points, err := r.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: r.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant search failed: %w", err)
	}

	passages := make([]string, 0, len(points))
	for _, point := range points {
		if point.Payload == nil {
			continue
		}
		if v, ok := point.Payload["content"]; ok {
			if text := v.GetStringValue(); text != "" {
				passages = append(passages, text)
			}
		}
	}
	return passages, nil
}

// Close releases the underlying gRPC connection.
func (r *QdrantRetriever) Close() error {
	return r.client.Close()
}
