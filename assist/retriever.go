package assist

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrDocumentNotLoaded is returned when no document store is available to
// answer retrieval queries. Callers surface it to the user as a sentinel
// response rather than an error.
var ErrDocumentNotLoaded = errors.New("document not loaded")

// Retriever returns the passages most relevant to a query, best first.
type Retriever interface {
	Retrieve(ctx context.Context, query string) ([]string, error)
}

// Embedder turns text into the vector space the document store was indexed
// in.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// HTTPEmbedder calls an embedding service over HTTP.
type HTTPEmbedder struct {
	endpoint string
	apiKey   string
	modelID  string
	client   *http.Client
}

func NewHTTPEmbedder(endpoint, apiKey, modelID string, timeout time.Duration) *HTTPEmbedder {
	return &HTTPEmbedder{
		endpoint: endpoint,
		apiKey:   apiKey,
		modelID:  modelID,
		client:   &http.Client{Timeout: timeout},
	}
}

type embeddingRequest struct {
	ModelID string   `json:"model_id"`
	Inputs  []string `json:"inputs"`
}

type embeddingResponse struct {
	Results []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"results"`
}

func (e *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embeddingRequest{ModelID: e.modelID, Inputs: []string{text}})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding request failed with status %d", resp.StatusCode)
	}

	var parsed embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode embedding response: %w", err)
	}
	if len(parsed.Results) == 0 {
		return nil, fmt.Errorf("embedding response contained no results")
	}
	return parsed.Results[0].Embedding, nil
}
