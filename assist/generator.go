package assist

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/nicknochnack/whisperd/logger"
)

// Generator is the opaque model backend. Implementations must never be
// invoked while a session-state lock is held.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	Stream(ctx context.Context, prompt string) (<-chan string, error)
}

const (
	generateRetries        = 2
	generateInitialBackoff = 500 * time.Millisecond
	generateMaxBackoff     = 5 * time.Second
)

// GenerationParams are forwarded to the model serving API with each request.
type GenerationParams struct {
	DecodingMethod string `json:"decoding_method"`
	MaxNewTokens   int    `json:"max_new_tokens"`
}

// HTTPGenerator calls a watsonx-style text generation API over HTTP.
type HTTPGenerator struct {
	endpoint  string
	apiKey    string
	modelID   string
	projectID string
	params    GenerationParams
	client    *http.Client
}

func NewHTTPGenerator(endpoint, apiKey, modelID, projectID string, params GenerationParams, timeout time.Duration) *HTTPGenerator {
	return &HTTPGenerator{
		endpoint:  strings.TrimRight(endpoint, "/"),
		apiKey:    apiKey,
		modelID:   modelID,
		projectID: projectID,
		params:    params,
		client:    &http.Client{Timeout: timeout},
	}
}

type generationRequest struct {
	ModelID    string           `json:"model_id"`
	Input      string           `json:"input"`
	Parameters GenerationParams `json:"parameters"`
	ProjectID  string           `json:"project_id,omitempty"`
}

type generationResponse struct {
	Results []struct {
		GeneratedText string `json:"generated_text"`
	} `json:"results"`
}

// Generate returns the full completion for the prompt, retrying transient
// failures with exponential backoff.
func (g *HTTPGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	var out string

	operation := func() error {
		text, err := g.generateOnce(ctx, prompt)
		if err != nil {
			return err
		}
		out = text
		return nil
	}

	backoffStrategy := backoff.WithContext(
		backoff.WithMaxRetries(
			backoff.NewExponentialBackOff(
				backoff.WithInitialInterval(generateInitialBackoff),
				backoff.WithMaxInterval(generateMaxBackoff),
			),
			generateRetries,
		),
		ctx,
	)

	err := backoff.RetryNotify(operation, backoffStrategy, func(err error, d time.Duration) {
		logger.Warn("retrying generation request", "error", err, "next_attempt_in", d)
	})
	return out, err
}

func (g *HTTPGenerator) generateOnce(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(generationRequest{
		ModelID:    g.modelID,
		Input:      prompt,
		Parameters: g.params,
		ProjectID:  g.projectID,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal generation request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint+"/v1/text/generation", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("generation request failed with status %d", resp.StatusCode)
	}

	var parsed generationResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("failed to decode generation response: %w", err)
	}
	if len(parsed.Results) == 0 {
		return "", fmt.Errorf("generation response contained no results")
	}
	return parsed.Results[0].GeneratedText, nil
}

// Stream returns the completion as a sequence of text chunks read from the
// API's server-sent event stream. The channel is closed when the stream ends
// or the context is cancelled.
func (g *HTTPGenerator) Stream(ctx context.Context, prompt string) (<-chan string, error) {
	body, err := json.Marshal(generationRequest{
		ModelID:    g.modelID,
		Input:      prompt,
		Parameters: g.params,
		ProjectID:  g.projectID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal generation request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint+"/v1/text/generation_stream", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Authorization", "Bearer "+g.apiKey)

	// Streaming requests run without the client's overall timeout; the
	// context bounds them instead.
	client := &http.Client{Transport: g.client.Transport}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("generation stream request failed with status %d", resp.StatusCode)
	}

	chunks := make(chan string)
	go func() {
		defer close(chunks)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "" || payload == "[DONE]" {
				continue
			}

			var parsed generationResponse
			if err := json.Unmarshal([]byte(payload), &parsed); err != nil {
				logger.Warn("skipping malformed stream event", "error", err)
				continue
			}
			if len(parsed.Results) == 0 {
				continue
			}
			select {
			case chunks <- parsed.Results[0].GeneratedText:
			case <-ctx.Done():
				return
			}
		}
	}()

	return chunks, nil
}
