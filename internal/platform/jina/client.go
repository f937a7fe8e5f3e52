package jina

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/engramlabs/engram-backend/internal/platform/envutil"
	"github.com/engramlabs/engram-backend/internal/platform/errs"
	"github.com/engramlabs/engram-backend/internal/platform/httpx"
	"github.com/engramlabs/engram-backend/internal/platform/logger"
)

// EmbedDim is the dimension every stored vector must have. The vector
// columns are declared with it, so changing it requires a migration.
const EmbedDim = 1024

// Embedding task hints. Queries and passages are embedded asymmetrically.
const (
	TaskQuery   = "retrieval.query"
	TaskPassage = "retrieval.passage"
)

// Client covers both Jina services the engine depends on: batched embeddings
// and cross-encoder reranking.
type Client interface {
	Embed(ctx context.Context, task string, inputs []string) ([][]float32, error)
	Rerank(ctx context.Context, query string, documents []string, topN int) ([]RankResult, error)

	// EmbedModel reports the model name to persist alongside stored vectors.
	EmbedModel() string
}

type RankResult struct {
	Index int
	Score float64
}

type client struct {
	log         *logger.Logger
	baseURL     string
	apiKey      string
	embedModel  string
	rerankModel string
	httpClient  *http.Client
	maxRetries  int
}

func NewClient(log *logger.Logger) (Client, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}

	apiKey := strings.TrimSpace(os.Getenv("JINA_API_KEY"))
	if apiKey == "" {
		return nil, fmt.Errorf("missing JINA_API_KEY")
	}

	baseURL := strings.TrimRight(envutil.Str("JINA_API_BASE_URL", "https://api.jina.ai"), "/")
	embedModel := envutil.Str("JINA_EMBEDDINGS_MODEL", "jina-embeddings-v3")
	rerankModel := envutil.Str("JINA_RERANKER_MODEL", "jina-reranker-v2-base-multilingual")
	timeoutSec := envutil.Int("JINA_TIMEOUT_SECONDS", 60)
	maxRetries := envutil.Int("JINA_MAX_RETRIES", 3)

	return &client{
		log:         log.With("service", "JinaClient"),
		baseURL:     baseURL,
		apiKey:      apiKey,
		embedModel:  embedModel,
		rerankModel: rerankModel,
		httpClient:  &http.Client{Timeout: time.Duration(timeoutSec) * time.Second},
		maxRetries:  maxRetries,
	}, nil
}

func (c *client) EmbedModel() string { return c.embedModel }

type jinaHTTPError struct {
	StatusCode int
	Body       string
}

func (e *jinaHTTPError) Error() string {
	return fmt.Sprintf("jina http %d: %s", e.StatusCode, e.Body)
}

func (e *jinaHTTPError) HTTPStatusCode() int {
	if e == nil {
		return 0
	}
	return e.StatusCode
}

func (c *client) do(ctx context.Context, path string, body any, out any) error {
	backoff := 1 * time.Second

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		resp, raw, err := c.doOnce(ctx, path, body)
		if err == nil {
			if out == nil {
				return nil
			}
			if uErr := json.Unmarshal(raw, out); uErr != nil {
				return fmt.Errorf("jina decode error: %w; raw=%s", uErr, string(raw))
			}
			return nil
		}

		if !httpx.IsRetryableError(err) {
			return err
		}
		if attempt == c.maxRetries {
			return errs.Mark(errs.KindTransient, err)
		}

		sleepFor := httpx.JitterSleep(httpx.RetryAfterDuration(resp, backoff, 10*time.Second))
		c.log.Warn("Jina request retrying",
			"path", path,
			"attempt", attempt+1,
			"max_retries", c.maxRetries,
			"sleep", sleepFor.String(),
			"error", err.Error(),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleepFor):
		}
		backoff *= 2
	}

	return fmt.Errorf("unreachable retry loop")
}

func (c *client) doOnce(ctx context.Context, path string, body any) (*http.Response, []byte, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+path, &buf)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}

	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return resp, nil, readErr
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, raw, &jinaHTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return resp, raw, nil
}

type embeddingsRequest struct {
	Model      string   `json:"model"`
	Task       string   `json:"task,omitempty"`
	Dimensions int      `json:"dimensions,omitempty"`
	Input      []string `json:"input"`
}

type embeddingsResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

func (c *client) Embed(ctx context.Context, task string, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return [][]float32{}, nil
	}

	clean := make([]string, len(inputs))
	for i := range inputs {
		s := strings.TrimSpace(inputs[i])
		if s == "" {
			s = " "
		}
		clean[i] = s
	}

	req := embeddingsRequest{
		Model:      c.embedModel,
		Task:       strings.TrimSpace(task),
		Dimensions: EmbedDim,
		Input:      clean,
	}

	var resp embeddingsResponse
	if err := c.do(ctx, "/v1/embeddings", req, &resp); err != nil {
		return nil, err
	}

	out := assembleByIndex(resp, len(clean))
	if !hasMissingEmbeddings(out) {
		return out, nil
	}

	c.log.Warn("Embeddings response missing indices; retrying once",
		"requested", len(clean),
		"returned", len(resp.Data),
		"model", c.embedModel,
	)

	var resp2 embeddingsResponse
	if err := c.do(ctx, "/v1/embeddings", req, &resp2); err != nil {
		return nil, err
	}
	out2 := assembleByIndex(resp2, len(clean))
	if hasMissingEmbeddings(out2) {
		return nil, fmt.Errorf("jina embeddings missing indices after retry: requested=%d returned=%d model=%s",
			len(clean), len(resp2.Data), c.embedModel)
	}
	return out2, nil
}

// assembleByIndex places vectors by the index the service returned, falling
// back to positional order when the response covers every input.
func assembleByIndex(resp embeddingsResponse, n int) [][]float32 {
	out := make([][]float32, n)
	for _, d := range resp.Data {
		vec := make([]float32, len(d.Embedding))
		for i, f := range d.Embedding {
			vec[i] = float32(f)
		}
		if d.Index >= 0 && d.Index < n {
			out[d.Index] = vec
		}
	}
	if hasMissingEmbeddings(out) && len(resp.Data) == n {
		for i := 0; i < n; i++ {
			if out[i] != nil {
				continue
			}
			d := resp.Data[i]
			vec := make([]float32, len(d.Embedding))
			for j, f := range d.Embedding {
				vec[j] = float32(f)
			}
			out[i] = vec
		}
	}
	return out
}

func hasMissingEmbeddings(v [][]float32) bool {
	for i := range v {
		if len(v[i]) == 0 {
			return true
		}
	}
	return false
}

type rerankRequest struct {
	Model           string   `json:"model"`
	Query           string   `json:"query"`
	Documents       []string `json:"documents"`
	TopN            int      `json:"top_n,omitempty"`
	ReturnDocuments bool     `json:"return_documents"`
}

type rerankResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

// Rerank scores documents against the query. Results come back ordered by
// descending relevance with indices into the input slice.
func (c *client) Rerank(ctx context.Context, query string, documents []string, topN int) ([]RankResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("rerank query required")
	}
	if len(documents) == 0 {
		return []RankResult{}, nil
	}
	if topN <= 0 || topN > len(documents) {
		topN = len(documents)
	}

	req := rerankRequest{
		Model:           c.rerankModel,
		Query:           query,
		Documents:       documents,
		TopN:            topN,
		ReturnDocuments: false,
	}

	var resp rerankResponse
	if err := c.do(ctx, "/v1/rerank", req, &resp); err != nil {
		return nil, err
	}

	out := make([]RankResult, 0, len(resp.Results))
	for _, r := range resp.Results {
		if r.Index < 0 || r.Index >= len(documents) {
			c.log.Warn("Rerank returned out-of-range index", "index", r.Index, "documents", len(documents))
			continue
		}
		out = append(out, RankResult{Index: r.Index, Score: r.RelevanceScore})
	}
	return out, nil
}
