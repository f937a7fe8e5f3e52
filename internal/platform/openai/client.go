package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/engramlabs/engram-backend/internal/platform/envutil"
	"github.com/engramlabs/engram-backend/internal/platform/errs"
	"github.com/engramlabs/engram-backend/internal/platform/httpx"
	"github.com/engramlabs/engram-backend/internal/platform/logger"
)

// Client is the schema-constrained completion client used by extraction,
// summarization, atlas rewrites, dreams, cleanup, and deep research.
type Client interface {
	// GenerateJSON runs one completion constrained to the given JSON schema
	// and returns the parsed object. A completion that cannot be parsed
	// reports an LLMParse error.
	GenerateJSON(ctx context.Context, system string, user string, schemaName string, schema map[string]any) (map[string]any, error)

	// GenerateText runs one plain completion (no schema).
	GenerateText(ctx context.Context, system string, user string) (string, error)
}

// WithModel returns a client using the provided model for its calls. Empty
// model or nil base returns the base unchanged.
func WithModel(base Client, model string) Client {
	model = strings.TrimSpace(model)
	if base == nil || model == "" {
		return base
	}
	if c, ok := base.(*client); ok {
		return c.cloneWithModel(model)
	}
	return base
}

type client struct {
	log         *logger.Logger
	baseURL     string
	apiKey      string
	heliconeKey string
	model       string
	httpClient  *http.Client

	maxRetries int

	temperature        *float64
	disableTemperature bool

	// Models that reject the temperature parameter are remembered for a TTL
	// and the parameter is omitted thereafter.
	noTempMu   sync.RWMutex
	noTempSeen map[string]time.Time
	noTempTTL  time.Duration
}

func NewClient(log *logger.Logger) (Client, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}

	apiKey := strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	if apiKey == "" {
		return nil, fmt.Errorf("missing OPENAI_API_KEY")
	}

	baseURL := strings.TrimRight(envutil.Str("OPENAI_API_BASE_URL", "https://api.openai.com"), "/")
	model := envutil.Str("MODEL_ID_GRAPH_EXTRACTION", "gpt-4o-mini")
	heliconeKey := strings.TrimSpace(os.Getenv("HELICONE_API_KEY"))

	timeoutSec := envutil.Int("OPENAI_TIMEOUT_SECONDS", 180)
	maxRetries := envutil.Int("OPENAI_MAX_RETRIES", 4)

	disableTemperature := envutil.Bool("OPENAI_DISABLE_TEMPERATURE", false)
	var tempPtr *float64
	if !disableTemperature {
		temp := envutil.Float("OPENAI_TEMPERATURE", 0.2)
		tempPtr = &temp
	}

	return &client{
		log:                log.With("service", "OpenAIClient"),
		baseURL:            baseURL,
		apiKey:             apiKey,
		heliconeKey:        heliconeKey,
		model:              model,
		httpClient:         &http.Client{Timeout: time.Duration(timeoutSec) * time.Second},
		maxRetries:         maxRetries,
		temperature:        tempPtr,
		disableTemperature: disableTemperature,
		noTempSeen:         map[string]time.Time{},
		noTempTTL:          24 * time.Hour,
	}, nil
}

func (c *client) cloneWithModel(model string) *client {
	if c == nil || strings.TrimSpace(model) == "" {
		return c
	}
	clone := &client{
		log:                c.log,
		baseURL:            c.baseURL,
		apiKey:             c.apiKey,
		heliconeKey:        c.heliconeKey,
		model:              strings.TrimSpace(model),
		httpClient:         c.httpClient,
		maxRetries:         c.maxRetries,
		temperature:        c.temperature,
		disableTemperature: c.disableTemperature,
		noTempSeen:         map[string]time.Time{},
		noTempTTL:          c.noTempTTL,
	}
	c.noTempMu.RLock()
	for k, v := range c.noTempSeen {
		clone.noTempSeen[k] = v
	}
	c.noTempMu.RUnlock()
	return clone
}

func normalizeModelKey(m string) string {
	return strings.ToLower(strings.TrimSpace(m))
}

func (c *client) modelIsNoTemp(model string) bool {
	m := normalizeModelKey(model)
	if m == "" {
		return false
	}
	c.noTempMu.RLock()
	ts, ok := c.noTempSeen[m]
	ttl := c.noTempTTL
	c.noTempMu.RUnlock()
	if !ok {
		return false
	}
	if ttl <= 0 {
		return true
	}
	return time.Since(ts) < ttl
}

func (c *client) noteNoTempModel(model string) {
	m := normalizeModelKey(model)
	if m == "" {
		return
	}
	c.noTempMu.Lock()
	c.noTempSeen[m] = time.Now().UTC()
	c.noTempMu.Unlock()
}

func (c *client) applyTemperature(req *responsesRequest) {
	if req == nil || c.disableTemperature || c.temperature == nil {
		return
	}
	if c.modelIsNoTemp(req.Model) {
		return
	}
	req.Temperature = c.temperature
}

type openAIHTTPError struct {
	StatusCode int
	Body       string
}

func (e *openAIHTTPError) Error() string {
	return fmt.Sprintf("openai http %d: %s", e.StatusCode, e.Body)
}

func (e *openAIHTTPError) HTTPStatusCode() int {
	if e == nil {
		return 0
	}
	return e.StatusCode
}

func isUnsupportedTemperatureMessage(s string) bool {
	msg := strings.ToLower(strings.TrimSpace(s))
	if msg == "" || !strings.Contains(msg, "temperature") {
		return false
	}
	for _, marker := range []string{
		"unsupported parameter",
		"unknown parameter",
		"unrecognized parameter",
		"not supported",
		"does not support",
		"only the default",
		"unsupported_value",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

func isUnsupportedTemperatureParam(err error) bool {
	if err == nil {
		return false
	}
	return isUnsupportedTemperatureMessage(err.Error())
}

func (c *client) doOnce(ctx context.Context, method, path string, body any) (*http.Response, []byte, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &buf)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	if c.heliconeKey != "" {
		req.Header.Set("Helicone-Auth", "Bearer "+c.heliconeKey)
	}

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
		return resp, raw, &openAIHTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return resp, raw, nil
}

func (c *client) do(ctx context.Context, method, path string, body any, out any) error {
	backoff := 1 * time.Second

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		resp, raw, err := c.doOnce(ctx, method, path, body)
		if err == nil {
			if out == nil {
				return nil
			}
			if uErr := json.Unmarshal(raw, out); uErr != nil {
				return fmt.Errorf("openai decode error: %w; raw=%s", uErr, string(raw))
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
		c.log.Warn("OpenAI request retrying",
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

// doWithTempFallback retries exactly once without temperature if the model
// rejects the parameter.
func (c *client) doWithTempFallback(ctx context.Context, method, path string, req *responsesRequest, out any) error {
	if req == nil {
		return c.do(ctx, method, path, nil, out)
	}
	err := c.do(ctx, method, path, req, out)
	if err == nil {
		return nil
	}
	if req.Temperature == nil || !isUnsupportedTemperatureParam(err) {
		return err
	}
	c.noteNoTempModel(req.Model)
	req.Temperature = nil
	return c.do(ctx, method, path, req, out)
}

type responsesRequest struct {
	Model string `json:"model"`

	Input []struct {
		Role    string `json:"role"`
		Content any    `json:"content"`
	} `json:"input"`

	Text struct {
		Format map[string]any `json:"format,omitempty"`
	} `json:"text,omitempty"`

	Temperature *float64 `json:"temperature,omitempty"`
}

type responsesResponse struct {
	Output []struct {
		Type    string `json:"type"`
		Role    string `json:"role,omitempty"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text,omitempty"`
		} `json:"content,omitempty"`
	} `json:"output"`
	Refusal string `json:"refusal,omitempty"`
}

func extractOutputText(resp responsesResponse) string {
	var out strings.Builder
	for _, item := range resp.Output {
		if item.Type == "message" && item.Role == "assistant" {
			for _, c := range item.Content {
				if c.Type == "output_text" && c.Text != "" {
					out.WriteString(c.Text)
				}
			}
		}
	}
	return out.String()
}

func (c *client) GenerateJSON(ctx context.Context, system string, user string, schemaName string, schema map[string]any) (map[string]any, error) {
	if schemaName == "" {
		return nil, errors.New("schemaName required")
	}
	if schema == nil {
		return nil, errors.New("schema required")
	}

	req := responsesRequest{
		Model: c.model,
		Input: []struct {
			Role    string `json:"role"`
			Content any    `json:"content"`
		}{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
	}
	c.applyTemperature(&req)

	req.Text.Format = map[string]any{
		"type":   "json_schema",
		"name":   schemaName,
		"schema": schema,
		"strict": true,
	}

	var resp responsesResponse
	if err := c.doWithTempFallback(ctx, "POST", "/v1/responses", &req, &resp); err != nil {
		return nil, err
	}
	if resp.Refusal != "" {
		return nil, errs.LLMParsef("model refused: %s", resp.Refusal)
	}

	jsonText := extractOutputText(resp)
	if strings.TrimSpace(jsonText) == "" {
		return nil, errs.LLMParsef("no output_text found in response")
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(jsonText), &obj); err != nil {
		return nil, errs.LLMParsef("failed to parse model JSON: %v; text=%s", err, jsonText)
	}
	return obj, nil
}

func (c *client) GenerateText(ctx context.Context, system string, user string) (string, error) {
	req := responsesRequest{
		Model: c.model,
		Input: []struct {
			Role    string `json:"role"`
			Content any    `json:"content"`
		}{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
	}
	c.applyTemperature(&req)

	var resp responsesResponse
	if err := c.doWithTempFallback(ctx, "POST", "/v1/responses", &req, &resp); err != nil {
		return "", err
	}
	if resp.Refusal != "" {
		return "", errs.LLMParsef("model refused: %s", resp.Refusal)
	}

	text := extractOutputText(resp)
	if strings.TrimSpace(text) == "" {
		return "", errs.LLMParsef("no output_text found in response")
	}
	return text, nil
}
