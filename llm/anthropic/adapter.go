// Package anthropic is an agent.Model for the Anthropic Messages API.
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Gurpartap/reportagent/agent"
)

const (
	defaultBaseURL = "https://api.anthropic.com"
	defaultVersion = "2023-06-01"
	endpoint       = "/v1/messages"
	defaultTimeout = 5 * time.Minute

	maxResponseBytes = 8 << 20

	// statusOverloaded is returned when the API is temporarily at capacity.
	statusOverloaded = 529
)

type Config struct {
	APIKey     string
	Model      string
	BaseURL    string
	Version    string
	HTTPClient *http.Client
}

type Adapter struct {
	apiKey      string
	model       string
	version     string
	endpointURL string
	httpClient  *http.Client
}

var _ agent.Model = (*Adapter)(nil)

func New(cfg Config) (*Adapter, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("new anthropic adapter: api key is required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		return nil, fmt.Errorf("new anthropic adapter: model is required")
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	version := strings.TrimSpace(cfg.Version)
	if version == "" {
		version = defaultVersion
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}

	return &Adapter{
		apiKey:      apiKey,
		model:       model,
		version:     version,
		endpointURL: strings.TrimRight(baseURL, "/") + endpoint,
		httpClient:  httpClient,
	}, nil
}

// Generate sends one Messages request. A request ModelID overrides the
// configured model.
func (a *Adapter) Generate(ctx context.Context, request agent.ModelRequest) (agent.ModelResponse, error) {
	model := a.model
	if request.ModelID != "" {
		model = request.ModelID
	}
	payload, err := BuildRequest(model, request)
	if err != nil {
		return agent.ModelResponse{}, agent.NewError(agent.KindFatal, "anthropic", err)
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return agent.ModelResponse{}, agent.NewError(agent.KindFatal, "anthropic", fmt.Errorf("encode request: %w", err))
	}

	httpRequest, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpointURL, bytes.NewReader(encoded))
	if err != nil {
		return agent.ModelResponse{}, agent.NewError(agent.KindFatal, "anthropic", fmt.Errorf("build request: %w", err))
	}
	httpRequest.Header.Set("x-api-key", a.apiKey)
	httpRequest.Header.Set("anthropic-version", a.version)
	httpRequest.Header.Set("content-type", "application/json")

	response, err := a.httpClient.Do(httpRequest)
	if err != nil {
		return agent.ModelResponse{}, agent.NewError(agent.KindFatal, "anthropic", fmt.Errorf("execute request: %w", err))
	}
	defer response.Body.Close()

	body, err := io.ReadAll(io.LimitReader(response.Body, maxResponseBytes))
	if err != nil {
		return agent.ModelResponse{}, agent.NewError(agent.KindFatal, "anthropic", fmt.Errorf("read response: %w", err))
	}
	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		return agent.ModelResponse{}, StatusError(response.StatusCode, body)
	}

	parsed, err := ParseResponse(body)
	if err != nil {
		return agent.ModelResponse{}, agent.NewError(agent.KindFatal, "anthropic", err)
	}
	return parsed, nil
}

type errorBody struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// StatusError classifies a non-2xx response: 429 and 529 are rate limits,
// a context-window rejection is prompt-too-long, anything else is fatal.
func StatusError(status int, body []byte) error {
	var decoded errorBody
	_ = json.Unmarshal(body, &decoded)
	message := decoded.Error.Message
	if message == "" {
		message = strings.TrimSpace(string(body))
	}
	cause := fmt.Errorf("status=%d type=%s: %s", status, decoded.Error.Type, message)

	switch {
	case status == http.StatusTooManyRequests || status == statusOverloaded:
		return agent.NewError(agent.KindRateLimit, "anthropic", cause)
	case decoded.Error.Type == "rate_limit_error" || decoded.Error.Type == "overloaded_error":
		return agent.NewError(agent.KindRateLimit, "anthropic", cause)
	case status == http.StatusRequestEntityTooLarge:
		return agent.NewError(agent.KindPromptTooLong, "anthropic", cause)
	case status == http.StatusBadRequest && IsPromptTooLong(message):
		return agent.NewError(agent.KindPromptTooLong, "anthropic", cause)
	default:
		return agent.NewError(agent.KindFatal, "anthropic", cause)
	}
}
