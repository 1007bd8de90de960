package mistral

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/kirillkom/sci-librarian/internal/core/domain"
	"github.com/kirillkom/sci-librarian/internal/infrastructure/resilience"
)

const (
	defaultBaseURL = "https://api.mistral.ai"
	defaultModel   = "mistral-small-latest"
	defaultTimeout = 120 * time.Second
)

type Options struct {
	BaseURL  string
	Model    string
	Timeout  time.Duration
	Limiter  *rate.Limiter
	Executor *resilience.Executor
}

// Client classifies article text with the Mistral chat completions API.
type Client struct {
	apiKey string
	model  string

	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	exec       *resilience.Executor
	logger     *slog.Logger
}

func New(apiKey string, opts Options, logger *slog.Logger) *Client {
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	model := opts.Model
	if model == "" {
		model = defaultModel
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	exec := opts.Executor
	if exec == nil {
		exec = resilience.NewExecutor(resilience.DefaultConfig())
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		apiKey:     apiKey,
		model:      model,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		limiter:    opts.Limiter,
		exec:       exec,
		logger:     logger,
	}
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type extractionResult struct {
	Title      *string   `json:"title"`
	Authors    *[]string `json:"authors"`
	Summary    *string   `json:"summary"`
	Abstract   *string   `json:"abstract"`
	Categories *[]string `json:"categories"`
}

// Classify sends the extracted text to the model and resolves the returned
// category names against the rule set. Unknown names are logged and dropped,
// never treated as a failure.
func (c *Client) Classify(ctx context.Context, text string, rules domain.RuleSet) (domain.ArticleMetadata, []domain.Rule, error) {
	payload := map[string]any{
		"model": c.model,
		"messages": []map[string]string{
			{"role": "user", "content": buildExtractionPrompt(text, rules)},
		},
		"response_format": map[string]string{"type": "json_object"},
	}

	var resp chatResponse
	err := c.exec.Execute(ctx, "mistral_chat", func(ctx context.Context) error {
		return c.postJSON(ctx, "/v1/chat/completions", payload, &resp)
	}, classifyMistralError)
	if err != nil {
		return domain.ArticleMetadata{}, nil, err
	}

	if len(resp.Choices) == 0 {
		return domain.ArticleMetadata{}, nil, fmt.Errorf("mistral chat: response has no choices")
	}
	content := resp.Choices[0].Message.Content

	meta, categories, err := parseExtraction(content)
	if err != nil {
		return domain.ArticleMetadata{}, nil, err
	}

	matched, unknown := rules.Resolve(categories)
	if len(unknown) > 0 {
		c.logger.Warn("classifier returned unknown categories", "categories", unknown)
	}
	return meta, matched, nil
}

func parseExtraction(content string) (domain.ArticleMetadata, []string, error) {
	var result extractionResult
	if err := json.Unmarshal([]byte(content), &result); err != nil {
		return domain.ArticleMetadata{}, nil, fmt.Errorf("parse extraction json: %w", err)
	}
	if result.Title == nil {
		return domain.ArticleMetadata{}, nil, fmt.Errorf("extraction response has no title")
	}
	if result.Authors == nil {
		return domain.ArticleMetadata{}, nil, fmt.Errorf("extraction response has no authors")
	}
	if result.Summary == nil {
		return domain.ArticleMetadata{}, nil, fmt.Errorf("extraction response has no summary")
	}
	if result.Abstract == nil {
		return domain.ArticleMetadata{}, nil, fmt.Errorf("extraction response has no abstract")
	}
	if result.Categories == nil {
		return domain.ArticleMetadata{}, nil, fmt.Errorf("extraction response has no categories")
	}

	meta := domain.ArticleMetadata{
		Title:    *result.Title,
		Authors:  *result.Authors,
		Summary:  domain.Summary(*result.Summary),
		Abstract: *result.Abstract,
	}
	if meta.Authors == nil {
		meta.Authors = []string{}
	}
	return meta, *result.Categories, nil
}

func (c *Client) postJSON(ctx context.Context, path string, payload any, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create chat request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("mistral chat request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return newHTTPStatusError("chat", resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode chat response: %w", err)
	}
	return nil
}
