package mapping

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/finflowhq/ledgerdocs/internal/core/domain"
	"github.com/finflowhq/ledgerdocs/internal/infrastructure/resilience"
)

// Client asks the external suggestion service for accounting field
// assignments derived from extracted document data.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	executor   *resilience.Executor
}

type Options struct {
	RequestTimeout     time.Duration
	ResilienceExecutor *resilience.Executor
}

func NewClient(baseURL, apiKey string, options Options) *Client {
	timeout := options.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		executor:   options.ResilienceExecutor,
	}
}

type suggestRequest struct {
	ExtractedData json.RawMessage `json:"extracted_data"`
	OwnerID       string          `json:"owner_id"`
}

type suggestResponse struct {
	Fields            map[string]domain.FieldMapping `json:"fields"`
	OverallConfidence float64                        `json:"overall_confidence"`
	RequiresReview    bool                           `json:"requires_review"`
	ProcessingNotes   []string                       `json:"processing_notes"`
	LineSuggestions   []lineSuggestion               `json:"line_suggestions"`
}

type lineSuggestion struct {
	Code       string  `json:"code"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

func (c *Client) Suggest(ctx context.Context, extracted []byte, ownerID string) (domain.MappingResult, []domain.Suggestion, error) {
	request := suggestRequest{
		ExtractedData: extracted,
		OwnerID:       ownerID,
	}

	var response suggestResponse
	call := func(callCtx context.Context) error {
		return c.postJSON(callCtx, "/v1/suggestions", request, &response, "suggest")
	}

	var err error
	if c.executor != nil {
		err = c.executor.Execute(ctx, "mapping.suggest", call, resilience.ClassifyHTTPError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return domain.MappingResult{}, nil, wrapTemporaryIfNeeded("mapping suggest", err)
	}

	result := domain.MappingResult{
		Fields:            response.Fields,
		OverallConfidence: response.OverallConfidence,
		RequiresReview:    response.RequiresReview,
		ProcessingNotes:   response.ProcessingNotes,
	}
	if result.Fields == nil {
		result.Fields = make(map[string]domain.FieldMapping)
	}

	suggestions := make([]domain.Suggestion, 0, len(response.LineSuggestions))
	for _, s := range response.LineSuggestions {
		suggestions = append(suggestions, domain.Suggestion{
			Code:       s.Code,
			Source:     domain.SourceAI,
			Confidence: s.Confidence,
			Reasoning:  s.Reasoning,
		})
	}
	return result, suggestions, nil
}

func (c *Client) postJSON(ctx context.Context, path string, payload any, out any, operation string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", operation, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", operation, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("mapping %s request: %w", operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &resilience.StatusError{
			Service:    "mapping",
			Operation:  operation,
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       string(raw),
		}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", operation, err)
	}
	return nil
}
