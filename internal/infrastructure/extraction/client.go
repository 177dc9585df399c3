package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/finflowhq/ledgerdocs/internal/core/domain"
	"github.com/finflowhq/ledgerdocs/internal/core/ports"
	"github.com/finflowhq/ledgerdocs/internal/infrastructure/resilience"
)

// Client extracts structured data from stored documents through an external
// OCR service. Requests are rate limited because the service bills per call.
type Client struct {
	baseURL    string
	apiKey     string
	storage    ports.ObjectStorage
	httpClient *http.Client
	limiter    *rate.Limiter
	executor   *resilience.Executor
}

type Options struct {
	RequestTimeout     time.Duration
	RequestsPerSecond  float64
	ResilienceExecutor *resilience.Executor
}

func NewClient(baseURL, apiKey string, storage ports.ObjectStorage, options Options) *Client {
	timeout := options.RequestTimeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	rps := options.RequestsPerSecond
	if rps <= 0 {
		rps = 2.0
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		storage:    storage,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(rps), 1),
		executor:   options.ResilienceExecutor,
	}
}

type extractResponse struct {
	Data      json.RawMessage `json:"data"`
	Method    string          `json:"method"`
	TotalCost string          `json:"total_cost"`
}

func (c *Client) Extract(ctx context.Context, storagePath string) (domain.ExtractionResult, error) {
	obj, err := c.storage.Open(ctx, storagePath)
	if err != nil {
		return domain.ExtractionResult{}, fmt.Errorf("open stored document: %w", err)
	}
	defer obj.Close()

	content, err := io.ReadAll(obj)
	if err != nil {
		return domain.ExtractionResult{}, fmt.Errorf("read stored document: %w", err)
	}

	var result domain.ExtractionResult
	call := func(callCtx context.Context) error {
		if err := c.limiter.Wait(callCtx); err != nil {
			return err
		}
		resp, err := c.postDocument(callCtx, storagePath, content)
		if err != nil {
			return err
		}
		result, err = resp.toDomain()
		return err
	}

	if c.executor != nil {
		err = c.executor.Execute(ctx, "ocr.extract", call, resilience.ClassifyHTTPError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return domain.ExtractionResult{}, wrapTemporaryIfNeeded("ocr extract", err)
	}
	return result, nil
}

func (c *Client) postDocument(ctx context.Context, filename string, content []byte) (extractResponse, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("document", filename)
	if err != nil {
		return extractResponse{}, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(content); err != nil {
		return extractResponse{}, fmt.Errorf("write form file: %w", err)
	}
	if err := writer.Close(); err != nil {
		return extractResponse{}, fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/extract", &body)
	if err != nil {
		return extractResponse{}, fmt.Errorf("create extract request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return extractResponse{}, fmt.Errorf("ocr extract request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return extractResponse{}, &resilience.StatusError{
			Service:    "ocr",
			Operation:  "extract",
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       string(raw),
		}
	}

	var out extractResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return extractResponse{}, fmt.Errorf("decode extract response: %w", err)
	}
	return out, nil
}

func (r extractResponse) toDomain() (domain.ExtractionResult, error) {
	cost := decimal.Zero
	if r.TotalCost != "" {
		parsed, err := decimal.NewFromString(r.TotalCost)
		if err != nil {
			return domain.ExtractionResult{}, fmt.Errorf("parse extraction cost %q: %w", r.TotalCost, err)
		}
		cost = parsed
	}
	method := r.Method
	if method == "" {
		method = "ocr"
	}
	return domain.ExtractionResult{
		Data:      r.Data,
		Method:    method,
		TotalCost: cost,
	}, nil
}
