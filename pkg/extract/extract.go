package extract

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

	"github.com/coursegraph/backend/internal/util"
)

// Chunk is one pre-segmented span of extracted text. Boundaries come from
// the extraction service; this client never re-segments.
type Chunk struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
}

// Result is the outcome of one extraction call. On failure Success is
// false and Error carries the service's message; Chunks is always nil in
// that case.
type Result struct {
	Success   bool    `json:"success"`
	Text      string  `json:"text"`
	Chunks    []Chunk `json:"chunks"`
	PageCount int     `json:"page_count"`
	Title     string  `json:"title"`
	Error     string  `json:"error"`
}

// Client talks to the external extraction service over HTTP. File content
// goes to /extract (multipart), raw text to /segment for chunk boundaries.
type Client struct {
	baseURL    string
	httpClient *http.Client
	maxTries   int
	web        *webFetcher
}

// NewClientParams configures an extraction Client.
type NewClientParams struct {
	BaseURL    string
	TimeoutSec int64
	MaxTries   int
}

// NewClient creates an extraction service client.
func NewClient(params NewClientParams) *Client {
	timeout := params.TimeoutSec
	if timeout <= 0 {
		timeout = int64(util.GetEnvNumeric("EXTRACT_TIMEOUT_SEC", 120))
	}
	maxTries := params.MaxTries
	if maxTries <= 0 {
		maxTries = 1
	}
	httpClient := &http.Client{
		Timeout: time.Duration(timeout) * time.Second,
	}
	return &Client{
		baseURL:    strings.TrimRight(params.BaseURL, "/"),
		httpClient: httpClient,
		maxTries:   maxTries,
		web:        newWebFetcher(httpClient),
	}
}

// NewClientFromEnv builds the client from EXTRACT_* environment variables.
func NewClientFromEnv() *Client {
	return NewClient(NewClientParams{
		BaseURL:    util.GetEnvString("EXTRACT_URL", "http://localhost:8100"),
		TimeoutSec: int64(util.GetEnvNumeric("EXTRACT_TIMEOUT_SEC", 120)),
		MaxTries:   int(util.GetEnvNumeric("EXTRACT_MAX_TRIES", 1)),
	})
}

// ExtractFile sends file bytes to the extraction service and returns the
// extracted text with its chunk boundaries.
func (c *Client) ExtractFile(ctx context.Context, data []byte, filename string) (Result, error) {
	result, err := util.RetryWithContext(ctx, c.maxTries, func(ctx context.Context) (Result, error) {
		return c.postFile(ctx, data, filename)
	})
	if err != nil {
		return failure(err), err
	}
	return c.validated(result)
}

// SegmentText sends already-extracted text to the service for chunk
// boundaries. Used for URL ingestion where the page text is fetched
// locally.
func (c *Client) SegmentText(ctx context.Context, text string) (Result, error) {
	result, err := util.RetryWithContext(ctx, c.maxTries, func(ctx context.Context) (Result, error) {
		return c.postSegment(ctx, text)
	})
	if err != nil {
		return failure(err), err
	}
	result.Text = text
	return c.validated(result)
}

func (c *Client) postFile(ctx context.Context, data []byte, filename string) (Result, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return Result{}, fmt.Errorf("failed to create multipart body: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return Result{}, fmt.Errorf("failed to write multipart body: %w", err)
	}
	if err := writer.Close(); err != nil {
		return Result{}, fmt.Errorf("failed to close multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/extract", body)
	if err != nil {
		return Result{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	return c.do(req)
}

func (c *Client) postSegment(ctx context.Context, text string) (Result, error) {
	payload, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return Result{}, fmt.Errorf("failed to encode segment request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/segment", bytes.NewReader(payload))
	if err != nil {
		return Result{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req)
}

func (c *Client) do(req *http.Request) (Result, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("extraction service unreachable: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("failed to read extraction response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("extraction service returned status %d: %s", resp.StatusCode, util.TruncateRunes(string(raw), 200))
	}

	var result Result
	if err := json.Unmarshal(raw, &result); err != nil {
		return Result{}, fmt.Errorf("failed to decode extraction response: %w", err)
	}
	return result, nil
}

// validated checks the service's chunking contract: success flag set,
// chunks present, non-empty text and indices forming the sequence 0..n-1.
func (c *Client) validated(result Result) (Result, error) {
	if !result.Success {
		err := fmt.Errorf("extraction failed: %s", result.Error)
		return failure(err), err
	}
	if len(result.Chunks) == 0 {
		err := fmt.Errorf("extraction returned no chunks")
		return failure(err), err
	}
	for i, chunk := range result.Chunks {
		if chunk.Index != i {
			err := fmt.Errorf("chunk indices out of order: position %d has index %d", i, chunk.Index)
			return failure(err), err
		}
		if strings.TrimSpace(chunk.Text) == "" {
			err := fmt.Errorf("chunk %d has empty text", i)
			return failure(err), err
		}
	}
	return result, nil
}

func failure(err error) Result {
	return Result{Success: false, Error: err.Error()}
}
