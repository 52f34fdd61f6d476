// Package openai is a small client for the OpenAI Files and Batches APIs.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/route-tagger/internal/resilience"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"

	// PurposeBatch marks an uploaded file as batch input.
	PurposeBatch = "batch"
)

// Client submits and tracks batch jobs.
type Client interface {
	UploadFile(ctx context.Context, name string, content io.Reader, purpose string) (*File, error)
	CreateBatch(ctx context.Context, req CreateBatchRequest) (*Batch, error)
	GetBatch(ctx context.Context, id string) (*Batch, error)
	GetFileContent(ctx context.Context, fileID string) ([]byte, error)
}

// File is an uploaded file object.
type File struct {
	ID        string `json:"id"`
	Object    string `json:"object"`
	Bytes     int64  `json:"bytes"`
	Filename  string `json:"filename"`
	Purpose   string `json:"purpose"`
	CreatedAt int64  `json:"created_at"`
}

// CreateBatchRequest is the request body for POST /batches.
type CreateBatchRequest struct {
	InputFileID      string            `json:"input_file_id"`
	Endpoint         string            `json:"endpoint"`
	CompletionWindow string            `json:"completion_window"`
	Metadata         map[string]string `json:"metadata,omitempty"`
}

// Batch is the batch object returned by the Batches API.
type Batch struct {
	ID               string        `json:"id"`
	Object           string        `json:"object"`
	Endpoint         string        `json:"endpoint"`
	Errors           *BatchErrors  `json:"errors,omitempty"`
	InputFileID      string        `json:"input_file_id"`
	CompletionWindow string        `json:"completion_window"`
	Status           string        `json:"status"`
	OutputFileID     string        `json:"output_file_id,omitempty"`
	ErrorFileID      string        `json:"error_file_id,omitempty"`
	CreatedAt        int64         `json:"created_at"`
	CompletedAt      int64         `json:"completed_at,omitempty"`
	RequestCounts    RequestCounts `json:"request_counts"`
}

// BatchErrors lists validation errors of a rejected input file.
type BatchErrors struct {
	Data []BatchError `json:"data"`
}

// BatchError is one input validation error.
type BatchError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Line    *int   `json:"line,omitempty"`
}

// RequestCounts tallies per-request outcomes.
type RequestCounts struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Batch status values.
const (
	StatusValidating = "validating"
	StatusFailed     = "failed"
	StatusInProgress = "in_progress"
	StatusFinalizing = "finalizing"
	StatusCompleted  = "completed"
	StatusExpired    = "expired"
	StatusCancelling = "cancelling"
	StatusCancelled  = "cancelled"
)

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit caps the request rate. A non-positive rps disables limiting.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates an OpenAI API client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 5 * time.Minute,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(2, 1),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) UploadFile(ctx context.Context, name string, content io.Reader, purpose string) (*File, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("purpose", purpose); err != nil {
		return nil, eris.Wrap(err, "openai: write purpose field")
	}
	fw, err := mw.CreateFormFile("file", name)
	if err != nil {
		return nil, eris.Wrap(err, "openai: create form file")
	}
	if _, err := io.Copy(fw, content); err != nil {
		return nil, eris.Wrap(err, "openai: copy file content")
	}
	if err := mw.Close(); err != nil {
		return nil, eris.Wrap(err, "openai: close multipart writer")
	}

	var file File
	if err := c.do(ctx, http.MethodPost, "/files", mw.FormDataContentType(), &buf, &file); err != nil {
		return nil, eris.Wrap(err, "openai: upload file")
	}
	return &file, nil
}

func (c *httpClient) CreateBatch(ctx context.Context, req CreateBatchRequest) (*Batch, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, eris.Wrap(err, "openai: marshal batch request")
	}
	var batch Batch
	if err := c.do(ctx, http.MethodPost, "/batches", "application/json", bytes.NewReader(body), &batch); err != nil {
		return nil, eris.Wrap(err, "openai: create batch")
	}
	return &batch, nil
}

func (c *httpClient) GetBatch(ctx context.Context, id string) (*Batch, error) {
	var batch Batch
	if err := c.do(ctx, http.MethodGet, "/batches/"+id, "", nil, &batch); err != nil {
		return nil, eris.Wrapf(err, "openai: get batch %s", id)
	}
	return &batch, nil
}

func (c *httpClient) GetFileContent(ctx context.Context, fileID string) ([]byte, error) {
	data, err := c.send(ctx, http.MethodGet, "/files/"+fileID+"/content", "", nil)
	if err != nil {
		return nil, eris.Wrapf(err, "openai: get file content %s", fileID)
	}
	return data, nil
}

// do sends a request and decodes a JSON response into out.
func (c *httpClient) do(ctx context.Context, method, path, contentType string, body io.Reader, out any) error {
	data, err := c.send(ctx, method, path, contentType, body)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return eris.Wrap(err, "openai: unmarshal response")
	}
	return nil
}

func (c *httpClient) send(ctx context.Context, method, path, contentType string, body io.Reader) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "openai: rate limit wait")
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, eris.Wrap(err, "openai: create request")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "openai: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "openai: read response")
	}
	if err := resilience.CheckStatus("openai", resp.StatusCode, data); err != nil {
		return nil, err
	}
	return data, nil
}
