// Package faceswap talks to the external face/hair-swap vision service. The
// client only parses the submit/poll envelopes; job semantics live with the
// caller.
package faceswap

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"server/internal/domain"
)

// Options configures the swap client.
type Options struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
	Logger     *zerolog.Logger
}

// Client performs HTTP calls to the swap vendor.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
}

// SwapRequest carries one swap submission. TargetImage is the poster region
// the source face (or hair) is swapped into; chained jobs pass the output
// region of a previous swap here.
type SwapRequest struct {
	SourceImage []byte
	TargetImage []byte
	Kind        domain.JobKind
}

// OutcomeKind discriminates the submit result union.
type OutcomeKind string

const (
	OutcomeSync  OutcomeKind = "sync"
	OutcomeAsync OutcomeKind = "async"
)

// AsyncHandle identifies a long-running job at the vendor.
type AsyncHandle struct {
	JobID        string
	PollEndpoint string
	Status       domain.JobStatus
}

// SubmitOutcome is the tagged result of Submit: either a direct image or an
// async handle, never both.
type SubmitOutcome struct {
	Kind   OutcomeKind
	Image  []byte
	Handle AsyncHandle
}

// PollStatus is one observed status of an async job.
type PollStatus struct {
	Status domain.JobStatus
	Image  []byte
}

// Submitter submits swap requests.
type Submitter interface {
	Submit(ctx context.Context, req SwapRequest) (*SubmitOutcome, error)
}

// StatusQuerier reads the current status of an async job.
type StatusQuerier interface {
	PollStatus(ctx context.Context, pollEndpoint string) (*PollStatus, error)
}

// UpstreamError reports a non-2xx vendor reply together with its HTTP status
// so retry policy can classify it.
type UpstreamError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *UpstreamError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("faceswap: %s (%s, http %d)", e.Message, e.Code, e.StatusCode)
	}
	return fmt.Sprintf("faceswap: http %d", e.StatusCode)
}

// StatusCode extracts the HTTP status from an upstream error chain, or 0.
func StatusCode(err error) int {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.StatusCode
	}
	return 0
}

type submitRequest struct {
	SourceImage string `json:"source_image"`
	TargetImage string `json:"target_image"`
	Task        string `json:"task"`
}

type envelope struct {
	Output struct {
		Image      string `json:"image,omitempty"`
		TaskID     string `json:"task_id,omitempty"`
		TaskStatus string `json:"task_status,omitempty"`
		PollURL    string `json:"poll_url,omitempty"`
	} `json:"output"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

type pollResponse struct {
	TaskStatus  string `json:"task_status"`
	OutputImage string `json:"output_image,omitempty"`
	Code        string `json:"code,omitempty"`
	Message     string `json:"message,omitempty"`
}

// NewClient constructs a client with sane defaults.
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.visionswap.example.com/v1"
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Client{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

// Submit sends one swap request. The vendor either answers with the finished
// image directly or with an async handle to poll.
func (c *Client) Submit(ctx context.Context, req SwapRequest) (*SubmitOutcome, error) {
	if len(req.SourceImage) == 0 {
		return nil, fmt.Errorf("%w: empty source image", domain.ErrInvalidImage)
	}
	if len(req.TargetImage) == 0 {
		return nil, fmt.Errorf("%w: empty target image", domain.ErrInvalidImage)
	}
	payload := submitRequest{
		SourceImage: base64.StdEncoding.EncodeToString(req.SourceImage),
		TargetImage: base64.StdEncoding.EncodeToString(req.TargetImage),
		Task:        string(req.Kind),
	}
	var decoded envelope
	if err := c.post(ctx, c.baseURL+"/swaps", payload, &decoded); err != nil {
		return nil, err
	}

	if img := strings.TrimSpace(decoded.Output.Image); img != "" {
		data, err := base64.StdEncoding.DecodeString(img)
		if err != nil {
			return nil, fmt.Errorf("%w: undecodable image payload", domain.ErrBadUpstreamResponse)
		}
		c.logger.Debug().Str("task", string(req.Kind)).Msg("faceswap: synchronous result")
		return &SubmitOutcome{Kind: OutcomeSync, Image: data}, nil
	}
	if decoded.Output.TaskID != "" && decoded.Output.PollURL != "" {
		handle := AsyncHandle{
			JobID:        decoded.Output.TaskID,
			PollEndpoint: c.resolvePollURL(decoded.Output.PollURL),
			Status:       mapVendorStatus(decoded.Output.TaskStatus),
		}
		c.logger.Debug().Str("task_id", handle.JobID).Str("status", string(handle.Status)).Msg("faceswap: async handle")
		return &SubmitOutcome{Kind: OutcomeAsync, Handle: handle}, nil
	}
	return nil, fmt.Errorf("%w: neither image nor poll handle present", domain.ErrBadUpstreamResponse)
}

// PollStatus queries one async job by its poll endpoint.
func (c *Client) PollStatus(ctx context.Context, pollEndpoint string) (*PollStatus, error) {
	endpoint := strings.TrimSpace(pollEndpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("%w: empty poll endpoint", domain.ErrBadUpstreamResponse)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.resolvePollURL(endpoint), nil)
	if err != nil {
		return nil, fmt.Errorf("faceswap: build poll request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	if resp.StatusCode >= 300 {
		return nil, upstreamError(resp.StatusCode, raw)
	}

	var decoded pollResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("%w: undecodable poll body", domain.ErrBadUpstreamResponse)
	}
	status := mapVendorStatus(decoded.TaskStatus)
	out := &PollStatus{Status: status}
	if status == domain.JobStatusCompleted {
		if decoded.OutputImage == "" {
			return nil, fmt.Errorf("%w: completed without output image", domain.ErrBadUpstreamResponse)
		}
		data, err := base64.StdEncoding.DecodeString(decoded.OutputImage)
		if err != nil {
			return nil, fmt.Errorf("%w: undecodable output image", domain.ErrBadUpstreamResponse)
		}
		out.Image = data
	}
	return out, nil
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("faceswap: encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("faceswap: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return classifyTransportError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return classifyTransportError(err)
	}
	if resp.StatusCode >= 300 {
		return upstreamError(resp.StatusCode, raw)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: undecodable body", domain.ErrBadUpstreamResponse)
	}
	return nil
}

func (c *Client) resolvePollURL(pollURL string) string {
	if strings.HasPrefix(pollURL, "http://") || strings.HasPrefix(pollURL, "https://") {
		return pollURL
	}
	return c.baseURL + "/" + strings.TrimLeft(pollURL, "/")
}

func upstreamError(status int, raw []byte) error {
	var detail struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	_ = json.Unmarshal(raw, &detail)
	return &UpstreamError{StatusCode: status, Code: detail.Code, Message: detail.Message}
}

// classifyTransportError maps network failures onto the timeout/unavailable
// taxonomy. Deadline expiry counts as a timeout, everything else as the
// upstream being unreachable.
func classifyTransportError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	var nerr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &nerr) && nerr.Timeout()) {
		return fmt.Errorf("%w: %v", domain.ErrUpstreamTimeout, err)
	}
	return fmt.Errorf("%w: %v", domain.ErrUpstreamUnavailable, err)
}

// Vendor task states, mapped onto the job status taxonomy.
func mapVendorStatus(vendor string) domain.JobStatus {
	switch strings.ToUpper(strings.TrimSpace(vendor)) {
	case "PENDING", "QUEUED":
		return domain.JobStatusQueued
	case "RUNNING", "PROCESSING", "":
		return domain.JobStatusProcessing
	case "SUCCEEDED", "SUCCESS", "COMPLETED":
		return domain.JobStatusCompleted
	case "FAILED", "ERROR", "CANCELLED":
		return domain.JobStatusFailed
	default:
		return domain.JobStatusProcessing
	}
}
