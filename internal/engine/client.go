/*
PURPOSE:
  HTTP adapter for an animation inference server.
  Posts one job per request and maps the server's error codes.

REQUIREMENTS:
  User-specified:
  - Run the animation pipeline on a remote GPU host.

  Implementation-discovered:
  - Model warm-up can hold the response headers for a long time; the
    header timeout and the overall timeout are the same budget.
  - The server reports face detection failures as a structured code.

ARCHITECTURE INTEGRATION:
  - Constructed by: NewPipeline (pipeline_url set)
  - Uses: internal/model.Job as the request body

ERROR HANDLING:
  - {"error":{"code":"no_face_detected"}} -> ErrNoFaceDetected (any status).
  - Any other non-200 status is fatal, quoting the first 1KB of the body.

USAGE:
  p := engine.NewHTTPPipeline("http://gpu-1:8890/animate", 10*time.Minute, runID)
  err := p.Execute(ctx, job)

RELATED FILES:
  - internal/engine/pipeline.go
*/

package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/daryltucker/portrait-runner/internal/model"
)

// CodeNoFaceDetected is the server error code for a face detection failure.
const CodeNoFaceDetected = "no_face_detected"

// HTTPPipeline posts jobs to an inference server.
type HTTPPipeline struct {
	URL       string
	Client    *http.Client
	RequestID string
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type apiResponse struct {
	Status string    `json:"status"`
	Error  *apiError `json:"error,omitempty"`
}

// NewHTTPPipeline creates an HTTPPipeline with the given per-request timeout.
func NewHTTPPipeline(url string, timeout time.Duration, requestID string) *HTTPPipeline {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	// The server only answers once the job is rendered.
	transport.ResponseHeaderTimeout = timeout

	return &HTTPPipeline{
		URL:       url,
		RequestID: requestID,
		Client: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
	}
}

// Execute posts job and waits for the server to finish it.
func (p *HTTPPipeline) Execute(ctx context.Context, job model.Job) error {
	body, err := json.Marshal(job)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.RequestID != "" {
		req.Header.Set("X-Request-ID", p.RequestID)
	}

	resp, err := p.Client.Do(req)
	if err != nil {
		return fmt.Errorf("pipeline request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return fmt.Errorf("pipeline response read failed: %w", err)
	}

	var payload apiResponse
	// Empty or non-JSON bodies are fine on success.
	_ = json.Unmarshal(data, &payload)

	if payload.Error != nil && payload.Error.Code == CodeNoFaceDetected {
		return fmt.Errorf("%w: %s", ErrNoFaceDetected, job.Source)
	}
	if resp.StatusCode != http.StatusOK {
		if len(data) > 1024 {
			data = data[:1024]
		}
		return fmt.Errorf("pipeline request failed: status %d: %s", resp.StatusCode, string(data))
	}
	if payload.Error != nil {
		return fmt.Errorf("pipeline error %s: %s", payload.Error.Code, payload.Error.Message)
	}
	return nil
}
