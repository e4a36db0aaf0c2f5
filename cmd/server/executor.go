package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/scanwell/taskledger/internal/domain"
	"github.com/scanwell/taskledger/internal/task"
)

// scanExecutor delegates task execution to the external scanner
// service. The scanner does the actual analysis; this process only
// tracks the outcome.
type scanExecutor struct {
	client  *http.Client
	baseURL string
}

func newScanExecutor(baseURL string) *scanExecutor {
	return &scanExecutor{
		client:  &http.Client{Timeout: 10 * time.Minute},
		baseURL: baseURL,
	}
}

// scanRequest is the payload handed to the scanner.
type scanRequest struct {
	TaskID         string          `json:"task_id"`
	Type           string          `json:"type"`
	ComponentRef   string          `json:"component_ref"`
	TargetID       string          `json:"target_id,omitempty"`
	ExecutionCount int             `json:"execution_count"`
	Input          json.RawMessage `json:"input,omitempty"`
}

// scanResponse is what the scanner reports back.
type scanResponse struct {
	Outcome        string `json:"outcome"`
	ScannerContext string `json:"scanner_context,omitempty"`
}

// Execute implements task.Executor.
func (e *scanExecutor) Execute(ctx context.Context, t *domain.Task, input []byte) (task.Result, error) {
	body, err := json.Marshal(scanRequest{
		TaskID:         t.ID.String(),
		Type:           t.Type,
		ComponentRef:   t.ComponentRef,
		TargetID:       t.TargetID,
		ExecutionCount: t.ExecutionCount,
		Input:          input,
	})
	if err != nil {
		return task.Result{}, fmt.Errorf("failed to encode scan request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		e.baseURL+"/scan", bytes.NewReader(body))
	if err != nil {
		return task.Result{}, fmt.Errorf("failed to build scan request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return task.Result{}, fmt.Errorf("scanner request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Read a little of the body for the error message.
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return task.Result{}, fmt.Errorf("scanner returned %d: %s", resp.StatusCode, snippet)
	}

	var sr scanResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return task.Result{}, fmt.Errorf("failed to decode scanner response: %w", err)
	}

	outcome := domain.OutcomeFailed
	if sr.Outcome == string(domain.OutcomeSuccess) {
		outcome = domain.OutcomeSuccess
	}
	return task.Result{Outcome: outcome, ScannerContext: sr.ScannerContext}, nil
}
