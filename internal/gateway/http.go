package gateway

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/zjrosen/parley/internal/log"
)

// Tool names exposed by the backend's tool-call endpoint.
const (
	toolGetExperimentStatus  = "get_experiment_status"
	toolGetExperimentResults = "get_experiment_results"
	toolGetSessionDetail     = "get_session_detail"
	toolExecuteExperiment    = "execute_experiment"
	toolPauseExperiment      = "pause_experiment"
	toolResumeExperiment     = "resume_experiment"
	toolStopExperiment       = "stop_experiment"
	toolDeleteExperiment     = "delete_experiment"
)

// HTTPGateway talks to the backend's tool-call endpoint over HTTP.
// Each tool call is POST {baseURL}/api/tools/{tool} with a JSON
// argument object and a JSON response body.
type HTTPGateway struct {
	baseURL string
	client  *http.Client
}

// HTTPConfig configures the HTTP gateway.
type HTTPConfig struct {
	BaseURL string
	Timeout time.Duration
}

// NewHTTPGateway creates a gateway client for the given base URL.
func NewHTTPGateway(cfg HTTPConfig) *HTTPGateway {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPGateway{
		baseURL: cfg.BaseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// Ensure HTTPGateway implements Gateway.
var _ Gateway = (*HTTPGateway)(nil)

func (g *HTTPGateway) call(ctx context.Context, tool string, args any, out any) error {
	body, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encoding %s args: %w", tool, err)
	}

	url := fmt.Sprintf("%s/api/tools/%s", g.baseURL, tool)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building %s request: %w", tool, err)
	}
	req.Header.Set("Content-Type", "application/json")

	// Request id correlates console logs with backend request logs.
	requestID := uuid.NewString()
	req.Header.Set("X-Request-ID", requestID)

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("calling %s: %w", tool, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		// Drain a little of the body for the error message.
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		log.Warn(log.CatGateway, "tool call failed", "tool", tool, "status", resp.StatusCode, "requestId", requestID)
		return fmt.Errorf("%s returned %d: %s", tool, resp.StatusCode, string(snippet))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", tool, err)
	}
	return nil
}

type experimentArgs struct {
	ExperimentID string `json:"experimentId"`
}

type sessionArgs struct {
	SessionID string `json:"sessionId"`
}

// statusResponse tolerates both envelope spellings the backend has used.
type statusResponse struct {
	Run           *StatusSnapshot `json:"run"`
	CurrentStatus *StatusSnapshot `json:"currentStatus"`
}

// GetExperimentStatus fetches the current run status for an experiment.
func (g *HTTPGateway) GetExperimentStatus(ctx context.Context, experimentID string) (*StatusSnapshot, error) {
	var resp statusResponse
	if err := g.call(ctx, toolGetExperimentStatus, experimentArgs{ExperimentID: experimentID}, &resp); err != nil {
		return nil, err
	}
	snap := resp.Run
	if snap == nil {
		snap = resp.CurrentStatus
	}
	if snap == nil {
		return nil, fmt.Errorf("%s returned no run snapshot", toolGetExperimentStatus)
	}
	return snap, nil
}

// GetExperimentResults fetches the full results payload for an experiment.
func (g *HTTPGateway) GetExperimentResults(ctx context.Context, experimentID string) (*Results, error) {
	var resp Results
	if err := g.call(ctx, toolGetExperimentResults, experimentArgs{ExperimentID: experimentID}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetSessionDetail fetches the detail record for one session.
func (g *HTTPGateway) GetSessionDetail(ctx context.Context, sessionID string) (*SessionRecord, error) {
	var resp struct {
		Session *SessionRecord `json:"session"`
	}
	if err := g.call(ctx, toolGetSessionDetail, sessionArgs{SessionID: sessionID}, &resp); err != nil {
		return nil, err
	}
	if resp.Session == nil {
		return nil, fmt.Errorf("%s returned no session", toolGetSessionDetail)
	}
	return resp.Session, nil
}

// ExecuteExperiment asks the backend to start a new run.
func (g *HTTPGateway) ExecuteExperiment(ctx context.Context, experimentID string, cfg ExecuteConfig) (*ExecuteAck, error) {
	args := struct {
		ExperimentID string        `json:"experimentId"`
		Config       ExecuteConfig `json:"config"`
	}{ExperimentID: experimentID, Config: cfg}

	var ack ExecuteAck
	if err := g.call(ctx, toolExecuteExperiment, args, &ack); err != nil {
		return nil, err
	}
	return &ack, nil
}

// PauseExperiment suspends the experiment's current run.
func (g *HTTPGateway) PauseExperiment(ctx context.Context, experimentID string) error {
	return g.call(ctx, toolPauseExperiment, experimentArgs{ExperimentID: experimentID}, nil)
}

// ResumeExperiment resumes a paused run.
func (g *HTTPGateway) ResumeExperiment(ctx context.Context, experimentID string) error {
	return g.call(ctx, toolResumeExperiment, experimentArgs{ExperimentID: experimentID}, nil)
}

// StopExperiment stops the experiment's current run.
func (g *HTTPGateway) StopExperiment(ctx context.Context, experimentID string) error {
	return g.call(ctx, toolStopExperiment, experimentArgs{ExperimentID: experimentID}, nil)
}

// DeleteExperiment deletes the experiment on the backend.
func (g *HTTPGateway) DeleteExperiment(ctx context.Context, experimentID string) error {
	return g.call(ctx, toolDeleteExperiment, experimentArgs{ExperimentID: experimentID}, nil)
}
