package gateway

import (
	"context"
	"sync"
)

// Mock is a mock implementation of Gateway for testing. Behavior is
// configured via function fields; unset fields return empty values.
// Call counts are tracked per tool.
type Mock struct {
	mu sync.Mutex

	GetExperimentStatusFunc  func(ctx context.Context, experimentID string) (*StatusSnapshot, error)
	GetExperimentResultsFunc func(ctx context.Context, experimentID string) (*Results, error)
	GetSessionDetailFunc     func(ctx context.Context, sessionID string) (*SessionRecord, error)
	ExecuteExperimentFunc    func(ctx context.Context, experimentID string, cfg ExecuteConfig) (*ExecuteAck, error)
	PauseExperimentFunc      func(ctx context.Context, experimentID string) error
	ResumeExperimentFunc     func(ctx context.Context, experimentID string) error
	StopExperimentFunc       func(ctx context.Context, experimentID string) error
	DeleteExperimentFunc     func(ctx context.Context, experimentID string) error

	statusCalls  int
	resultsCalls int
	detailCalls  map[string]int
}

// NewMock creates a mock gateway with default (empty) behavior.
func NewMock() *Mock {
	return &Mock{detailCalls: make(map[string]int)}
}

// Ensure Mock implements Gateway.
var _ Gateway = (*Mock)(nil)

// GetExperimentStatus delegates to GetExperimentStatusFunc.
func (m *Mock) GetExperimentStatus(ctx context.Context, experimentID string) (*StatusSnapshot, error) {
	m.mu.Lock()
	m.statusCalls++
	fn := m.GetExperimentStatusFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, experimentID)
	}
	return &StatusSnapshot{ExperimentID: experimentID, Status: "pending"}, nil
}

// GetExperimentResults delegates to GetExperimentResultsFunc.
func (m *Mock) GetExperimentResults(ctx context.Context, experimentID string) (*Results, error) {
	m.mu.Lock()
	m.resultsCalls++
	fn := m.GetExperimentResultsFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, experimentID)
	}
	return &Results{}, nil
}

// GetSessionDetail delegates to GetSessionDetailFunc.
func (m *Mock) GetSessionDetail(ctx context.Context, sessionID string) (*SessionRecord, error) {
	m.mu.Lock()
	m.detailCalls[sessionID]++
	fn := m.GetSessionDetailFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, sessionID)
	}
	return &SessionRecord{ID: sessionID}, nil
}

// ExecuteExperiment delegates to ExecuteExperimentFunc.
func (m *Mock) ExecuteExperiment(ctx context.Context, experimentID string, cfg ExecuteConfig) (*ExecuteAck, error) {
	if m.ExecuteExperimentFunc != nil {
		return m.ExecuteExperimentFunc(ctx, experimentID, cfg)
	}
	return &ExecuteAck{Success: true, RunID: "run-mock"}, nil
}

// PauseExperiment delegates to PauseExperimentFunc.
func (m *Mock) PauseExperiment(ctx context.Context, experimentID string) error {
	if m.PauseExperimentFunc != nil {
		return m.PauseExperimentFunc(ctx, experimentID)
	}
	return nil
}

// ResumeExperiment delegates to ResumeExperimentFunc.
func (m *Mock) ResumeExperiment(ctx context.Context, experimentID string) error {
	if m.ResumeExperimentFunc != nil {
		return m.ResumeExperimentFunc(ctx, experimentID)
	}
	return nil
}

// StopExperiment delegates to StopExperimentFunc.
func (m *Mock) StopExperiment(ctx context.Context, experimentID string) error {
	if m.StopExperimentFunc != nil {
		return m.StopExperimentFunc(ctx, experimentID)
	}
	return nil
}

// DeleteExperiment delegates to DeleteExperimentFunc.
func (m *Mock) DeleteExperiment(ctx context.Context, experimentID string) error {
	if m.DeleteExperimentFunc != nil {
		return m.DeleteExperimentFunc(ctx, experimentID)
	}
	return nil
}

// StatusCalls returns how many times GetExperimentStatus was called.
func (m *Mock) StatusCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusCalls
}

// ResultsCalls returns how many times GetExperimentResults was called.
func (m *Mock) ResultsCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resultsCalls
}

// DetailCalls returns how many times GetSessionDetail was called for
// the given session id.
func (m *Mock) DetailCalls(sessionID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.detailCalls[sessionID]
}

// Reset clears all call counters.
func (m *Mock) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statusCalls = 0
	m.resultsCalls = 0
	m.detailCalls = make(map[string]int)
}
