package llmclient

import "context"

// MockClient replays a fixed script of responses, one per Chat call,
// grounded on the testBackend fake in
// maruel-caic/internal/task/runner_test.go: a scripted stand-in for a real
// backend used across the stage and scenario tests.
type MockClient struct {
	Script []Response
	calls  int

	// Err, if set, is returned (instead of consuming a script entry) on
	// every call from ErrAtCall onward. ErrAtCall -1 (the default) disables
	// injected errors.
	Err       error
	ErrAtCall int
}

// NewMockClient returns a MockClient that replays script in order.
func NewMockClient(script ...Response) *MockClient {
	return &MockClient{Script: script, ErrAtCall: -1}
}

// Chat returns the next scripted response. Calling past the end of the
// script repeats the final entry, so a short script can still back an
// open-ended turn loop in tests.
func (m *MockClient) Chat(_ context.Context, _ []Message, _ []ToolSchema) (Response, error) {
	idx := m.calls
	m.calls++
	if m.Err != nil && m.ErrAtCall >= 0 && idx >= m.ErrAtCall {
		return Response{}, m.Err
	}
	if len(m.Script) == 0 {
		return Response{}, nil
	}
	if idx >= len(m.Script) {
		idx = len(m.Script) - 1
	}
	return m.Script[idx], nil
}

// Calls reports how many times Chat has been invoked.
func (m *MockClient) Calls() int { return m.calls }
