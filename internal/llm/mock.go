package llm

import (
	"context"
	"fmt"
	"sync"
)

// MockProvider replays a script of responses. When the script runs out it
// echoes the last user message. Safe for concurrent use.
type MockProvider struct {
	mu       sync.Mutex
	script   []MockStep
	next     int
	requests []ChatRequest
}

// MockStep is one scripted answer. Exactly one of Response or Err is used;
// Hook runs before the answer is returned.
type MockStep struct {
	Response *ChatResponse
	Err      error
	Hook     func(ctx context.Context, req ChatRequest) error
}

func NewMockProvider(steps ...MockStep) *MockProvider {
	return &MockProvider{script: steps}
}

// Reply is a scripted final answer.
func Reply(content string) MockStep {
	return MockStep{Response: &ChatResponse{Content: content, FinishReason: FinishReasonStop}}
}

// CallTools is a scripted tool-call request.
func CallTools(calls ...ToolCall) MockStep {
	return MockStep{Response: &ChatResponse{FinishReason: FinishReasonToolCalls, ToolCalls: calls}}
}

func (m *MockProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	m.mu.Lock()
	snapshot := req
	snapshot.Messages = append([]Message(nil), req.Messages...)
	m.requests = append(m.requests, snapshot)

	var step *MockStep
	idx := m.next
	if idx < len(m.script) {
		step = &m.script[idx]
		m.next++
	}
	m.mu.Unlock()

	if step == nil {
		return &ChatResponse{Content: "Echo: " + lastUserContent(req.Messages), FinishReason: FinishReasonStop}, nil
	}
	if step.Hook != nil {
		if err := step.Hook(ctx, req); err != nil {
			return nil, err
		}
	}
	if step.Err != nil {
		return nil, step.Err
	}
	if step.Response == nil {
		return nil, fmt.Errorf("mock step %d has no response", idx)
	}
	resp := *step.Response
	return &resp, nil
}

// Requests returns copies of every request received so far.
func (m *MockProvider) Requests() []ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ChatRequest(nil), m.requests...)
}

func (m *MockProvider) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

func lastUserContent(msgs []Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == RoleUser {
			return msgs[i].Content
		}
	}
	return ""
}
