package provider

import (
	"context"
	"sync"
	"time"
)

// MockStep scripts one call outcome for the mock client.
type MockStep struct {
	Reply *Reply
	Err   error
	Delay time.Duration
}

// MockClient replays a scripted sequence of outcomes. The last step repeats
// once the script is exhausted. Used by tests and keyless dev deployments.
type MockClient struct {
	name  string
	mu    sync.Mutex
	steps []MockStep
	calls int
}

func NewMockClient(name string, steps ...MockStep) *MockClient {
	if name == "" {
		name = "mock"
	}
	if len(steps) == 0 {
		steps = []MockStep{{Reply: &Reply{Text: "mock summary"}}}
	}
	return &MockClient{name: name, steps: steps}
}

func (c *MockClient) Name() string  { return c.name }
func (c *MockClient) Model() string { return "mock-model" }

// Calls returns how many times Summarize ran.
func (c *MockClient) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func (c *MockClient) Summarize(ctx context.Context, prompt Prompt) (*Reply, error) {
	c.mu.Lock()
	idx := c.calls
	if idx >= len(c.steps) {
		idx = len(c.steps) - 1
	}
	step := c.steps[idx]
	c.calls++
	c.mu.Unlock()

	if step.Delay > 0 {
		select {
		case <-time.After(step.Delay):
		case <-ctx.Done():
			return nil, &CallError{Kind: FailTimeout, Message: "mock call interrupted", cause: ctx.Err()}
		}
	}
	if step.Err != nil {
		return nil, step.Err
	}

	reply := *step.Reply
	if reply.InputTokens == 0 && reply.OutputTokens == 0 {
		reply.InputTokens = estimateTokens(prompt.User)
		reply.OutputTokens = estimateTokens(reply.Text)
	}
	return &reply, nil
}
