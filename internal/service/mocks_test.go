package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// generatorCall records one TextGenerator invocation
type generatorCall struct {
	System string
	Prompt string
}

// MockTextGenerator replays scripted responses in order
type MockTextGenerator struct {
	mu        sync.Mutex
	responses []string
	errors    []error
	panics    []bool
	calls     []generatorCall
}

func (m *MockTextGenerator) Generate(ctx context.Context, systemInstruction, prompt string) (string, error) {
	m.mu.Lock()
	i := len(m.calls)
	m.calls = append(m.calls, generatorCall{System: systemInstruction, Prompt: prompt})
	m.mu.Unlock()

	if i < len(m.panics) && m.panics[i] {
		panic("generator exploded")
	}
	if i < len(m.errors) && m.errors[i] != nil {
		return "", m.errors[i]
	}
	if i < len(m.responses) {
		return m.responses[i], nil
	}
	return "", ErrEmptyResponse
}

func (m *MockTextGenerator) GetProviderID() string {
	return "mock"
}

func (m *MockTextGenerator) Calls() []generatorCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]generatorCall(nil), m.calls...)
}

// MockRateLimiter implements monitor.AIProviderRateLimiter for testing
type MockRateLimiter struct {
	mu     sync.Mutex
	status string
	usage  int
	limit  int
	calls  int
}

func (m *MockRateLimiter) RegisterCall(providerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return nil
}

func (m *MockRateLimiter) GetProviderUsage(providerID string) (int, int) {
	return m.usage, m.limit
}

func (m *MockRateLimiter) GetProviderStatus(providerID string) string {
	return m.status
}

func (m *MockRateLimiter) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
