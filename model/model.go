// Package model provides a minimal completion abstraction over LLM
// providers. The kernel itself never talks to a model; only the optional
// LLM-backed planner and analyzer collaborators consume this interface,
// keeping provider SDKs out of the orchestration core.
package model

import (
	"context"
	"fmt"
)

// Request captures one normalized completion request.
type Request struct {
	// System is the system prompt framing the task.
	System string `json:"system,omitempty"`
	// Prompt is the user-role input text.
	Prompt string `json:"prompt"`
}

// TokenUsage captures token usage statistics for a response.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is the final completion produced for a request.
type Response struct {
	Text         string     `json:"text"`
	FinishReason string     `json:"finish_reason"`
	Usage        TokenUsage `json:"usage"`
}

// Info contains metadata about a model implementation.
type Info struct {
	Name     string `json:"name"`
	Provider string `json:"provider"` // "openai", "anthropic", "mock", etc.
}

// Model is the minimal interface required to drive completion.
type Model interface {
	Complete(ctx context.Context, req Request) (Response, error)

	// Info returns information about the model implementation.
	Info() Info
}

// MockModel is a lightweight in-memory Model useful for tests & examples.
type MockModel struct {
	info      Info
	responses map[string]string
}

// NewMockModel constructs a MockModel.
func NewMockModel(name string) *MockModel {
	return &MockModel{
		info:      Info{Name: name, Provider: "mock"},
		responses: make(map[string]string),
	}
}

// AddResponse registers a deterministic canned completion for an input prompt.
func (m *MockModel) AddResponse(prompt, response string) { m.responses[prompt] = response }

// Complete implements Model returning the canned response for the prompt or
// a generic echo when none is registered.
func (m *MockModel) Complete(_ context.Context, req Request) (Response, error) {
	if req.Prompt == "" {
		return Response{}, fmt.Errorf("no prompt provided")
	}
	text, ok := m.responses[req.Prompt]
	if !ok {
		text = fmt.Sprintf("Mock response to: %s", req.Prompt)
	}
	return Response{Text: text, FinishReason: "stop"}, nil
}

// Info returns metadata describing the mock model.
func (m *MockModel) Info() Info { return m.info }
