package model

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockModel_CannedResponse(t *testing.T) {
	m := NewMockModel("test-model")
	m.AddResponse("ping", "pong")

	resp, err := m.Complete(context.Background(), Request{Prompt: "ping"})
	require.NoError(t, err)
	assert.Equal(t, "pong", resp.Text)
	assert.Equal(t, "stop", resp.FinishReason)
}

func TestMockModel_EchoFallback(t *testing.T) {
	m := NewMockModel("test-model")

	resp, err := m.Complete(context.Background(), Request{Prompt: "hello"})
	require.NoError(t, err)
	assert.Contains(t, resp.Text, "hello")
}

func TestMockModel_RejectsEmptyPrompt(t *testing.T) {
	m := NewMockModel("test-model")

	_, err := m.Complete(context.Background(), Request{})
	assert.Error(t, err)
}

func TestMockModel_Info(t *testing.T) {
	m := NewMockModel("test-model")
	info := m.Info()
	assert.Equal(t, "test-model", info.Name)
	assert.Equal(t, "mock", info.Provider)
}
