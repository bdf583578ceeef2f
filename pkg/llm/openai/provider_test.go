package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"salesbot-wa-be/pkg/llm"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatSendsHistoryAndReadsFirstChoice(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"choices":[{"message":{"content":"Olá! Como posso ajudar?"}}]}`))
	}))
	defer srv.Close()

	p := NewProvider("sk-test", srv.URL, "")
	out, err := p.Chat(context.Background(), []llm.Message{
		{Role: llm.RoleSystem, Content: "Você é uma vendedora."},
		{Role: llm.RoleUser, Content: "oi"},
	}, llm.WithTemperature(0.2))

	require.NoError(t, err)
	assert.Equal(t, "Olá! Como posso ajudar?", out)
	assert.Equal(t, DefaultModel, got.Model)
	assert.Len(t, got.Messages, 2)
	assert.InDelta(t, 0.2, got.Temperature, 0.0001)
}

func TestChatSurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"rate limited"}}`))
	}))
	defer srv.Close()

	_, err := NewProvider("sk-test", srv.URL, "").Generate(context.Background(), "oi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limited")
}

func TestChatEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	_, err := NewProvider("sk-test", srv.URL, "").Generate(context.Background(), "oi")
	assert.ErrorIs(t, err, llm.ErrEmptyCompletion)
}
