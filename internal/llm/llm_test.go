package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRequest() Request {
	return Request{
		Temperature: 1.0,
		Messages: []Message{
			{Role: RoleSystem, Content: "be persuasive"},
			{Role: RoleHuman, Content: "hello"},
			{Role: RoleAssistant, Content: "hi"},
			{Role: RoleHuman, Content: "why scrt?"},
		},
	}
}

func TestNewProviders(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)

	_, err = New(Config{Provider: "bogus"})
	assert.Error(t, err)

	t.Setenv("OPENAI_API_KEY", "")
	_, err = New(Config{Provider: "openai", Model: "gpt-4o"})
	assert.Error(t, err)

	_, err = New(Config{Provider: "openai", APIKey: "k"})
	assert.Error(t, err)

	c, err := New(Config{Provider: "OpenAI", APIKey: "k", Model: "gpt-4o"})
	require.NoError(t, err)
	assert.Equal(t, "openai", c.Provider())
	assert.Equal(t, "gpt-4o", c.Model())

	c, err = New(Config{Provider: "ollama"})
	require.NoError(t, err)
	assert.Equal(t, "ollama", c.Provider())
	assert.NotEmpty(t, c.Model())
}

func TestOllamaGenerate(t *testing.T) {
	var got struct {
		Model    string          `json:"model"`
		Messages []ollamaMessage `json:"messages"`
		Options  map[string]any  `json:"options"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"message":{"role":"assistant","content":"  buy scrt  "}}`))
	}))
	defer srv.Close()

	c, err := New(Config{Provider: "ollama", BaseURL: srv.URL + "/", Model: "m", APIKey: "secret"})
	require.NoError(t, err)

	text, err := c.Generate(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.Equal(t, "buy scrt", text)

	assert.Equal(t, "m", got.Model)
	require.Len(t, got.Messages, 4)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "user", got.Messages[1].Role)
	assert.Equal(t, "assistant", got.Messages[2].Role)
	assert.Equal(t, "user", got.Messages[3].Role)
	assert.Equal(t, 1.0, got.Options["temperature"])
}

func TestOllamaErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, err := New(Config{Provider: "ollama", BaseURL: srv.URL})
	require.NoError(t, err)
	_, err = c.Generate(context.Background(), sampleRequest())
	assert.ErrorContains(t, err, "model not loaded")

	_, err = c.Generate(context.Background(), Request{})
	assert.Error(t, err)
}

func TestOpenAIGenerate(t *testing.T) {
	var got struct {
		Model       string  `json:"model"`
		Temperature float64 `json:"temperature"`
		Messages    []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"x","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"trust me"},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	c, err := New(Config{Provider: "openai", BaseURL: srv.URL, APIKey: "k", Model: "gpt-4o"})
	require.NoError(t, err)

	text, err := c.Generate(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.Equal(t, "trust me", text)
	assert.Equal(t, "gpt-4o", got.Model)
	assert.Equal(t, 1.0, got.Temperature)
	require.Len(t, got.Messages, 4)
	assert.Equal(t, "user", got.Messages[1].Role)
}

func TestOpenAINoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	c, err := New(Config{Provider: "openai", BaseURL: srv.URL, APIKey: "k", Model: "gpt-4o"})
	require.NoError(t, err)
	_, err = c.Generate(context.Background(), sampleRequest())
	assert.Error(t, err)
}
