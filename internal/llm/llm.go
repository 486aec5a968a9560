package llm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleHuman     Role = "human"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role
	Content string
}

type Request struct {
	Messages    []Message
	Temperature float64
}

type Client interface {
	Generate(ctx context.Context, req Request) (string, error)
	Provider() string
	Model() string
}

type Config struct {
	Provider        string
	Model           string
	BaseURL         string
	APIKey          string
	MaxOutputTokens int
	TimeoutSeconds  int
}

func New(cfg Config) (Client, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" {
		return nil, errors.New("no llm provider configured")
	}

	timeout := cfg.TimeoutSeconds
	if timeout <= 0 {
		timeout = 60
	}

	switch provider {
	case "openai":
		apiKey := strings.TrimSpace(cfg.APIKey)
		if apiKey == "" {
			apiKey = strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
		}
		if apiKey == "" {
			return nil, errors.New("openai selected but no API key provided (OPENAI_API_KEY)")
		}
		model := strings.TrimSpace(cfg.Model)
		if model == "" {
			return nil, errors.New("openai selected but no model configured")
		}
		return newOpenAIClient(strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"), apiKey, model, cfg.MaxOutputTokens, time.Duration(timeout)*time.Second), nil
	case "ollama":
		model := strings.TrimSpace(cfg.Model)
		if model == "" {
			model = "llama3.1:70b"
		}
		baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
		if baseURL == "" {
			baseURL = "http://localhost:11434"
		}
		return &ollamaClient{
			baseURL:         baseURL,
			apiKey:          strings.TrimSpace(cfg.APIKey),
			model:           model,
			maxOutputTokens: cfg.MaxOutputTokens,
			timeout:         time.Duration(timeout) * time.Second,
		}, nil
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", provider)
	}
}

// wireRole maps our roles to the chat-completion vocabulary.
func wireRole(r Role) string {
	switch r {
	case RoleHuman:
		return "user"
	case RoleAssistant:
		return "assistant"
	default:
		return "system"
	}
}
