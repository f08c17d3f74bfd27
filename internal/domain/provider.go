package domain

import (
	"context"
	"time"
)

// Provider is the interface all LLM providers must implement.
type Provider interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	Name() string
	Models() []string
	Healthy(ctx context.Context) error
}

type ChatRequest struct {
	System      string
	Messages    []Message
	Model       string
	MaxTokens   int
	Temperature float64
}

type ChatResponse struct {
	Content   string
	Provider  string
	Usage     Usage
	LatencyMs int64
}

type Message struct {
	Role    string `json:"role"` // user | assistant
	Content string `json:"content"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// GenerateRequest is what the engine hands the text-generation collaborator.
type GenerateRequest struct {
	ConversationID string
	Sender         string
	Text           string
	IsGroup        bool
	Urgent         bool
	Now            time.Time
}

// Generator produces the persona's reply for one conversation turn.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (string, error)
}
