package llm

import (
	"context"
	"time"
)

// Message represents a conversation message
// Based on Anthropic's message format (Cline's internal standard)
type Message struct {
	Role    string         `json:"role"` // "user", "assistant", "system"
	Content []ContentBlock `json:"content"`
}

// ContentBlock represents different types of content in a message
type ContentBlock interface {
	Type() string
}

// TextBlock represents text content
type TextBlock struct {
	Text string `json:"text"`
}

func (t TextBlock) Type() string { return "text" }

// ModelInfo represents model capabilities and pricing
// Based on Cline's ModelInfo interface
type ModelInfo struct {
	MaxTokens           int     `json:"maxTokens"`
	ContextWindow       int     `json:"contextWindow"`
	SupportsImages      bool    `json:"supportsImages"`
	SupportsPromptCache bool    `json:"supportsPromptCache"`
	InputPrice          float64 `json:"inputPrice"`       // Per million tokens
	OutputPrice         float64 `json:"outputPrice"`      // Per million tokens
	CacheWritesPrice    float64 `json:"cacheWritesPrice"` // Per million tokens
	CacheReadsPrice     float64 `json:"cacheReadsPrice"`  // Per million tokens
	Description         string  `json:"description,omitempty"`

	Temperature *float64 `json:"temperature,omitempty"`
}

// ApiHandler represents the core interface for LLM providers
// Based on Cline's ApiHandler interface from api/index.ts
type ApiHandler interface {
	// CreateMessage sends a message and returns a streaming response
	CreateMessage(ctx context.Context, systemPrompt string, messages []Message) (ApiStream, error)

	// GetModel returns the model ID and info for the current configuration
	GetModel() ModelResponse

	// GetApiStreamUsage returns usage information if available
	GetApiStreamUsage() (*ApiStreamUsageChunk, error)
}

// ModelResponse represents a model ID and its information
type ModelResponse struct {
	ID   string    `json:"id"`
	Info ModelInfo `json:"info"`
}

// ApiHandlerOptions represents configuration options for API handlers
// Based on Cline's ApiHandlerOptions
type ApiHandlerOptions struct {
	// Core configuration
	APIKey  string `json:"apiKey"`
	ModelID string `json:"modelId"`
	TaskID  string `json:"taskId,omitempty"`

	// Provider-specific URLs
	AnthropicBaseURL string `json:"anthropicBaseUrl,omitempty"`
	OpenAIBaseURL    string `json:"openAiBaseUrl,omitempty"`
	GeminiBaseURL    string `json:"geminiBaseUrl,omitempty"`

	// Model configuration
	ModelInfo *ModelInfo `json:"modelInfo,omitempty"`

	// AWS Bedrock-specific
	AWSAccessKey    string `json:"awsAccessKey,omitempty"`
	AWSSecretKey    string `json:"awsSecretKey,omitempty"`
	AWSSessionToken string `json:"awsSessionToken,omitempty"`
	AWSRegion       string `json:"awsRegion,omitempty"`

	// Google Vertex AI-specific
	VertexProjectID string `json:"vertexProjectId,omitempty"`

	// OpenRouter-specific
	OpenRouterAPIKey    string     `json:"openRouterApiKey,omitempty"`
	OpenRouterModelID   string     `json:"openRouterModelId,omitempty"`
	OpenRouterModelInfo *ModelInfo `json:"openRouterModelInfo,omitempty"`

	// Callbacks. A non-nil OnRetryAttempt tells BuildApiHandler to wrap the
	// provider handler in a rate-limit-aware RetryHandler.
	OnRetryAttempt func(attempt, maxRetries int, delay time.Duration, err error) error `json:"-"`
}

// RetryOptions represents configuration for retry behavior
// Based on Cline's retry mechanism
type RetryOptions struct {
	MaxRetries     int           `json:"maxRetries"`
	BaseDelay      time.Duration `json:"baseDelay"`
	MaxDelay       time.Duration `json:"maxDelay"`
	RetryAllErrors bool          `json:"retryAllErrors"`
}

// DefaultRetryOptions provides sensible defaults for retry behavior
var DefaultRetryOptions = RetryOptions{
	MaxRetries:     3,
	BaseDelay:      1 * time.Second,
	MaxDelay:       10 * time.Second,
	RetryAllErrors: false,
}

// ProviderType represents the LLM provider types this search engine can
// route a model ID to.
type ProviderType string

const (
	ProviderAnthropic  ProviderType = "anthropic"
	ProviderOpenAI     ProviderType = "openai"
	ProviderGemini     ProviderType = "gemini"
	ProviderOpenRouter ProviderType = "openrouter"
	ProviderBedrock    ProviderType = "bedrock"
	ProviderVertex     ProviderType = "vertex"
)
