package providers

import (
	"fmt"
	"strings"

	"github.com/latsforge/latsforge/internal/llm"
)

// BuildApiHandler creates an API handler based on the provider type.
// Based on Cline's buildApiHandler function from api/index.ts.
func BuildApiHandler(options llm.ApiHandlerOptions) (llm.ApiHandler, error) {
	providerType, err := determineProviderType(options)
	if err != nil {
		return nil, fmt.Errorf("failed to determine provider type: %w", err)
	}

	var handler llm.ApiHandler
	switch providerType {
	case llm.ProviderAnthropic:
		handler = NewAnthropicSDKHandler(options)
	case llm.ProviderOpenAI:
		handler = NewOpenAISDKHandler(options)
	case llm.ProviderGemini, llm.ProviderVertex:
		handler = NewGeminiSDKHandler(options)
	case llm.ProviderOpenRouter:
		handler = NewOpenRouterSDKHandler(options)
	case llm.ProviderBedrock:
		handler = NewBedrockSDKHandler(options)
	default:
		return nil, fmt.Errorf("unsupported provider type: %s", providerType)
	}

	if options.OnRetryAttempt != nil {
		retryHandler := llm.NewRetryHandler(llm.DefaultRetryOptions)
		handler = retryHandler.WrapHandler(handler)
	}

	return handler, nil
}

// BuildApiHandlerWithRetry creates an API handler with explicit retry options.
func BuildApiHandlerWithRetry(options llm.ApiHandlerOptions, retryOptions llm.RetryOptions) (llm.ApiHandler, error) {
	handler, err := BuildApiHandler(options)
	if err != nil {
		return nil, err
	}

	retryHandler := llm.NewRetryHandler(retryOptions)
	return retryHandler.WrapHandler(handler), nil
}

// determineProviderType resolves a provider from explicit options or model ID shape.
// The search engine only ever configures one provider per deployment, but the
// factory keeps the lookup-by-prefix approach the candidate generator relies
// on when a caller supplies a bare model ID without a base URL override.
func determineProviderType(options llm.ApiHandlerOptions) (llm.ProviderType, error) {
	if options.OpenRouterAPIKey != "" || options.OpenRouterModelID != "" {
		return llm.ProviderOpenRouter, nil
	}
	if options.AWSAccessKey != "" {
		return llm.ProviderBedrock, nil
	}
	if options.AnthropicBaseURL != "" || isAnthropicModel(options.ModelID) {
		return llm.ProviderAnthropic, nil
	}
	if options.OpenAIBaseURL != "" || isOpenAIModel(options.ModelID) {
		return llm.ProviderOpenAI, nil
	}
	if options.GeminiBaseURL != "" || isGeminiModel(options.ModelID) {
		return llm.ProviderGemini, nil
	}
	if options.VertexProjectID != "" {
		return llm.ProviderVertex, nil
	}
	if isOpenRouterModel(options.ModelID) {
		return llm.ProviderOpenRouter, nil
	}
	if isBedrockModel(options.ModelID) {
		return llm.ProviderBedrock, nil
	}

	return "", fmt.Errorf("could not determine provider type from options for model %q", options.ModelID)
}

func isAnthropicModel(modelID string) bool {
	return strings.HasPrefix(modelID, "claude-") || strings.HasPrefix(modelID, "anthropic.") || strings.HasPrefix(modelID, "anthropic/")
}

func isOpenAIModel(modelID string) bool {
	for _, prefix := range []string{"gpt-", "o1-", "o3-", "text-"} {
		if strings.HasPrefix(modelID, prefix) {
			return true
		}
	}
	return false
}

func isGeminiModel(modelID string) bool {
	return strings.HasPrefix(modelID, "gemini-") || strings.HasPrefix(modelID, "models/gemini-")
}

func isBedrockModel(modelID string) bool {
	for _, prefix := range []string{"anthropic.", "amazon.", "ai21.", "cohere.", "meta.", "mistral."} {
		if strings.HasPrefix(modelID, prefix) {
			return true
		}
	}
	return false
}

func isOpenRouterModel(modelID string) bool {
	for _, prefix := range []string{"anthropic/", "openai/", "google/", "meta-llama/", "mistralai/", "deepseek/", "qwen/"} {
		if strings.HasPrefix(modelID, prefix) {
			return true
		}
	}
	return false
}
