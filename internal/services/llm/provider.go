package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/pactum/internal/common"
	"github.com/ternarybob/pactum/internal/interfaces"
	"google.golang.org/genai"
)

// ErrMissingAPIKey is returned when a provider is selected but its key was never resolved
var ErrMissingAPIKey = errors.New("llm api key not configured")

// jsonOnlyInstruction is appended to the system prompt for providers that cannot enforce a response schema
const jsonOnlyInstruction = "Reply with a single JSON object and nothing else."

// ProviderFactory implements interfaces.Oracle on top of Gemini and Claude, choosing the provider per request model
type ProviderFactory struct {
	geminiConfig common.GeminiConfig
	claudeConfig common.ClaudeConfig
	llmConfig    common.LLMConfig
	logger       arbor.ILogger

	mu           sync.Mutex
	geminiClient *genai.Client
	claudeClient *anthropic.Client
}

// NewProviderFactory creates a new provider factory. API keys must already be resolved (see common.ResolveSecrets).
func NewProviderFactory(
	geminiConfig common.GeminiConfig,
	claudeConfig common.ClaudeConfig,
	llmConfig common.LLMConfig,
	logger arbor.ILogger,
) *ProviderFactory {
	return &ProviderFactory{
		geminiConfig: geminiConfig,
		claudeConfig: claudeConfig,
		llmConfig:    llmConfig,
		logger:       logger,
	}
}

// DetectProvider determines the provider type from a model string.
// Model strings can be:
// - "claude-sonnet-4-20250514" -> Claude
// - "claude/claude-sonnet-4-20250514" -> Claude (with prefix)
// - "gemini-2.5-flash" -> Gemini
// - "gemini/gemini-2.5-flash" -> Gemini (with prefix)
// - Empty string -> uses default provider from config
func (f *ProviderFactory) DetectProvider(model string) common.LLMProvider {
	model = strings.ToLower(model)

	switch {
	case strings.HasPrefix(model, "claude/"), strings.HasPrefix(model, "anthropic/"), strings.HasPrefix(model, "claude-"):
		return common.LLMProviderClaude
	case strings.HasPrefix(model, "gemini/"), strings.HasPrefix(model, "google/"), strings.HasPrefix(model, "gemini-"):
		return common.LLMProviderGemini
	}

	if f.llmConfig.DefaultProvider == "" {
		return common.LLMProviderGemini
	}
	return f.llmConfig.DefaultProvider
}

// NormalizeModel removes provider prefix from model name if present
func (f *ProviderFactory) NormalizeModel(model string) string {
	prefixes := []string{"claude/", "anthropic/", "gemini/", "google/"}
	for _, prefix := range prefixes {
		if strings.HasPrefix(strings.ToLower(model), prefix) {
			return model[len(prefix):]
		}
	}
	return model
}

// Call sends one request to the provider selected by request.Model.
// Failures with a recoverable HTTP status are returned as *interfaces.StatusError.
func (f *ProviderFactory) Call(ctx context.Context, request *interfaces.OracleRequest) (*interfaces.OracleResponse, error) {
	provider := f.DetectProvider(request.Model)
	model := f.NormalizeModel(request.Model)

	f.logger.Debug().
		Str("provider", string(provider)).
		Str("model", model).
		Int("prompt_chars", len(request.Prompt)).
		Msg("Calling oracle")

	var (
		resp *interfaces.OracleResponse
		err  error
	)
	switch provider {
	case common.LLMProviderClaude:
		resp, err = f.callClaude(ctx, request, model)
	default:
		resp, err = f.callGemini(ctx, request, model)
	}
	if err != nil {
		return nil, wrapProviderError(provider, err)
	}
	return resp, nil
}

func (f *ProviderFactory) gemini(ctx context.Context) (*genai.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.geminiClient != nil {
		return f.geminiClient, nil
	}
	if f.geminiConfig.APIKey == "" || common.HasUnresolvedReference(f.geminiConfig.APIKey) {
		return nil, fmt.Errorf("%w: gemini", ErrMissingAPIKey)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  f.geminiConfig.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	f.geminiClient = client
	return client, nil
}

func (f *ProviderFactory) claude() (*anthropic.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.claudeClient != nil {
		return f.claudeClient, nil
	}
	if f.claudeConfig.APIKey == "" || common.HasUnresolvedReference(f.claudeConfig.APIKey) {
		return nil, fmt.Errorf("%w: claude", ErrMissingAPIKey)
	}

	client := anthropic.NewClient(
		option.WithAPIKey(f.claudeConfig.APIKey),
		option.WithMaxRetries(0), // retries belong to the extraction client
	)
	f.claudeClient = &client
	return f.claudeClient, nil
}

func (f *ProviderFactory) callClaude(ctx context.Context, request *interfaces.OracleRequest, model string) (*interfaces.OracleResponse, error) {
	client, err := f.claude()
	if err != nil {
		return nil, err
	}

	if model == "" {
		model = f.claudeConfig.Model
	}

	maxTokens := request.MaxTokens
	if maxTokens <= 0 {
		maxTokens = f.claudeConfig.MaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(request.Prompt)),
		},
	}

	temp := request.Temperature
	if temp <= 0 {
		temp = f.claudeConfig.Temperature
	}
	if temp > 0 {
		params.Temperature = anthropic.Float(float64(temp))
	}

	system := request.System
	if request.Schema != nil {
		system = strings.TrimSpace(system + "\n\n" + jsonOnlyInstruction)
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{
			{Text: system},
		}
	}

	resp, err := client.Messages.New(ctx, params)
	if err != nil {
		return nil, err
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return &interfaces.OracleResponse{
		Text:     text.String(),
		Provider: string(common.LLMProviderClaude),
		Model:    model,
	}, nil
}

func (f *ProviderFactory) callGemini(ctx context.Context, request *interfaces.OracleRequest, model string) (*interfaces.OracleResponse, error) {
	client, err := f.gemini(ctx)
	if err != nil {
		return nil, err
	}

	if model == "" {
		model = f.geminiConfig.Model
	}

	temp := request.Temperature
	if temp <= 0 {
		temp = f.geminiConfig.Temperature
	}

	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(temp),
	}
	if request.System != "" {
		config.SystemInstruction = genai.NewContentFromText(request.System, genai.RoleUser)
	}

	// With a schema Gemini enforces JSON output matching it
	if len(request.Schema) > 0 {
		genaiSchema, err := convertToGenaiSchema(request.Schema)
		if err != nil {
			f.logger.Warn().Err(err).Msg("Failed to convert output schema, continuing without it")
		} else if genaiSchema != nil {
			config.ResponseMIMEType = "application/json"
			config.ResponseSchema = genaiSchema
		}
	}

	contents := []*genai.Content{genai.NewContentFromText(request.Prompt, genai.RoleUser)}
	resp, err := client.Models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		return nil, err
	}

	// An empty reply is a semantic failure for the caller, not a transport one
	text := ""
	if resp != nil && len(resp.Candidates) > 0 {
		text = resp.Text()
	}

	return &interfaces.OracleResponse{
		Text:     text,
		Provider: string(common.LLMProviderGemini),
		Model:    model,
	}, nil
}

// Close drops the cached provider clients
func (f *ProviderFactory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.geminiClient = nil
	f.claudeClient = nil
	return nil
}

// convertToGenaiSchema converts a map[string]interface{} representation of a JSON schema
// to a genai.Schema structure
func convertToGenaiSchema(schemaMap map[string]interface{}) (*genai.Schema, error) {
	if len(schemaMap) == 0 {
		return nil, nil
	}

	schema := &genai.Schema{}

	typeValue := schemaMap["type"]
	// JSON schema unions like ["string","null"] are flattened to the first non-null type
	if types, ok := typeValue.([]interface{}); ok {
		for _, t := range types {
			if s, ok := t.(string); ok && s != "null" {
				typeValue = s
				schema.Nullable = genai.Ptr(true)
				break
			}
		}
	}
	if typeStr, ok := typeValue.(string); ok {
		switch strings.ToLower(typeStr) {
		case "object":
			schema.Type = genai.TypeObject
		case "array":
			schema.Type = genai.TypeArray
		case "string":
			schema.Type = genai.TypeString
		case "number":
			schema.Type = genai.TypeNumber
		case "integer":
			schema.Type = genai.TypeInteger
		case "boolean":
			schema.Type = genai.TypeBoolean
		}
	}

	if desc, ok := schemaMap["description"].(string); ok {
		schema.Description = desc
	}

	if enumVals, ok := schemaMap["enum"].([]interface{}); ok {
		for _, v := range enumVals {
			if s, ok := v.(string); ok {
				schema.Enum = append(schema.Enum, s)
			}
		}
	}

	if reqVals, ok := schemaMap["required"].([]interface{}); ok {
		for _, v := range reqVals {
			if s, ok := v.(string); ok {
				schema.Required = append(schema.Required, s)
			}
		}
	}

	if itemsMap, ok := schemaMap["items"].(map[string]interface{}); ok {
		itemSchema, err := convertToGenaiSchema(itemsMap)
		if err != nil {
			return nil, fmt.Errorf("failed to convert items schema: %w", err)
		}
		schema.Items = itemSchema
	}

	if propsMap, ok := schemaMap["properties"].(map[string]interface{}); ok {
		schema.Properties = make(map[string]*genai.Schema)
		for propName, propVal := range propsMap {
			if propMap, ok := propVal.(map[string]interface{}); ok {
				propSchema, err := convertToGenaiSchema(propMap)
				if err != nil {
					return nil, fmt.Errorf("failed to convert property '%s': %w", propName, err)
				}
				schema.Properties[propName] = propSchema
			}
		}
	}

	return schema, nil
}
