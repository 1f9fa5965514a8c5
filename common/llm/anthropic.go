package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

type anthropicClient struct {
	client anthropic.Client
	model  string
}

func newAnthropicClient(cfg Config) (Client, error) {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	model := cfg.Model
	if model == "" {
		model = "claude-sonnet-4-5-20250514"
	}

	return &anthropicClient{
		client: anthropic.NewClient(opts...),
		model:  model,
	}, nil
}

// emitResultToolName is the single forced tool Anthropic calls to return
// structured JSON: unlike OpenAI, the Anthropic Messages API has no native
// json_schema response format, so schema-constrained output is modeled as a
// tool call the model is forced to make.
const emitResultToolName = "emit_result"

func (c *anthropicClient) Chat(ctx context.Context, req Request, result any) (*Response, error) {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 1000
	}

	inputSchema := anthropic.ToolInputSchemaParam{Type: "object"}
	if schemaMap, ok := toSchemaMap(req.Schema); ok {
		if props, ok := schemaMap["properties"]; ok {
			inputSchema.Properties = props
		}
		if required, ok := schemaMap["required"]; ok {
			inputSchema.ExtraFields = map[string]any{"required": required}
		}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: int64(maxTokens),
		System: []anthropic.TextBlockParam{
			{Type: "text", Text: req.SystemPrompt},
		},
		Messages: []anthropic.MessageParam{
			{
				Role:    anthropic.MessageParamRoleUser,
				Content: []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(req.UserPrompt)},
			},
		},
		Tools: []anthropic.ToolUnionParam{
			{
				OfTool: &anthropic.ToolParam{
					Name:        emitResultToolName,
					Description: anthropic.String("Emit the structured result for this request"),
					InputSchema: inputSchema,
				},
			},
		},
		ToolChoice: anthropic.ToolChoiceUnionParam{
			OfTool: &anthropic.ToolChoiceToolParam{Name: emitResultToolName},
		},
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}

	start := time.Now()
	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic chat: %w", err)
	}

	slog.DebugContext(ctx, "llm chat completed",
		"model", c.model,
		"duration_ms", time.Since(start).Milliseconds(),
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens)

	for _, block := range resp.Content {
		if block.Type != "tool_use" || block.Name != emitResultToolName {
			continue
		}
		if err := json.Unmarshal(block.Input, result); err != nil {
			return nil, fmt.Errorf("unmarshal tool result: %w", err)
		}
		return &Response{
			PromptTokens:     int(resp.Usage.InputTokens),
			CompletionTokens: int(resp.Usage.OutputTokens),
		}, nil
	}

	return nil, fmt.Errorf("anthropic response contained no %s tool call", emitResultToolName)
}

func (c *anthropicClient) Model() string {
	return c.model
}

func toSchemaMap(schema any) (map[string]any, bool) {
	data, err := json.Marshal(schema)
	if err != nil {
		return nil, false
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, false
	}
	return m, true
}
