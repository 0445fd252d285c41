package llm

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/liushuangls/go-anthropic/v2"

	"dbspelunker/internal/logger"
)

// finalResultTool is the tool the model is forced to call with its answer.
const finalResultTool = "final_result"

const defaultMaxTokens = 4096

// messenger is the part of *anthropic.Client the backend uses.
type messenger interface {
	CreateMessages(ctx context.Context, req anthropic.MessagesRequest) (anthropic.MessagesResponse, error)
}

// AnthropicBackend generates responses with the Anthropic Messages API.
// Structured output is requested as a call to a final_result tool whose
// input schema is the output shape.
type AnthropicBackend struct {
	client messenger
}

func NewAnthropicBackend(apiKey string) *AnthropicBackend {
	return &AnthropicBackend{client: anthropic.NewClient(apiKey)}
}

func (b *AnthropicBackend) Generate(ctx context.Context, req Request) (Response, error) {
	resp, err := b.client.CreateMessages(ctx, messagesRequest(req))
	if err != nil {
		return Response{}, err
	}
	return fromMessages(resp), nil
}

func messagesRequest(req Request) anthropic.MessagesRequest {
	s := req.Settings
	if s.Seed != nil {
		logger.Debug("seed %d ignored: the Messages API has no seed parameter", *s.Seed)
	}
	maxTokens := s.MaxOutputTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	prompt := req.Prompt
	mr := anthropic.MessagesRequest{
		Model:     anthropic.Model(s.Model),
		MaxTokens: maxTokens,
		System:    req.System,
		Messages: []anthropic.Message{
			{Role: anthropic.RoleUser, Content: []anthropic.MessageContent{
				{Type: "text", Text: &prompt},
			}},
		},
	}

	for _, t := range req.Tools {
		mr.Tools = append(mr.Tools, anthropic.ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		})
	}
	if req.Output.Schema != nil {
		desc := req.Output.Description
		if desc == "" {
			desc = "Return the final " + req.Output.Name + "."
		}
		mr.Tools = append(mr.Tools, anthropic.ToolDefinition{
			Name:        finalResultTool,
			Description: desc,
			InputSchema: req.Output.Schema,
		})
		mr.ToolChoice = &anthropic.ToolChoice{Type: "any"}
	}

	if s.ThinkingBudget > 0 {
		// extended thinking rejects forced tool use and sampling overrides
		mr.Thinking = &anthropic.Thinking{Type: anthropic.ThinkingTypeEnabled, BudgetTokens: s.ThinkingBudget}
		if mr.ToolChoice != nil {
			mr.ToolChoice = &anthropic.ToolChoice{Type: "auto"}
		}
		if mr.MaxTokens <= s.ThinkingBudget {
			mr.MaxTokens = s.ThinkingBudget + defaultMaxTokens
		}
		return mr
	}
	if s.Temperature > 0 {
		t := float32(s.Temperature)
		mr.Temperature = &t
	}
	if s.TopP > 0 {
		p := float32(s.TopP)
		mr.TopP = &p
	}
	return mr
}

func fromMessages(resp anthropic.MessagesResponse) Response {
	var out Response
	var text []string
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			if block.Text != nil {
				text = append(text, *block.Text)
			}
		case "tool_use":
			if block.MessageContentToolUse == nil {
				continue
			}
			use := block.MessageContentToolUse
			if use.Name == finalResultTool {
				out.Structured = json.RawMessage(use.Input)
				continue
			}
			out.ToolCalls = append(out.ToolCalls, ToolCall{ID: use.ID, Name: use.Name, Input: json.RawMessage(use.Input)})
		}
	}
	out.Text = strings.Join(text, "\n")
	// an answer alongside tool calls is premature; the tools run first
	if len(out.ToolCalls) > 0 {
		out.Structured = nil
	}
	return out
}
