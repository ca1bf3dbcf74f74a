package anthropic

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/kirillkom/trialmatch/internal/core/domain"
	"github.com/kirillkom/trialmatch/internal/infrastructure/resilience"
)

const (
	DefaultModel = "claude-sonnet-4-5"

	taxonomySystemPrompt = "You are a clinical trial data architect. Return strict JSON only."
	maxTokens            = 4096
)

// Messager is the subset of the SDK messages service the adapters use.
type Messager interface {
	New(ctx context.Context, params sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

type Client struct {
	messages Messager
	model    string
	executor *resilience.Executor
}

func New(apiKey, model string, executor *resilience.Executor) *Client {
	c := sdk.NewClient(option.WithAPIKey(apiKey))
	return NewWithMessager(&c.Messages, model, executor)
}

func NewWithMessager(messages Messager, model string, executor *resilience.Executor) *Client {
	if strings.TrimSpace(model) == "" {
		model = DefaultModel
	}
	return &Client{messages: messages, model: model, executor: executor}
}

// TaxonomyGenerator implements the taxonomy JSON generation port.
type TaxonomyGenerator struct {
	client *Client
}

func NewTaxonomyGenerator(client *Client) *TaxonomyGenerator {
	return &TaxonomyGenerator{client: client}
}

func (g *TaxonomyGenerator) GenerateJSON(ctx context.Context, prompt string) (string, error) {
	return g.client.complete(ctx, "anthropic.generate", sdk.MessageNewParams{
		Model:       sdk.Model(g.client.model),
		MaxTokens:   maxTokens,
		System:      []sdk.TextBlockParam{{Text: taxonomySystemPrompt}},
		Messages:    []sdk.MessageParam{sdk.NewUserMessage(sdk.NewTextBlock(prompt))},
		Temperature: sdk.Float(0.1),
	})
}

// ChatModel implements eligibility chat replies.
type ChatModel struct {
	client *Client
}

func NewChatModel(client *Client) *ChatModel {
	return &ChatModel{client: client}
}

func (m *ChatModel) Reply(ctx context.Context, systemInstruction string, history []domain.ChatMessage) (string, error) {
	messages := make([]sdk.MessageParam, 0, len(history))
	for _, msg := range history {
		switch msg.Role {
		case domain.RoleModel:
			messages = append(messages, sdk.NewAssistantMessage(sdk.NewTextBlock(msg.Text)))
		case domain.RoleUser:
			messages = append(messages, sdk.NewUserMessage(sdk.NewTextBlock(msg.Text)))
		}
	}
	if len(messages) == 0 {
		return "", domain.WrapError(domain.ErrInvalidInput, "anthropic.chat", errors.New("empty conversation"))
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(m.client.model),
		MaxTokens: maxTokens,
		Messages:  messages,
	}
	if strings.TrimSpace(systemInstruction) != "" {
		params.System = []sdk.TextBlockParam{{Text: systemInstruction}}
	}
	return m.client.complete(ctx, "anthropic.chat", params)
}

func (c *Client) complete(ctx context.Context, operation string, params sdk.MessageNewParams) (string, error) {
	var text string
	call := func(callCtx context.Context) error {
		resp, err := c.messages.New(callCtx, params)
		if err != nil {
			return err
		}
		var sb strings.Builder
		for _, block := range resp.Content {
			if block.Type == "text" {
				sb.WriteString(block.Text)
			}
		}
		text = strings.TrimSpace(sb.String())
		return nil
	}

	var err error
	if c.executor != nil {
		err = c.executor.Execute(ctx, operation, call, classifyAnthropicError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return "", wrapAnthropicError(operation, err)
	}
	if text == "" {
		return "", domain.WrapError(domain.ErrUpstream, operation, errors.New("empty model response"))
	}
	return text, nil
}

func classifyAnthropicError(err error) resilience.ErrorClassification {
	if err == nil {
		return resilience.ErrorClassification{}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return resilience.ErrorClassification{}
	}
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests, apiErr.StatusCode >= 500:
			return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
		case apiErr.StatusCode == http.StatusUnauthorized, apiErr.StatusCode == http.StatusForbidden:
			return resilience.ErrorClassification{RecordFailure: true}
		default:
			return resilience.ErrorClassification{}
		}
	}
	return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
}

func wrapAnthropicError(operation string, err error) error {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusUnauthorized, apiErr.StatusCode == http.StatusForbidden:
			return domain.WrapError(domain.ErrUnauthorized, operation, err)
		case apiErr.StatusCode == http.StatusTooManyRequests, apiErr.StatusCode >= 500:
			return domain.WrapError(domain.ErrTemporary, operation, err)
		default:
			return domain.WrapError(domain.ErrUpstream, operation, err)
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", operation, err)
	}
	return domain.WrapError(domain.ErrTemporary, operation, err)
}
