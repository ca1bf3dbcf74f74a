package ollama

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/trialmatch/internal/core/domain"
	"github.com/kirillkom/trialmatch/internal/infrastructure/resilience"
)

type Client struct {
	baseURL    string
	genModel   string
	chatModel  string
	httpClient *http.Client
	executor   *resilience.Executor
}

type Options struct {
	HTTPClient         *http.Client
	ResilienceExecutor *resilience.Executor
}

func New(baseURL, genModel, chatModel string, options Options) *Client {
	httpClient := options.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 180 * time.Second}
	}
	if strings.TrimSpace(chatModel) == "" {
		chatModel = genModel
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		genModel:   genModel,
		chatModel:  chatModel,
		httpClient: httpClient,
		executor:   options.ResilienceExecutor,
	}
}

// TaxonomyGenerator asks the generation model for a JSON taxonomy answer.
type TaxonomyGenerator struct {
	client *Client
}

func NewTaxonomyGenerator(client *Client) *TaxonomyGenerator {
	return &TaxonomyGenerator{client: client}
}

func (g *TaxonomyGenerator) GenerateJSON(ctx context.Context, prompt string) (string, error) {
	reqBody := map[string]any{
		"model":  g.client.genModel,
		"prompt": prompt,
		"stream": false,
		"format": "json",
		"options": map[string]any{
			"temperature": 0.1,
		},
	}
	var response struct {
		Response string `json:"response"`
	}
	if err := g.client.postJSON(ctx, "/api/generate", reqBody, &response, "generate"); err != nil {
		return "", err
	}
	return strings.TrimSpace(response.Response), nil
}

// ChatModel answers eligibility conversations through /api/chat.
type ChatModel struct {
	client *Client
}

func NewChatModel(client *Client) *ChatModel {
	return &ChatModel{client: client}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (m *ChatModel) Reply(ctx context.Context, systemInstruction string, history []domain.ChatMessage) (string, error) {
	messages := make([]chatMessage, 0, len(history)+1)
	if strings.TrimSpace(systemInstruction) != "" {
		messages = append(messages, chatMessage{Role: "system", Content: systemInstruction})
	}
	for _, msg := range history {
		messages = append(messages, chatMessage{Role: chatRole(msg.Role), Content: msg.Text})
	}

	reqBody := map[string]any{
		"model":    m.client.chatModel,
		"messages": messages,
		"stream":   false,
	}
	var response struct {
		Message chatMessage `json:"message"`
	}
	if err := m.client.postJSON(ctx, "/api/chat", reqBody, &response, "chat"); err != nil {
		return "", err
	}
	return strings.TrimSpace(response.Message.Content), nil
}

func chatRole(role domain.ChatRole) string {
	switch role {
	case domain.RoleModel:
		return "assistant"
	case domain.RoleSystem:
		return "system"
	default:
		return "user"
	}
}
