// Package ai drafts reply suggestions for the panel operator using an
// OpenAI-compatible chat completion endpoint.
package ai

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/xpe-hub/xpe-bot/internal/message"
)

const suggestSystemPrompt = `You help the operator of a messaging bot draft replies.
Given the recent messages of one chat, write a short, natural reply the operator
could send next. Answer with the reply text only, no quotes, no commentary.`

// Client wraps an OpenAI-compatible chat completion API.
type Client struct {
	client *openai.Client
	model  string
}

// NewClient creates a suggestion client. baseURL may be empty for the
// default OpenAI endpoint; model defaults to gpt-4o-mini.
func NewClient(apiKey, baseURL, model string) *Client {
	if model == "" {
		model = "gpt-4o-mini"
	}
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &Client{
		client: openai.NewClientWithConfig(config),
		model:  model,
	}
}

// SuggestReply drafts one reply from the chat's recent messages, oldest
// first.
func (c *Client) SuggestReply(ctx context.Context, recent []message.Message) (string, error) {
	if len(recent) == 0 {
		return "", fmt.Errorf("no conversation context")
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: suggestSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: renderContext(recent)},
		},
		Temperature: 0.7,
		MaxTokens:   200,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// renderContext flattens messages into a transcript the model can read.
func renderContext(msgs []message.Message) string {
	var b strings.Builder
	b.WriteString("Recent conversation:\n")
	for _, m := range msgs {
		sender := m.SenderName
		if sender == "" {
			sender = m.SenderID
		}
		if sender == "" {
			sender = "system"
		}
		fmt.Fprintf(&b, "[%s] %s: %s\n", m.ReceivedAt.Format("15:04"), sender, m.Body)
	}
	b.WriteString("\nDraft the next reply.")
	return b.String()
}
