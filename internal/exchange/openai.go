package exchange

import (
	"context"
	"fmt"
	"strings"
	"time"

	openai "github.com/meguminnnnnnnnn/go-openai"

	"whizbot/internal/services/session"
)

const defaultModel = "gpt-4o-mini"

type Config struct {
	APIKey    string
	BaseURL   string
	Model     string
	Timeout   time.Duration // default 60s
	MaxTokens int
}

// OpenAI exchanges session turns against an OpenAI-compatible chat
// completion endpoint.
type OpenAI struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	maxTok  int
}

func NewOpenAI(cfg Config) (*OpenAI, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrUnavailable
	}
	conf := openai.DefaultConfig(cfg.APIKey)
	if strings.TrimSpace(cfg.BaseURL) != "" {
		conf.BaseURL = cfg.BaseURL
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &OpenAI{
		client:  openai.NewClientWithConfig(conf),
		model:   model,
		timeout: timeout,
		maxTok:  cfg.MaxTokens,
	}, nil
}

func (o *OpenAI) Exchange(ctx context.Context, turns []session.Turn) (string, error) {
	msgs := make([]openai.ChatCompletionMessage, 0, len(turns))
	for _, t := range turns {
		role := openai.ChatMessageRoleUser
		switch t.Role {
		case session.RoleSystem:
			role = openai.ChatMessageRoleSystem
			if strings.TrimSpace(t.Text) == "" {
				continue
			}
		case session.RoleAssistant:
			role = openai.ChatMessageRoleAssistant
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: t.Text})
	}

	req := openai.ChatCompletionRequest{
		Model:    o.model,
		Messages: msgs,
	}
	if o.maxTok > 0 {
		req.MaxTokens = o.maxTok
	}

	cctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	resp, err := o.client.CreateChatCompletion(cctx, req)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion: empty response")
	}
	return resp.Choices[0].Message.Content, nil
}
