package ai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"esp-gateway/internal/config"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// Generator 文本生成接口
type Generator interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// chatRequest OpenAI 兼容的 chat completions 请求
type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Client OpenAI 兼容 API 客户端
type Client struct {
	http   *resty.Client
	config *config.AIConfig
	logger *zap.Logger
}

// NewClient 创建文本生成客户端
func NewClient(cfg *config.AIConfig, logger *zap.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(90 * time.Second).
		SetAuthToken(cfg.Token).
		SetHeader("Content-Type", "application/json")

	return &Client{
		http:   httpClient,
		config: cfg,
		logger: logger,
	}
}

var _ Generator = (*Client)(nil)

// Complete 调用 chat completions，返回去除首尾空白的文本
func (c *Client) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	req := chatRequest{
		Model: c.config.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
	}

	var result chatResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&result).
		Post("/chat/completions")
	if err != nil {
		return "", fmt.Errorf("completion request failed: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("completion API returned status %d", resp.StatusCode())
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("completion API returned no choices")
	}

	text := strings.TrimSpace(result.Choices[0].Message.Content)
	c.logger.Debug("Completion generated", zap.Int("length", len(text)))
	return text, nil
}
