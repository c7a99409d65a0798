package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"perp-panel/internal/config"
)

// Notifier 发送操作员通知，失败只返回 false，不影响调用方流程。
type Notifier interface {
	Send(ctx context.Context, text string) bool
	Enabled() bool
}

// Nop 在未配置凭证时使用，所有发送均静默忽略。
type Nop struct{}

// Send 总是返回 false。
func (Nop) Send(context.Context, string) bool { return false }

// Enabled 总是返回 false。
func (Nop) Enabled() bool { return false }

type telegramResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
}

// Telegram 通过 Bot API sendMessage 推送文本消息。
type Telegram struct {
	client *resty.Client
	token  string
	chatID string
	logger *zap.Logger
}

// New 根据配置返回通知器，token 或 chat_id 缺失时返回 Nop。
func New(cfg config.NotifyConfig, logger *zap.Logger) Notifier {
	if !cfg.Enabled() {
		return Nop{}
	}
	return NewTelegram(cfg, logger)
}

// NewTelegram 创建 Telegram 通知器。
func NewTelegram(cfg config.NotifyConfig, logger *zap.Logger) *Telegram {
	if logger == nil {
		logger = zap.NewNop()
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	client := resty.New()
	client.SetBaseURL(baseURL)
	client.SetTimeout(timeout)
	client.SetHeader("Content-Type", "application/json")

	return &Telegram{
		client: client,
		token:  strings.TrimSpace(cfg.TelegramToken),
		chatID: strings.TrimSpace(cfg.TelegramChatID),
		logger: logger,
	}
}

// Enabled 判断凭证是否齐全。
func (t *Telegram) Enabled() bool {
	return t.token != "" && t.chatID != ""
}

// Send 发送消息，成功返回 true。
func (t *Telegram) Send(ctx context.Context, text string) bool {
	if !t.Enabled() {
		return false
	}
	if err := t.sendMessage(ctx, text); err != nil {
		t.logger.Warn("Telegram 通知发送失败", zap.Error(err))
		return false
	}
	return true
}

func (t *Telegram) sendMessage(ctx context.Context, text string) error {
	var (
		result telegramResponse
		failed telegramResponse
	)
	resp, err := t.client.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"chat_id": t.chatID,
			"text":    text,
		}).
		SetResult(&result).
		SetError(&failed).
		Post(fmt.Sprintf("/bot%s/sendMessage", t.token))
	if err != nil {
		return fmt.Errorf("notify: 请求 Telegram 失败: %w", err)
	}
	if resp.IsError() {
		desc := strings.TrimSpace(failed.Description)
		if desc == "" {
			desc = resp.Status()
		}
		return fmt.Errorf("notify: Telegram 返回错误 %d: %s", resp.StatusCode(), desc)
	}
	if !result.OK {
		desc := strings.TrimSpace(result.Description)
		if desc == "" {
			desc = "telegram request failed"
		}
		return errors.New(desc)
	}
	return nil
}
