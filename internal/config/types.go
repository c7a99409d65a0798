package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/multierr"
)

// Config 聚合了控制面板运行所需的全部配置项。
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Exchange  ExchangeConfig  `mapstructure:"exchange"`
	Execution ExecutionConfig `mapstructure:"execution"`
	Account   AccountConfig   `mapstructure:"account"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// AppConfig 控制应用级参数。
type AppConfig struct {
	Environment string `mapstructure:"environment"`
}

// ExchangeConfig 描述交易所连接信息。
type ExchangeConfig struct {
	Name       string        `mapstructure:"name"`
	APIKey     string        `mapstructure:"api_key"`
	APISecret  string        `mapstructure:"api_secret"`
	UseSandbox bool          `mapstructure:"use_sandbox"`
	Timeout    time.Duration `mapstructure:"timeout"`
	Retry      RetryConfig   `mapstructure:"retry"`
}

// RetryConfig 控制只读查询的重试，下单永不重试。
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	MinDelay    time.Duration `mapstructure:"min_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// ExecutionConfig 控制下单与分批计划。
type ExecutionConfig struct {
	MaxPositionPct    float64       `mapstructure:"max_position_pct"`
	Leverage          float64       `mapstructure:"leverage"`
	MinNotional       float64       `mapstructure:"min_notional"`
	AbortOnFailure    bool          `mapstructure:"abort_on_failure"`
	CheckLimitBalance bool          `mapstructure:"check_limit_balance"`
	RulesCacheTTL     time.Duration `mapstructure:"rules_cache_ttl"`
	DryRun            bool          `mapstructure:"dry_run"`
}

// AccountConfig 控制账户快照缓存。
type AccountConfig struct {
	QuoteCurrency   string        `mapstructure:"quote_currency"`
	FallbackBalance float64       `mapstructure:"fallback_balance"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
}

// NotifyConfig 描述 Telegram 通知参数，token 或 chat_id 为空时通知关闭。
type NotifyConfig struct {
	TelegramToken  string        `mapstructure:"telegram_token"`
	TelegramChatID string        `mapstructure:"telegram_chat_id"`
	BaseURL        string        `mapstructure:"base_url"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

// ServerConfig 控制 HTTP 控制接口。
type ServerConfig struct {
	Addr           string   `mapstructure:"addr"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// LoggingConfig 控制日志输出。
type LoggingConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	Development      bool     `mapstructure:"development"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

// Validate 对配置进行基本校验。
func (c *Config) Validate() error {
	var err error

	if c.App.Environment == "" {
		err = multierr.Append(err, errors.New("app.environment 不能为空"))
	}
	if c.Exchange.Name == "" {
		err = multierr.Append(err, errors.New("exchange.name 不能为空"))
	}
	if !strings.EqualFold(c.Exchange.Name, "bybit") {
		err = multierr.Append(err, fmt.Errorf("exchange.name 仅支持 bybit，当前为 %q", c.Exchange.Name))
	}
	if c.Exchange.Timeout <= 0 {
		err = multierr.Append(err, errors.New("exchange.timeout 必须大于0"))
	}
	if c.Exchange.Retry.MaxAttempts <= 0 {
		err = multierr.Append(err, errors.New("exchange.retry.max_attempts 必须大于0"))
	}
	if c.Exchange.Retry.MinDelay <= 0 || c.Exchange.Retry.MaxDelay <= 0 {
		err = multierr.Append(err, errors.New("exchange.retry.delay 必须为正"))
	}
	if c.Exchange.Retry.MinDelay > c.Exchange.Retry.MaxDelay {
		err = multierr.Append(err, errors.New("exchange.retry.min_delay 不能大于 max_delay"))
	}
	if c.Execution.MaxPositionPct < 10 || c.Execution.MaxPositionPct > 100 {
		err = multierr.Append(err, errors.New("execution.max_position_pct 必须位于[10,100]"))
	}
	if c.Execution.Leverage <= 0 {
		err = multierr.Append(err, errors.New("execution.leverage 必须大于0"))
	}
	if c.Execution.MinNotional <= 0 {
		err = multierr.Append(err, errors.New("execution.min_notional 必须大于0"))
	}
	if c.Execution.RulesCacheTTL < 0 {
		err = multierr.Append(err, errors.New("execution.rules_cache_ttl 不能为负"))
	}
	if c.Account.QuoteCurrency == "" {
		err = multierr.Append(err, errors.New("account.quote_currency 不能为空"))
	}
	if c.Account.FallbackBalance < 0 {
		err = multierr.Append(err, errors.New("account.fallback_balance 不能为负"))
	}
	if c.Account.RefreshInterval <= 0 {
		err = multierr.Append(err, errors.New("account.refresh_interval 必须大于0"))
	}
	if c.Notify.Timeout <= 0 {
		err = multierr.Append(err, errors.New("notify.timeout 必须大于0"))
	}
	if c.Notify.BaseURL == "" {
		err = multierr.Append(err, errors.New("notify.base_url 不能为空"))
	}
	if c.Server.Addr == "" {
		err = multierr.Append(err, errors.New("server.addr 不能为空"))
	}
	if c.Logging.Level == "" {
		err = multierr.Append(err, errors.New("logging.level 不能为空"))
	}
	if c.Logging.Encoding == "" {
		err = multierr.Append(err, errors.New("logging.encoding 不能为空"))
	}
	if len(c.Logging.OutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.output_paths 至少包含一个输出目标"))
	}
	if len(c.Logging.ErrorOutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.error_output_paths 至少包含一个输出目标"))
	}

	if err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}

	return nil
}

// HasCredentials 判断是否配置了交易所 API 凭证。
func (c ExchangeConfig) HasCredentials() bool {
	return strings.TrimSpace(c.APIKey) != "" && strings.TrimSpace(c.APISecret) != ""
}

// Enabled 判断 Telegram 通知是否可用。
func (c NotifyConfig) Enabled() bool {
	return strings.TrimSpace(c.TelegramToken) != "" && strings.TrimSpace(c.TelegramChatID) != ""
}
