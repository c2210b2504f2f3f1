// Package config 全局配置加载与管理。
//
// 所有字段通过 struct tag 声明环境变量映射:
//
//	`env:"VAR_NAME" default:"value" min:"0"`
//
// Load() 使用反射自动填充，无需手动逐行赋值。
package config

import (
	"github.com/Liyunlun/message-bridge-opencode-plugin/pkg/util"
)

// Config 应用全局配置，字段名与 .env 变量一一对应。
type Config struct {
	// OpenCode 事件源
	OpenCodeURL          string `env:"OPENCODE_URL" default:"ws://127.0.0.1:4096/event"`
	OpenCodeGlobalURL    string `env:"OPENCODE_GLOBAL_URL"`
	OpenCodeAPIBase      string `env:"OPENCODE_API_BASE" default:"http://127.0.0.1:4096"`
	OpenCodeDialTimeout  int    `env:"OPENCODE_DIAL_TIMEOUT_SEC" default:"5" min:"1"`
	OpenCodeIdleTimeout  int    `env:"OPENCODE_IDLE_TIMEOUT_SEC" default:"120" min:"10"`
	OpenCodePromptExpiry int    `env:"OPENCODE_PROMPT_TIMEOUT_SEC" default:"60" min:"1"`

	// 聊天平台凭据 (留空即禁用对应适配器)
	TGBotToken      string `env:"TG_BOT_TOKEN"`
	TGAllowedChatID string `env:"TG_ALLOWED_CHAT_ID"`
	FeishuAppID     string `env:"FEISHU_APP_ID"`
	FeishuAppSecret string `env:"FEISHU_APP_SECRET"`
	FeishuAPIBase   string `env:"FEISHU_API_BASE" default:"https://open.feishu.cn"`

	// 投递节流 (毫秒, 覆盖默认供应商策略时使用)
	UpdateIntervalMS int `env:"BRIDGE_UPDATE_INTERVAL_MS" default:"500" min:"50"`

	// 授权等待
	AuthTimeoutMin int `env:"BRIDGE_AUTH_TIMEOUT_MIN" default:"15" min:"1"`

	// 巡检: 终态缓冲保留时长 (分钟)
	SweepRetentionMin float64 `env:"BRIDGE_SWEEP_RETENTION_MIN" default:"10" min:"1"`

	// 无平台凭据时是否回退到控制台适配器
	ConsoleFallback bool `env:"BRIDGE_CONSOLE_FALLBACK" default:"true"`

	// 调试面板 (0 = 禁用)
	DashboardPort int `env:"BRIDGE_DASHBOARD_PORT" default:"0" min:"0"`

	// 日志
	LogLevel string `env:"LOG_LEVEL" default:"INFO"`
	LogDir   string `env:"LOG_DIR"`
}

// Load 从环境变量加载配置 (通过反射读取 struct tag)。
func Load() *Config {
	var cfg Config
	util.LoadFromEnv(&cfg)
	return &cfg
}
