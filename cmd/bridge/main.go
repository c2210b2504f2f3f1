// cmd/bridge — OpenCode ↔ 聊天平台桥接主入口。
package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/Liyunlun/message-bridge-opencode-plugin/internal/bridge"
	"github.com/Liyunlun/message-bridge-opencode-plugin/internal/config"
	"github.com/Liyunlun/message-bridge-opencode-plugin/internal/console"
	"github.com/Liyunlun/message-bridge-opencode-plugin/internal/dashboard"
	"github.com/Liyunlun/message-bridge-opencode-plugin/internal/feishu"
	"github.com/Liyunlun/message-bridge-opencode-plugin/internal/opencode"
	"github.com/Liyunlun/message-bridge-opencode-plugin/internal/telegram"
	"github.com/Liyunlun/message-bridge-opencode-plugin/pkg/logger"
	"github.com/Liyunlun/message-bridge-opencode-plugin/pkg/util"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// .env 缺失不致命, 环境变量可能已由外部注入
	_ = godotenv.Load()

	cfg := config.Load()
	logger.Init(cfg.LogLevel)
	if cfg.LogDir != "" {
		if err := logger.InitWithFile(cfg.LogDir); err != nil {
			logger.Warn("file logging unavailable", logger.FieldError, err)
		}
		defer logger.ShutdownFileHandler()
	}

	client := opencode.NewWSClient(cfg.OpenCodeURL, cfg.OpenCodeGlobalURL, cfg.OpenCodeAPIBase)
	client.DialTimeout = time.Duration(cfg.OpenCodeDialTimeout) * time.Second
	client.IdleTimeout = time.Duration(cfg.OpenCodeIdleTimeout) * time.Second
	client.PromptTimeout = time.Duration(cfg.OpenCodePromptExpiry) * time.Second
	mux := bridge.NewMux()
	br := bridge.New(cfg, client, mux)

	if cfg.TGBotToken != "" {
		tg := telegram.New(cfg.TGBotToken, cfg.TGAllowedChatID)
		mux.Register("telegram", tg)
		util.SafeGo("telegram-poll", func() {
			tg.Poll(ctx, func(c context.Context, chatID, senderID, messageID, text string) {
				br.HandleIncoming(c, "telegram", chatID, senderID, messageID, text)
			})
		})
	}

	if cfg.FeishuAppID != "" && cfg.FeishuAppSecret != "" {
		fs := feishu.New(cfg.FeishuAppID, cfg.FeishuAppSecret, cfg.FeishuAPIBase)
		mux.Register("feishu", fs)
	}

	if mux.Len() == 0 && cfg.ConsoleFallback {
		co := console.New()
		mux.Register("console", co)
		util.SafeGo("console-read", func() {
			co.ReadLoop(ctx, func(c context.Context, chatID, senderID, messageID, text string) {
				br.HandleIncoming(c, "console", chatID, senderID, messageID, text)
			})
		})
		logger.Info("no platform credentials, console adapter active")
	}

	var srv *dashboard.Server
	if cfg.DashboardPort > 0 {
		srv = dashboard.NewServer(br, mux)
		br.EventSink = srv.Bus().PublishObserved
		util.SafeGo("dashboard", func() {
			if err := srv.Start(fmt.Sprintf(":%d", cfg.DashboardPort)); err != nil {
				logger.Error("dashboard stopped", logger.FieldError, err)
			}
		})
	}

	var publisher bridge.RuntimePublisher
	if srv != nil {
		publisher = srv.Bus()
	}
	jan := bridge.NewJanitor(br, publisher)
	jan.SetRetention(time.Duration(cfg.SweepRetentionMin * float64(time.Minute)))
	jan.Start(ctx)

	if err := br.Start(ctx); err != nil {
		logger.Fatal("bridge start failed", logger.FieldError, err)
	}
	logger.Infow("bridge running",
		logger.FieldURL, cfg.OpenCodeURL,
		logger.FieldCount, mux.Len(),
	)

	<-ctx.Done()
	logger.Info("shutting down")

	br.Stop()
	if srv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("dashboard shutdown failed", logger.FieldError, err)
		}
	}
}
