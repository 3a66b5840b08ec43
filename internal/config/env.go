package config

import (
	"os"
	"strings"
)

const (
	EnvTelegramToken = "AUTOPOSTER_TELEGRAM_TOKEN"
	EnvBotToken      = "AUTOPOSTER_BOT_TOKEN"
)

// applyEnv overlays secrets from the environment. Values in the file win
// only when the variable is unset.
func applyEnv(cfg *Config) {
	if cfg == nil {
		return
	}
	if v := strings.TrimSpace(os.Getenv(EnvTelegramToken)); v != "" {
		cfg.Telegram.Token = v
	}
}

// BotTokenFromEnv returns the Discord bot credential override, if any.
func BotTokenFromEnv() string {
	return strings.TrimSpace(os.Getenv(EnvBotToken))
}
