package config

import (
	"github.com/knadh/koanf/providers/confmap"
)

func DefaultConfig() map[string]interface{} {
	return map[string]interface{}{
		"app": map[string]interface{}{
			"http_addr": ":8080",
		},
		"log": map[string]interface{}{
			"level":  "info",
			"format": "json",
		},
		"database": map[string]interface{}{
			"driver":            DriverPostgres,
			"url":               "",
			"max_idle_conns":    10,
			"max_open_conns":    25,
			"conn_max_lifetime": "30m",
		},
		"scheduler": map[string]interface{}{
			"enabled":     true,
			"spec":        "@every 1m",
			"timezone":    "UTC",
			"concurrency": 4,
			"follow_up":   true,
		},
		"dispatch": map[string]interface{}{
			"channel_timeout":    "15s",
			"generation_timeout": "10s",
			"max_retries":        3,
			"retry_backoff":      "5m",
			"follow_up_batch":    100,
			"lock_ttl":           "5m",
		},
		"channel": map[string]interface{}{
			"provider": ChannelTwilio,
		},
		"twilio": map[string]interface{}{
			"account_sid":     "",
			"auth_token":      "",
			"phone_number":    "",
			"whatsapp_number": "",
		},
		"telegram": map[string]interface{}{
			"bot_token": "",
			"base_url":  "https://api.telegram.org",
		},
		"textgen": map[string]interface{}{
			"provider": TextGenNone,
		},
		"deepseek": map[string]interface{}{
			"api_key":     "",
			"model":       "deepseek-chat",
			"max_tokens":  256,
			"temperature": 0.7,
		},
		"redis": map[string]interface{}{
			"addr":     "",
			"password": "",
		},
	}
}

func NewDefaultProvider() *confmap.Confmap {
	return confmap.Provider(DefaultConfig(), ".")
}
