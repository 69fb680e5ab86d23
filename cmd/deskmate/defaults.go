package main

import (
	"time"

	"github.com/spf13/viper"
)

func initViperDefaults() {
	// Database
	viper.SetDefault("db.driver", "sqlite")
	viper.SetDefault("db.dsn", "")
	viper.SetDefault("db.auto_migrate", true)
	viper.SetDefault("db.pool.max_open_conns", 0)
	viper.SetDefault("db.pool.max_idle_conns", 0)
	viper.SetDefault("db.pool.conn_max_lifetime", time.Duration(0))
	viper.SetDefault("db.sqlite.busy_timeout_ms", 5000)
	viper.SetDefault("db.sqlite.wal", true)
	viper.SetDefault("db.sqlite.foreign_keys", true)

	// HTTP server
	viper.SetDefault("server.bind", "127.0.0.1")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.auth_token", "")
	viper.SetDefault("server.public_url", "")

	// LLM
	viper.SetDefault("llm.provider", "openai")
	viper.SetDefault("llm.uniai_provider", "openai")
	viper.SetDefault("llm.endpoint", "https://api.openai.com")
	viper.SetDefault("llm.api_key", "")
	viper.SetDefault("llm.model", "gpt-4o-mini")
	viper.SetDefault("llm.request_timeout", 60*time.Second)
	viper.SetDefault("llm.probe_timeout", 10*time.Second)
	viper.SetDefault("llm.anthropic_api_key", "")
	viper.SetDefault("llm.ollama_host", "http://127.0.0.1:11434")

	// Channels
	viper.SetDefault("telegram.api_base", "https://api.telegram.org")
	viper.SetDefault("telegram.bot_username", "")
	viper.SetDefault("whatsapp.api_url", "https://graph.facebook.com")
	viper.SetDefault("whatsapp.api_version", "v18.0")
	viper.SetDefault("whatsapp.app_secret", "")
	viper.SetDefault("whatsapp.verify_token", "")

	// Pipeline
	viper.SetDefault("pipeline.history_limit", 5)
	viper.SetDefault("pipeline.workers", 4)
	viper.SetDefault("pipeline.queue_size", 256)
	viper.SetDefault("pipeline.attempts", 3)
	viper.SetDefault("pipeline.backoff", 5*time.Second)
	viper.SetDefault("conversation.guard_transitions", false)

	// Delivery
	viper.SetDefault("delivery.workers", 4)
	viper.SetDefault("delivery.queue_size", 256)
	viper.SetDefault("delivery.attempts", 3)
	viper.SetDefault("delivery.send_backoff", 10*time.Second)
	viper.SetDefault("delivery.notify_backoff", 15*time.Second)
	viper.SetDefault("delivery.dead_letter_path", "./deskmate-deadletter.jsonl")
	viper.SetDefault("delivery.dead_letter_max_bytes", int64(50*1024*1024))

	// Logging
	viper.SetDefault("logging.format", "text")
	viper.SetDefault("logging.add_source", false)
	viper.SetDefault("logging.file", "")
	viper.SetDefault("trace", false)
}
