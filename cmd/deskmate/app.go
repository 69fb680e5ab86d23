package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/quailyquaily/deskmate/completion"
	"github.com/quailyquaily/deskmate/db"
	"github.com/quailyquaily/deskmate/internal/logutil"
	"github.com/quailyquaily/deskmate/internal/metrics"
	"github.com/quailyquaily/deskmate/llm"
	"github.com/quailyquaily/deskmate/providers/langchain"
	"github.com/quailyquaily/deskmate/providers/openai"
	"github.com/quailyquaily/deskmate/providers/uniai"
	"github.com/quailyquaily/deskmate/store"
	"github.com/spf13/viper"
	"gorm.io/gorm"
)

// app holds what every subcommand needs: a logger and the store.
type app struct {
	logger   *slog.Logger
	db       *gorm.DB
	store    *store.GormStore
	closeLog func() error
}

func newApp(ctx context.Context) (*app, error) {
	logger, closeLog, err := logutil.LoggerFromViper()
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)

	gdb, err := db.Open(ctx, dbConfigFromViper())
	if err != nil {
		_ = closeLog()
		return nil, err
	}
	s, err := store.NewGormStore(gdb)
	if err != nil {
		_ = db.Close(gdb)
		_ = closeLog()
		return nil, err
	}
	return &app{logger: logger, db: gdb, store: s, closeLog: closeLog}, nil
}

func (a *app) Close() {
	if err := db.Close(a.db); err != nil {
		a.logger.Warn("db_close_failed", "error", err.Error())
	}
	_ = a.closeLog()
}

func dbConfigFromViper() db.Config {
	cfg := db.DefaultConfig()
	cfg.Driver = viper.GetString("db.driver")
	cfg.DSN = viper.GetString("db.dsn")
	cfg.AutoMigrate = viper.GetBool("db.auto_migrate")
	cfg.Pool.MaxOpenConns = viper.GetInt("db.pool.max_open_conns")
	cfg.Pool.MaxIdleConns = viper.GetInt("db.pool.max_idle_conns")
	cfg.Pool.ConnMaxLifetime = viper.GetDuration("db.pool.conn_max_lifetime")
	cfg.SQLite.BusyTimeoutMs = viper.GetInt("db.sqlite.busy_timeout_ms")
	cfg.SQLite.WAL = viper.GetBool("db.sqlite.wal")
	cfg.SQLite.ForeignKeys = viper.GetBool("db.sqlite.foreign_keys")
	return cfg
}

func llmClientFromViper() (llm.Client, error) {
	provider := strings.ToLower(strings.TrimSpace(viper.GetString("llm.provider")))
	apiKey := strings.TrimSpace(viper.GetString("llm.api_key"))
	endpoint := strings.TrimSpace(viper.GetString("llm.endpoint"))
	model := strings.TrimSpace(viper.GetString("llm.model"))
	timeout := viper.GetDuration("llm.request_timeout")

	switch provider {
	case "", "openai":
		return openai.New(endpoint, apiKey, timeout), nil
	case "uniai":
		return uniai.New(uniai.Config{
			Provider:       viper.GetString("llm.uniai_provider"),
			Endpoint:       endpoint,
			APIKey:         apiKey,
			Model:          model,
			RequestTimeout: timeout,
			Debug:          viper.GetBool("trace"),
		}), nil
	case "langchain-openai":
		return langchain.New(langchain.Config{
			Provider: langchain.ProviderOpenAI,
			Model:    model,
			APIKey:   apiKey,
			BaseURL:  endpoint,
		})
	case langchain.ProviderOllama:
		return langchain.New(langchain.Config{
			Provider:   langchain.ProviderOllama,
			Model:      model,
			OllamaHost: viper.GetString("llm.ollama_host"),
		})
	case langchain.ProviderAnthropic:
		key := strings.TrimSpace(viper.GetString("llm.anthropic_api_key"))
		if key == "" {
			key = apiKey
		}
		return langchain.New(langchain.Config{
			Provider: langchain.ProviderAnthropic,
			Model:    model,
			APIKey:   key,
		})
	default:
		return nil, fmt.Errorf("unsupported llm.provider: %s", provider)
	}
}

func completionFromViper(logger *slog.Logger, m *metrics.Metrics) (*completion.Backend, error) {
	client, err := llmClientFromViper()
	if err != nil {
		return nil, err
	}
	return completion.New(completion.Options{
		Client:       client,
		Logger:       logger,
		Metrics:      m,
		Timeout:      viper.GetDuration("llm.request_timeout"),
		ProbeTimeout: viper.GetDuration("llm.probe_timeout"),
	})
}
