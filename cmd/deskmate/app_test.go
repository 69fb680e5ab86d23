package main

import (
	"testing"

	"github.com/quailyquaily/deskmate/providers/openai"
	"github.com/quailyquaily/deskmate/providers/uniai"
	"github.com/spf13/viper"
)

func TestLLMClientFromViper(t *testing.T) {
	t.Cleanup(viper.Reset)
	initViperDefaults()

	client, err := llmClientFromViper()
	if err != nil {
		t.Fatalf("llmClientFromViper() error = %v", err)
	}
	if _, ok := client.(*openai.Client); !ok {
		t.Fatalf("default provider client = %T, want *openai.Client", client)
	}

	viper.Set("llm.provider", "uniai")
	client, err = llmClientFromViper()
	if err != nil {
		t.Fatalf("llmClientFromViper(uniai) error = %v", err)
	}
	if _, ok := client.(*uniai.Client); !ok {
		t.Fatalf("uniai provider client = %T, want *uniai.Client", client)
	}

	viper.Set("llm.provider", "carrier-pigeon")
	if _, err := llmClientFromViper(); err == nil {
		t.Fatalf("llmClientFromViper() expected error for unknown provider")
	}
}

func TestDBConfigFromViper(t *testing.T) {
	t.Cleanup(viper.Reset)
	initViperDefaults()
	viper.Set("db.driver", "postgres")
	viper.Set("db.dsn", "postgres://localhost/deskmate")
	viper.Set("db.pool.max_open_conns", 10)

	cfg := dbConfigFromViper()
	if cfg.Driver != "postgres" || cfg.DSN != "postgres://localhost/deskmate" || cfg.Pool.MaxOpenConns != 10 {
		t.Fatalf("dbConfigFromViper() = %+v", cfg)
	}
	if !cfg.AutoMigrate || !cfg.SQLite.WAL {
		t.Fatalf("defaults lost: %+v", cfg)
	}
}
