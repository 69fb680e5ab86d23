//go:build integration

package store

import (
	"context"
	"log"
	"os"
	"testing"
	"time"

	"github.com/quailyquaily/deskmate/db"
	"github.com/quailyquaily/deskmate/db/models"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
)

var pgStore *GormStore

// TestMain starts one Postgres container for the integration suite.
func TestMain(m *testing.M) {
	os.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")

	ctx := context.Background()
	ctr, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("deskmate"),
		tcpostgres.WithUsername("deskmate"),
		tcpostgres.WithPassword("deskmate"),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		log.Fatalf("start postgres container: %v", err)
	}
	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		log.Fatalf("postgres dsn: %v", err)
	}

	cfg := db.DefaultConfig()
	cfg.Driver = db.DriverPostgres
	cfg.DSN = dsn
	cfg.Pool.MaxOpenConns = 8
	cfg.Pool.MaxIdleConns = 4
	gdb, err := db.Open(ctx, cfg)
	if err != nil {
		log.Fatalf("open postgres: %v", err)
	}
	pgStore, err = NewGormStore(gdb)
	if err != nil {
		log.Fatalf("new store: %v", err)
	}

	code := m.Run()

	_ = db.Close(gdb)
	_ = testcontainers.TerminateContainer(ctr)
	os.Exit(code)
}

func TestPostgresOneActiveConversationPerClient(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	b := models.Business{Name: "PG Cafe", Slug: "pg-cafe", IsActive: true}
	require.NoError(t, pgStore.SaveBusiness(ctx, &b))
	c, err := pgStore.ResolveClient(ctx, ClientIdentity{BusinessID: b.ID, Platform: "whatsapp", ExternalID: "+15550100"})
	require.NoError(t, err)

	results := make(chan uint, 6)
	errs := make(chan error, 6)
	for i := 0; i < 6; i++ {
		go func() {
			conv, err := pgStore.ResolveConversation(ctx, b.ID, c.ID, map[string]any{"stage": "initial"})
			if err != nil {
				errs <- err
				return
			}
			results <- conv.ID
		}()
	}
	var first uint
	for i := 0; i < 6; i++ {
		select {
		case err := <-errs:
			t.Fatalf("ResolveConversation() error = %v", err)
		case id := <-results:
			if first == 0 {
				first = id
			}
			require.Equal(t, first, id)
		}
	}
}

func TestPostgresActivateConfiguration(t *testing.T) {
	ctx := context.Background()
	b := models.Business{Name: "PG Bar", Slug: "pg-bar", IsActive: true}
	require.NoError(t, pgStore.SaveBusiness(ctx, &b))

	a := models.GptConfiguration{BusinessID: b.ID, Name: "a", Model: "gpt-4o-mini"}
	z := models.GptConfiguration{BusinessID: b.ID, Name: "z", Model: "gpt-4o"}
	require.NoError(t, pgStore.CreateConfiguration(ctx, &a))
	require.NoError(t, pgStore.CreateConfiguration(ctx, &z))
	require.NoError(t, pgStore.ActivateConfiguration(ctx, b.ID, a.ID))
	require.NoError(t, pgStore.ActivateConfiguration(ctx, b.ID, z.ID))

	active, ok, err := pgStore.ActiveConfiguration(ctx, b.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, z.ID, active.ID)
}
