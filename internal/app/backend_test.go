package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"example.com/streaks/internal/config"
	"example.com/streaks/internal/domain"
	"example.com/streaks/internal/logger"
)

func TestOpenBackendSQLite(t *testing.T) {
	ctx := context.Background()
	cfg := config.Config{
		StoreDriver:   config.DriverSQLite,
		SQLitePath:    filepath.Join(t.TempDir(), "data", "streaks.db"),
		OutboxEnabled: true,
		Timezone:      "UTC",
	}

	backend, err := OpenBackend(ctx, cfg, logger.NewNop())
	require.NoError(t, err)
	defer backend.Close()

	require.NoError(t, backend.RequireOutbox())
	require.NoError(t, backend.Store.Ping(ctx))

	svc, err := NewService(cfg, backend.Store, logger.NewNop())
	require.NoError(t, err)
	_, err = svc.RecordActivity(ctx, domain.ActivityInput{Description: "stretch", Type: "yoga", DurationMin: 15})
	require.NoError(t, err)

	messages, err := backend.Outbox.ClaimOutbox(ctx, 10)
	require.NoError(t, err)
	require.Len(t, messages, 1)
}

func TestOpenBackendMemoryHasNoOutbox(t *testing.T) {
	backend, err := OpenBackend(context.Background(), config.Config{StoreDriver: config.DriverMemory}, logger.NewNop())
	require.NoError(t, err)
	defer backend.Close()

	require.ErrorIs(t, backend.RequireOutbox(), ErrNoOutbox)
}

func TestOpenBackendUnknownDriver(t *testing.T) {
	_, err := OpenBackend(context.Background(), config.Config{StoreDriver: "mongo"}, logger.NewNop())
	require.Error(t, err)
}

func TestNewServiceRejectsBadZone(t *testing.T) {
	backend, err := OpenBackend(context.Background(), config.Config{StoreDriver: config.DriverMemory}, logger.NewNop())
	require.NoError(t, err)

	_, err = NewService(config.Config{Timezone: "Mars/Olympus_Mons"}, backend.Store, logger.NewNop())
	require.Error(t, err)
}
