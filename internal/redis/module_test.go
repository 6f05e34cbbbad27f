package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/railzwaylabs/membership/internal/config"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"
)

func TestNewClientDisabled(t *testing.T) {
	lc := fxtest.NewLifecycle(t)
	client, err := NewClient(lc, config.Config{}, zap.NewNop())
	require.NoError(t, err)
	require.Nil(t, client)
	require.Nil(t, NewRedsync(client))
}

func TestNewClientConnects(t *testing.T) {
	mr := miniredis.RunT(t)
	lc := fxtest.NewLifecycle(t)

	cfg := config.Config{Redis: config.RedisConfig{Enabled: true, Addr: mr.Addr()}}
	client, err := NewClient(lc, cfg, zap.NewNop())
	require.NoError(t, err)
	require.NotNil(t, client)

	lc.RequireStart()
	require.NoError(t, client.Set(context.Background(), "k", "v", 0).Err())
	require.NotNil(t, NewRedsync(client))
	lc.RequireStop()
}

func TestNewClientFailsWhenUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	cfg := config.Config{Redis: config.RedisConfig{Enabled: true, Addr: addr}}
	_, err := NewClient(fxtest.NewLifecycle(t), cfg, zap.NewNop())
	require.Error(t, err)
}
