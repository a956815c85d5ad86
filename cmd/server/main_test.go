package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/iliyamo/live-commerce/internal/commerce"
)

func TestLoadConfigFailureIsConfigurationError(t *testing.T) {
	t.Setenv("JWT_SECRET", "jwt-secret")
	t.Setenv("LIVEKIT_API_KEY", "APIkey")
	t.Setenv("LIVEKIT_API_SECRET", "livekit-secret")
	t.Setenv("STORE_DRIVER", "cassandra")

	_, err := loadConfig()
	require.Error(t, err)
	require.Equal(t, commerce.KindConfiguration, commerce.KindOf(err))
	require.ErrorContains(t, err, "STORE_DRIVER")
}

func TestLoadConfigMemoryMode(t *testing.T) {
	t.Setenv("JWT_SECRET", "jwt-secret")
	t.Setenv("LIVEKIT_API_KEY", "APIkey")
	t.Setenv("LIVEKIT_API_SECRET", "livekit-secret")
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("ROOM_PROVIDER", "memory")

	cfg, err := loadConfig()
	require.NoError(t, err)
	require.Equal(t, "memory", cfg.Store)
	require.Equal(t, "memory", cfg.RoomProvider)
}
