package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/milopalmaerts/Crypto/internal/gateway"
	"github.com/milopalmaerts/Crypto/internal/storage"
	"github.com/milopalmaerts/Crypto/pkg/logger"
)

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

type brokenStore struct {
	*storage.MemoryStore
}

func (brokenStore) Ping(context.Context) error { return errors.New("connection refused") }

type indexedStore struct {
	*storage.MemoryStore
	missing []string
}

func (s indexedStore) MissingIndexes(context.Context) ([]string, error) { return s.missing, nil }

func TestHealthService_CheckStorage(t *testing.T) {
	ctx := context.Background()

	check := NewHealthService(storage.NewMemoryStore(), nil, nil).CheckStorage(ctx)
	assert.Equal(t, HealthStatusHealthy, check.Status)
	assert.Equal(t, "storage:memory", check.Service)

	check = NewHealthService(brokenStore{storage.NewMemoryStore()}, nil, nil).CheckStorage(ctx)
	assert.Equal(t, HealthStatusUnhealthy, check.Status)
	assert.Contains(t, check.Message, "connection refused")

	check = NewHealthService(indexedStore{storage.NewMemoryStore(), []string{"holdings.user_created"}}, nil, nil).CheckStorage(ctx)
	assert.Equal(t, HealthStatusDegraded, check.Status)
	assert.Contains(t, check.Message, "user_created")
}

func TestHealthService_CheckCache(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()

	assert.Equal(t, HealthStatusHealthy, NewHealthService(store, nil, nil).CheckCache(ctx).Status)

	ok := pingerFunc(func(context.Context) error { return nil })
	assert.Equal(t, HealthStatusHealthy, NewHealthService(store, ok, nil).CheckCache(ctx).Status)

	down := pingerFunc(func(context.Context) error { return errors.New("dial tcp: refused") })
	check := NewHealthService(store, down, nil).CheckCache(ctx)
	assert.Equal(t, HealthStatusDegraded, check.Status)
}

func TestHealthService_CheckGateway(t *testing.T) {
	gw := gateway.New(gateway.Config{FailureThreshold: 1, CooldownDuration: time.Minute},
		gateway.WithLogger(&logger.Logger{Logger: zap.NewNop()}))
	hs := NewHealthService(storage.NewMemoryStore(), nil, gw)

	assert.Equal(t, HealthStatusHealthy, hs.CheckGateway().Status)

	_, err := gw.Do(context.Background(), func(context.Context) (interface{}, error) {
		return nil, fmt.Errorf("coins: %w", gateway.ErrRateLimited)
	})
	require.ErrorIs(t, err, gateway.ErrRateLimited)

	check := hs.CheckGateway()
	assert.Equal(t, HealthStatusDegraded, check.Status)
	assert.Contains(t, check.Message, "cooling down")

	checks := hs.GetDetailedHealth(context.Background())
	assert.Len(t, checks, 3)
	assert.Equal(t, HealthStatusDegraded, OverallStatus(checks))

	gw.Close()
	assert.Equal(t, HealthStatusUnhealthy, hs.CheckGateway().Status)
}

func TestOverallStatus(t *testing.T) {
	healthy := &HealthCheck{Status: HealthStatusHealthy}
	degraded := &HealthCheck{Status: HealthStatusDegraded}
	unhealthy := &HealthCheck{Status: HealthStatusUnhealthy}

	assert.Equal(t, HealthStatusHealthy, OverallStatus(map[string]*HealthCheck{"a": healthy}))
	assert.Equal(t, HealthStatusDegraded, OverallStatus(map[string]*HealthCheck{"a": healthy, "b": degraded}))
	assert.Equal(t, HealthStatusUnhealthy, OverallStatus(map[string]*HealthCheck{"a": degraded, "b": unhealthy}))
}
