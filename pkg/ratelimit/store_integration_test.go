//go:build integration

package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedis starts a Redis container and returns a client.
func setupRedis(t *testing.T) (*redis.Client, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	endpoint, err := redisContainer.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("Failed to get Redis endpoint: %v", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr: endpoint,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("Failed to connect to Redis: %v", err)
	}

	cleanup := func() {
		client.Close()
		redisContainer.Terminate(ctx)
	}

	return client, cleanup
}

func TestRedisStore_Integration_PauseRoundtrip(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	ctx := context.Background()
	store := NewRedisStore(redisClient)

	deadline, err := store.PausedUntil(ctx)
	if err != nil {
		t.Fatalf("PausedUntil failed: %v", err)
	}
	if !deadline.IsZero() {
		t.Errorf("Fresh store deadline = %v, want zero", deadline)
	}

	want := time.Now().Add(30 * time.Second).Truncate(time.Millisecond)
	if err := store.SetPause(ctx, want); err != nil {
		t.Fatalf("SetPause failed: %v", err)
	}

	got, err := store.PausedUntil(ctx)
	if err != nil {
		t.Fatalf("PausedUntil failed: %v", err)
	}
	if !got.Equal(want) {
		t.Errorf("PausedUntil = %v, want %v", got, want)
	}
}

func TestRedisStore_Integration_SharedAcrossStores(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	ctx := context.Background()
	writer := NewRedisStore(redisClient)
	reader := NewRedisStore(redisClient)

	want := time.Now().Add(time.Minute).Truncate(time.Millisecond)
	if err := writer.SetPause(ctx, want); err != nil {
		t.Fatalf("SetPause failed: %v", err)
	}

	got, err := reader.PausedUntil(ctx)
	if err != nil {
		t.Fatalf("PausedUntil failed: %v", err)
	}
	if !got.Equal(want) {
		t.Errorf("Second store sees %v, want %v", got, want)
	}
}

func TestRedisStore_Integration_ExpiresAfterDeadline(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	ctx := context.Background()
	store := NewRedisStore(redisClient)

	if err := store.SetPause(ctx, time.Now().Add(200*time.Millisecond)); err != nil {
		t.Fatalf("SetPause failed: %v", err)
	}

	time.Sleep(400 * time.Millisecond)

	deadline, err := store.PausedUntil(ctx)
	if err != nil {
		t.Fatalf("PausedUntil failed: %v", err)
	}
	if !deadline.IsZero() {
		t.Errorf("Expired pause still visible: %v", deadline)
	}
}
