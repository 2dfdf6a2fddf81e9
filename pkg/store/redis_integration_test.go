//go:build integration

package store

import (
	"context"
	"testing"

	"github.com/Sternrassler/market-price-cache/pkg/quote"
	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedisContainer starts a real Redis for integration testing.
func setupRedisContainer(t *testing.T) *redis.Client {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}
	t.Cleanup(func() { container.Terminate(ctx) })

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr: host + ":" + port.Port(),
	})
	t.Cleanup(func() { redisClient.Close() })

	return redisClient
}

func TestRedisStore_Integration(t *testing.T) {
	s, err := NewRedisStore(setupRedisContainer(t), "it:quotes")
	if err != nil {
		t.Fatalf("NewRedisStore failed: %v", err)
	}

	testStoreContract(t, s)
}

func TestRedisStore_IntegrationLargeSave(t *testing.T) {
	redisClient := setupRedisContainer(t)
	s, _ := NewRedisStore(redisClient, "it:large")
	ctx := context.Background()

	quotes := make([]*quote.Quote, 0, 2000)
	for i := uint32(1); i <= 1000; i++ {
		quotes = append(quotes, sampleQuote(i, 21, float64(i)), sampleQuote(i, 22, float64(i)))
	}
	if err := s.SaveAll(ctx, quotes); err != nil {
		t.Fatalf("SaveAll failed: %v", err)
	}

	n, err := redisClient.HLen(ctx, "it:large").Result()
	if err != nil {
		t.Fatalf("HLEN failed: %v", err)
	}
	if n != 2000 {
		t.Errorf("hash holds %d fields, want 2000", n)
	}

	loaded, err := s.LoadAll(ctx)
	if err != nil {
		t.Fatalf("LoadAll failed: %v", err)
	}
	if len(loaded) != 2000 {
		t.Errorf("LoadAll returned %d quotes, want 2000", len(loaded))
	}
}
