package objectstore

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var (
	testRedisClient    *redis.Client
	testRedisContainer testcontainers.Container
	skipIntegration    bool
)

func TestMain(m *testing.M) {
	ctx := context.Background()

	var containerErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				containerErr = fmt.Errorf("docker not available: %v", r)
			}
		}()
		req := testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		}
		testRedisContainer, containerErr = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: req,
			Started:          true,
		})
	}()

	if containerErr != nil {
		fmt.Printf("Docker not available, integration tests will be skipped: %v\n", containerErr)
		skipIntegration = true
	} else {
		host, err := testRedisContainer.Host(ctx)
		if err != nil {
			skipIntegration = true
		} else {
			port, err := testRedisContainer.MappedPort(ctx, "6379")
			if err != nil {
				skipIntegration = true
			} else {
				testRedisClient = redis.NewClient(&redis.Options{Addr: host + ":" + port.Port()})
				if err := testRedisClient.Ping(ctx).Err(); err != nil {
					skipIntegration = true
				}
			}
		}
	}

	code := m.Run()

	if testRedisClient != nil {
		_ = testRedisClient.Close()
	}
	if testRedisContainer != nil {
		_ = testRedisContainer.Terminate(ctx)
	}

	os.Exit(code)
}

func getRedis(t *testing.T) *redis.Client {
	t.Helper()
	if skipIntegration {
		t.Skip("Docker not available, skipping integration test")
	}
	if err := testRedisClient.FlushDB(context.Background()).Err(); err != nil {
		t.Fatalf("failed to flush redis: %v", err)
	}
	return testRedisClient
}

func TestLocalStoreSignedURLRedemption(t *testing.T) {
	rdb := getRedis(t)
	ctx := context.Background()

	dir := t.TempDir()
	store, err := NewLocalStore(dir, "/storage/download", rdb)
	require.NoError(t, err)

	ptr, err := store.Put(ctx, PutInput{Key: "attachments/acct/2026-01-02/a1.pdf", Data: []byte("pdf-bytes")})
	require.NoError(t, err)

	url, err := store.SignedURL(ctx, ptr, 50*time.Millisecond)
	require.NoError(t, err)
	require.Contains(t, url, "/storage/download?token=")

	token := url[len("/storage/download?token="):]
	resolved, err := store.ResolveToken(ctx, token)
	require.NoError(t, err)
	require.Equal(t, ptr.Key, resolved.Key)

	time.Sleep(120 * time.Millisecond)
	_, err = store.ResolveToken(ctx, token)
	require.ErrorIs(t, err, ErrNotFound)
}
