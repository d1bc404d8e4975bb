// Package testutil starts throwaway backing-store containers for
// integration tests. Each backend is started at most once per test binary
// and torn down when the tests finish; tests skip when Docker is not
// available rather than fail.
package testutil

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var (
	redisOnce sync.Once
	redisAddr string
	redisErr  error

	pgOnce sync.Once
	pgDSN  string
	pgErr  error

	mongoOnce sync.Once
	mongoURI  string
	mongoErr  error
)

// GetRedisAddress returns the host:port of a shared Redis container.
func GetRedisAddress(t *testing.T) string {
	t.Helper()

	redisOnce.Do(func() {
		// testcontainers panics (rather than returning an error) when no
		// Docker host can be discovered; convert that into the skip path.
		defer func() {
			if r := recover(); r != nil {
				redisErr = fmt.Errorf("docker unavailable: %v", r)
			}
		}()

		// Give generous timeout in CI environments
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
		defer cancel()

		redisC, err := testcontainers.Run(
			ctx, "redis:latest",
			testcontainers.WithExposedPorts("6379/tcp"),
			testcontainers.WithWaitStrategy(
				wait.ForListeningPort("6379/tcp"),
				wait.ForLog("Ready to accept connections"),
			),
		)
		if err != nil {
			redisErr = err
			return
		}

		t.Cleanup(func() {
			testcontainers.CleanupContainer(t, redisC)
		})

		endpoint, err := redisC.Endpoint(ctx, "")
		if err != nil {
			_ = redisC.Terminate(context.Background()) // best-effort cleanup
			redisErr = err
			return
		}
		redisAddr = endpoint
	})

	if redisErr != nil {
		t.Skipf("redis container unavailable: %v", redisErr)
	}
	return redisAddr
}

// GetPostgresDSN returns the DSN of a shared PostgreSQL container.
func GetPostgresDSN(t *testing.T) string {
	t.Helper()

	pgOnce.Do(func() {
		// testcontainers panics (rather than returning an error) when no
		// Docker host can be discovered; convert that into the skip path.
		defer func() {
			if r := recover(); r != nil {
				pgErr = fmt.Errorf("docker unavailable: %v", r)
			}
		}()

		// Give generous timeout in CI environments
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
		defer cancel()

		postgresC, err := testcontainers.Run(
			ctx, "postgres:16",
			testcontainers.WithExposedPorts("5432/tcp"),
			testcontainers.WithWaitStrategy(
				wait.ForAll(
					wait.ForListeningPort("5432/tcp"),
					wait.ForLog("ready to accept connections"),
					wait.ForSQL("5432/tcp", "pgx", func(host string, port nat.Port) string {
						return fmt.Sprintf("postgres://weft:weft@%s:%s/weft_test?sslmode=disable", host, port.Port())
					}).WithQuery("SELECT 1"),
				).WithDeadline(2*time.Minute),
			),
			testcontainers.WithEnv(map[string]string{
				"POSTGRES_USER":     "weft",
				"POSTGRES_PASSWORD": "weft",
				"POSTGRES_DB":       "weft_test",
			}),
		)
		if err != nil {
			pgErr = err
			return
		}

		t.Cleanup(func() {
			testcontainers.CleanupContainer(t, postgresC)
		})

		endpoint, err := postgresC.Endpoint(ctx, "")
		if err != nil {
			_ = postgresC.Terminate(context.Background()) // best-effort cleanup
			pgErr = err
			return
		}
		pgDSN = fmt.Sprintf("postgres://weft:weft@%s/weft_test?sslmode=disable", endpoint)
	})

	if pgErr != nil {
		t.Skipf("postgres container unavailable: %v", pgErr)
	}
	return pgDSN
}

// GetMongoURI returns the connection URI of a shared MongoDB container.
func GetMongoURI(t *testing.T) string {
	t.Helper()

	mongoOnce.Do(func() {
		// testcontainers panics (rather than returning an error) when no
		// Docker host can be discovered; convert that into the skip path.
		defer func() {
			if r := recover(); r != nil {
				mongoErr = fmt.Errorf("docker unavailable: %v", r)
			}
		}()

		// Give generous timeout in CI environments
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
		defer cancel()

		mongoC, err := testcontainers.Run(
			ctx, "mongo:7",
			testcontainers.WithExposedPorts("27017/tcp"),
			testcontainers.WithWaitStrategy(
				wait.ForListeningPort("27017/tcp"),
				wait.ForLog("mongod startup complete"),
			),
		)
		if err != nil {
			mongoErr = err
			return
		}

		t.Cleanup(func() {
			testcontainers.CleanupContainer(t, mongoC)
		})

		endpoint, err := mongoC.Endpoint(ctx, "")
		if err != nil {
			_ = mongoC.Terminate(context.Background()) // best-effort cleanup
			mongoErr = err
			return
		}
		mongoURI = fmt.Sprintf("mongodb://%s", endpoint)
	})

	if mongoErr != nil {
		t.Skipf("mongo container unavailable: %v", mongoErr)
	}
	return mongoURI
}
