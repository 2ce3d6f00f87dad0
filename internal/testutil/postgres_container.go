package testutil

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var (
	postgresOnce sync.Once
	postgresDSN  string
	postgresErr  error
)

// PostgresDSN starts a shared postgres container on first use and returns a
// connection string for it. Skipped like RedisAddress.
func PostgresDSN(t *testing.T) string {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping postgres container in short mode")
	}

	postgresOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
		defer cancel()

		c, err := testcontainers.Run(
			ctx, "postgres:16-alpine",
			testcontainers.WithExposedPorts("5432/tcp"),
			testcontainers.WithEnv(map[string]string{
				"POSTGRES_USER":     "taskgate",
				"POSTGRES_PASSWORD": "taskgate",
				"POSTGRES_DB":       "taskgate",
			}),
			testcontainers.WithWaitStrategy(
				wait.ForListeningPort("5432/tcp"),
				wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
			),
		)
		if err != nil {
			postgresErr = err
			return
		}

		endpoint, err := c.Endpoint(ctx, "")
		if err != nil {
			_ = c.Terminate(context.Background())
			postgresErr = err
			return
		}
		postgresDSN = fmt.Sprintf("postgres://taskgate:taskgate@%s/taskgate?sslmode=disable", endpoint)
	})

	if postgresErr != nil {
		t.Skipf("postgres container unavailable: %v", postgresErr)
	}
	return postgresDSN
}
