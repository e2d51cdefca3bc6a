//go:build integration

package db

import (
	"context"
	"fmt"
	"log"
	"os"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var testDB *Client

// TestMain connects to ATOMAI_TEST_SURREALDB_URL when set, otherwise it
// starts a throwaway SurrealDB container for the package.
func TestMain(m *testing.M) {
	ctx := context.Background()

	url := os.Getenv("ATOMAI_TEST_SURREALDB_URL")
	var container testcontainers.Container
	if url == "" {
		var err error
		container, url, err = startSurreal(ctx)
		if err != nil {
			log.Fatalf("start surrealdb: %v", err)
		}
	}

	var err error
	testDB, err = NewClient(ctx, Config{
		URL:       url,
		Namespace: "atom_test",
		Database:  "ai_test",
		Username:  "root",
		Password:  "root",
		AuthLevel: AuthRoot,
	}, nil)
	if err != nil {
		log.Fatalf("connect job store: %v", err)
	}
	if err := testDB.InitSchema(ctx); err != nil {
		log.Fatalf("init schema: %v", err)
	}

	code := m.Run()

	_ = testDB.Close(ctx)
	if container != nil {
		_ = container.Terminate(ctx)
	}
	os.Exit(code)
}

func startSurreal(ctx context.Context) (testcontainers.Container, string, error) {
	// ryuk cannot start in some CI sandboxes
	os.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "surrealdb/surrealdb:v3.0.0-beta.1",
			ExposedPorts: []string{"8000/tcp"},
			Cmd:          []string{"start", "--log", "info", "--user", "root", "--pass", "root"},
			WaitingFor:   wait.ForLog("Started web server").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		return nil, "", err
	}
	host, err := c.Host(ctx)
	if err != nil {
		return c, "", err
	}
	if host == "" || host == "null" {
		host = "localhost"
	}
	port, err := c.MappedPort(ctx, "8000")
	if err != nil {
		return c, "", err
	}
	return c, fmt.Sprintf("ws://%s:%s/rpc", host, port.Port()), nil
}

// wipe empties the store so each test starts clean.
func wipe(t *testing.T) {
	t.Helper()
	if err := testDB.WipeData(context.Background()); err != nil {
		t.Fatalf("wipe: %v", err)
	}
}
