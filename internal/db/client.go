// Package db stores AI batch, job, NER and suggestion state in SurrealDB over
// an auto-reconnecting WebSocket.
package db

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/surrealdb/surrealdb.go"
	"github.com/surrealdb/surrealdb.go/contrib/rews"
	"github.com/surrealdb/surrealdb.go/pkg/connection"
	"github.com/surrealdb/surrealdb.go/pkg/connection/gorillaws"
	"github.com/surrealdb/surrealdb.go/pkg/logger"
	"github.com/surrealdb/surrealdb.go/surrealcbor"

	"github.com/raphaelgruber/atom-ai/internal/metrics"
)

func init() {
	// WSS upgrades break when ALPN negotiates HTTP/2.
	gorillaws.DefaultDialer.TLSClientConfig = &tls.Config{
		NextProtos: []string{"http/1.1"},
	}
}

// Sign-in scopes accepted in Config.AuthLevel.
const (
	AuthRoot      = "root"
	AuthNamespace = "namespace"
	AuthDatabase  = "database"
)

// Config holds SurrealDB connection configuration.
type Config struct {
	URL       string
	Namespace string
	Database  string
	Username  string
	Password  string
	AuthLevel string // AuthRoot (default), AuthNamespace or AuthDatabase
}

func (cfg Config) auth() (surrealdb.Auth, error) {
	a := surrealdb.Auth{Username: cfg.Username, Password: cfg.Password}
	switch cfg.AuthLevel {
	case "", AuthRoot:
	case AuthNamespace:
		a.Namespace = cfg.Namespace
	case AuthDatabase:
		a.Namespace = cfg.Namespace
		a.Database = cfg.Database
	default:
		return a, fmt.Errorf("unknown auth level %q", cfg.AuthLevel)
	}
	return a, nil
}

// Client is the SurrealDB job store.
type Client struct {
	conn    *rews.Connection[*gorillaws.Connection]
	db      *surrealdb.DB
	cfg     Config
	logger  logger.Logger
	metrics *metrics.Collector
}

// NewClient dials SurrealDB, signs in and selects the namespace and database.
// Dropped connections are re-established with exponential backoff.
func NewClient(ctx context.Context, cfg Config, log *slog.Logger) (*Client, error) {
	auth, err := cfg.auth()
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	sdkLogger := logger.New(log.With("component", "surrealdb").Handler())

	conn := dial(cfg.URL, sdkLogger)
	sdkLogger.Info("connecting to job store", "url", cfg.URL)
	if err := conn.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.URL, err)
	}

	db, err := surrealdb.FromConnection(ctx, conn)
	if err == nil {
		_, err = db.SignIn(ctx, auth)
	}
	if err == nil {
		err = db.Use(ctx, cfg.Namespace, cfg.Database)
	}
	if err != nil {
		_ = conn.Close(ctx)
		return nil, fmt.Errorf("open %s/%s as %s: %w", cfg.Namespace, cfg.Database, cfg.Username, err)
	}

	sdkLogger.Info("job store ready", "namespace", cfg.Namespace, "database", cfg.Database, "auth_level", cfg.AuthLevel)
	return &Client{conn: conn, db: db, cfg: cfg, logger: sdkLogger}, nil
}

// dial builds the reconnecting WebSocket. gorillaws appends /rpc itself.
func dial(url string, sdkLogger logger.Logger) *rews.Connection[*gorillaws.Connection] {
	codec := surrealcbor.New()
	baseURL := strings.TrimSuffix(url, "/rpc")

	conn := rews.New(
		func(ctx context.Context) (*gorillaws.Connection, error) {
			return gorillaws.New(&connection.Config{
				BaseURL:     baseURL,
				Marshaler:   codec,
				Unmarshaler: codec,
				Logger:      sdkLogger,
			}), nil
		},
		5*time.Second,
		codec,
		sdkLogger,
	)

	retryer := rews.NewExponentialBackoffRetryer()
	retryer.InitialDelay = time.Second
	retryer.MaxDelay = 30 * time.Second
	retryer.Multiplier = 2.0
	retryer.MaxRetries = 10
	conn.Retryer = retryer
	return conn
}

// Close closes the SurrealDB connection.
func (c *Client) Close(ctx context.Context) error {
	c.logger.Info("closing job store")
	return c.conn.Close(ctx)
}

// WithMetrics records query timings on m.
func (c *Client) WithMetrics(m *metrics.Collector) *Client {
	c.metrics = m
	return c
}

// query runs a SurrealQL statement and records its duration.
func query[T any](ctx context.Context, c *Client, sql string, vars map[string]any) (*[]surrealdb.QueryResult[T], error) {
	start := time.Now()
	res, err := surrealdb.Query[T](ctx, c.db, sql, vars)
	if c.metrics != nil {
		c.metrics.RecordTiming(metrics.OpDBQuery, time.Since(start))
	}
	return res, err
}

// InitSchema applies SchemaSQL. Every statement is idempotent.
func (c *Client) InitSchema(ctx context.Context) error {
	if _, err := query[any](ctx, c, SchemaSQL, nil); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	c.logger.Info("job store schema applied", "tables", len(storeTables))
	return nil
}

// storeTables lists every table, children before parents.
var storeTables = []string{"job_log", "job", "batch", "ner_entity", "ner_extraction", "suggestion"}

// WipeData empties every table and keeps the schema. Tests and --wipe only.
func (c *Client) WipeData(ctx context.Context) error {
	c.logger.Warn("wiping job store", "tables", len(storeTables))
	for _, table := range storeTables {
		if _, err := query[any](ctx, c, "DELETE type::table($tb)", map[string]any{"tb": table}); err != nil {
			return fmt.Errorf("delete %s: %w", table, err)
		}
	}
	return nil
}

// first returns the rows of the first statement of a query result.
func first[T any](results *[]surrealdb.QueryResult[[]T]) []T {
	if results == nil || len(*results) == 0 {
		return nil
	}
	return (*results)[0].Result
}

// last returns the rows of the final statement, for transaction scripts
// where earlier LET and DELETE statements produce their own results.
func last[T any](results *[]surrealdb.QueryResult[[]T]) []T {
	if results == nil || len(*results) == 0 {
		return nil
	}
	return (*results)[len(*results)-1].Result
}
