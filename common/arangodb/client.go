// Package arangodb wraps the ArangoDB v2 driver with the connection setup,
// database bootstrap, and collection/index management the business store
// needs. Document decoding lives with the store; this client only hands out
// cursors.
package arangodb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/arangodb/go-driver/v2/arangodb"
	"github.com/arangodb/go-driver/v2/arangodb/shared"
	"github.com/arangodb/go-driver/v2/connection"
)

var ErrNotFound = errors.New("document not found")

// Collection names used by the business store.
const (
	CollectionBusinesses = "businesses"
)

type Client interface {
	// Setup operations
	EnsureDatabase(ctx context.Context) error
	EnsureCollections(ctx context.Context) error

	// Query executes AQL against the configured database and returns the
	// cursor for the caller to decode. The caller owns cursor.Close().
	Query(ctx context.Context, query string, bindVars map[string]any) (arangodb.Cursor, error)

	// ReadDocument fetches a single document by key into result. Returns
	// ErrNotFound when the key does not exist.
	ReadDocument(ctx context.Context, collection, key string, result any) error

	// Utility
	Close() error
}

type Config struct {
	URL      string
	Username string
	Password string
	Database string
}

func (c Config) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("arangodb URL is required")
	}
	if c.Username == "" {
		return fmt.Errorf("arangodb username is required")
	}
	if c.Database == "" {
		return fmt.Errorf("arangodb database name is required")
	}
	return nil
}

type client struct {
	conn         connection.Connection
	arangoClient arangodb.Client
	db           arangodb.Database
	cfg          Config
}

func New(ctx context.Context, cfg Config) (Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("arangodb config: %w", err)
	}

	endpoint := connection.NewRoundRobinEndpoints([]string{cfg.URL}) // round robins from the urls. we just have one for now
	conn := connection.NewHttp2Connection(connection.DefaultHTTP2ConfigurationWrapper(endpoint, true))

	auth := connection.NewBasicAuth(cfg.Username, cfg.Password)
	if err := conn.SetAuthentication(auth); err != nil {
		return nil, fmt.Errorf("arangodb auth: %w", err)
	}

	arangoClient := arangodb.NewClient(conn)

	c := &client{
		conn:         conn,
		arangoClient: arangoClient,
		cfg:          cfg,
	}

	return c, nil
}

func (c *client) Close() error {
	return nil
}

func (c *client) EnsureDatabase(ctx context.Context) error {
	start := time.Now()

	exists, err := c.arangoClient.DatabaseExists(ctx, c.cfg.Database)
	if err != nil {
		return fmt.Errorf("check database exists: %w", err)
	}

	if !exists {
		_, err = c.arangoClient.CreateDatabase(ctx, c.cfg.Database, nil)
		if err != nil {
			return fmt.Errorf("create database: %w", err)
		}
		slog.InfoContext(ctx, "arangodb database created",
			"database", c.cfg.Database,
			"duration_ms", time.Since(start).Milliseconds())
	}

	db, err := c.arangoClient.GetDatabase(ctx, c.cfg.Database, nil)
	if err != nil {
		return fmt.Errorf("get database: %w", err)
	}
	c.db = db

	return nil
}

func (c *client) EnsureCollections(ctx context.Context) error {
	if c.db == nil {
		return fmt.Errorf("database not initialized, call EnsureDatabase first")
	}

	if err := c.ensureCollection(ctx, CollectionBusinesses); err != nil {
		return err
	}

	if err := c.ensureIndexes(ctx); err != nil {
		return fmt.Errorf("ensure indexes: %w", err)
	}

	return nil
}

// ensureIndexes creates the secondary indexes the retrievers query through:
// status+category+city for the category-city index, status+city for
// city-scoped enumeration, and embedding_version for vector id listing.
func (c *client) ensureIndexes(ctx context.Context) error {
	col, err := c.db.GetCollection(ctx, CollectionBusinesses, nil)
	if err != nil {
		return fmt.Errorf("get collection %s: %w", CollectionBusinesses, err)
	}

	indexes := [][]string{
		{"status", "category_id", "location.city"},
		{"status", "location.city"},
		{"embedding_version"},
	}

	for _, fields := range indexes {
		_, _, err := col.EnsurePersistentIndex(ctx, fields, &arangodb.CreatePersistentIndexOptions{})
		if err != nil {
			return fmt.Errorf("ensure index %v: %w", fields, err)
		}
	}

	return nil
}

func (c *client) ensureCollection(ctx context.Context, name string) error {
	exists, err := c.db.CollectionExists(ctx, name)
	if err != nil {
		return fmt.Errorf("check collection %s exists: %w", name, err)
	}
	if exists {
		return nil
	}

	_, err = c.db.CreateCollectionV2(ctx, name, nil)
	if err != nil {
		return fmt.Errorf("create collection %s: %w", name, err)
	}

	slog.InfoContext(ctx, "arangodb collection created", "collection", name)
	return nil
}

func (c *client) Query(ctx context.Context, query string, bindVars map[string]any) (arangodb.Cursor, error) {
	if c.db == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	cursor, err := c.db.Query(ctx, query, &arangodb.QueryOptions{
		BindVars: bindVars,
	})
	if err != nil {
		return nil, fmt.Errorf("execute query: %w", err)
	}
	return cursor, nil
}

func (c *client) ReadDocument(ctx context.Context, collection, key string, result any) error {
	if c.db == nil {
		return fmt.Errorf("database not initialized")
	}

	col, err := c.db.GetCollection(ctx, collection, nil)
	if err != nil {
		return fmt.Errorf("get collection %s: %w", collection, err)
	}

	_, err = col.ReadDocument(ctx, key, result)
	if err != nil {
		if shared.IsNotFound(err) {
			return ErrNotFound
		}
		return fmt.Errorf("read document %s/%s: %w", collection, key, err)
	}
	return nil
}
