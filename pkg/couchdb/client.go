// Package couchdb is a thin document-oriented wrapper over kivik for a
// single CouchDB database.
package couchdb

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-kivik/kivik/v4"
	_ "github.com/go-kivik/kivik/v4/couchdb" // CouchDB driver
)

// Client wraps Kivik CouchDB client with additional functionality
type Client struct {
	client   *kivik.Client
	db       *kivik.DB
	dbName string
	url    string
}

// Config holds configuration for connecting to CouchDB
type Config struct {
	URL      string // CouchDB server URL (e.g., "http://localhost:5984")
	Username string // Username for authentication
	Password string // Password for authentication
	Database string // Database name
	Timeout  time.Duration

	// CreateIfMissing creates the database instead of failing when it does
	// not exist.
	CreateIfMissing bool
}

// Document is a CouchDB document split into metadata and user fields.
// Fields never contains underscore-prefixed keys.
type Document struct {
	ID      string
	Rev     string
	Deleted bool
	Fields  map[string]any
}

// Change represents a change notification from CouchDB changes feed
type Change struct {
	Seq     string
	ID      string
	Changes []string // Revision strings
	Deleted bool
	Doc     *Document // Nil unless IncludeDocs was set
}

// ChangesOptions configures the changes feed
type ChangesOptions struct {
	Since       string        // Start sequence
	IncludeDocs bool          // Include full documents
	Continuous  bool          // Continuous feed
	Heartbeat   time.Duration // Heartbeat interval
	Timeout     time.Duration // Timeout for feed
	Filter      string        // Filter function
	Limit       int           // Max number of changes
}

// FindQuery is a Mango query.
type FindQuery struct {
	Selector map[string]any
	Sort     []map[string]string
	Limit    int
}

// IsNotFound reports whether err is a CouchDB 404.
func IsNotFound(err error) bool {
	return kivik.HTTPStatus(err) == http.StatusNotFound
}

// IsConflict reports whether err is a CouchDB 409.
func IsConflict(err error) bool {
	return kivik.HTTPStatus(err) == http.StatusConflict
}

// NewClient creates a new CouchDB client
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("CouchDB URL is required")
	}
	if cfg.Database == "" {
		return nil, fmt.Errorf("database name is required")
	}

	// Set default timeout
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	// Build DSN with authentication if provided
	dsn := cfg.URL
	if cfg.Username != "" && cfg.Password != "" {
		u, err := url.Parse(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("invalid URL: %w", err)
		}
		u.User = url.UserPassword(cfg.Username, cfg.Password)
		dsn = u.String()
	}

	client, err := kivik.New("couch", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create CouchDB client: %w", err)
	}

	exists, err := client.DBExists(ctx, cfg.Database)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to check database existence: %w", err)
	}
	if !exists {
		if !cfg.CreateIfMissing {
			client.Close()
			return nil, fmt.Errorf("database %s does not exist", cfg.Database)
		}
		if err := client.CreateDB(ctx, cfg.Database); err != nil && kivik.HTTPStatus(err) != http.StatusPreconditionFailed {
			client.Close()
			return nil, fmt.Errorf("failed to create database %s: %w", cfg.Database, err)
		}
	}

	db := client.DB(cfg.Database)
	if db.Err() != nil {
		client.Close()
		return nil, fmt.Errorf("failed to open database %s: %w", cfg.Database, db.Err())
	}

	return &Client{
		client: client,
		db:     db,
		dbName: cfg.Database,
		url:    cfg.URL,
	}, nil
}

// Close closes the CouchDB client connection
func (c *Client) Close() error {
	return c.client.Close()
}

// Ping checks that the server answers.
func (c *Client) Ping(ctx context.Context) error {
	ok, err := c.client.Ping(ctx)
	if err != nil {
		return fmt.Errorf("ping %s: %w", c.url, err)
	}
	if !ok {
		return fmt.Errorf("ping %s: server not ready", c.url)
	}
	return nil
}

// Put writes fields as document id. rev must be the current revision for
// updates and empty for creates.
func (c *Client) Put(ctx context.Context, id, rev string, fields map[string]any) (string, error) {
	body := make(map[string]any, len(fields)+2)
	for k, v := range fields {
		if strings.HasPrefix(k, "_") {
			continue
		}
		body[k] = v
	}
	body["_id"] = id
	if rev != "" {
		body["_rev"] = rev
	}

	newRev, err := c.db.Put(ctx, id, body)
	if err != nil {
		return "", fmt.Errorf("failed to put document %s: %w", id, err)
	}
	return newRev, nil
}

// Merge overlays fields on the stored document (creating it if absent),
// retrying up to attempts times when another writer wins the revision race.
func (c *Client) Merge(ctx context.Context, id string, fields map[string]any, attempts int) (string, error) {
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		merged := make(map[string]any, len(fields))
		rev := ""

		current, err := c.Get(ctx, id)
		switch {
		case err == nil:
			rev = current.Rev
			for k, v := range current.Fields {
				merged[k] = v
			}
		case IsNotFound(err):
		default:
			return "", err
		}
		for k, v := range fields {
			merged[k] = v
		}

		newRev, err := c.Put(ctx, id, rev, merged)
		if err == nil {
			return newRev, nil
		}
		if !IsConflict(err) {
			return "", err
		}
		lastErr = err
	}
	return "", fmt.Errorf("merge document %s: %w", id, lastErr)
}

// Get retrieves a document by ID. Use IsNotFound on the error to detect
// missing documents.
func (c *Client) Get(ctx context.Context, id string) (*Document, error) {
	row := c.db.Get(ctx, id)
	if row.Err() != nil {
		return nil, fmt.Errorf("failed to get document %s: %w", id, row.Err())
	}

	var raw map[string]any
	if err := row.ScanDoc(&raw); err != nil {
		return nil, fmt.Errorf("failed to scan document %s: %w", id, err)
	}

	return fromRaw(raw), nil
}

// Delete deletes a document
func (c *Client) Delete(ctx context.Context, id, rev string) error {
	_, err := c.db.Delete(ctx, id, rev)
	if err != nil {
		return fmt.Errorf("failed to delete document %s: %w", id, err)
	}
	return nil
}

// UpdateSeq returns the database's current update sequence.
func (c *Client) UpdateSeq(ctx context.Context) (string, error) {
	stats, err := c.db.Stats(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to read stats for %s: %w", c.dbName, err)
	}
	return stats.UpdateSeq, nil
}

// AllDocs retrieves all non-design documents.
func (c *Client) AllDocs(ctx context.Context) ([]*Document, error) {
	rows := c.db.AllDocs(ctx, kivik.Params(map[string]any{
		"include_docs": true,
	}))
	if rows.Err() != nil {
		return nil, fmt.Errorf("failed to query all docs: %w", rows.Err())
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		var raw map[string]any
		if err := rows.ScanDoc(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		doc := fromRaw(raw)
		if strings.HasPrefix(doc.ID, "_design/") {
			continue
		}
		docs = append(docs, doc)
	}

	if rows.Err() != nil {
		return nil, fmt.Errorf("error iterating documents: %w", rows.Err())
	}

	return docs, nil
}

// Find runs a Mango query.
func (c *Client) Find(ctx context.Context, q FindQuery) ([]*Document, error) {
	body := map[string]any{"selector": q.Selector}
	if q.Selector == nil {
		body["selector"] = map[string]any{}
	}
	if len(q.Sort) > 0 {
		body["sort"] = q.Sort
	}
	if q.Limit > 0 {
		body["limit"] = q.Limit
	}

	rows := c.db.Find(ctx, body)
	if rows.Err() != nil {
		return nil, fmt.Errorf("failed to run find on %s: %w", c.dbName, rows.Err())
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		var raw map[string]any
		if err := rows.ScanDoc(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, fromRaw(raw))
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("error iterating find results: %w", rows.Err())
	}
	return docs, nil
}

// Changes monitors the changes feed. Both channels are closed when the feed
// ends; at most one error is sent.
func (c *Client) Changes(ctx context.Context, opts ChangesOptions) (<-chan Change, <-chan error) {
	changeChan := make(chan Change, 100)
	errChan := make(chan error, 1)

	go func() {
		defer close(changeChan)
		defer close(errChan)

		optsMap := map[string]any{}
		if opts.Since != "" {
			optsMap["since"] = opts.Since
		}
		if opts.IncludeDocs {
			optsMap["include_docs"] = true
		}
		if opts.Continuous {
			optsMap["feed"] = "continuous"
		}
		if opts.Heartbeat > 0 {
			optsMap["heartbeat"] = int(opts.Heartbeat.Milliseconds())
		}
		if opts.Timeout > 0 {
			optsMap["timeout"] = int(opts.Timeout.Milliseconds())
		}
		if opts.Filter != "" {
			optsMap["filter"] = opts.Filter
		}
		if opts.Limit > 0 {
			optsMap["limit"] = opts.Limit
		}

		changes := c.db.Changes(ctx, kivik.Params(optsMap))
		if changes.Err() != nil {
			errChan <- fmt.Errorf("failed to start changes feed: %w", changes.Err())
			return
		}
		defer changes.Close()

		for changes.Next() {
			change := Change{
				ID:      changes.ID(),
				Seq:     changes.Seq(),
				Deleted: changes.Deleted(),
				Changes: changes.Changes(),
			}

			if opts.IncludeDocs {
				var raw map[string]any
				if err := changes.ScanDoc(&raw); err == nil && raw != nil {
					change.Doc = fromRaw(raw)
				}
			}

			select {
			case changeChan <- change:
			case <-ctx.Done():
				return
			}
		}

		if err := changes.Err(); err != nil && !errors.Is(err, context.Canceled) {
			errChan <- fmt.Errorf("changes feed error: %w", err)
		}
	}()

	return changeChan, errChan
}

func fromRaw(raw map[string]any) *Document {
	doc := &Document{Fields: make(map[string]any, len(raw))}
	for k, v := range raw {
		switch k {
		case "_id":
			doc.ID, _ = v.(string)
		case "_rev":
			doc.Rev, _ = v.(string)
		case "_deleted":
			doc.Deleted, _ = v.(bool)
		default:
			if !strings.HasPrefix(k, "_") {
				doc.Fields[k] = v
			}
		}
	}
	return doc
}
