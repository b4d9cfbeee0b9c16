package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
	_ "time/tzdata" // zone names must resolve on hosts without a zoneinfo database

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Remote and mirror types.
const (
	RemoteCouchDB   = "couchdb"
	RemoteDirectory = "directory"

	MirrorRecipes    = "recipes"
	MirrorCategories = "categories"
)

// Mirror modes.
const (
	ModeFull = "full"
	ModeHome = "home"
)

// Config represents the overall configuration for recipe-mirror
type Config struct {
	LogLevel string `json:"logLevel,omitempty"`
	// UserID owns recent views and search history written by this process.
	UserID string `json:"userId,omitempty"`
	// Timezone is the IANA zone used to read remote createdAt strings.
	Timezone string `json:"timezone,omitempty"`
	// CachePath and StatePath override the platform data directory.
	CachePath string `json:"cachePath,omitempty"`
	StatePath string `json:"statePath,omitempty"`
	// RecentRetention caps stored view rows per user; negative keeps all.
	RecentRetention int `json:"recentRetention,omitempty"`

	HTTP    HTTPConf     `json:"http"`
	Outbox  OutboxConf   `json:"outbox"`
	Remote  RemoteConf   `json:"-"`
	Mirrors []MirrorConf `json:"-"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	err := validation.ValidateStruct(c,
		validation.Field(&c.LogLevel, validation.In("debug", "info", "warn", "error")),
		validation.Field(&c.Timezone, validation.By(validZone)),
	)
	if err != nil {
		return err
	}
	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http: %w", err)
	}
	if err := c.Outbox.Validate(); err != nil {
		return fmt.Errorf("outbox: %w", err)
	}
	if c.Remote == nil {
		return fmt.Errorf("no remote configured")
	}
	if err := c.Remote.Validate(); err != nil {
		return fmt.Errorf("remote: %w", err)
	}
	if len(c.Mirrors) == 0 {
		return fmt.Errorf("no mirrors configured")
	}

	names := make(map[string]bool)
	for i, m := range c.Mirrors {
		name := m.GetName()
		if name == "" {
			return fmt.Errorf("mirror %d has no name", i)
		}
		if names[name] {
			return fmt.Errorf("duplicate mirror name: %s", name)
		}
		names[name] = true
		if err := m.Validate(); err != nil {
			return fmt.Errorf("mirror %s: %w", name, err)
		}
	}
	return nil
}

// SlogLevel maps LogLevel to a slog level; empty means info.
func (c *Config) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(c.LogLevel))); err != nil {
		return slog.LevelInfo
	}
	return level
}

// Location returns the configured time zone, UTC by default.
func (c *Config) Location() *time.Location {
	if c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func validZone(value any) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	if _, err := time.LoadLocation(s); err != nil {
		return fmt.Errorf("unknown time zone %q", s)
	}
	return nil
}

// Duration is a time.Duration written as a Go duration string ("30s").
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		var n float64
		if err := json.Unmarshal(b, &n); err != nil {
			return fmt.Errorf("duration must be a string like \"30s\"")
		}
		*d = Duration(time.Duration(n) * time.Second)
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// HTTPConf configures the read API.
type HTTPConf struct {
	Enabled *bool  `json:"enabled,omitempty"`
	Addr    string `json:"addr,omitempty"`
}

// IsEnabled defaults to true.
func (c HTTPConf) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// Validate validates the HTTP configuration.
func (c *HTTPConf) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Addr, validation.When(c.IsEnabled(), validation.Required)),
	)
}

// OutboxConf configures the remote write retry queue.
type OutboxConf struct {
	Interval    Duration `json:"interval,omitempty"`
	MaxAttempts int      `json:"maxAttempts,omitempty"`
}

// Validate validates the outbox configuration.
func (c *OutboxConf) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Interval, validation.Required, validation.Min(Duration(100*time.Millisecond))),
		validation.Field(&c.MaxAttempts, validation.Required, validation.Min(1)),
	)
}

// RemoteConf is the interface for remote store configurations
type RemoteConf interface {
	GetType() string
	Validate() error
}

// CouchDBRemoteConf connects to CouchDB, one database per collection.
type CouchDBRemoteConf struct {
	Type            string   `json:"type"`
	URL             string   `json:"url"`
	Username        string   `json:"username"`
	Password        string   `json:"password"`
	DBPrefix        string   `json:"dbPrefix,omitempty"`
	CreateDatabases bool     `json:"createDatabases,omitempty"`
	Timeout         Duration `json:"timeout,omitempty"`
	Heartbeat       Duration `json:"heartbeat,omitempty"`
}

func (c CouchDBRemoteConf) GetType() string { return c.Type }

// Validate validates the CouchDB configuration.
func (c CouchDBRemoteConf) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.URL, validation.Required),
		validation.Field(&c.Username, validation.Required),
		validation.Field(&c.Password, validation.Required),
	)
}

// DirectoryRemoteConf serves documents from JSON files under BaseDir.
type DirectoryRemoteConf struct {
	Type     string   `json:"type"`
	BaseDir  string   `json:"baseDir"`
	Debounce Duration `json:"debounce,omitempty"`
}

func (c DirectoryRemoteConf) GetType() string { return c.Type }

// Validate validates the directory configuration.
func (c DirectoryRemoteConf) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.BaseDir, validation.Required),
	)
}

// MirrorConf is the interface for all mirror configurations
type MirrorConf interface {
	GetType() string
	GetName() string
	GetCollection() string
	Validate() error
}

// RecipeMirrorConf mirrors the recipes collection.
type RecipeMirrorConf struct {
	Type       string `json:"type"`
	Name       string `json:"name"`
	Collection string `json:"collection,omitempty"`
	// Mode is "full" or "home"; home keeps descriptive fields already cached.
	Mode string `json:"mode,omitempty"`
	// OrderByCreated subscribes ordered by createdAt descending.
	OrderByCreated bool `json:"orderByCreated,omitempty"`
	// DedupSize bounds the unchanged-document cache.
	DedupSize int `json:"dedupSize,omitempty"`
}

func (c RecipeMirrorConf) GetType() string       { return c.Type }
func (c RecipeMirrorConf) GetName() string       { return c.Name }
func (c RecipeMirrorConf) GetCollection() string { return c.Collection }

// Validate validates the recipe mirror configuration.
func (c RecipeMirrorConf) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Collection, validation.Required),
		validation.Field(&c.Mode, validation.Required, validation.In(ModeFull, ModeHome)),
		validation.Field(&c.DedupSize, validation.Min(1)),
	)
}

// CategoryMirrorConf mirrors the categories collection.
type CategoryMirrorConf struct {
	Type       string `json:"type"`
	Name       string `json:"name"`
	Collection string `json:"collection,omitempty"`
}

func (c CategoryMirrorConf) GetType() string       { return c.Type }
func (c CategoryMirrorConf) GetName() string       { return c.Name }
func (c CategoryMirrorConf) GetCollection() string { return c.Collection }

// Validate validates the category mirror configuration.
func (c CategoryMirrorConf) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Collection, validation.Required),
	)
}
