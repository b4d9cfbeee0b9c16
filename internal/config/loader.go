package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied before validation.
const (
	DefaultHTTPAddr          = "127.0.0.1:8088"
	DefaultOutboxInterval    = 30 * time.Second
	DefaultOutboxMaxAttempts = 10
	DefaultDedupSize         = 1000
	DefaultRecentRetention   = 100
)

// RawConfig is used for JSON unmarshaling
type RawConfig struct {
	Config
	RawRemote  json.RawMessage   `json:"remote"`
	RawMirrors []json.RawMessage `json:"mirrors"`
}

// LoadConfig loads and parses the configuration file. Files ending in .yaml
// or .yml are read as YAML; ${VAR} references are expanded from the
// environment in both formats.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	data = []byte(os.ExpandEnv(string(data)))

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if data, err = yamlToJSON(data); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	return Parse(data)
}

// Parse decodes a JSON configuration, applies defaults and validates it.
func Parse(data []byte) (*Config, error) {
	var raw RawConfig
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	config := raw.Config

	if len(raw.RawRemote) > 0 {
		remote, err := parseRemote(raw.RawRemote)
		if err != nil {
			return nil, err
		}
		config.Remote = remote
	}

	config.Mirrors = make([]MirrorConf, 0, len(raw.RawMirrors))
	for i, rawMirror := range raw.RawMirrors {
		m, err := parseMirror(i, rawMirror)
		if err != nil {
			return nil, err
		}
		config.Mirrors = append(config.Mirrors, m)
	}

	applyDefaults(&config)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func parseRemote(raw json.RawMessage) (RemoteConf, error) {
	var typeCheck struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &typeCheck); err != nil {
		return nil, fmt.Errorf("failed to determine remote type: %w", err)
	}

	switch typeCheck.Type {
	case RemoteCouchDB:
		var c CouchDBRemoteConf
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("failed to parse couchdb remote: %w", err)
		}
		return c, nil
	case RemoteDirectory:
		var c DirectoryRemoteConf
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("failed to parse directory remote: %w", err)
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown remote type '%s'", typeCheck.Type)
	}
}

func parseMirror(i int, raw json.RawMessage) (MirrorConf, error) {
	var typeCheck struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &typeCheck); err != nil {
		return nil, fmt.Errorf("failed to determine type for mirror %d: %w", i, err)
	}

	switch typeCheck.Type {
	case MirrorRecipes:
		var m RecipeMirrorConf
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("failed to parse recipes mirror %d: %w", i, err)
		}
		return m, nil
	case MirrorCategories:
		var m CategoryMirrorConf
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("failed to parse categories mirror %d: %w", i, err)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unknown mirror type '%s' for mirror %d", typeCheck.Type, i)
	}
}

func applyDefaults(c *Config) {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.UserID == "" {
		c.UserID = "local"
	}
	if c.RecentRetention == 0 {
		c.RecentRetention = DefaultRecentRetention
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = DefaultHTTPAddr
	}
	if c.Outbox.Interval == 0 {
		c.Outbox.Interval = Duration(DefaultOutboxInterval)
	}
	if c.Outbox.MaxAttempts == 0 {
		c.Outbox.MaxAttempts = DefaultOutboxMaxAttempts
	}

	for i, m := range c.Mirrors {
		switch mc := m.(type) {
		case RecipeMirrorConf:
			if mc.Collection == "" {
				mc.Collection = "recipes"
			}
			if mc.Mode == "" {
				mc.Mode = ModeFull
			}
			if mc.DedupSize == 0 {
				mc.DedupSize = DefaultDedupSize
			}
			c.Mirrors[i] = mc
		case CategoryMirrorConf:
			if mc.Collection == "" {
				mc.Collection = "categories"
			}
			c.Mirrors[i] = mc
		}
	}
}

// yamlToJSON re-encodes a YAML document as JSON so both formats share the
// RawMessage decoding path.
func yamlToJSON(data []byte) ([]byte, error) {
	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	if v == nil {
		v = map[string]any{}
	}
	return json.Marshal(v)
}
