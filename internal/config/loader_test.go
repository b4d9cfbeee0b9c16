package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to create test config: %v", err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("TEST_COUCH_PASSWORD", "s3cret")

	configPath := writeConfig(t, "config.json", `{
		"logLevel": "debug",
		"userId": "u1",
		"timezone": "Asia/Ho_Chi_Minh",
		"remote": {
			"type": "couchdb",
			"url": "http://localhost:5984",
			"username": "admin",
			"password": "${TEST_COUCH_PASSWORD}",
			"dbPrefix": "dev_",
			"heartbeat": "10s"
		},
		"mirrors": [
			{"type": "recipes", "name": "all-recipes", "orderByCreated": true},
			{"type": "recipes", "name": "home", "mode": "home"},
			{"type": "categories", "name": "categories"}
		],
		"outbox": {"interval": "5s", "maxAttempts": 3}
	}`)

	config, err := LoadConfig(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	couch, ok := config.Remote.(CouchDBRemoteConf)
	if !ok {
		t.Fatalf("Expected CouchDBRemoteConf, got %T", config.Remote)
	}
	if couch.Password != "s3cret" {
		t.Errorf("Expected expanded password, got '%s'", couch.Password)
	}
	if couch.Heartbeat.Std() != 10*time.Second {
		t.Errorf("Expected heartbeat 10s, got %v", couch.Heartbeat.Std())
	}

	if len(config.Mirrors) != 3 {
		t.Fatalf("Expected 3 mirrors, got %d", len(config.Mirrors))
	}
	all, ok := config.Mirrors[0].(RecipeMirrorConf)
	if !ok {
		t.Fatal("Failed to cast to RecipeMirrorConf")
	}
	if all.Collection != "recipes" || all.Mode != ModeFull || all.DedupSize != DefaultDedupSize || !all.OrderByCreated {
		t.Errorf("Unexpected defaults: %+v", all)
	}
	if config.Mirrors[1].(RecipeMirrorConf).Mode != ModeHome {
		t.Error("Expected home mode")
	}
	if config.Mirrors[2].GetCollection() != "categories" {
		t.Errorf("Expected categories collection, got %s", config.Mirrors[2].GetCollection())
	}

	if config.Outbox.Interval.Std() != 5*time.Second || config.Outbox.MaxAttempts != 3 {
		t.Errorf("Unexpected outbox config %+v", config.Outbox)
	}
	if config.HTTP.Addr != DefaultHTTPAddr || !config.HTTP.IsEnabled() {
		t.Errorf("Unexpected http defaults %+v", config.HTTP)
	}
	if config.SlogLevel() != slog.LevelDebug {
		t.Errorf("Expected debug level, got %v", config.SlogLevel())
	}
	if config.Location().String() != "Asia/Ho_Chi_Minh" {
		t.Errorf("Unexpected location %v", config.Location())
	}
	if config.UserID != "u1" {
		t.Errorf("Expected user u1, got %s", config.UserID)
	}
}

func TestLoadConfigYAML(t *testing.T) {
	configPath := writeConfig(t, "config.yaml", `
remote:
  type: directory
  baseDir: ./fixtures
  debounce: 100ms
mirrors:
  - type: recipes
    name: recipes
http:
  enabled: false
`)

	config, err := LoadConfig(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	dir, ok := config.Remote.(DirectoryRemoteConf)
	if !ok {
		t.Fatalf("Expected DirectoryRemoteConf, got %T", config.Remote)
	}
	if dir.BaseDir != "./fixtures" || dir.Debounce.Std() != 100*time.Millisecond {
		t.Errorf("Unexpected directory remote %+v", dir)
	}
	if config.HTTP.IsEnabled() {
		t.Error("Expected http disabled")
	}
	if config.UserID != "local" || config.LogLevel != "info" || config.RecentRetention != DefaultRecentRetention {
		t.Errorf("Unexpected defaults %+v", config)
	}
	if config.Location() != time.UTC {
		t.Errorf("Expected UTC, got %v", config.Location())
	}
}

func TestLoadConfigValidation(t *testing.T) {
	dirRemote := `"remote": {"type": "directory", "baseDir": "/tmp/x"}`
	tests := []struct {
		name    string
		config  string
		wantErr string
	}{
		{
			name:    "no remote",
			config:  `{"mirrors": [{"type": "recipes", "name": "r"}]}`,
			wantErr: "no remote configured",
		},
		{
			name:    "no mirrors",
			config:  `{` + dirRemote + `}`,
			wantErr: "no mirrors configured",
		},
		{
			name:    "unknown remote type",
			config:  `{"remote": {"type": "s3"}, "mirrors": []}`,
			wantErr: "unknown remote type",
		},
		{
			name:    "unknown mirror type",
			config:  `{` + dirRemote + `, "mirrors": [{"type": "chats", "name": "c"}]}`,
			wantErr: "unknown mirror type",
		},
		{
			name:    "missing mirror name",
			config:  `{` + dirRemote + `, "mirrors": [{"type": "recipes"}]}`,
			wantErr: "has no name",
		},
		{
			name: "duplicate mirror name",
			config: `{` + dirRemote + `, "mirrors": [
				{"type": "recipes", "name": "a"},
				{"type": "categories", "name": "a"}
			]}`,
			wantErr: "duplicate mirror name",
		},
		{
			name:    "bad mode",
			config:  `{` + dirRemote + `, "mirrors": [{"type": "recipes", "name": "a", "mode": "partial"}]}`,
			wantErr: "mode",
		},
		{
			name:    "couchdb without credentials",
			config:  `{"remote": {"type": "couchdb", "url": "http://x"}, "mirrors": [{"type": "recipes", "name": "a"}]}`,
			wantErr: "remote",
		},
		{
			name:    "directory without baseDir",
			config:  `{"remote": {"type": "directory"}, "mirrors": [{"type": "recipes", "name": "a"}]}`,
			wantErr: "remote",
		},
		{
			name:    "bad log level",
			config:  `{"logLevel": "trace", ` + dirRemote + `, "mirrors": [{"type": "recipes", "name": "a"}]}`,
			wantErr: "logLevel",
		},
		{
			name:    "bad timezone",
			config:  `{"timezone": "Mars/Olympus", ` + dirRemote + `, "mirrors": [{"type": "recipes", "name": "a"}]}`,
			wantErr: "time zone",
		},
		{
			name:    "bad duration",
			config:  `{"outbox": {"interval": "soon"}, ` + dirRemote + `, "mirrors": [{"type": "recipes", "name": "a"}]}`,
			wantErr: "failed to parse config",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.config))
			if err == nil {
				t.Fatal("Expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestDurationNumericSeconds(t *testing.T) {
	var d Duration
	if err := d.UnmarshalJSON([]byte("2")); err != nil {
		t.Fatal(err)
	}
	if d.Std() != 2*time.Second {
		t.Errorf("Expected 2s, got %v", d.Std())
	}
}
