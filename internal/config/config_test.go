package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		LogLevel:           "info",
		ListenAddr:         "127.0.0.1:3500",
		Providers:          []ProviderConfig{{Name: ProviderGemini, Model: "gemini-2.5-flash", APIKey: "k", Timeout: time.Minute, RPM: 60}},
		EmbedderProvider:   ProviderGemini,
		EmbedderModel:      DefaultEmbedderModel,
		EmbedderDimension:  DefaultEmbedderDimension,
		ChunkMaxTokens:     DefaultChunkMaxTokens,
		ChunkOverlapTokens: DefaultChunkOverlapTokens,
		RetrievalK:         DefaultRetrievalK,
		RetrievalMinScore:  DefaultRetrievalMinScore,
		HistoryTokenBudget: DefaultHistoryTokenBudget,
		UserMessageRate:     DefaultUserMessageRate,
		UserMessageBurst:    DefaultUserMessageBurst,
		OutboundConcurrency: DefaultOutboundConcurrency,
		AcquireTimeout:      DefaultAcquireTimeout,
		PostgresHost:       "localhost",
		PostgresPort:       5432,
		PostgresUser:       "abitbot",
		PostgresPassword:   "secret",
		PostgresDBName:     "abitbot",
		PostgresSSLMode:    "disable",
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
log_level: debug
retrieval_k: 7
providers:
  - name: gemini
    model: gemini-2.5-flash
    api_key: test-key
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom() error: %v", err)
	}

	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
	if cfg.RetrievalK != 7 {
		t.Errorf("RetrievalK = %d, want 7", cfg.RetrievalK)
	}
	// Defaults fill the rest.
	if cfg.ChunkMaxTokens != DefaultChunkMaxTokens {
		t.Errorf("ChunkMaxTokens = %d, want default %d", cfg.ChunkMaxTokens, DefaultChunkMaxTokens)
	}
	if len(cfg.Providers) != 1 || cfg.Providers[0].APIKey != "test-key" {
		t.Errorf("unexpected providers: %+v", cfg.Providers)
	}
	if cfg.Providers[0].Timeout != DefaultProviderTimeout {
		t.Errorf("provider timeout default not applied: %v", cfg.Providers[0].Timeout)
	}
}

func TestLoadFromMissingFile(t *testing.T) {
	if _, err := LoadFrom(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for explicit missing config file")
	}
}

func TestDatabaseURLOverride(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://alice:pw@db.example.com:5433/admissions?sslmode=require")

	cfg := validConfig()
	if err := cfg.parseDatabaseURL(); err != nil {
		t.Fatalf("parseDatabaseURL() error: %v", err)
	}

	if cfg.PostgresHost != "db.example.com" {
		t.Errorf("host = %q", cfg.PostgresHost)
	}
	if cfg.PostgresPort != 5433 {
		t.Errorf("port = %d", cfg.PostgresPort)
	}
	if cfg.PostgresUser != "alice" || cfg.PostgresPassword != "pw" {
		t.Errorf("credentials not applied: %q/%q", cfg.PostgresUser, cfg.PostgresPassword)
	}
	if cfg.PostgresDBName != "admissions" {
		t.Errorf("dbname = %q", cfg.PostgresDBName)
	}
	if cfg.PostgresSSLMode != "require" {
		t.Errorf("sslmode = %q", cfg.PostgresSSLMode)
	}
}

func TestDatabaseURLBadScheme(t *testing.T) {
	t.Setenv("DATABASE_URL", "mysql://u:p@h:3306/db")

	cfg := validConfig()
	if err := cfg.parseDatabaseURL(); err == nil {
		t.Error("expected error for non-postgres scheme")
	}
}

func TestPostgresConnectionString(t *testing.T) {
	cfg := validConfig()
	cfg.PostgresPassword = "p'ss w\\d"

	dsn := cfg.PostgresConnectionString()
	if !strings.Contains(dsn, `password='p\'ss w\\d'`) {
		t.Errorf("password not quoted: %s", dsn)
	}
	if !strings.Contains(dsn, "host=localhost") || !strings.Contains(dsn, "dbname=abitbot") {
		t.Errorf("unexpected DSN: %s", dsn)
	}
}

func TestPostgresURL(t *testing.T) {
	cfg := validConfig()
	cfg.PostgresPassword = "p@ss/word"

	u := cfg.PostgresURL()
	if !strings.HasPrefix(u, "postgres://") {
		t.Errorf("unexpected URL: %s", u)
	}
	if strings.Contains(u, "p@ss/word") {
		t.Errorf("password not URL-encoded: %s", u)
	}
}

func TestMarshalJSONMasksSecrets(t *testing.T) {
	cfg := validConfig()

	data, err := json.Marshal(cfg)
	if err != nil {
		t.Fatal(err)
	}

	s := string(data)
	if strings.Contains(s, "secret") {
		t.Error("postgres password leaked into JSON")
	}
	if strings.Contains(s, `"api_key":"k"`) {
		t.Error("provider API key leaked into JSON")
	}
	if !strings.Contains(s, "***") {
		t.Error("expected masked markers in JSON")
	}
}
