package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rpattn/versioned/internal/domain"
	"github.com/rpattn/versioned/internal/versioning"
)

const sampleConfig = `
database:
  host: db.internal
  port: 6543
  dbname: history
entities:
  - name: Article
    table: articles
    version_table: article_versions
    foreign_key: article_id
    lock_column: lock_version
    fields:
      - name: title
      - name: views
        type: int
      - name: rating
        type: double
    watch: title
    condition: 'views >= 0'
    limit: 5
    dependent: nullify
  - name: Note
    table: notes
    version_table: note_versions
    foreign_key: note_id
    fields:
      - name: body
        type: string
    condition: 'body != "draft"'
    condition_engine: cel
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return dir
}

func TestLoadEntities(t *testing.T) {
	file, err := Load(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if file.Database.Host != "db.internal" || file.Database.Port != 6543 || file.Database.DBName != "history" {
		t.Fatalf("database = %+v", file.Database)
	}
	if file.Database.User != "postgres" {
		t.Fatalf("unset user should keep default, got %q", file.Database.User)
	}
	if len(file.Entities) != 2 {
		t.Fatalf("entities = %d, want 2", len(file.Entities))
	}

	article := file.Entities[0]
	if article.Name != "Article" || article.Mapping.Table != "articles" || article.Mapping.LockColumn != "lock_version" {
		t.Fatalf("article = %+v", article.Mapping)
	}
	if article.Mapping.VersionColumn != "version" || article.Mapping.SequenceColumn != "version" {
		t.Fatalf("article defaults = %+v", article.Mapping)
	}
	wantTypes := []domain.FieldType{domain.FieldTypeString, domain.FieldTypeInteger, domain.FieldTypeFloat}
	for i, want := range wantTypes {
		if got := article.Mapping.Fields[i].Type; got != want {
			t.Fatalf("field %d type = %q, want %q", i, got, want)
		}
	}
	if len(article.WatchFields) != 1 || article.WatchFields[0] != "title" {
		t.Fatalf("watch = %v", article.WatchFields)
	}
	if article.Limit != 5 || article.Dependent != versioning.DependentNullify {
		t.Fatalf("limit = %d dependent = %q", article.Limit, article.Dependent)
	}
	if article.Condition == nil || !article.Condition(domain.NewRecord("", map[string]any{"views": 2})) {
		t.Fatal("article condition should hold for positive views")
	}

	note := file.Entities[1]
	if note.Condition == nil {
		t.Fatal("note condition not compiled")
	}
	if note.Condition(domain.NewRecord("", map[string]any{"body": "draft"})) {
		t.Fatal("cel condition should reject drafts")
	}
}

func TestLoadRejectsInvalidEntities(t *testing.T) {
	bad := `
entities:
  - name: Broken
    table: broken
    version_table: broken_versions
    foreign_key: broken_id
    fields:
      - name: title
    watch: [missing]
`
	if _, err := Load(writeConfig(t, bad)); err == nil {
		t.Fatal("expected error for unknown watch field")
	}

	badType := `
entities:
  - name: Broken
    table: broken
    version_table: broken_versions
    foreign_key: broken_id
    fields:
      - name: shape
        type: geometry
`
	if _, err := Load(writeConfig(t, badType)); err == nil {
		t.Fatal("expected error for unsupported field type")
	}
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	file, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(file.Entities) != len(DefaultEntities()) {
		t.Fatalf("entities = %d, want defaults", len(file.Entities))
	}
	for _, cfg := range file.Entities {
		if err := cfg.Validate(); err != nil {
			t.Fatalf("default entity %s invalid: %v", cfg.Name, err)
		}
	}
	if file.Database.Host != "localhost" {
		t.Fatalf("default host = %q", file.Database.Host)
	}
}

func TestLoadDBConfigEnvOverride(t *testing.T) {
	t.Setenv("VERSIONED_DATABASE_HOST", "env-host")
	cfg, err := LoadDBConfig(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Host != "env-host" {
		t.Fatalf("host = %q, want env-host", cfg.Host)
	}
}

func TestLoadSettings(t *testing.T) {
	t.Setenv("VERSIONED_STORAGE_DRIVER", "Postgres")
	t.Setenv("VERSIONED_CORS_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("VERSIONED_SHUTDOWN_TIMEOUT", "3s")

	s, err := LoadSettings()
	if err != nil {
		t.Fatalf("load settings: %v", err)
	}
	if s.Driver != DriverPostgres || s.Addr != ":8080" || s.ShutdownTimeout != 3*time.Second {
		t.Fatalf("settings = %+v", s)
	}
	if len(s.AllowedOrigins) != 2 {
		t.Fatalf("origins = %v", s.AllowedOrigins)
	}

	t.Setenv("VERSIONED_STORAGE_DRIVER", "mysql")
	if _, err := LoadSettings(); err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}
