package config

import (
	"fmt"
	"log"

	"github.com/spf13/viper"

	"github.com/rpattn/versioned/internal/condition"
	"github.com/rpattn/versioned/internal/db"
	"github.com/rpattn/versioned/internal/domain"
	"github.com/rpattn/versioned/internal/repository"
	"github.com/rpattn/versioned/internal/versioning"
)

// File is the content of config.yaml.
type File struct {
	Database db.Config
	Entities []versioning.Config
}

// entityConfig is one entry of the entities list in config.yaml.
type entityConfig struct {
	Name               string `mapstructure:"name"`
	repository.Mapping `mapstructure:",squash"`

	Watch           []string `mapstructure:"watch"`
	Condition       string   `mapstructure:"condition"`
	ConditionEngine string   `mapstructure:"condition_engine"`
	Limit           int64    `mapstructure:"limit"`
	Dependent       string   `mapstructure:"dependent"`
}

// Load reads the database settings and entity definitions. Without an entities
// section the built-in definitions matching the shipped migrations are used.
func Load(configPath string) (File, error) {
	v := newViper(configPath)
	found, err := readConfig(v)
	if err != nil {
		return File{}, err
	}
	if found {
		log.Printf("[config] loaded %s", v.ConfigFileUsed())
	} else {
		log.Printf("[config] no config.yaml found, using defaults and env vars")
	}

	entities, err := loadEntities(v)
	if err != nil {
		return File{}, err
	}
	return File{Database: databaseConfig(v), Entities: entities}, nil
}

func loadEntities(v *viper.Viper) ([]versioning.Config, error) {
	if !v.IsSet("entities") {
		return DefaultEntities(), nil
	}

	var raw []entityConfig
	if err := v.UnmarshalKey("entities", &raw); err != nil {
		return nil, fmt.Errorf("failed to decode entities: %w", err)
	}

	configs := make([]versioning.Config, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for i, entry := range raw {
		cfg, err := entry.toVersioning()
		if err != nil {
			return nil, fmt.Errorf("entities[%d]: %w", i, err)
		}
		if _, dup := seen[cfg.Name]; dup {
			return nil, fmt.Errorf("entities[%d]: duplicate entity name %s", i, cfg.Name)
		}
		seen[cfg.Name] = struct{}{}
		configs = append(configs, cfg)
	}
	return configs, nil
}

func (e entityConfig) toVersioning() (versioning.Config, error) {
	mapping := e.Mapping
	mapping.Fields = make([]domain.FieldDefinition, len(e.Fields))
	for i, field := range e.Fields {
		fieldType, err := domain.ParseFieldType(string(field.Type))
		if err != nil {
			return versioning.Config{}, fmt.Errorf("field %s: %w", field.Name, err)
		}
		mapping.Fields[i] = domain.FieldDefinition{Name: field.Name, Type: fieldType}
	}

	dependent, err := versioning.ParseDependent(e.Dependent)
	if err != nil {
		return versioning.Config{}, err
	}

	cfg := versioning.Config{
		Name:        e.Name,
		Mapping:     mapping,
		WatchFields: e.Watch,
		Limit:       e.Limit,
		Dependent:   dependent,
	}.WithDefaults()

	if e.Condition != "" {
		engine, err := condition.ParseEngine(e.ConditionEngine)
		if err != nil {
			return versioning.Config{}, err
		}
		pred, err := condition.Compile(engine, e.Condition, mapping.Fields)
		if err != nil {
			return versioning.Config{}, err
		}
		cfg.Condition = pred
	}

	if err := cfg.Validate(); err != nil {
		return versioning.Config{}, err
	}
	return cfg, nil
}

// DefaultEntities describes the tables created by the embedded migrations.
func DefaultEntities() []versioning.Config {
	str := domain.FieldTypeString
	return []versioning.Config{
		versioning.Config{
			Name: "Page",
			Mapping: repository.Mapping{
				Table: "pages", VersionTable: "page_versions", ForeignKey: "page_id",
				Fields: []domain.FieldDefinition{{Name: "title", Type: str}, {Name: "body", Type: str}},
			},
		}.WithDefaults(),
		versioning.Config{
			Name: "LockedPage",
			Mapping: repository.Mapping{
				Table: "locked_pages", VersionColumn: "revision", LockColumn: "lock_version", TypeColumn: "type",
				VersionTable: "locked_pages_revisions", ForeignKey: "page_id", InheritanceColumn: "version_type",
				Fields: []domain.FieldDefinition{{Name: "title", Type: str}},
			},
			WatchFields: []string{"title"},
			Limit:       2,
		}.WithDefaults(),
		versioning.Config{
			Name: "Landmark",
			Mapping: repository.Mapping{
				Table: "landmarks", VersionTable: "landmark_versions", ForeignKey: "landmark_id",
				Fields: []domain.FieldDefinition{
					{Name: "name", Type: str},
					{Name: "latitude", Type: domain.FieldTypeFloat},
					{Name: "longitude", Type: domain.FieldTypeFloat},
					{Name: "doesnt_trigger_version", Type: str},
				},
			},
			WatchFields: []string{"name", "latitude", "longitude"},
		}.WithDefaults(),
		versioning.Config{
			Name: "Widget",
			Mapping: repository.Mapping{
				Table: "widgets", VersionTable: "widget_versions", ForeignKey: "widget_id",
				Fields: []domain.FieldDefinition{{Name: "name", Type: str}},
			},
			Dependent: versioning.DependentNullify,
		}.WithDefaults(),
		versioning.Config{
			Name: "Document",
			Mapping: repository.Mapping{
				Table: "documents", LockColumn: "lock_version",
				VersionTable: "document_versions", ForeignKey: "document_id",
				Fields: []domain.FieldDefinition{
					{Name: "title", Type: str},
					{Name: "views", Type: domain.FieldTypeInteger},
					{Name: "featured", Type: domain.FieldTypeBoolean},
					{Name: "published_at", Type: domain.FieldTypeTimestamp},
					{Name: "metadata", Type: domain.FieldTypeJSON},
				},
			},
			WatchFields: []string{"title", "featured", "published_at", "metadata"},
		}.WithDefaults(),
	}
}
