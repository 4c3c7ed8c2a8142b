// Package versioning keeps an ordered history of a record's tracked fields in a
// companion table and restores records from that history.
package versioning

import (
	"fmt"
	"strings"

	"github.com/rpattn/versioned/internal/condition"
	"github.com/rpattn/versioned/internal/domain"
	"github.com/rpattn/versioned/internal/repository"
)

// Dependent selects what happens to version rows when their record is destroyed.
type Dependent string

const (
	// DependentDestroy deletes the history together with the record.
	DependentDestroy Dependent = "destroy"
	// DependentNullify keeps the history and clears its owner reference.
	DependentNullify Dependent = "nullify"
)

// ParseDependent resolves a dependent policy name; empty selects destroy.
func ParseDependent(value string) (Dependent, error) {
	switch Dependent(strings.ToLower(strings.TrimSpace(value))) {
	case "", DependentDestroy, "delete_all":
		return DependentDestroy, nil
	case DependentNullify:
		return DependentNullify, nil
	default:
		return "", fmt.Errorf("unsupported dependent policy %q", value)
	}
}

// Config describes one versioned entity type.
type Config struct {
	Name    string
	Mapping repository.Mapping
	// WatchFields restricts capture to changes of these fields when non-empty.
	WatchFields []string
	// Condition, when set, must hold for a save to capture a version.
	Condition condition.Predicate
	// Limit caps the number of stored versions per record; 0 keeps everything.
	Limit     int64
	Dependent Dependent
}

// WithDefaults fills the conventional mapping names and the dependent policy.
func (c Config) WithDefaults() Config {
	c.Mapping = c.Mapping.WithDefaults()
	if c.Dependent == "" {
		c.Dependent = DependentDestroy
	}
	if c.Name == "" {
		c.Name = c.Mapping.Table
	}
	return c
}

// Validate reports the first configuration problem.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("entity name is required")
	}
	if err := c.Mapping.Validate(); err != nil {
		return fmt.Errorf("invalid mapping for %s: %w", c.Name, err)
	}
	for _, name := range c.WatchFields {
		if _, ok := domain.LookupField(c.Mapping.Fields, name); !ok {
			return fmt.Errorf("watch field %q is not tracked by %s", name, c.Name)
		}
	}
	if c.Limit < 0 {
		return fmt.Errorf("limit for %s must not be negative", c.Name)
	}
	switch c.Dependent {
	case DependentDestroy, DependentNullify:
	default:
		return fmt.Errorf("unsupported dependent policy %q for %s", c.Dependent, c.Name)
	}
	return nil
}
