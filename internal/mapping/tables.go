package mapping

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Tables holds the declarative value-mapping tables applied during
// transformation. Lookups ignore case and surrounding whitespace; a miss
// falls back to the configured default and records a warning on the item.
type Tables struct {
	Statuses   map[string]string `yaml:"statuses"`
	Priorities map[string]string `yaml:"priorities"`
}

// DefaultTables returns the built-in Zephyr Scale to qTest value tables.
func DefaultTables() *Tables {
	return &Tables{
		Statuses: map[string]string{
			"Pass":        "Passed",
			"Fail":        "Failed",
			"Blocked":     "Blocked",
			"Not Run":     "Not Run",
			"In Progress": "In Progress",
			"Draft":       "New",
			"Approved":    "Approved",
			"Deprecated":  "Obsolete",
		},
		Priorities: map[string]string{
			"Highest": "Urgent",
			"High":    "High",
			"Medium":  "Medium",
			"Normal":  "Medium",
			"Low":     "Low",
			"Lowest":  "Low",
		},
	}
}

// LoadTables reads mapping tables from a YAML file, merged over the
// built-in defaults so a partial file only overrides what it names.
func LoadTables(path string) (*Tables, error) {
	tables := DefaultTables()
	if path == "" {
		return tables, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read mapping tables: %w", err)
	}

	var loaded Tables
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return nil, fmt.Errorf("failed to parse mapping tables %s: %w", path, err)
	}

	for from, to := range loaded.Statuses {
		tables.Statuses[from] = to
	}
	for from, to := range loaded.Priorities {
		tables.Priorities[from] = to
	}
	return tables, nil
}
