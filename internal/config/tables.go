package config

import (
	"fmt"
	"os"
	"time"

	"github.com/snfwatch/billwatch/internal/keywords"
	"gopkg.in/yaml.v3"
)

// Tables holds the read-only lookup tables shared by the pipeline.
// They are loaded once at start-up and never mutated afterwards.
type Tables struct {
	Keywords        []keywords.Term          `yaml:"keywords"`
	StageDurations  map[string]time.Duration `yaml:"stage_durations"`
	PriorityWeights map[string]float64       `yaml:"priority_weights"`
}

// LoadTables reads a YAML tables file. An empty path yields empty tables,
// meaning every component keeps its built-in defaults.
func LoadTables(path string) (*Tables, error) {
	tables := &Tables{}
	if path == "" {
		return tables, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tables file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, tables); err != nil {
		return nil, fmt.Errorf("failed to parse tables file %s: %w", path, err)
	}

	for stage, d := range tables.StageDurations {
		if d <= 0 {
			return nil, fmt.Errorf("stage duration for %q must be positive", stage)
		}
	}

	return tables, nil
}

// KeywordTable builds the keyword table, falling back to the default vocabulary
func (t *Tables) KeywordTable() (*keywords.Table, error) {
	if len(t.Keywords) == 0 {
		return keywords.Default(), nil
	}
	return keywords.NewTable(t.Keywords)
}
