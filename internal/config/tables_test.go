package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadTablesEmptyPath(t *testing.T) {
	tables, err := LoadTables("")
	require.NoError(t, err)

	table, err := tables.KeywordTable()
	require.NoError(t, err)
	assert.NotEmpty(t, table.Terms())
}

func TestLoadTablesFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tables.yaml")
	content := `
keywords:
  - phrase: Prior Authorization
    weight: 1.0
    domain: compliance
  - phrase: bed tax
    weight: 0.8
    domain: reimbursement
stage_durations:
  committee: 720h
  floor_vote: 48h
priority_weights:
  reimbursement: 0.5
  severity: 0.5
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	tables, err := LoadTables(path)
	require.NoError(t, err)

	assert.Equal(t, 720*time.Hour, tables.StageDurations["committee"])
	assert.Equal(t, 48*time.Hour, tables.StageDurations["floor_vote"])
	assert.Equal(t, 0.5, tables.PriorityWeights["reimbursement"])

	table, err := tables.KeywordTable()
	require.NoError(t, err)
	require.Len(t, table.Terms(), 2)
	assert.Equal(t, "prior authorization", table.Terms()[0].Phrase)
}

func TestLoadTablesRejectsBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tables.yaml")
	require.NoError(t, os.WriteFile(path, []byte("stage_durations:\n  committee: -1h\n"), 0o600))

	_, err := LoadTables(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "committee")
}

func TestLoadTablesMissingFile(t *testing.T) {
	_, err := LoadTables(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
