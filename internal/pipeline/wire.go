package pipeline

import (
	"fmt"

	"github.com/snfwatch/billwatch/internal/ai"
	"github.com/snfwatch/billwatch/internal/classifier"
	"github.com/snfwatch/billwatch/internal/config"
	"github.com/snfwatch/billwatch/internal/dedup"
	"github.com/snfwatch/billwatch/internal/diff"
	"github.com/snfwatch/billwatch/internal/notifications"
	"github.com/snfwatch/billwatch/internal/priority"
	"github.com/snfwatch/billwatch/internal/sources"
	"github.com/snfwatch/billwatch/internal/stage"
	"github.com/snfwatch/billwatch/internal/storage"
)

// Engines builds the stateless pipeline stages from configuration and tables.
// The AI client may be nil or unconfigured, in which case classification and
// status interpretation use the deterministic paths only.
func Engines(cfg *config.Config, tables *config.Tables, aiClient *ai.Client) (Components, error) {
	if tables == nil {
		tables = &config.Tables{}
	}
	table, err := tables.KeywordTable()
	if err != nil {
		return Components{}, fmt.Errorf("invalid keyword table: %w", err)
	}

	thresholds, err := priority.ThresholdsFrom(cfg.PriorityThresholds)
	if err != nil {
		return Components{}, err
	}
	var weights priority.Weights
	if len(tables.PriorityWeights) > 0 {
		weights = priority.Weights(tables.PriorityWeights)
	}
	prioritizer, err := priority.New(weights, thresholds)
	if err != nil {
		return Components{}, fmt.Errorf("invalid priority weights: %w", err)
	}

	var scorer classifier.Scorer
	var interpreter stage.Interpreter
	if aiClient.Available() {
		scorer = classifier.NewAIScorer(aiClient)
		interpreter = aiClient
	}

	window := dedup.NewMemoryWindow(cfg.DedupWindow)

	c := Components{
		Differ:      diff.NewEngine(table),
		Detector:    stage.NewDetector(tables.StageDurations, interpreter, cfg.AITimeout),
		Classifier:  classifier.New(scorer, table, cfg.AITimeout, cfg.ConfidenceThreshold),
		Dedup:       dedup.NewEngine(window, dedup.NewDigestBook(), cfg.DedupWindow, cfg.DedupThreshold, cfg.UniqueKeywords),
		Window:      window,
		Prioritizer: prioritizer,
	}
	if aiClient.Available() {
		c.AI = aiClient
	}
	return c, nil
}

// FromConfig assembles a complete service around the given collaborators
func FromConfig(cfg *config.Config, tables *config.Tables, store storage.Store, archive storage.Archive,
	notifier notifications.NotificationInterface, source sources.Source, aiClient *ai.Client) (*Service, error) {
	c, err := Engines(cfg, tables, aiClient)
	if err != nil {
		return nil, err
	}
	c.Store = store
	c.Archive = archive
	c.Notifier = notifier
	c.Source = source
	return NewService(cfg, c)
}
