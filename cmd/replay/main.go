package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/snfwatch/billwatch/internal/ai"
	"github.com/snfwatch/billwatch/internal/config"
	"github.com/snfwatch/billwatch/internal/models"
	"github.com/snfwatch/billwatch/internal/pipeline"
	"github.com/snfwatch/billwatch/internal/sources"
	"github.com/snfwatch/billwatch/internal/storage"
)

// terminalNotifier prints deliveries instead of sending them
type terminalNotifier struct{}

func (terminalNotifier) SendAlert(alert *models.Alert, recipient models.AlertPreference) error {
	fmt.Println("\n" + strings.Repeat("=", 70))
	fmt.Printf("ALERT [%s] %s -> %s\n", strings.ToUpper(string(alert.Priority)), alert.BillNumber, recipient.UserID)
	fmt.Println(strings.Repeat("=", 70))
	fmt.Println(alert.Message)
	fmt.Printf("Score: %.3f\n", alert.Score)
	for _, f := range alert.TopFactors {
		fmt.Printf("  - %s\n", f)
	}
	return nil
}

func (terminalNotifier) SendDigest(digest *models.Digest, recipient models.AlertPreference) error {
	fmt.Printf("\nDIGEST %s for %s: %d alerts\n", digest.Period, recipient.UserID, len(digest.Alerts))
	return nil
}

func (terminalNotifier) SendReport(report *models.Report) error {
	fmt.Printf("\nREPORT %s: %d changes, %d transitions\n", report.Period, report.TotalChanges, report.Transitions)
	return nil
}

func main() {
	billID := flag.String("bill", "REPLAY-1", "bill identifier")
	oldPath := flag.String("old", "", "previous bill text (.txt or .html)")
	newPath := flag.String("new", "", "current bill text (.txt or .html)")
	oldStatus := flag.String("old-status", "Introduced", "previous status line")
	newStatus := flag.String("new-status", "", "current status line (defaults to -old-status)")
	tablesFile := flag.String("tables", "", "optional YAML tables file")
	useAI := flag.Bool("ai", false, "score with the configured AI endpoint")
	flag.Parse()

	if *oldPath == "" || *newPath == "" {
		fmt.Fprintln(os.Stderr, "usage: replay -old before.txt -new after.txt [-old-status S] [-new-status S]")
		os.Exit(2)
	}
	if *newStatus == "" {
		*newStatus = *oldStatus
	}

	logrus.SetLevel(logrus.WarnLevel)

	cfg := &config.Config{
		TimeZone:            "UTC",
		AITimeout:           30 * time.Second,
		ConfidenceThreshold: 0.6,
		SweepWorkers:        1,
		DedupWindow:         24 * time.Hour,
		DedupThreshold:      0.75,
		PriorityThresholds:  []float64{0.35, 0.60, 0.80},
	}

	var aiClient *ai.Client
	if *useAI {
		if err := godotenv.Load(); err != nil {
			logrus.Info("No .env file found, using environment variables")
		}
		cfg.AIEndpoint = os.Getenv("AI_ENDPOINT")
		cfg.AIModel = os.Getenv("AI_MODEL")
		if cfg.AIModel == "" {
			cfg.AIModel = "gpt-4o-mini"
		}
		cfg.AIAPIKey = os.Getenv("AI_API_KEY")
		if !cfg.AIEnabled() {
			fail("AI_ENDPOINT and AI_API_KEY are required with -ai")
		}
		aiClient = ai.NewClient(cfg.AIEndpoint, cfg.AIModel, cfg.AIAPIKey)
	}

	tables, err := config.LoadTables(*tablesFile)
	if err != nil {
		fail("%v", err)
	}

	repo, err := storage.OpenRepository(":memory:")
	if err != nil {
		fail("%v", err)
	}
	defer repo.Close()

	svc, err := pipeline.FromConfig(cfg, tables, repo, nil, terminalNotifier{}, nil, aiClient)
	if err != nil {
		fail("%v", err)
	}

	ctx := context.Background()
	meta := models.BillMetadata{BillID: *billID, Number: *billID}

	before, err := readText(*oldPath)
	if err != nil {
		fail("%v", err)
	}
	after, err := readText(*newPath)
	if err != nil {
		fail("%v", err)
	}

	if _, err := svc.ProcessDocument(ctx, &models.BillDocument{Metadata: meta, Text: before, Status: *oldStatus}); err != nil {
		fail("baseline: %v", err)
	}
	result, err := svc.ProcessDocument(ctx, &models.BillDocument{Metadata: meta, Text: after, Status: *newStatus})
	if err != nil {
		fail("replay: %v", err)
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		fail("%v", err)
	}
	fmt.Println()
	fmt.Println(string(out))
}

func readText(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".html", ".htm":
		return sources.HTMLToText(string(data))
	}
	return string(data), nil
}

func fail(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "replay: "+format+"\n", args...)
	os.Exit(1)
}
