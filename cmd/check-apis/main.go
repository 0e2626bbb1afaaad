package main

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/snfwatch/billwatch/internal/ai"
	"github.com/snfwatch/billwatch/internal/config"
	"github.com/snfwatch/billwatch/internal/sources"
	"github.com/snfwatch/billwatch/internal/storage"
)

func main() {
	fmt.Println("Bill change detector - connectivity check")
	fmt.Println(strings.Repeat("=", 42))

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	failures := 0
	failures += checkFeed(ctx, sources.NewFeedSource(cfg.BillFeedURL, cfg.BillFeedAPIKey))
	failures += checkAI(ctx, cfg)
	failures += checkStore(ctx, cfg)

	fmt.Println()
	if failures > 0 {
		log.Fatalf("%d check(s) failed", failures)
	}
	fmt.Println("All configured services reachable")
}

func checkFeed(ctx context.Context, source sources.Source) int {
	fmt.Printf("- Bill feed (%s)... ", source.GetName())
	if !source.IsEnabled() {
		fmt.Println("DISABLED (BILL_FEED_URL not set)")
		return 0
	}

	bills, err := source.TrackedBills(ctx)
	if err != nil {
		fmt.Printf("ERROR: %v\n", err)
		return 1
	}
	fmt.Printf("OK (%d tracked bills)\n", len(bills))

	if len(bills) == 0 {
		return 0
	}
	doc, err := source.FetchDocument(ctx, bills[0])
	if err != nil {
		fmt.Printf("  sample %s: ERROR: %v\n", bills[0].BillID, err)
		return 1
	}
	fmt.Printf("  sample %s: %q, %d characters of text\n", doc.Metadata.BillID, doc.Status, len(doc.Text))
	return 0
}

func checkAI(ctx context.Context, cfg *config.Config) int {
	fmt.Print("- AI scorer... ")
	if !cfg.AIEnabled() {
		fmt.Println("DISABLED (keyword scoring only)")
		return 0
	}

	client := ai.NewClient(cfg.AIEndpoint, cfg.AIModel, cfg.AIAPIKey)
	start := time.Now()
	if err := client.Ping(ctx); err != nil {
		fmt.Printf("ERROR: %v\n", err)
		return 1
	}
	fmt.Printf("OK (%v)\n", time.Since(start).Round(time.Millisecond))
	return 0
}

func checkStore(ctx context.Context, cfg *config.Config) int {
	fmt.Printf("- Record store (%s)... ", cfg.DatabasePath)
	repo, err := storage.OpenRepository(cfg.DatabasePath)
	if err != nil {
		fmt.Printf("ERROR: %v\n", err)
		return 1
	}
	defer repo.Close()

	if err := repo.Ping(ctx); err != nil {
		fmt.Printf("ERROR: %v\n", err)
		return 1
	}
	fmt.Println("OK")
	return 0
}
