package sources

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
	"github.com/snfwatch/billwatch/internal/models"
)

// FeedSource reads tracked bills and their current text from an HTTP JSON feed
type FeedSource struct {
	baseURL string
	client  *resty.Client
}

var _ Source = (*FeedSource)(nil)

type feedBill struct {
	ID           string     `json:"id"`
	Number       string     `json:"number"`
	Title        string     `json:"title"`
	Summary      string     `json:"summary"`
	Jurisdiction string     `json:"jurisdiction"`
	Relevance    *float64   `json:"relevance_score"`
	Deadline     *time.Time `json:"deadline"`
}

type feedDocument struct {
	feedBill
	Status  string `json:"status"`
	Text    string `json:"text"`
	HTML    string `json:"html"`
	TextURL string `json:"text_url"`
}

type feedList struct {
	Bills []feedBill `json:"bills"`
}

// NewFeedSource creates a feed client. An empty base URL disables the source.
func NewFeedSource(baseURL, apiKey string) *FeedSource {
	client := resty.New().
		SetTimeout(30*time.Second).
		SetHeader("User-Agent", "BillWatch/1.0").
		SetHeader("Accept", "application/json").
		SetRetryCount(2).
		SetRetryWaitTime(time.Second)
	if apiKey != "" {
		client.SetHeader("X-API-Key", apiKey)
	}

	return &FeedSource{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

func (f *FeedSource) GetName() string {
	return "feed"
}

func (f *FeedSource) IsEnabled() bool {
	return f.baseURL != ""
}

// TrackedBills lists the bills the feed is tracking
func (f *FeedSource) TrackedBills(ctx context.Context) ([]models.BillMetadata, error) {
	var list feedList
	resp, err := f.client.R().
		SetContext(ctx).
		SetResult(&list).
		Get(f.baseURL + "/bills")
	if err != nil {
		return nil, fmt.Errorf("failed to list bills: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("bill feed returned status %d", resp.StatusCode())
	}

	bills := make([]models.BillMetadata, 0, len(list.Bills))
	for _, b := range list.Bills {
		if b.ID == "" {
			logrus.Warn("Skipping bill without identifier in feed listing")
			continue
		}
		bills = append(bills, f.metadata(b))
	}

	logrus.WithField("source", f.GetName()).Debugf("Feed lists %d tracked bills", len(bills))
	return bills, nil
}

// FetchDocument returns the current text and status of a bill. HTML text,
// inline or linked, is reduced to plain text with one block per line.
func (f *FeedSource) FetchDocument(ctx context.Context, bill models.BillMetadata) (*models.BillDocument, error) {
	var doc feedDocument
	resp, err := f.client.R().
		SetContext(ctx).
		SetResult(&doc).
		Get(f.baseURL + "/bills/" + url.PathEscape(bill.BillID))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch bill %s: %w", bill.BillID, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("bill feed returned status %d for %s", resp.StatusCode(), bill.BillID)
	}

	text := doc.Text
	switch {
	case text == "" && doc.HTML != "":
		if text, err = HTMLToText(doc.HTML); err != nil {
			return nil, fmt.Errorf("bill %s: %w", bill.BillID, err)
		}
	case text == "" && doc.TextURL != "":
		if text, err = f.fetchHTML(ctx, doc.TextURL); err != nil {
			return nil, fmt.Errorf("bill %s: %w", bill.BillID, err)
		}
	}

	meta := bill
	if doc.ID != "" {
		meta = f.metadata(doc.feedBill)
	}

	return &models.BillDocument{
		Metadata: meta,
		Text:     text,
		Status:   strings.TrimSpace(doc.Status),
	}, nil
}

func (f *FeedSource) fetchHTML(ctx context.Context, textURL string) (string, error) {
	resp, err := f.client.R().
		SetContext(ctx).
		SetHeader("Accept", "text/html").
		Get(textURL)
	if err != nil {
		return "", fmt.Errorf("failed to fetch bill text: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("bill text returned status %d", resp.StatusCode())
	}
	return HTMLToText(string(resp.Body()))
}

func (f *FeedSource) metadata(b feedBill) models.BillMetadata {
	return models.BillMetadata{
		BillID:       b.ID,
		Number:       b.Number,
		Title:        b.Title,
		Summary:      b.Summary,
		Jurisdiction: b.Jurisdiction,
		Source:       f.GetName(),
		Relevance:    b.Relevance,
		Deadline:     b.Deadline,
	}
}

const blockSelector = "h1, h2, h3, h4, h5, h6, p, li, pre, td"

// HTMLToText extracts readable text from a bill page, one block per line
func HTMLToText(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("failed to parse bill HTML: %w", err)
	}

	doc.Find("script, style, nav, header, footer, noscript").Remove()

	var lines []string
	doc.Find(blockSelector).Each(func(_ int, s *goquery.Selection) {
		// nested blocks are emitted by their innermost element
		if s.Find(blockSelector).Length() > 0 {
			return
		}
		if line := strings.Join(strings.Fields(s.Text()), " "); line != "" {
			lines = append(lines, line)
		}
	})

	if len(lines) == 0 {
		return strings.Join(strings.Fields(doc.Find("body").Text()), " "), nil
	}
	return strings.Join(lines, "\n"), nil
}
