package notifications

import (
	"bytes"
	"fmt"
	"html/template"
	"sort"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
	"github.com/snfwatch/billwatch/internal/config"
	"github.com/snfwatch/billwatch/internal/models"
	"gopkg.in/gomail.v2"
)

// Mailer sends composed email messages; *gomail.Dialer satisfies it
type Mailer interface {
	DialAndSend(m ...*gomail.Message) error
}

// Service handles sending notifications via Teams and email
type Service struct {
	config *config.Config
	client *resty.Client
	mailer Mailer
}

// Ensure Service implements NotificationInterface
var _ NotificationInterface = (*Service)(nil)

// TeamsMessage represents a Microsoft Teams message card
type TeamsMessage struct {
	Type       string         `json:"@type"`
	Context    string         `json:"@context"`
	ThemeColor string         `json:"themeColor,omitempty"`
	Title      string         `json:"title"`
	Text       string         `json:"text"`
	Sections   []TeamsSection `json:"sections,omitempty"`
}

type TeamsSection struct {
	ActivityTitle    string      `json:"activityTitle,omitempty"`
	ActivitySubtitle string      `json:"activitySubtitle,omitempty"`
	ActivityText     string      `json:"activityText,omitempty"`
	Facts            []TeamsFact `json:"facts,omitempty"`
	Markdown         bool        `json:"markdown,omitempty"`
}

type TeamsFact struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

var priorityColor = map[models.PriorityLevel]string{
	models.PriorityUrgent: "d13438",
	models.PriorityHigh:   "ff8c00",
	models.PriorityMedium: "0078d4",
	models.PriorityLow:    "605e5c",
}

// NewService creates a new notification service
func NewService(cfg *config.Config) *Service {
	return &Service{
		config: cfg,
		client: resty.New().SetTimeout(30 * time.Second),
		mailer: gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword),
	}
}

// WithMailer replaces the SMTP dialer
func (s *Service) WithMailer(m Mailer) *Service {
	s.mailer = m
	return s
}

// SendAlert delivers one prioritized alert to a recipient
func (s *Service) SendAlert(alert *models.Alert, recipient models.AlertPreference) error {
	if err := alert.ReadyForDelivery(); err != nil {
		return fmt.Errorf("alert %s: %w", alert.ID, err)
	}

	subject := fmt.Sprintf("[%s] %s - %s", strings.ToUpper(string(alert.Priority)), alert.BillNumber, alert.Title)
	return s.deliver("alert", recipient, func() *TeamsMessage {
		return buildAlertCard(alert)
	}, subject, func() (string, error) {
		return render(alertTemplate, alert)
	}, alertText(alert))
}

// SendDigest delivers a batch of grouped alerts to a recipient
func (s *Service) SendDigest(digest *models.Digest, recipient models.AlertPreference) error {
	if len(digest.Alerts) == 0 {
		return nil
	}

	subject := fmt.Sprintf("Bill Watch %s digest - %s (%d alerts)", digest.Mode, digest.Period, len(digest.Alerts))
	return s.deliver("digest", recipient, func() *TeamsMessage {
		return buildDigestCard(digest)
	}, subject, func() (string, error) {
		return render(digestTemplate, digest)
	}, digestText(digest))
}

// SendReport sends a summary report via configured notification channels
func (s *Service) SendReport(report *models.Report) error {
	subject := fmt.Sprintf("Bill Watch Report - %s (%d changes, %d alerts)",
		strings.Title(report.Period), report.TotalChanges, report.TotalAlerts)
	return s.deliver("report", models.AlertPreference{}, func() *TeamsMessage {
		return buildReportCard(report)
	}, subject, func() (string, error) {
		return render(reportTemplate, report)
	}, reportText(report))
}

func (s *Service) deliver(kind string, recipient models.AlertPreference, card func() *TeamsMessage,
	subject string, html func() (string, error), text string) error {
	var errors []string
	sent := 0

	logger := logrus.WithFields(logrus.Fields{"kind": kind, "user_id": recipient.UserID})

	if s.config.TeamsWebhookURL != "" {
		if err := s.sendToTeams(card()); err != nil {
			logger.WithError(err).Error("Failed to send Teams notification")
			errors = append(errors, fmt.Sprintf("Teams: %v", err))
		} else {
			sent++
		}
	}

	to := recipient.Email
	if to == "" {
		to = s.config.NotificationEmail
	}
	if to != "" && s.config.SMTPHost != "" {
		body, err := html()
		if err == nil {
			err = s.sendEmail(to, subject, body, text)
		}
		if err != nil {
			logger.WithError(err).Error("Failed to send email notification")
			errors = append(errors, fmt.Sprintf("Email: %v", err))
		} else {
			sent++
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("notification errors: %s", strings.Join(errors, "; "))
	}
	if sent == 0 {
		return fmt.Errorf("no notification channel configured for %s", kind)
	}

	logger.Debugf("Delivered %s via %d channel(s)", kind, sent)
	return nil
}

func (s *Service) sendToTeams(message *TeamsMessage) error {
	resp, err := s.client.R().
		SetHeader("Content-Type", "application/json").
		SetBody(message).
		Post(s.config.TeamsWebhookURL)

	if err != nil {
		return fmt.Errorf("failed to send Teams message: %w", err)
	}

	if resp.StatusCode() != 200 {
		return fmt.Errorf("Teams webhook returned status %d: %s", resp.StatusCode(), string(resp.Body()))
	}

	return nil
}

func (s *Service) sendEmail(to, subject, htmlBody, textBody string) error {
	m := gomail.NewMessage()
	m.SetHeader("From", s.config.SMTPUsername)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", textBody)
	m.AddAlternative("text/html", htmlBody)

	if err := s.mailer.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

func buildAlertCard(alert *models.Alert) *TeamsMessage {
	facts := []TeamsFact{
		{Name: "Bill", Value: alert.BillNumber},
		{Name: "Priority", Value: strings.ToUpper(string(alert.Priority))},
		{Name: "Score", Value: fmt.Sprintf("%.2f", alert.Score)},
		{Name: "Detected", Value: alert.CreatedAt.UTC().Format("2006-01-02 15:04 UTC")},
	}
	if len(alert.TopFactors) > 0 {
		facts = append(facts, TeamsFact{Name: "Top factors", Value: strings.Join(alert.TopFactors, ", ")})
	}

	message := &TeamsMessage{
		Type:       "MessageCard",
		Context:    "https://schema.org/extensions",
		ThemeColor: priorityColor[alert.Priority],
		Title:      fmt.Sprintf("%s: %s", alert.BillNumber, alert.Title),
		Text:       alert.Message,
		Sections: []TeamsSection{{
			ActivityTitle: "Details",
			Facts:         facts,
			Markdown:      true,
		}},
	}

	if len(alert.Recommendations) > 0 {
		message.Sections = append(message.Sections, TeamsSection{
			ActivityTitle: "Recommended actions",
			ActivityText:  "- " + strings.Join(alert.Recommendations, "\n- "),
			Markdown:      true,
		})
	}
	return message
}

func buildDigestCard(digest *models.Digest) *TeamsMessage {
	var lines []string
	for _, alert := range digest.Alerts {
		lines = append(lines, fmt.Sprintf("**[%s] %s** - %s", strings.ToUpper(string(alert.Priority)), alert.BillNumber, alert.Message))
	}

	return &TeamsMessage{
		Type:    "MessageCard",
		Context: "https://schema.org/extensions",
		Title:   fmt.Sprintf("Bill Watch %s digest - %s", strings.Title(string(digest.Mode)), digest.Period),
		Text:    fmt.Sprintf("%d alerts grouped for %s", len(digest.Alerts), digest.UserID),
		Sections: []TeamsSection{{
			ActivityTitle: "Alerts",
			ActivityText:  strings.Join(lines, "\n\n"),
			Markdown:      true,
		}},
	}
}

func buildReportCard(report *models.Report) *TeamsMessage {
	facts := []TeamsFact{
		{Name: "Changes", Value: fmt.Sprintf("%d", report.TotalChanges)},
		{Name: "Stage transitions", Value: fmt.Sprintf("%d", report.Transitions)},
		{Name: "Alerts", Value: fmt.Sprintf("%d", report.TotalAlerts)},
		{Name: "Generated", Value: report.GeneratedAt.UTC().Format("2006-01-02 15:04:05 UTC")},
	}

	if byPriority, ok := report.Summary["alerts_by_priority"].(map[string]int); ok {
		for _, level := range sortedKeys(byPriority) {
			facts = append(facts, TeamsFact{
				Name:  fmt.Sprintf("%s alerts", strings.Title(level)),
				Value: fmt.Sprintf("%d", byPriority[level]),
			})
		}
	}

	return &TeamsMessage{
		Type:    "MessageCard",
		Context: "https://schema.org/extensions",
		Title:   fmt.Sprintf("Bill Watch Report - %s", strings.Title(report.Period)),
		Text:    fmt.Sprintf("%d bill changes detected since %s", report.TotalChanges, report.Since.UTC().Format("Jan 2")),
		Sections: []TeamsSection{{
			ActivityTitle: "Summary",
			Facts:         facts,
			Markdown:      true,
		}},
	}
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var funcs = template.FuncMap{
	"title": strings.Title,
	"upper": func(p models.PriorityLevel) string { return strings.ToUpper(string(p)) },
	"truncate": func(length int, s string) string {
		if len(s) <= length {
			return s
		}
		return s[:length] + "..."
	},
}

const emailStyle = `
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        .header { background-color: #0078d4; color: white; padding: 20px; border-radius: 5px; }
        .summary { background-color: #f5f5f5; padding: 15px; margin: 20px 0; border-radius: 5px; }
        .alert { border-left: 4px solid #0078d4; padding: 10px; margin: 10px 0; background-color: #fafafa; }
        .alert-meta { color: #666; font-size: 0.9em; }
        .urgent { border-left-color: #d13438; }
        .high { border-left-color: #ff8c00; }
        .low { border-left-color: #605e5c; }
    </style>`

var (
	alertTemplate = template.Must(template.New("alert").Funcs(funcs).Parse(`<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"><title>Bill Watch Alert</title>` + emailStyle + `</head>
<body>
    <div class="header">
        <h1>{{.BillNumber}}: {{.Title}}</h1>
        <p>Priority {{upper .Priority}} (score {{printf "%.2f" .Score}})</p>
    </div>
    <div class="alert {{.Priority}}">
        <p>{{.Message}}</p>
        {{if .TopFactors}}<p class="alert-meta">Top factors: {{range $i, $f := .TopFactors}}{{if $i}}, {{end}}{{$f}}{{end}}</p>{{end}}
    </div>
    {{if .Recommendations}}
    <h2>Recommended actions</h2>
    <ul>{{range .Recommendations}}<li>{{.}}</li>{{end}}</ul>
    {{end}}
    <hr>
    <p><small>This alert was generated automatically by Bill Watch.</small></p>
</body>
</html>
`))

	digestTemplate = template.Must(template.New("digest").Funcs(funcs).Parse(`<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"><title>Bill Watch Digest</title>` + emailStyle + `</head>
<body>
    <div class="header">
        <h1>Bill Watch {{title (printf "%s" .Mode)}} Digest</h1>
        <p>{{.Period}} - {{len .Alerts}} alerts</p>
    </div>
    {{range .Alerts}}
    <div class="alert {{.Priority}}">
        <div><strong>[{{upper .Priority}}] {{.BillNumber}}</strong> {{.Title}}</div>
        <div class="alert-meta">{{.CreatedAt.Format "Jan 2, 2006 15:04"}}</div>
        <p>{{truncate 300 .Message}}</p>
    </div>
    {{end}}
    <hr>
    <p><small>This digest was generated automatically by Bill Watch.</small></p>
</body>
</html>
`))

	reportTemplate = template.Must(template.New("report").Funcs(funcs).Parse(`<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"><title>Bill Watch Report</title>` + emailStyle + `</head>
<body>
    <div class="header">
        <h1>Bill Watch Report</h1>
        <p>{{title .Period}} report generated on {{.GeneratedAt.Format "January 2, 2006 at 3:04 PM UTC"}}</p>
    </div>
    <div class="summary">
        <h2>Summary</h2>
        <p><strong>Bill changes:</strong> {{.TotalChanges}}</p>
        <p><strong>Stage transitions:</strong> {{.Transitions}}</p>
        <p><strong>Alerts:</strong> {{.TotalAlerts}}</p>
        {{with index .Summary "alerts_by_priority"}}
            {{range $level, $count := .}}<p><strong>{{title $level}} alerts:</strong> {{$count}}</p>{{end}}
        {{end}}
    </div>
    <hr>
    <p><small>This report was generated automatically by Bill Watch.</small></p>
</body>
</html>
`))
)

func render(t *template.Template, data interface{}) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render %s email: %w", t.Name(), err)
	}
	return buf.String(), nil
}

func alertText(alert *models.Alert) string {
	var text strings.Builder

	text.WriteString(fmt.Sprintf("%s: %s\n", alert.BillNumber, alert.Title))
	text.WriteString(fmt.Sprintf("Priority: %s (score %.2f)\n\n", strings.ToUpper(string(alert.Priority)), alert.Score))
	text.WriteString(alert.Message + "\n")

	if len(alert.TopFactors) > 0 {
		text.WriteString(fmt.Sprintf("\nTop factors: %s\n", strings.Join(alert.TopFactors, ", ")))
	}
	if len(alert.Recommendations) > 0 {
		text.WriteString("\nRECOMMENDED ACTIONS\n")
		for i, r := range alert.Recommendations {
			text.WriteString(fmt.Sprintf("%d. %s\n", i+1, r))
		}
	}

	text.WriteString("\n---\nThis alert was generated automatically by Bill Watch.\n")
	return text.String()
}

func digestText(digest *models.Digest) string {
	var text strings.Builder

	text.WriteString(fmt.Sprintf("Bill Watch %s digest - %s\n\n", digest.Mode, digest.Period))
	for i, alert := range digest.Alerts {
		text.WriteString(fmt.Sprintf("%d. [%s] %s - %s\n", i+1, strings.ToUpper(string(alert.Priority)), alert.BillNumber, alert.Title))
		text.WriteString(fmt.Sprintf("   %s\n", alert.Message))
	}

	text.WriteString("\n---\nThis digest was generated automatically by Bill Watch.\n")
	return text.String()
}

func reportText(report *models.Report) string {
	var text strings.Builder

	text.WriteString(fmt.Sprintf("Bill Watch Report - %s\n", strings.Title(report.Period)))
	text.WriteString(fmt.Sprintf("Generated: %s\n\n", report.GeneratedAt.UTC().Format("2006-01-02 15:04:05 UTC")))

	text.WriteString("SUMMARY\n")
	text.WriteString("=======\n")
	text.WriteString(fmt.Sprintf("Bill changes: %d\n", report.TotalChanges))
	text.WriteString(fmt.Sprintf("Stage transitions: %d\n", report.Transitions))
	text.WriteString(fmt.Sprintf("Alerts: %d\n", report.TotalAlerts))

	if byTier, ok := report.Summary["changes_by_tier"].(map[string]int); ok {
		for _, tier := range sortedKeys(byTier) {
			text.WriteString(fmt.Sprintf("%s changes: %d\n", strings.Title(tier), byTier[tier]))
		}
	}

	text.WriteString("\n---\nThis report was generated automatically by Bill Watch.\n")
	return text.String()
}
