package notifications

import "github.com/snfwatch/billwatch/internal/models"

// NotificationInterface defines the contract for alert delivery
type NotificationInterface interface {
	SendAlert(alert *models.Alert, recipient models.AlertPreference) error
	SendDigest(digest *models.Digest, recipient models.AlertPreference) error
	SendReport(report *models.Report) error
}
