package storage

import (
	"context"
	"errors"
	"time"

	"github.com/snfwatch/billwatch/internal/models"
)

// ErrNotFound is returned when a requested record does not exist
var ErrNotFound = errors.New("record not found")

// Archive defines the contract for blob archive operations
type Archive interface {
	Store(key string, data []byte) error
	Retrieve(key string) ([]byte, error)
	List(prefix string) ([]string, error)
	Delete(key string) error
}

// SnapshotStore returns the latest snapshot for a bill and stores new ones
type SnapshotStore interface {
	LatestSnapshot(ctx context.Context, billID string) (*models.BillSnapshot, error)
	StoreSnapshot(ctx context.Context, snapshot *models.BillSnapshot) error
}

// PreferenceStore resolves who receives alerts for a bill and how
type PreferenceStore interface {
	Subscribers(ctx context.Context, billID string) ([]models.AlertPreference, error)
	Preference(ctx context.Context, userID string) (models.AlertPreference, error)
}

// RecordStore persists pipeline outputs
type RecordStore interface {
	SaveChange(ctx context.Context, change *models.ChangeRecord) error
	SaveTransition(ctx context.Context, transition *models.StageTransition) error
	SaveClassification(ctx context.Context, result *models.ClassificationResult) error
	SaveAlert(ctx context.Context, alert *models.Alert) error
	MarkDelivered(ctx context.Context, alertID string, state models.DeliveryState, at time.Time) error
}

// Store is everything the pipeline needs from persistence
type Store interface {
	SnapshotStore
	PreferenceStore
	RecordStore
	RecentAlerts(ctx context.Context, since time.Time) ([]models.Alert, error)
	PendingGrouped(ctx context.Context) ([]models.Alert, error)
	Purge(ctx context.Context, before time.Time) (int64, error)
	BuildReport(ctx context.Context, period string, since, until time.Time) (*models.Report, error)
	Ping(ctx context.Context) error
}
