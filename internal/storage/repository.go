package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/snfwatch/billwatch/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Subscription links a user to a bill. BillID "*" subscribes to every bill.
type Subscription struct {
	UserID    string    `json:"user_id" gorm:"primaryKey"`
	BillID    string    `json:"bill_id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
}

// AllBills subscribes a user to every tracked bill
const AllBills = "*"

// Repository is the gorm-backed record store
type Repository struct {
	db *gorm.DB
}

var _ Store = (*Repository)(nil)

// OpenRepository opens (or creates) a SQLite database and migrates the schema
func OpenRepository(path string) (*Repository, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access database handle: %w", err)
	}
	// SQLite serializes writers; a single connection avoids lock contention
	sqlDB.SetMaxOpenConns(1)

	return NewRepository(db)
}

// NewRepository wraps an open gorm handle and migrates the schema
func NewRepository(db *gorm.DB) (*Repository, error) {
	if err := db.AutoMigrate(
		&models.BillSnapshot{},
		&models.ChangeRecord{},
		&models.StageTransition{},
		&models.ClassificationResult{},
		&models.Alert{},
		&models.AlertPreference{},
		&Subscription{},
	); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	logrus.Debug("Record store schema migrated")
	return &Repository{db: db}, nil
}

// Close releases the database handle
func (r *Repository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks the database is reachable
func (r *Repository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// LatestSnapshot returns the most recent snapshot for a bill or ErrNotFound
func (r *Repository) LatestSnapshot(ctx context.Context, billID string) (*models.BillSnapshot, error) {
	var snap models.BillSnapshot
	err := r.db.WithContext(ctx).
		Where("bill_id = ?", billID).
		Order("captured_at DESC").
		First(&snap).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot for %s: %w", billID, err)
	}
	return &snap, nil
}

// StoreSnapshot appends a snapshot; snapshots are never updated in place
func (r *Repository) StoreSnapshot(ctx context.Context, snapshot *models.BillSnapshot) error {
	if err := r.db.WithContext(ctx).Create(snapshot).Error; err != nil {
		return fmt.Errorf("failed to store snapshot for %s: %w", snapshot.BillID, err)
	}
	return nil
}

// SaveChange persists a change record
func (r *Repository) SaveChange(ctx context.Context, change *models.ChangeRecord) error {
	if err := r.db.WithContext(ctx).Create(change).Error; err != nil {
		return fmt.Errorf("failed to save change record: %w", err)
	}
	return nil
}

// SaveTransition persists a stage transition
func (r *Repository) SaveTransition(ctx context.Context, transition *models.StageTransition) error {
	if err := r.db.WithContext(ctx).Create(transition).Error; err != nil {
		return fmt.Errorf("failed to save stage transition: %w", err)
	}
	return nil
}

// SaveClassification persists a classification result
func (r *Repository) SaveClassification(ctx context.Context, result *models.ClassificationResult) error {
	if err := r.db.WithContext(ctx).Create(result).Error; err != nil {
		return fmt.Errorf("failed to save classification: %w", err)
	}
	return nil
}

// SaveAlert inserts or replaces an alert, including suppressed ones
func (r *Repository) SaveAlert(ctx context.Context, alert *models.Alert) error {
	if err := r.db.WithContext(ctx).Save(alert).Error; err != nil {
		return fmt.Errorf("failed to save alert %s: %w", alert.ID, err)
	}
	return nil
}

// MarkDelivered records the delivery outcome of an alert
func (r *Repository) MarkDelivered(ctx context.Context, alertID string, state models.DeliveryState, at time.Time) error {
	updates := map[string]interface{}{"delivery": state}
	if state == models.DeliverySent {
		updates["delivered_at"] = at
	}

	res := r.db.WithContext(ctx).Model(&models.Alert{}).Where("id = ?", alertID).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("failed to update alert %s: %w", alertID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("alert %s: %w", alertID, ErrNotFound)
	}
	return nil
}

// Alert loads one alert by ID
func (r *Repository) Alert(ctx context.Context, id string) (*models.Alert, error) {
	var alert models.Alert
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&alert).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load alert %s: %w", id, err)
	}
	return &alert, nil
}

// AlertsForBill returns every alert for a bill, oldest first
func (r *Repository) AlertsForBill(ctx context.Context, billID string) ([]models.Alert, error) {
	var alerts []models.Alert
	if err := r.db.WithContext(ctx).Where("bill_id = ?", billID).Order("created_at").Find(&alerts).Error; err != nil {
		return nil, fmt.Errorf("failed to load alerts for %s: %w", billID, err)
	}
	return alerts, nil
}

// RecentAlerts returns non-suppressed alerts created at or after since
func (r *Repository) RecentAlerts(ctx context.Context, since time.Time) ([]models.Alert, error) {
	var alerts []models.Alert
	err := r.db.WithContext(ctx).
		Where("created_at >= ? AND outcome <> ?", since, models.OutcomeSuppress).
		Order("created_at").
		Find(&alerts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load recent alerts: %w", err)
	}
	return alerts, nil
}

// PendingGrouped returns grouped alerts not yet delivered, oldest first
func (r *Repository) PendingGrouped(ctx context.Context) ([]models.Alert, error) {
	var alerts []models.Alert
	err := r.db.WithContext(ctx).
		Where("outcome = ? AND delivery IN ?", models.OutcomeGroup, []models.DeliveryState{models.DeliveryPending, models.DeliveryHeld}).
		Order("created_at").
		Find(&alerts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load pending alerts: %w", err)
	}
	return alerts, nil
}

// SavePreference upserts a user's alert preference
func (r *Repository) SavePreference(ctx context.Context, pref *models.AlertPreference) error {
	if err := r.db.WithContext(ctx).Save(pref).Error; err != nil {
		return fmt.Errorf("failed to save preference for %s: %w", pref.UserID, err)
	}
	return nil
}

// Preference returns a user's stored preference or the default one
func (r *Repository) Preference(ctx context.Context, userID string) (models.AlertPreference, error) {
	var pref models.AlertPreference
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&pref).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.DefaultPreference(userID), nil
	}
	if err != nil {
		return pref, fmt.Errorf("failed to load preference for %s: %w", userID, err)
	}
	return pref, nil
}

// Subscribe registers a user for alerts on a bill
func (r *Repository) Subscribe(ctx context.Context, userID, billID string) error {
	sub := Subscription{UserID: userID, BillID: billID, CreatedAt: time.Now().UTC()}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&sub).Error
	if err != nil {
		return fmt.Errorf("failed to subscribe %s to %s: %w", userID, billID, err)
	}
	return nil
}

// Subscribers returns the preferences of every user subscribed to the bill,
// directly or through an all-bills subscription
func (r *Repository) Subscribers(ctx context.Context, billID string) ([]models.AlertPreference, error) {
	var userIDs []string
	err := r.db.WithContext(ctx).Model(&Subscription{}).
		Distinct("user_id").
		Where("bill_id IN ?", []string{billID, AllBills}).
		Order("user_id").
		Pluck("user_id", &userIDs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load subscribers for %s: %w", billID, err)
	}

	prefs := make([]models.AlertPreference, 0, len(userIDs))
	for _, id := range userIDs {
		pref, err := r.Preference(ctx, id)
		if err != nil {
			return nil, err
		}
		prefs = append(prefs, pref)
	}
	return prefs, nil
}

// Purge deletes derived records created before the cutoff and snapshots older
// than it, always keeping the latest snapshot of each bill
func (r *Repository) Purge(ctx context.Context, before time.Time) (int64, error) {
	var total int64

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		deletes := []struct {
			model  interface{}
			column string
		}{
			{&models.ChangeRecord{}, "computed_at"},
			{&models.StageTransition{}, "transitioned_at"},
			{&models.ClassificationResult{}, "classified_at"},
			{&models.Alert{}, "created_at"},
		}
		for _, d := range deletes {
			res := tx.Where(d.column+" < ?", before).Delete(d.model)
			if res.Error != nil {
				return res.Error
			}
			total += res.RowsAffected
		}

		res := tx.Exec(`DELETE FROM bill_snapshots WHERE captured_at < ? AND captured_at <
			(SELECT MAX(s.captured_at) FROM bill_snapshots s WHERE s.bill_id = bill_snapshots.bill_id)`, before)
		if res.Error != nil {
			return res.Error
		}
		total += res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to purge records: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"before":  before.Format(time.RFC3339),
		"removed": total,
	}).Info("Purged aged records")
	return total, nil
}
