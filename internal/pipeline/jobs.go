package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/snfwatch/billwatch/internal/models"
	"github.com/snfwatch/billwatch/internal/storage"
)

// ProcessAlerts is the hourly alert pass: alerts held during a recipient's
// quiet hours are delivered once the quiet window has ended.
func (s *Service) ProcessAlerts(ctx context.Context) error {
	now := s.now()
	prefs := make(map[string]models.AlertPreference)
	var lookupErrs []error

	released := s.Dedup.Book().Release(func(a models.Alert) bool {
		pref, err := s.recipient(ctx, a, prefs)
		if err != nil {
			lookupErrs = append(lookupErrs, err)
			return false
		}
		return !pref.InQuietHours(now)
	})

	logrus.WithField("task", "alerts").Infof("Releasing %d held alerts", len(released))

	var failures []error
	for i := range released {
		a := released[i]
		pref, _ := s.recipient(ctx, a, prefs)

		state := models.DeliverySent
		if err := s.Notifier.SendAlert(&a, pref); err != nil {
			logrus.WithFields(logrus.Fields{
				"bill_id": a.BillID,
				"user_id": pref.UserID,
			}).WithError(err).Error("Failed to deliver held alert")
			state = models.DeliveryFailed
			failures = append(failures, err)
		}
		s.stats.recordDelivery(state)

		if err := s.Store.MarkDelivered(ctx, a.ID, state, now); err != nil {
			failures = append(failures, err)
		}
	}

	return errors.Join(append(lookupErrs, failures...)...)
}

// recipient resolves the preference of an alert's first target user, caching lookups
func (s *Service) recipient(ctx context.Context, a models.Alert, cache map[string]models.AlertPreference) (models.AlertPreference, error) {
	userID := DefaultRecipient
	if len(a.TargetUsers) > 0 {
		userID = a.TargetUsers[0]
	}
	if pref, ok := cache[userID]; ok {
		return pref, nil
	}
	pref, err := s.Store.Preference(ctx, userID)
	if err != nil {
		return models.DefaultPreference(userID), fmt.Errorf("failed to load preference for %s: %w", userID, err)
	}
	cache[userID] = pref
	return pref, nil
}

// FlushDigests compiles and sends every pending digest of the given mode.
// A digest that fails to send is put back so the next flush retries it.
func (s *Service) FlushDigests(ctx context.Context, mode models.FrequencyMode) error {
	if mode != models.FrequencyDaily && mode != models.FrequencyWeekly {
		return fmt.Errorf("digest mode must be daily or weekly, got %q", mode)
	}

	book := s.Dedup.Book()
	digests := book.Flush(mode)
	now := s.now()

	logrus.WithFields(logrus.Fields{
		"task": "digest",
		"mode": mode,
	}).Infof("Compiling %d digests", len(digests))

	prefs := make(map[string]models.AlertPreference)
	var failures []error
	for i := range digests {
		d := digests[i]
		pref, err := s.recipient(ctx, models.Alert{TargetUsers: []string{d.UserID}}, prefs)
		if err == nil {
			err = s.Notifier.SendDigest(&d, pref)
		}
		if err != nil {
			logrus.WithField("user_id", d.UserID).WithError(err).Error("Failed to send digest")
			failures = append(failures, err)
			for _, a := range d.Alerts {
				book.Add(d.UserID, d.Mode, a.CreatedAt, a)
			}
			continue
		}

		s.stats.recordDigest()
		for _, a := range d.Alerts {
			if err := s.Store.MarkDelivered(ctx, a.ID, models.DeliverySent, now); err != nil {
				failures = append(failures, err)
			}
		}
		s.archiveJSON("digests/"+string(mode), now, d)
	}

	return errors.Join(failures...)
}

// WeeklySummary builds the activity report for the last seven days, sends
// it, archives it and flushes weekly digests.
func (s *Service) WeeklySummary(ctx context.Context) (*models.Report, error) {
	now := s.now().UTC()
	report, err := s.Store.BuildReport(ctx, "weekly", now.AddDate(0, 0, -7), now)
	if err != nil {
		return nil, fmt.Errorf("failed to build weekly summary: %w", err)
	}

	s.archiveJSON("reports", now, report)

	var failures []error
	if err := s.Notifier.SendReport(report); err != nil {
		failures = append(failures, fmt.Errorf("failed to send weekly summary: %w", err))
	}
	if err := s.FlushDigests(ctx, models.FrequencyWeekly); err != nil {
		failures = append(failures, err)
	}

	logrus.WithFields(logrus.Fields{
		"task":    "weekly_summary",
		"changes": report.TotalChanges,
		"alerts":  report.TotalAlerts,
	}).Info("Weekly summary compiled")

	return report, errors.Join(failures...)
}

// archivedKinds are the archive prefixes written by sweeps, digest flushes and summaries
var archivedKinds = []string{"sweeps/", "digests/", "reports/"}

// Cleanup purges records and archived blobs older than the retention period
// and prunes the dedup window
func (s *Service) Cleanup(ctx context.Context) error {
	now := s.now()
	days := s.config.RetentionDays
	if days <= 0 {
		days = 90
	}

	removed, err := s.Store.Purge(ctx, now.AddDate(0, 0, -days))
	if err != nil {
		return err
	}

	pruned := 0
	if s.Window != nil {
		pruned = s.Window.Prune(now.Add(-s.config.DedupWindow))
	}

	archived, err := s.pruneArchive(ctx, now.AddDate(0, 0, -days))

	logrus.WithFields(logrus.Fields{
		"task":     "cleanup",
		"removed":  removed,
		"pruned":   pruned,
		"archived": archived,
	}).Info("Cleanup completed")
	return err
}

// pruneArchive deletes archived blobs stamped before cutoff. Keys that do not
// carry an archive timestamp are left alone.
func (s *Service) pruneArchive(ctx context.Context, cutoff time.Time) (int, error) {
	if s.Archive == nil {
		return 0, nil
	}

	deleted := 0
	var failures []error
	for _, prefix := range archivedKinds {
		keys, err := s.Archive.List(prefix)
		if err != nil {
			failures = append(failures, fmt.Errorf("failed to list %s: %w", prefix, err))
			continue
		}
		for _, key := range keys {
			if ctx.Err() != nil {
				return deleted, errors.Join(append(failures, ctx.Err())...)
			}
			at, ok := storage.ArchiveTime(key)
			if !ok || !at.Before(cutoff) {
				continue
			}
			if err := s.Archive.Delete(key); err != nil {
				logrus.WithError(err).WithField("key", key).Warn("Failed to delete archived blob")
				failures = append(failures, err)
				continue
			}
			deleted++
		}
	}
	return deleted, errors.Join(failures...)
}

// HealthCheck verifies the record store and, when configured, the AI
// collaborator. An unreachable AI service only degrades classification to
// the keyword fallback, so it is reported but not treated as a failure.
func (s *Service) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	storeErr := s.Store.Ping(ctx)

	aiAvailable := false
	if s.AI != nil && s.AI.Available() {
		if err := s.AI.Ping(ctx); err != nil {
			logrus.WithError(err).Warn("AI scoring service unreachable; classification uses keyword fallback")
		} else {
			aiAvailable = true
		}
	}

	s.stats.recordHealth(s.now(), storeErr == nil, aiAvailable)

	if storeErr != nil {
		return fmt.Errorf("record store unhealthy: %w", storeErr)
	}
	return nil
}

// WarmStart seeds the dedup window from recently emitted alerts and the
// digest book from grouped alerts that were not yet delivered.
func (s *Service) WarmStart(ctx context.Context) error {
	var errs []error

	if s.Window != nil {
		recent, err := s.Store.RecentAlerts(ctx, s.now().Add(-s.config.DedupWindow))
		if err != nil {
			errs = append(errs, err)
		}
		for _, a := range recent {
			if err := s.Window.Add(a); err != nil {
				errs = append(errs, err)
				break
			}
		}
		logrus.Infof("Seeded dedup window with %d recent alerts", len(recent))
	}

	pending, err := s.Store.PendingGrouped(ctx)
	if err != nil {
		errs = append(errs, err)
	}
	book := s.Dedup.Book()
	for _, a := range pending {
		if a.Delivery == models.DeliveryHeld {
			book.Hold(a)
			continue
		}
		userID := DefaultRecipient
		if len(a.TargetUsers) > 0 {
			userID = a.TargetUsers[0]
		}
		book.Add(userID, a.Frequency, a.CreatedAt, a)
	}
	logrus.Infof("Restored %d pending grouped alerts", len(pending))

	if len(errs) > 0 {
		return fmt.Errorf("warm start incomplete: %w", errors.Join(errs...))
	}
	return nil
}
