package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/snfwatch/billwatch/internal/classifier"
	"github.com/snfwatch/billwatch/internal/config"
	"github.com/snfwatch/billwatch/internal/dedup"
	"github.com/snfwatch/billwatch/internal/diff"
	"github.com/snfwatch/billwatch/internal/models"
	"github.com/snfwatch/billwatch/internal/notifications"
	"github.com/snfwatch/billwatch/internal/priority"
	"github.com/snfwatch/billwatch/internal/sources"
	"github.com/snfwatch/billwatch/internal/stage"
	"github.com/snfwatch/billwatch/internal/storage"
)

// DefaultRecipient receives alerts for bills nobody has subscribed to
const DefaultRecipient = "team"

// Pinger is a collaborator with a lightweight liveness check
type Pinger interface {
	Available() bool
	Ping(ctx context.Context) error
}

// Components are the collaborators a Service drives
type Components struct {
	Store       storage.Store
	Archive     storage.Archive // optional
	Notifier    notifications.NotificationInterface
	Source      sources.Source
	Differ      *diff.Engine
	Detector    *stage.Detector
	Classifier  *classifier.Classifier
	Dedup       *dedup.Engine
	Window      *dedup.MemoryWindow // optional; pruned by cleanup
	Prioritizer *priority.Prioritizer
	AI          Pinger // optional
}

// Service runs the per-bill change detection pipeline and the periodic jobs around it
type Service struct {
	config *config.Config
	Components
	stats *Stats
	now   func() time.Time
}

// BillResult is what one pipeline run produced for a bill
type BillResult struct {
	BillID         string                       `json:"bill_id"`
	Change         *models.ChangeRecord         `json:"change,omitempty"`
	Transition     *models.StageTransition      `json:"transition,omitempty"`
	Classification *models.ClassificationResult `json:"classification,omitempty"`
	Decision       *dedup.Decision              `json:"decision,omitempty"`
	Alerts         []models.Alert               `json:"alerts,omitempty"`
}

// NewService creates a pipeline service
func NewService(cfg *config.Config, c Components) (*Service, error) {
	switch {
	case c.Store == nil:
		return nil, errors.New("pipeline: record store is required")
	case c.Notifier == nil:
		return nil, errors.New("pipeline: notifier is required")
	case c.Differ == nil || c.Detector == nil || c.Classifier == nil || c.Dedup == nil || c.Prioritizer == nil:
		return nil, errors.New("pipeline: diff, stage, classifier, dedup and priority components are required")
	}

	return &Service{
		config:     cfg,
		Components: c,
		stats:      NewStats(),
		now:        time.Now,
	}, nil
}

// Stats returns the live pipeline counters
func (s *Service) Stats() *Stats {
	return s.stats
}

// ProcessDocument runs diff, stage detection, classification, dedup and
// prioritization for one fetched bill document, in that order, against the
// latest stored snapshot. The new snapshot is stored last so a failed run is
// retried from the same baseline next cycle.
func (s *Service) ProcessDocument(ctx context.Context, doc *models.BillDocument) (*BillResult, error) {
	meta := doc.Metadata
	billID := meta.BillID
	if billID == "" {
		return nil, billError(ctx, KindInput, "", errors.New("bill document has no identifier"))
	}

	logger := logrus.WithField("bill_id", billID)
	now := s.now().UTC()

	prev, err := s.Store.LatestSnapshot(ctx, billID)
	if errors.Is(err, storage.ErrNotFound) {
		prev = nil
	} else if err != nil {
		return nil, billError(ctx, KindStore, billID, err)
	}

	cur := &models.BillSnapshot{
		ID:         uuid.NewString(),
		BillID:     billID,
		Text:       doc.Text,
		Status:     strings.TrimSpace(doc.Status),
		Checksum:   diff.Checksum(doc.Text, strings.TrimSpace(doc.Status)),
		CapturedAt: now,
	}

	change, err := s.Differ.Compute(prev, cur)
	if err != nil {
		return nil, billError(ctx, KindInput, billID, err)
	}

	result := &BillResult{BillID: billID, Change: change}

	if prev != nil {
		result.Transition = s.Detector.DetectForBill(ctx, meta, prev.Status, cur.Status)
	}

	textChanged := !change.Baseline && change.Tier != models.TierNoOp
	if textChanged {
		cls, err := s.Classifier.Classify(ctx, classifier.Input{Change: change, Metadata: meta, Status: cur.Status})
		if err != nil {
			return nil, billError(ctx, KindInput, billID, err)
		}
		result.Classification = cls
	}
	if result.Transition != nil {
		result.Classification = classifier.Merge(result.Classification, s.Classifier.ClassifyTransition(result.Transition, meta))
	}

	if err := s.persist(ctx, result, textChanged); err != nil {
		return nil, billError(ctx, KindStore, billID, err)
	}

	var deliveryErr error
	if alertable(result) {
		candidate := buildCandidate(meta, result, cur.Status, now)
		alert, decision := s.Dedup.Submit(candidate)
		result.Decision = &decision

		in := priority.Input{
			Candidate:      candidate,
			Classification: result.Classification,
			Transition:     result.Transition,
			Metadata:       meta,
			Status:         cur.Status,
		}
		alerts, err := s.dispatch(ctx, alert, in, now)
		result.Alerts = alerts
		if err != nil {
			var be *BillError
			if !errors.As(err, &be) {
				return result, billError(ctx, KindStore, billID, err)
			}
			deliveryErr = be
		}
	}

	if prev == nil || prev.Checksum != cur.Checksum {
		if err := s.Store.StoreSnapshot(ctx, cur); err != nil {
			return result, billError(ctx, KindStore, billID, err)
		}
	}

	logger.WithFields(logrus.Fields{
		"tier":       change.Tier,
		"baseline":   change.Baseline,
		"transition": result.Transition != nil,
		"alerts":     len(result.Alerts),
	}).Info("Processed bill")

	return result, deliveryErr
}

// ProcessBill fetches a bill from the source and runs the pipeline on it
func (s *Service) ProcessBill(ctx context.Context, meta models.BillMetadata) (*BillResult, error) {
	if s.Source == nil {
		return nil, billError(ctx, KindFetch, meta.BillID, errors.New("no bill source configured"))
	}

	doc, err := s.Source.FetchDocument(ctx, meta)
	if err != nil {
		return nil, billError(ctx, KindFetch, meta.BillID, err)
	}
	if doc.Metadata.BillID == "" {
		doc.Metadata = meta
	}
	if strings.TrimSpace(doc.Text) == "" {
		return nil, billError(ctx, KindInput, meta.BillID, diff.ErrEmptySnapshot)
	}

	return s.ProcessDocument(ctx, doc)
}

// persist records the change, transition and classification. Baseline and
// no-op change records are not kept.
func (s *Service) persist(ctx context.Context, r *BillResult, textChanged bool) error {
	if textChanged {
		if err := s.Store.SaveChange(ctx, r.Change); err != nil {
			return err
		}
	}
	if r.Transition != nil {
		if err := s.Store.SaveTransition(ctx, r.Transition); err != nil {
			return err
		}
	}
	if r.Classification != nil {
		if err := s.Store.SaveClassification(ctx, r.Classification); err != nil {
			return err
		}
	}
	return nil
}

// alertable reports whether a run is worth an alert candidate: any stage
// transition, or a text change the diff or the classifier graded at least moderate
func alertable(r *BillResult) bool {
	if r.Transition != nil {
		return true
	}
	if r.Classification == nil {
		return false
	}
	return r.Change.Tier.Rank() >= models.TierModerate.Rank() ||
		r.Classification.Label.Rank() >= models.SeverityModerate.Rank()
}

func buildCandidate(meta models.BillMetadata, r *BillResult, status string, now time.Time) models.AlertCandidate {
	number := meta.Number
	if number == "" {
		number = meta.BillID
	}

	var parts []string
	evidence := []string{status}
	if tr := r.Transition; tr != nil {
		line := fmt.Sprintf("Status moved from %s to %s", stageName(tr.FromStage), stageName(tr.ToStage))
		if status != "" {
			line += fmt.Sprintf(" (%s)", status)
		}
		if tr.IsRegression() {
			line += ", a regression"
		}
		parts = append(parts, line+".")
	}
	if c := r.Change; c != nil && !c.Baseline && c.Tier != models.TierNoOp {
		parts = append(parts, c.Summary)
		evidence = append(evidence, c.ChangedText)
		if len(c.KeywordHits) > 0 {
			parts = append(parts, "Key terms: "+strings.Join(c.KeywordHits, ", ")+".")
		}
	}
	if cls := r.Classification; cls != nil {
		parts = append(parts, fmt.Sprintf("Significance: %s.", cls.Label))
	}

	return models.AlertCandidate{
		BillID:         meta.BillID,
		BillNumber:     number,
		Title:          meta.Title,
		Message:        strings.Join(parts, " "),
		Evidence:       strings.TrimSpace(strings.Join(evidence, "\n")),
		Change:         r.Change,
		Classification: r.Classification,
		Transition:     r.Transition,
		CreatedAt:      now,
	}
}

func stageName(s models.Stage) string {
	return strings.ReplaceAll(string(s), "_", " ")
}

// dispatch prioritizes and routes an alert for every recipient of the bill.
// Suppressed alerts are kept as one record and never delivered. The first
// recipient keeps the dedup record's identifier so duplicates link to a stored alert.
func (s *Service) dispatch(ctx context.Context, alert models.Alert, in priority.Input, now time.Time) ([]models.Alert, error) {
	if alert.Outcome == models.OutcomeSuppress {
		alert.Delivery = models.DeliveryNone
		if err := s.Store.SaveAlert(ctx, &alert); err != nil {
			return nil, err
		}
		return []models.Alert{alert}, nil
	}

	recipients, err := s.Store.Subscribers(ctx, alert.BillID)
	if err != nil {
		return nil, err
	}
	if len(recipients) == 0 {
		recipients = []models.AlertPreference{models.DefaultPreference(DefaultRecipient)}
	}

	var out []models.Alert
	var failures []error
	for i, pref := range recipients {
		a := alert
		if i > 0 {
			a.ID = uuid.NewString()
		}
		a.TargetUsers = []string{pref.UserID}
		a.Frequency = pref.Frequency
		if a.Frequency == "" {
			a.Frequency = models.FrequencyImmediate
		}

		in.Preference = pref
		priority.Apply(&a, s.Prioritizer.Prioritize(in))

		logger := logrus.WithFields(logrus.Fields{
			"bill_id":  a.BillID,
			"user_id":  pref.UserID,
			"priority": a.Priority,
		})

		if !a.Priority.AtLeast(pref.MinPriority) {
			a.Delivery = models.DeliveryFiltered
			logger.Debug("Alert below recipient minimum priority")
		} else if s.Dedup.Route(&a, pref, now) == models.OutcomeEmit {
			if err := s.Notifier.SendAlert(&a, pref); err != nil {
				logger.WithError(err).Error("Failed to deliver alert")
				a.Delivery = models.DeliveryFailed
				failures = append(failures, err)
			} else {
				delivered := now
				a.Delivery = models.DeliverySent
				a.DeliveredAt = &delivered
			}
		}

		logger.WithFields(logrus.Fields{
			"outcome":  a.Outcome,
			"delivery": a.Delivery,
		}).Info("Alert routed")

		if err := s.Store.SaveAlert(ctx, &a); err != nil {
			return out, err
		}
		out = append(out, a)
	}

	if len(failures) > 0 {
		return out, &BillError{Kind: KindDelivery, BillID: alert.BillID, Err: errors.Join(failures...)}
	}
	return out, nil
}
