package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/snfwatch/billwatch/internal/models"
	"github.com/snfwatch/billwatch/internal/storage"
	"golang.org/x/sync/errgroup"
)

// SweepReport summarizes one full pipeline sweep
type SweepReport struct {
	StartedAt  time.Time      `json:"started_at"`
	Duration   string         `json:"duration"`
	Bills      int            `json:"bills"`
	Processed  int            `json:"processed"`
	Changes    int            `json:"changes"`
	Alerts     int            `json:"alerts"`
	Suppressed int            `json:"suppressed"`
	Failures   []*BillError   `json:"failures,omitempty"`
	ByKind     map[string]int `json:"failures_by_kind,omitempty"`
}

// Sweep lists tracked bills and runs the pipeline for each. It returns an
// error only when the bill list cannot be read or every bill failed;
// individual bill failures are collected in the report.
func (s *Service) Sweep(ctx context.Context) (*SweepReport, error) {
	if s.Source == nil || !s.Source.IsEnabled() {
		return nil, fmt.Errorf("bill source is not configured")
	}

	timeout := s.config.SweepTimeout
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := s.now()
	logrus.Info("Starting pipeline sweep")

	bills, err := s.Source.TrackedBills(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list tracked bills: %w", err)
	}

	report := s.sweepBills(ctx, bills)
	report.StartedAt = start
	report.Duration = time.Since(start).String()

	s.stats.recordSweep(len(bills), start, time.Since(start))
	s.archiveJSON("sweeps", start, report)

	logrus.WithFields(logrus.Fields{
		"bills":     report.Bills,
		"processed": report.Processed,
		"failed":    len(report.Failures),
		"alerts":    report.Alerts,
	}).Infof("Pipeline sweep completed in %s", report.Duration)

	if report.Bills > 0 && report.Processed == 0 {
		return report, fmt.Errorf("all %d bills failed", report.Bills)
	}
	return report, nil
}

// sweepBills fans bills out over a bounded worker pool
func (s *Service) sweepBills(ctx context.Context, bills []models.BillMetadata) *SweepReport {
	workers := s.config.SweepWorkers
	if workers < 1 {
		workers = 1
	}

	report := &SweepReport{Bills: len(bills), ByKind: make(map[string]int)}
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(workers)

	for _, bill := range bills {
		bill := bill
		g.Go(func() error {
			result, err := s.runBill(ctx, bill)

			mu.Lock()
			defer mu.Unlock()
			if result != nil {
				report.Processed++
				if result.Change != nil && !result.Change.Baseline && result.Change.Tier != models.TierNoOp {
					report.Changes++
				}
				for _, a := range result.Alerts {
					if a.Outcome == models.OutcomeSuppress {
						report.Suppressed++
					} else {
						report.Alerts++
					}
				}
			}
			if err != nil {
				report.Failures = append(report.Failures, err)
				report.ByKind[string(err.Kind)]++
			}
			return nil
		})
	}
	_ = g.Wait()

	return report
}

// runBill isolates one bill: panics and deadline expiry become BillErrors.
// A result is returned with a delivery error when the bill itself was processed.
func (s *Service) runBill(ctx context.Context, bill models.BillMetadata) (result *BillResult, berr *BillError) {
	logger := logrus.WithField("bill_id", bill.BillID)

	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("Recovered panic in bill pipeline: %v", r)
			result = nil
			berr = &BillError{Kind: KindPanic, BillID: bill.BillID, Err: fmt.Errorf("panic: %v", r)}
		}
		if berr != nil {
			s.stats.recordFailure(berr.Kind)
		}
		if result != nil {
			s.stats.recordBill(result)
		}
	}()

	if err := ctx.Err(); err != nil {
		return nil, &BillError{Kind: KindTimeout, BillID: bill.BillID, Err: err}
	}

	res, err := s.ProcessBill(ctx, bill)
	if err == nil {
		return res, nil
	}

	var be *BillError
	if !errors.As(err, &be) {
		be = billError(ctx, KindStore, bill.BillID, err)
	}
	logger.WithField("kind", be.Kind).WithError(be.Err).Warn("Bill pipeline failed; will retry next cycle")

	if be.Kind == KindDelivery {
		return res, be
	}
	return nil, be
}

// archiveJSON stores a copy of a job output; archive failures are logged only
func (s *Service) archiveJSON(kind string, at time.Time, v interface{}) {
	if s.Archive == nil {
		return
	}
	if err := storage.StoreJSON(s.Archive, storage.ArchiveKey(kind, at), v); err != nil {
		logrus.WithField("kind", kind).WithError(err).Warn("Failed to archive output")
	}
}
