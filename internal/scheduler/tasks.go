package scheduler

import (
	"context"
	"time"

	"github.com/snfwatch/billwatch/internal/models"
	"github.com/snfwatch/billwatch/internal/pipeline"
)

// Task names
const (
	TaskSweep         = "sweep"
	TaskAlerts        = "alerts"
	TaskDailyDigest   = "daily_digest"
	TaskWeeklySummary = "weekly_summary"
	TaskCleanup       = "cleanup"
	TaskHealth        = "health"
)

// Jobs is the set of periodic operations the detector runs
type Jobs interface {
	Sweep(ctx context.Context) (*pipeline.SweepReport, error)
	ProcessAlerts(ctx context.Context) error
	FlushDigests(ctx context.Context, mode models.FrequencyMode) error
	WeeklySummary(ctx context.Context) (*models.Report, error)
	Cleanup(ctx context.Context) error
	HealthCheck(ctx context.Context) error
}

var _ Jobs = (*pipeline.Service)(nil)

// RegisterJobs schedules the standard detector tasks
func (s *Service) RegisterJobs(jobs Jobs) error {
	cfg := s.config
	tasks := []Task{
		{
			Name:     TaskSweep,
			Schedule: Every(cfg.SweepInterval),
			Run: func(ctx context.Context) error {
				_, err := jobs.Sweep(ctx)
				return err
			},
		},
		{
			Name:     TaskAlerts,
			Schedule: Every(cfg.AlertInterval),
			Timeout:  10 * time.Minute,
			Run:      jobs.ProcessAlerts,
		},
		{
			Name:     TaskDailyDigest,
			Schedule: cfg.DailyDigestSchedule,
			Timeout:  10 * time.Minute,
			Run: func(ctx context.Context) error {
				return jobs.FlushDigests(ctx, models.FrequencyDaily)
			},
		},
		{
			Name:     TaskWeeklySummary,
			Schedule: cfg.WeeklySummarySchedule,
			Timeout:  15 * time.Minute,
			Run: func(ctx context.Context) error {
				_, err := jobs.WeeklySummary(ctx)
				return err
			},
		},
		{
			Name:     TaskCleanup,
			Schedule: Every(cfg.CleanupInterval),
			Timeout:  30 * time.Minute,
			Run:      jobs.Cleanup,
		},
		{
			Name:     TaskHealth,
			Schedule: Every(cfg.HealthInterval),
			Run:      jobs.HealthCheck,
		},
	}

	for _, t := range tasks {
		if err := s.Register(t); err != nil {
			return err
		}
	}
	return nil
}
