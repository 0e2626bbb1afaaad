package storage

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/snfwatch/billwatch/internal/models"
)

type labelCount struct {
	Label string
	Total int
}

// BillActivity is a bill ranked by the number of changes in a period
type BillActivity struct {
	BillID  string `json:"bill_id"`
	Changes int    `json:"changes"`
}

// AlertStats are historical dedup counts over a period
type AlertStats struct {
	Created         int     `json:"created"`
	Emitted         int     `json:"emitted"`
	Suppressed      int     `json:"suppressed"`
	Grouped         int     `json:"grouped"`
	SuppressionRate float64 `json:"suppression_rate"`
}

func (r *Repository) countBy(ctx context.Context, table, column, timeColumn string, since, until time.Time, extra sq.Sqlizer) (map[string]int, error) {
	q := sq.Select(column+" AS label", "COUNT(*) AS total").
		From(table).
		Where(sq.GtOrEq{timeColumn: since}).
		Where(sq.Lt{timeColumn: until}).
		GroupBy(column)
	if extra != nil {
		q = q.Where(extra)
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build %s query: %w", table, err)
	}

	var rows []labelCount
	if err := r.db.WithContext(ctx).Raw(query, args...).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to count %s by %s: %w", table, column, err)
	}

	counts := make(map[string]int, len(rows))
	for _, row := range rows {
		counts[row.Label] = row.Total
	}
	return counts, nil
}

func (r *Repository) count(ctx context.Context, table, timeColumn string, since, until time.Time) (int, error) {
	query, args, err := sq.Select("COUNT(*)").
		From(table).
		Where(sq.GtOrEq{timeColumn: since}).
		Where(sq.Lt{timeColumn: until}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build %s count: %w", table, err)
	}

	var n int
	if err := r.db.WithContext(ctx).Raw(query, args...).Scan(&n).Error; err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", table, err)
	}
	return n, nil
}

// TopBills ranks bills by non-trivial change count in a period
func (r *Repository) TopBills(ctx context.Context, since, until time.Time, limit int) ([]BillActivity, error) {
	query, args, err := sq.Select("bill_id", "COUNT(*) AS changes").
		From("change_records").
		Where(sq.GtOrEq{"computed_at": since}).
		Where(sq.Lt{"computed_at": until}).
		Where(sq.NotEq{"tier": string(models.TierNoOp)}).
		GroupBy("bill_id").
		OrderBy("changes DESC", "bill_id").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build top bills query: %w", err)
	}

	var rows []BillActivity
	if err := r.db.WithContext(ctx).Raw(query, args...).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to rank bills: %w", err)
	}
	return rows, nil
}

// AlertStatistics aggregates dedup outcomes over the alerts table
func (r *Repository) AlertStatistics(ctx context.Context, since, until time.Time) (AlertStats, error) {
	byOutcome, err := r.countBy(ctx, "alerts", "outcome", "created_at", since, until, nil)
	if err != nil {
		return AlertStats{}, err
	}

	stats := AlertStats{
		Emitted:    byOutcome[string(models.OutcomeEmit)],
		Suppressed: byOutcome[string(models.OutcomeSuppress)],
		Grouped:    byOutcome[string(models.OutcomeGroup)],
	}
	stats.Created = stats.Emitted + stats.Suppressed + stats.Grouped
	if stats.Created > 0 {
		stats.SuppressionRate = float64(stats.Suppressed) / float64(stats.Created)
	}
	return stats, nil
}

// BuildReport summarizes pipeline activity between since and until
func (r *Repository) BuildReport(ctx context.Context, period string, since, until time.Time) (*models.Report, error) {
	byTier, err := r.countBy(ctx, "change_records", "tier", "computed_at", since, until, nil)
	if err != nil {
		return nil, err
	}
	byPriority, err := r.countBy(ctx, "alerts", "priority", "created_at", since, until,
		sq.NotEq{"outcome": string(models.OutcomeSuppress)})
	if err != nil {
		return nil, err
	}
	byStage, err := r.countBy(ctx, "stage_transitions", "to_stage", "transitioned_at", since, until, nil)
	if err != nil {
		return nil, err
	}
	transitions, err := r.count(ctx, "stage_transitions", "transitioned_at", since, until)
	if err != nil {
		return nil, err
	}
	alertStats, err := r.AlertStatistics(ctx, since, until)
	if err != nil {
		return nil, err
	}
	top, err := r.TopBills(ctx, since, until, 5)
	if err != nil {
		return nil, err
	}

	totalChanges := 0
	for _, n := range byTier {
		totalChanges += n
	}

	return &models.Report{
		GeneratedAt:  until,
		Period:       period,
		Since:        since,
		TotalChanges: totalChanges,
		Transitions:  transitions,
		TotalAlerts:  alertStats.Created,
		Summary: map[string]interface{}{
			"changes_by_tier":      byTier,
			"alerts_by_priority":   byPriority,
			"transitions_by_stage": byStage,
			"dedup":                alertStats,
			"top_bills":            top,
		},
	}, nil
}
