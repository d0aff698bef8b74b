package task

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/tasktrack/internal/domain"
	"github.com/phrazzld/tasktrack/internal/platform/logger"
	"github.com/phrazzld/tasktrack/internal/store"
)

// StatusCount is one row of a summary, in lifecycle order.
type StatusCount struct {
	Status domain.TaskStatus `json:"status"`
	Count  int               `json:"count"`
}

// Summary counts tasks by status at a point in time.
type Summary struct {
	Counts      map[domain.TaskStatus]int `json:"counts"`
	Total       int                       `json:"total"`
	GeneratedAt time.Time                 `json:"generated_at"`
}

// Rows returns the counts as a slice in lifecycle order.
func (s Summary) Rows() []StatusCount {
	rows := make([]StatusCount, 0, len(domain.AllTaskStatuses))
	for _, status := range domain.AllTaskStatuses {
		rows = append(rows, StatusCount{Status: status, Count: s.Counts[status]})
	}
	return rows
}

// Aggregator produces status summaries from the store.
type Aggregator struct {
	store  store.TaskStore
	logger *slog.Logger
	now    func() time.Time
}

// NewAggregator creates an Aggregator.
func NewAggregator(s store.TaskStore, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{
		store:  s,
		logger: logger.With(slog.String("component", "aggregator")),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Summarize counts the tasks of owner, or every task when owner is nil.
// Every status appears in the result, with zero when no task has it.
func (a *Aggregator) Summarize(ctx context.Context, owner *uuid.UUID) (Summary, error) {
	counts, err := a.store.CountByStatus(ctx, owner)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to count tasks by status: %w", err)
	}

	summary := Summary{
		Counts:      make(map[domain.TaskStatus]int, len(domain.AllTaskStatuses)),
		GeneratedAt: a.now(),
	}
	for _, status := range domain.AllTaskStatuses {
		n := counts[status]
		summary.Counts[status] = n
		summary.Total += n
	}

	return summary, nil
}

// LogSummary computes the global summary and logs it. It is the periodic job
// run by the Scheduler.
func (a *Aggregator) LogSummary(ctx context.Context) error {
	summary, err := a.Summarize(ctx, nil)
	if err != nil {
		return err
	}

	attrs := []any{
		slog.Int("total", summary.Total),
		slog.Time("generated_at", summary.GeneratedAt),
	}
	for _, row := range summary.Rows() {
		attrs = append(attrs, slog.Int(string(row.Status), row.Count))
	}
	logger.FromContextOrDefault(ctx, a.logger).Info("task status summary", attrs...)

	return nil
}
