// Package analytics answers reporting queries over the transcription store.
// It reads independently of the write path; all aggregation happens in SQL.
package analytics

import (
	"context"
	"time"

	"github.com/kinyvoice/kinyvoice-core/internal/store"
)

// DefaultWindow is applied when a query omits its time bounds.
const DefaultWindow = 7 * 24 * time.Hour

// Aggregator computes summary and performance statistics for a time window.
type Aggregator struct {
	store *store.Store
	clock func() time.Time
}

func New(s *store.Store) *Aggregator {
	return &Aggregator{store: s, clock: time.Now}
}

// Window fills missing bounds: last 7 days ending now. Bounds already set
// pass through unchanged.
func (a *Aggregator) Window(start, end time.Time) (time.Time, time.Time) {
	if end.IsZero() {
		end = a.clock()
	}
	if start.IsZero() {
		start = end.Add(-DefaultWindow)
	}
	return start, end
}

// Summary returns averaged quality and performance figures over the window.
// Records without wer/cer are excluded from those averages, not counted as
// zero. An empty window yields Count 0 with nil averages.
func (a *Aggregator) Summary(ctx context.Context, start, end time.Time) (store.Summary, error) {
	start, end = a.Window(start, end)
	return a.store.Summary(ctx, start, end)
}

// Performance returns hourly latency/confidence buckets, ascending by hour.
// Hours without records are omitted rather than zero-filled.
func (a *Aggregator) Performance(ctx context.Context, start, end time.Time) ([]store.HourBucket, error) {
	start, end = a.Window(start, end)
	return a.store.Performance(ctx, start, end)
}

// HourlyDistribution returns per-hour request counts over the window.
func (a *Aggregator) HourlyDistribution(ctx context.Context, start, end time.Time) ([]store.HourCount, error) {
	start, end = a.Window(start, end)
	return a.store.HourlyDistribution(ctx, start, end)
}
