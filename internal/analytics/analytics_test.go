package analytics

import (
	"context"
	"io"
	"log/slog"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/kinyvoice/kinyvoice-core/internal/config"
	"github.com/kinyvoice/kinyvoice-core/internal/store"
)

func newAggregator(t *testing.T) (*Aggregator, *store.Store) {
	t.Helper()
	cfg := config.StoreConfig{
		Path:           filepath.Join(t.TempDir(), "transcriptions.db"),
		MaxConns:       4,
		AcquireTimeout: 5000,
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
	s, err := store.Open(context.Background(), cfg, logger)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return New(s), s
}

func insert(t *testing.T, s *store.Store, id string, at time.Time, processing float64) {
	t.Helper()
	rec := store.Record{ID: id, Text: "x", Confidence: 0.9, ProcessingTime: processing, CreatedAt: at}
	if err := s.Insert(context.Background(), rec); err != nil {
		t.Fatalf("insert %s: %v", id, err)
	}
}

func TestPerformanceHourlyScenario(t *testing.T) {
	agg, s := newAggregator(t)
	ctx := context.Background()

	day := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	insert(t, s, "a", day.Add(10*time.Hour), 1.0)                // 10:00
	insert(t, s, "b", day.Add(10*time.Hour+15*time.Minute), 2.0) // 10:15
	insert(t, s, "c", day.Add(11*time.Hour+30*time.Minute), 3.0) // 11:30

	buckets, err := agg.Performance(ctx, day, day.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("performance: %v", err)
	}
	if len(buckets) != 2 {
		t.Fatalf("expected 2 buckets, got %d: %+v", len(buckets), buckets)
	}

	ten := buckets[0]
	if !ten.Hour.Equal(day.Add(10 * time.Hour)) {
		t.Fatalf("expected first bucket at 10:00, got %v", ten.Hour)
	}
	if math.Abs(ten.AvgProcessingTime-1.5) > 1e-9 || ten.MinProcessingTime != 1.0 || ten.MaxProcessingTime != 2.0 || ten.Count != 2 {
		t.Fatalf("unexpected hour-10 bucket: %+v", ten)
	}

	eleven := buckets[1]
	if !eleven.Hour.Equal(day.Add(11 * time.Hour)) {
		t.Fatalf("expected second bucket at 11:00, got %v", eleven.Hour)
	}
	if eleven.AvgProcessingTime != 3.0 || eleven.MinProcessingTime != 3.0 || eleven.MaxProcessingTime != 3.0 || eleven.Count != 1 {
		t.Fatalf("unexpected hour-11 bucket: %+v", eleven)
	}
}

func TestEmptyWindowSummary(t *testing.T) {
	agg, _ := newAggregator(t)
	sum, err := agg.Summary(context.Background(),
		time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if sum.Count != 0 || sum.AvgWER != nil || sum.AvgProcessingTime != nil {
		t.Fatalf("expected empty summary, got %+v", sum)
	}
}

func TestDefaultWindowIsLastSevenDays(t *testing.T) {
	agg, s := newAggregator(t)
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	agg.clock = func() time.Time { return now }

	insert(t, s, "recent", now.Add(-24*time.Hour), 1.0)
	insert(t, s, "stale", now.Add(-10*24*time.Hour), 1.0)

	sum, err := agg.Summary(context.Background(), time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if sum.Count != 1 {
		t.Fatalf("expected only the recent record in the default window, got %d", sum.Count)
	}
}

func TestHourlyDistribution(t *testing.T) {
	agg, s := newAggregator(t)
	day := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	insert(t, s, "a", day.Add(9*time.Hour), 1.0)
	insert(t, s, "b", day.Add(9*time.Hour+30*time.Minute), 1.0)
	insert(t, s, "c", day.Add(17*time.Hour), 1.0)

	counts, err := agg.HourlyDistribution(context.Background(), day, day.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("distribution: %v", err)
	}
	if len(counts) != 2 {
		t.Fatalf("expected 2 hours, got %d", len(counts))
	}
	if counts[0].Count != 2 || counts[1].Count != 1 {
		t.Fatalf("unexpected counts: %+v", counts)
	}
}
