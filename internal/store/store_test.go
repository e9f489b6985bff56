package store

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/kinyvoice/kinyvoice-core/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	cfg := config.StoreConfig{
		Path:           filepath.Join(t.TempDir(), "transcriptions.db"),
		MaxConns:       4,
		AcquireTimeout: 5000,
	}
	s, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func ptr(v float64) *float64 { return &v }

func TestInsertAndGetRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	created := time.Date(2025, 3, 1, 12, 30, 0, 0, time.UTC)
	rec := Record{
		ID:             "rec-1",
		Text:           "muraho neza",
		Confidence:     0.87,
		ProcessingTime: 1.25,
		WER:            ptr(0.1),
		CER:            ptr(0.05),
		CreatedAt:      created,
	}
	if err := s.Insert(ctx, rec); err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := s.GetByID(ctx, "rec-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Text != rec.Text || got.Confidence != rec.Confidence || got.ProcessingTime != rec.ProcessingTime {
		t.Fatalf("unexpected record: %+v", got)
	}
	if got.WER == nil || *got.WER != 0.1 || got.CER == nil || *got.CER != 0.05 {
		t.Fatalf("expected wer/cer preserved, got %+v", got)
	}
	if !got.CreatedAt.Equal(created) {
		t.Fatalf("expected created_at %v, got %v", created, got.CreatedAt)
	}
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.GetByID(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestNullableMetricFields(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Insert(ctx, Record{ID: "plain", Text: "x", Confidence: 0.5, ProcessingTime: 0.2}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	got, err := s.GetByID(ctx, "plain")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.WER != nil || got.CER != nil {
		t.Fatalf("expected absent wer/cer, got %+v", got)
	}
	if got.CreatedAt.IsZero() {
		t.Fatal("expected created_at defaulted")
	}
}

func TestSummaryAveragesSkipAbsentMetrics(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	recs := []Record{
		{ID: "a", Text: "a", Confidence: 0.8, ProcessingTime: 1.0, WER: ptr(0.2), CER: ptr(0.1), CreatedAt: base},
		{ID: "b", Text: "b", Confidence: 0.6, ProcessingTime: 3.0, CreatedAt: base.Add(5 * time.Minute)},
	}
	for _, r := range recs {
		if err := s.Insert(ctx, r); err != nil {
			t.Fatalf("insert %s: %v", r.ID, err)
		}
	}

	sum, err := s.Summary(ctx, base.Add(-time.Hour), base.Add(time.Hour))
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if sum.Count != 2 {
		t.Fatalf("expected count 2, got %d", sum.Count)
	}
	// One record has no wer: the average denominator must be 1, not 2.
	if sum.AvgWER == nil || *sum.AvgWER != 0.2 {
		t.Fatalf("expected avg wer 0.2, got %v", sum.AvgWER)
	}
	if sum.AvgProcessingTime == nil || *sum.AvgProcessingTime != 2.0 {
		t.Fatalf("expected avg processing time 2.0, got %v", sum.AvgProcessingTime)
	}
}

func TestSummaryEmptyWindow(t *testing.T) {
	s := openTestStore(t)
	sum, err := s.Summary(context.Background(),
		time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if sum.Count != 0 {
		t.Fatalf("expected count 0, got %d", sum.Count)
	}
	if sum.AvgWER != nil || sum.AvgCER != nil || sum.AvgProcessingTime != nil || sum.AvgConfidence != nil {
		t.Fatalf("expected nil averages for empty window, got %+v", sum)
	}
}

func TestTimeRangeInclusive(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	at := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	if err := s.Insert(ctx, Record{ID: "edge", Text: "x", Confidence: 0.5, ProcessingTime: 0.1, CreatedAt: at}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	sum, err := s.Summary(ctx, at, at)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if sum.Count != 1 {
		t.Fatalf("expected boundary record included, got count %d", sum.Count)
	}
}

func TestPerformanceBucketsAscending(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	// Insert out of order to make sure ordering comes from the query.
	hours := []int{14, 9, 11}
	for i, h := range hours {
		rec := Record{ID: string(rune('a' + i)), Text: "x", Confidence: 0.5, ProcessingTime: 1, CreatedAt: base.Add(time.Duration(h) * time.Hour)}
		if err := s.Insert(ctx, rec); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	buckets, err := s.Performance(ctx, base, base.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("performance: %v", err)
	}
	if len(buckets) != 3 {
		t.Fatalf("expected 3 buckets, got %d", len(buckets))
	}
	for i := 1; i < len(buckets); i++ {
		if !buckets[i-1].Hour.Before(buckets[i].Hour) {
			t.Fatalf("buckets not ascending: %v then %v", buckets[i-1].Hour, buckets[i].Hour)
		}
	}
}
