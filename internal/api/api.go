// Package api exposes the transcription service over HTTP: single and batch
// transcription, stored-record lookup, analytics queries, and health probes.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/kinyvoice/kinyvoice-core/internal/analytics"
	"github.com/kinyvoice/kinyvoice-core/internal/audio"
	"github.com/kinyvoice/kinyvoice-core/internal/batch"
	"github.com/kinyvoice/kinyvoice-core/internal/bus"
	"github.com/kinyvoice/kinyvoice-core/internal/config"
	"github.com/kinyvoice/kinyvoice-core/internal/engine"
	"github.com/kinyvoice/kinyvoice-core/internal/pipeline"
	"github.com/kinyvoice/kinyvoice-core/internal/store"
)

// maxUploadBytes caps a multipart upload. Ten minutes of 16-bit stereo at
// 48kHz is well under this.
const maxUploadBytes = 256 << 20

type Server struct {
	cfg    config.Config
	pipe   *pipeline.Pipeline
	batch  *batch.Runner
	agg    *analytics.Aggregator
	store  *store.Store
	engine engine.Engine
	bus    *bus.Client
	log    *slog.Logger
}

func NewServer(cfg config.Config, pipe *pipeline.Pipeline, runner *batch.Runner, agg *analytics.Aggregator, st *store.Store, eng engine.Engine, busClient *bus.Client, log *slog.Logger) *Server {
	return &Server{
		cfg:    cfg,
		pipe:   pipe,
		batch:  runner,
		agg:    agg,
		store:  st,
		engine: eng,
		bus:    busClient,
		log:    log.With(slog.String("component", "api")),
	}
}

func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/", s.handleRoot).Methods("GET")
	router.HandleFunc("/api/v1/asr/transcribe", s.handleTranscribe).Methods("POST")
	router.HandleFunc("/api/v1/asr/batch-transcribe", s.handleBatchSubmit).Methods("POST")
	router.HandleFunc("/api/v1/asr/batch-transcribe/{jobID}", s.handleBatchStatus).Methods("GET")
	router.HandleFunc("/api/v1/asr/transcription/{id}", s.handleGetTranscription).Methods("GET")
	router.HandleFunc("/api/v1/metrics/summary", s.handleMetricsSummary).Methods("GET")
	router.HandleFunc("/api/v1/metrics/performance", s.handleMetricsPerformance).Methods("GET")
	router.HandleFunc("/api/v1/metrics/transcription/{id}", s.handleTranscriptionMetrics).Methods("GET")
	router.HandleFunc("/api/v1/health", s.handleHealth).Methods("GET")
	router.HandleFunc("/api/v1/health/detailed", s.handleHealthDetailed).Methods("GET")
	router.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	router.HandleFunc("/readyz", s.handleReady).Methods("GET")

	return router
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"service":     s.cfg.ServiceName,
		"environment": s.cfg.Environment,
		"status":      "running",
	})
}

type transcriptionResponse struct {
	ID             string   `json:"id"`
	Text           string   `json:"text"`
	Confidence     float64  `json:"confidence"`
	ProcessingTime float64  `json:"processing_time"`
	WER            *float64 `json:"wer,omitempty"`
	CER            *float64 `json:"cer,omitempty"`
	CreatedAt      string   `json:"created_at"`
}

func toResponse(rec store.Record) transcriptionResponse {
	return transcriptionResponse{
		ID:             rec.ID,
		Text:           rec.Text,
		Confidence:     rec.Confidence,
		ProcessingTime: rec.ProcessingTime,
		WER:            rec.WER,
		CER:            rec.CER,
		CreatedAt:      rec.CreatedAt.Format(time.RFC3339Nano),
	}
}

func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "missing audio file field")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "unreadable audio upload")
		return
	}

	rec, err := s.pipe.TranscribeOne(r.Context(), data, r.FormValue("reference_text"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(rec))
}

type batchSubmitResponse struct {
	JobID  string       `json:"job_id"`
	Status batch.Status `json:"status"`
	Total  int          `json:"total"`
}

func (s *Server) handleBatchSubmit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	if r.MultipartForm == nil || len(r.MultipartForm.File["files"]) == 0 {
		s.writeError(w, http.StatusBadRequest, "no files submitted")
		return
	}

	var items []batch.Item
	for _, hdr := range r.MultipartForm.File["files"] {
		f, err := hdr.Open()
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "unreadable file in submission")
			return
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "unreadable file in submission")
			return
		}
		items = append(items, batch.Item{Name: hdr.Filename, Data: data})
	}

	jobID := s.batch.Submit(items)
	writeJSON(w, http.StatusAccepted, batchSubmitResponse{
		JobID:  jobID,
		Status: batch.StatusProcessing,
		Total:  len(items),
	})
}

func (s *Server) handleBatchStatus(w http.ResponseWriter, r *http.Request) {
	job, ok := s.batch.Get(mux.Vars(r)["jobID"])
	if !ok {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleGetTranscription(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.GetByID(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(rec))
}

type hourCountResponse struct {
	Hour  string `json:"hour"`
	Count int64  `json:"count"`
}

type summaryResponse struct {
	Count              int64               `json:"count"`
	AvgWER             *float64            `json:"avg_wer"`
	AvgCER             *float64            `json:"avg_cer"`
	AvgProcessingTime  *float64            `json:"avg_processing_time"`
	AvgConfidence      *float64            `json:"avg_confidence"`
	HourlyDistribution []hourCountResponse `json:"hourly_distribution"`
	Start              string              `json:"start"`
	End                string              `json:"end"`
}

func (s *Server) handleMetricsSummary(w http.ResponseWriter, r *http.Request) {
	start, end, err := parseWindow(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	start, end = s.agg.Window(start, end)
	sum, err := s.agg.Summary(r.Context(), start, end)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	dist, err := s.agg.HourlyDistribution(r.Context(), start, end)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	hourly := make([]hourCountResponse, 0, len(dist))
	for _, h := range dist {
		hourly = append(hourly, hourCountResponse{Hour: h.Hour.Format(time.RFC3339), Count: h.Count})
	}
	writeJSON(w, http.StatusOK, summaryResponse{
		Count:              sum.Count,
		AvgWER:             sum.AvgWER,
		AvgCER:             sum.AvgCER,
		AvgProcessingTime:  sum.AvgProcessingTime,
		AvgConfidence:      sum.AvgConfidence,
		HourlyDistribution: hourly,
		Start:              formatBound(start),
		End:                formatBound(end),
	})
}

type hourBucketResponse struct {
	Hour              string  `json:"hour"`
	AvgProcessingTime float64 `json:"avg_processing_time"`
	MinProcessingTime float64 `json:"min_processing_time"`
	MaxProcessingTime float64 `json:"max_processing_time"`
	AvgConfidence     float64 `json:"avg_confidence"`
	Count             int64   `json:"count"`
}

func (s *Server) handleMetricsPerformance(w http.ResponseWriter, r *http.Request) {
	start, end, err := parseWindow(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	start, end = s.agg.Window(start, end)
	buckets, err := s.agg.Performance(r.Context(), start, end)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	out := make([]hourBucketResponse, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, hourBucketResponse{
			Hour:              b.Hour.Format(time.RFC3339),
			AvgProcessingTime: b.AvgProcessingTime,
			MinProcessingTime: b.MinProcessingTime,
			MaxProcessingTime: b.MaxProcessingTime,
			AvgConfidence:     b.AvgConfidence,
			Count:             b.Count,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"hourly": out,
		"start":  formatBound(start),
		"end":    formatBound(end),
	})
}

type recordMetricsResponse struct {
	ID             string   `json:"id"`
	WER            *float64 `json:"wer"`
	CER            *float64 `json:"cer"`
	ProcessingTime float64  `json:"processing_time"`
	Confidence     float64  `json:"confidence"`
}

func (s *Server) handleTranscriptionMetrics(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.GetByID(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recordMetricsResponse{
		ID:             rec.ID,
		WER:            rec.WER,
		CER:            rec.CER,
		ProcessingTime: rec.ProcessingTime,
		Confidence:     rec.Confidence,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if !s.engine.Ready() {
		s.writeError(w, http.StatusServiceUnavailable, "model not ready")
		return
	}
	if err := s.store.Ping(r.Context()); err != nil {
		s.writeError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleHealthDetailed(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	components := map[string]string{
		"model": string(s.engine.State()),
	}
	healthy := s.engine.Ready()

	if err := s.store.Ping(ctx); err != nil {
		components["database"] = "down"
		healthy = false
	} else {
		components["database"] = "up"
	}

	switch {
	case !s.cfg.Bus.Enabled:
		components["bus"] = "disabled"
	case s.bus != nil && s.bus.Healthy():
		components["bus"] = "up"
	default:
		components["bus"] = "down"
	}

	// Degradation is reported in the body; readiness gating happens on
	// /readyz.
	status := "healthy"
	if !healthy {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     status,
		"components": components,
	})
}

// writeDomainError maps pipeline/store error kinds onto HTTP statuses.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, audio.ErrInvalidAudio):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "transcription not found")
	case errors.Is(err, engine.ErrNotLoaded), errors.Is(err, store.ErrUnavailable):
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, context.Canceled):
		s.writeError(w, http.StatusServiceUnavailable, "request cancelled")
	default:
		s.log.Error("request failed", slog.String("error", err.Error()))
		s.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func formatBound(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// parseWindow reads optional RFC3339 start/end query bounds. Zero values
// mean "use the default window".
func parseWindow(r *http.Request) (time.Time, time.Time, error) {
	var start, end time.Time
	if raw := r.URL.Query().Get("start"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return start, end, errors.New("start must be RFC3339")
		}
		start = t
	}
	if raw := r.URL.Query().Get("end"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return start, end, errors.New("end must be RFC3339")
		}
		end = t
	}
	if !start.IsZero() && !end.IsZero() && end.Before(start) {
		return start, end, errors.New("end precedes start")
	}
	return start, end, nil
}
